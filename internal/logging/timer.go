package logging

import "time"

// Timer measures the duration of an operation and logs it on Stop.
// Operations slower than the slow threshold are logged at warn level.
type Timer struct {
	category  Category
	operation string
	start     time.Time
}

const slowThreshold = 500 * time.Millisecond

// StartTimer begins timing an operation in a category.
func StartTimer(cat Category, operation string) *Timer {
	return &Timer{category: cat, operation: operation, start: time.Now()}
}

// Stop logs the elapsed time and returns it.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	l := Get(t.category)
	if elapsed >= slowThreshold {
		l.Warn("SLOW %s took %v", t.operation, elapsed)
	} else {
		l.Debug("%s took %v", t.operation, elapsed)
	}
	return elapsed
}
