package orchestrator

import (
	"time"

	"manas/internal/logging"
	"manas/internal/types"
)

// Bus delivers lifecycle events to the single registered handler,
// synchronously from the emitting component. Handler panics are recovered
// and logged; they never interrupt scheduler progress.
type Bus struct {
	handler types.EventHandler
	planID  string
}

// NewBus creates a bus for a plan. A nil handler makes Emit a no-op.
func NewBus(planID string, handler types.EventHandler) *Bus {
	return &Bus{handler: handler, planID: planID}
}

// Emit delivers one event, stamping the plan id and timestamp.
func (b *Bus) Emit(ev types.Event) {
	if b.handler == nil {
		return
	}
	ev.PlanID = b.planID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	defer func() {
		if r := recover(); r != nil {
			logging.Get(logging.CategoryOrchestrator).Error("event handler panicked on %s: %v", ev.Kind, r)
		}
	}()
	b.handler(ev)
}
