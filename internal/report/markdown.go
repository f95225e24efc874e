package report

import (
	"fmt"
	"strings"
	"time"
)

// cellLimit truncates long table cell text.
const cellLimit = 60

// escapeCell escapes pipe characters so cell values cannot break table
// rows, then truncates to the cell limit.
func escapeCell(s string) string {
	return truncateCell(strings.ReplaceAll(s, "|", `\|`))
}

func truncateCell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) <= cellLimit {
		return s
	}
	return string(runes[:cellLimit]) + "…"
}

// mdBuilder accumulates a Markdown document section by section.
type mdBuilder struct {
	b strings.Builder
}

func (m *mdBuilder) title(format string, args ...any) {
	fmt.Fprintf(&m.b, "# "+format+"\n\n", args...)
	fmt.Fprintf(&m.b, "> Generated: %s\n\n", time.Now().UTC().Format(time.RFC3339))
}

func (m *mdBuilder) heading(text string) {
	fmt.Fprintf(&m.b, "## %s\n\n", text)
}

func (m *mdBuilder) line(format string, args ...any) {
	fmt.Fprintf(&m.b, format+"\n", args...)
}

func (m *mdBuilder) blank() {
	m.b.WriteString("\n")
}

// stat writes one bold-label summary line.
func (m *mdBuilder) stat(label string, value any) {
	fmt.Fprintf(&m.b, "- **%s**: %v\n", label, value)
}

// table writes a pipe table; every cell is escaped and truncated.
func (m *mdBuilder) table(headers []string, rows [][]string) {
	m.b.WriteString("| " + strings.Join(headers, " | ") + " |\n")
	seps := make([]string, len(headers))
	for i := range seps {
		seps[i] = "---"
	}
	m.b.WriteString("| " + strings.Join(seps, " | ") + " |\n")
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			cells[i] = escapeCell(cell)
		}
		m.b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	m.b.WriteString("\n")
}

// placeholder writes the standard empty-section marker.
func (m *mdBuilder) placeholder(what, period string) {
	fmt.Fprintf(&m.b, "_No %s %s._\n\n", what, period)
}

func (m *mdBuilder) String() string { return m.b.String() }
