package report

import (
	"fmt"
	"time"

	"manas/internal/store"
)

// Yearly renders and writes the report for a full year, returning the
// artifact path.
func (s *Synthesizer) Yearly(year int) (string, error) {
	started := time.Now()
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(1, 0, 0)

	ws, err := s.collect(start, end)
	if err != nil {
		return "", fmt.Errorf("yearly aggregation failed: %w", err)
	}

	var md mdBuilder
	md.title("Yearly Report — %d — %s", year, s.project)

	md.heading("Summary")
	md.stat("Sessions", len(ws.Sessions))
	md.stat("Turns", ws.TurnCount)
	md.stat("Tokens", ws.TotalTokens)
	md.stat("Cost", fmt.Sprintf("$%.2f", ws.TotalCost))
	md.stat("Vasanas created", len(ws.Vasanas))
	md.stat("Vidhis mined", len(ws.Vidhis))
	md.blank()

	s.renderMonthlyBreakdown(&md, year, ws)

	if s.HasYearlyReport(year - 1) {
		if err := s.renderYearOverYear(&md, year, ws); err != nil {
			return "", err
		}
	}

	s.renderTrends(&md, ws)

	md.heading("Top Tools")
	if len(ws.TopTools) == 0 {
		md.placeholder("tool invocations recorded", "this year")
	} else {
		rows := make([][]string, len(ws.TopTools))
		for i, tc := range ws.TopTools {
			rows[i] = []string{tc.Name, fmt.Sprintf("%d", tc.Count)}
		}
		md.table([]string{"Tool", "Invocations"}, rows)
	}

	s.renderVasanas(&md, ws.Vasanas, "this year")
	s.renderVidhis(&md, ws.Vidhis, "this year")

	md.heading("Recommendations")
	for _, rec := range recommendations(ws) {
		md.line("- %s", rec)
	}
	md.blank()

	md.heading("Database Maintenance")
	md.line("Consider running `VACUUM` on the local store after large consolidation cycles to reclaim space and keep index scans fast.")
	md.blank()

	path := s.GetReportPath(KindYearly, fmt.Sprintf("%d", year))
	if err := s.writeArtifact(path, md.String()); err != nil {
		return "", err
	}
	if err := s.audit(store.CycleYearly, fmt.Sprintf("yearly-%d", year), len(ws.Sessions), time.Since(started).Milliseconds()); err != nil {
		return "", err
	}
	return path, nil
}

// renderMonthlyBreakdown buckets the year's sessions per calendar month.
func (s *Synthesizer) renderMonthlyBreakdown(md *mdBuilder, year int, ws *windowStats) {
	type bucket struct {
		sessions int
		tokens   int
		cost     float64
	}
	buckets := make([]bucket, 13) // 1-based months
	for _, sess := range ws.Sessions {
		m := sess.CreatedAt.UTC().Month()
		buckets[m].sessions++
		buckets[m].tokens += sess.TotalTokens
		buckets[m].cost += sess.TotalCost
	}

	md.heading("Monthly Breakdown")
	rows := make([][]string, 0, 12)
	for m := 1; m <= 12; m++ {
		rows = append(rows, []string{
			monthID(year, m),
			fmt.Sprintf("%d", buckets[m].sessions),
			fmt.Sprintf("%d", buckets[m].tokens),
			fmt.Sprintf("$%.2f", buckets[m].cost),
		})
	}
	md.table([]string{"Month", "Sessions", "Tokens", "Cost"}, rows)
}

// renderYearOverYear recomputes the prior year from the store and shows
// deltas against the current one.
func (s *Synthesizer) renderYearOverYear(md *mdBuilder, year int, current *windowStats) error {
	prevStart := time.Date(year-1, time.January, 1, 0, 0, 0, 0, time.UTC)
	prev, err := s.collect(prevStart, prevStart.AddDate(1, 0, 0))
	if err != nil {
		return fmt.Errorf("prior-year aggregation failed: %w", err)
	}

	md.heading(fmt.Sprintf("Year-over-Year (%d vs %d)", year, year-1))
	md.table([]string{"Metric", fmt.Sprintf("%d", year-1), fmt.Sprintf("%d", year), "Delta"}, [][]string{
		{"Sessions", fmt.Sprintf("%d", len(prev.Sessions)), fmt.Sprintf("%d", len(current.Sessions)),
			fmt.Sprintf("%+d", len(current.Sessions)-len(prev.Sessions))},
		{"Turns", fmt.Sprintf("%d", prev.TurnCount), fmt.Sprintf("%d", current.TurnCount),
			fmt.Sprintf("%+d", current.TurnCount-prev.TurnCount)},
		{"Tokens", fmt.Sprintf("%d", prev.TotalTokens), fmt.Sprintf("%d", current.TotalTokens),
			fmt.Sprintf("%+d", current.TotalTokens-prev.TotalTokens)},
		{"Cost", fmt.Sprintf("$%.2f", prev.TotalCost), fmt.Sprintf("$%.2f", current.TotalCost),
			fmt.Sprintf("%+.2f", current.TotalCost-prev.TotalCost)},
	})
	return nil
}

// renderTrends compares first-half and second-half session volume and
// flags strong crystallization years.
func (s *Synthesizer) renderTrends(md *mdBuilder, ws *windowStats) {
	firstHalf, secondHalf := 0, 0
	for _, sess := range ws.Sessions {
		if sess.CreatedAt.UTC().Month() <= time.June {
			firstHalf++
		} else {
			secondHalf++
		}
	}

	md.heading("Trends")
	switch {
	case firstHalf == 0 && secondHalf == 0:
		md.line("- Steady, consistent usage.")
	case firstHalf == 0 || float64(secondHalf)/float64(firstHalf) >= 1.5:
		md.line("- Session volume increased over the year (%d in H1, %d in H2).", firstHalf, secondHalf)
	case float64(secondHalf)/float64(firstHalf) <= 0.67:
		md.line("- Session volume decreased over the year (%d in H1, %d in H2).", firstHalf, secondHalf)
	default:
		md.line("- Steady, consistent usage (%d in H1, %d in H2).", firstHalf, secondHalf)
	}
	if len(ws.Vasanas) > 10 {
		md.line("- Strong behavioral crystallization: %d vasanas created this year.", len(ws.Vasanas))
	}
	md.blank()
}
