package report

import (
	"fmt"
	"time"

	"manas/internal/store"
)

// Monthly renders and writes the report for (year, month), returning
// the artifact path.
func (s *Synthesizer) Monthly(year, month int) (string, error) {
	started := time.Now()
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	ws, err := s.collect(start, end)
	if err != nil {
		return "", fmt.Errorf("monthly aggregation failed: %w", err)
	}

	var md mdBuilder
	md.title("Monthly Report — %s — %s", monthID(year, month), s.project)

	md.heading("Summary")
	md.stat("Sessions", len(ws.Sessions))
	md.stat("Turns", ws.TurnCount)
	md.stat("Tokens", ws.TotalTokens)
	md.stat("Cost", fmt.Sprintf("$%.2f", ws.TotalCost))
	md.blank()

	md.heading("Top Tools")
	if len(ws.TopTools) == 0 {
		md.placeholder("tool invocations recorded", "this month")
	} else {
		rows := make([][]string, len(ws.TopTools))
		for i, tc := range ws.TopTools {
			rows[i] = []string{tc.Name, fmt.Sprintf("%d", tc.Count)}
		}
		md.table([]string{"Tool", "Invocations"}, rows)
	}

	s.renderVasanas(&md, ws.Vasanas, "this month")
	s.renderVidhis(&md, ws.Vidhis, "this month")
	s.renderSamskaras(&md, ws.Samskaras, "this month")

	md.heading("Knowledge Graph")
	md.stat("Nodes added", ws.GraphNodes)
	md.stat("Edges added", ws.GraphEdges)
	md.blank()

	md.heading("Recommendations")
	for _, rec := range recommendations(ws) {
		md.line("- %s", rec)
	}
	md.blank()

	path := s.GetReportPath(KindMonthly, monthID(year, month))
	if err := s.writeArtifact(path, md.String()); err != nil {
		return "", err
	}
	if err := s.audit(store.CycleMonthly, "monthly-"+monthID(year, month), len(ws.Sessions), time.Since(started).Milliseconds()); err != nil {
		return "", err
	}
	return path, nil
}

func (s *Synthesizer) renderVasanas(md *mdBuilder, vasanas []store.Vasana, period string) {
	md.heading("Vasanas Crystallized")
	if len(vasanas) == 0 {
		md.placeholder("vasanas crystallized", period)
		return
	}
	rows := make([][]string, len(vasanas))
	for i, v := range vasanas {
		rows[i] = []string{v.Name, v.Valence,
			fmt.Sprintf("%.2f", v.Strength), fmt.Sprintf("%.2f", v.Stability), v.Description}
	}
	md.table([]string{"Name", "Valence", "Strength", "Stability", "Description"}, rows)
}

func (s *Synthesizer) renderVidhis(md *mdBuilder, vidhis []store.Vidhi, period string) {
	md.heading("Vidhis Mined")
	if len(vidhis) == 0 {
		md.placeholder("vidhis mined", period)
		return
	}
	rows := make([][]string, len(vidhis))
	for i, v := range vidhis {
		rows[i] = []string{v.Name, fmt.Sprintf("%d", len(v.Steps)),
			fmt.Sprintf("%.2f", v.SuccessRate), fmt.Sprintf("%.2f", v.Confidence)}
	}
	md.table([]string{"Name", "Steps", "Success Rate", "Confidence"}, rows)
}

func (s *Synthesizer) renderSamskaras(md *mdBuilder, samskaras []store.Samskara, period string) {
	md.heading("Top Samskaras")
	if len(samskaras) == 0 {
		md.placeholder("samskaras observed", period)
		return
	}
	rows := make([][]string, len(samskaras))
	for i, sk := range samskaras {
		rows[i] = []string{sk.PatternType, sk.Content,
			fmt.Sprintf("%d", sk.ObservationCount), fmt.Sprintf("%.2f", sk.Confidence)}
	}
	md.table([]string{"Type", "Pattern", "Observations", "Confidence"}, rows)
}
