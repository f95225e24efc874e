package report

import (
	"sort"
	"time"

	"manas/internal/store"
)

// toolCount is one entry of the top-tools ranking.
type toolCount struct {
	Name  string
	Count int
}

// windowStats aggregates everything a report section needs for one
// [start, end) window.
type windowStats struct {
	Start, End time.Time

	Sessions    []store.Session
	TurnCount   int
	TotalTokens int
	TotalCost   float64
	TopTools    []toolCount

	Vasanas    []store.Vasana
	Vidhis     []store.Vidhi
	Samskaras  []store.Samskara
	GraphNodes int
	GraphEdges int
}

const topToolLimit = 10

// collect aggregates the window from the store.
func (s *Synthesizer) collect(start, end time.Time) (*windowStats, error) {
	ws := &windowStats{Start: start, End: end}

	var err error
	if ws.Sessions, err = s.store.SessionsInWindow(s.project, start, end); err != nil {
		return nil, err
	}
	for _, sess := range ws.Sessions {
		ws.TotalTokens += sess.TotalTokens
		ws.TotalCost += sess.TotalCost
	}

	turns, err := s.store.TurnsInWindow(s.project, start, end)
	if err != nil {
		return nil, err
	}
	ws.TurnCount = len(turns)
	counts := make(map[string]int)
	for _, turn := range turns {
		for _, call := range turn.ToolCalls {
			counts[call.Name]++
		}
	}
	for name, n := range counts {
		ws.TopTools = append(ws.TopTools, toolCount{Name: name, Count: n})
	}
	sort.Slice(ws.TopTools, func(i, j int) bool {
		if ws.TopTools[i].Count != ws.TopTools[j].Count {
			return ws.TopTools[i].Count > ws.TopTools[j].Count
		}
		return ws.TopTools[i].Name < ws.TopTools[j].Name
	})
	if len(ws.TopTools) > topToolLimit {
		ws.TopTools = ws.TopTools[:topToolLimit]
	}

	if ws.Vasanas, err = s.store.VasanasCreatedInWindow(s.project, start, end); err != nil {
		return nil, err
	}
	if ws.Vidhis, err = s.store.VidhisCreatedInWindow(s.project, start, end); err != nil {
		return nil, err
	}
	if ws.Samskaras, err = s.store.TopSamskarasInWindow(s.project, start, end, topToolLimit); err != nil {
		return nil, err
	}
	if ws.GraphNodes, ws.GraphEdges, err = s.store.GraphCountsInWindow(s.project, start, end); err != nil {
		return nil, err
	}
	return ws, nil
}

// recommendations derives advisory lines from a window's aggregates.
func recommendations(ws *windowStats) []string {
	var recs []string
	if n := len(ws.Sessions); n > 0 && ws.TotalCost/float64(n) > 1.0 {
		recs = append(recs, "Average cost per session exceeds $1.00; consider routing routine tasks to lighter models.")
	}
	for _, v := range ws.Vasanas {
		if v.Valence == store.ValenceNegative {
			recs = append(recs, "Negative tendency detected: **"+escapeCell(v.Name)+"** — review the underlying corrections.")
		}
	}
	for _, v := range ws.Vidhis {
		if v.SuccessRate < 0.5 {
			recs = append(recs, "Procedure **"+escapeCell(v.Name)+"** succeeds less than half the time; consider retiring or revising it.")
		}
	}
	for _, sk := range ws.Samskaras {
		if sk.Confidence >= 0.9 && sk.ObservationCount >= 10 {
			recs = append(recs, "Pattern \""+truncateCell(sk.Content)+"\" is highly confident and frequently observed; a consolidation cycle would crystallize it.")
			break
		}
	}
	if len(recs) == 0 {
		recs = append(recs, "All metrics are within healthy ranges.")
	}
	return recs
}
