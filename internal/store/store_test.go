package store

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"
)

const testProject = "/tmp/proj"

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "manas.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manas.db")
	st, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if st.Path() != path {
		t.Errorf("path = %q", st.Path())
	}
	st.Close()

	// Reopening an existing database re-runs schema and migrations.
	st2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer st2.Close()
	if _, err := st2.GetNidraState(); err != nil {
		t.Fatalf("nidra singleton missing after reopen: %v", err)
	}
}

func TestSessionAndTurnRoundTrip(t *testing.T) {
	st := newTestStore(t)

	sess := &Session{Project: testProject, Title: "refactor", TotalTokens: 500, TotalCost: 0.05}
	if err := st.InsertSession(sess); err != nil {
		t.Fatal(err)
	}
	if sess.ID == "" {
		t.Fatal("no id generated")
	}

	args, _ := json.Marshal(map[string]string{"file_path": "/src/main.go"})
	err := st.AppendTurn(&Turn{
		SessionID:  sess.ID,
		TurnNumber: 1,
		Content:    "editing main",
		ToolCalls:  []ToolCall{{Name: "edit", Args: args, Output: "done"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	turns, err := st.TurnsForSession(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 1 {
		t.Fatalf("turns = %d", len(turns))
	}
	got := turns[0]
	if got.Role != "assistant" {
		t.Errorf("role default = %q", got.Role)
	}
	if len(got.ToolCalls) != 1 || got.ToolCalls[0].Name != "edit" || got.ToolCalls[0].Output != "done" {
		t.Errorf("tool calls = %+v", got.ToolCalls)
	}

	// Duplicate (session, turn_number) rows are ignored, not errors.
	err = st.AppendTurn(&Turn{SessionID: sess.ID, TurnNumber: 1, Content: "dup"})
	if err != nil {
		t.Fatal(err)
	}
	turns, _ = st.TurnsForSession(sess.ID)
	if len(turns) != 1 {
		t.Errorf("duplicate turn inserted: %d rows", len(turns))
	}
}

func TestTouchSessionAccumulates(t *testing.T) {
	st := newTestStore(t)
	sess := &Session{Project: testProject, TotalTokens: 100, TotalCost: 0.01}
	if err := st.InsertSession(sess); err != nil {
		t.Fatal(err)
	}
	if err := st.TouchSession(sess.ID, 50, 0.02); err != nil {
		t.Fatal(err)
	}

	sessions, err := st.RecentSessions(testProject, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d", len(sessions))
	}
	if sessions[0].TotalTokens != 150 || sessions[0].TotalCost != 0.03 {
		t.Errorf("totals = %d/%v", sessions[0].TotalTokens, sessions[0].TotalCost)
	}
}

func TestRecentSessionsNewestFirstAndScoped(t *testing.T) {
	st := newTestStore(t)
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		ts := base.Add(time.Duration(i) * time.Hour)
		err := st.InsertSession(&Session{ID: id, Project: testProject, CreatedAt: ts, UpdatedAt: ts})
		if err != nil {
			t.Fatal(err)
		}
	}
	if err := st.InsertSession(&Session{ID: "foreign", Project: "/other"}); err != nil {
		t.Fatal(err)
	}

	sessions, err := st.RecentSessions(testProject, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 2 || sessions[0].ID != "new" || sessions[1].ID != "mid" {
		t.Fatalf("sessions = %+v", sessions)
	}
}

func TestSessionWindowIsHalfOpen(t *testing.T) {
	st := newTestStore(t)
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	for id, ts := range map[string]time.Time{
		"before":   start.Add(-time.Second),
		"at-start": start,
		"inside":   start.AddDate(0, 0, 15),
		"at-end":   end,
	} {
		err := st.InsertSession(&Session{ID: id, Project: testProject, CreatedAt: ts, UpdatedAt: ts})
		if err != nil {
			t.Fatal(err)
		}
	}

	sessions, err := st.SessionsInWindow(testProject, start, end)
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]bool{}
	for _, sess := range sessions {
		got[sess.ID] = true
	}
	if len(got) != 2 || !got["at-start"] || !got["inside"] {
		t.Fatalf("window = %v, want at-start and inside only", got)
	}
}

func TestSamskaraCrystallizationQuery(t *testing.T) {
	st := newTestStore(t)
	rows := []Samskara{
		{ID: "keep-1", Project: testProject, PatternType: "preference", Content: "a", ObservationCount: 3, Confidence: 0.9},
		{ID: "keep-global", PatternType: "preference", Content: "b", ObservationCount: 5, Confidence: 0.8},
		{ID: "low-obs", Project: testProject, PatternType: "preference", Content: "c", ObservationCount: 1, Confidence: 0.9},
		{ID: "low-conf", Project: testProject, PatternType: "preference", Content: "d", ObservationCount: 4, Confidence: 0.4},
		{ID: "foreign", Project: "/other", PatternType: "preference", Content: "e", ObservationCount: 9, Confidence: 0.9},
	}
	for i := range rows {
		if err := st.InsertSamskara(&rows[i]); err != nil {
			t.Fatal(err)
		}
	}

	got, err := st.SamskarasForCrystallization(testProject, 3, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("samskaras = %+v", got)
	}
	// Ordered by confidence, best first; NULL project rows count as global.
	if got[0].ID != "keep-1" || got[1].ID != "keep-global" {
		t.Errorf("order = %s, %s", got[0].ID, got[1].ID)
	}
}

func TestVasanaInsertFindReinforce(t *testing.T) {
	st := newTestStore(t)

	if v, err := st.FindVasanaByName(testProject, "missing"); err != nil || v != nil {
		t.Fatalf("absent lookup = %v, %v", v, err)
	}

	v := &Vasana{
		Project:         testProject,
		Name:            "prefer-table-tests",
		Description:     "Use table driven tests",
		Valence:         ValencePositive,
		Strength:        0.8,
		Stability:       0.4,
		SourceSamskaras: []string{"sk-1"},
		ActivationCount: 1,
	}
	if err := st.InsertVasana(v); err != nil {
		t.Fatal(err)
	}

	found, err := st.FindVasanaByName(testProject, "prefer-table-tests")
	if err != nil {
		t.Fatal(err)
	}
	if found == nil || found.Strength != 0.8 || found.Valence != ValencePositive {
		t.Fatalf("found = %+v", found)
	}

	if err := st.ReinforceVasana(found.ID, 0.9, []string{"sk-1", "sk-2"}); err != nil {
		t.Fatal(err)
	}
	found, _ = st.FindVasanaByName(testProject, "prefer-table-tests")
	if found.Strength != 0.9 || found.ActivationCount != 2 {
		t.Errorf("reinforced = %+v", found)
	}
	if len(found.SourceSamskaras) != 2 {
		t.Errorf("sources = %v", found.SourceSamskaras)
	}
}

func TestVidhiExistsAndWindow(t *testing.T) {
	st := newTestStore(t)

	exists, err := st.VidhiExists("vidhi-xyz")
	if err != nil || exists {
		t.Fatalf("exists = %v, %v", exists, err)
	}

	args, _ := json.Marshal(map[string]string{"file_path": "${step0_param_file_path}"})
	v := &Vidhi{
		ID:      "vidhi-xyz",
		Project: testProject,
		Name:    "read-then-edit",
		Steps: []VidhiStep{
			{Index: 0, Tool: "read", Args: args, Critical: true},
			{Index: 1, Tool: "edit", Args: args},
		},
		ParamSchema: map[string]ParamSpec{
			"step0_param_file_path": {Type: "string", Required: true, Examples: []string{`"/a.go"`}},
		},
		Triggers:       []string{"read then edit"},
		SuccessRate:    1.0,
		SuccessCount:   3,
		SourceSessions: []string{"s1", "s2", "s3"},
		Confidence:     0.06,
	}
	if err := st.InsertVidhi(v); err != nil {
		t.Fatal(err)
	}
	if exists, _ = st.VidhiExists("vidhi-xyz"); !exists {
		t.Fatal("inserted vidhi not found")
	}

	now := time.Now().UTC()
	got, err := st.VidhisCreatedInWindow(testProject, now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("vidhis = %d", len(got))
	}
	round := got[0]
	if len(round.Steps) != 2 || !round.Steps[0].Critical || round.Steps[1].Tool != "edit" {
		t.Errorf("steps = %+v", round.Steps)
	}
	if spec, ok := round.ParamSchema["step0_param_file_path"]; !ok || spec.Type != "string" || !spec.Required {
		t.Errorf("schema = %+v", round.ParamSchema)
	}
}

func TestConsolidationLogOrder(t *testing.T) {
	st := newTestStore(t)
	for _, status := range []string{CycleRunning, CycleSuccess} {
		err := st.AppendConsolidationLog(&ConsolidationRow{
			Project: testProject, CycleType: CycleSvapna, CycleID: "svapna-x", Status: status,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	rows, err := st.ConsolidationRowsForCycle("svapna-x")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0].Status != CycleRunning || rows[1].Status != CycleSuccess {
		t.Fatalf("rows = %+v", rows)
	}
	if rows[0].ID >= rows[1].ID {
		t.Error("rows not in write order")
	}
}

func TestNidraStateClampsProgress(t *testing.T) {
	st := newTestStore(t)

	if err := st.UpdateNidraState("replay", 1.7); err != nil {
		t.Fatal(err)
	}
	nidra, err := st.GetNidraState()
	if err != nil {
		t.Fatal(err)
	}
	if nidra.Phase != "replay" || nidra.Progress != 1 {
		t.Errorf("nidra = %+v, want progress clamped to 1", nidra)
	}

	if err := st.UpdateNidraState("replay", -0.5); err != nil {
		t.Fatal(err)
	}
	nidra, _ = st.GetNidraState()
	if nidra.Progress != 0 {
		t.Errorf("progress = %v, want clamped to 0", nidra.Progress)
	}
}

func TestGraphIdempotenceAndCounts(t *testing.T) {
	st := newTestStore(t)

	node := &GraphNode{ID: "vasana:x", Kind: "vasana", Label: "x", Project: testProject}
	for i := 0; i < 2; i++ {
		if err := st.AddGraphNode(node); err != nil {
			t.Fatal(err)
		}
	}
	edge := &GraphEdge{
		ID: "recomb:a:b", FromID: "session:a", ToID: "session:b",
		Kind: "recombination", Weight: 0.6, Project: testProject,
	}
	for i := 0; i < 2; i++ {
		if err := st.AddGraphEdge(edge); err != nil {
			t.Fatal(err)
		}
	}

	now := time.Now().UTC()
	nodes, edges, err := st.GraphCountsInWindow(testProject, now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if nodes != 1 || edges != 1 {
		t.Errorf("counts = %d/%d, want duplicates ignored", nodes, edges)
	}
}
