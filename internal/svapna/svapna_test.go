package svapna

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"manas/internal/config"
	"manas/internal/store"
)

const testProject = "/tmp/proj"

func newTestSvapna(t *testing.T, cfg config.SvapnaConfig) (*Svapna, *store.LocalStore) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "manas.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	cfg.Project = testProject
	return New(st, cfg), st
}

// seedSession inserts a session whose single turn carries the given
// successful tool calls.
func seedSession(t *testing.T, st *store.LocalStore, id string, tools ...string) {
	t.Helper()
	if err := st.InsertSession(&store.Session{ID: id, Project: testProject, Title: id}); err != nil {
		t.Fatal(err)
	}
	var calls []store.ToolCall
	for _, name := range tools {
		args, _ := json.Marshal(map[string]string{"file_path": "/src/" + id + ".go"})
		calls = append(calls, store.ToolCall{Name: name, Args: args, Output: "ok"})
	}
	err := st.AppendTurn(&store.Turn{
		SessionID:  id,
		TurnNumber: 1,
		Content:    "working on " + id,
		ToolCalls:  calls,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestRunMinesVidhiFromRepeatedSequence(t *testing.T) {
	sv, st := newTestSvapna(t, config.SvapnaConfig{MinSequenceLength: 2})
	for _, id := range []string{"sess-1", "sess-2", "sess-3"} {
		seedSession(t, st, id, "read", "edit")
	}

	res, err := sv.Run(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.SessionsProcessed != 3 {
		t.Errorf("sessions processed = %d", res.SessionsProcessed)
	}
	if res.Proceduralize.VidhisCreated != 1 {
		t.Fatalf("vidhis created = %d, want 1; names = %v",
			res.Proceduralize.VidhisCreated, res.Proceduralize.Names)
	}
	if res.Crystallize.Created != 0 {
		t.Errorf("vasanas created = %d, want 0 without samskaras", res.Crystallize.Created)
	}

	wide := time.Now().UTC()
	vidhis, err := st.VidhisCreatedInWindow(testProject, wide.Add(-time.Hour), wide.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(vidhis) != 1 {
		t.Fatalf("stored vidhis = %d", len(vidhis))
	}
	v := vidhis[0]
	if v.Name != "read-then-edit" {
		t.Errorf("vidhi name = %q", v.Name)
	}
	if len(v.Steps) != 2 || v.Steps[0].Tool != "read" || v.Steps[1].Tool != "edit" {
		t.Errorf("steps = %+v", v.Steps)
	}
	if !v.Steps[0].Critical || v.Steps[1].Critical {
		t.Errorf("only the first step should be critical: %+v", v.Steps)
	}
	if v.SuccessRate != 1.0 {
		t.Errorf("success rate = %v", v.SuccessRate)
	}
	if len(v.SourceSessions) != 3 {
		t.Errorf("source sessions = %v", v.SourceSessions)
	}
	// The differing file_path argument becomes a schema parameter.
	if len(v.ParamSchema) == 0 {
		t.Error("anti-unification produced no parameters")
	}

	// A second cycle must not re-create the same vidhi.
	res2, err := sv.Run(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res2.Proceduralize.VidhisCreated != 0 {
		t.Errorf("second cycle created %d vidhis", res2.Proceduralize.VidhisCreated)
	}
}

func TestRunAuditsExactlyTwoRows(t *testing.T) {
	sv, st := newTestSvapna(t, config.SvapnaConfig{})
	for _, id := range []string{"s1", "s2", "s3"} {
		seedSession(t, st, id, "read", "edit")
	}

	res, err := sv.Run(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}

	rows, err := st.ConsolidationRowsForCycle(res.CycleID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("audit rows = %d, want running + final", len(rows))
	}
	if rows[0].Status != store.CycleRunning {
		t.Errorf("first row status = %s", rows[0].Status)
	}
	if rows[1].Status != store.CycleSuccess {
		t.Errorf("final row status = %s", rows[1].Status)
	}
	if rows[1].SessionsProcessed != 3 || rows[1].VidhisCreated != 1 {
		t.Errorf("final row = %+v", rows[1])
	}

	nidra, err := st.GetNidraState()
	if err != nil {
		t.Fatal(err)
	}
	if nidra.Phase != "complete" || nidra.Progress != 1 {
		t.Errorf("nidra = %+v", nidra)
	}
}

func TestRunEmptyStore(t *testing.T) {
	sv, st := newTestSvapna(t, config.SvapnaConfig{})

	res, err := sv.Run(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.SessionsProcessed != 0 {
		t.Errorf("sessions = %d", res.SessionsProcessed)
	}
	if res.Replay.TurnsScored != 0 || res.Recombine.Associations != 0 ||
		res.Crystallize.Created != 0 || res.Proceduralize.VidhisCreated != 0 ||
		res.Compress.TotalOriginalTokens != 0 {
		t.Errorf("non-zero phase metrics on empty store: %+v", res)
	}

	rows, err := st.ConsolidationRowsForCycle(res.CycleID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[1].Status != store.CycleSuccess {
		t.Fatalf("rows = %+v", rows)
	}
}

func TestRunReportsPhaseProgressInOrder(t *testing.T) {
	sv, _ := newTestSvapna(t, config.SvapnaConfig{})

	type tick struct {
		phase     string
		completed int
	}
	var ticks []tick
	_, err := sv.Run(context.Background(), func(phase string, completed, total int) {
		if total != 5 {
			t.Errorf("total = %d", total)
		}
		ticks = append(ticks, tick{phase, completed})
	})
	if err != nil {
		t.Fatal(err)
	}

	want := []tick{
		{"replay", 1}, {"recombine", 2}, {"crystallize", 3},
		{"proceduralize", 4}, {"compress", 5},
	}
	if len(ticks) != len(want) {
		t.Fatalf("ticks = %v", ticks)
	}
	for i := range want {
		if ticks[i] != want[i] {
			t.Fatalf("ticks = %v, want %v", ticks, want)
		}
	}
}

func TestRunHonorsContextCancellation(t *testing.T) {
	sv, st := newTestSvapna(t, config.SvapnaConfig{})
	seedSession(t, st, "s1", "read")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := sv.Run(ctx, nil)
	if err == nil {
		t.Fatal("cancelled cycle reported success")
	}

	rows, rerr := st.ConsolidationRowsForCycle(res.CycleID)
	if rerr != nil {
		t.Fatal(rerr)
	}
	if len(rows) != 2 || rows[1].Status != store.CycleFailed {
		t.Fatalf("rows = %+v, want a failed final row", rows)
	}
}

func TestRunCrystallizesAndReinforces(t *testing.T) {
	sv, st := newTestSvapna(t, config.SvapnaConfig{})

	// Same preference observed in three distinct sessions.
	for i, sess := range []string{"s1", "s2", "s3"} {
		err := st.InsertSamskara(&store.Samskara{
			ID:               "sk-" + sess,
			Project:          testProject,
			PatternType:      "preference",
			Content:          "Use table driven tests",
			ObservationCount: 3 + i,
			Confidence:       0.9,
			SessionID:        sess,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	res, err := sv.Run(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Crystallize.Created != 1 || res.Crystallize.Reinforced != 0 {
		t.Fatalf("crystallize = %+v", res.Crystallize)
	}
	if res.Crystallize.SamskarasProcessed != 3 {
		t.Errorf("samskaras processed = %d", res.Crystallize.SamskarasProcessed)
	}

	v, err := st.FindVasanaByName(testProject, "use-table-driven-tests")
	if err != nil {
		t.Fatal(err)
	}
	if v == nil {
		t.Fatal("vasana not stored")
	}
	if v.Strength != 0.9 {
		t.Errorf("strength = %v, want the cluster's max confidence", v.Strength)
	}
	if v.Valence != store.ValencePositive {
		t.Errorf("valence = %s", v.Valence)
	}
	if len(v.SourceSamskaras) != 3 {
		t.Errorf("source samskaras = %v", v.SourceSamskaras)
	}

	// The same cluster in a later cycle reinforces instead of duplicating.
	res2, err := sv.Run(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res2.Crystallize.Created != 0 || res2.Crystallize.Reinforced != 1 {
		t.Fatalf("second crystallize = %+v", res2.Crystallize)
	}
	v2, err := st.FindVasanaByName(testProject, "use-table-driven-tests")
	if err != nil {
		t.Fatal(err)
	}
	if v2.Strength != 1.0 {
		t.Errorf("reinforced strength = %v, want capped at 1.0", v2.Strength)
	}
	if v2.ActivationCount != v.ActivationCount+1 {
		t.Errorf("activation count = %d", v2.ActivationCount)
	}
}

func TestCrystallizeSkipsSingleSessionClusters(t *testing.T) {
	sv, st := newTestSvapna(t, config.SvapnaConfig{})

	// Three observations, all from one session: unstable, not crystallized.
	for i := 0; i < 3; i++ {
		err := st.InsertSamskara(&store.Samskara{
			Project:          testProject,
			PatternType:      "convention",
			Content:          "Prefer early returns",
			ObservationCount: 5,
			Confidence:       0.95,
			SessionID:        "only-session",
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	res, err := sv.Run(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Crystallize.Created != 0 {
		t.Errorf("created = %d, want 0 for a single-session cluster", res.Crystallize.Created)
	}
}
