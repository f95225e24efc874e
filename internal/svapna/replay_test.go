package svapna

import (
	"testing"

	"manas/internal/store"
)

func sessionWithTools(id string, toolsPerTurn ...[]string) sessionData {
	sd := sessionData{Session: store.Session{ID: id}}
	for i, tools := range toolsPerTurn {
		turn := store.Turn{
			ID:         id + "-t" + string(rune('0'+i+1)),
			SessionID:  id,
			TurnNumber: i + 1,
			Content:    "turn content",
		}
		for _, name := range tools {
			turn.ToolCalls = append(turn.ToolCalls, store.ToolCall{Name: name, Output: "ok"})
		}
		sd.Turns = append(sd.Turns, turn)
	}
	return sd
}

func TestReplayScoresRareToolsAsMoreSurprising(t *testing.T) {
	sessions := []sessionData{
		sessionWithTools("s1", []string{"read"}, []string{"read"}, []string{"read"}),
		sessionWithTools("s2", []string{"read"}, []string{"deploy"}),
	}

	res := replay(sessions, 0.99)
	if len(res.Scores) != 5 {
		t.Fatalf("scores = %d", len(res.Scores))
	}
	if res.PairTotal != 5 {
		t.Errorf("pair total = %d", res.PairTotal)
	}

	var rare, common *TurnScore
	for i := range res.Scores {
		switch res.Scores[i].Turn.ToolCalls[0].Name {
		case "deploy":
			rare = &res.Scores[i]
		case "read":
			if common == nil {
				common = &res.Scores[i]
			}
		}
	}
	if rare == nil || common == nil {
		t.Fatal("missing scored turns")
	}
	if rare.Surprise != 1.0 {
		t.Errorf("rare surprise = %v, want the normalized maximum", rare.Surprise)
	}
	if common.Surprise >= rare.Surprise {
		t.Errorf("common surprise %v not below rare %v", common.Surprise, rare.Surprise)
	}
	if rare.Retention != 1.0 {
		t.Errorf("rare retention = %v, want 0.5 + 0.5*1", rare.Retention)
	}
	if common.Retention < 0.5 || common.Retention > 1.0 {
		t.Errorf("retention out of range: %v", common.Retention)
	}

	// Threshold 0.99 keeps only the rare turn.
	if len(res.HighSurprise) != 1 || res.HighSurprise[0].Turn.ToolCalls[0].Name != "deploy" {
		t.Errorf("high surprise = %+v", res.HighSurprise)
	}
}

func TestReplayErrorCallsScoreSeparately(t *testing.T) {
	// Same tool name, but one errored call: distinct observation classes.
	ok := sessionWithTools("s1", []string{"bash"}, []string{"bash"}, []string{"bash"})
	errSess := sessionData{Session: store.Session{ID: "s2"}}
	errSess.Turns = append(errSess.Turns, store.Turn{
		ID: "s2-t1", SessionID: "s2", TurnNumber: 1,
		ToolCalls: []store.ToolCall{{Name: "bash", IsError: true}},
	})

	res := replay([]sessionData{ok, errSess}, 0.9)
	if len(res.HighSurprise) != 1 || res.HighSurprise[0].SessionID != "s2" {
		t.Fatalf("high surprise = %+v, want only the errored call", res.HighSurprise)
	}
}

func TestReplayEmptyInput(t *testing.T) {
	res := replay(nil, 0.7)
	if len(res.Scores) != 0 || len(res.HighSurprise) != 0 || res.PairTotal != 0 {
		t.Fatalf("res = %+v", res)
	}
}

func TestRecombineMatchesSharedToolStructure(t *testing.T) {
	sessions := []sessionData{
		sessionWithTools("anchor", []string{"read", "edit"}),
		sessionWithTools("match", []string{"read", "edit", "bash"}),
		sessionWithTools("other", []string{"deploy"}),
	}
	high := []TurnScore{{
		Turn:      sessions[0].Turns[0],
		SessionID: "anchor",
		Surprise:  1.0,
	}}

	res := recombine(sessions, high)
	if len(res.Associations) != 1 {
		t.Fatalf("associations = %+v", res.Associations)
	}
	a := res.Associations[0]
	if a.AnchorSessionID != "anchor" || a.MatchedSessionID != "match" {
		t.Errorf("association = %+v", a)
	}
	// Anchor prints {read, edit, read->edit}; match adds {bash, edit->bash}:
	// Jaccard 3/5.
	if a.Similarity < 0.59 || a.Similarity > 0.61 {
		t.Errorf("similarity = %v, want 0.6", a.Similarity)
	}
	if a.AnchorFingerprint == "" || a.MatchedFingerprint == "" {
		t.Error("fingerprints not recorded")
	}
	if res.SessionPairs != 1 {
		t.Errorf("session pairs = %d", res.SessionPairs)
	}
}

func TestRecombineSkipsToollessAnchors(t *testing.T) {
	sessions := []sessionData{
		sessionWithTools("a", []string{"read"}),
		sessionWithTools("b", []string{"read"}),
	}
	high := []TurnScore{{
		Turn:      store.Turn{ID: "a-prose", SessionID: "a", Content: "just text"},
		SessionID: "a",
		Surprise:  1.0,
	}}

	res := recombine(sessions, high)
	if len(res.Associations) != 0 {
		t.Fatalf("toolless anchor matched: %+v", res.Associations)
	}
}

func TestFingerprintIsOrderSensitiveViaBigrams(t *testing.T) {
	ab := fingerprint([]string{"read", "edit"})
	ba := fingerprint([]string{"edit", "read"})
	if len(ab) != 3 || len(ba) != 3 {
		t.Fatalf("fingerprint sizes = %d/%d, want unigrams+bigram", len(ab), len(ba))
	}
	// Same unigrams, different bigram: Jaccard 2/4.
	if sim := setJaccard(ab, ba); sim != 0.5 {
		t.Errorf("reversed-sequence similarity = %v, want 0.5", sim)
	}
}
