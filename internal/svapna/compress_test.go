package svapna

import (
	"math"
	"testing"
	"time"

	"manas/internal/store"
)

func TestPreservationWeightOrdering(t *testing.T) {
	order := []string{
		PramanaPratyaksha, PramanaShabda, PramanaAnumana,
		PramanaUpamana, PramanaArthapatti, PramanaAnupalabdhi,
	}
	want := []float64{0.95, 0.80, 0.65, 0.50, 0.40, 0.25}
	for i, p := range order {
		if got := PreservationWeight(p); got != want[i] {
			t.Errorf("weight(%s) = %v, want %v", p, got, want[i])
		}
		if i > 0 && PreservationWeight(p) >= PreservationWeight(order[i-1]) {
			t.Errorf("weights not strictly descending at %s", p)
		}
	}
	if got := PreservationWeight("nonsense"); got != 0.65 {
		t.Errorf("unknown pramana weight = %v, want the anumana default", got)
	}
}

func TestClassifyPramana(t *testing.T) {
	cases := []struct {
		name string
		turn store.Turn
		want string
	}{
		{"tool output", store.Turn{ToolCalls: []store.ToolCall{{Name: "read", Output: "data"}}}, PramanaPratyaksha},
		{"errored tool falls through", store.Turn{
			Content:   "it might be a race condition",
			ToolCalls: []store.ToolCall{{Name: "bash", IsError: true, Output: "boom"}},
		}, PramanaAnupalabdhi},
		{"speculation", store.Turn{Content: "Maybe the cache is stale"}, PramanaAnupalabdhi},
		{"postulation", store.Turn{Content: "The lock is held, therefore the writer blocks"}, PramanaArthapatti},
		{"analogy", store.Turn{Content: "This works like a ring buffer"}, PramanaUpamana},
		{"testimony", store.Turn{Content: "According to the docs, WAL allows one writer"}, PramanaShabda},
		{"inference default", store.Turn{Content: "The retry path handles it"}, PramanaAnumana},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyPramana(tc.turn); got != tc.want {
				t.Errorf("ClassifyPramana = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestSinkhornKnoppDoublyStochastic(t *testing.T) {
	in := [][]float64{
		{0.9, 0.1, 0.4, 0.2},
		{0.3, 0.8, 0.1, 0.5},
		{0.2, 0.4, 0.7, 0.3},
		{0.6, 0.2, 0.3, 0.9},
	}
	orig := in[0][0]

	out, converged := SinkhornKnopp(in)
	if !converged {
		t.Fatal("did not converge on a strictly positive matrix")
	}
	for i := range out {
		rowSum, colSum := 0.0, 0.0
		for j := range out {
			rowSum += out[i][j]
			colSum += out[j][i]
		}
		if math.Abs(rowSum-1) > 1e-6 {
			t.Errorf("row %d sum = %v", i, rowSum)
		}
		if math.Abs(colSum-1) > 1e-6 {
			t.Errorf("col %d sum = %v", i, colSum)
		}
	}
	if in[0][0] != orig {
		t.Error("input matrix was modified")
	}
}

func TestCompressBudgetsWithinTarget(t *testing.T) {
	now := time.Now()
	var turns []store.Turn
	for i := 0; i < 6; i++ {
		turn := store.Turn{
			ID:        "t" + string(rune('0'+i)),
			Content:   "some reasonably long turn content for token estimation purposes",
			CreatedAt: now.Add(-time.Duration(i) * 24 * time.Hour),
		}
		if i%2 == 0 {
			turn.ToolCalls = []store.ToolCall{{Name: "read", Output: "file contents here"}}
		}
		turns = append(turns, turn)
	}

	res := compress(turns, now)
	if res.TotalOriginalTokens <= 0 {
		t.Fatal("no tokens estimated")
	}
	if !res.Converged {
		t.Error("affinity matrix did not converge")
	}
	if res.CompressionRatio > 0.71 {
		t.Errorf("ratio = %v, want at most the 0.7 target", res.CompressionRatio)
	}
	if len(res.Chunks) != len(turns) {
		t.Fatalf("chunks = %d", len(res.Chunks))
	}
	sum := 0
	for _, c := range res.Chunks {
		if c.Budget > c.Tokens {
			t.Errorf("chunk %s budget %d exceeds original %d", c.TurnID, c.Budget, c.Tokens)
		}
		if c.Budget < 0 {
			t.Errorf("chunk %s negative budget", c.TurnID)
		}
		sum += c.Budget
	}
	if sum != res.CompressedTokens {
		t.Errorf("compressed tokens %d != chunk sum %d", res.CompressedTokens, sum)
	}
}

func TestCompressErroredToolRaisesImportance(t *testing.T) {
	now := time.Now()
	turns := []store.Turn{
		{ID: "ok", Content: "fine", CreatedAt: now,
			ToolCalls: []store.ToolCall{{Name: "read", Output: "x"}}},
		{ID: "err", Content: "fine", CreatedAt: now,
			ToolCalls: []store.ToolCall{{Name: "bash", IsError: true}}},
	}
	res := compress(turns, now)
	byID := map[string]Chunk{}
	for _, c := range res.Chunks {
		byID[c.TurnID] = c
	}
	if byID["err"].Importance != 0.9 {
		t.Errorf("errored importance = %v, want 0.9", byID["err"].Importance)
	}
	if byID["ok"].Importance != 0.95 {
		t.Errorf("clean tool importance = %v, want its pratyaksha weight", byID["ok"].Importance)
	}
}

func TestCompressEmptyInput(t *testing.T) {
	res := compress(nil, time.Now())
	if res.TotalOriginalTokens != 0 || res.CompressedTokens != 0 || len(res.Chunks) != 0 {
		t.Fatalf("res = %+v", res)
	}
}

func TestSlugify(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Use table driven tests", "use-table-driven-tests"},
		{"  Prefer   gofmt!! ", "prefer-gofmt"},
		{"already-sluggy", "already-sluggy"},
	}
	for _, tc := range cases {
		if got := slugify(tc.in, 80); got != tc.want {
			t.Errorf("slugify(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
	long := slugify("this phrase keeps repeating itself over and over and over and over and over again for a while", 80)
	if len(long) > 80 {
		t.Errorf("slug length = %d, want capped at 80", len(long))
	}
}

func TestBigramDice(t *testing.T) {
	if got := bigramDice("prefer tabs", "prefer tabs"); got != 1.0 {
		t.Errorf("identical dice = %v", got)
	}
	if got := bigramDice("prefer tabs over spaces", "prefer tabs over space"); got <= 0.7 {
		t.Errorf("near-identical dice = %v, want above the cluster threshold", got)
	}
	if got := bigramDice("abc", "xyz"); got != 0 {
		t.Errorf("disjoint dice = %v", got)
	}
	if got := bigramDice("", "abc"); got != 0 {
		t.Errorf("empty dice = %v", got)
	}
}
