package svapna

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
)

// Association links a high-surprise turn to a structurally similar
// session elsewhere in the cycle.
type Association struct {
	AnchorTurnID       string
	AnchorSessionID    string
	MatchedSessionID   string
	Similarity         float64
	AnchorFingerprint  string
	MatchedFingerprint string
}

// RecombineResult summarizes cross-session similarity detection.
type RecombineResult struct {
	Associations []Association
	SessionPairs int // unique unordered session pairs among associations
}

// similarityFloor is the minimum Jaccard score worth recording.
const similarityFloor = 0.15

// recombine fingerprints every session's tool sequence and compares each
// high-surprise turn's local fingerprint against every other session.
// Turns without tool calls produce an empty fingerprint and match
// nothing.
func recombine(sessions []sessionData, high []TurnScore) RecombineResult {
	sessionPrints := make(map[string]map[string]bool, len(sessions))
	for _, sd := range sessions {
		var names []string
		for _, turn := range sd.Turns {
			for _, call := range turn.ToolCalls {
				names = append(names, call.Name)
			}
		}
		sessionPrints[sd.Session.ID] = fingerprint(names)
	}

	var out RecombineResult
	pairs := make(map[string]bool)
	for _, ts := range high {
		var names []string
		for _, call := range ts.Turn.ToolCalls {
			names = append(names, call.Name)
		}
		local := fingerprint(names)
		if len(local) == 0 {
			continue
		}
		for sessionID, print := range sessionPrints {
			if sessionID == ts.SessionID {
				continue
			}
			sim := setJaccard(local, print)
			if sim < similarityFloor {
				continue
			}
			out.Associations = append(out.Associations, Association{
				AnchorTurnID:       ts.Turn.ID,
				AnchorSessionID:    ts.SessionID,
				MatchedSessionID:   sessionID,
				Similarity:         sim,
				AnchorFingerprint:  printString(local),
				MatchedFingerprint: printString(print),
			})
			pairs[pairID(ts.SessionID, sessionID)] = true
		}
	}

	sort.SliceStable(out.Associations, func(i, j int) bool {
		return out.Associations[i].Similarity > out.Associations[j].Similarity
	})
	out.SessionPairs = len(pairs)
	return out
}

// fingerprint builds the unigram+bigram FNV-1a hash set over a tool-name
// sequence.
func fingerprint(names []string) map[string]bool {
	out := make(map[string]bool)
	for i, name := range names {
		out[hash32("u:"+name)] = true
		if i > 0 {
			out[hash32("b:"+names[i-1]+":"+name)] = true
		}
	}
	return out
}

func hash32(s string) string {
	h := fnv.New32a()
	h.Write([]byte(s))
	return fmt.Sprintf("%08x", h.Sum32())
}

func setJaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if b[k] {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}

func printString(set map[string]bool) string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}

func pairID(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}
