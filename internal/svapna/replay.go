// Package svapna implements the five-phase memory consolidation cycle:
// replay, recombine, crystallize, proceduralize, compress. Each phase is
// a pure function over loaded session data where possible, so tests can
// drive them independently of the runner.
package svapna

import (
	"math"

	"manas/internal/store"
)

// sessionData pairs a session with its turns, ordered by turn number.
type sessionData struct {
	Session store.Session
	Turns   []store.Turn
}

// TurnScore is one turn's replay outcome.
type TurnScore struct {
	Turn      store.Turn
	SessionID string
	Surprise  float64 // normalized to [0, 1]
	Retention float64 // 0.5 + 0.5*surprise
	ToolCalls int
}

// ReplayResult summarizes the surprise-scoring phase.
type ReplayResult struct {
	Scores       []TurnScore
	HighSurprise []TurnScore
	PairTotal    int // total (tool, result-class) observations
}

// replay scores every turn by how surprising its tool usage is against
// the cycle-wide frequency table. Turns without tool calls fall back to
// a content-length deviation proxy.
func replay(sessions []sessionData, threshold float64) ReplayResult {
	// Frequency table over (toolName, ok|err) pairs.
	freq := make(map[string]int)
	total := 0
	var lenSum, turnCount int
	for _, sd := range sessions {
		for _, turn := range sd.Turns {
			turnCount++
			lenSum += len(turn.Content)
			for _, call := range turn.ToolCalls {
				freq[pairKey(call)]++
				total++
			}
		}
	}
	avgLen := 0.0
	if turnCount > 0 {
		avgLen = float64(lenSum) / float64(turnCount)
	}

	var out ReplayResult
	out.PairTotal = total

	maxSurprise := 0.0
	for _, sd := range sessions {
		for _, turn := range sd.Turns {
			raw := 0.0
			if k := len(turn.ToolCalls); k > 0 {
				for _, call := range turn.ToolCalls {
					p := float64(freq[pairKey(call)]) / float64(total)
					raw += -math.Log(math.Max(p, 1e-6))
				}
				raw /= float64(k)
			} else {
				dev := math.Abs(float64(len(turn.Content))-avgLen) / math.Max(avgLen, 1)
				raw = math.Min(dev, 5)
			}
			out.Scores = append(out.Scores, TurnScore{
				Turn:      turn,
				SessionID: turn.SessionID,
				Surprise:  raw, // normalized below
				ToolCalls: len(turn.ToolCalls),
			})
			if raw > maxSurprise {
				maxSurprise = raw
			}
		}
	}

	for i := range out.Scores {
		if maxSurprise > 0 {
			out.Scores[i].Surprise /= maxSurprise
		}
		out.Scores[i].Retention = 0.5 + 0.5*out.Scores[i].Surprise
		if out.Scores[i].Surprise >= threshold {
			out.HighSurprise = append(out.HighSurprise, out.Scores[i])
		}
	}
	return out
}

func pairKey(call store.ToolCall) string {
	if call.IsError {
		return call.Name + "|err"
	}
	return call.Name + "|ok"
}
