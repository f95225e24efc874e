package svapna

import (
	"math"
	"regexp"
	"strings"
	"time"

	"manas/internal/store"
)

// Pramana classes in descending preservation weight.
const (
	PramanaPratyaksha  = "pratyaksha"  // direct observation
	PramanaShabda      = "shabda"      // testimony
	PramanaAnumana     = "anumana"     // inference
	PramanaUpamana     = "upamana"     // analogy
	PramanaArthapatti  = "arthapatti"  // postulation
	PramanaAnupalabdhi = "anupalabdhi" // speculation
)

// PreservationWeight returns the fixed retention weight of a Pramana
// class.
func PreservationWeight(pramana string) float64 {
	switch pramana {
	case PramanaPratyaksha:
		return 0.95
	case PramanaShabda:
		return 0.80
	case PramanaAnumana:
		return 0.65
	case PramanaUpamana:
		return 0.50
	case PramanaArthapatti:
		return 0.40
	case PramanaAnupalabdhi:
		return 0.25
	default:
		return 0.65
	}
}

var (
	speculationRe   = regexp.MustCompile(`(?i)\b(might|maybe|perhaps|possibly|could be|not sure)\b`)
	postulationRe   = regexp.MustCompile(`(?i)\b(must have|therefore|implies|it follows|consequently)\b`)
	analogyRe       = regexp.MustCompile(`(?i)\b(similar to|like a|analogous|just as|resembles)\b`)
	documentationRe = regexp.MustCompile(`(?i)\b(according to|the docs|documentation|readme|manual says)\b`)
)

// ClassifyPramana assigns a turn its epistemological source class: a
// direct tool result with non-empty output is pratyaksha, otherwise the
// message content decides via a marker cascade.
func ClassifyPramana(turn store.Turn) string {
	for _, call := range turn.ToolCalls {
		if !call.IsError && strings.TrimSpace(call.Output) != "" {
			return PramanaPratyaksha
		}
	}
	switch {
	case speculationRe.MatchString(turn.Content):
		return PramanaAnupalabdhi
	case postulationRe.MatchString(turn.Content):
		return PramanaArthapatti
	case analogyRe.MatchString(turn.Content):
		return PramanaUpamana
	case documentationRe.MatchString(turn.Content):
		return PramanaShabda
	default:
		return PramanaAnumana
	}
}

// Chunk is one turn's compression accounting.
type Chunk struct {
	TurnID     string
	Pramana    string
	Tokens     int
	Recency    float64
	Relevance  float64
	Importance float64
	Budget     int // final token allowance
}

// CompressResult summarizes the Pramana-weighted mixing phase.
type CompressResult struct {
	TotalOriginalTokens int
	CompressedTokens    int
	CompressionRatio    float64
	Chunks              []Chunk
	Converged           bool
}

const (
	compressionTarget = 0.7 // keep 70% of original tokens
	recencyHorizon    = 30 * 24 * time.Hour
	sinkhornMaxIter   = 150
	sinkhornTolerance = 1e-6
)

// compress builds the affinity matrix over turn chunks, runs
// Sinkhorn-Knopp, and allocates token budgets from the row sums.
func compress(turns []store.Turn, now time.Time) CompressResult {
	var res CompressResult
	if len(turns) == 0 {
		return res
	}

	chunks := make([]Chunk, len(turns))
	for i, turn := range turns {
		pramana := ClassifyPramana(turn)
		weight := PreservationWeight(pramana)
		importance := weight
		for _, call := range turn.ToolCalls {
			if call.IsError {
				importance = 0.9
				break
			}
		}
		age := now.Sub(turn.CreatedAt)
		recency := math.Max(0, 1-age.Seconds()/recencyHorizon.Seconds())
		chunks[i] = Chunk{
			TurnID:     turn.ID,
			Pramana:    pramana,
			Tokens:     estimateTokens(turn),
			Recency:    recency,
			Relevance:  weight,
			Importance: importance,
		}
		res.TotalOriginalTokens += chunks[i].Tokens
	}

	n := len(chunks)
	affinity := make([][]float64, n)
	for i := range affinity {
		affinity[i] = make([]float64, n)
		for j := range affinity[i] {
			a := 0.40*(chunks[i].Relevance+chunks[j].Relevance)/2 +
				0.35*math.Min(chunks[i].Recency, chunks[j].Recency) +
				0.25*math.Max(chunks[i].Importance, chunks[j].Importance)
			affinity[i][j] = math.Max(a, 1e-6)
		}
	}

	ds, converged := SinkhornKnopp(affinity)
	res.Converged = converged

	raw := make([]float64, n)
	rawTotal := 0.0
	for i := range ds {
		rowSum := 0.0
		for _, v := range ds[i] {
			rowSum += v
		}
		raw[i] = rowSum * chunks[i].Relevance
		rawTotal += raw[i]
	}

	target := compressionTarget * float64(res.TotalOriginalTokens)
	for i := range chunks {
		budget := 0.0
		if rawTotal > 0 {
			budget = raw[i] / rawTotal * target
		}
		final := int(math.Min(budget, float64(chunks[i].Tokens)))
		chunks[i].Budget = final
		res.CompressedTokens += final
	}
	if res.TotalOriginalTokens > 0 {
		res.CompressionRatio = float64(res.CompressedTokens) / float64(res.TotalOriginalTokens)
	}
	res.Chunks = chunks
	return res
}

// SinkhornKnopp rescales rows and columns alternately until the matrix
// is doubly stochastic (row and column sums within 1e-6 of 1) or the
// iteration limit is hit. The input is not modified.
func SinkhornKnopp(a [][]float64) (out [][]float64, converged bool) {
	n := len(a)
	out = make([][]float64, n)
	for i := range a {
		out[i] = append([]float64(nil), a[i]...)
	}

	for iter := 0; iter < sinkhornMaxIter; iter++ {
		for i := 0; i < n; i++ {
			sum := 0.0
			for j := 0; j < n; j++ {
				sum += out[i][j]
			}
			if sum > 0 {
				for j := 0; j < n; j++ {
					out[i][j] /= sum
				}
			}
		}
		for j := 0; j < n; j++ {
			sum := 0.0
			for i := 0; i < n; i++ {
				sum += out[i][j]
			}
			if sum > 0 {
				for i := 0; i < n; i++ {
					out[i][j] /= sum
				}
			}
		}

		maxDev := 0.0
		for i := 0; i < n; i++ {
			sum := 0.0
			for j := 0; j < n; j++ {
				sum += out[i][j]
			}
			if dev := math.Abs(sum - 1); dev > maxDev {
				maxDev = dev
			}
		}
		if maxDev < sinkhornTolerance {
			return out, true
		}
	}
	return out, false
}

// estimateTokens approximates a turn's token count from its content and
// tool outputs (~4 chars per token).
func estimateTokens(turn store.Turn) int {
	chars := len(turn.Content)
	for _, call := range turn.ToolCalls {
		chars += len(call.Output) + len(call.Args)
	}
	tokens := chars / 4
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}
