package svapna

import (
	"fmt"
	"strings"

	"manas/internal/logging"
	"manas/internal/store"
)

// CrystallizeResult summarizes vasana formation.
type CrystallizeResult struct {
	Created            int
	Reinforced         int
	SamskarasProcessed int
	Names              []string // vasana names touched this cycle
}

// diceThreshold merges two samskaras into one cluster.
const diceThreshold = 0.7

type cluster struct {
	representative store.Samskara
	members        []store.Samskara
	sessions       map[string]bool
	maxConfidence  float64
}

// crystallize clusters qualifying samskaras into vasanas. Clusters that
// span fewer than two distinct sessions are considered unstable and
// skipped.
func (s *Svapna) crystallize(samskaras []store.Samskara) (CrystallizeResult, error) {
	res := CrystallizeResult{SamskarasProcessed: len(samskaras)}
	log := logging.Get(logging.CategorySvapna)

	var clusters []*cluster
	for _, sk := range samskaras {
		placed := false
		for _, c := range clusters {
			if c.representative.PatternType != sk.PatternType {
				continue
			}
			if bigramDice(normalizeText(c.representative.Content), normalizeText(sk.Content)) > diceThreshold {
				c.members = append(c.members, sk)
				c.sessions[sk.SessionID] = true
				if sk.Confidence > c.maxConfidence {
					c.maxConfidence = sk.Confidence
				}
				placed = true
				break
			}
		}
		if !placed {
			clusters = append(clusters, &cluster{
				representative: sk,
				members:        []store.Samskara{sk},
				sessions:       map[string]bool{sk.SessionID: true},
				maxConfidence:  sk.Confidence,
			})
		}
	}

	for _, c := range clusters {
		if len(c.sessions) < 2 {
			continue
		}
		name := slugify(c.representative.Content, 80)
		sourceIDs := make([]string, 0, len(c.members))
		for _, m := range c.members {
			sourceIDs = append(sourceIDs, m.ID)
		}

		existing, err := s.store.FindVasanaByName(s.cfg.Project, name)
		if err != nil {
			return res, fmt.Errorf("vasana lookup failed: %w", err)
		}
		if existing != nil {
			strength := existing.Strength + 0.1
			if strength > 1.0 {
				strength = 1.0
			}
			merged := mergeIDs(existing.SourceSamskaras, sourceIDs)
			if err := s.store.ReinforceVasana(existing.ID, strength, merged); err != nil {
				return res, err
			}
			res.Reinforced++
			res.Names = append(res.Names, name)
			log.Debug("reinforced vasana %s strength=%.2f", name, strength)
			continue
		}

		strength := c.maxConfidence
		if strength > 1.0 {
			strength = 1.0
		}
		n := s.cfg.MaxSessionsPerCycle
		if n < 1 {
			n = 1
		}
		v := &store.Vasana{
			Project:         s.cfg.Project,
			Name:            name,
			Description:     c.representative.Content,
			Valence:         valenceFor(c.representative.PatternType),
			Strength:        strength,
			Stability:       float64(len(c.sessions)) / float64(n),
			SourceSamskaras: sourceIDs,
			ActivationCount: 1,
		}
		if err := s.store.InsertVasana(v); err != nil {
			return res, err
		}
		// Crystallized tendencies become knowledge-graph nodes.
		_ = s.store.AddGraphNode(&store.GraphNode{
			ID:      "vasana:" + name,
			Kind:    "vasana",
			Label:   name,
			Project: s.cfg.Project,
		})
		res.Created++
		res.Names = append(res.Names, name)
		log.Debug("crystallized vasana %s from %d samskaras", name, len(c.members))
	}
	return res, nil
}

func valenceFor(patternType string) string {
	switch patternType {
	case "correction":
		return store.ValenceNegative
	case "preference", "convention":
		return store.ValencePositive
	default:
		return store.ValenceNeutral
	}
}

// normalizeText lowercases and collapses whitespace for comparison.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// bigramDice computes the Sorensen-Dice coefficient over character
// bigrams of two strings.
func bigramDice(a, b string) float64 {
	if a == b {
		return 1.0
	}
	ba, bb := bigrams(a), bigrams(b)
	if len(ba) == 0 || len(bb) == 0 {
		return 0
	}
	inter := 0
	for g, n := range ba {
		if m, ok := bb[g]; ok {
			inter += min(n, m)
		}
	}
	totalA, totalB := 0, 0
	for _, n := range ba {
		totalA += n
	}
	for _, n := range bb {
		totalB += n
	}
	return 2 * float64(inter) / float64(totalA+totalB)
}

func bigrams(s string) map[string]int {
	out := make(map[string]int)
	runes := []rune(s)
	for i := 0; i+1 < len(runes); i++ {
		out[string(runes[i:i+2])]++
	}
	return out
}

// slugify maps arbitrary text to a lowercase dashed slug capped at limit
// characters.
func slugify(s string, limit int) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	out := strings.Trim(b.String(), "-")
	if len(out) > limit {
		out = strings.Trim(out[:limit], "-")
	}
	return out
}

func mergeIDs(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, id := range append(append([]string{}, a...), b...) {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
