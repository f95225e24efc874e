package svapna

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"manas/internal/logging"
	"manas/internal/store"
)

// ProceduralizeResult summarizes vidhi extraction.
type ProceduralizeResult struct {
	Candidates    int
	VidhisCreated int
	Names         []string
}

const (
	maxSequenceLength = 6
	minVidhiSessions  = 3
	maxSchemaExamples = 3
)

// sessionTrace is one session's flattened tool-call history.
type sessionTrace struct {
	sessionID   string
	names       []string
	args        []map[string]any
	successRate float64
}

// occurrence is one sighting of an n-gram inside a session trace.
type occurrence struct {
	sessionID string
	args      []map[string]any // one entry per n-gram position
}

// proceduralize mines repeated tool-call n-grams across sessions and
// anti-unifies their arguments into parameterized vidhis.
func (s *Svapna) proceduralize(sessions []sessionData) (ProceduralizeResult, error) {
	var res ProceduralizeResult
	log := logging.Get(logging.CategorySvapna)

	traces := buildTraces(sessions)

	minLen := s.cfg.MinSequenceLength
	if minLen < 2 {
		minLen = 2
	}

	grams := make(map[string][]occurrence)
	var gramOrder []string
	for _, tr := range traces {
		for size := minLen; size <= maxSequenceLength; size++ {
			for start := 0; start+size <= len(tr.names); start++ {
				key := strings.Join(tr.names[start:start+size], "|")
				if _, seen := grams[key]; !seen {
					gramOrder = append(gramOrder, key)
				}
				grams[key] = append(grams[key], occurrence{
					sessionID: tr.sessionID,
					args:      tr.args[start : start+size],
				})
			}
		}
	}

	successOf := make(map[string]float64, len(traces))
	for _, tr := range traces {
		successOf[tr.sessionID] = tr.successRate
	}

	n := s.cfg.MaxSessionsPerCycle
	if n < 1 {
		n = 1
	}

	for _, key := range gramOrder {
		occs := grams[key]
		contributing := make(map[string]bool)
		for _, o := range occs {
			contributing[o.sessionID] = true
		}
		if len(contributing) < minVidhiSessions {
			continue
		}
		avgSuccess := 0.0
		for sessionID := range contributing {
			avgSuccess += successOf[sessionID]
		}
		avgSuccess /= float64(len(contributing))
		if avgSuccess < s.cfg.MinSuccessRate {
			continue
		}
		res.Candidates++

		names := strings.Split(key, "|")
		vidhiName := strings.Join(names, "-then-")
		vidhiID := "vidhi-" + hash32(s.cfg.Project+":"+vidhiName)
		exists, err := s.store.VidhiExists(vidhiID)
		if err != nil {
			return res, err
		}
		if exists {
			continue
		}

		steps, schema := antiUnify(names, occs)
		confidence := avgSuccess * float64(len(contributing)) / float64(n)
		if confidence > 1.0 {
			confidence = 1.0
		}
		sourceSessions := make([]string, 0, len(contributing))
		for sessionID := range contributing {
			sourceSessions = append(sourceSessions, sessionID)
		}
		sort.Strings(sourceSessions)

		v := &store.Vidhi{
			ID:             vidhiID,
			Project:        s.cfg.Project,
			Name:           vidhiName,
			Steps:          steps,
			ParamSchema:    schema,
			Triggers:       triggersFor(names),
			SuccessRate:    avgSuccess,
			SuccessCount:   len(contributing),
			SourceSessions: sourceSessions,
			Confidence:     confidence,
		}
		if err := s.store.InsertVidhi(v); err != nil {
			return res, err
		}
		res.VidhisCreated++
		res.Names = append(res.Names, vidhiName)
		log.Debug("mined vidhi %s from %d sessions (avg success %.2f)", vidhiName, len(contributing), avgSuccess)
	}
	return res, nil
}

func buildTraces(sessions []sessionData) []sessionTrace {
	var out []sessionTrace
	for _, sd := range sessions {
		tr := sessionTrace{sessionID: sd.Session.ID}
		ok, total := 0, 0
		for _, turn := range sd.Turns {
			for _, call := range turn.ToolCalls {
				tr.names = append(tr.names, call.Name)
				var parsed map[string]any
				if len(call.Args) > 0 {
					_ = json.Unmarshal(call.Args, &parsed)
				}
				tr.args = append(tr.args, parsed)
				total++
				if !call.IsError {
					ok++
				}
			}
		}
		if total > 0 {
			tr.successRate = float64(ok) / float64(total)
		}
		if len(tr.names) > 0 {
			out = append(out, tr)
		}
	}
	return out
}

// antiUnify folds all observed argument objects position-by-position:
// keys whose values agree across every occurrence stay constant, the
// rest become ${stepN_param_key} placeholders with a schema entry.
func antiUnify(names []string, occs []occurrence) ([]store.VidhiStep, map[string]store.ParamSpec) {
	steps := make([]store.VidhiStep, len(names))
	schema := make(map[string]store.ParamSpec)

	for pos, tool := range names {
		template := make(map[string]any)

		keys := make(map[string]bool)
		for _, o := range occs {
			for k := range o.args[pos] {
				keys[k] = true
			}
		}
		sortedKeys := make([]string, 0, len(keys))
		for k := range keys {
			sortedKeys = append(sortedKeys, k)
		}
		sort.Strings(sortedKeys)

		for _, k := range sortedKeys {
			var values []any
			present := 0
			for _, o := range occs {
				if v, ok := o.args[pos][k]; ok {
					values = append(values, v)
					present++
				}
			}
			constant := present == len(occs)
			for i := 1; constant && i < len(values); i++ {
				if !reflect.DeepEqual(values[0], values[i]) {
					constant = false
				}
			}
			if constant {
				template[k] = values[0]
				continue
			}

			paramName := fmt.Sprintf("step%d_param_%s", pos, k)
			template[k] = "${" + paramName + "}"
			schema[paramName] = store.ParamSpec{
				Type:     inferType(values),
				Required: present == len(occs),
				Examples: exampleStrings(values),
			}
		}

		raw, _ := json.Marshal(template)
		steps[pos] = store.VidhiStep{
			Index:    pos,
			Tool:     tool,
			Args:     raw,
			Critical: pos == 0,
		}
	}
	return steps, schema
}

func inferType(values []any) string {
	for _, v := range values {
		switch v.(type) {
		case float64:
			return "number"
		case bool:
			return "boolean"
		case string:
			return "string"
		case []any:
			return "array"
		case map[string]any:
			return "object"
		}
	}
	return "string"
}

func exampleStrings(values []any) []string {
	var out []string
	seen := make(map[string]bool)
	for _, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			continue
		}
		s := string(raw)
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
		if len(out) == maxSchemaExamples {
			break
		}
	}
	return out
}

// triggersFor derives natural-language trigger phrases for a mined tool
// sequence.
func triggersFor(names []string) []string {
	triggers := []string{strings.Join(names, " then ")}
	if len(names) >= 2 {
		triggers = append(triggers, names[0]+" and "+names[1])
	}

	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[strings.ToLower(n)] = true
	}
	if set["read"] && set["edit"] {
		triggers = append(triggers, "modify file", "update file")
	}
	if set["grep"] || set["find"] {
		triggers = append(triggers, "search codebase", "find in code")
	}
	if set["bash"] {
		triggers = append(triggers, "run command", "execute")
	}
	if set["write"] {
		triggers = append(triggers, "create file", "write file")
	}
	return triggers
}
