package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"manas/internal/logging"

	"github.com/google/uuid"
)

// Samskara is a raw observed pattern.
type Samskara struct {
	ID               string
	Project          string // empty = global
	PatternType      string // correction, preference, convention, ...
	Content          string
	ObservationCount int
	Confidence       float64
	SessionID        string
	CreatedAt        time.Time
}

// Valence labels a vasana's behavioral direction.
const (
	ValencePositive = "positive"
	ValenceNegative = "negative"
	ValenceNeutral  = "neutral"
)

// Vasana is a crystallized behavioral tendency.
type Vasana struct {
	ID              string
	Project         string
	Name            string
	Description     string
	Valence         string
	Strength        float64
	Stability       float64
	SourceSamskaras []string
	ActivationCount int
	LastActivated   time.Time
	CreatedAt       time.Time
}

// VidhiStep is one step of a mined procedure.
type VidhiStep struct {
	Index    int             `json:"index"`
	Tool     string          `json:"tool"`
	Args     json.RawMessage `json:"args"` // argument template with ${...} placeholders
	Critical bool            `json:"critical"`
}

// ParamSpec describes one inferred parameter of a vidhi.
type ParamSpec struct {
	Type     string   `json:"type"` // number, boolean, string, array, object
	Required bool     `json:"required"`
	Examples []string `json:"examples,omitempty"`
}

// Vidhi is a parameterized procedure mined from repeated tool sequences.
type Vidhi struct {
	ID             string
	Project        string
	Name           string
	Steps          []VidhiStep
	ParamSchema    map[string]ParamSpec
	Triggers       []string
	SuccessRate    float64
	SuccessCount   int
	FailureCount   int
	SourceSessions []string
	Confidence     float64
	CreatedAt      time.Time
}

// -----------------------------------------------------------------------------
// Samskaras
// -----------------------------------------------------------------------------

// InsertSamskara stores a raw pattern observation.
func (s *LocalStore) InsertSamskara(sk *Samskara) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sk.ID == "" {
		sk.ID = uuid.NewString()
	}
	if sk.CreatedAt.IsZero() {
		sk.CreatedAt = time.Now().UTC()
	}
	if sk.ObservationCount <= 0 {
		sk.ObservationCount = 1
	}

	_, err := s.db.Exec(
		`INSERT INTO samskaras (id, project, pattern_type, content, observation_count, confidence, session_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sk.ID, nullable(sk.Project), sk.PatternType, sk.Content, sk.ObservationCount, sk.Confidence, sk.SessionID, sk.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert samskara: %w", err)
	}
	return nil
}

// SamskarasForCrystallization loads samskaras whose project matches or is
// null, with at least minObs observations and confidence above minConf.
func (s *LocalStore) SamskarasForCrystallization(project string, minObs int, minConf float64) ([]Samskara, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, COALESCE(project, ''), pattern_type, content, observation_count, confidence, session_id, created_at
		 FROM samskaras
		 WHERE (project = ? OR project IS NULL) AND observation_count >= ? AND confidence > ?
		 ORDER BY confidence DESC`,
		project, minObs, minConf,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query samskaras: %w", err)
	}
	defer rows.Close()
	return scanSamskaras(rows)
}

// TopSamskarasInWindow returns samskaras created in [start, end) ordered
// by confidence, best first.
func (s *LocalStore) TopSamskarasInWindow(project string, start, end time.Time, limit int) ([]Samskara, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(
		`SELECT id, COALESCE(project, ''), pattern_type, content, observation_count, confidence, session_id, created_at
		 FROM samskaras
		 WHERE (project = ? OR project IS NULL) AND created_at >= ? AND created_at < ?
		 ORDER BY confidence DESC LIMIT ?`,
		project, start.UTC(), end.UTC(), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSamskaras(rows)
}

func scanSamskaras(rows *sql.Rows) ([]Samskara, error) {
	var out []Samskara
	for rows.Next() {
		var sk Samskara
		if err := rows.Scan(&sk.ID, &sk.Project, &sk.PatternType, &sk.Content,
			&sk.ObservationCount, &sk.Confidence, &sk.SessionID, &sk.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, sk)
	}
	return out, rows.Err()
}

// -----------------------------------------------------------------------------
// Vasanas
// -----------------------------------------------------------------------------

// FindVasanaByName looks up a vasana by name within a project scope
// (project match or null project). Returns nil when absent.
func (s *LocalStore) FindVasanaByName(project, name string) (*Vasana, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		`SELECT id, COALESCE(project, ''), name, description, valence, strength, stability,
		        source_samskaras, activation_count, last_activated, created_at
		 FROM vasanas WHERE name = ? AND (project = ? OR project IS NULL) LIMIT 1`,
		name, project,
	)
	v, err := scanVasana(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return v, err
}

// InsertVasana stores a newly crystallized vasana.
func (s *LocalStore) InsertVasana(v *Vasana) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	if v.LastActivated.IsZero() {
		v.LastActivated = v.CreatedAt
	}
	sources, _ := json.Marshal(v.SourceSamskaras)

	_, err := s.db.Exec(
		`INSERT INTO vasanas (id, project, name, description, valence, strength, stability,
		                      source_samskaras, activation_count, last_activated, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, nullable(v.Project), v.Name, v.Description, v.Valence, v.Strength, v.Stability,
		string(sources), v.ActivationCount, v.LastActivated.UTC(), v.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert vasana %s: %w", v.Name, err)
	}
	logging.StoreDebug("Inserted vasana %s strength=%.2f", v.Name, v.Strength)
	return nil
}

// ReinforceVasana strengthens an existing vasana: bumps strength and the
// activation counter, refreshes last_activated, and merges source ids.
func (s *LocalStore) ReinforceVasana(id string, strength float64, sourceIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sources, _ := json.Marshal(sourceIDs)
	_, err := s.db.Exec(
		`UPDATE vasanas SET strength = ?, activation_count = activation_count + 1,
		        last_activated = ?, source_samskaras = ? WHERE id = ?`,
		strength, time.Now().UTC(), string(sources), id,
	)
	if err != nil {
		return fmt.Errorf("failed to reinforce vasana %s: %w", id, err)
	}
	return nil
}

// VasanasCreatedInWindow returns vasanas created in [start, end).
func (s *LocalStore) VasanasCreatedInWindow(project string, start, end time.Time) ([]Vasana, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, COALESCE(project, ''), name, description, valence, strength, stability,
		        source_samskaras, activation_count, last_activated, created_at
		 FROM vasanas
		 WHERE (project = ? OR project IS NULL) AND created_at >= ? AND created_at < ?
		 ORDER BY strength DESC`,
		project, start.UTC(), end.UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Vasana
	for rows.Next() {
		v, err := scanVasanaRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

type rowScanner interface{ Scan(dest ...any) error }

func scanVasana(row rowScanner) (*Vasana, error) {
	var v Vasana
	var sources string
	var lastActivated sql.NullTime
	if err := row.Scan(&v.ID, &v.Project, &v.Name, &v.Description, &v.Valence,
		&v.Strength, &v.Stability, &sources, &v.ActivationCount, &lastActivated, &v.CreatedAt); err != nil {
		return nil, err
	}
	v.LastActivated = v.CreatedAt
	if lastActivated.Valid {
		v.LastActivated = lastActivated.Time
	}
	_ = json.Unmarshal([]byte(sources), &v.SourceSamskaras)
	return &v, nil
}

func scanVasanaRows(rows *sql.Rows) (*Vasana, error) { return scanVasana(rows) }

// -----------------------------------------------------------------------------
// Vidhis
// -----------------------------------------------------------------------------

// VidhiExists reports whether a vidhi with the derived id is already
// stored.
func (s *LocalStore) VidhiExists(id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found string
	err := s.db.QueryRow(`SELECT id FROM vidhis WHERE id = ?`, id).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// InsertVidhi stores a mined procedure.
func (s *LocalStore) InsertVidhi(v *Vidhi) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	steps, _ := json.Marshal(v.Steps)
	schema, _ := json.Marshal(v.ParamSchema)
	triggers, _ := json.Marshal(v.Triggers)
	sources, _ := json.Marshal(v.SourceSessions)

	_, err := s.db.Exec(
		`INSERT INTO vidhis (id, project, name, steps, param_schema, triggers, success_rate,
		                     success_count, failure_count, source_sessions, confidence, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, nullable(v.Project), v.Name, string(steps), string(schema), string(triggers),
		v.SuccessRate, v.SuccessCount, v.FailureCount, string(sources), v.Confidence, v.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert vidhi %s: %w", v.Name, err)
	}
	logging.StoreDebug("Inserted vidhi %s (%d steps)", v.Name, len(v.Steps))
	return nil
}

// VidhisCreatedInWindow returns vidhis created in [start, end).
func (s *LocalStore) VidhisCreatedInWindow(project string, start, end time.Time) ([]Vidhi, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, COALESCE(project, ''), name, steps, param_schema, triggers, success_rate,
		        success_count, failure_count, source_sessions, confidence, created_at
		 FROM vidhis
		 WHERE (project = ? OR project IS NULL) AND created_at >= ? AND created_at < ?
		 ORDER BY success_rate DESC`,
		project, start.UTC(), end.UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Vidhi
	for rows.Next() {
		var v Vidhi
		var steps, schema, triggers, sources string
		if err := rows.Scan(&v.ID, &v.Project, &v.Name, &steps, &schema, &triggers,
			&v.SuccessRate, &v.SuccessCount, &v.FailureCount, &sources, &v.Confidence, &v.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(steps), &v.Steps)
		_ = json.Unmarshal([]byte(schema), &v.ParamSchema)
		_ = json.Unmarshal([]byte(triggers), &v.Triggers)
		_ = json.Unmarshal([]byte(sources), &v.SourceSessions)
		out = append(out, v)
	}
	return out, rows.Err()
}

// nullable maps "" to NULL so project scoping treats empty as global.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
