package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"manas/internal/logging"

	"github.com/google/uuid"
)

// Session is one recorded agent session.
type Session struct {
	ID          string
	Project     string
	Title       string
	TotalTokens int
	TotalCost   float64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ToolCall is one tool invocation recorded on a turn.
type ToolCall struct {
	Name    string          `json:"name"`
	Args    json.RawMessage `json:"args,omitempty"`
	Output  string          `json:"output,omitempty"`
	IsError bool            `json:"is_error,omitempty"`
}

// Turn is one conversation turn within a session.
type Turn struct {
	ID         string
	SessionID  string
	TurnNumber int
	Role       string
	Content    string
	ToolCalls  []ToolCall
	CreatedAt  time.Time
}

// InsertSession stores a session. A zero ID gets a generated one; zero
// timestamps default to now. Times are normalized to UTC so window
// queries compare consistently.
func (s *LocalStore) InsertSession(sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = sess.CreatedAt
	}

	_, err := s.db.Exec(
		`INSERT INTO sessions (id, project, title, total_tokens, total_cost, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Project, sess.Title, sess.TotalTokens, sess.TotalCost,
		sess.CreatedAt.UTC(), sess.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert session %s: %w", sess.ID, err)
	}
	logging.StoreDebug("Inserted session %s project=%s", sess.ID, sess.Project)
	return nil
}

// TouchSession bumps updated_at and accumulates token/cost totals.
func (s *LocalStore) TouchSession(id string, tokens int, cost float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`UPDATE sessions SET total_tokens = total_tokens + ?, total_cost = total_cost + ?, updated_at = ? WHERE id = ?`,
		tokens, cost, time.Now().UTC(), id,
	)
	return err
}

// RecentSessions returns the n most recently updated sessions for a
// project, newest first.
func (s *LocalStore) RecentSessions(project string, n int) ([]Session, error) {
	timer := logging.StartTimer(logging.CategoryStore, "RecentSessions")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 {
		n = 50
	}
	rows, err := s.db.Query(
		`SELECT id, project, title, total_tokens, total_cost, created_at, updated_at
		 FROM sessions WHERE project = ? ORDER BY updated_at DESC LIMIT ?`,
		project, n,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent sessions: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

// SessionsInWindow returns sessions created in [start, end), ordered by
// creation time. Boundaries are half-open: a session created exactly at
// start is included, one at end is not.
func (s *LocalStore) SessionsInWindow(project string, start, end time.Time) ([]Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, project, title, total_tokens, total_cost, created_at, updated_at
		 FROM sessions WHERE project = ? AND created_at >= ? AND created_at < ?
		 ORDER BY created_at`,
		project, start.UTC(), end.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query session window: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

func scanSessions(rows *sql.Rows) ([]Session, error) {
	var out []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.Project, &sess.Title, &sess.TotalTokens,
			&sess.TotalCost, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// AppendTurn stores a turn. Tool calls are serialized as JSON.
func (s *LocalStore) AppendTurn(turn *Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	if turn.Role == "" {
		turn.Role = "assistant"
	}
	calls, err := json.Marshal(turn.ToolCalls)
	if err != nil {
		return fmt.Errorf("failed to marshal tool calls: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT OR IGNORE INTO turns (id, session_id, turn_number, role, content, tool_calls, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		turn.ID, turn.SessionID, turn.TurnNumber, turn.Role, turn.Content, string(calls), turn.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append turn: %w", err)
	}
	return nil
}

// TurnsForSession returns a session's turns ordered by creation.
func (s *LocalStore) TurnsForSession(sessionID string) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, session_id, turn_number, role, content, tool_calls, created_at
		 FROM turns WHERE session_id = ? ORDER BY turn_number`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns for %s: %w", sessionID, err)
	}
	defer rows.Close()
	return scanTurns(rows)
}

// TurnsInWindow returns all turns belonging to the project whose parent
// session was created in [start, end).
func (s *LocalStore) TurnsInWindow(project string, start, end time.Time) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT t.id, t.session_id, t.turn_number, t.role, t.content, t.tool_calls, t.created_at
		 FROM turns t JOIN sessions s ON s.id = t.session_id
		 WHERE s.project = ? AND s.created_at >= ? AND s.created_at < ?
		 ORDER BY t.session_id, t.turn_number`,
		project, start.UTC(), end.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query turn window: %w", err)
	}
	defer rows.Close()
	return scanTurns(rows)
}

func scanTurns(rows *sql.Rows) ([]Turn, error) {
	var out []Turn
	for rows.Next() {
		var t Turn
		var callsJSON string
		if err := rows.Scan(&t.ID, &t.SessionID, &t.TurnNumber, &t.Role, &t.Content, &callsJSON, &t.CreatedAt); err != nil {
			return nil, err
		}
		if callsJSON != "" && callsJSON != "null" {
			if err := json.Unmarshal([]byte(callsJSON), &t.ToolCalls); err != nil {
				// Malformed rows are skipped rather than failing the batch.
				logging.Get(logging.CategoryStore).Warn("bad tool_calls JSON on turn %s: %v", t.ID, err)
			}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
