package store

import (
	"fmt"
	"time"

	"manas/internal/logging"
)

// Cycle types recorded in the consolidation log.
const (
	CycleSvapna  = "svapna"
	CycleMonthly = "monthly"
	CycleYearly  = "yearly"
)

// Cycle statuses.
const (
	CycleRunning = "running"
	CycleSuccess = "success"
	CycleFailed  = "failed"
)

// ConsolidationRow is one audit row in the consolidation log.
type ConsolidationRow struct {
	ID                 int64
	Project            string
	CycleType          string
	CycleID            string
	Phase              string // empty = whole-cycle row
	PhaseDurationMs    int64
	VasanasCreated     int
	VidhisCreated      int
	SamskarasProcessed int
	SessionsProcessed  int
	Status             string
	CreatedAt          time.Time
}

// AppendConsolidationLog writes an audit row.
func (s *LocalStore) AppendConsolidationLog(row *ConsolidationRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.Exec(
		`INSERT INTO consolidation_log (project, cycle_type, cycle_id, phase, phase_duration_ms,
		        vasanas_created, vidhis_created, samskaras_processed, sessions_processed, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.Project, row.CycleType, row.CycleID, nullable(row.Phase), row.PhaseDurationMs,
		row.VasanasCreated, row.VidhisCreated, row.SamskarasProcessed, row.SessionsProcessed,
		row.Status, row.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append consolidation log: %w", err)
	}
	row.ID, _ = res.LastInsertId()
	logging.StoreDebug("Audit row: cycle=%s phase=%q status=%s", row.CycleID, row.Phase, row.Status)
	return nil
}

// ConsolidationRowsForCycle returns audit rows for a cycle id in write
// order.
func (s *LocalStore) ConsolidationRowsForCycle(cycleID string) ([]ConsolidationRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, project, cycle_type, cycle_id, COALESCE(phase, ''), phase_duration_ms,
		        vasanas_created, vidhis_created, samskaras_processed, sessions_processed, status, created_at
		 FROM consolidation_log WHERE cycle_id = ? ORDER BY id`,
		cycleID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ConsolidationRow
	for rows.Next() {
		var r ConsolidationRow
		if err := rows.Scan(&r.ID, &r.Project, &r.CycleType, &r.CycleID, &r.Phase, &r.PhaseDurationMs,
			&r.VasanasCreated, &r.VidhisCreated, &r.SamskarasProcessed, &r.SessionsProcessed,
			&r.Status, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// NidraState is the singleton consolidation progress row.
type NidraState struct {
	Phase     string
	Progress  float64 // [0, 1]
	UpdatedAt time.Time
}

// UpdateNidraState records the current consolidation phase and progress.
func (s *LocalStore) UpdateNidraState(phase string, progress float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	_, err := s.db.Exec(
		`UPDATE nidra_state SET consolidation_phase = ?, consolidation_progress = ?, updated_at = ? WHERE id = 1`,
		phase, progress, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to update nidra_state: %w", err)
	}
	return nil
}

// GetNidraState reads the singleton row.
func (s *LocalStore) GetNidraState() (*NidraState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st NidraState
	err := s.db.QueryRow(
		`SELECT consolidation_phase, consolidation_progress, updated_at FROM nidra_state WHERE id = 1`,
	).Scan(&st.Phase, &st.Progress, &st.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to read nidra_state: %w", err)
	}
	return &st, nil
}
