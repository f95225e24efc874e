// Package report renders monthly and yearly Markdown summaries of a
// project's recorded activity to a deterministic on-disk layout under
// {home}/consolidated/{projectHash}/.
package report

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"manas/internal/logging"
	"manas/internal/store"
)

// Report kinds, doubling as the per-kind subdirectory names.
const (
	KindMonthly = "monthly"
	KindYearly  = "yearly"
)

// Synthesizer writes report artifacts for one project.
type Synthesizer struct {
	store   *store.LocalStore
	home    string
	project string
}

// New builds a synthesizer rooted at home (reports land under
// home/consolidated/...).
func New(st *store.LocalStore, home, project string) *Synthesizer {
	return &Synthesizer{store: st, home: home, project: project}
}

// ProjectHash is the stable 32-bit FNV-1a hex digest of the project
// path, used as the per-project report directory name.
func ProjectHash(project string) string {
	h := fnv.New32a()
	h.Write([]byte(project))
	return fmt.Sprintf("%08x", h.Sum32())
}

// GetReportPath returns the deterministic artifact path for a report id
// ("2025-03" for monthly, "2025" for yearly).
func (s *Synthesizer) GetReportPath(kind, id string) string {
	return filepath.Join(s.home, "consolidated", ProjectHash(s.project), kind, id+".md")
}

// HasMonthlyReport reports whether the artifact for (year, month)
// already exists.
func (s *Synthesizer) HasMonthlyReport(year, month int) bool {
	_, err := os.Stat(s.GetReportPath(KindMonthly, monthID(year, month)))
	return err == nil
}

// HasYearlyReport reports whether the artifact for year already exists.
func (s *Synthesizer) HasYearlyReport(year int) bool {
	_, err := os.Stat(s.GetReportPath(KindYearly, fmt.Sprintf("%d", year)))
	return err == nil
}

// ReportInfo describes one existing artifact.
type ReportInfo struct {
	Kind string
	ID   string
	Path string
}

// ListReports enumerates existing artifacts for the project, monthly
// first, each kind sorted by id.
func (s *Synthesizer) ListReports() ([]ReportInfo, error) {
	var out []ReportInfo
	for _, kind := range []string{KindMonthly, KindYearly} {
		dir := filepath.Join(s.home, "consolidated", ProjectHash(s.project), kind)
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list %s reports: %w", kind, err)
		}
		var ids []string
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
				continue
			}
			ids = append(ids, strings.TrimSuffix(e.Name(), ".md"))
		}
		sort.Strings(ids)
		for _, id := range ids {
			out = append(out, ReportInfo{Kind: kind, ID: id, Path: filepath.Join(dir, id+".md")})
		}
	}
	return out, nil
}

func monthID(year, month int) string {
	return fmt.Sprintf("%04d-%02d", year, month)
}

// writeArtifact persists rendered Markdown with owner-only permissions.
func (s *Synthesizer) writeArtifact(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create report dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	logging.Get(logging.CategoryReport).Info("wrote report %s (%d bytes)", path, len(content))
	return nil
}

// audit appends the cycle audit row for a finished report.
func (s *Synthesizer) audit(cycleType, cycleID string, sessions int, durationMs int64) error {
	return s.store.AppendConsolidationLog(&store.ConsolidationRow{
		Project:           s.project,
		CycleType:         cycleType,
		CycleID:           cycleID,
		PhaseDurationMs:   durationMs,
		SessionsProcessed: sessions,
		Status:            store.CycleSuccess,
	})
}
