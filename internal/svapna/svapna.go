package svapna

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"manas/internal/config"
	"manas/internal/logging"
	"manas/internal/store"
)

// Svapna runs consolidation cycles against the local store.
type Svapna struct {
	store *store.LocalStore
	cfg   config.SvapnaConfig
}

// New builds a consolidation runner. Zero config fields fall back to the
// documented defaults.
func New(st *store.LocalStore, cfg config.SvapnaConfig) *Svapna {
	def := config.DefaultSvapnaConfig()
	if cfg.MaxSessionsPerCycle <= 0 {
		cfg.MaxSessionsPerCycle = def.MaxSessionsPerCycle
	}
	if cfg.SurpriseThreshold <= 0 {
		cfg.SurpriseThreshold = def.SurpriseThreshold
	}
	if cfg.MinPatternFrequency <= 0 {
		cfg.MinPatternFrequency = def.MinPatternFrequency
	}
	if cfg.MinSequenceLength <= 0 {
		cfg.MinSequenceLength = def.MinSequenceLength
	}
	if cfg.MinSuccessRate <= 0 {
		cfg.MinSuccessRate = def.MinSuccessRate
	}
	return &Svapna{store: st, cfg: cfg}
}

// ProgressFunc observes phase completion: completed out of total phases.
type ProgressFunc func(phase string, completed, total int)

// Result carries per-phase metrics for one cycle.
type Result struct {
	CycleID           string
	SessionsProcessed int
	DurationMs        int64

	Replay struct {
		TurnsScored       int
		HighSurpriseTurns int
		DurationMs        int64
	}
	Recombine struct {
		Associations int
		SessionPairs int
		DurationMs   int64
	}
	Crystallize struct {
		Created            int
		Reinforced         int
		SamskarasProcessed int
		DurationMs         int64
	}
	Proceduralize struct {
		Candidates    int
		VidhisCreated int
		Names         []string
		DurationMs    int64
	}
	Compress struct {
		TotalOriginalTokens int
		CompressedTokens    int
		CompressionRatio    float64
		DurationMs          int64
	}
}

const totalPhases = 5

// Run executes one full consolidation cycle. The cycle is audited with a
// running row up front and a success or failed row at the end, and the
// nidra singleton tracks phase progress throughout.
func (s *Svapna) Run(ctx context.Context, onProgress ProgressFunc) (*Result, error) {
	log := logging.Get(logging.CategorySvapna)
	started := time.Now()
	res := &Result{CycleID: "svapna-" + started.UTC().Format("20060102-150405")}

	if err := s.store.AppendConsolidationLog(&store.ConsolidationRow{
		Project:   s.cfg.Project,
		CycleType: store.CycleSvapna,
		CycleID:   res.CycleID,
		Status:    store.CycleRunning,
	}); err != nil {
		return nil, err
	}
	_ = s.store.UpdateNidraState("replay", 0)

	runErr := s.runPhases(ctx, res, onProgress)

	res.DurationMs = time.Since(started).Milliseconds()
	status := store.CycleSuccess
	if runErr != nil {
		status = store.CycleFailed
		log.Error("cycle %s failed: %v", res.CycleID, runErr)
	}
	if err := s.store.AppendConsolidationLog(&store.ConsolidationRow{
		Project:            s.cfg.Project,
		CycleType:          store.CycleSvapna,
		CycleID:            res.CycleID,
		PhaseDurationMs:    res.DurationMs,
		VasanasCreated:     res.Crystallize.Created,
		VidhisCreated:      res.Proceduralize.VidhisCreated,
		SamskarasProcessed: res.Crystallize.SamskarasProcessed,
		SessionsProcessed:  res.SessionsProcessed,
		Status:             status,
	}); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		return res, runErr
	}
	_ = s.store.UpdateNidraState("complete", 1)
	log.Info("cycle %s: %d sessions, %d vasanas, %d vidhis in %dms",
		res.CycleID, res.SessionsProcessed, res.Crystallize.Created,
		res.Proceduralize.VidhisCreated, res.DurationMs)
	return res, nil
}

func (s *Svapna) runPhases(ctx context.Context, res *Result, onProgress ProgressFunc) error {
	sessions, err := s.loadSessions(ctx)
	if err != nil {
		return fmt.Errorf("session load failed: %w", err)
	}
	res.SessionsProcessed = len(sessions)

	step := func(phase string, completed int) error {
		_ = s.store.UpdateNidraState(phase, float64(completed)/totalPhases)
		if onProgress != nil {
			onProgress(phase, completed, totalPhases)
		}
		return ctx.Err()
	}

	// REPLAY
	t := time.Now()
	replayRes := replay(sessions, s.cfg.SurpriseThreshold)
	res.Replay.TurnsScored = len(replayRes.Scores)
	res.Replay.HighSurpriseTurns = len(replayRes.HighSurprise)
	res.Replay.DurationMs = time.Since(t).Milliseconds()
	if err := step("replay", 1); err != nil {
		return err
	}

	// RECOMBINE
	t = time.Now()
	recombineRes := recombine(sessions, replayRes.HighSurprise)
	res.Recombine.Associations = len(recombineRes.Associations)
	res.Recombine.SessionPairs = recombineRes.SessionPairs
	res.Recombine.DurationMs = time.Since(t).Milliseconds()
	s.linkAssociations(recombineRes.Associations)
	if err := step("recombine", 2); err != nil {
		return err
	}

	// CRYSTALLIZE
	t = time.Now()
	samskaras, err := s.store.SamskarasForCrystallization(s.cfg.Project, s.cfg.MinPatternFrequency, 0.5)
	if err != nil {
		return fmt.Errorf("samskara load failed: %w", err)
	}
	crystRes, err := s.crystallize(samskaras)
	res.Crystallize.Created = crystRes.Created
	res.Crystallize.Reinforced = crystRes.Reinforced
	res.Crystallize.SamskarasProcessed = crystRes.SamskarasProcessed
	res.Crystallize.DurationMs = time.Since(t).Milliseconds()
	if err != nil {
		return fmt.Errorf("crystallize failed: %w", err)
	}
	if err := step("crystallize", 3); err != nil {
		return err
	}

	// PROCEDURALIZE
	t = time.Now()
	procRes, err := s.proceduralize(sessions)
	res.Proceduralize.Candidates = procRes.Candidates
	res.Proceduralize.VidhisCreated = procRes.VidhisCreated
	res.Proceduralize.Names = procRes.Names
	res.Proceduralize.DurationMs = time.Since(t).Milliseconds()
	if err != nil {
		return fmt.Errorf("proceduralize failed: %w", err)
	}
	if err := step("proceduralize", 4); err != nil {
		return err
	}

	// COMPRESS
	t = time.Now()
	var allTurns []store.Turn
	for _, sd := range sessions {
		allTurns = append(allTurns, sd.Turns...)
	}
	compressRes := compress(allTurns, time.Now())
	res.Compress.TotalOriginalTokens = compressRes.TotalOriginalTokens
	res.Compress.CompressedTokens = compressRes.CompressedTokens
	res.Compress.CompressionRatio = compressRes.CompressionRatio
	res.Compress.DurationMs = time.Since(t).Milliseconds()
	return step("compress", 5)
}

// loadSessions fetches the N most recent sessions and their turns. Turn
// loads fan out across a bounded worker group.
func (s *Svapna) loadSessions(ctx context.Context) ([]sessionData, error) {
	sessions, err := s.store.RecentSessions(s.cfg.Project, s.cfg.MaxSessionsPerCycle)
	if err != nil {
		return nil, err
	}

	out := make([]sessionData, len(sessions))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, sess := range sessions {
		i, sess := i, sess
		g.Go(func() error {
			turns, err := s.store.TurnsForSession(sess.ID)
			if err != nil {
				return err
			}
			out[i] = sessionData{Session: sess, Turns: turns}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// linkAssociations records recombination hits as knowledge-graph edges
// between session nodes.
func (s *Svapna) linkAssociations(assocs []Association) {
	for _, a := range assocs {
		_ = s.store.AddGraphNode(&store.GraphNode{
			ID: "session:" + a.AnchorSessionID, Kind: "session",
			Label: a.AnchorSessionID, Project: s.cfg.Project,
		})
		_ = s.store.AddGraphNode(&store.GraphNode{
			ID: "session:" + a.MatchedSessionID, Kind: "session",
			Label: a.MatchedSessionID, Project: s.cfg.Project,
		})
		_ = s.store.AddGraphEdge(&store.GraphEdge{
			ID:      fmt.Sprintf("recomb:%s:%s", a.AnchorTurnID, a.MatchedSessionID),
			FromID:  "session:" + a.AnchorSessionID,
			ToID:    "session:" + a.MatchedSessionID,
			Kind:    "recombination",
			Weight:  a.Similarity,
			Project: s.cfg.Project,
		})
	}
}
