package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"manas/internal/config"
	"manas/internal/store"
	"manas/internal/svapna"
)

var (
	consolidateProject  string
	consolidateSessions int
)

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Run one svapna consolidation cycle",
	Long: `Runs the five consolidation phases (replay, recombine, crystallize,
proceduralize, compress) over the most recent sessions of a project and
reports per-phase metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if consolidateProject != "" {
			cfg.Svapna.Project = consolidateProject
		}
		if consolidateSessions > 0 {
			cfg.Svapna.MaxSessionsPerCycle = consolidateSessions
		}

		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		runner := svapna.New(st, cfg.Svapna)
		res, err := runner.Run(ctx, func(phase string, completed, total int) {
			fmt.Printf("  [%d/%d] %s\n", completed, total, phase)
		})
		if err != nil {
			return fmt.Errorf("consolidation failed: %w", err)
		}

		logger.Info("cycle finished",
			zap.String("cycle", res.CycleID),
			zap.Int("sessions", res.SessionsProcessed),
			zap.Int64("duration_ms", res.DurationMs))

		fmt.Printf("\nCycle %s (%d sessions, %dms)\n", res.CycleID, res.SessionsProcessed, res.DurationMs)
		fmt.Printf("  replay:        %d turns scored, %d high-surprise\n", res.Replay.TurnsScored, res.Replay.HighSurpriseTurns)
		fmt.Printf("  recombine:     %d associations across %d session pairs\n", res.Recombine.Associations, res.Recombine.SessionPairs)
		fmt.Printf("  crystallize:   %d created, %d reinforced (%d samskaras)\n",
			res.Crystallize.Created, res.Crystallize.Reinforced, res.Crystallize.SamskarasProcessed)
		fmt.Printf("  proceduralize: %d vidhis from %d candidates\n", res.Proceduralize.VidhisCreated, res.Proceduralize.Candidates)
		fmt.Printf("  compress:      %d -> %d tokens (ratio %.2f)\n",
			res.Compress.TotalOriginalTokens, res.Compress.CompressedTokens, res.Compress.CompressionRatio)
		return nil
	},
}

func init() {
	consolidateCmd.Flags().StringVar(&consolidateProject, "project", "", "project path to consolidate (default: workspace)")
	consolidateCmd.Flags().IntVar(&consolidateSessions, "sessions", 0, "max sessions per cycle (default: 50)")
}

// openStore opens the workspace database with migrations applied.
func openStore(cfg *config.Config) (*store.LocalStore, error) {
	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return st, nil
}
