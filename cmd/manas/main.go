package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"manas/internal/config"
	"manas/internal/logging"
)

var (
	// Global flags
	verbose   bool
	workspace string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "manas",
	Short: "manas - agent runtime with memory consolidation",
	Long: `manas is an agent runtime core: a priority task scheduler over typed
agent pools, a resilient streaming transport with circuit breaking, and
the svapna memory consolidation pipeline that distills recorded sessions
into vasanas (tendencies) and vidhis (procedures).

State lives under <workspace>/.manas; reports are written to
<home>/consolidated/<projectHash>/.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional; ignore a missing file.
		_ = godotenv.Load()

		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		if workspace == "" {
			workspace, _ = os.Getwd()
		}
		if err := logging.Initialize(workspace); err != nil {
			logger.Warn("category logging unavailable", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// loadConfig resolves the effective configuration for the workspace.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}
	if cfg.Svapna.Project == "" {
		cfg.Svapna.Project = cfg.Workspace
	}
	return cfg, nil
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "workspace root (default: current directory)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(consolidateCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(statusCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the .manas state directory and database",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.Save(); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		fmt.Printf("Initialized %s\n", cfg.ManasDir())
		fmt.Printf("  config:   %s\n", cfg.ManasDir()+"/config.json")
		fmt.Printf("  database: %s\n", cfg.DatabasePath())
		return nil
	},
}
