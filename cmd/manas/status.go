package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show consolidation state and recent audit rows",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		nidra, err := st.GetNidraState()
		if err != nil {
			return err
		}
		fmt.Printf("Workspace: %s\n", cfg.Workspace)
		fmt.Printf("Database:  %s\n", cfg.DatabasePath())
		fmt.Printf("Nidra:     phase=%s progress=%.0f%% (updated %s)\n",
			nidra.Phase, nidra.Progress*100, nidra.UpdatedAt.Format("2006-01-02 15:04:05"))

		sessions, err := st.RecentSessions(cfg.Svapna.Project, 5)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("\nNo sessions recorded for this project.")
			return nil
		}
		fmt.Println("\nRecent sessions:")
		for _, sess := range sessions {
			fmt.Printf("  %s  %-30.30s  %6d tok  $%.2f\n",
				sess.UpdatedAt.Format("2006-01-02"), sess.Title, sess.TotalTokens, sess.TotalCost)
		}
		return nil
	},
}
