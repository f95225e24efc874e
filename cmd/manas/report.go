package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"manas/internal/report"
)

var reportProject string

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate and list consolidated reports",
}

var reportMonthlyCmd = &cobra.Command{
	Use:   "monthly YYYY-MM",
	Short: "Write the monthly report for a period",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		year, month, err := parseMonth(args[0])
		if err != nil {
			return err
		}
		syn, st, err := newSynthesizer()
		if err != nil {
			return err
		}
		defer st.Close()

		path, err := syn.Monthly(year, month)
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	},
}

var reportYearlyCmd = &cobra.Command{
	Use:   "yearly YYYY",
	Short: "Write the yearly report for a year",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		year, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid year %q", args[0])
		}
		syn, st, err := newSynthesizer()
		if err != nil {
			return err
		}
		defer st.Close()

		path, err := syn.Yearly(year)
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	},
}

var reportListCmd = &cobra.Command{
	Use:   "list",
	Short: "List existing report artifacts",
	RunE: func(cmd *cobra.Command, args []string) error {
		syn, st, err := newSynthesizer()
		if err != nil {
			return err
		}
		defer st.Close()

		reports, err := syn.ListReports()
		if err != nil {
			return err
		}
		if len(reports) == 0 {
			fmt.Println("No reports yet.")
			return nil
		}
		for _, r := range reports {
			fmt.Printf("%-8s %-8s %s\n", r.Kind, r.ID, r.Path)
		}
		return nil
	},
}

func newSynthesizer() (*report.Synthesizer, interface{ Close() error }, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if reportProject != "" {
		cfg.Svapna.Project = reportProject
	}
	st, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	return report.New(st, cfg.ReportHome(), cfg.Svapna.Project), st, nil
}

func parseMonth(s string) (int, int, error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected YYYY-MM, got %q", s)
	}
	year, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid year in %q", s)
	}
	month, err := strconv.Atoi(parts[1])
	if err != nil || month < 1 || month > 12 {
		return 0, 0, fmt.Errorf("invalid month in %q", s)
	}
	return year, month, nil
}

func init() {
	reportCmd.PersistentFlags().StringVar(&reportProject, "project", "", "project path (default: workspace)")
	reportCmd.AddCommand(reportMonthlyCmd)
	reportCmd.AddCommand(reportYearlyCmd)
	reportCmd.AddCommand(reportListCmd)
}
