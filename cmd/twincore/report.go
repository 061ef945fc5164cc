package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"twincore/internal/status"
)

var reportCmd = &cobra.Command{
	Use:   "report <csv>",
	Short: "Summarize emission intervals from a CSV log",
	Long:  "Print per-task interval statistics and cumulative drift for a CSV log written by run or sim.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		recs, err := status.ReadCSV(f)
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[0], err)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		periods := make(map[string]time.Duration, len(cfg.Tasks))
		for _, t := range cfg.Tasks {
			periods[t.Name] = t.LogPeriod()
		}

		return status.WriteReport(cmd.OutOrStdout(), status.Analyze(recs, periods))
	},
}
