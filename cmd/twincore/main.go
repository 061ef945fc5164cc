package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"twincore/internal/sched"
	"twincore/internal/status"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:          "twincore",
		Short:        "Dual-core cooperative executor with a shared timer",
		Long:         "Runs a cooperative executor per core plus an interrupt-priority executor on the first core, all scheduled against one shared alarm.",
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (defaults only when empty)")
	rootCmd.AddCommand(runCmd, simCmd, reportCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (sched.Config, error) {
	cfg, err := sched.Load(configPath)
	if err != nil {
		return cfg, err
	}
	if configPath != "" {
		log.Printf("loaded %s: %d tasks, %d slots per executor", configPath, len(cfg.Tasks), cfg.TaskSlots)
	}
	return cfg, nil
}

// newStream creates the stdout printer, optionally mirroring to csvPath.
func newStream(csvPath string) (*status.Stream, error) {
	s := status.NewStream(os.Stdout, 256)
	if csvPath != "" {
		if err := s.EnableCSVLogging(csvPath); err != nil {
			return nil, fmt.Errorf("enabling csv: %w", err)
		}
	}
	return s, nil
}
