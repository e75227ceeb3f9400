package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/remediator/internal/monitor"
)

var (
	monitorURL      string
	monitorInterval time.Duration
)

// monitorCmd shows a live dashboard of a run
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live terminal dashboard of a run",
	Long: `Poll a remediator server and show the compliance score, objectives and
phase history of a run as they change.

Keys: q quits, r refreshes.

Examples:
  remediator monitor --run-id 42
  remediator monitor --run-id 42 --url http://remediator:9191 --interval 5s`,
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().StringVar(&monitorURL, "url", "http://localhost:9191", "remediator server URL")
	monitorCmd.Flags().StringVar(&runID, "run-id", "", "run to follow")
	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", 2*time.Second, "refresh interval")
	_ = monitorCmd.MarkFlagRequired("run-id")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	if monitorInterval <= 0 {
		return fmt.Errorf("--interval must be positive")
	}
	return monitor.Run(commandContext(cmd), monitorURL, runID, monitorInterval, cmd.OutOrStdout())
}
