package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	rootCmd    = &cobra.Command{
		Use:   "batch-orch",
		Short: "Batch Orchestrator - finalizes batches of agent task results",
		Long: `Batch Orchestrator takes the results of a batch of agent tasks and lands them.
It validates each task, merges the successful branches on a temporary
integration branch, runs the integration doctor and its canary, and
fast-forwards the main branch only when everything passed.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
