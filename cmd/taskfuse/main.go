// Command taskfuse is a local task manager that syncs with external
// providers (Todoist, task directories) through a mapping-based sync
// engine.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "taskfuse",
	Short: "Local tasks, synced everywhere",
	Long: `Taskfuse keeps a local task database and reconciles it with external
task services through provider adapters.

Sync passes push local changes out, pull remote changes in, detect
deletions on both sides, and resolve conflicts by the configured
strategy. Identity mappings and conflict records are durable, so passes
are incremental and idempotent.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
