package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskfuse/taskfuse/internal/appsync"
	"github.com/taskfuse/taskfuse/internal/ui"
)

var (
	syncProvider string
	syncStrategy string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync with external providers",
	Long: `Run a sync pass against the configured providers.

Each pass pushes local changes out, pulls remote changes in, detects
deletions on both sides, and resolves conflicts by the configured
strategy. Pass --provider to sync one provider, --strategy to override
its conflict strategy for this run.

Ctrl-C cancels cooperatively: the pass stops at the next item boundary
and reports partial counts.`,
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp(nil)
		if err != nil {
			fatal(err)
		}
		defer a.close()

		var override appsync.Strategy
		if syncStrategy != "" {
			override, err = appsync.ParseStrategy(syncStrategy)
			if err != nil {
				fatal(err)
			}
		}

		// Ctrl-C requests cancellation instead of killing mid-item.
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		go func() {
			<-ctx.Done()
			a.manager.CancelAllSyncs()
		}()

		if syncProvider != "" {
			result, err := a.manager.SyncProvider(ctx, appsync.Provider(syncProvider), override)
			if err != nil {
				fatal(err)
			}
			printResult(result)
			return
		}

		results := a.manager.SyncAll(ctx, override)
		if len(results) == 0 {
			fmt.Printf("%s No providers enabled. Configure one in config.yaml.\n", ui.RenderWarn("⚠"))
			return
		}
		for _, result := range results {
			printResult(result)
		}
	},
}

func printResult(r *appsync.Result) {
	icon := ui.RenderPass("✓")
	switch r.Status {
	case appsync.StatusError:
		icon = ui.RenderFail("✗")
	case appsync.StatusPartial, appsync.StatusConflict, appsync.StatusCancelled:
		icon = ui.RenderWarn("⚠")
	}

	fmt.Printf("%s %s: %s (%.2fs)\n", icon, ui.RenderAccent(string(r.Provider)), r.Status, r.Duration)
	if r.ItemsSynced > 0 {
		fmt.Printf("   created: %d  updated: %d  deleted: %d\n",
			r.ItemsCreated, r.ItemsUpdated, r.ItemsDeleted)
	}
	if r.ConflictsDetected > 0 {
		fmt.Printf("   conflicts: %d detected, %d resolved\n",
			r.ConflictsDetected, r.ConflictsResolved)
	}
	for _, w := range r.Warnings {
		fmt.Printf("   %s %s\n", ui.RenderWarn("warning:"), w)
	}
	for _, e := range r.Errors {
		fmt.Printf("   %s %s\n", ui.RenderFail("error:"), e)
	}
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show provider and sync status",
	Long: `Display configured providers, registered adapters, and any sync
passes currently running.`,
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp(nil)
		if err != nil {
			fatal(err)
		}
		defer a.close()

		fmt.Printf("\n%s Providers\n", ui.RenderAccent("▸"))
		configs := a.manager.Configs()
		if len(configs) == 0 {
			fmt.Printf("   none configured\n")
		}
		for _, cfg := range configs {
			state := ui.RenderPass("enabled")
			if !cfg.Enabled {
				state = ui.RenderDim("disabled")
			}
			registered := ""
			if !appsync.IsRegistered(cfg.Provider) {
				registered = ui.RenderWarn(" (no adapter)")
			}
			fmt.Printf("   %-16s %s  %s / %s%s\n",
				cfg.Provider, state, cfg.Direction, cfg.Strategy, registered)
		}

		running := a.manager.Status()
		if len(running) > 0 {
			fmt.Printf("\n%s Running passes\n", ui.RenderAccent("▸"))
			for _, op := range running {
				fmt.Printf("   %-16s %s, %d items, started %s\n",
					op.Provider, op.Phase, op.ItemsDone,
					op.StartedAt.Format(time.Kitchen))
			}
		}
		fmt.Println()
	},
}

var (
	historyProvider string
	historyLimit    int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent sync results",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp(nil)
		if err != nil {
			fatal(err)
		}
		defer a.close()

		results := a.manager.History(appsync.Provider(historyProvider), historyLimit)
		if len(results) == 0 {
			fmt.Printf("%s No sync history in this session\n", ui.RenderDim("·"))
			return
		}
		for _, r := range results {
			fmt.Printf("%s  %-14s %-10s synced=%d conflicts=%d\n",
				r.StartedAt.Format("2006-01-02 15:04:05"),
				r.Provider, r.Status, r.ItemsSynced, r.ConflictsDetected)
		}
	},
}

func init() {
	syncCmd.Flags().StringVarP(&syncProvider, "provider", "p", "", "sync a single provider")
	syncCmd.Flags().StringVarP(&syncStrategy, "strategy", "s", "", "override conflict strategy (local_wins, remote_wins, newest_wins, manual, skip)")
	historyCmd.Flags().StringVarP(&historyProvider, "provider", "p", "", "filter by provider")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum entries to show")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
}
