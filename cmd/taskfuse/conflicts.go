package main

import (
	"context"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/taskfuse/taskfuse/internal/appsync"
	"github.com/taskfuse/taskfuse/internal/ui"
)

var conflictsProvider string

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "List unresolved sync conflicts",
	Long: `List conflicts detected during sync passes that still need a
decision. Use 'taskfuse conflicts resolve' to work through them
interactively.`,
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp(nil)
		if err != nil {
			fatal(err)
		}
		defer a.close()

		conflicts, err := a.maps.ListConflicts(context.Background(),
			appsync.Provider(conflictsProvider), false)
		if err != nil {
			fatal(err)
		}

		if len(conflicts) == 0 {
			fmt.Printf("%s No unresolved conflicts\n", ui.RenderPass("✓"))
			return
		}

		for _, c := range conflicts {
			fmt.Printf("%s #%d [%s] %s\n", ui.RenderWarn("⚠"), c.ID, c.Provider, c.Describe())
			fmt.Printf("   detected %s\n", ui.RenderDim(c.DetectedAt.Local().Format("2006-01-02 15:04")))
		}
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve conflicts interactively",
	Long: `Walk through unresolved conflicts one at a time and pick a winner
for each. The chosen side's content overwrites the other side on the
next sync pass.`,
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp(nil)
		if err != nil {
			fatal(err)
		}
		defer a.close()

		ctx := context.Background()
		conflicts, err := a.maps.ListConflicts(ctx,
			appsync.Provider(conflictsProvider), false)
		if err != nil {
			fatal(err)
		}

		if len(conflicts) == 0 {
			fmt.Printf("%s No unresolved conflicts\n", ui.RenderPass("✓"))
			return
		}

		for _, c := range conflicts {
			choice, err := promptResolution(c)
			if err != nil {
				fatal(err)
			}
			if choice == "" {
				continue // skipped for now
			}

			if err := a.manager.ResolveConflict(ctx, c.ID, choice); err != nil {
				fmt.Printf("%s conflict #%d: %v\n", ui.RenderFail("✗"), c.ID, err)
				continue
			}
			fmt.Printf("%s conflict #%d resolved (%s)\n", ui.RenderPass("✓"), c.ID, choice)
		}
	},
}

// promptResolution shows one conflict and asks for a decision.
// Returns "" when the user defers the conflict.
func promptResolution(c *appsync.Conflict) (string, error) {
	var localLabel, remoteLabel string
	switch c.ConflictType {
	case appsync.ConflictDeletedLocal:
		localLabel = "Keep deleted (also delete remotely)"
		remoteLabel = "Restore from remote version"
	case appsync.ConflictDeletedRemote:
		localLabel = "Keep local version (re-create remotely)"
		remoteLabel = "Keep deleted (also delete locally)"
	default:
		localLabel = "Keep local version"
		remoteLabel = "Keep remote version"
	}

	var choice string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title(fmt.Sprintf("Conflict #%d [%s]", c.ID, c.Provider)).
				Description(c.Describe()).
				Options(
					huh.NewOption(localLabel, string(appsync.StrategyLocalWins)),
					huh.NewOption(remoteLabel, string(appsync.StrategyRemoteWins)),
					huh.NewOption("Decide later", ""),
				).
				Value(&choice),
		),
	)
	if err := form.Run(); err != nil {
		return "", err
	}
	return choice, nil
}

func init() {
	conflictsCmd.Flags().StringVarP(&conflictsProvider, "provider", "p", "", "filter by provider")
	conflictsCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(conflictsCmd)
}
