package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/taskfuse/taskfuse/internal/ui"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage provider credentials",
}

var authSetCmd = &cobra.Command{
	Use:   "set <provider> <key>",
	Short: "Store a credential",
	Long: `Store a credential value for a provider, e.g.:

  taskfuse auth set todoist api_token

The value is read from the terminal without echo and stored in
credentials.json with owner-only permissions.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp(nil)
		if err != nil {
			fatal(err)
		}
		defer a.close()

		provider, key := args[0], args[1]

		var value string
		if term.IsTerminal(int(os.Stdin.Fd())) {
			fmt.Printf("Enter %s for %s: ", key, provider)
			raw, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Println()
			if err != nil {
				fatal(fmt.Errorf("reading input: %w", err))
			}
			value = string(raw)
		} else {
			// Piped input for scripting
			reader := bufio.NewReader(os.Stdin)
			line, err := reader.ReadString('\n')
			if err != nil && line == "" {
				fatal(fmt.Errorf("reading input: %w", err))
			}
			value = strings.TrimRight(line, "\r\n")
		}

		if value == "" {
			fatal(fmt.Errorf("empty value"))
		}

		if err := a.creds.Set(provider, key, value); err != nil {
			fatal(err)
		}
		fmt.Printf("%s Stored %s for %s\n", ui.RenderPass("✓"), key, provider)
	},
}

var authShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List stored credentials",
	Long:  `List which providers have credentials stored. Values are never printed.`,
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp(nil)
		if err != nil {
			fatal(err)
		}
		defer a.close()

		providers := a.creds.Providers()
		if len(providers) == 0 {
			fmt.Printf("%s No credentials stored\n", ui.RenderDim("·"))
			return
		}
		for _, p := range providers {
			fmt.Printf("%s %s: %s\n", ui.RenderAccent("▸"), p,
				strings.Join(a.creds.Keys(p), ", "))
		}
	},
}

var authRemoveCmd = &cobra.Command{
	Use:   "remove <provider>",
	Short: "Remove a provider's credentials",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp(nil)
		if err != nil {
			fatal(err)
		}
		defer a.close()

		if err := a.creds.Delete(args[0]); err != nil {
			fatal(err)
		}
		fmt.Printf("%s Removed credentials for %s\n", ui.RenderPass("✓"), args[0])
	},
}

func init() {
	authCmd.AddCommand(authSetCmd)
	authCmd.AddCommand(authShowCmd)
	authCmd.AddCommand(authRemoveCmd)
	rootCmd.AddCommand(authCmd)
}
