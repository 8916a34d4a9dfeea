package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/taskfuse/taskfuse/internal/config"
	"github.com/taskfuse/taskfuse/internal/daemon"
	"github.com/taskfuse/taskfuse/internal/ui"
)

var daemonForeground bool

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the auto-sync daemon",
	Long: `Run the auto-sync daemon in the foreground.

The daemon runs interval syncs for every provider with auto_sync enabled
and triggers a debounced sync whenever the local task database changes.
Logs rotate through daemon.log in the taskfuse home directory; pass
--foreground to log to stderr instead.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fatal(err)
		}

		var logOut io.Writer = os.Stderr
		if !daemonForeground {
			logOut = &lumberjack.Logger{
				Filename:   cfg.DaemonLogPath(),
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     28, // days
			}
		}
		logger := log.New(logOut, "[daemon] ", log.LstdFlags)

		a, err := openApp(log.New(logOut, "[sync] ", log.LstdFlags))
		if err != nil {
			fatal(err)
		}
		defer a.close()

		dcfg := daemon.DefaultConfig()
		dcfg.Logger = logger

		d, err := daemon.New(a.manager, a.cfg.TodoDBPath(), dcfg)
		if err != nil {
			fatal(err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("%s Auto-sync daemon running (Ctrl-C to stop)\n", ui.RenderAccent("▸"))
		if err := d.Start(ctx); err != nil {
			fatal(err)
		}
	},
}

func init() {
	daemonCmd.Flags().BoolVarP(&daemonForeground, "foreground", "f", false, "log to stderr instead of the rotating log file")
	rootCmd.AddCommand(daemonCmd)
}
