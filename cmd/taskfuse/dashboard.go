package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/taskfuse/taskfuse/internal/daemon"
	"github.com/taskfuse/taskfuse/internal/dashboard"
	"github.com/taskfuse/taskfuse/internal/ui"
)

var dashboardPort int

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Serve the live sync dashboard",
	Long: `Serve a WebSocket feed of sync activity and run the auto-sync
daemon alongside it.

Connected clients receive sync_started, sync_complete and
conflict_detected events as JSON messages. Point a browser at the
server root for connection details.`,
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp(nil)
		if err != nil {
			fatal(err)
		}
		defer a.close()

		port := dashboardPort
		if port == 0 {
			port = a.cfg.DashboardPort
		}

		srv := dashboard.NewServer(&dashboard.Config{
			Port:   port,
			Logger: log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
		})
		srv.Attach(a.manager)

		if err := srv.Start(); err != nil {
			fatal(err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("%s Dashboard at http://localhost:%d (Ctrl-C to stop)\n",
			ui.RenderAccent("▸"), port)

		// Run the auto-sync daemon too so the feed has something to show;
		// without auto-sync providers, serve the feed alone and let
		// manual syncs in other processes go unreported.
		d, err := daemon.New(a.manager, a.cfg.TodoDBPath(), nil)
		if err == nil {
			if derr := d.Start(ctx); derr != nil {
				fmt.Printf("%s %v; serving feed only\n", ui.RenderWarn("⚠"), derr)
				<-ctx.Done()
			}
		} else {
			<-ctx.Done()
		}

		if err := srv.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error stopping server: %v\n", err)
		}
	},
}

func init() {
	dashboardCmd.Flags().IntVar(&dashboardPort, "port", 0, "listen port (default from config)")
	rootCmd.AddCommand(dashboardCmd)
}
