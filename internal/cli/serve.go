package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/branchbot/prsweep/internal/config"
	"github.com/branchbot/prsweep/internal/logging"
	"github.com/branchbot/prsweep/internal/sweep"
	"github.com/branchbot/prsweep/internal/watch"
)

var (
	serveAddrFlag     string
	serveIntervalFlag string
	serveLogFileFlag  string
)

func init() {
	addSweepFlags(serveCmd)
	serveCmd.Flags().StringVar(&serveAddrFlag, "addr", "", "Listen address (overrides watch.addr)")
	serveCmd.Flags().StringVar(&serveIntervalFlag, "interval", "", "Sweep interval (overrides watch.interval)")
	serveCmd.Flags().StringVar(&serveLogFileFlag, "log-file", "", "Also log JSON to this file (overrides watch.log_file)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Sweep on an interval and serve results over HTTP",
	Long: `Run sweeps continuously in the foreground.

Sweeps happen on the configured interval and on demand via POST /sweep.
GET /summary returns the last summary as JSON, GET /healthz reports
liveness, and GET /events streams per-PR progress over WebSocket. Each
completed sweep is recorded to history like a normal run.

Stops cleanly on SIGINT or SIGTERM.`,
	Example: `  prsweep serve --repo myorg/widgets --interval 15m
  prsweep serve --addr 0.0.0.0:4180`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := appConfig
		applySweepFlags(cfg)
		applyServeFlags(cfg)

		if cfg.Watch.LogFile != "" {
			closer, err := logging.SetupFile(cfg.Watch.LogFile, verbose)
			if err != nil {
				return err
			}
			defer closer.Close()
		}

		// Fail fast on missing repo or token before the first cycle.
		if _, _, err := buildSweeper(cmd.Context(), cfg, io.Discard); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		var srv *watch.Server
		runner := func(ctx context.Context) (*sweep.Summary, error) {
			sweeper, vcs, err := buildSweeper(ctx, cfg, out)
			if err != nil {
				return nil, err
			}
			sweeper.Notify = srv.Hub().Broadcast

			if cfg.Git.ShouldFetch() {
				if err := vcs.Fetch(ctx); err != nil {
					slog.Warn("fetch failed, conflict detection may be stale", "error", err)
				}
			}

			sum, err := sweeper.Run(ctx)
			if err != nil {
				return nil, err
			}
			if cfg.History.IsEnabled() {
				recordRun(cfg, sum, out)
			}
			return sum, nil
		}
		srv = watch.NewServer(cfg, runner)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		fmt.Fprintf(out, "Sweeping %s every %s, listening on %s\n", cfg.Repo, cfg.Watch.ParseInterval(), cfg.Watch.Addr)
		return srv.Run(ctx)
	},
}

func applyServeFlags(cfg *config.Config) {
	if serveAddrFlag != "" {
		cfg.Watch.Addr = serveAddrFlag
	}
	if serveIntervalFlag != "" {
		cfg.Watch.Interval = serveIntervalFlag
	}
	if serveLogFileFlag != "" {
		cfg.Watch.LogFile = serveLogFileFlag
	}
}
