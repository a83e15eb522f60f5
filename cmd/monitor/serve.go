package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"sourceMonitor/internal/api"
	"sourceMonitor/internal/config"
	"sourceMonitor/internal/core/services"
)

var (
	serveIntervalHours int
	serveHTTPAddr      string
	serveWatch         bool
	serveRunOnStart    bool
	serveShutdownGrace time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run monitoring cycles on a schedule",
	Long: `Start the scheduler and keep running until interrupted. With --http the
JSON control API is served as well; with --watch the source list is reloaded
whenever the configuration file changes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		interval := a.cfg.Schedule.Interval()
		if cmd.Flags().Changed("interval-hours") {
			interval = time.Duration(serveIntervalHours) * time.Hour
		}

		// cycles run under a context that outlives the signal so a cycle in
		// flight at shutdown can finish within the grace period
		sched := services.NewScheduler(context.Background(), a.monitor.Cycle, services.SchedulerOptions{
			DeepDiff:   a.cfg.Schedule.DeepDiff,
			RunOnStart: serveRunOnStart || a.cfg.Schedule.RunOnStart,
			Logger:     logger,
		})
		if err := sched.Start(interval); err != nil {
			return err
		}

		if serveWatch {
			go func() {
				err := config.Watch(ctx, cfgPath, func(c *config.Config) {
					a.monitor.SetTargets(c.Targets())
				})
				if err != nil {
					logger.Error("config watch stopped", "err", err)
				}
			}()
		}

		var srv *api.Server
		var srvErr <-chan error
		if serveHTTPAddr != "" {
			srv = api.NewServer(serveHTTPAddr, api.NewHandlers(sched, a.store, logger), logger)
			srvErr = srv.Start()
		}

		select {
		case <-ctx.Done():
		case err := <-srvErr:
			if err != nil {
				sched.Stop()
				return fmt.Errorf("http server: %w", err)
			}
		}
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), serveShutdownGrace)
		defer cancel()
		if srv != nil {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("http shutdown failed", "err", err)
			}
		}
		if err := sched.Drain(shutdownCtx); err != nil {
			return fmt.Errorf("cycle did not finish within %s: %w", serveShutdownGrace, err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&serveIntervalHours, "interval-hours", config.DefaultIntervalHours, "hours between cycles (overrides schedule.interval_hours)")
	serveCmd.Flags().StringVar(&serveHTTPAddr, "http", "", "serve the control API on this address, e.g. :8080")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "reload sources when the config file changes")
	serveCmd.Flags().BoolVar(&serveRunOnStart, "run-on-start", false, "run a cycle immediately")
	serveCmd.Flags().DurationVar(&serveShutdownGrace, "shutdown-grace", 2*time.Minute, "time to wait for a running cycle on shutdown")
	rootCmd.AddCommand(serveCmd)
}
