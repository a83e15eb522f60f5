package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"sourceMonitor/internal/core/domain"
)

var runDeep bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one monitoring cycle and exit",
	Long:  `Run every check against every configured page once, record the results, create alerts and send the digest.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.monitor.Cycle(ctx, runDeep)
		if err != nil {
			return err
		}
		printReport(report)
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&runDeep, "deep", false, "compute line diffs for content changes")
	rootCmd.AddCommand(runCmd)
}

func statusColor(s domain.Status) func(a ...interface{}) string {
	switch s {
	case domain.StatusOK:
		return color.New(color.FgGreen).SprintFunc()
	case domain.StatusWarning:
		return color.New(color.FgYellow).SprintFunc()
	default:
		return color.New(color.FgRed).SprintFunc()
	}
}

func printReport(r *domain.RunReport) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Printf("\n%s\n", cyan("=== Monitoring Cycle ==="))
	fmt.Printf("  Run:       %s\n", gray(r.RunID))
	fmt.Printf("  Duration:  %s\n", r.Duration().Round(time.Millisecond))
	fmt.Printf("  Checks:    %d (%s ok, %s warnings, %s errors)\n", r.TotalChecks,
		statusColor(domain.StatusOK)(r.Counts[domain.StatusOK]),
		statusColor(domain.StatusWarning)(r.Counts[domain.StatusWarning]),
		statusColor(domain.StatusError)(r.Counts[domain.StatusError]))
	fmt.Printf("  New alerts: %d\n", len(r.Alerts))

	if len(r.Errored) > 0 {
		fmt.Printf("\n%s\n", color.New(color.FgRed).Sprint("Errors:"))
		for _, o := range r.Errored {
			fmt.Printf("  %s %s %s\n", statusColor(o.Status)("●"), o.Kind, o.URL)
			fmt.Printf("    %s\n", gray(o.Detail))
		}
	}

	switch {
	case len(r.Alerts) == 0:
		fmt.Printf("\n%s\n", gray("No new alerts, nothing to send."))
	case r.Notified:
		fmt.Printf("\n%s\n", color.GreenString("Digest sent."))
	default:
		fmt.Printf("\n%s\n", color.YellowString("Digest not sent; alerts stay pending for `monitor resend`."))
	}
}
