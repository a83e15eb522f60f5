package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"sourceMonitor/internal/core/domain"
)

var (
	alertsAll   bool
	alertsLimit int
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List active alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		_, store, err := loadStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		var alerts []domain.Alert
		if alertsAll {
			alerts, err = store.GetRecentAlerts(ctx, alertsLimit)
		} else {
			alerts, err = store.GetActiveAlerts(ctx)
		}
		if err != nil {
			return err
		}
		if len(alerts) == 0 {
			fmt.Println(color.New(color.FgHiBlack).Sprint("No alerts."))
			return nil
		}
		for _, a := range alerts {
			printAlert(a)
		}
		return nil
	},
}

func printAlert(a domain.Alert) {
	gray := color.New(color.FgHiBlack).SprintFunc()
	sev := color.New(color.FgYellow).SprintFunc()
	if a.Severity == domain.SeverityCritical {
		sev = color.New(color.FgRed, color.Bold).SprintFunc()
	}
	state := "active"
	if !a.Active() {
		state = "resolved " + a.ResolvedAt.Format(time.RFC3339)
	} else if !a.Notified {
		state = "pending notification"
	}
	fmt.Printf("#%-5d %s %s\n", a.ID, sev(fmt.Sprintf("%-8s", a.Severity)), a.Message)
	fmt.Printf("       %s\n", gray(fmt.Sprintf("%s  created %s  %s", a.URL, a.CreatedAt.Format(time.RFC3339), state)))
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <alert-id>",
	Short: "Mark an alert as resolved",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid alert id %q", args[0])
		}
		ctx := context.Background()
		_, store, err := loadStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.ResolveAlert(ctx, id, time.Now().UTC()); err != nil {
			return fmt.Errorf("resolve alert %d: %w", id, err)
		}
		fmt.Printf("%s alert #%d resolved\n", color.GreenString("✓"), id)
		return nil
	},
}

var resendCmd = &cobra.Command{
	Use:   "resend",
	Short: "Send a digest of active alerts that were never delivered",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		pending, delivered := a.alerts.ResendPending(ctx)
		switch {
		case pending == 0:
			fmt.Println(color.New(color.FgHiBlack).Sprint("Nothing pending."))
		case delivered:
			fmt.Printf("%s digest with %d alerts sent\n", color.GreenString("✓"), pending)
		default:
			return fmt.Errorf("digest with %d alerts could not be sent", pending)
		}
		return nil
	},
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show alert counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		_, store, err := loadStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		sum, err := store.GetAlertSummary(ctx, time.Now().UTC())
		if err != nil {
			return err
		}
		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		fmt.Printf("\n%s\n", cyan("=== Alert Summary ==="))
		fmt.Printf("  Active:             %d\n", sum.TotalActive)
		fmt.Printf("  Critical:           %s\n", color.RedString("%d", sum.CriticalCount))
		fmt.Printf("  Warnings:           %s\n", color.YellowString("%d", sum.WarningCount))
		fmt.Printf("  Pending delivery:   %d\n", sum.Unnotified)
		fmt.Printf("  Resolved this week: %s\n", color.GreenString("%d", sum.ResolvedThisWeek))
		return nil
	},
}

func init() {
	alertsCmd.Flags().BoolVar(&alertsAll, "all", false, "include resolved alerts")
	alertsCmd.Flags().IntVar(&alertsLimit, "limit", 50, "maximum alerts to show with --all")
	rootCmd.AddCommand(alertsCmd, resolveCmd, resendCmd, summaryCmd)
}
