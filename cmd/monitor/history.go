package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"sourceMonitor/internal/core/domain"
	"sourceMonitor/internal/pkg/utils"
)

var (
	historySource string
	historyLimit  int
	historyLatest bool
	snapLimit     int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded check results",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		_, store, err := loadStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		var rows []domain.CheckOutcome
		if historyLatest {
			latest, err := store.GetLatestCheckBySource(ctx)
			if err != nil {
				return err
			}
			for _, o := range latest {
				rows = append(rows, o)
			}
			sort.Slice(rows, func(i, j int) bool { return rows[i].SourceID < rows[j].SourceID })
		} else {
			rows, err = store.GetHistory(ctx, domain.HistoryQuery{SourceID: historySource, Limit: historyLimit})
			if err != nil {
				return err
			}
		}

		gray := color.New(color.FgHiBlack).SprintFunc()
		for _, o := range rows {
			fmt.Printf("%s %s %-12s %-13s %s\n",
				gray(o.CheckedAt.Format(time.DateTime)),
				statusColor(o.Status)(fmt.Sprintf("%-7s", o.Status)),
				o.SourceID, o.Kind, o.URL)
			fmt.Printf("    %s\n", gray(utils.Truncate(o.Detail, 160)))
		}
		return nil
	},
}

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots <url>",
	Short: "Show the content snapshot history of a page",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		_, store, err := loadStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		snaps, err := store.GetSnapshotHistory(ctx, args[0], snapLimit)
		if err != nil {
			return err
		}
		if len(snaps) == 0 {
			fmt.Println(color.New(color.FgHiBlack).Sprint("No snapshots for this URL."))
			return nil
		}
		for i, s := range snaps {
			marker := " "
			if i+1 < len(snaps) && snaps[i+1].Hash != s.Hash {
				marker = color.YellowString("*")
			}
			fmt.Printf("%s %s %s  %d chars\n", marker, s.TakenAt.Format(time.DateTime), utils.ShortHash(s.Hash, 12), len(s.Text))
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().StringVar(&historySource, "source", "", "only show this source id")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "maximum rows")
	historyCmd.Flags().BoolVar(&historyLatest, "latest", false, "show only the latest check per source")
	snapshotsCmd.Flags().IntVar(&snapLimit, "limit", 20, "maximum snapshots")
	rootCmd.AddCommand(historyCmd, snapshotsCmd)
}
