package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"sourceMonitor/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration file and list the expanded targets",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		gray := color.New(color.FgHiBlack).SprintFunc()
		targets := cfg.Targets()
		fmt.Printf("%s %s: %d sources, %d pages\n", color.GreenString("✓"), cfgPath, len(cfg.Sources), len(targets))
		for _, t := range targets {
			fmt.Printf("  %-14s %s %s\n", t.SourceID, t.URL, gray(fmt.Sprintf("(stale after %dd)", t.StalenessDays)))
		}
		if cfg.SMTP.Host == "" {
			fmt.Println(color.YellowString("! smtp.host is not set; digests will not be sent"))
		}
		if cfg.Lookup.APIKey() == "" {
			fmt.Println(gray("secondary lookup disabled (no API key)"))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
