// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/papersort/pkg/types"
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Report token usage and cost totals",
	Long: `Metrics prints the last run's token usage and cost, the lifetime totals,
and optionally the recorded run history, as YAML.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		states, err := openState(cfg, newLogger(cfg))
		if err != nil {
			return err
		}
		defer states.Close()

		snapshot, err := states.LoadMetrics()
		if err != nil {
			return err
		}

		report := struct {
			LastRun types.LastRun     `yaml:"last_run"`
			Totals  types.Totals      `yaml:"totals"`
			History []types.RunRecord `yaml:"history,omitempty"`
		}{LastRun: snapshot.LastRun, Totals: snapshot.Totals}

		if v, _ := cmd.Flags().GetBool("history"); v {
			report.History, err = states.ListRuns()
			if err != nil {
				return err
			}
		}

		out, err := yaml.Marshal(report)
		if err != nil {
			return fmt.Errorf("rendering metrics: %w", err)
		}
		_, err = os.Stdout.Write(out)
		return err
	},
}

func init() {
	metricsCmd.Flags().Bool("history", false, "include the recorded run history")

	rootCmd.AddCommand(metricsCmd)
}
