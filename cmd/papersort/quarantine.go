// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/papersort/internal/quarantine"
	"github.com/pdiddy/papersort/internal/state"
)

var quarantineCmd = &cobra.Command{
	Use:   "quarantine",
	Short: "Inspect or clear the failed-document quarantine",
}

var quarantineListCmd = &cobra.Command{
	Use:   "list",
	Short: "List quarantined documents and their retry times",
	RunE: func(cmd *cobra.Command, args []string) error {
		q, states, err := loadQuarantine()
		if err != nil {
			return err
		}
		defer states.Close()

		entries := q.Entries()
		if len(entries) == 0 {
			fmt.Println("Quarantine is empty.")
			return nil
		}

		type row struct {
			DocID      int    `yaml:"document"`
			RetryAfter string `yaml:"retry_after"`
			HasPatch   bool   `yaml:"cached_patch"`
		}
		rows := make([]row, 0, len(entries))
		for _, entry := range entries {
			rows = append(rows, row{
				DocID:      entry.DocID,
				RetryAfter: entry.RetryAfter.UTC().Format(time.RFC3339),
				HasPatch:   entry.HasPatch,
			})
		}
		out, err := yaml.Marshal(rows)
		if err != nil {
			return fmt.Errorf("rendering quarantine: %w", err)
		}
		_, err = os.Stdout.Write(out)
		return err
	},
}

var quarantineClearCmd = &cobra.Command{
	Use:   "clear [id...]",
	Short: "Release quarantined documents and drop their cached patches",
	Long: `Clear releases quarantined documents. With document ids as arguments only
those documents are released; without arguments the whole quarantine and
every cached patch is dropped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		q, states, err := loadQuarantine()
		if err != nil {
			return err
		}
		defer states.Close()

		released, err := releaseDocuments(q, args)
		if err != nil {
			return err
		}
		if err := q.Save(); err != nil {
			return err
		}
		fmt.Printf("Released %d quarantined document(s).\n", released)
		return nil
	},
}

// releaseDocuments releases the named documents, or everything when no ids
// are given.
func releaseDocuments(q *quarantine.State, args []string) (int, error) {
	if len(args) == 0 {
		return q.Clear(), nil
	}
	released := 0
	for _, arg := range args {
		id, err := strconv.Atoi(arg)
		if err != nil {
			return released, fmt.Errorf("invalid document id %q", arg)
		}
		if q.Has(id) {
			q.Release(id)
			released++
		}
	}
	return released, nil
}

func loadQuarantine() (*quarantine.State, state.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	log := newLogger(cfg)
	states, err := openState(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	q, err := quarantine.Load(states, cfg.FailedDocumentCooldown(), cfg.FailedTagsOnlyCooldown(), log)
	if err != nil {
		states.Close()
		return nil, nil, err
	}
	return q, states, nil
}

func init() {
	quarantineCmd.AddCommand(quarantineListCmd)
	quarantineCmd.AddCommand(quarantineClearCmd)
	rootCmd.AddCommand(quarantineCmd)
}
