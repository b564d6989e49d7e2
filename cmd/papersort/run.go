// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/papersort/internal/classify"
	"github.com/pdiddy/papersort/internal/paperless"
	"github.com/pdiddy/papersort/internal/pipeline"
	"github.com/pdiddy/papersort/pkg/types"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one classification pass over the document store",
	Long: `Run scans documents, classifies each with the configured model, and
patches the results back into Paperless-ngx. Documents that fail are
tagged, annotated, and quarantined for a cooldown period.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if v, _ := cmd.Flags().GetBool("dry-run"); v {
			cfg.DryRun = true
		}
		if v, _ := cmd.Flags().GetInt("max-documents"); v > 0 {
			cfg.MaxDocuments = v
		}
		allDocuments, _ := cmd.Flags().GetBool("all-documents")

		log := newLogger(cfg)
		ctx := context.Background()

		store := paperless.NewClient(cfg.PaperlessURL, cfg.PaperlessToken, cfg.RequestTimeout(), log)

		// One entity snapshot serves both the prompt and the run itself.
		mappings, err := fetchMappings(ctx, store)
		if err != nil {
			return err
		}
		var promptLabels *types.Mappings
		if cfg.IncludeExistingEntitiesInPrompt {
			promptLabels = mappings
		}

		classifier, err := classify.New(classify.Options{
			BaseURL:            cfg.AIBaseURL,
			APIKey:             cfg.AIAPIKey,
			Model:              cfg.AIModel,
			Timeout:            cfg.RequestTimeout(),
			RequestsPerMinute:  cfg.ClassifyRequestsPerMinute,
			CustomInstructions: cfg.CustomPromptInstructions,
			BaselineRules:      cfg.BaselineRules,
			Labels:             promptLabels,
			Log:                log,
		})
		if err != nil {
			return err
		}

		states, err := openState(cfg, log)
		if err != nil {
			return err
		}
		defer states.Close()

		runner := pipeline.NewRunner(&cfg, store, classifier, states, log)
		runner.AllDocuments = allDocuments
		runner.Mappings = mappings

		summary, err := runner.Run(ctx)
		if err != nil {
			return err
		}
		printSummary(summary, cfg.DryRun)
		return nil
	},
}

func init() {
	runCmd.Flags().Bool("dry-run", false, "log planned changes without writing to the store")
	runCmd.Flags().Bool("all-documents", false, "ignore tag filters and re-examine every document")
	runCmd.Flags().Int("max-documents", 0, "override the configured scan limit")

	rootCmd.AddCommand(runCmd)
}

// fetchMappings loads the entity inventory used as prompt context.
func fetchMappings(ctx context.Context, store *paperless.Client) (*types.Mappings, error) {
	mappings := &types.Mappings{}
	for _, kind := range types.EntityKinds {
		mapping, err := store.ListEntities(ctx, kind)
		if err != nil {
			return nil, err
		}
		switch kind {
		case types.KindTag:
			mappings.Tags = mapping
		case types.KindDocumentType:
			mappings.DocumentTypes = mapping
		case types.KindCorrespondent:
			mappings.Correspondents = mapping
		case types.KindStoragePath:
			mappings.StoragePaths = mapping
		}
	}
	return mappings, nil
}

func printSummary(summary *pipeline.Summary, dryRun bool) {
	mode := ""
	if dryRun {
		mode = " (dry run)"
	}
	fmt.Printf("Run %s finished%s\n", summary.RunID, mode)
	fmt.Printf("  scanned: %d  updated: %d  skipped: %d  failed: %d\n",
		summary.Scanned, summary.Updated, summary.Skipped, summary.Failed)
	fmt.Printf("  tokens: %d  cost: %.4f EUR\n", summary.Usage.Total(), summary.CostEUR)

	if len(summary.Created) > 0 {
		kinds := make([]string, 0, len(summary.Created))
		for kind := range summary.Created {
			kinds = append(kinds, string(kind))
		}
		sort.Strings(kinds)
		for _, kind := range kinds {
			fmt.Printf("  created %s: %s\n", kind, strings.Join(summary.Created[types.EntityKind(kind)], ", "))
		}
	}
	for _, failure := range summary.Failures {
		fmt.Fprintf(os.Stderr, "  failed document %d (%s): %s\n", failure.DocID, failure.Kind, failure.Message)
		if !failure.Patch.IsEmpty() {
			fmt.Fprintf(os.Stderr, "    attempted patch: %v\n", map[string]any(failure.Patch))
		}
	}
}
