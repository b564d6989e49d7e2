// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pdiddy/papersort/internal/classify"
	"github.com/pdiddy/papersort/internal/paperless"
	"github.com/pdiddy/papersort/internal/quarantine"
	"github.com/pdiddy/papersort/internal/state"
	"github.com/pdiddy/papersort/pkg/types"
)

// DocumentStore is the document-store surface the runner depends on.
type DocumentStore interface {
	Preflight(ctx context.Context) error
	Documents(ctx context.Context, limit int, filter url.Values) iter.Seq2[types.Document, error]
	ListEntities(ctx context.Context, kind types.EntityKind) (types.Mapping, error)
	CreateEntity(ctx context.Context, kind types.EntityKind, label string) (int, error)
	UpdateDocument(ctx context.Context, id int, patch types.Patch) error
	UpdateTags(ctx context.Context, id int, tags []int) error
	AddNote(ctx context.Context, id int, note string) error
}

// DocumentClassifier is the model surface the runner depends on.
type DocumentClassifier interface {
	Classify(ctx context.Context, doc types.Document, currentTags []string) (types.Classification, error)
	PreflightTokenBudget(ctx context.Context, minRemaining int) error
}

// FailureRecord describes one document that could not be processed.
type FailureRecord struct {
	DocID   int
	Title   string
	Kind    string
	Message string
	Patch   types.Patch
}

// Summary is the outcome of one run.
type Summary struct {
	RunID   string
	Scanned int
	Updated int
	Skipped int
	Failed  int

	Usage   types.Usage
	CostEUR float64

	Created  map[types.EntityKind][]string
	Failures []FailureRecord
}

// Runner executes one classification run end to end.
type Runner struct {
	cfg        *types.Config
	store      DocumentStore
	classifier DocumentClassifier
	states     state.Store
	log        *slog.Logger

	// AllDocuments disables the tag filter and the already-classified
	// skip heuristic for one full sweep.
	AllDocuments bool

	// Mappings, when set, is a pre-fetched entity snapshot (for example
	// the one the prompt was built from) reused instead of listing the
	// entities again.
	Mappings *types.Mappings
}

func NewRunner(cfg *types.Config, store DocumentStore, classifier DocumentClassifier, states state.Store, log *slog.Logger) *Runner {
	return &Runner{cfg: cfg, store: store, classifier: classifier, states: states, log: log}
}

// Run scans documents, classifies them, and writes changes back. Per
// document failures are recorded and quarantined, never fatal; only
// preflight, entity-cache, and scan errors abort the run. The returned
// summary is valid even when err is non-nil.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{RunID: uuid.NewString()}
	r.log.Info("starting run", "run_id", summary.RunID, "dry_run", r.cfg.DryRun)

	if r.cfg.EnableTokenPrecheck {
		if err := r.classifier.PreflightTokenBudget(ctx, r.cfg.MinRemainingTokens); err != nil {
			return summary, err
		}
	} else {
		r.log.Info("token precheck disabled")
	}
	if err := r.store.Preflight(ctx); err != nil {
		return summary, err
	}

	mappings := r.Mappings
	if mappings == nil {
		loaded, err := r.loadMappings(ctx)
		if err != nil {
			return summary, err
		}
		mappings = loaded
	}

	allowCreate := r.cfg.CreateMissingEntities && !r.cfg.DryRun
	resolver := NewResolver(r.store, mappings, allowCreate, r.log)
	summary.Created = resolver.Created()

	processedTagID, _, err := resolver.Resolve(ctx, types.KindTag, r.cfg.ProcessedTag)
	if err != nil {
		return summary, err
	}
	errorTagID, _, err := resolver.Resolve(ctx, types.KindTag, r.cfg.ErrorTag)
	if err != nil {
		return summary, err
	}
	// The inbox tag is only ever removed, never created.
	inboxTagID := mappings.Tags[normalizeLabel(r.cfg.InboxTag)]

	var quarantined *quarantine.State
	if r.cfg.QuarantineFailedDocuments {
		quarantined, err = quarantine.Load(r.states,
			r.cfg.FailedDocumentCooldown(), r.cfg.FailedTagsOnlyCooldown(), r.log)
		if err != nil {
			return summary, err
		}
	}

	filter, onlyTagID, err := r.documentFilter(mappings)
	if err != nil {
		return summary, err
	}

	reverseTags := mappings.Tags.Reverse()
	for doc, err := range r.store.Documents(ctx, r.cfg.MaxDocuments, filter) {
		if err != nil {
			return summary, err
		}
		summary.Scanned++

		if quarantined != nil {
			if retryAt, skip := quarantined.SkippedUntil(doc.ID); skip {
				r.log.Info("skipping quarantined document",
					"document", doc.ID, "title", doc.Title, "retry_after", retryAt.UTC().Format(time.RFC3339))
				summary.Skipped++
				continue
			}
			if r.replayCachedPatch(ctx, quarantined, doc, summary) {
				continue
			}
		}

		if !r.AllDocuments {
			if onlyTagID != 0 && !doc.TagSet()[onlyTagID] {
				summary.Skipped++
				continue
			}
			if onlyTagID == 0 && doc.DocumentType != nil && len(doc.Tags) > 0 {
				r.log.Debug("skipping already classified document", "document", doc.ID, "title", doc.Title)
				summary.Skipped++
				continue
			}
		}

		r.processDocument(ctx, doc, resolver, mappings, quarantined, summary,
			processedTagID, inboxTagID, errorTagID, reverseTags)
	}

	if quarantined != nil {
		if err := quarantined.Save(); err != nil {
			r.log.Error("saving quarantine state", "error", err)
		}
	}

	r.finishRun(summary)
	return summary, nil
}

// loadMappings fetches all entity caches up front; later lookups and the
// prompt context work from this snapshot.
func (r *Runner) loadMappings(ctx context.Context) (*types.Mappings, error) {
	mappings := &types.Mappings{}
	for _, kind := range types.EntityKinds {
		mapping, err := r.store.ListEntities(ctx, kind)
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

// documentFilter builds the scan query. An explicit filter tag narrows the
// scan server-side; a configured tag that does not exist aborts the run
// rather than silently scanning everything.
func (r *Runner) documentFilter(mappings *types.Mappings) (url.Values, int, error) {
	if r.AllDocuments {
		r.log.Info("all-documents mode, ignoring tag filter and skip rules")
		return nil, 0, nil
	}
	name := normalizeLabel(r.cfg.ProcessOnlyTag)
	if name == "" {
		return nil, 0, nil
	}
	id, ok := mappings.Tags[name]
	if !ok {
		return nil, 0, fmt.Errorf("filter tag %q not found in the store", r.cfg.ProcessOnlyTag)
	}
	r.log.Info("tag filter active", "tag", r.cfg.ProcessOnlyTag)
	return url.Values{"tags__id": {strconv.Itoa(id)}}, id, nil
}

// replayCachedPatch retries a patch kept from an earlier tags-only failure
// without a new model call. Returns true when the document is handled
// either way.
func (r *Runner) replayCachedPatch(ctx context.Context, quarantined *quarantine.State, doc types.Document, summary *Summary) bool {
	patch, ok := quarantined.CachedPatch(doc.ID)
	if !ok {
		return false
	}

	if r.cfg.DryRun {
		r.log.Info("dry run, would replay cached patch", "document", doc.ID, "title", doc.Title, "patch", patch)
		summary.Skipped++
		return true
	}

	if err := r.store.UpdateDocument(ctx, doc.ID, patch); err != nil {
		retryAt := quarantined.MarkRetryFailure(doc.ID)
		summary.Failed++
		summary.Failures = append(summary.Failures, FailureRecord{
			DocID:   doc.ID,
			Title:   doc.Title,
			Kind:    errorKind(err),
			Message: fmt.Sprintf("cached patch replay failed: %v", err),
			Patch:   patch,
		})
		r.log.Warn("cached patch replay failed, re-quarantined",
			"document", doc.ID, "title", doc.Title,
			"retry_after", retryAt.UTC().Format(time.RFC3339), "error", err)
		return true
	}

	quarantined.Release(doc.ID)
	summary.Updated++
	r.log.Info("updated document via cached patch, no model call", "document", doc.ID, "title", doc.Title)
	return true
}

// processDocument handles one document end to end: classify, build the
// patch, apply tag policy, filter no-ops, and write back.
func (r *Runner) processDocument(
	ctx context.Context,
	doc types.Document,
	resolver *Resolver,
	mappings *types.Mappings,
	quarantined *quarantine.State,
	summary *Summary,
	processedTagID, inboxTagID, errorTagID int,
	reverseTags map[int]string,
) {
	currentTags := doc.TagSet()
	var tagLabels []string
	for _, id := range doc.Tags {
		if label, ok := reverseTags[id]; ok {
			tagLabels = append(tagLabels, label)
		}
	}

	result, err := r.classifier.Classify(ctx, doc, tagLabels)
	// Token usage counts even when the output fails validation later.
	summary.Usage.Add(result.Usage)
	summary.CostEUR += r.cfg.Cost(result.Usage)
	if err != nil {
		r.handleFailure(ctx, doc, nil, err, quarantined, summary, processedTagID, inboxTagID, errorTagID)
		return
	}

	result = SanitizeClassification(result, mappings.StoragePaths, r.log)

	if result.Confidence < r.cfg.ConfidenceThreshold {
		r.log.Info("skipping low-confidence classification",
			"document", doc.ID, "title", doc.Title,
			"confidence", result.Confidence, "threshold", r.cfg.ConfidenceThreshold)
		summary.Skipped++
		return
	}

	patch, err := BuildPatch(ctx, resolver, result)
	if err != nil {
		r.handleFailure(ctx, doc, nil, err, quarantined, summary, processedTagID, inboxTagID, errorTagID)
		return
	}
	if patch.IsEmpty() {
		r.log.Info("skipping document, no usable fields in model output", "document", doc.ID, "title", doc.Title)
		summary.Skipped++
		return
	}

	ApplyForcedTagRules(patch, currentTags, processedTagID, inboxTagID)
	patch = FilterUnchanged(doc, patch)
	if patch.IsEmpty() {
		r.log.Info("skipping document, no effective changes after diff filter", "document", doc.ID, "title", doc.Title)
		summary.Skipped++
		return
	}

	var note string
	if r.cfg.EnableAINotes {
		note = BuildUpdateNote(result, patch, mappings, NoteOptions{
			MaxChars:        r.cfg.AINotesMaxChars,
			IncludeSummary:  r.cfg.EnableAINoteSummary,
			SummaryMaxChars: r.cfg.AINoteSummaryMaxChars,
		})
	}

	if r.cfg.DryRun {
		r.logDryRunChange(doc, result, patch, mappings, note != "")
	} else {
		if err := r.store.UpdateDocument(ctx, doc.ID, patch); err != nil {
			r.handleFailure(ctx, doc, patch, err, quarantined, summary, processedTagID, inboxTagID, errorTagID)
			return
		}
		if note != "" {
			if err := r.store.AddNote(ctx, doc.ID, note); err != nil {
				r.log.Error("document updated but note could not be saved",
					"document", doc.ID, "title", doc.Title, "error", err)
			}
		}
		r.log.Info("updated document", "document", doc.ID, "title", doc.Title)
	}

	if quarantined != nil {
		quarantined.Release(doc.ID)
	}
	summary.Updated++
}

// handleFailure records a per-document failure, quarantines the document,
// and annotates it in the store with the error tag and an error note.
// Annotation is best effort and single shot; a broken document must not
// absorb dozens of extra requests.
func (r *Runner) handleFailure(
	ctx context.Context,
	doc types.Document,
	patch types.Patch,
	failure error,
	quarantined *quarantine.State,
	summary *Summary,
	processedTagID, inboxTagID, errorTagID int,
) {
	summary.Failed++
	summary.Failures = append(summary.Failures, FailureRecord{
		DocID:   doc.ID,
		Title:   doc.Title,
		Kind:    errorKind(failure),
		Message: failure.Error(),
		Patch:   patch,
	})
	r.log.Error("document failed", "document", doc.ID, "title", doc.Title, "error", failure)

	if quarantined != nil && r.cfg.FailedDocumentCooldown() > 0 {
		tagsOnly := patch.TagsOnly() && paperless.IsTagsFieldFailure(failure)
		retryAt := quarantined.MarkFailure(doc.ID, patch, tagsOnly)
		r.log.Warn("document quarantined",
			"document", doc.ID, "title", doc.Title,
			"retry_after", retryAt.UTC().Format(time.RFC3339))
	}

	if r.cfg.DryRun {
		return
	}

	currentTags := doc.TagSet()
	final := make(map[int]bool, len(currentTags))
	for id := range currentTags {
		final[id] = true
	}
	if inboxTagID != 0 {
		delete(final, inboxTagID)
	}
	if errorTagID != 0 {
		final[errorTagID] = true
	}
	if processedTagID != 0 {
		final[processedTagID] = true
	}
	if !tagSetsEqual(final, currentTags) {
		ids := make([]int, 0, len(final))
		for id := range final {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		if err := r.store.UpdateTags(ctx, doc.ID, ids); err != nil {
			r.log.Error("error tag could not be set", "document", doc.ID, "title", doc.Title, "error", err)
		}
	}

	if err := r.store.AddNote(ctx, doc.ID, BuildErrorNote(failure.Error(), patch)); err != nil {
		r.log.Error("error note could not be saved", "document", doc.ID, "title", doc.Title, "error", err)
	}
}

// logDryRunChange prints a field-by-field diff of what would change.
func (r *Runner) logDryRunChange(doc types.Document, result types.Classification, patch types.Patch, mappings *types.Mappings, noteWouldBeAdded bool) {
	reverse := map[types.EntityKind]map[int]string{
		types.KindTag:           mappings.Tags.Reverse(),
		types.KindDocumentType:  mappings.DocumentTypes.Reverse(),
		types.KindCorrespondent: mappings.Correspondents.Reverse(),
		types.KindStoragePath:   mappings.StoragePaths.Reverse(),
	}

	currentEntity := func(kind types.EntityKind, id *int) string {
		if id == nil {
			return "none"
		}
		return entityLabel(*id, reverse[kind])
	}

	attrs := []slog.Attr{
		slog.Int("document", doc.ID),
		slog.String("title", doc.Title),
		slog.Float64("confidence", result.Confidence),
	}
	if next, ok := patch.EntityID(types.FieldDocumentType); ok {
		attrs = append(attrs, slog.Group("document_type",
			"current", currentEntity(types.KindDocumentType, doc.DocumentType),
			"next", entityLabel(next, reverse[types.KindDocumentType])))
	}
	if next, ok := patch.EntityID(types.FieldCorrespondent); ok {
		attrs = append(attrs, slog.Group("correspondent",
			"current", currentEntity(types.KindCorrespondent, doc.Correspondent),
			"next", entityLabel(next, reverse[types.KindCorrespondent])))
	}
	if next, ok := patch.EntityID(types.FieldStoragePath); ok {
		attrs = append(attrs, slog.Group("storage_path",
			"current", currentEntity(types.KindStoragePath, doc.StoragePath),
			"next", entityLabel(next, reverse[types.KindStoragePath])))
	}
	if ids, ok := patch.TagIDs(); ok {
		attrs = append(attrs, slog.Group("tags",
			"current", fieldLabel(types.FieldTags, doc.Tags, reverse),
			"next", fieldLabel(types.FieldTags, ids, reverse)))
	}
	if next, ok := patch[types.FieldCreated].(string); ok {
		current, _ := NormalizeISODate(doc.Created)
		if current == "" {
			current = "none"
		}
		attrs = append(attrs, slog.Group("created", "current", current, "next", next))
	}
	if noteWouldBeAdded {
		attrs = append(attrs, slog.Bool("note_would_be_added", true))
	}
	r.log.LogAttrs(context.Background(), slog.LevelInfo, "dry run, would update document", attrs...)
}

// finishRun persists metrics and the run record, then logs the totals.
func (r *Runner) finishRun(summary *Summary) {
	finishedAt := nowUTC().Format(time.RFC3339)

	snapshot, err := r.states.LoadMetrics()
	if err != nil {
		r.log.Error("loading metrics", "error", err)
		snapshot = types.MetricsSnapshot{}
	}
	snapshot.Record(types.LastRun{
		RunID:            summary.RunID,
		PromptTokens:     summary.Usage.PromptTokens,
		CompletionTokens: summary.Usage.CompletionTokens,
		TotalTokens:      summary.Usage.Total(),
		CostEUR:          summary.CostEUR,
		FinishedAt:       finishedAt,
		Model:            r.cfg.AIModel,
	})
	if err := r.states.SaveMetrics(snapshot); err != nil {
		r.log.Error("saving metrics", "error", err)
	}

	if err := r.states.AppendRunRecord(types.RunRecord{
		RunID:            summary.RunID,
		FinishedAt:       finishedAt,
		Model:            r.cfg.AIModel,
		Scanned:          summary.Scanned,
		Updated:          summary.Updated,
		Skipped:          summary.Skipped,
		Failed:           summary.Failed,
		PromptTokens:     summary.Usage.PromptTokens,
		CompletionTokens: summary.Usage.CompletionTokens,
		TotalTokens:      summary.Usage.Total(),
		CostEUR:          summary.CostEUR,
	}); err != nil {
		r.log.Error("appending run record", "error", err)
	}

	for kind, labels := range summary.Created {
		r.log.Info("created entities", "kind", kind, "labels", strings.Join(labels, ", "))
	}
	r.log.Info("run finished",
		"run_id", summary.RunID,
		"scanned", summary.Scanned,
		"updated", summary.Updated,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"tokens", summary.Usage.Total(),
		"cost_eur", summary.CostEUR,
		"totals_tokens", snapshot.Totals.TotalTokens,
		"totals_cost_eur", snapshot.Totals.CostEUR)
}

// errorKind classifies a failure for the run report.
func errorKind(err error) string {
	var storeErr *paperless.StoreError
	if errors.As(err, &storeErr) {
		return "store"
	}
	var classifyErr *classify.Error
	if errors.As(err, &classifyErr) {
		return "classification"
	}
	return "internal"
}

func normalizeLabel(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}
