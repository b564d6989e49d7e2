// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"

	"github.com/pdiddy/papersort/pkg/types"
)

// BuildPatch converts a validated classification into a store patch.
// Labels that cannot be resolved are left out rather than guessed; an
// empty patch means the model produced nothing usable.
func BuildPatch(ctx context.Context, r *Resolver, c types.Classification) (types.Patch, error) {
	patch := types.Patch{}

	entityFields := []struct {
		field string
		kind  types.EntityKind
		label string
	}{
		{types.FieldDocumentType, types.KindDocumentType, c.DocumentType},
		{types.FieldCorrespondent, types.KindCorrespondent, c.Correspondent},
		{types.FieldStoragePath, types.KindStoragePath, c.StoragePath},
	}
	for _, ef := range entityFields {
		id, ok, err := r.Resolve(ctx, ef.kind, ef.label)
		if err != nil {
			return nil, err
		}
		if ok {
			patch[ef.field] = id
		}
	}

	var tagIDs []int
	for _, label := range c.Tags {
		id, ok, err := r.Resolve(ctx, types.KindTag, label)
		if err != nil {
			return nil, err
		}
		if ok {
			tagIDs = append(tagIDs, id)
		}
	}
	if len(tagIDs) > 0 {
		patch.SetTags(tagIDs)
	}

	if date, ok := NormalizeISODate(c.DocumentDate); ok {
		// The store keeps the document date in the created field.
		patch[types.FieldCreated] = date
	}

	return patch, nil
}

// ApplyForcedTagRules enforces the global tag policy on every change: the
// processed tag is added and the inbox tag removed. A zero tag id means
// the tag is not installed in the store. The tags field is written only
// when the final set actually differs from the document's current tags.
func ApplyForcedTagRules(patch types.Patch, currentTags map[int]bool, processedTagID, inboxTagID int) {
	final := make(map[int]bool, len(currentTags))
	for id := range currentTags {
		final[id] = true
	}
	if ids, ok := patch.TagIDs(); ok {
		for _, id := range ids {
			final[id] = true
		}
	}

	if inboxTagID != 0 {
		delete(final, inboxTagID)
	}
	if processedTagID != 0 {
		final[processedTagID] = true
	}

	if tagSetsEqual(final, currentTags) {
		delete(patch, types.FieldTags)
		return
	}
	ids := make([]int, 0, len(final))
	for id := range final {
		ids = append(ids, id)
	}
	patch.SetTags(ids)
}

// FilterUnchanged removes fields whose value already matches the document,
// so no-op PATCH requests never reach the store. Re-running the pipeline
// over classified documents converges to empty patches.
func FilterUnchanged(doc types.Document, patch types.Patch) types.Patch {
	filtered := patch.Clone()

	entityFields := []struct {
		field   string
		current *int
	}{
		{types.FieldDocumentType, doc.DocumentType},
		{types.FieldCorrespondent, doc.Correspondent},
		{types.FieldStoragePath, doc.StoragePath},
	}
	for _, ef := range entityFields {
		next, ok := filtered.EntityID(ef.field)
		if ok && ef.current != nil && *ef.current == next {
			delete(filtered, ef.field)
		}
	}

	if next, ok := filtered[types.FieldCreated].(string); ok {
		current, _ := NormalizeISODate(doc.Created)
		nextNorm, _ := NormalizeISODate(next)
		if current == nextNorm {
			delete(filtered, types.FieldCreated)
		}
	}

	if ids, ok := filtered.TagIDs(); ok {
		next := make(map[int]bool, len(ids))
		for _, id := range ids {
			next[id] = true
		}
		if tagSetsEqual(next, doc.TagSet()) {
			delete(filtered, types.FieldTags)
		}
	}

	return filtered
}

func tagSetsEqual(a, b map[int]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for id := range a {
		if !b[id] {
			return false
		}
	}
	return true
}
