// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package paperless

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/pdiddy/papersort/pkg/types"
)

// tagsFailureMarker prefixes the tags entry in a field-analysis error
// message. Quarantine uses it to tell a tags-only rejection apart from a
// broken document.
const tagsFailureMarker = "field analysis: tags:"

// IsTagsFieldFailure reports whether err names the tags field as the part
// of a patch the store rejected.
func IsTagsFieldFailure(err error) bool {
	return err != nil && strings.Contains(err.Error(), tagsFailureMarker)
}

// UpdateDocument applies patch to the document. A server-side rejection
// (HTTP 5xx) triggers a fallback cascade: retry without the created date,
// without the tags, without both, and finally field by field. Any fallback
// that lands counts as success; when nothing lands, the error carries a
// per-field analysis of what the store rejected.
func (c *Client) UpdateDocument(ctx context.Context, id int, patch types.Patch) error {
	op := fmt.Sprintf("updating document %d", id)
	path := fmt.Sprintf("/api/documents/%d/", id)

	firstErr := c.request(ctx, http.MethodPatch, path, nil, patch, nil, 0)
	if firstErr == nil {
		return nil
	}
	if !isServerError(firstErr) {
		return storeErr(op, firstErr)
	}

	for _, candidate := range fallbackPatches(patch) {
		if err := c.request(ctx, http.MethodPatch, path, nil, candidate.patch, nil, 1); err != nil {
			continue
		}
		c.log.Warn("document updated without rejected fields",
			"document", id, "dropped", strings.Join(candidate.dropped, ","))
		return nil
	}

	var applied, failed []string
	for _, field := range types.PatchFieldOrder {
		value, ok := patch[field]
		if !ok {
			continue
		}
		if err := c.request(ctx, http.MethodPatch, path, nil, types.Patch{field: value}, nil, 1); err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", field, err))
		} else {
			applied = append(applied, field)
		}
	}

	if len(applied) > 0 {
		c.log.Warn("document updated field by field",
			"document", id,
			"applied", strings.Join(applied, ","),
			"failed", strings.Join(failed, "; "))
		return nil
	}

	return storeErr(op, fmt.Errorf("%w; field analysis: %s", firstErr, strings.Join(failed, "; ")))
}

type fallbackPatch struct {
	patch   types.Patch
	dropped []string
}

// fallbackPatches builds the reduced patches tried after a server-side
// rejection, in order: without created, without tags, without both. Empty
// and duplicate reductions are skipped.
func fallbackPatches(patch types.Patch) []fallbackPatch {
	drops := [][]string{
		{types.FieldCreated},
		{types.FieldTags},
		{types.FieldCreated, types.FieldTags},
	}

	var out []fallbackPatch
	seen := map[string]bool{signature(patch): true}
	for _, dropped := range drops {
		reduced := patch.Clone()
		present := false
		for _, field := range dropped {
			if _, ok := reduced[field]; ok {
				present = true
			}
			delete(reduced, field)
		}
		if !present || reduced.IsEmpty() || seen[signature(reduced)] {
			continue
		}
		seen[signature(reduced)] = true
		out = append(out, fallbackPatch{patch: reduced, dropped: dropped})
	}
	return out
}

func signature(patch types.Patch) string {
	keys := make([]string, 0, len(patch))
	for key := range patch {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}

// UpdateTags replaces the document's tag set in a single attempt. The
// pipeline calls this on the failure path, where retry storms against an
// already struggling store help nobody.
func (c *Client) UpdateTags(ctx context.Context, id int, tags []int) error {
	path := fmt.Sprintf("/api/documents/%d/", id)
	if err := c.request(ctx, http.MethodPatch, path, nil, types.Patch{types.FieldTags: tags}, nil, 1); err != nil {
		return storeErr(fmt.Sprintf("updating tags of document %d", id), err)
	}
	return nil
}

// AddNote attaches a note to the document.
func (c *Client) AddNote(ctx context.Context, id int, note string) error {
	path := fmt.Sprintf("/api/documents/%d/notes/", id)
	if err := c.request(ctx, http.MethodPost, path, nil, map[string]string{"note": note}, nil, 0); err != nil {
		return storeErr(fmt.Sprintf("adding note to document %d", id), err)
	}
	return nil
}
