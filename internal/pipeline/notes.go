// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pdiddy/papersort/pkg/types"
)

// nowUTC is a hook for tests.
var nowUTC = func() time.Time { return time.Now().UTC() }

const (
	errorNoteMessageMax = 800
	errorNotePatchMax   = 900
)

// NoteOptions bounds the free-text parts of an update note.
type NoteOptions struct {
	MaxChars        int
	IncludeSummary  bool
	SummaryMaxChars int
}

// BuildUpdateNote renders the note attached to a successfully updated
// document: rationale, optional summary, and the applied changes with
// labels instead of raw ids.
func BuildUpdateNote(c types.Classification, patch types.Patch, labels *types.Mappings, opts NoteOptions) string {
	reverse := map[types.EntityKind]map[int]string{
		types.KindTag:           labels.Tags.Reverse(),
		types.KindDocumentType:  labels.DocumentTypes.Reverse(),
		types.KindCorrespondent: labels.Correspondents.Reverse(),
		types.KindStoragePath:   labels.StoragePaths.Reverse(),
	}

	var lines []string
	for _, field := range types.PatchFieldOrder {
		value, ok := patch[field]
		if !ok {
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", field, fieldLabel(field, value, reverse)))
	}

	rationale := strings.TrimSpace(c.Rationale)
	if rationale == "" {
		rationale = "No rationale given."
	}
	rationale = shorten(rationale, opts.MaxChars)

	var summaryLine string
	if opts.IncludeSummary {
		summary := strings.TrimSpace(c.Summary)
		if summary == "" {
			summary = "No summary available."
		}
		summaryLine = "Summary: " + shorten(summary, opts.SummaryMaxChars) + "\n"
	}

	changes := "- none"
	if len(lines) > 0 {
		changes = strings.Join(lines, "\n")
	}

	return fmt.Sprintf("[AI update %s]\n%sRationale: %s\nChanges:\n%s",
		noteTimestamp(), summaryLine, rationale, changes)
}

// BuildErrorNote renders the note attached to a document whose processing
// failed, carrying a compacted error message and the patch that was
// planned.
func BuildErrorNote(errorMessage string, patch types.Patch) string {
	compact := strings.Join(strings.Fields(errorMessage), " ")
	compact = shorten(compact, errorNoteMessageMax)

	patchText := "-"
	if !patch.IsEmpty() {
		patchText = shorten(fmt.Sprintf("%v", map[string]any(patch)), errorNotePatchMax)
	}

	return fmt.Sprintf("[AI error %s]\nAutomatic processing failed.\nError: %s\nPlanned patch: %s",
		noteTimestamp(), compact, patchText)
}

func noteTimestamp() string {
	return nowUTC().Format("2006-01-02 15:04:05Z")
}

func fieldLabel(field string, value any, reverse map[types.EntityKind]map[int]string) string {
	switch field {
	case types.FieldDocumentType:
		return entityLabel(value, reverse[types.KindDocumentType])
	case types.FieldCorrespondent:
		return entityLabel(value, reverse[types.KindCorrespondent])
	case types.FieldStoragePath:
		return entityLabel(value, reverse[types.KindStoragePath])
	case types.FieldTags:
		ids, ok := value.([]int)
		if !ok || len(ids) == 0 {
			return "-"
		}
		labels := make([]string, 0, len(ids))
		for _, id := range ids {
			labels = append(labels, entityLabel(id, reverse[types.KindTag]))
		}
		sort.Strings(labels)
		return strings.Join(labels, ", ")
	default:
		return fmt.Sprint(value)
	}
}

func entityLabel(value any, reverse map[int]string) string {
	id, ok := value.(int)
	if !ok {
		return fmt.Sprint(value)
	}
	if label, ok := reverse[id]; ok {
		return label
	}
	return fmt.Sprintf("id:%d", id)
}

// shorten truncates text to at most limit bytes, marking the cut. The cut
// backs up to a rune boundary so notes never carry a split rune.
func shorten(text string, limit int) string {
	if limit <= 3 || len(text) <= limit {
		return text
	}
	cut := limit - 3
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "..."
}
