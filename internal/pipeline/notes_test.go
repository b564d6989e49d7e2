// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/pdiddy/papersort/pkg/types"
)

func frozenNotes(t *testing.T) {
	t.Helper()
	old := nowUTC
	nowUTC = func() time.Time { return time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC) }
	t.Cleanup(func() { nowUTC = old })
}

// --- BuildUpdateNote ---

func TestBuildUpdateNote(t *testing.T) {
	frozenNotes(t)

	patch := types.Patch{
		types.FieldDocumentType:  10,
		types.FieldCorrespondent: 20,
		types.FieldCreated:       "2024-05-01",
	}
	patch.SetTags([]int{2, 3})
	c := types.Classification{
		Rationale: "Invoice header and sender address match.",
		Summary:   "Invoice from ACME for May.",
	}

	note := BuildUpdateNote(c, patch, testMappings(), NoteOptions{
		MaxChars:        500,
		IncludeSummary:  true,
		SummaryMaxChars: 300,
	})

	if !strings.HasPrefix(note, "[AI update 2026-08-26 12:00:00Z]") {
		t.Errorf("note header wrong: %q", note)
	}
	for _, want := range []string{
		"Summary: Invoice from ACME for May.",
		"Rationale: Invoice header and sender address match.",
		"- document_type: invoice",
		"- correspondent: acme gmbh",
		"- created: 2024-05-01",
		"- tags: processed, taxes",
	} {
		if !strings.Contains(note, want) {
			t.Errorf("note missing %q:\n%s", want, note)
		}
	}
}

func TestBuildUpdateNoteDefaults(t *testing.T) {
	frozenNotes(t)

	note := BuildUpdateNote(types.Classification{}, types.Patch{}, testMappings(), NoteOptions{MaxChars: 100})

	if !strings.Contains(note, "Rationale: No rationale given.") {
		t.Errorf("missing rationale default:\n%s", note)
	}
	if strings.Contains(note, "Summary:") {
		t.Errorf("summary rendered although disabled:\n%s", note)
	}
	if !strings.Contains(note, "Changes:\n- none") {
		t.Errorf("missing empty-changes marker:\n%s", note)
	}
}

func TestBuildUpdateNoteUnknownIDs(t *testing.T) {
	frozenNotes(t)

	patch := types.Patch{types.FieldDocumentType: 999}
	note := BuildUpdateNote(types.Classification{}, patch, testMappings(), NoteOptions{MaxChars: 100})

	if !strings.Contains(note, "- document_type: id:999") {
		t.Errorf("unknown id not rendered as fallback:\n%s", note)
	}
}

func TestBuildUpdateNoteShortensRationale(t *testing.T) {
	frozenNotes(t)

	c := types.Classification{Rationale: strings.Repeat("x", 200)}
	note := BuildUpdateNote(c, types.Patch{}, testMappings(), NoteOptions{MaxChars: 50})

	if !strings.Contains(note, strings.Repeat("x", 47)+"...") {
		t.Errorf("rationale not truncated:\n%s", note)
	}
	if strings.Contains(note, strings.Repeat("x", 48)) {
		t.Errorf("rationale longer than limit:\n%s", note)
	}
}

// --- BuildErrorNote ---

func TestBuildErrorNote(t *testing.T) {
	frozenNotes(t)

	patch := types.Patch{types.FieldDocumentType: 10}
	note := BuildErrorNote("update   failed:\n  HTTP 500", patch)

	if !strings.HasPrefix(note, "[AI error 2026-08-26 12:00:00Z]") {
		t.Errorf("note header wrong: %q", note)
	}
	if !strings.Contains(note, "Error: update failed: HTTP 500") {
		t.Errorf("message not compacted:\n%s", note)
	}
	if !strings.Contains(note, "Planned patch: map[document_type:10]") {
		t.Errorf("patch not rendered:\n%s", note)
	}
}

func TestBuildErrorNoteWithoutPatch(t *testing.T) {
	frozenNotes(t)

	note := BuildErrorNote("boom", nil)
	if !strings.Contains(note, "Planned patch: -") {
		t.Errorf("missing empty-patch marker:\n%s", note)
	}
}

// --- shorten ---

func TestShorten(t *testing.T) {
	tests := []struct {
		text  string
		limit int
		want  string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is too long", 10, "this is..."},
		{"no limit", 0, "no limit"},
		// Cut position 7 lands inside the fourth two-byte rune; the cut
		// backs up to the rune boundary.
		{strings.Repeat("ä", 10), 10, "äää..."},
	}
	for _, tt := range tests {
		got := shorten(tt.text, tt.limit)
		if got != tt.want {
			t.Errorf("shorten(%q, %d) = %q, want %q", tt.text, tt.limit, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("shorten(%q, %d) produced invalid UTF-8", tt.text, tt.limit)
		}
	}
}
