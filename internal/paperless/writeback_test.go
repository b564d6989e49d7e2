// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package paperless

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pdiddy/papersort/pkg/types"
)

func samplePatch() types.Patch {
	return types.Patch{
		types.FieldDocumentType: 3,
		types.FieldCreated:      "2024-05-01",
		types.FieldTags:         []int{1, 2},
	}
}

func decodePatch(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		t.Fatalf("decoding patch body: %v", err)
	}
	return body
}

// --- UpdateDocument ---

func TestUpdateDocument(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotBody = decodePatch(t, r)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	if err := testClient(ts).UpdateDocument(t.Context(), 12, samplePatch()); err != nil {
		t.Fatalf("UpdateDocument: %v", err)
	}
	if gotPath != "/api/documents/12/" {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody[types.FieldCreated] != "2024-05-01" {
		t.Errorf("body = %v, want full patch", gotBody)
	}
}

func TestUpdateDocumentClientErrorNoCascade(t *testing.T) {
	fastRetries(t)

	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusForbidden)
	}))
	defer ts.Close()

	err := testClient(ts).UpdateDocument(t.Context(), 12, samplePatch())
	if err == nil {
		t.Fatal("expected error")
	}
	var se *StoreError
	if !errors.As(err, &se) {
		t.Fatalf("error = %T, want *StoreError", err)
	}
	// 403 is retried but never triggers the fallback cascade.
	if calls != 3 {
		t.Errorf("calls = %d, want plain retry budget", calls)
	}
	if IsTagsFieldFailure(err) {
		t.Error("client error must not read as tags failure")
	}
}

func TestUpdateDocumentFallbackDropsCreated(t *testing.T) {
	fastRetries(t)

	var accepted map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := decodePatch(t, r)
		if _, hasCreated := body[types.FieldCreated]; hasCreated {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		accepted = body
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	if err := testClient(ts).UpdateDocument(t.Context(), 12, samplePatch()); err != nil {
		t.Fatalf("UpdateDocument: %v, want fallback without created to land", err)
	}
	if accepted == nil {
		t.Fatal("no reduced patch was accepted")
	}
	if _, ok := accepted[types.FieldDocumentType]; !ok {
		t.Errorf("accepted = %v, should keep the remaining fields", accepted)
	}
	if _, ok := accepted[types.FieldTags]; !ok {
		t.Errorf("accepted = %v, should keep tags", accepted)
	}
}

func TestUpdateDocumentFieldByFieldPartial(t *testing.T) {
	fastRetries(t)

	var singles []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := decodePatch(t, r)
		if len(body) > 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		for field := range body {
			singles = append(singles, field)
			if field == types.FieldTags {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	// Every multi-field patch fails, including the reduced fallbacks.
	// Single fields succeed except tags.
	patch := samplePatch()
	patch[types.FieldCorrespondent] = 7
	if err := testClient(ts).UpdateDocument(t.Context(), 12, patch); err != nil {
		t.Fatalf("UpdateDocument: %v, want partial field-by-field success", err)
	}
	want := []string{types.FieldDocumentType, types.FieldCorrespondent, types.FieldCreated, types.FieldTags}
	if len(singles) != len(want) {
		t.Fatalf("single-field attempts = %v, want %v", singles, want)
	}
	for i, field := range want {
		if singles[i] != field {
			t.Errorf("attempt %d = %q, want %q (patch field order)", i, singles[i], field)
		}
	}
}

func TestUpdateDocumentTagsOnlyRejection(t *testing.T) {
	fastRetries(t)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "tag constraint violated")
	}))
	defer ts.Close()

	patch := types.Patch{types.FieldTags: []int{1, 2}}
	err := testClient(ts).UpdateDocument(t.Context(), 12, patch)
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsTagsFieldFailure(err) {
		t.Errorf("error = %q, want tags field analysis marker", err)
	}
	if !strings.Contains(err.Error(), "tag constraint violated") {
		t.Errorf("error = %q, should carry the store's message", err)
	}
}

func TestUpdateDocumentAllFieldsRejected(t *testing.T) {
	fastRetries(t)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	err := testClient(ts).UpdateDocument(t.Context(), 12, samplePatch())
	if err == nil {
		t.Fatal("expected error")
	}
	for _, field := range []string{types.FieldDocumentType, types.FieldCreated, types.FieldTags} {
		if !strings.Contains(err.Error(), field+":") {
			t.Errorf("error = %q, field analysis should name %s", err, field)
		}
	}
}

// --- fallbackPatches ---

func TestFallbackPatches(t *testing.T) {
	tests := []struct {
		name  string
		patch types.Patch
		want  int
	}{
		{"created and tags", samplePatch(), 3},
		{"created only alongside entity", types.Patch{types.FieldCreated: "2024-01-01", types.FieldCorrespondent: 2}, 1},
		{"tags only", types.Patch{types.FieldTags: []int{1}}, 0},
		{"no droppable fields", types.Patch{types.FieldDocumentType: 3}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := fallbackPatches(tt.patch)
			if len(got) != tt.want {
				t.Errorf("len = %d, want %d (%v)", len(got), tt.want, got)
			}
			for _, fb := range got {
				if fb.patch.IsEmpty() {
					t.Error("empty fallback patch produced")
				}
			}
		})
	}
}

// --- UpdateTags ---

func TestUpdateTagsSingleAttempt(t *testing.T) {
	fastRetries(t)

	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	if err := testClient(ts).UpdateTags(t.Context(), 12, []int{1, 9}); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, failure-path tagging must not retry", calls)
	}
}

func TestUpdateTagsPayload(t *testing.T) {
	var gotBody map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody = decodePatch(t, r)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	if err := testClient(ts).UpdateTags(t.Context(), 12, []int{1, 9}); err != nil {
		t.Fatalf("UpdateTags: %v", err)
	}
	tags, ok := gotBody[types.FieldTags].([]any)
	if !ok || len(tags) != 2 {
		t.Errorf("body = %v, want tags payload", gotBody)
	}
}

// --- AddNote ---

func TestAddNote(t *testing.T) {
	var gotPath, gotNote string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decoding note body: %v", err)
		}
		gotNote = body["note"]
		w.WriteHeader(http.StatusCreated)
	}))
	defer ts.Close()

	if err := testClient(ts).AddNote(t.Context(), 12, "classified automatically"); err != nil {
		t.Fatalf("AddNote: %v", err)
	}
	if gotPath != "/api/documents/12/notes/" {
		t.Errorf("path = %q", gotPath)
	}
	if gotNote != "classified automatically" {
		t.Errorf("note = %q", gotNote)
	}
}
