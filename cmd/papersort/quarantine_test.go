// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/pdiddy/papersort/internal/quarantine"
	"github.com/pdiddy/papersort/internal/state"
	"github.com/pdiddy/papersort/pkg/types"
)

func loadedQuarantine(t *testing.T) *quarantine.State {
	t.Helper()
	dir := t.TempDir()
	store := state.NewFileStore(state.FilePaths{
		Metrics:    filepath.Join(dir, "metrics.json"),
		RunHistory: filepath.Join(dir, "history.json"),
		Quarantine: filepath.Join(dir, "quarantine.json"),
		PatchCache: filepath.Join(dir, "patches.json"),
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	q, err := quarantine.Load(store, 12*time.Hour, 72*time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	q.MarkFailure(1, types.Patch{types.FieldTags: []int{4}}, true)
	q.MarkFailure(2, types.Patch{types.FieldDocumentType: 7}, false)
	return q
}

func TestReleaseDocumentsByID(t *testing.T) {
	q := loadedQuarantine(t)

	released, err := releaseDocuments(q, []string{"1", "99"})
	if err != nil {
		t.Fatalf("releaseDocuments: %v", err)
	}
	if released != 1 {
		t.Errorf("released = %d, want 1", released)
	}
	if q.Has(1) {
		t.Error("document 1 not released")
	}
	if !q.Has(2) {
		t.Error("document 2 released although not named")
	}
}

func TestReleaseDocumentsAll(t *testing.T) {
	q := loadedQuarantine(t)

	released, err := releaseDocuments(q, nil)
	if err != nil {
		t.Fatalf("releaseDocuments: %v", err)
	}
	if released != 2 {
		t.Errorf("released = %d, want 2", released)
	}
	if q.Has(1) || q.Has(2) {
		t.Error("quarantine not emptied")
	}
}

func TestReleaseDocumentsRejectsBadID(t *testing.T) {
	q := loadedQuarantine(t)

	if _, err := releaseDocuments(q, []string{"not-a-number"}); err == nil {
		t.Fatal("expected error for a non-numeric id")
	}
	if !q.Has(1) || !q.Has(2) {
		t.Error("documents released despite invalid argument")
	}
}
