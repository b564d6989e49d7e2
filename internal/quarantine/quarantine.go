// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package quarantine tracks documents whose processing failed. Each entry
// holds a retry-after time; while it lies in the future the document is
// skipped. Tags-only write-back failures get a longer cooldown and keep
// their patch cached, so the next eligible run can replay the patch
// without paying for another model call.
package quarantine

import (
	"log/slog"
	"sort"
	"time"

	"github.com/pdiddy/papersort/internal/state"
	"github.com/pdiddy/papersort/pkg/types"
)

// now is a hook for tests.
var now = time.Now

// State is the in-memory quarantine for one run. Load it at run start,
// mutate as documents succeed or fail, Save at run end.
type State struct {
	store state.Store
	log   *slog.Logger

	retryAfter map[int]time.Time
	patchCache map[int]types.Patch

	cooldown         time.Duration
	tagsOnlyCooldown time.Duration
}

// Load reads the persisted quarantine and prunes entries whose cooldown
// has already expired, keeping the state files small.
func Load(store state.Store, cooldown, tagsOnlyCooldown time.Duration, log *slog.Logger) (*State, error) {
	retryAfter, err := store.LoadQuarantine()
	if err != nil {
		return nil, err
	}
	patchCache, err := store.LoadPatchCache()
	if err != nil {
		return nil, err
	}

	current := now()
	for id, retryAt := range retryAfter {
		if !retryAt.After(current) {
			delete(retryAfter, id)
		}
	}

	return &State{
		store:            store,
		log:              log,
		retryAfter:       retryAfter,
		patchCache:       patchCache,
		cooldown:         cooldown,
		tagsOnlyCooldown: tagsOnlyCooldown,
	}, nil
}

// SkippedUntil reports whether the document is still quarantined and until
// when. An expired entry is released on the spot.
func (s *State) SkippedUntil(docID int) (time.Time, bool) {
	retryAt, ok := s.retryAfter[docID]
	if !ok {
		return time.Time{}, false
	}
	if retryAt.After(now()) {
		return retryAt, true
	}
	delete(s.retryAfter, docID)
	return time.Time{}, false
}

// CachedPatch returns the patch kept from a previous tags-only failure.
func (s *State) CachedPatch(docID int) (types.Patch, bool) {
	patch, ok := s.patchCache[docID]
	return patch, ok
}

// Has reports whether the document holds a quarantine entry or a cached
// patch.
func (s *State) Has(docID int) bool {
	if _, ok := s.retryAfter[docID]; ok {
		return true
	}
	_, ok := s.patchCache[docID]
	return ok
}

// Release removes the document from the quarantine and drops its cached
// patch. Called after a successful update.
func (s *State) Release(docID int) {
	delete(s.retryAfter, docID)
	delete(s.patchCache, docID)
}

// MarkFailure quarantines the document and returns the retry-after time.
// A tags-only write-back failure gets the extended cooldown when it is
// longer, and the rejected patch is cached for replay.
func (s *State) MarkFailure(docID int, patch types.Patch, tagsOnly bool) time.Time {
	cooldown := s.cooldown
	if tagsOnly && s.tagsOnlyCooldown > cooldown {
		cooldown = s.tagsOnlyCooldown
		if !patch.IsEmpty() {
			s.patchCache[docID] = patch.Clone()
		}
		s.log.Warn("tags-only failure, extending quarantine",
			"document", docID, "cooldown", cooldown)
	}

	retryAt := now().Add(cooldown)
	s.retryAfter[docID] = retryAt
	return retryAt
}

// MarkRetryFailure re-quarantines a document whose cached patch failed
// again, using the longest configured cooldown. The patch stays cached.
func (s *State) MarkRetryFailure(docID int) time.Time {
	retryAt := now().Add(max(s.cooldown, s.tagsOnlyCooldown))
	s.retryAfter[docID] = retryAt
	return retryAt
}

// Clear empties the quarantine and the patch cache, returning how many
// quarantined documents were released.
func (s *State) Clear() int {
	n := len(s.retryAfter)
	s.retryAfter = map[int]time.Time{}
	s.patchCache = map[int]types.Patch{}
	return n
}

// Entry is one quarantined document for reporting.
type Entry struct {
	DocID      int
	RetryAfter time.Time
	HasPatch   bool
}

// Entries lists the quarantine sorted by document id.
func (s *State) Entries() []Entry {
	out := make([]Entry, 0, len(s.retryAfter))
	for id, retryAt := range s.retryAfter {
		_, hasPatch := s.patchCache[id]
		out = append(out, Entry{DocID: id, RetryAfter: retryAt, HasPatch: hasPatch})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocID < out[j].DocID })
	return out
}

// Save persists the quarantine and the patch cache.
func (s *State) Save() error {
	if err := s.store.SaveQuarantine(s.retryAfter); err != nil {
		return err
	}
	return s.store.SavePatchCache(s.patchCache)
}
