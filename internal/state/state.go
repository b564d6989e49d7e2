// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package state persists pipeline state across runs: the failure
// quarantine, the cached patches awaiting replay, run metrics, and the
// run history. Two backends exist; plain JSON files as the default, and
// SQLite for installations that want a single state database.
package state

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/pdiddy/papersort/pkg/types"
)

// runHistoryLimit caps the persisted run history in both backends.
const runHistoryLimit = 100

// Store is the persistence surface the pipeline depends on. Loads are
// tolerant: missing state yields empty values, never an error.
type Store interface {
	// LoadQuarantine returns document id to retry-after time.
	LoadQuarantine() (map[int]time.Time, error)
	SaveQuarantine(map[int]time.Time) error

	// LoadPatchCache returns the patches kept for quarantined documents.
	LoadPatchCache() (map[int]types.Patch, error)
	SavePatchCache(map[int]types.Patch) error

	LoadMetrics() (types.MetricsSnapshot, error)
	SaveMetrics(types.MetricsSnapshot) error

	// AppendRunRecord adds a run to the history, trimming entries
	// beyond the retention limit oldest-first.
	AppendRunRecord(types.RunRecord) error
	ListRuns() ([]types.RunRecord, error)

	Close() error
}

// Open selects the backend named by the configuration.
func Open(cfg *types.Config, log *slog.Logger) (Store, error) {
	switch cfg.StateBackend {
	case types.StateBackendSQLite:
		return OpenSQLiteStore(cfg.StateDBFile)
	case types.StateBackendFile, "":
		return NewFileStore(FilePaths{
			Metrics:    cfg.MetricsFile,
			RunHistory: cfg.RunHistoryFile,
			Quarantine: cfg.FailedDocumentsFile,
			PatchCache: cfg.FailedPatchCacheFile,
		}, log), nil
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.StateBackend)
	}
}
