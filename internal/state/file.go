// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pdiddy/papersort/pkg/types"
)

// FilePaths names the four JSON state files of the file backend.
type FilePaths struct {
	Metrics    string
	RunHistory string
	Quarantine string
	PatchCache string
}

// FileStore keeps state in plain JSON files. The quarantine file maps
// document id strings to epoch seconds, the patch cache maps id strings to
// raw patches. Unreadable files are treated as empty with a warning so a
// corrupted state file never blocks a run.
type FileStore struct {
	paths FilePaths
	log   *slog.Logger
}

func NewFileStore(paths FilePaths, log *slog.Logger) *FileStore {
	return &FileStore{paths: paths, log: log}
}

// readJSON fills out from path, treating a missing or corrupt file as
// absent state.
func (s *FileStore) readJSON(path string, out any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		s.log.Warn("state file unreadable, starting empty", "path", path, "error", err)
	}
	return nil
}

func (s *FileStore) writeJSON(path string, value any) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating state directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func (s *FileStore) LoadQuarantine() (map[int]time.Time, error) {
	raw := map[string]int64{}
	if err := s.readJSON(s.paths.Quarantine, &raw); err != nil {
		return nil, err
	}
	out := make(map[int]time.Time, len(raw))
	for key, epoch := range raw {
		id, err := strconv.Atoi(key)
		if err != nil {
			s.log.Warn("skipping quarantine entry with non-numeric id", "id", key)
			continue
		}
		out[id] = time.Unix(epoch, 0)
	}
	return out, nil
}

func (s *FileStore) SaveQuarantine(entries map[int]time.Time) error {
	raw := make(map[string]int64, len(entries))
	for id, retryAfter := range entries {
		raw[strconv.Itoa(id)] = retryAfter.Unix()
	}
	return s.writeJSON(s.paths.Quarantine, raw)
}

func (s *FileStore) LoadPatchCache() (map[int]types.Patch, error) {
	raw := map[string]map[string]any{}
	if err := s.readJSON(s.paths.PatchCache, &raw); err != nil {
		return nil, err
	}
	out := make(map[int]types.Patch, len(raw))
	for key, patch := range raw {
		id, err := strconv.Atoi(key)
		if err != nil {
			s.log.Warn("skipping cached patch with non-numeric id", "id", key)
			continue
		}
		out[id] = types.NormalizePatch(patch)
	}
	return out, nil
}

func (s *FileStore) SavePatchCache(entries map[int]types.Patch) error {
	raw := make(map[string]types.Patch, len(entries))
	for id, patch := range entries {
		raw[strconv.Itoa(id)] = patch
	}
	return s.writeJSON(s.paths.PatchCache, raw)
}

func (s *FileStore) LoadMetrics() (types.MetricsSnapshot, error) {
	var snapshot types.MetricsSnapshot
	if err := s.readJSON(s.paths.Metrics, &snapshot); err != nil {
		return types.MetricsSnapshot{}, err
	}
	return snapshot, nil
}

func (s *FileStore) SaveMetrics(snapshot types.MetricsSnapshot) error {
	return s.writeJSON(s.paths.Metrics, snapshot)
}

func (s *FileStore) AppendRunRecord(record types.RunRecord) error {
	runs, err := s.ListRuns()
	if err != nil {
		return err
	}
	runs = append(runs, record)
	if len(runs) > runHistoryLimit {
		runs = runs[len(runs)-runHistoryLimit:]
	}
	return s.writeJSON(s.paths.RunHistory, runs)
}

func (s *FileStore) ListRuns() ([]types.RunRecord, error) {
	var runs []types.RunRecord
	if err := s.readJSON(s.paths.RunHistory, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

func (s *FileStore) Close() error { return nil }
