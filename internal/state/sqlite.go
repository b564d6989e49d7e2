// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/papersort/pkg/types"
)

// SQLiteStore keeps all pipeline state in one database file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens or creates the state database and its schema.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating state directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS quarantine (
			doc_id INTEGER PRIMARY KEY,
			retry_after INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS patch_cache (
			doc_id INTEGER PRIMARY KEY,
			patch TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS metrics (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			last_run TEXT NOT NULL,
			totals TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS run_history (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			model TEXT,
			scanned INTEGER,
			updated INTEGER,
			skipped INTEGER,
			failed INTEGER,
			prompt_tokens INTEGER,
			completion_tokens INTEGER,
			total_tokens INTEGER,
			cost_eur REAL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) LoadQuarantine() (map[int]time.Time, error) {
	rows, err := s.db.Query(`SELECT doc_id, retry_after FROM quarantine`)
	if err != nil {
		return nil, fmt.Errorf("loading quarantine: %w", err)
	}
	defer rows.Close()

	out := map[int]time.Time{}
	for rows.Next() {
		var id int
		var epoch int64
		if err := rows.Scan(&id, &epoch); err != nil {
			return nil, fmt.Errorf("scanning quarantine row: %w", err)
		}
		out[id] = time.Unix(epoch, 0)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveQuarantine(entries map[int]time.Time) error {
	return s.replaceTable("quarantine", func(tx *sql.Tx) error {
		for id, retryAfter := range entries {
			if _, err := tx.Exec(`INSERT INTO quarantine (doc_id, retry_after) VALUES (?, ?)`, id, retryAfter.Unix()); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteStore) LoadPatchCache() (map[int]types.Patch, error) {
	rows, err := s.db.Query(`SELECT doc_id, patch FROM patch_cache`)
	if err != nil {
		return nil, fmt.Errorf("loading patch cache: %w", err)
	}
	defer rows.Close()

	out := map[int]types.Patch{}
	for rows.Next() {
		var id int
		var blob string
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning patch row: %w", err)
		}
		var raw map[string]any
		if err := json.Unmarshal([]byte(blob), &raw); err != nil {
			return nil, fmt.Errorf("decoding cached patch for document %d: %w", id, err)
		}
		out[id] = types.NormalizePatch(raw)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SavePatchCache(entries map[int]types.Patch) error {
	return s.replaceTable("patch_cache", func(tx *sql.Tx) error {
		for id, patch := range entries {
			blob, err := json.Marshal(patch)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(`INSERT INTO patch_cache (doc_id, patch) VALUES (?, ?)`, id, string(blob)); err != nil {
				return err
			}
		}
		return nil
	})
}

// replaceTable rewrites a whole state table inside one transaction.
func (s *SQLiteStore) replaceTable(table string, insert func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM ` + table); err != nil {
		tx.Rollback()
		return fmt.Errorf("clearing %s: %w", table, err)
	}
	if err := insert(tx); err != nil {
		tx.Rollback()
		return fmt.Errorf("writing %s: %w", table, err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) LoadMetrics() (types.MetricsSnapshot, error) {
	var lastRun, totals string
	err := s.db.QueryRow(`SELECT last_run, totals FROM metrics WHERE id = 1`).Scan(&lastRun, &totals)
	if err == sql.ErrNoRows {
		return types.MetricsSnapshot{}, nil
	}
	if err != nil {
		return types.MetricsSnapshot{}, fmt.Errorf("loading metrics: %w", err)
	}

	var snapshot types.MetricsSnapshot
	if err := json.Unmarshal([]byte(lastRun), &snapshot.LastRun); err != nil {
		return types.MetricsSnapshot{}, fmt.Errorf("decoding last run: %w", err)
	}
	if err := json.Unmarshal([]byte(totals), &snapshot.Totals); err != nil {
		return types.MetricsSnapshot{}, fmt.Errorf("decoding totals: %w", err)
	}
	return snapshot, nil
}

func (s *SQLiteStore) SaveMetrics(snapshot types.MetricsSnapshot) error {
	lastRun, err := json.Marshal(snapshot.LastRun)
	if err != nil {
		return err
	}
	totals, err := json.Marshal(snapshot.Totals)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO metrics (id, last_run, totals) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET last_run = excluded.last_run, totals = excluded.totals`,
		string(lastRun), string(totals))
	if err != nil {
		return fmt.Errorf("saving metrics: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendRunRecord(record types.RunRecord) error {
	_, err := s.db.Exec(`INSERT INTO run_history
		(run_id, finished_at, model, scanned, updated, skipped, failed,
		 prompt_tokens, completion_tokens, total_tokens, cost_eur)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.RunID, record.FinishedAt, record.Model,
		record.Scanned, record.Updated, record.Skipped, record.Failed,
		record.PromptTokens, record.CompletionTokens, record.TotalTokens, record.CostEUR)
	if err != nil {
		return fmt.Errorf("appending run record: %w", err)
	}
	_, err = s.db.Exec(`DELETE FROM run_history WHERE seq NOT IN
		(SELECT seq FROM run_history ORDER BY seq DESC LIMIT ?)`, runHistoryLimit)
	if err != nil {
		return fmt.Errorf("trimming run history: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListRuns() ([]types.RunRecord, error) {
	rows, err := s.db.Query(`SELECT run_id, finished_at, model, scanned, updated, skipped, failed,
		prompt_tokens, completion_tokens, total_tokens, cost_eur
		FROM run_history ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("loading run history: %w", err)
	}
	defer rows.Close()

	var runs []types.RunRecord
	for rows.Next() {
		var r types.RunRecord
		if err := rows.Scan(&r.RunID, &r.FinishedAt, &r.Model, &r.Scanned, &r.Updated, &r.Skipped, &r.Failed,
			&r.PromptTokens, &r.CompletionTokens, &r.TotalTokens, &r.CostEUR); err != nil {
			return nil, fmt.Errorf("scanning run record: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
