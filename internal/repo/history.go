package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/miradorstack/mirador-investigator/internal/models"
)

const historySchema = `
CREATE TABLE IF NOT EXISTS investigation_runs (
	run_id            TEXT PRIMARY KEY,
	fingerprint       TEXT NOT NULL,
	question          TEXT NOT NULL,
	service           TEXT NOT NULL DEFAULT '',
	environment       TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL,
	validation_status TEXT NOT NULL DEFAULT '',
	confidence_score  REAL NOT NULL DEFAULT 0,
	confidence_tier   TEXT NOT NULL DEFAULT '',
	evidence_count    INTEGER NOT NULL DEFAULT 0,
	missing_signals   TEXT NOT NULL DEFAULT '[]',
	candidates        TEXT NOT NULL DEFAULT '[]',
	attempt           INTEGER NOT NULL DEFAULT 1,
	error             TEXT NOT NULL DEFAULT '',
	started_at        INTEGER NOT NULL,
	completed_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_fingerprint ON investigation_runs(fingerprint, started_at);
CREATE INDEX IF NOT EXISTS idx_runs_service ON investigation_runs(service, started_at);
`

// SQLiteHistory persists run records in a SQLite database.
type SQLiteHistory struct {
	db *sql.DB
}

// OpenSQLiteHistory opens (or creates) the database at path and applies the schema.
// Use ":memory:" for an ephemeral store.
func OpenSQLiteHistory(ctx context.Context, path string) (*SQLiteHistory, error) {
	if path == "" {
		return nil, errors.New("history path required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, historySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	return &SQLiteHistory{db: db}, nil
}

// Append inserts rec. Appending an existing run id fails.
func (h *SQLiteHistory) Append(ctx context.Context, rec models.RunRecord) error {
	missing, err := json.Marshal(nonNil(rec.MissingSignals))
	if err != nil {
		return err
	}
	candidates, err := json.Marshal(nonNil(rec.Candidates))
	if err != nil {
		return err
	}
	_, err = h.db.ExecContext(ctx, `INSERT INTO investigation_runs
		(run_id, fingerprint, question, service, environment, status, validation_status,
		 confidence_score, confidence_tier, evidence_count, missing_signals, candidates,
		 attempt, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Fingerprint, rec.Question, rec.Service, rec.Environment, string(rec.Status),
		string(rec.ValidationStatus), rec.ConfidenceScore, string(rec.ConfidenceTier), rec.EvidenceCount,
		string(missing), string(candidates), rec.Attempt, rec.Error,
		rec.StartedAt.UnixNano(), rec.CompletedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("append run %s: %w", rec.RunID, err)
	}
	return nil
}

// Query returns matching records, newest first.
func (h *SQLiteHistory) Query(ctx context.Context, f models.RunFilter) ([]models.RunRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, f.RunID)
	}
	if f.Fingerprint != "" {
		where = append(where, "fingerprint = ?")
		args = append(args, f.Fingerprint)
	}
	if f.Service != "" {
		where = append(where, "service = ?")
		args = append(args, f.Service)
	}
	if f.Environment != "" {
		where = append(where, "environment = ?")
		args = append(args, f.Environment)
	}
	if !f.Since.IsZero() {
		where = append(where, "started_at >= ?")
		args = append(args, f.Since.UnixNano())
	}
	if !f.Until.IsZero() {
		where = append(where, "started_at <= ?")
		args = append(args, f.Until.UnixNano())
	}

	query := `SELECT run_id, fingerprint, question, service, environment, status, validation_status,
		confidence_score, confidence_tier, evidence_count, missing_signals, candidates,
		attempt, error, started_at, completed_at FROM investigation_runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, run_id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []models.RunRecord
	for rows.Next() {
		var (
			rec                     models.RunRecord
			status, vstatus, tier   string
			missing, candidates     string
			startedNano, completedN int64
		)
		if err := rows.Scan(&rec.RunID, &rec.Fingerprint, &rec.Question, &rec.Service, &rec.Environment,
			&status, &vstatus, &rec.ConfidenceScore, &tier, &rec.EvidenceCount, &missing, &candidates,
			&rec.Attempt, &rec.Error, &startedNano, &completedN); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		rec.Status = models.RunStatus(status)
		rec.ValidationStatus = models.ValidationStatus(vstatus)
		rec.ConfidenceTier = models.ConfidenceTier(tier)
		if err := json.Unmarshal([]byte(missing), &rec.MissingSignals); err != nil {
			return nil, fmt.Errorf("decode missing signals: %w", err)
		}
		if err := json.Unmarshal([]byte(candidates), &rec.Candidates); err != nil {
			return nil, fmt.Errorf("decode candidates: %w", err)
		}
		rec.StartedAt = time.Unix(0, startedNano).UTC()
		rec.CompletedAt = time.Unix(0, completedN).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (h *SQLiteHistory) Close() error {
	return h.db.Close()
}

// MemoryHistory keeps run records in process memory.
type MemoryHistory struct {
	mu      sync.RWMutex
	records []models.RunRecord
}

// NewMemoryHistory returns an empty in-memory store.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{}
}

// Append stores rec. Appending an existing run id fails.
func (h *MemoryHistory) Append(_ context.Context, rec models.RunRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, existing := range h.records {
		if existing.RunID == rec.RunID {
			return fmt.Errorf("append run %s: already recorded", rec.RunID)
		}
	}
	rec.MissingSignals = append([]string(nil), rec.MissingSignals...)
	rec.Candidates = append([]string(nil), rec.Candidates...)
	h.records = append(h.records, rec)
	return nil
}

// Query returns matching records, newest first.
func (h *MemoryHistory) Query(_ context.Context, f models.RunFilter) ([]models.RunRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]models.RunRecord, 0)
	for _, rec := range h.records {
		if f.Matches(rec) {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].RunID < out[j].RunID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Close is a no-op.
func (h *MemoryHistory) Close() error { return nil }

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
