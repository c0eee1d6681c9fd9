// File: internal/store/journal.go
// Description: SQLite-backed journal of published context snapshots, used
// by the history command and for post-hoc inspection of what the agent was
// shown.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/nakurity/neurodesk/api/schemas"
	"github.com/nakurity/neurodesk/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at     TIMESTAMP NOT NULL,
	hash           TEXT NOT NULL,
	active_app     TEXT NOT NULL DEFAULT '',
	element_count  INTEGER NOT NULL,
	vision_summary TEXT NOT NULL DEFAULT '',
	snapshot_json  TEXT NOT NULL,
	rendered       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_created_at ON snapshots(created_at);
`

// Entry is one journaled snapshot row.
type Entry struct {
	ID            int64
	CreatedAt     time.Time
	Hash          string
	ActiveApp     string
	ElementCount  int
	VisionSummary string
	Rendered      string
}

// Journal persists published snapshots to a local SQLite database.
type Journal struct {
	db         *sql.DB
	maxEntries int
	logger     *zap.Logger
}

// Open creates or opens the journal database and applies the schema.
func Open(cfg config.JournalConfig, logger *zap.Logger) (*Journal, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("journal path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening journal database: %w", err)
	}
	// Single writer keeps SQLite happy under concurrent recording.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying journal schema: %w", err)
	}

	return &Journal{db: db, maxEntries: cfg.MaxEntries, logger: logger.Named("Journal")}, nil
}

// Record stores one published snapshot and prunes the table to the
// configured retention.
func (j *Journal) Record(ctx context.Context, snap *schemas.ContextSnapshot, hash string, rendered string) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	_, err = j.db.ExecContext(ctx,
		`INSERT INTO snapshots
		 (created_at, hash, active_app, element_count, vision_summary, snapshot_json, rendered)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		snap.Timestamp.UTC(), hash, snap.ActiveApplication,
		len(snap.Elements), snap.VisionSummary, string(payload), rendered)
	if err != nil {
		return fmt.Errorf("recording snapshot: %w", err)
	}

	if j.maxEntries > 0 {
		if err := j.prune(ctx); err != nil {
			j.logger.Warn("journal prune failed", zap.Error(err))
		}
	}
	return nil
}

func (j *Journal) prune(ctx context.Context) error {
	_, err := j.db.ExecContext(ctx,
		`DELETE FROM snapshots WHERE id NOT IN
		 (SELECT id FROM snapshots ORDER BY id DESC LIMIT ?)`, j.maxEntries)
	return err
}

// History returns the most recent entries, newest first.
func (j *Journal) History(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, created_at, hash, active_app, element_count, vision_summary, rendered
		 FROM snapshots ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.CreatedAt, &e.Hash, &e.ActiveApp,
			&e.ElementCount, &e.VisionSummary, &e.Rendered); err != nil {
			return nil, fmt.Errorf("scanning journal row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// EntryByID loads a single journal row, rendered text included.
func (j *Journal) EntryByID(ctx context.Context, id int64) (Entry, error) {
	var e Entry
	err := j.db.QueryRowContext(ctx,
		`SELECT id, created_at, hash, active_app, element_count, vision_summary, rendered
		 FROM snapshots WHERE id = ?`, id).Scan(&e.ID, &e.CreatedAt, &e.Hash,
		&e.ActiveApp, &e.ElementCount, &e.VisionSummary, &e.Rendered)
	if err == sql.ErrNoRows {
		return Entry{}, fmt.Errorf("no journal entry %d", id)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("loading journal entry %d: %w", id, err)
	}
	return e, nil
}

// Snapshot reconstructs the full snapshot stored under an entry ID.
func (j *Journal) Snapshot(ctx context.Context, id int64) (*schemas.ContextSnapshot, error) {
	var payload string
	err := j.db.QueryRowContext(ctx,
		`SELECT snapshot_json FROM snapshots WHERE id = ?`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no journal entry %d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading journal entry %d: %w", id, err)
	}
	var snap schemas.ContextSnapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return nil, fmt.Errorf("decoding journal entry %d: %w", id, err)
	}
	return &snap, nil
}

// Close releases the database handle.
func (j *Journal) Close() error {
	return j.db.Close()
}
