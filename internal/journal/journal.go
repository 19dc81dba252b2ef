// Package journal records the outcome of every sync run in SQLite so
// operators can see why an account stopped updating.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Outcome of a sync run.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Run is one journal row.
type Run struct {
	ID          uuid.UUID `json:"id"`
	User        string    `json:"user"`
	Account     string    `json:"account"`
	GameUID     string    `json:"game_uid,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Outcome     Outcome   `json:"outcome"`
	Stage       string    `json:"stage,omitempty"`
	Error       string    `json:"error,omitempty"`
	RecordCount int       `json:"record_count"`
}

// Journal is safe for concurrent use.
type Journal struct {
	db *sql.DB
}

// Open opens or creates the journal database at path and applies migrations.
// ":memory:" is accepted for tests.
func Open(ctx context.Context, path string) (*Journal, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, err
	}
	goose.SetLogger(goose.NopLogger())
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Record stores run, assigning an ID when it has none.
func (j *Journal) Record(ctx context.Context, run Run) (Run, error) {
	if run.ID.IsNil() {
		id, err := uuid.NewV7()
		if err != nil {
			return run, fmt.Errorf("generate run id: %w", err)
		}
		run.ID = id
	}
	_, err := j.db.ExecContext(ctx, `
INSERT INTO sync_runs (id, user_id, account, game_uid, started_at, finished_at, outcome, stage, error, record_count)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID.String(), run.User, run.Account, run.GameUID,
		formatTime(run.StartedAt), formatTime(run.FinishedAt),
		string(run.Outcome), run.Stage, run.Error, run.RecordCount,
	)
	if err != nil {
		return run, fmt.Errorf("record run: %w", err)
	}
	return run, nil
}

// Recent returns the latest runs of an account, newest first.
func (j *Journal) Recent(ctx context.Context, user, account string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id, user_id, account, game_uid, started_at, finished_at, outcome, stage, error, record_count
FROM sync_runs
WHERE user_id = ? AND account = ?
ORDER BY started_at DESC
LIMIT ?`, user, account, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r                 Run
			id, started, done string
			outcome           string
		)
		if err := rows.Scan(&id, &r.User, &r.Account, &r.GameUID, &started, &done, &outcome, &r.Stage, &r.Error, &r.RecordCount); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if r.ID, err = uuid.FromString(id); err != nil {
			return nil, fmt.Errorf("run id %q: %w", id, err)
		}
		if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("run %s started_at: %w", id, err)
		}
		if r.FinishedAt, err = time.Parse(time.RFC3339Nano, done); err != nil {
			return nil, fmt.Errorf("run %s finished_at: %w", id, err)
		}
		r.Outcome = Outcome(outcome)
		out = append(out, r)
	}
	return out, rows.Err()
}

// started_at sorts lexically, so every timestamp is stored in UTC with a
// fixed-width fraction.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}
