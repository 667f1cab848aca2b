package gositemapindexnow

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id             TEXT PRIMARY KEY,
	started_at     TEXT NOT NULL,
	outcome        TEXT NOT NULL,
	sitemap_hash   TEXT NOT NULL,
	new_count      INTEGER NOT NULL,
	changed_count  INTEGER NOT NULL,
	deleted_count  INTEGER NOT NULL,
	submitted      INTEGER NOT NULL,
	batches        INTEGER NOT NULL,
	failed_batches INTEGER NOT NULL,
	ok             INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS run_urls (
	run_id TEXT NOT NULL REFERENCES runs(id),
	url    TEXT NOT NULL,
	change_kind TEXT NOT NULL CHECK (change_kind IN ('new', 'changed', 'deleted'))
);
CREATE INDEX IF NOT EXISTS run_urls_run_id ON run_urls(run_id);
`

// Fixed-width so that text order is chronological.
const auditTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// AuditRun is a stored run summary.
type AuditRun struct {
	ID            string
	StartedAt     time.Time
	Outcome       Outcome
	SitemapHash   string
	New           int
	Changed       int
	Deleted       int
	Submitted     int
	Batches       int
	FailedBatches int
	OK            bool
}

// AuditStore keeps a queryable record of runs in a SQLite database.
type AuditStore struct {
	db   *sql.DB
	path string
}

var _ AuditRecorder = (*AuditStore)(nil)

// OpenAuditStore opens (creating if needed) the SQLite database at path.
func OpenAuditStore(ctx context.Context, path string) (*AuditStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &ErrStorage{Op: "open audit db", Path: path, Err: err}
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, auditSchema); err != nil {
		db.Close()
		return nil, &ErrStorage{Op: "create audit schema", Path: path, Write: true, Err: err}
	}
	return &AuditStore{db: db, path: path}, nil
}

// Close releases the database.
func (a *AuditStore) Close() error {
	return a.db.Close()
}

// RecordRun stores result and the URLs it classified in one transaction.
func (a *AuditStore) RecordRun(ctx context.Context, result *RunResult) error {
	if result == nil {
		return nil
	}
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return &ErrStorage{Op: "begin audit tx", Path: a.path, Write: true, Err: err}
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, outcome, sitemap_hash, new_count, changed_count,
			deleted_count, submitted, batches, failed_batches, ok)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.RunID,
		result.StartedAt.UTC().Format(auditTimeLayout),
		string(result.Outcome),
		result.Hash,
		len(result.Changes.New),
		len(result.Changes.Changed),
		len(result.Changes.Deleted),
		result.Report.URLs,
		result.Report.Batches,
		len(result.Report.Failures),
		result.OK,
	)
	if err != nil {
		return &ErrStorage{Op: "insert audit run", Path: a.path, Write: true, Err: err}
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO run_urls (run_id, url, change_kind) VALUES (?, ?, ?)`)
	if err != nil {
		return &ErrStorage{Op: "prepare audit urls", Path: a.path, Write: true, Err: err}
	}
	defer stmt.Close()

	groups := []struct {
		change string
		urls   []string
	}{
		{"new", result.Changes.New},
		{"changed", result.Changes.Changed},
		{"deleted", result.Changes.Deleted},
	}
	for _, group := range groups {
		for _, u := range group.urls {
			if _, err := stmt.ExecContext(ctx, result.RunID, u, group.change); err != nil {
				return &ErrStorage{Op: "insert audit url", Path: a.path, Write: true, Err: err}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return &ErrStorage{Op: "commit audit tx", Path: a.path, Write: true, Err: err}
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (a *AuditStore) RecentRuns(ctx context.Context, limit int) ([]AuditRun, error) {
	if limit <= 0 {
		limit = DefaultMaxHistory
	}
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, started_at, outcome, sitemap_hash, new_count, changed_count, deleted_count,
			submitted, batches, failed_batches, ok
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, &ErrStorage{Op: "query audit runs", Path: a.path, Err: err}
	}
	defer rows.Close()

	var runs []AuditRun
	for rows.Next() {
		var (
			run       AuditRun
			startedAt string
			outcome   string
		)
		if err := rows.Scan(&run.ID, &startedAt, &outcome, &run.SitemapHash, &run.New, &run.Changed,
			&run.Deleted, &run.Submitted, &run.Batches, &run.FailedBatches, &run.OK); err != nil {
			return nil, &ErrStorage{Op: "scan audit run", Path: a.path, Err: err}
		}
		run.Outcome = Outcome(outcome)
		if run.StartedAt, err = time.Parse(auditTimeLayout, startedAt); err != nil {
			return nil, fmt.Errorf("parse audit timestamp %q: %w", startedAt, err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, &ErrStorage{Op: "iterate audit runs", Path: a.path, Err: err}
	}
	return runs, nil
}

// URLsForRun returns the URLs recorded for runID with the given change kind.
func (a *AuditStore) URLsForRun(ctx context.Context, runID, change string) ([]string, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT url FROM run_urls WHERE run_id = ? AND change_kind = ? ORDER BY rowid`, runID, change)
	if err != nil {
		return nil, &ErrStorage{Op: "query audit urls", Path: a.path, Err: err}
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, &ErrStorage{Op: "scan audit url", Path: a.path, Err: err}
		}
		urls = append(urls, u)
	}
	return urls, rows.Err()
}
