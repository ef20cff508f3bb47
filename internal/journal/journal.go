// Package journal persists run reports and their failures in SQLite so
// failed records can be inspected after a run.
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/raphaelgruber/pbtransfer/internal/migrate"
)

//go:embed schema.sql
var schemaSQL string

// ErrNoRuns is returned when the journal holds no run yet.
var ErrNoRuns = errors.New("no runs recorded")

const timeLayout = time.RFC3339Nano

// Journal is a SQLite-backed run log.
type Journal struct {
	db *sql.DB
}

// Run is one recorded run.
type Run struct {
	ID          string
	Source      string
	Destination string
	Started     time.Time
	Finished    time.Time
	Collections int
	Failures    int
}

// Failure is one recorded failure.
type Failure struct {
	RunID      string
	Collection string
	RecordID   string
	Field      string
	Attachment string
	Stage      string
	Message    string
}

// Open creates or opens the journal at path.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect journal: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

// RecordRun stores a report with all of its results and failures in one
// transaction.
func (j *Journal) RecordRun(ctx context.Context, report *migrate.Report, source, destination string) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, source, destination, started_at, finished_at) VALUES (?, ?, ?, ?, ?)`,
		report.RunID, source, destination,
		report.Started.UTC().Format(timeLayout), report.Finished.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for i, res := range report.Results {
		var errText sql.NullString
		if res.Err != nil {
			errText = sql.NullString{String: res.Err.Error(), Valid: true}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO collection_results (
				run_id, position, collection, hierarchical, total, succeeded, failed,
				deleted, delete_failed, attachments_uploaded, attachments_failed,
				links_updated, links_dropped, links_failed, error, duration_ms
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			report.RunID, i, res.Collection, res.Hierarchical, res.Total, res.Succeeded, res.Failed,
			res.Deleted, res.DeleteFailed, res.AttachmentsUploaded, res.AttachmentsFailed,
			res.LinksUpdated, res.LinksDropped, res.LinksFailed, errText, res.Duration.Milliseconds())
		if err != nil {
			return fmt.Errorf("insert result %s: %w", res.Collection, err)
		}

		for _, f := range res.Failures {
			msg := ""
			if f.Err != nil {
				msg = f.Err.Error()
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO failures (run_id, collection, record_id, field, attachment, stage, message)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				report.RunID, f.Collection, f.RecordID, f.Field, f.Attachment, string(f.Stage), msg)
			if err != nil {
				return fmt.Errorf("insert failure: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Runs returns the most recent runs, newest first.
func (j *Journal) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT r.id, r.source, r.destination, r.started_at, r.finished_at,
			(SELECT COUNT(*) FROM collection_results c WHERE c.run_id = r.id),
			(SELECT COUNT(*) FROM failures f WHERE f.run_id = r.id)
		FROM runs r
		ORDER BY r.started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var started, finished string
		if err := rows.Scan(&run.ID, &run.Source, &run.Destination, &started, &finished, &run.Collections, &run.Failures); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.Started, _ = time.Parse(timeLayout, started)
		run.Finished, _ = time.Parse(timeLayout, finished)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// LatestRunID returns the identifier of the most recent run.
func (j *Journal) LatestRunID(ctx context.Context) (string, error) {
	var id string
	err := j.db.QueryRowContext(ctx, `SELECT id FROM runs ORDER BY started_at DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoRuns
	}
	if err != nil {
		return "", fmt.Errorf("latest run: %w", err)
	}
	return id, nil
}

// Failures returns the failures of a run in the order they were recorded.
func (j *Journal) Failures(ctx context.Context, runID string) ([]Failure, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT run_id, collection, record_id, field, attachment, stage, message
		FROM failures WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query failures: %w", err)
	}
	defer rows.Close()

	var out []Failure
	for rows.Next() {
		var f Failure
		if err := rows.Scan(&f.RunID, &f.Collection, &f.RecordID, &f.Field, &f.Attachment, &f.Stage, &f.Message); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
