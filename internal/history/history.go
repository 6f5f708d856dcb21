// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package history records pipeline runs and table deliveries in a local
// SQLite database so past runs can be inspected after the fact. It is an
// audit log only; dedup always uses the JSON record store.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const timeLayout = time.RFC3339Nano

// Run summarizes one pipeline invocation.
type Run struct {
	ID          string    `json:"id" yaml:"id"`
	StartedAt   time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt  time.Time `json:"finished_at" yaml:"finished_at"`
	State       string    `json:"state" yaml:"state"`
	FailedStage string    `json:"failed_stage,omitempty" yaml:"failed_stage,omitempty"`
	Error       string    `json:"error,omitempty" yaml:"error,omitempty"`
	Fetched     int       `json:"fetched" yaml:"fetched"`
	Accepted    int       `json:"accepted" yaml:"accepted"`
	Delivered   int       `json:"delivered" yaml:"delivered"`
}

// Delivery is one sink call.
type Delivery struct {
	RunID       string    `json:"run_id" yaml:"run_id"`
	PaperID     string    `json:"paper_id" yaml:"paper_id"`
	Title       string    `json:"title" yaml:"title"`
	RecordID    string    `json:"record_id,omitempty" yaml:"record_id,omitempty"`
	DeliveredAt time.Time `json:"delivered_at" yaml:"delivered_at"`
	Error       string    `json:"error,omitempty" yaml:"error,omitempty"`
}

// Store manages the history SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and creates the schema if it
// does not exist.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}

	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating history schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			state TEXT NOT NULL,
			failed_stage TEXT,
			error TEXT,
			fetched INTEGER NOT NULL DEFAULT 0,
			accepted INTEGER NOT NULL DEFAULT 0,
			delivered INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS deliveries (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES runs(id),
			paper_id TEXT NOT NULL,
			title TEXT,
			record_id TEXT,
			delivered_at TEXT NOT NULL,
			error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_run_id ON deliveries(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_paper_id ON deliveries(paper_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// StartRun inserts a run in the "running" state.
func (s *Store) StartRun(ctx context.Context, id string, startedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, state) VALUES (?, ?, 'running')`,
		id, startedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", id, err)
	}
	return nil
}

// FinishRun stores the terminal state and counters of r.
func (s *Store) FinishRun(ctx context.Context, r Run) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, state = ?, failed_stage = ?, error = ?,
			fetched = ?, accepted = ?, delivered = ?
		WHERE id = ?`,
		r.FinishedAt.UTC().Format(timeLayout), r.State, nullable(r.FailedStage), nullable(r.Error),
		r.Fetched, r.Accepted, r.Delivered, r.ID)
	if err != nil {
		return fmt.Errorf("updating run %s: %w", r.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", r.ID)
	}
	return nil
}

// RecordDelivery appends one sink call.
func (s *Store) RecordDelivery(ctx context.Context, d Delivery) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries (run_id, paper_id, title, record_id, delivered_at, error)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.RunID, d.PaperID, d.Title, nullable(d.RecordID), d.DeliveredAt.UTC().Format(timeLayout), nullable(d.Error))
	if err != nil {
		return fmt.Errorf("inserting delivery of %s: %w", d.PaperID, err)
	}
	return nil
}

// Runs returns up to limit runs, most recent first.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, state, failed_stage, error, fetched, accepted, delivered
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r                        Run
			started                  string
			finished, stage, errText sql.NullString
		)
		if err := rows.Scan(&r.ID, &started, &finished, &r.State, &stage, &errText,
			&r.Fetched, &r.Accepted, &r.Delivered); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		var err error
		if r.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("scanning run %s: started_at: %w", r.ID, err)
		}
		if finished.Valid {
			if r.FinishedAt, err = time.Parse(timeLayout, finished.String); err != nil {
				return nil, fmt.Errorf("scanning run %s: finished_at: %w", r.ID, err)
			}
		}
		r.FailedStage = stage.String
		r.Error = errText.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// DeliveryFilter narrows Deliveries. Zero fields do not filter.
type DeliveryFilter struct {
	RunID   string
	PaperID string
	Limit   int
}

// Deliveries returns matching deliveries in insertion order.
func (s *Store) Deliveries(ctx context.Context, f DeliveryFilter) ([]Delivery, error) {
	var (
		qb   strings.Builder
		args []any
	)
	qb.WriteString(`SELECT run_id, paper_id, title, record_id, delivered_at, error FROM deliveries WHERE 1=1`)
	if f.RunID != "" {
		qb.WriteString(` AND run_id = ?`)
		args = append(args, f.RunID)
	}
	if f.PaperID != "" {
		qb.WriteString(` AND paper_id = ?`)
		args = append(args, f.PaperID)
	}
	qb.WriteString(` ORDER BY rowid`)
	if f.Limit > 0 {
		qb.WriteString(` LIMIT ?`)
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying deliveries: %w", err)
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		var (
			d                       Delivery
			at                      string
			title, recordID, errTxt sql.NullString
		)
		if err := rows.Scan(&d.RunID, &d.PaperID, &title, &recordID, &at, &errTxt); err != nil {
			return nil, fmt.Errorf("scanning delivery: %w", err)
		}
		d.Title = title.String
		d.RecordID = recordID.String
		d.Error = errTxt.String
		var err error
		if d.DeliveredAt, err = time.Parse(timeLayout, at); err != nil {
			return nil, fmt.Errorf("scanning delivery of %s: delivered_at: %w", d.PaperID, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
