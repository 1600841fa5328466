// Package runstore keeps imported questions and the history of runs in SQLite.
package runstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hochfrequenz/oa-pipeline/internal/domain"
	_ "modernc.org/sqlite"
)

// ErrRunNotFound is returned for an unknown run id
var ErrRunNotFound = errors.New("run not found")

// Store provides SQLite-backed run history
type Store struct {
	db *sql.DB
}

// Run is one recorded processing run
type Run struct {
	ID         string
	Source     string
	Phase      domain.RunPhase
	Total      int
	StartedAt  time.Time
	FinishedAt *time.Time
	Succeeded  int
	Failed     int
}

// New opens (or creates) the database at dbPath. ":memory:" is allowed.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// one connection keeps :memory: databases shared and serialises writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertItems inserts or updates items, keeping the given order for new ones
func (s *Store) UpsertItems(ctx context.Context, items []domain.WorkItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var next int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM items`).Scan(&next); err != nil {
		return err
	}

	now := time.Now()
	for _, item := range items {
		next++
		_, err := tx.ExecContext(ctx, `
			INSERT INTO items (id, title, problem_statement, seq, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				title = excluded.title,
				problem_statement = excluded.problem_statement,
				updated_at = excluded.updated_at
		`, item.ID, item.Title, item.ProblemStatementHTML, next, now, now)
		if err != nil {
			return fmt.Errorf("upsert item %s: %w", item.ID, err)
		}
	}
	return tx.Commit()
}

// ListOptions specifies filters for listing items
type ListOptions struct {
	// OnlyPending drops items that have a success outcome in any run
	OnlyPending bool
	Limit       int
}

// ListItems returns stored items in import order
func (s *Store) ListItems(ctx context.Context, opts ListOptions) ([]domain.WorkItem, error) {
	query := `SELECT id, title, problem_statement FROM items WHERE 1=1`
	var args []any

	if opts.OnlyPending {
		query += ` AND id NOT IN (SELECT item_id FROM outcomes WHERE status = ?)`
		args = append(args, string(domain.OutcomeSuccess))
	}
	query += " ORDER BY seq"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.WorkItem
	for rows.Next() {
		var item domain.WorkItem
		var statement sql.NullString
		if err := rows.Scan(&item.ID, &item.Title, &statement); err != nil {
			return nil, err
		}
		item.ProblemStatementHTML = statement.String
		items = append(items, item)
	}
	return items, rows.Err()
}

// CreateRun records the start of a run
func (s *Store) CreateRun(ctx context.Context, id, source string, total int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, source, phase, total, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, source, string(domain.PhaseRunning), total, time.Now())
	return err
}

// FinishRun stores the final phase of a run
func (s *Store) FinishRun(ctx context.Context, id string, phase domain.RunPhase) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET phase = ?, finished_at = ? WHERE id = ?`,
		string(phase), time.Now(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRunNotFound
	}
	return nil
}

// RecordOutcome stores an item's outcome. A second outcome for the same
// item in the same run is ignored.
func (s *Store) RecordOutcome(ctx context.Context, runID string, seq int, o domain.Outcome) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outcomes (run_id, item_id, seq, status, message, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, item_id) DO NOTHING
	`, runID, o.ItemID, seq, string(o.Status), o.Message, time.Now())
	return err
}

// AppendLog stores one run log entry
func (s *Store) AppendLog(ctx context.Context, runID string, entry domain.LogEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO logs (run_id, timestamp, message) VALUES (?, ?, ?)`,
		runID, entry.Timestamp, entry.Text)
	return err
}

const runColumns = `
	r.id, COALESCE(r.source, ''), r.phase, r.total, r.started_at, r.finished_at,
	(SELECT COUNT(*) FROM outcomes o WHERE o.run_id = r.id AND o.status = 'success'),
	(SELECT COUNT(*) FROM outcomes o WHERE o.run_id = r.id AND o.status = 'error')`

// ListRuns returns the most recent runs first
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	query := `SELECT` + runColumns + ` FROM runs r ORDER BY r.started_at DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun returns one run
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT`+runColumns+` FROM runs r WHERE r.id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return run, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var run Run
	var phase string
	var finished sql.NullTime
	if err := row.Scan(&run.ID, &run.Source, &phase, &run.Total, &run.StartedAt, &finished, &run.Succeeded, &run.Failed); err != nil {
		return nil, err
	}
	run.Phase = domain.RunPhase(phase)
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return &run, nil
}

// ListOutcomes returns a run's outcomes in queue order
func (s *Store) ListOutcomes(ctx context.Context, runID string) ([]domain.Outcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT item_id, status, COALESCE(message, '') FROM outcomes WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outcomes []domain.Outcome
	for rows.Next() {
		var o domain.Outcome
		var status string
		if err := rows.Scan(&o.ItemID, &status, &o.Message); err != nil {
			return nil, err
		}
		o.Status = domain.OutcomeStatus(status)
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

// ListLogs returns a run's log in append order
func (s *Store) ListLogs(ctx context.Context, runID string) ([]domain.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT timestamp, COALESCE(message, '') FROM logs WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LogEntry
	for rows.Next() {
		var e domain.LogEntry
		if err := rows.Scan(&e.Timestamp, &e.Text); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
