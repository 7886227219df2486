// Package store persists completed steps as runs in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/simon020286/go-promptchain/models"
	_ "modernc.org/sqlite"
)

// ErrRunNotFound is returned when no run has the requested id
var ErrRunNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	execution_id TEXT NOT NULL,
	version_id INTEGER NOT NULL DEFAULT 0,
	input_index INTEGER NOT NULL,
	config_index INTEGER NOT NULL,
	inputs TEXT NOT NULL DEFAULT '{}',
	output TEXT NOT NULL DEFAULT '',
	cost REAL NOT NULL DEFAULT 0,
	duration REAL NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0,
	is_last INTEGER NOT NULL DEFAULT 0,
	continuation_id INTEGER NOT NULL DEFAULT 0,
	parent_run_id INTEGER NOT NULL DEFAULT 0,
	labels TEXT NOT NULL DEFAULT '[]',
	user_id INTEGER NOT NULL DEFAULT 0,
	rating TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_execution ON runs(execution_id);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
`

const runColumns = `id, execution_id, version_id, input_index, config_index, inputs, output, cost, duration,
	failed, is_last, continuation_id, parent_run_id, labels, user_id, rating, created_at`

// SQLite stores runs in a SQLite database
type SQLite struct {
	db   *sql.DB
	path string
}

// Open opens (and creates if needed) the database at path. ":memory:" is
// accepted for tests.
func Open(path string) (*SQLite, error) {
	if path != ":memory:" {
		// Ensure directory exists
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Rows may complete concurrently; SQLite takes one writer at a time
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db, path: path}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database
func (s *SQLite) Close() error {
	return s.db.Close()
}

// SaveRun inserts run and sets its ID. A zero Timestamp is set to now.
func (s *SQLite) SaveRun(ctx context.Context, run *models.Run) (int64, error) {
	if run.Timestamp.IsZero() {
		run.Timestamp = time.Now()
	}

	inputs, err := json.Marshal(nonNilInputs(run.Inputs))
	if err != nil {
		return 0, fmt.Errorf("failed to encode inputs: %w", err)
	}
	labels, err := json.Marshal(nonNilLabels(run.Labels))
	if err != nil {
		return 0, fmt.Errorf("failed to encode labels: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (execution_id, version_id, input_index, config_index, inputs, output, cost, duration,
			failed, is_last, continuation_id, parent_run_id, labels, user_id, rating, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ExecutionID, run.VersionID, run.InputIndex, run.Index, string(inputs), run.Output, run.Cost, run.Duration,
		run.Failed, run.IsLast, run.ContinuationID, run.ParentRunID, string(labels), run.UserID, run.Rating,
		run.Timestamp.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to save run: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read run id: %w", err)
	}
	run.ID = id
	return id, nil
}

// GetRun returns a run by id
func (s *SQLite) GetRun(ctx context.Context, id int64) (*models.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrRunNotFound, id)
	}
	return run, err
}

// ListOptions filters ListRuns
type ListOptions struct {
	ExecutionID string
	UserID      int64
	Label       string
	Limit       int // 0 means no limit
}

// ListRuns returns runs oldest first
func (s *SQLite) ListRuns(ctx context.Context, opts ListOptions) ([]*models.Run, error) {
	var (
		where []string
		args  []any
	)
	if opts.ExecutionID != "" {
		where = append(where, "execution_id = ?")
		args = append(args, opts.ExecutionID)
	}
	if opts.UserID != 0 {
		where = append(where, "user_id = ?")
		args = append(args, opts.UserID)
	}
	if opts.Label != "" {
		where = append(where, "EXISTS (SELECT 1 FROM json_each(runs.labels) WHERE json_each.value = ?)")
		args = append(args, opts.Label)
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// SetRating records a user rating on a run
func (s *SQLite) SetRating(ctx context.Context, id int64, rating string) error {
	return s.update(ctx, id, `UPDATE runs SET rating = ? WHERE id = ?`, rating, id)
}

// MarkLast flags a run as the final step of its input row
func (s *SQLite) MarkLast(ctx context.Context, id int64) error {
	return s.update(ctx, id, `UPDATE runs SET is_last = 1 WHERE id = ?`, id)
}

// AddLabel attaches a label to a run. Adding an existing label is a no-op.
func (s *SQLite) AddLabel(ctx context.Context, id int64, label string) error {
	run, err := s.GetRun(ctx, id)
	if err != nil {
		return err
	}
	for _, l := range run.Labels {
		if l == label {
			return nil
		}
	}

	labels, err := json.Marshal(append(run.Labels, label))
	if err != nil {
		return fmt.Errorf("failed to encode labels: %w", err)
	}
	return s.update(ctx, id, `UPDATE runs SET labels = ? WHERE id = ?`, string(labels), id)
}

func (s *SQLite) update(ctx context.Context, id int64, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update run %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update run %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrRunNotFound, id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*models.Run, error) {
	var (
		run       models.Run
		inputs    string
		labels    string
		createdAt int64
	)
	err := row.Scan(&run.ID, &run.ExecutionID, &run.VersionID, &run.InputIndex, &run.Index, &inputs, &run.Output,
		&run.Cost, &run.Duration, &run.Failed, &run.IsLast, &run.ContinuationID, &run.ParentRunID, &labels,
		&run.UserID, &run.Rating, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	if err := json.Unmarshal([]byte(inputs), &run.Inputs); err != nil {
		return nil, fmt.Errorf("failed to decode inputs of run %d: %w", run.ID, err)
	}
	if err := json.Unmarshal([]byte(labels), &run.Labels); err != nil {
		return nil, fmt.Errorf("failed to decode labels of run %d: %w", run.ID, err)
	}
	run.Timestamp = time.Unix(0, createdAt)
	return &run, nil
}

func nonNilInputs(in map[string]string) map[string]string {
	if in == nil {
		return map[string]string{}
	}
	return in
}

func nonNilLabels(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
