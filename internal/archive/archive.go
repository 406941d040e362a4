// Package archive keeps terminal jobs that were moved out of the live state.
//
// Jobs are history. Retention moves old terminal jobs here so the state
// document stays small while every job remains resolvable by id.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/EnviralDesign/media-spacesaver-suite/internal/logging"
	"github.com/EnviralDesign/media-spacesaver-suite/pkg/types"
)

var log = logging.Logger()

// ErrNotFound is returned by Get for an id that was never archived.
var ErrNotFound = errors.New("archived job not found")

const schema = `
CREATE TABLE IF NOT EXISTS archived_jobs (
	id          TEXT PRIMARY KEY,
	item_id     TEXT NOT NULL,
	worker_id   TEXT NOT NULL,
	status      TEXT NOT NULL,
	finished_at INTEGER NOT NULL,
	archived_at INTEGER NOT NULL,
	document    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_archived_jobs_item ON archived_jobs(item_id);
CREATE INDEX IF NOT EXISTS idx_archived_jobs_finished ON archived_jobs(finished_at);
`

// Filter narrows List.
type Filter struct {
	ItemID string
	Limit  int // 0 means no limit
}

// Archive is a SQLite table of archived jobs.
type Archive struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open creates or opens the archive database at path.
func Open(path string) (*Archive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection: writes are rare and this keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Archive{db: db, path: path, now: time.Now}, nil
}

// Close closes the database.
func (a *Archive) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

// Put stores jobs in one transaction. Re-archiving an id replaces the row, so
// a retry after a crash between Put and the state purge is harmless.
func (a *Archive) Put(ctx context.Context, jobs []types.Job) error {
	if len(jobs) == 0 {
		return nil
	}
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO archived_jobs
		(id, item_id, worker_id, status, finished_at, archived_at, document)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	archivedAt := a.now().UnixMilli()
	for _, job := range jobs {
		if !job.Status.IsTerminal() {
			return fmt.Errorf("job %s is %s, only terminal jobs can be archived", job.ID, job.Status)
		}
		doc, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("encode job %s: %w", job.ID, err)
		}
		var finished int64
		if job.FinishedAt != nil {
			finished = job.FinishedAt.UnixMilli()
		}
		if _, err := stmt.ExecContext(ctx, job.ID, job.ItemID, job.WorkerID, string(job.Status),
			finished, archivedAt, string(doc)); err != nil {
			return fmt.Errorf("insert job %s: %w", job.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit archive tx: %w", err)
	}
	log.Debug("Jobs archived", "count", len(jobs))
	return nil
}

// Get returns one archived job.
func (a *Archive) Get(ctx context.Context, id string) (types.Job, error) {
	var doc string
	err := a.db.QueryRowContext(ctx, "SELECT document FROM archived_jobs WHERE id = ?", id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return types.Job{}, fmt.Errorf("query job %s: %w", id, err)
	}
	var job types.Job
	if err := json.Unmarshal([]byte(doc), &job); err != nil {
		return types.Job{}, fmt.Errorf("decode job %s: %w", id, err)
	}
	return job, nil
}

// List returns archived jobs, most recently finished first.
func (a *Archive) List(ctx context.Context, filter Filter) ([]types.Job, error) {
	query := "SELECT document FROM archived_jobs"
	var args []any
	if filter.ItemID != "" {
		query += " WHERE item_id = ?"
		args = append(args, filter.ItemID)
	}
	query += " ORDER BY finished_at DESC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list archived jobs: %w", err)
	}
	defer rows.Close()

	var jobs []types.Job
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan archived job: %w", err)
		}
		var job types.Job
		if err := json.Unmarshal([]byte(doc), &job); err != nil {
			return nil, fmt.Errorf("decode archived job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Count returns the number of archived jobs.
func (a *Archive) Count(ctx context.Context) (int, error) {
	var n int
	if err := a.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM archived_jobs").Scan(&n); err != nil {
		return 0, fmt.Errorf("count archived jobs: %w", err)
	}
	return n, nil
}
