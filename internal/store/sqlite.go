package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/TomSft15/BlurFace/internal/types"

	_ "modernc.org/sqlite" // SQLite driver.
)

// SQLite keeps job history in a local database file.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens or creates the database at path and applies migrations.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer; progress updates come from job goroutines.
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS batch_jobs (
			id TEXT PRIMARY KEY,
			input_path TEXT NOT NULL,
			output_path TEXT NOT NULL,
			draw_detections INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			progress REAL NOT NULL DEFAULT 0,
			frames_processed INTEGER NOT NULL DEFAULT 0,
			total_frames INTEGER NOT NULL DEFAULT 0,
			elapsed_time REAL NOT NULL DEFAULT 0,
			estimated_time_remaining REAL NOT NULL DEFAULT 0,
			error_message TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_batch_jobs_created_at ON batch_jobs(created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLite) Close(context.Context) {
	_ = s.db.Close()
}

func (s *SQLite) SaveJob(ctx context.Context, job types.Job) error {
	st := job.Status
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO batch_jobs (id, input_path, output_path, draw_detections, status, progress,
			frames_processed, total_frames, elapsed_time, estimated_time_remaining, error_message,
			created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			progress = excluded.progress,
			frames_processed = excluded.frames_processed,
			total_frames = excluded.total_frames,
			elapsed_time = excluded.elapsed_time,
			estimated_time_remaining = excluded.estimated_time_remaining,
			error_message = excluded.error_message,
			updated_at = excluded.updated_at`,
		job.ID, job.InputPath, job.OutputPath, job.DrawDetections, string(st.Status), st.Progress,
		st.FramesProcessed, st.TotalFrames, st.ElapsedTime, st.EstimatedTimeRemaining, errorMessage(st),
		job.CreatedAt.UTC().Format(time.RFC3339Nano), job.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

const sqliteJobColumns = `id, input_path, output_path, draw_detections, status, progress, frames_processed,
	total_frames, elapsed_time, estimated_time_remaining, error_message, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteJob(row rowScanner) (types.Job, error) {
	var (
		j                types.Job
		status           string
		errMsg           sql.NullString
		created, updated string
	)
	if err := row.Scan(&j.ID, &j.InputPath, &j.OutputPath, &j.DrawDetections, &status, &j.Status.Progress,
		&j.Status.FramesProcessed, &j.Status.TotalFrames, &j.Status.ElapsedTime,
		&j.Status.EstimatedTimeRemaining, &errMsg, &created, &updated); err != nil {
		return types.Job{}, err
	}
	j.Status.Status = types.JobStatus(status)
	if errMsg.Valid {
		msg := errMsg.String
		j.Status.ErrorMessage = &msg
	}
	var err error
	if j.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return types.Job{}, err
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return types.Job{}, err
	}
	return j, nil
}

func (s *SQLite) GetJob(ctx context.Context, id string) (types.Job, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+sqliteJobColumns+" FROM batch_jobs WHERE id = ?", id)
	j, err := scanSQLiteJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Job{}, ErrNotFound
	}
	return j, err
}

func (s *SQLite) ListJobs(ctx context.Context, limit int) ([]types.Job, error) {
	query := "SELECT " + sqliteJobColumns + " FROM batch_jobs ORDER BY created_at DESC, id"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []types.Job
	for rows.Next() {
		j, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// Reset deletes every recorded job.
func (s *SQLite) Reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM batch_jobs;`)
	return err
}
