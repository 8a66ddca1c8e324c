package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/TomSft15/BlurFace/internal/types"
	"github.com/jackc/pgx/v5"
)

// Postgres keeps job history in a PostgreSQL database.
type Postgres struct {
	conn *pgx.Conn
}

// NewPostgres connects and ensures the schema is initialized.
func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initPostgresSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Postgres{conn: conn}, nil
}

func initPostgresSchema(ctx context.Context, conn *pgx.Conn) error {
	_, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS batch_jobs (
			id TEXT PRIMARY KEY,
			input_path TEXT NOT NULL,
			output_path TEXT NOT NULL,
			draw_detections BOOLEAN NOT NULL DEFAULT FALSE,
			status TEXT NOT NULL,
			progress DOUBLE PRECISION NOT NULL DEFAULT 0,
			frames_processed INT NOT NULL DEFAULT 0,
			total_frames INT NOT NULL DEFAULT 0,
			elapsed_time DOUBLE PRECISION NOT NULL DEFAULT 0,
			estimated_time_remaining DOUBLE PRECISION NOT NULL DEFAULT 0,
			error_message TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS batch_jobs_created_at_idx ON batch_jobs (created_at);
	`)
	return err
}

// Close terminates the database connection.
func (s *Postgres) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

func (s *Postgres) SaveJob(ctx context.Context, job types.Job) error {
	st := job.Status
	_, err := s.conn.Exec(ctx, `
		INSERT INTO batch_jobs (id, input_path, output_path, draw_detections, status, progress,
			frames_processed, total_frames, elapsed_time, estimated_time_remaining, error_message,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			progress = EXCLUDED.progress,
			frames_processed = EXCLUDED.frames_processed,
			total_frames = EXCLUDED.total_frames,
			elapsed_time = EXCLUDED.elapsed_time,
			estimated_time_remaining = EXCLUDED.estimated_time_remaining,
			error_message = EXCLUDED.error_message,
			updated_at = EXCLUDED.updated_at
	`, job.ID, job.InputPath, job.OutputPath, job.DrawDetections, string(st.Status), st.Progress,
		st.FramesProcessed, st.TotalFrames, st.ElapsedTime, st.EstimatedTimeRemaining, errorMessage(st),
		job.CreatedAt, job.UpdatedAt)
	return err
}

const pgJobColumns = `id, input_path, output_path, draw_detections, status, progress, frames_processed,
	total_frames, elapsed_time, estimated_time_remaining, error_message, created_at, updated_at`

func scanPgJob(row pgx.Row) (types.Job, error) {
	var j types.Job
	var status string
	err := row.Scan(&j.ID, &j.InputPath, &j.OutputPath, &j.DrawDetections, &status, &j.Status.Progress,
		&j.Status.FramesProcessed, &j.Status.TotalFrames, &j.Status.ElapsedTime,
		&j.Status.EstimatedTimeRemaining, &j.Status.ErrorMessage, &j.CreatedAt, &j.UpdatedAt)
	j.Status.Status = types.JobStatus(status)
	return j, err
}

func (s *Postgres) GetJob(ctx context.Context, id string) (types.Job, error) {
	j, err := scanPgJob(s.conn.QueryRow(ctx, "SELECT "+pgJobColumns+" FROM batch_jobs WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Job{}, ErrNotFound
	}
	return j, err
}

func (s *Postgres) ListJobs(ctx context.Context, limit int) ([]types.Job, error) {
	query := "SELECT " + pgJobColumns + " FROM batch_jobs ORDER BY created_at DESC, id"
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []types.Job
	for rows.Next() {
		j, err := scanPgJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// Reset drops the job table and recreates it empty so the schema is refreshed
// without migrations.
func (s *Postgres) Reset(ctx context.Context) error {
	if _, err := s.conn.Exec(ctx, `DROP TABLE IF EXISTS batch_jobs CASCADE;`); err != nil {
		return err
	}
	return initPostgresSchema(ctx, s.conn)
}
