// Package store persists batch job history in PostgreSQL or SQLite.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/TomSft15/BlurFace/internal/types"
)

// ErrNotFound is returned when a job id is unknown.
var ErrNotFound = errors.New("job not found")

// JobStore records batch jobs and their latest status.
type JobStore interface {
	// SaveJob inserts the job or replaces its status if the id already exists.
	SaveJob(ctx context.Context, job types.Job) error
	GetJob(ctx context.Context, id string) (types.Job, error)
	// ListJobs returns up to limit jobs, newest first. limit <= 0 means all.
	ListJobs(ctx context.Context, limit int) ([]types.Job, error)
	// Reset drops the job history.
	Reset(ctx context.Context) error
	Close(ctx context.Context)
}

// Open picks the backend from the URL scheme: postgres:// and postgresql://
// go to PostgreSQL, anything else is treated as a SQLite file path (an
// optional sqlite:// prefix is stripped).
func Open(ctx context.Context, url string) (JobStore, error) {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return NewPostgres(ctx, url)
	default:
		return NewSQLite(ctx, strings.TrimPrefix(url, "sqlite://"))
	}
}

// errorMessage flattens the optional error message for storage.
func errorMessage(s types.ProcessingStatus) *string {
	if s.ErrorMessage == nil {
		return nil
	}
	msg := *s.ErrorMessage
	return &msg
}
