package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/TomSft15/BlurFace/internal/types"
)

func sampleJob(id string, created time.Time) types.Job {
	return types.Job{
		ID:         id,
		InputPath:  "/videos/" + id + ".mp4",
		OutputPath: "/output/" + id + "_blurred.mp4",
		Status:     types.ProcessingStatus{Status: types.StatusProcessing, TotalFrames: 100},
		CreatedAt:  created,
		UpdatedAt:  created,
	}
}

// exerciseStore runs the shared JobStore contract against any backend.
func exerciseStore(t *testing.T, s JobStore) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	a := sampleJob("job-a", base)
	b := sampleJob("job-b", base.Add(time.Minute))
	b.DrawDetections = true
	for _, j := range []types.Job{a, b} {
		if err := s.SaveJob(ctx, j); err != nil {
			t.Fatalf("SaveJob(%s) failed: %v", j.ID, err)
		}
	}

	// Progress update then terminal failure on the same id.
	msg := "cannot read frame 42"
	a.Status = types.ProcessingStatus{
		Status:          types.StatusError,
		Progress:        0.42,
		FramesProcessed: 42,
		TotalFrames:     100,
		ElapsedTime:     4.2,
		ErrorMessage:    &msg,
	}
	a.UpdatedAt = base.Add(2 * time.Minute)
	if err := s.SaveJob(ctx, a); err != nil {
		t.Fatalf("SaveJob update failed: %v", err)
	}

	got, err := s.GetJob(ctx, "job-a")
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Status.Status != types.StatusError || got.Status.FramesProcessed != 42 || got.Status.Progress != 0.42 {
		t.Errorf("status not updated: %+v", got.Status)
	}
	if got.Status.ErrorMessage == nil || *got.Status.ErrorMessage != msg {
		t.Errorf("error message lost: %v", got.Status.ErrorMessage)
	}
	if !got.CreatedAt.Equal(base) || !got.UpdatedAt.Equal(a.UpdatedAt) {
		t.Errorf("timestamps = %v / %v", got.CreatedAt, got.UpdatedAt)
	}

	jobs, err := s.ListJobs(ctx, 0)
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != "job-b" || jobs[1].ID != "job-a" {
		t.Fatalf("expected newest first [job-b job-a], got %+v", jobs)
	}
	if !jobs[0].DrawDetections || jobs[0].Status.ErrorMessage != nil {
		t.Errorf("unexpected job-b: %+v", jobs[0])
	}

	limited, err := s.ListJobs(ctx, 1)
	if err != nil || len(limited) != 1 {
		t.Errorf("ListJobs(1) = %d jobs, %v", len(limited), err)
	}

	if _, err := s.GetJob(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	jobs, err = s.ListJobs(ctx, 0)
	if err != nil || len(jobs) != 0 {
		t.Errorf("expected empty history after reset, got %d jobs, %v", len(jobs), err)
	}
	if err := s.SaveJob(ctx, sampleJob("job-c", base)); err != nil {
		t.Errorf("store unusable after reset: %v", err)
	}
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "nested", "jobs.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close(ctx)

	if _, ok := s.(*SQLite); !ok {
		t.Fatalf("expected *SQLite, got %T", s)
	}
	exerciseStore(t, s)
}

func TestSQLiteStoreReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "jobs.db")

	s, err := NewSQLite(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SaveJob(ctx, sampleJob("persisted", time.Now())); err != nil {
		t.Fatal(err)
	}
	s.Close(ctx)

	s, err = NewSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close(ctx)
	if _, err := s.GetJob(ctx, "persisted"); err != nil {
		t.Errorf("job lost across reopen: %v", err)
	}
}
