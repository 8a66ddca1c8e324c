package jobs

import (
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/TomSft15/BlurFace/internal/batch"
	"github.com/TomSft15/BlurFace/internal/blur"
	"github.com/TomSft15/BlurFace/internal/detector"
	"github.com/TomSft15/BlurFace/internal/store"
	"github.com/TomSft15/BlurFace/internal/types"
	"github.com/TomSft15/BlurFace/internal/video"
	"github.com/TomSft15/BlurFace/internal/worker"
)

// gatedCapture serves frames only while the gate lets them through.
type gatedCapture struct {
	frames int
	pos    int
	gate   chan struct{}
}

func (c *gatedCapture) Read() (*image.RGBA, error) {
	if c.pos >= c.frames {
		return nil, video.ErrEndOfStream
	}
	if c.gate != nil {
		<-c.gate
	}
	c.pos++
	return image.NewRGBA(image.Rect(0, 0, 4, 4)), nil
}

func (c *gatedCapture) Seek(int) error  { return nil }
func (c *gatedCapture) Width() int      { return 4 }
func (c *gatedCapture) Height() int     { return 4 }
func (c *gatedCapture) FPS() float64    { return 25 }
func (c *gatedCapture) FrameCount() int { return c.frames }
func (c *gatedCapture) IsFile() bool    { return true }
func (c *gatedCapture) Close() error    { return nil }

type fakeOpener struct {
	mu      sync.Mutex
	capture *gatedCapture
}

func (o *fakeOpener) Open(ctx context.Context, src video.Source) (video.Capture, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.capture, nil
}

type nopSink struct{}

func (nopSink) Write(*image.RGBA) error { return nil }
func (nopSink) Close() error            { return nil }

type fakeSinks struct {
	mu    sync.Mutex
	paths []string
}

func (f *fakeSinks) OpenSink(ctx context.Context, path string, fps float64, w, h int) (video.Sink, error) {
	f.mu.Lock()
	f.paths = append(f.paths, path)
	f.mu.Unlock()
	return nopSink{}, nil
}

type noFaces struct{}

func (noFaces) Detect(*image.RGBA) ([]worker.Face, error) { return nil, nil }
func (noFaces) Close() error                              { return nil }

func newManager(t *testing.T, capture *gatedCapture, st store.JobStore) (*Manager, *fakeSinks, string) {
	t.Helper()
	dir := t.TempDir()
	input := filepath.Join(dir, "clip.mp4")
	if err := os.WriteFile(input, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	sinks := &fakeSinks{}
	cfg := batch.Config{
		Opener: &fakeOpener{capture: capture},
		Sinks:  sinks,
		DetectorFactory: func(ctx context.Context, s detector.Settings) (detector.Backend, error) {
			return noFaces{}, nil
		},
		Detection:     detector.Settings{MinConfidence: 0.5, ModelSelection: 1},
		BlurMethod:    blur.Gaussian,
		BlurIntensity: 35,
		Log:           slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	m := NewManager(context.Background(), cfg, st, filepath.Join(dir, "output"), cfg.Log)
	return m, sinks, input
}

func TestSubmitRunsToCompletion(t *testing.T) {
	m, sinks, input := newManager(t, &gatedCapture{frames: 5}, nil)

	job, err := m.Submit(Request{InputPath: input})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	m.Wait()

	got, err := m.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status.Status != types.StatusCompleted || got.Status.FramesProcessed != 5 {
		t.Errorf("unexpected status: %+v", got.Status)
	}
	want := filepath.Join(filepath.Dir(input), "output", "clip_blurred.mp4")
	if got.OutputPath != want || len(sinks.paths) != 1 || sinks.paths[0] != want {
		t.Errorf("output = %q (sinks %v), want %q", got.OutputPath, sinks.paths, want)
	}
}

func TestSubmitRejectsInvalidRequests(t *testing.T) {
	m, _, input := newManager(t, &gatedCapture{frames: 1}, nil)

	tests := []struct {
		name string
		req  Request
	}{
		{"missing input", Request{}},
		{"nonexistent input", Request{InputPath: filepath.Join(t.TempDir(), "nope.mp4")}},
		{"unknown method", Request{InputPath: input, Blur: BlurSettings{Method: "swirl"}}},
		{"bad confidence", Request{InputPath: input, Detection: &detector.Settings{MinConfidence: 2, ModelSelection: 1}}},
		{"output overwrites input", Request{InputPath: input, OutputPath: input}},
		{"relative output resolves to input", Request{InputPath: input, OutputPath: filepath.Join("..", "clip.mp4")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.Submit(tt.req); !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}
	if jobs, _ := m.List(context.Background()); len(jobs) != 0 {
		t.Errorf("rejected requests were recorded: %+v", jobs)
	}
}

func TestSubscribeReceivesEveryUpdate(t *testing.T) {
	capture := &gatedCapture{frames: 3, gate: make(chan struct{})}
	m, _, input := newManager(t, capture, nil)

	job, err := m.Submit(Request{InputPath: input})
	if err != nil {
		t.Fatal(err)
	}
	snap, updates, cancel, err := m.Subscribe(job.ID)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer cancel()
	if snap.Status.Status != types.StatusProcessing {
		t.Errorf("snapshot = %+v", snap.Status)
	}

	var got []types.ProcessingStatus
	for i := 0; i < 3; i++ {
		capture.gate <- struct{}{}
		select {
		case s := <-updates:
			got = append(got, s)
		case <-time.After(2 * time.Second):
			t.Fatalf("no update for frame %d", i+1)
		}
	}
	for s := range updates {
		got = append(got, s)
	}

	if len(got) != 4 {
		t.Fatalf("got %d updates, want 3 progress + 1 terminal: %+v", len(got), got)
	}
	if got[1].FramesProcessed != 2 || got[3].Status != types.StatusCompleted {
		t.Errorf("unexpected updates: %+v", got)
	}
}

func TestSubscribeFinishedJob(t *testing.T) {
	m, _, input := newManager(t, &gatedCapture{frames: 1}, nil)
	job, err := m.Submit(Request{InputPath: input})
	if err != nil {
		t.Fatal(err)
	}
	m.Wait()

	snap, updates, _, err := m.Subscribe(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !snap.Status.Status.Terminal() {
		t.Errorf("snapshot not terminal: %+v", snap.Status)
	}
	if _, open := <-updates; open {
		t.Error("channel of a finished job should be closed")
	}

	if _, _, _, err := m.Subscribe("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestHistoryFromStore(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewSQLite(ctx, filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close(ctx)

	earlier := types.Job{
		ID:        "earlier-run",
		InputPath: "/old.mp4",
		Status:    types.ProcessingStatus{Status: types.StatusCompleted, Progress: 1},
		CreatedAt: time.Now().Add(-time.Hour),
		UpdatedAt: time.Now().Add(-time.Hour),
	}
	if err := st.SaveJob(ctx, earlier); err != nil {
		t.Fatal(err)
	}

	m, _, input := newManager(t, &gatedCapture{frames: 2}, st)
	job, err := m.Submit(Request{InputPath: input, OutputPath: "/abs/out.mp4"})
	if err != nil {
		t.Fatal(err)
	}
	m.Wait()

	jobs, err := m.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != job.ID || jobs[1].ID != "earlier-run" {
		t.Fatalf("unexpected history: %+v", jobs)
	}
	if jobs[0].OutputPath != "/abs/out.mp4" {
		t.Errorf("absolute output path rewritten to %q", jobs[0].OutputPath)
	}

	stored, err := st.GetJob(ctx, job.ID)
	if err != nil || stored.Status.Status != types.StatusCompleted {
		t.Errorf("terminal status not persisted: %+v, %v", stored.Status, err)
	}
	if _, err := m.Get(ctx, "earlier-run"); err != nil {
		t.Errorf("Get of a stored job failed: %v", err)
	}
	if _, err := m.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
