// Package jobs runs batch redaction jobs in the background, fans their
// progress out to subscribers and records them in the job store.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/TomSft15/BlurFace/internal/batch"
	"github.com/TomSft15/BlurFace/internal/blur"
	"github.com/TomSft15/BlurFace/internal/detector"
	"github.com/TomSft15/BlurFace/internal/store"
	"github.com/TomSft15/BlurFace/internal/types"
	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned for an unknown job id.
	ErrNotFound = errors.New("job not found")
	// ErrInvalidRequest marks a request rejected before the job started.
	ErrInvalidRequest = errors.New("invalid job request")
)

// persistEvery is how many frames pass between progress writes to the store.
const persistEvery = 25

// BlurSettings overrides the redaction of one job.
type BlurSettings struct {
	Method        string              `json:"method"`
	Intensity     *int                `json:"intensity"`
	SelectedFaces types.SelectedFaces `json:"selected_faces"`
}

// Request describes a job to submit. Empty blur and detection fields fall
// back to the manager defaults.
type Request struct {
	InputPath      string             `json:"input_path"`
	OutputPath     string             `json:"output_path"`
	DrawDetections bool               `json:"draw_detections"`
	Blur           BlurSettings       `json:"blur_settings"`
	Detection      *detector.Settings `json:"detection_settings"`
}

type entry struct {
	mu   sync.Mutex
	job  types.Job
	subs map[chan types.ProcessingStatus]struct{}
}

// Manager owns the running jobs. Each job gets its own batch processor so
// jobs run concurrently.
type Manager struct {
	ctx       context.Context
	batch     batch.Config
	store     store.JobStore
	outputDir string
	newID     func() string
	now       func() time.Time
	log       *slog.Logger

	mu   sync.RWMutex
	jobs map[string]*entry
	wg   sync.WaitGroup
}

// NewManager returns a Manager. ctx bounds every job; st may be nil, in
// which case history only lives in memory. Relative output paths are
// resolved under outputDir.
func NewManager(ctx context.Context, cfg batch.Config, st store.JobStore, outputDir string, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		ctx:       ctx,
		batch:     cfg,
		store:     st,
		outputDir: outputDir,
		newID:     uuid.NewString,
		now:       time.Now,
		log:       log,
		jobs:      make(map[string]*entry),
	}
}

// Submit validates req and starts the job in the background.
func (m *Manager) Submit(req Request) (types.Job, error) {
	cfg, err := m.configFor(req)
	if err != nil {
		return types.Job{}, err
	}
	if req.InputPath == "" {
		return types.Job{}, fmt.Errorf("%w: input_path is required", ErrInvalidRequest)
	}
	if _, err := os.Stat(req.InputPath); err != nil {
		return types.Job{}, fmt.Errorf("%w: cannot open input video: %v", ErrInvalidRequest, err)
	}
	output := m.resolveOutput(req)
	// Writing over the input corrupts it while it is still being read.
	inAbs, err := filepath.Abs(req.InputPath)
	if err != nil {
		return types.Job{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if outAbs, err := filepath.Abs(output); err == nil && outAbs == inAbs {
		return types.Job{}, fmt.Errorf("%w: input and output paths must be different", ErrInvalidRequest)
	}

	now := m.now()
	job := types.Job{
		ID:             m.newID(),
		InputPath:      req.InputPath,
		OutputPath:     output,
		DrawDetections: req.DrawDetections,
		Status:         types.ProcessingStatus{Status: types.StatusProcessing},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	e := &entry{job: job, subs: make(map[chan types.ProcessingStatus]struct{})}

	m.mu.Lock()
	m.jobs[job.ID] = e
	m.mu.Unlock()
	m.persist(job)

	log := m.log.With("job", job.ID)
	log.Info("job submitted", "input", job.InputPath, "output", job.OutputPath)

	proc := batch.New(cfg)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		final := proc.ProcessVideo(m.ctx, batch.Job{
			InputPath:      job.InputPath,
			OutputPath:     job.OutputPath,
			SelectedFaces:  req.Blur.SelectedFaces,
			DrawDetections: req.DrawDetections,
			OnProgress:     func(s types.ProcessingStatus) { m.publish(e, s) },
		})
		log.Info("job finished", "status", final.Status, "frames", final.FramesProcessed)
	}()
	return job, nil
}

func (m *Manager) configFor(req Request) (batch.Config, error) {
	cfg := m.batch
	if req.Blur.Method != "" {
		method, err := blur.ParseMethod(req.Blur.Method)
		if err != nil {
			return cfg, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		cfg.BlurMethod = method
	}
	if req.Blur.Intensity != nil {
		cfg.BlurIntensity = *req.Blur.Intensity
	}
	if req.Detection != nil {
		if err := req.Detection.Validate(); err != nil {
			return cfg, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		cfg.Detection = *req.Detection
	}
	return cfg, nil
}

// resolveOutput defaults the output to <outputDir>/<input>_blurred.mp4 and
// places relative paths under outputDir.
func (m *Manager) resolveOutput(req Request) string {
	out := req.OutputPath
	if out == "" {
		base := filepath.Base(req.InputPath)
		out = strings.TrimSuffix(base, filepath.Ext(base)) + "_blurred.mp4"
	}
	if filepath.IsAbs(out) {
		return out
	}
	return filepath.Join(m.outputDir, out)
}

func (m *Manager) publish(e *entry, s types.ProcessingStatus) {
	e.mu.Lock()
	e.job.Status = s
	e.job.UpdatedAt = m.now()
	job := e.job
	for ch := range e.subs {
		push(ch, s)
		if s.Status.Terminal() {
			close(ch)
			delete(e.subs, ch)
		}
	}
	e.mu.Unlock()

	if s.Status.Terminal() || s.FramesProcessed%persistEvery == 0 {
		m.persist(job)
	}
}

// push delivers s without blocking. A slow subscriber loses its oldest
// pending update, never the newest one.
func push(ch chan types.ProcessingStatus, s types.ProcessingStatus) {
	select {
	case ch <- s:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	ch <- s
}

func (m *Manager) persist(job types.Job) {
	if m.store == nil {
		return
	}
	// The job may outlive a cancelled server context; the write still lands.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.SaveJob(ctx, job); err != nil {
		m.log.Warn("failed to persist job", "job", job.ID, "error", err)
	}
}

// Get returns a job from memory or, for jobs of earlier runs, from the store.
func (m *Manager) Get(ctx context.Context, id string) (types.Job, error) {
	m.mu.RLock()
	e, ok := m.jobs[id]
	m.mu.RUnlock()
	if ok {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.job, nil
	}
	if m.store != nil {
		job, err := m.store.GetJob(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return types.Job{}, ErrNotFound
		}
		return job, err
	}
	return types.Job{}, ErrNotFound
}

// List returns known jobs, newest first. With a store the persisted history
// is used, overlaid with the live state of running jobs.
func (m *Manager) List(ctx context.Context) ([]types.Job, error) {
	live := m.snapshot()
	if m.store == nil {
		sort.Slice(live, func(i, j int) bool { return newer(live[i], live[j]) })
		return live, nil
	}

	jobs, err := m.store.ListJobs(ctx, 0)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]int, len(jobs))
	for i, j := range jobs {
		byID[j.ID] = i
	}
	for _, j := range live {
		if i, ok := byID[j.ID]; ok {
			jobs[i] = j
		} else {
			jobs = append(jobs, j)
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return newer(jobs[i], jobs[j]) })
	return jobs, nil
}

func newer(a, b types.Job) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID < b.ID
	}
	return a.CreatedAt.After(b.CreatedAt)
}

func (m *Manager) snapshot() []types.Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Job, 0, len(m.jobs))
	for _, e := range m.jobs {
		e.mu.Lock()
		out = append(out, e.job)
		e.mu.Unlock()
	}
	return out
}

// Subscribe returns the current state of a live job and a channel carrying
// every later status update. The channel is closed after the terminal update,
// or immediately when the job has already finished. cancel detaches early.
func (m *Manager) Subscribe(id string) (types.Job, <-chan types.ProcessingStatus, func(), error) {
	m.mu.RLock()
	e, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return types.Job{}, nil, nil, ErrNotFound
	}

	ch := make(chan types.ProcessingStatus, 16)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.job.Status.Status.Terminal() {
		close(ch)
		return e.job, ch, func() {}, nil
	}
	e.subs[ch] = struct{}{}
	cancel := func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if _, ok := e.subs[ch]; ok {
			delete(e.subs, ch)
			close(ch)
		}
	}
	return e.job, ch, cancel, nil
}

// Wait blocks until every submitted job has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}
