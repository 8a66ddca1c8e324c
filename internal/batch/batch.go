// Package batch runs the face redaction pipeline over a whole video file.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/TomSft15/BlurFace/internal/blur"
	"github.com/TomSft15/BlurFace/internal/detector"
	"github.com/TomSft15/BlurFace/internal/types"
	"github.com/TomSft15/BlurFace/internal/video"
)

// ProgressFunc receives a copy of the status after every frame and once more
// when the run ends.
type ProgressFunc func(types.ProcessingStatus)

// Config wires a Processor to its collaborators.
type Config struct {
	Opener          video.Opener
	Sinks           video.SinkOpener
	DetectorFactory detector.Factory
	Detection       detector.Settings
	BlurMethod      blur.Method
	BlurIntensity   int
	Log             *slog.Logger
	// Now drives elapsed and remaining time. Defaults to time.Now.
	Now func() time.Time
}

// Job describes one run.
type Job struct {
	InputPath      string
	OutputPath     string
	SelectedFaces  types.SelectedFaces
	DrawDetections bool
	OnProgress     ProgressFunc
}

// Processor runs batch jobs. One Processor runs one job at a time.
type Processor struct {
	cfg Config
	log *slog.Logger

	run    sync.Mutex
	mu     sync.Mutex
	status types.ProcessingStatus
}

// New returns an idle Processor.
func New(cfg Config) *Processor {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Processor{
		cfg:    cfg,
		log:    cfg.Log,
		status: types.ProcessingStatus{Status: types.StatusIdle},
	}
}

// Status returns a snapshot of the current or last run.
func (p *Processor) Status() types.ProcessingStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

type run struct {
	p       *Processor
	job     Job
	log     *slog.Logger
	started time.Time
}

// ProcessVideo runs job to completion and returns its terminal status. Every
// handle it opens is released on all paths; a fatal error is reported through
// the returned status, never as a partial success.
func (p *Processor) ProcessVideo(ctx context.Context, job Job) types.ProcessingStatus {
	p.run.Lock()
	defer p.run.Unlock()

	r := &run{p: p, job: job, log: p.log.With("input", job.InputPath, "output", job.OutputPath), started: p.cfg.Now()}
	p.set(types.ProcessingStatus{Status: types.StatusProcessing})

	if err := r.execute(ctx); err != nil {
		r.log.Error("batch processing failed", "error", err)
		return r.finish(func(s *types.ProcessingStatus) {
			msg := err.Error()
			s.Status = types.StatusError
			s.ErrorMessage = &msg
		})
	}
	r.log.Info("batch processing completed")
	return r.finish(func(s *types.ProcessingStatus) {
		s.Status = types.StatusCompleted
		s.Progress = 1.0
		s.EstimatedTimeRemaining = 0
	})
}

func (r *run) execute(ctx context.Context) (err error) {
	cfg := r.p.cfg
	if _, statErr := os.Stat(r.job.InputPath); statErr != nil {
		return fmt.Errorf("cannot open input video: %w", statErr)
	}

	in, err := cfg.Opener.Open(ctx, video.FileSource(r.job.InputPath))
	if err != nil {
		return fmt.Errorf("cannot open input video: %w", err)
	}
	defer in.Close()

	width, height, fps, total := in.Width(), in.Height(), in.FPS(), in.FrameCount()
	if width <= 0 || height <= 0 || fps <= 0 {
		return fmt.Errorf("cannot read video properties: %dx%d@%.2f", width, height, fps)
	}
	r.p.update(func(s *types.ProcessingStatus) { s.TotalFrames = total })
	r.log.Info("batch processing started", "width", width, "height", height, "fps", fps, "frames", total)

	det, err := detector.New(ctx, cfg.DetectorFactory, cfg.Detection, r.log)
	if err != nil {
		return err
	}
	defer det.Release()

	bp := blur.NewProcessor(cfg.BlurMethod, cfg.BlurIntensity, r.log)
	bp.SetPlaceholderSize(width, height)

	out, err := cfg.Sinks.OpenSink(ctx, r.job.OutputPath, fps, width, height)
	if err != nil {
		return fmt.Errorf("cannot create output video: %w", err)
	}
	// The container is finalised on every path; a close failure on an
	// otherwise clean run still fails it.
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("processing interrupted: %w", ctxErr)
		}

		img, rerr := in.Read()
		if errors.Is(rerr, video.ErrEndOfStream) {
			return nil
		}
		if rerr != nil {
			return fmt.Errorf("failed to read frame %d: %w", r.p.Status().FramesProcessed, rerr)
		}

		faces, derr := det.DetectFaces(img)
		if derr != nil {
			return fmt.Errorf("face detection failed: %w", derr)
		}
		result := bp.BlurFaces(img, faces, r.job.SelectedFaces)
		if r.job.DrawDetections {
			result = detector.DrawDetections(result, faces)
		}
		if werr := out.Write(result); werr != nil {
			return werr
		}

		r.progress()
	}
}

// progress records one more written frame and notifies the caller.
func (r *run) progress() {
	elapsed := r.p.cfg.Now().Sub(r.started).Seconds()
	snap := r.p.update(func(s *types.ProcessingStatus) {
		s.FramesProcessed++
		s.ElapsedTime = elapsed
		if s.TotalFrames > 0 {
			s.Progress = min(1.0, float64(s.FramesProcessed)/float64(s.TotalFrames))
		}
		if s.Progress > 0 {
			s.EstimatedTimeRemaining = max(0, elapsed/s.Progress-elapsed)
		}
	})
	if r.job.OnProgress != nil {
		r.job.OnProgress(snap)
	}
}

func (r *run) finish(apply func(*types.ProcessingStatus)) types.ProcessingStatus {
	elapsed := r.p.cfg.Now().Sub(r.started).Seconds()
	snap := r.p.update(func(s *types.ProcessingStatus) {
		s.ElapsedTime = elapsed
		apply(s)
	})
	if r.job.OnProgress != nil {
		r.job.OnProgress(snap)
	}
	return snap
}

func (p *Processor) set(s types.ProcessingStatus) {
	p.mu.Lock()
	p.status = s
	p.mu.Unlock()
}

func (p *Processor) update(fn func(*types.ProcessingStatus)) types.ProcessingStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.status)
	return p.status
}
