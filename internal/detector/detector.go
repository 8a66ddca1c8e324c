// Package detector turns raw detection backend output into absolute,
// confidence-filtered face boxes and renders detection overlays.
package detector

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/TomSft15/BlurFace/internal/frame"
	"github.com/TomSft15/BlurFace/internal/types"
	"github.com/TomSft15/BlurFace/internal/worker"
)

// ErrReleased is returned when a released detector is asked to detect.
var ErrReleased = errors.New("detector released")

// Backend is the opaque detection capability. Boxes are relative to the frame size.
type Backend interface {
	Detect(img *image.RGBA) ([]worker.Face, error)
	Close() error
}

// Settings configures a detector instance.
type Settings struct {
	MinConfidence  float64 `json:"min_confidence"`
	ModelSelection int     `json:"model_selection"`
}

// Validate rejects settings the backend cannot run with.
func (s Settings) Validate() error {
	if s.MinConfidence <= 0 || s.MinConfidence > 1.0 {
		return fmt.Errorf("min_confidence must be between 0.0 and 1.0, got %f", s.MinConfidence)
	}
	if s.ModelSelection != 0 && s.ModelSelection != 1 {
		return fmt.Errorf("model_selection must be 0 or 1, got %d", s.ModelSelection)
	}
	return nil
}

// Factory builds a fresh backend for the given settings.
type Factory func(ctx context.Context, s Settings) (Backend, error)

var workerIDs atomic.Int64

// WorkerFactory launches one Python worker per detector.
func WorkerFactory(base worker.Config) Factory {
	return func(ctx context.Context, s Settings) (Backend, error) {
		cfg := base
		cfg.MinConfidence = s.MinConfidence
		cfg.ModelSelection = s.ModelSelection
		return worker.NewPythonWorker(ctx, int(workerIDs.Add(1)), cfg)
	}
}

// FaceDetector owns one backend instance.
type FaceDetector struct {
	mu       sync.Mutex
	backend  Backend
	settings Settings
	released bool
	log      *slog.Logger
}

// New builds a detector on a backend from factory.
func New(ctx context.Context, factory Factory, s Settings, log *slog.Logger) (*FaceDetector, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	backend, err := factory(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("failed to start detection backend: %w", err)
	}
	return NewWithBackend(backend, s, log), nil
}

// NewWithBackend wraps an already running backend.
func NewWithBackend(backend Backend, s Settings, log *slog.Logger) *FaceDetector {
	if log == nil {
		log = slog.Default()
	}
	return &FaceDetector{backend: backend, settings: s, log: log}
}

// Settings returns the configuration the detector was built with.
func (d *FaceDetector) Settings() Settings {
	return d.settings
}

// DetectFaces returns the faces in img in absolute pixel coordinates. An empty
// frame yields an empty list without touching the backend.
func (d *FaceDetector) DetectFaces(img *image.RGBA) ([]types.DetectedFace, error) {
	faces := []types.DetectedFace{}
	if frame.IsEmpty(img) {
		d.log.Debug("empty frame passed to detector")
		return faces, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return faces, ErrReleased
	}

	raw, err := d.backend.Detect(img)
	if err != nil {
		return faces, err
	}

	w, h := img.Rect.Dx(), img.Rect.Dy()
	for _, r := range raw {
		if r.Score < d.settings.MinConfidence {
			continue
		}
		faces = append(faces, toAbsolute(r, w, h))
	}
	return faces, nil
}

// toAbsolute scales a relative detection to pixels. Truncation matches how
// relative boxes are usually converted, so a box never grows past its source.
func toAbsolute(r worker.Face, w, h int) types.DetectedFace {
	box := types.NewBoundingBox(
		int(r.Xmin*float64(w)),
		int(r.Ymin*float64(h)),
		int(r.Width*float64(w)),
		int(r.Height*float64(h)),
		r.Score,
	)
	kps := make(map[int]types.Keypoint, len(r.Keypoints))
	for i, p := range r.Keypoints {
		kps[i] = types.Keypoint{X: int(p.X * float64(w)), Y: int(p.Y * float64(h))}
	}
	return types.DetectedFace{BBox: box, Keypoints: kps, Score: r.Score}
}

// Release shuts the backend down. Later calls are no-ops.
func (d *FaceDetector) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return nil
	}
	d.released = true
	if err := d.backend.Close(); err != nil {
		d.log.Warn("detection backend did not exit cleanly", "error", err)
		return err
	}
	return nil
}
