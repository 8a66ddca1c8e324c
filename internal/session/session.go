// Package session binds one capture source to one detector and blur
// configuration and runs the live per-frame pipeline over it.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/TomSft15/BlurFace/internal/blur"
	"github.com/TomSft15/BlurFace/internal/detector"
	"github.com/TomSft15/BlurFace/internal/frame"
	"github.com/TomSft15/BlurFace/internal/types"
	"github.com/TomSft15/BlurFace/internal/video"
	"github.com/TomSft15/BlurFace/internal/worker"
)

var (
	// ErrNotRunning is returned when a frame is requested from a session that is not running.
	ErrNotRunning = errors.New("session not running")
	// ErrNotFound is returned by the registry for unknown session ids.
	ErrNotFound = errors.New("session not found")
	// ErrDetection is returned instead of a frame whose faces could not be located.
	ErrDetection = errors.New("face detection failed")

	errNoCapture = errors.New("no open capture")
)

// State is the lifecycle stage of a session.
type State int

const (
	Created State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Options configures a session. Zero retry bounds fall back to 1.
type Options struct {
	Source                 video.Source
	Opener                 video.Opener
	DetectorFactory        detector.Factory
	Detection              detector.Settings
	BlurMethod             blur.Method
	BlurIntensity          int
	ReopenAttempts         int
	MaxConsecutiveFailures int
	DefaultWidth           int
	DefaultHeight          int
	Log                    *slog.Logger
	// Now stamps detection metadata. Defaults to time.Now.
	Now func() time.Time
}

// FrameOptions selects the optional pipeline stages for one frame.
type FrameOptions struct {
	DrawDetections bool
	ApplyBlur      bool
}

// Info is a snapshot of a session for clients.
type Info struct {
	ID            string              `json:"session_id"`
	Source        string              `json:"source"`
	State         string              `json:"state"`
	Running       bool                `json:"running"`
	FrameCount    int                 `json:"frame_count"`
	SelectedFaces types.SelectedFaces `json:"selected_faces"`
	Blur          blur.Settings       `json:"blur"`
	Detection     detector.Settings   `json:"detection"`
	Width         int                 `json:"width"`
	Height        int                 `json:"height"`
}

// Session is one client's live pipeline. Its methods serialize on an internal
// lock so concurrent requests against one session cannot corrupt it.
type Session struct {
	ID string

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	opts     Options
	log      *slog.Logger
	state    State
	capture  video.Capture
	detector *detector.FaceDetector
	blur     *blur.Processor

	frameCount int
	selected   types.SelectedFaces
	lastFrame  *image.RGBA
	failures   int
}

// New creates a session in the Created state. ctx bounds the lifetime of the
// processes the session spawns.
func New(ctx context.Context, id string, opts Options) *Session {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	opts.ReopenAttempts = max(1, opts.ReopenAttempts)
	opts.MaxConsecutiveFailures = max(1, opts.MaxConsecutiveFailures)
	if opts.DefaultWidth <= 0 || opts.DefaultHeight <= 0 {
		opts.DefaultWidth, opts.DefaultHeight = blur.DefaultWidth, blur.DefaultHeight
	}

	log := opts.Log.With("session", id, "source", opts.Source.String())
	bp := blur.NewProcessor(opts.BlurMethod, opts.BlurIntensity, log)
	bp.SetPlaceholderSize(opts.DefaultWidth, opts.DefaultHeight)

	ctx, cancel := context.WithCancel(ctx)
	return &Session{
		ID:     id,
		ctx:    ctx,
		cancel: cancel,
		opts:   opts,
		log:    log,
		state:  Created,
		blur:   bp,
	}
}

// Start opens the source and the detector. On failure the session stays not running.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Running:
		return nil
	case Stopped:
		return fmt.Errorf("%w: session was stopped", ErrNotRunning)
	}

	if !s.opts.Source.Webcam {
		if _, err := os.Stat(s.opts.Source.Path); err != nil {
			return fmt.Errorf("%w: %v", video.ErrSourceUnavailable, err)
		}
	}

	capture, err := s.opts.Opener.Open(s.ctx, s.opts.Source)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", s.opts.Source, err)
	}
	det, err := detector.New(s.ctx, s.opts.DetectorFactory, s.opts.Detection, s.log)
	if err != nil {
		capture.Close()
		return err
	}

	s.capture = capture
	s.detector = det
	s.blur.SetPlaceholderSize(capture.Width(), capture.Height())
	s.state = Running
	s.failures = 0
	s.log.Info("session started", "width", capture.Width(), "height", capture.Height(), "fps", capture.FPS())
	return nil
}

// Stop releases the capture handle and the detector. It is idempotent.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Session) stopLocked() {
	if s.state == Stopped {
		return
	}
	s.state = Stopped
	if s.capture != nil {
		if err := s.capture.Close(); err != nil {
			s.log.Warn("failed to release capture", "error", err)
		}
		s.capture = nil
	}
	if s.detector != nil {
		_ = s.detector.Release()
		s.detector = nil
	}
	s.cancel()
	s.log.Info("session stopped", "frames", s.frameCount)
}

// Running reports whether frames can be requested.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == Running
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := Info{
		ID:            s.ID,
		Source:        s.opts.Source.String(),
		State:         s.state.String(),
		Running:       s.state == Running,
		FrameCount:    s.frameCount,
		SelectedFaces: s.selected,
		Blur:          s.blur.Settings(),
		Detection:     s.opts.Detection,
	}
	if s.capture != nil {
		info.Width, info.Height = s.capture.Width(), s.capture.Height()
	}
	return info
}

// GetFrame pulls the next frame from the source. On a failed read a file that
// reached its end is rewound once; otherwise the handle is reopened up to
// ReopenAttempts times. When every retry fails the last good frame is served
// if there is one, else the session stops and ErrSourceUnavailable is returned.
func (s *Session) GetFrame() (*image.RGBA, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	img, _, err := s.getFrameLocked()
	return img, err
}

// getFrameLocked also reports whether the frame is fresh or the cached fallback.
func (s *Session) getFrameLocked() (*image.RGBA, bool, error) {
	if s.state != Running {
		return nil, false, ErrNotRunning
	}

	// A previous exhausted retry can leave no open handle; go straight to reopening.
	var img *image.RGBA
	err := errNoCapture
	if s.capture != nil {
		img, err = s.capture.Read()
		if err == nil && !frame.IsEmpty(img) {
			return s.accept(img), true, nil
		}
		s.log.Debug("frame read failed", "error", err)
	}

	if s.capture != nil && s.capture.IsFile() && errors.Is(err, video.ErrEndOfStream) {
		if serr := s.capture.Seek(0); serr == nil {
			if img, err = s.capture.Read(); err == nil && !frame.IsEmpty(img) {
				s.log.Debug("end of file reached, looped to first frame")
				return s.accept(img), true, nil
			}
		} else {
			s.log.Warn("rewind failed", "error", serr)
		}
	}

	for attempt := 1; attempt <= s.opts.ReopenAttempts; attempt++ {
		img, err = s.reopen()
		if err == nil && !frame.IsEmpty(img) {
			s.log.Info("capture reopened", "attempt", attempt)
			return s.accept(img), true, nil
		}
		s.log.Warn("reopen attempt failed", "attempt", attempt, "error", err)
	}

	if s.lastFrame != nil {
		s.log.Warn("retries exhausted, serving last good frame")
		return frame.Clone(s.lastFrame), false, nil
	}

	s.log.Error("source stopped producing frames, stopping session")
	s.stopLocked()
	return nil, false, fmt.Errorf("%w: %s", video.ErrSourceUnavailable, s.opts.Source)
}

func (s *Session) reopen() (*image.RGBA, error) {
	if s.capture != nil {
		s.capture.Close()
		s.capture = nil
	}
	c, err := s.opts.Opener.Open(s.ctx, s.opts.Source)
	if err != nil {
		return nil, err
	}
	s.capture = c
	return c.Read()
}

func (s *Session) accept(img *image.RGBA) *image.RGBA {
	s.frameCount++
	s.lastFrame = img
	return img
}

// ProcessFrame runs detection on img, redacts the selected faces when asked
// and optionally draws the detections. When redaction is requested and
// detection fails, no frame is returned.
func (s *Session) ProcessFrame(img *image.RGBA, opts FrameOptions) (*image.RGBA, types.DetectionData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processLocked(img, opts)
}

func (s *Session) processLocked(img *image.RGBA, opts FrameOptions) (*image.RGBA, types.DetectionData, error) {
	now := s.opts.Now()
	if frame.IsEmpty(img) {
		s.log.Warn("empty frame received in pipeline")
		w, h := s.opts.DefaultWidth, s.opts.DefaultHeight
		return frame.Blank(w, h), types.NewDetectionData(nil, s.frameCount, w, h, now), nil
	}

	faces, err := s.detect(img)
	if err != nil {
		if opts.ApplyBlur {
			return nil, types.DetectionData{}, err
		}
		faces = []types.DetectedFace{}
	}
	out := img
	if opts.ApplyBlur && len(faces) > 0 {
		out = s.blur.BlurFaces(img, faces, s.selected)
	}
	if opts.DrawDetections {
		out = detector.DrawDetections(out, faces)
	}
	if out == img {
		out = frame.Clone(img)
	}
	return out, types.NewDetectionData(faces, s.frameCount, img.Rect.Dx(), img.Rect.Dy(), now), nil
}

func (s *Session) detect(img *image.RGBA) ([]types.DetectedFace, error) {
	if s.detector == nil {
		return []types.DetectedFace{}, nil
	}
	faces, err := s.detector.DetectFaces(img)
	if err == nil {
		return faces, nil
	}
	s.log.Warn("face detection failed", "error", err)
	if backendLost(err) {
		s.rebuildDetector()
	}
	return nil, fmt.Errorf("%w: %w", ErrDetection, err)
}

// backendLost reports whether err leaves the detector unusable. A worker that
// answered with an error of its own is still serving.
func backendLost(err error) bool {
	return !errors.Is(err, worker.ErrWorker) || errors.Is(err, worker.ErrClosed)
}

// rebuildDetector replaces a dead detector with a fresh one built from the
// current settings. On failure the old one stays and the next frame retries.
func (s *Session) rebuildDetector() {
	if s.opts.DetectorFactory == nil {
		return
	}
	det, err := detector.New(s.ctx, s.opts.DetectorFactory, s.opts.Detection, s.log)
	if err != nil {
		s.log.Error("failed to rebuild detector", "error", err)
		return
	}
	_ = s.detector.Release()
	s.detector = det
	s.log.Info("detector rebuilt")
}

// NextFrame fetches and processes one frame. Fetches that fall back to the
// cached frame and frames whose detection failed count as failures; reaching
// MaxConsecutiveFailures in a row stops the session.
func (s *Session) NextFrame(opts FrameOptions) (*image.RGBA, types.DetectionData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	img, fresh, err := s.getFrameLocked()
	if err != nil {
		return nil, types.DetectionData{}, err
	}
	out, data, err := s.processLocked(img, opts)
	if fresh && err == nil {
		s.failures = 0
	} else {
		s.failures++
		if s.failures >= s.opts.MaxConsecutiveFailures {
			s.log.Error("too many consecutive failures, stopping session", "failures", s.failures)
			s.stopLocked()
		}
	}
	if err != nil {
		return nil, types.DetectionData{}, err
	}
	return out, data, nil
}

// Detections returns raw detection metadata without redaction. The last
// frame is reused when there is one; otherwise a frame is pulled.
func (s *Session) Detections() (types.DetectionData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	img := s.lastFrame
	if img == nil {
		var err error
		if img, _, err = s.getFrameLocked(); err != nil {
			return types.DetectionData{}, err
		}
	}
	faces, err := s.detect(img)
	if err != nil {
		return types.DetectionData{}, err
	}
	return types.NewDetectionData(faces, s.frameCount, img.Rect.Dx(), img.Rect.Dy(), s.opts.Now()), nil
}

// UpdateBlur changes the redaction settings. An empty method or nil intensity
// leaves that value unchanged. An unknown method is rejected before anything changes.
func (s *Session) UpdateBlur(method string, intensity *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if method != "" {
		if err := s.blur.SetMethod(method); err != nil {
			return err
		}
	}
	if intensity != nil {
		s.blur.SetIntensity(*intensity)
	}
	return nil
}

// SetSelectedFaces sets which per-frame detection indices are redacted. nil means all.
func (s *Session) SetSelectedFaces(sel types.SelectedFaces) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = sel
}

// UpdateDetection replaces the detector with one built from settings. The old
// detector is released only after the new one is up, so a failure keeps the
// previous configuration in effect.
func (s *Session) UpdateDetection(settings detector.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := settings.Validate(); err != nil {
		return err
	}
	if s.state != Running {
		s.opts.Detection = settings
		return nil
	}
	det, err := detector.New(s.ctx, s.opts.DetectorFactory, settings, s.log)
	if err != nil {
		return err
	}
	if s.detector != nil {
		_ = s.detector.Release()
	}
	s.detector = det
	s.opts.Detection = settings
	s.log.Info("detector reconfigured", "min_confidence", settings.MinConfidence, "model_selection", settings.ModelSelection)
	return nil
}
