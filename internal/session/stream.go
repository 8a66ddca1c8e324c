package session

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/TomSft15/BlurFace/internal/types"
)

// Ticker paces the stream loop.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// NewTicker returns a wall-clock ticker firing fps times per second.
func NewTicker(fps float64) Ticker {
	if fps <= 0 {
		fps = 30
	}
	return timeTicker{time.NewTicker(time.Duration(float64(time.Second) / fps))}
}

// FrameHandler receives each processed frame. Returning an error ends the stream.
type FrameHandler func(img *image.RGBA, data types.DetectionData) error

// Stream pulls and processes one frame per tick and hands it to emit. Failed
// fetches are skipped until the session stops itself. It returns when ctx is
// done, emit fails or the session is no longer running. The ticker is stopped
// on return.
func Stream(ctx context.Context, s *Session, t Ticker, opts FrameOptions, emit FrameHandler) error {
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C():
		}

		img, data, err := s.NextFrame(opts)
		if err != nil {
			if !s.Running() {
				if errors.Is(err, ErrNotRunning) {
					return err
				}
				return errors.Join(ErrNotRunning, err)
			}
			s.log.Debug("stream skipped a frame", "error", err)
			continue
		}
		if err := emit(img, data); err != nil {
			return err
		}
	}
}
