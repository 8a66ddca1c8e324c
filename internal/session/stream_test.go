package session

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/TomSft15/BlurFace/internal/types"
)

type fakeTicker struct {
	ch      chan time.Time
	stopped bool
}

func newFakeTicker(ticks int) *fakeTicker {
	t := &fakeTicker{ch: make(chan time.Time, ticks)}
	for i := 0; i < ticks; i++ {
		t.ch <- time.Time{}
	}
	return t
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               { t.stopped = true }

func TestStreamEmitsOneFramePerTick(t *testing.T) {
	h := &harness{opener: &fakeOpener{next: []*fakeCapture{{frames: 10}}}}
	s := started(t, h, webcam())
	ticker := newFakeTicker(3)
	errDone := errors.New("client went away")

	var ids []int
	err := Stream(context.Background(), s, ticker, FrameOptions{ApplyBlur: true}, func(img *image.RGBA, data types.DetectionData) error {
		ids = append(ids, data.FrameID)
		if len(ids) == 3 {
			return errDone
		}
		return nil
	})

	if !errors.Is(err, errDone) {
		t.Fatalf("Stream() = %v, want emit error", err)
	}
	if len(ids) != 3 || ids[0] != 1 || ids[2] != 3 {
		t.Errorf("frame ids = %v", ids)
	}
	if !ticker.stopped {
		t.Error("ticker not stopped")
	}
}

func TestStreamStopsWithContext(t *testing.T) {
	h := &harness{opener: &fakeOpener{next: []*fakeCapture{{frames: 10}}}}
	s := started(t, h, webcam())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Stream(ctx, s, newFakeTicker(0), FrameOptions{}, func(*image.RGBA, types.DetectionData) error {
		t.Fatal("emit called after cancel")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Stream() = %v, want context.Canceled", err)
	}
}

func TestStreamEndsWhenSessionStops(t *testing.T) {
	h := &harness{opener: &fakeOpener{next: []*fakeCapture{{frames: 0}}}}
	s := started(t, h, webcam())

	err := Stream(context.Background(), s, newFakeTicker(5), FrameOptions{}, func(*image.RGBA, types.DetectionData) error {
		return nil
	})
	if !errors.Is(err, ErrNotRunning) {
		t.Errorf("Stream() = %v, want ErrNotRunning", err)
	}
}

func TestStreamNeverEmitsUnredactedFrames(t *testing.T) {
	h := &harness{
		opener:    &fakeOpener{next: []*fakeCapture{{frames: 10}}},
		detectErr: errors.New("failed to write request header: broken pipe"),
	}
	s := started(t, h, webcam())

	err := Stream(context.Background(), s, newFakeTicker(5), FrameOptions{ApplyBlur: true}, func(*image.RGBA, types.DetectionData) error {
		t.Fatal("frame emitted while detection was failing")
		return nil
	})
	if !errors.Is(err, ErrNotRunning) || !errors.Is(err, ErrDetection) {
		t.Errorf("Stream() = %v, want ErrNotRunning joined with ErrDetection", err)
	}
}
