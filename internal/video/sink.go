package video

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/TomSft15/BlurFace/internal/frame"
	"github.com/TomSft15/BlurFace/internal/utils"
)

// Sink receives processed frames and writes them to a container.
type Sink interface {
	Write(img *image.RGBA) error
	// Close finalises the container. It must be called on every path.
	Close() error
}

// SinkOpener opens output sinks.
type SinkOpener interface {
	OpenSink(ctx context.Context, path string, fps float64, width, height int) (Sink, error)
}

// OpenSink starts an H.264 encoder reading raw RGBA frames of the given size.
func (f *FFmpeg) OpenSink(ctx context.Context, path string, fps float64, width, height int) (Sink, error) {
	if width <= 0 || height <= 0 || fps <= 0 {
		return nil, fmt.Errorf("invalid output format %dx%d@%.2f", width, height, fps)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	cmd := utils.NewSafeCommand(ctx, f.bin(), "-hide_banner", "-loglevel", "error", "-y",
		"-f", "rawvideo", "-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-r", strconv.FormatFloat(fps, 'f', -1, 64),
		"-i", "-",
		"-c:v", "libx264", "-pix_fmt", "yuv420p",
		path,
	)
	in, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start encoder: %w", err)
	}
	return &ffmpegSink{cmd: cmd, in: in, width: width, height: height}, nil
}

type ffmpegSink struct {
	mu            sync.Mutex
	cmd           *utils.SafeCommand
	in            io.WriteCloser
	width, height int
	closed        bool
}

func (s *ffmpegSink) Write(img *image.RGBA) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("sink closed")
	}
	if img.Rect.Dx() != s.width || img.Rect.Dy() != s.height {
		return fmt.Errorf("frame size %dx%d does not match output %dx%d", img.Rect.Dx(), img.Rect.Dy(), s.width, s.height)
	}
	if img.Rect.Min != (image.Point{}) || img.Stride != s.width*4 {
		img = frame.Clone(img)
	}
	if _, err := s.in.Write(img.Pix); err != nil {
		return fmt.Errorf("failed to write frame to encoder: %w: %s", err, strings.TrimSpace(s.cmd.Logs()))
	}
	return nil
}

// Close flushes the encoder and waits for the container to be finalised.
func (s *ffmpegSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.in.Close()
	if err := s.cmd.Wait(); err != nil {
		return fmt.Errorf("encoder process failed: %w: %s", err, strings.TrimSpace(s.cmd.Logs()))
	}
	return nil
}
