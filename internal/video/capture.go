// Package video decodes sources into RGBA frames and encodes frames back into
// containers by piping raw video through ffmpeg.
package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/TomSft15/BlurFace/internal/utils"
)

var (
	// ErrSourceUnavailable means a source could not be opened or stopped producing frames.
	ErrSourceUnavailable = errors.New("video source unavailable")
	// ErrEndOfStream is returned by Read once a file source has no frames left.
	ErrEndOfStream = errors.New("end of stream")
)

// Source describes what to capture from: a webcam index or a file path.
type Source struct {
	Webcam bool
	Device int
	Path   string
}

// WebcamSource returns the descriptor of /dev/video<index>.
func WebcamSource(index int) Source {
	return Source{Webcam: true, Device: index}
}

// FileSource returns the descriptor of a video file.
func FileSource(path string) Source {
	return Source{Path: path}
}

// ParseSource reads a descriptor as given on the command line or over the API:
// a bare integer is a webcam index, anything else a file path.
func ParseSource(s string) Source {
	if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil && n >= 0 {
		return WebcamSource(n)
	}
	return FileSource(s)
}

// DevicePath is the V4L2 node of a webcam source.
func (s Source) DevicePath() string {
	return "/dev/video" + strconv.Itoa(s.Device)
}

func (s Source) String() string {
	if s.Webcam {
		return "webcam:" + strconv.Itoa(s.Device)
	}
	return s.Path
}

// Capture is an open source producing frames on demand.
type Capture interface {
	// Read returns the next frame, or ErrEndOfStream when a file is exhausted.
	Read() (*image.RGBA, error)
	// Seek repositions a file source so the next Read returns frame index.
	Seek(index int) error
	Width() int
	Height() int
	FPS() float64
	// FrameCount is 0 for live sources or when unknown.
	FrameCount() int
	IsFile() bool
	Close() error
}

// Opener opens capture sources.
type Opener interface {
	Open(ctx context.Context, src Source) (Capture, error)
}

// FFmpeg opens sources and sinks through ffmpeg subprocesses.
type FFmpeg struct {
	FFmpegBin     string
	Inspector     Inspector
	DefaultFPS    float64
	DefaultWidth  int
	DefaultHeight int
	Log           *slog.Logger
}

func (f *FFmpeg) bin() string {
	if f.FFmpegBin == "" {
		return "ffmpeg"
	}
	return f.FFmpegBin
}

func (f *FFmpeg) logger() *slog.Logger {
	if f.Log == nil {
		return slog.Default()
	}
	return f.Log
}

// Open starts decoding src. A missing file or an unreadable device yields ErrSourceUnavailable.
func (f *FFmpeg) Open(ctx context.Context, src Source) (Capture, error) {
	c := &ffmpegCapture{ctx: ctx, ff: f, src: src}

	if src.Webcam {
		si, err := f.Inspector.inspectDevice(ctx, src.DevicePath())
		if err != nil {
			return nil, err
		}
		c.info = si
	} else {
		si, err := f.Inspector.inspectFile(ctx, src.Path)
		if err != nil {
			return nil, err
		}
		c.info = si
	}
	if c.info.FPS <= 0 {
		c.info.FPS = f.DefaultFPS
	}

	if err := c.start(0); err != nil {
		return nil, err
	}
	return c, nil
}

type ffmpegCapture struct {
	ctx  context.Context
	ff   *FFmpeg
	src  Source
	info streamInfo

	mu     sync.Mutex
	cmd    *utils.SafeCommand
	out    io.ReadCloser
	closed bool
}

func (c *ffmpegCapture) args(startFrame int) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if c.src.Webcam {
		args = append(args, "-f", "v4l2", "-i", c.src.DevicePath())
	} else {
		if startFrame > 0 {
			args = append(args, "-ss", strconv.FormatFloat(float64(startFrame)/c.info.FPS, 'f', 6, 64))
		}
		args = append(args, "-i", c.src.Path)
	}
	return append(args, "-f", "rawvideo", "-pix_fmt", "rgba", "-")
}

func (c *ffmpegCapture) start(startFrame int) error {
	cmd := utils.NewSafeCommand(c.ctx, c.ff.bin(), c.args(startFrame)...)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create decoder pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: failed to start decoder for %s: %v", ErrSourceUnavailable, c.src, err)
	}
	c.cmd, c.out = cmd, out
	return nil
}

func (c *ffmpegCapture) stop() {
	if c.cmd == nil {
		return
	}
	c.out.Close()
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	_ = c.cmd.Wait()
	c.cmd, c.out = nil, nil
}

func (c *ffmpegCapture) Read() (*image.RGBA, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.cmd == nil {
		return nil, fmt.Errorf("%w: capture closed", ErrSourceUnavailable)
	}

	img := image.NewRGBA(image.Rect(0, 0, c.info.Width, c.info.Height))
	if _, err := io.ReadFull(c.out, img.Pix); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			if logs := strings.TrimSpace(c.cmd.Logs()); logs != "" {
				c.ff.logger().Debug("decoder stopped", "source", c.src.String(), "stderr", logs)
			}
			return nil, ErrEndOfStream
		}
		return nil, fmt.Errorf("failed to read frame: %w", err)
	}
	return img, nil
}

// Seek restarts the decoder at index. Live sources only accept 0, which is a no-op.
func (c *ffmpegCapture) Seek(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("%w: capture closed", ErrSourceUnavailable)
	}
	if c.src.Webcam {
		if index != 0 {
			return fmt.Errorf("cannot seek a live source")
		}
		return nil
	}
	if index < 0 {
		index = 0
	}
	c.stop()
	return c.start(index)
}

func (c *ffmpegCapture) Width() int      { return c.info.Width }
func (c *ffmpegCapture) Height() int     { return c.info.Height }
func (c *ffmpegCapture) FPS() float64    { return c.info.FPS }
func (c *ffmpegCapture) FrameCount() int { return c.info.FrameCount }
func (c *ffmpegCapture) IsFile() bool    { return !c.src.Webcam }

func (c *ffmpegCapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.stop()
	return nil
}

// ExtractFrame decodes the frame at index from a file.
func ExtractFrame(ctx context.Context, o Opener, path string, index int) (*image.RGBA, error) {
	c, err := o.Open(ctx, FileSource(path))
	if err != nil {
		return nil, err
	}
	defer c.Close()

	if n := c.FrameCount(); n > 0 && index >= n {
		return nil, fmt.Errorf("frame index %d out of range (0-%d)", index, n-1)
	}
	if index > 0 {
		if err := c.Seek(index); err != nil {
			return nil, err
		}
	}
	return c.Read()
}
