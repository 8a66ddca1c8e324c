// Package worker drives the external face detection process. Frames go out on
// the child's stdin and results come back on a dedicated pipe (FD 3), both
// framed as a 4-byte big-endian length followed by a msgpack body.
package worker

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/TomSft15/BlurFace/internal/frame"
	"github.com/TomSft15/BlurFace/internal/utils"
	"github.com/vmihailenco/msgpack/v5"
)

var (
	// ErrWorker is returned when the worker answered but reported a failure.
	ErrWorker = errors.New("detection worker error")
	// ErrTimeout is returned when no response arrived within ReadTimeout.
	ErrTimeout = errors.New("detection worker timed out")
	// ErrClosed is returned by a worker that was shut down or lost its stream.
	ErrClosed = fmt.Errorf("%w: worker closed", ErrWorker)
)

// maxMessageSize bounds a single response body.
const maxMessageSize = 64 << 20

// Config describes how to launch the worker process.
type Config struct {
	Command        string
	Script         string
	MinConfidence  float64
	ModelSelection int
	ReadTimeout    time.Duration
}

// Request is one frame sent to the worker. Frame holds tightly packed RGBA rows.
type Request struct {
	Width  int    `msgpack:"width"`
	Height int    `msgpack:"height"`
	Frame  []byte `msgpack:"frame"`
}

// Point is a landmark in coordinates relative to the frame size.
type Point struct {
	X float64 `msgpack:"x"`
	Y float64 `msgpack:"y"`
}

// Face is a raw detection with a box relative to the frame size.
type Face struct {
	Xmin      float64 `msgpack:"xmin"`
	Ymin      float64 `msgpack:"ymin"`
	Width     float64 `msgpack:"width"`
	Height    float64 `msgpack:"height"`
	Score     float64 `msgpack:"score"`
	Keypoints []Point `msgpack:"keypoints"`
}

// Response is the worker's answer to a Request.
type Response struct {
	Status string `msgpack:"status"`
	Error  string `msgpack:"error"`
	Faces  []Face `msgpack:"faces"`
}

type PythonWorker struct {
	ID          int
	Cmd         *utils.SafeCommand
	Stdin       io.WriteCloser
	DataPipe    io.ReadCloser
	ReadTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

// NewPythonWorker starts the worker process. The process is bound to ctx and
// dies with it.
func NewPythonWorker(ctx context.Context, id int, cfg Config) (*PythonWorker, error) {
	py := utils.NewSafeCommand(ctx, cfg.Command, "-u", cfg.Script,
		"--min-confidence", strconv.FormatFloat(cfg.MinConfidence, 'f', -1, 64),
		"--model-selection", strconv.Itoa(cfg.ModelSelection),
	)

	// Side-channel pipe (FD 3) keeps results apart from anything the model
	// libraries print on stdout.
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Only the child holds the write end from here on.
	w.Close()

	return &PythonWorker{
		ID:          id,
		Cmd:         py,
		Stdin:       stdin,
		DataPipe:    r,
		ReadTimeout: cfg.ReadTimeout,
	}, nil
}

// Detect sends img to the worker and returns its raw detections.
func (w *PythonWorker) Detect(img *image.RGBA) ([]Face, error) {
	if frame.IsEmpty(img) {
		return nil, nil
	}
	// The wire format expects packed rows starting at the origin.
	if img.Rect.Min != (image.Point{}) || img.Stride != img.Rect.Dx()*4 {
		img = frame.Clone(img)
	}

	body, err := msgpack.Marshal(&Request{
		Width:  img.Rect.Dx(),
		Height: img.Rect.Dy(),
		Frame:  img.Pix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	raw, err := w.Communicate(body)
	if err != nil {
		return nil, err
	}

	var resp Response
	if err := msgpack.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode worker response: %w", err)
	}
	if resp.Status != "ok" {
		return nil, fmt.Errorf("%w: %s", ErrWorker, resp.Error)
	}
	return resp.Faces, nil
}

// Communicate writes one framed message and waits for the framed reply.
func (w *PythonWorker) Communicate(data []byte) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, fmt.Errorf("%w (id %d)", ErrClosed, w.ID)
	}

	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, fmt.Errorf("failed to write request header: %w", err)
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write request body: %w", err)
	}

	if w.ReadTimeout <= 0 {
		body, err := readMessage(w.DataPipe)
		if err != nil {
			w.kill()
		}
		return body, err
	}

	type result struct {
		body []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		body, err := readMessage(w.DataPipe)
		done <- result{body, err}
	}()

	select {
	case res := <-done:
		// A broken or oversized reply leaves the stream out of sync.
		if res.err != nil {
			w.kill()
		}
		return res.body, res.err
	case <-time.After(w.ReadTimeout):
		// A hung worker cannot be resynchronised; kill it and unblock the reader.
		w.kill()
		return nil, fmt.Errorf("%w after %s", ErrTimeout, w.ReadTimeout)
	}
}

func readMessage(r io.Reader) ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		// This is where a crashed worker (missing module, bad model) shows up.
		return nil, fmt.Errorf("failed to read response header: %w", err)
	}
	n := binary.BigEndian.Uint32(header)
	if n > maxMessageSize {
		return nil, fmt.Errorf("%w: response of %d bytes exceeds limit", ErrWorker, n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, nil
}

func (w *PythonWorker) kill() {
	if w.Cmd != nil && w.Cmd.Process != nil {
		_ = w.Cmd.Process.Kill()
	}
	w.DataPipe.Close()
	w.closed = true
}

// Logs returns what the worker wrote to stderr.
func (w *PythonWorker) Logs() string {
	return w.Cmd.Logs()
}

// Close shuts the worker down and waits for it to exit. It is safe to call more than once.
func (w *PythonWorker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.Stdin != nil {
		w.Stdin.Close()
		w.Stdin = nil
	}
	if !w.closed {
		w.DataPipe.Close()
		w.closed = true
	}
	if w.Cmd != nil && w.Cmd.Process != nil && w.Cmd.ProcessState == nil {
		return w.Cmd.Wait()
	}
	return nil
}
