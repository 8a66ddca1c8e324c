// Package blur redacts detected face regions of a frame.
package blur

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"

	"github.com/TomSft15/BlurFace/internal/frame"
	"github.com/TomSft15/BlurFace/internal/types"
)

// ErrUnknownMethod is returned when a redaction method name is not supported.
var ErrUnknownMethod = errors.New("unknown blur method")

// Method is a redaction algorithm.
type Method int

const (
	Gaussian Method = iota
	Pixelate
	Solid
)

var methodNames = [...]string{
	Gaussian: "gaussian",
	Pixelate: "pixelate",
	Solid:    "solid",
}

func (m Method) String() string {
	if m < 0 || int(m) >= len(methodNames) {
		return fmt.Sprintf("Method(%d)", int(m))
	}
	return methodNames[m]
}

// MarshalText lets a Method travel as its name in JSON.
func (m Method) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// ParseMethod resolves a method name.
func ParseMethod(name string) (Method, error) {
	for i, n := range methodNames {
		if strings.EqualFold(name, n) {
			return Method(i), nil
		}
	}
	return 0, fmt.Errorf("%w %q. Options: %s", ErrUnknownMethod, name, strings.Join(methodNames[:], ", "))
}

// Defaults used when a Processor is built without explicit settings.
const (
	DefaultIntensity = 35
	DefaultWidth     = 640
	DefaultHeight    = 480
)

// Settings is a snapshot of a Processor configuration.
type Settings struct {
	Method    Method `json:"method"`
	Intensity int    `json:"intensity"`
}

// Processor applies the configured redaction to face regions. It is not safe
// for concurrent mutation; the owner serializes access.
type Processor struct {
	method    Method
	intensity int
	// placeholder size for empty input frames
	width, height int
	log           *slog.Logger
}

// NewProcessor builds a Processor. intensity is floored at 1.
func NewProcessor(method Method, intensity int, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	p := &Processor{
		method: method,
		width:  DefaultWidth,
		height: DefaultHeight,
		log:    log,
	}
	p.SetIntensity(intensity)
	return p
}

// SetMethod switches the redaction method by name. An unknown name leaves the
// current method in place and returns ErrUnknownMethod.
func (p *Processor) SetMethod(name string) error {
	m, err := ParseMethod(name)
	if err != nil {
		return err
	}
	p.method = m
	return nil
}

// SetIntensity updates the intensity, clamped to at least 1.
func (p *Processor) SetIntensity(intensity int) {
	p.intensity = max(1, intensity)
}

// SetPlaceholderSize sets the size of the blank frame produced for empty input,
// typically the dimensions of the bound source.
func (p *Processor) SetPlaceholderSize(width, height int) {
	if width > 0 && height > 0 {
		p.width, p.height = width, height
	}
}

// Settings returns the current configuration.
func (p *Processor) Settings() Settings {
	return Settings{Method: p.method, Intensity: p.intensity}
}

// BlurFaces returns a new frame with the selected faces redacted. The input
// frame is never modified. A nil selection redacts every face; indices that
// are out of range are ignored.
func (p *Processor) BlurFaces(img *image.RGBA, faces []types.DetectedFace, selected types.SelectedFaces) *image.RGBA {
	out, _ := p.blurFaces(img, faces, selected)
	return out
}

func (p *Processor) blurFaces(img *image.RGBA, faces []types.DetectedFace, selected types.SelectedFaces) (*image.RGBA, int) {
	if frame.IsEmpty(img) {
		p.log.Warn("empty frame received, returning placeholder", "width", p.width, "height", p.height)
		return frame.Blank(p.width, p.height), 0
	}

	out := frame.Clone(img)
	w, h := out.Rect.Dx(), out.Rect.Dy()
	redacted := 0

	for _, idx := range targets(len(faces), selected) {
		box, ok := faces[idx].BBox.Clamp(w, h)
		if !ok {
			p.log.Debug("skipping face with empty box after clamping", "face", idx, "bbox", faces[idx].BBox)
			continue
		}
		rect := image.Rect(box.Xmin, box.Ymin, box.Xmax, box.Ymax)
		region := frame.Crop(out, rect)
		if frame.IsEmpty(region) {
			p.log.Debug("skipping empty face region", "face", idx, "bbox", box)
			continue
		}
		result, ok := p.redact(region)
		if !ok {
			p.log.Warn("redaction produced no output, skipping face", "face", idx, "method", p.method)
			continue
		}
		frame.Paste(out, result, rect.Min)
		redacted++
	}
	return out, redacted
}

// targets resolves the selection into in-range, de-duplicated indices.
func targets(n int, selected types.SelectedFaces) []int {
	if selected == nil {
		all := make([]int, n)
		for i := range all {
			all[i] = i
		}
		return all
	}
	seen := make(map[int]bool, len(selected))
	out := make([]int, 0, len(selected))
	for _, idx := range selected {
		if idx < 0 || idx >= n || seen[idx] {
			continue
		}
		seen[idx] = true
		out = append(out, idx)
	}
	return out
}

func (p *Processor) redact(region *image.RGBA) (*image.RGBA, bool) {
	var out *image.RGBA
	switch p.method {
	case Gaussian:
		out = gaussianBlur(region, GaussianKernelSize(p.intensity))
	case Pixelate:
		out = pixelate(region, PixelateFactor(p.intensity))
	case Solid:
		out = solidMask(region, SolidAlpha(p.intensity))
	}
	if frame.IsEmpty(out) || out.Rect.Size() != region.Rect.Size() {
		return nil, false
	}
	return out, true
}
