package detector

import (
	"fmt"
	"image"
	"image/color"

	"github.com/TomSft15/BlurFace/internal/frame"
	"github.com/TomSft15/BlurFace/internal/types"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	boxColor      = color.RGBA{G: 255, A: 255}
	keypointColor = color.RGBA{B: 255, A: 255}
)

const (
	boxThickness   = 2
	keypointRadius = 2
)

// DrawDetections returns a copy of img with every face box outlined, its score
// written above it and its keypoints marked. img is left untouched.
func DrawDetections(img *image.RGBA, faces []types.DetectedFace) *image.RGBA {
	if frame.IsEmpty(img) {
		return frame.Clone(img)
	}
	out := frame.Clone(img)

	for _, f := range faces {
		b := f.BBox
		strokeRect(out, image.Rect(b.Xmin, b.Ymin, b.Xmax, b.Ymax), boxThickness)

		d := font.Drawer{
			Dst:  out,
			Src:  image.NewUniform(boxColor),
			Face: basicfont.Face7x13,
			Dot:  fixed.P(b.Xmin, b.Ymin-10),
		}
		d.DrawString(fmt.Sprintf("Score: %.2f", f.Score))

		for _, kp := range f.Keypoints {
			fillCircle(out, kp.X, kp.Y, keypointRadius)
		}
	}
	return out
}

// strokeRect draws the border of r, growing inward. Pixels off the frame are
// dropped and the loops only walk the part of r that overlaps img.
func strokeRect(img *image.RGBA, r image.Rectangle, t int) {
	b := img.Rect
	x0, x1 := max(r.Min.X, b.Min.X), min(r.Max.X, b.Max.X-1)
	y0, y1 := max(r.Min.Y, b.Min.Y), min(r.Max.Y, b.Max.Y-1)
	for i := 0; i < t; i++ {
		for x := x0; x <= x1; x++ {
			img.SetRGBA(x, r.Min.Y+i, boxColor)
			img.SetRGBA(x, r.Max.Y-i, boxColor)
		}
		for y := y0; y <= y1; y++ {
			img.SetRGBA(r.Min.X+i, y, boxColor)
			img.SetRGBA(r.Max.X-i, y, boxColor)
		}
	}
}

func fillCircle(img *image.RGBA, cx, cy, r int) {
	for y := -r; y <= r; y++ {
		for x := -r; x <= r; x++ {
			if x*x+y*y <= r*r {
				img.SetRGBA(cx+x, cy+y, keypointColor)
			}
		}
	}
}
