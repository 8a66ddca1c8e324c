// Package frame holds the RGBA frame helpers shared by the pipeline stages.
package frame

import (
	"image"
	"image/color"
	"image/draw"
	"io"

	"github.com/disintegration/imaging"
)

// IsEmpty reports whether img carries no pixels at all.
func IsEmpty(img *image.RGBA) bool {
	return img == nil || img.Rect.Empty() || len(img.Pix) == 0
}

// Blank returns an opaque black frame of the given size.
func Blank(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{A: 255}), image.Point{}, draw.Src)
	return img
}

// Clone deep-copies img into a new zero-origin frame.
func Clone(img *image.RGBA) *image.RGBA {
	if IsEmpty(img) {
		return &image.RGBA{}
	}
	return Crop(img, img.Rect)
}

// Crop copies the pixels of rect into a new zero-origin frame so the region
// can be transformed without touching its source.
func Crop(img *image.RGBA, rect image.Rectangle) *image.RGBA {
	rect = rect.Intersect(img.Rect)
	out := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	if rect.Empty() {
		return out
	}
	rowLen := rect.Dx() * 4
	for y := 0; y < rect.Dy(); y++ {
		src := img.PixOffset(rect.Min.X, rect.Min.Y+y)
		copy(out.Pix[y*out.Stride:y*out.Stride+rowLen], img.Pix[src:src+rowLen])
	}
	return out
}

// Paste writes src over dst with its top-left corner at at.
func Paste(dst, src *image.RGBA, at image.Point) {
	r := image.Rectangle{Min: at, Max: at.Add(src.Rect.Size())}
	draw.Draw(dst, r, src, src.Rect.Min, draw.Src)
}

// EncodeJPEG writes img as a JPEG of the given quality.
func EncodeJPEG(w io.Writer, img image.Image, quality int) error {
	return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
}

// Fit scales img down to fit within maxWidth keeping its aspect ratio. Frames
// already narrower than maxWidth, or a non-positive maxWidth, are returned as is.
func Fit(img image.Image, maxWidth int) image.Image {
	b := img.Bounds()
	if maxWidth <= 0 || b.Dx() <= maxWidth {
		return img
	}
	maxHeight := b.Dy() * maxWidth / b.Dx()
	if maxHeight < 1 {
		maxHeight = 1
	}
	return imaging.Fit(img, maxWidth, maxHeight, imaging.Linear)
}
