package frame

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
)

func TestBlankIsOpaqueBlack(t *testing.T) {
	img := Blank(4, 3)
	if img.Bounds().Dx() != 4 || img.Bounds().Dy() != 3 {
		t.Fatalf("unexpected size %v", img.Bounds())
	}
	if got := img.RGBAAt(2, 1); got != (color.RGBA{A: 255}) {
		t.Errorf("pixel = %v, want opaque black", got)
	}
}

func TestIsEmpty(t *testing.T) {
	if !IsEmpty(nil) {
		t.Error("nil frame should be empty")
	}
	if !IsEmpty(&image.RGBA{}) {
		t.Error("zero frame should be empty")
	}
	if IsEmpty(Blank(1, 1)) {
		t.Error("1x1 frame should not be empty")
	}
}

func TestCropAndPaste(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 10, 10))
	src.SetRGBA(5, 5, color.RGBA{R: 200, A: 255})

	region := Crop(src, image.Rect(4, 4, 8, 8))
	if region.Bounds() != image.Rect(0, 0, 4, 4) {
		t.Fatalf("Crop bounds = %v", region.Bounds())
	}
	if got := region.RGBAAt(1, 1); got.R != 200 {
		t.Errorf("cropped pixel = %v, want R=200", got)
	}

	// Mutating the crop must not touch the source.
	region.SetRGBA(1, 1, color.RGBA{G: 9, A: 255})
	if src.RGBAAt(5, 5).R != 200 {
		t.Error("Crop shares memory with its source")
	}

	dst := Clone(src)
	Paste(dst, region, image.Pt(4, 4))
	if got := dst.RGBAAt(5, 5); got.G != 9 {
		t.Errorf("pasted pixel = %v, want G=9", got)
	}
	if src.RGBAAt(5, 5).G != 0 {
		t.Error("Clone shares memory with its source")
	}
}

func TestEncodeJPEGAndFit(t *testing.T) {
	img := Blank(64, 32)

	fitted := Fit(img, 16)
	if b := fitted.Bounds(); b.Dx() != 16 || b.Dy() != 8 {
		t.Errorf("Fit() size = %v, want 16x8", b)
	}
	if Fit(img, 0) != image.Image(img) {
		t.Error("Fit(0) should return the input")
	}

	var buf bytes.Buffer
	if err := EncodeJPEG(&buf, fitted, 80); err != nil {
		t.Fatalf("EncodeJPEG() error = %v", err)
	}
	decoded, err := jpeg.Decode(&buf)
	if err != nil {
		t.Fatalf("output is not a JPEG: %v", err)
	}
	if decoded.Bounds().Dx() != 16 {
		t.Errorf("decoded width = %d", decoded.Bounds().Dx())
	}
}
