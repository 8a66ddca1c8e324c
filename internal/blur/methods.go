package blur

import (
	"image"
	"math"
	"sync"

	xdraw "golang.org/x/image/draw"
)

const maskGray = 128

// GaussianKernelSize is the odd kernel width used for a given intensity.
func GaussianKernelSize(intensity int) int {
	k := max(1, intensity*2+1)
	if k%2 == 0 {
		k++
	}
	return k
}

// PixelateFactor is the downscale factor used for a given intensity.
func PixelateFactor(intensity int) int {
	return max(1, intensity/10)
}

// SolidAlpha is the weight of the gray mask for a given intensity.
func SolidAlpha(intensity int) float64 {
	return math.Min(1.0, float64(intensity)/100)
}

// gaussBufferPool recycles the float scratch plane of the separable blur.
var gaussBufferPool = sync.Pool{
	New: func() interface{} { return make([]float32, 0, 256*256*3) },
}

// gaussianKernel returns normalized weights for an odd kernel size. Sigma is
// derived from the size the same way common imaging toolkits do when no
// explicit sigma is given.
func gaussianKernel(size int) []float32 {
	sigma := 0.3*(float64(size-1)*0.5-1) + 0.8
	r := size / 2
	weights := make([]float32, size)
	var sum float64
	for i := -r; i <= r; i++ {
		w := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		weights[i+r] = float32(w)
		sum += w
	}
	for i := range weights {
		weights[i] = float32(float64(weights[i]) / sum)
	}
	return weights
}

// gaussianBlur blurs a zero-origin region in isolation. Samples past the
// region border repeat the edge pixel.
func gaussianBlur(src *image.RGBA, size int) *image.RGBA {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	out := image.NewRGBA(src.Rect)
	kernel := gaussianKernel(size)
	r := size / 2

	needed := w * h * 3
	bufPtr := gaussBufferPool.Get().([]float32)
	if cap(bufPtr) < needed {
		bufPtr = make([]float32, needed)
	}
	buf := bufPtr[:needed]
	defer gaussBufferPool.Put(bufPtr)

	// Horizontal pass: image -> buffer
	for y := 0; y < h; y++ {
		row := y * src.Stride
		for x := 0; x < w; x++ {
			var rs, gs, bs float32
			for k := -r; k <= r; k++ {
				px := min(max(x+k, 0), w-1)
				off := row + px*4
				wt := kernel[k+r]
				rs += wt * float32(src.Pix[off])
				gs += wt * float32(src.Pix[off+1])
				bs += wt * float32(src.Pix[off+2])
			}
			b := (y*w + x) * 3
			buf[b], buf[b+1], buf[b+2] = rs, gs, bs
		}
	}

	// Vertical pass: buffer -> image
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var rs, gs, bs float32
			for k := -r; k <= r; k++ {
				py := min(max(y+k, 0), h-1)
				b := (py*w + x) * 3
				wt := kernel[k+r]
				rs += wt * buf[b]
				gs += wt * buf[b+1]
				bs += wt * buf[b+2]
			}
			dst := y*out.Stride + x*4
			out.Pix[dst] = clampByte(rs)
			out.Pix[dst+1] = clampByte(gs)
			out.Pix[dst+2] = clampByte(bs)
			out.Pix[dst+3] = src.Pix[y*src.Stride+x*4+3]
		}
	}
	return out
}

// pixelate shrinks the region by factor with linear sampling and scales it back
// with nearest-neighbor sampling, which produces visible blocks.
func pixelate(src *image.RGBA, factor int) *image.RGBA {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	sw, sh := max(1, w/factor), max(1, h/factor)

	small := image.NewRGBA(image.Rect(0, 0, sw, sh))
	xdraw.BiLinear.Scale(small, small.Bounds(), src, src.Bounds(), xdraw.Src, nil)

	out := image.NewRGBA(src.Rect)
	xdraw.NearestNeighbor.Scale(out, out.Bounds(), small, small.Bounds(), xdraw.Src, nil)
	return out
}

// solidMask blends the region with flat mid-gray: (1-alpha)*region + alpha*gray.
func solidMask(src *image.RGBA, alpha float64) *image.RGBA {
	out := image.NewRGBA(src.Rect)
	w, h := src.Rect.Dx(), src.Rect.Dy()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := y*src.Stride + x*4
			dst := y*out.Stride + x*4
			for c := 0; c < 3; c++ {
				v := (1-alpha)*float64(src.Pix[off+c]) + alpha*maskGray
				out.Pix[dst+c] = uint8(math.Round(v))
			}
			out.Pix[dst+3] = src.Pix[off+3]
		}
	}
	return out
}

func clampByte(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}
