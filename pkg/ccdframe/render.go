package ccdframe

import (
	"fmt"
	"image"
	"io"
	"sort"

	"golang.org/x/image/tiff"
)

// Render maps a 2D frame onto a 16-bit grayscale image with a percentile
// stretch: the 0.5th percentile of the valid pixels goes to black, the
// 99.5th to white. Masked pixels render black.
func (f *Frame) Render() (*image.Gray16, error) {
	if len(f.shape) != 2 {
		return nil, fmt.Errorf("can only render 2D frames, shape is %s", shapeString(f.shape))
	}
	height, width := f.shape[0], f.shape[1]

	lo, hi := stretchBounds(f, 0.005, 0.995)
	if hi <= lo {
		// degenerate stretch, fall back to the full range
		lo, hi = stretchBounds(f, 0, 1)
	}
	scale := 0.0
	if hi > lo {
		scale = 65535.0 / (hi - lo)
	}

	img := image.NewGray16(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := y*width + x
			if f.mask != nil && f.mask.Bits[i] {
				continue
			}
			v := (f.data[i] - lo) * scale
			if v < 0 {
				v = 0
			} else if v > 65535 {
				v = 65535
			}
			pix := uint16(v)
			off := img.PixOffset(x, y)
			img.Pix[off] = uint8(pix >> 8)
			img.Pix[off+1] = uint8(pix)
		}
	}
	return img, nil
}

// WritePreview renders the frame and encodes it as a deflate-compressed
// TIFF.
func WritePreview(w io.Writer, f *Frame) error {
	img, err := f.Render()
	if err != nil {
		return err
	}
	return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
}

// stretchBounds returns the pixel values at the two percentiles over the
// valid pixels.
func stretchBounds(f *Frame, pLo, pHi float64) (float64, float64) {
	values := make([]float64, 0, len(f.data))
	for i, v := range f.data {
		if f.mask != nil && f.mask.Bits[i] {
			continue
		}
		values = append(values, v)
	}
	if len(values) == 0 {
		return 0, 0
	}
	sort.Float64s(values)
	at := func(p float64) float64 {
		i := int(p * float64(len(values)-1))
		return values[i]
	}
	return at(pLo), at(pHi)
}
