package ccdframe

import (
	"bytes"
	"testing"

	"golang.org/x/image/tiff"
)

func TestRenderRejectsNon2D(t *testing.T) {
	f := mustFrame(t, []float64{1, 2, 3}, nil, Options{UnitString: "adu"})
	if _, err := f.Render(); err == nil {
		t.Fatal("1D frame should not render")
	}
}

func TestRenderStretch(t *testing.T) {
	f := mustFrame(t, []float64{0, 0, 0, 100}, []int{2, 2}, Options{UnitString: "adu"})
	img, err := f.Render()
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 2 || img.Bounds().Dy() != 2 {
		t.Fatalf("bounds = %v", img.Bounds())
	}
	if img.Gray16At(1, 1).Y != 65535 {
		t.Errorf("brightest pixel = %d, want 65535", img.Gray16At(1, 1).Y)
	}
	if img.Gray16At(0, 0).Y != 0 {
		t.Errorf("darkest pixel = %d, want 0", img.Gray16At(0, 0).Y)
	}
}

func TestRenderMaskedPixelsBlack(t *testing.T) {
	mask, _ := NewMask([]bool{true, false, false, false}, 2, 2)
	f := mustFrame(t, []float64{100, 100, 100, 100}, []int{2, 2}, Options{UnitString: "adu", Mask: mask})
	img, err := f.Render()
	if err != nil {
		t.Fatal(err)
	}
	if img.Gray16At(0, 0).Y != 0 {
		t.Errorf("masked pixel = %d, want 0", img.Gray16At(0, 0).Y)
	}
}

func TestWritePreviewEncodesTIFF(t *testing.T) {
	f := mustFrame(t, []float64{1, 2, 3, 4}, []int{2, 2}, Options{UnitString: "adu"})
	var buf bytes.Buffer
	if err := WritePreview(&buf, f); err != nil {
		t.Fatal(err)
	}
	img, err := tiff.Decode(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("decoding preview: %v", err)
	}
	if img.Bounds().Dx() != 2 || img.Bounds().Dy() != 2 {
		t.Errorf("decoded bounds = %v", img.Bounds())
	}
}
