package ccdframe

import (
	"bytes"
	"errors"
	"testing"

	"github.com/astrogo/fitsio"

	"ccdframe/pkg/units"
)

func roundTrip(t *testing.T, f *Frame, wopts WriteOptions, ropts ReadOptions) *Frame {
	t.Helper()
	var buf bytes.Buffer
	if err := Write(f, &buf, wopts); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := Read(bytes.NewReader(buf.Bytes()), ropts)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	return got
}

func TestRoundTrip(t *testing.T) {
	mask, _ := NewMask([]bool{false, true, false, false, false, false}, 2, 3)
	h := NewHeader()
	h.Set("OBJECT", "M42", "target")
	h.Set("EXPTIME", 30.0, "seconds")
	f := mustFrame(t, []float64{1, 2, 3, 4, 5, 6}, []int{2, 3}, Options{
		UnitString:  "adu",
		Mask:        mask,
		Uncertainty: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6},
		Meta:        h,
	})

	got := roundTrip(t, f, WriteOptions{}, ReadOptions{})

	if !shapeEqual(got.Shape(), []int{2, 3}) {
		t.Fatalf("shape = %v", got.Shape())
	}
	if !almostEqual(got.Data(), f.Data()) {
		t.Errorf("data = %v", got.Data())
	}
	if !got.Unit().Equal(f.Unit()) {
		t.Errorf("unit = %q", got.Unit())
	}
	if got.Mask() == nil {
		t.Fatal("mask lost")
	}
	for i, bit := range f.Mask().Bits {
		if got.Mask().Bits[i] != bit {
			t.Fatalf("mask bit %d = %v", i, got.Mask().Bits[i])
		}
	}
	if got.Uncertainty() == nil {
		t.Fatal("uncertainty lost")
	}
	if !almostEqual(got.Uncertainty().Array, f.Uncertainty().Array) {
		t.Errorf("uncertainty = %v", got.Uncertainty().Array)
	}
	if got.Meta().Value("OBJECT") != "M42" {
		t.Errorf("OBJECT = %v", got.Meta().Value("OBJECT"))
	}
	if v, ok := got.Meta().Value("EXPTIME").(float64); !ok || v != 30.0 {
		t.Errorf("EXPTIME = %v", got.Meta().Value("EXPTIME"))
	}
}

func TestRoundTripWCS(t *testing.T) {
	f := mustFrame(t, []float64{1, 2, 3, 4}, []int{2, 2}, Options{
		UnitString: "adu",
		WCS:        sampleWCS(),
	})

	got := roundTrip(t, f, WriteOptions{}, ReadOptions{})
	if !got.WCS().Usable() {
		t.Fatal("WCS lost in round trip")
	}
	if got.WCS().Axes[0].CType != "RA---TAN" {
		t.Errorf("CTYPE1 = %q", got.WCS().Axes[0].CType)
	}
	if got.WCS().Axes[0].CRVal != f.WCS().Axes[0].CRVal {
		t.Errorf("CRVAL1 = %g", got.WCS().Axes[0].CRVal)
	}
}

func TestDimensionlessUnitNotWritten(t *testing.T) {
	f := mustFrame(t, []float64{1}, nil, Options{Unit: units.Dimensionless, HasUnit: true})

	hdus, err := f.ToHDUList(WriteOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if hdus[0].Header().Get(unitKey) != nil {
		t.Error("dimensionless unit should not be recorded")
	}
}

func TestToHDUListOrder(t *testing.T) {
	mask, _ := NewMask([]bool{false, true}, 2)
	f := mustFrame(t, []float64{1, 2}, nil, Options{
		UnitString:  "adu",
		Mask:        mask,
		Uncertainty: []float64{0.5, 0.5},
	})

	hdus, err := f.ToHDUList(WriteOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(hdus) != 3 {
		t.Fatalf("got %d records, want primary+mask+uncert", len(hdus))
	}
	if c := hdus[1].Header().Get("EXTNAME"); c == nil || c.Value != "MASK" {
		t.Errorf("second record name = %v", c)
	}
	if c := hdus[2].Header().Get("EXTNAME"); c == nil || c.Value != "UNCERT" {
		t.Errorf("third record name = %v", c)
	}
	if hdus[1].Header().Bitpix() != 8 {
		t.Errorf("mask bitpix = %d, want 8", hdus[1].Header().Bitpix())
	}
}

func TestWriteFlagsUnsupported(t *testing.T) {
	f := mustFrame(t, []float64{1}, nil, Options{UnitString: "adu"})
	_, err := f.ToHDUList(WriteOptions{FlagsName: "FLAGS"})
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("got %v, want ErrUnsupported", err)
	}
}

func TestReadFlagsUnsupported(t *testing.T) {
	_, err := Read(bytes.NewReader(nil), ReadOptions{FlagsName: "FLAGS"})
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("got %v, want ErrUnsupported", err)
	}
}

func TestWriteMixedUnitUncertaintyUnsupported(t *testing.T) {
	f := mustFrame(t, []float64{1, 2}, nil, Options{UnitString: "adu"})
	u := NewStdDevUncertainty([]float64{0.1, 0.2}).WithUnit(units.MustParse("electron"))
	if err := f.SetUncertainty(u); err != nil {
		t.Fatal(err)
	}

	_, err := f.ToHDUList(WriteOptions{})
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("got %v, want ErrUnsupported", err)
	}

	// matching unit is fine
	u2 := NewStdDevUncertainty([]float64{0.1, 0.2}).WithUnit(units.MustParse("adu"))
	if err := f.SetUncertainty(u2); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ToHDUList(WriteOptions{}); err != nil {
		t.Fatalf("same-unit uncertainty rejected: %v", err)
	}
}

func TestRejectedReadOptions(t *testing.T) {
	if _, err := Read(bytes.NewReader(nil), ReadOptions{DoNotScaleImageData: true}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("DoNotScaleImageData: got %v", err)
	}
	if _, err := Read(bytes.NewReader(nil), ReadOptions{ScaleBack: true}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("ScaleBack: got %v", err)
	}
}

func TestReadUnitPrecedence(t *testing.T) {
	f := mustFrame(t, []float64{1, 2}, nil, Options{UnitString: "adu"})
	var buf bytes.Buffer
	if err := Write(f, &buf, WriteOptions{}); err != nil {
		t.Fatal(err)
	}

	// explicit unit wins over the recorded one
	got, err := Read(bytes.NewReader(buf.Bytes()), ReadOptions{Unit: "electron"})
	if err != nil {
		t.Fatal(err)
	}
	if got.Unit().String() != "electron" {
		t.Errorf("unit = %q, want electron", got.Unit())
	}

	// recorded unit used when no explicit one
	got, err = Read(bytes.NewReader(buf.Bytes()), ReadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if got.Unit().String() != "adu" {
		t.Errorf("unit = %q, want adu", got.Unit())
	}
}

func TestReadNoUnitFails(t *testing.T) {
	f := mustFrame(t, []float64{1}, nil, Options{Unit: units.Dimensionless, HasUnit: true})
	var buf bytes.Buffer
	if err := Write(f, &buf, WriteOptions{}); err != nil {
		t.Fatal(err)
	}
	// dimensionless frames write no BUNIT, so reading without a unit fails
	if _, err := Read(bytes.NewReader(buf.Bytes()), ReadOptions{}); !errors.Is(err, ErrConfig) {
		t.Fatalf("got %v, want ErrConfig", err)
	}
}

func TestReadNormalizesDetectorUnitCase(t *testing.T) {
	// ToHDUList always writes BUNIT in canonical case, so exercise the
	// normalization on a hand-built header.
	hdr := NewHeader()
	hdr.Set(unitKey, "ADU", "")
	u, err := resolveReadUnit(hdr, "")
	if err != nil {
		t.Fatal(err)
	}
	if u.String() != "adu" {
		t.Errorf("unit = %q, want adu", u)
	}
}

func TestSkipSecondaryRecords(t *testing.T) {
	mask, _ := NewMask([]bool{true}, 1)
	f := mustFrame(t, []float64{1}, nil, Options{
		UnitString:  "adu",
		Mask:        mask,
		Uncertainty: []float64{0.5},
	})

	got := roundTrip(t, f, WriteOptions{}, ReadOptions{MaskName: "-", UncertName: "-"})
	if got.Mask() != nil || got.Uncertainty() != nil {
		t.Error("skipped records were still read")
	}

	hdus, err := f.ToHDUList(WriteOptions{MaskName: "-", UncertName: "-"})
	if err != nil {
		t.Fatal(err)
	}
	if len(hdus) != 1 {
		t.Errorf("got %d records, want primary only", len(hdus))
	}
}

func TestAutologKeySurvivesAsAliasCard(t *testing.T) {
	h := NewHeader()
	h.SetFITSSafe("subtract_bias", "bias frame applied")
	f := mustFrame(t, []float64{1}, nil, Options{UnitString: "adu", Meta: h})

	got := roundTrip(t, f, WriteOptions{}, ReadOptions{})
	if got.Meta().Value("subbias") != "bias frame applied" {
		t.Errorf("subbias = %v", got.Meta().Value("subbias"))
	}
	// the over-length pointer card stays in memory but is folded into the
	// alias card's comment at the file boundary
	if got.Meta().Has("subtract_bias") {
		t.Error("long keyword written to the file verbatim")
	}
	if c := got.Meta().Get("subbias"); c == nil || c.Comment == "" {
		t.Error("alias card lost its origin note")
	}
}

func TestRoundTripBareFrame(t *testing.T) {
	f := mustFrame(t, []float64{1, 2, 3, 4}, []int{2, 2}, Options{UnitString: "adu"})

	got := roundTrip(t, f, WriteOptions{}, ReadOptions{})
	if !almostEqual(got.Data(), f.Data()) {
		t.Errorf("data = %v", got.Data())
	}
	if got.Mask() != nil {
		t.Errorf("mask = %v, want none", got.Mask())
	}
	if got.Uncertainty() != nil {
		t.Errorf("uncertainty = %v, want none", got.Uncertainty())
	}
}

func TestReadEmptyPrimaryFallsThrough(t *testing.T) {
	var buf bytes.Buffer
	out, err := fitsio.Create(&buf)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	primary := fitsio.NewImage(8, nil)
	if err := primary.Header().Append(
		fitsio.Card{Name: "BUNIT", Value: "adu"},
		fitsio.Card{Name: "OBJECT", Value: "primary"},
	); err != nil {
		t.Fatalf("primary header: %v", err)
	}
	if err := out.Write(primary); err != nil {
		t.Fatalf("write primary: %v", err)
	}
	ext := fitsio.NewImage(-64, []int{3, 2})
	if err := ext.Header().Append(
		fitsio.Card{Name: "EXTNAME", Value: "SCI"},
		fitsio.Card{Name: "OBJECT", Value: "extension"},
	); err != nil {
		t.Fatalf("extension header: %v", err)
	}
	data := []float64{1, 2, 3, 4, 5, 6}
	if err := ext.Write(&data); err != nil {
		t.Fatalf("write extension payload: %v", err)
	}
	if err := out.Write(ext); err != nil {
		t.Fatalf("write extension: %v", err)
	}
	if err := out.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	got, err := Read(bytes.NewReader(buf.Bytes()), ReadOptions{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !shapeEqual(got.Shape(), []int{2, 3}) {
		t.Fatalf("shape = %v, payload not taken from the extension", got.Shape())
	}
	if !almostEqual(got.Data(), data) {
		t.Errorf("data = %v", got.Data())
	}
	// the primary's unit survives the merge; the selected record's cards
	// win on conflicting keys
	if got.Unit().String() != "adu" {
		t.Errorf("unit = %q", got.Unit())
	}
	if got.Meta().Value("OBJECT") != "extension" {
		t.Errorf("OBJECT = %v", got.Meta().Value("OBJECT"))
	}
}
