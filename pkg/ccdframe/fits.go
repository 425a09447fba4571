package ccdframe

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/astrogo/fitsio"

	"ccdframe/pkg/units"
	"ccdframe/pkg/wcs"
)

// Default extension names for the optional secondary records.
const (
	DefaultMaskName   = "MASK"
	DefaultUncertName = "UNCERT"
)

// unitKey is the reserved header keyword for the frame's physical unit.
const unitKey = "BUNIT"

// Header keywords owned by the container format itself. They describe the
// byte layout of a record, not the frame, so they never travel through the
// frame's metadata.
var structuralKeys = map[string]bool{
	"SIMPLE": true, "XTENSION": true, "BITPIX": true, "NAXIS": true,
	"NAXIS1": true, "NAXIS2": true, "NAXIS3": true, "NAXIS4": true,
	"EXTEND": true, "PCOUNT": true, "GCOUNT": true, "BZERO": true,
	"BSCALE": true, "END": true,
}

// WriteOptions controls which secondary records a frame is serialized
// with. Empty names fall back to the defaults; a name set to "-" omits
// that record.
type WriteOptions struct {
	MaskName   string
	UncertName string
	FlagsName  string
}

func (o WriteOptions) maskName() string   { return pickName(o.MaskName, DefaultMaskName) }
func (o WriteOptions) uncertName() string { return pickName(o.UncertName, DefaultUncertName) }

func pickName(name, fallback string) string {
	switch name {
	case "":
		return fallback
	case "-":
		return ""
	}
	return name
}

// ToHDUList serializes the frame as an ordered list of image HDUs: the
// primary numeric record followed by the optional mask and uncertainty
// records. Flags serialization is deliberately not defined.
func (f *Frame) ToHDUList(opts WriteOptions) ([]fitsio.Image, error) {
	if opts.FlagsName != "" && opts.FlagsName != "-" {
		return nil, fmt.Errorf("%w: writing flags is not supported", ErrUnsupported)
	}

	primary := fitsio.NewImage(-64, fitsAxes(f.shape))
	if err := primary.Header().Append(f.hduCards()...); err != nil {
		return nil, fmt.Errorf("building primary header: %w", err)
	}
	data := f.data
	if err := primary.Write(&data); err != nil {
		return nil, fmt.Errorf("encoding primary record: %w", err)
	}
	hdus := []fitsio.Image{primary}

	if name := opts.maskName(); name != "" && f.mask != nil {
		if f.mask.Bits == nil || len(f.mask.Shape) == 0 {
			return nil, fmt.Errorf("%w: only an array mask can be saved", ErrUnsupported)
		}
		// The container has no boolean pixel type; the mask travels as
		// unsigned 8-bit.
		raw := make([]uint8, len(f.mask.Bits))
		for i, bit := range f.mask.Bits {
			if bit {
				raw[i] = 1
			}
		}
		hdu := fitsio.NewImage(8, fitsAxes(f.mask.Shape))
		if err := hdu.Header().Append(fitsio.Card{Name: "EXTNAME", Value: name, Comment: "pixel validity mask"}); err != nil {
			return nil, fmt.Errorf("building mask header: %w", err)
		}
		if err := hdu.Write(&raw); err != nil {
			return nil, fmt.Errorf("encoding mask record: %w", err)
		}
		hdus = append(hdus, hdu)
	}

	if name := opts.uncertName(); name != "" && f.uncertainty != nil {
		if f.uncertainty.HasUnit && !f.uncertainty.Unit.Equal(f.unit) {
			return nil, fmt.Errorf("%w: saving uncertainties with a unit differing from the data unit", ErrUnsupported)
		}
		arr := f.uncertainty.Array
		hdu := fitsio.NewImage(-64, fitsAxes(f.shape))
		if err := hdu.Header().Append(fitsio.Card{Name: "EXTNAME", Value: name, Comment: "standard-deviation uncertainty"}); err != nil {
			return nil, fmt.Errorf("building uncertainty header: %w", err)
		}
		if err := hdu.Write(&arr); err != nil {
			return nil, fmt.Errorf("encoding uncertainty record: %w", err)
		}
		hdus = append(hdus, hdu)
	}

	return hdus, nil
}

// hduCards builds the primary header cards: the metadata, the unit under
// the reserved key, and the coordinate mapping merged in by key. Cards the
// container owns (NAXIS and friends) are left out, as are the long autolog
// pointer cards, whose keys exceed the card key limit; the value card
// keeps the original keyword in its comment so the pair stays reversible.
func (f *Frame) hduCards() []fitsio.Card {
	hdr := NewHeader()
	aliasOf := map[string]string{}
	for long, short := range shortNames {
		aliasOf[short] = long
	}
	for _, c := range f.meta.Cards() {
		if structuralKeys[c.Name] {
			continue
		}
		if _, isLong := shortNames[c.Name]; isLong {
			continue
		}
		if long, ok := aliasOf[c.Name]; ok && c.Comment == "" {
			c.Comment = "shortened from " + long
		}
		hdr.SetCard(c)
	}

	if !f.unit.IsDimensionless() {
		hdr.Set(unitKey, f.unit.String(), "physical unit of the array values")
	}
	if f.wcs.Usable() {
		// Merge by key so existing mapping cards are updated in place
		// rather than duplicated.
		for _, c := range f.wcs.ToHeader() {
			hdr.SetCard(c)
		}
	}
	return hdr.Cards()
}

// fitsAxes converts a row-major shape to FITS axis order, where the first
// axis varies fastest.
func fitsAxes(shape []int) []int {
	axes := make([]int, len(shape))
	for i, d := range shape {
		axes[len(shape)-1-i] = d
	}
	return axes
}

func shapeFromAxes(axes []int) []int {
	return fitsAxes(axes) // the reversal is its own inverse
}

// Write serializes the frame into w as a FITS file.
func Write(f *Frame, w io.Writer, opts WriteOptions) error {
	hdus, err := f.ToHDUList(opts)
	if err != nil {
		return err
	}
	out, err := fitsio.Create(w)
	if err != nil {
		return fmt.Errorf("creating FITS stream: %w", err)
	}
	defer out.Close()
	for _, hdu := range hdus {
		if err := out.Write(hdu); err != nil {
			return fmt.Errorf("writing record %q: %w", hdu.Name(), err)
		}
	}
	return nil
}

// WriteFile serializes the frame into a FITS file at path.
func WriteFile(f *Frame, path string, opts WriteOptions) error {
	w, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer w.Close()
	if err := Write(f, w, opts); err != nil {
		return err
	}
	return w.Close()
}

// ReadOptions controls how a FITS file becomes a frame.
type ReadOptions struct {
	// HDU selects the record to read the payload from. If zero and the
	// primary record is empty, the first record with a payload is used and
	// its header merged onto the primary header.
	HDU int

	// Unit overrides the unit recorded in the file. With both present and
	// differing, the override wins and the conflict is logged.
	Unit string

	// Extension names for the secondary records; "" means the default,
	// "-" skips the record.
	MaskName   string
	UncertName string
	FlagsName  string

	// The two options below mirror container-level switches that would
	// break round-trip fidelity. Setting either is an error.
	DoNotScaleImageData bool
	ScaleBack           bool
}

func (o ReadOptions) maskName() string   { return pickName(o.MaskName, DefaultMaskName) }
func (o ReadOptions) uncertName() string { return pickName(o.UncertName, DefaultUncertName) }

// Read builds a frame from a FITS stream.
func Read(r io.Reader, opts ReadOptions) (*Frame, error) {
	if opts.DoNotScaleImageData {
		return nil, fmt.Errorf("%w: image data must be scaled for frame operations", ErrUnsupported)
	}
	if opts.ScaleBack {
		return nil, fmt.Errorf("%w: scale information is not preserved", ErrUnsupported)
	}
	if opts.FlagsName != "" && opts.FlagsName != "-" {
		return nil, fmt.Errorf("%w: loading flags is not supported", ErrUnsupported)
	}

	file, err := fitsio.Open(r)
	if err != nil {
		return nil, fmt.Errorf("opening FITS stream: %w", err)
	}
	defer file.Close()
	return frameFromFile(file, opts)
}

// ReadFile builds a frame from a FITS file at path. The file handle is
// released before returning, on every path.
func ReadFile(path string, opts ReadOptions) (*Frame, error) {
	r, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer r.Close()
	return Read(r, opts)
}

func frameFromFile(file *fitsio.File, opts ReadOptions) (*Frame, error) {
	hdus := file.HDUs()
	if opts.HDU < 0 || opts.HDU >= len(hdus) {
		return nil, fmt.Errorf("record index %d out of range (%d records)", opts.HDU, len(hdus))
	}

	idx := opts.HDU
	hdr := HeaderFromCards(headerCards(hdus[idx].Header()))

	// An empty primary record is common; fall through to the first record
	// carrying a payload and fold its header onto the primary one.
	if idx == 0 && recordEmpty(hdus[idx]) {
		for i, hdu := range hdus {
			if !recordEmpty(hdu) {
				idx = i
				hdr.Merge(HeaderFromCards(headerCards(hdu.Header())))
				logger.Info().Int("hdu", i).Msg("first record with data used for the payload")
				break
			}
		}
	}
	img, ok := hdus[idx].(fitsio.Image)
	if !ok || recordEmpty(hdus[idx]) {
		return nil, fmt.Errorf("record %d carries no image payload", idx)
	}

	data, shape, dtype, err := decodePayload(img)
	if err != nil {
		return nil, fmt.Errorf("decoding payload of record %d: %w", idx, err)
	}

	var mask *Mask
	if name := opts.maskName(); name != "" {
		if hdu := findRecord(hdus, name); hdu != nil {
			bits, mshape, err := decodeMask(hdu)
			if err != nil {
				return nil, fmt.Errorf("decoding mask record: %w", err)
			}
			mask = &Mask{Bits: bits, Shape: mshape}
		}
	}

	var uncertainty *StdDevUncertainty
	if name := opts.uncertName(); name != "" {
		if hdu := findRecord(hdus, name); hdu != nil {
			arr, _, _, err := decodePayload(hdu)
			if err != nil {
				return nil, fmt.Errorf("decoding uncertainty record: %w", err)
			}
			uncertainty = NewStdDevUncertainty(arr)
		}
	}

	unit, err := resolveReadUnit(hdr, opts.Unit)
	if err != nil {
		return nil, err
	}

	mapping := wcs.FromHeader(hdr.Cards())
	if !mapping.Usable() {
		mapping = nil
	}

	// Scaling keys were applied while decoding; keeping them would rescale
	// the already-physical values on the next read.
	meta := hdr.Copy()
	for key := range structuralKeys {
		meta.Delete(key)
	}

	frame, err := New(data, shape, Options{
		Unit:        unit,
		HasUnit:     true,
		Mask:        mask,
		Uncertainty: uncertainty,
		WCS:         mapping,
		Meta:        meta,
	})
	if err != nil {
		return nil, err
	}
	frame.dtype = dtype
	return frame, nil
}

// resolveReadUnit applies the unit precedence: an explicit argument wins
// over the recorded unit (logging the conflict); a recorded unit that is
// the detector unit in the wrong letter case is normalized; no unit at all
// fails, since a frame must carry one.
func resolveReadUnit(hdr *Header, explicit string) (units.Unit, error) {
	recorded := ""
	if c := hdr.Get(unitKey); c != nil {
		if s, ok := c.Value.(string); ok {
			recorded = strings.TrimSpace(s)
			if strings.EqualFold(recorded, "adu") {
				recorded = strings.ToLower(recorded)
			}
		}
	}

	if explicit != "" {
		if recorded != "" && recorded != explicit {
			logger.Info().Str("file_unit", recorded).Str("unit", explicit).
				Msg("ignoring the unit recorded in the file in favor of the supplied unit")
		}
		u, err := units.Parse(explicit)
		if err != nil {
			return units.Unit{}, fmt.Errorf("%w: %v", ErrConfig, err)
		}
		return u, nil
	}
	if recorded == "" {
		return units.Unit{}, fmt.Errorf("%w: no unit in the file and none supplied", ErrConfig)
	}
	u, err := units.Parse(recorded)
	if err != nil {
		return units.Unit{}, fmt.Errorf("%w: recorded unit: %v", ErrConfig, err)
	}
	return u, nil
}

// headerCards flattens a fitsio header into its cards.
func headerCards(hdr *fitsio.Header) []fitsio.Card {
	keys := hdr.Keys()
	cards := make([]fitsio.Card, 0, len(keys))
	for _, k := range keys {
		if c := hdr.Get(k); c != nil {
			cards = append(cards, *c)
		}
	}
	return cards
}

func recordEmpty(hdu fitsio.HDU) bool {
	axes := hdu.Header().Axes()
	if len(axes) == 0 {
		return true
	}
	for _, n := range axes {
		if n <= 0 {
			return true
		}
	}
	img, ok := hdu.(fitsio.Image)
	return !ok || len(img.Raw()) == 0
}

// findRecord locates a secondary record by extension name.
func findRecord(hdus []fitsio.HDU, name string) fitsio.Image {
	for _, hdu := range hdus[1:] {
		c := hdu.Header().Get("EXTNAME")
		if c == nil {
			continue
		}
		if s, ok := c.Value.(string); ok && strings.TrimSpace(s) == name {
			if img, ok := hdu.(fitsio.Image); ok {
				return img
			}
		}
	}
	return nil
}

// decodePayload converts a record's raw big-endian payload into float64
// pixels, applying BZERO/BSCALE, and reports the source numeric type.
func decodePayload(img fitsio.Image) ([]float64, []int, string, error) {
	hdr := img.Header()
	shape := shapeFromAxes(hdr.Axes())
	n := shapeSize(shape)
	raw := img.Raw()

	bzero, bscale := 0.0, 1.0
	if c := hdr.Get("BZERO"); c != nil {
		bzero = cardFloat(c.Value)
	}
	if c := hdr.Get("BSCALE"); c != nil {
		bscale = cardFloat(c.Value)
	}

	bitpix := hdr.Bitpix()
	size := bitpixSize(bitpix)
	if size == 0 {
		return nil, nil, "", fmt.Errorf("unsupported BITPIX %d", bitpix)
	}
	if len(raw) < n*size {
		return nil, nil, "", fmt.Errorf("payload holds %d bytes, need %d", len(raw), n*size)
	}

	out := make([]float64, n)
	switch bitpix {
	case 8:
		for i := 0; i < n; i++ {
			out[i] = float64(raw[i])*bscale + bzero
		}
	case 16:
		for i := 0; i < n; i++ {
			v := int16(binary.BigEndian.Uint16(raw[i*2:]))
			out[i] = float64(v)*bscale + bzero
		}
	case 32:
		for i := 0; i < n; i++ {
			v := int32(binary.BigEndian.Uint32(raw[i*4:]))
			out[i] = float64(v)*bscale + bzero
		}
	case 64:
		for i := 0; i < n; i++ {
			v := int64(binary.BigEndian.Uint64(raw[i*8:]))
			out[i] = float64(v)*bscale + bzero
		}
	case -32:
		for i := 0; i < n; i++ {
			v := math.Float32frombits(binary.BigEndian.Uint32(raw[i*4:]))
			out[i] = float64(v)*bscale + bzero
		}
	case -64:
		for i := 0; i < n; i++ {
			v := math.Float64frombits(binary.BigEndian.Uint64(raw[i*8:]))
			out[i] = v*bscale + bzero
		}
	}
	return out, shape, bitpixName(bitpix), nil
}

// decodeMask reads a mask record and coerces its payload to boolean:
// nonzero means invalid.
func decodeMask(img fitsio.Image) ([]bool, []int, error) {
	arr, shape, _, err := decodePayload(img)
	if err != nil {
		return nil, nil, err
	}
	bits := make([]bool, len(arr))
	for i, v := range arr {
		bits[i] = v != 0
	}
	return bits, shape, nil
}

func bitpixSize(bitpix int) int {
	switch bitpix {
	case 8:
		return 1
	case 16:
		return 2
	case 32, -32:
		return 4
	case 64, -64:
		return 8
	}
	return 0
}

func bitpixName(bitpix int) string {
	switch bitpix {
	case 8:
		return "uint8"
	case 16:
		return "int16"
	case 32:
		return "int32"
	case 64:
		return "int64"
	case -32:
		return "float32"
	case -64:
		return "float64"
	}
	return "unknown"
}

func cardFloat(v interface{}) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int64:
		return float64(x)
	}
	return 0
}
