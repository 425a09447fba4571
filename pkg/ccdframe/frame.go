// Package ccdframe models a single CCD image frame as one value object: a
// numeric pixel array with its physical unit, pixel-validity mask,
// standard-deviation uncertainty, world-coordinate mapping, and free-form
// metadata. Frames combine arithmetically and round-trip through FITS
// files with named extensions for the mask and uncertainty.
package ccdframe

import (
	"fmt"
	"sync/atomic"

	"ccdframe/pkg/units"
	"ccdframe/pkg/wcs"
)

// frameIDs hands out identifiers for the uncertainty back-reference.
var frameIDs atomic.Uint64

// Mask flags invalid pixels: false means the pixel is valid, true means it
// is not. Its shape must match the owning frame's data shape.
type Mask struct {
	Bits  []bool
	Shape []int
}

// NewMask builds a mask from bits and a shape.
func NewMask(bits []bool, shape ...int) (*Mask, error) {
	if len(bits) != shapeSize(shape) {
		return nil, fmt.Errorf("mask has %d bits for shape %s", len(bits), shapeString(shape))
	}
	return &Mask{Bits: bits, Shape: shape}, nil
}

// Copy returns an independent copy of the mask.
func (m *Mask) Copy() *Mask {
	if m == nil {
		return nil
	}
	bits := make([]bool, len(m.Bits))
	copy(bits, m.Bits)
	shape := make([]int, len(m.Shape))
	copy(shape, m.Shape)
	return &Mask{Bits: bits, Shape: shape}
}

// StdDevUncertainty is the one supported uncertainty representation: an
// array of per-pixel standard deviations, with an optional unit. OwnerID
// identifies the frame the uncertainty is attached to; it is bookkeeping
// only, never an ownership edge.
type StdDevUncertainty struct {
	Array   []float64
	Unit    units.Unit
	HasUnit bool
	OwnerID uint64
}

// NewStdDevUncertainty wraps an array of standard deviations.
func NewStdDevUncertainty(array []float64) *StdDevUncertainty {
	return &StdDevUncertainty{Array: array}
}

// WithUnit attaches a unit to the uncertainty.
func (u *StdDevUncertainty) WithUnit(unit units.Unit) *StdDevUncertainty {
	u.Unit = unit
	u.HasUnit = true
	return u
}

// Copy returns an independent copy; the owner reference is not carried
// over, it belongs to whichever frame the copy gets attached to.
func (u *StdDevUncertainty) Copy() *StdDevUncertainty {
	if u == nil {
		return nil
	}
	arr := make([]float64, len(u.Array))
	copy(arr, u.Array)
	return &StdDevUncertainty{Array: arr, Unit: u.Unit, HasUnit: u.HasUnit}
}

// Options carries the optional parts of a frame under construction. Unit
// is required (as UnitString or Unit+HasUnit). Meta and LegacyHeader alias
// the same field; supplying both is rejected. Meta accepts a *Header or a
// map[string]interface{}. Uncertainty accepts a *StdDevUncertainty or a
// raw []float64.
type Options struct {
	UnitString   string
	Unit         units.Unit
	HasUnit      bool
	Mask         *Mask
	Uncertainty  interface{}
	WCS          *wcs.WCS
	Meta         interface{}
	LegacyHeader interface{}
}

// Frame is the CCD image frame value object. All fields are reached
// through accessors so the construction invariants hold across mutation:
// the unit is always set, mask and uncertainty shapes always match the
// data, and the metadata is always an ordered header.
type Frame struct {
	data        []float64
	shape       []int
	dtype       string
	unit        units.Unit
	mask        *Mask
	uncertainty *StdDevUncertainty
	wcs         *wcs.WCS
	meta        *Header
	id          uint64
}

// New constructs a frame from pixel data with the given shape. The frame
// is fully built on return; any invariant violation fails construction.
func New(data []float64, shape []int, opts Options) (*Frame, error) {
	if len(shape) == 0 {
		shape = []int{len(data)}
	}
	if len(data) != shapeSize(shape) {
		return nil, fmt.Errorf("%w: %d data elements for shape %s", ErrShapeMismatch, len(data), shapeString(shape))
	}

	f := &Frame{
		data:  data,
		shape: append([]int(nil), shape...),
		dtype: "float64",
		id:    frameIDs.Add(1),
	}

	unit, ok, err := resolveUnit(opts)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: unit must be specified", ErrConfig)
	}
	f.unit = unit

	meta := opts.Meta
	if opts.LegacyHeader != nil {
		if meta != nil {
			return nil, fmt.Errorf("%w: can't have both header and meta", ErrConfig)
		}
		meta = opts.LegacyHeader
	}
	if err := f.SetMeta(meta); err != nil {
		return nil, err
	}
	if err := f.SetMask(opts.Mask); err != nil {
		return nil, err
	}
	if err := f.SetUncertainty(opts.Uncertainty); err != nil {
		return nil, err
	}
	f.wcs = opts.WCS
	return f, nil
}

func resolveUnit(opts Options) (units.Unit, bool, error) {
	if opts.HasUnit {
		return opts.Unit, true, nil
	}
	if opts.UnitString != "" {
		u, err := units.Parse(opts.UnitString)
		if err != nil {
			return units.Unit{}, false, fmt.Errorf("%w: %v", ErrConfig, err)
		}
		return u, true, nil
	}
	return units.Unit{}, false, nil
}

// Shape returns a copy of the data shape.
func (f *Frame) Shape() []int {
	return append([]int(nil), f.shape...)
}

// Size returns the number of pixels.
func (f *Frame) Size() int { return len(f.data) }

// DType names the numeric type the pixel payload originated as. Frames
// compute in float64; a frame read from a 16-bit file reports "int16".
func (f *Frame) DType() string { return f.dtype }

// Data returns the backing pixel slice. Mutating it mutates the frame.
func (f *Frame) Data() []float64 { return f.data }

// Unit returns the frame's physical unit.
func (f *Frame) Unit() units.Unit { return f.unit }

// Mask returns the pixel-validity mask, or nil.
func (f *Frame) Mask() *Mask { return f.mask }

// Uncertainty returns the attached uncertainty, or nil.
func (f *Frame) Uncertainty() *StdDevUncertainty { return f.uncertainty }

// WCS returns the coordinate mapping, or nil.
func (f *Frame) WCS() *wcs.WCS { return f.wcs }

// Meta returns the metadata header. Never nil.
func (f *Frame) Meta() *Header { return f.meta }

// Header is an alias for Meta kept for FITS-minded callers.
func (f *Frame) Header() *Header { return f.meta }

// ID returns the frame identifier used by uncertainty back-references.
func (f *Frame) ID() uint64 { return f.id }

// SetUnit replaces the unit. The unit can never be unset.
func (f *Frame) SetUnit(u units.Unit) {
	f.unit = u
}

// SetMask replaces the mask; its shape must match the data shape. A nil
// mask clears it.
func (f *Frame) SetMask(m *Mask) error {
	if m == nil {
		f.mask = nil
		return nil
	}
	if !shapeEqual(m.Shape, f.shape) {
		return fmt.Errorf("%w: mask shape %s != data shape %s", ErrShapeMismatch, shapeString(m.Shape), shapeString(f.shape))
	}
	f.mask = m
	return nil
}

// SetUncertainty attaches an uncertainty. Accepted values: nil (clears),
// *StdDevUncertainty, or a raw []float64 of standard deviations which must
// match the data shape and is wrapped with a logged notice. Anything else
// is a type error. The stored uncertainty records this frame's id.
func (f *Frame) SetUncertainty(value interface{}) error {
	switch v := value.(type) {
	case nil:
		f.uncertainty = nil
	case *StdDevUncertainty:
		// A nil pointer can arrive wrapped in the interface; treat it
		// the same as an untyped nil.
		if v == nil {
			f.uncertainty = nil
			return nil
		}
		if len(v.Array) != len(f.data) {
			return fmt.Errorf("%w: uncertainty must have same shape as data", ErrShapeMismatch)
		}
		v.OwnerID = f.id
		f.uncertainty = v
	case []float64:
		if len(v) != len(f.data) {
			return fmt.Errorf("%w: uncertainty must have same shape as data", ErrShapeMismatch)
		}
		logger.Info().Msg("array provided for uncertainty; assuming it is a standard-deviation uncertainty")
		u := NewStdDevUncertainty(v)
		u.OwnerID = f.id
		f.uncertainty = u
	default:
		return fmt.Errorf("%w: uncertainty must be a *StdDevUncertainty or a []float64, got %T", ErrType, value)
	}
	return nil
}

// SetMeta replaces the metadata. Accepted values: nil (fresh empty
// header), *Header, or map[string]interface{} (replayed through the
// FITS-safe insert, keys sorted). Anything else is a configuration error.
func (f *Frame) SetMeta(value interface{}) error {
	switch v := value.(type) {
	case nil:
		f.meta = NewHeader()
	case *Header:
		if v == nil {
			f.meta = NewHeader()
		} else {
			f.meta = v
		}
	case map[string]interface{}:
		f.meta = HeaderFromMap(v)
	default:
		return fmt.Errorf("%w: meta must be a *Header or a map, got %T", ErrConfig, value)
	}
	return nil
}

// SetWCS replaces the coordinate mapping; nil clears it.
func (f *Frame) SetWCS(w *wcs.WCS) {
	f.wcs = w
}

// At returns the pixel at an n-dimensional index.
func (f *Frame) At(idx ...int) float64 {
	return f.data[f.offset(idx)]
}

// SetAt sets the pixel at an n-dimensional index.
func (f *Frame) SetAt(value float64, idx ...int) {
	f.data[f.offset(idx)] = value
}

func (f *Frame) offset(idx []int) int {
	if len(idx) != len(f.shape) {
		panic(fmt.Sprintf("index has %d axes, data has %d", len(idx), len(f.shape)))
	}
	off := 0
	for d, i := range idx {
		if i < 0 || i >= f.shape[d] {
			panic(fmt.Sprintf("index %d out of range for axis %d (size %d)", i, d, f.shape[d]))
		}
		off = off*f.shape[d] + i
	}
	return off
}

// Copy returns a fully independent deep copy of the frame with a fresh id.
func (f *Frame) Copy() *Frame {
	data := make([]float64, len(f.data))
	copy(data, f.data)
	out := &Frame{
		data:  data,
		shape: append([]int(nil), f.shape...),
		dtype: f.dtype,
		unit:  f.unit,
		mask:  f.mask.Copy(),
		wcs:   f.wcs.Copy(),
		meta:  f.meta.Copy(),
		id:    frameIDs.Add(1),
	}
	if f.uncertainty != nil {
		u := f.uncertainty.Copy()
		u.OwnerID = out.id
		out.uncertainty = u
	}
	return out
}

func (f *Frame) String() string {
	return fmt.Sprintf("Frame{shape=%s, unit=%q, mask=%v, uncertainty=%v, wcs=%v, meta=%d cards}",
		shapeString(f.shape), f.unit, f.mask != nil, f.uncertainty != nil, f.wcs.Usable(), f.meta.Len())
}
