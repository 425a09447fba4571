package ccdframe

import (
	"fmt"
	"math"

	"ccdframe/pkg/units"
	"ccdframe/pkg/wcs"
)

// CoordPolicy selects how the coordinate mappings of two frames are
// reconciled when the frames are combined. The zero value means
// CoordFirstFound.
type CoordPolicy string

const (
	// CoordFirstFound carries the first non-trivial mapping onto the
	// result, preferring the left operand. This is the default.
	CoordFirstFound CoordPolicy = "first_found"

	// CoordNone leaves the result without a coordinate mapping.
	CoordNone CoordPolicy = "none"
)

// Operand is the closed set of right-hand sides a frame combines with:
// another frame, a unit-bearing scalar, or a plain number. Use FrameOp,
// QuantityOp or ScalarOp to build one; the zero Operand is invalid.
type Operand struct {
	kind     operandKind
	frame    *Frame
	quantity units.Quantity
	scalar   float64
}

type operandKind int

const (
	operandInvalid operandKind = iota
	operandFrame
	operandQuantity
	operandScalar
)

// FrameOp wraps a frame as an arithmetic operand.
func FrameOp(f *Frame) Operand { return Operand{kind: operandFrame, frame: f} }

// QuantityOp wraps a unit-bearing scalar as an arithmetic operand.
func QuantityOp(q units.Quantity) Operand { return Operand{kind: operandQuantity, quantity: q} }

// ScalarOp wraps a plain number as an arithmetic operand.
func ScalarOp(v float64) Operand { return Operand{kind: operandScalar, scalar: v} }

// Add returns self + other as a new frame. Neither operand is modified.
func (f *Frame) Add(other Operand, policy CoordPolicy) (*Frame, error) {
	return f.arithmetic(opAdd, other, policy)
}

// Subtract returns self - other as a new frame.
func (f *Frame) Subtract(other Operand, policy CoordPolicy) (*Frame, error) {
	return f.arithmetic(opSub, other, policy)
}

// Multiply returns self * other as a new frame.
func (f *Frame) Multiply(other Operand, policy CoordPolicy) (*Frame, error) {
	return f.arithmetic(opMul, other, policy)
}

// Divide returns self / other as a new frame.
func (f *Frame) Divide(other Operand, policy CoordPolicy) (*Frame, error) {
	return f.arithmetic(opDiv, other, policy)
}

func (f *Frame) arithmetic(op arrayOp, other Operand, policy CoordPolicy) (*Frame, error) {
	switch other.kind {
	case operandFrame:
		resultWCS, err := reconcileWCS(f.wcs, other.frame.wcs, policy)
		if err != nil {
			return nil, err
		}
		result, err := combineFrames(op, f, other.frame)
		if err != nil {
			return nil, err
		}
		result.wcs = resultWCS
		return result, nil
	case operandQuantity:
		return f.scalarArithmetic(op, other.quantity.Value, other.quantity.Unit, true)
	case operandScalar:
		return f.scalarArithmetic(op, other.scalar, units.Dimensionless, false)
	default:
		return nil, fmt.Errorf("%w: cannot do arithmetic with an empty operand", ErrType)
	}
}

// reconcileWCS computes the result mapping for the given policy without
// touching either operand. A policy outside the known set would need the
// array arithmetic layer to reconcile mappings itself, which it cannot do.
func reconcileWCS(left, right *wcs.WCS, policy CoordPolicy) (*wcs.WCS, error) {
	switch policy {
	case CoordNone:
		return nil, nil
	case CoordFirstFound, "":
		if left.Usable() {
			return left.Copy(), nil
		}
		if right.Usable() {
			return right.Copy(), nil
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: coordinate policy %q requires mapping reconciliation in the array arithmetic layer", ErrCapability, policy)
	}
}

// combineFrames performs frame-frame arithmetic: broadcast element-wise
// data, unit reconciliation, mask union, and uncorrelated
// standard-deviation propagation. The coordinate mapping is handled by the
// caller.
func combineFrames(op arrayOp, left, right *Frame) (*Frame, error) {
	rightData := right.data
	resultUnit := left.unit

	switch op {
	case opAdd, opSub:
		if !right.unit.Equal(left.unit) {
			factor, err := right.unit.ConversionTo(left.unit)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			rightData = scaleArray(opMul, right.data, factor)
		}
	case opMul:
		resultUnit = left.unit.Mul(right.unit)
	case opDiv:
		resultUnit = left.unit.Div(right.unit)
	}

	data, shape, err := combineArrays(op, left.data, left.shape, rightData, right.shape)
	if err != nil {
		return nil, err
	}

	result := &Frame{
		data:  data,
		shape: shape,
		dtype: "float64",
		unit:  resultUnit,
		meta:  left.meta.Copy(),
		id:    frameIDs.Add(1),
	}

	mask, err := combineMasks(left.mask, right.mask, shape)
	if err != nil {
		return nil, err
	}
	result.mask = mask

	uncert, err := propagateUncertainty(op, left, right, rightData, data, shape)
	if err != nil {
		return nil, err
	}
	if uncert != nil {
		uncert.OwnerID = result.id
		result.uncertainty = uncert
	}
	return result, nil
}

// combineMasks unions two optional masks onto the result shape: a pixel is
// invalid when it is invalid in either operand.
func combineMasks(a, b *Mask, shape []int) (*Mask, error) {
	if a == nil && b == nil {
		return nil, nil
	}
	toFloat := func(m *Mask) ([]float64, []int) {
		if m == nil {
			return []float64{0}, []int{1}
		}
		out := make([]float64, len(m.Bits))
		for i, bit := range m.Bits {
			if bit {
				out[i] = 1
			}
		}
		return out, m.Shape
	}
	af, ashape := toFloat(a)
	bf, bshape := toFloat(b)
	sum, sshape, err := combineArrays(opAdd, af, ashape, bf, bshape)
	if err != nil {
		return nil, fmt.Errorf("combining masks: %w", err)
	}
	if !shapeEqual(sshape, shape) {
		return nil, fmt.Errorf("%w: mask shape %s != result shape %s", ErrShapeMismatch, shapeString(sshape), shapeString(shape))
	}
	bits := make([]bool, len(sum))
	for i, v := range sum {
		bits[i] = v > 0
	}
	return &Mask{Bits: bits, Shape: sshape}, nil
}

// propagateUncertainty combines two optional standard-deviation
// uncertainties, treating them as uncorrelated; a missing side contributes
// zero. rightData is the right operand's data already converted into the
// left unit, resultData the combined data.
func propagateUncertainty(op arrayOp, left, right *Frame, rightData, resultData []float64, shape []int) (*StdDevUncertainty, error) {
	if left.uncertainty == nil && right.uncertainty == nil {
		return nil, nil
	}

	sigma := func(f *Frame) ([]float64, []int) {
		if f.uncertainty == nil {
			return []float64{0}, []int{1}
		}
		return f.uncertainty.Array, f.shape
	}
	la, lshape := sigma(left)
	ra, rshape := sigma(right)

	switch op {
	case opAdd, opSub:
		// sqrt(ua^2 + ub^2)
		l2, _, err := combineArrays(opMul, la, lshape, la, lshape)
		if err != nil {
			return nil, err
		}
		r2, _, err := combineArrays(opMul, ra, rshape, ra, rshape)
		if err != nil {
			return nil, err
		}
		sum, sshape, err := combineArrays(opAdd, l2, lshape, r2, rshape)
		if err != nil {
			return nil, fmt.Errorf("propagating uncertainty: %w", err)
		}
		if !shapeEqual(sshape, shape) {
			return nil, fmt.Errorf("%w: uncertainty shape %s != result shape %s", ErrShapeMismatch, shapeString(sshape), shapeString(shape))
		}
		for i := range sum {
			sum[i] = math.Sqrt(sum[i])
		}
		return NewStdDevUncertainty(sum), nil

	default:
		// |result| * sqrt((ua/a)^2 + (ub/b)^2)
		lrel, lrshape, err := combineArrays(opDiv, la, lshape, left.data, left.shape)
		if err != nil {
			return nil, err
		}
		rrel, rrshape, err := combineArrays(opDiv, ra, rshape, rightData, right.shape)
		if err != nil {
			return nil, err
		}
		l2, _, err := combineArrays(opMul, lrel, lrshape, lrel, lrshape)
		if err != nil {
			return nil, err
		}
		r2, _, err := combineArrays(opMul, rrel, rrshape, rrel, rrshape)
		if err != nil {
			return nil, err
		}
		sum, sshape, err := combineArrays(opAdd, l2, lrshape, r2, rrshape)
		if err != nil {
			return nil, fmt.Errorf("propagating uncertainty: %w", err)
		}
		if !shapeEqual(sshape, shape) {
			return nil, fmt.Errorf("%w: uncertainty shape %s != result shape %s", ErrShapeMismatch, shapeString(sshape), shapeString(shape))
		}
		for i := range sum {
			sum[i] = math.Abs(resultData[i]) * math.Sqrt(sum[i])
		}
		return NewStdDevUncertainty(sum), nil
	}
}

// scalarArithmetic handles the quantity and plain-number operand cases.
// For add and subtract a unit-bearing scalar is first converted into the
// frame's unit; a plain number is taken as already compatible. For
// multiply and divide the result unit is resolved through the unit algebra
// applied to 1*self.unit and the operand.
func (f *Frame) scalarArithmetic(op arrayOp, value float64, unit units.Unit, hasUnit bool) (*Frame, error) {
	resultUnit := f.unit
	operandValue := value

	switch op {
	case opAdd, opSub:
		if hasUnit && !unit.Equal(f.unit) {
			q, err := units.Quantity{Value: value, Unit: unit}.To(f.unit)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			operandValue = q.Value
		}
	case opMul:
		resultUnit = f.unit.Mul(unit)
	case opDiv:
		resultUnit = f.unit.Div(unit)
	}

	result := &Frame{
		data:  scaleArray(op, f.data, operandValue),
		shape: f.Shape(),
		dtype: "float64",
		unit:  resultUnit,
		mask:  f.mask.Copy(),
		wcs:   f.wcs.Copy(),
		meta:  f.meta.Copy(),
		id:    frameIDs.Add(1),
	}

	if f.uncertainty != nil {
		arr := make([]float64, len(f.uncertainty.Array))
		copy(arr, f.uncertainty.Array)
		// Scaling an uncertainty alongside the data is exact for multiply
		// and divide; adding a constant leaves a standard deviation alone.
		if op == opMul || op == opDiv {
			arr = scaleArray(op, arr, operandValue)
		}
		u := NewStdDevUncertainty(arr)
		u.OwnerID = result.id
		result.uncertainty = u
	}
	return result, nil
}
