package ccdframe

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// The generic n-dimensional array arithmetic underneath the frame
// operators: element-wise binary operations with trailing-axis
// broadcasting. Shapes are compared from their last axes; an axis pair is
// compatible when the lengths match or one of them is 1.

type arrayOp int

const (
	opAdd arrayOp = iota
	opSub
	opMul
	opDiv
)

func (op arrayOp) String() string {
	switch op {
	case opAdd:
		return "add"
	case opSub:
		return "subtract"
	case opMul:
		return "multiply"
	case opDiv:
		return "divide"
	}
	return "unknown"
}

func (op arrayOp) apply(a, b float64) float64 {
	switch op {
	case opAdd:
		return a + b
	case opSub:
		return a - b
	case opMul:
		return a * b
	default:
		return a / b
	}
}

// shapeSize returns the element count of a shape.
func shapeSize(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func shapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func shapeString(shape []int) string {
	return fmt.Sprintf("%v", shape)
}

// broadcastShape computes the result shape of combining two shapes, or an
// error when an axis pair is incompatible.
func broadcastShape(a, b []int) ([]int, error) {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	out := make([]int, n)
	for i := 1; i <= n; i++ {
		da, db := 1, 1
		if i <= len(a) {
			da = a[len(a)-i]
		}
		if i <= len(b) {
			db = b[len(b)-i]
		}
		switch {
		case da == db, db == 1:
			out[n-i] = da
		case da == 1:
			out[n-i] = db
		default:
			return nil, fmt.Errorf("cannot broadcast shape %s with %s", shapeString(a), shapeString(b))
		}
	}
	return out, nil
}

// combineArrays applies op element-wise over two arrays with broadcasting
// and returns the result data and shape. Equal shapes take a vectorized
// fast path.
func combineArrays(op arrayOp, a []float64, ashape []int, b []float64, bshape []int) ([]float64, []int, error) {
	if shapeEqual(ashape, bshape) {
		out := make([]float64, len(a))
		copy(out, a)
		switch op {
		case opAdd:
			floats.Add(out, b)
		case opSub:
			floats.Sub(out, b)
		case opMul:
			floats.Mul(out, b)
		case opDiv:
			floats.Div(out, b)
		}
		shape := make([]int, len(ashape))
		copy(shape, ashape)
		return out, shape, nil
	}

	shape, err := broadcastShape(ashape, bshape)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	out := make([]float64, shapeSize(shape))
	astr := broadcastStrides(ashape, shape)
	bstr := broadcastStrides(bshape, shape)
	idx := make([]int, len(shape))
	for i := range out {
		var ai, bi int
		for d := range shape {
			ai += idx[d] * astr[d]
			bi += idx[d] * bstr[d]
		}
		out[i] = op.apply(a[ai], b[bi])
		for d := len(shape) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < shape[d] {
				break
			}
			idx[d] = 0
		}
	}
	return out, shape, nil
}

// broadcastStrides computes element strides for reading an array of shape
// src as if it had shape dst; broadcast axes get stride 0.
func broadcastStrides(src, dst []int) []int {
	strides := make([]int, len(dst))
	stride := 1
	off := len(dst) - len(src)
	for i := len(src) - 1; i >= 0; i-- {
		if src[i] != 1 {
			strides[off+i] = stride
		}
		stride *= src[i]
	}
	return strides
}

// scaleArray returns data op scalar as a fresh slice.
func scaleArray(op arrayOp, data []float64, scalar float64) []float64 {
	out := make([]float64, len(data))
	copy(out, data)
	switch op {
	case opAdd:
		floats.AddConst(scalar, out)
	case opSub:
		floats.AddConst(-scalar, out)
	case opMul:
		floats.Scale(scalar, out)
	default:
		floats.Scale(1/scalar, out)
	}
	return out
}
