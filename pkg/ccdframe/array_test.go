package ccdframe

import "testing"

func TestBroadcastShape(t *testing.T) {
	cases := []struct {
		a, b, want []int
		fails      bool
	}{
		{a: []int{2, 3}, b: []int{2, 3}, want: []int{2, 3}},
		{a: []int{2, 3}, b: []int{3}, want: []int{2, 3}},
		{a: []int{2, 3}, b: []int{1, 3}, want: []int{2, 3}},
		{a: []int{2, 1}, b: []int{1, 3}, want: []int{2, 3}},
		{a: []int{1}, b: []int{4, 5}, want: []int{4, 5}},
		{a: []int{2, 3}, b: []int{2}, fails: true},
		{a: []int{2, 3}, b: []int{4, 3}, fails: true},
	}
	for _, c := range cases {
		got, err := broadcastShape(c.a, c.b)
		if c.fails {
			if err == nil {
				t.Errorf("broadcastShape(%v, %v) should fail", c.a, c.b)
			}
			continue
		}
		if err != nil {
			t.Errorf("broadcastShape(%v, %v): %v", c.a, c.b, err)
			continue
		}
		if !shapeEqual(got, c.want) {
			t.Errorf("broadcastShape(%v, %v) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestCombineArraysBroadcast(t *testing.T) {
	// column vector times row vector
	col := []float64{1, 2}
	row := []float64{10, 20, 30}
	out, shape, err := combineArrays(opMul, col, []int{2, 1}, row, []int{1, 3})
	if err != nil {
		t.Fatal(err)
	}
	if !shapeEqual(shape, []int{2, 3}) {
		t.Fatalf("shape = %v", shape)
	}
	want := []float64{10, 20, 30, 20, 40, 60}
	if !almostEqual(out, want) {
		t.Errorf("out = %v, want %v", out, want)
	}
}

func TestCombineArraysSameShapeFastPath(t *testing.T) {
	a := []float64{6, 8}
	b := []float64{2, 4}
	out, shape, err := combineArrays(opDiv, a, []int{2}, b, []int{2})
	if err != nil {
		t.Fatal(err)
	}
	if !shapeEqual(shape, []int{2}) || !almostEqual(out, []float64{3, 2}) {
		t.Errorf("out = %v shape = %v", out, shape)
	}
	// inputs untouched
	if !almostEqual(a, []float64{6, 8}) || !almostEqual(b, []float64{2, 4}) {
		t.Error("combineArrays mutated its inputs")
	}
}

func TestScaleArray(t *testing.T) {
	data := []float64{2, 4}
	if out := scaleArray(opMul, data, 3); !almostEqual(out, []float64{6, 12}) {
		t.Errorf("mul = %v", out)
	}
	if out := scaleArray(opDiv, data, 2); !almostEqual(out, []float64{1, 2}) {
		t.Errorf("div = %v", out)
	}
	if out := scaleArray(opSub, data, 1); !almostEqual(out, []float64{1, 3}) {
		t.Errorf("sub = %v", out)
	}
	if !almostEqual(data, []float64{2, 4}) {
		t.Error("scaleArray mutated its input")
	}
}
