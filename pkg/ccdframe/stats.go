package ccdframe

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// FrameStats summarizes the pixel distribution of a frame.
type FrameStats struct {
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64
	Median float64
	MAD    float64 // scaled to estimate sigma for a normal distribution
}

func (s FrameStats) String() string {
	return fmt.Sprintf("{Min=%g, Max=%g, Mean=%g +/- %g, Median=%g +/- %g}",
		s.Min, s.Max, s.Mean, s.StdDev, s.Median, s.MAD)
}

// Stats computes statistics over the valid (unmasked) pixels. An entirely
// masked frame yields NaN fields.
func (f *Frame) Stats() FrameStats {
	values := f.data
	if f.mask != nil {
		values = make([]float64, 0, len(f.data))
		for i, v := range f.data {
			if !f.mask.Bits[i] {
				values = append(values, v)
			}
		}
	}
	if len(values) == 0 {
		nan := math.NaN()
		return FrameStats{Min: nan, Max: nan, Mean: nan, StdDev: nan, Median: nan, MAD: nan}
	}

	min, max := values[0], values[0]
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	mean, std := stat.MeanStdDev(values, nil)
	if len(values) == 1 {
		std = 0
	}
	median, mad := medianMAD(values)

	return FrameStats{Min: min, Max: max, Mean: mean, StdDev: std, Median: median, MAD: mad}
}

// medianMAD returns the median and the normal-scaled median absolute
// deviation of values.
func medianMAD(values []float64) (float64, float64) {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	median := middle(sorted)

	deviations := make([]float64, len(sorted))
	for i, v := range sorted {
		deviations[i] = math.Abs(v - median)
	}
	sort.Float64s(deviations)

	return median, 1.4826 * middle(deviations)
}

func middle(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2.0
	}
	return sorted[n/2]
}
