// Package waveform reduces a recording to a short magnitude sequence for
// client-side plotting.
package waveform

import "math"

// DefaultPoints is the summary length used when none is configured.
const DefaultPoints = 50

// Summarize keeps every stride-th sample as an absolute value. The stride
// is ceil(len/target) with a minimum of 1, so the result never exceeds
// target points and still spans the whole recording. Empty input yields an
// empty, non-nil slice.
//
// The first mobile backend used floor(len/target), which returns up to
// 2*target-1 points (60 for 120 samples, where this returns 40). Clients
// only plot the points, so the shorter series is compatible.
func Summarize(samples []float64, target int) []float64 {
	if target <= 0 {
		target = DefaultPoints
	}
	if len(samples) == 0 {
		return []float64{}
	}
	stride := (len(samples) + target - 1) / target
	if stride < 1 {
		stride = 1
	}
	out := make([]float64, 0, (len(samples)+stride-1)/stride)
	for i := 0; i < len(samples); i += stride {
		v := math.Abs(samples[i])
		if math.IsNaN(v) {
			v = 0
		}
		out = append(out, v)
	}
	return out
}
