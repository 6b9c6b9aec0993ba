// Package analyze locates transitions in performance curves: the knee
// where marginal gains fall off, the saturation plateau where they stop,
// the dominant linear region, and sustained-rate profiles built from
// operation traces.
package analyze

import "math"

// Point is one measurement on a performance curve, X the load parameter
// (block size, worker count, elapsed seconds) and Y the observed value.
type Point struct {
	X float64
	Y float64
}

// Analysis holds the transitions a Detector found. A zero Point means
// the corresponding transition was not present in the data.
type Analysis struct {
	Knee       Point
	Saturation Point
}

// Detector finds curve transitions by comparing per-segment slopes to
// the initial slope. Thresholds are fractions of the initial slope:
// a segment below KneeThreshold marks the knee, one below
// SaturationThreshold marks the plateau.
type Detector struct {
	KneeThreshold       float64
	SaturationThreshold float64
}

// NewDetector returns a detector with the standard thresholds: the knee
// where marginal gain drops below half the initial slope, saturation
// where it drops below 5%.
func NewDetector() Detector {
	return Detector{KneeThreshold: 0.5, SaturationThreshold: 0.05}
}

// Analyze scans points ordered by X for the knee and saturation
// transitions. It assumes the usual shape: near-linear growth, then a
// knee, then a plateau. Fewer than three points carry no transition.
func (d Detector) Analyze(points []Point) Analysis {
	if len(points) < 3 {
		return Analysis{}
	}

	// TODO: a short regression would make the initial slope less
	// sensitive to noise in the first two samples.
	initialSlope := (points[1].Y - points[0].Y) / (points[1].X - points[0].X)

	var out Analysis
	var kneeFound, satFound bool

	for i := 2; i < len(points); i++ {
		slope := (points[i].Y - points[i-1].Y) / (points[i].X - points[i-1].X)

		if !kneeFound && slope < initialSlope*d.KneeThreshold {
			out.Knee = points[i-1]
			kneeFound = true
		}

		// Smooth over the previous segment so one noisy sample cannot
		// declare a plateau early.
		smoothed := slope
		if i >= 3 {
			prev := (points[i-1].Y - points[i-2].Y) / (points[i-1].X - points[i-2].X)
			smoothed = (slope + prev) / 2
		}

		if !satFound && smoothed < initialSlope*d.SaturationThreshold {
			out.Saturation = points[i-1]
			satFound = true
		}
	}

	return out
}

// Confidence scores how clean a supposedly monotonic curve is, 1.0 for
// strictly non-decreasing down to 0 as violations pile up.
func Confidence(points []Point) float64 {
	if len(points) < 3 {
		return 0
	}
	violations := 0
	for i := 1; i < len(points); i++ {
		if points[i].Y < points[i-1].Y {
			violations++
		}
	}
	return math.Max(0, 1.0-float64(violations)/float64(len(points)))
}
