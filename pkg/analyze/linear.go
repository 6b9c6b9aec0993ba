package analyze

import (
	"math"
	"math/rand"
)

// LinearFit describes the dominant linear region of a curve.
type LinearFit struct {
	Slope       float64
	Intercept   float64
	StartX      float64
	EndX        float64
	InlierCount int
	// Coverage is the fraction of all points inside the region.
	Coverage float64
}

const ransacIterations = 500

// FitLinearRegion finds the longest linear stretch of the curve with
// RANSAC: sample two points, count how many others fall within the
// relative tolerance of the implied line, keep the best consensus set,
// then refine with least squares over it. Tolerance is relative
// (0.05 allows 5% deviation from the model).
func FitLinearRegion(points []Point, tolerance float64) LinearFit {
	n := len(points)
	if n < 2 {
		return LinearFit{}
	}

	var best []Point
	for i := 0; i < ransacIterations; i++ {
		p1 := points[rand.Intn(n)]
		p2 := points[rand.Intn(n)]
		if math.Abs(p2.X-p1.X) < 1e-9 {
			continue
		}
		m := (p2.Y - p1.Y) / (p2.X - p1.X)
		c := p1.Y - m*p1.X

		inliers := make([]Point, 0, n)
		for _, p := range points {
			predicted := m*p.X + c
			// Near-zero observations get an absolute error check so the
			// relative form cannot blow up.
			var err float64
			if math.Abs(p.Y) < 1e-9 {
				err = math.Abs(predicted - p.Y)
			} else {
				err = math.Abs(predicted-p.Y) / math.Abs(p.Y)
			}
			if err <= tolerance {
				inliers = append(inliers, p)
			}
		}
		if len(inliers) > len(best) {
			best = inliers
		}
	}

	if len(best) < 2 {
		return LinearFit{}
	}

	m, c := leastSquares(best)
	minX, maxX := best[0].X, best[0].X
	for _, p := range best {
		if p.X < minX {
			minX = p.X
		}
		if p.X > maxX {
			maxX = p.X
		}
	}

	return LinearFit{
		Slope:       m,
		Intercept:   c,
		StartX:      minX,
		EndX:        maxX,
		InlierCount: len(best),
		Coverage:    float64(len(best)) / float64(n),
	}
}

func leastSquares(points []Point) (m, c float64) {
	var sumX, sumY, sumXY, sumXX float64
	n := float64(len(points))
	for _, p := range points {
		sumX += p.X
		sumY += p.Y
		sumXY += p.X * p.Y
		sumXX += p.X * p.X
	}
	m = (n*sumXY - sumX*sumY) / (n*sumXX - sumX*sumX)
	c = (sumY - m*sumX) / n
	return m, c
}
