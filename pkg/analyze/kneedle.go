package analyze

import "sort"

// FindKnee locates the point of maximum curvature with the Kneedle
// method. It expects a concave saturation curve (rising, flattening
// out): points are normalized to the unit square and the knee is the
// point furthest above the diagonal. Degenerate inputs (fewer than
// three points, a flat or vertical curve) fall back to the last point.
func FindKnee(points []Point) Point {
	if len(points) < 3 {
		if len(points) > 0 {
			return points[len(points)-1]
		}
		return Point{}
	}

	sorted := make([]Point, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].X < sorted[j].X })

	minX, maxX := sorted[0].X, sorted[len(sorted)-1].X
	minY, maxY := sorted[0].Y, sorted[0].Y
	for _, p := range sorted {
		if p.Y < minY {
			minY = p.Y
		}
		if p.Y > maxY {
			maxY = p.Y
		}
	}
	if maxX == minX || maxY == minY {
		return sorted[len(sorted)-1]
	}

	// In normalized space the chord from the first to the last point is
	// y = x, so the difference curve is simply yNorm - xNorm.
	maxDist := -1.0
	var knee Point
	for _, p := range sorted {
		xNorm := (p.X - minX) / (maxX - minX)
		yNorm := (p.Y - minY) / (maxY - minY)
		if dist := yNorm - xNorm; dist > maxDist {
			maxDist = dist
			knee = p
		}
	}
	return knee
}
