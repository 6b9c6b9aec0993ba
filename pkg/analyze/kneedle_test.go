package analyze

import "testing"

func TestFindKnee(t *testing.T) {
	tests := []struct {
		name   string
		points []Point
		wantX  float64
	}{
		{
			name: "saturation curve",
			points: []Point{
				{X: 1, Y: 10},
				{X: 2, Y: 20},
				{X: 3, Y: 28}, // knee
				{X: 4, Y: 30},
				{X: 5, Y: 31},
			},
			wantX: 3,
		},
		{
			name: "pure linear",
			points: []Point{
				{X: 1, Y: 10},
				{X: 2, Y: 20},
				{X: 3, Y: 30},
				{X: 4, Y: 40},
			},
			// On a line every normalized distance is 0, so the first
			// point wins the > -1 comparison. There is no knee to find.
			wantX: 1,
		},
		{
			name: "flat plateau",
			points: []Point{
				{X: 1, Y: 100},
				{X: 2, Y: 100},
				{X: 3, Y: 100},
			},
			// minY == maxY, degenerate: falls back to the last point.
			wantX: 3,
		},
		{
			name: "step function",
			points: []Point{
				{X: 1, Y: 0},
				{X: 2, Y: 0},
				{X: 3, Y: 100}, // jump lands furthest above the diagonal
				{X: 4, Y: 100},
			},
			wantX: 3,
		},
		{
			name:   "two points",
			points: []Point{{X: 1, Y: 5}, {X: 2, Y: 9}},
			wantX:  2,
		},
		{
			name:   "empty",
			points: nil,
			wantX:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FindKnee(tt.points)
			if got.X != tt.wantX {
				t.Errorf("FindKnee() = %+v, want X=%v", got, tt.wantX)
			}
		})
	}
}

func TestFindKneeLeavesInputUnsorted(t *testing.T) {
	points := []Point{
		{X: 5, Y: 31},
		{X: 1, Y: 10},
		{X: 3, Y: 28},
		{X: 2, Y: 20},
		{X: 4, Y: 30},
	}

	got := FindKnee(points)
	if got.X != 3 {
		t.Errorf("FindKnee() = %+v, want X=3", got)
	}
	if points[0].X != 5 || points[4].X != 4 {
		t.Error("input slice was reordered")
	}
}
