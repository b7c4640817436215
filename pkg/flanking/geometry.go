package flanking

import "math"

// Rect is an axis-aligned rectangle with its origin at the top-left corner.
type Rect struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	W float64 `json:"w" yaml:"w"`
	H float64 `json:"h" yaml:"h"`
}

// Right returns the x-coordinate of the right edge.
func (r Rect) Right() float64 { return r.X + r.W }

// Bottom returns the y-coordinate of the bottom edge.
func (r Rect) Bottom() float64 { return r.Y + r.H }

// Empty reports whether r has no area.
func (r Rect) Empty() bool {
	return !(r.W > 0) || !(r.H > 0)
}

// Corners returns the top-left, top-right, bottom-left and bottom-right
// corners of r.
func (r Rect) Corners() (tl, tr, bl, br Point) {
	tl = Point{X: r.X, Y: r.Y}
	tr = Point{X: r.Right(), Y: r.Y}
	bl = Point{X: r.X, Y: r.Bottom()}
	br = Point{X: r.Right(), Y: r.Bottom()}
	return tl, tr, bl, br
}

// Zone is the side of a rectangle a point was classified into. Opposite
// sides have codes that sum to zero.
type Zone int

const (
	ZoneNone  Zone = 0
	ZoneAbove Zone = 1
	ZoneBelow Zone = -1
	ZoneLeft  Zone = 2
	ZoneRight Zone = -2
)

func (z Zone) String() string {
	switch z {
	case ZoneAbove:
		return "above"
	case ZoneBelow:
		return "below"
	case ZoneLeft:
		return "left"
	case ZoneRight:
		return "right"
	}
	return "none"
}

// slope returns rise over run of the line through a and b. A zero run
// yields ±Inf and coincident points yield NaN; neither panics.
func slope(a, b Point) float64 {
	return (a.Y - b.Y) / (a.X - b.X)
}

// ZoneOf classifies p against r for a line of slope ab passing through p.
//
// p is in a zone when it lies outside that side of r and the line, seen from
// p, enters r through that side. The tests run in the fixed order above,
// below, left, right; a point that satisfies several (exact corner
// alignment) gets the first.
func ZoneOf(p Point, ab float64, r Rect) Zone {
	tl, tr, bl, br := r.Corners()
	inv := 1 / ab

	switch {
	case p.Y <= tl.Y && inv >= 1/slope(p, tl) && inv <= 1/slope(p, tr):
		return ZoneAbove
	case p.Y >= bl.Y && inv <= 1/slope(p, bl) && inv >= 1/slope(p, br):
		return ZoneBelow
	case p.X <= tl.X && ab >= slope(p, tl) && ab <= slope(p, bl):
		return ZoneLeft
	case p.X >= br.X && ab <= slope(p, tr) && ab >= slope(p, br):
		return ZoneRight
	}
	return ZoneNone
}

// IsOpposite reports whether a and b stand on opposite sides of r: one above
// and one below, or one left and one right. Coincident points, points with
// NaN coordinates and empty rectangles are never opposite.
func IsOpposite(a, b Point, r Rect) bool {
	if a == b || r.Empty() || hasNaN(a) || hasNaN(b) {
		return false
	}

	// Fix the order so the slope, including the sign of a zero rise, does
	// not depend on argument order.
	if b.X < a.X || (b.X == a.X && b.Y < a.Y) {
		a, b = b, a
	}
	ab := slope(a, b)

	za := ZoneOf(a, ab, r)
	zb := ZoneOf(b, ab, r)
	if za == ZoneNone || zb == ZoneNone {
		return false
	}
	return za+zb == 0
}

// AnyOpposite reports whether any unordered pair of points is opposite
// relative to r. It stops at the first opposite pair.
func AnyOpposite(points []Point, r Rect) bool {
	for i := 0; i < len(points); i++ {
		for j := i + 1; j < len(points); j++ {
			if IsOpposite(points[i], points[j], r) {
				return true
			}
		}
	}
	return false
}

func hasNaN(p Point) bool {
	return math.IsNaN(p.X) || math.IsNaN(p.Y)
}
