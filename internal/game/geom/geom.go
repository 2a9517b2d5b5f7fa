// Package geom holds the minimap coordinate primitives shared by the
// scheduler components.
//
// Coordinates are minimap pixels with the origin at the bottom-left corner:
// x grows to the right and y grows upward.
package geom

import "fmt"

// Point is a minimap coordinate.
type Point struct {
	X int `yaml:"x"`
	Y int `yaml:"y"`
}

// Pt is shorthand for Point{X: x, Y: y}.
func Pt(x, y int) Point { return Point{X: x, Y: y} }

// Sub returns p - o.
func (p Point) Sub(o Point) Point { return Point{X: p.X - o.X, Y: p.Y - o.Y} }

// String renders the point as "(x, y)".
func (p Point) String() string { return fmt.Sprintf("(%d, %d)", p.X, p.Y) }

// Abs returns the absolute value of v.
func Abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Sign returns -1, 0 or 1 matching the sign of v.
func Sign(v int) int {
	switch {
	case v < 0:
		return -1
	case v > 0:
		return 1
	default:
		return 0
	}
}

// Clamp limits v to [lo, hi].
//
// Precondition: lo <= hi.
func Clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Bound is an axis-aligned rectangle with inclusive edges.
//
// Invariant: a valid Bound has MinX < MaxX and MinY < MaxY.
type Bound struct {
	MinX int `yaml:"min_x" mapstructure:"min_x"`
	MinY int `yaml:"min_y" mapstructure:"min_y"`
	MaxX int `yaml:"max_x" mapstructure:"max_x"`
	MaxY int `yaml:"max_y" mapstructure:"max_y"`
}

// Rect builds a Bound from two opposite corners in any order.
func Rect(a, b Point) Bound {
	return Bound{
		MinX: min(a.X, b.X),
		MinY: min(a.Y, b.Y),
		MaxX: max(a.X, b.X),
		MaxY: max(a.Y, b.Y),
	}
}

// Valid reports whether the bound encloses a non-empty area.
func (b Bound) Valid() bool { return b.MinX < b.MaxX && b.MinY < b.MaxY }

// IsZero reports whether every field is zero.
func (b Bound) IsZero() bool { return b == Bound{} }

// Width returns MaxX - MinX.
func (b Bound) Width() int { return b.MaxX - b.MinX }

// Height returns MaxY - MinY.
func (b Bound) Height() int { return b.MaxY - b.MinY }

// Mid returns the center of the bound, rounded toward MinX/MinY.
func (b Bound) Mid() Point {
	return Point{X: b.MinX + b.Width()/2, Y: b.MinY + b.Height()/2}
}

// Contains reports whether p lies inside the bound, edges included.
func (b Bound) Contains(p Point) bool {
	return p.X >= b.MinX && p.X <= b.MaxX && p.Y >= b.MinY && p.Y <= b.MaxY
}

// Clamp returns the point inside the bound closest to p.
func (b Bound) Clamp(p Point) Point {
	return Point{X: Clamp(p.X, b.MinX, b.MaxX), Y: Clamp(p.Y, b.MinY, b.MaxY)}
}

// String renders the bound as "[minX,minY]-[maxX,maxY]".
func (b Bound) String() string {
	return fmt.Sprintf("[%d,%d]-[%d,%d]", b.MinX, b.MinY, b.MaxX, b.MaxY)
}

// Quadrant is one of the four subdivisions of a Bound.
type Quadrant int

const (
	NorthWest Quadrant = iota
	NorthEast
	SouthEast
	SouthWest
)

// Quadrants lists every quadrant in clockwise visiting order.
var Quadrants = [4]Quadrant{NorthWest, NorthEast, SouthEast, SouthWest}

// Next returns the quadrant visited after q in clockwise order.
func (q Quadrant) Next() Quadrant { return (q + 1) % 4 }

// String returns the compass abbreviation of the quadrant.
func (q Quadrant) String() string {
	switch q {
	case NorthWest:
		return "NW"
	case NorthEast:
		return "NE"
	case SouthEast:
		return "SE"
	case SouthWest:
		return "SW"
	default:
		return fmt.Sprintf("Quadrant(%d)", int(q))
	}
}

// Quadrant returns the sub-bound covered by q. Adjacent quadrants share
// their middle edge.
func (b Bound) Quadrant(q Quadrant) Bound {
	mid := b.Mid()
	switch q {
	case NorthWest:
		return Bound{MinX: b.MinX, MinY: mid.Y, MaxX: mid.X, MaxY: b.MaxY}
	case NorthEast:
		return Bound{MinX: mid.X, MinY: mid.Y, MaxX: b.MaxX, MaxY: b.MaxY}
	case SouthEast:
		return Bound{MinX: mid.X, MinY: b.MinY, MaxX: b.MaxX, MaxY: mid.Y}
	default:
		return Bound{MinX: b.MinX, MinY: b.MinY, MaxX: mid.X, MaxY: mid.Y}
	}
}

// QuadrantOf returns the quadrant p falls into. Points on the middle lines
// resolve to the west and south halves; points outside the bound resolve to
// the quadrant of their clamped position.
func (b Bound) QuadrantOf(p Point) Quadrant {
	p = b.Clamp(p)
	mid := b.Mid()
	west := p.X <= mid.X
	north := p.Y > mid.Y
	switch {
	case north && west:
		return NorthWest
	case north:
		return NorthEast
	case west:
		return SouthWest
	default:
		return SouthEast
	}
}
