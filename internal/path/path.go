// Package path holds the waypoint sequences the tracker follows. A path is a
// list of 2D points, each tagged with the direction the vehicle must travel
// while heading for it.
package path

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// Direction tags a waypoint with the travel direction used to reach it.
type Direction int8

const (
	// Reverse marks a waypoint approached while backing up.
	Reverse Direction = -1
	// Forward marks a waypoint approached while driving forward.
	Forward Direction = 1
)

// Sign returns the direction as a float multiplier.
func (d Direction) Sign() float64 { return float64(d) }

func (d Direction) String() string {
	switch d {
	case Forward:
		return "forward"
	case Reverse:
		return "reverse"
	default:
		return fmt.Sprintf("direction(%d)", int8(d))
	}
}

var (
	// ErrEmptyPath is returned when a path has no waypoints.
	ErrEmptyPath = errors.New("path has no waypoints")
	// ErrLengthMismatch is returned when points and directions differ in length.
	ErrLengthMismatch = errors.New("points and directions differ in length")
	// ErrInvalidDirection is returned for direction tags other than ±1.
	ErrInvalidDirection = errors.New("direction must be +1 or -1")
	// ErrNonFinitePoint is returned for NaN or infinite coordinates.
	ErrNonFinitePoint = errors.New("waypoint coordinates must be finite")
)

// Path is an immutable sequence of direction-tagged waypoints.
type Path struct {
	points     []r2.Vec
	directions []Direction
}

// New validates and copies the supplied sequences into a Path.
func New(points []r2.Vec, directions []Direction) (*Path, error) {
	if len(points) == 0 {
		return nil, ErrEmptyPath
	}
	if len(points) != len(directions) {
		return nil, fmt.Errorf("%w: %d points, %d directions", ErrLengthMismatch, len(points), len(directions))
	}
	for i, p := range points {
		if !finite(p.X) || !finite(p.Y) {
			return nil, fmt.Errorf("%w: index %d", ErrNonFinitePoint, i)
		}
		if d := directions[i]; d != Forward && d != Reverse {
			return nil, fmt.Errorf("%w: index %d has %d", ErrInvalidDirection, i, int8(d))
		}
	}
	return &Path{
		points:     append([]r2.Vec(nil), points...),
		directions: append([]Direction(nil), directions...),
	}, nil
}

// Len returns the number of waypoints.
func (p *Path) Len() int {
	if p == nil {
		return 0
	}
	return len(p.points)
}

// Point returns the waypoint at index i.
func (p *Path) Point(i int) r2.Vec { return p.points[i] }

// Direction returns the travel direction tag at index i.
func (p *Path) Direction(i int) Direction { return p.directions[i] }

// Points returns a copy of the waypoint coordinates.
func (p *Path) Points() []r2.Vec {
	if p == nil {
		return nil
	}
	return append([]r2.Vec(nil), p.points...)
}

// Directions returns a copy of the direction tags.
func (p *Path) Directions() []Direction {
	if p == nil {
		return nil
	}
	return append([]Direction(nil), p.directions...)
}

// Last returns the final waypoint and its direction.
func (p *Path) Last() (r2.Vec, Direction) {
	n := len(p.points) - 1
	return p.points[n], p.directions[n]
}

// Extend returns a copy of the path with one extra waypoint placed depth
// units beyond the last point along the final segment, carrying the last
// direction tag. Paths with fewer than two points are returned unchanged.
//
// When the last two points coincide the segment has no heading; the unit
// vector is then zero and the appended point duplicates the last one.
func (p *Path) Extend(depth float64) *Path {
	n := p.Len()
	if n < 2 {
		return p
	}
	last, dir := p.Last()
	unit := r2.Vec{}
	if seg := r2.Sub(last, p.points[n-2]); r2.Norm(seg) > 0 {
		unit = r2.Unit(seg)
	}
	return &Path{
		points:     append(p.Points(), r2.Add(last, r2.Scale(depth, unit))),
		directions: append(p.Directions(), dir),
	}
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
