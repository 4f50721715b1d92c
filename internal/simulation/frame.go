package simulation

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// Frame converts between the planner's world frame (metres, y up) and the
// screen frame the tracker runs in (pixels, y down).
type Frame struct {
	PixelsPerMetre float64
	ScreenHeight   float64
}

// WorldToPixel maps a world point onto the screen.
func (f Frame) WorldToPixel(p r2.Vec) r2.Vec {
	return r2.Vec{X: p.X * f.PixelsPerMetre, Y: f.ScreenHeight - p.Y*f.PixelsPerMetre}
}

// PixelToWorld maps a screen point into the world frame.
func (f Frame) PixelToWorld(p r2.Vec) r2.Vec {
	return r2.Vec{X: p.X / f.PixelsPerMetre, Y: (f.ScreenHeight - p.Y) / f.PixelsPerMetre}
}

// WorldYaw converts a screen heading in degrees into a world heading in
// radians. Flipping the y axis mirrors the rotation sense.
func WorldYaw(yawDeg float64) float64 {
	return -yawDeg * math.Pi / 180
}

// VisualRotationDeg is the rotation a renderer with counter-clockwise
// positive rotation must apply to draw a car with the given screen heading.
func VisualRotationDeg(yawDeg float64) float64 {
	return -yawDeg
}

// Rect is an axis-aligned screen rectangle anchored at its top-left corner.
type Rect struct {
	X, Y, W, H float64
}

// Center returns the rectangle centre.
func (r Rect) Center() r2.Vec {
	return r2.Vec{X: r.X + r.W/2, Y: r.Y + r.H/2}
}

// BottomCenter returns the midpoint of the bottom edge, the slot entrance.
func (r Rect) BottomCenter() r2.Vec {
	return r2.Vec{X: r.X + r.W/2, Y: r.Y + r.H}
}

// Depth is the slot extent along the approach axis.
func (r Rect) Depth() float64 { return r.H }
