// Package tracking steers a vehicle along a direction-tagged path using a
// pure-pursuit law, pausing to rotate in place wherever the path switches
// between forward and reverse travel.
//
// A Tracker is stepped once per simulation tick by a single caller. It never
// decides that the run is over: Step always reports done == false and the
// host loop is expected to stop stepping once its own arrival rule fires.
package tracking

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"autopark/parker/internal/path"
)

const (
	// AlignTolerance is the heading error below which in-place alignment ends.
	AlignTolerance = math.Pi / 180
	// AlignStep is the heading change applied per tick while aligning.
	AlignStep = math.Pi / 180
)

// ErrInvalidConfig is returned when tracker parameters are not usable.
var ErrInvalidConfig = errors.New("invalid tracker configuration")

// Config carries the fixed tracker parameters.
type Config struct {
	// LookaheadDistance is the minimum distance at which a waypoint may become the target.
	LookaheadDistance float64
	// WheelbaseLength is the axle separation used by the steering law.
	WheelbaseLength float64
	// CruiseSpeed is the distance covered per tick; the path supplies the sign.
	CruiseSpeed float64
}

// Validate reports every parameter that is not a finite positive number.
func (c Config) Validate() error {
	var problems []string
	check := func(name string, v float64) {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			problems = append(problems, fmt.Sprintf("%s must be positive, got %v", name, v))
		}
	}
	check("lookahead distance", c.LookaheadDistance)
	check("wheelbase length", c.WheelbaseLength)
	check("cruise speed", c.CruiseSpeed)
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
}

// Mode is the tracker's control state.
type Mode int

const (
	// ModeTracking follows the path with the pure-pursuit law.
	ModeTracking Mode = iota
	// ModeAligning rotates the vehicle in place before a direction change.
	ModeAligning
)

func (m Mode) String() string {
	switch m {
	case ModeTracking:
		return "tracking"
	case ModeAligning:
		return "aligning"
	default:
		return "unknown"
	}
}

// Tracker follows one path for the lifetime of a parking run.
type Tracker struct {
	path  *path.Path
	cfg   Config
	index int
	mode  Mode
}

// New constructs a tracker for the given path.
func New(p *path.Path, cfg Config) (*Tracker, error) {
	if p.Len() == 0 {
		return nil, path.ErrEmptyPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Tracker{path: p, cfg: cfg}, nil
}

// Index returns the progress index of the current target waypoint.
func (t *Tracker) Index() int { return t.index }

// Mode returns the current control state.
func (t *Tracker) Mode() Mode { return t.mode }

// Config returns the parameters the tracker was built with.
func (t *Tracker) Config() Config { return t.cfg }

// Path returns the path being followed.
func (t *Tracker) Path() *path.Path { return t.path }

// Step advances the vehicle by one tick. The heading is taken in radians
// and returned in degrees; done is always false.
func (t *Tracker) Step(x, y, yaw float64) (float64, float64, float64, bool) {
	previous := t.index
	idx := t.advance(x, y)
	desired := t.path.Direction(idx)

	if t.mode != ModeAligning && idx > previous && t.handoffBetween(previous, idx) {
		t.mode = ModeAligning
		return x, y, degrees(yaw), false
	}

	target := t.path.Point(idx)
	bearing := math.Atan2(target.Y-y, target.X-x)

	if t.mode == ModeAligning {
		goal := bearing
		if desired == path.Reverse {
			goal += math.Pi
		}
		errAngle := NormalizeAngle(goal - yaw)
		if math.Abs(errAngle) > AlignTolerance {
			yaw += math.Copysign(AlignStep, errAngle)
			return x, y, degrees(yaw), false
		}
		t.mode = ModeTracking
	}

	alpha := NormalizeAngle(bearing - yaw)
	steer := math.Atan2(2*t.cfg.WheelbaseLength*math.Sin(alpha), t.cfg.LookaheadDistance)
	// Backing up mirrors the rear-axle geometry, so the steering response flips.
	steer *= desired.Sign()
	velocity := t.cfg.CruiseSpeed * desired.Sign()

	yaw += steer
	x += velocity * math.Cos(yaw)
	y += velocity * math.Sin(yaw)
	return x, y, degrees(yaw), false
}

// advance moves the progress index forward past every waypoint inside the
// lookahead circle and returns the clamped result.
func (t *Tracker) advance(x, y float64) int {
	n := t.path.Len()
	idx := t.index
	for idx < n {
		p := t.path.Point(idx)
		if math.Hypot(x-p.X, y-p.Y) >= t.cfg.LookaheadDistance {
			break
		}
		idx++
	}
	if idx > n-1 {
		idx = n - 1
	}
	t.index = idx
	return idx
}

// handoffBetween reports whether any waypoint from the previous target up
// to the one just before the new target travels in a different direction.
// For a single-step advance this compares the new target with its
// immediate predecessor.
func (t *Tracker) handoffBetween(from, to int) bool {
	desired := t.path.Direction(to)
	for i := from; i < to; i++ {
		if t.path.Direction(i) != desired {
			return true
		}
	}
	return false
}

// NormalizeAngle maps an angle in radians into (-π, π].
func NormalizeAngle(a float64) float64 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}

func degrees(rad float64) float64 { return rad * 180 / math.Pi }
