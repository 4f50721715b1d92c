// Package simulation hosts the parking demo: a session owning the vehicle,
// the current path and the tracker, advanced by a fixed-rate loop.
package simulation

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r2"

	"autopark/parker/internal/logging"
	"autopark/parker/internal/path"
	"autopark/parker/internal/replay"
	"autopark/parker/internal/tracking"
)

// Event types written to run recordings.
const (
	EventRunStarted        = "run_started"
	EventAlignmentStarted  = "alignment_started"
	EventAlignmentFinished = "alignment_finished"
	EventArrived           = "arrived"
	EventRunAborted        = "run_aborted"
)

var (
	// ErrNoPath is returned when parking is started before a path is loaded.
	ErrNoPath = errors.New("no path loaded")
	// ErrUnknownUnits is returned for unsupported path coordinate units.
	ErrUnknownUnits = errors.New("unknown path units")
)

// Phase is the session's coarse state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePathReady
	PhaseParking
	PhaseParked
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePathReady:
		return "path_ready"
	case PhaseParking:
		return "parking"
	case PhaseParked:
		return "parked"
	default:
		return "unknown"
	}
}

// Units names the coordinate system of an incoming path.
type Units string

const (
	UnitsPixels Units = "pixels"
	UnitsWorld  Units = "world"
)

// Pose is the vehicle position in pixels and heading in degrees.
type Pose struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	YawDeg float64 `json:"yaw_deg"`
}

// WorldPose is a planner pose in metres and radians.
type WorldPose struct {
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	Yaw float64 `json:"yaw"`
}

// PlanRequest is everything the external path generator needs.
type PlanRequest struct {
	Start        WorldPose `json:"start"`
	Goal         WorldPose `json:"goal"`
	MaxCurvature float64   `json:"max_curvature"`
}

// Settings fixes the session geometry and tracker tuning.
type Settings struct {
	Tracker       tracking.Config
	StopThreshold float64
	Home          Pose
	Slot          Rect
	Frame         Frame
	MaxCurvature  float64
	Step          time.Duration
}

// Recorder persists one parking run. *replay.Writer satisfies it.
type Recorder interface {
	SetHeader(params replay.TrackerParameters, waypoints int)
	AppendEvent(tick uint64, simulatedMs int64, eventType string, detail any) error
	AppendPose(tick uint64, simulatedMs int64, x, y, yawDeg float64) error
	Close() error
}

// RecorderFactory opens a recorder for a new run.
type RecorderFactory func(runID string) (Recorder, error)

// Snapshot is a copy of the observable session state.
type Snapshot struct {
	Tick        uint64 `json:"tick"`
	Phase       string `json:"phase"`
	RunID       string `json:"run_id,omitempty"`
	Pose        Pose   `json:"pose"`
	Mode        string `json:"mode,omitempty"`
	Target      int    `json:"target"`
	Waypoints   int    `json:"waypoints"`
	PathVersion int    `json:"path_version"`
}

// Option customises a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.log = logger
		}
	}
}

// WithRecorderFactory enables run recording.
func WithRecorderFactory(factory RecorderFactory) Option {
	return func(s *Session) { s.openRecorder = factory }
}

// WithRunIDs overrides run identifier generation.
func WithRunIDs(next func() string) Option {
	return func(s *Session) {
		if next != nil {
			s.newRunID = next
		}
	}
}

// Session is the explicit simulation context: the vehicle, the path it was
// given and the tracker following it. Control requests and loop ticks are
// serialised by a mutex so the tracker only ever sees one caller.
type Session struct {
	settings     Settings
	log          *logging.Logger
	openRecorder RecorderFactory
	newRunID     func() string

	mu          sync.Mutex
	tick        uint64
	phase       Phase
	pose        Pose
	path        *path.Path
	pathVersion int
	tracker     *tracking.Tracker
	runID       string
	runTick     uint64
	recorder    Recorder
}

// NewSession validates the settings and places the vehicle at home.
func NewSession(settings Settings, opts ...Option) (*Session, error) {
	if err := settings.Tracker.Validate(); err != nil {
		return nil, err
	}
	if !(settings.StopThreshold > 0) {
		return nil, fmt.Errorf("stop threshold must be positive, got %v", settings.StopThreshold)
	}
	if !(settings.Frame.PixelsPerMetre > 0) {
		return nil, fmt.Errorf("pixels per metre must be positive, got %v", settings.Frame.PixelsPerMetre)
	}
	s := &Session{
		settings: settings,
		log:      logging.L(),
		newRunID: uuid.NewString,
		pose:     settings.Home,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// PlanRequest describes the path the external generator should produce:
// from the home pose to the slot entrance, heading into the slot.
func (s *Session) PlanRequest() PlanRequest {
	f := s.settings.Frame
	start := f.PixelToWorld(r2.Vec{X: s.settings.Home.X, Y: s.settings.Home.Y})
	goal := f.PixelToWorld(s.settings.Slot.BottomCenter())
	return PlanRequest{
		Start:        WorldPose{X: start.X, Y: start.Y, Yaw: WorldYaw(s.settings.Home.YawDeg)},
		Goal:         WorldPose{X: goal.X, Y: goal.Y, Yaw: -math.Pi / 2},
		MaxCurvature: s.settings.MaxCurvature,
	}
}

// LoadPath installs a generated path, extended into the slot by its depth.
// Any run in progress is abandoned.
func (s *Session) LoadPath(points []r2.Vec, directions []path.Direction, units Units) error {
	converted := make([]r2.Vec, len(points))
	switch units {
	case UnitsPixels, "":
		copy(converted, points)
	case UnitsWorld:
		for i, p := range points {
			converted[i] = s.settings.Frame.WorldToPixel(p)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownUnits, units)
	}
	raw, err := path.New(converted, directions)
	if err != nil {
		return err
	}
	extended := raw.Extend(s.settings.Slot.Depth())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.endRunLocked("path_replaced")
	s.path = extended
	s.pathVersion++
	s.phase = PhasePathReady
	s.log.Info("path loaded", logging.Int("waypoints", extended.Len()), logging.Int("path_version", s.pathVersion))
	return nil
}

// Path returns the loaded path, or nil.
func (s *Session) Path() *path.Path {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// Start begins a parking run from the current pose along the loaded path.
// Starting while a run is active restarts it.
func (s *Session) Start() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path == nil {
		return "", ErrNoPath
	}
	tracker, err := tracking.New(s.path, s.settings.Tracker)
	if err != nil {
		return "", err
	}
	s.endRunLocked("restarted")

	s.tracker = tracker
	s.runID = s.newRunID()
	s.runTick = 0
	s.phase = PhaseParking
	s.openRecorderLocked()
	s.recordEventLocked(EventRunStarted, map[string]any{"waypoints": s.path.Len(), "pose": s.pose})
	s.runLogger().Info("parking started", logging.Int("waypoints", s.path.Len()))
	return s.runID, nil
}

// Reset drops the path and any run and returns the vehicle home.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endRunLocked("reset")
	s.path = nil
	s.pathVersion++
	s.pose = s.settings.Home
	s.phase = PhaseIdle
	s.log.Info("session reset")
}

// Tick advances the session by one fixed step and returns the new state.
func (s *Session) Tick() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tick++
	if s.tracker == nil {
		return s.snapshotLocked()
	}

	s.runTick++
	before := s.tracker.Mode()
	x, y, yawDeg, _ := s.tracker.Step(s.pose.X, s.pose.Y, s.pose.YawDeg*math.Pi/180)
	s.pose = Pose{X: x, Y: y, YawDeg: yawDeg}
	if after := s.tracker.Mode(); after != before {
		event := EventAlignmentFinished
		if after == tracking.ModeAligning {
			event = EventAlignmentStarted
		}
		s.runLogger().Debug(event, logging.Int("target", s.tracker.Index()), logging.Float64("yaw_deg", yawDeg))
		s.recordEventLocked(event, map[string]any{"target": s.tracker.Index(), "pose": s.pose})
	}
	s.recordPoseLocked()

	centre := s.settings.Slot.Center()
	if math.Hypot(x-centre.X, y-centre.Y) < s.settings.StopThreshold {
		s.pose.X, s.pose.Y = centre.X, centre.Y
		s.recordPoseLocked()
		s.recordEventLocked(EventArrived, map[string]any{"pose": s.pose, "ticks": s.runTick})
		s.runLogger().Info("vehicle parked", logging.Uint64("ticks", s.runTick))
		s.closeRecorderLocked()
		s.tracker = nil
		s.phase = PhaseParked
	}
	return s.snapshotLocked()
}

// Snapshot returns the current state without advancing it.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		Tick:        s.tick,
		Phase:       s.phase.String(),
		RunID:       s.runID,
		Pose:        s.pose,
		Waypoints:   s.path.Len(),
		PathVersion: s.pathVersion,
	}
	if s.tracker != nil {
		snap.Mode = s.tracker.Mode().String()
		snap.Target = s.tracker.Index()
	}
	return snap
}

// endRunLocked abandons an active run, if any.
func (s *Session) endRunLocked(reason string) {
	if s.tracker == nil {
		return
	}
	s.recordEventLocked(EventRunAborted, map[string]any{"reason": reason, "pose": s.pose})
	s.runLogger().Info("parking aborted", logging.String("reason", reason))
	s.closeRecorderLocked()
	s.tracker = nil
}

func (s *Session) runLogger() *logging.Logger {
	return s.log.With(logging.String(logging.RunIDField, s.runID))
}

func (s *Session) openRecorderLocked() {
	if s.openRecorder == nil {
		return
	}
	rec, err := s.openRecorder(s.runID)
	if err != nil {
		s.runLogger().Warn("run recording disabled", logging.Error(err))
		return
	}
	cfg := s.settings.Tracker
	rec.SetHeader(replay.TrackerParameters{
		LookaheadDistance: cfg.LookaheadDistance,
		WheelbaseLength:   cfg.WheelbaseLength,
		CruiseSpeed:       cfg.CruiseSpeed,
	}, s.path.Len())
	s.recorder = rec
}

func (s *Session) closeRecorderLocked() {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Close(); err != nil {
		s.runLogger().Warn("closing run recording failed", logging.Error(err))
	}
	s.recorder = nil
}

func (s *Session) simulatedMs() int64 {
	return int64(s.runTick) * int64(s.settings.Step) / int64(time.Millisecond)
}

func (s *Session) recordEventLocked(eventType string, detail any) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.AppendEvent(s.runTick, s.simulatedMs(), eventType, detail); err != nil {
		s.runLogger().Warn("recording event failed", logging.String("event", eventType), logging.Error(err))
	}
}

func (s *Session) recordPoseLocked() {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.AppendPose(s.runTick, s.simulatedMs(), s.pose.X, s.pose.Y, s.pose.YawDeg); err != nil {
		s.runLogger().Warn("recording pose failed", logging.Error(err))
	}
}
