package simulation

import (
	"errors"
	"math"
	"testing"
	"time"

	"gonum.org/v1/gonum/spatial/r2"

	"autopark/parker/internal/logging"
	"autopark/parker/internal/path"
	"autopark/parker/internal/replay"
	"autopark/parker/internal/tracking"
)

type fakeRecorder struct {
	header    replay.TrackerParameters
	waypoints int
	events    []string
	poses     int
	closed    int
}

func (f *fakeRecorder) SetHeader(params replay.TrackerParameters, waypoints int) {
	f.header = params
	f.waypoints = waypoints
}

func (f *fakeRecorder) AppendEvent(tick uint64, simulatedMs int64, eventType string, detail any) error {
	//1.- Keep only the type so tests can assert the run timeline.
	f.events = append(f.events, eventType)
	return nil
}

func (f *fakeRecorder) AppendPose(tick uint64, simulatedMs int64, x, y, yawDeg float64) error {
	f.poses++
	return nil
}

func (f *fakeRecorder) Close() error {
	f.closed++
	return nil
}

func testSettings() Settings {
	return Settings{
		Tracker:       tracking.Config{LookaheadDistance: 30, WheelbaseLength: 25, CruiseSpeed: 2.5},
		StopThreshold: 5,
		Home:          Pose{X: 100, Y: 300},
		Slot:          Rect{X: 190, Y: 280, W: 20, H: 40},
		Frame:         Frame{PixelsPerMetre: 50, ScreenHeight: 600},
		MaxCurvature:  0.1,
		Step:          time.Second / 30,
	}
}

func newTestSession(t *testing.T, settings Settings, recorders *[]*fakeRecorder) *Session {
	t.Helper()
	runs := 0
	session, err := NewSession(settings,
		WithLogger(logging.NewTestLogger()),
		WithRunIDs(func() string {
			runs++
			return "run-" + string(rune('0'+runs))
		}),
		WithRecorderFactory(func(runID string) (Recorder, error) {
			rec := &fakeRecorder{}
			*recorders = append(*recorders, rec)
			return rec, nil
		}),
	)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	return session
}

func TestNewSessionRejectsInvalidSettings(t *testing.T) {
	settings := testSettings()
	settings.Tracker.LookaheadDistance = 0
	if _, err := NewSession(settings); !errors.Is(err, tracking.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	settings = testSettings()
	settings.StopThreshold = 0
	if _, err := NewSession(settings); err == nil {
		t.Fatal("expected stop threshold error")
	}
}

func TestStartRequiresPath(t *testing.T) {
	var recorders []*fakeRecorder
	session := newTestSession(t, testSettings(), &recorders)
	if _, err := session.Start(); !errors.Is(err, ErrNoPath) {
		t.Fatalf("expected ErrNoPath, got %v", err)
	}
	if len(recorders) != 0 {
		t.Fatalf("no recorder should open without a path")
	}
}

func TestLoadPathValidatesAndExtends(t *testing.T) {
	var recorders []*fakeRecorder
	session := newTestSession(t, testSettings(), &recorders)

	if err := session.LoadPath([]r2.Vec{{X: 1}}, []path.Direction{path.Forward}, "furlongs"); !errors.Is(err, ErrUnknownUnits) {
		t.Fatalf("expected ErrUnknownUnits, got %v", err)
	}
	if err := session.LoadPath([]r2.Vec{{X: 1}, {X: 2}}, []path.Direction{path.Forward}, UnitsPixels); !errors.Is(err, path.ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}

	//1.- World metres are flipped into screen pixels before the slot extension.
	err := session.LoadPath([]r2.Vec{{X: 2, Y: 6}, {X: 3, Y: 6}}, []path.Direction{path.Forward, path.Reverse}, UnitsWorld)
	if err != nil {
		t.Fatalf("load path: %v", err)
	}
	loaded := session.Path()
	if loaded.Len() != 3 {
		t.Fatalf("expected extension point, got %d waypoints", loaded.Len())
	}
	want := []r2.Vec{{X: 100, Y: 300}, {X: 150, Y: 300}, {X: 190, Y: 300}}
	for i, p := range loaded.Points() {
		if math.Abs(p.X-want[i].X) > 1e-9 || math.Abs(p.Y-want[i].Y) > 1e-9 {
			t.Fatalf("waypoint %d: want %+v got %+v", i, want[i], p)
		}
	}
	if _, dir := loaded.Last(); dir != path.Reverse {
		t.Fatalf("extension must reuse last direction, got %v", dir)
	}
	if snap := session.Snapshot(); snap.Phase != "path_ready" || snap.Waypoints != 3 || snap.PathVersion != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestParkingRunSnapsToSlot(t *testing.T) {
	var recorders []*fakeRecorder
	session := newTestSession(t, testSettings(), &recorders)
	err := session.LoadPath([]r2.Vec{{X: 100, Y: 300}, {X: 150, Y: 300}, {X: 200, Y: 300}},
		[]path.Direction{path.Forward, path.Forward, path.Forward}, UnitsPixels)
	if err != nil {
		t.Fatalf("load path: %v", err)
	}
	runID, err := session.Start()
	if err != nil || runID != "run-1" {
		t.Fatalf("start: %q %v", runID, err)
	}

	//1.- Drive until the snap rule fires; 2.5 px per tick reaches 197.5 px on tick 39.
	var snap Snapshot
	ticks := 0
	for ticks < 200 {
		snap = session.Tick()
		ticks++
		if snap.Phase == "parked" {
			break
		}
	}
	if ticks != 39 {
		t.Fatalf("expected arrival on tick 39, got %d", ticks)
	}
	if snap.Pose.X != 200 || snap.Pose.Y != 300 {
		t.Fatalf("expected snap to slot centre, got %+v", snap.Pose)
	}
	if snap.Mode != "" {
		t.Fatalf("tracker should be discarded after arrival, got mode %q", snap.Mode)
	}

	//2.- Further ticks leave the parked car alone.
	if after := session.Tick(); after.Pose != snap.Pose {
		t.Fatalf("parked car moved: %+v", after.Pose)
	}

	if len(recorders) != 1 {
		t.Fatalf("expected one recorder, got %d", len(recorders))
	}
	rec := recorders[0]
	if rec.waypoints != 4 || rec.header.LookaheadDistance != 30 {
		t.Fatalf("unexpected header %+v / %d", rec.header, rec.waypoints)
	}
	if len(rec.events) != 2 || rec.events[0] != EventRunStarted || rec.events[1] != EventArrived {
		t.Fatalf("unexpected events %v", rec.events)
	}
	if rec.poses != 40 || rec.closed != 1 {
		t.Fatalf("expected 40 poses and one close, got %d/%d", rec.poses, rec.closed)
	}
}

func TestDirectionChangeIsRecorded(t *testing.T) {
	settings := testSettings()
	settings.Slot = Rect{X: 990, Y: 990, W: 20, H: 40}
	var recorders []*fakeRecorder
	session := newTestSession(t, settings, &recorders)
	err := session.LoadPath(
		[]r2.Vec{{X: 100, Y: 300}, {X: 200, Y: 300}, {X: 200, Y: 300}, {X: 100, Y: 300}},
		[]path.Direction{path.Forward, path.Forward, path.Reverse, path.Reverse}, UnitsPixels)
	if err != nil {
		t.Fatalf("load path: %v", err)
	}
	if _, err := session.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	var frozen Snapshot
	for i := 1; i <= 40; i++ {
		snap := session.Tick()
		if i == 30 {
			frozen = snap
		}
	}
	//1.- Tick 30 begins inside the lookahead of the turning point and only latches.
	if frozen.Mode != "aligning" || frozen.Pose.X != 172.5 {
		t.Fatalf("expected alignment latch at x=172.5, got %+v", frozen)
	}
	//2.- Ten ticks later the car has backed up by 2.5 px per tick after the latch.
	if snap := session.Snapshot(); math.Abs(snap.Pose.X-147.5) > 1e-6 || snap.Mode != "tracking" {
		t.Fatalf("expected reverse progress, got %+v", snap)
	}
	want := []string{EventRunStarted, EventAlignmentStarted, EventAlignmentFinished}
	events := recorders[0].events
	if len(events) != len(want) {
		t.Fatalf("unexpected events %v", events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("event %d: want %s got %s", i, want[i], events[i])
		}
	}
}

func TestResetAbortsRunAndReturnsHome(t *testing.T) {
	var recorders []*fakeRecorder
	session := newTestSession(t, testSettings(), &recorders)
	if err := session.LoadPath([]r2.Vec{{X: 100, Y: 300}, {X: 400, Y: 300}}, []path.Direction{path.Forward, path.Forward}, ""); err != nil {
		t.Fatalf("load path: %v", err)
	}
	if _, err := session.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	session.Tick()
	session.Tick()
	//1.- Restarting closes the first recording before opening a second one.
	if _, err := session.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	session.Reset()

	snap := session.Snapshot()
	if snap.Phase != "idle" || snap.Pose != (Pose{X: 100, Y: 300}) || snap.Waypoints != 0 {
		t.Fatalf("unexpected snapshot after reset %+v", snap)
	}
	if len(recorders) != 2 {
		t.Fatalf("expected two recordings, got %d", len(recorders))
	}
	for i, rec := range recorders {
		if rec.closed != 1 || rec.events[len(rec.events)-1] != EventRunAborted {
			t.Fatalf("recording %d not aborted cleanly: %+v", i, rec)
		}
	}
	if _, err := session.Start(); !errors.Is(err, ErrNoPath) {
		t.Fatalf("expected ErrNoPath after reset, got %v", err)
	}
}

func TestRecorderFactoryFailureDoesNotBlockRun(t *testing.T) {
	session, err := NewSession(testSettings(),
		WithLogger(logging.NewTestLogger()),
		WithRecorderFactory(func(string) (Recorder, error) { return nil, errors.New("disk full") }))
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := session.LoadPath([]r2.Vec{{X: 100, Y: 300}, {X: 400, Y: 300}}, []path.Direction{path.Forward, path.Forward}, UnitsPixels); err != nil {
		t.Fatalf("load path: %v", err)
	}
	if _, err := session.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if snap := session.Tick(); snap.Pose.X != 102.5 {
		t.Fatalf("expected the car to move, got %+v", snap.Pose)
	}
}

func TestPlanRequestUsesWorldFrame(t *testing.T) {
	settings := testSettings()
	settings.Slot = Rect{X: 650, Y: 150, W: 40, H: 90}
	var recorders []*fakeRecorder
	req := newTestSession(t, settings, &recorders).PlanRequest()

	if math.Abs(req.Start.X-2) > 1e-12 || math.Abs(req.Start.Y-6) > 1e-12 || req.Start.Yaw != 0 {
		t.Fatalf("unexpected start %+v", req.Start)
	}
	if math.Abs(req.Goal.X-13.4) > 1e-12 || math.Abs(req.Goal.Y-7.2) > 1e-12 || req.Goal.Yaw != -math.Pi/2 {
		t.Fatalf("unexpected goal %+v", req.Goal)
	}
	if req.MaxCurvature != 0.1 {
		t.Fatalf("unexpected curvature %v", req.MaxCurvature)
	}
}

func TestFrameConversions(t *testing.T) {
	f := Frame{PixelsPerMetre: 50, ScreenHeight: 600}
	p := r2.Vec{X: 123, Y: 456}
	back := f.WorldToPixel(f.PixelToWorld(p))
	if math.Abs(back.X-p.X) > 1e-9 || math.Abs(back.Y-p.Y) > 1e-9 {
		t.Fatalf("round trip mismatch %+v", back)
	}
	if VisualRotationDeg(30) != -30 {
		t.Fatal("visual rotation must flip the heading sign")
	}
	if math.Abs(WorldYaw(90)+math.Pi/2) > 1e-12 {
		t.Fatalf("unexpected world yaw %v", WorldYaw(90))
	}
}
