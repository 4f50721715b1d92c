// Package replay records parking runs to disk and reads them back. A run
// bundle is a directory holding a manifest, a snappy-framed JSON event log,
// a zstd stream of binary pose frames and a header written on close.
package replay

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

var runIDCleaner = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

const (
	// FrameInterval is the cadence at which buffered pose frames are flushed.
	FrameInterval = 200 * time.Millisecond

	manifestVersion = 1
	manifestName    = "manifest.json"
	headerName      = "header.json"
	eventsName      = "events.jsonl.sz"
	framesName      = "frames.bin.zst"
	frameHeaderSize = 8 + 8 + 4
)

// ErrWriterClosed is returned when appending to a closed writer.
var ErrWriterClosed = errors.New("replay writer closed")

// Manifest describes the bundle layout so tooling can locate artefacts.
type Manifest struct {
	Version         int    `json:"version"`
	RunID           string `json:"run_id"`
	CreatedAt       string `json:"created_at"`
	FrameIntervalMs int    `json:"frame_interval_ms"`
	EventsPath      string `json:"events_path"`
	FramesPath      string `json:"frames_path"`
}

type pendingFrame struct {
	tick        uint64
	simulatedMs int64
	payload     []byte
}

// Writer streams one parking run to disk.
type Writer struct {
	mu          sync.Mutex
	dir         string
	now         func() time.Time
	eventFile   *os.File
	eventStream *snappy.Writer
	frameFile   *os.File
	frameStream *zstd.Encoder
	pending     []pendingFrame
	lastFlush   time.Time
	header      Header
	closed      bool
}

// NewWriter creates the bundle directory for runID under root and opens the
// compressed sinks.
func NewWriter(root, runID string, clock func() time.Time) (*Writer, Manifest, error) {
	if root == "" {
		return nil, Manifest{}, errors.New("replay root must be provided")
	}
	if clock == nil {
		clock = time.Now
	}
	cleaned := runIDCleaner.ReplaceAllString(runID, "")
	if cleaned == "" {
		cleaned = "run"
	}
	created := clock().UTC()
	dir := filepath.Join(root, fmt.Sprintf("%s-%s", cleaned, created.Format("20060102T150405Z")))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, Manifest{}, err
	}

	manifest := Manifest{
		Version:         manifestVersion,
		RunID:           runID,
		CreatedAt:       created.Format(time.RFC3339Nano),
		FrameIntervalMs: int(FrameInterval / time.Millisecond),
		EventsPath:      eventsName,
		FramesPath:      framesName,
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, Manifest{}, err
	}
	if err := os.WriteFile(filepath.Join(dir, manifestName), data, 0o644); err != nil {
		return nil, Manifest{}, err
	}

	eventFile, err := os.Create(filepath.Join(dir, eventsName))
	if err != nil {
		return nil, Manifest{}, err
	}
	frameFile, err := os.Create(filepath.Join(dir, framesName))
	if err != nil {
		eventFile.Close()
		return nil, Manifest{}, err
	}
	frameStream, err := zstd.NewWriter(frameFile)
	if err != nil {
		eventFile.Close()
		frameFile.Close()
		return nil, Manifest{}, err
	}

	return &Writer{
		dir:         dir,
		now:         clock,
		eventFile:   eventFile,
		eventStream: snappy.NewBufferedWriter(eventFile),
		frameFile:   frameFile,
		frameStream: frameStream,
		header:      Header{SchemaVersion: HeaderSchemaVersion, RunID: runID, Manifest: manifestName},
	}, manifest, nil
}

// Directory returns the bundle directory.
func (w *Writer) Directory() string {
	if w == nil {
		return ""
	}
	return w.dir
}

// SetHeader records the run parameters persisted when the writer closes.
func (w *Writer) SetHeader(params TrackerParameters, waypoints int) {
	if w == nil {
		return
	}
	w.mu.Lock()
	w.header.Tracker = params
	w.header.Waypoints = waypoints
	w.mu.Unlock()
}

// AppendEvent writes one JSON line to the event log and flushes it.
func (w *Writer) AppendEvent(tick uint64, simulatedMs int64, eventType string, detail any) error {
	if w == nil {
		return ErrWriterClosed
	}
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("encode %s detail: %w", eventType, err)
	}
	line, err := json.Marshal(Event{
		Tick:        tick,
		SimulatedMs: simulatedMs,
		CapturedAt:  w.now().UTC(),
		Type:        eventType,
		Detail:      raw,
	})
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	if _, err := w.eventStream.Write(append(line, '\n')); err != nil {
		return err
	}
	return w.eventStream.Flush()
}

// AppendPose buffers a pose frame; frames are written out every FrameInterval.
func (w *Writer) AppendPose(tick uint64, simulatedMs int64, x, y, yawDeg float64) error {
	if w == nil {
		return ErrWriterClosed
	}
	captured := w.now().UTC()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	w.pending = append(w.pending, pendingFrame{tick: tick, simulatedMs: simulatedMs, payload: EncodePose(x, y, yawDeg)})
	if w.lastFlush.IsZero() {
		w.lastFlush = captured
		return nil
	}
	if captured.Sub(w.lastFlush) >= FrameInterval {
		if err := w.flushLocked(); err != nil {
			return err
		}
		w.lastFlush = captured
	}
	return nil
}

// Flush writes pending frames regardless of cadence.
func (w *Writer) Flush() error {
	if w == nil {
		return ErrWriterClosed
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	if err := w.flushLocked(); err != nil {
		return err
	}
	w.lastFlush = w.now().UTC()
	return nil
}

// Close writes the header, flushes every stream and releases file handles.
// The first failure is returned; closing twice is a no-op.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	var errs []error
	errs = append(errs, WriteHeader(filepath.Join(w.dir, headerName), w.header))
	errs = append(errs, w.flushLocked())
	errs = append(errs, w.eventStream.Close())
	errs = append(errs, w.eventFile.Close())
	errs = append(errs, w.frameStream.Close())
	errs = append(errs, w.frameFile.Close())
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// flushLocked writes length-prefixed frames and pushes complete zstd blocks
// to disk so an unclosed bundle stays readable; callers must hold the mutex.
func (w *Writer) flushLocked() error {
	for _, frame := range w.pending {
		var head [frameHeaderSize]byte
		binary.LittleEndian.PutUint64(head[0:8], frame.tick)
		binary.LittleEndian.PutUint64(head[8:16], uint64(frame.simulatedMs))
		binary.LittleEndian.PutUint32(head[16:20], uint32(len(frame.payload)))
		if _, err := w.frameStream.Write(head[:]); err != nil {
			return err
		}
		if _, err := w.frameStream.Write(frame.payload); err != nil {
			return err
		}
	}
	w.pending = w.pending[:0]
	return w.frameStream.Flush()
}
