package replay

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// PoseSize is the encoded size of a pose frame payload.
const PoseSize = 24

// Event is one line of the run event log.
type Event struct {
	Tick        uint64          `json:"tick"`
	SimulatedMs int64           `json:"simulated_ms"`
	CapturedAt  time.Time       `json:"captured_at"`
	Type        string          `json:"type"`
	Detail      json.RawMessage `json:"detail,omitempty"`
}

// Frame is one decoded pose sample.
type Frame struct {
	Tick        uint64  `json:"tick"`
	SimulatedMs int64   `json:"simulated_ms"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	YawDeg      float64 `json:"yaw_deg"`
}

// Bundle is a fully decoded run.
type Bundle struct {
	Manifest Manifest
	Header   *Header
	Events   []Event
	Frames   []Frame
}

// EncodePose packs a pose as three little-endian float64 values.
func EncodePose(x, y, yawDeg float64) []byte {
	buf := make([]byte, PoseSize)
	binary.LittleEndian.PutUint64(buf[0:8], math.Float64bits(x))
	binary.LittleEndian.PutUint64(buf[8:16], math.Float64bits(y))
	binary.LittleEndian.PutUint64(buf[16:24], math.Float64bits(yawDeg))
	return buf
}

// DecodePose reverses EncodePose.
func DecodePose(buf []byte) (x, y, yawDeg float64, err error) {
	if len(buf) != PoseSize {
		return 0, 0, 0, fmt.Errorf("pose payload has %d bytes, want %d", len(buf), PoseSize)
	}
	x = math.Float64frombits(binary.LittleEndian.Uint64(buf[0:8]))
	y = math.Float64frombits(binary.LittleEndian.Uint64(buf[8:16]))
	yawDeg = math.Float64frombits(binary.LittleEndian.Uint64(buf[16:24]))
	return x, y, yawDeg, nil
}

// ReadBundle loads a run bundle from its directory or manifest path. A
// missing header means the run was not closed cleanly and is not an error.
func ReadBundle(path string) (*Bundle, error) {
	if path == "" {
		return nil, errors.New("path is required")
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	manifestPath := path
	if info.IsDir() {
		manifestPath = filepath.Join(path, manifestName)
	}
	dir := filepath.Dir(manifestPath)

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, err
	}
	bundle := &Bundle{}
	if err := json.Unmarshal(data, &bundle.Manifest); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if bundle.Manifest.Version != manifestVersion {
		return nil, fmt.Errorf("unsupported manifest version %d", bundle.Manifest.Version)
	}

	if header, err := ReadHeader(filepath.Join(dir, headerName)); err == nil {
		bundle.Header = &header
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if bundle.Events, err = readEvents(filepath.Join(dir, bundle.Manifest.EventsPath)); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	if bundle.Frames, err = readFrames(filepath.Join(dir, bundle.Manifest.FramesPath)); err != nil {
		return nil, fmt.Errorf("read frames: %w", err)
	}
	return bundle, nil
}

func readEvents(path string) ([]Event, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(snappy.NewReader(file))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var events []Event
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, scanner.Err()
}

func readFrames(path string) ([]Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder, err := zstd.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer decoder.Close()
	// A run that never closed ends without a zstd frame trailer. Everything
	// flushed before that still decodes; only whole records are kept.
	payload, err := io.ReadAll(decoder)
	truncated := errors.Is(err, io.ErrUnexpectedEOF)
	if err != nil && !truncated {
		return nil, err
	}

	var frames []Frame
	for offset := 0; offset < len(payload); {
		if offset+frameHeaderSize > len(payload) {
			if truncated {
				break
			}
			return nil, fmt.Errorf("truncated frame header at offset %d", offset)
		}
		tick := binary.LittleEndian.Uint64(payload[offset : offset+8])
		sim := int64(binary.LittleEndian.Uint64(payload[offset+8 : offset+16]))
		size := int(binary.LittleEndian.Uint32(payload[offset+16 : offset+20]))
		if offset+frameHeaderSize+size > len(payload) {
			if truncated {
				break
			}
			return nil, fmt.Errorf("truncated frame payload at tick %d", tick)
		}
		offset += frameHeaderSize
		x, y, yaw, err := DecodePose(payload[offset : offset+size])
		if err != nil {
			return nil, fmt.Errorf("tick %d: %w", tick, err)
		}
		offset += size
		frames = append(frames, Frame{Tick: tick, SimulatedMs: sim, X: x, Y: y, YawDeg: yaw})
	}
	return frames, nil
}
