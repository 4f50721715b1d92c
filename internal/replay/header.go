package replay

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// HeaderSchemaVersion tracks the schema version for run header documents.
const HeaderSchemaVersion = 1

// TrackerParameters records the controller tuning used for a run.
type TrackerParameters struct {
	LookaheadDistance float64 `json:"lookahead_distance"`
	WheelbaseLength   float64 `json:"wheelbase_length"`
	CruiseSpeed       float64 `json:"cruise_speed"`
}

// Header is the metadata persisted alongside a run bundle.
type Header struct {
	SchemaVersion int               `json:"schema_version"`
	RunID         string            `json:"run_id"`
	Tracker       TrackerParameters `json:"tracker"`
	Waypoints     int               `json:"waypoints"`
	Manifest      string            `json:"manifest"`
}

// Validate ensures the header carries enough information for tooling.
func (h Header) Validate() error {
	if h.SchemaVersion <= 0 {
		return errors.New("schema_version must be positive")
	}
	if strings.TrimSpace(h.Manifest) == "" {
		return errors.New("manifest must not be empty")
	}
	return nil
}

// WriteHeader persists the header as indented JSON.
func WriteHeader(path string, header Header) error {
	if err := header.Validate(); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(header, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, append(payload, '\n'), 0o644)
}

// ReadHeader loads and validates a header from disk.
func ReadHeader(path string) (Header, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Header{}, err
	}
	var header Header
	if err := json.Unmarshal(data, &header); err != nil {
		return Header{}, err
	}
	if err := header.Validate(); err != nil {
		return Header{}, err
	}
	return header, nil
}
