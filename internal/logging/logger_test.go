package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"autopark/parker/internal/config"
)

type bufferSink struct{ bytes.Buffer }

func (b *bufferSink) Sync() error { return nil }

func decodeLines(t *testing.T, raw string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(raw), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		out = append(out, entry)
	}
	return out
}

func TestLoggerWritesStructuredLines(t *testing.T) {
	sink := &bufferSink{}
	logger := NewWithWriters(InfoLevel, sink).With(String(RunIDField, "run-1"))

	logger.Debug("hidden")
	logger.Info("alignment started", Int("index", 3), Float64("yaw_deg", 12.5), Error(errors.New("boom")))

	lines := decodeLines(t, sink.String())
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	entry := lines[0]
	if entry["message"] != "alignment started" || entry["level"] != "info" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if entry[RunIDField] != "run-1" || entry["service"] != "parker" {
		t.Fatalf("missing context fields: %+v", entry)
	}
	if entry["index"].(float64) != 3 || entry["yaw_deg"].(float64) != 12.5 || entry["error"] != "boom" {
		t.Fatalf("unexpected field values: %+v", entry)
	}
}

func TestContextRoundTrip(t *testing.T) {
	sink := &bufferSink{}
	logger := NewWithWriters(DebugLevel, sink)
	ctx := ContextWithLogger(context.Background(), logger)
	if FromContext(ctx) != logger {
		t.Fatal("expected logger from context")
	}
	if FromContext(context.Background()) != L() {
		t.Fatal("expected global fallback")
	}
}

func TestParseLevel(t *testing.T) {
	if lvl, err := ParseLevel("WARNING"); err != nil || lvl != WarnLevel {
		t.Fatalf("unexpected level %v err %v", lvl, err)
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestRotatingFileRotatesAndPrunes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "parker.log")
	file, err := newRotatingFile(config.LoggingConfig{Path: path, MaxSizeMB: 1, MaxBackups: 2, Compress: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	//1.- Force tiny rotation thresholds and a deterministic clock.
	file.maxSize = 64
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	file.now = func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	line := []byte(strings.Repeat("x", 40) + "\n")
	for i := 0; i < 6; i++ {
		if _, err := file.Write(line); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	if err := file.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	//2.- Only the active file plus two compressed backups remain.
	matches, _ := filepath.Glob(path + ".*")
	if len(matches) != 2 {
		t.Fatalf("expected 2 backups, got %v", matches)
	}
	for _, m := range matches {
		if !strings.HasSuffix(m, ".gz") {
			t.Fatalf("expected compressed backup, got %s", m)
		}
	}
	info, err := os.Stat(path)
	if err != nil || info.Size() != int64(len(line)) {
		t.Fatalf("unexpected active file state: %v %v", info, err)
	}
}
