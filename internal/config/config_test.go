package config

import (
	"strings"
	"testing"
	"time"
)

var allKeys = []string{
	"PARKER_HTTP_ADDR", "PARKER_TICK_HZ", "PARKER_LOOKAHEAD", "PARKER_WHEELBASE", "PARKER_SPEED",
	"PARKER_STOP_THRESHOLD", "PARKER_MAX_CURVATURE", "PARKER_PIXELS_PER_METRE", "PARKER_SCREEN_HEIGHT",
	"PARKER_HOME", "PARKER_SLOT", "PARKER_REPLAY_DIR", "PARKER_REPLAY_KEEP", "PARKER_CONTROL_WINDOW", "PARKER_CONTROL_BURST",
	"PARKER_CONTROL_TOKEN", "PARKER_LOG_LEVEL", "PARKER_LOG_PATH", "PARKER_LOG_MAX_SIZE_MB", "PARKER_LOG_MAX_BACKUPS",
	"PARKER_LOG_COMPRESS",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range allKeys {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.HTTPAddr != DefaultHTTPAddr {
		t.Fatalf("expected default addr %q, got %q", DefaultHTTPAddr, cfg.HTTPAddr)
	}
	if cfg.TickHz != DefaultTickHz || cfg.Lookahead != DefaultLookahead || cfg.Wheelbase != DefaultWheelbase || cfg.Speed != DefaultSpeed {
		t.Fatalf("unexpected tracker defaults: %+v", cfg)
	}
	if cfg.Home != DefaultHome {
		t.Fatalf("expected home %+v, got %+v", DefaultHome, cfg.Home)
	}
	if cfg.Slot != DefaultSlot {
		t.Fatalf("expected slot %+v, got %+v", DefaultSlot, cfg.Slot)
	}
	if cfg.ReplayDir != "" || cfg.ReplayKeep != DefaultReplayKeep {
		t.Fatalf("unexpected replay defaults: dir=%q keep=%d", cfg.ReplayDir, cfg.ReplayKeep)
	}
	if cfg.Logging.Level != DefaultLogLevel || cfg.Logging.Path != DefaultLogPath {
		t.Fatalf("unexpected logging defaults: %+v", cfg.Logging)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PARKER_HTTP_ADDR", "127.0.0.1:9000")
	t.Setenv("PARKER_GRPC_ADDR", "")
	t.Setenv("PARKER_TICK_HZ", "60")
	t.Setenv("PARKER_LOOKAHEAD", "12.5")
	t.Setenv("PARKER_HOME", "10, 20, 90")
	t.Setenv("PARKER_SLOT", "1,2,3,4")
	t.Setenv("PARKER_CONTROL_WINDOW", "2s")
	t.Setenv("PARKER_LOG_COMPRESS", "false")
	t.Setenv("PARKER_REPLAY_DIR", "/tmp/runs")
	t.Setenv("PARKER_REPLAY_KEEP", "0")
	t.Setenv("PARKER_CONTROL_TOKEN", " s3cret ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.HTTPAddr != "127.0.0.1:9000" {
		t.Fatalf("unexpected address: %q", cfg.HTTPAddr)
	}
	if cfg.GRPCAddr != "" {
		t.Fatalf("expected gRPC disabled, got %q", cfg.GRPCAddr)
	}
	if cfg.TickHz != 60 || cfg.Lookahead != 12.5 {
		t.Fatalf("unexpected numeric overrides: hz=%v lookahead=%v", cfg.TickHz, cfg.Lookahead)
	}
	if cfg.Home != (Pose{X: 10, Y: 20, YawDeg: 90}) {
		t.Fatalf("unexpected home: %+v", cfg.Home)
	}
	if cfg.Slot != (Rect{X: 1, Y: 2, W: 3, H: 4}) {
		t.Fatalf("unexpected slot: %+v", cfg.Slot)
	}
	if cfg.ControlWindow != 2*time.Second {
		t.Fatalf("unexpected control window: %v", cfg.ControlWindow)
	}
	if cfg.Logging.Compress {
		t.Fatalf("expected compression disabled")
	}
	if cfg.ControlToken != "s3cret" {
		t.Fatalf("unexpected control token: %q", cfg.ControlToken)
	}
	if cfg.ReplayDir != "/tmp/runs" || cfg.ReplayKeep != 0 {
		t.Fatalf("unexpected replay settings: dir=%q keep=%d", cfg.ReplayDir, cfg.ReplayKeep)
	}
}

func TestLoadCollectsAllProblems(t *testing.T) {
	clearEnv(t)
	t.Setenv("PARKER_LOOKAHEAD", "0")
	t.Setenv("PARKER_SPEED", "fast")
	t.Setenv("PARKER_SLOT", "1,2,3")
	t.Setenv("PARKER_LOG_MAX_BACKUPS", "-1")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid overrides")
	}
	for _, key := range []string{"PARKER_LOOKAHEAD", "PARKER_SPEED", "PARKER_SLOT", "PARKER_LOG_MAX_BACKUPS"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("expected error to mention %s, got %v", key, err)
		}
	}
}
