package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultHTTPAddr is where the control API and viewer stream listen.
	DefaultHTTPAddr = ":8080"
	// DefaultGRPCAddr is where the gRPC health service listens. Empty disables it.
	DefaultGRPCAddr = ":8081"
	// DefaultTickHz matches the frame rate of the parking demo.
	DefaultTickHz = 30.0

	// DefaultLookahead is the pure-pursuit lookahead distance in pixels.
	DefaultLookahead = 30.0
	// DefaultWheelbase is the vehicle wheelbase in pixels.
	DefaultWheelbase = 25.0
	// DefaultSpeed is the distance travelled per tick in pixels.
	DefaultSpeed = 2.5
	// DefaultStopThreshold is the distance to the slot centre that ends a run.
	DefaultStopThreshold = 5.0
	// DefaultMaxCurvature bounds the curvature requested from the path generator.
	DefaultMaxCurvature = 0.1

	// DefaultPixelsPerMetre converts planner metres into screen pixels.
	DefaultPixelsPerMetre = 50.0
	// DefaultScreenHeight is used to flip the planner's y axis.
	DefaultScreenHeight = 600.0

	// DefaultControlWindow bounds how often control requests may be issued.
	DefaultControlWindow = time.Second
	// DefaultControlBurst sets how many control requests fit in one window.
	DefaultControlBurst = 10
	// DefaultReplayKeep is how many run recordings survive pruning. Zero keeps all.
	DefaultReplayKeep = 20

	// DefaultLogLevel controls verbosity for service logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "parker.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 50
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 5
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true
)

// Default geometry of the parking demo, in pixels.
var (
	DefaultHome = Pose{X: 100, Y: 300, YawDeg: 0}
	DefaultSlot = Rect{X: 650, Y: 150, W: 40, H: 90}
)

// Pose is a pixel-space position and heading.
type Pose struct {
	X, Y   float64
	YawDeg float64
}

// Rect is an axis-aligned pixel rectangle anchored at its top-left corner.
type Rect struct {
	X, Y, W, H float64
}

// Config captures all runtime tunables for the parking service.
type Config struct {
	HTTPAddr       string
	GRPCAddr       string
	TickHz         float64
	Lookahead      float64
	Wheelbase      float64
	Speed          float64
	StopThreshold  float64
	MaxCurvature   float64
	PixelsPerMetre float64
	ScreenHeight   float64
	Home           Pose
	Slot           Rect
	ReplayDir      string
	ReplayKeep     int
	ControlWindow  time.Duration
	ControlBurst   int
	ControlToken   string
	Logging        LoggingConfig
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	Compress   bool
}

// Load reads the configuration from PARKER_* environment variables, applying
// defaults and reporting every invalid override in a single error.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPAddr:       getString("PARKER_HTTP_ADDR", DefaultHTTPAddr),
		GRPCAddr:       strings.TrimSpace(getStringAllowEmpty("PARKER_GRPC_ADDR", DefaultGRPCAddr)),
		TickHz:         DefaultTickHz,
		Lookahead:      DefaultLookahead,
		Wheelbase:      DefaultWheelbase,
		Speed:          DefaultSpeed,
		StopThreshold:  DefaultStopThreshold,
		MaxCurvature:   DefaultMaxCurvature,
		PixelsPerMetre: DefaultPixelsPerMetre,
		ScreenHeight:   DefaultScreenHeight,
		Home:           DefaultHome,
		Slot:           DefaultSlot,
		ReplayDir:      strings.TrimSpace(os.Getenv("PARKER_REPLAY_DIR")),
		ReplayKeep:     DefaultReplayKeep,
		ControlWindow:  DefaultControlWindow,
		ControlBurst:   DefaultControlBurst,
		ControlToken:   strings.TrimSpace(os.Getenv("PARKER_CONTROL_TOKEN")),
		Logging: LoggingConfig{
			Level:      getString("PARKER_LOG_LEVEL", DefaultLogLevel),
			Path:       getString("PARKER_LOG_PATH", DefaultLogPath),
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			Compress:   DefaultLogCompress,
		},
	}

	p := &parser{}
	p.positiveFloat("PARKER_TICK_HZ", &cfg.TickHz)
	p.positiveFloat("PARKER_LOOKAHEAD", &cfg.Lookahead)
	p.positiveFloat("PARKER_WHEELBASE", &cfg.Wheelbase)
	p.positiveFloat("PARKER_SPEED", &cfg.Speed)
	p.positiveFloat("PARKER_STOP_THRESHOLD", &cfg.StopThreshold)
	p.positiveFloat("PARKER_MAX_CURVATURE", &cfg.MaxCurvature)
	p.positiveFloat("PARKER_PIXELS_PER_METRE", &cfg.PixelsPerMetre)
	p.positiveFloat("PARKER_SCREEN_HEIGHT", &cfg.ScreenHeight)
	p.floats("PARKER_HOME", &cfg.Home.X, &cfg.Home.Y, &cfg.Home.YawDeg)
	p.floats("PARKER_SLOT", &cfg.Slot.X, &cfg.Slot.Y, &cfg.Slot.W, &cfg.Slot.H)
	p.nonNegativeInt("PARKER_REPLAY_KEEP", &cfg.ReplayKeep)
	p.positiveDuration("PARKER_CONTROL_WINDOW", &cfg.ControlWindow)
	p.positiveInt("PARKER_CONTROL_BURST", &cfg.ControlBurst)
	p.positiveInt("PARKER_LOG_MAX_SIZE_MB", &cfg.Logging.MaxSizeMB)
	p.nonNegativeInt("PARKER_LOG_MAX_BACKUPS", &cfg.Logging.MaxBackups)
	p.boolean("PARKER_LOG_COMPRESS", &cfg.Logging.Compress)

	if cfg.Slot.W <= 0 || cfg.Slot.H <= 0 {
		p.problems = append(p.problems, "PARKER_SLOT width and height must be positive")
	}

	if len(p.problems) > 0 {
		return nil, fmt.Errorf("%s", strings.Join(p.problems, "; "))
	}
	return cfg, nil
}

// parser applies optional overrides and collects every problem it sees.
type parser struct {
	problems []string
}

func (p *parser) fail(key, want, raw string) {
	p.problems = append(p.problems, fmt.Sprintf("%s must be %s, got %q", key, want, raw))
}

func (p *parser) positiveFloat(key string, dst *float64) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || !(value > 0) || value > 1e12 {
		p.fail(key, "a positive number", raw)
		return
	}
	*dst = value
}

// floats parses a comma separated list into exactly len(dsts) numbers.
func (p *parser) floats(key string, dsts ...*float64) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	parts := strings.Split(raw, ",")
	if len(parts) != len(dsts) {
		p.fail(key, fmt.Sprintf("%d comma separated numbers", len(dsts)), raw)
		return
	}
	values := make([]float64, len(parts))
	for i, part := range parts {
		value, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			p.fail(key, fmt.Sprintf("%d comma separated numbers", len(dsts)), raw)
			return
		}
		values[i] = value
	}
	for i, dst := range dsts {
		*dst = values[i]
	}
}

func (p *parser) positiveInt(key string, dst *int) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		p.fail(key, "a positive integer", raw)
		return
	}
	*dst = value
}

func (p *parser) nonNegativeInt(key string, dst *int) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		p.fail(key, "a non-negative integer", raw)
		return
	}
	*dst = value
}

func (p *parser) positiveDuration(key string, dst *time.Duration) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	value, err := time.ParseDuration(raw)
	if err != nil || value <= 0 {
		p.fail(key, "a positive duration", raw)
		return
	}
	*dst = value
}

func (p *parser) boolean(key string, dst *bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		p.fail(key, "a boolean value", raw)
		return
	}
	*dst = value
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

// getStringAllowEmpty distinguishes an unset variable from one set to "".
func getStringAllowEmpty(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
