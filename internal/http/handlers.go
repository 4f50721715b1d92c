package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/gonum/spatial/r2"

	"autopark/parker/internal/logging"
	"autopark/parker/internal/path"
	"autopark/parker/internal/simulation"
)

// maxPathBody bounds the size of an uploaded path.
const maxPathBody = 1 << 20

// Controller is the simulation surface driven by the control endpoints.
type Controller interface {
	LoadPath(points []r2.Vec, directions []path.Direction, units simulation.Units) error
	Start() (string, error)
	Reset()
	Snapshot() simulation.Snapshot
	PlanRequest() simulation.PlanRequest
}

// Stream is the live viewer endpoint and its counters.
type Stream interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
	Clients() int
	Published() uint64
	Dropped() uint64
}

// RateLimiter gates how frequently control operations may be invoked.
type RateLimiter interface {
	Allow() bool
}

// Options configures the HandlerSet. A non-empty ControlToken must
// accompany every control request.
type Options struct {
	Logger       *logging.Logger
	Controller   Controller
	Stream       Stream
	TickStats    func() simulation.TickStats
	Readiness    func() error
	ControlToken string
	RateLimiter  RateLimiter
	TimeSource   func() time.Time
	StartedAt    time.Time
}

// HandlerSet bundles the control, state and operational handlers.
type HandlerSet struct {
	logger       *logging.Logger
	controller   Controller
	stream       Stream
	tickStats    func() simulation.TickStats
	readiness    func() error
	controlToken string
	rateLimiter  RateLimiter
	now          func() time.Time
	startedAt    time.Time
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	started := opts.StartedAt
	if started.IsZero() {
		started = now()
	}
	return &HandlerSet{
		logger:       logger,
		controller:   opts.Controller,
		stream:       opts.Stream,
		tickStats:    opts.TickStats,
		readiness:    opts.Readiness,
		controlToken: strings.TrimSpace(opts.ControlToken),
		rateLimiter:  opts.RateLimiter,
		now:          now,
		startedAt:    started,
	}
}

// Register attaches all handlers to the provided mux.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/livez", h.LivenessHandler())
	mux.HandleFunc("/readyz", h.ReadinessHandler())
	mux.HandleFunc("/metrics", h.MetricsHandler())
	mux.HandleFunc("/state", h.StateHandler())
	mux.HandleFunc("/plan", h.PlanHandler())
	mux.HandleFunc("/path", h.PathHandler())
	mux.HandleFunc("/start", h.StartHandler())
	mux.HandleFunc("/reset", h.ResetHandler())
	if h.stream != nil {
		mux.HandleFunc("/ws", h.stream.ServeWS)
	}
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler reports whether the simulation loop is running.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status        string  `json:"status"`
		Message       string  `json:"message,omitempty"`
		UptimeSeconds float64 `json:"uptime_seconds"`
		Viewers       int     `json:"viewers"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		resp := response{Status: "ok", UptimeSeconds: h.uptime().Seconds()}
		if h.stream != nil {
			resp.Viewers = h.stream.Clients()
		}
		if h.controller == nil {
			status = http.StatusServiceUnavailable
			resp.Status = "error"
			resp.Message = "simulation not configured"
		} else if h.readiness != nil {
			if err := h.readiness(); err != nil {
				status = http.StatusServiceUnavailable
				resp.Status = "error"
				resp.Message = err.Error()
			}
		}
		writeJSON(w, status, resp)
	}
}

// StateHandler returns the current session snapshot.
func (h *HandlerSet) StateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.allowMethod(w, r, http.MethodGet) || !h.requireController(w) {
			return
		}
		writeJSON(w, http.StatusOK, h.controller.Snapshot())
	}
}

// PlanHandler returns the request an external path generator should solve.
func (h *HandlerSet) PlanHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.allowMethod(w, r, http.MethodGet) || !h.requireController(w) {
			return
		}
		writeJSON(w, http.StatusOK, h.controller.PlanRequest())
	}
}

type pathRequest struct {
	Units      string       `json:"units"`
	Points     [][2]float64 `json:"points"`
	Directions []int        `json:"directions"`
}

// PathHandler loads a generated path into the session.
func (h *HandlerSet) PathHandler() http.HandlerFunc {
	type response struct {
		Status      string `json:"status"`
		Waypoints   int    `json:"waypoints"`
		PathVersion int    `json:"path_version"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := h.requestLogger("load_path", r)
		if !h.controlPreflight(w, r, reqLogger) {
			return
		}
		var req pathRequest
		decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPathBody))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&req); err != nil {
			reqLogger.Warn("path rejected: malformed body", logging.Error(err))
			writeError(w, http.StatusBadRequest, fmt.Sprintf("malformed path body: %v", err))
			return
		}
		points := make([]r2.Vec, len(req.Points))
		for i, p := range req.Points {
			points[i] = r2.Vec{X: p[0], Y: p[1]}
		}
		directions := make([]path.Direction, len(req.Directions))
		for i, d := range req.Directions {
			if d != int(path.Forward) && d != int(path.Reverse) {
				reqLogger.Warn("path rejected: bad direction", logging.Int("index", i), logging.Int("direction", d))
				writeError(w, http.StatusBadRequest, fmt.Sprintf("%v at index %d: %d", path.ErrInvalidDirection, i, d))
				return
			}
			directions[i] = path.Direction(d)
		}
		if err := h.controller.LoadPath(points, directions, simulation.Units(req.Units)); err != nil {
			reqLogger.Warn("path rejected", logging.Error(err))
			writeError(w, statusFor(err), err.Error())
			return
		}
		snap := h.controller.Snapshot()
		reqLogger.Info("path accepted", logging.Int("waypoints", snap.Waypoints))
		writeJSON(w, http.StatusOK, response{Status: snap.Phase, Waypoints: snap.Waypoints, PathVersion: snap.PathVersion})
	}
}

// StartHandler begins a parking run along the loaded path.
func (h *HandlerSet) StartHandler() http.HandlerFunc {
	type response struct {
		Status string `json:"status"`
		RunID  string `json:"run_id"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := h.requestLogger("start", r)
		if !h.controlPreflight(w, r, reqLogger) {
			return
		}
		runID, err := h.controller.Start()
		if err != nil {
			reqLogger.Warn("start rejected", logging.Error(err))
			writeError(w, statusFor(err), err.Error())
			return
		}
		reqLogger.Info("parking run started", logging.String(logging.RunIDField, runID))
		writeJSON(w, http.StatusOK, response{Status: h.controller.Snapshot().Phase, RunID: runID})
	}
}

// ResetHandler clears the path and returns the vehicle home.
func (h *HandlerSet) ResetHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := h.requestLogger("reset", r)
		if !h.controlPreflight(w, r, reqLogger) {
			return
		}
		h.controller.Reset()
		reqLogger.Info("session reset")
		writeJSON(w, http.StatusOK, h.controller.Snapshot())
	}
}

// MetricsHandler emits Prometheus compatible text metrics.
func (h *HandlerSet) MetricsHandler() http.HandlerFunc {
	phases := []simulation.Phase{simulation.PhaseIdle, simulation.PhasePathReady, simulation.PhaseParking, simulation.PhaseParked}
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		fmt.Fprintf(w, "# HELP parker_uptime_seconds Service uptime in seconds.\n")
		fmt.Fprintf(w, "# TYPE parker_uptime_seconds gauge\n")
		fmt.Fprintf(w, "parker_uptime_seconds %.0f\n", h.uptime().Seconds())

		if h.controller != nil {
			snap := h.controller.Snapshot()
			fmt.Fprintf(w, "# HELP parker_ticks_total Simulation ticks executed.\n")
			fmt.Fprintf(w, "# TYPE parker_ticks_total counter\n")
			fmt.Fprintf(w, "parker_ticks_total %d\n", snap.Tick)

			fmt.Fprintf(w, "# HELP parker_phase Current session phase.\n")
			fmt.Fprintf(w, "# TYPE parker_phase gauge\n")
			for _, phase := range phases {
				value := 0
				if phase.String() == snap.Phase {
					value = 1
				}
				fmt.Fprintf(w, "parker_phase{phase=%q} %d\n", phase.String(), value)
			}

			fmt.Fprintf(w, "# HELP parker_path_waypoints Waypoints in the loaded path.\n")
			fmt.Fprintf(w, "# TYPE parker_path_waypoints gauge\n")
			fmt.Fprintf(w, "parker_path_waypoints %d\n", snap.Waypoints)
		}

		if h.tickStats != nil {
			stats := h.tickStats()
			fmt.Fprintf(w, "# HELP parker_tick_duration_seconds Tick processing time.\n")
			fmt.Fprintf(w, "# TYPE parker_tick_duration_seconds gauge\n")
			fmt.Fprintf(w, "parker_tick_duration_seconds{stat=\"average\"} %.6f\n", stats.Average.Seconds())
			fmt.Fprintf(w, "parker_tick_duration_seconds{stat=\"max\"} %.6f\n", stats.Max.Seconds())
			fmt.Fprintf(w, "parker_tick_duration_seconds{stat=\"last\"} %.6f\n", stats.Last.Seconds())
			fmt.Fprintf(w, "# HELP parker_tick_overruns_total Ticks that exceeded their time budget.\n")
			fmt.Fprintf(w, "# TYPE parker_tick_overruns_total counter\n")
			fmt.Fprintf(w, "parker_tick_overruns_total %d\n", stats.Overruns)
		}

		if h.stream != nil {
			fmt.Fprintf(w, "# HELP parker_viewers Connected WebSocket viewers.\n")
			fmt.Fprintf(w, "# TYPE parker_viewers gauge\n")
			fmt.Fprintf(w, "parker_viewers %d\n", h.stream.Clients())
			fmt.Fprintf(w, "# HELP parker_stream_published_total Snapshots broadcast to viewers.\n")
			fmt.Fprintf(w, "# TYPE parker_stream_published_total counter\n")
			fmt.Fprintf(w, "parker_stream_published_total %d\n", h.stream.Published())
			fmt.Fprintf(w, "# HELP parker_stream_dropped_total Viewers disconnected for falling behind.\n")
			fmt.Fprintf(w, "# TYPE parker_stream_dropped_total counter\n")
			fmt.Fprintf(w, "parker_stream_dropped_total %d\n", h.stream.Dropped())
		}
	}
}

func (h *HandlerSet) uptime() time.Duration {
	return h.now().Sub(h.startedAt)
}

func (h *HandlerSet) requestLogger(handler string, r *http.Request) *logging.Logger {
	return h.logger.With(
		logging.String("handler", handler),
		logging.String("remote_addr", r.RemoteAddr),
	)
}

// controlPreflight applies the checks shared by every state-changing request.
func (h *HandlerSet) controlPreflight(w http.ResponseWriter, r *http.Request, reqLogger *logging.Logger) bool {
	if !h.allowMethod(w, r, http.MethodPost) || !h.requireController(w) {
		return false
	}
	if h.controlToken != "" && !h.authorise(r) {
		reqLogger.Warn("control request denied: unauthorized request")
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return false
	}
	if h.rateLimiter != nil && !h.rateLimiter.Allow() {
		reqLogger.Warn("control request denied: rate limit exceeded")
		if hinted, ok := h.rateLimiter.(interface{ RetryAfter() time.Duration }); ok {
			if wait := hinted.RetryAfter(); wait > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			}
		}
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return false
	}
	return true
}

func (h *HandlerSet) allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

func (h *HandlerSet) requireController(w http.ResponseWriter) bool {
	if h.controller != nil {
		return true
	}
	writeError(w, http.StatusServiceUnavailable, "simulation is unavailable")
	return false
}

func (h *HandlerSet) authorise(r *http.Request) bool {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	var token string
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		token = strings.TrimSpace(header[7:])
	} else if header != "" {
		token = header
	}
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Control-Token"))
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.controlToken)) == 1
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, simulation.ErrNoPath):
		return http.StatusConflict
	case errors.Is(err, simulation.ErrUnknownUnits),
		errors.Is(err, path.ErrEmptyPath),
		errors.Is(err, path.ErrLengthMismatch),
		errors.Is(err, path.ErrInvalidDirection),
		errors.Is(err, path.ErrNonFinitePoint):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}
