// Command parker runs the parking simulation: a fixed-rate loop driving a
// pure-pursuit tracker, an HTTP control API with a live WebSocket stream and
// a gRPC health endpoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"autopark/parker/internal/config"
	"autopark/parker/internal/grpcapi"
	httpapi "autopark/parker/internal/http"
	"autopark/parker/internal/logging"
	"autopark/parker/internal/replay"
	"autopark/parker/internal/simulation"
	"autopark/parker/internal/stream"
	"autopark/parker/internal/tracking"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "parker:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.ContextWithLogger(ctx, logger)

	loopRate := simulation.StepFor(cfg.TickHz)
	opts := []simulation.Option{simulation.WithLogger(logger)}
	if cfg.ReplayDir != "" {
		opts = append(opts, simulation.WithRecorderFactory(recorderFactory(cfg, logger)))
	}
	session, err := simulation.NewSession(sessionSettings(cfg, loopRate), opts...)
	if err != nil {
		return fmt.Errorf("build session: %w", err)
	}

	hub := stream.NewHub(logger)
	monitor := simulation.NewTickMonitor(loopRate)
	loop := simulation.NewLoop(cfg.TickHz, func(tick uint64, _ time.Duration) {
		snap := session.Tick()
		if err := hub.Publish(snap); err != nil {
			logger.Warn("publishing snapshot failed", logging.Uint64("tick", tick), logging.Error(err))
		}
	}, monitor)

	var running atomic.Bool
	handlers := httpapi.NewHandlerSet(httpapi.Options{
		Logger:       logger,
		Controller:   session,
		Stream:       hub,
		TickStats:    monitor.Stats,
		RateLimiter:  httpapi.NewSlidingWindowLimiter(cfg.ControlWindow, cfg.ControlBurst, nil),
		ControlToken: cfg.ControlToken,
		Readiness: func() error {
			if !running.Load() {
				return errors.New("simulation loop is not running")
			}
			return nil
		},
	})
	mux := http.NewServeMux()
	handlers.Register(mux)
	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	var health *grpcapi.Server
	errs := make(chan error, 2)
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("listen grpc: %w", err)
		}
		health = grpcapi.NewServer(logger)
		go func() { errs <- health.Serve(lis) }()
	}
	go func() {
		logger.Info("HTTP server listening", logging.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("http serve: %w", err)
		}
	}()

	loop.Start(ctx)
	running.Store(true)
	if health != nil {
		health.SetServing(true)
	}
	logger.Info("simulation running",
		logging.Float64("tick_hz", cfg.TickHz),
		logging.Float64("lookahead", cfg.Lookahead),
		logging.Bool("recording", cfg.ReplayDir != ""),
	)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case runErr = <-errs:
		logger.Error("server failed", logging.Error(runErr))
	}

	//1.- Report unhealthy first so probes stop routing before the loop halts.
	running.Store(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if health != nil {
		health.SetServing(false)
	}
	loop.Stop()
	session.Reset()
	hub.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", logging.Error(err))
	}
	if health != nil {
		health.Shutdown(shutdownCtx)
	}
	logger.Info("shutdown complete", logging.Uint64("ticks", loop.Ticks()))
	return runErr
}

func sessionSettings(cfg *config.Config, step time.Duration) simulation.Settings {
	return simulation.Settings{
		Tracker: tracking.Config{
			LookaheadDistance: cfg.Lookahead,
			WheelbaseLength:   cfg.Wheelbase,
			CruiseSpeed:       cfg.Speed,
		},
		StopThreshold: cfg.StopThreshold,
		Home:          simulation.Pose{X: cfg.Home.X, Y: cfg.Home.Y, YawDeg: cfg.Home.YawDeg},
		Slot:          simulation.Rect{X: cfg.Slot.X, Y: cfg.Slot.Y, W: cfg.Slot.W, H: cfg.Slot.H},
		Frame:         simulation.Frame{PixelsPerMetre: cfg.PixelsPerMetre, ScreenHeight: cfg.ScreenHeight},
		MaxCurvature:  cfg.MaxCurvature,
		Step:          step,
	}
}

func recorderFactory(cfg *config.Config, logger *logging.Logger) simulation.RecorderFactory {
	return func(runID string) (simulation.Recorder, error) {
		writer, _, err := replay.NewWriter(cfg.ReplayDir, runID, nil)
		if err != nil {
			return nil, err
		}
		removed, err := replay.Prune(cfg.ReplayDir, cfg.ReplayKeep)
		if err != nil {
			logger.Warn("pruning run recordings failed", logging.Error(err))
		}
		if len(removed) > 0 {
			logger.Info("pruned run recordings", logging.Int("removed", len(removed)))
		}
		logger.Debug("recording run", logging.String(logging.RunIDField, runID), logging.String("dir", writer.Directory()))
		return writer, nil
	}
}
