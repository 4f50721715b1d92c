package simulation

import (
	"context"
	"sync"
	"time"
)

// StepFunc advances the simulation by one fixed tick.
type StepFunc func(tick uint64, step time.Duration)

// Loop drives a StepFunc at a fixed rate, running extra steps to catch up
// when the ticker falls behind.
type Loop struct {
	step     time.Duration
	stepFunc StepFunc
	monitor  *TickMonitor
	maxBurst int

	mu     sync.Mutex
	tick   uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// NewLoop configures a loop targeting targetHz steps per second. The monitor
// may be nil.
func NewLoop(targetHz float64, step StepFunc, monitor *TickMonitor) *Loop {
	if step == nil {
		step = func(uint64, time.Duration) {}
	}
	return &Loop{step: StepFor(targetHz), stepFunc: step, monitor: monitor, maxBurst: 5}
}

// StepFor returns the fixed step for a tick rate, falling back to 30 Hz.
func StepFor(targetHz float64) time.Duration {
	if !(targetHz > 0) {
		return time.Second / 30
	}
	interval := time.Duration(float64(time.Second) / targetHz)
	if interval <= 0 {
		return time.Second / 30
	}
	return interval
}

// Start begins ticking until ctx is cancelled or Stop is called. Starting a
// running loop is a no-op.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done != nil {
		return
	}
	ctx, l.cancel = context.WithCancel(ctx)
	l.done = make(chan struct{})
	go l.run(ctx, l.done)
}

func (l *Loop) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.step)
	defer ticker.Stop()
	last := time.Now()
	var accumulator time.Duration
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			accumulator += now.Sub(last)
			last = now
			// Long stalls drop the backlog instead of fast-forwarding the car.
			if limit := time.Duration(l.maxBurst) * l.step; accumulator > limit {
				accumulator = limit
			}
			for accumulator >= l.step {
				started := time.Now()
				l.mu.Lock()
				l.tick++
				tick := l.tick
				l.mu.Unlock()
				l.stepFunc(tick, l.step)
				l.monitor.Observe(time.Since(started))
				accumulator -= l.step
			}
		}
	}
}

// Stop cancels the loop and waits for the goroutine to exit.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Ticks returns how many steps have run.
func (l *Loop) Ticks() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tick
}

// StepDuration exposes the configured timestep.
func (l *Loop) StepDuration() time.Duration {
	if l == nil {
		return 0
	}
	return l.step
}
