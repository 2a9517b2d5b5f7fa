package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cory-johannsen/rotator/internal/game/input"
	"github.com/cory-johannsen/rotator/internal/game/notify"
	"github.com/cory-johannsen/rotator/internal/game/perception"
	"github.com/cory-johannsen/rotator/internal/game/scheduler"
)

// DefaultTickInterval is roughly one tick per captured frame at 30 FPS.
const DefaultTickInterval = 33 * time.Millisecond

// Loop is a long-running task stopped by cancelling ctx.
type Loop func(ctx context.Context) error

// Engine drives a Scheduler at a fixed interval. Each tick reads the latest
// snapshot without waiting for perception and forwards the resulting burst to
// the input sink.
//
// Invariant: Tick is only ever called from the goroutine running Run.
type Engine struct {
	sched    *scheduler.Scheduler
	store    *perception.Store
	sink     input.Sink
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu     sync.Mutex
	counts map[notify.Kind]int
	ticks  uint64
}

// New creates an Engine.
//
// Precondition: sched, store, sink and logger must be non-nil; interval must be > 0.
func New(sched *scheduler.Scheduler, store *perception.Store, sink input.Sink, interval time.Duration, logger *zap.Logger) *Engine {
	if sched == nil || store == nil || sink == nil || logger == nil {
		panic("engine.New: sched, store, sink and logger must be non-nil")
	}
	if interval <= 0 {
		panic("engine.New: interval must be > 0")
	}
	return &Engine{
		sched:    sched,
		store:    store,
		sink:     sink,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		counts:   make(map[notify.Kind]int),
	}
}

// Scheduler exposes the driven scheduler for control commands.
func (e *Engine) Scheduler() *scheduler.Scheduler { return e.sched }

// Step runs one tick at now.
//
// Postcondition: a sink failure is logged and never returned; the loop keeps
// ticking.
func (e *Engine) Step(ctx context.Context, now time.Time) {
	snap := e.store.Latest()
	burst := e.sched.Tick(now, snap)
	e.mu.Lock()
	e.ticks++
	e.mu.Unlock()
	if len(burst) == 0 {
		return
	}
	if err := e.sink.Send(ctx, burst); err != nil {
		e.logger.Warn("input sink failed", zap.Int("commands", len(burst)), zap.Error(err))
	}
}

// Run ticks until ctx is cancelled.
//
// Postcondition: Returns nil on cancellation.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	e.logger.Info("tick loop started", zap.Duration("interval", e.interval))
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("tick loop stopped", zap.Uint64("ticks", e.Ticks()))
			return nil
		case <-ticker.C:
			e.Step(ctx, e.now())
		}
	}
}

// Ticks returns how many ticks have run.
func (e *Engine) Ticks() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ticks
}

// Listen subscribes to hub with a channel of capacity buffer. Events are
// counted per kind until ctx is cancelled.
//
// Precondition: buffer > 0.
func (e *Engine) Listen(hub *notify.Hub, buffer int) Loop {
	ch := make(chan notify.Event, buffer)
	hub.Subscribe(ch)
	return func(ctx context.Context) error {
		defer hub.Unsubscribe(ch)
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev := <-ch:
				e.mu.Lock()
				e.counts[ev.Kind]++
				e.mu.Unlock()
			}
		}
	}
}

// EventCounts returns how many events of each kind Listen has seen.
func (e *Engine) EventCounts() map[notify.Kind]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[notify.Kind]int, len(e.counts))
	for k, v := range e.counts {
		out[k] = v
	}
	return out
}

// Serve runs the tick loop and every extra loop concurrently. The first loop
// to fail cancels the others.
//
// Postcondition: Returns the first loop error, or nil once ctx is cancelled
// and every loop has returned.
func (e *Engine) Serve(ctx context.Context, loops ...Loop) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.Run(ctx) })
	for i, loop := range loops {
		g.Go(func() error {
			if err := loop(ctx); err != nil {
				return fmt.Errorf("loop %d: %w", i, err)
			}
			return nil
		})
	}
	return g.Wait()
}
