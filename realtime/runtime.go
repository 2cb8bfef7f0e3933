package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/comalice/tickx"
	"github.com/comalice/tickx/internal/log"
)

var (
	// ErrQueueFull is returned by SendEvent when the batch for the next tick
	// is at capacity.
	ErrQueueFull = errors.New("event queue full")
	// ErrAlreadyStarted is returned by Start and Run on a running runtime.
	ErrAlreadyStarted = errors.New("runtime already started")
)

// Default rates.
const (
	DefaultTickRate         = 50 * time.Millisecond    // 20 ticks per second
	DefaultRenderRate       = 16667 * time.Microsecond // 60 frames per second
	DefaultMaxEventsPerTick = 1000
)

// Config configures the real-time runtime.
type Config struct {
	TickRate time.Duration // fixed tick interval
	// RenderRate is the render frame interval. Negative disables rendering.
	RenderRate       time.Duration
	MaxEventsPerTick int // event queue capacity
	Logger           *zerolog.Logger
}

// Runtime drives an Engine from tickers. All engine access goes through one
// mutex, so the engine itself stays single-threaded.
type Runtime struct {
	eng    *tickx.Engine
	cfg    Config
	logger zerolog.Logger

	mu       sync.Mutex // serializes engine access
	lastTick time.Time
	tickNum  atomic.Uint64

	eventBatch  []EventWithMeta
	batchMu     sync.Mutex
	sequenceNum uint64

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan error
}

// NewRuntime creates a tick-based host for eng.
func NewRuntime(eng *tickx.Engine, cfg Config) *Runtime {
	if cfg.MaxEventsPerTick <= 0 {
		cfg.MaxEventsPerTick = DefaultMaxEventsPerTick
	}
	if cfg.TickRate <= 0 {
		cfg.TickRate = DefaultTickRate
	}
	if cfg.RenderRate == 0 {
		cfg.RenderRate = DefaultRenderRate
	}
	logger := eng.Logger().With().Str(log.FieldComponent, "realtime").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Runtime{
		eng:        eng,
		cfg:        cfg,
		logger:     logger,
		eventBatch: make([]EventWithMeta, 0, cfg.MaxEventsPerTick),
	}
}

// Run drives ticks and render frames until ctx is cancelled. It returns nil
// on cancellation.
func (rt *Runtime) Run(ctx context.Context) error {
	if !rt.running.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	return rt.run(ctx)
}

func (rt *Runtime) run(ctx context.Context) error {
	defer rt.running.Store(false)

	rt.logger.Info().
		Dur("tick_rate", rt.cfg.TickRate).
		Dur("render_rate", rt.cfg.RenderRate).
		Msg("runtime started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rt.tickLoop(gctx) })
	if rt.cfg.RenderRate > 0 {
		g.Go(func() error { return rt.renderLoop(gctx) })
	}
	err := g.Wait()

	rt.logger.Info().Uint64(log.FieldTick, rt.tickNum.Load()).Msg("runtime stopped")
	return err
}

// Start runs the runtime in the background until Stop or ctx cancellation.
func (rt *Runtime) Start(ctx context.Context) error {
	if !rt.running.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)

	rt.mu.Lock()
	rt.cancel = cancel
	rt.done = done
	rt.mu.Unlock()

	go func() { done <- rt.run(ctx) }()
	return nil
}

// Stop gracefully stops a runtime started with Start and waits for its loops
// to exit. Stopping a runtime that was not started is a no-op.
func (rt *Runtime) Stop() error {
	rt.mu.Lock()
	cancel, done := rt.cancel, rt.done
	rt.cancel, rt.done = nil, nil
	rt.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	return <-done
}

func (rt *Runtime) tickLoop(ctx context.Context) error {
	ticker := time.NewTicker(rt.cfg.TickRate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			rt.Step()
		}
	}
}

func (rt *Runtime) renderLoop(ctx context.Context) error {
	ticker := time.NewTicker(rt.cfg.RenderRate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			rt.mu.Lock()
			rt.guard("render", func() { rt.processRender(now) })
			rt.mu.Unlock()
		}
	}
}

// Step processes one tick immediately and returns its number. The loops call
// it on every tick; tests and single-threaded hosts may call it directly.
func (rt *Runtime) Step() tickx.Tick {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	var t tickx.Tick
	rt.guard("tick", func() { t = rt.processTick() })
	return t
}

// SendEvent queues an event for the next tick. It is safe for concurrent use.
func (rt *Runtime) SendEvent(ev tickx.Event) error {
	return rt.SendEventWithPriority(ev, 0)
}

// SendEventWithPriority queues an event for the next tick. Higher priorities
// are dispatched first; equal priorities in submission order.
func (rt *Runtime) SendEventWithPriority(ev tickx.Event, priority int) error {
	if ev == nil {
		return fmt.Errorf("send: nil event")
	}
	if k := ev.Kind(); k == tickx.KindTick || k == tickx.KindRender {
		return fmt.Errorf("send %q: %w", k, tickx.ErrReservedKind)
	}

	rt.batchMu.Lock()
	defer rt.batchMu.Unlock()

	if len(rt.eventBatch) >= cap(rt.eventBatch) {
		return ErrQueueFull
	}
	rt.eventBatch = append(rt.eventBatch, EventWithMeta{
		Event:       ev,
		SequenceNum: rt.sequenceNum,
		Priority:    priority,
	})
	rt.sequenceNum++
	return nil
}

// Do runs fn with exclusive access to the engine, between ticks and frames.
func (rt *Runtime) Do(fn func(e *tickx.Engine)) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	fn(rt.eng)
}

// TickNumber returns the number of the last processed tick.
func (rt *Runtime) TickNumber() tickx.Tick {
	return tickx.Tick(rt.tickNum.Load())
}

// Pending returns the number of events queued for the next tick.
func (rt *Runtime) Pending() int {
	rt.batchMu.Lock()
	defer rt.batchMu.Unlock()
	return len(rt.eventBatch)
}
