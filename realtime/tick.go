package realtime

import (
	"fmt"
	"time"

	"github.com/comalice/tickx"
	"github.com/comalice/tickx/internal/log"
)

// processTick runs one complete tick. Callers hold rt.mu.
func (rt *Runtime) processTick() tickx.Tick {
	// Phase 1: take the batch queued since the last tick.
	events := rt.collectEvents()

	// Phase 2: deterministic order.
	sortEvents(events)

	// Phase 3: host events are seen by listeners before the tick itself.
	rt.processEvents(events)

	// Phase 4: tick listeners, sequences, arbiter resolution.
	t := rt.eng.OnTick()
	rt.lastTick = time.Now()
	rt.tickNum.Store(uint64(t))
	return t
}

// collectEvents atomically retrieves and clears the event batch.
func (rt *Runtime) collectEvents() []EventWithMeta {
	rt.batchMu.Lock()
	defer rt.batchMu.Unlock()

	events := rt.eventBatch
	rt.eventBatch = make([]EventWithMeta, 0, cap(rt.eventBatch))
	return events
}

func (rt *Runtime) processEvents(events []EventWithMeta) {
	for _, em := range events {
		if err := rt.eng.Dispatch(em.Event); err != nil {
			rt.logger.Error().
				Err(err).
				Str(log.FieldKind, string(em.Event.Kind())).
				Uint64("seq", em.SequenceNum).
				Msg("queued event dropped")
		}
	}
}

// processRender dispatches one render frame with the fraction of the tick
// interval elapsed since the last tick. Callers hold rt.mu.
func (rt *Runtime) processRender(now time.Time) {
	delta := 0.0
	if !rt.lastTick.IsZero() {
		delta = float64(now.Sub(rt.lastTick)) / float64(rt.cfg.TickRate)
		delta = min(max(delta, 0), 1)
	}
	rt.eng.OnRender(delta)
}

// guard runs fn, logging instead of propagating a panic.
func (rt *Runtime) guard(phase string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			rt.logger.Error().
				Str(log.FieldStage, phase).
				Err(fmt.Errorf("panic: %v", r)).
				Msg("runtime phase panicked")
		}
	}()
	fn()
}
