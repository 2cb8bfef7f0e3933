package realtime

import (
	"context"
	"errors"
	"time"

	"github.com/comalice/tickx"
	"github.com/comalice/tickx/internal/log"
)

// EventSource yields host events from outside the tick thread.
type EventSource interface {
	Events() <-chan tickx.Event
}

// ChannelSource is an EventSource backed by a caller-owned channel.
type ChannelSource struct {
	ch <-chan tickx.Event
}

// NewChannelSource wraps ch. Closing ch ends any Pump reading from it.
func NewChannelSource(ch <-chan tickx.Event) *ChannelSource {
	return &ChannelSource{ch: ch}
}

func (s *ChannelSource) Events() <-chan tickx.Event { return s.ch }

// TimerSource emits an event from build every interval until stopped.
type TimerSource struct {
	ch     chan tickx.Event
	ticker *time.Ticker
	stop   chan struct{}
}

// NewTimerSource starts emitting immediately. Events are dropped while the
// consumer is behind.
func NewTimerSource(interval time.Duration, build func() tickx.Event) *TimerSource {
	t := &TimerSource{
		ch:     make(chan tickx.Event, 10),
		ticker: time.NewTicker(interval),
		stop:   make(chan struct{}),
	}
	go t.run(build)
	return t
}

func (t *TimerSource) run(build func() tickx.Event) {
	defer close(t.ch)
	defer t.ticker.Stop()
	for {
		select {
		case <-t.ticker.C:
			select {
			case t.ch <- build():
			default:
			}
		case <-t.stop:
			return
		}
	}
}

func (t *TimerSource) Events() <-chan tickx.Event { return t.ch }

// Stop ends the timer and closes its channel. It must be called once.
func (t *TimerSource) Stop() { close(t.stop) }

// Pump forwards events from src into the next tick batch until ctx is done
// or the source closes. Events that do not fit are dropped and logged.
func (rt *Runtime) Pump(ctx context.Context, src EventSource, priority int) error {
	events := src.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			err := rt.SendEventWithPriority(ev, priority)
			switch {
			case err == nil:
			case errors.Is(err, ErrQueueFull):
				rt.logger.Warn().Str(log.FieldKind, string(ev.Kind())).Msg("pumped event dropped: queue full")
			default:
				return err
			}
		}
	}
}
