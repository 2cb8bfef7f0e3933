package diag

import (
	"sync"

	"github.com/comalice/tickx"
	"github.com/comalice/tickx/internal/metrics"
)

// ChannelPublisher forwards arbiter resolutions to a channel. It implements
// tickx.Observer. Publishing never blocks the tick: when the channel is full
// the record is dropped and counted.
type ChannelPublisher struct {
	name string
	ch   chan tickx.Resolution

	mu      sync.Mutex
	closed  bool
	dropped uint64
}

// NewChannelPublisher creates a publisher with a buffer of size records.
func NewChannelPublisher(name string, size int) *ChannelPublisher {
	return &ChannelPublisher{name: name, ch: make(chan tickx.Resolution, size)}
}

// C returns the channel resolutions are delivered on. It is closed by Close.
func (p *ChannelPublisher) C() <-chan tickx.Resolution { return p.ch }

// Resolved publishes r without blocking.
func (p *ChannelPublisher) Resolved(r tickx.Resolution) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.ch <- r:
	default:
		p.dropped++
		metrics.IncPublisherDrop(p.name)
	}
}

// Dropped returns how many records were dropped on backpressure.
func (p *ChannelPublisher) Dropped() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Close closes the channel. Later resolutions are discarded.
func (p *ChannelPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.ch)
	}
	return nil
}

// Observers fans resolutions out to several observers in order.
type Observers []tickx.Observer

// Resolved calls every observer.
func (o Observers) Resolved(r tickx.Resolution) {
	for _, obs := range o {
		obs.Resolved(r)
	}
}
