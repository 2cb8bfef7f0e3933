package tickx

import (
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/comalice/tickx/internal/log"
	"github.com/comalice/tickx/internal/metrics"
)

// Handler is a listener callback. A returned error or a panic is a listener
// failure; it never stops the dispatch.
type Handler func(ev Event) error

// ListenerHandle is the opaque identity of a registered listener.
type ListenerHandle uint64

// FailurePolicy controls what happens to listeners that keep failing.
type FailurePolicy struct {
	// MaxConsecutive evicts a listener after this many failing dispatches in a
	// row. Zero keeps failing listeners registered forever.
	MaxConsecutive int
	// LogFirst and LogInterval rate limit failure logs per listener.
	LogFirst    int
	LogInterval time.Duration
}

// DefaultFailurePolicy evicts after 5 consecutive failures.
func DefaultFailurePolicy() FailurePolicy {
	return FailurePolicy{
		MaxConsecutive: 5,
		LogFirst:       5,
		LogInterval:    10 * time.Second,
	}
}

// ListenerInfo describes one registered listener.
type ListenerInfo struct {
	Handle   ListenerHandle `json:"handle" yaml:"handle"`
	Owner    ModuleID       `json:"owner" yaml:"owner"`
	Kind     Kind           `json:"kind" yaml:"kind"`
	Priority int32          `json:"priority" yaml:"priority"`
	Failures int            `json:"failures" yaml:"failures"`
}

type listener struct {
	handle   ListenerHandle
	owner    ModuleID
	kind     Kind
	priority int32
	handler  Handler
	enabled  bool
	failures int
	logGate  *rate.Sometimes
}

type kindEntry struct {
	opts       KindOptions
	listeners  []*listener // sorted by (priority desc, handle asc); replaced, never mutated
	dispatches Tick
}

// Bus dispatches events to listeners keyed by kind.
// It is driven from a single goroutine and holds no locks.
type Bus struct {
	kinds      map[Kind]*kindEntry
	byHandle   map[ListenerHandle]*listener
	nextHandle ListenerHandle
	policy     FailurePolicy
	logger     zerolog.Logger
}

// NewBus creates a bus with no declared kinds.
func NewBus(policy FailurePolicy, logger zerolog.Logger) *Bus {
	if policy.LogFirst <= 0 {
		policy.LogFirst = 1
	}
	if policy.LogInterval <= 0 {
		policy.LogInterval = 10 * time.Second
	}
	return &Bus{
		kinds:    make(map[Kind]*kindEntry),
		byHandle: make(map[ListenerHandle]*listener),
		policy:   policy,
		logger:   logger,
	}
}

// Declare makes kind known to the bus. Declaring an existing kind updates its options.
func (b *Bus) Declare(kind Kind, opts KindOptions) {
	if k, ok := b.kinds[kind]; ok {
		k.opts = opts
		return
	}
	b.kinds[kind] = &kindEntry{opts: opts}
}

// Declared reports whether kind has been declared.
func (b *Bus) Declared(kind Kind) bool {
	_, ok := b.kinds[kind]
	return ok
}

// Register adds a listener at its priority-sorted position. Equal priorities
// keep registration order.
func (b *Bus) Register(kind Kind, owner ModuleID, priority int32, h Handler) (ListenerHandle, error) {
	k, ok := b.kinds[kind]
	if !ok {
		return 0, fmt.Errorf("register %q: %w", kind, ErrUnknownKind)
	}
	if h == nil {
		return 0, fmt.Errorf("register %q: %w", kind, ErrNilHandler)
	}

	b.nextHandle++
	l := &listener{
		handle:   b.nextHandle,
		owner:    owner,
		kind:     kind,
		priority: priority,
		handler:  h,
		enabled:  true,
		logGate:  &rate.Sometimes{First: b.policy.LogFirst, Interval: b.policy.LogInterval},
	}

	// First index whose priority is strictly lower.
	i := sort.Search(len(k.listeners), func(i int) bool {
		return k.listeners[i].priority < priority
	})
	next := make([]*listener, 0, len(k.listeners)+1)
	next = append(next, k.listeners[:i]...)
	next = append(next, l)
	next = append(next, k.listeners[i:]...)
	k.listeners = next

	b.byHandle[l.handle] = l
	return l.handle, nil
}

// On registers a typed listener. Events that are not of type E count as a
// failure of that listener.
func On[E Event](b *Bus, kind Kind, owner ModuleID, priority int32, fn func(E) error) (ListenerHandle, error) {
	if fn == nil {
		return 0, fmt.Errorf("register %q: %w", kind, ErrNilHandler)
	}
	return b.Register(kind, owner, priority, func(ev Event) error {
		e, ok := ev.(E)
		if !ok {
			return fmt.Errorf("%w: want %v, got %T", ErrEventTypeMismatch, reflect.TypeFor[E](), ev)
		}
		return fn(e)
	})
}

// Unregister removes a listener. Unknown or already removed handles are ignored.
func (b *Bus) Unregister(h ListenerHandle) {
	l, ok := b.byHandle[h]
	if !ok {
		return
	}
	b.remove(l)
}

// UnregisterAll removes every listener of owner and returns how many were removed.
func (b *Bus) UnregisterAll(owner ModuleID) int {
	var doomed []*listener
	for _, l := range b.byHandle {
		if l.owner == owner {
			doomed = append(doomed, l)
		}
	}
	for _, l := range doomed {
		b.remove(l)
	}
	return len(doomed)
}

func (b *Bus) remove(l *listener) {
	l.enabled = false
	delete(b.byHandle, l.handle)

	k := b.kinds[l.kind]
	next := make([]*listener, 0, len(k.listeners))
	for _, other := range k.listeners {
		if other != l {
			next = append(next, other)
		}
	}
	k.listeners = next
}

// Dispatch invokes every listener of the event's kind in priority order.
// Listeners added during the dispatch first see the next one; listeners
// removed before their turn are skipped. Cancellation never stops propagation.
func (b *Bus) Dispatch(ev Event) error {
	if ev == nil {
		return fmt.Errorf("dispatch nil event: %w", ErrUnknownKind)
	}
	k, ok := b.kinds[ev.Kind()]
	if !ok {
		return fmt.Errorf("dispatch %q: %w", ev.Kind(), ErrUnknownKind)
	}
	if k.opts.Cancellable {
		if _, ok := ev.(Canceler); !ok {
			return fmt.Errorf("dispatch %q (%T): %w", ev.Kind(), ev, ErrNotCancellable)
		}
	}

	k.dispatches++
	for _, l := range k.listeners {
		if !l.enabled {
			continue
		}
		b.invoke(l, ev, k.dispatches)
	}
	return nil
}

func (b *Bus) invoke(l *listener, ev Event, n Tick) {
	err := protect(func() error { return l.handler(ev) })
	if err == nil {
		l.failures = 0
		return
	}

	l.failures++
	metrics.IncListenerFailure(string(l.kind), string(l.owner))

	if b.policy.MaxConsecutive > 0 && l.failures >= b.policy.MaxConsecutive {
		b.remove(l)
		metrics.IncListenerEviction(string(l.kind), string(l.owner))
		b.logger.Warn().
			Err(err).
			Str(log.FieldModule, string(l.owner)).
			Str(log.FieldKind, string(l.kind)).
			Uint64(log.FieldListener, uint64(l.handle)).
			Int(log.FieldFailures, l.failures).
			Msg("listener unregistered after repeated failures")
		return
	}

	l.logGate.Do(func() {
		b.logger.Error().
			Err(err).
			Str(log.FieldModule, string(l.owner)).
			Str(log.FieldKind, string(l.kind)).
			Uint64(log.FieldListener, uint64(l.handle)).
			Uint64(log.FieldTick, uint64(n)).
			Int(log.FieldFailures, l.failures).
			Msg("listener failed")
	})
}

// Len returns the number of listeners registered for kind.
func (b *Bus) Len(kind Kind) int {
	if k, ok := b.kinds[kind]; ok {
		return len(k.listeners)
	}
	return 0
}

// DispatchCount returns how many dispatches of kind have started.
func (b *Bus) DispatchCount(kind Kind) Tick {
	if k, ok := b.kinds[kind]; ok {
		return k.dispatches
	}
	return 0
}

// Listeners returns the listeners of kind in dispatch order.
func (b *Bus) Listeners(kind Kind) []ListenerInfo {
	k, ok := b.kinds[kind]
	if !ok {
		return nil
	}
	out := make([]ListenerInfo, 0, len(k.listeners))
	for _, l := range k.listeners {
		out = append(out, ListenerInfo{
			Handle:   l.handle,
			Owner:    l.owner,
			Kind:     l.kind,
			Priority: l.priority,
			Failures: l.failures,
		})
	}
	return out
}

// Owned returns the number of listeners registered by owner across all kinds.
func (b *Bus) Owned(owner ModuleID) int {
	n := 0
	for _, l := range b.byHandle {
		if l.owner == owner {
			n++
		}
	}
	return n
}
