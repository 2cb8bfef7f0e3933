package tickx

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/comalice/tickx/internal/log"
	"github.com/comalice/tickx/internal/metrics"
)

// Request is one submission to an Arbiter. It only lives for the tick it was
// submitted in.
type Request[T any] struct {
	Value       T
	Priority    int32
	Requester   ModuleID
	SubmittedAt Tick
	// Seq orders submissions to one arbiter; lower is earlier.
	Seq uint64
}

// Resolution records the outcome of one arbiter resolution.
type Resolution struct {
	Arbiter    string   `json:"arbiter" yaml:"arbiter"`
	Tick       Tick     `json:"tick" yaml:"tick"`
	Winner     ModuleID `json:"winner,omitempty" yaml:"winner,omitempty"`
	Priority   int32    `json:"priority" yaml:"priority"`
	Baseline   bool     `json:"baseline" yaml:"baseline"`
	Candidates int      `json:"candidates" yaml:"candidates"`
	Value      any      `json:"value" yaml:"value"`
}

// ArbiterInfo describes an arbiter in snapshots.
type ArbiterInfo struct {
	Name           string   `json:"name" yaml:"name"`
	Current        string   `json:"current" yaml:"current"`
	Baseline       string   `json:"baseline" yaml:"baseline"`
	PreviousWinner ModuleID `json:"previousWinner,omitempty" yaml:"previousWinner,omitempty"`
	Pending        int      `json:"pending" yaml:"pending"`
}

// resolver is the type-erased view the Engine keeps of every Arbiter.
type resolver interface {
	resolve(t Tick) Resolution
	revoke(owner ModuleID)
	info() ArbiterInfo
}

// ArbiterOption configures an Arbiter.
type ArbiterOption[T any] func(*Arbiter[T])

// WithApply calls fn every time a resolution applies a value. req is nil when
// the baseline was applied.
func WithApply[T any](fn func(value T, req *Request[T])) ArbiterOption[T] {
	return func(a *Arbiter[T]) { a.onApply = fn }
}

// WithValidator rejects submissions for which fn returns false.
func WithValidator[T any](fn func(T) bool) ArbiterOption[T] {
	return func(a *Arbiter[T]) { a.valid = fn }
}

// WithStarvationThreshold logs and counts a requester once it has lost n
// consecutive resolutions it submitted to.
func WithStarvationThreshold[T any](n int) ArbiterOption[T] {
	return func(a *Arbiter[T]) { a.starveAfter = n }
}

// Arbiter resolves competing per-tick requests for one shared resource.
// apply is the only writer of the value returned by Current.
type Arbiter[T any] struct {
	eng      *Engine
	name     string
	baseline T
	current  T

	pending  map[ModuleID]Request[T]
	seq      uint64
	previous ModuleID
	last     Resolution

	losses      map[ModuleID]int
	starveAfter int

	onApply func(T, *Request[T])
	valid   func(T) bool
	logger  zerolog.Logger
}

// NewArbiter creates an arbiter resolved by eng at the end of every tick,
// after every arbiter created before it.
func NewArbiter[T any](eng *Engine, name string, baseline T, opts ...ArbiterOption[T]) *Arbiter[T] {
	a := &Arbiter[T]{
		eng:      eng,
		name:     name,
		baseline: baseline,
		current:  baseline,
		pending:  make(map[ModuleID]Request[T]),
		losses:   make(map[ModuleID]int),
		logger:   eng.logger.With().Str(log.FieldArbiter, name).Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	eng.arbiters = append(eng.arbiters, a)
	return a
}

// Name returns the arbiter's name.
func (a *Arbiter[T]) Name() string { return a.name }

// Submit offers value for this tick. Only the requester's highest-priority
// submission counts: a later submission replaces an earlier one only with a
// strictly higher priority. Submissions from disabled modules, during render
// or during resolution are rejected. A requester not seen before is enabled on
// first use. Submit reports whether the submission entered the window.
func (a *Arbiter[T]) Submit(value T, priority int32, requester ModuleID) bool {
	if reason := a.eng.admit(requester); reason != "" {
		metrics.IncRejected(a.name, reason)
		return false
	}
	if a.valid != nil && !a.valid(value) {
		metrics.IncRejected(a.name, "invalid")
		return false
	}
	if prev, ok := a.pending[requester]; ok && priority <= prev.Priority {
		metrics.IncRejected(a.name, "superseded")
		return false
	}

	a.seq++
	a.pending[requester] = Request[T]{
		Value:       value,
		Priority:    priority,
		Requester:   requester,
		SubmittedAt: a.eng.window(),
		Seq:         a.seq,
	}
	return true
}

// Current returns the last applied value.
func (a *Arbiter[T]) Current() T { return a.current }

// Baseline returns the value applied when nobody submits.
func (a *Arbiter[T]) Baseline() T { return a.baseline }

// SetBaseline replaces the baseline. It is applied at the next resolution
// without a winner; Current is unchanged until then.
func (a *Arbiter[T]) SetBaseline(v T) { a.baseline = v }

// PreviousWinner returns the requester that won the last resolution, or ""
// if the baseline was applied.
func (a *Arbiter[T]) PreviousWinner() ModuleID { return a.previous }

// Last returns the record of the last resolution.
func (a *Arbiter[T]) Last() Resolution { return a.last }

// Pending returns the number of requesters in the current window.
func (a *Arbiter[T]) Pending() int { return len(a.pending) }

// Losses returns how many consecutive resolutions requester submitted to and lost.
func (a *Arbiter[T]) Losses(requester ModuleID) int { return a.losses[requester] }

func (a *Arbiter[T]) resolve(t Tick) Resolution {
	var best *Request[T]
	for _, r := range a.pending {
		if best == nil || r.Priority > best.Priority || (r.Priority == best.Priority && r.Seq < best.Seq) {
			r := r
			best = &r
		}
	}

	a.track(best)

	res := Resolution{
		Arbiter:    a.name,
		Tick:       t,
		Candidates: len(a.pending),
	}
	if best != nil {
		res.Winner = best.Requester
		res.Priority = best.Priority
		a.apply(best.Value, best)
		metrics.IncResolution(a.name, "winner")
	} else {
		res.Baseline = true
		a.apply(a.baseline, nil)
		metrics.IncResolution(a.name, "baseline")
	}
	res.Value = a.current

	clear(a.pending)
	a.previous = res.Winner
	a.last = res
	return res
}

// apply is the only code path that mutates the visible value.
func (a *Arbiter[T]) apply(v T, req *Request[T]) {
	a.current = v
	if a.onApply == nil {
		return
	}
	if err := protect(func() error { a.onApply(v, req); return nil }); err != nil {
		a.logger.Error().Err(err).Msg("apply hook failed")
	}
}

// track maintains consecutive loss counts for starvation diagnostics.
func (a *Arbiter[T]) track(best *Request[T]) {
	for id := range a.losses {
		if _, ok := a.pending[id]; !ok {
			delete(a.losses, id)
		}
	}
	for id := range a.pending {
		if best != nil && id == best.Requester {
			delete(a.losses, id)
			continue
		}
		a.losses[id]++
		if a.starveAfter > 0 && a.losses[id] == a.starveAfter {
			metrics.IncStarvation(a.name, string(id))
			a.logger.Warn().
				Str(log.FieldModule, string(id)).
				Int(log.FieldLosses, a.losses[id]).
				Str(log.FieldWinner, string(best.Requester)).
				Msg("requester starved")
		}
	}
}

func (a *Arbiter[T]) revoke(owner ModuleID) {
	delete(a.pending, owner)
	delete(a.losses, owner)
}

func (a *Arbiter[T]) info() ArbiterInfo {
	return ArbiterInfo{
		Name:           a.name,
		Current:        fmt.Sprintf("%v", a.current),
		Baseline:       fmt.Sprintf("%v", a.baseline),
		PreviousWinner: a.previous,
		Pending:        len(a.pending),
	}
}
