package tickx

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/comalice/tickx/internal/log"
	"github.com/comalice/tickx/internal/metrics"
)

// SequenceHandle is the opaque identity of a spawned sequence.
type SequenceHandle uint64

// SequenceState is the lifecycle state of a sequence.
type SequenceState int

const (
	StateCreated SequenceState = iota
	StateRunning
	StateSuspendedForTicks
	StateSuspendedUntil
	StateCompleted
	StateCancelled
)

var stateNames = [...]string{
	StateCreated:           "created",
	StateRunning:           "running",
	StateSuspendedForTicks: "suspended_ticks",
	StateSuspendedUntil:    "suspended_until",
	StateCompleted:         "completed",
	StateCancelled:         "cancelled",
}

func (s SequenceState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("SequenceState(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText renders the state name in snapshots.
func (s SequenceState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name written by MarshalText.
func (s *SequenceState) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = SequenceState(i)
			return nil
		}
	}
	return fmt.Errorf("unknown sequence state %q", text)
}

// Terminal reports whether the state is Completed or Cancelled.
func (s SequenceState) Terminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// DefaultSequencePriority places sequence drivers after every plain listener
// registered before them.
const DefaultSequencePriority int32 = math.MinInt32

// MaxStagesPerResume bounds how many stages Steps runs in one resume
// without the sequence suspending.
const MaxStagesPerResume = 1024

// SequenceFunc is one resumable step of a sequence. It is called once per
// resume. Calling a suspension primitive on f and returning nil suspends the
// sequence; returning nil without suspending completes it; an error or a
// panic cancels it.
type SequenceFunc func(f *Frame) error

// SpawnOption configures a spawned sequence.
type SpawnOption func(*spawnConfig)

type spawnConfig struct {
	priority int32
}

// SpawnPriority runs the sequence from a driver at priority p instead of
// DefaultSequencePriority.
func SpawnPriority(p int32) SpawnOption {
	return func(c *spawnConfig) { c.priority = p }
}

// SequenceInfo describes one sequence.
type SequenceInfo struct {
	Handle   SequenceHandle `json:"handle" yaml:"handle"`
	Owner    ModuleID       `json:"owner" yaml:"owner"`
	Kind     Kind           `json:"kind" yaml:"kind"`
	Priority int32          `json:"priority" yaml:"priority"`
	State    SequenceState  `json:"state" yaml:"state"`
	ResumeAt Tick           `json:"resumeAt,omitempty" yaml:"resumeAt,omitempty"`
	Stage    int            `json:"stage" yaml:"stage"`
	Err      string         `json:"error,omitempty" yaml:"error,omitempty"`
}

type sequence struct {
	handle   SequenceHandle
	owner    ModuleID
	kind     Kind
	priority int32
	body     SequenceFunc
	state    SequenceState

	// armedAfter is the dispatch the sequence was spawned or suspended in;
	// it may only run in later dispatches.
	armedAfter Tick
	resumeAt   Tick
	until      func() bool

	stage    int
	resuming bool
	err      error
}

type driverKey struct {
	kind     Kind
	priority int32
}

type driver struct {
	key    driverKey
	handle ListenerHandle
	queue  []*sequence // spawn order
}

// Scheduler runs sequences from driver listeners registered on the bus.
type Scheduler struct {
	bus     *Bus
	logger  zerolog.Logger
	drivers map[driverKey]*driver
	seqs    map[SequenceHandle]*sequence
	next    SequenceHandle
}

// NewScheduler creates a scheduler spawning its drivers on bus.
func NewScheduler(bus *Bus, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		bus:     bus,
		logger:  logger,
		drivers: make(map[driverKey]*driver),
		seqs:    make(map[SequenceHandle]*sequence),
	}
}

// Spawn registers a sequence against kind. It first runs on the first
// dispatch of kind that starts after the call.
func (s *Scheduler) Spawn(owner ModuleID, kind Kind, body SequenceFunc, opts ...SpawnOption) (SequenceHandle, error) {
	if !s.bus.Declared(kind) {
		return 0, fmt.Errorf("spawn on %q: %w", kind, ErrUnknownKind)
	}
	if body == nil {
		return 0, fmt.Errorf("spawn on %q: %w", kind, ErrNilHandler)
	}

	cfg := spawnConfig{priority: DefaultSequencePriority}
	for _, opt := range opts {
		opt(&cfg)
	}

	d, err := s.driver(driverKey{kind: kind, priority: cfg.priority})
	if err != nil {
		return 0, err
	}

	s.next++
	q := &sequence{
		handle:     s.next,
		owner:      owner,
		kind:       kind,
		priority:   cfg.priority,
		body:       body,
		state:      StateCreated,
		armedAfter: s.bus.DispatchCount(kind),
	}
	d.queue = append(d.queue, q)
	s.seqs[q.handle] = q

	s.logger.Debug().
		Str(log.FieldModule, string(owner)).
		Str(log.FieldKind, string(kind)).
		Uint64(log.FieldSequence, uint64(q.handle)).
		Msg("sequence spawned")
	return q.handle, nil
}

func (s *Scheduler) driver(key driverKey) (*driver, error) {
	if d, ok := s.drivers[key]; ok {
		return d, nil
	}
	d := &driver{key: key}
	h, err := s.bus.Register(key.kind, systemModule, key.priority, func(ev Event) error {
		s.step(d, ev)
		return nil
	})
	if err != nil {
		return nil, err
	}
	d.handle = h
	s.drivers[key] = d
	return d, nil
}

// step runs every runnable sequence of d once, in spawn order.
func (s *Scheduler) step(d *driver, ev Event) {
	now := s.bus.DispatchCount(d.key.kind)
	batch := d.queue
	for _, q := range batch {
		if q.state.Terminal() || q.resuming || now <= q.armedAfter {
			continue
		}
		switch q.state {
		case StateSuspendedForTicks:
			if now < q.resumeAt {
				continue
			}
		case StateSuspendedUntil:
			ready, err := s.poll(q)
			if err != nil {
				s.finish(q, StateCancelled, fmt.Errorf("predicate: %w", err))
				continue
			}
			if !ready {
				continue
			}
		}
		s.resume(q, ev, now)
	}

	live := d.queue[:0:0]
	for _, q := range d.queue {
		if !q.state.Terminal() {
			live = append(live, q)
		}
	}
	d.queue = live
}

func (s *Scheduler) poll(q *sequence) (bool, error) {
	var ready bool
	err := protect(func() error {
		ready = q.until()
		return nil
	})
	return ready, err
}

func (s *Scheduler) resume(q *sequence, ev Event, now Tick) {
	q.state = StateRunning
	q.until = nil
	q.resuming = true
	f := &Frame{seq: q, event: ev, now: now, active: true}
	err := protect(func() error { return q.body(f) })
	f.active = false
	q.resuming = false

	if q.state == StateCancelled {
		// Cancelled from inside its own resume.
		return
	}
	if err != nil {
		s.finish(q, StateCancelled, err)
		return
	}
	if !f.suspended {
		s.finish(q, StateCompleted, nil)
		return
	}

	old := q.state
	q.armedAfter = now
	if f.until != nil {
		q.state = StateSuspendedUntil
		q.until = f.until
	} else {
		q.state = StateSuspendedForTicks
		q.resumeAt = now + Tick(f.ticks)
	}
	if e := s.logger.Trace(); e.Enabled() {
		e.Uint64(log.FieldSequence, uint64(q.handle)).
			Str(log.FieldOldState, old.String()).
			Str(log.FieldNewState, q.state.String()).
			Uint64(log.FieldTick, uint64(now)).
			Msg("sequence suspended")
	}
}

func (s *Scheduler) finish(q *sequence, state SequenceState, err error) {
	old := q.state
	q.state = state
	q.err = err
	q.until = nil
	q.body = nil
	metrics.IncSequenceFinished(string(q.owner), state.String())

	if err != nil {
		ev := s.logger.Error().Err(err)
		var pe *PanicError
		if errors.As(err, &pe) {
			ev = ev.Bytes("stack", pe.Stack)
		}
		ev.Str(log.FieldModule, string(q.owner)).
			Str(log.FieldKind, string(q.kind)).
			Uint64(log.FieldSequence, uint64(q.handle)).
			Int(log.FieldStage, q.stage).
			Str(log.FieldOldState, old.String()).
			Msg("sequence failed")
		return
	}
	s.logger.Debug().
		Str(log.FieldModule, string(q.owner)).
		Uint64(log.FieldSequence, uint64(q.handle)).
		Str(log.FieldOldState, old.String()).
		Str(log.FieldNewState, state.String()).
		Msg("sequence finished")
}

// Cancel cancels one sequence. Terminal or unknown handles are ignored.
func (s *Scheduler) Cancel(h SequenceHandle) {
	q, ok := s.seqs[h]
	if !ok || q.state.Terminal() {
		return
	}
	s.finish(q, StateCancelled, nil)
}

// CancelAll cancels every live sequence of owner and returns how many were cancelled.
func (s *Scheduler) CancelAll(owner ModuleID) int {
	n := 0
	for _, q := range s.seqs {
		if q.owner == owner && !q.state.Terminal() {
			s.finish(q, StateCancelled, nil)
			n++
		}
	}
	return n
}

// State returns the state of h. Unknown handles, including handles dropped
// by Prune whatever their final state was, report Cancelled. Use Info to tell
// a pruned handle apart: it returns ErrUnknownSequence.
func (s *Scheduler) State(h SequenceHandle) SequenceState {
	if q, ok := s.seqs[h]; ok {
		return q.state
	}
	return StateCancelled
}

// Info describes h.
func (s *Scheduler) Info(h SequenceHandle) (SequenceInfo, error) {
	q, ok := s.seqs[h]
	if !ok {
		return SequenceInfo{}, fmt.Errorf("sequence %d: %w", h, ErrUnknownSequence)
	}
	return q.info(), nil
}

// Err returns the error that cancelled h, if any.
func (s *Scheduler) Err(h SequenceHandle) error {
	if q, ok := s.seqs[h]; ok {
		return q.err
	}
	return nil
}

// Sequences describes every sequence still in the arena, in spawn order.
func (s *Scheduler) Sequences() []SequenceInfo {
	out := make([]SequenceInfo, 0, len(s.seqs))
	for _, q := range s.seqs {
		out = append(out, q.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

// Live returns the number of non-terminal sequences of owner.
func (s *Scheduler) Live(owner ModuleID) int {
	n := 0
	for _, q := range s.seqs {
		if q.owner == owner && !q.state.Terminal() {
			n++
		}
	}
	return n
}

// Prune drops terminal sequences from the arena and returns how many were
// dropped. Their handles read as Cancelled afterwards.
func (s *Scheduler) Prune() int {
	n := 0
	for h, q := range s.seqs {
		if q.state.Terminal() {
			delete(s.seqs, h)
			n++
		}
	}
	return n
}

func (q *sequence) info() SequenceInfo {
	info := SequenceInfo{
		Handle:   q.handle,
		Owner:    q.owner,
		Kind:     q.kind,
		Priority: q.priority,
		State:    q.state,
		Stage:    q.stage,
	}
	if q.state == StateSuspendedForTicks {
		info.ResumeAt = q.resumeAt
	}
	if q.err != nil {
		info.Err = q.err.Error()
	}
	return info
}

// Frame is a sequence's view of its current resume. It is only valid while
// the body is running.
type Frame struct {
	seq    *sequence
	event  Event
	now    Tick
	active bool

	suspended bool
	ticks     int
	until     func() bool
	jumped    bool
}

func (f *Frame) check(op string) {
	if f == nil || !f.active {
		panic(&SuspensionError{Op: op, Reason: "called outside an active sequence resume"})
	}
	if f.suspended {
		panic(&SuspensionError{Op: op, Reason: "sequence already suspended in this resume"})
	}
}

// WaitTicks suspends the sequence until the n-th later dispatch of its kind.
// n of 0 and 1 both resume on the very next dispatch. A dispatch of the same
// kind made from inside the sequence's own resume counts towards n but cannot
// resume it, so the resume slips to the dispatch after that.
func (f *Frame) WaitTicks(n int) {
	f.check("WaitTicks")
	if n < 0 {
		panic(&SuspensionError{Op: "WaitTicks", Reason: fmt.Sprintf("negative tick count %d", n)})
	}
	if n == 0 {
		n = 1
	}
	f.suspended = true
	f.ticks = n
}

// WaitUntil suspends the sequence until pred returns true. pred is first
// evaluated on the next dispatch, then once per dispatch.
func (f *Frame) WaitUntil(pred func() bool) {
	f.check("WaitUntil")
	if pred == nil {
		panic(&SuspensionError{Op: "WaitUntil", Reason: "nil predicate"})
	}
	f.suspended = true
	f.until = pred
}

// Suspended reports whether the body already suspended in this resume.
func (f *Frame) Suspended() bool { return f.suspended }

// Stage returns the explicit resume point.
func (f *Frame) Stage() int { return f.seq.stage }

// Goto sets the stage the next resume (or Steps) continues from.
func (f *Frame) Goto(stage int) {
	f.seq.stage = stage
	f.jumped = true
}

// Now returns the dispatch count of the sequence's kind for this resume.
func (f *Frame) Now() Tick { return f.now }

// Event returns the event being dispatched.
func (f *Frame) Event() Event { return f.event }

// Owner returns the owning module.
func (f *Frame) Owner() ModuleID { return f.seq.owner }

// Handle returns the sequence's handle.
func (f *Frame) Handle() SequenceHandle { return f.seq.handle }

// Steps composes stages into one sequence body. Each stage advances to the
// next unless it calls Goto; a stage that suspends ends the resume and the
// next resume continues at the following stage.
func Steps(stages ...SequenceFunc) SequenceFunc {
	return func(f *Frame) error {
		for n := 0; f.Stage() < len(stages); n++ {
			if n >= MaxStagesPerResume {
				return fmt.Errorf("stage %d: %w", f.Stage(), ErrStageBudget)
			}
			i := f.Stage()
			if i < 0 {
				return fmt.Errorf("stage %d out of range", i)
			}
			f.jumped = false
			if err := stages[i](f); err != nil {
				return fmt.Errorf("stage %d: %w", i, err)
			}
			if !f.jumped {
				f.seq.stage = i + 1
			}
			if f.suspended {
				return nil
			}
		}
		return nil
	}
}
