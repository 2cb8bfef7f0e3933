package tickx

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/comalice/tickx/internal/log"
	"github.com/comalice/tickx/internal/metrics"
)

// Observer receives every arbiter resolution after it was applied.
type Observer interface {
	Resolved(r Resolution)
}

type phase int

const (
	phaseIdle phase = iota
	phaseTick
	phaseRender
	phaseResolve
)

type kindDecl struct {
	kind Kind
	opts KindOptions
}

// Engine is the context object owning one Bus, one Scheduler, every Arbiter
// and the module registry. It is driven from one goroutine.
type Engine struct {
	session uuid.UUID
	bus     *Bus
	sched   *Scheduler

	arbiters []resolver
	modules  map[ModuleID]*moduleEntry
	order    []ModuleID

	phase phase
	tick  Tick

	policy     FailurePolicy
	observer   Observer
	extraKinds []kindDecl
	logger     zerolog.Logger
}

// New creates an engine with the built-in kinds declared.
func New(opts ...Option) *Engine {
	e := &Engine{
		session: uuid.New(),
		modules: make(map[ModuleID]*moduleEntry),
		policy:  DefaultFailurePolicy(),
		logger:  log.WithComponent("tickx"),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With().Str(log.FieldSession, e.session.String()).Logger()

	e.bus = NewBus(e.policy, e.logger.With().Str(log.FieldComponent, "bus").Logger())
	e.sched = NewScheduler(e.bus, e.logger.With().Str(log.FieldComponent, "scheduler").Logger())

	e.bus.Declare(KindTick, KindOptions{})
	e.bus.Declare(KindRender, KindOptions{})
	e.bus.Declare(KindInputKey, KindOptions{Cancellable: true})
	e.bus.Declare(KindPacketReceived, KindOptions{Cancellable: true})
	for _, d := range e.extraKinds {
		e.bus.Declare(d.kind, d.opts)
	}
	return e
}

// Session returns the engine's unique session id.
func (e *Engine) Session() uuid.UUID { return e.session }

// Bus returns the engine's bus.
func (e *Engine) Bus() *Bus { return e.bus }

// Scheduler returns the engine's scheduler.
func (e *Engine) Scheduler() *Scheduler { return e.sched }

// Logger returns the engine's logger.
func (e *Engine) Logger() zerolog.Logger { return e.logger }

// Tick returns the number of completed or in-progress ticks.
func (e *Engine) Tick() Tick { return e.tick }

// OnTick advances one simulation step: it dispatches a TickEvent to every tick
// listener and sequence, then resolves and applies every arbiter in creation
// order. Failures inside are logged and never escape.
func (e *Engine) OnTick() Tick {
	if e.phase != phaseIdle {
		e.logger.Error().Uint64(log.FieldTick, uint64(e.tick)).Msg("OnTick called re-entrantly; ignored")
		return e.tick
	}
	start := time.Now()
	e.tick++

	e.phase = phaseTick
	if err := e.bus.Dispatch(TickEvent{Tick: e.tick}); err != nil {
		e.logger.Error().Err(err).Uint64(log.FieldTick, uint64(e.tick)).Msg("tick dispatch failed")
	}

	e.phase = phaseResolve
	for _, a := range e.arbiters {
		r := a.resolve(e.tick)
		if e.observer != nil {
			if err := protect(func() error { e.observer.Resolved(r); return nil }); err != nil {
				e.logger.Error().Err(err).Str(log.FieldArbiter, r.Arbiter).Msg("observer failed")
			}
		}
	}
	e.phase = phaseIdle

	metrics.ObserveTick(time.Since(start).Seconds())
	return e.tick
}

// OnRender dispatches a RenderEvent. Render listeners may only read arbiter
// values; submissions made during render are rejected.
func (e *Engine) OnRender(delta float64) {
	if e.phase != phaseIdle {
		e.logger.Error().Msg("OnRender called re-entrantly; ignored")
		return
	}
	e.phase = phaseRender
	if err := e.bus.Dispatch(RenderEvent{Delta: delta}); err != nil {
		e.logger.Error().Err(err).Msg("render dispatch failed")
	}
	e.phase = phaseIdle
}

// Dispatch delivers a host event such as input or a received packet. Tick and
// render events are only produced by OnTick and OnRender.
func (e *Engine) Dispatch(ev Event) error {
	if ev != nil && (ev.Kind() == KindTick || ev.Kind() == KindRender) {
		return fmt.Errorf("dispatch %q: %w", ev.Kind(), ErrReservedKind)
	}
	return e.bus.Dispatch(ev)
}

// On registers a listener for owner. An owner seen for the first time is
// enabled implicitly; an installed module that is disabled is refused.
func (e *Engine) On(kind Kind, owner ModuleID, priority int32, h Handler) (ListenerHandle, error) {
	if err := e.use(owner); err != nil {
		return 0, err
	}
	return e.bus.Register(kind, owner, priority, h)
}

// Listen registers a typed listener for owner with the same owner rules as On.
func Listen[E Event](e *Engine, kind Kind, owner ModuleID, priority int32, fn func(E) error) (ListenerHandle, error) {
	if err := e.use(owner); err != nil {
		return 0, err
	}
	return On(e.bus, kind, owner, priority, fn)
}

// Unregister removes a listener; repeated calls are no-ops.
func (e *Engine) Unregister(h ListenerHandle) { e.bus.Unregister(h) }

// Spawn starts a tick sequence for owner.
func (e *Engine) Spawn(owner ModuleID, body SequenceFunc, opts ...SpawnOption) (SequenceHandle, error) {
	return e.SpawnOn(owner, KindTick, body, opts...)
}

// SpawnOn starts a sequence resumed by dispatches of kind.
func (e *Engine) SpawnOn(owner ModuleID, kind Kind, body SequenceFunc, opts ...SpawnOption) (SequenceHandle, error) {
	if err := e.use(owner); err != nil {
		return 0, err
	}
	return e.sched.Spawn(owner, kind, body, opts...)
}

// Cancel cancels one sequence.
func (e *Engine) Cancel(h SequenceHandle) { e.sched.Cancel(h) }

// SequenceState returns the state of a sequence.
func (e *Engine) SequenceState(h SequenceHandle) SequenceState { return e.sched.State(h) }

func (e *Engine) use(owner ModuleID) error {
	m, ok := e.modules[owner]
	if !ok {
		e.modules[owner] = &moduleEntry{enabled: true}
		e.order = append(e.order, owner)
		return nil
	}
	if !m.enabled {
		return fmt.Errorf("module %q: %w", owner, ErrModuleDisabled)
	}
	return nil
}

// Install adds a module in the disabled state. Installing over an owner that
// was enabled on first use adopts it and runs the module's Enable right away;
// if that fails the owner is torn down and left disabled.
func (e *Engine) Install(m Module) error {
	id := m.ID()
	if existing, ok := e.modules[id]; ok {
		if existing.mod != nil {
			return fmt.Errorf("install %q: %w", id, ErrDuplicateModule)
		}
		existing.mod = m
		if existing.enabled {
			return e.runEnable(id, existing)
		}
		return nil
	}
	e.modules[id] = &moduleEntry{mod: m}
	e.order = append(e.order, id)
	return nil
}

// Enable enables an installed module. If its Enable fails, everything it
// registered is torn down and the error is returned.
func (e *Engine) Enable(id ModuleID) error {
	m, ok := e.modules[id]
	if !ok {
		return fmt.Errorf("enable %q: %w", id, ErrUnknownModule)
	}
	if m.enabled {
		return nil
	}
	m.enabled = true
	return e.runEnable(id, m)
}

func (e *Engine) runEnable(id ModuleID, m *moduleEntry) error {
	if m.mod != nil {
		if err := protect(func() error { return m.mod.Enable(e) }); err != nil {
			e.teardown(id, m, false)
			e.logger.Error().Err(err).Str(log.FieldModule, string(id)).Msg("module enable failed")
			return fmt.Errorf("enable %q: %w", id, err)
		}
	}
	e.logger.Info().Str(log.FieldModule, string(id)).Msg("module enabled")
	return nil
}

// Disable removes every listener of id, cancels every sequence of id and
// revokes its pending arbiter submissions, all before returning. Disabling an
// unknown or disabled module is a no-op.
func (e *Engine) Disable(id ModuleID) {
	m, ok := e.modules[id]
	if !ok || !m.enabled {
		return
	}
	e.teardown(id, m, true)
}

func (e *Engine) teardown(id ModuleID, m *moduleEntry, notify bool) {
	m.enabled = false
	listeners := e.bus.UnregisterAll(id)
	sequences := e.sched.CancelAll(id)
	for _, a := range e.arbiters {
		a.revoke(id)
	}
	if notify && m.mod != nil {
		if err := protect(func() error { m.mod.Disable(e); return nil }); err != nil {
			e.logger.Error().Err(err).Str(log.FieldModule, string(id)).Msg("module disable hook failed")
		}
	}
	e.logger.Info().
		Str(log.FieldModule, string(id)).
		Int("listeners", listeners).
		Int("sequences", sequences).
		Msg("module disabled")
}

// Enabled reports whether id may currently act.
func (e *Engine) Enabled(id ModuleID) bool {
	m, ok := e.modules[id]
	return ok && m.enabled
}

// admit returns a rejection reason for a submission, or "". Requesters
// seen for the first time are enabled, as with On and Spawn.
func (e *Engine) admit(requester ModuleID) string {
	switch e.phase {
	case phaseRender:
		return "render"
	case phaseResolve:
		return "resolving"
	}
	if err := e.use(requester); err != nil {
		return "disabled"
	}
	return ""
}

// window is the tick a submission made now is resolved in.
func (e *Engine) window() Tick {
	if e.phase == phaseTick {
		return e.tick
	}
	return e.tick + 1
}

// Modules describes every known module in installation order.
func (e *Engine) Modules() []ModuleInfo {
	out := make([]ModuleInfo, 0, len(e.order))
	for _, id := range e.order {
		m := e.modules[id]
		out = append(out, ModuleInfo{
			ID:        id,
			Enabled:   m.enabled,
			Installed: m.mod != nil,
			Listeners: e.bus.Owned(id),
			Sequences: e.sched.Live(id),
		})
	}
	return out
}

// KindInfo describes one declared kind in snapshots.
type KindInfo struct {
	Kind       Kind `json:"kind" yaml:"kind"`
	Listeners  int  `json:"listeners" yaml:"listeners"`
	Dispatches Tick `json:"dispatches" yaml:"dispatches"`
}

// Snapshot is a serializable description of the engine for diagnostics.
type Snapshot struct {
	Session   string         `json:"session" yaml:"session"`
	Tick      Tick           `json:"tick" yaml:"tick"`
	Taken     time.Time      `json:"taken" yaml:"taken"`
	Kinds     []KindInfo     `json:"kinds" yaml:"kinds"`
	Modules   []ModuleInfo   `json:"modules" yaml:"modules"`
	Listeners []ListenerInfo `json:"listeners,omitempty" yaml:"listeners,omitempty"`
	Sequences []SequenceInfo `json:"sequences,omitempty" yaml:"sequences,omitempty"`
	Arbiters  []ArbiterInfo  `json:"arbiters,omitempty" yaml:"arbiters,omitempty"`
}

// Snapshot captures the engine's current externally observable state.
func (e *Engine) Snapshot() Snapshot {
	s := Snapshot{
		Session:   e.session.String(),
		Tick:      e.tick,
		Taken:     time.Now().UTC(),
		Modules:   e.Modules(),
		Sequences: e.sched.Sequences(),
	}
	for kind := range e.bus.kinds {
		s.Kinds = append(s.Kinds, KindInfo{
			Kind:       kind,
			Listeners:  e.bus.Len(kind),
			Dispatches: e.bus.DispatchCount(kind),
		})
	}
	sort.Slice(s.Kinds, func(i, j int) bool { return s.Kinds[i].Kind < s.Kinds[j].Kind })
	for _, k := range s.Kinds {
		s.Listeners = append(s.Listeners, e.bus.Listeners(k.Kind)...)
	}
	for _, a := range e.arbiters {
		s.Arbiters = append(s.Arbiters, a.info())
	}
	return s
}

// IsSuspensionError reports whether err wraps a misuse of a suspension primitive.
func IsSuspensionError(err error) bool {
	var pe *PanicError
	if errors.As(err, &pe) {
		_, ok := pe.Value.(*SuspensionError)
		return ok
	}
	var se *SuspensionError
	return errors.As(err, &se)
}
