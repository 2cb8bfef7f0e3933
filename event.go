package tickx

// Kind identifies a category of event.
type Kind string

// Built-in kinds declared by every Engine.
const (
	KindTick           Kind = "tick"
	KindRender         Kind = "render"
	KindInputKey       Kind = "input.key"
	KindPacketReceived Kind = "packet.received"
)

// ModuleID identifies the module owning a listener, a sequence or a submission.
type ModuleID string

// systemModule owns the scheduler's own driver listeners.
const systemModule ModuleID = "tickx.system"

// Tick counts dispatches of one kind. For KindTick it is the simulation step.
type Tick uint64

// Event is one occurrence dispatched through the Bus.
type Event interface {
	Kind() Kind
}

// Canceler is implemented by events of cancellable kinds.
type Canceler interface {
	Event
	Cancel()
	Cancelled() bool
}

// Cancelable is embedded by events of cancellable kinds.
// Cancelling marks intent for code outside the bus; it never stops propagation.
type Cancelable struct {
	cancelled bool
}

// Cancel marks the event as cancelled.
func (c *Cancelable) Cancel() { c.cancelled = true }

// Cancelled reports whether any listener cancelled the event.
func (c *Cancelable) Cancelled() bool { return c.cancelled }

// KindOptions describe a declared kind.
type KindOptions struct {
	Cancellable bool
}

// TickEvent is dispatched once per simulation step.
type TickEvent struct {
	Tick Tick
}

func (TickEvent) Kind() Kind { return KindTick }

// RenderEvent is dispatched once per frame. Delta is the partial-tick interpolation factor.
type RenderEvent struct {
	Delta float64
}

func (RenderEvent) Kind() Kind { return KindRender }

// KeyEvent carries one input key transition.
type KeyEvent struct {
	Cancelable
	Key     int
	Pressed bool
}

func (*KeyEvent) Kind() Kind { return KindInputKey }

// PacketEvent carries one decoded inbound packet. Payload is opaque to the core.
type PacketEvent struct {
	Cancelable
	Name    string
	Payload any
}

func (*PacketEvent) Kind() Kind { return KindPacketReceived }
