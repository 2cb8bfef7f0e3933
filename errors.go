package tickx

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownKind       = errors.New("unknown event kind")
	ErrNotCancellable    = errors.New("event does not carry a cancellation flag")
	ErrUnknownModule     = errors.New("unknown module")
	ErrUnknownSequence   = errors.New("unknown sequence")
	ErrStageBudget       = errors.New("sequence exceeded stage budget without suspending")
	ErrEventTypeMismatch = errors.New("event type does not match listener")
	ErrDuplicateModule   = errors.New("module already installed")
	ErrNilHandler        = errors.New("nil handler")
	ErrModuleDisabled    = errors.New("module is disabled")
	ErrReservedKind      = errors.New("kind is driven by OnTick/OnRender")
)

// PanicError wraps a value recovered from a listener, sequence body or hook.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// SuspensionError is the panic value raised when a suspension primitive is
// misused: outside an active resume, twice in one resume, or with a negative count.
type SuspensionError struct {
	Op     string
	Reason string
}

func (e *SuspensionError) Error() string {
	return fmt.Sprintf("invalid suspension %s: %s", e.Op, e.Reason)
}
