package tickx

import "github.com/rs/zerolog"

// Option configures an Engine via the functional options pattern.
type Option func(*Engine)

// WithLogger sets the logger used by the engine and everything it owns.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithFailurePolicy configures listener failure handling.
func WithFailurePolicy(p FailurePolicy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithObserver receives every arbiter resolution after it is applied.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		e.observer = o
	}
}

// WithKind declares an extra event kind.
func WithKind(kind Kind, opts KindOptions) Option {
	return func(e *Engine) {
		e.extraKinds = append(e.extraKinds, kindDecl{kind: kind, opts: opts})
	}
}
