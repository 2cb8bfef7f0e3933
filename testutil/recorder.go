// Package testutil provides helpers shared by the tickx test suites.
package testutil

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/comalice/tickx"
)

// Recorder collects labels in call order.
type Recorder struct {
	events []string
}

// Add records label.
func (r *Recorder) Add(label string) {
	r.events = append(r.events, label)
}

// Addf records a formatted label.
func (r *Recorder) Addf(format string, args ...any) {
	r.Add(fmt.Sprintf(format, args...))
}

// Events returns a copy of the recorded labels.
func (r *Recorder) Events() []string {
	return append([]string(nil), r.events...)
}

// Reset forgets every recorded label.
func (r *Recorder) Reset() {
	r.events = r.events[:0]
}

// Handler returns a listener recording label on every call.
func (r *Recorder) Handler(label string) tickx.Handler {
	return func(tickx.Event) error {
		r.Add(label)
		return nil
	}
}

// NewEngine creates an engine that logs nowhere.
func NewEngine(opts ...tickx.Option) *tickx.Engine {
	return tickx.New(append([]tickx.Option{tickx.WithLogger(zerolog.Nop())}, opts...)...)
}

// RunTicks drives n ticks and returns the last tick number.
func RunTicks(e *tickx.Engine, n int) tickx.Tick {
	var t tickx.Tick
	for i := 0; i < n; i++ {
		t = e.OnTick()
	}
	return t
}
