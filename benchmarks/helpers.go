// Package benchmarks provides shared helpers for benchmark tests.
package benchmarks

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/comalice/tickx"
)

// NewEngine creates an engine that logs nowhere.
func NewEngine() *tickx.Engine {
	return tickx.New(tickx.WithLogger(zerolog.Nop()))
}

// GenListeners registers n tick listeners with spread priorities, one module
// per listener.
func GenListeners(e *tickx.Engine, n int, fn tickx.Handler) error {
	for i := 0; i < n; i++ {
		owner := tickx.ModuleID(fmt.Sprintf("listener_%d", i))
		if _, err := e.On(tickx.KindTick, owner, int32(i%16-8), fn); err != nil {
			return err
		}
	}
	return nil
}

// GenSequences spawns n sequences that suspend for period ticks forever.
func GenSequences(e *tickx.Engine, n, period int) error {
	body := tickx.NewSequence().
		WaitTicks(period).
		Repeat().
		MustBuild()
	for i := 0; i < n; i++ {
		owner := tickx.ModuleID(fmt.Sprintf("sequence_%d", i%32))
		if _, err := e.Spawn(owner, body); err != nil {
			return err
		}
	}
	return nil
}

// GenContention creates one arbiter and n requesters submitting to it every
// tick at distinct priorities.
func GenContention(e *tickx.Engine, n int) (*tickx.Arbiter[int], error) {
	a := tickx.NewArbiter(e, "contended", -1)
	for i := 0; i < n; i++ {
		owner := tickx.ModuleID(fmt.Sprintf("requester_%d", i))
		value, prio := i, int32(i)
		if _, err := e.On(tickx.KindTick, owner, 0, func(tickx.Event) error {
			a.Submit(value, prio, owner)
			return nil
		}); err != nil {
			return nil, err
		}
	}
	return a, nil
}
