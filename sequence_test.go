package tickx_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comalice/tickx"
	"github.com/comalice/tickx/testutil"
)

func TestWaitTicks_ResumesOnExactTick(t *testing.T) {
	tests := []struct {
		n      int
		resume tickx.Tick
	}{
		{n: 0, resume: 2},
		{n: 1, resume: 2},
		{n: 2, resume: 3},
		{n: 3, resume: 4},
		{n: 7, resume: 8},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("n=%d", tt.n), func(t *testing.T) {
			e := testutil.NewEngine()
			var runs []tickx.Tick
			_, err := e.Spawn("m", tickx.Steps(
				func(f *tickx.Frame) error {
					runs = append(runs, e.Tick())
					f.WaitTicks(tt.n)
					return nil
				},
				func(f *tickx.Frame) error {
					runs = append(runs, e.Tick())
					return nil
				},
			))
			require.NoError(t, err)

			testutil.RunTicks(e, 10)
			assert.Equal(t, []tickx.Tick{1, tt.resume}, runs)
		})
	}
}

func TestWaitTicks_StateAcrossSuspension(t *testing.T) {
	e := testutil.NewEngine()
	var h tickx.SequenceHandle
	var observed []tickx.SequenceState
	h, err := e.Spawn("m", tickx.Steps(
		func(f *tickx.Frame) error {
			f.WaitTicks(3)
			return nil
		},
		func(f *tickx.Frame) error {
			observed = append(observed, e.SequenceState(h))
			return nil
		},
	))
	require.NoError(t, err)
	assert.Equal(t, tickx.StateCreated, e.SequenceState(h))

	e.OnTick() // T: suspends
	assert.Equal(t, tickx.StateSuspendedForTicks, e.SequenceState(h))
	e.OnTick() // T+1
	e.OnTick() // T+2
	assert.Equal(t, tickx.StateSuspendedForTicks, e.SequenceState(h))
	assert.Empty(t, observed)

	e.OnTick() // T+3
	assert.Equal(t, []tickx.SequenceState{tickx.StateRunning}, observed)
	assert.Equal(t, tickx.StateCompleted, e.SequenceState(h))
}

func TestWaitUntil_ResumesOnFirstTrueTick(t *testing.T) {
	e := testutil.NewEngine()
	ready := false
	evals := 0
	var resumedAt tickx.Tick

	// Flips the condition during tick 4, before the sequence driver runs.
	_, err := e.On(tickx.KindTick, "world", 0, func(tickx.Event) error {
		if e.Tick() == 4 {
			ready = true
		}
		return nil
	})
	require.NoError(t, err)

	_, err = e.Spawn("m", tickx.Steps(
		func(f *tickx.Frame) error {
			f.WaitUntil(func() bool {
				evals++
				return ready
			})
			return nil
		},
		func(f *tickx.Frame) error {
			resumedAt = e.Tick()
			return nil
		},
	))
	require.NoError(t, err)

	testutil.RunTicks(e, 8)
	assert.Equal(t, tickx.Tick(4), resumedAt)
	assert.Equal(t, 3, evals, "evaluated once on each of ticks 2, 3 and 4")
}

func TestWaitUntil_AlreadyTrueStillYieldsOneTick(t *testing.T) {
	e := testutil.NewEngine()
	evals := 0
	var runs []tickx.Tick
	_, err := e.Spawn("m", tickx.Steps(
		func(f *tickx.Frame) error {
			runs = append(runs, e.Tick())
			f.WaitUntil(func() bool {
				evals++
				return true
			})
			return nil
		},
		func(f *tickx.Frame) error {
			runs = append(runs, e.Tick())
			return nil
		},
	))
	require.NoError(t, err)

	testutil.RunTicks(e, 3)
	assert.Equal(t, []tickx.Tick{1, 2}, runs)
	assert.Equal(t, 1, evals)
}

func TestDisable_CancelsSuspendedSequence(t *testing.T) {
	e := testutil.NewEngine()
	require.NoError(t, e.Install(tickx.ModuleFuncs{Name: "c"}))
	require.NoError(t, e.Enable("c"))

	evals := 0
	resumed := false
	h, err := e.Spawn("c", tickx.Steps(
		func(f *tickx.Frame) error {
			f.WaitUntil(func() bool {
				evals++
				return evals > 1
			})
			return nil
		},
		func(f *tickx.Frame) error {
			resumed = true
			return nil
		},
	))
	require.NoError(t, err)

	e.OnTick() // suspends
	e.OnTick() // first evaluation, false
	require.Equal(t, tickx.StateSuspendedUntil, e.SequenceState(h))
	require.Equal(t, 1, evals)

	e.Disable("c")
	testutil.RunTicks(e, 3)

	assert.False(t, resumed)
	assert.Equal(t, 1, evals, "predicate is never evaluated after cancellation")
	assert.Equal(t, tickx.StateCancelled, e.SequenceState(h))
}

func TestSequences_RunInSpawnOrder(t *testing.T) {
	e := testutil.NewEngine()
	var r testutil.Recorder
	for _, name := range []string{"a", "b", "c"} {
		name := name
		body := tickx.NewSequence().
			Run(func(*tickx.Frame) { r.Add(name) }).
			WaitTicks(1).
			Repeat().
			MustBuild()
		_, err := e.Spawn(tickx.ModuleID(name), body)
		require.NoError(t, err)
	}

	testutil.RunTicks(e, 3)
	assert.Equal(t, []string{"a", "b", "c", "a", "b", "c", "a", "b", "c"}, r.Events())
}

func TestSequences_RunAfterPlainListeners(t *testing.T) {
	e := testutil.NewEngine()
	var r testutil.Recorder
	_, err := e.Spawn("seq", func(f *tickx.Frame) error {
		r.Add("sequence")
		return nil
	})
	require.NoError(t, err)
	_, err = e.On(tickx.KindTick, "plain", -1000, r.Handler("plain"))
	require.NoError(t, err)

	e.OnTick()
	assert.Equal(t, []string{"plain", "sequence"}, r.Events())
}

func TestSpawnPriority_RunsBeforeLowerListeners(t *testing.T) {
	e := testutil.NewEngine()
	var r testutil.Recorder
	_, err := e.On(tickx.KindTick, "plain", 0, r.Handler("plain"))
	require.NoError(t, err)
	_, err = e.Spawn("seq", func(f *tickx.Frame) error {
		r.Add("sequence")
		return nil
	}, tickx.SpawnPriority(100))
	require.NoError(t, err)

	e.OnTick()
	assert.Equal(t, []string{"sequence", "plain"}, r.Events())
}

func TestSequenceFailure_IsIsolated(t *testing.T) {
	tests := []struct {
		name string
		body tickx.SequenceFunc
	}{
		{name: "error", body: func(*tickx.Frame) error { return errors.New("bad aim") }},
		{name: "panic", body: func(*tickx.Frame) error { panic("nil world") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := testutil.NewEngine()
			bad, err := e.Spawn("broken", tt.body)
			require.NoError(t, err)

			steps := 0
			good, err := e.Spawn("healthy", tickx.NewSequence().
				Run(func(*tickx.Frame) { steps++ }).
				WaitTicks(1).
				Repeat().
				MustBuild())
			require.NoError(t, err)

			testutil.RunTicks(e, 3)
			assert.Equal(t, tickx.StateCancelled, e.SequenceState(bad))
			assert.Error(t, e.Scheduler().Err(bad))
			assert.Equal(t, tickx.StateSuspendedForTicks, e.SequenceState(good))
			assert.Equal(t, 3, steps)
		})
	}
}

func TestSuspension_MisuseFailsFast(t *testing.T) {
	t.Run("outside resume", func(t *testing.T) {
		e := testutil.NewEngine()
		var stashed *tickx.Frame
		_, err := e.Spawn("m", func(f *tickx.Frame) error {
			stashed = f
			return nil
		})
		require.NoError(t, err)
		e.OnTick()

		require.NotNil(t, stashed)
		assert.Panics(t, func() { stashed.WaitTicks(1) })
		assert.Panics(t, func() { stashed.WaitUntil(func() bool { return true }) })
	})

	t.Run("twice in one resume", func(t *testing.T) {
		e := testutil.NewEngine()
		h, err := e.Spawn("m", func(f *tickx.Frame) error {
			f.WaitTicks(1)
			f.WaitTicks(2)
			return nil
		})
		require.NoError(t, err)
		e.OnTick()

		assert.Equal(t, tickx.StateCancelled, e.SequenceState(h))
		assert.True(t, tickx.IsSuspensionError(e.Scheduler().Err(h)))
	})

	t.Run("negative ticks", func(t *testing.T) {
		e := testutil.NewEngine()
		h, err := e.Spawn("m", func(f *tickx.Frame) error {
			f.WaitTicks(-1)
			return nil
		})
		require.NoError(t, err)
		e.OnTick()

		assert.True(t, tickx.IsSuspensionError(e.Scheduler().Err(h)))
	})
}

func TestSpawn_DuringDispatchWaitsForNextDispatch(t *testing.T) {
	e := testutil.NewEngine()
	var runs []tickx.Tick
	spawned := false
	_, err := e.On(tickx.KindTick, "spawner", 10, func(tickx.Event) error {
		if spawned {
			return nil
		}
		spawned = true
		_, err := e.Spawn("child", func(f *tickx.Frame) error {
			runs = append(runs, e.Tick())
			return nil
		})
		return err
	})
	require.NoError(t, err)

	testutil.RunTicks(e, 3)
	assert.Equal(t, []tickx.Tick{2}, runs)
}

const kindStep tickx.Kind = "step"

type stepEvent struct{}

func (stepEvent) Kind() tickx.Kind { return kindStep }

func TestSequence_NotResumedReentrantly(t *testing.T) {
	e := testutil.NewEngine(tickx.WithKind(kindStep, tickx.KindOptions{}))
	resumes := 0
	nested := 0
	_, err := e.SpawnOn("m", kindStep, func(f *tickx.Frame) error {
		resumes++
		if nested < 3 {
			nested++
			if err := e.Dispatch(stepEvent{}); err != nil {
				return err
			}
		}
		f.WaitTicks(0)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, e.Dispatch(stepEvent{}))
	assert.Equal(t, 1, resumes)
	assert.Equal(t, 1, nested)
}

func TestSequence_SelfDispatchDelaysWait(t *testing.T) {
	e := testutil.NewEngine(tickx.WithKind(kindStep, tickx.KindOptions{}))
	var runs []tickx.Tick
	_, err := e.SpawnOn("m", kindStep, tickx.Steps(
		func(f *tickx.Frame) error {
			runs = append(runs, f.Now())
			if err := e.Dispatch(stepEvent{}); err != nil {
				return err
			}
			f.WaitTicks(1)
			return nil
		},
		func(f *tickx.Frame) error {
			runs = append(runs, f.Now())
			return nil
		},
	))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, e.Dispatch(stepEvent{}))
	}
	// Dispatch 2 ran nested inside the first resume, so the wait ends at 3.
	assert.Equal(t, []tickx.Tick{1, 3}, runs)
}

func TestSteps_StageBudget(t *testing.T) {
	e := testutil.NewEngine()
	h, err := e.Spawn("spinner", tickx.NewSequence().
		Run(func(*tickx.Frame) {}).
		Repeat().
		MustBuild())
	require.NoError(t, err)

	e.OnTick()
	assert.Equal(t, tickx.StateCancelled, e.SequenceState(h))
	assert.ErrorIs(t, e.Scheduler().Err(h), tickx.ErrStageBudget)
}

func TestScheduler_InfoAndPrune(t *testing.T) {
	e := testutil.NewEngine()
	h, err := e.Spawn("m", func(f *tickx.Frame) error {
		f.WaitTicks(5)
		return nil
	})
	require.NoError(t, err)
	e.OnTick()

	info, err := e.Scheduler().Info(h)
	require.NoError(t, err)
	assert.Equal(t, tickx.StateSuspendedForTicks, info.State)
	assert.Equal(t, tickx.Tick(6), info.ResumeAt)
	assert.Equal(t, tickx.ModuleID("m"), info.Owner)

	e.Cancel(h)
	e.Cancel(h)
	assert.Equal(t, tickx.StateCancelled, e.SequenceState(h))
	assert.Equal(t, 1, e.Scheduler().Prune())

	_, err = e.Scheduler().Info(h)
	assert.ErrorIs(t, err, tickx.ErrUnknownSequence)
}

func TestScheduler_PrunedCompletedReadsCancelled(t *testing.T) {
	e := testutil.NewEngine()
	h, err := e.Spawn("m", func(*tickx.Frame) error { return nil })
	require.NoError(t, err)
	e.OnTick()
	require.Equal(t, tickx.StateCompleted, e.SequenceState(h))

	assert.Equal(t, 1, e.Scheduler().Prune())
	assert.Equal(t, tickx.StateCancelled, e.SequenceState(h))
	_, err = e.Scheduler().Info(h)
	assert.ErrorIs(t, err, tickx.ErrUnknownSequence)
}

func TestSpawn_UnknownKindAndDisabledOwner(t *testing.T) {
	e := testutil.NewEngine()
	_, err := e.SpawnOn("m", "missing", func(*tickx.Frame) error { return nil })
	assert.ErrorIs(t, err, tickx.ErrUnknownKind)

	require.NoError(t, e.Install(tickx.ModuleFuncs{Name: "off"}))
	_, err = e.Spawn("off", func(*tickx.Frame) error { return nil })
	assert.ErrorIs(t, err, tickx.ErrModuleDisabled)
}
