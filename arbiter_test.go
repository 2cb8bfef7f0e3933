package tickx_test

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comalice/tickx"
	"github.com/comalice/tickx/internal/metrics"
	tu "github.com/comalice/tickx/testutil"
)

func submitOnTick[T any](t *testing.T, e *tickx.Engine, owner tickx.ModuleID, priority int32, a *tickx.Arbiter[T], value T, prio int32) {
	t.Helper()
	_, err := e.On(tickx.KindTick, owner, priority, func(tickx.Event) error {
		a.Submit(value, prio, owner)
		return nil
	})
	require.NoError(t, err)
}

func TestArbiter_HighestPriorityWins(t *testing.T) {
	e := tu.NewEngine()
	r := tickx.NewArbiter(e, "resource", "idle")
	submitOnTick(t, e, "a", 0, r, "from-a", 10)
	submitOnTick(t, e, "b", 0, r, "from-b", 50)

	e.OnTick()
	assert.Equal(t, "from-b", r.Current())
	assert.Equal(t, tickx.ModuleID("b"), r.PreviousWinner())
	assert.Equal(t, 2, r.Last().Candidates)
}

func TestArbiter_TieGoesToEarliestSubmission(t *testing.T) {
	e := tu.NewEngine()
	r := tickx.NewArbiter(e, "resource", 0)
	// Higher listener priority submits first.
	submitOnTick(t, e, "late", 1, r, 2, 7)
	submitOnTick(t, e, "early", 9, r, 1, 7)

	e.OnTick()
	assert.Equal(t, 1, r.Current())
	assert.Equal(t, tickx.ModuleID("early"), r.PreviousWinner())
}

func TestArbiter_RevertsToBaselineWithoutSubmissions(t *testing.T) {
	e := tu.NewEngine()
	r := tickx.NewArbiter(e, "resource", "baseline")
	submitted := false
	_, err := e.On(tickx.KindTick, "once", 0, func(tickx.Event) error {
		if !submitted {
			submitted = true
			r.Submit("claimed", 1, "once")
		}
		return nil
	})
	require.NoError(t, err)

	e.OnTick()
	assert.Equal(t, "claimed", r.Current())

	e.OnTick()
	assert.Equal(t, "baseline", r.Current())
	assert.Equal(t, tickx.ModuleID(""), r.PreviousWinner())
	assert.True(t, r.Last().Baseline)
}

func TestArbiter_SameRequesterKeepsHighestSubmission(t *testing.T) {
	e := tu.NewEngine()
	r := tickx.NewArbiter(e, "resource", 0)
	var accepted []bool
	_, err := e.On(tickx.KindTick, "m", 0, func(tickx.Event) error {
		accepted = append(accepted,
			r.Submit(1, 5, "m"),
			r.Submit(2, 3, "m"), // lower: ignored
			r.Submit(3, 5, "m"), // equal: ignored
			r.Submit(4, 8, "m"), // higher: replaces
		)
		return nil
	})
	require.NoError(t, err)

	e.OnTick()
	assert.Equal(t, []bool{true, false, false, true}, accepted)
	assert.Equal(t, 4, r.Current())
	assert.Equal(t, 1, r.Last().Candidates)
}

func TestArbiter_DisabledRequesterIsRejected(t *testing.T) {
	e := tu.NewEngine()
	r := tickx.NewArbiter(e, "resource", "base")
	require.NoError(t, e.Install(tickx.ModuleFuncs{Name: "sleeping"}))

	c := metrics.ArbiterRejectedTotal.WithLabelValues("resource", "disabled")
	before := testutil.ToFloat64(c)
	assert.False(t, r.Submit("nope", 100, "sleeping"))
	assert.Equal(t, before+1, testutil.ToFloat64(c))

	e.OnTick()
	assert.Equal(t, "base", r.Current())
}

func TestArbiter_UnseenRequesterIsEnabledOnFirstUse(t *testing.T) {
	e := tu.NewEngine()
	r := tickx.NewArbiter(e, "first-use", "base")

	assert.True(t, r.Submit("host-value", 1, "host"))
	assert.True(t, e.Enabled("host"))

	e.OnTick()
	assert.Equal(t, "host-value", r.Current())
	assert.Equal(t, tickx.ModuleID("host"), r.PreviousWinner())
}

func TestArbiter_DisableMidTickRevokesPendingSubmission(t *testing.T) {
	e := tu.NewEngine()
	r := tickx.NewArbiter(e, "aim", "none")
	require.NoError(t, e.Install(tickx.ModuleFuncs{Name: "a"}))
	require.NoError(t, e.Enable("a"))

	submitOnTick(t, e, "a", 10, r, "a-wants", 100)
	_, err := e.On(tickx.KindTick, "killer", 5, func(tickx.Event) error {
		e.Disable("a")
		return nil
	})
	require.NoError(t, err)
	submitOnTick(t, e, "b", 1, r, "b-wants", 1)

	e.OnTick()
	assert.Equal(t, "b-wants", r.Current())
	assert.False(t, e.Enabled("a"))
}

func TestArbiter_RenderCannotSubmitAndSeesAppliedValue(t *testing.T) {
	e := tu.NewEngine()
	r := tickx.NewArbiter(e, "slot", 0)
	submitOnTick(t, e, "m", 0, r, 4, 1)

	var seen []int
	var accepted []bool
	_, err := e.On(tickx.KindRender, "hud", 0, func(tickx.Event) error {
		seen = append(seen, r.Current())
		accepted = append(accepted, r.Submit(8, 99, "hud"))
		return nil
	})
	require.NoError(t, err)

	e.OnTick()
	e.OnRender(0.5)
	e.OnRender(0.9)
	e.OnTick()

	assert.Equal(t, []int{4, 4}, seen)
	assert.Equal(t, []bool{false, false}, accepted)
	assert.Equal(t, 4, r.Current())
}

func TestArbiter_AppliesExactlyOnceAndNeverALoser(t *testing.T) {
	e := tu.NewEngine()
	var applied []string
	r := tickx.NewArbiter(e, "resource", "base", tickx.WithApply(func(v string, req *tickx.Request[string]) {
		applied = append(applied, v)
	}))

	midTick := []string{}
	submitOnTick(t, e, "low", 3, r, "low", 1)
	_, err := e.On(tickx.KindTick, "reader", 2, func(tickx.Event) error {
		midTick = append(midTick, r.Current())
		return nil
	})
	require.NoError(t, err)
	submitOnTick(t, e, "high", 1, r, "high", 9)

	tu.RunTicks(e, 3)
	assert.Equal(t, []string{"high", "high", "high"}, applied)
	assert.Equal(t, []string{"base", "high", "high"}, midTick, "readers never see a losing submission")
}

func TestArbiter_StarvationSignal(t *testing.T) {
	e := tu.NewEngine()
	r := tickx.NewArbiter(e, "aim", 0, tickx.WithStarvationThreshold[int](3))
	submitOnTick(t, e, "strong", 0, r, 1, 10)
	submitOnTick(t, e, "weak", 0, r, 2, 1)

	c := metrics.ArbiterStarvationTotal.WithLabelValues("aim", "weak")
	before := testutil.ToFloat64(c)

	tu.RunTicks(e, 5)
	assert.Equal(t, 5, r.Losses("weak"))
	assert.Equal(t, 0, r.Losses("strong"))
	assert.Equal(t, before+1, testutil.ToFloat64(c), "signalled once per streak")
}

func TestArbiter_ValidatorRejects(t *testing.T) {
	e := tu.NewEngine()
	r := tickx.NewArbiter(e, "slot", 0, tickx.WithValidator(func(v int) bool { return v >= 0 && v < 9 }))
	_, err := e.On(tickx.KindTick, "m", 0, func(tickx.Event) error {
		assert.False(t, r.Submit(12, 1, "m"))
		assert.True(t, r.Submit(3, 1, "m"))
		return nil
	})
	require.NoError(t, err)

	e.OnTick()
	assert.Equal(t, 3, r.Current())
}

func TestArbiter_RandomizedWinnerProperty(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 5))
	for round := 0; round < 50; round++ {
		e := tu.NewEngine()
		r := tickx.NewArbiter(e, "resource", -1)

		n := 1 + rng.IntN(12)
		type sub struct {
			owner tickx.ModuleID
			prio  int32
		}
		subs := make([]sub, n)
		for i := range subs {
			subs[i] = sub{owner: tickx.ModuleID(fmt.Sprintf("m%02d", i)), prio: int32(rng.IntN(4))}
			require.NoError(t, e.Install(tickx.ModuleFuncs{Name: subs[i].owner}))
			require.NoError(t, e.Enable(subs[i].owner))
		}
		_, err := e.On(tickx.KindTick, "driver", 0, func(tickx.Event) error {
			for i, s := range subs {
				r.Submit(i, s.prio, s.owner)
			}
			return nil
		})
		require.NoError(t, err)

		want := 0
		for i, s := range subs {
			if s.prio > subs[want].prio {
				want = i
			}
		}

		e.OnTick()
		assert.Equal(t, want, r.Current(), "round %d", round)
	}
}
