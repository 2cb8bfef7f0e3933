package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comalice/tickx"
)

func TestPumpForwardsUntilSourceCloses(t *testing.T) {
	eng, rt := newRuntime(t, Config{MaxEventsPerTick: 2})
	var keys []int
	_, err := tickx.Listen(eng, tickx.KindInputKey, "keys", 0, func(ev *tickx.KeyEvent) error {
		keys = append(keys, ev.Key)
		return nil
	})
	require.NoError(t, err)

	ch := make(chan tickx.Event, 4)
	for k := 1; k <= 3; k++ {
		ch <- &tickx.KeyEvent{Key: k}
	}
	close(ch)

	// The third event does not fit the batch and is dropped.
	require.NoError(t, rt.Pump(context.Background(), NewChannelSource(ch), 0))
	assert.Equal(t, 2, rt.Pending())

	rt.Step()
	assert.Equal(t, []int{1, 2}, keys)
}

func TestPumpStopsOnCancel(t *testing.T) {
	_, rt := newRuntime(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Pump(ctx, NewChannelSource(make(chan tickx.Event)), 0) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("pump did not return after cancel")
	}
}

func TestPumpRejectsReservedKinds(t *testing.T) {
	_, rt := newRuntime(t, Config{})
	ch := make(chan tickx.Event, 1)
	ch <- tickx.TickEvent{Tick: 1}

	err := rt.Pump(context.Background(), NewChannelSource(ch), 0)
	assert.ErrorIs(t, err, tickx.ErrReservedKind)
}

func TestTimerSourceEmitsAndCloses(t *testing.T) {
	src := NewTimerSource(time.Millisecond, func() tickx.Event {
		return &tickx.PacketEvent{Name: "heartbeat"}
	})

	select {
	case ev := <-src.Events():
		assert.Equal(t, tickx.KindPacketReceived, ev.Kind())
	case <-time.After(time.Second):
		t.Fatal("timer source emitted nothing")
	}

	src.Stop()
	for range src.Events() {
	}
}
