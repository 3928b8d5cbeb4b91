package cover

import (
	"context"
	"testing"
	"time"

	"github.com/mcalin/inelnet2mqtt/internal/inelnet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T, sender Sender) *Registry {
	t.Helper()

	r := NewRegistry()
	for _, cfg := range []Config{
		{Channel: 1, Name: "salon", TravelTime: 100 * time.Millisecond, Facade: "S", Floor: "parter", InitialPosition: 100},
		{Channel: 2, Name: "birou", TravelTime: 100 * time.Millisecond, Facade: "S", Floor: "etaj", InitialPosition: 100},
		{Channel: 3, Name: "dormitor", TravelTime: 100 * time.Millisecond, Facade: "N", Floor: "etaj", InitialPosition: 100},
	} {
		c, err := NewController(cfg, sender)
		require.NoError(t, err)
		require.NoError(t, r.Add(c))
	}
	return r
}

func channelsCommanded(sender *fakeSender, action inelnet.Action) map[int]bool {
	out := map[int]bool{}
	for _, cmd := range sender.commands() {
		if cmd.Action == action {
			out[cmd.Channel] = true
		}
	}
	return out
}

func TestAddRejectsDuplicateChannel(t *testing.T) {
	sender := &fakeSender{}
	r := newTestRegistry(t, sender)

	dup, err := NewController(Config{Channel: 1, Name: "dup", TravelTime: time.Second}, sender)
	require.NoError(t, err)
	assert.Error(t, r.Add(dup))
}

func TestFacadeAndFloorQueries(t *testing.T) {
	r := newTestRegistry(t, &fakeSender{})

	assert.Len(t, r.Facade("S"), 2)
	assert.Len(t, r.Facade("N"), 1)
	assert.Empty(t, r.Facade("E"))
	assert.Len(t, r.Floor("etaj"), 2)

	c, ok := r.ByChannel(2)
	require.True(t, ok)
	assert.Equal(t, "birou", c.Name())

	_, ok = r.ByChannel(9)
	assert.False(t, ok)
}

func TestCloseFacadeFansOutToMatchingChannels(t *testing.T) {
	sender := &fakeSender{}
	r := newTestRegistry(t, sender)

	r.CloseFacade(context.Background(), "S", 20)

	require.Eventually(t, func() bool {
		return len(channelsCommanded(sender, inelnet.ActionDown)) == 2
	}, time.Second, 10*time.Millisecond)

	down := channelsCommanded(sender, inelnet.ActionDown)
	assert.True(t, down[1])
	assert.True(t, down[2])
	assert.False(t, down[3])

	for _, c := range r.Facade("S") {
		require.Eventually(t, func() bool { return !c.IsMoving() }, time.Second, 5*time.Millisecond)
		assert.InDelta(t, 20, c.Position(), 1e-6)
	}
}

func TestCloseFacadeZeroTargetFullyCloses(t *testing.T) {
	sender := &fakeSender{}
	r := newTestRegistry(t, sender)

	r.CloseFacade(context.Background(), "N", 0)

	c, _ := r.ByChannel(3)
	require.Eventually(t, func() bool { return !c.IsMoving() }, time.Second, 5*time.Millisecond)
	assert.InDelta(t, 0, c.Position(), 1e-6)
	assert.Equal(t, StateClosed, c.State())
}

func TestGroupFanOutSurvivesChannelFailure(t *testing.T) {
	sender := &fakeSender{failChannels: map[int]bool{1: true}}
	r := newTestRegistry(t, sender)

	r.CloseFacade(context.Background(), "S", 0)

	// Both covers move despite channel 1's delivery failing.
	for _, ch := range []int{1, 2} {
		c, _ := r.ByChannel(ch)
		require.Eventually(t, func() bool { return !c.IsMoving() }, time.Second, 5*time.Millisecond)
		assert.InDelta(t, 0, c.Position(), 1e-6)
	}
}

func TestOpenFloor(t *testing.T) {
	sender := &fakeSender{}
	r := newTestRegistry(t, sender)

	// Close everything on the floor first so open is not a no-op.
	r.CloseFloor(context.Background(), "etaj", 0)
	for _, c := range r.Floor("etaj") {
		require.Eventually(t, func() bool { return !c.IsMoving() }, time.Second, 5*time.Millisecond)
	}

	r.OpenFloor(context.Background(), "etaj")

	require.Eventually(t, func() bool {
		return len(channelsCommanded(sender, inelnet.ActionUp)) == 2
	}, time.Second, 10*time.Millisecond)

	up := channelsCommanded(sender, inelnet.ActionUp)
	assert.True(t, up[2])
	assert.True(t, up[3])
	assert.False(t, up[1])
}
