package cover

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mcalin/inelnet2mqtt/internal/inelnet"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu   sync.Mutex
	cmds []inelnet.Command

	// failChannels lists channels whose deliveries fail.
	failChannels map[int]bool
}

func (f *fakeSender) Send(_ context.Context, cmd inelnet.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds = append(f.cmds, cmd)
	if f.failChannels[cmd.Channel] {
		return errors.New("rf link down")
	}
	return nil
}

func (f *fakeSender) commands() []inelnet.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]inelnet.Command, len(f.cmds))
	copy(out, f.cmds)
	return out
}

func (f *fakeSender) actions() []inelnet.Action {
	var out []inelnet.Action
	for _, c := range f.commands() {
		out = append(out, c.Action)
	}
	return out
}

func newTestController(t *testing.T, travel time.Duration, initial float64, sender Sender) *Controller {
	t.Helper()
	c, err := NewController(Config{
		Channel:         1,
		Name:            "living",
		TravelTime:      travel,
		Facade:          "S",
		Floor:           "parter",
		InitialPosition: initial,
	}, sender)
	require.NoError(t, err)
	return c
}

func TestConfigValidate(t *testing.T) {
	sender := &fakeSender{}

	_, err := NewController(Config{Channel: 0, Name: "x", TravelTime: time.Second}, sender)
	assert.Error(t, err)

	_, err = NewController(Config{Channel: 33, Name: "x", TravelTime: time.Second}, sender)
	assert.Error(t, err)

	_, err = NewController(Config{Channel: 1, Name: "x", TravelTime: 0}, sender)
	assert.Error(t, err)

	_, err = NewController(Config{Channel: 1, Name: "", TravelTime: time.Second}, sender)
	assert.Error(t, err)
}

func TestOpenWhenFullyOpenIsNoop(t *testing.T) {
	sender := &fakeSender{}
	c := newTestController(t, 200*time.Millisecond, 100, sender)

	require.NoError(t, c.Open(context.Background()))

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, sender.commands())
	assert.False(t, c.IsMoving())
	assert.Equal(t, StateOpen, c.State())
}

func TestOpenCloseRoundTrip(t *testing.T) {
	sender := &fakeSender{}
	c := newTestController(t, 200*time.Millisecond, 0, sender)
	ctx := context.Background()

	require.NoError(t, c.Open(ctx))
	assert.True(t, c.IsMoving())
	assert.Equal(t, StateOpening, c.State())

	require.Eventually(t, func() bool { return !c.IsMoving() }, time.Second, 10*time.Millisecond)
	assert.InDelta(t, 100, c.Position(), 1e-6)
	assert.Equal(t, StateOpen, c.State())

	require.NoError(t, c.Close(ctx))
	assert.Equal(t, StateClosing, c.State())

	require.Eventually(t, func() bool { return !c.IsMoving() }, time.Second, 10*time.Millisecond)
	assert.InDelta(t, 0, c.Position(), 1e-6)
	assert.Equal(t, StateClosed, c.State())

	assert.Equal(t, []inelnet.Action{inelnet.ActionUp, inelnet.ActionDown}, sender.actions())
}

func TestStopHalfwayCommitsEstimate(t *testing.T) {
	sender := &fakeSender{}
	c := newTestController(t, 400*time.Millisecond, 100, sender)
	ctx := context.Background()

	require.NoError(t, c.Close(ctx))
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, c.Stop(ctx))

	assert.False(t, c.IsMoving())
	assert.InDelta(t, 50, c.Position(), 12)

	require.Eventually(t, func() bool {
		actions := sender.actions()
		return len(actions) == 2 && actions[0] == inelnet.ActionDown && actions[1] == inelnet.ActionStop
	}, time.Second, 10*time.Millisecond)
}

func TestPreemptionRedirectsMidTravel(t *testing.T) {
	sender := &fakeSender{}
	c := newTestController(t, 400*time.Millisecond, 0, sender)
	ctx := context.Background()

	require.NoError(t, c.Open(ctx))
	time.Sleep(100 * time.Millisecond) // ~25% up

	require.NoError(t, c.SetPosition(ctx, 20))
	assert.Equal(t, StateClosing, c.State())

	require.Eventually(t, func() bool { return !c.IsMoving() }, time.Second, 5*time.Millisecond)
	assert.InDelta(t, 20, c.Position(), 1e-6)

	// UP, then the redirect DOWN, then the scheduled STOP at the target.
	require.Eventually(t, func() bool { return len(sender.actions()) == 3 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, []inelnet.Action{inelnet.ActionUp, inelnet.ActionDown, inelnet.ActionStop}, sender.actions())
}

func TestSetPositionSameTargetSendsNothing(t *testing.T) {
	sender := &fakeSender{}
	c := newTestController(t, 200*time.Millisecond, 40, sender)

	require.NoError(t, c.SetPosition(context.Background(), 40))

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, sender.commands())
	assert.False(t, c.IsMoving())
}

func TestSetPositionOutOfRange(t *testing.T) {
	sender := &fakeSender{}
	c := newTestController(t, 200*time.Millisecond, 40, sender)

	assert.Error(t, c.SetPosition(context.Background(), -1))
	assert.Error(t, c.SetPosition(context.Background(), 101))
	assert.Empty(t, sender.commands())
}

func TestSetPositionToBoundarySkipsStop(t *testing.T) {
	sender := &fakeSender{}
	c := newTestController(t, 100*time.Millisecond, 60, sender)

	require.NoError(t, c.SetPosition(context.Background(), 0))
	require.Eventually(t, func() bool { return !c.IsMoving() }, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []inelnet.Action{inelnet.ActionDown}, sender.actions())
	assert.InDelta(t, 0, c.Position(), 1e-6)
}

func TestDeliveryFailureStillAdvancesEstimate(t *testing.T) {
	sender := &fakeSender{failChannels: map[int]bool{1: true}}
	c := newTestController(t, 100*time.Millisecond, 100, sender)

	require.NoError(t, c.Close(context.Background()))
	require.Eventually(t, func() bool { return !c.IsMoving() }, time.Second, 5*time.Millisecond)

	assert.InDelta(t, 0, c.Position(), 1e-6)
	assert.NotEmpty(t, sender.commands())
}

func TestShortUpNudges(t *testing.T) {
	sender := &fakeSender{}
	c := newTestController(t, 400*time.Millisecond, 50, sender)

	require.NoError(t, c.ShortUp(context.Background()))
	require.Eventually(t, func() bool { return !c.IsMoving() }, time.Second, 5*time.Millisecond)

	assert.InDelta(t, 55, c.Position(), 1e-6)
	require.Eventually(t, func() bool { return len(sender.actions()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, []inelnet.Action{inelnet.ActionUpShort}, sender.actions())
}

func TestResetPosition(t *testing.T) {
	sender := &fakeSender{}
	c := newTestController(t, time.Second, 0, sender)

	require.NoError(t, c.ResetPosition(70))
	assert.InDelta(t, 70, c.Position(), 1e-9)

	assert.Error(t, c.ResetPosition(120))
}

func TestResetPositionWhileMovingFails(t *testing.T) {
	sender := &fakeSender{}
	c := newTestController(t, 500*time.Millisecond, 0, sender)

	require.NoError(t, c.Open(context.Background()))
	assert.Error(t, c.ResetPosition(10))

	require.NoError(t, c.Stop(context.Background()))
}

func TestUpdateHandlerSeesTransitions(t *testing.T) {
	sender := &fakeSender{}
	c := newTestController(t, 100*time.Millisecond, 0, sender)

	var mu sync.Mutex
	var states []string
	c.OnUpdate(func(state string, position int) {
		mu.Lock()
		states = append(states, state)
		mu.Unlock()
	})

	require.NoError(t, c.Open(context.Background()))
	require.Eventually(t, func() bool { return !c.IsMoving() }, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, states)
	assert.Equal(t, StateOpening, states[0])
	assert.Equal(t, StateOpen, states[len(states)-1])
}
