package balancer

import (
	"testing"

	"github.com/eagletrt/bms-mainboard/pkg/canlib"
	"github.com/eagletrt/bms-mainboard/pkg/timebase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEvents stands in for the FSM's gated transition: it counts the
// requests it receives and, like the real FSM, drives Start/Stop back
// into the coordinator itself when it is wired to one.
type fakeEvents struct {
	c             *Coordinator
	starts, stops int
}

func (f *fakeEvents) BalancingStart() {
	f.starts++
	if f.c != nil {
		f.c.Start()
	}
}

func (f *fakeEvents) BalancingStop() {
	f.stops++
	if f.c != nil {
		f.c.Stop()
	}
}

func newCoordinator(t *testing.T, tb *timebase.Timebase, enableTask TaskEnableFunc, minVoltage MinVoltageSource) (*Coordinator, *fakeEvents) {
	t.Helper()
	events := &fakeEvents{}
	c, err := New(tb, enableTask, minVoltage, events)
	require.NoError(t, err)
	events.c = c
	return c, events
}

func TestHandleCommandClampsAndPullsToMinimum(t *testing.T) {
	tb := timebase.New(1)
	tb.SetEnable(true)
	enabled := map[int]bool{}
	c, events := newCoordinator(t, tb, func(id int, en bool) { enabled[id] = en }, func() uint16 { return 3700 })

	require.NoError(t, c.HandleCommand(canlib.BalancingCommand{Active: true, TargetMv: 4100, ThresholdMv: 1}))

	cmd := c.Command(0)
	assert.EqualValues(t, 3700, cmd.TargetMv, "target must be pulled down to the current pack minimum")
	assert.EqualValues(t, ThresholdMinMv, cmd.ThresholdMv, "threshold below range must be clamped up")
	assert.True(t, enabled[0])
	assert.True(t, enabled[5])
	assert.Equal(t, 1, events.starts)
}

func TestHandleCommandNeverStartsDirectly(t *testing.T) {
	tb := timebase.New(1)
	tb.SetEnable(true)
	enabled := map[int]bool{}
	events := &fakeEvents{} // not wired to any coordinator: Start/Stop must never be reached without it
	c, err := New(tb, func(id int, en bool) { enabled[id] = en }, func() uint16 { return 3700 }, events)
	require.NoError(t, err)

	require.NoError(t, c.HandleCommand(canlib.BalancingCommand{Active: true, TargetMv: 3700, ThresholdMv: 50}))

	assert.Equal(t, 1, events.starts, "a request must reach the sink")
	assert.False(t, c.Active(), "HandleCommand alone must never flip active; only a gated Start() may")
	assert.False(t, enabled[0], "HandleCommand alone must never enable the periodic send tasks")
}

func TestDeadManStopsAfterTimeout(t *testing.T) {
	tb := timebase.New(1)
	tb.SetEnable(true)
	enabled := map[int]bool{}
	c, events := newCoordinator(t, tb, func(id int, en bool) { enabled[id] = en }, func() uint16 { return 4200 })

	require.NoError(t, c.HandleCommand(canlib.BalancingCommand{Active: true, TargetMv: 3700, ThresholdMv: 50}))
	for i := 0; i < int(DeadManTimeoutMs)+5; i++ {
		tb.IncTick()
		tb.Routine()
	}
	assert.False(t, c.Active())
	assert.False(t, enabled[0])
	assert.Equal(t, 1, events.stops, "dead-man cutoff stops directly but still notifies the FSM for observability")
}

func TestRefreshBeforeTimeoutKeepsBalancingActive(t *testing.T) {
	tb := timebase.New(1)
	tb.SetEnable(true)
	c, _ := newCoordinator(t, tb, func(id int, en bool) {}, func() uint16 { return 4200 })

	require.NoError(t, c.HandleCommand(canlib.BalancingCommand{Active: true, TargetMv: 3700, ThresholdMv: 50}))
	for i := 0; i < 2000; i++ {
		tb.IncTick()
		tb.Routine()
		if i == 1000 {
			require.NoError(t, c.HandleCommand(canlib.BalancingCommand{Active: true, TargetMv: 3700, ThresholdMv: 50}))
		}
	}
	assert.True(t, c.Active())
}

func TestActiveFalseToTrueTransitionFiresStartOnce(t *testing.T) {
	tb := timebase.New(1)
	tb.SetEnable(true)
	c, events := newCoordinator(t, tb, func(id int, en bool) {}, func() uint16 { return 4200 })

	require.NoError(t, c.HandleCommand(canlib.BalancingCommand{Active: true, TargetMv: 3700, ThresholdMv: 50}))
	require.NoError(t, c.HandleCommand(canlib.BalancingCommand{Active: true, TargetMv: 3650, ThresholdMv: 50}))
	assert.Equal(t, 1, events.starts, "refreshing the same active command must not re-fire BalancingStart")
}
