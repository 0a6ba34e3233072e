package timebase

import (
	"testing"

	bms "github.com/eagletrt/bms-mainboard"
	"github.com/stretchr/testify/assert"
)

func TestIncTickNoopWhenDisabled(t *testing.T) {
	tb := New(1)
	tb.IncTick()
	assert.EqualValues(t, 0, tb.Tick())
	tb.SetEnable(true)
	tb.IncTick()
	assert.EqualValues(t, 1, tb.Tick())
}

func TestRoutineDispatchesPeriodicTask(t *testing.T) {
	tb := New(1)
	tb.SetEnable(true)
	calls := 0
	tb.RegisterTask(&Task{ID: 1, Enabled: true, Interval: 5, Callback: func() { calls++ }})

	for i := 0; i < 12; i++ {
		tb.IncTick()
		tb.Routine()
	}
	// Deadlines at 5 and 10 should have fired.
	assert.Equal(t, 2, calls)
}

func TestTaskDisableSkipsCallbackButKeepsSchedule(t *testing.T) {
	tb := New(1)
	tb.SetEnable(true)
	calls := 0
	tb.RegisterTask(&Task{ID: 1, Enabled: true, Interval: 2, Callback: func() { calls++ }})
	tb.SetTaskEnable(1, false)

	for i := 0; i < 10; i++ {
		tb.IncTick()
		tb.Routine()
	}
	assert.Equal(t, 0, calls)
}

func TestWatchdogExpiresOnce(t *testing.T) {
	tb := New(1)
	tb.SetEnable(true)
	expirations := 0
	w := &fakeWatchdog{onExpire: func() { expirations++ }}
	err := tb.RegisterWatchdog(w, 10)
	assert.NoError(t, err)

	for i := 0; i < 20; i++ {
		tb.IncTick()
		tb.Routine()
	}
	assert.Equal(t, 1, expirations)
	assert.False(t, tb.IsRegisteredWatchdog(w))
}

func TestRegisterWatchdogDedup(t *testing.T) {
	tb := New(1)
	w := &fakeWatchdog{onExpire: func() {}}
	assert.NoError(t, tb.RegisterWatchdog(w, 100))
	assert.ErrorIs(t, tb.RegisterWatchdog(w, 100), bms.ErrBusy)
}

func TestWatchdogHeapCapacity(t *testing.T) {
	tb := New(1)
	for i := 0; i < MaxWatchdogs; i++ {
		w := &fakeWatchdog{onExpire: func() {}}
		assert.NoError(t, tb.RegisterWatchdog(w, 1000))
	}
	overflow := &fakeWatchdog{onExpire: func() {}}
	assert.ErrorIs(t, tb.RegisterWatchdog(overflow, 1000), bms.ErrUnavailable)
}

func TestUpdateWatchdogReschedules(t *testing.T) {
	tb := New(1)
	tb.SetEnable(true)
	expirations := 0
	w := &fakeWatchdog{onExpire: func() { expirations++ }}
	tb.RegisterWatchdog(w, 5)

	for i := 0; i < 3; i++ {
		tb.IncTick()
		tb.Routine()
	}
	assert.NoError(t, tb.UpdateWatchdog(w, 5))
	for i := 0; i < 3; i++ {
		tb.IncTick()
		tb.Routine()
	}
	assert.Equal(t, 0, expirations, "reset should have pushed the deadline out")
	for i := 0; i < 3; i++ {
		tb.IncTick()
		tb.Routine()
	}
	assert.Equal(t, 1, expirations)
}

func TestUnregisterAndUpdateUnknownWatchdogFail(t *testing.T) {
	tb := New(1)
	w := &fakeWatchdog{onExpire: func() {}}
	assert.ErrorIs(t, tb.UnregisterWatchdog(w), bms.ErrNotRegistered)
	assert.ErrorIs(t, tb.UpdateWatchdog(w, 10), bms.ErrNotRegistered)
}

type fakeWatchdog struct {
	onExpire func()
}

func (f *fakeWatchdog) Expire() { f.onExpire() }
