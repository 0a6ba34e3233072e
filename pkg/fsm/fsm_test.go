package fsm

import (
	"testing"

	"github.com/eagletrt/bms-mainboard/pkg/feedback"
	"github.com/eagletrt/bms-mainboard/pkg/pcu"
	"github.com/eagletrt/bms-mainboard/pkg/timebase"
	"github.com/stretchr/testify/require"
)

type fakeBalancer struct {
	started bool
	active  bool
}

func (b *fakeBalancer) Start()       { b.started = true; b.active = true }
func (b *fakeBalancer) Stop()        { b.active = false }
func (b *fakeBalancer) Active() bool { return b.active }

func allNominalFeedback() *feedback.Handler {
	fb := feedback.New()
	// every digital bit HIGH; every analog channel at 2.0 V, which is
	// HIGH everywhere except the 3V3 probe (ERROR above its window, and
	// outside both gating masks).
	fb.UpdateDigitalAll(0x1FFFF)
	for i := 0; i < feedback.AnalogChannelCount; i++ {
		fb.UpdateAnalog(i, 2000)
	}
	return fb
}

func newHarness(t *testing.T, tsMv, packMv int32) (*FSM, *pcu.Controller, *feedback.Handler, *fakeBalancer) {
	t.Helper()
	tb := timebase.New(1)
	tb.SetEnable(true)
	pins := map[pcu.PinID]pcu.Level{}
	set := func(pin pcu.PinID, level pcu.Level) { pins[pin] = level }
	pcuCtl, err := pcu.New(tb, set, func() {}, func() {}, func() {})
	require.NoError(t, err)

	fb := allNominalFeedback()
	bal := &fakeBalancer{}
	f, err := New(pcuCtl, fb, bal, func() (int32, int32) { return tsMv, packMv }, nil)
	require.NoError(t, err)
	return f, pcuCtl, fb, bal
}

func TestPostOkMovesToIdle(t *testing.T) {
	f, _, _, _ := newHarness(t, 400000, 400000)
	f.Enqueue(EventPostOK)
	f.Step()
	require.Equal(t, StateIdle, f.State())
}

func TestPostFailedLatchesFatal(t *testing.T) {
	f, _, _, _ := newHarness(t, 0, 0)
	f.Enqueue(EventPostFailed)
	f.Step()
	require.Equal(t, StateFatal, f.State())
}

func TestTsOnHappyPathReachesTsOn(t *testing.T) {
	f, _, _, _ := newHarness(t, 400000, 400000)
	f.Enqueue(EventPostOK)
	f.Step()

	f.Enqueue(EventTsOn)
	f.Step()
	require.Equal(t, StateAirnCheck, f.State())

	f.Enqueue(EventFeedbackAirnClosed)
	f.Step()
	require.Equal(t, StatePrecharge, f.State())

	f.PollPrechargeGate()
	require.Equal(t, StateAirpCheck, f.State())

	f.Enqueue(EventFeedbackAirpClosed)
	f.Step()
	require.Equal(t, StateTsOn, f.State())
}

func TestPrechargeTimeoutReturnsToIdle(t *testing.T) {
	f, _, _, _ := newHarness(t, 200000, 400000) // ratio 0.5, never completes
	f.Enqueue(EventPostOK)
	f.Step()
	f.Enqueue(EventTsOn)
	f.Step()
	f.Enqueue(EventFeedbackAirnClosed)
	f.Step()
	require.Equal(t, StatePrecharge, f.State())

	f.PollPrechargeGate()
	require.Equal(t, StatePrecharge, f.State(), "ratio below threshold must not advance")

	f.Enqueue(EventPrechargeTimeout)
	f.Step()
	require.Equal(t, StateIdle, f.State())
}

func TestAirnCheckMismatchReturnsToIdle(t *testing.T) {
	f, _, fb, _ := newHarness(t, 400000, 400000)
	f.Enqueue(EventPostOK)
	f.Step()
	f.Enqueue(EventTsOn)
	f.Step()

	fb.UpdateDigitalAll(0) // AIRN feedback never went HIGH
	f.Enqueue(EventFeedbackAirnClosed)
	f.Step()
	require.Equal(t, StateIdle, f.State())
}

func TestBalancingStartOnlyTakesEffectInIdle(t *testing.T) {
	f, _, _, bal := newHarness(t, 400000, 400000)
	f.Enqueue(EventPostOK)
	f.Step()

	f.Enqueue(EventBalancingStart)
	f.Step()
	require.True(t, bal.active)

	bal.active = false
	f.Enqueue(EventTsOn)
	f.Step()
	f.Enqueue(EventBalancingStart)
	f.Step()
	require.False(t, bal.active, "balancing start ignored outside IDLE")
}

func TestPollFeedbackGateDrivesAirnAndAirpTransitions(t *testing.T) {
	f, _, _, _ := newHarness(t, 400000, 400000)
	f.Enqueue(EventPostOK)
	f.Step()

	f.Enqueue(EventTsOn)
	f.Step()
	require.Equal(t, StateAirnCheck, f.State())

	// No explicit EventFeedbackAirnClosed enqueued: the poll alone must
	// detect the already-nominal feedback and advance the FSM.
	f.PollFeedbackGate()
	require.Equal(t, StatePrecharge, f.State())

	f.PollPrechargeGate()
	require.Equal(t, StateAirpCheck, f.State())

	f.PollFeedbackGate()
	require.Equal(t, StateTsOn, f.State())
}

func TestPollFeedbackGateNoopOutsideCheckStates(t *testing.T) {
	f, _, _, _ := newHarness(t, 400000, 400000)
	f.Enqueue(EventPostOK)
	f.Step()
	require.Equal(t, StateIdle, f.State())

	f.PollFeedbackGate()
	require.Equal(t, StateIdle, f.State())
}

func TestTsOffReturnsTsOnToIdle(t *testing.T) {
	f, _, _, _ := newHarness(t, 400000, 400000)
	f.Enqueue(EventPostOK)
	f.Step()
	f.Enqueue(EventTsOn)
	f.Step()
	f.Enqueue(EventFeedbackAirnClosed)
	f.Step()
	f.PollPrechargeGate()
	f.Enqueue(EventFeedbackAirpClosed)
	f.Step()
	require.Equal(t, StateTsOn, f.State())

	f.Enqueue(EventTsOff)
	f.Step()
	require.Equal(t, StateIdle, f.State())
}
