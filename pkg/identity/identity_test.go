package identity

import (
	"testing"

	bms "github.com/eagletrt/bms-mainboard"
	"github.com/stretchr/testify/assert"
)

func fullCallbacks() Callbacks {
	noop := func() {}
	return Callbacks{
		SystemReset:       noop,
		CriticalEnter:     noop,
		CriticalExit:      noop,
		CanSend:           func(bms.Network, uint16, bms.FrameType, []byte, uint8) error { return nil },
		PinSet:            func(uint8, bool) {},
		PinToggle:         func(uint8) {},
		ImdStart:          noop,
		FeedbackReadAll:   func() uint32 { return 0 },
		FeedbackStartConv: noop,
	}
}

func TestRunPOSTSucceedsWithAllCallbacks(t *testing.T) {
	assert.NoError(t, RunPOST(fullCallbacks()))
}

func TestRunPOSTFailsOnMissingCallback(t *testing.T) {
	cb := fullCallbacks()
	cb.ImdStart = nil
	assert.ErrorIs(t, RunPOST(cb), bms.ErrNullArgument)
}

func TestRecordAndReadCellboardVersion(t *testing.T) {
	id := New(BuildInfo{Version: "1.2.3"})
	_, ok := id.CellboardVersion(2)
	assert.False(t, ok)

	require := assert.New(t)
	require.NoError(id.RecordCellboardVersion(2, CellboardVersion{Major: 1, Minor: 4, Patch: 0}))

	v, ok := id.CellboardVersion(2)
	require.True(ok)
	require.Equal(CellboardVersion{Major: 1, Minor: 4, Patch: 0}, v)
}

func TestRecordCellboardVersionRejectsOutOfRangeID(t *testing.T) {
	id := New(BuildInfo{})
	assert.ErrorIs(t, id.RecordCellboardVersion(99, CellboardVersion{}), bms.ErrIllegalArgument)
}
