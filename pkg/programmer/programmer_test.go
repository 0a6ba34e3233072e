package programmer

import (
	"testing"

	"github.com/eagletrt/bms-mainboard/pkg/canlib"
	"github.com/eagletrt/bms-mainboard/pkg/timebase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlashHandshakeHappyPath(t *testing.T) {
	tb := timebase.New(1)
	tb.SetEnable(true)
	resetCalled := false
	p, err := New(tb, func() { resetCalled = true }, nil)
	require.NoError(t, err)

	require.NoError(t, p.HandleFlashRequest(canlib.FlashRequest{TargetCellboard: 3}))
	assert.False(t, p.AllReady())

	for i := 0; i < canlib.CellboardCount; i++ {
		p.HandleCellboardReady(canlib.CellboardFlashResponse{CellboardID: uint8(i), Ready: true})
	}
	assert.True(t, p.AllReady())

	p.HandleFlash(canlib.Flash{Start: true})
	assert.True(t, resetCalled)
}

func TestFlashNotTriggeredWhenNotAllReady(t *testing.T) {
	tb := timebase.New(1)
	tb.SetEnable(true)
	resetCalled := false
	p, err := New(tb, func() { resetCalled = true }, nil)
	require.NoError(t, err)

	require.NoError(t, p.HandleFlashRequest(canlib.FlashRequest{TargetCellboard: 0}))
	p.HandleCellboardReady(canlib.CellboardFlashResponse{CellboardID: 0, Ready: true})
	p.HandleFlash(canlib.Flash{Start: true})
	assert.False(t, resetCalled)
}

func TestHandshakeTimeoutNotifiesAndClearsState(t *testing.T) {
	tb := timebase.New(1)
	tb.SetEnable(true)
	timedOut := false
	p, err := New(tb, func() {}, func() { timedOut = true })
	require.NoError(t, err)

	require.NoError(t, p.HandleFlashRequest(canlib.FlashRequest{TargetCellboard: 1}))
	p.HandleCellboardReady(canlib.CellboardFlashResponse{CellboardID: 0, Ready: true})

	for i := 0; i < int(HandshakeTimeoutMs)+5; i++ {
		tb.IncTick()
		tb.Routine()
	}
	assert.True(t, timedOut)
	assert.False(t, p.AllReady())
}
