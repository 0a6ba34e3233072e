package current

import (
	"testing"

	bms "github.com/eagletrt/bms-mainboard"
	"github.com/eagletrt/bms-mainboard/pkg/canlib"
	"github.com/eagletrt/bms-mainboard/pkg/faults"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleCurrentUpdatesScalar(t *testing.T) {
	m := New(nil, func() bms.Ticks { return 0 })
	msg := canlib.CurrentSensor{CurrentMa: 5000}
	payload, length := msg.Pack()
	require.NoError(t, m.HandleCurrent(bms.NewFrame(bms.NetworkBMS, canlib.IdxCurrentSensor, payload[:length])))
	assert.EqualValues(t, 5000, m.CurrentMa())
}

func TestOverCurrentRaisesFault(t *testing.T) {
	f := faults.New(map[faults.Group]bms.Ticks{faults.GroupOverCurrent: 100})
	m := New(f, func() bms.Ticks { return 1 })

	msg := canlib.CurrentSensor{CurrentMa: 150000}
	payload, length := msg.Pack()
	require.NoError(t, m.HandleCurrent(bms.NewFrame(bms.NetworkBMS, canlib.IdxCurrentSensor, payload[:length])))
	assert.True(t, f.IsRunning(faults.GroupOverCurrent, internalInstanceCurrent))

	msg = canlib.CurrentSensor{CurrentMa: 1000}
	payload, length = msg.Pack()
	require.NoError(t, m.HandleCurrent(bms.NewFrame(bms.NetworkBMS, canlib.IdxCurrentSensor, payload[:length])))
	assert.False(t, f.IsRunning(faults.GroupOverCurrent, internalInstanceCurrent))
}

func TestUnderCurrentRaisesFault(t *testing.T) {
	f := faults.New(map[faults.Group]bms.Ticks{faults.GroupOverCurrent: 100})
	m := New(f, func() bms.Ticks { return 1 })

	msg := canlib.CurrentSensor{CurrentMa: -25000}
	payload, length := msg.Pack()
	require.NoError(t, m.HandleCurrent(bms.NewFrame(bms.NetworkBMS, canlib.IdxCurrentSensor, payload[:length])))
	assert.True(t, f.IsRunning(faults.GroupOverCurrent, internalInstanceCurrent))

	msg = canlib.CurrentSensor{CurrentMa: 1000}
	payload, length = msg.Pack()
	require.NoError(t, m.HandleCurrent(bms.NewFrame(bms.NetworkBMS, canlib.IdxCurrentSensor, payload[:length])))
	assert.False(t, f.IsRunning(faults.GroupOverCurrent, internalInstanceCurrent))
}

func TestCheckTsDeltaWithinTolerance(t *testing.T) {
	m := New(nil, func() bms.Ticks { return 0 })
	m.UpdateInternalVoltages(75000, 75000, 250, 75000)
	assert.True(t, m.CheckTsDelta(74500))
	assert.False(t, m.CheckTsDelta(70000))
}

func TestCheckTsDeltaRaisesFaultOnMismatch(t *testing.T) {
	f := faults.New(map[faults.Group]bms.Ticks{faults.GroupOverVoltage: 100})
	m := New(f, func() bms.Ticks { return 2 })
	m.UpdateInternalVoltages(75000, 75000, 250, 75000)

	assert.False(t, m.CheckTsDelta(70000))
	assert.True(t, f.IsRunning(faults.GroupOverVoltage, tsDeltaInstance))
}
