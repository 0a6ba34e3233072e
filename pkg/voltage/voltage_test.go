package voltage

import (
	"testing"

	bms "github.com/eagletrt/bms-mainboard"
	"github.com/eagletrt/bms-mainboard/pkg/canlib"
	"github.com/eagletrt/bms-mainboard/pkg/faults"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializedToMax(t *testing.T) {
	a := New(nil, func() bms.Ticks { return 0 })
	min, max := a.MinMax()
	assert.Equal(t, MaxMv, min)
	assert.Equal(t, MaxMv, max)
}

func TestHandlePageUpdatesCells(t *testing.T) {
	a := New(nil, func() bms.Ticks { return 0 })
	msg := canlib.CellboardVoltage{CellboardID: 2, Offset: 0, CellsMv: [canlib.CellsPerPage]uint16{3700, 3701, 3702}}
	payload, length := msg.Pack()
	frame := bms.NewFrame(bms.NetworkBMS, canlib.IdxCellboardVoltage, payload[:length])

	require.NoError(t, a.HandlePage(frame))
	assert.EqualValues(t, 3700, a.Cell(2, 0))
	assert.EqualValues(t, 3702, a.Cell(2, 2))
}

func TestOutOfRangeRaisesFault(t *testing.T) {
	f := faults.New(map[faults.Group]bms.Ticks{faults.GroupUnderVoltage: 100, faults.GroupOverVoltage: 100})
	tick := bms.Ticks(5)
	a := New(f, func() bms.Ticks { return tick })

	low := canlib.CellboardVoltage{CellboardID: 0, Offset: 0, CellsMv: [canlib.CellsPerPage]uint16{2500, 4200, 4200}}
	payload, length := low.Pack()
	require.NoError(t, a.HandlePage(bms.NewFrame(bms.NetworkBMS, canlib.IdxCellboardVoltage, payload[:length])))

	assert.True(t, f.IsRunning(faults.GroupUnderVoltage, cellInstance(0, 0)))
	assert.False(t, f.IsRunning(faults.GroupOverVoltage, cellInstance(0, 1)))

	high := canlib.CellboardVoltage{CellboardID: 0, Offset: 0, CellsMv: [canlib.CellsPerPage]uint16{3700, 4300, 4200}}
	payload, length = high.Pack()
	require.NoError(t, a.HandlePage(bms.NewFrame(bms.NetworkBMS, canlib.IdxCellboardVoltage, payload[:length])))

	assert.False(t, f.IsRunning(faults.GroupUnderVoltage, cellInstance(0, 0)), "a valid reading resets the fault")
	assert.True(t, f.IsRunning(faults.GroupOverVoltage, cellInstance(0, 1)))
}

func TestSumAndAverage(t *testing.T) {
	a := New(nil, func() bms.Ticks { return 0 })
	total := a.Sum()
	assert.EqualValues(t, uint32(canlib.CellboardCount*CellsPerSegment)*uint32(MaxMv), total)
	assert.Equal(t, MaxMv, a.Average())
}
