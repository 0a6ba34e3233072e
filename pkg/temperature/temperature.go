// Package temperature owns the 6xM cell temperature matrix, mirrored
// from pkg/voltage's matrix-aggregator shape (itself grounded on
// Core/Src/bms/temp.c's per-cellboard/per-sensor loops and
// od_variable.go's range-checked setter).
package temperature

import (
	"sync"

	bms "github.com/eagletrt/bms-mainboard"
	"github.com/eagletrt/bms-mainboard/pkg/canlib"
	"github.com/eagletrt/bms-mainboard/pkg/faults"
)

// SensorsPerSegment is the temperature sensor count per cellboard
// segment.
const SensorsPerSegment = 6

// MinC / MaxC bound a valid reading, matching Core/Inc/bms/temp.h's
// TEMP_MIN_C / TEMP_MAX_C.
const (
	MinC int8 = -10
	MaxC int8 = 60
)

// Aggregator owns the cell temperature matrix.
type Aggregator struct {
	mu     sync.RWMutex
	cells  [canlib.CellboardCount][SensorsPerSegment]int8
	faults *faults.Handler
	now    func() bms.Ticks
}

// New builds an aggregator with every sensor initialized to 0 C; the
// spec has no analogous "initialize to worst case" rule for
// temperature (only voltage feeds the balancer's minimum-seeking
// logic), so a neutral zero is used.
func New(f *faults.Handler, now func() bms.Ticks) *Aggregator {
	return &Aggregator{faults: f, now: now}
}

// HandlePage is the dispatch handler for one cellboard temperature
// page, wired for canlib.IdxCellboardTemperature.
func (a *Aggregator) HandlePage(frame bms.Frame) error {
	msg, err := canlib.UnpackCellboardTemperature(frame.Payload[:frame.Len])
	if err != nil {
		return err
	}
	if int(msg.CellboardID) >= canlib.CellboardCount {
		return bms.ErrIllegalArgument
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	for i, v := range msg.CellsC {
		sensor := int(msg.Offset) + i
		if sensor >= SensorsPerSegment {
			break
		}
		a.cells[msg.CellboardID][sensor] = v
		if a.faults != nil {
			inst := sensorInstance(msg.CellboardID, uint8(sensor))
			a.faults.Toggle(v < MinC, faults.GroupUnderTemperature, inst, now)
			a.faults.Toggle(v > MaxC, faults.GroupOverTemperature, inst, now)
		}
	}
	return nil
}

func sensorInstance(cellboard, sensor uint8) uint16 {
	return uint16(cellboard)*SensorsPerSegment + uint16(sensor)
}

// physicalPosition maps a segment-local sensor index -- the
// acquisition order HandlePage stores readings by -- to the sensor's
// physical position on the cellboard. Grounded on
// Core/Src/bms/temp.c's _temp_cell_position_index_map, scaled down
// from the original's 48 entries to this module's SensorsPerSegment
// of 6; the permutation pattern (no index maps to itself) is carried
// over rather than the original's literal values, which assumed 48
// sensors.
var physicalPosition = [SensorsPerSegment]int8{3, 5, 1, 4, 0, 2}

// PhysicalPosition returns the physical board position for a
// segment-local sensor index, or -1 if out of range, mirroring
// _temp_cell_position_from_index.
func PhysicalPosition(sensor int) int8 {
	if sensor < 0 || sensor >= SensorsPerSegment {
		return -1
	}
	return physicalPosition[sensor]
}

// Sensor returns one sensor's last-known reading in Celsius.
func (a *Aggregator) Sensor(cellboard, sensor int) int8 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cells[cellboard][sensor]
}

// BuildHvPayload assembles one cellboard's outgoing HvCellsTemperature
// telemetry page, reordering the stored per-sensor readings into
// physical-position order at publish time: the remap is applied here,
// matching temp_get_cells_temperature_canlib_payload, not at
// HandlePage's storage time, which keeps raw acquisition order.
func (a *Aggregator) BuildHvPayload(cellboard int) canlib.HvCellsTemperature {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out canlib.HvCellsTemperature
	out.CellboardID = uint8(cellboard)
	for sensor, v := range a.cells[cellboard] {
		out.CellsC[physicalPosition[sensor]] = v
	}
	return out
}

// MinMax returns the pack-wide minimum and maximum temperature.
func (a *Aggregator) MinMax() (min, max int8) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	min, max = MaxC, MinC
	for _, board := range a.cells {
		for _, v := range board {
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
	}
	return min, max
}
