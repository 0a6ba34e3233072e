// Package voltage owns the 6xN cell voltage matrix, grounded on
// Core/Src/bms/volt.c's per-cellboard/per-cell loops and
// on od_variable.go's range-checked setter (WriteValue validates
// against low/high before committing), generalized here to a matrix
// that reports range violations to pkg/faults instead of rejecting
// the write: a BMS cannot refuse a cellboard's report, it must record
// the fault and keep the last-known reading.
package voltage

import (
	"sync"

	bms "github.com/eagletrt/bms-mainboard"
	"github.com/eagletrt/bms-mainboard/pkg/canlib"
	"github.com/eagletrt/bms-mainboard/pkg/faults"
)

// CellsPerSegment is the series cell count per cellboard segment.
const CellsPerSegment = 18

// MinMv / MaxMv bound a valid cell reading, matching
// Core/Inc/bms/volt.h's VOLT_MIN_MILLIVOLT / VOLT_MAX_MILLIVOLT.
const (
	MinMv uint16 = 2800
	MaxMv uint16 = 4200
)

// Aggregator owns the cell voltage matrix and publishes pack-wide
// min/max/avg for telemetry and the balancer.
type Aggregator struct {
	mu     sync.RWMutex
	cells  [canlib.CellboardCount][CellsPerSegment]uint16
	faults *faults.Handler
	now    func() bms.Ticks
}

// New builds an aggregator with every cell initialized to MaxMv so
// the balancer never sees a spurious "minimum" before any cellboard
// has reported.
func New(f *faults.Handler, now func() bms.Ticks) *Aggregator {
	a := &Aggregator{faults: f, now: now}
	for b := range a.cells {
		for c := range a.cells[b] {
			a.cells[b][c] = MaxMv
		}
	}
	return a
}

// HandlePage is the dispatch handler for one cellboard voltage page,
// wired as a pkg/canbus.Handler for canlib.IdxCellboardVoltage.
func (a *Aggregator) HandlePage(frame bms.Frame) error {
	msg, err := canlib.UnpackCellboardVoltage(frame.Payload[:frame.Len])
	if err != nil {
		return err
	}
	if int(msg.CellboardID) >= canlib.CellboardCount {
		return bms.ErrIllegalArgument
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	for i, v := range msg.CellsMv {
		cell := int(msg.Offset) + i
		if cell >= CellsPerSegment {
			break
		}
		a.cells[msg.CellboardID][cell] = v
		if a.faults != nil {
			a.faults.Toggle(v < MinMv, faults.GroupUnderVoltage, cellInstance(msg.CellboardID, uint8(cell)), now)
			a.faults.Toggle(v > MaxMv, faults.GroupOverVoltage, cellInstance(msg.CellboardID, uint8(cell)), now)
		}
	}
	return nil
}

func cellInstance(cellboard, cell uint8) uint16 {
	return uint16(cellboard)*CellsPerSegment + uint16(cell)
}

// Cell returns one cell's last-known reading in millivolts.
func (a *Aggregator) Cell(cellboard, cell int) uint16 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cells[cellboard][cell]
}

// MinMax returns the pack-wide minimum and maximum cell voltages.
func (a *Aggregator) MinMax() (min, max uint16) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	min, max = MaxMv, MinMv
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

// Sum returns the sum of all cell voltages in millivolts, used by
// pkg/current's TS-voltage delta check.
func (a *Aggregator) Sum() uint32 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var sum uint32
	for _, board := range a.cells {
		for _, v := range board {
			sum += uint32(v)
		}
	}
	return sum
}

// Average returns the pack-wide average cell voltage.
func (a *Aggregator) Average() uint16 {
	a.mu.RLock()
	count := canlib.CellboardCount * CellsPerSegment
	a.mu.RUnlock()
	return uint16(a.Sum() / uint32(count))
}
