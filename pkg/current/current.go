// Package current tracks pack current and the four internal-voltage
// scalars (TS voltage, pack voltage, precharge-heatsink temperature,
// IMD-TS connection), grounded on Core/Inc/bms/current.h's range
// constants and the "ts-on" delta invariant: |TS - sum(cells)| <=
// DELTA_V.
package current

import (
	"sync"

	bms "github.com/eagletrt/bms-mainboard"
	"github.com/eagletrt/bms-mainboard/pkg/canlib"
	"github.com/eagletrt/bms-mainboard/pkg/faults"
)

// MinMa / MaxMa bound a valid pack current reading, matching
// Core/Inc/bms/current.h's CURRENT_MIN_MILLIAMPERE / CURRENT_MAX_MILLIAMPERE.
const (
	MinMa int32 = -22000
	MaxMa int32 = 130000
)

// DeltaMv is the maximum tolerated drift between TS voltage and the
// sum of all cell readings while TS is on.
const DeltaMv = 2000

const internalInstanceCurrent uint16 = 0

// Monitor owns the pack current scalar and the four ADC-polled
// internal voltages.
type Monitor struct {
	mu sync.RWMutex

	currentMa int32

	tsMv            int32
	packMv          int32
	heatsinkCTenths int32
	imdTsMv         int32

	faults *faults.Handler
	now    func() bms.Ticks
}

// New builds a current/internal-voltage monitor.
func New(f *faults.Handler, now func() bms.Ticks) *Monitor {
	return &Monitor{faults: f, now: now}
}

// HandleCurrent is the pkg/canbus.Handler for canlib.IdxCurrentSensor,
// updating the pack current scalar from an IVT-sensor CAN message.
func (m *Monitor) HandleCurrent(frame bms.Frame) error {
	msg, err := canlib.UnpackCurrentSensor(frame.Payload[:frame.Len])
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.currentMa = msg.CurrentMa
	m.mu.Unlock()

	if m.faults != nil {
		now := m.now()
		m.faults.Toggle(msg.CurrentMa < MinMa || msg.CurrentMa > MaxMa, faults.GroupOverCurrent, internalInstanceCurrent, now)
	}
	return nil
}

// CurrentMa returns the last-known pack current in milliamperes.
func (m *Monitor) CurrentMa() int32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentMa
}

// UpdateInternalVoltages records the four scalars read from the
// external ADC. Nothing in cmd/mainboard calls it: the host build has
// no external-ADC driver, so there the four values stay at zero.
func (m *Monitor) UpdateInternalVoltages(tsMv, packMv, heatsinkCTenths, imdTsMv int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tsMv = tsMv
	m.packMv = packMv
	m.heatsinkCTenths = heatsinkCTenths
	m.imdTsMv = imdTsMv
}

// TsMv, PackMv, HeatsinkCTenths, ImdTsMv return the four internal
// scalars in their natural units (millivolts, millivolts, tenths of a
// degree Celsius, millivolts).
func (m *Monitor) TsMv() int32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tsMv
}

func (m *Monitor) PackMv() int32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.packMv
}

func (m *Monitor) HeatsinkCTenths() int32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.heatsinkCTenths
}

func (m *Monitor) ImdTsMv() int32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.imdTsMv
}

// CheckTsDelta implements the "ts-on" invariant: the TS voltage
// reading must track the sum of all cell voltages within
// DeltaMv millivolts, or a fault is raised. cellSumMv is supplied by
// pkg/voltage.Aggregator.Sum. cmd/mainboard calls it from a periodic
// task that only runs the check while the FSM is in TS_ON.
func (m *Monitor) CheckTsDelta(cellSumMv uint32) bool {
	m.mu.RLock()
	ts := m.tsMv
	m.mu.RUnlock()

	delta := ts - int32(cellSumMv)
	if delta < 0 {
		delta = -delta
	}
	ok := delta <= DeltaMv
	if m.faults != nil {
		m.faults.Toggle(!ok, faults.GroupOverVoltage, tsDeltaInstance, m.now())
	}
	return ok
}

// tsDeltaInstance is a dedicated instance within GroupOverVoltage for
// the TS/cell-sum consistency check, distinct from per-cell instances
// (see pkg/voltage's cellInstance encoding, which never reaches this
// value for any real cellboard/cell pair).
const tsDeltaInstance uint16 = 0xFFFF
