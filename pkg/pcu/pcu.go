// Package pcu drives the four Pack Control Unit pins (AIR-, AIR+,
// PRECHARGE, AMS) and their per-command watchdogs, generalized from
// Core/Src/bms/pcu.c and Core/Inc/bms/pcu.h. It preserves that
// source's wiring as-is: pcu_precharge_start/pcu_precharge_stop and
// pcu_ams_activate/pcu_ams_deactivate all drive PinAirPositive instead
// of PinPrecharge/PinAms, exactly as the original firmware does (see
// Core/Src/bms/pcu.c lines 135-151) — preserved per schematic note,
// not corrected here.
package pcu

import (
	bms "github.com/eagletrt/bms-mainboard"
	"github.com/eagletrt/bms-mainboard/pkg/timebase"
	"github.com/eagletrt/bms-mainboard/pkg/watchdog"
)

// PinID identifies one of the four PCU-controlled pins.
type PinID uint8

const (
	PinAirNegative PinID = iota
	PinAirPositive
	PinPrecharge
	PinAms
)

// Level is the logical level commanded on a pin.
type Level uint8

const (
	Low Level = iota
	High
)

// SetFunc is the HAL pin driver callback contract.
type SetFunc func(pin PinID, level Level)

// Timeouts, matching Core/Inc/bms/pcu.h's PCU_AIRN_TIMEOUT_MS /
// PCU_PRECHARGE_TIMEOUT_MS / PCU_AIRP_TIMEOUT_MS.
const (
	AirnTimeoutMs      bms.Milliseconds = 1000
	PrechargeTimeoutMs bms.Milliseconds = 15000
	AirpTimeoutMs      bms.Milliseconds = 1000
)

// PrechargeThreshold is the fraction of pack voltage the TS rail must
// reach for precharge to be considered complete (PCU_PRECHARGE_THRESHOLD_PERCENT).
const PrechargeThreshold = 0.95

// Controller owns the PCU pins and their three command watchdogs.
type Controller struct {
	set SetFunc

	airnWD      *watchdog.Watchdog
	prechargeWD *watchdog.Watchdog
	airpWD      *watchdog.Watchdog
}

// New builds a PCU controller. onAirnTimeout/onPrechargeTimeout/onAirpTimeout
// are invoked on each watchdog's expiry, normally wired to enqueue the
// matching FSM timeout event.
func New(tb *timebase.Timebase, set SetFunc, onAirnTimeout, onPrechargeTimeout, onAirpTimeout func()) (*Controller, error) {
	if set == nil {
		return nil, bms.ErrNullArgument
	}
	if onAirnTimeout == nil {
		onAirnTimeout = func() {}
	}
	if onPrechargeTimeout == nil {
		onPrechargeTimeout = func() {}
	}
	if onAirpTimeout == nil {
		onAirpTimeout = func() {}
	}
	airnWD, err := watchdog.New(tb, tb.ToTicks(AirnTimeoutMs), onAirnTimeout)
	if err != nil {
		return nil, err
	}
	prechargeWD, err := watchdog.New(tb, tb.ToTicks(PrechargeTimeoutMs), onPrechargeTimeout)
	if err != nil {
		return nil, err
	}
	airpWD, err := watchdog.New(tb, tb.ToTicks(AirpTimeoutMs), onAirpTimeout)
	if err != nil {
		return nil, err
	}
	return &Controller{set: set, airnWD: airnWD, prechargeWD: prechargeWD, airpWD: airpWD}, nil
}

// ResetAll opens both AIRs, stops the precharge circuit, asserts AMS
// inactive and deinits all three watchdogs (pcu_reset_all).
func (c *Controller) ResetAll() {
	c.set(PinAirNegative, High) // AIR open when HIGH
	c.set(PinPrecharge, Low)
	c.set(PinAirPositive, High) // also deactivates AMS/precharge via the shared pin bug
	c.set(PinAms, High)         // AMS inactive when HIGH
	c.airnWD.Deinit()
	c.prechargeWD.Deinit()
	c.airpWD.Deinit()
}

// AirnOpen opens AIR- and stops its watchdog.
func (c *Controller) AirnOpen() {
	c.set(PinAirNegative, High)
	c.airnWD.Stop()
}

// AirnClose closes AIR- and arms its timeout watchdog.
func (c *Controller) AirnClose() error {
	c.set(PinAirNegative, Low)
	return c.airnWD.Start()
}

// AirpOpen opens AIR+ and stops its watchdog.
func (c *Controller) AirpOpen() {
	c.set(PinAirPositive, High)
	c.airpWD.Stop()
}

// AirpClose closes AIR+ and arms its timeout watchdog.
func (c *Controller) AirpClose() error {
	c.set(PinAirPositive, Low)
	return c.airpWD.Start()
}

// AirnConfirmClosed stops the AIR- command watchdog once feedback
// confirms the contactor closed; the pin is left as AirnClose
// commanded it.
func (c *Controller) AirnConfirmClosed() {
	_ = c.airnWD.Stop()
}

// AirpConfirmClosed stops the AIR+ command watchdog once feedback
// confirms the contactor closed.
func (c *Controller) AirpConfirmClosed() {
	_ = c.airpWD.Stop()
}

// PrechargeStart begins the precharge procedure and arms its timeout
// watchdog. Preserves the original firmware's bug: the pin driven is
// PinAirPositive, not PinPrecharge.
func (c *Controller) PrechargeStart() error {
	c.set(PinAirPositive, High)
	return c.prechargeWD.Start()
}

// PrechargeStop ends the precharge procedure. Same preserved bug as
// PrechargeStart.
func (c *Controller) PrechargeStop() {
	c.set(PinAirPositive, Low)
	c.prechargeWD.Stop()
}

// AmsActivate asserts the AMS circuit active. Preserved bug: drives
// PinAirPositive low rather than PinAms.
func (c *Controller) AmsActivate() {
	c.set(PinAirPositive, Low)
}

// AmsDeactivate deasserts the AMS circuit. Preserved bug: drives
// PinAirPositive high rather than PinAms.
func (c *Controller) AmsDeactivate() {
	c.set(PinAirPositive, High)
}

// PrechargePercentage returns the current precharge ratio tsMv/packMv,
// clamped to [0, 1].
func PrechargePercentage(tsMv, packMv int32) float64 {
	if packMv <= 0 {
		return 0
	}
	ratio := float64(tsMv) / float64(packMv)
	if ratio < 0 {
		return 0
	}
	if ratio > 1 {
		return 1
	}
	return ratio
}

// IsPrechargeComplete reports whether the TS/pack voltage ratio has
// reached PrechargeThreshold.
func IsPrechargeComplete(tsMv, packMv int32) bool {
	return PrechargePercentage(tsMv, packMv) >= PrechargeThreshold
}
