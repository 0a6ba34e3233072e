// Package feedback fuses the mainboard's digital and analog feedback
// signals into a single 27-entry status vector, grounded on
// Core/Inc/bms/feedback.h's FeedbackId/FeedbackStatus
// enums and feedback_check_values. The digital bank is acquired in
// one GPIO-bank read (bit_flag32_t) and the analog bank is filled
// sample-by-sample by the ADC DMA-complete ISR, mirroring
// feedback_update_analog_feedback's per-channel update.
package feedback

import "sync"

// Status is one feedback entry's classification.
type Status uint8

const (
	StatusLow Status = iota
	StatusError
	StatusHigh
)

// ID enumerates all 27 feedback entries, spanning both acquisition
// banks, matching Core/Inc/bms/feedback.h's FeedbackId ordering (the
// bits first, the analog channels after).
type ID uint8

const (
	AirnOpenCom ID = iota
	AirpOpenCom
	SdImdFb
	SdBmsFb
	PrechargeOpenCom
	PrechargeOpenMec
	TsLessThan60V
	PlausibleState
	BmsFaultCockpitLed
	ImdFaultCockpitLed
	IndicatorConnected
	LatchReset
	ImplausibleStateLatched
	BmsFaultLatched
	ImdFaultLatched
	ExtFaultLatched
	PlausibleStatePersisted // digital bank ends here: 17 bits
	AirnOpenMec
	AirpOpenMec
	ImdOk
	PlausibleStateRc
	TsalGreen
	Probing3V3
	SdOut
	SdIn
	SdEnd
	V5Mcu // analog bank ends here: 10 channels
	idCount
)

// Count is the total number of feedback entries (27).
const Count = int(idCount)

// DigitalBitCount / AnalogChannelCount split Count into its two
// acquisition banks.
const (
	DigitalBitCount    = int(AirnOpenMec)
	AnalogChannelCount = Count - DigitalBitCount
)

// analogChannel converts a feedback ID in the analog bank to its
// 0-based ADC channel index.
func analogChannel(id ID) int { return int(id) - DigitalBitCount }

// Thresholds in millivolts, matching feedback.h's
// FEEDBACK_THRESHOLD_HIGH_MILLIVOLT / _LOW_MILLIVOLT.
const (
	ThresholdHighMv uint16 = 1900
	ThresholdLowMv  uint16 = 700
)

// LowCompressedMv is the low threshold used for IMD-OK and the AIR
// mechanical-feedback channels, whose signal swing is compressed by
// the sense network; it sits above ThresholdLowMv, so readings up to
// 1.4 V still count as LOW there. Preserved as a literal, not derived.
const LowCompressedMv uint16 = 1400

// hardwareAnalogIndex maps a feedback ID's logical analog channel to
// the physical ADC channel it is actually wired to. AIRN_OPEN_MEC and
// AIRP_OPEN_MEC are swapped here relative to the schematic, a wiring
// mistake preserved from the original firmware rather than corrected.
var hardwareAnalogIndex = [AnalogChannelCount]int{
	analogChannel(AirnOpenMec): analogChannel(AirpOpenMec),
	analogChannel(AirpOpenMec): analogChannel(AirnOpenMec),
	analogChannel(ImdOk):            analogChannel(ImdOk),
	analogChannel(PlausibleStateRc):  analogChannel(PlausibleStateRc),
	analogChannel(TsalGreen):         analogChannel(TsalGreen),
	analogChannel(Probing3V3):        analogChannel(Probing3V3),
	analogChannel(SdOut):             analogChannel(SdOut),
	analogChannel(SdIn):              analogChannel(SdIn),
	analogChannel(SdEnd):             analogChannel(SdEnd),
	analogChannel(V5Mcu):             analogChannel(V5Mcu),
}

// lowThreshold returns the low threshold to apply for a given analog
// feedback ID.
func lowThreshold(id ID) uint16 {
	switch id {
	case ImdOk, AirnOpenMec, AirpOpenMec:
		return LowCompressedMv
	default:
		return ThresholdLowMv
	}
}

// Handler owns the acquired digital bitflag and analog raw voltages
// and derives the classified status vector.
type Handler struct {
	mu      sync.RWMutex
	digital uint32
	analog  [AnalogChannelCount]uint16
	status  [idCount]Status
}

// New builds a feedback handler with every status defaulted to LOW
// (no reading has been acquired yet).
func New() *Handler {
	return &Handler{}
}

// UpdateDigitalAll is the GPIO-bank read callback result, a single
// bitflag with one fixed bit per digital feedback.
func (h *Handler) UpdateDigitalAll(bits uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.digital = bits
	h.recomputeLocked()
}

// UpdateAnalog records one ADC DMA-complete sample for a logical
// analog feedback channel, applying the preserved hardware index
// swap before storing it.
func (h *Handler) UpdateAnalog(logicalIndex int, mv uint16) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if logicalIndex < 0 || logicalIndex >= AnalogChannelCount {
		return
	}
	h.analog[hardwareAnalogIndex[logicalIndex]] = mv
	h.recomputeLocked()
}

func (h *Handler) recomputeLocked() {
	for i := 0; i < DigitalBitCount; i++ {
		if h.digital&(1<<uint(i)) != 0 {
			h.status[i] = StatusHigh
		} else {
			h.status[i] = StatusLow
		}
	}
	for id := ID(DigitalBitCount); id < idCount; id++ {
		mv := h.analog[analogChannel(id)]
		h.status[id] = classify(id, mv)
	}
}

func classify(id ID, mv uint16) Status {
	if id == Probing3V3 {
		if mv >= ThresholdLowMv && mv <= ThresholdHighMv {
			return StatusHigh
		}
		return StatusError
	}
	low := lowThreshold(id)
	switch {
	case mv >= ThresholdHighMv:
		return StatusHigh
	case mv <= low:
		return StatusLow
	default:
		return StatusError
	}
}

// Get returns one feedback entry's current status.
func (h *Handler) Get(id ID) Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status[id]
}

// Vector returns a snapshot of all 27 entries, from which
// cmd/mainboard builds the hv_feedback_status and hv_feedback_digital
// telemetry.
func (h *Handler) Vector() [idCount]Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

// CheckValues implements feedback_check_values: every feedback
// selected by mask must match its expected bit (LOW=0, HIGH=1); any
// ERROR status counts as not matching.
func (h *Handler) CheckValues(mask, expected uint32) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for i := 0; i < Count; i++ {
		bit := uint32(1) << uint(i)
		if mask&bit == 0 {
			continue
		}
		want := expected&bit != 0
		switch h.status[i] {
		case StatusHigh:
			if !want {
				return false
			}
		case StatusLow:
			if want {
				return false
			}
		default: // StatusError
			return false
		}
	}
	return true
}
