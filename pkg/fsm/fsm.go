// Package fsm implements the pack lifecycle state machine: a single
// state variable with a single coalescing pending-event slot, stepped
// once per main-loop pass. Structured
// after pkg/nmt/nmt.go's processCommand/setState shape (state enum +
// description map, state-change callbacks), generalized from NMT
// commands to TS-on/off, precharge and flash events.
package fsm

import (
	"sync"

	bms "github.com/eagletrt/bms-mainboard"
	"github.com/eagletrt/bms-mainboard/pkg/feedback"
	"github.com/eagletrt/bms-mainboard/pkg/pcu"
	"github.com/sirupsen/logrus"
)

// State is one pack lifecycle state.
type State uint8

const (
	StateInit State = iota
	StateIdle
	StateAirnCheck
	StatePrecharge
	StateAirpCheck
	StateTsOn
	StateFlash
	StateFatal
)

var stateName = map[State]string{
	StateInit:      "INIT",
	StateIdle:      "IDLE",
	StateAirnCheck: "AIRN_CHECK",
	StatePrecharge: "PRECHARGE",
	StateAirpCheck: "AIRP_CHECK",
	StateTsOn:      "TS_ON",
	StateFlash:     "FLASH",
	StateFatal:     "FATAL",
}

func (s State) String() string {
	if name, ok := stateName[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// DisplayCode is the single 7-segment character for each state, the
// pack's user-visible lifecycle indicator. The FSM itself does not
// drive a display; callers read this mapping.
func (s State) DisplayCode() byte {
	switch s {
	case StateIdle:
		return 'I'
	case StatePrecharge:
		return 'P'
	case StateTsOn:
		return 't'
	case StateFatal:
		return 'F'
	default:
		return '-'
	}
}

// Event is one FSM input. Events coalesce: only the latest pending
// event is kept.
type Event uint8

const (
	EventIgnored Event = iota
	EventPostOK
	EventPostFailed
	EventTsOn
	EventTsOff
	EventFlashRequest
	EventBalancingStart
	EventBalancingStop
	EventAirnTimeout
	EventPrechargeTimeout
	EventAirpTimeout
	EventFeedbackAirnClosed
	EventFeedbackAirpClosed
	EventFlashHandshakeComplete
)

var eventName = map[Event]string{
	EventPostOK:                 "POST_OK",
	EventPostFailed:             "POST_FAILED",
	EventTsOn:                   "TS_ON",
	EventTsOff:                  "TS_OFF",
	EventFlashRequest:           "FLASH_REQUEST",
	EventBalancingStart:         "BALANCING_START",
	EventBalancingStop:          "BALANCING_STOP",
	EventAirnTimeout:            "AIRN_TIMEOUT",
	EventPrechargeTimeout:       "PRECHARGE_TIMEOUT",
	EventAirpTimeout:            "AIRP_TIMEOUT",
	EventFeedbackAirnClosed:     "FEEDBACK_AIRN_CLOSED",
	EventFeedbackAirpClosed:     "FEEDBACK_AIRP_CLOSED",
	EventFlashHandshakeComplete: "FLASH_HANDSHAKE_COMPLETE",
}

func (e Event) String() string {
	if name, ok := eventName[e]; ok {
		return name
	}
	return "IGNORED"
}

// Feedback gating masks for AIRN_CHECK->PRECHARGE and
// AIRP_CHECK->TS_ON: before closing AIR+, AIRN-com and AIRN-mec must
// be HIGH, SD-end must be HIGH, and AIR+-com and AIR+-mec must be
// HIGH. In both masks every selected bit is expected HIGH, so mask
// and expected are the same value.
const (
	maskAirnClosed = 1<<feedback.AirnOpenCom | 1<<feedback.AirnOpenMec
	maskAirpClosed = 1<<feedback.AirnOpenCom | 1<<feedback.AirnOpenMec |
		1<<feedback.SdEnd | 1<<feedback.AirpOpenCom | 1<<feedback.AirpOpenMec
)

// VoltageSource supplies the TS/pack voltage pair the FSM consults to
// gate PRECHARGE -> AIRP_CHECK via the precharge completion check.
type VoltageSource func() (tsMv, packMv int32)

// BalancerControl is the subset of pkg/balancer.Coordinator the FSM
// drives for the "any -> IDLE+balancing" transition.
type BalancerControl interface {
	Start()
	Stop()
	Active() bool
}

// StateChangeFunc is invoked after every committed transition.
type StateChangeFunc func(previous, current State)

// FSM owns the current state, the single pending-event slot and the
// collaborators it drives transitions through.
type FSM struct {
	mu  sync.Mutex
	log *logrus.Entry

	state        State
	pending      Event
	hasPending   bool

	pcu       *pcu.Controller
	feedback  *feedback.Handler
	balancer  BalancerControl
	voltage   VoltageSource

	onStateChange StateChangeFunc
}

// New builds an FSM in StateInit.
func New(pcuCtl *pcu.Controller, fb *feedback.Handler, bal BalancerControl, voltage VoltageSource, onStateChange StateChangeFunc) (*FSM, error) {
	if pcuCtl == nil || fb == nil || bal == nil || voltage == nil {
		return nil, bms.ErrNullArgument
	}
	return &FSM{
		log:           logrus.WithField("component", "fsm"),
		state:         StateInit,
		pcu:           pcuCtl,
		feedback:      fb,
		balancer:      bal,
		voltage:       voltage,
		onStateChange: onStateChange,
	}, nil
}

// State returns the current state.
func (f *FSM) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Enqueue sets the pending event, replacing whatever was pending
// (coalescing).
func (f *FSM) Enqueue(e Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = e
	f.hasPending = true
}

// Step consumes the pending event (if any) and applies at most one
// transition, mirroring nmt.go's processCommand/setState split.
func (f *FSM) Step() {
	f.mu.Lock()
	if !f.hasPending {
		f.mu.Unlock()
		return
	}
	event := f.pending
	f.pending = EventIgnored
	f.hasPending = false
	f.mu.Unlock()

	f.processEvent(event)
}

func (f *FSM) processEvent(event Event) {
	f.mu.Lock()
	current := f.state
	f.mu.Unlock()

	// BALANCING_START is valid from any state but only takes effect in
	// IDLE; balancing must never start mid-precharge or with TS on.
	if event == EventBalancingStart && current == StateIdle {
		f.balancer.Start()
		return
	}
	// BALANCING_STOP is always honored immediately, regardless of state.
	if event == EventBalancingStop {
		f.balancer.Stop()
		return
	}

	switch current {
	case StateInit:
		switch event {
		case EventPostOK:
			f.pcu.ResetAll()
			f.setState(StateIdle)
		case EventPostFailed:
			f.pcu.ResetAll()
			f.setState(StateFatal)
		}

	case StateIdle:
		switch event {
		case EventFlashRequest:
			f.setState(StateFlash)
		case EventTsOn:
			if err := f.pcu.AirnClose(); err != nil {
				f.log.WithField("err", err).Warn("airn close failed")
				return
			}
			f.setState(StateAirnCheck)
		}

	case StateAirnCheck:
		switch event {
		case EventFeedbackAirnClosed:
			if !f.feedback.CheckValues(maskAirnClosed, maskAirnClosed) {
				f.pcu.ResetAll()
				f.setState(StateIdle)
				return
			}
			f.pcu.AirnConfirmClosed()
			if err := f.pcu.PrechargeStart(); err != nil {
				f.log.WithField("err", err).Warn("precharge start failed")
				f.pcu.ResetAll()
				f.setState(StateIdle)
				return
			}
			f.setState(StatePrecharge)
		case EventAirnTimeout, EventTsOff:
			f.pcu.ResetAll()
			f.setState(StateIdle)
		}

	case StatePrecharge:
		switch event {
		case EventPrechargeTimeout, EventTsOff:
			f.pcu.ResetAll()
			f.setState(StateIdle)
		default:
			tsMv, packMv := f.voltage()
			if !pcu.IsPrechargeComplete(tsMv, packMv) {
				return
			}
			// Gating invariant: AIR+ is never commanded closed unless
			// the feedback-consistency check also passes for the full
			// AIRN/SD/AIRP mask.
			if !f.feedback.CheckValues(maskAirpClosed, maskAirpClosed) {
				f.pcu.ResetAll()
				f.setState(StateIdle)
				return
			}
			if err := f.pcu.AirpClose(); err != nil {
				f.log.WithField("err", err).Warn("airp close failed")
				f.pcu.ResetAll()
				f.setState(StateIdle)
				return
			}
			f.pcu.PrechargeStop()
			f.setState(StateAirpCheck)
		}

	case StateAirpCheck:
		switch event {
		case EventFeedbackAirpClosed:
			if !f.feedback.CheckValues(maskAirpClosed, maskAirpClosed) {
				f.pcu.ResetAll()
				f.setState(StateIdle)
				return
			}
			f.pcu.AirpConfirmClosed()
			f.setState(StateTsOn)
		case EventAirpTimeout, EventTsOff:
			f.pcu.ResetAll()
			f.setState(StateIdle)
		}

	case StateTsOn:
		if event == EventTsOff {
			f.pcu.ResetAll()
			f.setState(StateIdle)
		}

	case StateFlash:
		switch event {
		case EventFlashHandshakeComplete:
			f.setState(StateFlash)
		case EventTsOff:
			f.pcu.ResetAll()
			f.setState(StateIdle)
		}

	case StateFatal:
		// terminal; recoverable only via external reset.
	}
}

// PollPrechargeGate is invoked once per main-loop pass while in
// PRECHARGE: the gate has no dedicated event of its own, it is a
// level condition the FSM polls by repeatedly asking "is precharge
// complete?". It does nothing while an event is pending, and otherwise
// runs processEvent with EventIgnored without touching the pending
// slot, so a real event is never silently dropped.
func (f *FSM) PollPrechargeGate() {
	f.mu.Lock()
	current := f.state
	hasPending := f.hasPending
	f.mu.Unlock()
	if current != StatePrecharge || hasPending {
		return
	}
	f.processEvent(EventIgnored)
}

// PollFeedbackGate is invoked once per main-loop pass alongside
// PollPrechargeGate: detecting that AIR- or AIR+ actually closed is a
// level condition on the feedback vector, not a dedicated HAL event,
// so the FSM polls it in AIRN_CHECK/AIRP_CHECK the same way it polls
// the precharge ratio in PRECHARGE. A caller that instead observes the
// closure some other way may still enqueue EventFeedbackAirnClosed/
// EventFeedbackAirpClosed directly; both paths converge on the same
// feedback check in processEvent.
func (f *FSM) PollFeedbackGate() {
	f.mu.Lock()
	current := f.state
	hasPending := f.hasPending
	f.mu.Unlock()
	if hasPending {
		return
	}
	switch current {
	case StateAirnCheck:
		if f.feedback.CheckValues(maskAirnClosed, maskAirnClosed) {
			f.processEvent(EventFeedbackAirnClosed)
		}
	case StateAirpCheck:
		if f.feedback.CheckValues(maskAirpClosed, maskAirpClosed) {
			f.processEvent(EventFeedbackAirpClosed)
		}
	}
}

func (f *FSM) setState(next State) {
	f.mu.Lock()
	prev := f.state
	f.state = next
	f.mu.Unlock()
	if prev != next {
		f.log.WithFields(logrus.Fields{"previous": prev.String(), "current": next.String()}).Info("fsm state changed")
	}
	if f.onStateChange != nil {
		f.onStateChange(prev, next)
	}
}
