package faults

import bms "github.com/eagletrt/bms-mainboard"

// CanReporter adapts Handler to pkg/canbus.ErrorReporter, mapping
// transport outcomes to the CAN-COMM group's per-network instance:
// three instances (BMS, PRIMARY, SECONDARY), set on transmit failure
// or unhandled index.
type CanReporter struct {
	h   *Handler
	now func() bms.Ticks
}

// NewCanReporter binds a fault handler to a tick source so ReportTxResult
// / ReportUnhandled can stamp the set tick.
func NewCanReporter(h *Handler, now func() bms.Ticks) *CanReporter {
	return &CanReporter{h: h, now: now}
}

func canCommInstance(network bms.Network) uint16 {
	switch network {
	case bms.NetworkBMS:
		return InstanceCanCommBMS
	case bms.NetworkPrimary:
		return InstanceCanCommPrimary
	default:
		return InstanceCanCommSecondary
	}
}

// ReportTxResult implements pkg/canbus.ErrorReporter.
func (r *CanReporter) ReportTxResult(network bms.Network, ok bool) {
	r.h.Toggle(!ok, GroupCanComm, canCommInstance(network), r.now())
}

// ReportUnhandled implements pkg/canbus.ErrorReporter.
func (r *CanReporter) ReportUnhandled(network bms.Network, index uint16) {
	r.h.Set(GroupCanComm, canCommInstance(network), r.now())
}
