// Package faults implements a (group, instance) error taxonomy,
// generalizing the error_gen-style error handler of
// Core/Inc/bms/errors/error.h (one group, toggled by condition,
// set-tick recorded, expired after a per-group timeout) to the full
// set of mainboard fault groups, and structured the way
// emergency.go's ErrorReport tracks CANopen EMCY state (set/reset,
// active-bit bookkeeping) rather than as bare Go errors: these are
// long-lived fault records consulted by the FSM, not one-shot API
// failures.
package faults

import (
	"sync"

	bms "github.com/eagletrt/bms-mainboard"
	"github.com/sirupsen/logrus"
)

// Group enumerates the fault categories.
type Group uint8

const (
	GroupPOST Group = iota
	GroupCanComm
	GroupUnderVoltage
	GroupOverVoltage
	GroupUnderTemperature
	GroupOverTemperature
	GroupOverCurrent
	groupCount
)

func (g Group) String() string {
	switch g {
	case GroupPOST:
		return "POST"
	case GroupCanComm:
		return "CAN-COMM"
	case GroupUnderVoltage:
		return "UNDER_VOLTAGE"
	case GroupOverVoltage:
		return "OVER_VOLTAGE"
	case GroupUnderTemperature:
		return "UNDER_TEMPERATURE"
	case GroupOverTemperature:
		return "OVER_TEMPERATURE"
	case GroupOverCurrent:
		return "OVER_CURRENT"
	default:
		return "UNKNOWN"
	}
}

// CAN-COMM instances, one per network.
const (
	InstanceCanCommBMS uint16 = iota
	InstanceCanCommPrimary
	InstanceCanCommSecondary
)

type instanceKey struct {
	group    Group
	instance uint16
}

type instance struct {
	setAt   bms.Ticks
	running bool
	expired bool
}

// Handler is the fault taxonomy's set/reset/expire bookkeeping,
// driven once per tick by Routine. It never itself changes FSM state;
// callers consult IsAnyExpired / IsExpired to decide that.
type Handler struct {
	mu  sync.Mutex
	log *logrus.Entry

	timeouts  map[Group]bms.Ticks
	instances map[instanceKey]*instance
}

// New builds a fault handler with a per-group expiration timeout
// (in ticks). Groups with no entry never expire on their own.
func New(timeouts map[Group]bms.Ticks) *Handler {
	h := &Handler{
		log:      logrus.WithField("component", "faults"),
		timeouts: make(map[Group]bms.Ticks, len(timeouts)),
	}
	for g, t := range timeouts {
		h.timeouts[g] = t
	}
	h.instances = make(map[instanceKey]*instance)
	return h
}

// Toggle sets the instance if condition is true, resets it otherwise
// (the error_gen ERROR_TOGGLE_IF pattern), stamping the set tick on a
// fresh transition into the set state.
func (h *Handler) Toggle(condition bool, group Group, instanceID uint16, now bms.Ticks) {
	if condition {
		h.Set(group, instanceID, now)
	} else {
		h.Reset(group, instanceID)
	}
}

// Set marks an instance active, recording the set tick on first
// transition into the running state; repeated Set calls while already
// running do not move the set tick, since expiration counts from the
// first occurrence.
func (h *Handler) Set(group Group, instanceID uint16, now bms.Ticks) {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := instanceKey{group, instanceID}
	inst, ok := h.instances[key]
	if !ok || !inst.running {
		h.instances[key] = &instance{setAt: now, running: true}
		h.log.WithFields(logrus.Fields{"group": group, "instance": instanceID}).Warn("fault set")
	}
}

// Reset clears an instance silently: a reset before expiration clears
// the flag without ever latching it.
func (h *Handler) Reset(group Group, instanceID uint16) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.instances, instanceKey{group, instanceID})
}

// Routine expires any running instance whose group timeout has
// elapsed since its set tick. Called once per main-loop pass.
func (h *Handler) Routine(now bms.Ticks) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for key, inst := range h.instances {
		if inst.expired || !inst.running {
			continue
		}
		timeout, hasTimeout := h.timeouts[key.group]
		if !hasTimeout {
			continue
		}
		if now-inst.setAt >= timeout {
			inst.expired = true
			h.log.WithFields(logrus.Fields{"group": key.group, "instance": key.instance}).Error("fault expired")
		}
	}
}

// IsRunning reports whether the instance is currently set (expired or
// not).
func (h *Handler) IsRunning(group Group, instanceID uint16) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	inst, ok := h.instances[instanceKey{group, instanceID}]
	return ok && inst.running
}

// IsExpired reports whether the instance has latched past its
// group's timeout.
func (h *Handler) IsExpired(group Group, instanceID uint16) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	inst, ok := h.instances[instanceKey{group, instanceID}]
	return ok && inst.expired
}

// IsAnyExpired reports the pack-wide "fatal error present" condition,
// which the FSM treats as a forced TS-OFF.
func (h *Handler) IsAnyExpired() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, inst := range h.instances {
		if inst.expired {
			return true
		}
	}
	return false
}

// Counts aggregates running/expired instance counts for one group,
// published on the telemetry bus.
type Counts struct {
	Running int
	Expired int
}

// GroupCounts returns the current running/expired aggregate for a
// group.
func (h *Handler) GroupCounts(group Group) Counts {
	h.mu.Lock()
	defer h.mu.Unlock()
	var c Counts
	for key, inst := range h.instances {
		if key.group != group {
			continue
		}
		c.Running++
		if inst.expired {
			c.Expired++
		}
	}
	return c
}
