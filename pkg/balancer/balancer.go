// Package balancer coordinates the per-cellboard balancing command
// fan-out, generalized from Core/Inc/bms/bal.h's threshold/target
// ranges and 3s dead-man timeout, and structured
// after pkg/heartbeat/consumer.go's N-entry monitoring plus
// pkg/pdo/tpdo.go's cyclic per-node send enable/disable: six periodic
// "send set-balancing-status" tasks are enabled on start and disabled
// on stop, one per cellboard.
package balancer

import (
	"sync"

	bms "github.com/eagletrt/bms-mainboard"
	"github.com/eagletrt/bms-mainboard/pkg/canlib"
	"github.com/eagletrt/bms-mainboard/pkg/timebase"
	"github.com/eagletrt/bms-mainboard/pkg/watchdog"
)

// Target/threshold ranges, matching Core/Inc/bms/bal.h.
const (
	TargetMinMv    uint16 = 2800
	TargetMaxMv    uint16 = 4200
	ThresholdMinMv uint16 = 5
	ThresholdMaxMv uint16 = 200
)

// DeadManTimeoutMs is the balancing command refresh dead-man timeout
// (BAL_TIMEOUT).
const DeadManTimeoutMs bms.Milliseconds = 3000

// TaskEnableFunc flips one cellboard's periodic "send set-balancing-status"
// task, wired to pkg/timebase.Timebase.SetTaskEnable.
type TaskEnableFunc func(cellboardID int, enabled bool)

// EventSink is how the coordinator requests a gated start/stop
// transition from the FSM; the FSM alone decides whether the request
// is honored and drives the actual Start/Stop fan-out back into the
// coordinator.
type EventSink interface {
	BalancingStart()
	BalancingStop()
}

// MinVoltageSource supplies the current pack-wide minimum cell
// voltage, used to clamp the requested target downward: discharging
// never targets below what is physically achievable.
type MinVoltageSource func() uint16

// Coordinator owns the per-cellboard outgoing command, the active
// flag and the dead-man watchdog.
type Coordinator struct {
	mu sync.Mutex

	commands [canlib.CellboardCount]canlib.CellboardSetBalancing
	active   bool

	wd         *watchdog.Watchdog
	enableTask TaskEnableFunc
	minVoltage MinVoltageSource
	events     EventSink
}

// New builds a balancing coordinator.
func New(tb *timebase.Timebase, enableTask TaskEnableFunc, minVoltage MinVoltageSource, events EventSink) (*Coordinator, error) {
	if enableTask == nil || minVoltage == nil || events == nil {
		return nil, bms.ErrNullArgument
	}
	c := &Coordinator{enableTask: enableTask, minVoltage: minVoltage, events: events}
	wd, err := watchdog.New(tb, tb.ToTicks(DeadManTimeoutMs), c.onDeadMan)
	if err != nil {
		return nil, err
	}
	c.wd = wd
	return c, nil
}

func clamp(v, lo, hi uint16) uint16 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// HandleCommand processes a balancing request from either the
// steering wheel or the handcart: clamp target/threshold, pull target
// down to the current pack minimum, refresh the dead-man watchdog
// while already active, and request a start/stop transition from the
// FSM on an active-state change. HandleCommand never starts or stops
// balancing itself — only the FSM's gated transition does that, so a
// request reaches the cellboards only when the pack is actually in a
// state that allows it.
func (c *Coordinator) HandleCommand(cmd canlib.BalancingCommand) error {
	target := clamp(cmd.TargetMv, TargetMinMv, TargetMaxMv)
	threshold := clamp(cmd.ThresholdMv, ThresholdMinMv, ThresholdMaxMv)
	if min := c.minVoltage(); min < target {
		target = min
	}

	c.mu.Lock()
	wasActive := c.active
	for i := range c.commands {
		c.commands[i] = canlib.CellboardSetBalancing{Start: cmd.Active, TargetMv: target, ThresholdMv: threshold}
	}
	c.mu.Unlock()

	if cmd.Active == wasActive {
		if cmd.Active {
			return c.wd.Restart()
		}
		return nil
	}

	if cmd.Active {
		c.events.BalancingStart()
	} else {
		c.events.BalancingStop()
	}
	return nil
}

// Start transitions active=false -> true, restarts the watchdog and
// enables the six per-cellboard periodic send tasks. Only the FSM
// calls this, after gating the request to IDLE.
func (c *Coordinator) Start() {
	c.mu.Lock()
	c.active = true
	c.mu.Unlock()
	c.wd.Restart()
	for i := 0; i < canlib.CellboardCount; i++ {
		c.enableTask(i, true)
	}
}

// Stop transitions active to false, stops the watchdog and disables
// the six periodic tasks. Only the FSM calls this.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	c.active = false
	c.mu.Unlock()
	c.wd.Stop()
	for i := 0; i < canlib.CellboardCount; i++ {
		c.enableTask(i, false)
	}
}

// onDeadMan is the watchdog expiry callback: it cuts balancing
// immediately via Stop rather than waiting on an FSM round-trip, then
// enqueues BALANCING_STOP so the FSM and telemetry also observe the
// stop, same as a normally-requested one.
func (c *Coordinator) onDeadMan() {
	c.Stop()
	c.events.BalancingStop()
}

// Command returns the current outgoing payload for one cellboard,
// built at drain time by the caller's pkg/canbus.PackFunc.
func (c *Coordinator) Command(cellboardID int) canlib.CellboardSetBalancing {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commands[cellboardID]
}

// Active reports whether balancing is currently active.
func (c *Coordinator) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}
