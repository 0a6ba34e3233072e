// Package watchdog implements a one-shot expirable timer with a
// small, explicit lifecycle on top of pkg/timebase, grounded on the
// per-node timeout bookkeeping of gocanopen's heartbeat consumer
// (pkg/heartbeat/consumer.go) and on the BMS firmware's watchdog.h
// state machine.
package watchdog

import (
	"sync"

	bms "github.com/eagletrt/bms-mainboard"
	"github.com/eagletrt/bms-mainboard/pkg/timebase"
)

// Scheduler is the subset of *timebase.Timebase a Watchdog needs.
// Declaring it as an interface keeps this package testable without a
// live Timebase and documents exactly what's required.
type Scheduler interface {
	RegisterWatchdog(ref timebase.WatchdogRef, timeout bms.Ticks) error
	UnregisterWatchdog(ref timebase.WatchdogRef) error
	UpdateWatchdog(ref timebase.WatchdogRef, timeout bms.Ticks) error
	IsRegisteredWatchdog(ref timebase.WatchdogRef) bool
}

// Watchdog wraps a single timebase registration with lifecycle
// guards: init (not running) -> start (register) -> reset (re-arm) ->
// stop (unregister) -> expire (auto-unregister + callback). Once
// expired, only Restart brings it back.
type Watchdog struct {
	mu       sync.Mutex
	tb       Scheduler
	timeout  bms.Ticks
	onExpire func()
	running  bool
	timedOut bool
}

// New creates a not-running watchdog. onExpire must be non-nil and
// must be total: it should signal failure through the fault taxonomy
// or an FSM event, never by panicking.
func New(tb Scheduler, timeout bms.Ticks, onExpire func()) (*Watchdog, error) {
	if tb == nil || onExpire == nil {
		return nil, bms.ErrNullArgument
	}
	return &Watchdog{tb: tb, timeout: timeout, onExpire: onExpire}, nil
}

// Start registers the watchdog. Fails if it is already running or has
// already timed out (use Restart to recover from timeout).
func (w *Watchdog) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timedOut {
		return bms.ErrTimedOut
	}
	if w.running {
		return bms.ErrBusy
	}
	if err := w.tb.RegisterWatchdog(w, w.timeout); err != nil {
		return err
	}
	w.running = true
	return nil
}

// Stop unregisters the watchdog. Fails if it is not running or has
// already timed out.
func (w *Watchdog) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timedOut {
		return bms.ErrTimedOut
	}
	if !w.running {
		return bms.ErrNotRunning
	}
	_ = w.tb.UnregisterWatchdog(w)
	w.running = false
	return nil
}

// Reset re-arms a running watchdog for another full timeout without
// stopping it. Fails explicitly (rather than silently starting) on a
// stopped or expired watchdog.
func (w *Watchdog) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timedOut {
		return bms.ErrTimedOut
	}
	if !w.running {
		return bms.ErrNotRunning
	}
	return w.tb.UpdateWatchdog(w, w.timeout)
}

// Restart force-starts the watchdog even if it had previously timed
// out, clearing the timed-out flag first.
func (w *Watchdog) Restart() error {
	w.mu.Lock()
	w.timedOut = false
	if w.running {
		_ = w.tb.UnregisterWatchdog(w)
		w.running = false
	}
	w.mu.Unlock()
	return w.Start()
}

// Deinit fully tears down the watchdog: unregisters it if running and
// clears both the running and timed-out flags, ready for re-Start.
func (w *Watchdog) Deinit() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		_ = w.tb.UnregisterWatchdog(w)
	}
	w.running = false
	w.timedOut = false
}

// Expire implements timebase.WatchdogRef. The timebase calls this
// once the scheduled deadline elapses; the watchdog auto-unregisters
// (it has already been popped off the timebase's heap) and invokes
// the expiry callback outside the lock.
func (w *Watchdog) Expire() {
	w.mu.Lock()
	w.running = false
	w.timedOut = true
	cb := w.onExpire
	w.mu.Unlock()
	cb()
}

// IsRunning reports whether the watchdog is currently armed.
func (w *Watchdog) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// IsTimedOut reports whether the watchdog has expired since it was
// last (re)started.
func (w *Watchdog) IsTimedOut() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.timedOut
}
