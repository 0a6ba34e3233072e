// Package timebase implements the mainboard's cooperative scheduler:
// a monotonic tick counter driving two min-heaps, one of periodic
// tasks (not capacity-bounded) and one of one-shot watchdog expiries
// (capped at MaxWatchdogs).
// container/heap backs both; the tick-driven, identity-deduplicated
// scheduling on top is specific to this core.
package timebase

import (
	"container/heap"
	"sync"

	bms "github.com/eagletrt/bms-mainboard"
	"github.com/sirupsen/logrus"
)

// MaxWatchdogs bounds how many watchdogs can be concurrently
// registered.
const MaxWatchdogs = 24

// TaskFunc is a periodic (or one-shot) callback. It must be total: it
// signals failure through the fault taxonomy, never by panicking.
type TaskFunc func()

// Task is a periodically (or once) dispatched callback.
// Interval == 0 means one-shot.
type Task struct {
	ID       uint32
	Enabled  bool
	Interval bms.Ticks
	Callback TaskFunc

	deadline bms.Ticks
	index    int
}

// WatchdogRef is the minimal contract the timebase needs from a
// watchdog: identity (for dedup, via Go pointer equality) and an
// expiry callback. pkg/watchdog implements this.
type WatchdogRef interface {
	Expire()
}

type watchdogEntry struct {
	deadline bms.Ticks
	ref      WatchdogRef
	index    int
}

// Timebase owns the tick counter and the two scheduling heaps.
type Timebase struct {
	mu           sync.Mutex
	log          *logrus.Entry
	tick         bms.Ticks
	enabled      bool
	resolutionMs bms.Milliseconds

	tasks     taskHeap
	taskByID  map[uint32]*Task
	watchdogs watchdogHeap
}

// New creates a disabled Timebase with the given tick resolution (in
// ms; defaults to 1 if zero, matching the hardware's default).
func New(resolutionMs bms.Milliseconds) *Timebase {
	if resolutionMs == 0 {
		resolutionMs = 1
	}
	tb := &Timebase{
		log:          logrus.WithField("component", "timebase"),
		resolutionMs: resolutionMs,
		taskByID:     make(map[uint32]*Task),
	}
	heap.Init(&tb.tasks)
	heap.Init(&tb.watchdogs)
	return tb
}

// SetEnable enables or disables tick accumulation and dispatch.
// Ticks do not accumulate while disabled, giving deterministic
// restart behavior; queue contents are retained either way.
func (tb *Timebase) SetEnable(enabled bool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.enabled = enabled
}

// Enabled reports whether the timebase currently accumulates ticks.
func (tb *Timebase) Enabled() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.enabled
}

// IncTick bumps the tick counter by one. Called from the hardware
// timer ISR; a no-op while disabled.
func (tb *Timebase) IncTick() {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if !tb.enabled {
		return
	}
	tb.tick++
}

// Tick returns the current tick count.
func (tb *Timebase) Tick() bms.Ticks {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.tick
}

// Time returns the current elapsed time in ms.
func (tb *Timebase) Time() bms.Milliseconds {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return bms.Milliseconds(tb.tick) * tb.resolutionMs
}

// Resolution returns the ms represented by a single tick.
func (tb *Timebase) Resolution() bms.Milliseconds {
	return tb.resolutionMs
}

// ToTicks converts a millisecond duration to ticks at this timebase's
// resolution.
func (tb *Timebase) ToTicks(ms bms.Milliseconds) bms.Ticks {
	return bms.Ticks(ms / tb.resolutionMs)
}

// RegisterTask schedules a task; its first deadline is the current
// tick plus its interval (or an immediate one-shot if interval is 0).
func (tb *Timebase) RegisterTask(task *Task) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	task.deadline = tb.tick + task.Interval
	tb.taskByID[task.ID] = task
	heap.Push(&tb.tasks, task)
}

// SetTaskEnable toggles a task's enabled flag without removing it
// from the schedule: a disabled task is still popped and reinserted
// on time but its callback is skipped.
func (tb *Timebase) SetTaskEnable(id uint32, enabled bool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if t, ok := tb.taskByID[id]; ok {
		t.Enabled = enabled
	}
}

// RegisterWatchdog inserts a watchdog into the scheduled queue,
// expiring at the current tick plus timeout. Returns
// bms.ErrUnavailable if the heap is at capacity, or bms.ErrBusy if
// the same watchdog identity is already registered.
func (tb *Timebase) RegisterWatchdog(ref WatchdogRef, timeout bms.Ticks) error {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if tb.findWatchdog(ref) >= 0 {
		return bms.ErrBusy
	}
	if len(tb.watchdogs) >= MaxWatchdogs {
		tb.log.Warn("watchdog heap full, rejecting registration")
		return bms.ErrUnavailable
	}
	heap.Push(&tb.watchdogs, &watchdogEntry{deadline: tb.tick + timeout, ref: ref})
	return nil
}

// UnregisterWatchdog removes a watchdog from the scheduled queue
// regardless of whether the timebase is enabled.
func (tb *Timebase) UnregisterWatchdog(ref WatchdogRef) error {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	i := tb.findWatchdog(ref)
	if i < 0 {
		return bms.ErrNotRegistered
	}
	heap.Remove(&tb.watchdogs, i)
	return nil
}

// IsRegisteredWatchdog reports whether ref is currently scheduled.
// A nil ref is never registered.
func (tb *Timebase) IsRegisteredWatchdog(ref WatchdogRef) bool {
	if ref == nil {
		return false
	}
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.findWatchdog(ref) >= 0
}

// UpdateWatchdog re-arms a registered watchdog for timeout ticks from
// now: it is unregistered then registered again. If it cannot be
// registered back (heap full), bms.ErrUnavailable is returned and the
// watchdog is left unregistered.
func (tb *Timebase) UpdateWatchdog(ref WatchdogRef, timeout bms.Ticks) error {
	tb.mu.Lock()
	i := tb.findWatchdog(ref)
	if i < 0 {
		tb.mu.Unlock()
		return bms.ErrNotRegistered
	}
	heap.Remove(&tb.watchdogs, i)
	if len(tb.watchdogs) >= MaxWatchdogs {
		tb.mu.Unlock()
		return bms.ErrUnavailable
	}
	heap.Push(&tb.watchdogs, &watchdogEntry{deadline: tb.tick + timeout, ref: ref})
	tb.mu.Unlock()
	return nil
}

// findWatchdog does a linear identity scan; the heap is capped at 24
// entries so this stays cheap and avoids a second index structure.
// Caller must hold tb.mu.
func (tb *Timebase) findWatchdog(ref WatchdogRef) int {
	for i, e := range tb.watchdogs {
		if e.ref == ref {
			return i
		}
	}
	return -1
}

// Routine dispatches every task and watchdog whose deadline has
// elapsed. Tasks run first (they may enqueue CAN TX), then watchdogs
// (their expiry callbacks may enqueue FSM events). Returns
// bms.ErrDisabled if the timebase is disabled; queue contents are
// otherwise untouched.
func (tb *Timebase) Routine() error {
	tb.mu.Lock()
	if !tb.enabled {
		tb.mu.Unlock()
		return bms.ErrDisabled
	}
	now := tb.tick
	tb.mu.Unlock()

	for {
		tb.mu.Lock()
		if len(tb.tasks) == 0 || tb.tasks[0].deadline > now {
			tb.mu.Unlock()
			break
		}
		task := heap.Pop(&tb.tasks).(*Task)
		enabled := task.Enabled
		cb := task.Callback
		if task.Interval != 0 {
			task.deadline = now + task.Interval
			heap.Push(&tb.tasks, task)
		}
		tb.mu.Unlock()

		if enabled && cb != nil {
			cb()
		}
	}

	for {
		tb.mu.Lock()
		if len(tb.watchdogs) == 0 || tb.watchdogs[0].deadline > now {
			tb.mu.Unlock()
			break
		}
		entry := heap.Pop(&tb.watchdogs).(*watchdogEntry)
		tb.mu.Unlock()
		entry.ref.Expire()
	}

	return nil
}
