// Package programmer drives the cellboard flash handshake,
// generalized from Core/Inc/bms/programmer.h /
// Core/Src/bms/programmer.c's flash_request/flash/routine trio, and
// gated the way pkg/lss/master.go waits for every node to respond and
// pkg/heartbeat/consumer.go's checkAllMonitored aggregates per-node
// liveness: here, "every node" means the six cellboards reporting
// ready=true.
package programmer

import (
	"sync"

	bms "github.com/eagletrt/bms-mainboard"
	"github.com/eagletrt/bms-mainboard/pkg/canlib"
	"github.com/eagletrt/bms-mainboard/pkg/timebase"
	"github.com/eagletrt/bms-mainboard/pkg/watchdog"
)

// HandshakeTimeoutMs bounds how long the programmer waits for all six
// cellboards to report ready before giving up: if no response arrives
// within 5s, the handshake watchdog expires and aborts it.
const HandshakeTimeoutMs bms.Milliseconds = 5000

// ResetFunc is the HAL system-reset callback contract: it jumps to
// the bootloader entry point and never returns.
type ResetFunc func()

// TimeoutSink is notified when the handshake times out, normally
// wired to send the FSM back to IDLE.
type TimeoutSink func()

// Programmer owns the flash handshake's ready gate and its watchdog.
type Programmer struct {
	mu sync.Mutex

	reset   ResetFunc
	onReady [canlib.CellboardCount]bool
	target  uint8
	armed   bool

	wd *watchdog.Watchdog
}

// New builds a programmer with the given reset callback and
// timeout-notification sink.
func New(tb *timebase.Timebase, reset ResetFunc, onTimeout TimeoutSink) (*Programmer, error) {
	if reset == nil {
		return nil, bms.ErrNullArgument
	}
	p := &Programmer{reset: reset}
	wd, err := watchdog.New(tb, tb.ToTicks(HandshakeTimeoutMs), func() {
		p.mu.Lock()
		p.armed = false
		for i := range p.onReady {
			p.onReady[i] = false
		}
		p.mu.Unlock()
		if onTimeout != nil {
			onTimeout()
		}
	})
	if err != nil {
		return nil, err
	}
	p.wd = wd
	return p, nil
}

// HandleFlashRequest arms the handshake for one target cellboard and
// starts the 5s watchdog (programmer_flash_request_handle).
func (p *Programmer) HandleFlashRequest(req canlib.FlashRequest) error {
	p.mu.Lock()
	p.target = req.TargetCellboard
	p.armed = true
	for i := range p.onReady {
		p.onReady[i] = false
	}
	p.mu.Unlock()
	return p.wd.Start()
}

// HandleCellboardReady records one cellboard's flash-response ack.
func (p *Programmer) HandleCellboardReady(resp canlib.CellboardFlashResponse) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.armed || int(resp.CellboardID) >= canlib.CellboardCount {
		return
	}
	p.onReady[resp.CellboardID] = resp.Ready
	p.wd.Reset()
}

// AllReady reports whether every cellboard has acked ready.
func (p *Programmer) AllReady() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.armed {
		return false
	}
	for _, ready := range p.onReady {
		if !ready {
			return false
		}
	}
	return true
}

// HandleFlash processes the actual flash command (programmer_flash_handle):
// if every cellboard is ready, it resets the MCU via the system-reset
// callback; otherwise it is ignored.
func (p *Programmer) HandleFlash(cmd canlib.Flash) {
	if !cmd.Start {
		return
	}
	if p.AllReady() {
		p.wd.Deinit()
		p.reset()
	}
}

// Cancel aborts an in-progress handshake without resetting, used when
// the FSM leaves FLASH for any other reason.
func (p *Programmer) Cancel() {
	p.mu.Lock()
	p.armed = false
	for i := range p.onReady {
		p.onReady[i] = false
	}
	p.mu.Unlock()
	p.wd.Stop()
}

// TargetCellboard returns the cellboard named in the last flash
// request.
func (p *Programmer) TargetCellboard() uint8 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.target
}
