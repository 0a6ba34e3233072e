// Package canbus decouples event-driven CAN reception and
// time-driven transmission from the rest of the mainboard core,
// grounded on gocanopen's BusManager (bus_manager.go: subscriber
// table, Process/error bookkeeping) and its byte Fifo (fifo.go),
// generalized here to two independent bus instances (internal BMS,
// vehicle PRIMARY) with bounded TX/RX queues and per-index TX
// deduplication.
package canbus

import (
	"sync"

	bms "github.com/eagletrt/bms-mainboard"
	"github.com/eagletrt/bms-mainboard/internal/ring"
	"github.com/sirupsen/logrus"
)

// TransmitFunc is the HAL send callback contract.
type TransmitFunc func(network bms.Network, canID uint16, frameType bms.FrameType, data []byte, length uint8) error

// IDResolver maps a canlib index to the 11-bit CAN identifier used on
// the wire; this is canlib's job (externally generated), injected
// here as a pure function.
type IDResolver func(network bms.Network, index uint16) (uint16, error)

// PackFunc builds the current payload for one message index. It is
// invoked at drain time, not at enqueue time, so a deduplicated
// pending TX always reflects live domain state rather than a stale
// snapshot taken when tx_add was called.
type PackFunc func() (payload []byte, length uint8, err error)

// Handler dispatches one received, already-queued frame. It owns
// deserialization (canlib's unpack) and updates whatever domain state
// the message concerns.
type Handler func(frame bms.Frame) error

// ErrorReporter is notified of per-network transmission outcomes and
// of RX frames with no registered handler, so the fault taxonomy
// (CAN-COMM group, BMS/PRIMARY/SECONDARY instances) can be driven
// without this package depending on pkg/faults directly.
type ErrorReporter interface {
	ReportTxResult(network bms.Network, ok bool)
	ReportUnhandled(network bms.Network, index uint16)
}

type txEnvelope struct {
	index     uint16
	frameType bms.FrameType
}

// Bus is the queue manager for one physical network.
type Bus struct {
	mu sync.Mutex
	log *logrus.Entry

	network   bms.Network
	txEnabled bool
	rxEnabled bool

	tx   *ring.Buffer[txEnvelope]
	rx   *ring.Buffer[bms.Frame]
	busy map[uint16]bool

	send      TransmitFunc
	resolveID IDResolver
	packers   map[uint16]PackFunc
	dispatch  map[uint16]Handler
	errs      ErrorReporter
}

// NewBus creates a bus manager for one network with the given queue
// capacities (both must be > 0).
func NewBus(network bms.Network, txCapacity, rxCapacity int, send TransmitFunc, resolveID IDResolver, errs ErrorReporter) *Bus {
	return &Bus{
		log:       logrus.WithField("component", "canbus").WithField("network", network.String()),
		network:   network,
		txEnabled: true,
		rxEnabled: true,
		tx:        ring.New[txEnvelope](txCapacity),
		rx:        ring.New[bms.Frame](rxCapacity),
		busy:      make(map[uint16]bool),
		send:      send,
		resolveID: resolveID,
		packers:   make(map[uint16]PackFunc),
		dispatch:  make(map[uint16]Handler),
		errs:      errs,
	}
}

// RegisterPacker wires a message index to the function that builds
// its payload at drain time. Used by periodic telemetry tasks.
func (b *Bus) RegisterPacker(index uint16, fn PackFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.packers[index] = fn
}

// RegisterHandler wires a message index to its RX handler. This is
// the compile-time dispatch table for this network.
func (b *Bus) RegisterHandler(index uint16, fn Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dispatch[index] = fn
}

// SetEnable independently flips the TX or RX enable bit.
func (b *Bus) SetEnable(tx, rx bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.txEnabled = tx
	b.rxEnabled = rx
}

// TxAdd enqueues a message for transmission, coalescing with any
// already-pending message for the same index: if the index's busy bit
// is set, returns nil without enqueuing again.
func (b *Bus) TxAdd(index uint16, frameType bms.FrameType) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.busy[index] {
		return nil
	}
	if !b.tx.PushBack(txEnvelope{index: index, frameType: frameType}) {
		b.log.WithField("index", index).Warn("tx queue overrun")
		return bms.ErrOverrun
	}
	b.busy[index] = true
	return nil
}

// SendImmediate pushes an urgent message to the head of the TX queue
// (explicit priority inversion). If the queue is full it drains once
// first to make room; after pushing it drains again so the message
// goes out immediately, ahead of anything already queued.
func (b *Bus) SendImmediate(index uint16, frameType bms.FrameType) error {
	b.mu.Lock()
	full := b.tx.Space() == 0
	b.mu.Unlock()
	if full {
		b.drainTX()
	}
	b.mu.Lock()
	ok := b.tx.PushFront(txEnvelope{index: index, frameType: frameType})
	if ok {
		b.busy[index] = true
	}
	b.mu.Unlock()
	if !ok {
		b.log.WithField("index", index).Warn("tx queue overrun on immediate send")
		return bms.ErrOverrun
	}
	b.drainTX()
	return nil
}

// RxAdd enqueues a received frame; called from the peripheral RX ISR.
func (b *Bus) RxAdd(frame bms.Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.rx.PushBack(frame) {
		b.log.Warn("rx queue overrun")
		return bms.ErrOverrun
	}
	return nil
}

// Routine drains TX in FIFO order (serializing and transmitting each
// message), then drains RX in FIFO order (deserializing and
// dispatching each message). Called from the main loop.
func (b *Bus) Routine() {
	b.drainTX()
	b.drainRX()
}

func (b *Bus) drainTX() {
	for {
		b.mu.Lock()
		if !b.txEnabled {
			b.mu.Unlock()
			return
		}
		env, ok := b.tx.PopFront()
		if !ok {
			b.mu.Unlock()
			return
		}
		delete(b.busy, env.index)
		packer := b.packers[env.index]
		resolve := b.resolveID
		send := b.send
		network := b.network
		b.mu.Unlock()

		if packer == nil || resolve == nil || send == nil {
			b.reportTx(false)
			continue
		}
		payload, length, err := packer()
		if err != nil {
			b.reportTx(false)
			continue
		}
		canID, err := resolve(network, env.index)
		if err != nil {
			b.reportTx(false)
			continue
		}
		err = send(network, canID, env.frameType, payload, length)
		b.reportTx(err == nil)
	}
}

func (b *Bus) drainRX() {
	for {
		b.mu.Lock()
		if !b.rxEnabled {
			b.mu.Unlock()
			return
		}
		frame, ok := b.rx.PopFront()
		if !ok {
			b.mu.Unlock()
			return
		}
		handler, found := b.dispatch[frame.Index]
		network := b.network
		b.mu.Unlock()

		if !found {
			if b.errs != nil {
				b.errs.ReportUnhandled(network, frame.Index)
			}
			continue
		}
		if err := handler(frame); err != nil {
			b.log.WithField("index", frame.Index).WithError(err).Warn("handler failed")
		}
	}
}

func (b *Bus) reportTx(ok bool) {
	if b.errs != nil {
		b.errs.ReportTxResult(b.network, ok)
	}
}
