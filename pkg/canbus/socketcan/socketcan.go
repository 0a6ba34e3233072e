// Package socketcan adapts github.com/brutella/can to the mainboard's
// HAL send/receive callback contracts, the way
// cmd/canopen/driver.go's SocketcanBus adapts it for the CANopen
// stack. It belongs to the composition root only: everything else in
// this module talks to pkg/canbus.TransmitFunc / pkg/canbus.Bus.RxAdd,
// never to brutella/can directly.
package socketcan

import (
	"github.com/brutella/can"
	bms "github.com/eagletrt/bms-mainboard"
	"github.com/eagletrt/bms-mainboard/pkg/canbus"
	"golang.org/x/sys/unix"
)

// Adapter wraps one brutella/can bus and forwards frames to a
// registered RX sink (normally (*canbus.Bus).RxAdd, after the caller
// resolves the canlib index from the CAN id).
type Adapter struct {
	network bms.Network
	bus     *can.Bus
	onFrame func(network bms.Network, canID uint16, frameType bms.FrameType, data []byte, length uint8)
}

// New opens a socketcan interface (e.g. "can0", "can1") for the given
// network. onFrame is invoked for every received frame so the caller
// can resolve the canlib index and push into the right canbus.Bus.
func New(network bms.Network, iface string, onFrame func(network bms.Network, canID uint16, frameType bms.FrameType, data []byte, length uint8)) (*Adapter, error) {
	bus, err := can.NewBusForInterfaceWithName(iface)
	if err != nil {
		return nil, err
	}
	a := &Adapter{network: network, bus: bus, onFrame: onFrame}
	bus.SubscribeFunc(a.handle)
	return a, nil
}

func (a *Adapter) handle(frame can.Frame) {
	canID := uint16(frame.ID & unix.CAN_SFF_MASK)
	frameType := bms.FrameData
	if frame.ID&unix.CAN_RTR_FLAG != 0 {
		frameType = bms.FrameRemote
	}
	if a.onFrame != nil {
		a.onFrame(a.network, canID, frameType, frame.Data[:frame.Length], frame.Length)
	}
}

// Run starts receiving frames; it blocks until the bus is disconnected,
// so it should be run in its own goroutine from the composition root.
func (a *Adapter) Run() error {
	return a.bus.ConnectAndPublish()
}

// Send implements canbus.TransmitFunc for this one bus/network.
func (a *Adapter) Send(network bms.Network, canID uint16, frameType bms.FrameType, data []byte, length uint8) error {
	frame := can.Frame{ID: uint32(canID), Length: length}
	if frameType == bms.FrameRemote {
		frame.ID |= unix.CAN_RTR_FLAG
	}
	copy(frame.Data[:], data)
	return a.bus.Publish(frame)
}

var _ canbus.TransmitFunc = (&Adapter{}).Send
