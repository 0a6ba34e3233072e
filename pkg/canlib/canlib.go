// Package canlib stands in for the externally-generated CAN wire
// codec: byte layout is normally generated out-of-band, with the core
// invoking pack(id, struct) -> bytes and unpack(id, bytes) -> struct.
// Real canlib output is produced by a DBC-style code generator from
// the team's message dictionary; this package hand-writes the same
// shape (one struct, one Pack, one Unpack per message) using
// encoding/binary little-endian framing, the way emergency.go packs
// CANopen EMCY payloads.
//
// Nothing outside the composition root and the domain packages that
// register pkg/canbus handlers/packers should need to know these
// layouts; everyone else talks to pkg/canbus.Handler / pkg/canbus.PackFunc.
package canlib

import "encoding/binary"

// Message indices, the canlib ordinal carried as pkg/canbus's
// txEnvelope.index / bms.Frame.Index. Values are arbitrary but stable
// within this module; the real canlib assigns them from the DBC.
const (
	// BMS network (internal, mainboard <-> cellboards)
	IdxCellboardVoltage         uint16 = 0x10
	IdxCellboardTemperature     uint16 = 0x11
	IdxCellboardStatus          uint16 = 0x12
	IdxCellboardFlashResponse   uint16 = 0x13
	IdxCellboardVersion         uint16 = 0x14
	IdxCellboardBalancingStatus uint16 = 0x15
	IdxCellboardSetBalancing    uint16 = 0x16
	IdxCurrentSensor            uint16 = 0x17

	// PRIMARY network (vehicle bus)
	IdxFlashRequest          uint16 = 0x20
	IdxFlash                 uint16 = 0x21
	IdxTsOnEcu               uint16 = 0x22
	IdxTsOffEcu              uint16 = 0x23
	IdxTsOnHandcart          uint16 = 0x24
	IdxTsOffHandcart         uint16 = 0x25
	IdxBalancingSteeringWheel uint16 = 0x26
	IdxBalancingHandcart     uint16 = 0x27
	IdxHvStatus              uint16 = 0x28
	IdxHvBalancingStatus     uint16 = 0x29
	IdxHvCurrent             uint16 = 0x2A
	IdxHvTsVoltage           uint16 = 0x2B
	IdxHvCellsVoltage        uint16 = 0x2C
	IdxHvCellsTemperature    uint16 = 0x2D
	IdxHvFeedbackStatus      uint16 = 0x2E
	IdxHvFeedbackDigital     uint16 = 0x2F
	IdxHvFeedbackAnalog      uint16 = 0x30
	IdxHvFeedbackAnalogSd    uint16 = 0x31
	IdxHvImdStatus           uint16 = 0x32
	IdxHvErrors              uint16 = 0x33
)

// CellboardCount is the closed enumeration of cellboard identity
// slots (six, one per pack segment).
const CellboardCount = 6

// CellsPerPage bounds how many cell readings fit in one
// hv_cells_voltage / hv_cells_temperature / cellboard voltage page, so
// each page fits an 8-byte CAN frame with a 2-byte header
// (cellboard_id, offset) plus 3 uint16 readings.
const CellsPerPage = 3

// CellboardVoltage is one page of the cellboard -> mainboard voltage
// report, paginated by (cellboard_id, offset).
type CellboardVoltage struct {
	CellboardID uint8
	Offset      uint8
	CellsMv     [CellsPerPage]uint16
}

func (m CellboardVoltage) Pack() ([]byte, uint8) {
	buf := make([]byte, 8)
	buf[0] = m.CellboardID
	buf[1] = m.Offset
	for i, v := range m.CellsMv {
		binary.LittleEndian.PutUint16(buf[2+i*2:], v)
	}
	return buf, 8
}

func UnpackCellboardVoltage(data []byte) (CellboardVoltage, error) {
	if len(data) < 8 {
		return CellboardVoltage{}, ErrShortFrame
	}
	var m CellboardVoltage
	m.CellboardID = data[0]
	m.Offset = data[1]
	for i := range m.CellsMv {
		m.CellsMv[i] = binary.LittleEndian.Uint16(data[2+i*2:])
	}
	return m, nil
}

// CellboardTemperature mirrors CellboardVoltage's pagination for
// 8-bit signed Celsius readings (wider dynamic range not needed).
type CellboardTemperature struct {
	CellboardID uint8
	Offset      uint8
	CellsC      [6]int8
}

func (m CellboardTemperature) Pack() ([]byte, uint8) {
	buf := make([]byte, 8)
	buf[0] = m.CellboardID
	buf[1] = m.Offset
	for i, v := range m.CellsC {
		buf[2+i] = byte(v)
	}
	return buf, 8
}

func UnpackCellboardTemperature(data []byte) (CellboardTemperature, error) {
	if len(data) < 8 {
		return CellboardTemperature{}, ErrShortFrame
	}
	var m CellboardTemperature
	m.CellboardID = data[0]
	m.Offset = data[1]
	for i := range m.CellsC {
		m.CellsC[i] = int8(data[2+i])
	}
	return m, nil
}

// CellboardStatus reports one cellboard's local FSM state, used to
// drive the flash-handshake "ready" gate and general liveness.
type CellboardStatus struct {
	CellboardID uint8
	State       uint8
	Ready       bool
}

func (m CellboardStatus) Pack() ([]byte, uint8) {
	buf := make([]byte, 3)
	buf[0] = m.CellboardID
	buf[1] = m.State
	if m.Ready {
		buf[2] = 1
	}
	return buf, 3
}

func UnpackCellboardStatus(data []byte) (CellboardStatus, error) {
	if len(data) < 3 {
		return CellboardStatus{}, ErrShortFrame
	}
	return CellboardStatus{CellboardID: data[0], State: data[1], Ready: data[2] != 0}, nil
}

// CellboardFlashResponse acks a flash_request/flash handshake step.
type CellboardFlashResponse struct {
	CellboardID uint8
	Ready       bool
}

func (m CellboardFlashResponse) Pack() ([]byte, uint8) {
	buf := make([]byte, 2)
	buf[0] = m.CellboardID
	if m.Ready {
		buf[1] = 1
	}
	return buf, 2
}

func UnpackCellboardFlashResponse(data []byte) (CellboardFlashResponse, error) {
	if len(data) < 2 {
		return CellboardFlashResponse{}, ErrShortFrame
	}
	return CellboardFlashResponse{CellboardID: data[0], Ready: data[1] != 0}, nil
}

// CellboardVersion reports firmware version triplet for diagnostics.
type CellboardVersion struct {
	CellboardID            uint8
	Major, Minor, Patch uint8
}

func (m CellboardVersion) Pack() ([]byte, uint8) {
	return []byte{m.CellboardID, m.Major, m.Minor, m.Patch}, 4
}

func UnpackCellboardVersion(data []byte) (CellboardVersion, error) {
	if len(data) < 4 {
		return CellboardVersion{}, ErrShortFrame
	}
	return CellboardVersion{CellboardID: data[0], Major: data[1], Minor: data[2], Patch: data[3]}, nil
}

// CellboardBalancingStatus reports per-cellboard balancing progress,
// a bitmask of which cells are currently discharging.
type CellboardBalancingStatus struct {
	CellboardID uint8
	DischargingMask uint32
}

func (m CellboardBalancingStatus) Pack() ([]byte, uint8) {
	buf := make([]byte, 5)
	buf[0] = m.CellboardID
	binary.LittleEndian.PutUint32(buf[1:], m.DischargingMask)
	return buf, 5
}

func UnpackCellboardBalancingStatus(data []byte) (CellboardBalancingStatus, error) {
	if len(data) < 5 {
		return CellboardBalancingStatus{}, ErrShortFrame
	}
	return CellboardBalancingStatus{CellboardID: data[0], DischargingMask: binary.LittleEndian.Uint32(data[1:])}, nil
}

// CellboardSetBalancing is the mainboard -> cellboard outgoing
// balancing command, matching the balancer's per-cellboard payload.
type CellboardSetBalancing struct {
	Start       bool
	TargetMv    uint16
	ThresholdMv uint16
}

func (m CellboardSetBalancing) Pack() ([]byte, uint8) {
	buf := make([]byte, 5)
	if m.Start {
		buf[0] = 1
	}
	binary.LittleEndian.PutUint16(buf[1:], m.TargetMv)
	binary.LittleEndian.PutUint16(buf[3:], m.ThresholdMv)
	return buf, 5
}

func UnpackCellboardSetBalancing(data []byte) (CellboardSetBalancing, error) {
	if len(data) < 5 {
		return CellboardSetBalancing{}, ErrShortFrame
	}
	return CellboardSetBalancing{
		Start:       data[0] != 0,
		TargetMv:    binary.LittleEndian.Uint16(data[1:]),
		ThresholdMv: binary.LittleEndian.Uint16(data[3:]),
	}, nil
}

// CurrentSensor is the IVT sensor's pack current report, signed
// milliamperes.
type CurrentSensor struct {
	CurrentMa int32
}

func (m CurrentSensor) Pack() ([]byte, uint8) {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(m.CurrentMa))
	return buf, 4
}

func UnpackCurrentSensor(data []byte) (CurrentSensor, error) {
	if len(data) < 4 {
		return CurrentSensor{}, ErrShortFrame
	}
	return CurrentSensor{CurrentMa: int32(binary.LittleEndian.Uint32(data))}, nil
}

// FlashRequest asks the core to begin a flash handshake against one
// cellboard.
type FlashRequest struct {
	TargetCellboard uint8
}

func (m FlashRequest) Pack() ([]byte, uint8) { return []byte{m.TargetCellboard}, 1 }

func UnpackFlashRequest(data []byte) (FlashRequest, error) {
	if len(data) < 1 {
		return FlashRequest{}, ErrShortFrame
	}
	return FlashRequest{TargetCellboard: data[0]}, nil
}

// Flash triggers the actual reset once every cellboard reported ready.
type Flash struct {
	Start bool
}

func (m Flash) Pack() ([]byte, uint8) {
	if m.Start {
		return []byte{1}, 1
	}
	return []byte{0}, 1
}

func UnpackFlash(data []byte) (Flash, error) {
	if len(data) < 1 {
		return Flash{}, ErrShortFrame
	}
	return Flash{Start: data[0] != 0}, nil
}

// TsCommand is the shared shape of the four TS on/off messages
// (from ECU and from handcart); they carry no payload, only identity.
type TsCommand struct{}

func (TsCommand) Pack() ([]byte, uint8) { return nil, 0 }

// BalancingCommand is the shared shape of the steering-wheel and
// handcart balancing requests handled by pkg/balancer.
type BalancingCommand struct {
	Active      bool
	TargetMv    uint16
	ThresholdMv uint16
}

func (m BalancingCommand) Pack() ([]byte, uint8) {
	buf := make([]byte, 5)
	if m.Active {
		buf[0] = 1
	}
	binary.LittleEndian.PutUint16(buf[1:], m.TargetMv)
	binary.LittleEndian.PutUint16(buf[3:], m.ThresholdMv)
	return buf, 5
}

func UnpackBalancingCommand(data []byte) (BalancingCommand, error) {
	if len(data) < 5 {
		return BalancingCommand{}, ErrShortFrame
	}
	return BalancingCommand{
		Active:      data[0] != 0,
		TargetMv:    binary.LittleEndian.Uint16(data[1:]),
		ThresholdMv: binary.LittleEndian.Uint16(data[3:]),
	}, nil
}

// HvStatus publishes the pack FSM state on the vehicle bus.
type HvStatus struct {
	State uint8
}

func (m HvStatus) Pack() ([]byte, uint8) { return []byte{m.State}, 1 }

// HvCurrent republishes pack current on the vehicle bus.
type HvCurrent struct {
	CurrentMa int32
}

func (m HvCurrent) Pack() ([]byte, uint8) {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(m.CurrentMa))
	return buf, 4
}

// HvTsVoltage publishes the four internal-voltage scalars (TS
// voltage, pack voltage, precharge-heatsink temp, IMD-TS connection),
// each as an int16: millivolts for the three voltages, tenths of a
// degree Celsius for the heatsink temperature.
type HvTsVoltage struct {
	TsMv          int16
	PackMv        int16
	HeatsinkCTenths int16
	ImdTsMv       int16
}

func (m HvTsVoltage) Pack() ([]byte, uint8) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint16(buf[0:], uint16(m.TsMv))
	binary.LittleEndian.PutUint16(buf[2:], uint16(m.PackMv))
	binary.LittleEndian.PutUint16(buf[4:], uint16(m.HeatsinkCTenths))
	binary.LittleEndian.PutUint16(buf[6:], uint16(m.ImdTsMv))
	return buf, 8
}

// HvCellsVoltage republishes one page of pack-wide cell voltages on
// the vehicle bus, same pagination as CellboardVoltage.
type HvCellsVoltage struct {
	CellboardID uint8
	Offset      uint8
	CellsMv     [CellsPerPage]uint16
}

func (m HvCellsVoltage) Pack() ([]byte, uint8) {
	return CellboardVoltage(m).Pack()
}

// HvCellsTemperature mirrors HvCellsVoltage for temperature.
type HvCellsTemperature struct {
	CellboardID uint8
	Offset      uint8
	CellsC      [6]int8
}

func (m HvCellsTemperature) Pack() ([]byte, uint8) {
	return CellboardTemperature(m).Pack()
}

// HvFeedbackStatus publishes the aggregate pass/fail of the 27-entry
// feedback vector consulted by the FSM.
type HvFeedbackStatus struct {
	AllGood bool
}

func (m HvFeedbackStatus) Pack() ([]byte, uint8) {
	if m.AllGood {
		return []byte{1}, 1
	}
	return []byte{0}, 1
}

// HvFeedbackDigital publishes the raw 17-bit digital feedback bitmask.
type HvFeedbackDigital struct {
	Bits uint32
}

func (m HvFeedbackDigital) Pack() ([]byte, uint8) {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, m.Bits)
	return buf, 4
}

// HvFeedbackAnalog publishes one of the 10 analog channel readings in
// millivolts, identified by channel index.
type HvFeedbackAnalog struct {
	Channel uint8
	Mv      uint16
}

func (m HvFeedbackAnalog) Pack() ([]byte, uint8) {
	buf := make([]byte, 3)
	buf[0] = m.Channel
	binary.LittleEndian.PutUint16(buf[1:], m.Mv)
	return buf, 3
}

// HvFeedbackAnalogSd publishes the three shutdown-circuit analog taps
// (SD_IN, SD_OUT, SD_END) in one frame.
type HvFeedbackAnalogSd struct {
	SdInMv, SdOutMv, SdEndMv uint16
}

func (m HvFeedbackAnalogSd) Pack() ([]byte, uint8) {
	buf := make([]byte, 6)
	binary.LittleEndian.PutUint16(buf[0:], m.SdInMv)
	binary.LittleEndian.PutUint16(buf[2:], m.SdOutMv)
	binary.LittleEndian.PutUint16(buf[4:], m.SdEndMv)
	return buf, 6
}

// HvImdStatus publishes the IMD adaptor's classification.
type HvImdStatus struct {
	Status uint8
}

func (m HvImdStatus) Pack() ([]byte, uint8) { return []byte{m.Status}, 1 }

// HvErrors publishes one active fault instance per frame, in taxonomy
// (group, instance) form.
type HvErrors struct {
	Group    uint8
	Instance uint16
	Running  bool
	Expired  bool
}

func (m HvErrors) Pack() ([]byte, uint8) {
	buf := make([]byte, 4)
	buf[0] = m.Group
	binary.LittleEndian.PutUint16(buf[1:], m.Instance)
	var flags uint8
	if m.Running {
		flags |= 0x1
	}
	if m.Expired {
		flags |= 0x2
	}
	buf[3] = flags
	return buf, 4
}
