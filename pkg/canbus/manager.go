package canbus

import bms "github.com/eagletrt/bms-mainboard"

// Manager owns the two physical buses (internal BMS, vehicle
// PRIMARY) as one object, so Routine() drains both in one call.
// cmd/mainboard does not use it; it holds and drains the two buses
// directly.
type Manager struct {
	buses map[bms.Network]*Bus
}

// NewManager wraps already-constructed per-network buses.
func NewManager(busBMS, busPrimary *Bus) *Manager {
	return &Manager{buses: map[bms.Network]*Bus{
		bms.NetworkBMS:     busBMS,
		bms.NetworkPrimary: busPrimary,
	}}
}

// Bus returns the Bus for a given network, or nil if unknown.
func (m *Manager) Bus(network bms.Network) *Bus {
	return m.buses[network]
}

// Routine drains both buses' TX then RX queues.
func (m *Manager) Routine() {
	m.buses[bms.NetworkBMS].Routine()
	m.buses[bms.NetworkPrimary].Routine()
}
