// Package identity reports build info and power-on self test status,
// grounded on Core/Src/bms/post.c's post_run null-pointer gate over
// every HAL callback and Core/Src/bms/identity.c's per-cellboard
// version table, in the style of pkg/node's identity-object (0x1018)
// read pattern.
package identity

import bms "github.com/eagletrt/bms-mainboard"

// BuildInfo is static build metadata reported on request, filled in
// by the composition root at link time.
type BuildInfo struct {
	Version   string
	CommitSHA string
	BuiltAt   string
}

// Callbacks bundles every HAL callback the core depends on; POST
// fails if any of these is nil, mirroring post_run's exhaustive
// null-pointer gate.
type Callbacks struct {
	SystemReset       func()
	CriticalEnter     func()
	CriticalExit      func()
	CanSend           func(network bms.Network, canID uint16, frameType bms.FrameType, data []byte, length uint8) error
	PinSet            func(pin uint8, high bool)
	PinToggle         func(pin uint8)
	ImdStart          func()
	FeedbackReadAll   func() uint32
	FeedbackStartConv func()
}

// Identity owns build info and the cellboard version table reported
// by each cellboard's hv_cellboard_version message.
type Identity struct {
	build     BuildInfo
	versions  [6]CellboardVersion
	hasVersion [6]bool
}

// CellboardVersion is one cellboard's reported firmware version.
type CellboardVersion struct {
	Major, Minor, Patch uint8
}

// New builds an identity handler with the given static build info.
func New(build BuildInfo) *Identity {
	return &Identity{build: build}
}

// Build returns the static build info.
func (id *Identity) Build() BuildInfo { return id.build }

// RecordCellboardVersion stores one cellboard's reported version,
// normally invoked from the dispatch handler for
// canlib.IdxCellboardVersion.
func (id *Identity) RecordCellboardVersion(cellboardID int, v CellboardVersion) error {
	if cellboardID < 0 || cellboardID >= len(id.versions) {
		return bms.ErrIllegalArgument
	}
	id.versions[cellboardID] = v
	id.hasVersion[cellboardID] = true
	return nil
}

// CellboardVersion returns one cellboard's last-known version and
// whether it has ever reported one.
func (id *Identity) CellboardVersion(cellboardID int) (CellboardVersion, bool) {
	if cellboardID < 0 || cellboardID >= len(id.versions) {
		return CellboardVersion{}, false
	}
	return id.versions[cellboardID], id.hasVersion[cellboardID]
}

// RunPOST runs the power-on self test: every callback in cb must be
// non-nil (post_run's exhaustive gate), otherwise POST fails and the
// FSM latches into FATAL.
func RunPOST(cb Callbacks) error {
	if cb.SystemReset == nil ||
		cb.CriticalEnter == nil ||
		cb.CriticalExit == nil ||
		cb.CanSend == nil ||
		cb.PinSet == nil ||
		cb.PinToggle == nil ||
		cb.ImdStart == nil ||
		cb.FeedbackReadAll == nil ||
		cb.FeedbackStartConv == nil {
		return bms.ErrNullArgument
	}
	return nil
}
