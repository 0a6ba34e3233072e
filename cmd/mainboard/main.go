// Command mainboard is the composition root for the BMS mainboard
// core: it wires the domain packages together over two socketcan
// buses and drives the cooperative main loop, structured after
// cmd/canopen/main.go's flag-parsed socketcan bring-up and
// INIT/RUNNING/RESETING loop shape.
package main

import (
	"flag"
	"os"
	"time"

	bms "github.com/eagletrt/bms-mainboard"
	"github.com/eagletrt/bms-mainboard/pkg/balancer"
	"github.com/eagletrt/bms-mainboard/pkg/canbus"
	"github.com/eagletrt/bms-mainboard/pkg/canbus/socketcan"
	"github.com/eagletrt/bms-mainboard/pkg/canlib"
	"github.com/eagletrt/bms-mainboard/pkg/config"
	"github.com/eagletrt/bms-mainboard/pkg/current"
	"github.com/eagletrt/bms-mainboard/pkg/faults"
	"github.com/eagletrt/bms-mainboard/pkg/feedback"
	"github.com/eagletrt/bms-mainboard/pkg/fsm"
	"github.com/eagletrt/bms-mainboard/pkg/identity"
	"github.com/eagletrt/bms-mainboard/pkg/imd"
	"github.com/eagletrt/bms-mainboard/pkg/pcu"
	"github.com/eagletrt/bms-mainboard/pkg/programmer"
	"github.com/eagletrt/bms-mainboard/pkg/temperature"
	"github.com/eagletrt/bms-mainboard/pkg/timebase"
	"github.com/eagletrt/bms-mainboard/pkg/voltage"
	log "github.com/sirupsen/logrus"
)

func identityResolve(_ bms.Network, index uint16) (uint16, error) {
	// The real 11-bit identifier layout comes from the externally
	// generated canlib DBC; until that is wired in, the canlib ordinal
	// is used directly as the CAN ID.
	return index, nil
}

func main() {
	log.SetLevel(log.DebugLevel)

	bmsIface := flag.String("bms-iface", "can0", "socketcan interface for the internal cellboard bus")
	primaryIface := flag.String("primary-iface", "can1", "socketcan interface for the vehicle bus")
	confPath := flag.String("config", "", "path to the mainboard INI config")
	flag.Parse()

	var cfg *config.Config
	if *confPath != "" {
		loaded, err := config.Load(*confPath)
		if err != nil {
			log.WithError(err).Fatal("failed to load config")
		}
		cfg = loaded
	}

	tb := timebase.New(bms.Milliseconds(mustInt(cfg, "timebase", "resolution_ms", 1)))
	now := tb.Tick

	faultTimeouts := map[faults.Group]bms.Ticks{
		faults.GroupPOST:             0, // a POST fault instance expires on the first fault routine pass after it is set; POST failure itself reaches FATAL through EventPostFailed.
		faults.GroupCanComm:          tb.ToTicks(1000),
		faults.GroupUnderVoltage:     tb.ToTicks(1000),
		faults.GroupOverVoltage:      tb.ToTicks(1000),
		faults.GroupUnderTemperature: tb.ToTicks(1000),
		faults.GroupOverTemperature:  tb.ToTicks(1000),
		faults.GroupOverCurrent:      tb.ToTicks(1000),
	}
	faultHandler := faults.New(faultTimeouts)
	reporter := faults.NewCanReporter(faultHandler, now)

	voltAgg := voltage.New(faultHandler, now)
	tempAgg := temperature.New(faultHandler, now)
	currentMon := current.New(faultHandler, now)
	feedbackHandler := feedback.New()
	imdAdaptor := imd.New()
	ident := identity.New(identity.BuildInfo{Version: "dev"})

	driver := newHostDriver()

	var bmsBus, primaryBus *canbus.Bus

	bmsAdapter, err := socketcan.New(bms.NetworkBMS, *bmsIface, func(network bms.Network, canID uint16, frameType bms.FrameType, data []byte, length uint8) {
		frame := bms.NewFrame(network, canID, data[:length])
		frame.Type = frameType
		if err := bmsBus.RxAdd(frame); err != nil {
			log.WithError(err).Warn("bms rx overrun")
		}
	})
	if err != nil {
		log.WithError(err).Fatal("failed to open bms interface")
	}
	primaryAdapter, err := socketcan.New(bms.NetworkPrimary, *primaryIface, func(network bms.Network, canID uint16, frameType bms.FrameType, data []byte, length uint8) {
		frame := bms.NewFrame(network, canID, data[:length])
		frame.Type = frameType
		if err := primaryBus.RxAdd(frame); err != nil {
			log.WithError(err).Warn("primary rx overrun")
		}
	})
	if err != nil {
		log.WithError(err).Fatal("failed to open primary interface")
	}

	bmsBus = canbus.NewBus(bms.NetworkBMS, 32, 32, bmsAdapter.Send, identityResolve, reporter)
	primaryBus = canbus.NewBus(bms.NetworkPrimary, 32, 32, primaryAdapter.Send, identityResolve, reporter)

	// coreFSM is declared before its collaborators below because the
	// balancer's event sink and the PCU's timeout callbacks both close
	// over it; Go closures capture the variable, not its value at
	// closure-creation time, so the forward reference resolves once
	// coreFSM is finally assigned.
	var coreFSM *fsm.FSM

	pcuCtl, err := pcu.New(tb, func(pin pcu.PinID, level pcu.Level) { driver.setPin(pin, level) },
		func() { coreFSM.Enqueue(fsm.EventAirnTimeout) },
		func() { coreFSM.Enqueue(fsm.EventPrechargeTimeout) },
		func() { coreFSM.Enqueue(fsm.EventAirpTimeout) },
	)
	if err != nil {
		log.WithError(err).Fatal("failed to build pcu controller")
	}

	balCoord, err := balancer.New(tb, func(cellboardID int, enabled bool) {
		tb.SetTaskEnable(uint32(0x100+cellboardID), enabled)
	}, func() uint16 {
		min, _ := voltAgg.MinMax()
		return min
	}, balancerEvents{fsm: &coreFSM})
	if err != nil {
		log.WithError(err).Fatal("failed to build balancer")
	}

	// prog is referenced by the FSM's state-change callback below before
	// it is constructed, for the same forward-reference reason as
	// coreFSM above: the handshake must be cancelled the moment the FSM
	// leaves FLASH for any other reason.
	var prog *programmer.Programmer

	coreFSM, err = fsm.New(pcuCtl, feedbackHandler, balCoord, func() (int32, int32) {
		return currentMon.TsMv(), currentMon.PackMv()
	}, func(prev, cur fsm.State) {
		log.WithFields(log.Fields{"previous": prev, "current": cur}).Info("fsm state changed")
		if prev == fsm.StateFlash && cur != fsm.StateFlash {
			prog.Cancel()
		}
	})
	if err != nil {
		log.WithError(err).Fatal("failed to build fsm")
	}

	prog, err = programmer.New(tb, func() { coreFSM.Enqueue(fsm.EventFlashHandshakeComplete); driver.systemReset() }, func() {
		coreFSM.Enqueue(fsm.EventTsOff) // handshake timeout returns the pack to a safe state
	})
	if err != nil {
		log.WithError(err).Fatal("failed to build programmer")
	}

	cb := driver.callbacks(identity.Callbacks{
		CanSend: func(network bms.Network, canID uint16, frameType bms.FrameType, data []byte, length uint8) error {
			return bmsAdapter.Send(network, canID, frameType, data, length)
		},
	})
	if err := identity.RunPOST(cb); err != nil {
		log.WithError(err).Error("post failed")
		coreFSM.Enqueue(fsm.EventPostFailed)
	} else {
		coreFSM.Enqueue(fsm.EventPostOK)
	}

	registerBmsHandlers(bmsBus, voltAgg, tempAgg, currentMon, prog, ident)
	registerPrimaryHandlers(primaryBus, prog, balCoord, coreFSM)
	registerTelemetryPackers(tb, bmsBus, primaryBus, coreFSM, currentMon, feedbackHandler, imdAdaptor, faultHandler, balCoord, tempAgg)
	registerFeedbackAcquisition(tb, driver, feedbackHandler)
	registerTsDeltaCheck(tb, coreFSM, currentMon, voltAgg)

	go bmsAdapter.Run()
	go primaryAdapter.Run()

	tb.SetEnable(true)
	go tickLoop(tb)

	runMainLoop(tb, bmsBus, primaryBus, coreFSM, faultHandler, now)
}

func mustInt(cfg *config.Config, section, key string, fallback int) int {
	if cfg == nil {
		return fallback
	}
	return cfg.MustInt(section, key, fallback)
}

// tickLoop stands in for the hardware's 1 kHz tick interrupt.
func tickLoop(tb *timebase.Timebase) {
	ticker := time.NewTicker(time.Duration(tb.Resolution()) * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		tb.IncTick()
	}
}

// balancerEvents adapts the FSM (constructed after the balancer, so
// it is referenced through a pointer-to-pointer set once
// construction completes) to balancer.EventSink.
type balancerEvents struct {
	fsm **fsm.FSM
}

func (e balancerEvents) BalancingStart() {
	if f := *e.fsm; f != nil {
		f.Enqueue(fsm.EventBalancingStart)
	}
}

func (e balancerEvents) BalancingStop() {
	if f := *e.fsm; f != nil {
		f.Enqueue(fsm.EventBalancingStop)
	}
}

func registerBmsHandlers(bus *canbus.Bus, voltAgg *voltage.Aggregator, tempAgg *temperature.Aggregator, currentMon *current.Monitor, prog *programmer.Programmer, ident *identity.Identity) {
	bus.RegisterHandler(canlib.IdxCellboardVoltage, voltAgg.HandlePage)
	bus.RegisterHandler(canlib.IdxCellboardTemperature, tempAgg.HandlePage)
	bus.RegisterHandler(canlib.IdxCurrentSensor, currentMon.HandleCurrent)
	bus.RegisterHandler(canlib.IdxCellboardFlashResponse, func(frame bms.Frame) error {
		resp, err := canlib.UnpackCellboardFlashResponse(frame.Payload[:frame.Len])
		if err != nil {
			return err
		}
		prog.HandleCellboardReady(resp)
		return nil
	})
	bus.RegisterHandler(canlib.IdxCellboardVersion, func(frame bms.Frame) error {
		v, err := canlib.UnpackCellboardVersion(frame.Payload[:frame.Len])
		if err != nil {
			return err
		}
		return ident.RecordCellboardVersion(int(v.CellboardID), identity.CellboardVersion{Major: v.Major, Minor: v.Minor, Patch: v.Patch})
	})
}

func registerPrimaryHandlers(bus *canbus.Bus, prog *programmer.Programmer, balCoord *balancer.Coordinator, coreFSM *fsm.FSM) {
	bus.RegisterHandler(canlib.IdxFlashRequest, func(frame bms.Frame) error {
		// The handshake only arms from IDLE, the only state the FSM
		// itself honors FLASH_REQUEST from; arming it from any other
		// state would let a stray flash request sit ready to fire a
		// real reset once the pack later returns to IDLE.
		if coreFSM.State() != fsm.StateIdle {
			return nil
		}
		req, err := canlib.UnpackFlashRequest(frame.Payload[:frame.Len])
		if err != nil {
			return err
		}
		coreFSM.Enqueue(fsm.EventFlashRequest)
		return prog.HandleFlashRequest(req)
	})
	bus.RegisterHandler(canlib.IdxFlash, func(frame bms.Frame) error {
		// The actual reset may only fire while the FSM is in FLASH;
		// a flash{start=true} received in any other state (e.g. mid
		// precharge or at TS_ON) is dropped rather than resetting the
		// MCU out from under a live pack.
		if coreFSM.State() != fsm.StateFlash {
			return nil
		}
		cmd, err := canlib.UnpackFlash(frame.Payload[:frame.Len])
		if err != nil {
			return err
		}
		prog.HandleFlash(cmd)
		return nil
	})
	bus.RegisterHandler(canlib.IdxTsOnEcu, func(bms.Frame) error { coreFSM.Enqueue(fsm.EventTsOn); return nil })
	bus.RegisterHandler(canlib.IdxTsOnHandcart, func(bms.Frame) error { coreFSM.Enqueue(fsm.EventTsOn); return nil })
	bus.RegisterHandler(canlib.IdxTsOffEcu, func(bms.Frame) error { coreFSM.Enqueue(fsm.EventTsOff); return nil })
	bus.RegisterHandler(canlib.IdxTsOffHandcart, func(bms.Frame) error { coreFSM.Enqueue(fsm.EventTsOff); return nil })
	bus.RegisterHandler(canlib.IdxBalancingSteeringWheel, func(frame bms.Frame) error {
		cmd, err := canlib.UnpackBalancingCommand(frame.Payload[:frame.Len])
		if err != nil {
			return err
		}
		return balCoord.HandleCommand(cmd)
	})
	bus.RegisterHandler(canlib.IdxBalancingHandcart, func(frame bms.Frame) error {
		cmd, err := canlib.UnpackBalancingCommand(frame.Payload[:frame.Len])
		if err != nil {
			return err
		}
		return balCoord.HandleCommand(cmd)
	})
}

// registerFeedbackAcquisition periodically reads the digital feedback
// bank in one GPIO pass and kicks off the analog ADC conversion sweep,
// matching spec.md §4.6's acquisition split: the digital read is
// synchronous, the analog samples arrive asynchronously through
// feedback.Handler.UpdateAnalog, normally called from the ADC
// DMA-complete ISR. hostDriver has no such ISR to drive on a
// development host, so only the digital bank is actually kept live
// here; see DESIGN.md's note on the IMD adaptor for the same
// limitation.
func registerFeedbackAcquisition(tb *timebase.Timebase, driver *hostDriver, fb *feedback.Handler) {
	tb.RegisterTask(&timebase.Task{
		ID:       0x202,
		Enabled:  true,
		Interval: tb.ToTicks(10),
		Callback: func() {
			fb.UpdateDigitalAll(driver.feedbackReadAll())
			driver.feedbackStartConv()
		},
	})
}

// registerTsDeltaCheck periodically enforces spec.md §3's "ts-on"
// invariant (|TS - sum(cells)| <= DELTA_V) while the pack is actually
// at TS_ON, raising the dedicated over-voltage fault instance on
// mismatch via current.Monitor.CheckTsDelta.
func registerTsDeltaCheck(tb *timebase.Timebase, coreFSM *fsm.FSM, currentMon *current.Monitor, voltAgg *voltage.Aggregator) {
	tb.RegisterTask(&timebase.Task{
		ID:       0x203,
		Enabled:  true,
		Interval: tb.ToTicks(100),
		Callback: func() {
			if coreFSM.State() != fsm.StateTsOn {
				return
			}
			currentMon.CheckTsDelta(voltAgg.Sum())
		},
	})
}

// feedbackDigitalBits reconstructs the raw digital bitflag from the
// classified status vector, for HvFeedbackDigital telemetry.
func feedbackDigitalBits(fb *feedback.Handler) uint32 {
	var bits uint32
	vector := fb.Vector()
	for i := 0; i < feedback.DigitalBitCount; i++ {
		if vector[i] == feedback.StatusHigh {
			bits |= 1 << uint(i)
		}
	}
	return bits
}

func feedbackAllGood(fb *feedback.Handler) bool {
	vector := fb.Vector()
	for _, s := range vector {
		if s == feedback.StatusError {
			return false
		}
	}
	return true
}

// registerTelemetryPackers wires the periodic "publish on the vehicle
// bus" tasks, one per message family, onto the timebase. Task IDs in
// the 0x100 range are reserved for the balancer's six per-cellboard
// enable/disable tasks.
func registerTelemetryPackers(tb *timebase.Timebase, bmsBus, primaryBus *canbus.Bus, coreFSM *fsm.FSM, currentMon *current.Monitor, fb *feedback.Handler, imdAdaptor *imd.Adaptor, faultHandler *faults.Handler, balCoord *balancer.Coordinator, tempAgg *temperature.Aggregator) {
	primaryBus.RegisterPacker(canlib.IdxHvStatus, func() ([]byte, uint8, error) {
		payload, length := canlib.HvStatus{State: uint8(coreFSM.State())}.Pack()
		return payload, length, nil
	})
	primaryBus.RegisterPacker(canlib.IdxHvCurrent, func() ([]byte, uint8, error) {
		payload, length := canlib.HvCurrent{CurrentMa: currentMon.CurrentMa()}.Pack()
		return payload, length, nil
	})
	primaryBus.RegisterPacker(canlib.IdxHvTsVoltage, func() ([]byte, uint8, error) {
		payload, length := canlib.HvTsVoltage{
			TsMv:            int16(currentMon.TsMv()),
			PackMv:          int16(currentMon.PackMv()),
			HeatsinkCTenths: int16(currentMon.HeatsinkCTenths()),
			ImdTsMv:         int16(currentMon.ImdTsMv()),
		}.Pack()
		return payload, length, nil
	})
	primaryBus.RegisterPacker(canlib.IdxHvImdStatus, func() ([]byte, uint8, error) {
		payload, length := canlib.HvImdStatus{Status: uint8(imdAdaptor.Status())}.Pack()
		return payload, length, nil
	})
	primaryBus.RegisterPacker(canlib.IdxHvFeedbackStatus, func() ([]byte, uint8, error) {
		payload, length := canlib.HvFeedbackStatus{AllGood: feedbackAllGood(fb)}.Pack()
		return payload, length, nil
	})
	primaryBus.RegisterPacker(canlib.IdxHvFeedbackDigital, func() ([]byte, uint8, error) {
		payload, length := canlib.HvFeedbackDigital{Bits: feedbackDigitalBits(fb)}.Pack()
		return payload, length, nil
	})

	// The real canlib assigns one distinct CAN identifier per
	// cellboard's set-balancing-status message; until that ID table is
	// wired in, sub-indices are synthesized by offsetting the shared
	// canlib ordinal by cellboard ID so each of the six tasks drains
	// independently.
	for i := 0; i < canlib.CellboardCount; i++ {
		cellboardID := i
		index := canlib.IdxCellboardSetBalancing + uint16(cellboardID)
		bmsBus.RegisterPacker(index, func() ([]byte, uint8, error) {
			payload, length := balCoord.Command(cellboardID).Pack()
			return payload, length, nil
		})
		tb.RegisterTask(&timebase.Task{
			ID:       uint32(0x100 + cellboardID),
			Enabled:  false,
			Interval: tb.ToTicks(100),
			Callback: func() {
				_ = bmsBus.TxAdd(index, bms.FrameData)
			},
		})
	}

	tb.RegisterTask(&timebase.Task{
		ID:       0x200,
		Enabled:  true,
		Interval: tb.ToTicks(10),
		Callback: func() {
			_ = primaryBus.TxAdd(canlib.IdxHvStatus, bms.FrameData)
			_ = primaryBus.TxAdd(canlib.IdxHvCurrent, bms.FrameData)
			_ = primaryBus.TxAdd(canlib.IdxHvTsVoltage, bms.FrameData)
			_ = primaryBus.TxAdd(canlib.IdxHvImdStatus, bms.FrameData)
			_ = primaryBus.TxAdd(canlib.IdxHvFeedbackStatus, bms.FrameData)
			_ = primaryBus.TxAdd(canlib.IdxHvFeedbackDigital, bms.FrameData)
		},
	})

	// One shared canlib ordinal for all six cellboards' temperature
	// pages (no real per-cellboard identifier table, same limitation
	// faultReportTask works around below): round-robin which board's
	// page gets packed, rather than offsetting the index per board,
	// since primaryBus already has distinct packers registered on the
	// neighboring ordinals (IdxHvFeedbackStatus, IdxHvImdStatus, ...)
	// that an offset scheme would silently overwrite.
	tempCursor := 0
	primaryBus.RegisterPacker(canlib.IdxHvCellsTemperature, func() ([]byte, uint8, error) {
		cellboardID := tempCursor % canlib.CellboardCount
		tempCursor++
		payload, length := tempAgg.BuildHvPayload(cellboardID).Pack()
		return payload, length, nil
	})
	tb.RegisterTask(&timebase.Task{
		ID:       0x300,
		Enabled:  true,
		Interval: tb.ToTicks(50),
		Callback: func() {
			_ = primaryBus.TxAdd(canlib.IdxHvCellsTemperature, bms.FrameData)
		},
	})

	faultReportTask(tb, primaryBus, faultHandler)
}

// faultReportTask periodically republishes each fault group's
// aggregate running/expired counts in round-robin order, a
// simplified stand-in for per-instance hv_errors telemetry given the
// single shared canlib index.
func faultReportTask(tb *timebase.Timebase, bus *canbus.Bus, faultHandler *faults.Handler) {
	groups := []faults.Group{
		faults.GroupPOST, faults.GroupCanComm, faults.GroupUnderVoltage, faults.GroupOverVoltage,
		faults.GroupUnderTemperature, faults.GroupOverTemperature, faults.GroupOverCurrent,
	}
	cursor := 0
	bus.RegisterPacker(canlib.IdxHvErrors, func() ([]byte, uint8, error) {
		group := groups[cursor%len(groups)]
		cursor++
		counts := faultHandler.GroupCounts(group)
		payload, length := canlib.HvErrors{
			Group:   uint8(group),
			Running: counts.Running > 0,
			Expired: counts.Expired > 0,
		}.Pack()
		return payload, length, nil
	})
	tb.RegisterTask(&timebase.Task{
		ID:       0x201,
		Enabled:  true,
		Interval: tb.ToTicks(100),
		Callback: func() {
			_ = bus.TxAdd(canlib.IdxHvErrors, bms.FrameData)
		},
	})
}

func runMainLoop(tb *timebase.Timebase, bmsBus, primaryBus *canbus.Bus, coreFSM *fsm.FSM, faultHandler *faults.Handler, now func() bms.Ticks) {
	// Ordering guarantee for each pass: tasks, then CAN routine, then
	// fault routine, then the FSM's gate poll and step.
	ticker := time.NewTicker(time.Duration(tb.Resolution()) * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		tb.Routine()
		bmsBus.Routine()
		primaryBus.Routine()
		faultHandler.Routine(now())
		if faultHandler.IsAnyExpired() {
			coreFSM.Enqueue(fsm.EventTsOff)
		}
		coreFSM.PollPrechargeGate()
		coreFSM.PollFeedbackGate()
		coreFSM.Step()

		if coreFSM.State() == fsm.StateFatal {
			log.Error("pack latched into FATAL, exiting main loop")
			os.Exit(1)
		}
	}
}
