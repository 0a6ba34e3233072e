package main

import (
	"github.com/eagletrt/bms-mainboard/pkg/identity"
	"github.com/eagletrt/bms-mainboard/pkg/pcu"
	"github.com/sirupsen/logrus"
)

// hostDriver stands in for the peripheral HAL this core runs on
// embedded hardware: GPIO, ADC, IMD PWM capture and system reset all
// have no equivalent on a development host, so each callback logs its
// intent instead, the way cmd/canopen's extension_example.go stands
// in for a real DOMAIN object's backing store.
type hostDriver struct {
	log *logrus.Entry
}

func newHostDriver() *hostDriver {
	return &hostDriver{log: logrus.WithField("component", "host-driver")}
}

func (d *hostDriver) setPin(pin pcu.PinID, level pcu.Level) {
	d.log.WithFields(logrus.Fields{"pin": pin, "level": level}).Debug("pin set")
}

func (d *hostDriver) systemReset() {
	d.log.Warn("system reset requested")
}

func (d *hostDriver) criticalEnter() {}
func (d *hostDriver) criticalExit()  {}

func (d *hostDriver) imdStart() {
	d.log.Debug("imd measurement start requested")
}

func (d *hostDriver) feedbackStartConv() {
	d.log.Debug("feedback ADC conversion sweep requested")
}

// feedbackReadAll returns the concatenated digital feedback bitflag.
// On the host there is no GPIO bank to read; it reports every line
// nominal so POST and the FSM can be exercised without hardware.
func (d *hostDriver) feedbackReadAll() uint32 {
	return 0x1FFFF
}

// callbacks fills in every HAL callback field except CanSend, which
// the caller supplies since it depends on the live CAN bus adapters.
func (d *hostDriver) callbacks(base identity.Callbacks) identity.Callbacks {
	base.SystemReset = d.systemReset
	base.CriticalEnter = d.criticalEnter
	base.CriticalExit = d.criticalExit
	base.PinSet = func(pin uint8, high bool) {
		level := pcu.Low
		if high {
			level = pcu.High
		}
		d.setPin(pcu.PinID(pin), level)
	}
	base.PinToggle = func(pin uint8) { d.log.WithField("pin", pin).Debug("pin toggle") }
	base.ImdStart = d.imdStart
	base.FeedbackReadAll = d.feedbackReadAll
	base.FeedbackStartConv = d.feedbackStartConv
	return base
}
