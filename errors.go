// Package bms contains the shared primitives used by every mainboard
// core package: the CAN frame representation and the sentinel errors
// returned by module APIs.
package bms

import "errors"

var (
	ErrNullArgument      = errors.New("null argument")
	ErrIllegalArgument   = errors.New("illegal argument")
	ErrOverrun           = errors.New("buffer overrun")
	ErrDisabled          = errors.New("module disabled")
	ErrBusy              = errors.New("already running")
	ErrNotRunning        = errors.New("not running")
	ErrTimedOut          = errors.New("already timed out")
	ErrUnavailable       = errors.New("resource unavailable")
	ErrNotRegistered     = errors.New("not registered")
	ErrUnhandledIndex    = errors.New("no handler registered for index")
	ErrTransmissionError = errors.New("transmission error")
	ErrInvalidPayload    = errors.New("invalid payload size")
	ErrInvalidFrameType  = errors.New("invalid frame type")
)
