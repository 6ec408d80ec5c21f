package host

import "errors"

var (
	ErrTransport     = errors.New("transport error")
	ErrUnknownBus    = errors.New("unknown bus")
	ErrBusExists     = errors.New("bus index already attached")
	ErrInvalidBus    = errors.New("bus index must not be negative")
	ErrScriptExists  = errors.New("a script with this name is already loaded")
	ErrUnknownScript = errors.New("unknown script")
	ErrClosed        = errors.New("host is closed")
)
