package http

import (
	"errors"
	"fmt"

	"github.com/samsamfire/gocanscript/pkg/can"
	"github.com/samsamfire/gocanscript/pkg/gateway"
	"github.com/samsamfire/gocanscript/pkg/host"
	"github.com/samsamfire/gocanscript/pkg/isotp"
	"github.com/samsamfire/gocanscript/pkg/script"
)

var ERROR_GATEWAY_DESCRIPTION_MAP = map[int]string{
	100: "Request not supported",
	101: "Syntax error",
	102: "Request not processed due to internal state",
	103: "Time-out (where applicable)",
	106: "Unsupported bus",
	110: "Unknown script",
	111: "Script already loaded",
	112: "Script failed to compile",
	601: "CAN interface currently not available",
}

var (
	ErrGwRequestNotSupported      = &GatewayError{Code: 100}
	ErrGwSyntaxError              = &GatewayError{Code: 101}
	ErrGwRequestNotProcessed      = &GatewayError{Code: 102}
	ErrGwTimeout                  = &GatewayError{Code: 103}
	ErrGwUnsupportedBus           = &GatewayError{Code: 106}
	ErrGwUnknownScript            = &GatewayError{Code: 110}
	ErrGwScriptExists             = &GatewayError{Code: 111}
	ErrGwScriptCompile            = &GatewayError{Code: 112}
	ErrGwCANInterfaceNotAvailable = &GatewayError{Code: 601}
)

type GatewayError struct {
	Code int
}

func NewGatewayError(code int) error {
	return &GatewayError{Code: code}
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("ERROR:%d", e.Code)
}

func (e *GatewayError) Description() string {
	return ERROR_GATEWAY_DESCRIPTION_MAP[e.Code]
}

// Convert a host error to the matching gateway error
func toGatewayError(err error) *GatewayError {
	var gwErr *GatewayError
	switch {
	case errors.As(err, &gwErr):
		return gwErr
	case errors.Is(err, host.ErrUnknownBus), errors.Is(err, host.ErrInvalidBus):
		return ErrGwUnsupportedBus
	case errors.Is(err, host.ErrTransport):
		return ErrGwCANInterfaceNotAvailable
	case errors.Is(err, host.ErrUnknownScript):
		return ErrGwUnknownScript
	case errors.Is(err, host.ErrScriptExists):
		return ErrGwScriptExists
	case errors.Is(err, script.ErrCompile):
		return ErrGwScriptCompile
	case errors.Is(err, isotp.ErrTimeout):
		return ErrGwTimeout
	case errors.Is(err, gateway.ErrInvalidData), errors.Is(err, can.ErrInvalidID),
		errors.Is(err, can.ErrInvalidDLC), errors.Is(err, isotp.ErrTooLong), errors.Is(err, isotp.ErrEmpty):
		return ErrGwSyntaxError
	default:
		return ErrGwRequestNotProcessed
	}
}
