// Package uds gives a service / sub-function view of ISO-TP payloads (ISO 14229).
//
// Sub-function policy : byte 1 is treated as a sub-function only for the
// services listed in [HasSubFunction] and their positive responses. For
// requests, bit 7 of the sub-function is the suppress positive response bit,
// reported separately. Negative responses (0x7F) report the rejected service
// as Service and the negative response code as SubFunction, Data starts
// with the negative response code.
package uds

import (
	"errors"
	"fmt"

	"github.com/samsamfire/gocanscript/pkg/isotp"
)

var (
	ErrEmptyPayload = errors.New("uds payload is empty")
	ErrTruncated    = errors.New("uds negative response shorter than 3 bytes")
)

const (
	NegativeResponse     uint8 = 0x7F
	PositiveResponseMask uint8 = 0x40
	SuppressPositiveBit  uint8 = 0x80
)

// Services carrying a sub-function byte, as requests
var subFunctionServices = map[uint8]bool{
	0x10: true, // DiagnosticSessionControl
	0x11: true, // ECUReset
	0x19: true, // ReadDTCInformation
	0x27: true, // SecurityAccess
	0x28: true, // CommunicationControl
	0x29: true, // Authentication
	0x2C: true, // DynamicallyDefineDataIdentifier
	0x31: true, // RoutineControl
	0x3E: true, // TesterPresent
	0x83: true, // AccessTimingParameter
	0x85: true, // ControlDTCSetting
	0x86: true, // ResponseOnEvent
	0x87: true, // LinkControl
}

// A decoded UDS message
type Message struct {
	Bus                      int
	ID                       uint32
	Service                  uint8
	SubFunction              uint8
	HasSubFunction           bool
	SuppressPositiveResponse bool
	Negative                 bool
	NRC                      uint8
	Data                     []byte
}

// Sub-function as handed to scripts, -1 when the service has none
func (m Message) SubFunctionValue() int {
	if !m.HasSubFunction {
		return -1
	}
	return int(m.SubFunction)
}

func (m Message) String() string {
	if m.Negative {
		return fmt.Sprintf("bus %d x%x negative response to %v (x%x) : %v",
			m.Bus, m.ID, ServiceName(m.Service), m.Service, NegativeResponseName(m.NRC))
	}
	return fmt.Sprintf("bus %d x%x %v (x%x) sub %d [%d] % x",
		m.Bus, m.ID, ServiceName(m.Service), m.Service, m.SubFunctionValue(), len(m.Data), m.Data)
}

// True if requests of this service, or the matching positive responses, carry a sub-function
func HasSubFunction(service uint8) bool {
	if subFunctionServices[service] {
		return true
	}
	return service >= PositiveResponseMask && subFunctionServices[service-PositiveResponseMask]
}

func isRequest(service uint8) bool {
	return subFunctionServices[service]
}

// Decode a reassembled ISO-TP message
func Decode(msg *isotp.Message) (Message, error) {
	decoded := Message{Bus: msg.Bus, ID: msg.ID}
	payload := msg.Data
	if len(payload) == 0 {
		return decoded, fmt.Errorf("%w : x%x on bus %d", ErrEmptyPayload, msg.ID, msg.Bus)
	}
	decoded.Service = payload[0]

	if decoded.Service == NegativeResponse {
		if len(payload) < 3 {
			return decoded, fmt.Errorf("%w : x%x on bus %d got % x", ErrTruncated, msg.ID, msg.Bus, payload)
		}
		decoded.Negative = true
		decoded.Service = payload[1]
		decoded.NRC = payload[2]
		decoded.SubFunction = payload[2]
		decoded.HasSubFunction = true
		decoded.Data = append([]byte{}, payload[2:]...)
		return decoded, nil
	}

	if !HasSubFunction(decoded.Service) || len(payload) < 2 {
		decoded.Data = append([]byte{}, payload[1:]...)
		return decoded, nil
	}
	decoded.HasSubFunction = true
	decoded.SubFunction = payload[1]
	if isRequest(decoded.Service) {
		decoded.SuppressPositiveResponse = payload[1]&SuppressPositiveBit != 0
		decoded.SubFunction = payload[1] &^ SuppressPositiveBit
	}
	decoded.Data = append([]byte{}, payload[2:]...)
	return decoded, nil
}

// Build a UDS payload, the sub-function byte is omitted when negative
func Encode(service uint8, subFunction int, params []byte) []byte {
	payload := make([]byte, 0, 2+len(params))
	payload = append(payload, service)
	if subFunction >= 0 {
		payload = append(payload, byte(subFunction))
	}
	return append(payload, params...)
}
