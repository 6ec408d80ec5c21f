// Package isotp implements the ISO 15765-2 transport layer on top of classic
// CAN frames : reassembly of incoming messages, segmentation of outgoing ones
// and flow control in both directions.
package isotp

import (
	"fmt"
	"time"
)

const (
	MaxLength = 4095

	DefaultTimeout   = 1000 * time.Millisecond
	DefaultBlockSize = 0
	DefaultSTmin     = 3
	DefaultPadding   = 0xAA
)

// Protocol control information, high nibble of the first payload byte
type pciType uint8

const (
	pciSingle      pciType = 0x0
	pciFirst       pciType = 0x1
	pciConsecutive pciType = 0x2
	pciFlowControl pciType = 0x3
)

// Flow status carried in a flow control frame
type FlowStatus uint8

const (
	FlowContinue FlowStatus = 0x0
	FlowWait     FlowStatus = 0x1
	FlowOverflow FlowStatus = 0x2
)

type Config struct {
	Timeout            time.Duration // N_Cr on reception, N_Bs on transmission
	FlowControl        bool          // Answer first frames with a flow control frame
	BlockSize          uint8         // Consecutive frames between flow control frames, 0 for unlimited
	STmin              uint8         // Separation time requested from the peer
	Padding            byte          // Byte used to fill frames up to 8 bytes
	ExtendedAddressing bool          // First payload byte holds the target address
	TargetAddress      byte          // Address byte written on transmission with extended addressing
	WaitFlowControl    bool          // Wait for flow control after sending a first frame
}

func DefaultConfig() Config {
	return Config{
		Timeout:     DefaultTimeout,
		FlowControl: true,
		BlockSize:   DefaultBlockSize,
		STmin:       DefaultSTmin,
		Padding:     DefaultPadding,
	}
}

// Number of address bytes preceding the PCI
func (c Config) addressLength() int {
	if c.ExtendedAddressing {
		return 1
	}
	return 0
}

// Largest payload carried by a single frame
func (c Config) maxSingleLength() int {
	return 7 - c.addressLength()
}

// A complete ISO-TP message
type Message struct {
	Bus              int
	ID               uint32
	Extended         bool
	AddressExtension byte
	Data             []byte
}

func (m *Message) String() string {
	return fmt.Sprintf("bus %d x%x [%d] % x", m.Bus, m.ID, len(m.Data), m.Data)
}

// Payload of a flow control frame with the configured block size and separation time
func FlowControlPayload(cfg Config, status FlowStatus) []byte {
	payload := make([]byte, 0, 8)
	if cfg.ExtendedAddressing {
		payload = append(payload, cfg.TargetAddress)
	}
	payload = append(payload, byte(pciFlowControl)<<4|byte(status)&0x0F, cfg.BlockSize, cfg.STmin)
	return pad(payload, cfg.Padding)
}

// Decode STmin into a duration, reserved values are treated as the maximum of 127ms
func SeparationTime(stMin uint8) time.Duration {
	switch {
	case stMin <= 0x7F:
		return time.Duration(stMin) * time.Millisecond
	case stMin >= 0xF1 && stMin <= 0xF9:
		return time.Duration(stMin-0xF0) * 100 * time.Microsecond
	default:
		return 127 * time.Millisecond
	}
}

func pad(payload []byte, padding byte) []byte {
	for len(payload) < 8 {
		payload = append(payload, padding)
	}
	return payload
}
