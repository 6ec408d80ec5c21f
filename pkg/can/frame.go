package can

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidDLC = errors.New("frame length must be between 0 and 8")
	ErrInvalidID  = errors.New("frame identifier does not fit in 29 bits")
	ErrDataLength = errors.New("data length does not match declared length")
)

// Build a data frame from a payload.
// Identifiers above 0x7FF are sent in extended frame format.
func NewDataFrame(id uint32, data []byte) (Frame, error) {
	if id > CanEffMask {
		return Frame{}, fmt.Errorf("%w : x%x", ErrInvalidID, id)
	}
	if len(data) > MaxDLC {
		return Frame{}, fmt.Errorf("%w : got %v", ErrInvalidDLC, len(data))
	}
	frame := NewFrame(id, 0, uint8(len(data)))
	if id > CanSffMask {
		frame.ID |= CanEffFlag
	}
	copy(frame.Data[:], data)
	return frame, nil
}

// Build a data frame from a declared length and a payload, checking that both agree.
func NewDataFrameWithLength(id uint32, length int, data []byte) (Frame, error) {
	if length < 0 || length > MaxDLC {
		return Frame{}, fmt.Errorf("%w : got %v", ErrInvalidDLC, length)
	}
	if length != len(data) {
		return Frame{}, fmt.Errorf("%w : declared %v, got %v", ErrDataLength, length, len(data))
	}
	return NewDataFrame(id, data)
}

// Identifier without the flag bits
func (f Frame) Identifier() uint32 {
	if f.IsExtended() {
		return f.ID & CanEffMask
	}
	return f.ID & CanSffMask
}

func (f Frame) IsExtended() bool {
	return f.ID&CanEffFlag != 0
}

func (f Frame) IsRemote() bool {
	return f.ID&CanRtrFlag != 0
}

func (f Frame) IsError() bool {
	return f.ID&CanErrFlag != 0
}

// Payload returns a copy of the first DLC bytes
func (f Frame) Payload() []byte {
	dlc := int(f.DLC)
	if dlc > MaxDLC {
		dlc = MaxDLC
	}
	payload := make([]byte, dlc)
	copy(payload, f.Data[:dlc])
	return payload
}

// Check that the frame can be put on a classic CAN bus
func (f Frame) Validate() error {
	if f.DLC > MaxDLC {
		return fmt.Errorf("%w : got %v", ErrInvalidDLC, f.DLC)
	}
	if !f.IsExtended() && f.ID&CanEffMask > CanSffMask {
		return fmt.Errorf("%w : x%x without extended flag", ErrInvalidID, f.ID&CanEffMask)
	}
	return nil
}

func (f Frame) String() string {
	if f.IsExtended() {
		return fmt.Sprintf("x%08x [%d] % x", f.Identifier(), f.DLC, f.Payload())
	}
	return fmt.Sprintf("x%03x [%d] % x", f.Identifier(), f.DLC, f.Payload())
}
