package isotp

import (
	"fmt"

	"github.com/samsamfire/gocanscript/internal/fifo"
	"github.com/samsamfire/gocanscript/pkg/can"
)

// Split a message into the CAN frames carrying it.
// Messages that fit are sent as a single frame, otherwise as a first frame
// followed by consecutive frames. Every frame is padded to 8 bytes.
func Segment(id uint32, data []byte, cfg Config) ([]can.Frame, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	if len(data) > MaxLength {
		return nil, fmt.Errorf("%w : got %d", ErrTooLong, len(data))
	}
	header := make([]byte, 0, 8)
	if cfg.ExtendedAddressing {
		header = append(header, cfg.TargetAddress)
	}

	if len(data) <= cfg.maxSingleLength() {
		payload := append(header, byte(pciSingle)<<4|byte(len(data)))
		payload = append(payload, data...)
		frame, err := can.NewDataFrame(id, pad(payload, cfg.Padding))
		if err != nil {
			return nil, err
		}
		return []can.Frame{frame}, nil
	}

	buffer := fifo.New(len(data))
	buffer.Write(data)
	frames := make([]can.Frame, 0, 1+len(data)/(7-len(header)))
	chunk := make([]byte, 8)

	first := append(append([]byte{}, header...), byte(pciFirst)<<4|byte(len(data)>>8), byte(len(data)))
	n := buffer.Read(chunk[:8-len(first)])
	first = append(first, chunk[:n]...)
	frame, err := can.NewDataFrame(id, pad(first, cfg.Padding))
	if err != nil {
		return nil, err
	}
	frames = append(frames, frame)

	sequence := uint8(1)
	for buffer.Len() > 0 {
		consecutive := append(append([]byte{}, header...), byte(pciConsecutive)<<4|sequence)
		n = buffer.Read(chunk[:8-len(consecutive)])
		consecutive = append(consecutive, chunk[:n]...)
		frame, err = can.NewDataFrame(id, pad(consecutive, cfg.Padding))
		if err != nil {
			return nil, err
		}
		frames = append(frames, frame)
		sequence = (sequence + 1) & 0x0F
	}
	return frames, nil
}
