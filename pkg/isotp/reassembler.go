package isotp

import (
	"fmt"
	"time"

	"github.com/samsamfire/gocanscript/pkg/can"
	log "github.com/sirupsen/logrus"
)

// Sends a flow control payload as an answer to a first frame received on rxID.
// The receiver of the payload chooses the identifier it is sent on.
type FlowControlSender interface {
	SendFlowControl(bus int, rxID uint32, payload []byte) error
}

type contextKey struct {
	bus int
	id  uint32
	ae  byte
}

type reassemblyContext struct {
	extended   bool
	expected   int
	data       []byte
	sequence   uint8
	blockCount uint8
	deadline   time.Time
}

// Reassembler rebuilds ISO-TP messages from CAN frames.
// It keeps at most one reassembly per (bus, identifier, address extension).
// It is not safe for concurrent use, the owner feeds it from a single goroutine.
type Reassembler struct {
	config   Config
	sender   FlowControlSender
	logger   *log.Logger
	contexts map[contextKey]*reassemblyContext
}

func NewReassembler(cfg Config, sender FlowControlSender, logger *log.Logger) *Reassembler {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Reassembler{
		config:   cfg,
		sender:   sender,
		logger:   logger,
		contexts: make(map[contextKey]*reassemblyContext),
	}
}

// Number of reassemblies in progress
func (r *Reassembler) Pending() int {
	return len(r.contexts)
}

// Process a received frame, a message is returned once it is complete.
// Flow control frames are ignored here, see [Transmitter.HandleFlowControl].
func (r *Reassembler) Handle(bus int, frame can.Frame, now time.Time) (*Message, error) {
	if frame.IsRemote() || frame.IsError() {
		return nil, nil
	}
	payload := frame.Payload()
	offset := r.config.addressLength()
	if len(payload) <= offset {
		return nil, fmt.Errorf("%w : x%x empty payload", ErrInvalidFrame, frame.Identifier())
	}
	var ae byte
	if offset > 0 {
		ae = payload[0]
	}
	pci := payload[offset:]
	key := contextKey{bus: bus, id: frame.Identifier(), ae: ae}

	switch pciType(pci[0] >> 4) {
	case pciSingle:
		length := int(pci[0] & 0x0F)
		if length == 0 || length > r.config.maxSingleLength() || length > len(pci)-1 {
			return nil, fmt.Errorf("%w : x%x single frame length %d", ErrInvalidFrame, key.id, length)
		}
		r.discardStale(key)
		return &Message{
			Bus:              bus,
			ID:               key.id,
			Extended:         frame.IsExtended(),
			AddressExtension: ae,
			Data:             append([]byte(nil), pci[1:1+length]...),
		}, nil

	case pciFirst:
		if len(pci) < 2 {
			return nil, fmt.Errorf("%w : x%x truncated first frame", ErrInvalidFrame, key.id)
		}
		length := int(pci[0]&0x0F)<<8 | int(pci[1])
		if length == 0 {
			// Escape sequence announcing a 32 bit length
			return nil, fmt.Errorf("%w : x%x", ErrTooLong, key.id)
		}
		if length <= r.config.maxSingleLength() {
			return nil, fmt.Errorf("%w : x%x first frame length %d", ErrInvalidFrame, key.id, length)
		}
		r.discardStale(key)
		ctx := &reassemblyContext{
			extended: frame.IsExtended(),
			expected: length,
			data:     make([]byte, 0, length),
			sequence: 1,
			deadline: now.Add(r.config.Timeout),
		}
		ctx.data = append(ctx.data, pci[2:]...)
		r.contexts[key] = ctx
		r.logger.Debugf("[ISOTP] bus %d x%x first frame, expecting %d bytes", bus, key.id, length)
		r.sendFlowControl(key)
		return nil, nil

	case pciConsecutive:
		ctx, ok := r.contexts[key]
		if !ok {
			return nil, fmt.Errorf("%w : x%x on bus %d", ErrUnexpectedFrame, key.id, bus)
		}
		sequence := pci[0] & 0x0F
		if sequence != ctx.sequence {
			delete(r.contexts, key)
			return nil, fmt.Errorf("%w : x%x on bus %d, expected %d got %d",
				ErrOutOfSequence, key.id, bus, ctx.sequence, sequence)
		}
		chunk := pci[1:]
		remaining := ctx.expected - len(ctx.data)
		if len(chunk) > remaining {
			chunk = chunk[:remaining]
		}
		ctx.data = append(ctx.data, chunk...)
		ctx.sequence = (ctx.sequence + 1) & 0x0F
		ctx.deadline = now.Add(r.config.Timeout)
		if len(ctx.data) == ctx.expected {
			delete(r.contexts, key)
			return &Message{
				Bus:              bus,
				ID:               key.id,
				Extended:         ctx.extended,
				AddressExtension: ae,
				Data:             ctx.data,
			}, nil
		}
		if r.config.BlockSize > 0 {
			ctx.blockCount++
			if ctx.blockCount == r.config.BlockSize {
				ctx.blockCount = 0
				r.sendFlowControl(key)
			}
		}
		return nil, nil

	case pciFlowControl:
		return nil, nil

	default:
		return nil, fmt.Errorf("%w : x%x unknown pci x%x", ErrInvalidFrame, key.id, pci[0])
	}
}

// Drop every reassembly whose deadline has passed, one error per dropped reassembly
func (r *Reassembler) Expire(now time.Time) []error {
	var errs []error
	for key, ctx := range r.contexts {
		if now.After(ctx.deadline) {
			delete(r.contexts, key)
			errs = append(errs, fmt.Errorf("%w : x%x on bus %d, received %d/%d bytes",
				ErrTimeout, key.id, key.bus, len(ctx.data), ctx.expected))
		}
	}
	return errs
}

func (r *Reassembler) discardStale(key contextKey) {
	ctx, ok := r.contexts[key]
	if !ok {
		return
	}
	delete(r.contexts, key)
	r.logger.Warnf("[ISOTP] bus %d x%x discarding unfinished message (%d/%d bytes)",
		key.bus, key.id, len(ctx.data), ctx.expected)
}

func (r *Reassembler) sendFlowControl(key contextKey) {
	if !r.config.FlowControl || r.sender == nil {
		return
	}
	err := r.sender.SendFlowControl(key.bus, key.id, FlowControlPayload(r.config, FlowContinue))
	if err != nil {
		r.logger.Warnf("[ISOTP] bus %d x%x failed to send flow control : %v", key.bus, key.id, err)
	}
}
