package isotp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/samsamfire/gocanscript/pkg/can"
	log "github.com/sirupsen/logrus"
)

// Puts a frame on the given bus
type FrameSender interface {
	SendFrame(bus int, frame can.Frame) error
}

type flowControl struct {
	status    FlowStatus
	blockSize uint8
	stMin     uint8
}

type waitKey struct {
	bus int
	id  uint32
}

// Transmitter sends ISO-TP messages.
// When configured to wait for flow control, a transfer pauses after the first
// frame and after every block until the peer answers on [ResponseID].
type Transmitter struct {
	config  Config
	sender  FrameSender
	logger  *log.Logger
	mu      sync.Mutex
	waiting map[waitKey]chan flowControl
}

func NewTransmitter(sender FrameSender, cfg Config, logger *log.Logger) *Transmitter {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Transmitter{
		config:  cfg,
		sender:  sender,
		logger:  logger,
		waiting: make(map[waitKey]chan flowControl),
	}
}

// Send a complete message on bus with identifier id
func (t *Transmitter) Send(ctx context.Context, bus int, id uint32, data []byte) error {
	frames, err := Segment(id, data, t.config)
	if err != nil {
		return err
	}
	if len(frames) == 1 || !t.config.WaitFlowControl {
		for _, frame := range frames {
			if err := t.sender.SendFrame(bus, frame); err != nil {
				return err
			}
		}
		return nil
	}

	key := waitKey{bus: bus, id: ResponseID(id)}
	fcChan := make(chan flowControl, 1)
	t.mu.Lock()
	if _, busy := t.waiting[key]; busy {
		t.mu.Unlock()
		return fmt.Errorf("transfer already waiting for flow control on x%x", key.id)
	}
	t.waiting[key] = fcChan
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.waiting, key)
		t.mu.Unlock()
	}()

	if err := t.sender.SendFrame(bus, frames[0]); err != nil {
		return err
	}
	remaining := frames[1:]
	for len(remaining) > 0 {
		fc, err := t.waitFlowControl(ctx, fcChan, key)
		if err != nil {
			return err
		}
		count := len(remaining)
		if fc.blockSize > 0 && int(fc.blockSize) < count {
			count = int(fc.blockSize)
		}
		separation := SeparationTime(fc.stMin)
		for i, frame := range remaining[:count] {
			if i > 0 && separation > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(separation):
				}
			}
			if err := t.sender.SendFrame(bus, frame); err != nil {
				return err
			}
		}
		remaining = remaining[count:]
	}
	return nil
}

func (t *Transmitter) waitFlowControl(ctx context.Context, fcChan chan flowControl, key waitKey) (flowControl, error) {
	timer := time.NewTimer(t.config.Timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return flowControl{}, ctx.Err()
		case <-timer.C:
			return flowControl{}, fmt.Errorf("%w : no flow control on x%x", ErrTimeout, key.id)
		case fc := <-fcChan:
			switch fc.status {
			case FlowContinue:
				return fc, nil
			case FlowWait:
				t.logger.Debugf("[ISOTP] bus %d x%x peer asked to wait", key.bus, key.id)
				timer.Reset(t.config.Timeout)
			case FlowOverflow:
				return fc, fmt.Errorf("%w : x%x", ErrOverflow, key.id)
			default:
				return fc, fmt.Errorf("%w : x%x flow status %d", ErrInvalidFrame, key.id, fc.status)
			}
		}
	}
}

// Route a received frame to a transfer waiting for flow control.
// Returns true if the frame was consumed.
func (t *Transmitter) HandleFlowControl(bus int, frame can.Frame) bool {
	payload := frame.Payload()
	offset := t.config.addressLength()
	if len(payload) < offset+3 || pciType(payload[offset]>>4) != pciFlowControl {
		return false
	}
	t.mu.Lock()
	fcChan, ok := t.waiting[waitKey{bus: bus, id: frame.Identifier()}]
	t.mu.Unlock()
	if !ok {
		return false
	}
	fc := flowControl{
		status:    FlowStatus(payload[offset] & 0x0F),
		blockSize: payload[offset+1],
		stMin:     payload[offset+2],
	}
	select {
	case fcChan <- fc:
	default:
		t.logger.Debugf("[ISOTP] bus %d x%x dropping duplicate flow control", bus, frame.Identifier())
	}
	return true
}
