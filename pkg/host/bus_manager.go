package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/samsamfire/gocanscript/pkg/can"
	"github.com/samsamfire/gocanscript/pkg/isotp"
	log "github.com/sirupsen/logrus"
)

// Bus manager is a wrapper around one attached CAN bus.
// Received frames are queued in arrival order and processed by a single
// goroutine which also owns the ISO-TP reassembly of that bus.
type BusManager struct {
	index       int
	bus         can.Bus
	host        *Host
	logger      *log.Entry
	frames      chan can.Frame
	reassembler *isotp.Reassembler
	mu          sync.Mutex
	lastTxID    uint32
	hasLastTx   bool
}

func newBusManager(index int, bus can.Bus, h *Host) *BusManager {
	bm := &BusManager{
		index:  index,
		bus:    bus,
		host:   h,
		logger: h.logger.WithField("bus", index),
		frames: make(chan can.Frame, h.config.BusQueueSize),
	}
	bm.reassembler = isotp.NewReassembler(h.config.ISOTP, bm, h.logger)
	return bm
}

// Implements the FrameListener interface
// Frames are only queued here, the driver is never blocked by dispatch
func (bm *BusManager) Handle(frame can.Frame) {
	select {
	case bm.frames <- frame:
	default:
		bm.host.stats.droppedFrames.Add(1)
		bm.logger.Warnf("[CAN] reception queue full, dropping %v", frame)
	}
}

// Send a CAN frame, driver errors are wrapped with [ErrTransport]
func (bm *BusManager) Send(frame can.Frame) error {
	if err := frame.Validate(); err != nil {
		return err
	}
	err := bm.bus.Send(frame)
	if err != nil {
		bm.logger.Warnf("[CAN] %v", err)
		return fmt.Errorf("%w : bus %d : %v", ErrTransport, bm.index, err)
	}
	bm.host.stats.sentFrames.Add(1)
	return nil
}

// Remember the last identifier ISO-TP traffic was sent on,
// flow control frames go back to it
func (bm *BusManager) setLastTx(id uint32) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.lastTxID = id
	bm.hasLastTx = true
}

// Identifier used for flow control of a message received on rxID
func (bm *BusManager) flowControlTarget(rxID uint32) uint32 {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	if bm.hasLastTx {
		return bm.lastTxID
	}
	return isotp.RequestID(rxID)
}

// Implements [isotp.FlowControlSender]
func (bm *BusManager) SendFlowControl(bus int, rxID uint32, payload []byte) error {
	frame, err := can.NewDataFrame(bm.flowControlTarget(rxID), payload)
	if err != nil {
		return err
	}
	return bm.Send(frame)
}

// Dispatch queued frames and expire stale reassemblies until ctx is done
func (bm *BusManager) process(ctx context.Context) {
	ticker := time.NewTicker(bm.host.config.ExpiryPeriod)
	defer ticker.Stop()
	bm.logger.Debug("[HOST] starting bus process")
	for {
		select {
		case <-ctx.Done():
			bm.logger.Debug("[HOST] exited bus process")
			return
		case frame := <-bm.frames:
			bm.host.dispatch(bm, frame, time.Now())
		case now := <-ticker.C:
			for _, err := range bm.reassembler.Expire(now) {
				bm.host.stats.reassemblyTimeouts.Add(1)
				bm.logger.Warnf("[ISOTP] %v", err)
			}
		}
	}
}

func (bm *BusManager) reassemble(frame can.Frame, now time.Time) *isotp.Message {
	msg, err := bm.reassembler.Handle(bm.index, frame, now)
	if err == nil {
		return msg
	}
	bm.host.stats.reassemblyErrors.Add(1)
	if errors.Is(err, isotp.ErrUnexpectedFrame) {
		bm.logger.Debugf("[ISOTP] %v", err)
	} else {
		bm.logger.Warnf("[ISOTP] %v", err)
	}
	return nil
}
