// Package socketcan drives a linux SocketCAN interface through
// https://github.com/brutella/can. The bitrate is configured on the interface
// itself (ip link), the value given to [NewSocketCanBus] is ignored.
package socketcan

import (
	"sync"

	sockcan "github.com/brutella/can"
	"github.com/samsamfire/gocanscript/pkg/can"
	log "github.com/sirupsen/logrus"
)

func init() {
	can.RegisterInterface("socketcan", NewSocketCanBus)
}

type SocketcanBus struct {
	name     string
	bus      *sockcan.Bus
	mu       sync.RWMutex
	listener can.FrameListener
	logger   *log.Entry
}

func NewSocketCanBus(name string, bitrate int) (can.Bus, error) {
	bus, err := sockcan.NewBusForInterfaceWithName(name)
	if err != nil {
		return nil, err
	}
	sb := &SocketcanBus{name: name, bus: bus, logger: log.WithField("channel", name)}
	// brutella/can calls Handle for every received frame
	bus.Subscribe(sb)
	return sb, nil
}

// Start reception in the background
func (sb *SocketcanBus) Connect(...any) error {
	go func() {
		if err := sb.bus.ConnectAndPublish(); err != nil {
			sb.logger.Errorf("[CAN] reception stopped : %v", err)
		}
	}()
	sb.logger.Debug("[CAN] socketcan reception started")
	return nil
}

func (sb *SocketcanBus) Disconnect() error {
	return sb.bus.Disconnect()
}

func (sb *SocketcanBus) Send(frame can.Frame) error {
	if err := frame.Validate(); err != nil {
		return err
	}
	return sb.bus.Publish(toSocketcan(frame))
}

func (sb *SocketcanBus) Subscribe(listener can.FrameListener) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.listener = listener
	return nil
}

// Implements the brutella/can Handler interface
func (sb *SocketcanBus) Handle(frame sockcan.Frame) {
	sb.mu.RLock()
	listener := sb.listener
	sb.mu.RUnlock()
	if listener == nil {
		return
	}
	listener.Handle(fromSocketcan(frame))
}

func toSocketcan(frame can.Frame) sockcan.Frame {
	return sockcan.Frame{ID: frame.ID, Length: frame.DLC, Flags: frame.Flags, Data: frame.Data}
}

func fromSocketcan(frame sockcan.Frame) can.Frame {
	return can.Frame{ID: frame.ID, DLC: frame.Length, Flags: frame.Flags, Data: frame.Data}
}
