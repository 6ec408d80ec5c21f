//go:build linux

package socketcanraw

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/samsamfire/gocanscript/pkg/can"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// SocketCAN driver talking to the kernel directly through a CAN_RAW socket.
// This expects the CAN channel to be up e.g. running "ip a" should show can0.

func init() {
	can.RegisterInterface("socketcanraw", NewSocketCanBus)
}

const (
	FrameSize           = 16
	DefaultRcvTimeoutUs = 100000
)

type SocketcanBus struct {
	mu         sync.Mutex
	channel    string
	fd         int
	rxCallback can.FrameListener
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

func NewSocketCanBus(channel string, bitrate int) (can.Bus, error) {
	iface, err := net.InterfaceByName(channel)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("failed to create CAN socket : %w", err)
	}
	tv := unix.NsecToTimeval(DefaultRcvTimeoutUs * 1000)
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to set read timeout : %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: iface.Index}); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return &SocketcanBus{channel: channel, fd: fd}, nil
}

// struct can_frame layout, identifier in host byte order
func encode(frame can.Frame) []byte {
	raw := make([]byte, FrameSize)
	binary.NativeEndian.PutUint32(raw[0:4], frame.ID)
	raw[4] = frame.DLC
	raw[5] = frame.Flags
	copy(raw[8:], frame.Data[:])
	return raw
}

func decode(raw []byte) can.Frame {
	frame := can.Frame{
		ID:    binary.NativeEndian.Uint32(raw[0:4]),
		DLC:   raw[4],
		Flags: raw[5],
	}
	copy(frame.Data[:], raw[8:16])
	return frame
}

// "Connect" implementation of Bus interface
func (s *SocketcanBus) Connect(...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}
	var ctx context.Context
	ctx, s.cancel = context.WithCancel(context.Background())
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.processIncoming(ctx)
	}()
	return nil
}

// "Disconnect" implementation of Bus interface
func (s *SocketcanBus) Disconnect() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	s.wg.Wait()
	return unix.Close(s.fd)
}

// "Send" implementation of Bus interface
func (s *SocketcanBus) Send(frame can.Frame) error {
	n, err := unix.Write(s.fd, encode(frame))
	if err != nil {
		return err
	}
	if n != FrameSize {
		return fmt.Errorf("short write on %v : %v bytes", s.channel, n)
	}
	return nil
}

// process incoming frames. This is meant to be run inside of a goroutine
func (s *SocketcanBus) processIncoming(ctx context.Context) {
	rxFrame := make([]byte, FrameSize)
	for {
		select {
		case <-ctx.Done():
			log.Infof("[SOCKETCANRAW][%v] exiting CAN bus reception", s.channel)
			return
		default:
		}
		n, err := unix.Read(s.fd, rxFrame)
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil || n != FrameSize {
			log.Errorf("[SOCKETCANRAW][%v] reception stopped : %v (%v bytes)", s.channel, err, n)
			return
		}
		s.mu.Lock()
		callback := s.rxCallback
		s.mu.Unlock()
		if callback != nil {
			callback.Handle(decode(rxFrame))
		}
	}
}

// "Subscribe" implementation of Bus interface
func (s *SocketcanBus) Subscribe(rxCallback can.FrameListener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rxCallback = rxCallback
	return nil
}
