package virtual

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/samsamfire/gocanscript/pkg/can"
	log "github.com/sirupsen/logrus"
)

// Virtual CAN bus implementation with TCP, primarily used for testing and simulation.
// This needs a broker server to send CAN frames to all connected clients,
// either https://github.com/windelbouwman/virtualcan or [Server].

func init() {
	can.RegisterInterface("virtual", NewVirtualCanBus)
	can.RegisterInterface("virtualcan", NewVirtualCanBus)
}

var ErrNotConnected = errors.New("no active connection")

const (
	frameSize    = 14 // ID(4) + Flags(1) + DLC(1) + Data(8)
	headerSize   = 4
	readTimeout  = 200 * time.Millisecond
	writeTimeout = 50 * time.Millisecond
)

type VirtualCanBus struct {
	mu           sync.Mutex
	writeMu      sync.Mutex
	channel      string
	conn         net.Conn
	receiveOwn   bool
	framehandler can.FrameListener
	stopChan     chan struct{}
	wg           sync.WaitGroup
	isRunning    bool
}

func NewVirtualCanBus(channel string, bitrate int) (can.Bus, error) {
	return &VirtualCanBus{channel: channel}, nil
}

// Helper function for serializing a CAN frame into the expected binary format
func serializeFrame(frame can.Frame) ([]byte, error) {
	buffer := new(bytes.Buffer)
	err := binary.Write(buffer, binary.BigEndian, frame)
	if err != nil {
		return nil, err
	}
	dataBytes := buffer.Bytes()
	frameBytes := make([]byte, headerSize, headerSize+len(dataBytes))
	binary.BigEndian.PutUint32(frameBytes, uint32(len(dataBytes)))
	return append(frameBytes, dataBytes...), nil
}

// Helper function for deserializing a CAN frame from expected binary format
func deserializeFrame(buffer []byte) (can.Frame, error) {
	var frame can.Frame
	err := binary.Read(bytes.NewReader(buffer), binary.BigEndian, &frame)
	return frame, err
}

// Read one length prefixed frame
func readFrame(r io.Reader) (can.Frame, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return can.Frame{}, err
	}
	length := binary.BigEndian.Uint32(header)
	if length != frameSize {
		return can.Frame{}, fmt.Errorf("error deserializing : expected %v bytes, got header %v", frameSize, length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return can.Frame{}, err
	}
	return deserializeFrame(payload)
}

// "Connect" to server e.g. localhost:18000
func (b *VirtualCanBus) Connect(...any) error {
	conn, err := net.Dial("tcp", b.channel)
	if err != nil {
		return err
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetNoDelay(true); err != nil {
			conn.Close()
			return err
		}
	}
	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()
	return nil
}

// "Disconnect" from server
func (b *VirtualCanBus) Disconnect() error {
	b.mu.Lock()
	running := b.isRunning
	stop := b.stopChan
	conn := b.conn
	b.isRunning = false
	b.conn = nil
	b.mu.Unlock()
	if running {
		close(stop)
	}
	var err error
	if conn != nil {
		// Closing the connection unblocks the reception routine
		err = conn.Close()
	}
	b.wg.Wait()
	return err
}

// "Send" implementation of Bus interface
func (b *VirtualCanBus) Send(frame can.Frame) error {
	b.mu.Lock()
	conn := b.conn
	handler := b.framehandler
	receiveOwn := b.receiveOwn
	b.mu.Unlock()
	// Local loopback
	if receiveOwn && handler != nil {
		handler.Handle(frame)
	} else if conn == nil {
		return fmt.Errorf("%w, abort send", ErrNotConnected)
	}
	if conn == nil {
		return nil
	}
	frameBytes, err := serializeFrame(frame)
	if err != nil {
		return err
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err = conn.Write(frameBytes)
	return err
}

// "Subscribe" implementation of Bus interface
func (b *VirtualCanBus) Subscribe(framehandler can.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.framehandler = framehandler
	if b.isRunning || b.conn == nil {
		return nil
	}
	// Start go routine that receives incoming traffic and passes it to frameHandler
	b.stopChan = make(chan struct{})
	b.isRunning = true
	b.wg.Add(1)
	go b.handleReception(b.conn, b.stopChan)
	return nil
}

// Receive new CAN message
func (b *VirtualCanBus) Recv() (can.Frame, error) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return can.Frame{}, fmt.Errorf("%w, abort receive", ErrNotConnected)
	}
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	return readFrame(conn)
}

// Handle incoming traffic
func (b *VirtualCanBus) handleReception(conn net.Conn, stop chan struct{}) {
	defer b.wg.Done()
	reader := bufio.NewReader(conn)
	for {
		frame, err := readFrame(reader)
		if err != nil {
			select {
			case <-stop:
			default:
				log.Errorf("[VIRTUAL DRIVER] listening routine has closed because : %v", err)
				b.mu.Lock()
				b.isRunning = false
				b.mu.Unlock()
			}
			return
		}
		b.mu.Lock()
		handler := b.framehandler
		b.mu.Unlock()
		if handler != nil {
			handler.Handle(frame)
		}
	}
}

// Frames sent are also passed to the subscribed listener
func (b *VirtualCanBus) SetReceiveOwn(receiveOwn bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.receiveOwn = receiveOwn
}
