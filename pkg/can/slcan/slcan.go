package slcan

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/samsamfire/gocanscript/pkg/can"
	log "github.com/sirupsen/logrus"
	"github.com/tarm/serial"
)

// LAWICEL / SLCAN serial adapters (CANUSB, CANable slcan firmware, ...)
// Channel is the serial port, optionally followed by the serial baudrate
// e.g. "/dev/ttyACM0" or "/dev/ttyUSB0@921600"

func init() {
	can.RegisterInterface("slcan", NewSlcanBus)
	can.RegisterInterface("lawicel", NewSlcanBus)
}

const DefaultSerialBaud = 115200

var (
	ErrBitrate    = errors.New("unsupported bitrate")
	ErrMalformed  = errors.New("malformed slcan line")
	ErrNotStarted = errors.New("serial port not opened")
)

// Bitrate to 'S' command argument
var bitrateCodes = map[int]byte{
	10000:   '0',
	20000:   '1',
	50000:   '2',
	100000:  '3',
	125000:  '4',
	250000:  '5',
	500000:  '6',
	800000:  '7',
	1000000: '8',
}

type SlcanBus struct {
	mu         sync.Mutex
	port       string
	serialBaud int
	bitrate    int
	open       func() (io.ReadWriteCloser, error)
	rw         io.ReadWriteCloser
	rxCallback can.FrameListener
	wg         sync.WaitGroup
	closing    bool
}

func NewSlcanBus(channel string, bitrate int) (can.Bus, error) {
	port, serialBaud, err := parseChannel(channel)
	if err != nil {
		return nil, err
	}
	if bitrate == 0 {
		bitrate = 500000
	}
	if _, ok := bitrateCodes[bitrate]; !ok {
		return nil, fmt.Errorf("%w : %v", ErrBitrate, bitrate)
	}
	bus := &SlcanBus{port: port, serialBaud: serialBaud, bitrate: bitrate}
	bus.open = func() (io.ReadWriteCloser, error) {
		return serial.OpenPort(&serial.Config{
			Name:        bus.port,
			Baud:        bus.serialBaud,
			Parity:      serial.ParityNone,
			ReadTimeout: 100 * time.Millisecond,
		})
	}
	return bus, nil
}

func parseChannel(channel string) (string, int, error) {
	port, baud, found := strings.Cut(channel, "@")
	if !found {
		return channel, DefaultSerialBaud, nil
	}
	serialBaud, err := strconv.Atoi(baud)
	if err != nil {
		return "", 0, fmt.Errorf("invalid serial baudrate in %q : %w", channel, err)
	}
	return port, serialBaud, nil
}

// "Connect" opens the port, sets the bitrate and opens the CAN channel
func (b *SlcanBus) Connect(...any) error {
	rw, err := b.open()
	if err != nil {
		return err
	}
	// Close the channel in case it was left open, configure speed, then open
	setup := "C\rS" + string(bitrateCodes[b.bitrate]) + "\rO\r"
	if _, err := rw.Write([]byte(setup)); err != nil {
		rw.Close()
		return err
	}
	b.mu.Lock()
	b.rw = rw
	b.closing = false
	b.mu.Unlock()
	b.wg.Add(1)
	go b.handleReception(rw)
	log.Infof("[SLCAN][%v] channel opened at %v bit/s", b.port, b.bitrate)
	return nil
}

// "Disconnect" closes the CAN channel and the serial port
func (b *SlcanBus) Disconnect() error {
	b.mu.Lock()
	rw := b.rw
	b.rw = nil
	b.closing = true
	b.mu.Unlock()
	if rw == nil {
		return nil
	}
	_, _ = rw.Write([]byte("C\r"))
	err := rw.Close()
	b.wg.Wait()
	return err
}

// "Send" implementation of Bus interface
func (b *SlcanBus) Send(frame can.Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rw == nil {
		return ErrNotStarted
	}
	line, err := EncodeFrame(frame)
	if err != nil {
		return err
	}
	_, err = b.rw.Write([]byte(line))
	return err
}

// "Subscribe" implementation of Bus interface
func (b *SlcanBus) Subscribe(rxCallback can.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rxCallback = rxCallback
	return nil
}

func (b *SlcanBus) handleReception(r io.Reader) {
	defer b.wg.Done()
	reader := bufio.NewReader(r)
	var line []byte
	for {
		c, err := reader.ReadByte()
		if err == io.EOF {
			// tarm/serial returns EOF on read timeout
			b.mu.Lock()
			closing := b.closing
			b.mu.Unlock()
			if closing {
				return
			}
			continue
		}
		if err != nil {
			b.mu.Lock()
			closing := b.closing
			b.mu.Unlock()
			if !closing {
				log.Errorf("[SLCAN][%v] reception stopped : %v", b.port, err)
			}
			return
		}
		switch c {
		case '\r':
			b.processLine(string(line))
			line = line[:0]
		case '\a':
			log.Warnf("[SLCAN][%v] adapter reported an error", b.port)
			line = line[:0]
		default:
			line = append(line, c)
		}
	}
}

func (b *SlcanBus) processLine(line string) {
	if line == "" {
		return
	}
	switch line[0] {
	case 't', 'T', 'r', 'R':
	default:
		// Acknowledgements ('z', 'Z') and status replies
		return
	}
	frame, err := DecodeFrame(line)
	if err != nil {
		log.Warnf("[SLCAN][%v] %v", b.port, err)
		return
	}
	b.mu.Lock()
	callback := b.rxCallback
	b.mu.Unlock()
	if callback != nil {
		callback.Handle(frame)
	}
}

// Encode a frame into an slcan transmit command, e.g. "t20041E141E0A\r"
func EncodeFrame(frame can.Frame) (string, error) {
	if err := frame.Validate(); err != nil {
		return "", err
	}
	var sb strings.Builder
	switch {
	case frame.IsExtended() && frame.IsRemote():
		fmt.Fprintf(&sb, "R%08X%d", frame.Identifier(), frame.DLC)
	case frame.IsExtended():
		fmt.Fprintf(&sb, "T%08X%d", frame.Identifier(), frame.DLC)
	case frame.IsRemote():
		fmt.Fprintf(&sb, "r%03X%d", frame.Identifier(), frame.DLC)
	default:
		fmt.Fprintf(&sb, "t%03X%d", frame.Identifier(), frame.DLC)
	}
	if !frame.IsRemote() {
		for _, b := range frame.Data[:frame.DLC] {
			fmt.Fprintf(&sb, "%02X", b)
		}
	}
	sb.WriteByte('\r')
	return sb.String(), nil
}

// Decode an slcan receive line (without trailing CR)
func DecodeFrame(line string) (can.Frame, error) {
	if len(line) == 0 {
		return can.Frame{}, ErrMalformed
	}
	idLen := 3
	idMask := uint64(can.CanSffMask)
	var flags uint32
	switch line[0] {
	case 't':
	case 'r':
		flags = can.CanRtrFlag
	case 'T':
		idLen, idMask = 8, uint64(can.CanEffMask)
		flags = can.CanEffFlag
	case 'R':
		idLen, idMask = 8, uint64(can.CanEffMask)
		flags = can.CanEffFlag | can.CanRtrFlag
	default:
		return can.Frame{}, fmt.Errorf("%w : %q", ErrMalformed, line)
	}
	if len(line) < 1+idLen+1 {
		return can.Frame{}, fmt.Errorf("%w : %q", ErrMalformed, line)
	}
	// Upper bits would otherwise land on the frame flags
	id, err := strconv.ParseUint(line[1:1+idLen], 16, 32)
	if err != nil || id > idMask {
		return can.Frame{}, fmt.Errorf("%w : %q", ErrMalformed, line)
	}
	dlc := line[1+idLen] - '0'
	if dlc > can.MaxDLC {
		return can.Frame{}, fmt.Errorf("%w : %q", ErrMalformed, line)
	}
	frame := can.NewFrame(uint32(id)|flags, 0, dlc)
	if flags&can.CanRtrFlag != 0 {
		return frame, nil
	}
	data := line[2+idLen:]
	// Some adapters append a 4 digit timestamp
	if len(data) != int(dlc)*2 && len(data) != int(dlc)*2+4 {
		return can.Frame{}, fmt.Errorf("%w : %q", ErrMalformed, line)
	}
	for i := 0; i < int(dlc); i++ {
		b, err := strconv.ParseUint(data[2*i:2*i+2], 16, 8)
		if err != nil {
			return can.Frame{}, fmt.Errorf("%w : %q", ErrMalformed, line)
		}
		frame.Data[i] = byte(b)
	}
	return frame, nil
}
