// Package host runs javascript scripts against one or more CAN buses.
//
// Received frames are matched against the filters registered by every script,
// reassembled into ISO-TP messages and decoded as UDS when a script asked for
// it, then queued to the callbacks of the matching scripts. Scripts can send
// raw frames, ISO-TP messages and UDS requests back to the buses.
package host

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samsamfire/gocanscript/pkg/can"
	"github.com/samsamfire/gocanscript/pkg/filter"
	"github.com/samsamfire/gocanscript/pkg/isotp"
	"github.com/samsamfire/gocanscript/pkg/script"
	"github.com/samsamfire/gocanscript/pkg/uds"
	log "github.com/sirupsen/logrus"
)

type counters struct {
	receivedFrames     atomic.Uint64
	droppedFrames      atomic.Uint64
	sentFrames         atomic.Uint64
	isotpMessages      atomic.Uint64
	udsMessages        atomic.Uint64
	reassemblyErrors   atomic.Uint64
	reassemblyTimeouts atomic.Uint64
	decodeErrors       atomic.Uint64
	droppedEvents      atomic.Uint64
	faults             atomic.Uint64
}

// Snapshot of the host counters
type Stats struct {
	ReceivedFrames     uint64
	DroppedFrames      uint64
	SentFrames         uint64
	ISOTPMessages      uint64
	UDSMessages        uint64
	ReassemblyErrors   uint64
	ReassemblyTimeouts uint64
	DecodeErrors       uint64
	DroppedEvents      uint64
	DroppedLogs        uint64
	Faults             uint64
	Buses              int
	Scripts            int
}

// Description of a loaded script
type ScriptInfo struct {
	Name         string
	Callbacks    []script.Callback
	TickInterval time.Duration
	Filters      map[filter.Kind][]filter.Range
	Delivered    uint64
	Dropped      uint64
	Faults       uint64
}

type Host struct {
	logger      *log.Logger
	config      Config
	filters     *filter.Table
	transmitter *isotp.Transmitter
	sink        *LogSink
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	mu          sync.RWMutex
	buses       map[int]*BusManager
	scripts     map[string]*scriptRunner
	loading     map[string]bool
	closed      bool
	stats       counters
}

// Create a new host, a nil logger uses the logrus standard logger
func New(cfg Config, logger *log.Logger) *Host {
	if logger == nil {
		logger = log.StandardLogger()
	}
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	h := &Host{
		logger:  logger,
		config:  cfg,
		filters: filter.NewTable(),
		sink:    NewLogSink(logger, cfg.LogQueueSize),
		ctx:     ctx,
		cancel:  cancel,
		buses:   make(map[int]*BusManager),
		scripts: make(map[string]*scriptRunner),
		loading: make(map[string]bool),
	}
	h.transmitter = isotp.NewTransmitter(h, cfg.ISOTP, logger)
	return h
}

// Attach a bus under the given index, scripts refer to it by this index.
// The bus should already be connected, the host subscribes to it.
func (h *Host) AttachBus(index int, bus can.Bus) error {
	if index < 0 {
		return fmt.Errorf("%w : %d", ErrInvalidBus, index)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	if _, ok := h.buses[index]; ok {
		return fmt.Errorf("%w : %d", ErrBusExists, index)
	}
	bm := newBusManager(index, bus, h)
	if err := bus.Subscribe(bm); err != nil {
		return fmt.Errorf("%w : bus %d : %v", ErrTransport, index, err)
	}
	h.buses[index] = bm
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		bm.process(h.ctx)
	}()
	h.logger.Infof("[HOST] attached bus %d (%T)", index, bus)
	return nil
}

func (h *Host) busManager(index int) (*BusManager, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	bm, ok := h.buses[index]
	if !ok {
		return nil, fmt.Errorf("%w : %d", ErrUnknownBus, index)
	}
	return bm, nil
}

// Send a raw frame on a bus, implements [isotp.FrameSender]
func (h *Host) SendFrame(bus int, frame can.Frame) error {
	bm, err := h.busManager(bus)
	if err != nil {
		return err
	}
	return bm.Send(frame)
}

// Send an ISO-TP message on a bus.
// Flow control for answers on this bus is then sent to id.
func (h *Host) SendISOTP(ctx context.Context, bus int, id uint32, data []byte) error {
	bm, err := h.busManager(bus)
	if err != nil {
		return err
	}
	bm.setLastTx(id)
	return h.transmitter.Send(ctx, bus, id, data)
}

// Load a script from source and run its setup.
// A fault in setup is logged, the script stays loaded.
func (h *Host) Load(name string, source string) error {
	if err := h.reserve(name); err != nil {
		return err
	}
	defer h.release(name)

	// Top level code may already use capabilities, compile without holding the lock
	runner := newScriptRunner(name, h)
	instance, err := script.New(name, source, runner, h.config.CallbackTimeout)
	if err != nil {
		runner.stop()
		return err
	}
	runner.instance = instance

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		runner.stop()
		return ErrClosed
	}
	h.scripts[name] = runner
	h.mu.Unlock()

	// Frames matching filters registered in setup wait in the inbox
	runner.call(script.Setup)
	runner.start()
	h.logger.WithField("script", name).Infof("[HOST] loaded script with callbacks %v", instance.Callbacks())
	return nil
}

// Claim a name for the duration of a load
func (h *Host) reserve(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	_, loaded := h.scripts[name]
	if loaded || h.loading[name] {
		return fmt.Errorf("%w : %v", ErrScriptExists, name)
	}
	h.loading[name] = true
	return nil
}

func (h *Host) release(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.loading, name)
}

// Load a script file, the script is named after the file without extension
func (h *Host) LoadFile(path string) error {
	source, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return h.Load(name, string(source))
}

// Unload a script. Returns once its running callback, if any, has returned.
// No callback of the script is invoked afterwards.
func (h *Host) Unload(name string) error {
	h.mu.Lock()
	runner, ok := h.scripts[name]
	if ok {
		delete(h.scripts, name)
	}
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w : %v", ErrUnknownScript, name)
	}
	runner.stop()
	h.logger.WithField("script", name).Info("[HOST] unloaded script")
	return nil
}

// Loaded scripts, sorted by name
func (h *Host) Scripts() []ScriptInfo {
	h.mu.RLock()
	runners := make([]*scriptRunner, 0, len(h.scripts))
	for _, runner := range h.scripts {
		runners = append(runners, runner)
	}
	h.mu.RUnlock()
	sort.Slice(runners, func(i, j int) bool { return runners[i].name < runners[j].name })

	infos := make([]ScriptInfo, 0, len(runners))
	for _, runner := range runners {
		info := ScriptInfo{
			Name:         runner.name,
			Callbacks:    runner.instance.Callbacks(),
			TickInterval: runner.tickInterval(),
			Filters:      make(map[filter.Kind][]filter.Range),
			Delivered:    runner.delivered.Load(),
			Dropped:      runner.dropped.Load(),
			Faults:       runner.faults.Load(),
		}
		for _, kind := range []filter.Kind{filter.CAN, filter.ISOTP, filter.UDS} {
			if ranges := h.filters.Filters(filter.ScriptID(runner.name), kind); len(ranges) > 0 {
				info.Filters[kind] = ranges
			}
		}
		infos = append(infos, info)
	}
	return infos
}

func (h *Host) Stats() Stats {
	h.mu.RLock()
	buses, scripts := len(h.buses), len(h.scripts)
	h.mu.RUnlock()
	return Stats{
		ReceivedFrames:     h.stats.receivedFrames.Load(),
		DroppedFrames:      h.stats.droppedFrames.Load(),
		SentFrames:         h.stats.sentFrames.Load(),
		ISOTPMessages:      h.stats.isotpMessages.Load(),
		UDSMessages:        h.stats.udsMessages.Load(),
		ReassemblyErrors:   h.stats.reassemblyErrors.Load(),
		ReassemblyTimeouts: h.stats.reassemblyTimeouts.Load(),
		DecodeErrors:       h.stats.decodeErrors.Load(),
		DroppedEvents:      h.stats.droppedEvents.Load(),
		DroppedLogs:        h.sink.Dropped(),
		Faults:             h.stats.faults.Load(),
		Buses:              buses,
		Scripts:            scripts,
	}
}

// Unload every script, stop bus processing and flush logs.
// Buses are not disconnected, they belong to the caller.
func (h *Host) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	names := make([]string, 0, len(h.scripts))
	for name := range h.scripts {
		names = append(names, name)
	}
	h.mu.Unlock()

	for _, name := range names {
		_ = h.Unload(name)
	}
	h.cancel()
	h.wg.Wait()
	h.sink.Close()
	return nil
}

// Route one received frame, called from the bus goroutine only
func (h *Host) dispatch(bm *BusManager, frame can.Frame, now time.Time) {
	h.stats.receivedFrames.Add(1)
	bus := bm.index
	id := frame.Identifier()

	payload := frame.Payload()
	for _, name := range h.filters.Match(filter.CAN, bus, id) {
		h.deliver(name, script.GotCANFrame, bus, id, int(frame.DLC), payload)
	}

	if h.transmitter.HandleFlowControl(bus, frame) {
		return
	}
	if !h.filters.Any(bus, id, filter.ISOTP, filter.UDS) {
		return
	}
	msg := bm.reassemble(frame, now)
	if msg == nil {
		return
	}
	h.stats.isotpMessages.Add(1)

	udsScripts := h.filters.Match(filter.UDS, bus, id)
	for _, name := range union(h.filters.Match(filter.ISOTP, bus, id), udsScripts) {
		h.deliver(name, script.GotISOTPMessage, bus, msg.ID, len(msg.Data), msg.Data)
	}
	if len(udsScripts) == 0 {
		return
	}
	decoded, err := uds.Decode(msg)
	if err != nil {
		h.stats.decodeErrors.Add(1)
		bm.logger.Warnf("[HOST] %v", err)
		return
	}
	h.stats.udsMessages.Add(1)
	for _, name := range udsScripts {
		h.deliver(name, script.GotUDSMessage, bus, decoded.ID, int(decoded.Service),
			decoded.SubFunctionValue(), len(decoded.Data), decoded.Data)
	}
}

func (h *Host) deliver(name filter.ScriptID, cb script.Callback, args ...any) {
	h.mu.RLock()
	runner, ok := h.scripts[string(name)]
	h.mu.RUnlock()
	if ok {
		runner.deliver(event{callback: cb, args: args})
	}
}

// Scripts of a followed by those of b not already in a
func union(a []filter.ScriptID, b []filter.ScriptID) []filter.ScriptID {
	if len(b) == 0 {
		return a
	}
	seen := make(map[filter.ScriptID]bool, len(a))
	for _, name := range a {
		seen[name] = true
	}
	for _, name := range b {
		if !seen[name] {
			a = append(a, name)
			seen[name] = true
		}
	}
	return a
}
