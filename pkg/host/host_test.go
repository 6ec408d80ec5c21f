package host

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/samsamfire/gocanscript/pkg/can"
	"github.com/samsamfire/gocanscript/pkg/filter"
	"github.com/samsamfire/gocanscript/pkg/script"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	pollFor = 5 * time.Millisecond
)

type mockBus struct {
	mu       sync.Mutex
	listener can.FrameListener
	sent     []can.Frame
	sendErr  error
}

func (b *mockBus) Connect(...any) error { return nil }
func (b *mockBus) Disconnect() error { return nil }

func (b *mockBus) Send(frame can.Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return b.sendErr
	}
	b.sent = append(b.sent, frame)
	return nil
}

func (b *mockBus) Subscribe(listener can.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listener = listener
	return nil
}

func (b *mockBus) Sent() []can.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]can.Frame{}, b.sent...)
}

func (b *mockBus) inject(t *testing.T, id uint32, data ...byte) {
	t.Helper()
	frame, err := can.NewDataFrame(id, data)
	require.Nil(t, err)
	b.mu.Lock()
	listener := b.listener
	b.mu.Unlock()
	require.NotNil(t, listener)
	listener.Handle(frame)
}

func newTestHost(t *testing.T, cfg Config) (*Host, *mockBus, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(log.DebugLevel)
	h := New(cfg, logger)
	bus := &mockBus{}
	require.Nil(t, h.AttachBus(0, bus))
	t.Cleanup(func() { h.Close() })
	return h, bus, hook
}

// Lines logged by scripts through host.log
func scriptLogs(hook *test.Hook, name string) []string {
	var lines []string
	for _, entry := range hook.AllEntries() {
		if entry.Level != log.InfoLevel || entry.Data["script"] != name {
			continue
		}
		if msg, ok := strings.CutPrefix(entry.Message, "[SCRIPT] "); ok {
			lines = append(lines, msg)
		}
	}
	return lines
}

func waitLog(t *testing.T, hook *test.Hook, name string, line string) {
	t.Helper()
	assert.Eventually(t, func() bool {
		for _, l := range scriptLogs(hook, name) {
			if l == line {
				return true
			}
		}
		return false
	}, waitFor, pollFor, "missing log %q", line)
}

func scriptInfo(t *testing.T, h *Host, name string) ScriptInfo {
	t.Helper()
	for _, info := range h.Scripts() {
		if info.Name == name {
			return info
		}
	}
	t.Fatalf("script %v not loaded", name)
	return ScriptInfo{}
}

const captureAll = `
function setup ()
{
    host.log("Example script 1.0");
    host.setTickInterval(20000);
    can.sendFrame(0, 0x200, 4, [1,30,20,10]);
    uds.sendUDS(0, 0x604, 0x3E, 1, 0, 0, 0);
    can.setFilter(0x100, 0x700, 0);
    uds.setFilter(0x600, 0x7F0, 0);
}

function gotCANFrame (bus, id, len, data)
{
    host.log("Bus: " + bus + "  id: " + id.toString(16));
}

function gotISOTPMessage(bus, id, len, data)
{
    host.log("ISOTP bus " + bus + "  ID: " + id.toString(16));
}

function gotUDSMessage(bus, id, service, subFunc, len, data)
{
    host.log("UDS Bus: " + bus + "  ID: " + id.toString(16) + "    Sv: " + service.toString(16) + " sub " + subFunc);
}

function tick()
{
    host.log("TICK!");
}`

func TestCaptureAll(t *testing.T) {
	h, bus, hook := newTestHost(t, DefaultConfig())
	require.Nil(t, h.Load("capture", captureAll))

	sent := bus.Sent()
	require.Len(t, sent, 2)
	assert.EqualValues(t, 0x200, sent[0].Identifier())
	assert.Equal(t, []byte{1, 30, 20, 10}, sent[0].Payload())
	assert.EqualValues(t, 0x604, sent[1].Identifier())
	assert.Equal(t, []byte{0x05, 0x3E, 0x01, 0, 0, 0, 0xAA, 0xAA}, sent[1].Payload())
	waitLog(t, hook, "capture", "Example script 1.0")

	info := scriptInfo(t, h, "capture")
	assert.Equal(t, 20*time.Second, info.TickInterval)
	assert.Equal(t, []filter.Range{filter.NewRange(0x100, 0x700, 0)}, info.Filters[filter.CAN])
	assert.Equal(t, []filter.Range{filter.NewRange(0x600, 0x7F0, 0)}, info.Filters[filter.UDS])
	assert.Empty(t, info.Filters[filter.ISOTP])

	bus.inject(t, 0x050, 1, 2)
	bus.inject(t, 0x300, 1, 2)
	// Negative response to a read data by identifier
	bus.inject(t, 0x7E8, 0x03, 0x7F, 0x22, 0x13, 0xAA, 0xAA, 0xAA, 0xAA)
	waitLog(t, hook, "capture", "UDS Bus: 0  ID: 7e8    Sv: 22 sub 19")

	assert.Equal(t, []string{
		"Example script 1.0",
		"Bus: 0  id: 300",
		"ISOTP bus 0  ID: 7e8",
		"UDS Bus: 0  ID: 7e8    Sv: 22 sub 19",
	}, scriptLogs(hook, "capture"))

	stats := h.Stats()
	assert.EqualValues(t, 3, stats.ReceivedFrames)
	assert.EqualValues(t, 1, stats.ISOTPMessages)
	assert.EqualValues(t, 1, stats.UDSMessages)
	assert.Equal(t, 1, stats.Buses)
	assert.Equal(t, 1, stats.Scripts)
}

const rlec = `
var newID = 0;

function setup ()
{
    host.log("RLEC ID Changer");
    can.setFilter(0x0, 0x0F, 0);
    can.sendFrame(0, 0x7E0, 8, [0x0d, 1, 0, 0, 0, 0, 0, 0]);
}

function gotCANFrame (bus, id, len, data)
{
     var dataBytes = [];
     if (len == 8)
     {
         if (data[0] == 0xd && data[1] == 1 && data[2] == 0xAA)
         {
            host.log("Got challenge: 0x" + data[3].toString(16) + data[4].toString(16));
            var notData3 = ~data[3];
            var notData4 = ~data[4];
            dataBytes[0] = 0xD;
            dataBytes[1] = 2;
            dataBytes[2] = ((notData4 & 0xF) << 4) + ((notData3 >> 4) & 0xF);
            dataBytes[3] = ((notData4 >> 4) & 0xF) + ((notData3 & 0xF) << 4);
            dataBytes[4] = 0;
            dataBytes[5] = 0;
            dataBytes[6] = 0;
            dataBytes[7] = 0;
            can.sendFrame(0, 0x7E0, 8, dataBytes);
         }
         if (data[0] == 0xd && data[1] == 2 && data[2] == 0xAA)
         {
             host.log("Passed security Check!");
             dataBytes[0] = 4;
             dataBytes[1] = 0x15;
             dataBytes[2] = newID;
             can.sendFrame(0, 0x7E0, 8, dataBytes);
         }
     }
}`

func TestChallengeResponse(t *testing.T) {
	h, bus, hook := newTestHost(t, DefaultConfig())
	require.Nil(t, h.Load("RLEC", rlec))
	sent := bus.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, []byte{0x0D, 1, 0, 0, 0, 0, 0, 0}, sent[0].Payload())

	bus.inject(t, 0x5, 0x0D, 1, 0xAA, 0x55, 0x66, 0, 0, 0)
	assert.Eventually(t, func() bool { return len(bus.Sent()) == 2 }, waitFor, pollFor)
	answer := bus.Sent()[1]
	assert.EqualValues(t, 0x7E0, answer.Identifier())
	assert.Equal(t, []byte{0x0D, 0x02, 0x9A, 0xA9, 0, 0, 0, 0}, answer.Payload())
	waitLog(t, hook, "RLEC", "Got challenge: 0x5566")

	// Declared length 8 with 3 bytes is refused
	bus.inject(t, 0x5, 0x0D, 2, 0xAA, 0, 0, 0, 0, 0)
	waitLog(t, hook, "RLEC", "Passed security Check!")
	assert.Eventually(t, func() bool {
		for _, line := range scriptLogs(hook, "RLEC") {
			if strings.HasPrefix(line, "sendFrame rejected") {
				return true
			}
		}
		return false
	}, waitFor, pollFor)
	assert.Len(t, bus.Sent(), 2)
}

func TestNoFilterNoDelivery(t *testing.T) {
	h, bus, hook := newTestHost(t, DefaultConfig())
	require.Nil(t, h.Load("deaf", `function gotCANFrame() { host.log("heard"); }`))
	require.Nil(t, h.Load("sentinel", `
function setup() { can.setFilter(0, 0x1FFFFFFF); }
function gotCANFrame(bus, id) { host.log("frame " + id); }`))

	bus.inject(t, 0x123)
	waitLog(t, hook, "sentinel", "frame 291")
	assert.Empty(t, scriptLogs(hook, "deaf"))
	assert.Zero(t, scriptInfo(t, h, "deaf").Delivered)
	assert.EqualValues(t, 1, scriptInfo(t, h, "sentinel").Delivered)
}

func TestSetupRunsOnce(t *testing.T) {
	h, bus, hook := newTestHost(t, DefaultConfig())
	source := `
var setups = 0;
function setup() { setups++; can.setFilter(0x100, 0x100, 0); }
function gotCANFrame() { host.log("setups " + setups); }`
	require.Nil(t, h.Load("once", source))
	bus.inject(t, 0x100)
	bus.inject(t, 0x100)
	assert.Eventually(t, func() bool { return len(scriptLogs(hook, "once")) == 2 }, waitFor, pollFor)
	assert.Equal(t, []string{"setups 1", "setups 1"}, scriptLogs(hook, "once"))
}

func TestFilterBusAndRange(t *testing.T) {
	h, bus, hook := newTestHost(t, DefaultConfig())
	other := &mockBus{}
	require.Nil(t, h.AttachBus(1, other))
	source := `
function setup() {
	can.setFilter(0x100, 0x1FF, 1);
	can.addFilter(0x700, 0x700);
}
function gotCANFrame(bus, id) { host.log(bus + ":" + id.toString(16)); }`
	require.Nil(t, h.Load("ranges", source))

	bus.inject(t, 0x150)
	other.inject(t, 0x150)
	bus.inject(t, 0x700)
	other.inject(t, 0x200)
	other.inject(t, 0x700)
	assert.Eventually(t, func() bool { return len(scriptLogs(hook, "ranges")) == 3 }, waitFor, pollFor)
	logs := scriptLogs(hook, "ranges")
	assert.ElementsMatch(t, []string{"1:150", "0:700", "1:700"}, logs)
}

func TestISOTPReassemblyAndFlowControl(t *testing.T) {
	h, bus, hook := newTestHost(t, DefaultConfig())
	source := `
function setup() { isotp.setFilter(0x7E8, 0x7E8, 0); }
function gotISOTPMessage(bus, id, len, data) {
	host.log(id.toString(16) + " " + len + " " + data[0] + " " + data[len - 1]);
}`
	require.Nil(t, h.Load("isotp", source))

	// No ISO-TP sent yet, flow control goes to the request identifier
	bus.inject(t, 0x7E8, 0x10, 10, 1, 2, 3, 4, 5, 6)
	assert.Eventually(t, func() bool { return len(bus.Sent()) == 1 }, waitFor, pollFor)
	fc := bus.Sent()[0]
	assert.EqualValues(t, 0x7E0, fc.Identifier())
	assert.Equal(t, []byte{0x30, 0, 3, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA}, fc.Payload())
	bus.inject(t, 0x7E8, 0x21, 7, 8, 9, 10, 0xAA, 0xAA, 0xAA)
	waitLog(t, hook, "isotp", "7e8 10 1 10")

	// Flow control follows the last identifier a script sent ISO-TP on
	require.Nil(t, h.Load("tester", `function setup() { isotp.sendISOTP(0, 0x6F1, 2, [0x3E, 0]); }`))
	require.Len(t, bus.Sent(), 2)
	bus.inject(t, 0x7E8, 0x10, 8, 1, 2, 3, 4, 5, 6)
	assert.Eventually(t, func() bool { return len(bus.Sent()) == 3 }, waitFor, pollFor)
	assert.EqualValues(t, 0x6F1, bus.Sent()[2].Identifier())
	bus.inject(t, 0x7E8, 0x21, 7, 8)
	waitLog(t, hook, "isotp", "7e8 8 1 8")
}

func TestUDSPositiveResponse(t *testing.T) {
	h, bus, hook := newTestHost(t, DefaultConfig())
	source := `
function setup() { uds.setFilter(0x7E8, 0x7E8); }
function gotISOTPMessage(bus, id, len, data) { host.log("isotp " + len); }
function gotUDSMessage(bus, id, service, subFunc, len, data) {
	host.log("uds " + service.toString(16) + " " + subFunc + " " + len + " " + data.join(","));
}`
	require.Nil(t, h.Load("uds", source))
	// Read data by identifier has no sub-function
	bus.inject(t, 0x7E8, 0x05, 0x62, 0xF1, 0x90, 0x41, 0x42)
	// Session control responses carry the sub-function
	bus.inject(t, 0x7E8, 0x02, 0x50, 0x03)
	// Negative responses keep the code in front of the data
	bus.inject(t, 0x7E8, 0x04, 0x7F, 0x31, 0x78, 0x01)
	waitLog(t, hook, "uds", "uds 31 120 2 120,1")
	assert.Equal(t, []string{
		"isotp 5",
		"uds 62 -1 4 241,144,65,66",
		"isotp 2",
		"uds 50 3 0 ",
		"isotp 4",
		"uds 31 120 2 120,1",
	}, scriptLogs(hook, "uds"))
}

func TestReassemblyTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ISOTP.Timeout = 30 * time.Millisecond
	cfg.ExpiryPeriod = 5 * time.Millisecond
	h, bus, hook := newTestHost(t, cfg)
	require.Nil(t, h.Load("isotp", `
function setup() { isotp.setFilter(0x7E8, 0x7E8); }
function gotISOTPMessage() { host.log("message"); }`))

	bus.inject(t, 0x7E8, 0x10, 20, 1, 2, 3, 4, 5, 6)
	assert.Eventually(t, func() bool { return h.Stats().ReassemblyTimeouts == 1 }, waitFor, pollFor)
	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 1, h.Stats().ReassemblyTimeouts)

	timeouts := 0
	for _, entry := range hook.AllEntries() {
		if entry.Level == log.WarnLevel && strings.HasPrefix(entry.Message, "[ISOTP]") &&
			strings.Contains(entry.Message, "timeout") {
			timeouts++
		}
	}
	assert.Equal(t, 1, timeouts)

	// A late consecutive frame does not revive the message
	bus.inject(t, 0x7E8, 0x21, 7, 8, 9, 10, 11, 12, 13)
	assert.Eventually(t, func() bool { return h.Stats().ReassemblyErrors == 1 }, waitFor, pollFor)
	assert.Empty(t, scriptLogs(hook, "isotp"))
}

func TestTickCoalescedAndCancelled(t *testing.T) {
	h, _, hook := newTestHost(t, DefaultConfig())
	source := `
var ticks = 0;
function setup() { host.setTickInterval(1); }
function tick() {
	ticks++;
	var start = Date.now();
	while (Date.now() - start < 20) {}
	host.log("tick " + ticks);
	if (ticks == 3) host.setTickInterval(0);
}`
	require.Nil(t, h.Load("ticker", source))
	waitLog(t, hook, "ticker", "tick 3")
	time.Sleep(100 * time.Millisecond)
	// Periods missed while a tick runs are not queued
	assert.Equal(t, []string{"tick 1", "tick 2", "tick 3"}, scriptLogs(hook, "ticker"))
	assert.Zero(t, scriptInfo(t, h, "ticker").TickInterval)
}

func TestFaultIsolation(t *testing.T) {
	h, bus, hook := newTestHost(t, DefaultConfig())
	require.Nil(t, h.Load("broken", `
function setup() { can.setFilter(0x100, 0x100); }
function gotCANFrame() { throw new Error("boom"); }`))
	require.Nil(t, h.Load("healthy", `
function setup() { can.setFilter(0x100, 0x100); }
function gotCANFrame() { host.log("still here"); }`))

	bus.inject(t, 0x100)
	bus.inject(t, 0x100)
	assert.Eventually(t, func() bool { return len(scriptLogs(hook, "healthy")) == 2 }, waitFor, pollFor)
	assert.Eventually(t, func() bool { return h.Stats().Faults == 2 }, waitFor, pollFor)
	assert.EqualValues(t, 2, scriptInfo(t, h, "broken").Faults)

	var faults []*log.Entry
	for _, entry := range hook.AllEntries() {
		if entry.Level == log.ErrorLevel {
			faults = append(faults, entry)
		}
	}
	require.Len(t, faults, 2)
	assert.Equal(t, "broken", faults[0].Data["script"])
	assert.Equal(t, script.GotCANFrame, faults[0].Data["callback"])
	assert.Contains(t, faults[0].Message, "boom")
}

func TestSetupFaultKeepsScript(t *testing.T) {
	h, _, _ := newTestHost(t, DefaultConfig())
	require.Nil(t, h.Load("setup", `function setup() { undefinedFunction(); }`))
	assert.EqualValues(t, 1, scriptInfo(t, h, "setup").Faults)
}

func TestUnloadWaitsForCallback(t *testing.T) {
	h, bus, hook := newTestHost(t, DefaultConfig())
	source := `
function setup() { can.setFilter(0x100, 0x100); }
function gotCANFrame() {
	host.log("start");
	var start = Date.now();
	while (Date.now() - start < 100) {}
	can.sendFrame(0, 0x123, 0, []);
}`
	require.Nil(t, h.Load("slow", source))
	bus.inject(t, 0x100)
	waitLog(t, hook, "slow", "start")

	require.Nil(t, h.Unload("slow"))
	sent := bus.Sent()
	require.Len(t, sent, 1)
	assert.EqualValues(t, 0x123, sent[0].Identifier())
	assert.Empty(t, h.Scripts())

	bus.inject(t, 0x100)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, bus.Sent(), 1)
	assert.Len(t, scriptLogs(hook, "slow"), 1)
}

func TestInboxFull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ScriptQueueSize = 1
	h, bus, _ := newTestHost(t, cfg)
	require.Nil(t, h.Load("slow", `
function setup() { can.setFilter(0x100, 0x100); }
function gotCANFrame() { var start = Date.now(); while (Date.now() - start < 50) {} }`))
	for i := 0; i < 5; i++ {
		bus.inject(t, 0x100)
	}
	assert.Eventually(t, func() bool { return h.Stats().DroppedEvents > 0 }, waitFor, pollFor)
	assert.NotZero(t, scriptInfo(t, h, "slow").Dropped)
}

func TestCallbackTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CallbackTimeout = 20 * time.Millisecond
	h, bus, hook := newTestHost(t, cfg)
	require.Nil(t, h.Load("loop", `
var calls = 0;
function setup() { can.setFilter(0x100, 0x100); }
function gotCANFrame() { calls++; host.log("call " + calls); while (calls == 1) {} }`))
	bus.inject(t, 0x100)
	bus.inject(t, 0x100)
	waitLog(t, hook, "loop", "call 2")
	assert.EqualValues(t, 1, scriptInfo(t, h, "loop").Faults)
}

func TestErrors(t *testing.T) {
	h, bus, hook := newTestHost(t, DefaultConfig())

	assert.ErrorIs(t, h.AttachBus(0, &mockBus{}), ErrBusExists)
	assert.ErrorIs(t, h.AttachBus(-1, &mockBus{}), ErrInvalidBus)
	frame, err := can.NewDataFrame(0x100, nil)
	require.Nil(t, err)
	assert.ErrorIs(t, h.SendFrame(3, frame), ErrUnknownBus)

	bus.mu.Lock()
	bus.sendErr = errors.New("bus off")
	bus.mu.Unlock()
	assert.ErrorIs(t, h.SendFrame(0, frame), ErrTransport)
	bus.mu.Lock()
	bus.sendErr = nil
	bus.mu.Unlock()

	require.Nil(t, h.Load("results", `
function setup() {
	host.log(JSON.stringify([can.sendFrame(3, 0x100, 0, []), can.sendFrame(0, 0x100, 0, [])]));
}`))
	waitLog(t, hook, "results", "[false,true]")
	assert.ErrorIs(t, h.Load("results", ""), ErrScriptExists)

	assert.ErrorIs(t, h.Load("invalid", "function ("), script.ErrCompile)
	assert.ErrorIs(t, h.Unload("invalid"), ErrUnknownScript)
	assert.Len(t, h.Scripts(), 1)

	require.Nil(t, h.Close())
	assert.ErrorIs(t, h.Load("late", ""), ErrClosed)
	assert.ErrorIs(t, h.AttachBus(2, &mockBus{}), ErrClosed)
	assert.Empty(t, h.Scripts())
}

func TestCompileFailureRemovesFilters(t *testing.T) {
	h, _, _ := newTestHost(t, DefaultConfig())
	require.Nil(t, h.Load("sentinel", `function setup() { can.setFilter(0x100, 0x100); }`))
	assert.ErrorIs(t, h.Load("partial", `can.setFilter(0x100, 0x100); throw new Error("late");`), script.ErrCompile)
	assert.True(t, h.filters.Any(0, 0x100, filter.CAN))
	assert.Empty(t, h.filters.Filters("partial", filter.CAN))
	assert.Len(t, h.Scripts(), 1)
}

func TestLoadFile(t *testing.T) {
	h, _, hook := newTestHost(t, DefaultConfig())
	dir := t.TempDir()
	path := filepath.Join(dir, "GetCANandTick.js")
	require.Nil(t, os.WriteFile(path, []byte(`function setup() { host.log("from file"); }`), 0o644))
	require.Nil(t, h.LoadFile(path))
	waitLog(t, hook, "GetCANandTick", "from file")
	assert.Error(t, h.LoadFile(filepath.Join(dir, "missing.js")))
}

func TestTickRequestedAtTopLevel(t *testing.T) {
	h, _, hook := newTestHost(t, DefaultConfig())
	source := `
host.setTickInterval(1);
var start = Date.now();
while (Date.now() - start < 20) {}
var ticks = 0;
function tick() {
	ticks++;
	if (ticks == 3) {
		host.log("ticking");
	}
}`
	require.Nil(t, h.Load("early", source))
	waitLog(t, hook, "early", "ticking")
	assert.Equal(t, time.Millisecond, scriptInfo(t, h, "early").TickInterval)
	require.Nil(t, h.Unload("early"))
}

func TestUnloadDuringSetupDropsFilters(t *testing.T) {
	h, _, hook := newTestHost(t, DefaultConfig())
	source := `
function setup() {
	host.log("in setup");
	var start = Date.now();
	while (Date.now() - start < 200) {}
	can.setFilter(0x100, 0x1FF, 0);
	uds.addFilter(0x7E8, 0x7E8, 0);
}`
	loaded := make(chan error, 1)
	go func() { loaded <- h.Load("slow", source) }()
	waitLog(t, hook, "slow", "in setup")
	require.Nil(t, h.Unload("slow"))
	require.Nil(t, <-loaded)

	assert.Empty(t, h.filters.Filters("slow", filter.CAN))
	assert.Empty(t, h.filters.Filters("slow", filter.UDS))
	assert.Empty(t, h.Scripts())

	require.Nil(t, h.Load("slow", `function setup() { uds.addFilter(0x7E9, 0x7E9, 0); }`))
	assert.Equal(t, []filter.Range{filter.NewRange(0x7E9, 0x7E9, 0)}, h.filters.Filters("slow", filter.UDS))
}

func TestConcurrentLoadSameName(t *testing.T) {
	h, _, hook := newTestHost(t, DefaultConfig())
	source := `
host.log("compiling");
can.setFilter(0x100, 0x100, 0);
var start = Date.now();
while (Date.now() - start < 200) {}`
	loaded := make(chan error, 1)
	go func() { loaded <- h.Load("twin", source) }()
	waitLog(t, hook, "twin", "compiling")
	assert.ErrorIs(t, h.Load("twin", `can.setFilter(0x200, 0x200, 0);`), ErrScriptExists)
	require.Nil(t, <-loaded)
	assert.Equal(t, []filter.Range{filter.NewRange(0x100, 0x100, 0)}, h.filters.Filters("twin", filter.CAN))
}
