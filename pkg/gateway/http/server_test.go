package http

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/samsamfire/gocanscript/pkg/can"
	"github.com/samsamfire/gocanscript/pkg/gateway"
	"github.com/samsamfire/gocanscript/pkg/host"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBus struct {
	mu   sync.Mutex
	sent []can.Frame
}

func (b *recordingBus) Connect(...any) error { return nil }
func (b *recordingBus) Disconnect() error { return nil }
func (b *recordingBus) Subscribe(listener can.FrameListener) error { return nil }

func (b *recordingBus) Send(frame can.Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, frame)
	return nil
}

func (b *recordingBus) Sent() []can.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]can.Frame{}, b.sent...)
}

func createClient(t *testing.T) (*GatewayClient, *recordingBus) {
	logger, _ := test.NewNullLogger()
	logger.SetLevel(log.DebugLevel)
	h := host.New(host.DefaultConfig(), logger)
	bus := &recordingBus{}
	require.Nil(t, h.AttachBus(0, bus))
	gw := NewGatewayServer(h, logger)
	ts := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		ts.Close()
		h.Close()
	})
	return NewGatewayClient(ts.URL, API_VERSION, logger), bus
}

func TestInvalidURIs(t *testing.T) {
	client, _ := createClient(t)
	resp := new(GatewayResponseBase)
	err := client.Do(http.MethodGet, "/", nil, resp)
	assert.EqualValues(t, ErrGwRequestNotSupported, err)
	err = client.Do(http.MethodGet, "/strt", nil, resp)
	assert.EqualValues(t, ErrGwRequestNotSupported, err)
	err = client.Do(http.MethodPut, "/send/abc", nil, resp)
	assert.EqualValues(t, ErrGwSyntaxError, err)

	other := NewGatewayClient(client.baseURL, "2.0", nil)
	err = other.Do(http.MethodGet, "/scripts", nil, resp)
	assert.EqualValues(t, ErrGwRequestNotSupported, err)
}

func TestGetVersion(t *testing.T) {
	client, _ := createClient(t)
	version, err := client.GetVersion()
	require.Nil(t, err)
	assert.Equal(t, gateway.ProtocolVersion, version.ProtocolVersion)
	assert.Equal(t, gateway.GatewayClass, version.GatewayClass)
}

func TestScriptLifecycle(t *testing.T) {
	client, bus := createClient(t)
	source := `
function setup() {
	can.setFilter(0x100, 0x1FF, 0);
	host.setTickInterval(1000);
	can.sendFrame(0, 0x7E0, 2, [0x3E, 0]);
}
function gotCANFrame() {}
function tick() {}`
	require.Nil(t, client.LoadScript("tester", source))
	assert.EqualValues(t, ErrGwScriptExists, client.LoadScript("tester", source))
	assert.EqualValues(t, ErrGwScriptCompile, client.LoadScript("broken", "function ("))
	assert.Len(t, bus.Sent(), 1)

	scripts, err := client.GetScripts()
	require.Nil(t, err)
	require.Len(t, scripts, 1)
	assert.Equal(t, "tester", scripts[0].Name)
	assert.Equal(t, []string{"setup", "gotCANFrame", "tick"}, scripts[0].Callbacks)
	assert.EqualValues(t, 1000, scripts[0].TickInterval)
	assert.Equal(t, map[string][]string{"can": {"[x100,x1ff]@0"}}, scripts[0].Filters)

	require.Nil(t, client.UnloadScript("tester"))
	assert.EqualValues(t, ErrGwUnknownScript, client.UnloadScript("tester"))
	scripts, err = client.GetScripts()
	require.Nil(t, err)
	assert.Empty(t, scripts)
}

func TestSend(t *testing.T) {
	client, bus := createClient(t)
	require.Nil(t, client.SendFrame(0, 0x7E0, "0d01000000000000"))
	assert.EqualValues(t, ErrGwUnsupportedBus, client.SendFrame(3, 0x7E0, "00"))
	assert.EqualValues(t, ErrGwSyntaxError, client.SendFrame(0, 0x7E0, "zz"))
	assert.EqualValues(t, ErrGwSyntaxError, client.SendFrame(0, 0x7E0, "000102030405060708"))
	require.Nil(t, client.SendISOTP(0, 0x7E0, "0x22 F1 90"))

	sent := bus.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, []byte{0x0D, 0x01, 0, 0, 0, 0, 0, 0}, sent[0].Payload())
	assert.Equal(t, []byte{0x03, 0x22, 0xF1, 0x90, 0xAA, 0xAA, 0xAA, 0xAA}, sent[1].Payload())

	assert.Eventually(t, func() bool {
		stats, err := client.GetStats()
		return err == nil && stats.SentFrames == 2 && stats.Buses == 1
	}, time.Second, 10*time.Millisecond)
}
