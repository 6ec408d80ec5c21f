package gateway

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/samsamfire/gocanscript/pkg/can"
	"github.com/samsamfire/gocanscript/pkg/host"
)

// Operations of the script host reachable through a gateway
type Host interface {
	Load(name string, source string) error
	Unload(name string) error
	Scripts() []host.ScriptInfo
	Stats() host.Stats
	SendFrame(bus int, frame can.Frame) error
	SendISOTP(ctx context.Context, bus int, id uint32, data []byte) error
}

const (
	ProtocolVersion = "1.0"
	GatewayClass    = "canscript"
)

// BaseGateway implements the features shared by every gateway type,
// each gateway maps its own parsing logic to it.
type BaseGateway struct {
	host Host
}

func NewBaseGateway(h Host) *BaseGateway {
	return &BaseGateway{host: h}
}

type GatewayVersion struct {
	GatewayClass    string
	ProtocolVersion string
	Interfaces      []string
}

func (gw *BaseGateway) Version() GatewayVersion {
	return GatewayVersion{
		GatewayClass:    GatewayClass,
		ProtocolVersion: ProtocolVersion,
		Interfaces:      can.Interfaces(),
	}
}

func (gw *BaseGateway) Scripts() []host.ScriptInfo {
	return gw.host.Scripts()
}

func (gw *BaseGateway) Stats() host.Stats {
	return gw.host.Stats()
}

func (gw *BaseGateway) LoadScript(name string, source string) error {
	return gw.host.Load(name, source)
}

func (gw *BaseGateway) UnloadScript(name string) error {
	return gw.host.Unload(name)
}

// Send a raw frame, data is hex encoded e.g. "0d01000000000000"
func (gw *BaseGateway) SendFrame(bus int, id uint32, data string) error {
	raw, err := decodeHex(data)
	if err != nil {
		return err
	}
	frame, err := can.NewDataFrame(id, raw)
	if err != nil {
		return err
	}
	return gw.host.SendFrame(bus, frame)
}

// Send an ISO-TP message, data is hex encoded
func (gw *BaseGateway) SendISOTP(ctx context.Context, bus int, id uint32, data string) error {
	raw, err := decodeHex(data)
	if err != nil {
		return err
	}
	return gw.host.SendISOTP(ctx, bus, id, raw)
}

// Spaces and a "0x" prefix are accepted
func decodeHex(data string) ([]byte, error) {
	data = strings.TrimPrefix(strings.ReplaceAll(data, " ", ""), "0x")
	raw, err := hex.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w : %v", ErrInvalidData, err)
	}
	return raw, nil
}
