package http

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/samsamfire/gocanscript/pkg/gateway"
	"github.com/samsamfire/gocanscript/pkg/host"
)

type GatewayResponse interface {
	GetError() error
	GetSequenceNb() int
}

// HTTP response base
type GatewayResponseBase struct {
	// Sequence number corresponding to a request
	Sequence string `json:"sequence"`
	// Response, can be "OK" or "ERROR:x"
	Response string `json:"response"`
}

func NewResponseBase(sequence int, response string) *GatewayResponseBase {
	return &GatewayResponseBase{
		Sequence: strconv.Itoa(sequence),
		Response: response,
	}
}

func NewResponseError(sequence int, err error) []byte {
	jData, _ := json.Marshal(map[string]string{"sequence": strconv.Itoa(sequence), "response": toGatewayError(err).Error()})
	return jData
}

func NewResponseSuccess(sequence int) []byte {
	jData, _ := json.Marshal(map[string]string{"sequence": strconv.Itoa(sequence), "response": "OK"})
	return jData
}

// Extract error if any inside of reponse
func (resp *GatewayResponseBase) GetError() error {
	if !strings.HasPrefix(resp.Response, "ERROR:") {
		return nil
	}
	code, err := strconv.Atoi(strings.TrimPrefix(resp.Response, "ERROR:"))
	if err != nil {
		return fmt.Errorf("error decoding error field ('ERROR:' : %v)", resp.Response)
	}
	return NewGatewayError(code)
}

func (resp *GatewayResponseBase) GetSequenceNb() int {
	sequence, _ := strconv.Atoi(resp.Sequence)
	return sequence
}

// HTTP request to the server
type GatewayRequest struct {
	command    string // command can be composed of different parts
	sequence   uint32
	parameters json.RawMessage
}

type LoadScriptRequest struct {
	Source string `json:"source"`
}

// Identifier and hex encoded payload e.g. {"id": "0x7E0", "data": "0d01000000000000"}
type SendRequest struct {
	Id   string `json:"id"`
	Data string `json:"data"`
}

type VersionInfo struct {
	*GatewayResponseBase
	*gateway.GatewayVersion
}

type StatsResponse struct {
	*GatewayResponseBase
	host.Stats
}

type ScriptSummary struct {
	Name         string              `json:"name"`
	Callbacks    []string            `json:"callbacks"`
	TickInterval int64               `json:"tickIntervalMs"`
	Filters      map[string][]string `json:"filters"`
	Delivered    uint64              `json:"delivered"`
	Dropped      uint64              `json:"dropped"`
	Faults       uint64              `json:"faults"`
}

type ScriptsResponse struct {
	*GatewayResponseBase
	Scripts []ScriptSummary `json:"scripts"`
}

func newScriptSummary(info host.ScriptInfo) ScriptSummary {
	summary := ScriptSummary{
		Name:         info.Name,
		Callbacks:    make([]string, 0, len(info.Callbacks)),
		TickInterval: info.TickInterval.Milliseconds(),
		Filters:      make(map[string][]string),
		Delivered:    info.Delivered,
		Dropped:      info.Dropped,
		Faults:       info.Faults,
	}
	for _, cb := range info.Callbacks {
		summary.Callbacks = append(summary.Callbacks, string(cb))
	}
	for kind, ranges := range info.Filters {
		for _, r := range ranges {
			summary.Filters[kind.String()] = append(summary.Filters[kind.String()], r.String())
		}
	}
	return summary
}
