package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/samsamfire/gocanscript/pkg/gateway"
	"github.com/samsamfire/gocanscript/pkg/host"
	log "github.com/sirupsen/logrus"
)

type GatewayClient struct {
	http.Client
	logger            *log.Entry
	baseURL           string
	apiVersion        string
	currentSequenceNb int
}

func NewGatewayClient(baseURL string, apiVersion string, logger *log.Logger) *GatewayClient {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &GatewayClient{
		logger:     logger.WithField("service", "[HTTP client]"),
		Client:     http.Client{},
		baseURL:    baseURL,
		apiVersion: apiVersion,
	}
}

// HTTP request to a gateway endpoint
// Does error checking : http related errors, json decode errors
// or actual gateway errors
func (client *GatewayClient) Do(method string, uri string, body io.Reader, response GatewayResponse) error {
	client.currentSequenceNb += 1
	baseUri := client.baseURL + fmt.Sprintf("/canscript/%s/%d", client.apiVersion, client.currentSequenceNb)
	req, err := http.NewRequest(method, baseUri+uri, body)
	if err != nil {
		client.logger.Errorf("failed to create request : %v", err)
		return err
	}
	httpResp, err := client.Client.Do(req)
	if err != nil {
		client.logger.Errorf("failed request : %v", err)
		return err
	}
	defer httpResp.Body.Close()
	err = json.NewDecoder(httpResp.Body).Decode(response)
	if err != nil {
		client.logger.Errorf("failed to decode response : %v", err)
		return err
	}
	err = response.GetError()
	if err != nil {
		return err
	}
	sequence := response.GetSequenceNb()
	if client.currentSequenceNb != sequence {
		client.logger.Errorf("wrong sequence number %v, expected %v", sequence, client.currentSequenceNb)
		return fmt.Errorf("error in sequence number")
	}
	return nil
}

func (client *GatewayClient) doJSON(method string, uri string, request any) error {
	encodedReq, err := json.Marshal(request)
	if err != nil {
		return err
	}
	return client.Do(method, uri, bytes.NewBuffer(encodedReq), new(GatewayResponseBase))
}

// Read gateway version
func (client *GatewayClient) GetVersion() (*gateway.GatewayVersion, error) {
	versionInfo := new(VersionInfo)
	err := client.Do(http.MethodGet, "/info/version", nil, versionInfo)
	return versionInfo.GatewayVersion, err
}

// Read host statistics
func (client *GatewayClient) GetStats() (host.Stats, error) {
	resp := new(StatsResponse)
	err := client.Do(http.MethodGet, "/info/stats", nil, resp)
	return resp.Stats, err
}

// List loaded scripts
func (client *GatewayClient) GetScripts() ([]ScriptSummary, error) {
	resp := new(ScriptsResponse)
	err := client.Do(http.MethodGet, "/scripts", nil, resp)
	return resp.Scripts, err
}

func (client *GatewayClient) LoadScript(name string, source string) error {
	return client.doJSON(http.MethodPut, "/load/"+name, LoadScriptRequest{Source: source})
}

func (client *GatewayClient) UnloadScript(name string) error {
	return client.Do(http.MethodPut, "/unload/"+name, nil, new(GatewayResponseBase))
}

// Send a raw frame, data is hex encoded
func (client *GatewayClient) SendFrame(bus int, id uint32, data string) error {
	return client.doJSON(http.MethodPut, fmt.Sprintf("/send/%d", bus), SendRequest{Id: fmt.Sprintf("0x%x", id), Data: data})
}

// Send an ISO-TP message, data is hex encoded
func (client *GatewayClient) SendISOTP(bus int, id uint32, data string) error {
	return client.doJSON(http.MethodPut, fmt.Sprintf("/isotp/%d", bus), SendRequest{Id: fmt.Sprintf("0x%x", id), Data: data})
}
