package http

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// Wrapper around [http.ResponseWriter] but keeps track of any writes already done
// This allows us to perform default behaviour if handler has not already sent a response
type doneWriter struct {
	http.ResponseWriter
	done bool
}

// Handle a [GatewayRequest]
type GatewayRequestHandler func(w *doneWriter, req *GatewayRequest, raw *http.Request) error

func (w *doneWriter) WriteHeader(status int) {
	w.done = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *doneWriter) Write(b []byte) (int, error) {
	w.done = true
	return w.ResponseWriter.Write(b)
}

// Create a new sanitized api request object from raw http request
func (g *GatewayServer) newRequestFromRaw(r *http.Request) (*GatewayRequest, error) {
	match := regURI.FindStringSubmatch(r.URL.Path)
	if len(match) != 4 {
		g.logger.Errorf("request does not match a known API pattern : %v", r.URL.Path)
		return nil, ErrGwSyntaxError
	}
	apiVersion := match[1]
	if apiVersion != API_VERSION {
		g.logger.Errorf("api version %v is not supported", apiVersion)
		return nil, ErrGwRequestNotSupported
	}
	sequence, err := strconv.Atoi(match[2])
	if err != nil || sequence > MAX_SEQUENCE_NB {
		g.logger.Errorf("error processing sequence number %v", match[2])
		return nil, ErrGwSyntaxError
	}

	var parameters json.RawMessage
	err = json.NewDecoder(r.Body).Decode(&parameters)
	if err != nil && err != io.EOF {
		g.logger.Warnf("failed to unmarshal request body : %v", err)
		return nil, ErrGwSyntaxError
	}
	return &GatewayRequest{
		command:    strings.TrimSuffix(match[3], "/"),
		sequence:   uint32(sequence),
		parameters: parameters,
	}, nil
}

// Default handler of any HTTP gateway request
// This parses a typical request and forwards it to the correct handler
func (g *GatewayServer) handleRequest(w http.ResponseWriter, raw *http.Request) {
	g.logger.Debugf("handle incoming request %v", raw.URL)
	req, err := g.newRequestFromRaw(raw)
	if err != nil {
		w.Write(NewResponseError(0, err))
		return
	}
	// Full command first e.g. 'info/version', then its first part e.g. 'load' for 'load/rlec'
	route, ok := g.routes[req.command]
	if !ok {
		firstCommand, _, _ := strings.Cut(req.command, "/")
		route, ok = g.routes[firstCommand]
		if !ok {
			g.logger.Debugf("no handler found for %v", req.command)
			w.Write(NewResponseError(int(req.sequence), ErrGwRequestNotSupported))
			return
		}
	}
	dw := &doneWriter{ResponseWriter: w}
	err = route(dw, req, raw)
	if err != nil {
		g.logger.Warnf("command %v failed : %v", req.command, err)
		w.Write(NewResponseError(int(req.sequence), err))
		return
	}
	if !dw.done {
		dw.Write(NewResponseSuccess(int(req.sequence)))
	}
}

func writeJSON(w *doneWriter, resp any) error {
	respRaw, err := json.Marshal(resp)
	if err != nil {
		return ErrGwRequestNotProcessed
	}
	w.Write(respRaw)
	return nil
}

func (g *GatewayServer) handleGetVersion(w *doneWriter, req *GatewayRequest, _ *http.Request) error {
	version := g.Version()
	return writeJSON(w, VersionInfo{
		GatewayResponseBase: NewResponseBase(int(req.sequence), "OK"),
		GatewayVersion:      &version,
	})
}

func (g *GatewayServer) handleGetStats(w *doneWriter, req *GatewayRequest, _ *http.Request) error {
	return writeJSON(w, StatsResponse{
		GatewayResponseBase: NewResponseBase(int(req.sequence), "OK"),
		Stats:               g.Stats(),
	})
}

func (g *GatewayServer) handleGetScripts(w *doneWriter, req *GatewayRequest, _ *http.Request) error {
	resp := ScriptsResponse{
		GatewayResponseBase: NewResponseBase(int(req.sequence), "OK"),
		Scripts:             []ScriptSummary{},
	}
	for _, info := range g.Scripts() {
		resp.Scripts = append(resp.Scripts, newScriptSummary(info))
	}
	return writeJSON(w, resp)
}

// load/<name> with the source in the body, unload/<name>
func (g *GatewayServer) handleScript(w *doneWriter, req *GatewayRequest, _ *http.Request) error {
	match := regScript.FindStringSubmatch(req.command)
	if len(match) != 3 {
		return ErrGwSyntaxError
	}
	if match[1] == "unload" {
		return g.UnloadScript(match[2])
	}
	var load LoadScriptRequest
	if err := json.Unmarshal(req.parameters, &load); err != nil {
		return ErrGwSyntaxError
	}
	return g.LoadScript(match[2], load.Source)
}

// send/<bus> for a raw frame, isotp/<bus> for an ISO-TP message
func (g *GatewayServer) handleSend(w *doneWriter, req *GatewayRequest, raw *http.Request) error {
	match := regBus.FindStringSubmatch(req.command)
	if len(match) != 3 {
		return ErrGwSyntaxError
	}
	bus, _ := strconv.Atoi(match[2])
	var send SendRequest
	if err := json.Unmarshal(req.parameters, &send); err != nil {
		return ErrGwSyntaxError
	}
	id, err := strconv.ParseUint(send.Id, 0, 32)
	if err != nil {
		return ErrGwSyntaxError
	}
	if match[1] == "isotp" {
		return g.SendISOTP(raw.Context(), bus, uint32(id), send.Data)
	}
	return g.SendFrame(bus, uint32(id), send.Data)
}
