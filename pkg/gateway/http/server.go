package http

import (
	"net/http"
	"regexp"

	"github.com/samsamfire/gocanscript/pkg/gateway"
	log "github.com/sirupsen/logrus"
)

const API_VERSION = "1.0"
const MAX_SEQUENCE_NB = 2<<31 - 1
const URI_PATTERN = `/canscript/(\d+\.\d+)/(\d{1,10})/(.*)`
const BUS_COMMAND_URI_PATTERN = `^(send|isotp)/(\d{1,3})$`
const SCRIPT_COMMAND_URI_PATTERN = `^(load|unload)/([A-Za-z0-9_.\-]+)$`

var regURI = regexp.MustCompile(URI_PATTERN)
var regBus = regexp.MustCompile(BUS_COMMAND_URI_PATTERN)
var regScript = regexp.MustCompile(SCRIPT_COMMAND_URI_PATTERN)

type GatewayServer struct {
	*gateway.BaseGateway
	logger   *log.Entry
	serveMux *http.ServeMux
	routes   map[string]GatewayRequestHandler
}

// Create a new gateway, a nil logger uses the logrus standard logger
func NewGatewayServer(h gateway.Host, logger *log.Logger) *GatewayServer {
	if logger == nil {
		logger = log.StandardLogger()
	}
	gw := &GatewayServer{
		BaseGateway: gateway.NewBaseGateway(h),
		logger:      logger.WithField("service", "[HTTP]"),
	}
	gw.serveMux = http.NewServeMux()
	gw.serveMux.HandleFunc("/", gw.handleRequest) // This base route handles all the requests
	gw.routes = make(map[string]GatewayRequestHandler)

	gw.addRoute("info/version", gw.handleGetVersion)
	gw.addRoute("info/stats", gw.handleGetStats)
	gw.addRoute("scripts", gw.handleGetScripts)
	gw.addRoute("load", gw.handleScript)
	gw.addRoute("unload", gw.handleScript)
	gw.addRoute("send", gw.handleSend)
	gw.addRoute("isotp", gw.handleSend)
	return gw
}

// Process server, blocking
func (g *GatewayServer) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, g.serveMux)
}

// Handler serving the gateway, to be used with a custom [http.Server]
func (g *GatewayServer) Handler() http.Handler {
	return g.serveMux
}

// Add a route to the server for handling a specific command
func (g *GatewayServer) addRoute(command string, handler GatewayRequestHandler) {
	g.routes[command] = handler
}
