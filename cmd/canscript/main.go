package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/samsamfire/gocanscript/pkg/can"
	"github.com/samsamfire/gocanscript/pkg/can/virtual"
	"github.com/samsamfire/gocanscript/pkg/config"
	"github.com/samsamfire/gocanscript/pkg/filter"
	gwhttp "github.com/samsamfire/gocanscript/pkg/gateway/http"
	"github.com/samsamfire/gocanscript/pkg/host"
	log "github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("c", "", "configuration file (ini)")
	canInterface := flag.String("i", config.DefaultInterface, "interface when no bus is configured e.g. "+strings.Join(can.Interfaces(), ","))
	channel := flag.String("ch", config.DefaultChannel, "channel when no bus is configured e.g. can0, /dev/ttyACM0, localhost:18888")
	bitrate := flag.Int("b", config.DefaultBitrate, "bitrate when no bus is configured")
	logLevel := flag.String("l", "", "log level, overrides the configuration")
	broker := flag.String("broker", "", "run a virtual CAN broker on this address e.g. localhost:18888")
	statsPeriod := flag.Duration("stats", 0, "log host statistics with this period, 0 to disable")
	httpAddr := flag.String("http", "", "serve the HTTP gateway on this address e.g. :8090")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %v [flags] [script.js ...]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadFile(*configPath)
		if err != nil {
			log.Fatalf("[MAIN] failed to load configuration %v : %v", *configPath, err)
		}
	}
	if *logLevel != "" {
		level, err := log.ParseLevel(*logLevel)
		if err != nil {
			log.Fatalf("[MAIN] %v", err)
		}
		cfg.LogLevel = level
	}
	log.SetLevel(cfg.LogLevel)
	if len(cfg.Buses) == 0 {
		cfg.Buses = []config.Bus{{Index: 0, Interface: *canInterface, Channel: *channel, Bitrate: *bitrate}}
	}

	if *broker != "" {
		server, err := virtual.NewServer(*broker)
		if err != nil {
			log.Fatalf("[MAIN] failed to start virtual broker : %v", err)
		}
		defer server.Close()
		log.Infof("[MAIN] virtual broker listening on %v", server.Addr())
	}

	h := host.New(cfg.Host, log.StandardLogger())
	buses := make([]can.Bus, 0, len(cfg.Buses))
	for _, busCfg := range cfg.Buses {
		bus, err := can.NewBus(busCfg.Interface, busCfg.Channel, busCfg.Bitrate)
		if err != nil {
			log.Fatalf("[MAIN] bus %d : %v", busCfg.Index, err)
		}
		if err = bus.Connect(); err != nil {
			log.Fatalf("[MAIN] bus %d : failed to connect to %v %v : %v", busCfg.Index, busCfg.Interface, busCfg.Channel, err)
		}
		if err = h.AttachBus(busCfg.Index, bus); err != nil {
			log.Fatalf("[MAIN] %v", err)
		}
		buses = append(buses, bus)
	}

	// A script failing to load does not prevent the others from running
	for _, script := range cfg.Scripts {
		source, err := os.ReadFile(script.Path)
		if err == nil {
			err = h.Load(script.Name, string(source))
		}
		if err != nil {
			log.Errorf("[MAIN] script %v : %v", script.Name, err)
		}
	}
	for _, path := range flag.Args() {
		if err := h.LoadFile(path); err != nil {
			log.Errorf("[MAIN] script %v : %v", path, err)
		}
	}
	printSummary(cfg, h)

	if *httpAddr != "" {
		gw := gwhttp.NewGatewayServer(h, log.StandardLogger())
		go func() {
			log.Infof("[MAIN] http gateway listening on %v", *httpAddr)
			if err := gw.ListenAndServe(*httpAddr); err != nil {
				log.Errorf("[MAIN] http gateway stopped : %v", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	run(ctx, h, *statsPeriod)

	log.Info("[MAIN] stopping")
	h.Close()
	for _, bus := range buses {
		if err := bus.Disconnect(); err != nil {
			log.Warnf("[MAIN] %v", err)
		}
	}
	printStats(h.Stats())
}

func run(ctx context.Context, h *host.Host, period time.Duration) {
	if period <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := h.Stats()
			log.WithFields(log.Fields{
				"received": stats.ReceivedFrames,
				"sent":     stats.SentFrames,
				"isotp":    stats.ISOTPMessages,
				"uds":      stats.UDSMessages,
				"dropped":  stats.DroppedFrames + stats.DroppedEvents,
				"faults":   stats.Faults,
			}).Info("[MAIN] statistics")
		}
	}
}

func printSummary(cfg *config.Config, h *host.Host) {
	busData := pterm.TableData{{"Bus", "Interface", "Channel", "Bitrate"}}
	for _, bus := range cfg.Buses {
		busData = append(busData, []string{
			fmt.Sprint(bus.Index), bus.Interface, bus.Channel, fmt.Sprint(bus.Bitrate),
		})
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(busData).Render()

	scriptData := pterm.TableData{{"Script", "Callbacks", "CAN", "ISO-TP", "UDS", "Tick"}}
	for _, info := range h.Scripts() {
		callbacks := make([]string, 0, len(info.Callbacks))
		for _, cb := range info.Callbacks {
			callbacks = append(callbacks, string(cb))
		}
		tick := "-"
		if info.TickInterval > 0 {
			tick = info.TickInterval.String()
		}
		scriptData = append(scriptData, []string{
			info.Name,
			strings.Join(callbacks, " "),
			ranges(info.Filters[filter.CAN]),
			ranges(info.Filters[filter.ISOTP]),
			ranges(info.Filters[filter.UDS]),
			tick,
		})
	}
	if len(scriptData) == 1 {
		pterm.Warning.Println("No script loaded")
		return
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(scriptData).Render()
}

func printStats(stats host.Stats) {
	data := pterm.TableData{
		{"Received", "Sent", "ISO-TP", "UDS", "Dropped frames", "Dropped events", "Dropped logs", "Timeouts", "Faults"},
		{
			fmt.Sprint(stats.ReceivedFrames),
			fmt.Sprint(stats.SentFrames),
			fmt.Sprint(stats.ISOTPMessages),
			fmt.Sprint(stats.UDSMessages),
			fmt.Sprint(stats.DroppedFrames),
			fmt.Sprint(stats.DroppedEvents),
			fmt.Sprint(stats.DroppedLogs),
			fmt.Sprint(stats.ReassemblyTimeouts),
			fmt.Sprint(stats.Faults),
		},
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func ranges(rs []filter.Range) string {
	if len(rs) == 0 {
		return "-"
	}
	parts := make([]string, len(rs))
	for i, r := range rs {
		parts[i] = r.String()
	}
	return strings.Join(parts, " ")
}
