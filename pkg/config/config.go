// Package config loads the runtime configuration from an INI file.
//
// Example :
//
//	[host]
//	log_level = info
//	callback_timeout_ms = 0
//
//	[isotp]
//	timeout_ms = 1000
//	padding = 0xAA
//
//	[bus.0]
//	interface = socketcan
//	channel = can0
//	bitrate = 500000
//
//	[script.rlec]
//	path = scripts/RLEC.js
//
// Unset keys keep their default value. Relative script paths are
// resolved against the directory of the configuration file.
package config

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/samsamfire/gocanscript/pkg/host"
	log "github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"
)

const (
	DefaultInterface = "socketcan"
	DefaultChannel   = "can0"
	DefaultBitrate   = 500000
)

type Bus struct {
	Index     int
	Interface string
	Channel   string
	Bitrate   int
}

type Script struct {
	Name string
	Path string
}

type Config struct {
	LogLevel log.Level
	Host     host.Config
	Buses    []Bus    // Sorted by index
	Scripts  []Script // In file order
}

func Default() *Config {
	return &Config{
		LogLevel: log.InfoLevel,
		Host:     host.DefaultConfig(),
	}
}

// Load a configuration file from a path
func LoadFile(path string) (*Config, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, err
	}
	return parse(file, filepath.Dir(path))
}

// Load a configuration from raw INI content, relative paths are kept as is
func Load(content []byte) (*Config, error) {
	file, err := ini.Load(content)
	if err != nil {
		return nil, err
	}
	return parse(file, "")
}

func parse(file *ini.File, dir string) (*Config, error) {
	cfg := Default()
	if err := parseHost(file.Section("host"), cfg); err != nil {
		return nil, err
	}
	if err := parseISOTP(file.Section("isotp"), cfg); err != nil {
		return nil, err
	}
	for _, section := range file.Sections() {
		name := section.Name()
		switch {
		case strings.HasPrefix(name, "bus."):
			bus, err := parseBus(section)
			if err != nil {
				return nil, err
			}
			for _, existing := range cfg.Buses {
				if existing.Index == bus.Index {
					return nil, fmt.Errorf("%w : duplicate bus %v", ErrInvalidSection, bus.Index)
				}
			}
			cfg.Buses = append(cfg.Buses, bus)
		case strings.HasPrefix(name, "script."):
			script, err := parseScript(section, dir)
			if err != nil {
				return nil, err
			}
			cfg.Scripts = append(cfg.Scripts, script)
		}
	}
	sort.Slice(cfg.Buses, func(i, j int) bool { return cfg.Buses[i].Index < cfg.Buses[j].Index })
	return cfg, nil
}

func parseHost(section *ini.Section, cfg *Config) error {
	if section.HasKey("log_level") {
		level, err := log.ParseLevel(section.Key("log_level").String())
		if err != nil {
			return fmt.Errorf("%w : [host] log_level : %v", ErrInvalidValue, err)
		}
		cfg.LogLevel = level
	}
	fields := []struct {
		key   string
		value *int
	}{
		{"script_queue_size", &cfg.Host.ScriptQueueSize},
		{"log_queue_size", &cfg.Host.LogQueueSize},
		{"bus_queue_size", &cfg.Host.BusQueueSize},
	}
	for _, field := range fields {
		if err := readInt(section, field.key, field.value); err != nil {
			return err
		}
	}
	if err := readMilliseconds(section, "callback_timeout_ms", &cfg.Host.CallbackTimeout); err != nil {
		return err
	}
	return readMilliseconds(section, "expiry_period_ms", &cfg.Host.ExpiryPeriod)
}

func parseISOTP(section *ini.Section, cfg *Config) error {
	isotp := &cfg.Host.ISOTP
	if err := readMilliseconds(section, "timeout_ms", &isotp.Timeout); err != nil {
		return err
	}
	if err := readBool(section, "flow_control", &isotp.FlowControl); err != nil {
		return err
	}
	if err := readBool(section, "extended_addressing", &isotp.ExtendedAddressing); err != nil {
		return err
	}
	if err := readBool(section, "wait_flow_control", &isotp.WaitFlowControl); err != nil {
		return err
	}
	bytes := []struct {
		key   string
		value *uint8
	}{
		{"block_size", &isotp.BlockSize},
		{"st_min", &isotp.STmin},
		{"padding", &isotp.Padding},
		{"target_address", &isotp.TargetAddress},
	}
	for _, field := range bytes {
		if err := readByte(section, field.key, field.value); err != nil {
			return err
		}
	}
	return nil
}

func parseBus(section *ini.Section) (Bus, error) {
	indexStr := strings.TrimPrefix(section.Name(), "bus.")
	index, err := strconv.Atoi(indexStr)
	if err != nil || index < 0 {
		return Bus{}, fmt.Errorf("%w : [%v] bus index must be a positive integer", ErrInvalidSection, section.Name())
	}
	bus := Bus{
		Index:     index,
		Interface: section.Key("interface").MustString(DefaultInterface),
		Channel:   section.Key("channel").MustString(DefaultChannel),
		Bitrate:   DefaultBitrate,
	}
	return bus, readInt(section, "bitrate", &bus.Bitrate)
}

func parseScript(section *ini.Section, dir string) (Script, error) {
	name := strings.TrimPrefix(section.Name(), "script.")
	if name == "" {
		return Script{}, fmt.Errorf("%w : [%v] script needs a name", ErrInvalidSection, section.Name())
	}
	path := section.Key("path").String()
	if path == "" {
		return Script{}, fmt.Errorf("%w : [%v] path", ErrMissingKey, section.Name())
	}
	if dir != "" && !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	return Script{Name: name, Path: path}, nil
}

func readInt(section *ini.Section, key string, value *int) error {
	if !section.HasKey(key) {
		return nil
	}
	v, err := section.Key(key).Int()
	if err != nil || v < 0 {
		return fmt.Errorf("%w : [%v] %v = %q", ErrInvalidValue, section.Name(), key, section.Key(key).String())
	}
	*value = v
	return nil
}

func readMilliseconds(section *ini.Section, key string, value *time.Duration) error {
	ms := -1
	if err := readInt(section, key, &ms); err != nil {
		return err
	}
	if ms >= 0 {
		*value = time.Duration(ms) * time.Millisecond
	}
	return nil
}

func readBool(section *ini.Section, key string, value *bool) error {
	if !section.HasKey(key) {
		return nil
	}
	v, err := section.Key(key).Bool()
	if err != nil {
		return fmt.Errorf("%w : [%v] %v = %q", ErrInvalidValue, section.Name(), key, section.Key(key).String())
	}
	*value = v
	return nil
}

func readByte(section *ini.Section, key string, value *uint8) error {
	if !section.HasKey(key) {
		return nil
	}
	v, err := section.Key(key).Uint()
	if err != nil || v > 0xFF {
		return fmt.Errorf("%w : [%v] %v = %q", ErrInvalidValue, section.Name(), key, section.Key(key).String())
	}
	*value = uint8(v)
	return nil
}
