package host

import (
	"time"

	"github.com/samsamfire/gocanscript/pkg/isotp"
)

const (
	DefaultScriptQueueSize = 1024
	DefaultLogQueueSize    = 256
	DefaultBusQueueSize    = 4096
	DefaultExpiryPeriod    = 10 * time.Millisecond
)

type Config struct {
	ScriptQueueSize int           // Pending callbacks per script before events are dropped
	LogQueueSize    int           // Pending script log lines before they are dropped
	BusQueueSize    int           // Received frames waiting for dispatch, per bus
	CallbackTimeout time.Duration // Interrupt callbacks running longer, 0 to disable
	ExpiryPeriod    time.Duration // Period of the ISO-TP reassembly timeout check
	ISOTP           isotp.Config
}

func DefaultConfig() Config {
	return Config{
		ScriptQueueSize: DefaultScriptQueueSize,
		LogQueueSize:    DefaultLogQueueSize,
		BusQueueSize:    DefaultBusQueueSize,
		ExpiryPeriod:    DefaultExpiryPeriod,
		ISOTP:           isotp.DefaultConfig(),
	}
}

// Replace unset values with defaults
func (c Config) withDefaults() Config {
	if c.ScriptQueueSize <= 0 {
		c.ScriptQueueSize = DefaultScriptQueueSize
	}
	if c.LogQueueSize <= 0 {
		c.LogQueueSize = DefaultLogQueueSize
	}
	if c.BusQueueSize <= 0 {
		c.BusQueueSize = DefaultBusQueueSize
	}
	if c.ExpiryPeriod <= 0 {
		c.ExpiryPeriod = DefaultExpiryPeriod
	}
	if c.ISOTP.Timeout <= 0 {
		c.ISOTP.Timeout = isotp.DefaultTimeout
	}
	return c
}
