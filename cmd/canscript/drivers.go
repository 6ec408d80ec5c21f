package main

// Drivers register themselves to [can.NewBus] when imported,
// the virtual driver is imported by main for its broker
import (
	_ "github.com/samsamfire/gocanscript/pkg/can/slcan"
	_ "github.com/samsamfire/gocanscript/pkg/can/socketcan"
)
