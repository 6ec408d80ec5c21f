package main

// Raw kernel sockets are only available on linux
import _ "github.com/samsamfire/gocanscript/pkg/can/socketcanraw"
