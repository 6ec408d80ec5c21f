// Package script runs one sandboxed javascript program.
//
// Every script gets its own runtime. Only the host, can, isotp and uds objects
// are reachable from the script, there is no module loader, console, timer or
// file system access. Callbacks are looked up once when the script is loaded.
package script

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
)

type Callback string

const (
	Setup           Callback = "setup"
	GotCANFrame     Callback = "gotCANFrame"
	GotISOTPMessage Callback = "gotISOTPMessage"
	GotUDSMessage   Callback = "gotUDSMessage"
	Tick            Callback = "tick"
)

var callbacks = []Callback{Setup, GotCANFrame, GotISOTPMessage, GotUDSMessage, Tick}

// A loaded script.
// Calls are serialized, at most one callback of a script runs at a time.
type Instance struct {
	name      string
	mu        sync.Mutex
	vm        *goja.Runtime
	callbacks map[Callback]goja.Callable
	timeout   time.Duration
	closed    bool
}

// Compile and run the top level of a script, then resolve its callbacks.
// A timeout of 0 lets callbacks run for as long as they want.
func New(name string, source string, caps Capabilities, timeout time.Duration) (*Instance, error) {
	vm := goja.New()
	instance := &Instance{
		name:      name,
		vm:        vm,
		callbacks: make(map[Callback]goja.Callable),
		timeout:   timeout,
	}
	if err := bindCapabilities(vm, caps); err != nil {
		return nil, fmt.Errorf("%w : %v : %v", ErrCompile, name, err)
	}
	program, err := goja.Compile(name, source, false)
	if err != nil {
		return nil, fmt.Errorf("%w : %v", ErrCompile, err)
	}
	err = instance.guard(func() error {
		_, err := vm.RunProgram(program)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w : %v : %v", ErrCompile, name, err)
	}
	for _, cb := range callbacks {
		if fn, ok := goja.AssertFunction(vm.Get(string(cb))); ok {
			instance.callbacks[cb] = fn
		}
	}
	return instance, nil
}

func (i *Instance) Name() string {
	return i.name
}

// True if the script defines this callback
func (i *Instance) Has(cb Callback) bool {
	_, ok := i.callbacks[cb]
	return ok
}

// Callbacks defined by the script
func (i *Instance) Callbacks() []Callback {
	defined := make([]Callback, 0, len(i.callbacks))
	for _, cb := range callbacks {
		if i.Has(cb) {
			defined = append(defined, cb)
		}
	}
	return defined
}

// Invoke a callback, missing callbacks are silently skipped.
// Byte slices are handed to the script as arrays of numbers.
func (i *Instance) Call(cb Callback, args ...any) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return ErrClosed
	}
	fn, ok := i.callbacks[cb]
	if !ok {
		return nil
	}
	err := i.guard(func() error {
		values := make([]goja.Value, len(args))
		for index, arg := range args {
			values[index] = i.toValue(arg)
		}
		_, err := fn(goja.Undefined(), values...)
		return err
	})
	if err != nil {
		return &Fault{Script: i.name, Callback: cb, Err: err}
	}
	return nil
}

// Release the runtime, waits for a running callback to return
func (i *Instance) Close() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.closed = true
	i.vm = nil
}

// Run f with the time budget armed and Go panics recovered
func (i *Instance) guard(f func() error) (err error) {
	if i.timeout > 0 {
		vm := i.vm
		timer := time.AfterFunc(i.timeout, func() {
			vm.Interrupt(ErrCallbackTimeout)
		})
		defer func() {
			timer.Stop()
			vm.ClearInterrupt()
		}()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w : %v", ErrPanic, r)
		}
	}()
	err = f()
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return fmt.Errorf("%w (%v)", ErrCallbackTimeout, i.timeout)
	}
	return err
}

func (i *Instance) toValue(arg any) goja.Value {
	data, ok := arg.([]byte)
	if !ok {
		return i.vm.ToValue(arg)
	}
	items := make([]any, len(data))
	for index, b := range data {
		items[index] = int64(b)
	}
	return i.vm.NewArray(items...)
}
