package script

import (
	"fmt"
	"strconv"

	"github.com/dop251/goja"
	"github.com/samsamfire/gocanscript/pkg/can"
	"github.com/samsamfire/gocanscript/pkg/filter"
)

// What a script is allowed to do, provided by the host for one script
type Capabilities interface {
	Log(msg string)
	SetTickInterval(ms int64)
	SendFrame(bus int, frame can.Frame) error
	SendISOTP(bus int, id uint32, data []byte) error
	SendUDS(bus int, id uint32, service uint8, subFunction int, params []byte) error
	SetFilter(kind filter.Kind, r filter.Range)
	AddFilter(kind filter.Kind, r filter.Range)
	ClearFilters(kind filter.Kind)
}

// Largest array accepted from a script, an ISO-TP message
const maxArrayLength = 4095

type binding struct {
	object *goja.Object
	name   string
	fn     func(goja.FunctionCall) goja.Value
}

func bindCapabilities(vm *goja.Runtime, caps Capabilities) error {
	host := vm.NewObject()
	canObj := vm.NewObject()
	isotpObj := vm.NewObject()
	udsObj := vm.NewObject()

	bindings := []binding{
		{host, "log", func(call goja.FunctionCall) goja.Value {
			caps.Log(call.Argument(0).String())
			return goja.Undefined()
		}},
		{host, "setTickInterval", func(call goja.FunctionCall) goja.Value {
			caps.SetTickInterval(call.Argument(0).ToInteger())
			return goja.Undefined()
		}},
		{canObj, "sendFrame", func(call goja.FunctionCall) goja.Value {
			return vm.ToValue(sendFrame(vm, caps, call) == nil)
		}},
		{isotpObj, "sendISOTP", func(call goja.FunctionCall) goja.Value {
			return vm.ToValue(sendISOTP(vm, caps, call) == nil)
		}},
		{udsObj, "sendUDS", func(call goja.FunctionCall) goja.Value {
			return vm.ToValue(sendUDS(vm, caps, call) == nil)
		}},
	}
	bindings = append(bindings, filterBindings(canObj, filter.CAN, caps)...)
	bindings = append(bindings, filterBindings(isotpObj, filter.ISOTP, caps)...)
	bindings = append(bindings, filterBindings(udsObj, filter.UDS, caps)...)

	for _, b := range bindings {
		if err := b.object.Set(b.name, b.fn); err != nil {
			return err
		}
	}
	for name, object := range map[string]*goja.Object{"host": host, "can": canObj, "isotp": isotpObj, "uds": udsObj} {
		if err := vm.Set(name, object); err != nil {
			return err
		}
	}
	return nil
}

// setFilter(idMin, idMax, bus), addFilter(idMin, idMax, bus) and clearFilters()
func filterBindings(object *goja.Object, kind filter.Kind, caps Capabilities) []binding {
	return []binding{
		{object, "setFilter", func(call goja.FunctionCall) goja.Value {
			caps.SetFilter(kind, toRange(call))
			return goja.Undefined()
		}},
		{object, "addFilter", func(call goja.FunctionCall) goja.Value {
			caps.AddFilter(kind, toRange(call))
			return goja.Undefined()
		}},
		{object, "clearFilters", func(call goja.FunctionCall) goja.Value {
			caps.ClearFilters(kind)
			return goja.Undefined()
		}},
	}
}

// sendFrame(bus, id, len, data)
func sendFrame(vm *goja.Runtime, caps Capabilities, call goja.FunctionCall) error {
	bus := int(call.Argument(0).ToInteger())
	id, err := toID(call.Argument(1))
	if err != nil {
		return logged(caps, "sendFrame", err)
	}
	length := call.Argument(2).ToInteger()
	data, err := toBytes(vm, call.Argument(3))
	if err != nil {
		return logged(caps, "sendFrame", err)
	}
	frame, err := can.NewDataFrameWithLength(id, int(length), data)
	if err != nil {
		return logged(caps, "sendFrame", err)
	}
	return caps.SendFrame(bus, frame)
}

// sendISOTP(bus, id, len, data)
func sendISOTP(vm *goja.Runtime, caps Capabilities, call goja.FunctionCall) error {
	bus := int(call.Argument(0).ToInteger())
	id, err := toID(call.Argument(1))
	if err != nil {
		return logged(caps, "sendISOTP", err)
	}
	length := call.Argument(2).ToInteger()
	data, err := toBytes(vm, call.Argument(3))
	if err != nil {
		return logged(caps, "sendISOTP", err)
	}
	if int(length) != len(data) {
		return logged(caps, "sendISOTP", fmt.Errorf("%w : declared %v, got %v", can.ErrDataLength, length, len(data)))
	}
	return caps.SendISOTP(bus, id, data)
}

// sendUDS(bus, id, service, subFunc, ...params)
func sendUDS(vm *goja.Runtime, caps Capabilities, call goja.FunctionCall) error {
	bus := int(call.Argument(0).ToInteger())
	id, err := toID(call.Argument(1))
	if err != nil {
		return logged(caps, "sendUDS", err)
	}
	service := uint8(call.Argument(2).ToInteger())
	subFunction := -1
	if arg := call.Argument(3); !goja.IsUndefined(arg) && !goja.IsNull(arg) {
		subFunction = int(arg.ToInteger())
		if subFunction >= 0 {
			subFunction &= 0xFF
		}
	}
	var params []byte
	for _, arg := range call.Arguments[min(4, len(call.Arguments)):] {
		bytes, err := toBytes(vm, arg)
		if err != nil {
			return logged(caps, "sendUDS", err)
		}
		params = append(params, bytes...)
	}
	return caps.SendUDS(bus, id, service, subFunction, params)
}

// Errors raised before reaching the host are logged on behalf of the script
func logged(caps Capabilities, function string, err error) error {
	caps.Log(fmt.Sprintf("%v rejected : %v", function, err))
	return err
}

func toID(value goja.Value) (uint32, error) {
	id := value.ToInteger()
	if id < 0 || id > int64(can.CanEffMask) {
		return 0, fmt.Errorf("%w : %v", can.ErrInvalidID, id)
	}
	return uint32(id), nil
}

// Convert a number or an array of numbers to bytes, each masked to 8 bits.
// Holes and non numeric entries become 0.
func toBytes(vm *goja.Runtime, value goja.Value) ([]byte, error) {
	if goja.IsUndefined(value) || goja.IsNull(value) {
		return nil, nil
	}
	if _, isObject := value.(*goja.Object); !isObject {
		switch value.Export().(type) {
		case int64, float64:
			return []byte{byte(value.ToInteger())}, nil
		}
		return nil, ErrNotArray
	}
	object := value.ToObject(vm)
	if object.ClassName() != "Array" {
		return nil, ErrNotArray
	}
	length := object.Get("length").ToInteger()
	if length > maxArrayLength {
		return nil, fmt.Errorf("%w : %v items", ErrArrayTooLong, length)
	}
	data := make([]byte, length)
	for index := range data {
		item := object.Get(strconv.Itoa(index))
		if item == nil {
			continue
		}
		data[index] = byte(item.ToInteger())
	}
	return data, nil
}

func toRange(call goja.FunctionCall) filter.Range {
	idMin := clampID(call.Argument(0).ToInteger())
	idMax := clampID(call.Argument(1).ToInteger())
	bus := filter.AnyBus
	if arg := call.Argument(2); !goja.IsUndefined(arg) && !goja.IsNull(arg) {
		bus = int(arg.ToInteger())
	}
	return filter.NewRange(idMin, idMax, bus)
}

func clampID(id int64) uint32 {
	if id < 0 {
		return 0
	}
	if id > int64(can.CanEffMask) {
		return can.CanEffMask
	}
	return uint32(id)
}
