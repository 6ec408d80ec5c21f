// Package filter holds the receive filters registered by scripts.
//
// A filter is an inclusive identifier range bound to one bus, or to any bus.
// Filters of one kind are OR-ed together; a script without filters of a kind
// receives nothing of that kind.
package filter

import (
	"fmt"
	"sync"
)

// Bus index matching every bus
const AnyBus = -1

type Kind uint8

const (
	CAN Kind = iota
	ISOTP
	UDS
)

var kindNames = map[Kind]string{
	CAN:   "can",
	ISOTP: "isotp",
	UDS:   "uds",
}

func (k Kind) String() string {
	name, ok := kindNames[k]
	if !ok {
		return fmt.Sprintf("kind(%d)", k)
	}
	return name
}

type ScriptID string

// Inclusive identifier range on a bus
type Range struct {
	IDMin uint32
	IDMax uint32
	Bus   int
}

func NewRange(idMin uint32, idMax uint32, bus int) Range {
	if idMin > idMax {
		idMin, idMax = idMax, idMin
	}
	if bus < 0 {
		bus = AnyBus
	}
	return Range{IDMin: idMin, IDMax: idMax, Bus: bus}
}

func (r Range) Match(bus int, id uint32) bool {
	if r.Bus != AnyBus && r.Bus != bus {
		return false
	}
	return id >= r.IDMin && id <= r.IDMax
}

func (r Range) String() string {
	if r.Bus == AnyBus {
		return fmt.Sprintf("[x%x,x%x]@any", r.IDMin, r.IDMax)
	}
	return fmt.Sprintf("[x%x,x%x]@%d", r.IDMin, r.IDMax, r.Bus)
}

type entry struct {
	script ScriptID
	ranges [3][]Range
}

// Table of filters of all loaded scripts.
// Matching is a linear scan, filter counts are expected to stay small.
type Table struct {
	mu      sync.RWMutex
	entries []*entry
}

func NewTable() *Table {
	return &Table{}
}

func (t *Table) lookup(script ScriptID, create bool) *entry {
	for _, e := range t.entries {
		if e.script == script {
			return e
		}
	}
	if !create {
		return nil
	}
	e := &entry{script: script}
	t.entries = append(t.entries, e)
	return e
}

// Replace all filters of a kind for a script
func (t *Table) Set(script ScriptID, kind Kind, ranges ...Range) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.lookup(script, true)
	e.ranges[kind] = append([]Range(nil), ranges...)
}

// Append filters of a kind for a script
func (t *Table) Add(script ScriptID, kind Kind, ranges ...Range) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.lookup(script, true)
	e.ranges[kind] = append(e.ranges[kind], ranges...)
}

// Remove all filters of a kind for a script
func (t *Table) Clear(script ScriptID, kind Kind) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e := t.lookup(script, false); e != nil {
		e.ranges[kind] = nil
	}
}

// Remove every filter of a script, used on unload
func (t *Table) Remove(script ScriptID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, e := range t.entries {
		if e.script == script {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return
		}
	}
}

// Filters of a kind currently registered for a script
func (t *Table) Filters(script ScriptID, kind Kind) []Range {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e := t.lookup(script, false)
	if e == nil {
		return nil
	}
	return append([]Range(nil), e.ranges[kind]...)
}

// Scripts with at least one filter of kind matching the bus and id,
// in registration order, each script at most once.
func (t *Table) Match(kind Kind, bus int, id uint32) []ScriptID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var matched []ScriptID
	for _, e := range t.entries {
		for _, r := range e.ranges[kind] {
			if r.Match(bus, id) {
				matched = append(matched, e.script)
				break
			}
		}
	}
	return matched
}

// True if any script wants this bus and id for one of the given kinds
func (t *Table) Any(bus int, id uint32, kinds ...Kind) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, e := range t.entries {
		for _, kind := range kinds {
			for _, r := range e.ranges[kind] {
				if r.Match(bus, id) {
					return true
				}
			}
		}
	}
	return false
}
