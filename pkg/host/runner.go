package host

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samsamfire/gocanscript/pkg/can"
	"github.com/samsamfire/gocanscript/pkg/filter"
	"github.com/samsamfire/gocanscript/pkg/script"
	"github.com/samsamfire/gocanscript/pkg/uds"
	log "github.com/sirupsen/logrus"
)

type event struct {
	callback   script.Callback
	args       []any
	generation uint64
}

// A loaded script with its worker and tick scheduler.
// All callbacks of a script run on its worker goroutine, in queue order.
type scriptRunner struct {
	name     string
	host     *Host
	logger   *log.Entry
	instance *script.Instance
	inbox    chan event
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	filterMu sync.Mutex

	tickMu      sync.Mutex
	started     bool
	tickPeriod  time.Duration
	tickGen     uint64
	tickCancel  context.CancelFunc
	tickPending atomic.Bool

	delivered atomic.Uint64
	dropped   atomic.Uint64
	faults    atomic.Uint64
}

func newScriptRunner(name string, h *Host) *scriptRunner {
	ctx, cancel := context.WithCancel(h.ctx)
	return &scriptRunner{
		name:   name,
		host:   h,
		logger: h.logger.WithField("script", name),
		inbox:  make(chan event, h.config.ScriptQueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start the worker and the tick scheduler requested so far.
// Ticks asked for by top level code or setup only fire from here on.
func (r *scriptRunner) start() {
	r.tickMu.Lock()
	defer r.tickMu.Unlock()
	if r.started || r.ctx.Err() != nil {
		return
	}
	r.started = true
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.process()
	}()
	r.startTickerLocked()
}

func (r *scriptRunner) process() {
	for {
		select {
		case <-r.ctx.Done():
			return
		case ev := <-r.inbox:
			// Unload may have happened while waiting
			if r.ctx.Err() != nil {
				return
			}
			r.run(ev)
		}
	}
}

func (r *scriptRunner) run(ev event) {
	if ev.callback == script.Tick {
		defer r.tickPending.Store(false)
		r.tickMu.Lock()
		stale := ev.generation != r.tickGen
		r.tickMu.Unlock()
		if stale {
			return
		}
	}
	r.call(ev.callback, ev.args...)
}

// Invoke a callback now, faults are logged and counted
func (r *scriptRunner) call(cb script.Callback, args ...any) {
	err := r.instance.Call(cb, args...)
	if err == nil {
		return
	}
	if errors.Is(err, script.ErrClosed) {
		return
	}
	r.faults.Add(1)
	r.host.stats.faults.Add(1)
	r.logger.WithField("callback", cb).Errorf("[SCRIPT] %v", err)
}

// Queue an event without blocking, returns false if it was dropped
func (r *scriptRunner) deliver(ev event) bool {
	if r.instance == nil || !r.instance.Has(ev.callback) {
		return false
	}
	select {
	case r.inbox <- ev:
		r.delivered.Add(1)
		return true
	default:
		r.dropped.Add(1)
		r.host.stats.droppedEvents.Add(1)
		r.logger.Warnf("[HOST] inbox full, dropping %v", ev.callback)
		return false
	}
}

// Start, restart or stop the tick scheduler
func (r *scriptRunner) setTickInterval(period time.Duration) {
	r.tickMu.Lock()
	defer r.tickMu.Unlock()
	r.tickGen++
	if r.tickCancel != nil {
		r.tickCancel()
		r.tickCancel = nil
	}
	r.tickPeriod = 0
	if period <= 0 || r.ctx.Err() != nil {
		return
	}
	r.tickPeriod = period
	if r.started {
		r.startTickerLocked()
	}
}

func (r *scriptRunner) startTickerLocked() {
	if r.tickPeriod <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(r.ctx)
	r.tickCancel = cancel
	period, generation := r.tickPeriod, r.tickGen
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.tick(ctx, period, generation)
	}()
}

func (r *scriptRunner) tickInterval() time.Duration {
	r.tickMu.Lock()
	defer r.tickMu.Unlock()
	return r.tickPeriod
}

func (r *scriptRunner) tick(ctx context.Context, period time.Duration, generation uint64) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Skip this period if the previous tick has not run yet
			if !r.tickPending.CompareAndSwap(false, true) {
				continue
			}
			if !r.deliver(event{callback: script.Tick, generation: generation}) {
				r.tickPending.Store(false)
			}
		}
	}
}

// Stop scheduling, drop the filters, wait for the running callback and
// release the runtime
func (r *scriptRunner) stop() {
	r.cancel()
	r.filterMu.Lock()
	r.host.filters.Remove(filter.ScriptID(r.name))
	r.filterMu.Unlock()
	// A concurrent setTickInterval has either added to wg or seen the cancel
	r.tickMu.Lock()
	r.tickMu.Unlock()
	r.wg.Wait()
	if r.instance != nil {
		r.instance.Close()
	}
}

// Filters can only change while the script is loaded
func (r *scriptRunner) updateFilters(update func(id filter.ScriptID)) {
	r.filterMu.Lock()
	defer r.filterMu.Unlock()
	if r.ctx.Err() != nil {
		return
	}
	update(filter.ScriptID(r.name))
}

// Implements [script.Capabilities]

func (r *scriptRunner) Log(msg string) {
	r.host.sink.Log(r.name, msg)
}

func (r *scriptRunner) SetTickInterval(ms int64) {
	r.setTickInterval(time.Duration(ms) * time.Millisecond)
}

func (r *scriptRunner) SendFrame(bus int, frame can.Frame) error {
	err := r.host.SendFrame(bus, frame)
	if err != nil {
		r.logger.Warnf("[HOST] sendFrame failed : %v", err)
	}
	return err
}

func (r *scriptRunner) SendISOTP(bus int, id uint32, data []byte) error {
	err := r.host.SendISOTP(r.ctx, bus, id, data)
	if err != nil {
		r.logger.Warnf("[HOST] sendISOTP failed : %v", err)
	}
	return err
}

func (r *scriptRunner) SendUDS(bus int, id uint32, service uint8, subFunction int, params []byte) error {
	err := r.host.SendISOTP(r.ctx, bus, id, uds.Encode(service, subFunction, params))
	if err != nil {
		r.logger.Warnf("[HOST] sendUDS %v failed : %v", uds.ServiceName(service), err)
	}
	return err
}

func (r *scriptRunner) SetFilter(kind filter.Kind, rng filter.Range) {
	r.updateFilters(func(id filter.ScriptID) { r.host.filters.Set(id, kind, rng) })
}

func (r *scriptRunner) AddFilter(kind filter.Kind, rng filter.Range) {
	r.updateFilters(func(id filter.ScriptID) { r.host.filters.Add(id, kind, rng) })
}

func (r *scriptRunner) ClearFilters(kind filter.Kind) {
	r.updateFilters(func(id filter.ScriptID) { r.host.filters.Clear(id, kind) })
}
