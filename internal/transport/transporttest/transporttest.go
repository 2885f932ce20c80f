// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package transporttest provides scripted drivers and recording listeners for
// tests of the selector and the drivers themselves.
package transporttest

import (
	"sync"
	"time"

	"github.com/ManuGH/nvrview/internal/transport"
)

// Event is one recorded listener call.
type Event struct {
	Type     string // "ready", "state", "failure"
	Handle   transport.MediaHandle
	State    transport.State
	Category transport.FailureCategory
	Err      error
}

// Recorder is a thread-safe Listener that records every call.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	notify chan Event
}

// NewRecorder returns a Recorder with a buffered notification channel.
func NewRecorder() *Recorder {
	return &Recorder{notify: make(chan Event, 64)}
}

func (r *Recorder) add(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	select {
	case r.notify <- e:
	default:
	}
}

func (r *Recorder) OnMediaReady(h transport.MediaHandle) { r.add(Event{Type: "ready", Handle: h}) }
func (r *Recorder) OnStateChange(s transport.State)      { r.add(Event{Type: "state", State: s}) }
func (r *Recorder) OnFailure(c transport.FailureCategory, err error) {
	r.add(Event{Type: "failure", Category: c, Err: err})
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// WaitFor blocks until an event of the given type arrives or timeout elapses.
func (r *Recorder) WaitFor(typ string, timeout time.Duration) (Event, bool) {
	deadline := time.After(timeout)
	for {
		select {
		case e := <-r.notify:
			if e.Type == typ {
				return e, true
			}
		case <-deadline:
			return Event{}, false
		}
	}
}

// Count returns how many events of typ were recorded.
func (r *Recorder) Count(typ string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

// Driver is a scripted transport.Driver. Tests trigger outcomes explicitly.
type Driver struct {
	kind transport.Kind

	mu           sync.Mutex
	listener     transport.Listener
	camera       string
	hint         transport.Hint
	connected    bool
	disconnected bool
	playerErrs   []error
}

// NewDriver returns a scripted driver of kind.
func NewDriver(kind transport.Kind) *Driver {
	return &Driver{kind: kind}
}

func (d *Driver) Kind() transport.Kind { return d.kind }

func (d *Driver) Connect(camera string, hint transport.Hint, l transport.Listener) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.disconnected {
		return transport.ErrDriverDead
	}
	if d.connected {
		return transport.ErrAlreadyConnected
	}
	d.connected = true
	d.camera = camera
	d.hint = hint
	d.listener = l
	return nil
}

func (d *Driver) Disconnect() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disconnected = true
}

// ReportPlayerError records player errors and classifies them as decode errors.
func (d *Driver) ReportPlayerError(err error) {
	d.mu.Lock()
	d.playerErrs = append(d.playerErrs, err)
	d.mu.Unlock()
	d.Fail(transport.DecodeError, err)
}

// Ready emits a media handle.
func (d *Driver) Ready() {
	l := d.currentListener()
	if l == nil {
		return
	}
	l.OnStateChange(transport.StateConnected)
	l.OnMediaReady(transport.MediaHandle{Kind: d.kind, URL: "test://" + string(d.kind) + "/" + d.camera})
}

// Fail emits a terminal failure.
func (d *Driver) Fail(c transport.FailureCategory, err error) {
	l := d.currentListener()
	if l == nil {
		return
	}
	l.OnStateChange(transport.StateDisconnected)
	l.OnFailure(c, err)
}

func (d *Driver) currentListener() transport.Listener {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.listener
}

// Live reports whether the driver is connected and not yet disconnected.
func (d *Driver) Live() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected && !d.disconnected
}

// Disconnected reports whether Disconnect was called.
func (d *Driver) Disconnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.disconnected
}

// Hint returns the hint passed to Connect.
func (d *Driver) Hint() transport.Hint {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hint
}

// Factory hands out scripted drivers and remembers every instance it built.
type Factory struct {
	mu      sync.Mutex
	created map[transport.Kind][]*Driver
	order   []transport.Kind
}

// NewFactory returns an empty Factory.
func NewFactory() *Factory {
	return &Factory{created: make(map[transport.Kind][]*Driver)}
}

// For returns a transport.Factory building drivers of kind.
func (f *Factory) For(kind transport.Kind) transport.Factory {
	return func() transport.Driver {
		d := NewDriver(kind)
		f.mu.Lock()
		f.created[kind] = append(f.created[kind], d)
		f.order = append(f.order, kind)
		f.mu.Unlock()
		return d
	}
}

// All returns factories for every kind in transport.DefaultOrder.
func (f *Factory) All() map[transport.Kind]transport.Factory {
	out := make(map[transport.Kind]transport.Factory, len(transport.DefaultOrder))
	for _, k := range transport.DefaultOrder {
		out[k] = f.For(k)
	}
	return out
}

// Latest returns the most recent driver built for kind.
func (f *Factory) Latest(kind transport.Kind) *Driver {
	f.mu.Lock()
	defer f.mu.Unlock()
	ds := f.created[kind]
	if len(ds) == 0 {
		return nil
	}
	return ds[len(ds)-1]
}

// Built returns the number of drivers built for kind.
func (f *Factory) Built(kind transport.Kind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created[kind])
}

// Order returns the kinds in the order drivers were built.
func (f *Factory) Order() []transport.Kind {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transport.Kind(nil), f.order...)
}

// LiveCount returns the number of drivers currently connected.
func (f *Factory) LiveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ds := range f.created {
		for _, d := range ds {
			if d.Live() {
				n++
			}
		}
	}
	return n
}
