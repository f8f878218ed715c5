package watch

import (
	"log/slog"
	"sync"
	"time"
)

// State is the debounce state of a single path.
type State int

// Debounce states. A path is Idle until its first notification, Pending
// while its quiet-period timer runs, and Firing while its event is being
// delivered. Delivery returns the path to Idle.
const (
	Idle State = iota
	Pending
	Firing
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Firing:
		return "firing"
	default:
		return "idle"
	}
}

type pathEntry struct {
	state State
	event ChangeEvent
	timer *time.Timer
	gen   uint64
}

// Debouncer coalesces rapid events per path. Each path fires once after
// interval of quiet, carrying the most recent kind seen.
type Debouncer struct {
	interval time.Duration
	emit     func(ChangeEvent)

	mu      sync.Mutex
	entries map[string]*pathEntry
	stopped bool
	firing  sync.WaitGroup
}

// NewDebouncer creates a debouncer that waits for interval of quiet on a
// path before calling emit with that path's latest event.
func NewDebouncer(interval time.Duration, emit func(ChangeEvent)) *Debouncer {
	return &Debouncer{
		interval: interval,
		emit:     emit,
		entries:  make(map[string]*pathEntry),
	}
}

// Trigger records an event. A Pending path has its event replaced and its
// timer restarted; an Idle path becomes Pending.
func (d *Debouncer) Trigger(ev ChangeEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	e, ok := d.entries[ev.Path]
	if !ok {
		e = &pathEntry{}
		d.entries[ev.Path] = e
	}

	if e.timer != nil {
		e.timer.Stop()
	}

	e.state = Pending
	e.event = ev
	e.gen++

	gen := e.gen
	path := ev.Path

	e.timer = time.AfterFunc(d.interval, func() { d.fire(path, gen) })
}

// State returns the current debounce state of path.
func (d *Debouncer) State(path string) State {
	d.mu.Lock()
	defer d.mu.Unlock()

	if e, ok := d.entries[path]; ok {
		return e.state
	}

	return Idle
}

func (d *Debouncer) fire(path string, gen uint64) {
	d.mu.Lock()

	e, ok := d.entries[path]
	if d.stopped || !ok || e.gen != gen {
		// Superseded by a later Trigger or cancelled by Stop.
		d.mu.Unlock()
		return
	}

	e.state = Firing
	e.timer = nil
	ev := e.event
	d.firing.Add(1)
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		if cur, ok := d.entries[path]; ok && cur.gen == gen {
			delete(d.entries, path)
		}
		d.mu.Unlock()

		d.firing.Done()
	}()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("debouncer callback panicked", slog.Any("error", r))
		}
	}()

	d.emit(ev)
}

// Stop cancels all pending events and waits for in-flight deliveries to
// return. Later Triggers are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	d.stopped = true

	for path, e := range d.entries {
		if e.timer != nil {
			e.timer.Stop()
		}

		if e.state == Pending {
			delete(d.entries, path)
		}
	}
	d.mu.Unlock()

	d.firing.Wait()
}
