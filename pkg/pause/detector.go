package pause

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BYTE-6D65/pausetimer/pkg/clock"
)

// Listener receives pause events. It runs on the detector's goroutine,
// concurrently with application goroutines, and must return quickly: the
// next probe does not start until every listener has returned.
type Listener func(pauseLength time.Duration, pauseEnd clock.MonoTime)

// ListenerID identifies a registered listener for removal.
type ListenerID uint64

// State is the lifecycle state of a detector.
type State int32

const (
	StateIdle State = iota
	StateProbing
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProbing:
		return "probing"
	case StateShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Detector notifies listeners of detected pauses.
type Detector interface {
	// AddListener registers l and returns an ID for RemoveListener
	AddListener(l Listener) ListenerID

	// RemoveListener unregisters a listener; unknown IDs are ignored
	RemoveListener(id ListenerID)

	// Config returns the normalized configuration the detector was built from
	Config() Config

	// State returns the current lifecycle state
	State() State

	// Shutdown stops probing; no events are delivered once it returns from
	// the probe in progress. Safe to call more than once
	Shutdown()
}

type listenerEntry struct {
	id ListenerID
	fn Listener
}

// listenerSet is a copy-on-write list: delivery reads it without locking.
type listenerSet struct {
	list   atomic.Pointer[[]listenerEntry]
	mu     sync.Mutex
	nextID ListenerID
}

func (s *listenerSet) add(fn Listener) ListenerID {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	entry := listenerEntry{id: s.nextID, fn: fn}

	var old []listenerEntry
	if p := s.list.Load(); p != nil {
		old = *p
	}
	next := make([]listenerEntry, len(old), len(old)+1)
	copy(next, old)
	next = append(next, entry)
	s.list.Store(&next)

	return entry.id
}

func (s *listenerSet) remove(id ListenerID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.list.Load()
	if p == nil {
		return
	}
	next := make([]listenerEntry, 0, len(*p))
	for _, e := range *p {
		if e.id != id {
			next = append(next, e)
		}
	}
	s.list.Store(&next)
}

func (s *listenerSet) snapshot() []listenerEntry {
	if p := s.list.Load(); p != nil {
		return *p
	}
	return nil
}

func (s *listenerSet) len() int {
	return len(s.snapshot())
}

// disabledDetector never probes. It is born in StateShutdown.
type disabledDetector struct {
	listeners listenerSet
}

// NewDisabled returns a detector that never reports pauses.
func NewDisabled() Detector {
	return &disabledDetector{}
}

func (d *disabledDetector) AddListener(l Listener) ListenerID { return d.listeners.add(l) }
func (d *disabledDetector) RemoveListener(id ListenerID)      { d.listeners.remove(id) }
func (d *disabledDetector) Config() Config                    { return Disabled() }
func (d *disabledDetector) State() State                      { return StateShutdown }
func (d *disabledDetector) Shutdown()                         {}
