// Package events is the in-process lifecycle bus. The plan and the adapter
// driver publish; loggers, metrics, the result store and reporters subscribe.
package events

import (
	"sync"
	"time"
)

// Kind names a lifecycle event.
type Kind string

const (
	RunStarted         Kind = "run.started"
	ExecutableStarted  Kind = "executable.started"
	ExecutableFinished Kind = "executable.finished"
	HookFailed         Kind = "hook.failed"
	RunFinished        Kind = "run.finished"
)

// Event carries the data subscribers need without exposing plan internals.
type Event struct {
	Kind Kind
	At   time.Time

	RunID string

	PickleID string
	URI      string
	Title    string
	Tags     []string
	Status   string
	Attempt  int
	Duration time.Duration
	Err      error

	HookPhase string
	HookName  string
	ScopePath string

	// Counts is set on RunFinished, keyed by status.
	Counts map[string]int
}

// Listener receives events. Listeners are called synchronously in
// subscription order and must not block.
type Listener interface {
	OnEvent(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

func (f ListenerFunc) OnEvent(e Event) { f(e) }

// Bus fans events out to listeners. A nil *Bus drops events.
type Bus struct {
	mu        sync.RWMutex
	listeners []subscription
	nextID    int
	now       func() time.Time
}

type subscription struct {
	id int
	l  Listener
}

func NewBus() *Bus {
	return &Bus{now: time.Now}
}

// Subscribe adds l and returns a function removing it.
func (b *Bus) Subscribe(l Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.listeners = append(b.listeners, subscription{id: id, l: l})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, existing := range b.listeners {
			if existing.id == id {
				b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
				return
			}
		}
	}
}

// Publish stamps e and delivers it to every listener.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.At.IsZero() {
		e.At = b.now()
	}
	b.mu.RLock()
	listeners := make([]subscription, len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.RUnlock()
	for _, s := range listeners {
		s.l.OnEvent(e)
	}
}
