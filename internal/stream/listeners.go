package stream

import (
	"sync"
	"time"

	"stemwatch/internal/progress"
)

// EventType selects which listeners an Event is delivered to.
type EventType int

const (
	EventConnected EventType = iota
	EventProgress
	EventCompleted
	EventError
	EventEnd
	// EventMessage carries every delivered frame, including info,
	// warning and undecodable ones.
	EventMessage
	EventReconnecting
	EventState
	EventClosed
)

func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "connected"
	case EventProgress:
		return "progress"
	case EventCompleted:
		return "completed"
	case EventError:
		return "error"
	case EventEnd:
		return "end"
	case EventMessage:
		return "message"
	case EventReconnecting:
		return "reconnecting"
	case EventState:
		return "state"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is what listeners receive. Message is set for frame-driven events;
// Attempt and Delay for EventReconnecting; State and Prev for EventState.
// Err is set for decode failures and for the terminal reconnection error.
type Event struct {
	Type    EventType
	JobID   string
	Message progress.Message
	Attempt int
	Delay   time.Duration
	State   State
	Prev    State
	Err     error
}

// Listener handles one event. It runs on the session's event loop.
type Listener func(Event)

// ListenerID identifies one registration for removal.
type ListenerID uint64

type registration struct {
	id ListenerID
	fn Listener
}

// listenerSet is copy-on-iterate: dispatch works on a snapshot so listeners
// may register or unregister while being called.
type listenerSet struct {
	mu     sync.Mutex
	nextID ListenerID
	byType map[EventType][]registration
}

func newListenerSet() *listenerSet {
	return &listenerSet{byType: make(map[EventType][]registration)}
}

func (l *listenerSet) add(t EventType, fn Listener) ListenerID {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	id := l.nextID
	// Fresh slice so snapshots already handed out never see the append.
	cur := l.byType[t]
	next := make([]registration, len(cur), len(cur)+1)
	copy(next, cur)
	l.byType[t] = append(next, registration{id: id, fn: fn})
	return id
}

func (l *listenerSet) remove(t EventType, id ListenerID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur := l.byType[t]
	for i, r := range cur {
		if r.id != id {
			continue
		}
		next := make([]registration, 0, len(cur)-1)
		next = append(next, cur[:i]...)
		next = append(next, cur[i+1:]...)
		l.byType[t] = next
		return true
	}
	return false
}

func (l *listenerSet) snapshot(t EventType) []registration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.byType[t]
}

func (l *listenerSet) count(t EventType) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byType[t])
}
