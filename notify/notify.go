// Package notify carries progress and status events from the conversion
// pipeline to its observers. Producers publish through the Sink interface;
// the Bus is the default implementation, a bounded in-memory buffer with
// monotone sequence numbers so pollers and websocket subscribers can read
// incrementally without missing or duplicating events.
package notify

import (
	"sync"
	"time"
)

// Type classifies events emitted during queue and conversion work.
type Type string

const (
	TypeQueued    Type = "queued"
	TypeStarted   Type = "started"
	TypeProgress  Type = "progress"
	TypeCompleted Type = "completed"
	TypeFailed    Type = "failed"
	TypeRemoved   Type = "removed"
	TypeCancelled Type = "cancelled"
)

// Event is a sequenced payload consumed by subscribers.
type Event struct {
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Type      Type      `json:"type"`
	JobID     string    `json:"jobId,omitempty"`
	TaskID    string    `json:"taskId,omitempty"`
	Name      string    `json:"name,omitempty"`
	Status    string    `json:"status,omitempty"`
	Progress  int       `json:"progress,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// Sink receives events. Implementations must be safe for concurrent use
// and must not block the caller.
type Sink interface {
	Publish(Event) Event
}

// Discard is a Sink that drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Publish(e Event) Event { return e }

// Bus stores recent events and provides incremental reads.
type Bus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
}

// NewBus creates a bounded in-memory event buffer.
func NewBus(maxEvents int) *Bus {
	if maxEvents <= 0 {
		maxEvents = 500
	}
	return &Bus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
	}
}

// Publish appends one event and assigns sequence and timestamp.
func (b *Bus) Publish(event Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}

	return event
}

// Since returns events with sequence strictly greater than seq.
func (b *Bus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.events) == 0 {
		return nil
	}

	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}

// Fanout publishes every event to each of its sinks, in order. The event
// returned is the one produced by the first sink, which is expected to be
// the sequencing Bus.
type Fanout []Sink

func (f Fanout) Publish(event Event) Event {
	var first Event
	for i, s := range f {
		out := s.Publish(event)
		if i == 0 {
			first = out
		}
	}
	if len(f) == 0 {
		return event
	}
	return first
}
