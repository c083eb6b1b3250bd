package agent

import (
	"sync"
	"time"
)

// EventType tags a lifecycle event. The set is open; consumers must ignore
// types they do not recognize.
type EventType string

const (
	EventRunStart    EventType = "run_start"
	EventToolCall    EventType = "tool_call"
	EventRunComplete EventType = "run_complete"
	EventError       EventType = "error"
)

// Event is one lifecycle record in a runner's in-memory log.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Context   *InvocationContext     `json:"context,omitempty"`
}

// Subscriber receives every emitted event synchronously.
type Subscriber func(Event)

type subscription struct {
	id int
	fn Subscriber
}

// Recorder is an append-only in-memory event log scoped to one runner
// instance. Subscribers are invoked synchronously in registration order on
// every append, so events are visible before Run returns.
type Recorder struct {
	mu        sync.Mutex
	events    []Event
	maxEvents int
	lastStamp time.Time

	subscribers []subscription
	nextSubID   int
}

// NewRecorder creates a recorder. maxEvents caps the log when positive; the
// oldest events are dropped once the cap is exceeded.
func NewRecorder(maxEvents int) *Recorder {
	return &Recorder{maxEvents: maxEvents}
}

// Append stamps and stores an event, delivers it to subscribers, and returns
// the stamped copy.
func (r *Recorder) Append(event Event) Event {
	r.mu.Lock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	// Keep log timestamps strictly increasing even on coarse clocks.
	if !event.Timestamp.After(r.lastStamp) {
		event.Timestamp = r.lastStamp.Add(time.Nanosecond)
	}
	r.lastStamp = event.Timestamp

	r.events = append(r.events, event)
	if r.maxEvents > 0 && len(r.events) > r.maxEvents {
		r.events = r.events[len(r.events)-r.maxEvents:]
	}

	subs := make([]subscription, len(r.subscribers))
	copy(subs, r.subscribers)
	r.mu.Unlock()

	for _, sub := range subs {
		sub.fn(event)
	}
	return event
}

// Events returns a copy of the full event log.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Subscribe registers a subscriber and returns its removal function.
func (r *Recorder) Subscribe(fn Subscriber) func() {
	r.mu.Lock()
	id := r.nextSubID
	r.nextSubID++
	r.subscribers = append(r.subscribers, subscription{id: id, fn: fn})
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, sub := range r.subscribers {
			if sub.id == id {
				r.subscribers = append(r.subscribers[:i], r.subscribers[i+1:]...)
				return
			}
		}
	}
}
