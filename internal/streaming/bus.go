// Package streaming is the in-process pub/sub bus for pipeline events. The
// websocket handler subscribes per session; the pipeline publishes one event
// per stage transition. A small per-session ring buffer supports replay for
// late subscribers.
package streaming

import (
	"encoding/json"
	"sync"
	"time"
)

// Event types published by the pipeline.
const (
	TypeStageStarted      = "stage.started"
	TypeStageCompleted    = "stage.completed"
	TypePipelineCompleted = "pipeline.completed"
	TypePipelineRejected  = "pipeline.rejected"
)

// Event is one pipeline progress notification.
type Event struct {
	SessionID string    `json:"session_id"`
	Type      string    `json:"type"`
	Stage     string    `json:"stage,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Seq       uint64    `json:"seq"`
}

// Marshal returns the event as JSON for the websocket frame.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Bus fans events out to per-session subscribers. Slow subscribers drop
// events rather than blocking the pipeline.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	history     map[string]*ring
	capacity    int
}

// NewBus builds a bus whose per-session replay buffer holds capacity events.
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 64
	}
	return &Bus{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
	}
}

// Subscribe registers a channel for one session's events. The caller must
// drain it and call Unsubscribe when done.
func (b *Bus) Subscribe(sessionID string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[sessionID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		b.subscribers[sessionID] = subs
	}
	subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes the channel.
func (b *Bus) Unsubscribe(sessionID string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.subscribers[sessionID]; ok {
		if _, member := subs[ch]; member {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(b.subscribers, sessionID)
		}
	}
}

// Publish stamps the event with a sequence number, records it for replay and
// delivers it to current subscribers without blocking.
func (b *Bus) Publish(sessionID string, evt Event) {
	evt.SessionID = sessionID
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.mu.Lock()
	rg := b.history[sessionID]
	if rg == nil {
		rg = newRing(b.capacity)
		b.history[sessionID] = rg
	}
	evt.Seq = rg.nextSeq
	rg.nextSeq++
	rg.push(evt)
	subs := b.subscribers[sessionID]
	b.mu.Unlock()

	for ch := range subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// ReplaySince returns recorded events with Seq > since, best effort within
// the ring capacity.
func (b *Bus) ReplaySince(sessionID string, since uint64) []Event {
	b.mu.RLock()
	rg := b.history[sessionID]
	b.mu.RUnlock()
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// Forget drops a session's replay history, called when the session is
// cleared or evicted.
func (b *Bus) Forget(sessionID string) {
	b.mu.Lock()
	delete(b.history, sessionID)
	b.mu.Unlock()
}

type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring { return &ring{buf: make([]Event, capacity)} }

func (r *ring) push(e Event) {
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	var out []Event
	for i := 0; i < r.count; i++ {
		e := r.buf[(r.start+i)%len(r.buf)]
		if e.Seq > seq {
			out = append(out, e)
		}
	}
	return out
}
