// Package bus fans pipeline output out to its consumers: the websocket
// hub, the MJPEG stream, the persistence writer and the notifier.
package bus

import (
	"sync"
	"time"

	"lintas/internal/counting"
)

// Kind selects which pipeline events a subscription receives.
type Kind string

const (
	// KindFrame carries an annotated JPEG.
	KindFrame Kind = "frame"
	// KindCounts carries a counts snapshot plus the events added since
	// the last snapshot.
	KindCounts Kind = "counts"
	// KindStatus carries worker lifecycle changes.
	KindStatus Kind = "status"
)

// Status values carried by KindStatus events.
const (
	StatusRunning = "running"
	StatusStopped = "stopped"
	StatusFailed  = "failed"
)

// Event is one pipeline occurrence.
type Event struct {
	Kind      Kind
	Time      time.Time
	Seq       int
	Frame     []byte
	Counts    counting.Counts
	NewEvents []counting.CountEvent
	Status    string
	Err       string
}

// NewFrameEvent builds a frame event.
func NewFrameEvent(seq int, jpeg []byte) *Event {
	return &Event{Kind: KindFrame, Time: time.Now(), Seq: seq, Frame: jpeg}
}

// NewCountsEvent builds a counts event.
func NewCountsEvent(counts counting.Counts, newEvents []counting.CountEvent) *Event {
	return &Event{Kind: KindCounts, Time: time.Now(), Counts: counts, NewEvents: newEvents}
}

// NewStatusEvent builds a status event. errMsg is empty unless the
// status is a failure.
func NewStatusEvent(status, errMsg string) *Event {
	return &Event{Kind: KindStatus, Time: time.Now(), Status: status, Err: errMsg}
}

// Handler receives events synchronously on the publisher's goroutine.
type Handler interface {
	OnPipelineEvent(*Event)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(*Event)

// OnPipelineEvent implements Handler.
func (f HandlerFunc) OnPipelineEvent(e *Event) { f(e) }

// Bus provides pub/sub for pipeline events.
type Bus struct {
	subscribers map[*subscription]bool
	mu          sync.RWMutex
}

type subscription struct {
	kindFilter Kind // empty means receive all kinds
	channel    chan *Event
	handler    Handler
}

// New creates an event bus.
func New() *Bus {
	return &Bus{
		subscribers: make(map[*subscription]bool),
	}
}

// Subscribe registers a handler for all events.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(handler Handler) func() {
	return b.add(&subscription{handler: handler})
}

// SubscribeKind registers a handler for one event kind.
// Returns an unsubscribe function.
func (b *Bus) SubscribeKind(kind Kind, handler Handler) func() {
	return b.add(&subscription{kindFilter: kind, handler: handler})
}

func (b *Bus) add(sub *subscription) func() {
	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subscribers, sub)
		b.mu.Unlock()
	}
}

// SubscribeChannel returns a buffered channel receiving all events and
// an unsubscribe function. Delivery to a full channel is skipped.
func (b *Bus) SubscribeChannel(bufferSize int) (<-chan *Event, func()) {
	return b.addChannel("", bufferSize)
}

// SubscribeKindChannel is SubscribeChannel filtered to one event kind.
func (b *Bus) SubscribeKindChannel(kind Kind, bufferSize int) (<-chan *Event, func()) {
	return b.addChannel(kind, bufferSize)
}

func (b *Bus) addChannel(kind Kind, bufferSize int) (<-chan *Event, func()) {
	if bufferSize <= 0 {
		bufferSize = 10
	}

	ch := make(chan *Event, bufferSize)
	sub := &subscription{kindFilter: kind, channel: ch}

	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if _, ok := b.subscribers[sub]; ok {
			delete(b.subscribers, sub)
			close(ch)
		}
		b.mu.Unlock()
	}

	return ch, unsubscribe
}

// Publish sends an event to all matching subscribers.
// Handlers run synchronously so frame and count ordering is preserved;
// channel subscribers that cannot keep up lose events instead of
// blocking the pipeline.
func (b *Bus) Publish(e *Event) {
	if e == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		if sub.kindFilter != "" && sub.kindFilter != e.Kind {
			continue
		}

		if sub.handler != nil {
			sub.handler.OnPipelineEvent(e)
		} else if sub.channel != nil {
			select {
			case sub.channel <- e:
			default:
			}
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close unsubscribes all subscribers and closes their channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		if sub.channel != nil {
			close(sub.channel)
		}
		delete(b.subscribers, sub)
	}
}
