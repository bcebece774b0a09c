package events

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Type is the kind of an authorization event.
type Type string

const (
	// TypeAuthCompleted is published after a callback bound a credential to the session.
	TypeAuthCompleted Type = "auth_completed"
	// TypeAuthFailed is published when a callback for a known state did not produce a credential.
	TypeAuthFailed Type = "auth_failed"
)

// DefaultBufferSize is the per-subscriber channel capacity.
const DefaultBufferSize = 8

// Event is the payload pushed to subscribers.
type Event struct {
	Type      Type      `json:"type"`
	SessionID string    `json:"session_id"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Recorder receives delivery statistics. *instrumentation.Metrics satisfies it.
type Recorder interface {
	RecordAuthEvent(ctx context.Context, eventType string, delivered bool)
}

type subscriber struct {
	ch chan Event
	// all is set for subscribers that receive every session's events.
	all bool
}

// Broker fans events out to subscribers of a session.
// Publish never blocks: when a subscriber's buffer is full the event is dropped for it.
type Broker struct {
	mu         sync.RWMutex
	topics     map[string]map[*subscriber]struct{}
	wildcard   map[*subscriber]struct{}
	bufferSize int
	recorder   Recorder
	logger     *slog.Logger
	closed     bool
}

// Option configures a Broker.
type Option func(*Broker)

// WithBufferSize sets the per-subscriber buffer.
func WithBufferSize(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// WithRecorder reports published and dropped events.
func WithRecorder(r Recorder) Option {
	return func(b *Broker) { b.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBroker creates an empty broker.
func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		topics:     make(map[string]map[*subscriber]struct{}),
		wildcard:   make(map[*subscriber]struct{}),
		bufferSize: DefaultBufferSize,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish delivers ev to every subscriber of ev.SessionID and to wildcard subscribers.
func (b *Broker) Publish(ctx context.Context, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for sub := range b.topics[ev.SessionID] {
		b.deliver(ctx, sub, ev)
	}
	for sub := range b.wildcard {
		b.deliver(ctx, sub, ev)
	}
}

func (b *Broker) deliver(ctx context.Context, sub *subscriber, ev Event) {
	delivered := true
	select {
	case sub.ch <- ev:
	default:
		delivered = false
		b.logger.Debug("Dropped auth event for slow subscriber",
			"type", string(ev.Type),
			"wildcard", sub.all)
	}
	if b.recorder != nil {
		b.recorder.RecordAuthEvent(ctx, string(ev.Type), delivered)
	}
}

// Subscribe returns a channel receiving events for sessionID and a cancel func
// that unsubscribes and closes the channel. Cancel is idempotent.
func (b *Broker) Subscribe(sessionID string) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, b.bufferSize)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	if b.topics[sessionID] == nil {
		b.topics[sessionID] = make(map[*subscriber]struct{})
	}
	b.topics[sessionID][sub] = struct{}{}
	b.mu.Unlock()

	return sub.ch, b.cancelFunc(func() {
		subs := b.topics[sessionID]
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.topics, sessionID)
		}
	}, sub)
}

// SubscribeAll returns a channel receiving the events of every session.
func (b *Broker) SubscribeAll() (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, b.bufferSize), all: true}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	b.wildcard[sub] = struct{}{}
	b.mu.Unlock()

	return sub.ch, b.cancelFunc(func() { delete(b.wildcard, sub) }, sub)
}

func (b *Broker) cancelFunc(remove func(), sub *subscriber) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if b.closed {
				return
			}
			remove()
			close(sub.ch)
		})
	}
}

// Subscribers returns the number of subscribers for sessionID.
func (b *Broker) Subscribers(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[sessionID])
}

// Close closes every subscriber channel. Later publishes are ignored.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, subs := range b.topics {
		for sub := range subs {
			close(sub.ch)
		}
	}
	for sub := range b.wildcard {
		close(sub.ch)
	}
	b.topics = nil
	b.wildcard = nil
}
