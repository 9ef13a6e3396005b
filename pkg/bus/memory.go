package bus

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/oklog/ulid/v2"
)

// memoryQueueSize bounds each subscriber's backlog.
const memoryQueueSize = 256

// MemoryBus is an in-process MessageBus with NATS-style subject wildcards.
// Nothing is persisted, and a subscriber whose queue is full misses
// messages; Dropped counts them.
type MemoryBus struct {
	mu      sync.RWMutex
	subs    map[string]*memorySubscription
	closed  bool
	dropped atomic.Uint64
}

// NewMemoryBus creates an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]*memorySubscription)}
}

// Publish implements MessageBus. It never blocks on subscribers.
func (b *MemoryBus) Publish(_ context.Context, subject string, data []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	tokens := strings.Split(subject, ".")
	for _, sub := range b.subs {
		if !sub.pattern.match(tokens) {
			continue
		}
		msg := &Message{Subject: subject, Data: append([]byte(nil), data...)}
		select {
		case sub.queue <- msg:
		default:
			b.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe implements MessageBus. The handler runs on a goroutine owned by
// the subscription until Unsubscribe, Close or ctx ends it.
func (b *MemoryBus) Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	sub := &memorySubscription{
		id:      ulid.Make().String(),
		subject: subject,
		pattern: compilePattern(subject),
		queue:   make(chan *Message, memoryQueueSize),
		stop:    make(chan struct{}),
		handler: handler,
		bus:     b,
	}
	b.subs[sub.id] = sub
	go sub.run(ctx)
	return sub, nil
}

// Close ends every subscription. A second Close returns ErrClosed.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.closed = true
	for id, sub := range b.subs {
		sub.halt()
		delete(b.subs, id)
	}
	return nil
}

// Dropped reports how many deliveries were skipped because a subscriber's
// queue was full.
func (b *MemoryBus) Dropped() uint64 {
	return b.dropped.Load()
}

type memorySubscription struct {
	id       string
	subject  string
	pattern  subjectPattern
	queue    chan *Message
	stop     chan struct{}
	stopOnce sync.Once
	handler  MessageHandler
	bus      *MemoryBus
}

func (s *memorySubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
	s.halt()
	return nil
}

func (s *memorySubscription) Subject() string {
	return s.subject
}

func (s *memorySubscription) halt() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *memorySubscription) run(ctx context.Context) {
	for {
		select {
		case msg := <-s.queue:
			if s.handler != nil {
				s.handler(msg)
			}
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// subjectPattern is a dot-separated subject where "*" matches one token and
// a trailing ">" matches one or more.
type subjectPattern []string

func compilePattern(pattern string) subjectPattern {
	return strings.Split(pattern, ".")
}

func (p subjectPattern) match(tokens []string) bool {
	for i, part := range p {
		if part == ">" {
			return i < len(tokens)
		}
		if i >= len(tokens) {
			return false
		}
		if part != "*" && part != tokens[i] {
			return false
		}
	}
	return len(p) == len(tokens)
}

// matchSubject reports whether subject matches pattern.
func matchSubject(pattern, subject string) bool {
	return compilePattern(pattern).match(strings.Split(subject, "."))
}
