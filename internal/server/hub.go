package server

import (
	"sync"
	"sync/atomic"

	"github.com/park285/cheese-analyzer/pkg/analysisdto"
)

const defaultMailboxSize = 32

// Hub fans events out to feed subscribers. Each subscriber owns a bounded
// mailbox. A slow reader loses its oldest events and never stalls Publish.
type Hub struct {
	mailboxSize int

	mu     sync.RWMutex
	subs   map[*Subscriber]struct{}
	closed bool
}

func NewHub(mailboxSize int) *Hub {
	if mailboxSize <= 0 {
		mailboxSize = defaultMailboxSize
	}
	return &Hub{mailboxSize: mailboxSize, subs: make(map[*Subscriber]struct{})}
}

type Subscriber struct {
	events  chan analysisdto.Event
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64
}

// Events delivers queued events in publish order.
func (s *Subscriber) Events() <-chan analysisdto.Event { return s.events }

// Done is closed when the subscriber is removed or the hub closes.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

func (s *Subscriber) Dropped() uint64 { return s.dropped.Load() }

func (s *Subscriber) offer(ev analysisdto.Event) {
	for {
		select {
		case s.events <- ev:
			return
		default:
		}
		// 가득 차면 가장 오래된 이벤트를 버린다.
		select {
		case <-s.events:
			s.dropped.Add(1)
			feedDropped.Inc()
		default:
		}
	}
}

func (s *Subscriber) stop() { s.once.Do(func() { close(s.done) }) }

// Subscribe returns nil once the hub is closed.
func (h *Hub) Subscribe() *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	sub := &Subscriber{
		events: make(chan analysisdto.Event, h.mailboxSize),
		done:   make(chan struct{}),
	}
	h.subs[sub] = struct{}{}
	feedSubscribers.Inc()
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		feedSubscribers.Dec()
	}
	h.mu.Unlock()
	sub.stop()
}

// Publish matches the service listener signature.
func (h *Hub) Publish(ev analysisdto.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		sub.offer(ev)
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		sub.stop()
		delete(h.subs, sub)
		feedSubscribers.Dec()
	}
}
