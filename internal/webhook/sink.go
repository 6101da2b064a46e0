package webhook

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/park285/cheese-analyzer/pkg/analysisdto"
)

const defaultSinkBuffer = 128

// Sink forwards events to a Client from its own goroutine so callers never
// wait on the network. Events arriving while the buffer is full are dropped.
type Sink struct {
	client *Client
	logger *zap.Logger
	types  map[analysisdto.EventType]struct{}

	events    chan analysisdto.Event
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewSink starts the delivery loop. With no types every event is sent.
func NewSink(client *Client, logger *zap.Logger, types ...analysisdto.EventType) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sink{
		client: client,
		logger: logger,
		events: make(chan analysisdto.Event, defaultSinkBuffer),
		done:   make(chan struct{}),
	}
	if len(types) > 0 {
		s.types = make(map[analysisdto.EventType]struct{}, len(types))
		for _, t := range types {
			s.types[t] = struct{}{}
		}
	}
	go s.loop()
	return s
}

// Handle matches the service listener signature.
func (s *Sink) Handle(ev analysisdto.Event) {
	if s.types != nil {
		if _, ok := s.types[ev.Type]; !ok {
			return
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("webhook_dropped", zap.String("type", string(ev.Type)))
	}
}

func (s *Sink) loop() {
	defer close(s.done)
	for ev := range s.events {
		if err := s.client.Post(context.Background(), ev); err != nil {
			s.logger.Warn("webhook_failed",
				zap.String("type", string(ev.Type)),
				zap.String("request_id", ev.RequestID),
				zap.Error(err))
		}
	}
}

// Close flushes buffered events until ctx is done.
func (s *Sink) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()
	})
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
