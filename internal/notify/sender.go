// Package notify turns auth events into outbound email.  Dispatch is
// fire-and-forget: Send never blocks the request and never reports
// delivery failures back to the caller.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/iliyamo/account-service/internal/logging"
	"github.com/iliyamo/account-service/internal/metrics"
	"github.com/iliyamo/account-service/internal/queue"
)

// Sender is what the auth and user services notify through.
type Sender interface {
	Send(ctx context.Context, msg queue.EmailMessage)
}

// Publisher hands a message to the transport (the AMQP publisher in production).
type Publisher interface {
	Publish(ctx context.Context, msg queue.EmailMessage) error
}

// AsyncSender buffers messages and publishes them from a single background
// worker.  When the buffer is full the message is dropped and logged.
type AsyncSender struct {
	pub     Publisher
	log     logging.Logger
	metrics *metrics.Metrics
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	ch     chan queue.EmailMessage
	done   chan struct{}
}

// NewAsyncSender starts the worker.  buffer < 1 is treated as 1.
func NewAsyncSender(pub Publisher, buffer int, log logging.Logger, m *metrics.Metrics) *AsyncSender {
	if buffer < 1 {
		buffer = 1
	}
	s := &AsyncSender{
		pub:     pub,
		log:     log,
		metrics: m,
		timeout: 10 * time.Second,
		ch:      make(chan queue.EmailMessage, buffer),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Send enqueues msg without waiting.  The request context is not carried
// into the worker; the publish outlives the request.
func (s *AsyncSender) Send(ctx context.Context, msg queue.EmailMessage) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.log.Warn(ctx, "notification dropped: sender closed", "kind", msg.Kind)
		s.metrics.ObserveNotification("dropped")
		return
	}
	select {
	case s.ch <- msg:
	default:
		s.log.Warn(ctx, "notification dropped: buffer full", "kind", msg.Kind)
		s.metrics.ObserveNotification("dropped")
	}
}

func (s *AsyncSender) run() {
	defer close(s.done)
	for msg := range s.ch {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		err := s.pub.Publish(ctx, msg)
		cancel()
		if err != nil {
			s.log.Warn(ctx, "notification publish failed", "kind", msg.Kind, "error", err)
			s.metrics.ObserveNotification("failed")
			continue
		}
		s.metrics.ObserveNotification("sent")
	}
}

// Close stops accepting messages and waits for the buffered ones to be
// published or ctx to expire.
func (s *AsyncSender) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
