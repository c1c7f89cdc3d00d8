// Package notify delivers escalation and reassignment notifications to
// the admin-facing collaborator. The production sink publishes to a
// RabbitMQ topic exchange; a log sink stands in when no broker is
// configured.
package notify

import (
	"context"
	"log"
	"sync"
	"time"
)

// Notification is the payload accepted by the admin-facing collaborator.
type Notification struct {
	Type     string         `json:"type"`
	Message  string         `json:"message"`
	Priority string         `json:"priority"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Sink accepts notifications. Publish must be safe for concurrent use.
type Sink interface {
	Publish(ctx context.Context, n Notification) error
	Close() error
}

// LogSink writes notifications to the process log. Used when no AMQP
// broker is configured.
type LogSink struct {
	logger *log.Logger
}

// NewLogSink creates a log-backed sink.
func NewLogSink(logger *log.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Publish(_ context.Context, n Notification) error {
	s.logger.Printf("%s INFO notify: type=%s priority=%s message=%q",
		time.Now().UTC().Format(time.RFC3339), n.Type, n.Priority, n.Message)
	return nil
}

func (s *LogSink) Close() error {
	return nil
}

// CaptureSink records published notifications for test assertions.
type CaptureSink struct {
	mu            sync.Mutex
	notifications []Notification
}

// NewCaptureSink creates an empty capture sink.
func NewCaptureSink() *CaptureSink {
	return &CaptureSink{}
}

func (s *CaptureSink) Publish(_ context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, n)
	return nil
}

func (s *CaptureSink) Close() error {
	return nil
}

// Published returns a copy of the captured notifications.
func (s *CaptureSink) Published() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Notification, len(s.notifications))
	copy(out, s.notifications)
	return out
}
