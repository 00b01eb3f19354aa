package forumauth

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Domain event types emitted by the engine. Downstream services (profile
// bootstrap, notifications, audit) subscribe through an EventSink.
const (
	EventUserRegistered     = "user.register"
	EventUserLoggedIn       = "user.login"
	EventUserLoggedOut      = "user.logout"
	EventUserPasswordChange = "user.password.change"
)

// Event is one domain event. ID is a UUID assigned at emission time so
// consumers can deduplicate redelivered events.
type Event struct {
	ID        string            `json:"event_id"`
	Type      string            `json:"event_type"`
	Timestamp time.Time         `json:"timestamp"`
	UserID    int64             `json:"user_id,omitempty"`
	Username  string            `json:"username,omitempty"`
	IP        string            `json:"ip,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// EventSink receives engine events. Emit runs on the dispatcher goroutine,
// never on a request path, so a slow sink delays delivery but not logins.
type EventSink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink discards every event.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink forwards events onto a buffered channel for in-process
// consumers, typically tests.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan Event, buffer)}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

// Events exposes the receive side of the sink.
func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line to an io.Writer. Useful
// for piping the event stream into a log shipper.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

func newEvent(eventType string, userID int64, username string) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now(),
		UserID:    userID,
		Username:  username,
	}
}
