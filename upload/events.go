package upload

import (
	"sync"
)

// EventType identifies a kind of upload event.
type EventType string

// Event types emitted during an upload session.
const (
	// EventAttempt fires right before a chunk request is sent.
	EventAttempt EventType = "attempt"

	// EventAttemptFailure fires after a transient chunk failure that will
	// be retried.
	EventAttemptFailure EventType = "attemptFailure"

	// EventError fires once when the upload fails for good.
	EventError EventType = "error"

	// EventOffline fires when connectivity is lost and sending stops.
	EventOffline EventType = "offline"

	// EventOnline fires when connectivity returns and sending resumes.
	EventOnline EventType = "online"

	// EventProgress fires after every successfully uploaded chunk.
	EventProgress EventType = "progress"

	// EventSuccess fires once when every byte has been uploaded.
	EventSuccess EventType = "success"
)

// Event is the payload delivered to handlers. Only the fields relevant to
// the event type are set.
type Event struct {
	Type EventType

	// ChunkNumber is the zero-based index of the chunk the event is about.
	ChunkNumber int

	// ChunkSize is the size of that chunk in bytes.
	ChunkSize int64

	// Message describes a failure.
	Message string

	// AttemptsLeft is the number of retries remaining for the chunk.
	AttemptsLeft int

	// Attempts is the number of attempts spent on the chunk.
	Attempts int

	// Percent is the rounded portion of the known bytes already uploaded.
	Percent int
}

// Handler receives events. Handlers run synchronously on the goroutine
// emitting the event, so they must not block for long.
type Handler func(Event)

type events struct {
	handlers map[EventType][]Handler
	mu       sync.RWMutex
}

func newEvents() *events {
	return &events{
		handlers: map[EventType][]Handler{},
	}
}

func (e *events) on(eventType EventType, handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[eventType] = append(e.handlers[eventType], handler)
}

func (e *events) emit(event Event) {
	e.mu.RLock()
	handlers := make([]Handler, len(e.handlers[event.Type]))
	copy(handlers, e.handlers[event.Type])
	e.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}
