// Package upload implements a resumable chunked upload engine. Producers
// append blocks of bytes while a single send loop carves them into chunks,
// PUTs them in order and retries transient failures, reporting lifecycle
// events along the way.
package upload

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/google/uuid"

	"github.com/putstream/go-putstream/httprange"
	"github.com/putstream/go-putstream/upload/chunk"
	"github.com/putstream/go-putstream/upload/network"
)

// ErrAlreadyStarted is returned by Start when the send loop is already
// running.
var ErrAlreadyStarted = errors.New("upload already started")

// dataPollInterval is how long the send loop sleeps between chunk selection
// attempts when not enough data has arrived yet. Appends wake it earlier.
const dataPollInterval = time.Second

// Upload is a single resumable upload session. Create one with New, feed
// it with AddChunk and Finish, and watch it through events or Done.
//
// The session is terminal once Done is closed: after a success event, a
// fatal error event, or a failed endpoint resolution.
type Upload struct {
	id        string
	config    Config
	transport network.Transport
	logger    log.Logger

	source chunk.ByteSource
	events *events
	stats  *Stats

	maxChunkBytes int64
	endpoint      string

	// wake nudges the send loop out of its poll sleep and gate waits
	wake chan struct{}
	done chan struct{}

	mu         sync.Mutex
	started    bool
	paused     bool
	offline    bool
	cursor     int64
	terminated bool
	err        error

	// send-loop state, only the loop goroutine touches these
	chunkIndex int
	retry      retryPolicy
}

// New creates an Upload with the given configuration.
func New(config Config) (*Upload, error) {
	logger := config.Logger
	if logger == nil {
		logger = log.NewLogger()
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	transport := config.Transport
	if transport == nil {
		transport = network.NewHTTPTransport(nil, logger)
	}

	// Headers are used from the send loop, keep a private copy
	headers := make(map[string]string, len(config.Headers))
	for k, v := range config.Headers {
		headers[k] = v
	}
	config.Headers = headers

	return &Upload{
		id:            uuid.New().String(),
		config:        config,
		transport:     transport,
		logger:        logger,
		source:        chunk.NewSource(),
		events:        newEvents(),
		stats:         NewStats(),
		maxChunkBytes: config.MaxChunkSizeKB * 1024,
		wake:          make(chan struct{}, 1),
		done:          make(chan struct{}),
		retry:         retryPolicy{allowed: config.Attempts},
	}, nil
}

// Start resolves the endpoint and launches the send loop. Canceling ctx
// aborts the session for good.
//
// When the Resolver fails, the upload never starts: the session turns
// terminal and the error is returned here instead of through an error
// event.
func (u *Upload) Start(ctx context.Context) error {
	u.mu.Lock()
	if u.started {
		u.mu.Unlock()
		return ErrAlreadyStarted
	}
	u.started = true
	u.mu.Unlock()

	endpoint := u.config.Endpoint
	if u.config.Resolver != nil {
		resolved, err := u.config.Resolver.Resolve(ctx)
		if err != nil {
			err = fmt.Errorf("resolve upload endpoint: %w", err)
			u.terminate(err)
			return err
		}
		endpoint = resolved
	}
	u.endpoint = endpoint

	u.logger.Debugf("Starting upload %s to %s", u.id, endpoint)

	go u.run(ctx)

	return nil
}

// AddChunk appends a block of bytes to the upload. Blocks may have any
// size, the engine re-chunks them internally. Returns
// chunk.ErrSourceCompleted after Finish.
func (u *Upload) AddChunk(data []byte) error {
	if err := u.source.Append(data); err != nil {
		return err
	}
	u.signal()
	return nil
}

// Finish marks the byte stream complete so the engine can send the final
// short chunk and succeed. Further AddChunk calls fail. Finish is
// idempotent.
func (u *Upload) Finish() {
	u.source.Finish()
	u.signal()
}

// Pause stops sending new chunks until Resume. A request already in flight
// is left to finish, but its result is thrown away.
func (u *Upload) Pause() {
	u.mu.Lock()
	u.paused = true
	u.mu.Unlock()
	u.logger.Debugf("Upload %s paused", u.id)
}

// Resume continues sending after Pause.
func (u *Upload) Resume() {
	u.mu.Lock()
	if !u.paused {
		u.mu.Unlock()
		return
	}
	u.paused = false
	u.mu.Unlock()
	u.logger.Debugf("Upload %s resumed", u.id)
	u.signal()
}

// SetOnline feeds connectivity changes into the engine, typically wired to
// a connectivity.Watcher. While offline the engine keeps accumulating data
// but stops sending. Only actual transitions emit online/offline events.
func (u *Upload) SetOnline(online bool) {
	offline := !online
	u.mu.Lock()
	if u.offline == offline {
		u.mu.Unlock()
		return
	}
	u.offline = offline
	u.mu.Unlock()

	if online {
		u.logger.Infof("Connection is back, resuming upload %s", u.id)
		u.events.emit(Event{Type: EventOnline})
		u.signal()
	} else {
		u.logger.Warnf("Connection lost, holding back upload %s", u.id)
		u.events.emit(Event{Type: EventOffline})
	}
}

// On registers a handler for an event type. Handlers run synchronously on
// the goroutine emitting the event.
func (u *Upload) On(eventType EventType, handler Handler) {
	u.events.on(eventType, handler)
}

// Done returns a channel that is closed once the session is terminal.
func (u *Upload) Done() <-chan struct{} {
	return u.done
}

// Err returns the terminal error. It is nil while the upload is running
// and after success.
func (u *Upload) Err() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.err
}

// Offset returns the number of bytes acknowledged by the server so far.
func (u *Upload) Offset() int64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.cursor
}

// Stats returns the upload statistics.
func (u *Upload) Stats() *Stats {
	return u.stats
}

// ID returns the unique id of the session.
func (u *Upload) ID() string {
	return u.id
}

func (u *Upload) signal() {
	select {
	case u.wake <- struct{}{}:
	default:
	}
}

type spanState int

const (
	spanReady spanState = iota
	spanFinished
	spanCanceled
)

type sendOutcome int

const (
	sendAdvanced sendOutcome = iota
	sendDiscarded
	sendTerminal
)

func (u *Upload) run(ctx context.Context) {
	for {
		if err := u.awaitSendable(ctx); err != nil {
			u.failCanceled(err)
			return
		}

		span, state := u.awaitSpan(ctx)
		switch state {
		case spanFinished:
			u.succeed()
			return
		case spanCanceled:
			u.failCanceled(ctx.Err())
			return
		}

		if u.sendSpan(ctx, span) == sendTerminal {
			return
		}
	}
}

// awaitSendable blocks while the upload is paused or offline.
func (u *Upload) awaitSendable(ctx context.Context) error {
	for {
		u.mu.Lock()
		blocked := u.paused || u.offline
		u.mu.Unlock()
		if !blocked {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-u.wake:
		}
	}
}

// awaitSpan selects the next chunk, waiting for more data to be appended
// when the pending bytes don't fill one yet.
func (u *Upload) awaitSpan(ctx context.Context) (chunk.Span, spanState) {
	for {
		cursor := u.Offset()
		// Completed is read before Size. A completed source's size is
		// frozen, so the pair stays consistent while a producer appends
		// and finishes concurrently.
		completed := u.source.Completed()
		size := u.source.Size()
		span, ok := chunk.Next(size, completed, cursor, u.maxChunkBytes)
		if ok {
			return span, spanReady
		}
		if completed && cursor >= size {
			return chunk.Span{}, spanFinished
		}

		select {
		case <-ctx.Done():
			return chunk.Span{}, spanCanceled
		case <-u.wake:
		case <-time.After(dataPollInterval):
		}
	}
}

// sendSpan uploads one span, retrying transient failures in place, until
// the chunk is acknowledged, its result discarded, or the session is over.
func (u *Upload) sendSpan(ctx context.Context, span chunk.Span) sendOutcome {
	for {
		if err := u.awaitSendable(ctx); err != nil {
			u.failCanceled(err)
			return sendTerminal
		}

		u.events.emit(Event{
			Type:        EventAttempt,
			ChunkNumber: u.chunkIndex,
			ChunkSize:   span.Length(),
		})

		u.logger.Debugf("Uploading chunk %d (%s, attempt %d/%d) [finished=%d] [avg=%v]",
			u.chunkIndex+1, units.HumanSizeWithPrecision(float64(span.Length()), 3),
			u.retry.count()+1, u.config.Attempts,
			u.stats.FinishedCount(), u.stats.Average().Round(time.Millisecond))

		start := time.Now()
		status, err := u.transport.Do(ctx, network.ChunkRequest{
			Endpoint: u.endpoint,
			Headers:  u.config.Headers,
			Index:    u.chunkIndex,
			Body:     u.source.Slice(span.Start, span.End),
			Range:    u.contentRange(span),
		})

		if ctx.Err() != nil {
			u.failCanceled(ctx.Err())
			return sendTerminal
		}

		if u.gated() {
			// The gate flipped mid-flight, drop the result without touching
			// the retry budget
			u.logger.Debugf("Discarding result of chunk %d", u.chunkIndex+1)
			return sendDiscarded
		}

		if err == nil && isSuccessStatus(status) {
			u.advance(span, time.Since(start))
			return sendAdvanced
		}

		message := failureMessage(status, err)

		if err == nil && !isTransientStatus(status) {
			u.fail(message, u.retry.count()+1)
			return sendTerminal
		}

		left, retriable := u.retry.onFailure()
		if !retriable {
			u.fail(message, u.retry.count())
			return sendTerminal
		}

		u.events.emit(Event{
			Type:         EventAttemptFailure,
			ChunkNumber:  u.chunkIndex,
			ChunkSize:    span.Length(),
			Message:      message,
			AttemptsLeft: left,
		})
		u.logger.Warnf("Chunk %d attempt %d failed: %s", u.chunkIndex+1, u.retry.count(), message)

		if err := u.sleep(ctx, u.config.DelayBeforeAttempt); err != nil {
			u.failCanceled(err)
			return sendTerminal
		}
	}
}

// contentRange frames a span for the wire. The total stays unknown until
// the final chunk of a finished source, since the source may still grow.
func (u *Upload) contentRange(span chunk.Span) httprange.ContentRange {
	total := httprange.SizeUnknown
	if u.source.Completed() && span.End == u.source.Size() {
		total = u.source.Size()
	}
	return httprange.ContentRange{Start: span.Start, End: span.End - 1, Total: total}
}

// advance acknowledges a chunk: moves the cursor, refills the retry budget
// and reports progress against the bytes known so far.
func (u *Upload) advance(span chunk.Span, took time.Duration) {
	u.mu.Lock()
	u.cursor = span.End
	cursor := u.cursor
	u.mu.Unlock()

	u.stats.Update(span.Length(), took)

	index := u.chunkIndex
	u.chunkIndex++
	u.retry.reset()

	u.logger.Debugf("Chunk %d uploaded in %v", index+1, took.Round(time.Millisecond))

	total := u.source.Size()
	percent := 0
	if total > 0 {
		percent = int(math.Round(float64(cursor) / float64(total) * 100))
	}
	u.events.emit(Event{
		Type:        EventProgress,
		ChunkNumber: index,
		ChunkSize:   span.Length(),
		Percent:     percent,
	})
}

func (u *Upload) succeed() {
	u.events.emit(Event{Type: EventSuccess})
	u.logger.Donef("Upload %s finished: %s in %d chunks",
		u.id, units.HumanSizeWithPrecision(float64(u.source.Size()), 3), u.stats.FinishedCount())
	u.terminate(nil)
}

// fail makes the session terminal after a chunk could not be delivered.
func (u *Upload) fail(message string, attempts int) {
	u.events.emit(Event{
		Type:        EventError,
		ChunkNumber: u.chunkIndex,
		Message:     message,
		Attempts:    attempts,
	})
	u.logger.Errorf("Upload %s failed at chunk %d: %s", u.id, u.chunkIndex+1, message)
	u.terminate(fmt.Errorf("upload chunk %d: %s", u.chunkIndex+1, message))
}

func (u *Upload) failCanceled(err error) {
	message := fmt.Sprintf("upload canceled: %s", err)
	u.events.emit(Event{
		Type:        EventError,
		ChunkNumber: u.chunkIndex,
		Message:     message,
		Attempts:    u.retry.count(),
	})
	u.logger.Errorf("Upload %s canceled: %s", u.id, err)
	u.terminate(fmt.Errorf("upload canceled: %w", err))
}

func (u *Upload) terminate(err error) {
	u.mu.Lock()
	if u.terminated {
		u.mu.Unlock()
		return
	}
	u.terminated = true
	u.err = err
	u.mu.Unlock()
	close(u.done)
}

func (u *Upload) gated() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.paused || u.offline
}

// sleep waits the fixed retry delay, honoring cancellation.
func (u *Upload) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func failureMessage(status int, err error) string {
	if err != nil {
		return err.Error()
	}
	return fmt.Sprintf("HTTP %d", status)
}

// isSuccessStatus reports whether the server acknowledged a chunk. 308 is
// how resumable endpoints ask for the next chunk.
func isSuccessStatus(status int) bool {
	switch status {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusNoContent, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// isTransientStatus reports whether a failed chunk may be retried.
// Anything else means the server will never accept this chunk.
func isTransientStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}
