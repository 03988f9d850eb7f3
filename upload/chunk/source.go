// Package chunk provides the byte accumulator and chunk selection rules for
// resumable uploads. Data is appended in arbitrary-sized blocks and carved
// into upload chunks aligned to a fixed granularity.
package chunk

import (
	"errors"
	"sync"
)

// MinChunkBytes is the chunk granularity. Every chunk except the final one
// of a finished source covers a multiple of this many bytes.
const MinChunkBytes int64 = 256 << 10

// ErrSourceCompleted is returned when data is appended after Finish.
var ErrSourceCompleted = errors.New("source is already completed")

// ByteSource is an append-only byte accumulator with random read access.
// Implementations must be safe for a producer appending while a consumer
// reads.
type ByteSource interface {
	// Append adds a block of bytes to the end of the source.
	Append(data []byte) error

	// Finish marks the source complete. No further appends are accepted.
	Finish()

	// Size returns the number of bytes accumulated so far.
	Size() int64

	// Completed reports whether Finish has been called.
	Completed() bool

	// Slice returns a copy of the bytes in [start, end).
	Slice(start, end int64) []byte
}

// Source is an in-memory ByteSource.
type Source struct {
	buf       []byte
	completed bool
	mu        sync.RWMutex
}

// NewSource creates an empty Source.
func NewSource() *Source {
	return &Source{}
}

// Append adds a block of bytes to the end of the source.
// Returns ErrSourceCompleted after Finish has been called.
func (s *Source) Append(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.completed {
		return ErrSourceCompleted
	}

	// Copy the data to avoid issues with buffer reuse by the producer
	s.buf = append(s.buf, data...)

	return nil
}

// Finish marks the source complete. Calling it again has no effect.
func (s *Source) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = true
}

// Size returns the number of bytes accumulated so far.
func (s *Source) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.buf))
}

// Completed reports whether Finish has been called.
func (s *Source) Completed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.completed
}

// Slice returns a copy of the bytes in [start, end). The copy stays valid
// while further blocks are appended.
func (s *Source) Slice(start, end int64) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]byte, end-start)
	copy(out, s.buf[start:end])
	return out
}
