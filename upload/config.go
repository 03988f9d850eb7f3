package upload

import (
	"fmt"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"

	"github.com/putstream/go-putstream/upload/network"
)

const (
	// DefaultMaxChunkSizeKB is the default chunk size cap (5 MiB).
	DefaultMaxChunkSizeKB int64 = 5120

	// DefaultAttempts is the default retry budget per chunk.
	DefaultAttempts = 5

	// DefaultDelayBeforeAttempt is the default wait between retries of a
	// chunk.
	DefaultDelayBeforeAttempt = 1 * time.Second

	// chunkSizeMultipleKB is the granularity every chunk size cap must be
	// a multiple of.
	chunkSizeMultipleKB int64 = 256
)

// Config holds configuration for an upload session.
type Config struct {
	// Endpoint is the URL chunks are sent to. Exactly one of Endpoint and
	// Resolver must be set.
	Endpoint string

	// Resolver obtains the upload URL when the session starts, for
	// services that mint short-lived signed URLs.
	Resolver network.Resolver

	// Headers are set on every chunk request.
	Headers map[string]string

	// MaxChunkSizeKB caps the chunk size, in kilobytes. Must be a positive
	// multiple of 256.
	// Default: 5120 (5 MiB)
	MaxChunkSizeKB int64

	// Attempts is the number of retries a chunk gets after transient
	// failures before the upload fails.
	// Default: 5
	Attempts int

	// DelayBeforeAttempt is the fixed wait before each retry of a chunk.
	// Default: 1 second
	DelayBeforeAttempt time.Duration

	// Transport sends the chunks.
	// If nil, an HTTP transport with a default optimized client is used.
	Transport network.Transport

	// Logger is used for engine logs.
	// If nil, a standard logger is created.
	Logger log.Logger
}

// DefaultConfig returns the default configuration. Endpoint or Resolver
// still has to be set by the caller.
func DefaultConfig() Config {
	return Config{
		MaxChunkSizeKB:     DefaultMaxChunkSizeKB,
		Attempts:           DefaultAttempts,
		DelayBeforeAttempt: DefaultDelayBeforeAttempt,
	}
}

// validate checks the config and fills in defaults for zero values.
func (c *Config) validate() error {
	if c.Endpoint == "" && c.Resolver == nil {
		return fmt.Errorf("either Endpoint or Resolver must be set")
	}
	if c.Endpoint != "" && c.Resolver != nil {
		return fmt.Errorf("Endpoint and Resolver must not both be set")
	}

	if c.MaxChunkSizeKB == 0 {
		c.MaxChunkSizeKB = DefaultMaxChunkSizeKB
	}
	if c.MaxChunkSizeKB < 0 || c.MaxChunkSizeKB%chunkSizeMultipleKB != 0 {
		return fmt.Errorf("max chunk size must be a positive multiple of %d KB, got %d", chunkSizeMultipleKB, c.MaxChunkSizeKB)
	}

	if c.Attempts == 0 {
		c.Attempts = DefaultAttempts
	}
	if c.Attempts < 1 {
		return fmt.Errorf("attempts must be at least 1, got %d", c.Attempts)
	}

	if c.DelayBeforeAttempt < 0 {
		return fmt.Errorf("delay before attempt must not be negative, got %s", c.DelayBeforeAttempt)
	}

	return nil
}
