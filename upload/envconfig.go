package upload

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bitrise-io/go-utils/v2/env"
)

// Environment variables understood by ConfigFromEnv.
const (
	EnvEndpoint           = "PUTSTREAM_ENDPOINT"
	EnvHeaders            = "PUTSTREAM_HEADERS"
	EnvMaxChunkSizeKB     = "PUTSTREAM_MAX_CHUNK_SIZE_KB"
	EnvAttempts           = "PUTSTREAM_ATTEMPTS"
	EnvDelayBeforeAttempt = "PUTSTREAM_DELAY_BEFORE_ATTEMPT"
)

// ConfigFromEnv assembles a Config from environment variables, for CI
// steps and one-shot tools that configure uploads without code. Unset
// variables keep the DefaultConfig values. Headers are a comma-separated
// list of name=value pairs. The result is validated by New as usual.
func ConfigFromEnv(envRepo env.Repository) (Config, error) {
	config := DefaultConfig()

	config.Endpoint = envRepo.Get(EnvEndpoint)

	if value := envRepo.Get(EnvHeaders); value != "" {
		headers, err := parseHeaders(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", EnvHeaders, err)
		}
		config.Headers = headers
	}
	if value := envRepo.Get(EnvMaxChunkSizeKB); value != "" {
		size, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", EnvMaxChunkSizeKB, err)
		}
		config.MaxChunkSizeKB = size
	}
	if value := envRepo.Get(EnvAttempts); value != "" {
		attempts, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", EnvAttempts, err)
		}
		config.Attempts = attempts
	}
	if value := envRepo.Get(EnvDelayBeforeAttempt); value != "" {
		delay, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", EnvDelayBeforeAttempt, err)
		}
		config.DelayBeforeAttempt = delay
	}

	return config, nil
}

func parseHeaders(value string) (map[string]string, error) {
	headers := map[string]string{}
	for _, pair := range strings.Split(value, ",") {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" {
			return nil, fmt.Errorf("expected name=value, got %q", pair)
		}
		headers[strings.TrimSpace(parts[0])] = parts[1]
	}
	return headers, nil
}
