package connectivity

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func probeClient(fn roundTripperFunc) *http.Client {
	return &http.Client{Transport: fn}
}

func probeResponse(status int) *http.Response {
	return &http.Response{StatusCode: status, Body: http.NoBody}
}

type verdictLog struct {
	mu       sync.Mutex
	verdicts []bool
}

func (l *verdictLog) record(online bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.verdicts = append(l.verdicts, online)
}

func (l *verdictLog) all() []bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]bool{}, l.verdicts...)
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestWatcherStaysOnlineWhileProbesSucceed(t *testing.T) {
	var probes int32
	client := probeClient(func(r *http.Request) (*http.Response, error) {
		atomic.AddInt32(&probes, 1)
		return probeResponse(http.StatusNoContent), nil
	})

	verdicts := &verdictLog{}
	w := NewWatcher(Config{Interval: 10 * time.Millisecond, HTTPClient: client}, verdicts.record, log.NewLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	waitUntil(t, 5*time.Second, func() bool { return atomic.LoadInt32(&probes) >= 3 })

	assert.True(t, w.Online())
	assert.Empty(t, verdicts.all())
}

func TestWatcherAnyResponseCountsAsOnline(t *testing.T) {
	var probes int32
	client := probeClient(func(r *http.Request) (*http.Response, error) {
		atomic.AddInt32(&probes, 1)
		return probeResponse(http.StatusServiceUnavailable), nil
	})

	verdicts := &verdictLog{}
	w := NewWatcher(Config{Interval: 10 * time.Millisecond, HTTPClient: client}, verdicts.record, log.NewLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	waitUntil(t, 5*time.Second, func() bool { return atomic.LoadInt32(&probes) >= 2 })

	assert.True(t, w.Online())
	assert.Empty(t, verdicts.all())
}

func TestWatcherProbeRequest(t *testing.T) {
	var mu sync.Mutex
	var method, url string
	var probes int32

	client := probeClient(func(r *http.Request) (*http.Response, error) {
		mu.Lock()
		method = r.Method
		url = r.URL.String()
		mu.Unlock()
		atomic.AddInt32(&probes, 1)
		return probeResponse(http.StatusNoContent), nil
	})

	w := NewWatcher(Config{
		ProbeURL:   "https://probe.example.com/ping",
		Interval:   time.Hour,
		HTTPClient: client,
	}, nil, log.NewLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	waitUntil(t, 5*time.Second, func() bool { return atomic.LoadInt32(&probes) >= 1 })

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodHead, method)
	assert.Equal(t, "https://probe.example.com/ping", url)
}

func TestWatcherConfirmsBeforeOfflineVerdict(t *testing.T) {
	var probes int32
	client := probeClient(func(r *http.Request) (*http.Response, error) {
		atomic.AddInt32(&probes, 1)
		return nil, errors.New("no route to host")
	})

	verdicts := &verdictLog{}
	w := NewWatcher(Config{
		Interval:       time.Hour,
		ConfirmRetries: 2,
		ConfirmWait:    time.Millisecond,
		HTTPClient:     client,
	}, verdicts.record, log.NewLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	waitUntil(t, 5*time.Second, func() bool { return len(verdicts.all()) == 1 })

	assert.Equal(t, []bool{false}, verdicts.all())
	assert.False(t, w.Online())
	// The initial probe raised a suspicion, confirmation probes followed
	assert.Greater(t, atomic.LoadInt32(&probes), int32(1))
}

func TestWatcherSuppressesSingleFlap(t *testing.T) {
	var probes int32
	client := probeClient(func(r *http.Request) (*http.Response, error) {
		if atomic.AddInt32(&probes, 1) == 1 {
			return nil, errors.New("connection reset")
		}
		return probeResponse(http.StatusNoContent), nil
	})

	verdicts := &verdictLog{}
	w := NewWatcher(Config{
		Interval:       time.Hour,
		ConfirmRetries: 2,
		ConfirmWait:    time.Millisecond,
		HTTPClient:     client,
	}, verdicts.record, log.NewLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	// The first confirmation probe succeeds, no transition happens
	waitUntil(t, 5*time.Second, func() bool { return atomic.LoadInt32(&probes) >= 2 })
	time.Sleep(50 * time.Millisecond)

	assert.True(t, w.Online())
	assert.Empty(t, verdicts.all())
	assert.Equal(t, int32(2), atomic.LoadInt32(&probes))
}

func TestWatcherRecovers(t *testing.T) {
	var down int32 = 1
	client := probeClient(func(r *http.Request) (*http.Response, error) {
		if atomic.LoadInt32(&down) == 1 {
			return nil, errors.New("network is unreachable")
		}
		return probeResponse(http.StatusNoContent), nil
	})

	verdicts := &verdictLog{}
	w := NewWatcher(Config{
		Interval:       10 * time.Millisecond,
		ConfirmRetries: 1,
		ConfirmWait:    time.Millisecond,
		HTTPClient:     client,
	}, verdicts.record, log.NewLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	waitUntil(t, 5*time.Second, func() bool { return len(verdicts.all()) == 1 })
	require.False(t, w.Online())

	atomic.StoreInt32(&down, 0)
	waitUntil(t, 5*time.Second, func() bool { return len(verdicts.all()) == 2 })

	assert.Equal(t, []bool{false, true}, verdicts.all())
	assert.True(t, w.Online())
}

func TestWatcherDefaults(t *testing.T) {
	w := NewWatcher(Config{}, nil, nil)

	assert.Equal(t, DefaultProbeURL, w.config.ProbeURL)
	assert.Equal(t, DefaultInterval, w.config.Interval)
	assert.Equal(t, DefaultConfirmRetries, w.config.ConfirmRetries)
	assert.Equal(t, DefaultConfirmWait, w.config.ConfirmWait)
	assert.NotNil(t, w.client)
	assert.NotNil(t, w.logger)
	assert.True(t, w.Online())
}

func TestWatcherStartTwice(t *testing.T) {
	var probes int32
	client := probeClient(func(r *http.Request) (*http.Response, error) {
		atomic.AddInt32(&probes, 1)
		return probeResponse(http.StatusNoContent), nil
	})

	w := NewWatcher(Config{Interval: time.Hour, HTTPClient: client}, nil, log.NewLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	w.Start(ctx)

	waitUntil(t, 5*time.Second, func() bool { return atomic.LoadInt32(&probes) >= 1 })
	time.Sleep(50 * time.Millisecond)

	// A second Start must not spawn a second probe loop
	assert.Equal(t, int32(1), atomic.LoadInt32(&probes))
}
