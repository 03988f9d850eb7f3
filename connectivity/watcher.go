// Package connectivity watches network reachability with periodic HTTP
// probes and reports online/offline transitions to a listener, typically
// upload.Upload.SetOnline.
package connectivity

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
)

const (
	// DefaultProbeURL answers 204 with an empty body from a highly
	// available edge.
	DefaultProbeURL = "https://www.gstatic.com/generate_204"
	// DefaultInterval is the time between two probes.
	DefaultInterval = 10 * time.Second
	// DefaultConfirmRetries is how many extra probes have to fail before an
	// offline verdict.
	DefaultConfirmRetries uint = 2
	// DefaultConfirmWait is the delay between confirmation probes.
	DefaultConfirmWait = 1 * time.Second

	probeTimeout = 5 * time.Second
)

// Config controls the probing behavior of a Watcher. The zero value works,
// unset fields fall back to the defaults above.
type Config struct {
	ProbeURL       string
	Interval       time.Duration
	ConfirmRetries uint
	ConfirmWait    time.Duration
	HTTPClient     *http.Client
}

// Listener is notified on every online/offline transition.
type Listener func(online bool)

// Watcher probes a URL on a fixed interval. Any HTTP response counts as
// online, whatever the status: the network is reachable. A failed probe is
// only a suspicion, the verdict turns offline after the confirmation
// probes all fail too.
//
// A fresh Watcher assumes it is online, so the listener only hears about
// an initial offline state once the first probe round disproves it.
type Watcher struct {
	config   Config
	listener Listener
	logger   log.Logger
	client   *http.Client

	mu      sync.Mutex
	online  bool
	started bool
}

// NewWatcher creates a Watcher reporting to listener.
func NewWatcher(config Config, listener Listener, logger log.Logger) *Watcher {
	if config.ProbeURL == "" {
		config.ProbeURL = DefaultProbeURL
	}
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.ConfirmRetries == 0 {
		config.ConfirmRetries = DefaultConfirmRetries
	}
	if config.ConfirmWait <= 0 {
		config.ConfirmWait = DefaultConfirmWait
	}
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = log.NewLogger()
	}

	return &Watcher{
		config:   config,
		listener: listener,
		logger:   logger,
		client:   client,
		online:   true,
	}
}

// Start launches the probe loop in the background. It runs until ctx is
// canceled. Calling Start twice does nothing.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()

	go w.watch(ctx)
}

// Online returns the last verdict.
func (w *Watcher) Online() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.online
}

func (w *Watcher) watch(ctx context.Context) {
	w.check(ctx)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.check(ctx)
		}
	}
}

// check runs one probe round and transitions the verdict.
func (w *Watcher) check(ctx context.Context) {
	err := w.probe(ctx)
	if err == nil {
		w.transition(true)
		return
	}
	if ctx.Err() != nil {
		return
	}

	w.logger.Debugf("Connectivity probe failed (%s), confirming", err)
	err = retry.Times(w.config.ConfirmRetries).Wait(w.config.ConfirmWait).Try(func(attempt uint) error {
		return w.probe(ctx)
	})
	if err == nil {
		w.transition(true)
		return
	}
	if ctx.Err() != nil {
		return
	}

	w.transition(false)
}

func (w *Watcher) probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, w.config.ProbeURL, nil)
	if err != nil {
		return err
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			w.logger.Printf("Failed to close response body: %s", err)
		}
	}(resp.Body)

	return nil
}

func (w *Watcher) transition(online bool) {
	w.mu.Lock()
	if w.online == online {
		w.mu.Unlock()
		return
	}
	w.online = online
	w.mu.Unlock()

	if online {
		w.logger.Infof("Connectivity probe succeeded, back online")
	} else {
		w.logger.Warnf("Connectivity lost, probes to %s keep failing", w.config.ProbeURL)
	}

	if w.listener != nil {
		w.listener(online)
	}
}
