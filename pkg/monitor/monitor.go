package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/labbridge/lab-gateway/pkg/event"
)

const (
	defaultInterval = 5000 * time.Millisecond
	defaultTimeout  = 4000 * time.Millisecond
)

// Notifier is the sink for synthetic connectivity events. *hub.Hub satisfies
// it.
type Notifier interface {
	Notify(payload []byte, event string)
}

// Monitor polls an upstream liveness endpoint on a fixed interval and pushes
// a connectivity event through its notifier on state transitions only.
type Monitor struct {
	upstreamURL string
	interval    time.Duration
	timeout     time.Duration
	client      *http.Client
	notifier    Notifier
	logger      *zap.Logger

	// running is the most recent liveness sample. Events fire on change only,
	// so the very first sample is silent when the upstream is down.
	running bool
}

// New creates new monitor instance.
func New(opts ...Option) (*Monitor, error) {
	m := &Monitor{
		interval: defaultInterval,
		timeout:  defaultTimeout,
		client:   http.DefaultClient,
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	if m.upstreamURL == "" {
		return nil, errors.New("empty upstream url")
	}
	if m.notifier == nil {
		return nil, errors.New("no notifier")
	}
	if m.logger == nil {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		m.logger = l
	}
	return m, nil
}

// Run polls the upstream until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.observe(m.check(ctx))
		}
	}
}

// check reports whether the upstream answered the liveness probe in time.
// Timeouts and transport errors count as not running.
func (m *Monitor) check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.upstreamURL, nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices
}

// observe compares the sample against the previous one and emits one
// connectivity event when it differs.
func (m *Monitor) observe(running bool) {
	if running == m.running {
		return
	}
	m.running = running

	payload, err := json.Marshal(map[string]bool{"connected": running})
	if err != nil {
		return
	}
	m.logger.Info("upstream connectivity changed", zap.Bool("connected", running))
	m.notifier.Notify(payload, string(event.KindBackendConnection))
}
