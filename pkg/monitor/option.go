package monitor

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

type Option func(m *Monitor) error

// WithUpstreamURL returns an Option which set the upstream liveness
// endpoint.
func WithUpstreamURL(u string) Option {
	return func(m *Monitor) error {
		if u == "" {
			return errors.New("empty upstream url")
		}
		m.upstreamURL = u
		return nil
	}
}

// WithNotifier returns an Option which set the sink for connectivity events.
func WithNotifier(n Notifier) Option {
	return func(m *Monitor) error {
		m.notifier = n
		return nil
	}
}

// WithInterval returns an Option which set the polling interval.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) error {
		if d > 0 {
			m.interval = d
		}
		return nil
	}
}

// WithTimeout returns an Option which set the per-probe timeout.
func WithTimeout(d time.Duration) Option {
	return func(m *Monitor) error {
		if d > 0 {
			m.timeout = d
		}
		return nil
	}
}

// WithHTTPClient returns an Option which set the http client used for
// probes.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Monitor) error {
		if c != nil {
			m.client = c
		}
		return nil
	}
}

// WithLogger returns an Option which set the logger for Monitor.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Monitor) error {
		m.logger = logger
		return nil
	}
}
