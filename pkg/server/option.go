package server

import (
	"go.uber.org/zap"

	"github.com/labbridge/lab-gateway/pkg/broker"
	"github.com/labbridge/lab-gateway/pkg/hub"
	"github.com/labbridge/lab-gateway/pkg/monitor"
)

type Option func(s *Server) error

// WithAddr returns an Option which set the server listening address.
func WithAddr(addr string) Option {
	return func(s *Server) error {
		s.Addr = addr
		return nil
	}
}

// WithBroker returns an Option which set the server broker for async
// messaging.
func WithBroker(b broker.Broker) Option {
	return func(s *Server) error {
		s.b = b
		return nil
	}
}

// WithExchanges returns an Option which set the exchanges the broker will
// bind to.
func WithExchanges(exchanges ...string) Option {
	return func(s *Server) error {
		s.exchanges = exchanges
		return nil
	}
}

// WithHub returns an Option which set the notification hub for Server.
func WithHub(h *hub.Hub) Option {
	return func(s *Server) error {
		s.hub = h
		return nil
	}
}

// WithMonitor returns an Option which set the upstream health monitor.
func WithMonitor(m *monitor.Monitor) Option {
	return func(s *Server) error {
		s.monitor = m
		return nil
	}
}

// WithLogger returns an Option which set the logger for Server.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}
