package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/valve"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/labbridge/lab-gateway/pkg/broker"
	"github.com/labbridge/lab-gateway/pkg/event"
	"github.com/labbridge/lab-gateway/pkg/gatewayversion"
	"github.com/labbridge/lab-gateway/pkg/hub"
	"github.com/labbridge/lab-gateway/pkg/monitor"
)

// Server defines parameters for running the lab gateway HTTP server.
type Server struct {
	Addr        string
	router      *chi.Mux
	b           broker.Broker
	exchanges   []string
	hub         *hub.Hub
	dispatcher  *event.Dispatcher
	monitor     *monitor.Monitor
	useUnixSock bool

	// signal chan use for testing.
	testSignalCh chan os.Signal

	logger *zap.Logger
}

// New creates new server instance.
func New(opts ...Option) (*Server, error) {
	s := &Server{}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	s.router = chi.NewRouter()

	if s.logger == nil {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		s.logger = l
	}
	if s.hub == nil {
		s.hub = hub.New(s.logger)
	}
	if s.dispatcher == nil {
		s.dispatcher = event.NewDispatcher(s.logger)
	}

	s.setupRoutes()
	s.useUnixSock = strings.HasPrefix(s.Addr, "unix://")
	s.Addr = strings.TrimPrefix(s.Addr, "unix://")

	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Get("/events", s.ServeEvents)
	s.router.Get("/status", s.Status)
}

// bindings maps every configured exchange onto the event pipeline.
func (s *Server) bindings() map[string]broker.Handler {
	bindings := make(map[string]broker.Handler, len(s.exchanges))
	for _, exchange := range s.exchanges {
		bindings[exchange] = s.handleBrokerEvent
	}
	return bindings
}

// handleBrokerEvent decodes one broker message and broadcasts every outbound
// event it maps to. Decode and dispatch failures mean zero events for that
// message; the broker's consume loop logs the returned error and keeps
// going.
func (s *Server) handleBrokerEvent(e broker.Event) error {
	tree, err := event.Decode(e.Payload)
	if err != nil {
		return fmt.Errorf("exchange %s: %w", e.Exchange, err)
	}
	events, err := s.dispatcher.Dispatch(tree)
	if err != nil {
		return fmt.Errorf("exchange %s: %w", e.Exchange, err)
	}
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			s.logger.Error("failed to marshal outbound event", zap.String("id", string(ev.ID)), zap.Error(err))
			continue
		}
		s.hub.Notify(payload, string(ev.ID))
	}
	return nil
}

// Status reports gateway introspection data.
func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"listeners": s.hub.Count(),
		"version":   gatewayversion.Version(),
	}
	if s.b != nil {
		status["broker"] = s.b.String()
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Error("failed to write status", zap.Error(err))
	}
}

func (s *Server) Run() error {
	// Graceful valve shut-off package to manage code preemption and shutdown signaling.
	valv := valve.New()
	baseCtx := valv.Context()

	if s.b != nil && len(s.exchanges) > 0 {
		go func() {
			// The broker schedules its own flat-delay retries after this, for
			// the life of the process.
			if err := s.b.ConnectAndSubscribe(s.bindings()); err != nil {
				s.logger.Warn("initial broker connect failed", zap.Error(err))
			}
		}()
	}

	g, gctx := errgroup.WithContext(baseCtx)
	if s.monitor != nil {
		g.Go(func() error {
			return s.monitor.Run(gctx)
		})
	}
	go func() {
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("upstream monitor stopped", zap.Error(err))
		}
	}()

	srv := http.Server{Handler: chi.ServerBaseContext(baseCtx, s.router)}

	c := make(chan os.Signal, 1)
	if s.testSignalCh != nil {
		c = s.testSignalCh
	}
	signal.Notify(c, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-c
		// signal is a ^C, handle it
		s.logger.Info("shutting down...")

		// first valv
		if err := valv.Shutdown(20 * time.Second); err != nil {
			s.logger.Error("failed to shutdown valv")
		}

		// end every client stream, then drop the broker connection
		s.hub.CloseAll()
		if s.b != nil {
			if err := s.b.Close(); err != nil {
				s.logger.Error("failed to close broker", zap.Error(err))
			}
		}

		// create context with timeout
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		// start http shutdown
		if err := srv.Shutdown(ctx); err != nil {
			s.logger.Error("failed to shutdown http server")
		}

		// verify, in worst case call cancel via defer
		select {
		case <-time.After(21 * time.Second):
			s.logger.Error("not all connections done")
		case <-ctx.Done():
		}
	}()

	if s.useUnixSock {
		unixListener, err := net.Listen("unix", s.Addr)
		if err != nil {
			return err
		}
		return srv.Serve(unixListener)
	}

	srv.Addr = s.Addr
	return srv.ListenAndServe()
}
