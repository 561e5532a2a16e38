package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/google/uuid"
)

// ErrListenerClosed is returned when notifying a stream whose connection has
// already ended.
var ErrListenerClosed = errors.New("listener is closed")

// streamListener adapts one server-sent-events response to the hub listener
// contract.
type streamListener struct {
	id      string
	w       io.Writer
	flusher http.Flusher

	mu     sync.Mutex
	closed bool
	once   sync.Once
	done   chan struct{}
}

func newStreamListener(w io.Writer, flusher http.Flusher) *streamListener {
	return &streamListener{
		id:      uuid.NewString(),
		w:       w,
		flusher: flusher,
		done:    make(chan struct{}),
	}
}

func (l *streamListener) ID() string { return l.id }

// Notify writes one frame: the event name line, the data line and a
// terminating blank line, flushed immediately.
func (l *streamListener) Notify(payload []byte, event string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrListenerClosed
	}
	if event != "" {
		if _, err := fmt.Fprintf(l.w, "event: %s\n", event); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(l.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	l.flusher.Flush()
	return nil
}

func (l *streamListener) Close() {
	l.once.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()
		close(l.done)
	})
}

// ServeEvents upgrades the request into a persistent event stream and keeps
// the connection registered until either side ends it.
func (s *Server) ServeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	l := newStreamListener(w, flusher)
	s.hub.Register(l)
	defer func() {
		s.hub.Deregister(l)
		l.Close()
	}()

	select {
	case <-r.Context().Done():
	case <-l.done:
	}
}
