package hub

import (
	"sync"

	"go.uber.org/zap"
)

// Listener is a registered live client connection capable of receiving
// pushed events. Implementations are transport-specific; the hub only needs
// the capability surface.
type Listener interface {
	ID() string
	Notify(payload []byte, event string) error
	Close()
}

// Hub is the registry of currently-open push-stream connections.
type Hub struct {
	mu        sync.Mutex
	listeners map[string]Listener
	logger    *zap.Logger
}

// New creates new hub.
func New(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		listeners: map[string]Listener{},
		logger:    logger,
	}
}

// Register adds l to the registry, replacing any listener with the same id.
func (h *Hub) Register(l Listener) {
	h.mu.Lock()
	h.listeners[l.ID()] = l
	h.mu.Unlock()
	h.logger.Debug("listener registered", zap.String("listener_id", l.ID()))
}

// Deregister removes l from the registry.
func (h *Hub) Deregister(l Listener) {
	h.mu.Lock()
	delete(h.listeners, l.ID())
	h.mu.Unlock()
	h.logger.Debug("listener deregistered", zap.String("listener_id", l.ID()))
}

// Notify delivers payload to every registered listener under the given event
// name. It iterates a snapshot of the registry, so listeners may register or
// deregister while a broadcast is in flight. A listener write failure is
// logged and does not affect the other listeners.
func (h *Hub) Notify(payload []byte, event string) {
	h.mu.Lock()
	snapshot := make([]Listener, 0, len(h.listeners))
	for _, l := range h.listeners {
		snapshot = append(snapshot, l)
	}
	h.mu.Unlock()

	for _, l := range snapshot {
		if err := l.Notify(payload, event); err != nil {
			h.logger.Warn("failed to notify listener", zap.String("listener_id", l.ID()), zap.Error(err))
		}
	}
}

// Count returns the number of registered listeners.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}

// CloseAll deregisters and closes every listener. Used on server shutdown to
// end the client streams.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	listeners := make([]Listener, 0, len(h.listeners))
	for _, l := range h.listeners {
		listeners = append(listeners, l)
	}
	h.listeners = map[string]Listener{}
	h.mu.Unlock()

	for _, l := range listeners {
		l.Close()
	}
}
