package hub

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type delivery struct {
	payload string
	event   string
}

type fakeListener struct {
	id string

	mu         sync.Mutex
	deliveries []delivery
	notifyErr  error
	onNotify   func()
	closed     int
}

func (l *fakeListener) ID() string { return l.id }

func (l *fakeListener) Notify(payload []byte, event string) error {
	l.mu.Lock()
	l.deliveries = append(l.deliveries, delivery{payload: string(payload), event: event})
	onNotify := l.onNotify
	err := l.notifyErr
	l.mu.Unlock()
	if onNotify != nil {
		onNotify()
	}
	return err
}

func (l *fakeListener) Close() {
	l.mu.Lock()
	l.closed++
	l.mu.Unlock()
}

func (l *fakeListener) delivered() []delivery {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]delivery(nil), l.deliveries...)
}

func TestNotifyDeliversToAllListeners(t *testing.T) {
	h := New(nil)
	listeners := make([]*fakeListener, 0, 5)
	for i := 0; i < 5; i++ {
		l := &fakeListener{id: fmt.Sprintf("listener-%d", i)}
		listeners = append(listeners, l)
		h.Register(l)
	}
	require.Equal(t, 5, h.Count())

	h.Notify([]byte(`{"id":"lab_request_complete"}`), "lab_request_complete")

	for _, l := range listeners {
		deliveries := l.delivered()
		require.Len(t, deliveries, 1)
		assert.Equal(t, `{"id":"lab_request_complete"}`, deliveries[0].payload)
		assert.Equal(t, "lab_request_complete", deliveries[0].event)
	}
}

func TestNotifyContinuesPastFailedListener(t *testing.T) {
	h := New(nil)
	bad := &fakeListener{id: "bad", notifyErr: errors.New("broken pipe")}
	good := &fakeListener{id: "good"}
	h.Register(bad)
	h.Register(good)

	h.Notify([]byte("{}"), "usb_updated")

	assert.Len(t, good.delivered(), 1)
}

func TestDeregisteredListenerGetsNothing(t *testing.T) {
	h := New(nil)
	gone := &fakeListener{id: "gone"}
	kept := &fakeListener{id: "kept"}
	h.Register(gone)
	h.Register(kept)
	h.Deregister(gone)
	require.Equal(t, 1, h.Count())

	h.Notify([]byte("{}"), "usb_updated")

	assert.Empty(t, gone.delivered())
	assert.Len(t, kept.delivered(), 1)
}

// Deregistering while a broadcast is iterating must not panic; the snapshot
// taken at broadcast time decides who is delivered to.
func TestDeregisterDuringBroadcast(t *testing.T) {
	h := New(nil)
	other := &fakeListener{id: "other"}
	self := &fakeListener{id: "self"}
	self.onNotify = func() {
		h.Deregister(self)
		h.Deregister(other)
	}
	h.Register(self)
	h.Register(other)

	assert.NotPanics(t, func() {
		h.Notify([]byte("{}"), "usb_updated")
	})
	assert.Equal(t, 0, h.Count())
}

func TestCloseAll(t *testing.T) {
	h := New(nil)
	a := &fakeListener{id: "a"}
	b := &fakeListener{id: "b"}
	h.Register(a)
	h.Register(b)

	h.CloseAll()

	assert.Equal(t, 0, h.Count())
	assert.Equal(t, 1, a.closed)
	assert.Equal(t, 1, b.closed)

	// closing an already-empty hub is fine
	h.CloseAll()
}
