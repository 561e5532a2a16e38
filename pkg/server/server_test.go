package server

import (
	"bufio"
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/labbridge/lab-gateway/pkg/broker"
)

func TestServerRun(t *testing.T) {
	tests := []struct {
		addr string
	}{
		{"unix://" + filepath.Join(os.TempDir(), "lab-gateway-test-server.sock")},
		{":18113"},
	}
	for _, tc := range tests {
		s, err := New(WithAddr(tc.addr), WithLogger(zap.NewNop()))
		require.NoError(t, err)
		s.testSignalCh = make(chan os.Signal, 1)
		var serverError error
		done := make(chan struct{})
		go func() {
			serverError = s.Run()
			close(done)
		}()
		time.Sleep(time.Duration(rand.Intn(1000)) * time.Millisecond)
		s.testSignalCh <- syscall.SIGTERM
		<-done
		assert.IsType(t, http.ErrServerClosed, serverError)
	}
}

func TestServeEvents(t *testing.T) {
	s, err := New(WithAddr(":0"), WithLogger(zap.NewNop()))
	require.NoError(t, err)

	ts := httptest.NewServer(s.router)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	require.Eventually(t, func() bool {
		return s.hub.Count() == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, s.handleBrokerEvent(broker.Event{
		Exchange: "run-response",
		Payload:  []byte("<update_pending_list/>"),
	}))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: pending_requests_updated\n", line)
	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "data: {\"id\":\"pending_requests_updated\"}\n", line)
	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "\n", line)

	// client-side close deregisters the listener exactly once
	cancel()
	require.Eventually(t, func() bool {
		return s.hub.Count() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestServeEventsFansOut(t *testing.T) {
	s, err := New(WithAddr(":0"), WithLogger(zap.NewNop()))
	require.NoError(t, err)

	ts := httptest.NewServer(s.router)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Eventually(t, func() bool {
		return s.hub.Count() == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, s.handleBrokerEvent(broker.Event{
		Exchange: "run-response",
		Payload:  []byte("<lab-request-complete/>"),
	}))

	reader := bufio.NewReader(resp.Body)
	var tags []string
	for i := 0; i < 3; i++ {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		tags = append(tags, line)
		// data line and frame terminator
		_, err = reader.ReadString('\n')
		require.NoError(t, err)
		_, err = reader.ReadString('\n')
		require.NoError(t, err)
	}
	assert.ElementsMatch(t, []string{
		"event: recent_results_updated\n",
		"event: running_lab_requests_updated\n",
		"event: lab_request_complete\n",
	}, tags)
}

func TestHandleBrokerEvent(t *testing.T) {
	s, err := New(WithAddr(":0"), WithLogger(zap.NewNop()))
	require.NoError(t, err)

	// malformed XML is an error for the consume loop to log
	err = s.handleBrokerEvent(broker.Event{Exchange: "run-response", Payload: []byte("<broken")})
	assert.Error(t, err)

	// unknown broker events are dropped silently
	err = s.handleBrokerEvent(broker.Event{Exchange: "run-response", Payload: []byte("<wibble/>")})
	assert.NoError(t, err)
}

func TestStatus(t *testing.T) {
	s, err := New(WithAddr(":0"), WithLogger(zap.NewNop()))
	require.NoError(t, err)

	ts := httptest.NewServer(s.router)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, float64(0), status["listeners"])
	assert.Contains(t, status["version"], "version: dev,")
}
