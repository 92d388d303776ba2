package mirror

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"sprintboard/internal/config"
	"sprintboard/internal/events"
)

type received struct {
	headers http.Header
	body    webhookEvent
}

type sink struct {
	mu     sync.Mutex
	got    []received
	status int
}

func (s *sink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body webhookEvent
	_ = json.NewDecoder(r.Body).Decode(&body)
	s.mu.Lock()
	s.got = append(s.got, received{headers: r.Header.Clone(), body: body})
	status := s.status
	s.mu.Unlock()
	if status == 0 {
		status = http.StatusNoContent
	}
	w.WriteHeader(status)
}

func (s *sink) snapshot() []received {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]received(nil), s.got...)
}

func TestDeliversInOrderWithHeaders(t *testing.T) {
	s := &sink{}
	srv := httptest.NewServer(s)
	defer srv.Close()

	d := New([]config.Webhook{{URL: srv.URL, Secret: "shh"}}, Options{})
	d.Start(context.Background())
	defer d.Stop()

	bus := events.NewBus("remote", nil)
	d.Attach(bus)
	bus.Emit(events.Initialized, nil)
	bus.Emit(events.TaskCreated, map[string]any{"id": "t1"})
	bus.Emit(events.TaskDeleted, map[string]any{"id": "t1"})

	require.Eventually(t, func() bool { return len(s.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)
	got := s.snapshot()
	assert.Equal(t, "taskCreated", got[0].body.Name)
	assert.Equal(t, "taskDeleted", got[1].body.Name)
	assert.Less(t, got[0].body.Delivery, got[1].body.Delivery)
	assert.Equal(t, "shh", got[0].headers.Get("X-Sprintboard-Secret"))
	assert.Equal(t, "taskCreated", got[0].headers.Get("X-Sprintboard-Event"))
	assert.Equal(t, "remote", got[0].headers.Get("X-Sprintboard-Source"))
	assert.Equal(t, map[string]any{"id": "t1"}, got[0].body.Payload)
}

func TestEventFilter(t *testing.T) {
	s := &sink{}
	srv := httptest.NewServer(s)
	defer srv.Close()

	d := New([]config.Webhook{{URL: srv.URL, Events: []string{"roomJoined", " "}}}, Options{})
	d.Start(context.Background())
	defer d.Stop()

	bus := events.NewBus("remote", nil)
	d.Attach(bus)
	bus.Emit(events.TaskCreated, nil)
	bus.Emit(events.RoomJoined, map[string]any{"room": "r1"})

	require.Eventually(t, func() bool { return len(s.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "roomJoined", s.snapshot()[0].body.Name)
	assert.Empty(t, s.snapshot()[0].headers.Get("X-Sprintboard-Secret"))
}

func TestFailedDeliveryIsLogged(t *testing.T) {
	s := &sink{status: http.StatusInternalServerError}
	srv := httptest.NewServer(s)
	defer srv.Close()

	core, logs := observer.New(zapcore.WarnLevel)
	d := New([]config.Webhook{{URL: srv.URL}}, Options{Logger: zap.New(core)})
	d.Start(context.Background())
	defer d.Stop()

	bus := events.NewBus("local", nil)
	d.Attach(bus)
	bus.Emit(events.ConfigUpdated, map[string]any{"key": "theme"})

	require.Eventually(t, func() bool {
		return logs.FilterMessage("webhook delivery failed").Len() == 1
	}, 2*time.Second, 10*time.Millisecond)
	entry := logs.FilterMessage("webhook delivery failed").All()[0]
	assert.Equal(t, "configUpdated", entry.ContextMap()["event"])
}

func TestFullQueueDropsEvents(t *testing.T) {
	d := New([]config.Webhook{{URL: "http://127.0.0.1:1"}}, Options{QueueSize: 1})
	require.NoError(t, d.enqueue(events.Event{Name: events.TaskCreated}))
	assert.Error(t, d.enqueue(events.Event{Name: events.TaskUpdated}))
}

func TestNoHooksMeansNoSubscription(t *testing.T) {
	d := New([]config.Webhook{{URL: "  "}}, Options{})
	assert.False(t, d.Enabled())

	bus := events.NewBus("remote", nil)
	d.Attach(bus)
	bus.Emit(events.TaskCreated, nil)
	assert.Empty(t, d.queue)
}
