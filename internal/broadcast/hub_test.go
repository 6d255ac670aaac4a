package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/farandaway89/scada-ai-system/internal/metrics"
	"github.com/farandaway89/scada-ai-system/internal/model"
)

type fakeBackend struct {
	mu     sync.Mutex
	acked  []string
	user   string
	ackErr error
	data   map[string]model.Sample
}

func (f *fakeBackend) AcknowledgeAlert(alertID, user string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, alertID)
	f.user = user
	return f.ackErr
}

func (f *fakeBackend) CurrentData() map[string]model.Sample {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data
}

func newRunningHub(t *testing.T, backend Backend) (*Hub, context.CancelFunc) {
	t.Helper()
	hub := NewHub(backend, nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	return hub, cancel
}

func TestHubInProcessSubscribe(t *testing.T) {
	hub, cancel := newRunningHub(t, &fakeBackend{})
	defer cancel()

	events, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	sample := model.NewSample("T001", 42.0)
	hub.BroadcastSample(sample)

	select {
	case event := <-events:
		assert.Equal(t, model.EventSample, event.Type)
		got, ok := event.Data.(model.Sample)
		require.True(t, ok)
		assert.Equal(t, "T001", got.PointID)
		assert.Equal(t, 42.0, got.Value)
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	hub, cancel := newRunningHub(t, &fakeBackend{})
	defer cancel()

	events, unsubscribe := hub.Subscribe()
	require.Eventually(t, func() bool {
		return hub.SubscriberCount() == 1
	}, time.Second, 10*time.Millisecond)

	unsubscribe()

	select {
	case _, open := <-events:
		assert.False(t, open, "channel should be closed after unsubscribe")
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed")
	}

	require.Eventually(t, func() bool {
		return hub.SubscriberCount() == 0
	}, time.Second, 10*time.Millisecond)

	// Unsubscribing twice is harmless.
	unsubscribe()
}

func TestHubShutdownClosesSubscribers(t *testing.T) {
	hub, cancel := newRunningHub(t, &fakeBackend{})

	events, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	cancel()

	select {
	case _, open := <-events:
		assert.False(t, open, "channel should be closed on shutdown")
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed on shutdown")
	}
}

func TestHubLaggingSubscriberLosesEvents(t *testing.T) {
	hub, cancel := newRunningHub(t, &fakeBackend{})
	defer cancel()

	// Subscribed but never read: the per-subscriber buffer fills and
	// the overflow is dropped without stalling the hub.
	_, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	require.Eventually(t, func() bool {
		return hub.SubscriberCount() == 1
	}, time.Second, 10*time.Millisecond)

	for i := 0; i < subscriberBuffer+10; i++ {
		hub.BroadcastSample(model.NewSample("T001", float64(i)))
	}

	require.Eventually(t, func() bool {
		return hub.Dropped() >= 10
	}, 2*time.Second, 10*time.Millisecond)
}

func dialWS(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func newTestServer(t *testing.T, backend Backend, m *metrics.Metrics) (*Hub, *httptest.Server, context.CancelFunc) {
	t.Helper()
	hub := NewHub(backend, m, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := NewServer("127.0.0.1:0", hub, m, zap.NewNop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return hub, ts, cancel
}

func TestWebSocketClientReceivesAlert(t *testing.T) {
	hub, ts, cancel := newTestServer(t, &fakeBackend{}, nil)
	defer cancel()

	conn := dialWS(t, ts)
	require.Eventually(t, func() bool {
		return hub.SubscriberCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	alert := model.Alert{
		ID:        "a-1",
		RuleID:    "TEMP_HIGH",
		Timestamp: time.Now(),
		Priority:  model.PriorityCritical,
		Message:   "too hot",
	}
	hub.BroadcastAlert(alert)

	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var event struct {
		Type string `json:"type"`
		Data struct {
			AlertID string `json:"alert_id"`
			Message string `json:"message"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(payload, &event))
	assert.Equal(t, "alert", event.Type)
	assert.Equal(t, "a-1", event.Data.AlertID)
	assert.Equal(t, "too hot", event.Data.Message)
}

func TestWebSocketAcknowledgeCommand(t *testing.T) {
	backend := &fakeBackend{}
	hub, ts, cancel := newTestServer(t, backend, nil)
	defer cancel()

	conn := dialWS(t, ts)
	require.Eventually(t, func() bool {
		return hub.SubscriberCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	cmd := map[string]string{"type": "acknowledge_alert", "alert_id": "a-9", "user": "operator"}
	require.NoError(t, conn.WriteJSON(cmd))

	var resp acknowledgeResponse
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, "acknowledge_response", resp.Type)
	assert.Equal(t, "a-9", resp.AlertID)
	assert.True(t, resp.Success)

	backend.mu.Lock()
	assert.Equal(t, []string{"a-9"}, backend.acked)
	assert.Equal(t, "operator", backend.user)
	backend.mu.Unlock()
}

func TestWebSocketAcknowledgeFailure(t *testing.T) {
	backend := &fakeBackend{ackErr: errors.New("alert not found")}
	hub, ts, cancel := newTestServer(t, backend, nil)
	defer cancel()

	conn := dialWS(t, ts)
	require.Eventually(t, func() bool {
		return hub.SubscriberCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// A missing user defaults to "unknown".
	cmd := map[string]string{"type": "acknowledge_alert", "alert_id": "nope"}
	require.NoError(t, conn.WriteJSON(cmd))

	var resp acknowledgeResponse
	require.NoError(t, conn.ReadJSON(&resp))
	assert.False(t, resp.Success)

	backend.mu.Lock()
	assert.Equal(t, "unknown", backend.user)
	backend.mu.Unlock()
}

func TestWebSocketGetCurrentData(t *testing.T) {
	ts1 := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	backend := &fakeBackend{
		data: map[string]model.Sample{
			"T001": {PointID: "T001", Timestamp: ts1, Value: 96.5, Quality: model.QualityGood},
		},
	}
	hub, ts, cancel := newTestServer(t, backend, nil)
	defer cancel()

	conn := dialWS(t, ts)
	require.Eventually(t, func() bool {
		return hub.SubscriberCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "get_current_data"}))

	var resp currentDataResponse
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, "current_data", resp.Type)
	require.Contains(t, resp.Data, "T001")
	assert.Equal(t, 96.5, resp.Data["T001"].Value)
	assert.Equal(t, "GOOD", resp.Data["T001"].Quality)
	assert.Equal(t, "2025-03-14T09:30:00Z", resp.Data["T001"].Timestamp)
}

func TestWebSocketClientEvictedOnDisconnect(t *testing.T) {
	hub, ts, cancel := newTestServer(t, &fakeBackend{}, nil)
	defer cancel()

	conn := dialWS(t, ts)
	require.Eventually(t, func() bool {
		return hub.SubscriberCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool {
		return hub.SubscriberCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
