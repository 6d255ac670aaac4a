package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/farandaway89/scada-ai-system/internal/model"
	"github.com/farandaway89/scada-ai-system/internal/testutil"
)

func TestRelay(t *testing.T) {
	// Setup test environment
	js, cleanup := testutil.SetupJetStream(t)
	defer cleanup()

	logger := zap.NewNop()
	relay, err := New(js, logger)
	require.NoError(t, err)

	t.Run("Setup", func(t *testing.T) {
		// Verify stream creation
		stream, err := js.StreamInfo("TELEMETRY")
		require.NoError(t, err)
		assert.Equal(t, "TELEMETRY", stream.Config.Name)
		assert.Equal(t, []string{"telemetry.sample.>"}, stream.Config.Subjects)

		stream, err = js.StreamInfo("ALERTS")
		require.NoError(t, err)
		assert.Equal(t, "ALERTS", stream.Config.Name)
		assert.Equal(t, []string{"alert.*"}, stream.Config.Subjects)
	})

	t.Run("Publish and Subscribe Samples", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var mu sync.Mutex
		var received []model.Sample
		err := relay.SubscribeSamples(ctx, func(s model.Sample) {
			mu.Lock()
			received = append(received, s)
			mu.Unlock()
		})
		require.NoError(t, err)

		sample := model.NewSample("T001", 72.5)
		require.NoError(t, relay.PublishSample(sample))
		require.NoError(t, relay.Flush(5*time.Second))

		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(received) == 1
		}, 5*time.Second, 50*time.Millisecond)

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "T001", received[0].PointID)
		assert.Equal(t, 72.5, received[0].Value)
		assert.Equal(t, model.QualityGood, received[0].Quality)
	})

	t.Run("Dotted Point IDs Stay One Token", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var mu sync.Mutex
		var received []model.Sample
		err := relay.SubscribeSamples(ctx, func(s model.Sample) {
			mu.Lock()
			received = append(received, s)
			mu.Unlock()
		})
		require.NoError(t, err)

		require.NoError(t, relay.PublishSample(model.NewSample("SYS.CPU", 12.0)))
		require.NoError(t, relay.Flush(5*time.Second))

		// The payload keeps the original id even though the subject
		// token was sanitized. A fresh subscriber replays earlier
		// samples too, so scan instead of relying on order.
		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			for _, s := range received {
				if s.PointID == "SYS.CPU" {
					return true
				}
			}
			return false
		}, 5*time.Second, 50*time.Millisecond)
	})

	t.Run("Publish and Subscribe Alerts", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var mu sync.Mutex
		var received []model.Alert
		err := relay.SubscribeAlerts(ctx, func(a model.Alert) {
			mu.Lock()
			received = append(received, a)
			mu.Unlock()
		})
		require.NoError(t, err)

		alert := model.Alert{
			ID:           uuid.New().String(),
			RuleID:       "TEMP_HIGH",
			Timestamp:    time.Now(),
			Type:         model.AlertProcessAlarm,
			Priority:     model.PriorityCritical,
			Message:      "Reactor temperature critical: 96.0",
			SourcePoint:  "T001",
			CurrentValue: 96.0,
		}
		require.NoError(t, relay.PublishAlert(alert))

		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(received) == 1
		}, 5*time.Second, 50*time.Millisecond)

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, alert.ID, received[0].ID)
		assert.Equal(t, model.PriorityCritical, received[0].Priority)
		assert.Equal(t, "T001", received[0].SourcePoint)
	})

	t.Run("Alert Subject Carries Priority", func(t *testing.T) {
		sub, err := js.SubscribeSync("alert.emergency")
		require.NoError(t, err)
		defer sub.Unsubscribe()

		alert := model.Alert{
			ID:          uuid.New().String(),
			RuleID:      "FLOW_STOPPED",
			Timestamp:   time.Now(),
			Type:        model.AlertEquipmentFailure,
			Priority:    model.PriorityEmergency,
			Message:     "Flow stopped",
			SourcePoint: "F001",
		}
		require.NoError(t, relay.PublishAlert(alert))

		msg, err := sub.NextMsg(5 * time.Second)
		require.NoError(t, err)
		assert.Equal(t, "alert.emergency", msg.Subject)
	})
}

func TestRelaySetupIsIdempotent(t *testing.T) {
	js, cleanup := testutil.SetupJetStream(t)
	defer cleanup()

	logger := zap.NewNop()
	_, err := New(js, logger)
	require.NoError(t, err)

	// A second relay against the same broker must update, not fail.
	_, err = New(js, logger)
	require.NoError(t, err)

	require.NoError(t, testutil.WaitForStream(t, js, "TELEMETRY", 5*time.Second))
	require.NoError(t, testutil.WaitForStream(t, js, "ALERTS", 5*time.Second))
}
