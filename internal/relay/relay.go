package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/farandaway89/scada-ai-system/internal/model"
)

const (
	telemetryStreamName  = "TELEMETRY"
	telemetrySubjects    = "telemetry.sample.>"
	telemetrySubjectStem = "telemetry.sample."
	alertStreamName      = "ALERTS"
	alertSubjects        = "alert.*"
	alertSubjectStem     = "alert."
)

// Relay mirrors recorded samples and alert transitions onto JetStream so
// external consumers (historians, dashboards, downstream analytics) can
// replay them independently of the in-process subscribers.
type Relay struct {
	js     nats.JetStreamContext
	logger *zap.Logger
}

// New creates a relay and ensures its streams exist.
func New(js nats.JetStreamContext, logger *zap.Logger) (*Relay, error) {
	r := &Relay{
		js:     js,
		logger: logger,
	}
	if err := r.setup(); err != nil {
		return nil, err
	}
	return r, nil
}

// setup creates or updates the relay streams.
func (r *Relay) setup() error {
	streams := []struct {
		name     string
		subjects []string
	}{
		{
			name:     telemetryStreamName,
			subjects: []string{telemetrySubjects},
		},
		{
			name:     alertStreamName,
			subjects: []string{alertSubjects},
		},
	}

	for _, stream := range streams {
		streamInfo, err := r.js.StreamInfo(stream.name)
		if err != nil && err != nats.ErrStreamNotFound {
			return fmt.Errorf("failed to get stream info: %w", err)
		}

		if streamInfo == nil {
			_, err = r.js.AddStream(&nats.StreamConfig{
				Name:       stream.name,
				Subjects:   stream.subjects,
				Retention:  nats.LimitsPolicy,
				MaxAge:     24 * time.Hour,
				MaxMsgs:    -1,
				MaxBytes:   -1,
				Discard:    nats.DiscardOld,
				MaxMsgSize: 1 * 1024 * 1024, // 1MB
				Storage:    nats.FileStorage,
				Replicas:   1,
				Duplicates: time.Hour,
			})
			if err != nil {
				return fmt.Errorf("failed to create stream %s: %w", stream.name, err)
			}
			r.logger.Info("Created stream", zap.String("name", stream.name))
		} else {
			// Update existing stream while preserving retention policy
			config := streamInfo.Config
			config.Subjects = stream.subjects
			config.MaxAge = 24 * time.Hour
			config.MaxMsgSize = 1 * 1024 * 1024
			config.Duplicates = time.Hour

			_, err = r.js.UpdateStream(&config)
			if err != nil {
				return fmt.Errorf("failed to update stream %s: %w", stream.name, err)
			}
			r.logger.Info("Updated stream", zap.String("name", stream.name))
		}
	}

	return nil
}

// PublishSample forwards a recorded sample. Publishing is asynchronous so
// the scan path never blocks on broker round trips; delivery failures
// surface through the connection's async error handler.
func (r *Relay) PublishSample(sample model.Sample) error {
	data, err := json.Marshal(sample)
	if err != nil {
		return err
	}

	subject := telemetrySubjectStem + sanitizeToken(sample.PointID)
	if _, err := r.js.PublishAsync(subject, data); err != nil {
		r.logger.Error("Failed to publish sample",
			zap.String("point_id", sample.PointID),
			zap.Error(err))
		return err
	}
	return nil
}

// PublishAlert publishes an alert transition to alert.<priority>.
// Alerts are rare and important, so they publish synchronously.
func (r *Relay) PublishAlert(alert model.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return err
	}

	subject := alertSubjectStem + strings.ToLower(alert.Priority.String())
	if _, err := r.js.Publish(subject, data); err != nil {
		r.logger.Error("Failed to publish alert",
			zap.String("alert_id", alert.ID),
			zap.Error(err))
		return err
	}

	r.logger.Info("Alert published",
		zap.String("alert_id", alert.ID),
		zap.String("subject", subject))
	return nil
}

// SubscribeSamples delivers every relayed sample to handler until ctx is
// cancelled.
func (r *Relay) SubscribeSamples(ctx context.Context, handler func(model.Sample)) error {
	sub, err := r.js.Subscribe(telemetrySubjects, func(msg *nats.Msg) {
		var sample model.Sample
		if err := json.Unmarshal(msg.Data, &sample); err != nil {
			r.logger.Error("Failed to unmarshal sample",
				zap.Error(err))
			return
		}

		handler(sample)
		msg.Ack()
	})

	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		sub.Unsubscribe()
	}()

	return nil
}

// SubscribeAlerts delivers every relayed alert to handler until ctx is
// cancelled.
func (r *Relay) SubscribeAlerts(ctx context.Context, handler func(model.Alert)) error {
	sub, err := r.js.Subscribe(alertSubjects, func(msg *nats.Msg) {
		var alert model.Alert
		if err := json.Unmarshal(msg.Data, &alert); err != nil {
			r.logger.Error("Failed to unmarshal alert",
				zap.Error(err))
			return
		}

		handler(alert)
		msg.Ack()
	})

	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		sub.Unsubscribe()
	}()

	return nil
}

// Flush blocks until all in-flight async sample publishes are
// acknowledged or the timeout elapses.
func (r *Relay) Flush(timeout time.Duration) error {
	select {
	case <-r.js.PublishAsyncComplete():
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timed out waiting for publish acks after %s", timeout)
	}
}

// sanitizeToken makes a point id safe to embed as a single NATS subject
// token. Ids like "SYS.CPU" would otherwise split into two tokens.
func sanitizeToken(id string) string {
	return strings.Map(func(c rune) rune {
		switch c {
		case '.', ' ', '*', '>':
			return '_'
		}
		return c
	}, id)
}
