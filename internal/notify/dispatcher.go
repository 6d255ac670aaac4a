package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/farandaway89/scada-ai-system/internal/metrics"
	"github.com/farandaway89/scada-ai-system/internal/model"
)

const (
	// DefaultQueueSize bounds the alert queue; enqueueing beyond it
	// drops the notification rather than blocking the alert engine.
	DefaultQueueSize = 256
	// DefaultWorkers is the delivery worker pool size.
	DefaultWorkers = 4
	// DefaultSendTimeout caps a single channel delivery.
	DefaultSendTimeout = 10 * time.Second
)

// Channel delivers an alert to one external destination.
type Channel interface {
	Name() string
	Send(ctx context.Context, alert model.Alert) error
}

// Routing maps a priority to the channel names it notifies. A nil
// name slice routes to every registered channel. Priorities missing
// from the map fall back to webhook only.
type Routing map[model.AlertPriority][]string

// DefaultRouting escalates delivery breadth with priority.
func DefaultRouting() Routing {
	return Routing{
		model.PriorityEmergency: nil,
		model.PriorityCritical:  nil,
		model.PriorityHigh:      {ChannelWebhook, ChannelEmail},
		model.PriorityMedium:    {ChannelWebhook},
		model.PriorityLow:       {ChannelWebhook},
	}
}

// Dispatcher fans alerts out to notification channels through a
// bounded queue and a fixed worker pool.
type Dispatcher struct {
	logger      *zap.Logger
	metrics     *metrics.Metrics
	routing     Routing
	queue       chan model.Alert
	sendTimeout time.Duration

	mu       sync.RWMutex
	channels []Channel
	byName   map[string]Channel

	wg      sync.WaitGroup
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// NewDispatcher creates a dispatcher using the given routing policy.
// A nil routing uses DefaultRouting.
func NewDispatcher(routing Routing, m *metrics.Metrics, logger *zap.Logger) *Dispatcher {
	if routing == nil {
		routing = DefaultRouting()
	}
	return &Dispatcher{
		logger:      logger.Named("notify"),
		metrics:     m,
		routing:     routing,
		queue:       make(chan model.Alert, DefaultQueueSize),
		sendTimeout: DefaultSendTimeout,
		byName:      make(map[string]Channel),
	}
}

// Register adds a delivery channel. Registering a name twice replaces
// the earlier channel.
func (d *Dispatcher) Register(ch Channel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.byName[ch.Name()]; exists {
		for i, existing := range d.channels {
			if existing.Name() == ch.Name() {
				d.channels[i] = ch
				break
			}
		}
	} else {
		d.channels = append(d.channels, ch)
	}
	d.byName[ch.Name()] = ch
	d.logger.Info("Notification channel registered", zap.String("channel", ch.Name()))
}

// Start launches the worker pool. Workers exit when ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("Starting notification dispatcher",
		zap.Int("workers", DefaultWorkers),
		zap.Int("queue_size", DefaultQueueSize))
	for i := 0; i < DefaultWorkers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
}

// Wait blocks until all workers have exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Enqueue hands an alert to the worker pool. It never blocks; when
// the queue is full the alert is dropped and logged.
func (d *Dispatcher) Enqueue(alert model.Alert) {
	select {
	case d.queue <- alert:
	default:
		d.dropped.Add(1)
		d.logger.Warn("Notification queue full, dropping alert",
			zap.String("alert_id", alert.ID),
			zap.String("priority", alert.Priority.String()))
	}
}

// Sent returns the number of successful channel deliveries.
func (d *Dispatcher) Sent() uint64 {
	return d.sent.Load()
}

// Dropped returns the number of alerts rejected by a full queue.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case alert := <-d.queue:
			d.deliver(ctx, alert)
		}
	}
}

// deliver sends one alert to every routed channel. Channel failures
// are independent; a broken channel never blocks the rest.
func (d *Dispatcher) deliver(ctx context.Context, alert model.Alert) {
	for _, ch := range d.route(alert.Priority) {
		sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
		err := ch.Send(sendCtx, alert)
		cancel()

		if err != nil {
			d.metrics.RecordNotification(ch.Name(), "error")
			d.logger.Error("Notification delivery failed",
				zap.String("channel", ch.Name()),
				zap.String("alert_id", alert.ID),
				zap.Error(err))
			continue
		}

		d.sent.Add(1)
		d.metrics.RecordNotification(ch.Name(), "ok")
		d.logger.Info("Notification delivered",
			zap.String("channel", ch.Name()),
			zap.String("alert_id", alert.ID),
			zap.String("priority", alert.Priority.String()))
	}
}

func (d *Dispatcher) route(priority model.AlertPriority) []Channel {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names, listed := d.routing[priority]
	if !listed {
		names = []string{ChannelWebhook}
	}
	if names == nil {
		out := make([]Channel, len(d.channels))
		copy(out, d.channels)
		return out
	}

	out := make([]Channel, 0, len(names))
	for _, name := range names {
		if ch, ok := d.byName[name]; ok {
			out = append(out, ch)
		}
	}
	return out
}
