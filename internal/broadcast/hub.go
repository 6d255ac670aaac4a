package broadcast

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/farandaway89/scada-ai-system/internal/metrics"
	"github.com/farandaway89/scada-ai-system/internal/model"
)

const (
	// eventBuffer absorbs bursts between producers and the hub loop.
	eventBuffer = 256
	// subscriberBuffer is the per-subscriber event queue; a lagging
	// in-process subscriber loses events rather than stalling the hub.
	subscriberBuffer = 64
)

// Backend answers inbound client commands. The orchestrator satisfies
// this.
type Backend interface {
	AcknowledgeAlert(alertID, user string) error
	CurrentData() map[string]model.Sample
}

// subscriber is an in-process event listener.
type subscriber struct {
	events chan model.Event
}

// Hub fans sample and alert events out to websocket clients and
// in-process subscribers. A single Run goroutine owns both sets, so
// registration, eviction and broadcast never race.
type Hub struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
	backend Backend

	register    chan *Client
	unregister  chan *Client
	subscribe   chan *subscriber
	unsubscribe chan *subscriber
	events      chan model.Event
	done        chan struct{}

	clients     map[*Client]bool
	subscribers map[*subscriber]bool

	count   atomic.Int64
	dropped atomic.Uint64
}

// NewHub creates a hub serving the given backend. Run must be started
// before clients connect or events are broadcast.
func NewHub(backend Backend, m *metrics.Metrics, logger *zap.Logger) *Hub {
	return &Hub{
		logger:      logger.Named("broadcast"),
		metrics:     m,
		backend:     backend,
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		subscribe:   make(chan *subscriber),
		unsubscribe: make(chan *subscriber),
		events:      make(chan model.Event, eventBuffer),
		done:        make(chan struct{}),
		clients:     make(map[*Client]bool),
		subscribers: make(map[*subscriber]bool),
	}
}

// Run owns the client and subscriber sets until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.clients[client] = true
			h.updateCount()
			h.logger.Info("WebSocket client registered",
				zap.String("remote", client.remoteAddr()),
				zap.Int("clients", len(h.clients)))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.updateCount()
				h.logger.Info("WebSocket client unregistered",
					zap.String("remote", client.remoteAddr()),
					zap.Int("clients", len(h.clients)))
			}

		case sub := <-h.subscribe:
			h.subscribers[sub] = true
			h.updateCount()

		case sub := <-h.unsubscribe:
			if _, ok := h.subscribers[sub]; ok {
				delete(h.subscribers, sub)
				close(sub.events)
				h.updateCount()
			}

		case event := <-h.events:
			h.dispatch(event)
		}
	}
}

// dispatch pushes one event to every listener. Slow websocket clients
// are evicted; slow in-process subscribers lose the event.
func (h *Hub) dispatch(event model.Event) {
	if len(h.clients) > 0 {
		payload, err := json.Marshal(event)
		if err != nil {
			h.logger.Error("Failed to marshal event", zap.Error(err))
		} else {
			for client := range h.clients {
				select {
				case client.send <- payload:
				default:
					delete(h.clients, client)
					close(client.send)
					h.updateCount()
					h.logger.Warn("WebSocket client send buffer full, evicting",
						zap.String("remote", client.remoteAddr()))
				}
			}
		}
	}

	for sub := range h.subscribers {
		select {
		case sub.events <- event:
		default:
			h.dropped.Add(1)
		}
	}
}

// shutdown closes every listener after Run exits.
func (h *Hub) shutdown() {
	close(h.done)
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	for sub := range h.subscribers {
		close(sub.events)
		delete(h.subscribers, sub)
	}
	h.updateCount()
	h.logger.Info("Broadcast hub stopped")
}

func (h *Hub) updateCount() {
	n := len(h.clients) + len(h.subscribers)
	h.count.Store(int64(n))
	h.metrics.SetSubscribers(n)
}

// BroadcastSample pushes a recorded sample to all listeners. It never
// blocks; events overflowing the hub queue are dropped.
func (h *Hub) BroadcastSample(sample model.Sample) {
	h.offer(model.NewSampleEvent(sample))
}

// BroadcastAlert pushes a triggered alert to all listeners.
func (h *Hub) BroadcastAlert(alert model.Alert) {
	h.offer(model.NewAlertEvent(alert))
}

func (h *Hub) offer(event model.Event) {
	select {
	case h.events <- event:
	case <-h.done:
	default:
		h.dropped.Add(1)
	}
}

// Subscribe registers an in-process listener. The returned cancel
// releases it; the channel closes on cancel or hub shutdown. Events
// are dropped, not queued, when the subscriber lags behind.
func (h *Hub) Subscribe() (<-chan model.Event, func()) {
	sub := &subscriber{events: make(chan model.Event, subscriberBuffer)}

	select {
	case h.subscribe <- sub:
	case <-h.done:
		close(sub.events)
		return sub.events, func() {}
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			select {
			case h.unsubscribe <- sub:
			case <-h.done:
			}
		})
	}
	return sub.events, cancel
}

// connect hands a websocket client to the run loop. It reports false
// when the hub has already shut down.
func (h *Hub) connect(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// disconnect detaches a websocket client. Safe to call after the
// client was already evicted.
func (h *Hub) disconnect(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// SubscriberCount returns the number of connected listeners, websocket
// and in-process combined.
func (h *Hub) SubscriberCount() int {
	return int(h.count.Load())
}

// Dropped returns how many events were lost to full queues.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}
