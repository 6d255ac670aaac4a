package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/farandaway89/scada-ai-system/internal/broadcast"
	"github.com/farandaway89/scada-ai-system/internal/buffer"
	"github.com/farandaway89/scada-ai-system/internal/history"
	"github.com/farandaway89/scada-ai-system/internal/metrics"
	"github.com/farandaway89/scada-ai-system/internal/model"
	"github.com/farandaway89/scada-ai-system/internal/monitor"
	"github.com/farandaway89/scada-ai-system/internal/notify"
	"github.com/farandaway89/scada-ai-system/internal/registry"
	"github.com/farandaway89/scada-ai-system/internal/relay"
	"github.com/farandaway89/scada-ai-system/internal/scanner"
	"github.com/farandaway89/scada-ai-system/internal/transport"
)

// minStaleAge floors the staleness threshold so fast points are not
// marked stale between back-to-back scans.
const minStaleAge = 5 * time.Second

// Options configures a System. The zero value runs an in-memory core:
// default capacities, device transports, no persistence, no relay, no
// host self-monitoring.
type Options struct {
	BufferCapacity     int
	MaxPoints          int
	EvaluationInterval time.Duration

	// HealthInterval enables the host CPU/memory self-monitoring
	// points when positive.
	HealthInterval time.Duration

	// ReaderFactory overrides how device readers are built. Nil uses
	// the protocol transports.
	ReaderFactory scanner.ReaderFactory

	// Routing overrides the priority routing table. Nil keeps the
	// dispatcher defaults.
	Routing  notify.Routing
	Channels []notify.Channel

	Metrics *metrics.Metrics

	// History persists recorded samples and alert transitions when
	// non-nil. The caller owns its Start/Close lifecycle.
	History *history.Store

	// Relay mirrors recorded samples and alerts onto JetStream when
	// non-nil.
	Relay *relay.Relay
}

// System is the monitoring core: it owns the point registry, the scan
// scheduler, the ring-buffer store, the alert engine, the notification
// dispatcher and the broadcast hub, and fans samples and alerts out
// between them. A System starts once and cannot be restarted.
type System struct {
	logger  *zap.Logger
	metrics *metrics.Metrics

	points     *registry.PointRegistry
	store      *buffer.Store
	sched      *scanner.Scheduler
	engine     *monitor.Engine
	dispatcher *notify.Dispatcher
	hub        *broadcast.Hub
	health     *monitor.HealthCollector

	historyStore *history.Store
	relay        *relay.Relay

	healthInterval time.Duration

	cancel context.CancelFunc

	mu        sync.Mutex
	running   bool
	stopped   bool
	startedAt time.Time
}

// New wires the monitoring core. Points and rules are registered
// afterwards; Start launches the machinery.
func New(opts Options, logger *zap.Logger) *System {
	s := &System{
		logger:         logger.Named("core"),
		metrics:        opts.Metrics,
		points:         registry.NewPointRegistry(),
		store:          buffer.NewStore(opts.BufferCapacity),
		historyStore:   opts.History,
		relay:          opts.Relay,
		healthInterval: opts.HealthInterval,
	}

	factory := opts.ReaderFactory
	if factory == nil {
		factory = func(point model.MonitoringPoint) (scanner.Reader, error) {
			return transport.NewPointReader(point, logger)
		}
	}

	s.sched = scanner.NewScheduler(factory, s.store, opts.Metrics, opts.MaxPoints, logger)
	s.engine = monitor.NewEngine(liveData{s}, opts.Metrics, opts.EvaluationInterval, logger)
	s.dispatcher = notify.NewDispatcher(opts.Routing, opts.Metrics, logger)
	for _, ch := range opts.Channels {
		s.dispatcher.Register(ch)
	}
	s.hub = broadcast.NewHub(s, opts.Metrics, logger)
	if opts.HealthInterval > 0 {
		s.health = monitor.NewHealthCollector(s.sched, opts.HealthInterval, logger)
	}

	// Recorded samples fan out to the live broadcast and the
	// fire-and-forget side streams.
	s.sched.AddSink(func(sample model.Sample) {
		s.hub.BroadcastSample(sample)
		if s.historyStore != nil {
			s.historyStore.RecordSample(sample)
		}
		if s.relay != nil {
			_ = s.relay.PublishSample(sample)
		}
	})

	// Triggered alerts reach the notification pipeline, the broadcast
	// and the same side streams.
	s.engine.AddSink(func(alert model.Alert) {
		s.dispatcher.Enqueue(alert)
		s.hub.BroadcastAlert(alert)
		if s.historyStore != nil {
			s.historyStore.RecordAlert(alert)
		}
		if s.relay != nil {
			_ = s.relay.PublishAlert(alert)
		}
	})

	return s
}

// Start launches the hub, the dispatcher workers, the rule engine, the
// health collector and one scan task per enabled point. Failures on
// individual points are logged and skipped; they never abort startup.
func (s *System) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return errors.New("system cannot be restarted")
	}
	if s.running {
		s.mu.Unlock()
		return errors.New("system already started")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go s.hub.Run(runCtx)
	s.dispatcher.Start(runCtx)
	s.engine.Start(runCtx)
	if s.health != nil {
		s.registerHealthPoints()
		s.health.Start(runCtx)
	}

	started := 0
	for _, point := range s.points.List() {
		if !scannable(point) {
			continue
		}
		if err := s.sched.StartPoint(point); err != nil {
			s.logger.Error("Failed to start scan task",
				zap.String("point_id", point.ID),
				zap.Error(err))
			continue
		}
		started++
	}

	s.logger.Info("Monitoring system started",
		zap.Int("points", s.points.Len()),
		zap.Int("scan_tasks", started),
		zap.Int("rules", s.engine.RuleCount()))
	return nil
}

// Stop shuts the core down: scan tasks finish their in-flight polls and
// close their connections, the dispatcher drains its workers, the hub
// releases every listener. Stop is idempotent.
func (s *System) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.stopped = true
	s.mu.Unlock()

	s.logger.Info("Stopping monitoring system")
	if s.health != nil {
		s.health.Stop()
	}
	s.cancel()
	s.sched.StopAll()
	s.dispatcher.Wait()
	s.logger.Info("Monitoring system stopped")
}

// AddPoint registers a monitoring point. While the system runs, an
// enabled point's scan task starts immediately; a point that fails to
// start is rolled back out of the registry.
func (s *System) AddPoint(point model.MonitoringPoint) error {
	point.Protocol = point.Protocol.Normalized()
	if err := s.points.Add(point); err != nil {
		return err
	}

	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	if running && scannable(point) {
		if err := s.sched.StartPoint(point); err != nil {
			s.points.Remove(point.ID)
			return err
		}
	}
	return nil
}

// RemovePoint stops the point's scan task and unregisters it. Buffered
// history for the point is discarded; replacing a point is remove then
// add.
func (s *System) RemovePoint(id string) error {
	if !s.points.Remove(id) {
		return fmt.Errorf("point not found: %s", id)
	}
	if s.sched.Running(id) {
		return s.sched.StopPoint(id)
	}
	return nil
}

// AddRule compiles and registers an alert rule.
func (s *System) AddRule(rule model.AlertRule) error {
	return s.engine.AddRule(rule)
}

// RemoveRule unregisters an alert rule. Alerts it already raised stay
// active.
func (s *System) RemoveRule(ruleID string) error {
	return s.engine.RemoveRule(ruleID)
}

// GetLatest returns a point's most recent sample. A GOOD sample older
// than the point's staleness threshold is reported STALE; the stored
// history is untouched.
func (s *System) GetLatest(pointID string) (model.Sample, bool) {
	sample, ok := s.sched.Latest(pointID)
	if !ok {
		return model.Sample{}, false
	}
	return s.markStale(sample, time.Now()), true
}

// GetAllLatest snapshots every point's most recent sample with the
// same staleness marking as GetLatest. The snapshot is not an atomic
// cut across points.
func (s *System) GetAllLatest() map[string]model.Sample {
	latest := s.sched.AllLatest()
	now := time.Now()
	for id, sample := range latest {
		latest[id] = s.markStale(sample, now)
	}
	return latest
}

// GetHistory returns the point's recorded samples with timestamps at
// or after since, oldest first.
func (s *System) GetHistory(pointID string, since time.Time) []model.Sample {
	return s.store.Since(pointID, since)
}

// GetActiveAlerts returns unresolved alerts, highest priority first and
// newest first within a priority. A non-nil filter restricts the result
// to that priority.
func (s *System) GetActiveAlerts(filter *model.AlertPriority) []model.Alert {
	return s.engine.ActiveAlerts(filter)
}

// Acknowledge marks an active alert as seen by an operator and
// persists the transition.
func (s *System) Acknowledge(alertID, user string) error {
	alert, err := s.engine.Acknowledge(alertID, user)
	if err != nil {
		return err
	}
	s.persistAlertUpdate(alert)
	return nil
}

// Resolve closes an active alert and persists the transition. Alerts
// that require acknowledgement must be acknowledged first.
func (s *System) Resolve(alertID string) error {
	alert, err := s.engine.Resolve(alertID)
	if err != nil {
		return err
	}
	s.persistAlertUpdate(alert)
	return nil
}

// Subscribe registers an in-process listener for sample and alert
// events. The returned cancel releases it.
func (s *System) Subscribe() (<-chan model.Event, func()) {
	return s.hub.Subscribe()
}

// GetSystemStatus reports the core's run state and counters.
func (s *System) GetSystemStatus() model.SystemStatus {
	scanned, scanErrors, lastScan := s.sched.Stats()

	s.mu.Lock()
	state := model.StateOffline
	if s.running {
		state = model.StateActive
	}
	startedAt := s.startedAt
	s.mu.Unlock()

	return model.SystemStatus{
		Status:           state,
		PointCount:       s.points.Len(),
		ActiveAlertCount: s.engine.ActiveCount(),
		SubscriberCount:  s.hub.SubscriberCount(),
		ScanStats: model.ScanStats{
			PointsScanned:     scanned,
			ScanErrors:        scanErrors,
			AlertsGenerated:   s.engine.AlertsGenerated(),
			NotificationsSent: s.dispatcher.Sent(),
			LastScanTime:      lastScan,
			StartedAt:         startedAt,
		},
	}
}

// Hub exposes the broadcast hub so the HTTP server can attach.
func (s *System) Hub() *broadcast.Hub {
	return s.hub
}

// AcknowledgeAlert satisfies the broadcast backend for inbound
// websocket commands.
func (s *System) AcknowledgeAlert(alertID, user string) error {
	return s.Acknowledge(alertID, user)
}

// CurrentData satisfies the broadcast backend.
func (s *System) CurrentData() map[string]model.Sample {
	return s.GetAllLatest()
}

// persistAlertUpdate writes a lifecycle transition through to the
// history store. The engine stays the source of truth; persistence
// failures are logged, not propagated.
func (s *System) persistAlertUpdate(alert model.Alert) {
	if s.historyStore == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.historyStore.UpdateAlert(ctx, alert); err != nil {
		s.logger.Error("Failed to persist alert update",
			zap.String("alert_id", alert.ID),
			zap.Error(err))
	}
}

// registerHealthPoints adds the self-monitoring points so staleness
// thresholds and point counts include them. They carry no protocol and
// get no scan task; the health collector records them directly.
func (s *System) registerHealthPoints() {
	scanRate := int(s.healthInterval / time.Millisecond)
	for id, name := range map[string]string{
		monitor.HostCPUPointID:    "Host CPU Usage",
		monitor.HostMemoryPointID: "Host Memory Usage",
	} {
		point := model.MonitoringPoint{
			ID:         id,
			Name:       name,
			DataType:   model.DataTypeFloat,
			ScanRateMS: scanRate,
			Enabled:    true,
		}
		if err := s.points.Add(point); err != nil {
			s.logger.Debug("Health point already registered", zap.String("point_id", id))
		}
	}
}

// markStale re-marks a GOOD sample STALE once its age exceeds the
// point's threshold: three scan intervals, floored at minStaleAge.
// Points missing from the registry keep their reported quality.
func (s *System) markStale(sample model.Sample, now time.Time) model.Sample {
	if sample.Quality != model.QualityGood {
		return sample
	}
	point, ok := s.points.Get(sample.PointID)
	if !ok {
		return sample
	}
	threshold := 3 * point.ScanInterval()
	if threshold < minStaleAge {
		threshold = minStaleAge
	}
	if sample.Age(now) > threshold {
		sample.Quality = model.QualityStale
	}
	return sample
}

// scannable reports whether a point gets its own scan task. Points
// without a protocol (the self-monitoring points) are fed externally.
func scannable(point model.MonitoringPoint) bool {
	return point.Enabled && point.Protocol.Protocol != ""
}

// liveData adapts the system's staleness-marked view to the alert
// engine's data source.
type liveData struct {
	s *System
}

func (d liveData) Latest(pointID string) (model.Sample, bool) {
	return d.s.GetLatest(pointID)
}
