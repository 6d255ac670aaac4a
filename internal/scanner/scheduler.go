package scanner

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/farandaway89/scada-ai-system/internal/buffer"
	"github.com/farandaway89/scada-ai-system/internal/metrics"
	"github.com/farandaway89/scada-ai-system/internal/model"
)

// DefaultMaxPoints caps concurrent scan tasks when no limit is given.
const DefaultMaxPoints = 512

// Reader yields one value per poll from a device. Each scan task owns
// one reader for the lifetime of its point.
type Reader interface {
	Read(ctx context.Context) (float64, error)
	Close() error
}

// ReaderFactory builds the device reader for a point when its scan task
// starts.
type ReaderFactory func(point model.MonitoringPoint) (Reader, error)

// SampleSink receives every recorded sample. Sinks run on the scan
// task's goroutine and must not block.
type SampleSink func(sample model.Sample)

// Scheduler runs one polling task per enabled point, each at its own
// scan rate. Samples pass through deadband gating before they reach the
// ring buffer and the registered sinks; the live value of every point is
// always refreshed regardless of gating.
type Scheduler struct {
	logger    *zap.Logger
	factory   ReaderFactory
	store     *buffer.Store
	metrics   *metrics.Metrics
	maxPoints int

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.RWMutex
	tasks   map[string]*scanTask
	current map[string]model.Sample
	sinks   []SampleSink

	pointsScanned atomic.Uint64
	scanErrors    atomic.Uint64
	lastScanNano  atomic.Int64
}

type scanTask struct {
	point  model.MonitoringPoint
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a scheduler. maxPoints bounds concurrent scan
// tasks; zero or negative selects DefaultMaxPoints.
func NewScheduler(factory ReaderFactory, store *buffer.Store, m *metrics.Metrics, maxPoints int, logger *zap.Logger) *Scheduler {
	if maxPoints <= 0 {
		maxPoints = DefaultMaxPoints
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		logger:    logger.Named("scanner"),
		factory:   factory,
		store:     store,
		metrics:   m,
		maxPoints: maxPoints,
		baseCtx:   ctx,
		stop:      cancel,
		tasks:     make(map[string]*scanTask),
		current:   make(map[string]model.Sample),
	}
}

// AddSink registers a recorded-sample consumer.
func (s *Scheduler) AddSink(sink SampleSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, sink)
}

// StartPoint launches the scan task for a point. The first poll runs
// immediately, then every ScanInterval, with the poll's own duration
// subtracted so the cadence does not drift.
func (s *Scheduler) StartPoint(point model.MonitoringPoint) error {
	if err := point.Validate(); err != nil {
		return err
	}
	if !point.Enabled {
		return fmt.Errorf("point %s is disabled", point.ID)
	}

	s.mu.Lock()
	if _, running := s.tasks[point.ID]; running {
		s.mu.Unlock()
		return fmt.Errorf("point %s is already scanned", point.ID)
	}
	if len(s.tasks) >= s.maxPoints {
		s.mu.Unlock()
		return fmt.Errorf("scan task limit reached (%d points)", s.maxPoints)
	}

	reader, err := s.factory(point)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("point %s: %w", point.ID, err)
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	task := &scanTask{point: point, cancel: cancel, done: make(chan struct{})}
	s.tasks[point.ID] = task
	active := len(s.tasks)
	s.mu.Unlock()

	s.metrics.SetActivePoints(active)
	s.wg.Add(1)
	go s.runTask(ctx, task, reader)

	s.logger.Info("Scan task started",
		zap.String("point_id", point.ID),
		zap.String("protocol", string(point.Protocol.Protocol)),
		zap.Duration("interval", point.ScanInterval()))
	return nil
}

// StopPoint stops a point's scan task and waits for its current poll to
// finish. The point's history and live value are discarded.
func (s *Scheduler) StopPoint(id string) error {
	s.mu.Lock()
	task, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("point %s is not scanned", id)
	}
	delete(s.tasks, id)
	active := len(s.tasks)
	s.mu.Unlock()

	task.cancel()
	<-task.done

	// The task is done; a final in-flight poll can no longer race the
	// removal of the live value.
	s.mu.Lock()
	delete(s.current, id)
	s.mu.Unlock()

	s.store.Drop(id)
	s.metrics.SetActivePoints(active)
	s.logger.Info("Scan task stopped", zap.String("point_id", id))
	return nil
}

// StopAll stops every scan task and waits for in-flight polls.
func (s *Scheduler) StopAll() {
	s.stop()
	s.wg.Wait()

	s.mu.Lock()
	s.tasks = make(map[string]*scanTask)
	s.mu.Unlock()
	s.metrics.SetActivePoints(0)
}

// Running reports whether a point currently has a scan task.
func (s *Scheduler) Running(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tasks[id]
	return ok
}

// RunningCount returns the number of active scan tasks.
func (s *Scheduler) RunningCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// Latest returns a point's most recent sample, gated or not.
func (s *Scheduler) Latest(id string) (model.Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sample, ok := s.current[id]
	return sample, ok
}

// AllLatest returns the most recent sample of every scanned point.
func (s *Scheduler) AllLatest() map[string]model.Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := make(map[string]model.Sample, len(s.current))
	for id, sample := range s.current {
		latest[id] = sample
	}
	return latest
}

// Stats returns scan counters and the time of the most recent poll.
func (s *Scheduler) Stats() (scanned, errors uint64, lastScan time.Time) {
	if nano := s.lastScanNano.Load(); nano > 0 {
		lastScan = time.Unix(0, nano)
	}
	return s.pointsScanned.Load(), s.scanErrors.Load(), lastScan
}

// Record feeds a sample through the recording pipeline: refresh the
// live value, bump counters, then deadband-gate the ring buffer append
// and the sink fan-out. Collectors for derived points share this path
// with scan tasks.
func (s *Scheduler) Record(point model.MonitoringPoint, sample model.Sample) {
	s.pointsScanned.Add(1)
	s.lastScanNano.Store(sample.Timestamp.UnixNano())
	s.metrics.RecordSample(string(sample.Quality))

	recorded := s.shouldRecord(point, sample)

	s.mu.Lock()
	s.current[sample.PointID] = sample
	sinks := s.sinks
	s.mu.Unlock()

	if !recorded {
		return
	}

	s.store.Append(sample)
	for _, sink := range sinks {
		sink(sample)
	}
}

// shouldRecord applies the point's deadband against the last recorded
// sample. First samples and quality or status transitions always pass.
func (s *Scheduler) shouldRecord(point model.MonitoringPoint, sample model.Sample) bool {
	last, ok := s.store.Latest(sample.PointID)
	if !ok {
		return true
	}
	if sample.Quality != last.Quality || sample.Status != last.Status {
		return true
	}
	if point.Deadband <= 0 {
		return true
	}
	return math.Abs(sample.Value-last.Value) >= point.Deadband
}

func (s *Scheduler) runTask(ctx context.Context, task *scanTask, reader Reader) {
	defer s.wg.Done()
	defer close(task.done)
	defer reader.Close()

	interval := task.point.ScanInterval()
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		start := time.Now()
		s.scanOnce(ctx, task.point, reader)

		next := interval - time.Since(start)
		if next < 0 {
			next = 0
		}
		timer.Reset(next)
	}
}

// scanOnce polls the device once and records the outcome. A failed poll
// records a BAD sample carrying the last known value so downstream
// consumers see the point go unhealthy instead of disappearing.
func (s *Scheduler) scanOnce(ctx context.Context, point model.MonitoringPoint, reader Reader) {
	value, err := reader.Read(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.scanErrors.Add(1)
		s.metrics.RecordScanError()
		s.logger.Warn("Scan failed",
			zap.String("point_id", point.ID),
			zap.Error(err))

		lastValue := 0.0
		if last, ok := s.Latest(point.ID); ok {
			lastValue = last.Value
		}
		s.Record(point, model.NewBadSample(point.ID, lastValue))
		return
	}

	s.Record(point, model.NewSample(point.ID, value))
}
