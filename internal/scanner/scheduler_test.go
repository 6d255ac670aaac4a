package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/farandaway89/scada-ai-system/internal/buffer"
	"github.com/farandaway89/scada-ai-system/internal/model"
)

// fakeReader returns an incrementing value per poll, or a fixed error.
type fakeReader struct {
	mu     sync.Mutex
	value  float64
	err    error
	reads  int
	closed bool
}

func (r *fakeReader) Read(ctx context.Context) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	if r.err != nil {
		return 0, r.err
	}
	r.value++
	return r.value, nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) readCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reads
}

func (r *fakeReader) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func factoryFor(readers map[string]*fakeReader) ReaderFactory {
	return func(point model.MonitoringPoint) (Reader, error) {
		reader, ok := readers[point.ID]
		if !ok {
			return nil, fmt.Errorf("no reader for %s", point.ID)
		}
		return reader, nil
	}
}

func scanPoint(id string, rateMS int, deadband float64) model.MonitoringPoint {
	return model.MonitoringPoint{
		ID:         id,
		Name:       "Point " + id,
		DataType:   model.DataTypeFloat,
		ScanRateMS: rateMS,
		Deadband:   deadband,
		Enabled:    true,
		Protocol: model.ProtocolConfig{
			Protocol: model.ProtocolModbusTCP,
			Host:     "127.0.0.1",
			UnitID:   1,
		},
	}
}

func newTestScheduler(readers map[string]*fakeReader, maxPoints int) (*Scheduler, *buffer.Store) {
	store := buffer.NewStore(100)
	return NewScheduler(factoryFor(readers), store, nil, maxPoints, zap.NewNop()), store
}

func TestSchedulerScansPoint(t *testing.T) {
	reader := &fakeReader{}
	sched, store := newTestScheduler(map[string]*fakeReader{"T001": reader}, 0)
	defer sched.StopAll()

	require.NoError(t, sched.StartPoint(scanPoint("T001", 10, 0)))

	require.Eventually(t, func() bool {
		return reader.readCount() >= 3
	}, 2*time.Second, 5*time.Millisecond)

	latest, ok := sched.Latest("T001")
	require.True(t, ok)
	assert.Equal(t, model.QualityGood, latest.Quality)
	assert.Equal(t, model.StatusOnline, latest.Status)
	assert.GreaterOrEqual(t, latest.Value, 3.0)

	assert.GreaterOrEqual(t, store.Len("T001"), 3)

	scanned, scanErrors, lastScan := sched.Stats()
	assert.GreaterOrEqual(t, scanned, uint64(3))
	assert.Zero(t, scanErrors)
	assert.False(t, lastScan.IsZero())

	sched.StopAll()
	assert.True(t, reader.isClosed())
}

func TestSchedulerRecordsBadSampleOnFailure(t *testing.T) {
	reader := &fakeReader{err: errors.New("device unreachable")}
	sched, _ := newTestScheduler(map[string]*fakeReader{"P001": reader}, 0)
	defer sched.StopAll()

	require.NoError(t, sched.StartPoint(scanPoint("P001", 10, 0)))

	require.Eventually(t, func() bool {
		latest, ok := sched.Latest("P001")
		return ok && latest.Quality == model.QualityBad
	}, 2*time.Second, 5*time.Millisecond)

	latest, _ := sched.Latest("P001")
	assert.Equal(t, model.StatusOffline, latest.Status)
	assert.Zero(t, latest.Value, "no last known value to carry")

	_, scanErrors, _ := sched.Stats()
	assert.Greater(t, scanErrors, uint64(0))
}

func TestSchedulerPointIsolation(t *testing.T) {
	healthy := &fakeReader{}
	failing := &fakeReader{err: errors.New("timeout")}
	sched, _ := newTestScheduler(map[string]*fakeReader{"T001": healthy, "F001": failing}, 0)
	defer sched.StopAll()

	require.NoError(t, sched.StartPoint(scanPoint("T001", 10, 0)))
	require.NoError(t, sched.StartPoint(scanPoint("F001", 10, 0)))

	require.Eventually(t, func() bool {
		good, okGood := sched.Latest("T001")
		bad, okBad := sched.Latest("F001")
		return okGood && okBad && good.Quality == model.QualityGood && bad.Quality == model.QualityBad
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSchedulerDeadband(t *testing.T) {
	sched, store := newTestScheduler(nil, 0)
	point := scanPoint("T001", 1000, 5.0)

	var delivered []model.Sample
	var mu sync.Mutex
	sched.AddSink(func(sample model.Sample) {
		mu.Lock()
		delivered = append(delivered, sample)
		mu.Unlock()
	})

	record := func(value float64, quality model.Quality, status model.PointStatus) {
		sched.Record(point, model.Sample{
			PointID:   "T001",
			Timestamp: time.Now(),
			Value:     value,
			Quality:   quality,
			Status:    status,
		})
	}

	record(100, model.QualityGood, model.StatusOnline) // first sample, recorded
	record(102, model.QualityGood, model.StatusOnline) // within deadband, gated
	record(106, model.QualityGood, model.StatusOnline) // beyond deadband, recorded
	record(107, model.QualityBad, model.StatusOffline) // quality change, recorded
	record(107, model.QualityBad, model.StatusOffline) // no change, gated

	assert.Equal(t, 3, store.Len("T001"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, delivered, 3)
	assert.Equal(t, 100.0, delivered[0].Value)
	assert.Equal(t, 106.0, delivered[1].Value)
	assert.Equal(t, model.QualityBad, delivered[2].Quality)

	// The live value always reflects the newest poll, even when gated.
	latest, ok := sched.Latest("T001")
	require.True(t, ok)
	assert.Equal(t, 107.0, latest.Value)
}

func TestSchedulerStartPointValidation(t *testing.T) {
	reader := &fakeReader{}
	sched, _ := newTestScheduler(map[string]*fakeReader{"T001": reader}, 1)
	defer sched.StopAll()

	t.Run("Disabled Point Rejected", func(t *testing.T) {
		disabled := scanPoint("T001", 10, 0)
		disabled.Enabled = false
		err := sched.StartPoint(disabled)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disabled")
	})

	t.Run("Duplicate Rejected", func(t *testing.T) {
		require.NoError(t, sched.StartPoint(scanPoint("T001", 10, 0)))
		err := sched.StartPoint(scanPoint("T001", 10, 0))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already scanned")
	})

	t.Run("Task Limit Enforced", func(t *testing.T) {
		err := sched.StartPoint(scanPoint("T002", 10, 0))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "limit")
	})

	t.Run("Factory Failure Propagates", func(t *testing.T) {
		sched, _ := newTestScheduler(map[string]*fakeReader{}, 0)
		defer sched.StopAll()
		err := sched.StartPoint(scanPoint("GHOST", 10, 0))
		require.Error(t, err)
		assert.False(t, sched.Running("GHOST"))
	})
}

func TestSchedulerStopPoint(t *testing.T) {
	reader := &fakeReader{}
	sched, store := newTestScheduler(map[string]*fakeReader{"T001": reader}, 0)
	defer sched.StopAll()

	require.NoError(t, sched.StartPoint(scanPoint("T001", 10, 0)))
	require.Eventually(t, func() bool {
		return reader.readCount() >= 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, sched.StopPoint("T001"))

	assert.False(t, sched.Running("T001"))
	assert.True(t, reader.isClosed())
	assert.Zero(t, store.Len("T001"), "history dropped with the task")
	_, ok := sched.Latest("T001")
	assert.False(t, ok)

	t.Run("Stop Unknown Point", func(t *testing.T) {
		require.Error(t, sched.StopPoint("T001"))
	})
}
