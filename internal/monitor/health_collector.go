package monitor

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/farandaway89/scada-ai-system/internal/model"
)

// Host usage is published through the same pipeline as process data so
// alert rules can watch the SCADA host itself.
const (
	HostCPUPointID    = "SYS.CPU"
	HostMemoryPointID = "SYS.MEM"
)

// DefaultHealthInterval is how often host metrics are sampled.
const DefaultHealthInterval = 10 * time.Second

// SampleRecorder ingests samples produced outside the device scan
// loop. The scanner scheduler satisfies this.
type SampleRecorder interface {
	Record(point model.MonitoringPoint, sample model.Sample)
}

// HealthCollector samples host CPU and memory usage and records them
// as synthetic monitoring points.
type HealthCollector struct {
	logger   *zap.Logger
	recorder SampleRecorder
	interval time.Duration
	stop     chan struct{}
}

// NewHealthCollector creates a collector recording host usage every
// interval. A non-positive interval falls back to
// DefaultHealthInterval.
func NewHealthCollector(recorder SampleRecorder, interval time.Duration, logger *zap.Logger) *HealthCollector {
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	return &HealthCollector{
		logger:   logger.Named("health-collector"),
		recorder: recorder,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start begins periodic collection. The loop runs until ctx is
// cancelled or Stop is called.
func (c *HealthCollector) Start(ctx context.Context) {
	c.logger.Info("Starting health collector", zap.Duration("interval", c.interval))
	go c.collectLoop(ctx)
}

// Stop halts collection. Stop must be called at most once.
func (c *HealthCollector) Stop() {
	c.logger.Info("Stopping health collector")
	close(c.stop)
}

func (c *HealthCollector) collectLoop(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

// collect samples host usage once. cpu.Percent blocks for a second to
// measure a delta, so collect stays off the caller's goroutine.
func (c *HealthCollector) collect() {
	cpuPercent, err := cpu.Percent(time.Second, false)
	if err != nil || len(cpuPercent) == 0 {
		c.logger.Error("Failed to get CPU usage", zap.Error(err))
		return
	}

	memInfo, err := mem.VirtualMemory()
	if err != nil {
		c.logger.Error("Failed to get memory usage", zap.Error(err))
		return
	}

	c.record(HostCPUPointID, "Host CPU Usage", cpuPercent[0])
	c.record(HostMemoryPointID, "Host Memory Usage", memInfo.UsedPercent)

	c.logger.Debug("Host metrics collected",
		zap.Float64("cpu_usage", cpuPercent[0]),
		zap.Float64("memory_usage", memInfo.UsedPercent))
}

func (c *HealthCollector) record(id, name string, value float64) {
	point := model.MonitoringPoint{
		ID:         id,
		Name:       name,
		DataType:   model.DataTypeFloat,
		ScanRateMS: int(c.interval / time.Millisecond),
		Enabled:    true,
	}
	c.recorder.Record(point, model.NewSample(id, value))
}
