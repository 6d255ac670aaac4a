package history

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	// DefaultRetentionSchedule sweeps nightly at 03:00.
	DefaultRetentionSchedule = "0 0 3 * * *"
	// DefaultRetentionAge keeps thirty days of history.
	DefaultRetentionAge = 30 * 24 * time.Hour
)

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err))
}

// Retention prunes old history rows on a cron schedule.
type Retention struct {
	logger *zap.Logger
	store  *Store
	cron   *cron.Cron
	maxAge time.Duration
}

// NewRetention creates a sweeper for the store. Empty schedule and
// non-positive maxAge fall back to the defaults.
func NewRetention(store *Store, schedule string, maxAge time.Duration, logger *zap.Logger) (*Retention, error) {
	if schedule == "" {
		schedule = DefaultRetentionSchedule
	}
	if maxAge <= 0 {
		maxAge = DefaultRetentionAge
	}

	l := logger.Named("retention")
	r := &Retention{
		logger: l,
		store:  store,
		maxAge: maxAge,
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(&cronLogger{logger: l})),
		),
	}

	if _, err := r.cron.AddFunc(schedule, r.sweep); err != nil {
		return nil, fmt.Errorf("invalid retention schedule: %w", err)
	}
	return r, nil
}

// Start begins scheduled sweeping.
func (r *Retention) Start() {
	r.logger.Info("Starting retention sweeper", zap.Duration("max_age", r.maxAge))
	r.cron.Start()
}

// Stop waits for any running sweep to finish.
func (r *Retention) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

// sweep deletes rows older than the retention window.
func (r *Retention) sweep() {
	cutoff := time.Now().Add(-r.maxAge)
	deleted, err := r.store.DeleteBefore(context.Background(), cutoff)
	if err != nil {
		r.logger.Error("Retention sweep failed", zap.Error(err))
		return
	}
	r.logger.Info("Retention sweep complete",
		zap.Time("cutoff", cutoff),
		zap.Int64("deleted", deleted))
}
