package history

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/farandaway89/scada-ai-system/internal/model"
)

// DefaultQueueSize bounds the fire-and-forget handoff between the
// scan path and the writer goroutine.
const DefaultQueueSize = 1024

// record is one queued write, either a sample or an alert.
type record struct {
	sample *model.Sample
	alert  *model.Alert
}

// AlertFilter narrows an alert history query. The zero value matches
// everything.
type AlertFilter struct {
	Since          time.Time
	Priority       *model.AlertPriority
	UnresolvedOnly bool
}

// Store persists samples and alerts to SQLite. Writes arrive through
// a bounded queue so the scan path never blocks on disk.
type Store struct {
	logger  *zap.Logger
	db      *sql.DB
	queue   chan record
	done    chan struct{}
	started atomic.Bool
	dropped atomic.Uint64
}

// NewStore opens (or creates) the database at dbPath and ensures the
// schema exists.
func NewStore(dbPath string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{
		logger: logger.Named("history"),
		db:     db,
		queue:  make(chan record, DefaultQueueSize),
		done:   make(chan struct{}),
	}

	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// initialize creates the tables and indexes if they don't exist.
func (s *Store) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS monitoring_data (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			point_id TEXT NOT NULL,
			timestamp DATETIME NOT NULL,
			value REAL NOT NULL,
			quality TEXT NOT NULL,
			status TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_monitoring_data_point_time ON monitoring_data(point_id, timestamp);
		CREATE INDEX IF NOT EXISTS idx_monitoring_data_timestamp ON monitoring_data(timestamp);

		CREATE TABLE IF NOT EXISTS alerts (
			alert_id TEXT PRIMARY KEY,
			rule_id TEXT NOT NULL,
			timestamp DATETIME NOT NULL,
			alert_type TEXT NOT NULL,
			priority INTEGER NOT NULL,
			message TEXT NOT NULL,
			source_point TEXT,
			current_value REAL,
			acknowledged INTEGER NOT NULL DEFAULT 0,
			acknowledged_by TEXT,
			acknowledged_time DATETIME,
			resolved INTEGER NOT NULL DEFAULT 0,
			resolved_time DATETIME
		);
		CREATE INDEX IF NOT EXISTS idx_alerts_timestamp ON alerts(timestamp);
		CREATE INDEX IF NOT EXISTS idx_alerts_priority ON alerts(priority);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// Start launches the writer goroutine. The writer flushes whatever is
// still queued when ctx is cancelled, then exits.
func (s *Store) Start(ctx context.Context) {
	s.started.Store(true)
	go s.writeLoop(ctx)
}

// RecordSample queues a sample for persistence. It never blocks; when
// the queue is full the sample is dropped and counted.
func (s *Store) RecordSample(sample model.Sample) {
	s.offer(record{sample: &sample})
}

// RecordAlert queues a triggered alert for persistence.
func (s *Store) RecordAlert(alert model.Alert) {
	s.offer(record{alert: &alert})
}

func (s *Store) offer(rec record) {
	select {
	case s.queue <- rec:
	default:
		if n := s.dropped.Add(1); n == 1 || n%100 == 0 {
			s.logger.Warn("History queue full, dropping records", zap.Uint64("dropped", n))
		}
	}
}

// Dropped returns how many records were lost to a full queue.
func (s *Store) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Store) writeLoop(ctx context.Context) {
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			s.flushRemaining()
			return
		case rec := <-s.queue:
			batch := []record{rec}
			for n := len(s.queue); n > 0; n-- {
				batch = append(batch, <-s.queue)
			}
			if err := s.writeBatch(batch); err != nil {
				s.logger.Error("Failed to persist batch",
					zap.Int("records", len(batch)),
					zap.Error(err))
			}
		}
	}
}

// flushRemaining drains the queue once after shutdown begins.
func (s *Store) flushRemaining() {
	var batch []record
	for {
		select {
		case rec := <-s.queue:
			batch = append(batch, rec)
		default:
			if len(batch) == 0 {
				return
			}
			if err := s.writeBatch(batch); err != nil {
				s.logger.Error("Failed to flush history on shutdown", zap.Error(err))
			}
			return
		}
	}
}

// writeBatch inserts all records in one transaction.
func (s *Store) writeBatch(batch []record) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	for _, rec := range batch {
		switch {
		case rec.sample != nil:
			_, err = tx.Exec(`
				INSERT INTO monitoring_data (point_id, timestamp, value, quality, status)
				VALUES (?, ?, ?, ?, ?)`,
				rec.sample.PointID,
				rec.sample.Timestamp,
				rec.sample.Value,
				string(rec.sample.Quality),
				string(rec.sample.Status),
			)
		case rec.alert != nil:
			a := rec.alert
			_, err = tx.Exec(`
				INSERT INTO alerts (
					alert_id, rule_id, timestamp, alert_type, priority, message,
					source_point, current_value, acknowledged, acknowledged_by,
					acknowledged_time, resolved, resolved_time
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				a.ID,
				a.RuleID,
				a.Timestamp,
				string(a.Type),
				int(a.Priority),
				a.Message,
				a.SourcePoint,
				a.CurrentValue,
				a.Acknowledged,
				sql.NullString{String: a.AcknowledgedBy, Valid: a.AcknowledgedBy != ""},
				nullTime(a.AcknowledgedTime),
				a.Resolved,
				nullTime(a.ResolvedTime),
			)
		}
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// UpdateAlert rewrites an alert's lifecycle columns. Unlike inserts
// this is synchronous; acknowledge/resolve are rare and must stick.
func (s *Store) UpdateAlert(ctx context.Context, alert model.Alert) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET
			acknowledged = ?,
			acknowledged_by = ?,
			acknowledged_time = ?,
			resolved = ?,
			resolved_time = ?
		WHERE alert_id = ?`,
		alert.Acknowledged,
		sql.NullString{String: alert.AcknowledgedBy, Valid: alert.AcknowledgedBy != ""},
		nullTime(alert.AcknowledgedTime),
		alert.Resolved,
		nullTime(alert.ResolvedTime),
		alert.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update alert: %w", err)
	}
	return nil
}

// Samples returns stored samples for a point recorded at or after
// since, oldest first, capped at limit.
func (s *Store) Samples(ctx context.Context, pointID string, since time.Time, limit int) ([]model.Sample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT point_id, timestamp, value, quality, status
		FROM monitoring_data
		WHERE point_id = ? AND timestamp >= ?
		ORDER BY timestamp ASC
		LIMIT ?`,
		pointID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	var samples []model.Sample
	for rows.Next() {
		var sample model.Sample
		var quality, status string
		if err := rows.Scan(&sample.PointID, &sample.Timestamp, &sample.Value, &quality, &status); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		sample.Quality = model.Quality(quality)
		sample.Status = model.PointStatus(status)
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return samples, nil
}

// Alerts returns stored alerts matching the filter, newest first,
// capped at limit.
func (s *Store) Alerts(ctx context.Context, filter AlertFilter, limit int) ([]model.Alert, error) {
	query := `
		SELECT alert_id, rule_id, timestamp, alert_type, priority, message,
		       source_point, current_value, acknowledged, acknowledged_by,
		       acknowledged_time, resolved, resolved_time
		FROM alerts
		WHERE timestamp >= ?`
	args := []interface{}{filter.Since}

	if filter.Priority != nil {
		query += " AND priority = ?"
		args = append(args, int(*filter.Priority))
	}
	if filter.UnresolvedOnly {
		query += " AND resolved = 0"
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []model.Alert
	for rows.Next() {
		var (
			alert       model.Alert
			alertType   string
			priority    int
			ackBy       sql.NullString
			ackTime     sql.NullTime
			resolvedAt  sql.NullTime
			sourcePoint sql.NullString
		)
		err := rows.Scan(
			&alert.ID,
			&alert.RuleID,
			&alert.Timestamp,
			&alertType,
			&priority,
			&alert.Message,
			&sourcePoint,
			&alert.CurrentValue,
			&alert.Acknowledged,
			&ackBy,
			&ackTime,
			&alert.Resolved,
			&resolvedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}

		alert.Type = model.AlertType(alertType)
		alert.Priority = model.AlertPriority(priority)
		if sourcePoint.Valid {
			alert.SourcePoint = sourcePoint.String
		}
		if ackBy.Valid {
			alert.AcknowledgedBy = ackBy.String
		}
		if ackTime.Valid {
			t := ackTime.Time
			alert.AcknowledgedTime = &t
		}
		if resolvedAt.Valid {
			t := resolvedAt.Time
			alert.ResolvedTime = &t
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return alerts, nil
}

// DeleteBefore removes samples and alerts older than the cutoff and
// reports how many rows went away.
func (s *Store) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	var total int64

	res, err := s.db.ExecContext(ctx, "DELETE FROM monitoring_data WHERE timestamp < ?", before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete samples: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}

	res, err = s.db.ExecContext(ctx, "DELETE FROM alerts WHERE timestamp < ?", before)
	if err != nil {
		return total, fmt.Errorf("failed to delete alerts: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}

	return total, nil
}

// Close releases the database. When the writer was started, Close
// must follow context cancellation; it waits for the final flush.
func (s *Store) Close() error {
	if s.started.Load() {
		<-s.done
	}
	return s.db.Close()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
