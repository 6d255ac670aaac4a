package model

import "time"

// SystemState reflects the monitoring core's run state
type SystemState string

const (
	StateActive  SystemState = "active"
	StateOffline SystemState = "offline"
	StateError   SystemState = "error"
)

// ScanStats aggregates the core's operational counters.
type ScanStats struct {
	PointsScanned     uint64    `json:"points_scanned"`
	ScanErrors        uint64    `json:"scan_errors"`
	AlertsGenerated   uint64    `json:"alerts_generated"`
	NotificationsSent uint64    `json:"notifications_sent"`
	LastScanTime      time.Time `json:"last_scan_time"`
	StartedAt         time.Time `json:"started_at"`
}

// SystemStatus is the snapshot reported to dashboards and operators.
type SystemStatus struct {
	Status           SystemState `json:"status"`
	PointCount       int         `json:"point_count"`
	ActiveAlertCount int         `json:"active_alert_count"`
	SubscriberCount  int         `json:"subscriber_count"`
	ScanStats        ScanStats   `json:"scan_stats"`
}
