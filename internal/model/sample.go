package model

import "time"

// Quality indicates whether a sample's value is trustworthy
type Quality string

const (
	QualityGood  Quality = "GOOD"
	QualityBad   Quality = "BAD"
	QualityStale Quality = "STALE"
)

// PointStatus indicates device reachability at sample time
type PointStatus string

const (
	StatusOnline  PointStatus = "ONLINE"
	StatusOffline PointStatus = "OFFLINE"
)

// Sample is one acquired value for a monitoring point. Samples are
// immutable once created; readers always receive copies.
type Sample struct {
	PointID   string      `json:"point_id"`
	Timestamp time.Time   `json:"timestamp"`
	Value     float64     `json:"value"`
	Quality   Quality     `json:"quality"`
	Status    PointStatus `json:"status"`
}

// NewSample builds a GOOD/ONLINE sample stamped now.
func NewSample(pointID string, value float64) Sample {
	return Sample{
		PointID:   pointID,
		Timestamp: time.Now(),
		Value:     value,
		Quality:   QualityGood,
		Status:    StatusOnline,
	}
}

// NewBadSample builds the BAD/OFFLINE sample recorded after a read
// fails all its retries. The value carries the last known reading,
// zero when none exists.
func NewBadSample(pointID string, lastValue float64) Sample {
	return Sample{
		PointID:   pointID,
		Timestamp: time.Now(),
		Value:     lastValue,
		Quality:   QualityBad,
		Status:    StatusOffline,
	}
}

// Age reports how old the sample is at the given instant.
func (s Sample) Age(now time.Time) time.Duration {
	return now.Sub(s.Timestamp)
}
