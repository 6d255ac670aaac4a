package model

import "time"

// EventType tags the payload kind on the subscriber stream
type EventType string

const (
	EventSample EventType = "sample"
	EventAlert  EventType = "alert"
)

// Event is the discriminated payload pushed to live subscribers.
// Timestamps serialize as RFC 3339 via encoding/json.
type Event struct {
	Type      EventType   `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewSampleEvent wraps a sample for broadcast.
func NewSampleEvent(s Sample) Event {
	return Event{Type: EventSample, Data: s, Timestamp: s.Timestamp}
}

// NewAlertEvent wraps an alert for broadcast.
func NewAlertEvent(a Alert) Event {
	return Event{Type: EventAlert, Data: a, Timestamp: a.Timestamp}
}
