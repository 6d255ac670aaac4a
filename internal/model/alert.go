package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// AlertPriority orders alerts from LOW to EMERGENCY. The numeric
// values are part of the stored representation and must not change.
type AlertPriority int

const (
	PriorityLow AlertPriority = iota + 1
	PriorityMedium
	PriorityHigh
	PriorityCritical
	PriorityEmergency
)

var priorityNames = map[AlertPriority]string{
	PriorityLow:       "LOW",
	PriorityMedium:    "MEDIUM",
	PriorityHigh:      "HIGH",
	PriorityCritical:  "CRITICAL",
	PriorityEmergency: "EMERGENCY",
}

func (p AlertPriority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("PRIORITY(%d)", int(p))
}

// Valid reports whether p is one of the defined priorities.
func (p AlertPriority) Valid() bool {
	_, ok := priorityNames[p]
	return ok
}

// ParsePriority converts a priority name to its ordered value.
func ParsePriority(s string) (AlertPriority, error) {
	for p, name := range priorityNames {
		if strings.EqualFold(s, name) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown alert priority: %q", s)
}

// MarshalJSON encodes the priority by name so payloads stay readable
// across consumers.
func (p AlertPriority) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *AlertPriority) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n int
		if err2 := json.Unmarshal(data, &n); err2 == nil {
			*p = AlertPriority(n)
			return nil
		}
		return err
	}
	parsed, err := ParsePriority(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// AlertType classifies what kind of condition an alert reports
type AlertType string

const (
	AlertSystemFault            AlertType = "system_fault"
	AlertProcessAlarm           AlertType = "process_alarm"
	AlertSecurityBreach         AlertType = "security_breach"
	AlertEquipmentFailure       AlertType = "equipment_failure"
	AlertQualityDeviation       AlertType = "quality_deviation"
	AlertMaintenanceDue         AlertType = "maintenance_due"
	AlertPerformanceDegradation AlertType = "performance_degradation"
)

// AlertRule is an externally configured alerting condition. Rules are
// read-only to the engine at evaluation time.
type AlertRule struct {
	ID                      string        `json:"rule_id"`
	Name                    string        `json:"name"`
	Condition               string        `json:"condition"`
	Type                    AlertType     `json:"alert_type"`
	Priority                AlertPriority `json:"priority"`
	MessageTemplate         string        `json:"message_template"`
	CooldownMinutes         int           `json:"cooldown_minutes"`
	Enabled                 bool          `json:"enabled"`
	AcknowledgementRequired bool          `json:"acknowledgement_required"`
}

// Cooldown returns the minimum interval between successive triggers.
func (r AlertRule) Cooldown() time.Duration {
	return time.Duration(r.CooldownMinutes) * time.Minute
}

// Alert is one trigger instance of a rule. Lifecycle:
// Active -> Acknowledged -> Resolved, or Active -> Resolved directly.
// A resolved alert never transitions further.
type Alert struct {
	ID                      string        `json:"alert_id"`
	RuleID                  string        `json:"rule_id"`
	Timestamp               time.Time     `json:"timestamp"`
	Type                    AlertType     `json:"alert_type"`
	Priority                AlertPriority `json:"priority"`
	Message                 string        `json:"message"`
	SourcePoint             string        `json:"source_point"`
	CurrentValue            float64       `json:"current_value"`
	Acknowledged            bool          `json:"acknowledged"`
	AcknowledgedBy          string        `json:"acknowledged_by,omitempty"`
	AcknowledgedTime        *time.Time    `json:"acknowledged_time,omitempty"`
	Resolved                bool          `json:"resolved"`
	ResolvedTime            *time.Time    `json:"resolved_time,omitempty"`
	AcknowledgementRequired bool          `json:"acknowledgement_required"`
}
