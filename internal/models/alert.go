package models

import (
	"time"

	"github.com/google/uuid"
)

type RuleKind string

const (
	RuleVolumeSpike  RuleKind = "volume_spike"
	RuleVolumeDrop   RuleKind = "volume_drop"
	RuleGapDetection RuleKind = "gap_detection"
	RuleNullRatio    RuleKind = "null_ratio"
	RuleCardinality  RuleKind = "cardinality"
	RuleRowCountDrop RuleKind = "row_count_drop"
	RuleTypeCoercion RuleKind = "type_coercion"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AlertRule is a monitoring rule scoped to a pipeline or, with a nil
// PipelineID, to all of a user's pipelines.
type AlertRule struct {
	ID            uuid.UUID
	UserID        string
	PipelineID    *uuid.UUID
	Name          string
	Kind          RuleKind
	Thresholds    map[string]any // kind-specific, coerced with cast at use site
	EnabledDays   []time.Weekday
	EnabledHours  []int // empty = unrestricted
	Cooldown      time.Duration
	Severity      Severity
	Recipients    []string
	Active        bool
	LastTriggered *time.Time
	TriggerCount  int
	CreatedAt     time.Time
}

// ScheduledToday reports whether the rule's weekday gate passes at t.
func (r *AlertRule) ScheduledToday(t time.Time) bool {
	if len(r.EnabledDays) == 0 {
		return true
	}
	for _, d := range r.EnabledDays {
		if d == t.Weekday() {
			return true
		}
	}
	return false
}

// ScheduledHour reports whether the rule's hour gate passes at t.
func (r *AlertRule) ScheduledHour(t time.Time) bool {
	if len(r.EnabledHours) == 0 {
		return true
	}
	for _, h := range r.EnabledHours {
		if h == t.Hour() {
			return true
		}
	}
	return false
}

// InCooldown reports whether a dispatch at t would violate the rule cooldown.
func (r *AlertRule) InCooldown(t time.Time) bool {
	return r.LastTriggered != nil && t.Sub(*r.LastTriggered) < r.Cooldown
}

// Anomaly is a single rule verdict produced by the anomaly engine.
type Anomaly struct {
	Kind     RuleKind
	Severity Severity
	Title    string
	Message  string
	Details  map[string]any
}

type AlertHistory struct {
	ID            uuid.UUID
	RuleID        uuid.UUID
	Kind          RuleKind
	Severity      Severity
	Title         string
	Body          string
	Details       map[string]any
	EmailSent     bool
	DeliveredAt   *time.Time
	Recipients    []string
	DeliveryError string
	TriggeredAt   time.Time
}
