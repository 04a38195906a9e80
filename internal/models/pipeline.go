package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type PipelineStatus string

const (
	PipelineStatusPending PipelineStatus = "pending"
	PipelineStatusRunning PipelineStatus = "running"
	PipelineStatusPaused  PipelineStatus = "paused"
	PipelineStatusStopped PipelineStatus = "stopped"
	PipelineStatusFailed  PipelineStatus = "failed"
	PipelineStatusDeleted PipelineStatus = "deleted"
)

// validTransitions encodes the state machine of §status. "failed" and
// "deleted" are reachable from anywhere; "deleted" is terminal.
var validTransitions = map[PipelineStatus][]PipelineStatus{
	PipelineStatusPending: {PipelineStatusRunning, PipelineStatusFailed, PipelineStatusDeleted},
	PipelineStatusRunning: {PipelineStatusPaused, PipelineStatusStopped, PipelineStatusFailed, PipelineStatusDeleted},
	PipelineStatusPaused:  {PipelineStatusRunning, PipelineStatusStopped, PipelineStatusFailed, PipelineStatusDeleted},
	PipelineStatusStopped: {PipelineStatusRunning, PipelineStatusFailed, PipelineStatusDeleted},
	PipelineStatusFailed:  {PipelineStatusRunning, PipelineStatusStopped, PipelineStatusDeleted},
	PipelineStatusDeleted: {},
}

func (s PipelineStatus) CanTransitionTo(next PipelineStatus) bool {
	for _, t := range validTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// InvalidTransitionError is returned when a requested status change is not
// allowed by the pipeline state machine.
type InvalidTransitionError struct {
	Current   PipelineStatus
	Requested PipelineStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition from %s to %s", e.Current, e.Requested)
}

type FilterConfig struct {
	Column      string   `json:"column"`
	Operator    string   `json:"operator"`
	Values      []string `json:"values"`
	SQLWhere    string   `json:"sql_where"`
	Description string   `json:"description"`
	Confidence  float64  `json:"confidence"`
}

type Pipeline struct {
	ID              uuid.UUID
	UserID          string
	Name            string
	CredentialID    uuid.UUID
	SourceKind      string
	Tables          []string // schema-qualified, e.g. "public.orders"
	Filter          *FilterConfig
	TemplateID      *uuid.UUID
	SinkKind        string
	SinkConfig      map[string]any
	SourceConnector string
	SinkConnector   string
	Status          PipelineStatus
	LastHealthCheck *time.Time
	ErrorMessage    string
	Metrics         map[string]any
	CreatedAt       time.Time
	StartedAt       *time.Time
	StoppedAt       *time.Time
	DeletedAt       *time.Time
}

// HexID is the pipeline UUID without separators. It seeds every external
// name (topic prefix, slot, publication, connector suffix) so that a retried
// start reattaches to artifacts from a previous attempt.
func (p *Pipeline) HexID() string {
	return strings.ReplaceAll(p.ID.String(), "-", "")
}

func (p *Pipeline) ShortHexID() string {
	return p.HexID()[:12]
}

type PipelineEventKind string

const (
	EventCreated PipelineEventKind = "created"
	EventStarted PipelineEventKind = "started"
	EventPaused  PipelineEventKind = "paused"
	EventResumed PipelineEventKind = "resumed"
	EventStopped PipelineEventKind = "stopped"
	EventFailed  PipelineEventKind = "failed"
	EventDeleted PipelineEventKind = "deleted"
	EventError   PipelineEventKind = "error"
)

// PipelineEvent is an append-only audit record; one row per transition.
type PipelineEvent struct {
	ID         uuid.UUID
	PipelineID uuid.UUID
	Kind       PipelineEventKind
	Message    string
	Details    map[string]any
	CreatedAt  time.Time
}
