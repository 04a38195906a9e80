package models

import (
	"time"

	"github.com/google/uuid"
)

type ResourceKind string

const (
	ResourceKafkaTopic      ResourceKind = "kafka_topic"
	ResourceKsqlStream      ResourceKind = "ksqldb_stream"
	ResourceKsqlTable       ResourceKind = "ksqldb_table"
	ResourceSourceConnector ResourceKind = "source_connector"
	ResourceSinkConnector   ResourceKind = "sink_connector"
	ResourceSinkTable       ResourceKind = "clickhouse_table"
	ResourceSinkDatabase    ResourceKind = "clickhouse_database"
	ResourceAlertRule       ResourceKind = "alert_rule"
	ResourceDebeziumSlot    ResourceKind = "debezium_slot"
	ResourceDebeziumPub     ResourceKind = "debezium_publication"
)

type ResourceStatus string

const (
	ResourcePending  ResourceStatus = "pending"
	ResourceCreating ResourceStatus = "creating"
	ResourceActive   ResourceStatus = "active"
	ResourceFailed   ResourceStatus = "failed"
	ResourceDeleting ResourceStatus = "deleting"
	ResourceDeleted  ResourceStatus = "deleted"
	ResourceOrphaned ResourceStatus = "orphaned"
)

// TrackedResource is one ledger entry for an externally created, billable
// artifact. A pipeline in deleted state must have no active entries.
type TrackedResource struct {
	PipelineID uuid.UUID
	Kind       ResourceKind
	ExternalID string
	Name       string
	Status     ResourceStatus
	Metadata   map[string]any
	DependsOn  []string // external ids
	Error      string
	CreatedAt  time.Time
	DeletedAt  *time.Time
}
