package models

import (
	"time"

	"github.com/google/uuid"
)

type JoinType string

const (
	JoinLeft  JoinType = "LEFT"
	JoinInner JoinType = "INNER"
)

type EnrichmentStatus string

const (
	EnrichmentPending EnrichmentStatus = "pending"
	EnrichmentActive  EnrichmentStatus = "active"
	EnrichmentFailed  EnrichmentStatus = "failed"
	EnrichmentStopped EnrichmentStatus = "stopped"
)

type LookupTable struct {
	Name      string   `json:"name"`
	Topic     string   `json:"topic"`
	KeyColumn string   `json:"key_column"`
	Alias     string   `json:"alias"`
	KsqlTable string   `json:"ksql_table"`
	Schema    []Column `json:"schema"`
}

type JoinKey struct {
	StreamColumn string `json:"stream_column"`
	TableColumn  string `json:"table_column"`
	TableAlias   string `json:"table_alias"`
}

// Enrichment is a stream-table JOIN derived from a pipeline's source stream.
// Deleting the pipeline cascades to its enrichments.
type Enrichment struct {
	ID            uuid.UUID
	PipelineID    uuid.UUID
	SourceStream  string
	SourceTopic   string
	LookupTables  []LookupTable
	JoinType      JoinType
	JoinKeys      []JoinKey
	OutputColumns []string
	OutputStream  string
	OutputTopic   string
	QueryID       string
	Status        EnrichmentStatus
	CreatedAt     time.Time
}
