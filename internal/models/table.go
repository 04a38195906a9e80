package models

import (
	"time"

	"github.com/google/uuid"
)

type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
	Ordinal  int    `json:"ordinal"`
}

type ForeignKey struct {
	Column       string `json:"column"`
	RefSchema    string `json:"ref_schema"`
	RefTable     string `json:"ref_table"`
	RefColumn    string `json:"ref_column"`
	ConstraintID string `json:"constraint"`
}

type ReplicaIdentity string

const (
	ReplicaIdentityDefault ReplicaIdentity = "default"
	ReplicaIdentityFull    ReplicaIdentity = "full"
	ReplicaIdentityIndex   ReplicaIdentity = "index"
	ReplicaIdentityNothing ReplicaIdentity = "nothing"
)

// DiscoveredTable is the cached introspection result for one
// (credential, schema, table); upserted on re-discovery.
type DiscoveredTable struct {
	ID              uuid.UUID
	CredentialID    uuid.UUID
	SchemaName      string
	TableName       string
	Columns         []Column
	PrimaryKey      []string
	ForeignKeys     []ForeignKey
	RowEstimate     int64
	SizeBytes       int64
	HasPrimaryKey   bool
	CDCEligible     bool
	Issues          []string
	ReplicaIdentity ReplicaIdentity
	DiscoveredAt    time.Time
}

func (t *DiscoveredTable) QualifiedName() string {
	return t.SchemaName + "." + t.TableName
}

func (t *DiscoveredTable) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

type RelationshipEdge struct {
	FromTable string `json:"from"`
	ToTable   string `json:"to"`
	ViaColumn string `json:"via"`
}

type RelationshipGraph struct {
	Nodes []string           `json:"nodes"`
	Edges []RelationshipEdge `json:"edges"`
}

// DiscoveryResult bundles a discovery run over one schema.
type DiscoveryResult struct {
	Tables        []DiscoveredTable
	Relationships RelationshipGraph
}

// FilterPreview is the result of applying a candidate predicate to live data.
type FilterPreview struct {
	MatchingCount int64
	SampleRows    []map[string]any
	Error         string
}
