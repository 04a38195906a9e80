package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cast"

	"github.com/dataflowhq/control-plane/internal"
	"github.com/dataflowhq/control-plane/internal/client"
	"github.com/dataflowhq/control-plane/internal/models"
	"github.com/dataflowhq/control-plane/internal/registry"
)

// PipelineStore persists pipeline aggregates. Writes that pair a pipeline
// row with its event are committed in one transaction.
type PipelineStore interface {
	CreatePipeline(ctx context.Context, p *models.Pipeline, e models.PipelineEvent) error
	UpdatePipeline(ctx context.Context, p *models.Pipeline, e *models.PipelineEvent) error
	GetPipeline(ctx context.Context, userID string, id uuid.UUID) (*models.Pipeline, error)
	ListEnrichments(ctx context.Context, pipelineID uuid.UUID) ([]models.Enrichment, error)
	UpdateEnrichment(ctx context.Context, e *models.Enrichment) error
	DeleteAlertRule(ctx context.Context, ruleID uuid.UUID) error
	ListDiscoveredTables(ctx context.Context, credentialID uuid.UUID) ([]models.DiscoveredTable, error)
}

type CredentialVault interface {
	Open(ctx context.Context, userID string, id uuid.UUID) (models.SourceSecret, error)
}

type ConnectorPlane interface {
	CreateConnector(ctx context.Context, name string, config map[string]string) error
	DeleteConnector(ctx context.Context, name string) error
	Pause(ctx context.Context, name string) error
	Resume(ctx context.Context, name string) error
}

type StreamProcessor interface {
	Execute(ctx context.Context, statement string, props map[string]string) (*client.KsqlResult, error)
}

type TopicAdmin interface {
	CreateTopic(ctx context.Context, name string, spec client.TopicSpec) error
	ListTopics(ctx context.Context, prefix string) ([]string, error)
	DeleteTopics(ctx context.Context, names ...string) error
}

// SchemaSubjects is the registry surface the orchestrator consumes: schema
// lookup when declaring streams, subject cleanup on teardown.
type SchemaSubjects interface {
	LatestSchemaID(ctx context.Context, subject string) (int, error)
	DeleteSubject(ctx context.Context, subject string, permanent bool) error
}

// SinkTables is the warehouse adapter slice used during provisioning.
type SinkTables interface {
	EnsureTable(ctx context.Context, sinkKind, database, table string, source []models.Column, primaryKey []string) (string, error)
	Exec(ctx context.Context, ddl string) error
}

type ResourceTracker interface {
	Track(ctx context.Context, pipelineID uuid.UUID, kind models.ResourceKind, externalID, name string, metadata map[string]any, dependsOn []string) error
	Mark(ctx context.Context, pipelineID uuid.UUID, externalID string, status models.ResourceStatus, resourceErr string) error
	DeletionOrder(pipelineID uuid.UUID) []models.TrackedResource
	Active(pipelineID uuid.UUID) []models.TrackedResource
	Residual(pipelineID uuid.UUID) []models.TrackedResource
	Forget(ctx context.Context, pipelineID uuid.UUID) error
}

type SourceAdmin interface {
	DropReplicationSlot(ctx context.Context, secret models.SourceSecret, slot string) error
	DropPublication(ctx context.Context, secret models.SourceSecret, name string) error
}

type RateCard interface {
	DailyRate(kind string, metadata map[string]any) float64
}

// Config carries the endpoints baked into rendered connector configs.
type Config struct {
	SchemaRegistryURL string
	ValueFormat       string // AVRO unless configured otherwise
}

// Orchestrator is the pipeline state machine. All transitions of one
// pipeline are serialized by a per-pipeline lock; distinct pipelines run
// independently.
type Orchestrator struct {
	store     PipelineStore
	vault     CredentialVault
	registry  *registry.Registry
	connect   ConnectorPlane
	processor StreamProcessor
	topics    TopicAdmin
	subjects  SchemaSubjects
	sink      SinkTables
	tracker   ResourceTracker
	sourceDB  SourceAdmin
	rates     RateCard
	cfg       Config
	log       *slog.Logger

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func New(store PipelineStore, vault CredentialVault, reg *registry.Registry, connect ConnectorPlane,
	processor StreamProcessor, topics TopicAdmin, subjects SchemaSubjects, sink SinkTables,
	tracker ResourceTracker, sourceDB SourceAdmin, rates RateCard, cfg Config, log *slog.Logger,
) *Orchestrator {
	if cfg.ValueFormat == "" {
		cfg.ValueFormat = "AVRO"
	}
	return &Orchestrator{
		store:     store,
		vault:     vault,
		registry:  reg,
		connect:   connect,
		processor: processor,
		topics:    topics,
		subjects:  subjects,
		sink:      sink,
		tracker:   tracker,
		sourceDB:  sourceDB,
		rates:     rates,
		cfg:       cfg,
		log:       log,
		locks:     make(map[uuid.UUID]*sync.Mutex),
	}
}

func (o *Orchestrator) lock(id uuid.UUID) func() {
	o.mu.Lock()
	l, ok := o.locks[id]
	if !ok {
		l = &sync.Mutex{}
		o.locks[id] = l
	}
	o.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// CreateSpec is the caller-provided pipeline definition.
type CreateSpec struct {
	Name         string               `json:"name"`
	CredentialID uuid.UUID            `json:"credential_id"`
	SourceKind   string               `json:"source_kind"`
	Tables       []string             `json:"tables"`
	Filter       *models.FilterConfig `json:"filter,omitempty"`
	SinkKind     string               `json:"sink_kind"`
	SinkConfig   map[string]any       `json:"sink_config"`
}

// Create validates the spec and persists the pipeline in pending. No
// external side effects happen here.
func (o *Orchestrator) Create(ctx context.Context, userID string, spec CreateSpec) (*models.Pipeline, error) {
	if spec.Name == "" || len(spec.Tables) == 0 {
		return nil, fmt.Errorf("pipeline needs a name and at least one table")
	}
	if _, err := o.registry.Source(spec.SourceKind); err != nil {
		return nil, err
	}
	if _, err := o.registry.Sink(spec.SinkKind); err != nil {
		return nil, err
	}

	// Ownership check; decrypt failure or foreign credential both reject.
	if _, err := o.vault.Open(ctx, userID, spec.CredentialID); err != nil {
		return nil, fmt.Errorf("validate source credential: %w", err)
	}

	now := time.Now().UTC()
	p := &models.Pipeline{
		ID:           uuid.New(),
		UserID:       userID,
		Name:         spec.Name,
		CredentialID: spec.CredentialID,
		SourceKind:   spec.SourceKind,
		Tables:       spec.Tables,
		Filter:       spec.Filter,
		SinkKind:     spec.SinkKind,
		SinkConfig:   spec.SinkConfig,
		Status:       models.PipelineStatusPending,
		CreatedAt:    now,
	}

	event := models.PipelineEvent{
		ID:         uuid.New(),
		PipelineID: p.ID,
		Kind:       models.EventCreated,
		Message:    fmt.Sprintf("pipeline %q created with %d table(s)", p.Name, len(p.Tables)),
		CreatedAt:  now,
	}

	if err := o.store.CreatePipeline(ctx, p, event); err != nil {
		return nil, fmt.Errorf("persist pipeline: %w", err)
	}

	o.log.InfoContext(ctx, "pipeline created",
		slog.String("pipeline_id", p.ID.String()),
		slog.String("name", p.Name))

	return p, nil
}

// names bundles the deterministic external identifiers of one pipeline.
type names struct {
	topicPrefix string
	source      string
	sink        string
	slot        string
	publication string
}

func pipelineNames(p *models.Pipeline) names {
	hex, short := p.HexID(), p.ShortHexID()
	return names{
		topicPrefix: fmt.Sprintf(internal.TopicPrefixFormat, hex),
		source:      fmt.Sprintf(internal.SourceConnectorFormat, short),
		sink:        fmt.Sprintf(internal.SinkConnectorFormat, short),
		slot:        fmt.Sprintf(internal.ReplicationSlotFormat, short),
		publication: fmt.Sprintf(internal.PublicationFormat, short),
	}
}

// Start provisions the pipeline's external artifacts in dependency order:
// source connector, derived streams, enrichments, sink tables, sink
// connector. A failure marks the pipeline failed and leaves the resources
// created so far tracked, so Delete can reclaim them.
func (o *Orchestrator) Start(ctx context.Context, userID string, id uuid.UUID) (*models.Pipeline, error) {
	defer o.lock(id)()

	p, err := o.store.GetPipeline(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	switch p.Status {
	case models.PipelineStatusPending, models.PipelineStatusStopped, models.PipelineStatusFailed:
	default:
		return nil, &models.InvalidTransitionError{Current: p.Status, Requested: models.PipelineStatusRunning}
	}

	secret, err := o.vault.Open(ctx, userID, p.CredentialID)
	if err != nil {
		return nil, fmt.Errorf("open source credential: %w", err)
	}

	n := pipelineNames(p)

	if err := o.provisionSource(ctx, p, secret, n); err != nil {
		return p, o.failPipeline(ctx, p, err)
	}

	sinkTopics, err := o.provisionStreams(ctx, p, n)
	if err != nil {
		return p, o.failPipeline(ctx, p, err)
	}

	if err := o.provisionSink(ctx, p, n, sinkTopics); err != nil {
		return p, o.failPipeline(ctx, p, err)
	}

	now := time.Now().UTC()
	p.Status = models.PipelineStatusRunning
	p.SourceConnector = n.source
	p.SinkConnector = n.sink
	p.StartedAt = &now
	p.ErrorMessage = ""

	event := &models.PipelineEvent{
		ID:         uuid.New(),
		PipelineID: p.ID,
		Kind:       models.EventStarted,
		Message:    "pipeline started",
		Details:    map[string]any{"topic_prefix": n.topicPrefix},
		CreatedAt:  now,
	}
	if err := o.store.UpdatePipeline(ctx, p, event); err != nil {
		return p, fmt.Errorf("persist running state: %w", err)
	}

	o.log.InfoContext(ctx, "pipeline started",
		slog.String("pipeline_id", p.ID.String()),
		slog.String("topic_prefix", n.topicPrefix))

	return p, nil
}

func (o *Orchestrator) provisionSource(ctx context.Context, p *models.Pipeline, secret models.SourceSecret, n names) error {
	desc, err := o.registry.Source(p.SourceKind)
	if err != nil {
		return err
	}

	config, err := registry.Render(desc.ConnectorTemplate, map[string]string{
		"host":                secret.Host,
		"port":                strconv.Itoa(secret.Port),
		"database":            secret.Database,
		"user":                secret.User,
		"password":            secret.Password,
		"topic_prefix":        n.topicPrefix,
		"table_include_list":  strings.Join(p.Tables, ","),
		"slot_name":           n.slot,
		"publication_name":    n.publication,
		"schema_registry_url": o.cfg.SchemaRegistryURL,
		"tasks_max":           strconv.Itoa(len(p.Tables) * internal.DefaultSourceTasksPerTbl),
	})
	if err != nil {
		return fmt.Errorf("render source connector: %w", err)
	}

	if err := o.connect.CreateConnector(ctx, n.source, config); err != nil {
		return fmt.Errorf("submit source connector: %w", err)
	}

	if err := o.tracker.Track(ctx, p.ID, models.ResourceDebeziumPub, n.publication, "publication", nil, nil); err != nil {
		return err
	}
	if err := o.tracker.Track(ctx, p.ID, models.ResourceDebeziumSlot, n.slot, "replication slot", nil, nil); err != nil {
		return err
	}
	if err := o.tracker.Track(ctx, p.ID, models.ResourceSourceConnector, n.source, "source connector",
		map[string]any{"tasks": len(p.Tables)}, []string{n.slot}); err != nil {
		return err
	}

	// CDC topics are created up front with controlled partitioning and
	// retention rather than left to broker auto-creation. Already-exists
	// responses are success so a restarted pipeline reattaches.
	spec := client.TopicSpec{
		Partitions:  internal.DefaultTopicPartitions,
		Replication: internal.DefaultTopicReplication,
		RetentionMS: int64(internal.DefaultRetentionDays) * 24 * time.Hour.Milliseconds(),
	}
	for _, table := range p.Tables {
		topic := n.topicPrefix + "." + table
		if err := o.topics.CreateTopic(ctx, topic, spec); err != nil {
			return err
		}
		meta := map[string]any{
			"partitions":   spec.Partitions,
			"retention_ms": spec.RetentionMS,
		}
		if err := o.tracker.Track(ctx, p.ID, models.ResourceKafkaTopic, topic, "CDC topic for "+table, meta, []string{n.source}); err != nil {
			return err
		}
	}

	return nil
}

// provisionStreams creates filter streams and enrichment joins, returning
// the topics the sink connector should consume.
func (o *Orchestrator) provisionStreams(ctx context.Context, p *models.Pipeline, n names) ([]string, error) {
	discovered, err := o.store.ListDiscoveredTables(ctx, p.CredentialID)
	if err != nil {
		return nil, fmt.Errorf("load discovered schemas: %w", err)
	}
	byName := make(map[string]models.DiscoveredTable, len(discovered))
	for _, t := range discovered {
		byName[t.QualifiedName()] = t
	}

	sinkTopics := make([]string, 0, len(p.Tables))

	for _, table := range p.Tables {
		rawTopic := n.topicPrefix + "." + table

		if p.Filter == nil {
			sinkTopics = append(sinkTopics, rawTopic)
			continue
		}

		schema, ok := byName[table]
		if !ok {
			return nil, fmt.Errorf("%w: table %s was never discovered; run discovery first", models.ErrNotFound, table)
		}

		filtered, err := o.createFilterStream(ctx, p, n, table, rawTopic, schema.Columns)
		if err != nil {
			return nil, err
		}
		sinkTopics = append(sinkTopics, filtered)
	}

	enrichments, err := o.store.ListEnrichments(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("load enrichments: %w", err)
	}
	for i := range enrichments {
		topic, err := o.provisionEnrichment(ctx, p, &enrichments[i], byName)
		if err != nil {
			return nil, err
		}
		sinkTopics = append(sinkTopics, topic)
	}

	return sinkTopics, nil
}

func (o *Orchestrator) provisionSink(ctx context.Context, p *models.Pipeline, n names, topics []string) error {
	database := cast.ToString(p.SinkConfig["database"])
	if database == "" {
		database = "default"
	}

	discovered, err := o.store.ListDiscoveredTables(ctx, p.CredentialID)
	if err != nil {
		return fmt.Errorf("load discovered schemas: %w", err)
	}
	byName := make(map[string]models.DiscoveredTable, len(discovered))
	for _, t := range discovered {
		byName[t.QualifiedName()] = t
	}

	for _, table := range p.Tables {
		schema, ok := byName[table]
		if !ok {
			return fmt.Errorf("%w: table %s was never discovered; run discovery first", models.ErrNotFound, table)
		}

		sinkTable := strings.ReplaceAll(table, ".", "_")
		if _, err := o.sink.EnsureTable(ctx, p.SinkKind, database, sinkTable, schema.Columns, schema.PrimaryKey); err != nil {
			return err
		}
		if err := o.tracker.Track(ctx, p.ID, models.ResourceSinkTable, database+"."+sinkTable,
			"sink table for "+table, map[string]any{"database": database}, nil); err != nil {
			return err
		}
	}

	desc, err := o.registry.Sink(p.SinkKind)
	if err != nil {
		return err
	}

	config, err := registry.Render(desc.ConnectorTemplate, map[string]string{
		"host":                cast.ToString(p.SinkConfig["host"]),
		"port":                cast.ToString(p.SinkConfig["port"]),
		"database":            database,
		"user":                cast.ToString(p.SinkConfig["user"]),
		"password":            cast.ToString(p.SinkConfig["password"]),
		"topics":              strings.Join(topics, ","),
		"ssl":                 cast.ToString(p.SinkConfig["ssl"]),
		"schema_registry_url": o.cfg.SchemaRegistryURL,
		"tasks_max":           strconv.Itoa(internal.DefaultSinkTasks),
	})
	if err != nil {
		return fmt.Errorf("render sink connector: %w", err)
	}

	if err := o.connect.CreateConnector(ctx, n.sink, config); err != nil {
		return fmt.Errorf("submit sink connector: %w", err)
	}

	deps := make([]string, len(topics))
	copy(deps, topics)
	return o.tracker.Track(ctx, p.ID, models.ResourceSinkConnector, n.sink, "sink connector",
		map[string]any{"tasks": internal.DefaultSinkTasks}, deps)
}

// failPipeline records the failure and returns the original error wrapped.
func (o *Orchestrator) failPipeline(ctx context.Context, p *models.Pipeline, cause error) error {
	p.Status = models.PipelineStatusFailed
	p.ErrorMessage = cause.Error()

	event := &models.PipelineEvent{
		ID:         uuid.New(),
		PipelineID: p.ID,
		Kind:       models.EventFailed,
		Message:    cause.Error(),
		CreatedAt:  time.Now().UTC(),
	}
	if err := o.store.UpdatePipeline(ctx, p, event); err != nil {
		o.log.ErrorContext(ctx, "persist failed state",
			slog.String("pipeline_id", p.ID.String()),
			slog.Any("error", err))
	}

	return fmt.Errorf("start pipeline %s: %w", p.ID, cause)
}
