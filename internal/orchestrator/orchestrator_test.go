package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataflowhq/control-plane/internal"
	"github.com/dataflowhq/control-plane/internal/client"
	"github.com/dataflowhq/control-plane/internal/cost"
	"github.com/dataflowhq/control-plane/internal/models"
	"github.com/dataflowhq/control-plane/internal/registry"
	"github.com/dataflowhq/control-plane/internal/tracker"
)

const testDescriptors = `
sources:
  - name: postgres
    connector_template:
      connector.class: io.debezium.connector.postgresql.PostgresConnector
      database.hostname: ${host}
      database.port: ${port}
      database.dbname: ${database}
      database.user: ${user}
      database.password: ${password}
      topic.prefix: ${topic_prefix}
      table.include.list: ${table_include_list}
      slot.name: ${slot_name}
      publication.name: ${publication_name}
      value.converter.schema.registry.url: ${schema_registry_url}
      tasks.max: ${tasks_max}
sinks:
  - name: clickhouse
    type_map:
      bigint: Int64
      character varying: String
      numeric: "Decimal(38, 9)"
    default_type: String
    create_table_ddl: >-
      CREATE TABLE IF NOT EXISTS ${database}.${table} (${columns})
      ENGINE = ReplacingMergeTree(${version_column})
      ORDER BY (${order_by})
    connector_template:
      connector.class: com.clickhouse.kafka.connect.ClickHouseSinkConnector
      hostname: ${host}
      database: ${database}
      topics: ${topics}
      value.converter.schema.registry.url: ${schema_registry_url}
      tasks.max: ${tasks_max}
`

type fakeStore struct {
	pipelines    map[uuid.UUID]*models.Pipeline
	events       []models.PipelineEvent
	enrichments  []models.Enrichment
	discovered   []models.DiscoveredTable
	deletedRules []uuid.UUID
}

func newFakeStore() *fakeStore {
	return &fakeStore{pipelines: make(map[uuid.UUID]*models.Pipeline)}
}

func (f *fakeStore) CreatePipeline(_ context.Context, p *models.Pipeline, e models.PipelineEvent) error {
	cp := *p
	f.pipelines[p.ID] = &cp
	f.events = append(f.events, e)
	return nil
}

func (f *fakeStore) UpdatePipeline(_ context.Context, p *models.Pipeline, e *models.PipelineEvent) error {
	cp := *p
	f.pipelines[p.ID] = &cp
	if e != nil {
		f.events = append(f.events, *e)
	}
	return nil
}

func (f *fakeStore) GetPipeline(_ context.Context, userID string, id uuid.UUID) (*models.Pipeline, error) {
	p, ok := f.pipelines[id]
	if !ok || p.UserID != userID {
		return nil, models.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) ListEnrichments(_ context.Context, pipelineID uuid.UUID) ([]models.Enrichment, error) {
	var out []models.Enrichment
	for _, e := range f.enrichments {
		if e.PipelineID == pipelineID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateEnrichment(_ context.Context, e *models.Enrichment) error {
	for i := range f.enrichments {
		if f.enrichments[i].ID == e.ID {
			f.enrichments[i] = *e
		}
	}
	return nil
}

func (f *fakeStore) DeleteAlertRule(_ context.Context, ruleID uuid.UUID) error {
	f.deletedRules = append(f.deletedRules, ruleID)
	return nil
}

func (f *fakeStore) ListDiscoveredTables(_ context.Context, _ uuid.UUID) ([]models.DiscoveredTable, error) {
	return f.discovered, nil
}

func (f *fakeStore) eventKinds(pipelineID uuid.UUID) []models.PipelineEventKind {
	var out []models.PipelineEventKind
	for _, e := range f.events {
		if e.PipelineID == pipelineID {
			out = append(out, e.Kind)
		}
	}
	return out
}

type fakeVault struct {
	userID string
	secret models.SourceSecret
}

func (f *fakeVault) Open(_ context.Context, userID string, _ uuid.UUID) (models.SourceSecret, error) {
	if userID != f.userID {
		return models.SourceSecret{}, models.ErrNotFound
	}
	return f.secret, nil
}

type fakeConnect struct {
	created    map[string]map[string]string
	deleted    []string
	paused     []string
	resumed    []string
	failCreate map[string]error
	failPause  map[string]error
}

func newFakeConnect() *fakeConnect {
	return &fakeConnect{
		created:    make(map[string]map[string]string),
		failCreate: make(map[string]error),
		failPause:  make(map[string]error),
	}
}

func (f *fakeConnect) CreateConnector(_ context.Context, name string, config map[string]string) error {
	if err := f.failCreate[name]; err != nil {
		return err
	}
	f.created[name] = config
	return nil
}

func (f *fakeConnect) DeleteConnector(_ context.Context, name string) error {
	f.deleted = append(f.deleted, name)
	return nil
}

func (f *fakeConnect) Pause(_ context.Context, name string) error {
	if err := f.failPause[name]; err != nil {
		return err
	}
	f.paused = append(f.paused, name)
	return nil
}

func (f *fakeConnect) Resume(_ context.Context, name string) error {
	f.resumed = append(f.resumed, name)
	return nil
}

type fakeProcessor struct {
	statements []string
}

func (f *fakeProcessor) Execute(_ context.Context, statement string, _ map[string]string) (*client.KsqlResult, error) {
	f.statements = append(f.statements, statement)
	return &client.KsqlResult{Status: "SUCCESS", QueryID: fmt.Sprintf("CSAS_%d", len(f.statements))}, nil
}

type fakeTopicAdmin struct {
	topics  []string
	created map[string]client.TopicSpec
	deleted []string
}

func (f *fakeTopicAdmin) CreateTopic(_ context.Context, name string, spec client.TopicSpec) error {
	if f.created == nil {
		f.created = make(map[string]client.TopicSpec)
	}
	f.created[name] = spec
	f.topics = append(f.topics, name)
	return nil
}

func (f *fakeTopicAdmin) ListTopics(_ context.Context, prefix string) ([]string, error) {
	var out []string
	for _, t := range f.topics {
		if strings.HasPrefix(t, prefix) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTopicAdmin) DeleteTopics(_ context.Context, names ...string) error {
	f.deleted = append(f.deleted, names...)
	return nil
}

type fakeSinkTables struct {
	ensured []string
	execs   []string
}

func (f *fakeSinkTables) EnsureTable(_ context.Context, _, database, table string, _ []models.Column, _ []string) (string, error) {
	f.ensured = append(f.ensured, database+"."+table)
	return "CREATE TABLE IF NOT EXISTS " + database + "." + table, nil
}

func (f *fakeSinkTables) Exec(_ context.Context, ddl string) error {
	f.execs = append(f.execs, ddl)
	return nil
}

type fakeResourceStore struct{}

func (fakeResourceStore) UpsertResource(context.Context, models.TrackedResource) error { return nil }
func (fakeResourceStore) ListResources(context.Context, uuid.UUID) ([]models.TrackedResource, error) {
	return nil, nil
}
func (fakeResourceStore) DeleteResources(context.Context, uuid.UUID) error { return nil }

type fakeSourceAdmin struct {
	droppedSlots []string
	droppedPubs  []string
}

func (f *fakeSourceAdmin) DropReplicationSlot(_ context.Context, _ models.SourceSecret, slot string) error {
	f.droppedSlots = append(f.droppedSlots, slot)
	return nil
}

func (f *fakeSourceAdmin) DropPublication(_ context.Context, _ models.SourceSecret, name string) error {
	f.droppedPubs = append(f.droppedPubs, name)
	return nil
}

type fakeSubjects struct {
	ids     map[string]int
	deleted []string
}

func (f *fakeSubjects) LatestSchemaID(_ context.Context, subject string) (int, error) {
	id, ok := f.ids[subject]
	if !ok {
		return 0, fmt.Errorf("%w: subject %q", models.ErrNotFound, subject)
	}
	return id, nil
}

func (f *fakeSubjects) DeleteSubject(_ context.Context, subject string, _ bool) error {
	f.deleted = append(f.deleted, subject)
	return nil
}

type fixture struct {
	orch      *Orchestrator
	store     *fakeStore
	connect   *fakeConnect
	processor *fakeProcessor
	topics    *fakeTopicAdmin
	subjects  *fakeSubjects
	sink      *fakeSinkTables
	sourceDB  *fakeSourceAdmin
	tracker   *tracker.Tracker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "descriptors.yaml"), []byte(testDescriptors), 0o600))
	reg, err := registry.Load(dir, slog.Default())
	require.NoError(t, err)

	f := &fixture{
		store:     newFakeStore(),
		connect:   newFakeConnect(),
		processor: &fakeProcessor{},
		topics:    &fakeTopicAdmin{},
		subjects:  &fakeSubjects{},
		sink:      &fakeSinkTables{},
		sourceDB:  &fakeSourceAdmin{},
		tracker:   tracker.New(fakeResourceStore{}, slog.Default()),
	}

	f.store.discovered = []models.DiscoveredTable{{
		SchemaName: "public",
		TableName:  "orders",
		Columns: []models.Column{
			{Name: "id", Type: "bigint", Ordinal: 1},
			{Name: "status", Type: "character varying", Nullable: true, Ordinal: 2},
			{Name: "total", Type: "numeric", Ordinal: 3},
		},
		PrimaryKey:    []string{"id"},
		HasPrimaryKey: true,
		CDCEligible:   true,
	}}

	rates := cost.New(cost.Rates{ConnectorTaskPerDay: 1.50, ProcessorUnitHour: 0.23, RetentionDays: 30})

	f.orch = New(f.store, &fakeVault{userID: "user-1", secret: models.SourceSecret{
		Host: "db.example", Port: 5432, Database: "shop", User: "replicator", Password: "secret",
	}}, reg, f.connect, f.processor, f.topics, f.subjects, f.sink, f.tracker, f.sourceDB, rates,
		Config{SchemaRegistryURL: "http://sr:8081"}, slog.Default())

	return f
}

func createSpec() CreateSpec {
	return CreateSpec{
		Name:         "orders sync",
		CredentialID: uuid.New(),
		SourceKind:   "postgres",
		Tables:       []string{"public.orders"},
		SinkKind:     "clickhouse",
		SinkConfig:   map[string]any{"host": "ch.example", "database": "analytics"},
	}
}

func TestCreatePersistsPendingWithEvent(t *testing.T) {
	f := newFixture(t)

	p, err := f.orch.Create(context.Background(), "user-1", createSpec())
	require.NoError(t, err)

	assert.Equal(t, models.PipelineStatusPending, p.Status)
	assert.Equal(t, []models.PipelineEventKind{models.EventCreated}, f.store.eventKinds(p.ID))
	assert.Empty(t, f.connect.created) // no external side effects
}

func TestCreateRejectsUnknownModule(t *testing.T) {
	f := newFixture(t)

	spec := createSpec()
	spec.SourceKind = "oracle"
	_, err := f.orch.Create(context.Background(), "user-1", spec)
	assert.ErrorIs(t, err, models.ErrUnknownModule)
}

func TestCreateRejectsForeignCredential(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.Create(context.Background(), "intruder", createSpec())
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestStartHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.orch.Create(ctx, "user-1", createSpec())
	require.NoError(t, err)

	p, err = f.orch.Start(ctx, "user-1", p.ID)
	require.NoError(t, err)

	assert.Equal(t, models.PipelineStatusRunning, p.Status)
	assert.Equal(t, []models.PipelineEventKind{models.EventCreated, models.EventStarted}, f.store.eventKinds(p.ID))

	srcName := "dataflow-pg-" + p.ShortHexID()
	sinkName := "dataflow-sink-" + p.ShortHexID()
	prefix := "dataflow_" + p.HexID()

	srcConfig, ok := f.connect.created[srcName]
	require.True(t, ok)
	assert.Equal(t, prefix, srcConfig["topic.prefix"])
	assert.Equal(t, "public.orders", srcConfig["table.include.list"])
	assert.Equal(t, "dataflow_"+p.ShortHexID(), srcConfig["slot.name"])
	assert.Equal(t, "dataflow_"+p.ShortHexID()+"_pub", srcConfig["publication.name"])
	assert.Equal(t, "db.example", srcConfig["database.hostname"])

	sinkConfig, ok := f.connect.created[sinkName]
	require.True(t, ok)
	assert.Equal(t, prefix+".public.orders", sinkConfig["topics"])

	assert.Equal(t, []string{"analytics.public_orders"}, f.sink.ensured)

	// Without a filter the processor is never involved.
	assert.Empty(t, f.processor.statements)

	active := f.tracker.Active(p.ID)
	kinds := make(map[models.ResourceKind]int)
	for _, r := range active {
		kinds[r.Kind]++
	}
	assert.Equal(t, 1, kinds[models.ResourceSourceConnector])
	assert.Equal(t, 1, kinds[models.ResourceSinkConnector])
	assert.Equal(t, 1, kinds[models.ResourceKafkaTopic])
	assert.Equal(t, 1, kinds[models.ResourceSinkTable])
	assert.Equal(t, 1, kinds[models.ResourceDebeziumSlot])
	assert.Equal(t, 1, kinds[models.ResourceDebeziumPub])
}

func TestStartCreatesCdcTopics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.orch.Create(ctx, "user-1", createSpec())
	require.NoError(t, err)
	p, err = f.orch.Start(ctx, "user-1", p.ID)
	require.NoError(t, err)

	topic := "dataflow_" + p.HexID() + ".public.orders"
	spec, ok := f.topics.created[topic]
	require.True(t, ok, "CDC topic must be created explicitly, not left to auto-creation")
	assert.Equal(t, internal.DefaultTopicPartitions, spec.Partitions)
	assert.Equal(t, internal.DefaultTopicReplication, spec.Replication)
	assert.Positive(t, spec.RetentionMS)

	for _, r := range f.tracker.Active(p.ID) {
		if r.Kind == models.ResourceKafkaTopic {
			assert.Equal(t, spec.RetentionMS, r.Metadata["retention_ms"])
		}
	}
}

func TestStartBindsRegisteredSchema(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	spec := createSpec()
	spec.Filter = &models.FilterConfig{
		Column:   "status",
		Operator: "IN",
		Values:   []string{"completed"},
		SQLWhere: "status IN ('completed')",
	}

	p, err := f.orch.Create(ctx, "user-1", spec)
	require.NoError(t, err)

	topic := "dataflow_" + p.HexID() + ".public.orders"
	f.subjects.ids = map[string]int{topic + "-value": 7}

	_, err = f.orch.Start(ctx, "user-1", p.ID)
	require.NoError(t, err)

	require.Len(t, f.processor.statements, 2)
	// The registered subject supplies the schema; columns are not redeclared.
	assert.Contains(t, f.processor.statements[0], "VALUE_SCHEMA_ID=7")
	assert.NotContains(t, f.processor.statements[0], "`id`")
}

func TestStartWithFilterDerivesStreams(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	spec := createSpec()
	spec.Filter = &models.FilterConfig{
		Column:   "status",
		Operator: "IN",
		Values:   []string{"completed"},
		SQLWhere: "status IN ('completed')",
	}

	p, err := f.orch.Create(ctx, "user-1", spec)
	require.NoError(t, err)
	p, err = f.orch.Start(ctx, "user-1", p.ID)
	require.NoError(t, err)

	require.Len(t, f.processor.statements, 2)
	assert.Contains(t, f.processor.statements[0], "CREATE STREAM IF NOT EXISTS `public_orders_stream`")
	assert.Contains(t, f.processor.statements[1], "CREATE STREAM `public_orders_filtered`")
	assert.Contains(t, f.processor.statements[1], "WHERE `status` IN ('completed')")

	sinkConfig := f.connect.created["dataflow-sink-"+p.ShortHexID()]
	assert.Equal(t, "dataflow_"+p.HexID()+".public.orders_filtered", sinkConfig["topics"])
}

func TestStartFailureStopsBeforeSink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.orch.Create(ctx, "user-1", createSpec())
	require.NoError(t, err)

	f.connect.failCreate["dataflow-pg-"+p.ShortHexID()] = errors.New("connect plane down")

	_, err = f.orch.Start(ctx, "user-1", p.ID)
	require.Error(t, err)

	stored := f.store.pipelines[p.ID]
	assert.Equal(t, models.PipelineStatusFailed, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "connect plane down")
	assert.Empty(t, f.sink.ensured)
	assert.Equal(t, []models.PipelineEventKind{models.EventCreated, models.EventFailed}, f.store.eventKinds(p.ID))
}

func TestStartRequiresValidState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.orch.Create(ctx, "user-1", createSpec())
	require.NoError(t, err)
	_, err = f.orch.Start(ctx, "user-1", p.ID)
	require.NoError(t, err)

	_, err = f.orch.Start(ctx, "user-1", p.ID)
	var terr *models.InvalidTransitionError
	assert.ErrorAs(t, err, &terr)
}

func TestPauseResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.orch.Create(ctx, "user-1", createSpec())
	require.NoError(t, err)
	p, err = f.orch.Start(ctx, "user-1", p.ID)
	require.NoError(t, err)

	p, err = f.orch.Pause(ctx, "user-1", p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PipelineStatusPaused, p.Status)
	assert.Len(t, f.connect.paused, 2)

	p, err = f.orch.Resume(ctx, "user-1", p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PipelineStatusRunning, p.Status)
	assert.Len(t, f.connect.resumed, 2)
}

func TestPausePartialFailureStillTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.orch.Create(ctx, "user-1", createSpec())
	require.NoError(t, err)
	p, err = f.orch.Start(ctx, "user-1", p.ID)
	require.NoError(t, err)

	f.connect.failPause[p.SourceConnector] = errors.New("worker rebalancing")

	p, err = f.orch.Pause(ctx, "user-1", p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PipelineStatusPaused, p.Status)
	assert.Len(t, f.connect.paused, 1)
}

func TestPauseTotalFailureFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.orch.Create(ctx, "user-1", createSpec())
	require.NoError(t, err)
	p, err = f.orch.Start(ctx, "user-1", p.ID)
	require.NoError(t, err)

	f.connect.failPause[p.SourceConnector] = errors.New("down")
	f.connect.failPause[p.SinkConnector] = errors.New("down")

	_, err = f.orch.Pause(ctx, "user-1", p.ID)
	assert.ErrorIs(t, err, models.ErrExternalSystem)
}

func TestStopThenStartReusesNames(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.orch.Create(ctx, "user-1", createSpec())
	require.NoError(t, err)
	p, err = f.orch.Start(ctx, "user-1", p.ID)
	require.NoError(t, err)

	srcName, sinkName := p.SourceConnector, p.SinkConnector

	p, err = f.orch.Stop(ctx, "user-1", p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PipelineStatusStopped, p.Status)
	assert.Empty(t, p.SourceConnector)
	assert.ElementsMatch(t, []string{srcName, sinkName}, f.connect.deleted)

	// No lingering active connector resources after stop.
	for _, r := range f.tracker.Active(p.ID) {
		assert.NotEqual(t, models.ResourceSinkConnector, r.Kind)
		assert.NotEqual(t, models.ResourceSourceConnector, r.Kind)
	}

	p, err = f.orch.Start(ctx, "user-1", p.ID)
	require.NoError(t, err)
	assert.Equal(t, srcName, p.SourceConnector)
	assert.Equal(t, sinkName, p.SinkConnector)
}

func TestDeleteTearsDownInOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.orch.Create(ctx, "user-1", createSpec())
	require.NoError(t, err)
	p, err = f.orch.Start(ctx, "user-1", p.ID)
	require.NoError(t, err)

	res, err := f.orch.Delete(ctx, "user-1", p.ID, DeleteOptions{})
	require.NoError(t, err)

	// Sink connector goes before source connector.
	sinkIdx := indexOf(f.connect.deleted, p.SinkConnector)
	srcIdx := indexOf(f.connect.deleted, p.SourceConnector)
	require.NotEqual(t, -1, sinkIdx)
	require.NotEqual(t, -1, srcIdx)
	assert.Less(t, sinkIdx, srcIdx)

	topic := "dataflow_" + p.HexID() + ".public.orders"
	assert.Equal(t, []string{topic}, f.topics.deleted)
	// The topic's registry subjects are cleaned up with it.
	assert.Equal(t, []string{topic + "-key", topic + "-value"}, f.subjects.deleted)
	assert.Equal(t, []string{"dataflow_" + p.ShortHexID()}, f.sourceDB.droppedSlots)
	assert.Equal(t, []string{"dataflow_" + p.ShortHexID() + "_pub"}, f.sourceDB.droppedPubs)

	// Destination data retained by default.
	assert.Empty(t, f.sink.execs)
	assert.Contains(t, res.SkippedKinds, models.ResourceSinkTable)

	stored := f.store.pipelines[p.ID]
	assert.Equal(t, models.PipelineStatusDeleted, stored.Status)
	require.NotNil(t, stored.DeletedAt)

	assert.Empty(t, f.tracker.Active(p.ID))
	assert.Empty(t, res.Failed)
	assert.Positive(t, res.DailySavings)
}

func TestDeleteWithDestinationData(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.orch.Create(ctx, "user-1", createSpec())
	require.NoError(t, err)
	p, err = f.orch.Start(ctx, "user-1", p.ID)
	require.NoError(t, err)

	_, err = f.orch.Delete(ctx, "user-1", p.ID, DeleteOptions{DeleteDestinationData: true})
	require.NoError(t, err)

	require.Len(t, f.sink.execs, 1)
	assert.Contains(t, f.sink.execs[0], "DROP TABLE IF EXISTS analytics.public_orders")
}

func TestDeleteIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.orch.Create(ctx, "user-1", createSpec())
	require.NoError(t, err)
	_, err = f.orch.Delete(ctx, "user-1", p.ID, DeleteOptions{})
	require.NoError(t, err)

	_, err = f.orch.Delete(ctx, "user-1", p.ID, DeleteOptions{})
	var terr *models.InvalidTransitionError
	assert.ErrorAs(t, err, &terr)
}

func indexOf(haystack []string, needle string) int {
	for i, s := range haystack {
		if s == needle {
			return i
		}
	}
	return -1
}
