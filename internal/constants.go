package internal

import "time"

// Default values
const (
	// Deterministic external naming. The hex identifier is derived from the
	// pipeline UUID so a restarted control plane reattaches to the same
	// connectors, slots and topics.
	TopicPrefixFormat      = "dataflow_%s"      // full 32-char hex
	EnrichedPrefixFormat   = "enriched_%s"      // full 32-char hex
	SourceConnectorFormat  = "dataflow-pg-%s"   // short 12-char hex
	SinkConnectorFormat    = "dataflow-sink-%s" // short 12-char hex
	ReplicationSlotFormat  = "dataflow_%s"      // short 12-char hex
	PublicationFormat      = "dataflow_%s_pub"  // short 12-char hex
	ShortPipelineHexLength = 12

	// Reserved sink columns appended to every warehouse table.
	SinkDeletedColumn    = "_deleted"
	SinkVersionColumn    = "_version"
	SinkInsertedAtColumn = "_inserted_at"

	// External call timeouts (suspension points, §5).
	ProbeTimeout     = 10 * time.Second
	ProvisionTimeout = 30 * time.Second

	// CDC topic provisioning.
	DefaultTopicPartitions  int32 = 3
	DefaultTopicReplication int16 = 3

	// Monitor loop defaults.
	MonitorDefaultInterval  = 60 * time.Second
	MonitorPipelineTimeout  = 30 * time.Second
	BaselineHistorySize     = 10
	BaselineMinSamples      = 3
	MetricsTrailingWindow   = 5 * time.Minute
	DefaultGapThresholdMins = 5

	// Cost model defaults; overridable via config.
	DefaultDailyChangeRate   = 0.10
	DefaultBytesPerColumn    = 50
	DefaultRetentionDays     = 30
	DefaultSourceTasksPerTbl = 1
	DefaultSinkTasks         = 1

	// Conversation fuzzy-match thresholds (0-100 scale).
	CredentialMatchThreshold = 60
	TableMatchThreshold      = 60
	TableSuggestThreshold    = 40

	// Postgres metadata store connection handling.
	PostgresConnectionRetries = 5
	PostgresConnectionTimeout = 10 * time.Second
	PostgresInitialRetryDelay = 1 * time.Second
	PostgresMaxRetryDelay     = 10 * time.Second
	PostgresMaxConnectionWait = 2 * time.Minute
)
