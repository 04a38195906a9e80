package postgres

import (
	"context"
	"fmt"
)

// bootstrapDDL is applied on startup. Every statement is idempotent; there
// is no migration framework, the schema grows by additive statements only.
var bootstrapDDL = []string{
	`CREATE TABLE IF NOT EXISTS credentials (
		id UUID PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		source_kind TEXT NOT NULL,
		ciphertext BYTEA NOT NULL,
		iv BYTEA NOT NULL,
		tag BYTEA NOT NULL,
		host TEXT NOT NULL,
		port INT NOT NULL,
		database_name TEXT NOT NULL,
		validated BOOLEAN NOT NULL DEFAULT FALSE,
		last_validated TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_credentials_user ON credentials (user_id)`,

	`CREATE TABLE IF NOT EXISTS pipelines (
		id UUID PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		credential_id UUID NOT NULL REFERENCES credentials (id),
		source_kind TEXT NOT NULL,
		tables JSONB NOT NULL,
		filter JSONB,
		template_id UUID,
		sink_kind TEXT NOT NULL,
		sink_config JSONB,
		source_connector TEXT NOT NULL DEFAULT '',
		sink_connector TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		last_health_check TIMESTAMPTZ,
		error_message TEXT NOT NULL DEFAULT '',
		metrics JSONB,
		created_at TIMESTAMPTZ NOT NULL,
		started_at TIMESTAMPTZ,
		stopped_at TIMESTAMPTZ,
		deleted_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pipelines_user ON pipelines (user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_pipelines_status ON pipelines (status)`,

	`CREATE TABLE IF NOT EXISTS pipeline_events (
		id UUID PRIMARY KEY,
		pipeline_id UUID NOT NULL REFERENCES pipelines (id) ON DELETE CASCADE,
		kind TEXT NOT NULL,
		message TEXT NOT NULL,
		details JSONB,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pipeline_events_pipeline ON pipeline_events (pipeline_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS discovered_tables (
		id UUID PRIMARY KEY,
		credential_id UUID NOT NULL REFERENCES credentials (id) ON DELETE CASCADE,
		schema_name TEXT NOT NULL,
		table_name TEXT NOT NULL,
		columns JSONB NOT NULL,
		primary_key JSONB,
		foreign_keys JSONB,
		row_estimate BIGINT NOT NULL DEFAULT 0,
		size_bytes BIGINT NOT NULL DEFAULT 0,
		has_primary_key BOOLEAN NOT NULL DEFAULT FALSE,
		cdc_eligible BOOLEAN NOT NULL DEFAULT FALSE,
		issues JSONB,
		replica_identity TEXT NOT NULL DEFAULT 'default',
		discovered_at TIMESTAMPTZ NOT NULL,
		UNIQUE (credential_id, schema_name, table_name)
	)`,

	`CREATE TABLE IF NOT EXISTS enrichments (
		id UUID PRIMARY KEY,
		pipeline_id UUID NOT NULL REFERENCES pipelines (id) ON DELETE CASCADE,
		source_stream TEXT NOT NULL,
		source_topic TEXT NOT NULL,
		lookup_tables JSONB NOT NULL,
		join_type TEXT NOT NULL,
		join_keys JSONB NOT NULL,
		output_columns JSONB,
		output_stream TEXT NOT NULL,
		output_topic TEXT NOT NULL,
		query_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_enrichments_pipeline ON enrichments (pipeline_id)`,

	`CREATE TABLE IF NOT EXISTS alert_rules (
		id UUID PRIMARY KEY,
		user_id TEXT NOT NULL,
		pipeline_id UUID REFERENCES pipelines (id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		thresholds JSONB,
		enabled_days JSONB,
		enabled_hours JSONB,
		cooldown_seconds BIGINT NOT NULL DEFAULT 0,
		severity TEXT NOT NULL,
		recipients JSONB NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		last_triggered TIMESTAMPTZ,
		trigger_count INT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alert_rules_user ON alert_rules (user_id)`,

	`CREATE TABLE IF NOT EXISTS alert_history (
		id UUID PRIMARY KEY,
		rule_id UUID NOT NULL REFERENCES alert_rules (id) ON DELETE CASCADE,
		kind TEXT NOT NULL,
		severity TEXT NOT NULL,
		title TEXT NOT NULL,
		body TEXT NOT NULL,
		details JSONB,
		email_sent BOOLEAN NOT NULL DEFAULT FALSE,
		delivered_at TIMESTAMPTZ,
		recipients JSONB NOT NULL,
		delivery_error TEXT NOT NULL DEFAULT '',
		triggered_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alert_history_rule ON alert_history (rule_id, triggered_at)`,

	`CREATE TABLE IF NOT EXISTS tracked_resources (
		pipeline_id UUID NOT NULL REFERENCES pipelines (id) ON DELETE CASCADE,
		kind TEXT NOT NULL,
		external_id TEXT NOT NULL,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		metadata JSONB,
		depends_on JSONB,
		error_message TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		deleted_at TIMESTAMPTZ,
		PRIMARY KEY (pipeline_id, external_id)
	)`,
}

// Bootstrap creates the schema. Safe to run on every startup.
func (s *Store) Bootstrap(ctx context.Context) error {
	for _, ddl := range bootstrapDDL {
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("bootstrap metadata schema: %w", err)
		}
	}
	return nil
}
