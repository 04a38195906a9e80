package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/dataflowhq/control-plane/internal/anomaly"
	"github.com/dataflowhq/control-plane/internal/joinplan"
	"github.com/dataflowhq/control-plane/internal/ksqlgen"
	"github.com/dataflowhq/control-plane/internal/models"
)

func streamName(table string) string {
	return strings.ReplaceAll(table, ".", "_") + "_stream"
}

// sourceStreamDDL declares the raw CDC stream over a connector topic.
func sourceStreamDDL(name, topic string, columns []models.Column, valueFormat string) string {
	decls := make([]string, len(columns))
	for i, c := range columns {
		decls[i] = fmt.Sprintf("%s %s", ksqlgen.Quote(strings.ToLower(c.Name)), ksqlgen.KsqlType(c.Type))
	}
	return fmt.Sprintf("CREATE STREAM IF NOT EXISTS %s (%s) WITH (KAFKA_TOPIC='%s', VALUE_FORMAT='%s');",
		ksqlgen.Quote(strings.ToLower(name)), strings.Join(decls, ", "), topic, valueFormat)
}

// registryStreamDDL binds the stream to the subject's registered schema so
// columns are never redeclared once the connector has published one.
func registryStreamDDL(name, topic, valueFormat string, schemaID int) string {
	return fmt.Sprintf("CREATE STREAM IF NOT EXISTS %s WITH (KAFKA_TOPIC='%s', VALUE_FORMAT='%s', VALUE_SCHEMA_ID=%d);",
		ksqlgen.Quote(strings.ToLower(name)), topic, valueFormat, schemaID)
}

// sourceStreamStatement prefers the registry-held schema for the topic's
// value subject and falls back to explicit column declarations when the
// subject has never been registered.
func (o *Orchestrator) sourceStreamStatement(ctx context.Context, name, topic string, columns []models.Column) string {
	if id, err := o.subjects.LatestSchemaID(ctx, topic+"-value"); err == nil {
		return registryStreamDDL(name, topic, o.cfg.ValueFormat, id)
	}
	return sourceStreamDDL(name, topic, columns, o.cfg.ValueFormat)
}

// createFilterStream declares the raw stream over a CDC topic and derives
// the filtered stream the sink will consume. Returns the filtered topic.
func (o *Orchestrator) createFilterStream(ctx context.Context, p *models.Pipeline, n names, table, rawTopic string, columns []models.Column) (string, error) {
	base := streamName(table)
	filtered := strings.ReplaceAll(table, ".", "_") + "_filtered"
	filteredTopic := rawTopic + "_filtered"
	props := anomaly.EarliestOffsetProperties()

	if _, err := o.processor.Execute(ctx, o.sourceStreamStatement(ctx, base, rawTopic, columns), props); err != nil {
		return "", fmt.Errorf("create source stream for %s: %w", table, err)
	}
	if err := o.tracker.Track(ctx, p.ID, models.ResourceKsqlStream, base, "source stream for "+table, nil, []string{rawTopic}); err != nil {
		return "", err
	}

	ddl := anomaly.FilterStreamDDL(base, filtered, filteredTopic, p.Filter.SQLWhere, o.cfg.ValueFormat)
	res, err := o.processor.Execute(ctx, ddl, props)
	if err != nil {
		return "", fmt.Errorf("create filter stream for %s: %w", table, err)
	}

	meta := map[string]any{"predicate": p.Filter.SQLWhere}
	if res.QueryID != "" {
		meta["query_id"] = res.QueryID
	}
	if err := o.tracker.Track(ctx, p.ID, models.ResourceKsqlStream, filtered, "filter stream for "+table, meta, []string{base}); err != nil {
		return "", err
	}
	if err := o.tracker.Track(ctx, p.ID, models.ResourceKafkaTopic, filteredTopic, "filtered topic for "+table, nil, []string{filtered}); err != nil {
		return "", err
	}

	return filteredTopic, nil
}

// provisionEnrichment plans and submits one stream-table join, recording
// the persistent query id on the enrichment row.
func (o *Orchestrator) provisionEnrichment(ctx context.Context, p *models.Pipeline, enr *models.Enrichment, discovered map[string]models.DiscoveredTable) (string, error) {
	var sourceSchema []models.Column
	for _, t := range discovered {
		if streamName(t.QualifiedName()) == enr.SourceStream {
			sourceSchema = t.Columns
			break
		}
	}
	if sourceSchema == nil {
		return "", fmt.Errorf("%w: no discovered schema behind stream %s", models.ErrNotFound, enr.SourceStream)
	}

	plan, err := joinplan.Build(*enr, sourceSchema, o.cfg.ValueFormat)
	if err != nil {
		return "", fmt.Errorf("plan enrichment %s: %w", enr.ID, err)
	}

	props := anomaly.EarliestOffsetProperties()

	if _, err := o.processor.Execute(ctx, plan.StreamDDL, props); err != nil {
		return "", fmt.Errorf("create enrichment source stream: %w", err)
	}
	if err := o.tracker.Track(ctx, p.ID, models.ResourceKsqlStream, enr.SourceStream, "enrichment source stream", nil, []string{enr.SourceTopic}); err != nil {
		return "", err
	}

	for i, ddl := range plan.TableDDLs {
		if _, err := o.processor.Execute(ctx, ddl, props); err != nil {
			return "", fmt.Errorf("create lookup table: %w", err)
		}
		lt := enr.LookupTables[i]
		if err := o.tracker.Track(ctx, p.ID, models.ResourceKsqlTable, lt.KsqlTable, "lookup table "+lt.Name, nil, []string{lt.Topic}); err != nil {
			return "", err
		}
	}

	res, err := o.processor.Execute(ctx, plan.JoinDDL, props)
	if err != nil {
		return "", fmt.Errorf("create enrichment join: %w", err)
	}

	enr.QueryID = res.QueryID
	enr.Status = models.EnrichmentActive
	if err := o.store.UpdateEnrichment(ctx, enr); err != nil {
		return "", fmt.Errorf("persist enrichment state: %w", err)
	}

	meta := map[string]any{}
	if res.QueryID != "" {
		meta["query_id"] = res.QueryID
	}
	if err := o.tracker.Track(ctx, p.ID, models.ResourceKsqlStream, plan.OutputStream, "enriched stream", meta, []string{enr.SourceStream}); err != nil {
		return "", err
	}
	if err := o.tracker.Track(ctx, p.ID, models.ResourceKafkaTopic, plan.OutputTopic, "enriched topic", nil, []string{plan.OutputStream}); err != nil {
		return "", err
	}

	return plan.OutputTopic, nil
}
