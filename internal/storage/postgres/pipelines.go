package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dataflowhq/control-plane/internal/models"
)

const pipelineColumns = `id, user_id, name, credential_id, source_kind, tables, filter,
	template_id, sink_kind, sink_config, source_connector, sink_connector, status,
	last_health_check, error_message, metrics, created_at, started_at, stopped_at, deleted_at`

// CreatePipeline writes the pipeline row and its creation event in one
// transaction; a pipeline never exists without its audit trail.
func (s *Store) CreatePipeline(ctx context.Context, p *models.Pipeline, e models.PipelineEvent) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if err := insertPipeline(ctx, tx, p); err != nil {
		return err
	}
	if err := insertEvent(ctx, tx, e); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit pipeline: %w", err)
	}
	return nil
}

// UpdatePipeline persists a status transition together with its event.
// A nil event updates the row alone (health check touches, metric refreshes).
func (s *Store) UpdatePipeline(ctx context.Context, p *models.Pipeline, e *models.PipelineEvent) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tables, err := marshalJSON(p.Tables)
	if err != nil {
		return err
	}
	filter, err := marshalJSON(p.Filter)
	if err != nil {
		return err
	}
	sinkConfig, err := marshalJSON(p.SinkConfig)
	if err != nil {
		return err
	}
	metrics, err := marshalJSON(p.Metrics)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE pipelines
		SET name = $1, tables = $2, filter = $3, sink_config = $4,
			source_connector = $5, sink_connector = $6, status = $7,
			last_health_check = $8, error_message = $9, metrics = $10,
			started_at = $11, stopped_at = $12, deleted_at = $13
		WHERE id = $14
	`, p.Name, tables, filter, sinkConfig,
		p.SourceConnector, p.SinkConnector, p.Status,
		p.LastHealthCheck, p.ErrorMessage, metrics,
		p.StartedAt, p.StoppedAt, p.DeletedAt, p.ID)
	if err != nil {
		return fmt.Errorf("update pipeline: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: pipeline %s", models.ErrNotFound, p.ID)
	}

	if e != nil {
		if err := insertEvent(ctx, tx, *e); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit pipeline update: %w", err)
	}
	return nil
}

func insertPipeline(ctx context.Context, tx pgx.Tx, p *models.Pipeline) error {
	tables, err := marshalJSON(p.Tables)
	if err != nil {
		return err
	}
	filter, err := marshalJSON(p.Filter)
	if err != nil {
		return err
	}
	sinkConfig, err := marshalJSON(p.SinkConfig)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO pipelines (id, user_id, name, credential_id, source_kind, tables,
			filter, template_id, sink_kind, sink_config, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, p.ID, p.UserID, p.Name, p.CredentialID, p.SourceKind, tables,
		filter, p.TemplateID, p.SinkKind, sinkConfig, p.Status, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert pipeline: %w", err)
	}
	return nil
}

func insertEvent(ctx context.Context, tx pgx.Tx, e models.PipelineEvent) error {
	details, err := marshalJSON(e.Details)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO pipeline_events (id, pipeline_id, kind, message, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.ID, e.PipelineID, e.Kind, e.Message, details, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert pipeline event: %w", err)
	}
	return nil
}

func (s *Store) GetPipeline(ctx context.Context, userID string, id uuid.UUID) (*models.Pipeline, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pipelineColumns+` FROM pipelines WHERE id = $1 AND user_id = $2`,
		id, userID)

	p, err := scanPipeline(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: pipeline %s", models.ErrNotFound, id)
		}
		return nil, err
	}
	return p, nil
}

// ListPipelines returns a user's pipelines, soft-deleted ones excluded.
func (s *Store) ListPipelines(ctx context.Context, userID string) ([]models.Pipeline, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pipelineColumns+` FROM pipelines
		 WHERE user_id = $1 AND status != 'deleted'
		 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	defer rows.Close()

	return collectPipelines(rows)
}

// ListRunning returns every running pipeline across users, for the monitor
// sweep.
func (s *Store) ListRunning(ctx context.Context) ([]models.Pipeline, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pipelineColumns+` FROM pipelines WHERE status = 'running'`)
	if err != nil {
		return nil, fmt.Errorf("list running pipelines: %w", err)
	}
	defer rows.Close()

	return collectPipelines(rows)
}

// ListUndeletedIDs returns the ids of every pipeline not soft deleted, across
// users. Topic sweeps derive the set of legitimate prefixes from it.
func (s *Store) ListUndeletedIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM pipelines WHERE status != 'deleted'`)
	if err != nil {
		return nil, fmt.Errorf("list pipeline ids: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pipeline id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) TouchHealthCheck(ctx context.Context, pipelineID uuid.UUID, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE pipelines SET last_health_check = $1 WHERE id = $2`, at, pipelineID)
	if err != nil {
		return fmt.Errorf("touch health check: %w", err)
	}
	return nil
}

// ListEvents returns a pipeline's audit trail, newest first.
func (s *Store) ListEvents(ctx context.Context, pipelineID uuid.UUID, limit int) ([]models.PipelineEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, pipeline_id, kind, message, details, created_at
		FROM pipeline_events
		WHERE pipeline_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, pipelineID, limit)
	if err != nil {
		return nil, fmt.Errorf("list pipeline events: %w", err)
	}
	defer rows.Close()

	var out []models.PipelineEvent
	for rows.Next() {
		var e models.PipelineEvent
		var details []byte
		if err := rows.Scan(&e.ID, &e.PipelineID, &e.Kind, &e.Message, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pipeline event: %w", err)
		}
		if err := unmarshalJSON(details, &e.Details); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanPipeline(row pgx.Row) (*models.Pipeline, error) {
	var p models.Pipeline
	var tables, filter, sinkConfig, metrics []byte

	err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.CredentialID, &p.SourceKind,
		&tables, &filter, &p.TemplateID, &p.SinkKind, &sinkConfig,
		&p.SourceConnector, &p.SinkConnector, &p.Status,
		&p.LastHealthCheck, &p.ErrorMessage, &metrics,
		&p.CreatedAt, &p.StartedAt, &p.StoppedAt, &p.DeletedAt)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSON(tables, &p.Tables); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(filter, &p.Filter); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(sinkConfig, &p.SinkConfig); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(metrics, &p.Metrics); err != nil {
		return nil, err
	}

	return &p, nil
}

func collectPipelines(rows pgx.Rows) ([]models.Pipeline, error) {
	var out []models.Pipeline
	for rows.Next() {
		p, err := scanPipeline(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pipeline: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}
