package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dataflowhq/control-plane/internal/models"
)

func (s *Store) InsertEnrichment(ctx context.Context, e models.Enrichment) error {
	lookupTables, err := marshalJSON(e.LookupTables)
	if err != nil {
		return err
	}
	joinKeys, err := marshalJSON(e.JoinKeys)
	if err != nil {
		return err
	}
	outputColumns, err := marshalJSON(e.OutputColumns)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO enrichments (id, pipeline_id, source_stream, source_topic,
			lookup_tables, join_type, join_keys, output_columns, output_stream,
			output_topic, query_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, e.ID, e.PipelineID, e.SourceStream, e.SourceTopic,
		lookupTables, e.JoinType, joinKeys, outputColumns, e.OutputStream,
		e.OutputTopic, e.QueryID, e.Status, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert enrichment: %w", err)
	}
	return nil
}

func (s *Store) ListEnrichments(ctx context.Context, pipelineID uuid.UUID) ([]models.Enrichment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, pipeline_id, source_stream, source_topic, lookup_tables,
			join_type, join_keys, output_columns, output_stream, output_topic,
			query_id, status, created_at
		FROM enrichments
		WHERE pipeline_id = $1
		ORDER BY created_at
	`, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("list enrichments: %w", err)
	}
	defer rows.Close()

	var out []models.Enrichment
	for rows.Next() {
		e, err := scanEnrichment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan enrichment: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// UpdateEnrichment persists the mutable provisioning fields only; the join
// definition is immutable after creation.
func (s *Store) UpdateEnrichment(ctx context.Context, e *models.Enrichment) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE enrichments SET query_id = $1, status = $2 WHERE id = $3
	`, e.QueryID, e.Status, e.ID)
	if err != nil {
		return fmt.Errorf("update enrichment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: enrichment %s", models.ErrNotFound, e.ID)
	}
	return nil
}

func (s *Store) DeleteEnrichment(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM enrichments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete enrichment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: enrichment %s", models.ErrNotFound, id)
	}
	return nil
}

func scanEnrichment(row pgx.Row) (*models.Enrichment, error) {
	var e models.Enrichment
	var lookupTables, joinKeys, outputColumns []byte

	err := row.Scan(&e.ID, &e.PipelineID, &e.SourceStream, &e.SourceTopic,
		&lookupTables, &e.JoinType, &joinKeys, &outputColumns, &e.OutputStream,
		&e.OutputTopic, &e.QueryID, &e.Status, &e.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSON(lookupTables, &e.LookupTables); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(joinKeys, &e.JoinKeys); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(outputColumns, &e.OutputColumns); err != nil {
		return nil, err
	}

	return &e, nil
}
