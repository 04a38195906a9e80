package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/dataflowhq/control-plane/internal/models"
)

// UpsertResource writes one ledger entry keyed by (pipeline, external id);
// re-tracking after a restart overwrites the stale row.
func (s *Store) UpsertResource(ctx context.Context, r models.TrackedResource) error {
	metadata, err := marshalJSON(r.Metadata)
	if err != nil {
		return err
	}
	dependsOn, err := marshalJSON(r.DependsOn)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO tracked_resources (pipeline_id, kind, external_id, name, status,
			metadata, depends_on, error_message, created_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (pipeline_id, external_id) DO UPDATE SET
			kind = EXCLUDED.kind,
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			metadata = EXCLUDED.metadata,
			depends_on = EXCLUDED.depends_on,
			error_message = EXCLUDED.error_message,
			deleted_at = EXCLUDED.deleted_at
	`, r.PipelineID, r.Kind, r.ExternalID, r.Name, r.Status,
		metadata, dependsOn, r.Error, r.CreatedAt, r.DeletedAt)
	if err != nil {
		return fmt.Errorf("upsert tracked resource: %w", err)
	}
	return nil
}

func (s *Store) ListResources(ctx context.Context, pipelineID uuid.UUID) ([]models.TrackedResource, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT pipeline_id, kind, external_id, name, status, metadata, depends_on,
			error_message, created_at, deleted_at
		FROM tracked_resources
		WHERE pipeline_id = $1
		ORDER BY created_at
	`, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("list tracked resources: %w", err)
	}
	defer rows.Close()

	var out []models.TrackedResource
	for rows.Next() {
		var r models.TrackedResource
		var metadata, dependsOn []byte
		if err := rows.Scan(&r.PipelineID, &r.Kind, &r.ExternalID, &r.Name, &r.Status,
			&metadata, &dependsOn, &r.Error, &r.CreatedAt, &r.DeletedAt); err != nil {
			return nil, fmt.Errorf("scan tracked resource: %w", err)
		}
		if err := unmarshalJSON(metadata, &r.Metadata); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(dependsOn, &r.DependsOn); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) DeleteResources(ctx context.Context, pipelineID uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM tracked_resources WHERE pipeline_id = $1`, pipelineID)
	if err != nil {
		return fmt.Errorf("purge tracked resources: %w", err)
	}
	return nil
}
