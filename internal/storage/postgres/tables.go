package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dataflowhq/control-plane/internal/models"
)

// UpsertDiscoveredTable refreshes the cached introspection result for one
// (credential, schema, table).
func (s *Store) UpsertDiscoveredTable(ctx context.Context, t models.DiscoveredTable) error {
	columns, err := marshalJSON(t.Columns)
	if err != nil {
		return err
	}
	primaryKey, err := marshalJSON(t.PrimaryKey)
	if err != nil {
		return err
	}
	foreignKeys, err := marshalJSON(t.ForeignKeys)
	if err != nil {
		return err
	}
	issues, err := marshalJSON(t.Issues)
	if err != nil {
		return err
	}

	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO discovered_tables (id, credential_id, schema_name, table_name,
			columns, primary_key, foreign_keys, row_estimate, size_bytes,
			has_primary_key, cdc_eligible, issues, replica_identity, discovered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (credential_id, schema_name, table_name) DO UPDATE SET
			columns = EXCLUDED.columns,
			primary_key = EXCLUDED.primary_key,
			foreign_keys = EXCLUDED.foreign_keys,
			row_estimate = EXCLUDED.row_estimate,
			size_bytes = EXCLUDED.size_bytes,
			has_primary_key = EXCLUDED.has_primary_key,
			cdc_eligible = EXCLUDED.cdc_eligible,
			issues = EXCLUDED.issues,
			replica_identity = EXCLUDED.replica_identity,
			discovered_at = EXCLUDED.discovered_at
	`, t.ID, t.CredentialID, t.SchemaName, t.TableName,
		columns, primaryKey, foreignKeys, t.RowEstimate, t.SizeBytes,
		t.HasPrimaryKey, t.CDCEligible, issues, t.ReplicaIdentity, t.DiscoveredAt)
	if err != nil {
		return fmt.Errorf("upsert discovered table: %w", err)
	}
	return nil
}

func (s *Store) ListDiscoveredTables(ctx context.Context, credentialID uuid.UUID) ([]models.DiscoveredTable, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, credential_id, schema_name, table_name, columns, primary_key,
			foreign_keys, row_estimate, size_bytes, has_primary_key, cdc_eligible,
			issues, replica_identity, discovered_at
		FROM discovered_tables
		WHERE credential_id = $1
		ORDER BY schema_name, table_name
	`, credentialID)
	if err != nil {
		return nil, fmt.Errorf("list discovered tables: %w", err)
	}
	defer rows.Close()

	var out []models.DiscoveredTable
	for rows.Next() {
		t, err := scanDiscoveredTable(rows)
		if err != nil {
			return nil, fmt.Errorf("scan discovered table: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func scanDiscoveredTable(row pgx.Row) (*models.DiscoveredTable, error) {
	var t models.DiscoveredTable
	var columns, primaryKey, foreignKeys, issues []byte

	err := row.Scan(&t.ID, &t.CredentialID, &t.SchemaName, &t.TableName,
		&columns, &primaryKey, &foreignKeys, &t.RowEstimate, &t.SizeBytes,
		&t.HasPrimaryKey, &t.CDCEligible, &issues, &t.ReplicaIdentity, &t.DiscoveredAt)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSON(columns, &t.Columns); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(primaryKey, &t.PrimaryKey); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(foreignKeys, &t.ForeignKeys); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(issues, &t.Issues); err != nil {
		return nil, err
	}

	return &t, nil
}
