package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dataflowhq/control-plane/internal/models"
)

const credentialColumns = `id, user_id, name, source_kind, ciphertext, iv, tag,
	host, port, database_name, validated, last_validated, created_at`

func (s *Store) InsertCredential(ctx context.Context, c models.Credential) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO credentials (id, user_id, name, source_kind, ciphertext, iv, tag,
			host, port, database_name, validated, last_validated, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, c.ID, c.UserID, c.Name, c.SourceKind, c.Ciphertext, c.IV, c.Tag,
		c.Host, c.Port, c.Database, c.Validated, c.LastValidated, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

func (s *Store) GetCredential(ctx context.Context, userID string, id uuid.UUID) (*models.Credential, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE id = $1 AND user_id = $2`,
		id, userID)

	c, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: credential %s", models.ErrNotFound, id)
		}
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return c, nil
}

func (s *Store) ListCredentials(ctx context.Context, userID string) ([]models.Credential, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE user_id = $1 ORDER BY created_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var out []models.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *Store) DeleteCredential(ctx context.Context, userID string, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM credentials WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: credential %s", models.ErrNotFound, id)
	}
	return nil
}

func scanCredential(row pgx.Row) (*models.Credential, error) {
	var c models.Credential
	err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.SourceKind, &c.Ciphertext, &c.IV, &c.Tag,
		&c.Host, &c.Port, &c.Database, &c.Validated, &c.LastValidated, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
