package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/avast/retry-go/v4"

	"github.com/dataflowhq/control-plane/internal/models"
)

type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	Username string
	Password string
	Secure   bool
}

// ClickHouseClient is the sink-warehouse connection used by the warehouse
// adapter for DDL and schema verification.
type ClickHouseClient struct {
	conn     driver.Conn
	database string
}

func NewClickHouseClient(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseClient, error) {
	var tlsConfig *tls.Config
	if cfg.Secure {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12} //nolint:exhaustruct // optionals
	}

	conn, err := clickhouse.Open(&clickhouse.Options{ //nolint:exhaustruct // optionals
		Addr:     []string{cfg.Host + ":" + cfg.Port},
		Protocol: clickhouse.Native,
		TLS:      tlsConfig,
		Auth: clickhouse.Auth{ //nolint:exhaustruct // optionals
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open connection: %v", models.ErrSinkUnavailable, err)
	}

	err = retry.Do(
		func() error {
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return conn.Ping(pingCtx)
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.Context(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: ping: %v", models.ErrSinkUnavailable, err)
	}

	return &ClickHouseClient{conn: conn, database: cfg.Database}, nil
}

func (c *ClickHouseClient) Database() string { return c.database }

func (c *ClickHouseClient) Exec(ctx context.Context, ddl string) error {
	if err := c.conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("%w: exec: %v", models.ErrSinkUnavailable, err)
	}
	return nil
}

// TableColumns returns the live (name, type) pairs of a sink table in
// declared order; empty when the table does not exist.
func (c *ClickHouseClient) TableColumns(ctx context.Context, database, table string) ([]models.Column, error) {
	rows, err := c.conn.Query(ctx, `
		SELECT name, type, position
		FROM system.columns
		WHERE database = ? AND table = ?
		ORDER BY position`, database, table)
	if err != nil {
		return nil, fmt.Errorf("%w: query system.columns: %v", models.ErrSinkUnavailable, err)
	}
	defer rows.Close()

	var cols []models.Column
	for rows.Next() {
		var (
			name, typ string
			position  uint64
		)
		if err := rows.Scan(&name, &typ, &position); err != nil {
			return nil, fmt.Errorf("scan column row: %w", err)
		}
		cols = append(cols, models.Column{Name: name, Type: typ, Ordinal: int(position)})
	}

	return cols, nil
}

func (c *ClickHouseClient) Close() error {
	if c.conn == nil {
		return nil
	}
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("close clickhouse connection: %w", err)
	}
	return nil
}
