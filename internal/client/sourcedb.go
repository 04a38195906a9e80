package client

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dataflowhq/control-plane/internal"
	"github.com/dataflowhq/control-plane/internal/models"
)

// OpenSource opens a pooled connection to a user's source database from a
// decrypted secret. Callers own the pool and must Close it.
func OpenSource(ctx context.Context, secret models.SourceSecret) (*pgxpool.Pool, error) {
	sslmode := secret.SSLMode
	if sslmode == "" {
		sslmode = "prefer"
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=%s",
		secret.User, secret.Password,
		net.JoinHostPort(secret.Host, strconv.Itoa(secret.Port)),
		secret.Database, sslmode)

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: parse source dsn: %v", models.ErrConnectFailed, err)
	}
	cfg.MaxConns = 4
	cfg.MaxConnLifetime = 5 * time.Minute

	connCtx, cancel := context.WithTimeout(ctx, internal.ProbeTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrConnectFailed, err)
	}

	if err := pool.Ping(connCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", models.ErrConnectFailed, err)
	}

	return pool, nil
}

// PostgresProber implements the vault connectivity probe: short-timeout
// connect plus a trivial query. Results are never persisted.
type PostgresProber struct{}

func (PostgresProber) Probe(ctx context.Context, kind string, secret models.SourceSecret) models.ProbeResult {
	if kind != "postgres" {
		return models.ProbeResult{Error: fmt.Sprintf("unsupported source kind %q", kind)}
	}

	probeCtx, cancel := context.WithTimeout(ctx, internal.ProbeTimeout)
	defer cancel()

	pool, err := OpenSource(probeCtx, secret)
	if err != nil {
		return models.ProbeResult{Error: err.Error()}
	}
	defer pool.Close()

	var version string
	if err := pool.QueryRow(probeCtx, "SELECT version()").Scan(&version); err != nil {
		return models.ProbeResult{Error: fmt.Sprintf("probe query: %v", err)}
	}

	return models.ProbeResult{Success: true, ServerVersion: version}
}
