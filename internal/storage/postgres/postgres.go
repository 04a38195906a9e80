package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dataflowhq/control-plane/internal"
)

// Store is the control plane's metadata store on PostgreSQL. One instance
// backs every persistence interface in the system; pgxpool handles
// concurrent access.
type Store struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// New connects with retries so the control plane survives a metadata
// database that comes up after it does.
func New(ctx context.Context, dsn string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}

	connCtx, cancel := context.WithTimeout(ctx, internal.PostgresMaxConnectionWait)
	defer cancel()

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = 5 * time.Minute

	retryDelay := internal.PostgresInitialRetryDelay
	var pool *pgxpool.Pool

	for i := range internal.PostgresConnectionRetries {
		select {
		case <-connCtx.Done():
			return nil, fmt.Errorf("timeout after %v waiting for metadata store", internal.PostgresMaxConnectionWait)
		default:
		}

		poolCtx, poolCancel := context.WithTimeout(connCtx, internal.PostgresConnectionTimeout)
		pool, err = pgxpool.NewWithConfig(poolCtx, config)
		poolCancel()

		if err == nil {
			pingCtx, pingCancel := context.WithTimeout(connCtx, internal.PostgresConnectionTimeout)
			err = pool.Ping(pingCtx)
			pingCancel()

			if err == nil {
				break
			}
			pool.Close()
			pool = nil
		}

		if i < internal.PostgresConnectionRetries-1 {
			select {
			case <-time.After(retryDelay):
				log.InfoContext(ctx, "retrying metadata store connection",
					slog.Int("attempt", i+2),
					slog.Int("max_attempts", internal.PostgresConnectionRetries),
					slog.String("retry_delay", retryDelay.String()))
			case <-connCtx.Done():
				return nil, fmt.Errorf("timeout during retry delay: %w", connCtx.Err())
			}
			retryDelay = min(time.Duration(float64(retryDelay)*1.5), internal.PostgresMaxRetryDelay)
		}
	}

	if err != nil {
		return nil, fmt.Errorf("connect to metadata store after %d attempts: %w", internal.PostgresConnectionRetries, err)
	}

	log.InfoContext(ctx, "metadata store connected",
		slog.Int("max_conns", int(config.MaxConns)),
		slog.Int("min_conns", int(config.MinConns)))

	return &Store{pool: pool, log: log}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
