package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dataflowhq/control-plane/internal"
	"github.com/dataflowhq/control-plane/internal/anomaly"
	"github.com/dataflowhq/control-plane/internal/client"
	"github.com/dataflowhq/control-plane/internal/models"
)

type SecretOpener interface {
	Open(ctx context.Context, userID string, id uuid.UUID) (models.SourceSecret, error)
}

type TableCatalog interface {
	ListDiscoveredTables(ctx context.Context, credentialID uuid.UUID) ([]models.DiscoveredTable, error)
}

// SourceCollector samples recent row counts and the newest event instant
// per source table, straight from the source database.
type SourceCollector struct {
	vault  SecretOpener
	tables TableCatalog
	window time.Duration
	log    *slog.Logger
}

func NewSourceCollector(vault SecretOpener, tables TableCatalog, log *slog.Logger) *SourceCollector {
	return &SourceCollector{
		vault:  vault,
		tables: tables,
		window: internal.MetricsTrailingWindow,
		log:    log,
	}
}

func (c *SourceCollector) Collect(ctx context.Context, p models.Pipeline) ([]anomaly.Metrics, error) {
	secret, err := c.vault.Open(ctx, p.UserID, p.CredentialID)
	if err != nil {
		return nil, fmt.Errorf("open source credential: %w", err)
	}

	pool, err := client.OpenSource(ctx, secret)
	if err != nil {
		return nil, fmt.Errorf("connect to source: %w", err)
	}
	defer pool.Close()

	discovered, err := c.tables.ListDiscoveredTables(ctx, p.CredentialID)
	if err != nil {
		return nil, fmt.Errorf("load discovered tables: %w", err)
	}
	byName := make(map[string]models.DiscoveredTable, len(discovered))
	for _, t := range discovered {
		byName[t.QualifiedName()] = t
	}

	var out []anomaly.Metrics
	for _, qualified := range p.Tables {
		m := anomaly.Metrics{Table: qualified}

		tsCol := ""
		if t, ok := byName[qualified]; ok {
			tsCol = timestampColumn(t)
		}

		schema, table, ok := strings.Cut(qualified, ".")
		if !ok {
			schema, table = "public", qualified
		}

		if tsCol != "" {
			query := fmt.Sprintf(
				`SELECT COUNT(*), MAX(%s) FROM %s.%s WHERE %s >= NOW() - $1::interval`,
				quotePg(tsCol), quotePg(schema), quotePg(table), quotePg(tsCol))

			var last *time.Time
			if err := pool.QueryRow(ctx, query, c.window.String()).Scan(&m.CurrentCount, &last); err != nil {
				c.log.ErrorContext(ctx, "sample table metrics",
					slog.String("table", qualified),
					slog.Any("error", err))
				continue
			}
			m.LastEventAt = last
		} else {
			query := fmt.Sprintf(`SELECT COUNT(*) FROM %s.%s`, quotePg(schema), quotePg(table))
			if err := pool.QueryRow(ctx, query).Scan(&m.CurrentCount); err != nil {
				c.log.ErrorContext(ctx, "count table rows",
					slog.String("table", qualified),
					slog.Any("error", err))
				continue
			}
		}

		m.RowCount = m.CurrentCount
		out = append(out, m)
	}

	return out, nil
}

// timestampColumn picks the event-time column used for gap detection:
// a conventional name first, then any timestamp-family column.
func timestampColumn(t models.DiscoveredTable) string {
	preferred := []string{"updated_at", "created_at", "event_time", "timestamp", "occurred_at"}
	for _, name := range preferred {
		if c, ok := t.Column(name); ok && isTimestamp(c.Type) {
			return c.Name
		}
	}
	for _, c := range t.Columns {
		if isTimestamp(c.Type) {
			return c.Name
		}
	}
	return ""
}

func isTimestamp(pgType string) bool {
	return strings.HasPrefix(strings.ToLower(pgType), "timestamp")
}

func quotePg(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, ``) + `"`
}
