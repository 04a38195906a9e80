package discovery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dataflowhq/control-plane/internal/models"
)

// FilterPreview counts and samples rows matching a candidate predicate.
// Query failures are folded into the result instead of propagating so the
// UI can show "0 rows, invalid predicate" rather than a 500.
func (d *Discoverer) FilterPreview(ctx context.Context, pool *pgxpool.Pool, schema, table, predicate string, limit int) models.FilterPreview {
	if limit <= 0 {
		limit = 10
	}

	target := fmt.Sprintf("%q.%q", schema, table)

	var preview models.FilterPreview
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", target, predicate)
	if err := pool.QueryRow(ctx, countQuery).Scan(&preview.MatchingCount); err != nil {
		d.log.WarnContext(ctx, "filter preview count failed",
			slog.String("table", schema+"."+table),
			slog.String("error", err.Error()))
		preview.Error = err.Error()
		return preview
	}

	sampleQuery := fmt.Sprintf("SELECT * FROM %s WHERE %s LIMIT %d", target, predicate, limit)
	rows, err := pool.Query(ctx, sampleQuery)
	if err != nil {
		preview.Error = err.Error()
		return preview
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			preview.Error = err.Error()
			return preview
		}

		row := make(map[string]any, len(fields))
		for i, f := range fields {
			row[f.Name] = values[i]
		}
		preview.SampleRows = append(preview.SampleRows, row)
	}

	return preview
}

// DistinctValues samples up to limit distinct values of one column, used to
// boost filter-planner confidence. Failures return an empty sample.
func (d *Discoverer) DistinctValues(ctx context.Context, pool *pgxpool.Pool, schema, table, column string, limit int) []string {
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf("SELECT DISTINCT %q::text FROM %q.%q WHERE %q IS NOT NULL LIMIT %d",
		column, schema, table, column, limit)

	rows, err := pool.Query(ctx, query)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return values
		}
		values = append(values, v)
	}

	return values
}
