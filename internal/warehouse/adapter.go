package warehouse

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dataflowhq/control-plane/internal"
	"github.com/dataflowhq/control-plane/internal/models"
	"github.com/dataflowhq/control-plane/internal/registry"
)

// SinkExecutor is the slice of the warehouse client the adapter needs.
type SinkExecutor interface {
	Exec(ctx context.Context, ddl string) error
	TableColumns(ctx context.Context, database, table string) ([]models.Column, error)
}

type TypeMapper interface {
	MapType(sinkName, sourceType string) (string, error)
	Sink(name string) (registry.SinkDescriptor, error)
}

// Adapter renders and executes sink DDL and verifies live sink schemas.
type Adapter struct {
	registry TypeMapper
	sink     SinkExecutor
	log      *slog.Logger
}

func New(reg TypeMapper, sink SinkExecutor, log *slog.Logger) *Adapter {
	return &Adapter{registry: reg, sink: sink, log: log}
}

// SinkColumns maps source columns to sink columns and appends the three
// reserved columns: deletion marker, monotonic version, ingestion instant.
func (a *Adapter) SinkColumns(sinkKind string, source []models.Column) ([]models.Column, error) {
	out := make([]models.Column, 0, len(source)+3)

	for i, c := range source {
		mapped, err := a.registry.MapType(sinkKind, c.Type)
		if err != nil {
			return nil, fmt.Errorf("map type of column %s: %w", c.Name, err)
		}
		if c.Nullable {
			mapped = "Nullable(" + mapped + ")"
		}
		out = append(out, models.Column{Name: c.Name, Type: mapped, Nullable: c.Nullable, Ordinal: i + 1})
	}

	n := len(out)
	out = append(out,
		models.Column{Name: internal.SinkDeletedColumn, Type: "UInt8", Ordinal: n + 1},
		models.Column{Name: internal.SinkVersionColumn, Type: "UInt64", Ordinal: n + 2},
		models.Column{Name: internal.SinkInsertedAtColumn, Type: "DateTime64(3)", Ordinal: n + 3},
	)

	return out, nil
}

// CreateTableSQL renders the descriptor's CREATE TABLE template for a
// source projection. The ordering key is the source primary key, falling
// back to the first column.
func (a *Adapter) CreateTableSQL(sinkKind, database, table string, source []models.Column, primaryKey []string) (string, error) {
	desc, err := a.registry.Sink(sinkKind)
	if err != nil {
		return "", err
	}

	cols, err := a.SinkColumns(sinkKind, source)
	if err != nil {
		return "", err
	}

	decls := make([]string, len(cols))
	for i, c := range cols {
		decls[i] = fmt.Sprintf("`%s` %s", c.Name, c.Type)
	}

	orderBy := primaryKey
	if len(orderBy) == 0 && len(source) > 0 {
		orderBy = []string{source[0].Name}
	}
	quotedOrder := make([]string, len(orderBy))
	for i, k := range orderBy {
		quotedOrder[i] = "`" + k + "`"
	}

	return registry.RenderString(desc.CreateTableDDL, map[string]string{
		"database":       database,
		"table":          table,
		"columns":        strings.Join(decls, ", "),
		"version_column": internal.SinkVersionColumn,
		"order_by":       strings.Join(quotedOrder, ", "),
	})
}

// EnsureTable creates the sink table when missing. The DDL is
// IF NOT EXISTS so retried starts are idempotent.
func (a *Adapter) EnsureTable(ctx context.Context, sinkKind, database, table string, source []models.Column, primaryKey []string) (string, error) {
	ddl, err := a.CreateTableSQL(sinkKind, database, table, source, primaryKey)
	if err != nil {
		return "", err
	}

	if err := a.sink.Exec(ctx, ddl); err != nil {
		return "", fmt.Errorf("create sink table %s.%s: %w", database, table, err)
	}

	a.log.InfoContext(ctx, "sink table ensured",
		slog.String("database", database),
		slog.String("table", table))

	return ddl, nil
}

// Exec runs raw DDL against the sink.
func (a *Adapter) Exec(ctx context.Context, ddl string) error {
	return a.sink.Exec(ctx, ddl)
}

type TypeMismatch struct {
	Column   string `json:"column"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

type VerifyResult struct {
	Exists         bool           `json:"exists"`
	Compatible     bool           `json:"compatible"`
	MissingColumns []string       `json:"missing_columns,omitempty"`
	TypeMismatches []TypeMismatch `json:"type_mismatches,omitempty"`
	CreateTableSQL string         `json:"create_table_sql,omitempty"`
}

// Verify compares the live sink table against the expectation derived from
// the source projection. With strict set, an incompatible table is an
// error; otherwise the mismatch detail is returned for the caller.
func (a *Adapter) Verify(ctx context.Context, sinkKind, database, table string, source []models.Column, primaryKey []string, strict bool) (*VerifyResult, error) {
	expected, err := a.SinkColumns(sinkKind, source)
	if err != nil {
		return nil, err
	}

	live, err := a.sink.TableColumns(ctx, database, table)
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{Exists: len(live) > 0}
	if !result.Exists {
		result.CreateTableSQL, err = a.CreateTableSQL(sinkKind, database, table, source, primaryKey)
		if err != nil {
			return nil, err
		}
		if strict {
			return result, fmt.Errorf("%w: table %s.%s does not exist", models.ErrIncompatibleSchema, database, table)
		}
		return result, nil
	}

	liveTypes := make(map[string]string, len(live))
	for _, c := range live {
		liveTypes[c.Name] = c.Type
	}

	for _, want := range expected {
		actual, ok := liveTypes[want.Name]
		if !ok {
			result.MissingColumns = append(result.MissingColumns, want.Name)
			continue
		}
		if actual != want.Type {
			result.TypeMismatches = append(result.TypeMismatches, TypeMismatch{
				Column: want.Name, Expected: want.Type, Actual: actual,
			})
		}
	}

	result.Compatible = len(result.MissingColumns) == 0 && len(result.TypeMismatches) == 0
	if !result.Compatible && strict {
		return result, fmt.Errorf("%w: table %s.%s: %d missing, %d mismatched",
			models.ErrIncompatibleSchema, database, table,
			len(result.MissingColumns), len(result.TypeMismatches))
	}

	return result, nil
}
