package warehouse

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataflowhq/control-plane/internal/models"
	"github.com/dataflowhq/control-plane/internal/registry"
)

const sinkDescriptor = `
sinks:
  - name: clickhouse
    type_map:
      bigint: Int64
      integer: Int32
      character varying: String
      numeric: "Decimal(38, 9)"
      timestamp: "DateTime64(6)"
      boolean: UInt8
    default_type: String
    create_table_ddl: >-
      CREATE TABLE IF NOT EXISTS ${database}.${table} (${columns})
      ENGINE = ReplacingMergeTree(${version_column})
      ORDER BY (${order_by})
`

type fakeSink struct {
	executed []string
	columns  []models.Column
}

func (f *fakeSink) Exec(_ context.Context, ddl string) error {
	f.executed = append(f.executed, ddl)
	return nil
}

func (f *fakeSink) TableColumns(_ context.Context, _, _ string) ([]models.Column, error) {
	return f.columns, nil
}

func newTestAdapter(t *testing.T) (*Adapter, *fakeSink) {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sinks.yaml"), []byte(sinkDescriptor), 0o600))
	reg, err := registry.Load(dir, slog.Default())
	require.NoError(t, err)

	sink := &fakeSink{}
	return New(reg, sink, slog.Default()), sink
}

var ordersColumns = []models.Column{
	{Name: "id", Type: "bigint", Ordinal: 1},
	{Name: "status", Type: "character varying(20)", Nullable: true, Ordinal: 2},
	{Name: "total", Type: "numeric(10,2)", Ordinal: 3},
}

func TestSinkColumnsAddsReserved(t *testing.T) {
	a, _ := newTestAdapter(t)

	cols, err := a.SinkColumns("clickhouse", ordersColumns)
	require.NoError(t, err)
	require.Len(t, cols, 6)

	assert.Equal(t, "Int64", cols[0].Type)
	assert.Equal(t, "Nullable(String)", cols[1].Type)
	assert.Equal(t, "Decimal(38, 9)", cols[2].Type)

	assert.Equal(t, "_deleted", cols[3].Name)
	assert.Equal(t, "UInt8", cols[3].Type)
	assert.Equal(t, "_version", cols[4].Name)
	assert.Equal(t, "UInt64", cols[4].Type)
	assert.Equal(t, "_inserted_at", cols[5].Name)
	assert.Equal(t, "DateTime64(3)", cols[5].Type)
}

func TestCreateTableSQLOrdersByPrimaryKey(t *testing.T) {
	a, _ := newTestAdapter(t)

	ddl, err := a.CreateTableSQL("clickhouse", "analytics", "orders", ordersColumns, []string{"id"})
	require.NoError(t, err)

	assert.Contains(t, ddl, "CREATE TABLE IF NOT EXISTS analytics.orders")
	assert.Contains(t, ddl, "ReplacingMergeTree(_version)")
	assert.Contains(t, ddl, "ORDER BY (`id`)")
}

func TestCreateTableSQLFallsBackToFirstColumn(t *testing.T) {
	a, _ := newTestAdapter(t)

	ddl, err := a.CreateTableSQL("clickhouse", "analytics", "orders", ordersColumns, nil)
	require.NoError(t, err)
	assert.Contains(t, ddl, "ORDER BY (`id`)")
}

func TestVerifyAfterCreateIsCompatible(t *testing.T) {
	a, sink := newTestAdapter(t)
	ctx := context.Background()

	_, err := a.EnsureTable(ctx, "clickhouse", "analytics", "orders", ordersColumns, []string{"id"})
	require.NoError(t, err)
	require.Len(t, sink.executed, 1)

	// Live schema equals what the adapter itself would emit.
	sink.columns, err = a.SinkColumns("clickhouse", ordersColumns)
	require.NoError(t, err)

	res, err := a.Verify(ctx, "clickhouse", "analytics", "orders", ordersColumns, []string{"id"}, true)
	require.NoError(t, err)
	assert.True(t, res.Exists)
	assert.True(t, res.Compatible)
	assert.Empty(t, res.MissingColumns)
	assert.Empty(t, res.TypeMismatches)
}

func TestVerifyReportsMissingAndMismatched(t *testing.T) {
	a, sink := newTestAdapter(t)

	sink.columns = []models.Column{
		{Name: "id", Type: "Int32"}, // should be Int64
		{Name: "total", Type: "Decimal(38, 9)"},
		{Name: "_deleted", Type: "UInt8"},
		{Name: "_version", Type: "UInt64"},
		{Name: "_inserted_at", Type: "DateTime64(3)"},
	}

	res, err := a.Verify(context.Background(), "clickhouse", "analytics", "orders", ordersColumns, nil, false)
	require.NoError(t, err)
	assert.False(t, res.Compatible)
	assert.Equal(t, []string{"status"}, res.MissingColumns)
	require.Len(t, res.TypeMismatches, 1)
	assert.Equal(t, "id", res.TypeMismatches[0].Column)

	_, err = a.Verify(context.Background(), "clickhouse", "analytics", "orders", ordersColumns, nil, true)
	assert.ErrorIs(t, err, models.ErrIncompatibleSchema)
}

func TestVerifyMissingTableReturnsDDL(t *testing.T) {
	a, _ := newTestAdapter(t)

	res, err := a.Verify(context.Background(), "clickhouse", "analytics", "orders", ordersColumns, []string{"id"}, false)
	require.NoError(t, err)
	assert.False(t, res.Exists)
	assert.Contains(t, res.CreateTableSQL, "CREATE TABLE IF NOT EXISTS")
}
