package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dataflowhq/control-plane/internal/models"
)

type TableStore interface {
	UpsertDiscoveredTable(ctx context.Context, t models.DiscoveredTable) error
}

// Discoverer introspects a source database for tables, columns, keys and
// CDC eligibility. Results are upserted per (credential, schema, table).
type Discoverer struct {
	store TableStore
	log   *slog.Logger
}

func New(store TableStore, log *slog.Logger) *Discoverer {
	return &Discoverer{store: store, log: log}
}

const listTablesQuery = `
	SELECT table_name
	FROM information_schema.tables
	WHERE table_schema = $1 AND table_type = 'BASE TABLE'
	ORDER BY table_name`

const columnsQuery = `
	SELECT column_name, data_type, is_nullable = 'YES', ordinal_position
	FROM information_schema.columns
	WHERE table_schema = $1 AND table_name = $2
	ORDER BY ordinal_position`

const primaryKeyQuery = `
	SELECT a.attname
	FROM pg_index i
	JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
	WHERE i.indrelid = ($1 || '.' || quote_ident($2))::regclass AND i.indisprimary
	ORDER BY array_position(i.indkey, a.attnum)`

const foreignKeysQuery = `
	SELECT kcu.column_name, ccu.table_schema, ccu.table_name, ccu.column_name, tc.constraint_name
	FROM information_schema.table_constraints tc
	JOIN information_schema.key_column_usage kcu
	  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
	JOIN information_schema.constraint_column_usage ccu
	  ON ccu.constraint_name = tc.constraint_name AND ccu.table_schema = tc.table_schema
	WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = $1 AND tc.table_name = $2`

const statsQuery = `
	SELECT c.reltuples::bigint,
	       pg_total_relation_size(c.oid),
	       c.relreplident
	FROM pg_class c
	JOIN pg_namespace n ON n.oid = c.relnamespace
	WHERE n.nspname = $1 AND c.relname = $2`

// Discover introspects every table of schema matching tableFilter (empty =
// all) and returns the bundle plus the FK relationship graph.
func (d *Discoverer) Discover(ctx context.Context, pool *pgxpool.Pool, credentialID uuid.UUID, schema string, tableFilter []string) (*models.DiscoveryResult, error) {
	names, err := d.listTables(ctx, pool, schema, tableFilter)
	if err != nil {
		return nil, err
	}

	result := &models.DiscoveryResult{}
	for _, name := range names {
		tbl, err := d.introspectTable(ctx, pool, credentialID, schema, name)
		if err != nil {
			return nil, err
		}

		if err := d.store.UpsertDiscoveredTable(ctx, *tbl); err != nil {
			return nil, fmt.Errorf("upsert discovered table %s.%s: %w", schema, name, err)
		}

		result.Tables = append(result.Tables, *tbl)
	}

	result.Relationships = buildRelationshipGraph(result.Tables)

	d.log.InfoContext(ctx, "schema discovery complete",
		slog.String("schema", schema),
		slog.Int("tables", len(result.Tables)))

	return result, nil
}

func (d *Discoverer) listTables(ctx context.Context, pool *pgxpool.Pool, schema string, filter []string) ([]string, error) {
	rows, err := pool.Query(ctx, listTablesQuery, schema)
	if err != nil {
		return nil, fmt.Errorf("%w: list tables: %v", models.ErrQueryFailed, err)
	}
	defer rows.Close()

	want := make(map[string]bool, len(filter))
	for _, f := range filter {
		want[f] = true
	}

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		if len(want) == 0 || want[name] {
			names = append(names, name)
		}
	}

	return names, nil
}

func (d *Discoverer) introspectTable(ctx context.Context, pool *pgxpool.Pool, credentialID uuid.UUID, schema, name string) (*models.DiscoveredTable, error) {
	tbl := &models.DiscoveredTable{
		ID:           uuid.New(),
		CredentialID: credentialID,
		SchemaName:   schema,
		TableName:    name,
		DiscoveredAt: time.Now().UTC(),
	}

	rows, err := pool.Query(ctx, columnsQuery, schema, name)
	if err != nil {
		return nil, fmt.Errorf("%w: columns of %s.%s: %v", models.ErrQueryFailed, schema, name, err)
	}
	for rows.Next() {
		var c models.Column
		if err := rows.Scan(&c.Name, &c.Type, &c.Nullable, &c.Ordinal); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan column: %w", err)
		}
		tbl.Columns = append(tbl.Columns, c)
	}
	rows.Close()

	pkRows, err := pool.Query(ctx, primaryKeyQuery, schema, name)
	if err != nil {
		return nil, fmt.Errorf("%w: primary key of %s.%s: %v", models.ErrQueryFailed, schema, name, err)
	}
	for pkRows.Next() {
		var col string
		if err := pkRows.Scan(&col); err != nil {
			pkRows.Close()
			return nil, fmt.Errorf("scan pk column: %w", err)
		}
		tbl.PrimaryKey = append(tbl.PrimaryKey, col)
	}
	pkRows.Close()

	fkRows, err := pool.Query(ctx, foreignKeysQuery, schema, name)
	if err != nil {
		return nil, fmt.Errorf("%w: foreign keys of %s.%s: %v", models.ErrQueryFailed, schema, name, err)
	}
	for fkRows.Next() {
		var fk models.ForeignKey
		if err := fkRows.Scan(&fk.Column, &fk.RefSchema, &fk.RefTable, &fk.RefColumn, &fk.ConstraintID); err != nil {
			fkRows.Close()
			return nil, fmt.Errorf("scan fk: %w", err)
		}
		tbl.ForeignKeys = append(tbl.ForeignKeys, fk)
	}
	fkRows.Close()

	var replident rune
	err = pool.QueryRow(ctx, statsQuery, schema, name).Scan(&tbl.RowEstimate, &tbl.SizeBytes, &replident)
	if err != nil {
		return nil, fmt.Errorf("%w: stats of %s.%s: %v", models.ErrQueryFailed, schema, name, err)
	}
	tbl.ReplicaIdentity = decodeReplicaIdentity(replident)

	tbl.HasPrimaryKey = len(tbl.PrimaryKey) > 0
	tbl.CDCEligible, tbl.Issues = EvaluateEligibility(tbl.HasPrimaryKey, tbl.ReplicaIdentity)

	return tbl, nil
}

func decodeReplicaIdentity(r rune) models.ReplicaIdentity {
	switch r {
	case 'f':
		return models.ReplicaIdentityFull
	case 'i':
		return models.ReplicaIdentityIndex
	case 'n':
		return models.ReplicaIdentityNothing
	default:
		return models.ReplicaIdentityDefault
	}
}

// EvaluateEligibility computes cdc_eligible = has_primary_key AND
// replica_identity in {default, full, index} plus human-readable issues.
func EvaluateEligibility(hasPK bool, identity models.ReplicaIdentity) (bool, []string) {
	var issues []string

	if !hasPK {
		issues = append(issues, "table has no primary key; change events cannot be keyed")
	}

	switch identity {
	case models.ReplicaIdentityDefault, models.ReplicaIdentityFull, models.ReplicaIdentityIndex:
	default:
		issues = append(issues, fmt.Sprintf("replica identity %q does not emit old row values; run ALTER TABLE ... REPLICA IDENTITY DEFAULT", identity))
	}

	return len(issues) == 0, issues
}

func buildRelationshipGraph(tables []models.DiscoveredTable) models.RelationshipGraph {
	var g models.RelationshipGraph

	known := make(map[string]bool, len(tables))
	for _, t := range tables {
		g.Nodes = append(g.Nodes, t.QualifiedName())
		known[t.QualifiedName()] = true
	}

	for _, t := range tables {
		for _, fk := range t.ForeignKeys {
			ref := fk.RefSchema + "." + fk.RefTable
			if !known[ref] {
				continue
			}
			g.Edges = append(g.Edges, models.RelationshipEdge{
				FromTable: t.QualifiedName(),
				ToTable:   ref,
				ViaColumn: fk.Column,
			})
		}
	}

	return g
}
