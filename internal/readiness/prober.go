package readiness

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dataflowhq/control-plane/internal/models"
	"github.com/dataflowhq/control-plane/internal/registry"
)

type Provider string

const (
	ProviderRDS        Provider = "aws_rds"
	ProviderCloudSQL   Provider = "gcp_cloudsql"
	ProviderAzure      Provider = "azure_postgres"
	ProviderNeon       Provider = "neon"
	ProviderSelfHosted Provider = "self_hosted"
)

type Check struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Fix      string `json:"fix,omitempty"`
}

type TableCheck struct {
	Table           string `json:"table"`
	Exists          bool   `json:"exists"`
	HasPrimaryKey   bool   `json:"has_primary_key"`
	ReplicaIdentity string `json:"replica_identity"`
	Passed          bool   `json:"passed"`
	Fix             string `json:"fix,omitempty"`
}

type Recommendation struct {
	Priority string `json:"priority"` // critical, warning, high
	Message  string `json:"message"`
}

type Result struct {
	OverallReady    bool             `json:"overall_ready"`
	Provider        Provider         `json:"provider"`
	ServerVersion   string           `json:"server_version"`
	Checks          []Check          `json:"checks"`
	TableChecks     []TableCheck     `json:"table_checks"`
	Recommendations []Recommendation `json:"recommendations"`
	CheckedAt       time.Time        `json:"checked_at"`
}

// Prober runs provider-aware CDC readiness checks against a source DB.
// Individual probe failures surface inside the result, never as errors.
type Prober struct {
	log *slog.Logger
}

func New(log *slog.Logger) *Prober {
	return &Prober{log: log}
}

// Run probes the server and the given schema-qualified tables using the
// probe expressions from the source descriptor.
func (p *Prober) Run(ctx context.Context, pool *pgxpool.Pool, desc registry.SourceDescriptor, tables []string) (*Result, error) {
	result := &Result{CheckedAt: time.Now().UTC()}

	if err := pool.QueryRow(ctx, "SELECT version()").Scan(&result.ServerVersion); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrConnectFailed, err)
	}

	result.Provider = p.detectProvider(ctx, pool, result.ServerVersion)

	for _, probe := range desc.ReadinessProbes {
		result.Checks = append(result.Checks, p.runProbe(ctx, pool, probe))
	}

	for _, table := range tables {
		result.TableChecks = append(result.TableChecks, p.checkTable(ctx, pool, table))
	}

	result.Recommendations = buildRecommendations(result.Checks, result.TableChecks)
	result.OverallReady = ready(result.Checks, result.TableChecks)

	return result, nil
}

// detectProvider sniffs provider-specific setting prefixes, falling back to
// a version-string hint for managed offerings that hide their settings.
func (p *Prober) detectProvider(ctx context.Context, pool *pgxpool.Pool, version string) Provider {
	prefixes := []struct {
		prefix   string
		provider Provider
	}{
		{"rds.", ProviderRDS},
		{"cloudsql.", ProviderCloudSQL},
		{"azure.", ProviderAzure},
	}

	for _, c := range prefixes {
		var n int
		err := pool.QueryRow(ctx, "SELECT count(*) FROM pg_settings WHERE name LIKE $1", c.prefix+"%").Scan(&n)
		if err == nil && n > 0 {
			return c.provider
		}
	}

	if strings.Contains(strings.ToLower(version), "neon") {
		return ProviderNeon
	}

	return ProviderSelfHosted
}

func (p *Prober) runProbe(ctx context.Context, pool *pgxpool.Pool, probe registry.ReadinessProbe) Check {
	check := Check{Name: probe.Name, Expected: probe.Expected, Fix: probe.Fix}

	var actual string
	var err error
	switch {
	case probe.Setting != "":
		err = pool.QueryRow(ctx, "SELECT current_setting($1)", probe.Setting).Scan(&actual)
	case probe.Query != "":
		err = pool.QueryRow(ctx, probe.Query).Scan(&actual)
	default:
		check.Actual = "probe has neither query nor setting"
		return check
	}
	if err != nil {
		check.Actual = fmt.Sprintf("probe failed: %v", err)
		return check
	}

	check.Actual = actual
	check.Passed = compareExpected(probe.Expected, actual)
	if check.Passed {
		check.Fix = ""
	}

	return check
}

// compareExpected supports literal equality and a ">=N" numeric form used
// for capacity settings like max_replication_slots.
func compareExpected(expected, actual string) bool {
	if n, ok := strings.CutPrefix(expected, ">="); ok {
		want, err1 := strconv.Atoi(strings.TrimSpace(n))
		got, err2 := strconv.Atoi(strings.TrimSpace(actual))
		return err1 == nil && err2 == nil && got >= want
	}
	return strings.EqualFold(strings.TrimSpace(expected), strings.TrimSpace(actual))
}

func (p *Prober) checkTable(ctx context.Context, pool *pgxpool.Pool, qualified string) TableCheck {
	check := TableCheck{Table: qualified}

	schema, table, ok := strings.Cut(qualified, ".")
	if !ok {
		schema, table = "public", qualified
	}

	err := pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = $1 AND table_name = $2
		)`, schema, table).Scan(&check.Exists)
	if err != nil || !check.Exists {
		check.Fix = fmt.Sprintf("table %s does not exist or is not visible to this role", qualified)
		return check
	}

	var replident rune
	err = pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM pg_index i
			JOIN pg_class c ON c.oid = i.indrelid
			JOIN pg_namespace n ON n.oid = c.relnamespace
			WHERE n.nspname = $1 AND c.relname = $2 AND i.indisprimary
		),
		(SELECT c.relreplident FROM pg_class c
		 JOIN pg_namespace n ON n.oid = c.relnamespace
		 WHERE n.nspname = $1 AND c.relname = $2)`, schema, table).
		Scan(&check.HasPrimaryKey, &replident)
	if err != nil {
		check.Fix = fmt.Sprintf("table probe failed: %v", err)
		return check
	}

	switch replident {
	case 'f':
		check.ReplicaIdentity = "full"
	case 'i':
		check.ReplicaIdentity = "index"
	case 'n':
		check.ReplicaIdentity = "nothing"
	default:
		check.ReplicaIdentity = "default"
	}

	check.Passed = check.HasPrimaryKey && check.ReplicaIdentity != "nothing"
	if !check.HasPrimaryKey {
		check.Fix = fmt.Sprintf("add a primary key to %s so change events can be keyed", qualified)
	} else if check.ReplicaIdentity == "nothing" {
		check.Fix = fmt.Sprintf("ALTER TABLE %s REPLICA IDENTITY DEFAULT;", qualified)
	}

	return check
}

// Critical: WAL mode and replication privilege. Warning: slot/sender
// capacity. High: per-table fixes.
func buildRecommendations(checks []Check, tableChecks []TableCheck) []Recommendation {
	var recs []Recommendation

	for _, c := range checks {
		if c.Passed {
			continue
		}

		priority := "warning"
		switch c.Name {
		case "wal_level", "replication_privilege":
			priority = "critical"
		}

		msg := c.Fix
		if msg == "" {
			msg = fmt.Sprintf("%s: expected %s, got %s", c.Name, c.Expected, c.Actual)
		}
		recs = append(recs, Recommendation{Priority: priority, Message: msg})
	}

	for _, tc := range tableChecks {
		if !tc.Passed && tc.Fix != "" {
			recs = append(recs, Recommendation{Priority: "high", Message: tc.Fix})
		}
	}

	return recs
}

func ready(checks []Check, tableChecks []TableCheck) bool {
	for _, c := range checks {
		if !c.Passed {
			return false
		}
	}
	for _, tc := range tableChecks {
		if !tc.Passed {
			return false
		}
	}
	return true
}
