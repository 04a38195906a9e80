package joinplan

import (
	"fmt"
	"strings"

	"github.com/dataflowhq/control-plane/internal/ksqlgen"
	"github.com/dataflowhq/control-plane/internal/models"
)

// streamAlias is the fixed alias of the source stream in generated joins.
const streamAlias = "s"

const maxRecommendedLookups = 3

// ValidationError carries every error and warning found while checking a
// join request; no DDL is emitted when Errors is non-empty.
type ValidationError struct {
	Errors   []string
	Warnings []string
}

func (e *ValidationError) Error() string {
	return "join validation failed: " + strings.Join(e.Errors, "; ")
}

// Plan is the generated DDL bundle for one enrichment.
type Plan struct {
	StreamDDL    string
	TableDDLs    []string
	JoinDDL      string
	OutputStream string
	OutputTopic  string
	OutputSchema []models.Column
	Warnings     []string
}

// Build validates the enrichment request against the source stream schema
// and generates the stream, table and join DDL. sourceSchema is the column
// schema of the pipeline's source stream.
func Build(enr models.Enrichment, sourceSchema []models.Column, valueFormat string) (*Plan, error) {
	v := validate(enr, sourceSchema)
	if len(v.Errors) > 0 {
		return nil, v
	}

	plan := &Plan{
		OutputStream: enr.OutputStream,
		OutputTopic:  enr.OutputTopic,
		Warnings:     v.Warnings,
	}

	plan.StreamDDL = streamDDL(enr.SourceStream, enr.SourceTopic, sourceSchema, valueFormat)

	for _, lt := range enr.LookupTables {
		plan.TableDDLs = append(plan.TableDDLs, tableDDL(lt, valueFormat))
	}

	plan.JoinDDL = joinDDL(enr, valueFormat)
	plan.OutputSchema = outputSchema(enr, sourceSchema)

	return plan, nil
}

func validate(enr models.Enrichment, sourceSchema []models.Column) *ValidationError {
	v := &ValidationError{}

	if enr.JoinType != models.JoinLeft && enr.JoinType != models.JoinInner {
		v.Errors = append(v.Errors, fmt.Sprintf("unsupported join type %q; use LEFT or INNER", enr.JoinType))
	}

	tablesByAlias := make(map[string]models.LookupTable, len(enr.LookupTables))
	for _, lt := range enr.LookupTables {
		if lt.Alias == "" || lt.Alias == streamAlias {
			v.Errors = append(v.Errors, fmt.Sprintf("lookup table %q needs an alias distinct from %q", lt.Name, streamAlias))
			continue
		}
		if _, dup := tablesByAlias[lt.Alias]; dup {
			v.Errors = append(v.Errors, fmt.Sprintf("duplicate lookup alias %q", lt.Alias))
			continue
		}
		tablesByAlias[lt.Alias] = lt
	}

	if len(enr.LookupTables) > maxRecommendedLookups {
		v.Warnings = append(v.Warnings, fmt.Sprintf("%d lookup tables; joins beyond %d add significant processor state", len(enr.LookupTables), maxRecommendedLookups))
	}

	streamCols := make(map[string]models.Column, len(sourceSchema))
	for _, c := range sourceSchema {
		streamCols[c.Name] = c
	}

	for _, key := range enr.JoinKeys {
		sc, ok := streamCols[key.StreamColumn]
		if !ok {
			v.Errors = append(v.Errors, fmt.Sprintf("stream column %q does not exist in source schema", key.StreamColumn))
			continue
		}

		lt, ok := tablesByAlias[key.TableAlias]
		if !ok {
			v.Errors = append(v.Errors, fmt.Sprintf("Unknown alias '%s' in join key", key.TableAlias))
			continue
		}

		var tc models.Column
		found := false
		for _, c := range lt.Schema {
			if c.Name == key.TableColumn {
				tc, found = c, true
				break
			}
		}
		if !found {
			v.Errors = append(v.Errors, fmt.Sprintf("table column %q does not exist in lookup table %q", key.TableColumn, lt.Name))
			continue
		}

		st, tt := ksqlgen.KsqlType(sc.Type), ksqlgen.KsqlType(tc.Type)
		if !ksqlgen.CompatibleJoinTypes(st, tt) {
			v.Errors = append(v.Errors, fmt.Sprintf("join key type mismatch: %s.%s is %s but %s.%s is %s",
				streamAlias, key.StreamColumn, st, key.TableAlias, key.TableColumn, tt))
		}

		if enr.JoinType == models.JoinInner && (sc.Nullable || tc.Nullable) {
			v.Warnings = append(v.Warnings, fmt.Sprintf("join key %s.%s or %s.%s is nullable; INNER join drops rows with null keys, consider LEFT",
				streamAlias, key.StreamColumn, key.TableAlias, key.TableColumn))
		}
	}

	for _, out := range enr.OutputColumns {
		alias, _, ok := strings.Cut(out, ".")
		if !ok {
			v.Errors = append(v.Errors, fmt.Sprintf("output column %q must be alias-qualified", out))
			continue
		}
		if alias != streamAlias {
			if _, known := tablesByAlias[alias]; !known {
				v.Errors = append(v.Errors, fmt.Sprintf("Unknown alias '%s' in output column %q", alias, out))
			}
		}
	}

	return v
}

func streamDDL(name, topic string, schema []models.Column, valueFormat string) string {
	cols := make([]string, len(schema))
	for i, c := range schema {
		cols[i] = fmt.Sprintf("%s %s", ksqlgen.Quote(strings.ToLower(c.Name)), ksqlgen.KsqlType(c.Type))
	}

	return fmt.Sprintf("CREATE STREAM IF NOT EXISTS %s (%s) WITH (KAFKA_TOPIC='%s', VALUE_FORMAT='%s');",
		ksqlgen.Quote(strings.ToLower(name)), strings.Join(cols, ", "), topic, valueFormat)
}

func tableDDL(lt models.LookupTable, valueFormat string) string {
	cols := make([]string, 0, len(lt.Schema))
	for _, c := range lt.Schema {
		decl := fmt.Sprintf("%s %s", ksqlgen.Quote(strings.ToLower(c.Name)), ksqlgen.KsqlType(c.Type))
		if c.Name == lt.KeyColumn {
			decl += " PRIMARY KEY"
		}
		cols = append(cols, decl)
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s) WITH (KAFKA_TOPIC='%s', VALUE_FORMAT='%s');",
		ksqlgen.Quote(strings.ToLower(lt.KsqlTable)), strings.Join(cols, ", "), lt.Topic, valueFormat)
}

func joinDDL(enr models.Enrichment, valueFormat string) string {
	selects := make([]string, len(enr.OutputColumns))
	for i, out := range enr.OutputColumns {
		selects[i] = ksqlgen.QuoteQualified(strings.ToLower(out))
	}

	var joins strings.Builder
	tablesByAlias := make(map[string]models.LookupTable, len(enr.LookupTables))
	for _, lt := range enr.LookupTables {
		tablesByAlias[lt.Alias] = lt
	}

	joined := make(map[string]bool, len(enr.LookupTables))
	for _, key := range enr.JoinKeys {
		lt := tablesByAlias[key.TableAlias]
		on := fmt.Sprintf("%s.%s = %s.%s",
			streamAlias, ksqlgen.Quote(strings.ToLower(key.StreamColumn)),
			key.TableAlias, ksqlgen.Quote(strings.ToLower(key.TableColumn)))

		if joined[key.TableAlias] {
			// Additional key on an already-joined table extends its ON clause.
			joins.WriteString(" AND " + on)
			continue
		}
		joined[key.TableAlias] = true

		joins.WriteString(fmt.Sprintf(" %s JOIN %s %s ON %s",
			enr.JoinType, ksqlgen.Quote(strings.ToLower(lt.KsqlTable)), key.TableAlias, on))
	}

	return fmt.Sprintf("CREATE STREAM %s WITH (KAFKA_TOPIC='%s', VALUE_FORMAT='%s') AS SELECT %s FROM %s %s%s EMIT CHANGES;",
		ksqlgen.Quote(strings.ToLower(enr.OutputStream)), enr.OutputTopic, valueFormat,
		strings.Join(selects, ", "),
		ksqlgen.Quote(strings.ToLower(enr.SourceStream)), streamAlias,
		joins.String())
}

func outputSchema(enr models.Enrichment, sourceSchema []models.Column) []models.Column {
	streamCols := make(map[string]models.Column, len(sourceSchema))
	for _, c := range sourceSchema {
		streamCols[c.Name] = c
	}
	tablesByAlias := make(map[string]models.LookupTable, len(enr.LookupTables))
	for _, lt := range enr.LookupTables {
		tablesByAlias[lt.Alias] = lt
	}

	var out []models.Column
	for i, ref := range enr.OutputColumns {
		alias, col, _ := strings.Cut(ref, ".")

		var src models.Column
		if alias == streamAlias {
			src = streamCols[col]
		} else {
			for _, c := range tablesByAlias[alias].Schema {
				if c.Name == col {
					src = c
					break
				}
			}
		}

		out = append(out, models.Column{
			Name:     col,
			Type:     ksqlgen.KsqlType(src.Type),
			Nullable: src.Nullable || enr.JoinType == models.JoinLeft && alias != streamAlias,
			Ordinal:  i + 1,
		})
	}

	return out
}
