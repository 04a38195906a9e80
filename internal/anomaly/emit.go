package anomaly

import (
	"fmt"
	"strings"

	"github.com/dataflowhq/control-plane/internal/ksqlgen"
)

// EarliestOffsetProperties pins derived-stream processors to the start of
// the source topic so a stream created after the connector still sees the
// initial snapshot.
func EarliestOffsetProperties() map[string]string {
	return map[string]string{"auto.offset.reset": "earliest"}
}

// FilterStreamDDL derives a filtered stream from sourceStream. The
// predicate is tokenized so identifiers come out back-tick-quoted lowercase
// while string literals pass through verbatim; unquoted identifiers would be
// upper-cased by the engine and miss the registry-bound lowercase field
// names.
func FilterStreamDDL(sourceStream, outputStream, outputTopic, predicate, valueFormat string) string {
	return fmt.Sprintf("CREATE STREAM %s WITH (KAFKA_TOPIC='%s', VALUE_FORMAT='%s') AS SELECT * FROM %s WHERE %s EMIT CHANGES;",
		ksqlgen.Quote(strings.ToLower(outputStream)), outputTopic, valueFormat,
		ksqlgen.Quote(strings.ToLower(sourceStream)),
		ksqlgen.QuotePredicate(predicate))
}

type WindowKind string

const (
	WindowTumbling WindowKind = "TUMBLING"
	WindowHopping  WindowKind = "HOPPING"
	WindowSession  WindowKind = "SESSION"
)

// Aggregation is one SELECT-list aggregate, e.g. Function COUNT over
// Column * aliased as event_count.
type Aggregation struct {
	Function string
	Column   string
	Alias    string
}

type WindowSpec struct {
	Kind    WindowKind
	Size    string // e.g. "1 HOURS"
	Advance string // HOPPING only
}

// AggregateParams describes a windowed aggregate table derived from a
// stream: optional pre-filter, grouping columns and the aggregate list.
type AggregateParams struct {
	SourceStream string
	OutputTable  string
	OutputTopic  string
	ValueFormat  string
	Window       WindowSpec
	Filter       string
	GroupBy      []string
	Aggregations []Aggregation
}

// WindowedAggregateDDL emits a CREATE TABLE ... AS SELECT with the requested
// window. Group-by columns lead the select list so the output schema starts
// with the grouping key.
func WindowedAggregateDDL(p AggregateParams) (string, error) {
	if p.Window.Kind == WindowHopping && p.Window.Advance == "" {
		return "", fmt.Errorf("hopping window needs an advance interval")
	}
	if len(p.Aggregations) == 0 {
		return "", fmt.Errorf("windowed aggregate needs at least one aggregation")
	}

	var selects []string
	for _, g := range p.GroupBy {
		selects = append(selects, ksqlgen.Quote(strings.ToLower(g)))
	}
	for _, a := range p.Aggregations {
		col := a.Column
		if col != "*" {
			col = ksqlgen.Quote(strings.ToLower(col))
		}
		item := fmt.Sprintf("%s(%s)", strings.ToUpper(a.Function), col)
		if a.Alias != "" {
			item += " AS " + ksqlgen.Quote(strings.ToLower(a.Alias))
		}
		selects = append(selects, item)
	}

	var window string
	switch p.Window.Kind {
	case WindowTumbling:
		window = fmt.Sprintf("WINDOW TUMBLING (SIZE %s)", p.Window.Size)
	case WindowHopping:
		window = fmt.Sprintf("WINDOW HOPPING (SIZE %s, ADVANCE BY %s)", p.Window.Size, p.Window.Advance)
	case WindowSession:
		// Session windows take a bare inactivity gap, no SIZE keyword.
		window = fmt.Sprintf("WINDOW SESSION (%s)", p.Window.Size)
	default:
		return "", fmt.Errorf("unsupported window kind %q", p.Window.Kind)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s WITH (KAFKA_TOPIC='%s', VALUE_FORMAT='%s') AS SELECT %s FROM %s %s",
		ksqlgen.Quote(strings.ToLower(p.OutputTable)), p.OutputTopic, p.ValueFormat,
		strings.Join(selects, ", "),
		ksqlgen.Quote(strings.ToLower(p.SourceStream)), window)

	if p.Filter != "" {
		b.WriteString(" WHERE " + ksqlgen.QuotePredicate(p.Filter))
	}
	if len(p.GroupBy) > 0 {
		groups := make([]string, len(p.GroupBy))
		for i, g := range p.GroupBy {
			groups[i] = ksqlgen.Quote(strings.ToLower(g))
		}
		b.WriteString(" GROUP BY " + strings.Join(groups, ", "))
	}
	b.WriteString(" EMIT CHANGES;")

	return b.String(), nil
}
