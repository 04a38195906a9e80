package anomaly

import (
	"fmt"

	"github.com/spf13/cast"

	"github.com/dataflowhq/control-plane/internal/models"
)

// TransformKind is the transformation a row-set comparison is judged
// against; the rules applied depend on it.
type TransformKind string

const (
	TransformFilter      TransformKind = "filter"
	TransformJoin        TransformKind = "join"
	TransformAggregation TransformKind = "aggregation"
)

// Verdict is the multi-anomaly result of comparing a transformation's input
// and output row-sets, used by preview and simulate flows.
type Verdict struct {
	Anomalies  []models.Anomaly `json:"anomalies"`
	Summary    string           `json:"summary"`
	CanProceed bool             `json:"can_proceed"`
}

// Analyze compares the original and transformed row-sets under the rules
// relevant to the transform kind. config overrides the rule defaults with
// the same keys as AlertRule thresholds.
func Analyze(original, transformed []map[string]any, kind TransformKind, config map[string]any) Verdict {
	cfg := func(key string, fallback float64) float64 {
		if config == nil {
			return fallback
		}
		v, ok := config[key]
		if !ok {
			return fallback
		}
		f, err := cast.ToFloat64E(v)
		if err != nil || f <= 0 {
			return fallback
		}
		return f
	}

	var anomalies []models.Anomaly

	in, out := int64(len(original)), int64(len(transformed))

	if kind == TransformFilter && in > 0 {
		limit := cfg("row_count_drop", defaultRowCountDrop)
		drop := 1 - float64(out)/float64(in)
		if drop > limit {
			severity := models.SeverityWarning
			if out == 0 {
				severity = models.SeverityCritical
			}
			anomalies = append(anomalies, models.Anomaly{
				Kind:     models.RuleRowCountDrop,
				Severity: severity,
				Title:    "Filter drops most rows",
				Message:  fmt.Sprintf("filter keeps %d of %d rows (%.0f%% dropped)", out, in, drop*100),
				Details:  map[string]any{"original": in, "transformed": out, "dropped_fraction": drop},
			})
		}
	}

	if kind == TransformJoin && in > 0 {
		limit := cfg("cardinality", defaultCardinality)
		ratio := float64(out) / float64(in)
		if ratio > limit {
			severity := models.SeverityWarning
			if ratio > 2*limit {
				severity = models.SeverityCritical
			}
			anomalies = append(anomalies, models.Anomaly{
				Kind:     models.RuleCardinality,
				Severity: severity,
				Title:    "Join multiplies rows",
				Message:  fmt.Sprintf("join emits %d rows from %d inputs (%.1fx); check join key uniqueness", out, in, ratio),
				Details:  map[string]any{"original": in, "transformed": out, "ratio": ratio},
			})
		}
	}

	if out > 0 {
		nulls := make(map[string]int64)
		for _, row := range transformed {
			for col, v := range row {
				if v == nil {
					nulls[col]++
				}
			}
		}
		rule := models.AlertRule{
			Kind: models.RuleNullRatio,
			Thresholds: map[string]any{
				"warning": cfg("null_warning", defaultNullWarning),
				"error":   cfg("null_error", defaultNullError),
			},
		}
		anomalies = append(anomalies, nullRatio(rule, Metrics{RowCount: out, NullCounts: nulls}, true)...)
	}

	if kind != TransformAggregation {
		anomalies = append(anomalies, typeCoercions(original, transformed)...)
	}

	verdict := Verdict{Anomalies: anomalies, CanProceed: true}
	var warnings, errors int
	for _, a := range anomalies {
		switch a.Severity {
		case models.SeverityCritical:
			errors++
		case models.SeverityWarning:
			warnings++
		}
	}
	verdict.CanProceed = errors == 0
	verdict.Summary = fmt.Sprintf("%d anomalies (%d errors, %d warnings) across %d rows", len(anomalies), errors, warnings, out)

	return verdict
}

// typeCoercions flags columns whose dynamic type changed between input and
// output. Aggregations legitimately change types and are exempted by the
// caller.
func typeCoercions(original, transformed []map[string]any) []models.Anomaly {
	inTypes := columnTypes(original)
	outTypes := columnTypes(transformed)

	var out []models.Anomaly
	for col, inType := range inTypes {
		outType, ok := outTypes[col]
		if !ok || inType == outType {
			continue
		}
		out = append(out, models.Anomaly{
			Kind:     models.RuleTypeCoercion,
			Severity: models.SeverityWarning,
			Title:    "Column type changed",
			Message:  fmt.Sprintf("column %s changed from %s to %s", col, inType, outType),
			Details:  map[string]any{"column": col, "original": inType, "transformed": outType},
		})
	}
	return out
}

// columnTypes samples the first non-nil value per column.
func columnTypes(rows []map[string]any) map[string]string {
	types := make(map[string]string)
	for _, row := range rows {
		for col, v := range row {
			if v == nil {
				continue
			}
			if _, seen := types[col]; !seen {
				types[col] = fmt.Sprintf("%T", v)
			}
		}
	}
	return types
}
