package anomaly

import (
	"fmt"
	"time"

	"github.com/spf13/cast"

	"github.com/dataflowhq/control-plane/internal"
	"github.com/dataflowhq/control-plane/internal/models"
)

// Rule threshold defaults; each is overridable per rule via its
// Thresholds map.
const (
	defaultSpikeRatio   = 3.0
	defaultDropRatio    = 0.2
	defaultGapMinutes   = float64(internal.DefaultGapThresholdMins)
	defaultNullWarning  = 0.1
	defaultNullError    = 0.5
	defaultCardinality  = 2.0
	defaultRowCountDrop = 0.5
)

// Metrics is the per-pipeline observation slice handed to Evaluate. History
// holds prior per-interval counts, newest last; the monitor loop caps it at
// ten samples.
type Metrics struct {
	Table        string
	CurrentCount int64
	History      []int64
	LastEventAt  *time.Time
	RowCount     int64
	NullCounts   map[string]int64
}

func threshold(rule models.AlertRule, key string, fallback float64) float64 {
	if rule.Thresholds == nil {
		return fallback
	}
	v, ok := rule.Thresholds[key]
	if !ok {
		return fallback
	}
	f, err := cast.ToFloat64E(v)
	if err != nil || f <= 0 {
		return fallback
	}
	return f
}

func baseline(history []int64) (float64, bool) {
	if len(history) < internal.BaselineMinSamples {
		return 0, false
	}
	var sum int64
	for _, c := range history {
		sum += c
	}
	return float64(sum) / float64(len(history)), true
}

// Evaluate applies one rule to one metric slice at instant now. Volume rules
// are suppressed until the baseline has enough samples; a nil return means
// the rule did not trigger.
func Evaluate(rule models.AlertRule, m Metrics, now time.Time) []models.Anomaly {
	switch rule.Kind {
	case models.RuleVolumeSpike:
		return volumeSpike(rule, m)
	case models.RuleVolumeDrop:
		return volumeDrop(rule, m)
	case models.RuleGapDetection:
		return gapDetection(rule, m, now)
	case models.RuleNullRatio:
		return nullRatio(rule, m, false)
	default:
		return nil
	}
}

func volumeSpike(rule models.AlertRule, m Metrics) []models.Anomaly {
	base, ok := baseline(m.History)
	if !ok || base == 0 {
		return nil
	}

	limit := threshold(rule, "ratio", defaultSpikeRatio)
	ratio := float64(m.CurrentCount) / base
	if ratio <= limit {
		return nil
	}

	severity := models.SeverityWarning
	if ratio > 2*limit {
		severity = models.SeverityCritical
	}

	return []models.Anomaly{{
		Kind:     models.RuleVolumeSpike,
		Severity: severity,
		Title:    "Event volume spike",
		Message:  fmt.Sprintf("%s: %d events vs baseline %.0f (%.1fx, threshold %.1fx)", m.Table, m.CurrentCount, base, ratio, limit),
		Details: map[string]any{
			"table":    m.Table,
			"current":  m.CurrentCount,
			"baseline": base,
			"ratio":    ratio,
		},
	}}
}

func volumeDrop(rule models.AlertRule, m Metrics) []models.Anomaly {
	base, ok := baseline(m.History)
	if !ok || base == 0 {
		return nil
	}

	limit := threshold(rule, "ratio", defaultDropRatio)
	ratio := float64(m.CurrentCount) / base
	if ratio >= limit {
		return nil
	}

	severity := models.SeverityWarning
	if ratio < limit/2 {
		severity = models.SeverityCritical
	}

	return []models.Anomaly{{
		Kind:     models.RuleVolumeDrop,
		Severity: severity,
		Title:    "Event volume drop",
		Message:  fmt.Sprintf("%s: %d events vs baseline %.0f (%.2fx, threshold %.2fx)", m.Table, m.CurrentCount, base, ratio, limit),
		Details: map[string]any{
			"table":    m.Table,
			"current":  m.CurrentCount,
			"baseline": base,
			"ratio":    ratio,
		},
	}}
}

func gapDetection(rule models.AlertRule, m Metrics, now time.Time) []models.Anomaly {
	if m.LastEventAt == nil {
		return nil
	}

	limit := time.Duration(threshold(rule, "minutes", defaultGapMinutes) * float64(time.Minute))
	age := now.Sub(*m.LastEventAt)
	if age < limit {
		return nil
	}

	severity := models.SeverityWarning
	if age >= 2*limit {
		severity = models.SeverityCritical
	}

	return []models.Anomaly{{
		Kind:     models.RuleGapDetection,
		Severity: severity,
		Title:    "Event gap detected",
		Message:  fmt.Sprintf("%s: no events for %s (threshold %s)", m.Table, age.Round(time.Second), limit),
		Details: map[string]any{
			"table":      m.Table,
			"last_event": m.LastEventAt.UTC().Format(time.RFC3339),
			"gap":        age.String(),
		},
	}}
}

// nullRatio reports per-column null density. With includeInfo, columns below
// the warning threshold still yield an info verdict for preview summaries.
func nullRatio(rule models.AlertRule, m Metrics, includeInfo bool) []models.Anomaly {
	if m.RowCount == 0 {
		return nil
	}

	warn := threshold(rule, "warning", defaultNullWarning)
	crit := threshold(rule, "error", defaultNullError)

	var out []models.Anomaly
	for col, nulls := range m.NullCounts {
		if nulls == 0 {
			continue
		}
		ratio := float64(nulls) / float64(m.RowCount)

		var severity models.Severity
		switch {
		case ratio >= crit:
			severity = models.SeverityCritical
		case ratio >= warn:
			severity = models.SeverityWarning
		default:
			if !includeInfo {
				continue
			}
			severity = models.SeverityInfo
		}

		out = append(out, models.Anomaly{
			Kind:     models.RuleNullRatio,
			Severity: severity,
			Title:    "High null ratio",
			Message:  fmt.Sprintf("%s.%s: %.0f%% null (%d of %d rows)", m.Table, col, ratio*100, nulls, m.RowCount),
			Details: map[string]any{
				"table":  m.Table,
				"column": col,
				"ratio":  ratio,
			},
		})
	}
	return out
}
