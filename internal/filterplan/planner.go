package filterplan

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dataflowhq/control-plane/internal/models"
)

// The planner turns a free-text filter phrase plus column analysis into a
// structured FilterConfig. It is deliberately heuristic: surface-pattern
// classification, value extraction, column ranking, then SQL emission.

type filterClass int

const (
	classInclusion filterClass = iota
	classExclusion
	classTemporal
	classBoolean
)

var (
	exclusionRe = regexp.MustCompile(`(?i)\b(except|exclude|excluding|but not|without|skip|ignore|other than)\b`)
	temporalRe  = regexp.MustCompile(`(?i)\b(last|past|recent|since|before|after|newer|older)\b\s*(\d+)?\s*(minute|hour|day|week|month|year)?s?\b`)
	booleanRe   = regexp.MustCompile(`(?i)\b(active|inactive|enabled|disabled|deleted|verified|unverified|archived|published|completed|pending)\b`)
	negatedRe   = regexp.MustCompile(`(?i)\b(not|non|in)?-?(inactive|disabled|unverified|deleted|archived)\b`)
)

// valueSuffixes are domain words users append to values ("login events",
// "refund records") that are not part of the value itself.
var valueSuffixes = []string{"events", "event", "records", "record", "rows", "row", "entries", "entry", "types", "type", "items", "item"}

var categoricalNameHints = []string{"status", "type", "category", "kind", "state", "level", "stage", "source", "channel", "method", "code", "name", "tag"}

var temporalNameHints = []string{"created", "updated", "modified", "deleted", "date", "time", "timestamp", "_at", "day"}

var booleanNameHints = []string{"is_", "has_", "was_", "active", "enabled", "deleted", "verified", "archived", "published", "flag"}

func classify(phrase string) filterClass {
	switch {
	case exclusionRe.MatchString(phrase):
		return classExclusion
	case temporalRe.MatchString(phrase) && !strings.Contains(strings.ToLower(phrase), "only"):
		return classTemporal
	case booleanRe.MatchString(phrase) && len(extractValues(phrase)) <= 1:
		return classBoolean
	default:
		return classInclusion
	}
}

var splitRe = regexp.MustCompile(`(?i)\s*(?:,|\band\b|\bor\b)\s*`)

var leadingNoiseRe = regexp.MustCompile(`(?i)^(only|just|the|all|everything|anything|with|where|filter|sync|keep|except|excluding|exclude|without|skip|ignore)\s+`)

// extractValues pulls candidate literal values out of the phrase: split on
// "and"/","/"or", strip leading qualifiers and trailing domain suffixes.
func extractValues(phrase string) []string {
	p := strings.TrimSpace(phrase)
	for {
		trimmed := leadingNoiseRe.ReplaceAllString(p, "")
		if trimmed == p {
			break
		}
		p = trimmed
	}

	var values []string
	for _, part := range splitRe.Split(p, -1) {
		v := strings.TrimSpace(strings.Trim(part, `"'`))
		if v == "" {
			continue
		}

		words := strings.Fields(v)
		for len(words) > 0 && isValueSuffix(words[len(words)-1]) {
			words = words[:len(words)-1]
		}
		if len(words) == 0 {
			continue
		}

		values = append(values, strings.Join(words, " "))
	}

	return values
}

func isValueSuffix(word string) bool {
	w := strings.ToLower(word)
	for _, s := range valueSuffixes {
		if w == s {
			return true
		}
	}
	return false
}

type typeFamily int

const (
	familyOther typeFamily = iota
	familyText
	familyTemporal
	familyBoolean
	familyNumeric
)

func columnTypeFamily(t string) typeFamily {
	lt := strings.ToLower(t)
	switch {
	case strings.Contains(lt, "bool"):
		return familyBoolean
	case strings.Contains(lt, "timestamp") || strings.Contains(lt, "date") || strings.Contains(lt, "time"):
		return familyTemporal
	case strings.Contains(lt, "char") || strings.Contains(lt, "text") || strings.Contains(lt, "string") || strings.Contains(lt, "enum"):
		return familyText
	case strings.Contains(lt, "int") || strings.Contains(lt, "numeric") || strings.Contains(lt, "decimal") || strings.Contains(lt, "float") || strings.Contains(lt, "double") || strings.Contains(lt, "real"):
		return familyNumeric
	default:
		return familyOther
	}
}

func nameFamilyMatches(name string, class filterClass) bool {
	ln := strings.ToLower(name)

	var hints []string
	switch class {
	case classTemporal:
		hints = temporalNameHints
	case classBoolean:
		hints = booleanNameHints
	default:
		hints = categoricalNameHints
	}

	for _, h := range hints {
		if strings.Contains(ln, h) {
			return true
		}
	}
	return false
}

func classWantsFamily(class filterClass) typeFamily {
	switch class {
	case classTemporal:
		return familyTemporal
	case classBoolean:
		return familyBoolean
	default:
		return familyText
	}
}

// rankColumns scores every column against the phrase and class; highest
// score wins. Ties keep the lowest ordinal (leftmost column).
func rankColumns(columns []models.Column, phrase string, class filterClass) (models.Column, float64, bool) {
	lp := strings.ToLower(phrase)
	wanted := classWantsFamily(class)

	var (
		best      models.Column
		bestScore = -1.0
		found     bool
	)
	for _, col := range columns {
		score := 0.0

		if nameFamilyMatches(col.Name, class) {
			score += 3
		}
		if columnTypeFamily(col.Type) == wanted {
			score += 2
		}
		if mentionsColumn(lp, col.Name) {
			score += 2
		}

		if score > bestScore {
			best, bestScore, found = col, score, true
		}
	}

	if !found || bestScore <= 0 {
		return models.Column{}, 0, false
	}
	return best, bestScore, true
}

// mentionsColumn checks whether the phrase names the column, either fully
// or by any underscore-separated part longer than three characters.
func mentionsColumn(phrase, column string) bool {
	lc := strings.ToLower(column)
	if strings.Contains(phrase, lc) || strings.Contains(phrase, strings.ReplaceAll(lc, "_", " ")) {
		return true
	}
	for _, part := range strings.Split(lc, "_") {
		if len(part) > 3 && strings.Contains(phrase, part) {
			return true
		}
	}
	return false
}

// Plan produces a FilterConfig for phrase over the table's columns.
// samples optionally carries distinct values per column for confidence
// boosting. Fails with ErrNoSuitableColumn when the table has no column of
// the class's type family and no name-pattern candidate.
func Plan(phrase string, columns []models.Column, samples map[string][]string) (*models.FilterConfig, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: table has no columns", models.ErrNoSuitableColumn)
	}

	class := classify(phrase)

	col, _, ok := rankColumns(columns, phrase, class)
	if !ok {
		return nil, fmt.Errorf("%w: no textual, temporal or boolean column matches %q", models.ErrNoSuitableColumn, phrase)
	}

	values := extractValues(phrase)

	confidence := baseConfidence(phrase, col, class)

	// Intersect extracted values with the live sample; matches raise
	// confidence, and unmatched values are kept (the sample is partial).
	if sample, ok := samples[col.Name]; ok && len(values) > 0 {
		matched := 0
		for _, v := range values {
			for _, s := range sample {
				if strings.EqualFold(v, s) {
					matched++
					break
				}
			}
		}
		if matched > 0 {
			confidence += 0.05 * float64(matched)
		}
	}
	if confidence > 1.0 {
		confidence = 1.0
	}

	cfg, err := emit(col, class, values, phrase)
	if err != nil {
		return nil, err
	}
	cfg.Confidence = confidence

	if err := validatePredicate(cfg, columns); err != nil {
		return nil, fmt.Errorf("emitted predicate failed validation: %w", err)
	}

	return cfg, nil
}

func baseConfidence(phrase string, col models.Column, class filterClass) float64 {
	switch {
	case mentionsColumn(strings.ToLower(phrase), col.Name):
		return 0.9
	case nameFamilyMatches(col.Name, class) && columnTypeFamily(col.Type) == classWantsFamily(class):
		return 0.8
	case columnTypeFamily(col.Type) == classWantsFamily(class):
		return 0.7
	default:
		return 0.5
	}
}
