package conversation

import (
	"regexp"
	"strings"
)

// Requirements is what the extraction layer pulls out of one user
// utterance; every field is optional.
type Requirements struct {
	SourceHint      string `json:"source_hint,omitempty"`
	TableHint       string `json:"table_hint,omitempty"`
	Filter          string `json:"filter_requirement,omitempty"`
	DestinationHint string `json:"destination_hint,omitempty"`
	Alert           string `json:"alert_requirement,omitempty"`
	Aggregation     string `json:"aggregation_requirement,omitempty"`
}

func (r Requirements) Empty() bool {
	return r == Requirements{}
}

// Surface pattern catalogs. Order matters: the first match per field wins.
var (
	sourcePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)from\s+(?:the\s+|my\s+|our\s+)?([a-z0-9_\- ]+?)\s+(?:database|db|instance)`),
		regexp.MustCompile(`(?i)(?:database|db)\s+(?:called|named)\s+([a-z0-9_\-]+)`),
		regexp.MustCompile(`(?i)\bon\s+([a-z0-9_\-]+)\s+(?:postgres|postgresql)\b`),
	}

	tablePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:the\s+)?([a-z0-9_ ]+?)\s+tables?\b`),
		regexp.MustCompile(`(?i)tables?\s+(?:called|named)\s+([a-z0-9_.]+)`),
		regexp.MustCompile(`(?i)\bsync\s+(?:the\s+)?([a-z0-9_.]+)\b`),
	}

	filterPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bonly\s+(?:the\s+)?([^,.;]+)`),
		regexp.MustCompile(`(?i)\bjust\s+(?:the\s+)?([^,.;]+)`),
		regexp.MustCompile(`(?i)\b(?:except|excluding|without|skip|ignore)\s+([^,.;]+)`),
		regexp.MustCompile(`(?i)\bwhere\s+([^,.;]+)`),
		regexp.MustCompile(`(?i)\b(last\s+\d+\s+(?:hours?|days?|weeks?|months?)[^,.;]*)`),
	}

	destinationPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:to|into)\s+(?:the\s+|my\s+|our\s+)?([a-z0-9_\- ]+?)\s+(?:warehouse|sink|destination)`),
		regexp.MustCompile(`(?i)\b(?:to|into)\s+(clickhouse|snowflake|bigquery|redshift)\b`),
	}

	alertPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\balert(?:\s+me)?\s+(?:when|if)\s+([^,.;]+)`),
		regexp.MustCompile(`(?i)\bnotify(?:\s+me)?\s+(?:when|if|about)\s+([^,.;]+)`),
		regexp.MustCompile(`(?i)\b(?:email|page)\s+(?:me|us)\s+(?:when|if)\s+([^,.;]+)`),
	}

	aggregationPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b((?:hourly|daily|weekly)\s+[a-z0-9_ ]+)`),
		regexp.MustCompile(`(?i)\b(aggregate[sd]?\s+(?:by|per|over)\s+[^,.;]+)`),
		regexp.MustCompile(`(?i)\b((?:count|sum|average|avg|total)s?\s+(?:of|per|by)\s+[^,.;]+)`),
	}

	filterSuffixes = []string{"events", "records", "rows", "entries", "types", "data"}

	// hintNoise strips leading verbs and articles that the broad capture
	// groups swallow, e.g. "sync the audit logs" down to "audit logs".
	hintNoise = regexp.MustCompile(`^(?:sync|stream|copy|replicate|mirror|pipe|move|the|my|our|all|an?)\s+`)
)

// Extract runs the pattern catalogs over one utterance. Table hints are
// normalized with spaces collapsed to underscores so "audit logs" can match
// the audit_logs relation.
func Extract(utterance string) Requirements {
	var r Requirements

	if m := firstMatch(sourcePatterns, utterance); m != "" {
		r.SourceHint = normalizeHint(m)
	}
	if m := firstMatch(tablePatterns, utterance); m != "" {
		r.TableHint = normalizeHint(m)
	}
	if m := firstMatch(filterPatterns, utterance); m != "" {
		r.Filter = trimFilterSuffix(m)
	}
	if m := firstMatch(destinationPatterns, utterance); m != "" {
		r.DestinationHint = normalizeHint(m)
	}
	if m := firstMatch(alertPatterns, utterance); m != "" {
		r.Alert = strings.TrimSpace(m)
	}
	if m := firstMatch(aggregationPatterns, utterance); m != "" {
		r.Aggregation = strings.TrimSpace(m)
	}

	return r
}

func firstMatch(patterns []*regexp.Regexp, s string) string {
	for _, p := range patterns {
		if m := p.FindStringSubmatch(s); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

func normalizeHint(hint string) string {
	hint = strings.ToLower(strings.TrimSpace(hint))
	for {
		stripped := hintNoise.ReplaceAllString(hint, "")
		if stripped == hint {
			break
		}
		hint = stripped
	}
	return strings.ReplaceAll(hint, " ", "_")
}

// trimFilterSuffix drops the trailing container noun so "login and logout
// events" becomes "login and logout".
func trimFilterSuffix(req string) string {
	req = strings.TrimSpace(req)
	lower := strings.ToLower(req)
	for _, suffix := range filterSuffixes {
		if strings.HasSuffix(lower, " "+suffix) {
			return strings.TrimSpace(req[:len(req)-len(suffix)-1])
		}
	}
	return req
}
