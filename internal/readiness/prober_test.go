package readiness

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompareExpected(t *testing.T) {
	tests := []struct {
		expected string
		actual   string
		want     bool
	}{
		{"logical", "logical", true},
		{"logical", "LOGICAL", true},
		{"logical", "replica", false},
		{">=1", "4", true},
		{">=1", "1", true},
		{">=4", "2", false},
		{">=1", "not-a-number", false},
		{"true", " true ", true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, compareExpected(tt.expected, tt.actual),
			"expected=%q actual=%q", tt.expected, tt.actual)
	}
}

func TestBuildRecommendationsPriorities(t *testing.T) {
	checks := []Check{
		{Name: "wal_level", Passed: false, Expected: "logical", Actual: "replica", Fix: "set wal_level"},
		{Name: "max_replication_slots", Passed: false, Expected: ">=1", Actual: "0", Fix: "raise slots"},
		{Name: "replication_privilege", Passed: true},
	}
	tableChecks := []TableCheck{
		{Table: "public.orders", Passed: false, Fix: "add a primary key to public.orders"},
		{Table: "public.users", Passed: true},
	}

	recs := buildRecommendations(checks, tableChecks)

	assert.Len(t, recs, 3)
	assert.Equal(t, "critical", recs[0].Priority)
	assert.Equal(t, "warning", recs[1].Priority)
	assert.Equal(t, "high", recs[2].Priority)
}

func TestReady(t *testing.T) {
	assert.True(t, ready(
		[]Check{{Passed: true}},
		[]TableCheck{{Passed: true}},
	))
	assert.False(t, ready(
		[]Check{{Passed: true}, {Passed: false}},
		nil,
	))
	assert.False(t, ready(
		nil,
		[]TableCheck{{Passed: false}},
	))
}
