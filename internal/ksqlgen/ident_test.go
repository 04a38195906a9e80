package ksqlgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuotePredicate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			"simple equality",
			"event_type = 'login'",
			"`event_type` = 'login'",
		},
		{
			"keywords stay bare",
			"event_type IN ('login', 'logout') AND active IS NOT NULL",
			"`event_type` IN ('login', 'logout') AND `active` IS NOT NULL",
		},
		{
			"string literal with identifier-looking content survives",
			"note = 'select from where'",
			"`note` = 'select from where'",
		},
		{
			"escaped quote inside literal",
			"name = 'o''reilly'",
			"`name` = 'o''reilly'",
		},
		{
			"mixed case identifier lowered",
			"EventType = 'x'",
			"`eventtype` = 'x'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, QuotePredicate(tt.in))
		})
	}
}

func TestKsqlType(t *testing.T) {
	tests := []struct {
		source string
		want   string
	}{
		{"bigint", "BIGINT"},
		{"integer", "INT"},
		{"smallint", "INT"},
		{"character varying(100)", "VARCHAR"},
		{"text", "VARCHAR"},
		{"boolean", "BOOLEAN"},
		{"timestamp with time zone", "TIMESTAMP"},
		{"numeric(10,2)", "DOUBLE"},
		{"uuid", "VARCHAR"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, KsqlType(tt.source), "source %q", tt.source)
	}
}

func TestCompatibleJoinTypes(t *testing.T) {
	assert.True(t, CompatibleJoinTypes("BIGINT", "INT"))
	assert.True(t, CompatibleJoinTypes("varchar", "STRING"))
	assert.True(t, CompatibleJoinTypes("BOOLEAN", "BOOLEAN"))
	assert.False(t, CompatibleJoinTypes("BIGINT", "VARCHAR"))
	assert.False(t, CompatibleJoinTypes("BOOLEAN", "INT"))
}

func TestQuoteQualified(t *testing.T) {
	assert.Equal(t, "`c`.`email`", QuoteQualified("c.email"))
	assert.Equal(t, "`status`", QuoteQualified("status"))
}
