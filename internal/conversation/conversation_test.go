package conversation

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataflowhq/control-plane/internal/models"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name      string
		utterance string
		want      Requirements
	}{
		{
			name:      "table and filter",
			utterance: "sync the audit logs table, only login and logout events",
			want: Requirements{
				TableHint: "audit_logs",
				Filter:    "login and logout",
			},
		},
		{
			name:      "source and destination",
			utterance: "stream orders from the production database into clickhouse",
			want: Requirements{
				SourceHint:      "production",
				DestinationHint: "clickhouse",
			},
		},
		{
			name:      "alert requirement",
			utterance: "alert me when no events arrive for 10 minutes",
			want: Requirements{
				Alert: "no events arrive for 10 minutes",
			},
		},
		{
			name:      "aggregation",
			utterance: "I want hourly order totals per region",
			want: Requirements{
				Aggregation: "hourly order totals per region",
			},
		},
		{
			name:      "temporal filter",
			utterance: "keep the last 30 days of activity",
			want: Requirements{
				Filter: "last 30 days of activity",
			},
		},
		{
			name:      "nothing extractable",
			utterance: "hello there",
			want:      Requirements{},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Extract(tc.utterance))
		})
	}
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 100, Similarity("audit_logs", "audit_logs"))
	assert.Equal(t, 100, Similarity("audit logs", "audit_logs"))
	assert.Equal(t, 100, Similarity("orders", "public.orders")) // token subset
	assert.Equal(t, 0, Similarity("", "orders"))

	// Unrelated names score low.
	assert.Less(t, Similarity("customers", "audit_logs"), 40)

	// Partially overlapping names land in between.
	mid := Similarity("order items", "orders")
	assert.Greater(t, mid, 0)
	assert.Less(t, mid, 100)
}

func TestMatchCredential(t *testing.T) {
	creds := []models.Credential{
		{ID: uuid.New(), Name: "staging shop db", Database: "shop_staging"},
		{ID: uuid.New(), Name: "production shop db", Database: "shop"},
	}

	best, score := MatchCredential("production", creds)
	require.NotNil(t, best)
	assert.Equal(t, "production shop db", best.Name)
	assert.GreaterOrEqual(t, score, 60)

	best, _ = MatchCredential("warehouse analytics", creds)
	assert.Nil(t, best)
}

func TestMatchTable(t *testing.T) {
	tables := []models.DiscoveredTable{
		{SchemaName: "public", TableName: "audit_logs"},
		{SchemaName: "public", TableName: "orders"},
		{SchemaName: "public", TableName: "customers"},
	}

	m := MatchTable("audit_logs", tables)
	require.NotNil(t, m)
	assert.Equal(t, "audit_logs", m.Table.TableName)
	assert.False(t, m.Suggested)
	assert.GreaterOrEqual(t, m.Score, 60)

	// Space-separated hint still matches via token sets.
	m = MatchTable("audit logs", tables)
	require.NotNil(t, m)
	assert.Equal(t, "audit_logs", m.Table.TableName)
	assert.False(t, m.Suggested)

	assert.Nil(t, MatchTable("invoices", tables))
}

func TestCursorAdvanceAndBack(t *testing.T) {
	c := NewCursor()

	ctx := c.Start("s1", "u1", "sync the orders table")
	assert.Equal(t, StepSourceIdentification, ctx.CurrentStep)
	assert.Equal(t, "orders", ctx.Requirements.TableHint)

	_, err := c.Advance("s1", "u1", StepTableSelection)
	require.NoError(t, err)
	_, err = c.Advance("s1", "u1", StepDataFilter)
	require.NoError(t, err)
	ctx, err = c.Advance("s1", "u1", StepSchemaValidation)
	require.NoError(t, err)

	assert.Equal(t, []Step{StepSourceIdentification, StepTableSelection, StepDataFilter}, ctx.CompletedSteps)

	// Going back truncates completed steps from the target onward.
	ctx, err = c.Advance("s1", "u1", StepTableSelection)
	require.NoError(t, err)
	assert.Equal(t, StepTableSelection, ctx.CurrentStep)
	assert.Equal(t, []Step{StepSourceIdentification}, ctx.CompletedSteps)
}

func TestCursorKeyedBySessionAndUser(t *testing.T) {
	c := NewCursor()

	c.Start("s1", "u1", "sync orders")
	c.Start("s1", "u2", "sync customers")

	ctx1, ok := c.Get("s1", "u1")
	require.True(t, ok)
	ctx2, ok := c.Get("s1", "u2")
	require.True(t, ok)
	assert.NotEqual(t, ctx1.OriginalRequest, ctx2.OriginalRequest)
}

func TestCursorEviction(t *testing.T) {
	c := NewCursor()

	c.Start("s1", "u1", "sync orders")
	c.Complete("s1", "u1", uuid.New())
	_, ok := c.Get("s1", "u1")
	assert.False(t, ok)

	c.Start("s2", "u1", "sync orders")
	c.Cancel("s2", "u1")
	_, ok = c.Get("s2", "u1")
	assert.False(t, ok)

	_, err := c.Advance("s2", "u1", StepTableSelection)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCursorAdvanceUnknownStep(t *testing.T) {
	c := NewCursor()
	c.Start("s1", "u1", "sync orders")

	_, err := c.Advance("s1", "u1", Step("teleport"))
	assert.Error(t, err)
}
