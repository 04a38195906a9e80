package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineStatusTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    PipelineStatus
		to      PipelineStatus
		allowed bool
	}{
		{"pending to running", PipelineStatusPending, PipelineStatusRunning, true},
		{"running to paused", PipelineStatusRunning, PipelineStatusPaused, true},
		{"paused to running", PipelineStatusPaused, PipelineStatusRunning, true},
		{"running to stopped", PipelineStatusRunning, PipelineStatusStopped, true},
		{"paused to stopped", PipelineStatusPaused, PipelineStatusStopped, true},
		{"stopped to running", PipelineStatusStopped, PipelineStatusRunning, true},
		{"pending to failed", PipelineStatusPending, PipelineStatusFailed, true},
		{"failed to running", PipelineStatusFailed, PipelineStatusRunning, true},
		{"anything to deleted", PipelineStatusStopped, PipelineStatusDeleted, true},
		{"pending to paused", PipelineStatusPending, PipelineStatusPaused, false},
		{"stopped to paused", PipelineStatusStopped, PipelineStatusPaused, false},
		{"deleted is terminal", PipelineStatusDeleted, PipelineStatusRunning, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestPipelineHexID(t *testing.T) {
	p := Pipeline{ID: uuid.MustParse("a1b2c3d4-e5f6-4a3b-8c9d-0e1f2a3b4c5d")}

	require.Len(t, p.HexID(), 32)
	assert.Equal(t, "a1b2c3d4e5f64a3b8c9d0e1f2a3b4c5d", p.HexID())
	assert.Equal(t, "a1b2c3d4e5f6", p.ShortHexID())
}

func TestDiscoveredTableColumnLookup(t *testing.T) {
	tbl := DiscoveredTable{
		SchemaName: "public",
		TableName:  "orders",
		Columns: []Column{
			{Name: "id", Type: "bigint", Ordinal: 1},
			{Name: "status", Type: "character varying", Nullable: true, Ordinal: 2},
		},
	}

	assert.Equal(t, "public.orders", tbl.QualifiedName())

	col, ok := tbl.Column("status")
	require.True(t, ok)
	assert.True(t, col.Nullable)

	_, ok = tbl.Column("missing")
	assert.False(t, ok)
}
