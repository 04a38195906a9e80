package discovery

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/dataflowhq/control-plane/internal/models"
)

func TestEvaluateEligibility(t *testing.T) {
	tests := []struct {
		name       string
		hasPK      bool
		identity   models.ReplicaIdentity
		eligible   bool
		wantIssues int
	}{
		{"pk with default identity", true, models.ReplicaIdentityDefault, true, 0},
		{"pk with full identity", true, models.ReplicaIdentityFull, true, 0},
		{"pk with index identity", true, models.ReplicaIdentityIndex, true, 0},
		{"pk with nothing identity", true, models.ReplicaIdentityNothing, false, 1},
		{"no pk", false, models.ReplicaIdentityDefault, false, 1},
		{"no pk and nothing identity", false, models.ReplicaIdentityNothing, false, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eligible, issues := EvaluateEligibility(tt.hasPK, tt.identity)
			assert.Equal(t, tt.eligible, eligible)
			assert.Len(t, issues, tt.wantIssues)
		})
	}
}

func TestBuildRelationshipGraph(t *testing.T) {
	tables := []models.DiscoveredTable{
		{
			SchemaName: "public", TableName: "orders",
			ForeignKeys: []models.ForeignKey{
				{Column: "customer_id", RefSchema: "public", RefTable: "customers", RefColumn: "id"},
				{Column: "warehouse_id", RefSchema: "inventory", RefTable: "warehouses", RefColumn: "id"}, // not discovered
			},
		},
		{SchemaName: "public", TableName: "customers"},
	}

	g := buildRelationshipGraph(tables)

	want := models.RelationshipGraph{
		Nodes: []string{"public.orders", "public.customers"},
		Edges: []models.RelationshipEdge{
			{FromTable: "public.orders", ToTable: "public.customers", ViaColumn: "customer_id"},
		},
	}

	if diff := cmp.Diff(want, g); diff != "" {
		t.Errorf("relationship graph mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeReplicaIdentity(t *testing.T) {
	assert.Equal(t, models.ReplicaIdentityFull, decodeReplicaIdentity('f'))
	assert.Equal(t, models.ReplicaIdentityIndex, decodeReplicaIdentity('i'))
	assert.Equal(t, models.ReplicaIdentityNothing, decodeReplicaIdentity('n'))
	assert.Equal(t, models.ReplicaIdentityDefault, decodeReplicaIdentity('d'))
}
