package joinplan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataflowhq/control-plane/internal/models"
)

func ordersEnrichment() models.Enrichment {
	return models.Enrichment{
		SourceStream: "orders_stream",
		SourceTopic:  "dataflow_abc.public.orders",
		LookupTables: []models.LookupTable{
			{
				Name:      "customers",
				Topic:     "dataflow_abc.public.customers",
				KeyColumn: "id",
				Alias:     "c",
				KsqlTable: "customers_table",
				Schema: []models.Column{
					{Name: "id", Type: "bigint"},
					{Name: "email", Type: "character varying", Nullable: true},
				},
			},
		},
		JoinType: models.JoinLeft,
		JoinKeys: []models.JoinKey{
			{StreamColumn: "customer_id", TableColumn: "id", TableAlias: "c"},
		},
		OutputColumns: []string{"s.order_id", "s.amount", "c.email"},
		OutputStream:  "enriched_orders",
		OutputTopic:   "enriched_abc.public.orders",
	}
}

var ordersSchema = []models.Column{
	{Name: "order_id", Type: "bigint"},
	{Name: "customer_id", Type: "bigint"},
	{Name: "amount", Type: "numeric(10,2)"},
}

func TestBuildGeneratesDDL(t *testing.T) {
	plan, err := Build(ordersEnrichment(), ordersSchema, "AVRO")
	require.NoError(t, err)

	assert.Equal(t,
		"CREATE STREAM IF NOT EXISTS `orders_stream` (`order_id` BIGINT, `customer_id` BIGINT, `amount` DOUBLE) WITH (KAFKA_TOPIC='dataflow_abc.public.orders', VALUE_FORMAT='AVRO');",
		plan.StreamDDL)

	require.Len(t, plan.TableDDLs, 1)
	assert.Equal(t,
		"CREATE TABLE IF NOT EXISTS `customers_table` (`id` BIGINT PRIMARY KEY, `email` VARCHAR) WITH (KAFKA_TOPIC='dataflow_abc.public.customers', VALUE_FORMAT='AVRO');",
		plan.TableDDLs[0])

	assert.Equal(t,
		"CREATE STREAM `enriched_orders` WITH (KAFKA_TOPIC='enriched_abc.public.orders', VALUE_FORMAT='AVRO') AS SELECT s.`order_id`, s.`amount`, c.`email` FROM `orders_stream` s LEFT JOIN `customers_table` c ON s.`customer_id` = c.`id` EMIT CHANGES;",
		plan.JoinDDL)

	require.Len(t, plan.OutputSchema, 3)
	assert.Equal(t, "email", plan.OutputSchema[2].Name)
	assert.True(t, plan.OutputSchema[2].Nullable) // LEFT join side
}

func TestBuildRejectsUnknownAlias(t *testing.T) {
	enr := ordersEnrichment()
	enr.OutputColumns = append(enr.OutputColumns, "x.email")

	_, err := Build(enr, ordersSchema, "AVRO")
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Error(), "Unknown alias 'x'")
}

func TestBuildRejectsTypeMismatch(t *testing.T) {
	enr := ordersEnrichment()
	enr.JoinKeys = []models.JoinKey{
		{StreamColumn: "customer_id", TableColumn: "email", TableAlias: "c"},
	}

	_, err := Build(enr, ordersSchema, "AVRO")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Errors[0], "type mismatch")
}

func TestBuildRejectsMissingStreamColumn(t *testing.T) {
	enr := ordersEnrichment()
	enr.JoinKeys = []models.JoinKey{
		{StreamColumn: "nope", TableColumn: "id", TableAlias: "c"},
	}

	_, err := Build(enr, ordersSchema, "AVRO")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Errors[0], `stream column "nope"`)
}

func TestBuildRejectsBadJoinType(t *testing.T) {
	enr := ordersEnrichment()
	enr.JoinType = "FULL"

	_, err := Build(enr, ordersSchema, "AVRO")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Errors[0], "unsupported join type")
}

func TestInnerJoinOnNullableKeyWarns(t *testing.T) {
	enr := ordersEnrichment()
	enr.JoinType = models.JoinInner
	enr.JoinKeys = []models.JoinKey{
		{StreamColumn: "customer_id", TableColumn: "id", TableAlias: "c"},
	}
	schema := []models.Column{
		{Name: "order_id", Type: "bigint"},
		{Name: "customer_id", Type: "bigint", Nullable: true},
		{Name: "amount", Type: "numeric"},
	}

	plan, err := Build(enr, schema, "AVRO")
	require.NoError(t, err)
	require.Len(t, plan.Warnings, 1)
	assert.Contains(t, plan.Warnings[0], "consider LEFT")
}

func TestTooManyLookupsWarns(t *testing.T) {
	enr := ordersEnrichment()
	base := enr.LookupTables[0]
	for _, alias := range []string{"d", "e", "f"} {
		lt := base
		lt.Alias = alias
		lt.KsqlTable = "t_" + alias
		enr.LookupTables = append(enr.LookupTables, lt)
	}

	plan, err := Build(enr, ordersSchema, "AVRO")
	require.NoError(t, err)
	assert.NotEmpty(t, plan.Warnings)
}
