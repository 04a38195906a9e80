package cost

import (
	"fmt"
	"math"

	"github.com/spf13/cast"

	"github.com/dataflowhq/control-plane/internal"
)

// Rates are the billing constants of the managed data plane. Loaded from the
// sink descriptor's cost_factors map so operators can re-price without a
// rebuild.
type Rates struct {
	ConnectorTaskPerDay   float64
	ThroughputPerGB       float64
	TopicRetentionGBMonth float64
	ProcessorUnitHour     float64
	SinkStorageGBMonth    float64
	RetentionDays         int
}

// RatesFromFactors builds Rates from a descriptor cost_factors map, keeping
// zero for anything the descriptor omits.
func RatesFromFactors(factors map[string]float64) Rates {
	r := Rates{
		ConnectorTaskPerDay:   factors["connector_task_per_day"],
		ThroughputPerGB:       factors["throughput_per_gb"],
		TopicRetentionGBMonth: factors["topic_retention_gb_month"],
		ProcessorUnitHour:     factors["processor_unit_hour"],
		SinkStorageGBMonth:    factors["sink_storage_gb_month"],
		RetentionDays:         internal.DefaultRetentionDays,
	}
	if d, ok := factors["retention_days"]; ok && d > 0 {
		r.RetentionDays = int(d)
	}
	return r
}

// Assumptions is the workload shape an estimate is computed for. Zero-valued
// fields are filled from the pipeline's discovered tables by Normalize.
type Assumptions struct {
	EventsPerDay    int64   `json:"events_per_day"`
	AvgRowBytes     int     `json:"avg_row_bytes"`
	TableCount      int     `json:"table_count"`
	ColumnCount     int     `json:"column_count"`
	TotalRows       int64   `json:"total_rows"`
	FilterFraction  float64 `json:"filter_fraction"` // fraction of events kept, 1.0 = no filter
	HasAggregation  bool    `json:"has_aggregation"`
	SourceTasks     int     `json:"source_tasks"`
	SinkTasks       int     `json:"sink_tasks"`
	SinkKind        string  `json:"sink_kind"`
}

// Normalize fills unset assumption fields from defaults: 10% of rows change
// per day, 50 bytes per column, one source task per table, one sink task.
func (a *Assumptions) Normalize() {
	if a.TableCount <= 0 {
		a.TableCount = 1
	}
	if a.EventsPerDay <= 0 {
		a.EventsPerDay = int64(float64(a.TotalRows) * internal.DefaultDailyChangeRate)
		if a.EventsPerDay <= 0 {
			a.EventsPerDay = 1000
		}
	}
	if a.AvgRowBytes <= 0 {
		cols := a.ColumnCount
		if cols <= 0 {
			cols = 10
		}
		a.AvgRowBytes = cols * internal.DefaultBytesPerColumn
	}
	if a.FilterFraction <= 0 || a.FilterFraction > 1 {
		a.FilterFraction = 1.0
	}
	if a.SourceTasks <= 0 {
		a.SourceTasks = a.TableCount * internal.DefaultSourceTasksPerTbl
	}
	if a.SinkTasks <= 0 {
		a.SinkTasks = internal.DefaultSinkTasks
	}
}

type Component struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Unit        string  `json:"unit"`
	UnitCost    float64 `json:"unit_cost"`
	Quantity    float64 `json:"quantity"`
	DailyCost   float64 `json:"daily_cost"`
	MonthlyCost float64 `json:"monthly_cost"`
}

type Estimate struct {
	Components   []Component `json:"components"`
	DailyTotal   float64     `json:"daily_total"`
	MonthlyTotal float64     `json:"monthly_total"`
	YearlyTotal  float64     `json:"yearly_total"`
	Notes        []string    `json:"notes"`
	Assumptions  Assumptions `json:"assumptions"`
}

type Comparison struct {
	WithoutFilter Estimate `json:"without_filter"`
	WithFilter    Estimate `json:"with_filter"`
	Savings       float64  `json:"savings"` // monthly
}

type Estimator struct {
	rates Rates
}

func New(rates Rates) *Estimator {
	return &Estimator{rates: rates}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Estimate prices a workload. Components follow the managed-plane billing
// model: per-task connector charges, broker throughput and retention, stream
// processor capacity when a filter or aggregation runs, and sink storage.
func (e *Estimator) Estimate(a Assumptions) Estimate {
	a.Normalize()

	dailyGB := float64(a.EventsPerDay) * float64(a.AvgRowBytes) / (1 << 30)
	sinkGB := dailyGB * a.FilterFraction

	est := Estimate{Assumptions: a}

	add := func(name, description, unit string, unitCost, qty float64, daysPerUnit float64) {
		daily := unitCost * qty / daysPerUnit
		est.Components = append(est.Components, Component{
			Name:        name,
			Description: description,
			Unit:        unit,
			UnitCost:    unitCost,
			Quantity:    round2(qty),
			DailyCost:   round2(daily),
			MonthlyCost: round2(daily * 30),
		})
		est.DailyTotal += daily
	}

	add("source_connector", fmt.Sprintf("%d source connector task(s)", a.SourceTasks),
		"task-day", e.rates.ConnectorTaskPerDay, float64(a.SourceTasks), 1)
	add("sink_connector", fmt.Sprintf("%d sink connector task(s)", a.SinkTasks),
		"task-day", e.rates.ConnectorTaskPerDay, float64(a.SinkTasks), 1)
	add("throughput", "broker ingress and egress",
		"GB", e.rates.ThroughputPerGB, dailyGB+sinkGB, 1)

	retainedGB := dailyGB * float64(e.rates.RetentionDays)
	add("topic_retention", fmt.Sprintf("%d-day topic retention", e.rates.RetentionDays),
		"GB-month", e.rates.TopicRetentionGBMonth, retainedGB, 30)

	if a.FilterFraction < 1.0 || a.HasAggregation {
		add("stream_processor", "stream processing capacity",
			"unit-hour", e.rates.ProcessorUnitHour, 24, 1)
	}

	add("sink_storage", "warehouse storage of delivered rows",
		"GB-month", e.rates.SinkStorageGBMonth, sinkGB*30, 30)

	est.DailyTotal = round2(est.DailyTotal)
	est.MonthlyTotal = round2(est.DailyTotal * 30)
	est.YearlyTotal = round2(est.DailyTotal * 365)

	est.Notes = append(est.Notes,
		fmt.Sprintf("assuming %d events/day at %d bytes/row", a.EventsPerDay, a.AvgRowBytes))
	if a.FilterFraction < 1.0 {
		est.Notes = append(est.Notes,
			fmt.Sprintf("filter keeps %.0f%% of events, reducing sink throughput and storage", a.FilterFraction*100))
	}
	if a.HasAggregation {
		est.Notes = append(est.Notes, "windowed aggregation adds stream processing capacity")
	}

	return est
}

// CompareWithFilter prices the same workload with and without its filter.
func (e *Estimator) CompareWithFilter(a Assumptions) Comparison {
	a.Normalize()

	withFilter := e.Estimate(a)

	unfiltered := a
	unfiltered.FilterFraction = 1.0
	withoutFilter := e.Estimate(unfiltered)

	return Comparison{
		WithoutFilter: withoutFilter,
		WithFilter:    withFilter,
		Savings:       round2(withoutFilter.MonthlyTotal - withFilter.MonthlyTotal),
	}
}

// DailyRate prices a single tracked resource kind for teardown savings
// summaries. Unknown kinds rate zero.
func (e *Estimator) DailyRate(kind string, metadata map[string]any) float64 {
	switch kind {
	case "source_connector", "sink_connector":
		tasks := cast.ToFloat64(metadata["tasks"])
		if tasks <= 0 {
			tasks = 1
		}
		return round2(e.rates.ConnectorTaskPerDay * tasks)
	case "kafka_topic":
		gb := cast.ToFloat64(metadata["retained_gb"])
		return round2(e.rates.TopicRetentionGBMonth * gb / 30)
	case "ksqldb_stream", "ksqldb_table":
		return round2(e.rates.ProcessorUnitHour * 24)
	case "clickhouse_table":
		gb := cast.ToFloat64(metadata["stored_gb"])
		return round2(e.rates.SinkStorageGBMonth * gb / 30)
	}
	return 0
}
