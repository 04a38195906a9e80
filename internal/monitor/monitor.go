package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dataflowhq/control-plane/internal"
	"github.com/dataflowhq/control-plane/internal/anomaly"
	"github.com/dataflowhq/control-plane/internal/models"
)

type PipelineSource interface {
	ListRunning(ctx context.Context) ([]models.Pipeline, error)
	TouchHealthCheck(ctx context.Context, pipelineID uuid.UUID, at time.Time) error
}

type RuleSource interface {
	// ActiveRules returns rules scoped to the pipeline plus the user's
	// pipeline-wide rules.
	ActiveRules(ctx context.Context, userID string, pipelineID uuid.UUID) ([]models.AlertRule, error)
}

// Collector gathers per-table metrics for one pipeline from the source
// database.
type Collector interface {
	Collect(ctx context.Context, p models.Pipeline) ([]anomaly.Metrics, error)
}

type Dispatcher interface {
	Send(ctx context.Context, rule models.AlertRule, a models.Anomaly, bypassSchedule bool) (bool, error)
}

// Loop is the single long-lived monitor task. It only reads pipeline state
// and dispatches alerts; pipeline status is never mutated here.
type Loop struct {
	pipelines  PipelineSource
	rules      RuleSource
	collector  Collector
	dispatcher Dispatcher
	log        *slog.Logger

	interval   time.Duration
	perTimeout time.Duration

	mu      sync.Mutex
	history map[uuid.UUID]map[string][]int64
}

func New(pipelines PipelineSource, rules RuleSource, collector Collector, dispatcher Dispatcher, log *slog.Logger) *Loop {
	return &Loop{
		pipelines:  pipelines,
		rules:      rules,
		collector:  collector,
		dispatcher: dispatcher,
		log:        log,
		interval:   internal.MonitorDefaultInterval,
		perTimeout: internal.MonitorPipelineTimeout,
		history:    make(map[uuid.UUID]map[string][]int64),
	}
}

func (l *Loop) SetInterval(d time.Duration) {
	if d > 0 {
		l.interval = d
	}
}

// Run blocks until ctx is cancelled, sweeping all running pipelines every
// interval. Per-pipeline failures are logged and skipped; the loop never
// terminates on them.
func (l *Loop) Run(ctx context.Context) {
	l.log.InfoContext(ctx, "monitor loop started", slog.Duration("interval", l.interval))

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.log.Info("monitor loop stopped")
			return
		case <-ticker.C:
			l.sweep(ctx, nil)
		}
	}
}

// CheckNow sweeps synchronously. With a pipeline id set, only that pipeline
// is checked.
func (l *Loop) CheckNow(ctx context.Context, pipelineID *uuid.UUID) error {
	return l.sweep(ctx, pipelineID)
}

func (l *Loop) sweep(ctx context.Context, only *uuid.UUID) error {
	pipelines, err := l.pipelines.ListRunning(ctx)
	if err != nil {
		l.log.ErrorContext(ctx, "list running pipelines", slog.Any("error", err))
		return fmt.Errorf("list running pipelines: %w", err)
	}

	for _, p := range pipelines {
		if only != nil && p.ID != *only {
			continue
		}
		l.checkPipeline(ctx, p)
	}
	return nil
}

// checkPipeline runs one pipeline's health check with a bounded timeout.
// Panics are contained so one misbehaving pipeline cannot take the loop
// down.
func (l *Loop) checkPipeline(ctx context.Context, p models.Pipeline) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("pipeline check panicked",
				slog.String("pipeline_id", p.ID.String()),
				slog.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, l.perTimeout)
	defer cancel()

	metrics, err := l.collector.Collect(ctx, p)
	if err != nil {
		l.log.ErrorContext(ctx, "collect pipeline metrics",
			slog.String("pipeline_id", p.ID.String()),
			slog.Any("error", err))
		return
	}

	now := time.Now().UTC()
	for i := range metrics {
		metrics[i].History = l.recordCount(p.ID, metrics[i].Table, metrics[i].CurrentCount)
	}

	rules, err := l.rules.ActiveRules(ctx, p.UserID, p.ID)
	if err != nil {
		l.log.ErrorContext(ctx, "load alert rules",
			slog.String("pipeline_id", p.ID.String()),
			slog.Any("error", err))
		return
	}

	for _, rule := range rules {
		for _, m := range metrics {
			for _, a := range anomaly.Evaluate(rule, m, now) {
				if _, err := l.dispatcher.Send(ctx, rule, a, false); err != nil {
					l.log.ErrorContext(ctx, "dispatch alert",
						slog.String("rule_id", rule.ID.String()),
						slog.Any("error", err))
				}
			}
		}
	}

	if err := l.pipelines.TouchHealthCheck(ctx, p.ID, now); err != nil {
		l.log.ErrorContext(ctx, "update health check timestamp",
			slog.String("pipeline_id", p.ID.String()),
			slog.Any("error", err))
	}
}

// recordCount appends a count sample and returns the history before this
// sample, capped at the baseline window. The returned slice is what volume
// rules baseline against, so the current sample is excluded.
func (l *Loop) recordCount(pipelineID uuid.UUID, table string, count int64) []int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	tables, ok := l.history[pipelineID]
	if !ok {
		tables = make(map[string][]int64)
		l.history[pipelineID] = tables
	}

	prior := append([]int64(nil), tables[table]...)

	next := append(tables[table], count)
	if len(next) > internal.BaselineHistorySize {
		next = next[len(next)-internal.BaselineHistorySize:]
	}
	tables[table] = next

	return prior
}

// ForgetPipeline clears cached history, called when a pipeline is deleted.
func (l *Loop) ForgetPipeline(pipelineID uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.history, pipelineID)
}
