package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dataflowhq/control-plane/internal/anomaly"
	"github.com/dataflowhq/control-plane/internal/ksqlgen"
	"github.com/dataflowhq/control-plane/internal/models"
)

// Pause suspends both connectors. Per-connector failures are tolerated; the
// pipeline transitions if at least one pause succeeded.
func (o *Orchestrator) Pause(ctx context.Context, userID string, id uuid.UUID) (*models.Pipeline, error) {
	defer o.lock(id)()

	p, err := o.store.GetPipeline(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if p.Status != models.PipelineStatusRunning {
		return nil, &models.InvalidTransitionError{Current: p.Status, Requested: models.PipelineStatusPaused}
	}

	return o.toggleConnectors(ctx, p, models.PipelineStatusPaused, models.EventPaused, o.connect.Pause)
}

// Resume is symmetric to Pause.
func (o *Orchestrator) Resume(ctx context.Context, userID string, id uuid.UUID) (*models.Pipeline, error) {
	defer o.lock(id)()

	p, err := o.store.GetPipeline(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if p.Status != models.PipelineStatusPaused {
		return nil, &models.InvalidTransitionError{Current: p.Status, Requested: models.PipelineStatusRunning}
	}

	return o.toggleConnectors(ctx, p, models.PipelineStatusRunning, models.EventResumed, o.connect.Resume)
}

func (o *Orchestrator) toggleConnectors(ctx context.Context, p *models.Pipeline, next models.PipelineStatus, kind models.PipelineEventKind, verb func(context.Context, string) error) (*models.Pipeline, error) {
	var succeeded int
	var failures []string

	for _, name := range []string{p.SourceConnector, p.SinkConnector} {
		if name == "" {
			continue
		}
		if err := verb(ctx, name); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", name, err))
			o.log.ErrorContext(ctx, "connector toggle failed",
				slog.String("connector", name),
				slog.Any("error", err))
			continue
		}
		succeeded++
	}

	if succeeded == 0 {
		return nil, fmt.Errorf("%w: no connector accepted the %s request: %s",
			models.ErrExternalSystem, kind, strings.Join(failures, "; "))
	}

	now := time.Now().UTC()
	p.Status = next
	event := &models.PipelineEvent{
		ID:         uuid.New(),
		PipelineID: p.ID,
		Kind:       kind,
		Message:    fmt.Sprintf("pipeline %s", kind),
		CreatedAt:  now,
	}
	if len(failures) > 0 {
		event.Details = map[string]any{"partial_failures": failures}
	}

	if err := o.store.UpdatePipeline(ctx, p, event); err != nil {
		return nil, fmt.Errorf("persist %s state: %w", next, err)
	}
	return p, nil
}

// Stop deletes both connectors. Deletion errors are logged, not fatal; the
// deterministic names let a later Start recreate them.
func (o *Orchestrator) Stop(ctx context.Context, userID string, id uuid.UUID) (*models.Pipeline, error) {
	defer o.lock(id)()

	p, err := o.store.GetPipeline(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !p.Status.CanTransitionTo(models.PipelineStatusStopped) {
		return nil, &models.InvalidTransitionError{Current: p.Status, Requested: models.PipelineStatusStopped}
	}

	for _, name := range []string{p.SinkConnector, p.SourceConnector} {
		if name == "" {
			continue
		}
		if err := o.connect.DeleteConnector(ctx, name); err != nil {
			o.log.ErrorContext(ctx, "delete connector on stop",
				slog.String("connector", name),
				slog.Any("error", err))
			continue
		}
		if err := o.tracker.Mark(ctx, p.ID, name, models.ResourceDeleted, ""); err != nil {
			o.log.ErrorContext(ctx, "mark connector deleted",
				slog.String("connector", name),
				slog.Any("error", err))
		}
	}

	now := time.Now().UTC()
	p.Status = models.PipelineStatusStopped
	p.SourceConnector = ""
	p.SinkConnector = ""
	p.StoppedAt = &now

	event := &models.PipelineEvent{
		ID:         uuid.New(),
		PipelineID: p.ID,
		Kind:       models.EventStopped,
		Message:    "pipeline stopped",
		CreatedAt:  now,
	}
	if err := o.store.UpdatePipeline(ctx, p, event); err != nil {
		return nil, fmt.Errorf("persist stopped state: %w", err)
	}
	return p, nil
}

type DeleteOptions struct {
	// DeleteDestinationData also drops warehouse tables; the default keeps
	// delivered data.
	DeleteDestinationData bool
}

type DeleteResult struct {
	Pipeline     *models.Pipeline
	DailySavings float64
	Failed       []models.TrackedResource
	SkippedKinds []models.ResourceKind
}

// Delete tears down every tracked resource in dependency order, soft
// deletes the pipeline row and reports the estimated daily savings.
// Resources that fail to delete stay tracked so operators can retry.
func (o *Orchestrator) Delete(ctx context.Context, userID string, id uuid.UUID, opts DeleteOptions) (*DeleteResult, error) {
	defer o.lock(id)()

	p, err := o.store.GetPipeline(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if p.Status == models.PipelineStatusDeleted {
		return nil, &models.InvalidTransitionError{Current: p.Status, Requested: models.PipelineStatusDeleted}
	}

	var secret models.SourceSecret
	secretLoaded := false

	result := &DeleteResult{Pipeline: p}

	for _, r := range o.tracker.DeletionOrder(p.ID) {
		result.DailySavings += o.rates.DailyRate(string(r.Kind), r.Metadata)

		if !opts.DeleteDestinationData &&
			(r.Kind == models.ResourceSinkTable || r.Kind == models.ResourceSinkDatabase) {
			// Delivered data is retained by default; the table stays but is
			// no longer managed.
			result.SkippedKinds = append(result.SkippedKinds, r.Kind)
			if err := o.tracker.Mark(ctx, p.ID, r.ExternalID, models.ResourceOrphaned, "retained on delete"); err != nil {
				o.log.ErrorContext(ctx, "mark resource retained", slog.Any("error", err))
			}
			continue
		}

		var delErr error
		switch r.Kind {
		case models.ResourceSinkConnector, models.ResourceSourceConnector:
			delErr = o.connect.DeleteConnector(ctx, r.ExternalID)

		case models.ResourceAlertRule:
			if ruleID, parseErr := uuid.Parse(r.ExternalID); parseErr == nil {
				delErr = o.store.DeleteAlertRule(ctx, ruleID)
			}

		case models.ResourceKsqlTable:
			_, delErr = o.processor.Execute(ctx,
				fmt.Sprintf("DROP TABLE IF EXISTS %s;", ksqlgen.Quote(r.ExternalID)), nil)

		case models.ResourceKsqlStream:
			_, delErr = o.processor.Execute(ctx,
				fmt.Sprintf("DROP STREAM IF EXISTS %s;", ksqlgen.Quote(r.ExternalID)), nil)

		case models.ResourceKafkaTopic:
			delErr = o.topics.DeleteTopics(ctx, r.ExternalID)
			if delErr == nil {
				// The topic's registry subjects go with it; a leftover
				// subject only blocks recreation, so failures are logged.
				for _, subject := range []string{r.ExternalID + "-key", r.ExternalID + "-value"} {
					if err := o.subjects.DeleteSubject(ctx, subject, false); err != nil {
						o.log.WarnContext(ctx, "delete registry subject",
							slog.String("subject", subject),
							slog.Any("error", err))
					}
				}
			}

		case models.ResourceSinkTable:
			delErr = o.sink.Exec(ctx, "DROP TABLE IF EXISTS "+r.ExternalID)

		case models.ResourceSinkDatabase:
			delErr = o.sink.Exec(ctx, "DROP DATABASE IF EXISTS "+r.ExternalID)

		case models.ResourceDebeziumSlot, models.ResourceDebeziumPub:
			if !secretLoaded {
				secret, err = o.vault.Open(ctx, userID, p.CredentialID)
				if err != nil {
					delErr = fmt.Errorf("open credential for replication teardown: %w", err)
					break
				}
				secretLoaded = true
			}
			if r.Kind == models.ResourceDebeziumSlot {
				delErr = o.sourceDB.DropReplicationSlot(ctx, secret, r.ExternalID)
			} else {
				delErr = o.sourceDB.DropPublication(ctx, secret, r.ExternalID)
			}
		}

		if delErr != nil {
			o.log.ErrorContext(ctx, "resource teardown failed",
				slog.String("pipeline_id", p.ID.String()),
				slog.String("kind", string(r.Kind)),
				slog.String("external_id", r.ExternalID),
				slog.Any("error", delErr))
			if err := o.tracker.Mark(ctx, p.ID, r.ExternalID, models.ResourceFailed, delErr.Error()); err != nil {
				o.log.ErrorContext(ctx, "mark resource failed", slog.Any("error", err))
			}
			continue
		}

		if err := o.tracker.Mark(ctx, p.ID, r.ExternalID, models.ResourceDeleted, ""); err != nil {
			o.log.ErrorContext(ctx, "mark resource deleted", slog.Any("error", err))
		}
	}

	now := time.Now().UTC()
	p.Status = models.PipelineStatusDeleted
	p.SourceConnector = ""
	p.SinkConnector = ""
	p.DeletedAt = &now

	event := &models.PipelineEvent{
		ID:         uuid.New(),
		PipelineID: p.ID,
		Kind:       models.EventDeleted,
		Message:    "pipeline deleted",
		Details:    map[string]any{"daily_savings": result.DailySavings},
		CreatedAt:  now,
	}
	if err := o.store.UpdatePipeline(ctx, p, event); err != nil {
		return nil, fmt.Errorf("persist deleted state: %w", err)
	}

	for _, r := range o.tracker.Residual(p.ID) {
		if r.Status == models.ResourceFailed {
			result.Failed = append(result.Failed, r)
		}
	}
	if len(result.Failed) == 0 {
		if err := o.tracker.Forget(ctx, p.ID); err != nil {
			o.log.ErrorContext(ctx, "purge resource ledger", slog.Any("error", err))
		}
	}

	return result, nil
}

// Preview runs a candidate transformation over sampled rows and returns
// the anomaly verdict, without touching external systems.
func (o *Orchestrator) Preview(original, transformed []map[string]any, kind anomaly.TransformKind, config map[string]any) anomaly.Verdict {
	return anomaly.Analyze(original, transformed, kind, config)
}
