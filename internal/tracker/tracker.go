package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dataflowhq/control-plane/internal/models"
)

// deletionRank is the fixed total order of teardown: dependents first.
var deletionRank = map[models.ResourceKind]int{
	models.ResourceSinkConnector:   0,
	models.ResourceAlertRule:       1,
	models.ResourceKsqlTable:       2,
	models.ResourceKsqlStream:      3,
	models.ResourceSourceConnector: 4,
	models.ResourceKafkaTopic:      5,
	models.ResourceSinkTable:       6,
	models.ResourceSinkDatabase:    7,
	models.ResourceDebeziumSlot:    8,
	models.ResourceDebeziumPub:     9,
}

type ResourceStore interface {
	UpsertResource(ctx context.Context, r models.TrackedResource) error
	ListResources(ctx context.Context, pipelineID uuid.UUID) ([]models.TrackedResource, error)
	DeleteResources(ctx context.Context, pipelineID uuid.UUID) error
}

// Tracker is the per-pipeline ledger of externally created artifacts.
// Mutations are serialized per pipeline id; distinct pipelines do not
// contend.
type Tracker struct {
	store ResourceStore
	log   *slog.Logger

	mu        sync.Mutex
	pipelines map[uuid.UUID][]*models.TrackedResource
	locks     map[uuid.UUID]*sync.Mutex
}

func New(store ResourceStore, log *slog.Logger) *Tracker {
	return &Tracker{
		store:     store,
		log:       log,
		pipelines: make(map[uuid.UUID][]*models.TrackedResource),
		locks:     make(map[uuid.UUID]*sync.Mutex),
	}
}

func (t *Tracker) pipelineLock(id uuid.UUID) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.locks[id]
	if !ok {
		l = &sync.Mutex{}
		t.locks[id] = l
	}
	return l
}

// Restore loads a pipeline's ledger from the store, used on startup so the
// in-memory view survives restarts.
func (t *Tracker) Restore(ctx context.Context, pipelineID uuid.UUID) error {
	resources, err := t.store.ListResources(ctx, pipelineID)
	if err != nil {
		return fmt.Errorf("restore resource ledger: %w", err)
	}

	lock := t.pipelineLock(pipelineID)
	lock.Lock()
	defer lock.Unlock()

	entries := make([]*models.TrackedResource, len(resources))
	for i := range resources {
		entries[i] = &resources[i]
	}

	t.mu.Lock()
	t.pipelines[pipelineID] = entries
	t.mu.Unlock()

	return nil
}

// Track records a newly created external artifact as active.
func (t *Tracker) Track(ctx context.Context, pipelineID uuid.UUID, kind models.ResourceKind, externalID, name string, metadata map[string]any, dependsOn []string) error {
	lock := t.pipelineLock(pipelineID)
	lock.Lock()
	defer lock.Unlock()

	r := &models.TrackedResource{
		PipelineID: pipelineID,
		Kind:       kind,
		ExternalID: externalID,
		Name:       name,
		Status:     models.ResourceActive,
		Metadata:   metadata,
		DependsOn:  dependsOn,
		CreatedAt:  time.Now().UTC(),
	}

	if err := t.store.UpsertResource(ctx, *r); err != nil {
		return fmt.Errorf("persist tracked resource %s: %w", externalID, err)
	}

	t.mu.Lock()
	replaced := false
	for i, existing := range t.pipelines[pipelineID] {
		// Deterministic names mean a restarted pipeline re-tracks the same
		// external id; the fresh entry supersedes the old one.
		if existing.ExternalID == externalID {
			t.pipelines[pipelineID][i] = r
			replaced = true
			break
		}
	}
	if !replaced {
		t.pipelines[pipelineID] = append(t.pipelines[pipelineID], r)
	}
	t.mu.Unlock()

	t.log.InfoContext(ctx, "resource tracked",
		slog.String("pipeline_id", pipelineID.String()),
		slog.String("kind", string(kind)),
		slog.String("external_id", externalID))

	return nil
}

// Mark updates a resource's status; deletion timestamps and errors are
// captured on the entry.
func (t *Tracker) Mark(ctx context.Context, pipelineID uuid.UUID, externalID string, status models.ResourceStatus, resourceErr string) error {
	lock := t.pipelineLock(pipelineID)
	lock.Lock()
	defer lock.Unlock()

	t.mu.Lock()
	entries := t.pipelines[pipelineID]
	t.mu.Unlock()

	for _, r := range entries {
		if r.ExternalID != externalID {
			continue
		}

		r.Status = status
		r.Error = resourceErr
		if status == models.ResourceDeleted {
			now := time.Now().UTC()
			r.DeletedAt = &now
		}

		if err := t.store.UpsertResource(ctx, *r); err != nil {
			return fmt.Errorf("persist resource status: %w", err)
		}
		return nil
	}

	return fmt.Errorf("%w: resource %q of pipeline %s", models.ErrNotFound, externalID, pipelineID)
}

// DeletionOrder returns the pipeline's active resources in teardown order:
// fixed kind rank first, more dependents first within a kind, insertion
// order as the final tie-break.
func (t *Tracker) DeletionOrder(pipelineID uuid.UUID) []models.TrackedResource {
	t.mu.Lock()
	entries := t.pipelines[pipelineID]
	t.mu.Unlock()

	dependents := make(map[string]int)
	for _, r := range entries {
		for _, dep := range r.DependsOn {
			dependents[dep]++
		}
	}

	type indexed struct {
		r   *models.TrackedResource
		pos int
	}
	var active []indexed
	for i, r := range entries {
		if r.Status == models.ResourceActive {
			active = append(active, indexed{r, i})
		}
	}

	sort.SliceStable(active, func(i, j int) bool {
		ri, rj := active[i].r, active[j].r
		if deletionRank[ri.Kind] != deletionRank[rj.Kind] {
			return deletionRank[ri.Kind] < deletionRank[rj.Kind]
		}
		if dependents[ri.ExternalID] != dependents[rj.ExternalID] {
			return dependents[ri.ExternalID] > dependents[rj.ExternalID]
		}
		return active[i].pos < active[j].pos
	})

	out := make([]models.TrackedResource, len(active))
	for i, a := range active {
		out[i] = *a.r
	}
	return out
}

// Active returns all non-deleted resources of a pipeline.
func (t *Tracker) Active(pipelineID uuid.UUID) []models.TrackedResource {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []models.TrackedResource
	for _, r := range t.pipelines[pipelineID] {
		if r.Status == models.ResourceActive {
			out = append(out, *r)
		}
	}
	return out
}

// Residual returns failed or orphaned resources needing operator attention.
func (t *Tracker) Residual(pipelineID uuid.UUID) []models.TrackedResource {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []models.TrackedResource
	for _, r := range t.pipelines[pipelineID] {
		if r.Status == models.ResourceFailed || r.Status == models.ResourceOrphaned {
			out = append(out, *r)
		}
	}
	return out
}

// CostRelevant returns active resources that accrue charges, used for
// teardown savings estimates.
func (t *Tracker) CostRelevant(pipelineID uuid.UUID) []models.TrackedResource {
	var out []models.TrackedResource
	for _, r := range t.Active(pipelineID) {
		switch r.Kind {
		case models.ResourceKafkaTopic, models.ResourceKsqlStream, models.ResourceKsqlTable,
			models.ResourceSourceConnector, models.ResourceSinkConnector, models.ResourceSinkTable:
			out = append(out, r)
		}
	}
	return out
}

// Forget drops a fully torn-down pipeline from the ledger. Pipelines with
// failed resources are kept so operators can retry; orphaned entries were
// retained on purpose and do not block the purge.
func (t *Tracker) Forget(ctx context.Context, pipelineID uuid.UUID) error {
	lock := t.pipelineLock(pipelineID)
	lock.Lock()
	defer lock.Unlock()

	var failed int
	for _, r := range t.Residual(pipelineID) {
		if r.Status == models.ResourceFailed {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("pipeline %s has %d resources that failed teardown", pipelineID, failed)
	}

	if err := t.store.DeleteResources(ctx, pipelineID); err != nil {
		return fmt.Errorf("purge resource ledger: %w", err)
	}

	t.mu.Lock()
	delete(t.pipelines, pipelineID)
	delete(t.locks, pipelineID)
	t.mu.Unlock()

	return nil
}
