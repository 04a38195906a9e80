package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dataflowhq/control-plane/internal"
	"github.com/dataflowhq/control-plane/internal/models"
	"github.com/dataflowhq/control-plane/internal/orchestrator"
)

type pipelineJSON struct {
	ID              uuid.UUID             `json:"id"`
	Name            string                `json:"name"`
	CredentialID    uuid.UUID             `json:"credential_id"`
	SourceKind      string                `json:"source_kind"`
	Tables          []string              `json:"tables"`
	Filter          *models.FilterConfig  `json:"filter,omitempty"`
	SinkKind        string                `json:"sink_kind"`
	SinkConfig      map[string]any        `json:"sink_config,omitempty"`
	SourceConnector string                `json:"source_connector,omitempty"`
	SinkConnector   string                `json:"sink_connector,omitempty"`
	Status          models.PipelineStatus `json:"status"`
	LastHealthCheck *time.Time            `json:"last_health_check,omitempty"`
	ErrorMessage    string                `json:"error_message,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
	StartedAt       *time.Time            `json:"started_at,omitempty"`
	StoppedAt       *time.Time            `json:"stopped_at,omitempty"`
	DeletedAt       *time.Time            `json:"deleted_at,omitempty"`
}

func toPipelineJSON(p *models.Pipeline) pipelineJSON {
	// Sink credentials stay server side.
	sinkConfig := make(map[string]any, len(p.SinkConfig))
	for k, v := range p.SinkConfig {
		if k == "password" {
			continue
		}
		sinkConfig[k] = v
	}

	return pipelineJSON{
		ID:              p.ID,
		Name:            p.Name,
		CredentialID:    p.CredentialID,
		SourceKind:      p.SourceKind,
		Tables:          p.Tables,
		Filter:          p.Filter,
		SinkKind:        p.SinkKind,
		SinkConfig:      sinkConfig,
		SourceConnector: p.SourceConnector,
		SinkConnector:   p.SinkConnector,
		Status:          p.Status,
		LastHealthCheck: p.LastHealthCheck,
		ErrorMessage:    p.ErrorMessage,
		CreatedAt:       p.CreatedAt,
		StartedAt:       p.StartedAt,
		StoppedAt:       p.StoppedAt,
		DeletedAt:       p.DeletedAt,
	}
}

func (h *handler) createPipeline(w http.ResponseWriter, r *http.Request) {
	spec, err := parseRequest[orchestrator.CreateSpec](w, r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := h.pipelines.Create(r.Context(), userID(r), *spec)
	if err != nil {
		h.respondError(w, err)
		return
	}
	jsonResponse(w, http.StatusCreated, toPipelineJSON(p))
}

func (h *handler) listPipelines(w http.ResponseWriter, r *http.Request) {
	pipelines, err := h.store.ListPipelines(r.Context(), userID(r))
	if err != nil {
		h.respondError(w, err)
		return
	}

	out := make([]pipelineJSON, 0, len(pipelines))
	for i := range pipelines {
		out = append(out, toPipelineJSON(&pipelines[i]))
	}
	jsonResponse(w, http.StatusOK, out)
}

func (h *handler) getPipeline(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := h.store.GetPipeline(r.Context(), userID(r), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, toPipelineJSON(p))
}

func (h *handler) startPipeline(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.pipelines.Start)
}

func (h *handler) pausePipeline(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.pipelines.Pause)
}

func (h *handler) resumePipeline(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.pipelines.Resume)
}

func (h *handler) stopPipeline(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.pipelines.Stop)
}

func (h *handler) transition(w http.ResponseWriter, r *http.Request,
	verb func(ctx context.Context, userID string, id uuid.UUID) (*models.Pipeline, error),
) {
	id, err := pathUUID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := verb(r.Context(), userID(r), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, toPipelineJSON(p))
}

type deleteResultJSON struct {
	Pipeline     pipelineJSON             `json:"pipeline"`
	DailySavings float64                  `json:"daily_savings"`
	Failed       []models.TrackedResource `json:"failed,omitempty"`
	SkippedKinds []models.ResourceKind    `json:"skipped_kinds,omitempty"`
}

func (h *handler) deletePipeline(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	opts := orchestrator.DeleteOptions{
		DeleteDestinationData: r.URL.Query().Get("delete_destination_data") == "true",
	}

	res, err := h.pipelines.Delete(r.Context(), userID(r), id, opts)
	if err != nil {
		h.respondError(w, err)
		return
	}

	jsonResponse(w, http.StatusOK, deleteResultJSON{
		Pipeline:     toPipelineJSON(res.Pipeline),
		DailySavings: res.DailySavings,
		Failed:       res.Failed,
		SkippedKinds: res.SkippedKinds,
	})
}

func (h *handler) listPipelineEvents(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.store.GetPipeline(r.Context(), userID(r), id); err != nil {
		h.respondError(w, err)
		return
	}

	events, err := h.store.ListEvents(r.Context(), id, queryInt(r, "limit", 100))
	if err != nil {
		h.respondError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, events)
}

type resourcesJSON struct {
	Active   []models.TrackedResource `json:"active"`
	Residual []models.TrackedResource `json:"residual,omitempty"`
}

func (h *handler) listPipelineResources(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.store.GetPipeline(r.Context(), userID(r), id); err != nil {
		h.respondError(w, err)
		return
	}

	jsonResponse(w, http.StatusOK, resourcesJSON{
		Active:   h.ledger.Active(id),
		Residual: h.ledger.Residual(id),
	})
}

// checkPipelineHealth triggers an immediate monitor pass for one pipeline.
func (h *handler) checkPipelineHealth(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.store.GetPipeline(r.Context(), userID(r), id); err != nil {
		h.respondError(w, err)
		return
	}

	if err := h.monitor.CheckNow(r.Context(), &id); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type enrichmentRequest struct {
	SourceStream  string               `json:"source_stream"`
	SourceTopic   string               `json:"source_topic"`
	LookupTables  []models.LookupTable `json:"lookup_tables"`
	JoinType      models.JoinType      `json:"join_type"`
	JoinKeys      []models.JoinKey     `json:"join_keys"`
	OutputColumns []string             `json:"output_columns,omitempty"`
}

func (h *handler) createEnrichment(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	req, err := parseRequest[enrichmentRequest](w, r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.LookupTables) == 0 || len(req.JoinKeys) == 0 {
		jsonError(w, http.StatusUnprocessableEntity, "enrichment needs at least one lookup table and one join key")
		return
	}

	p, err := h.store.GetPipeline(r.Context(), userID(r), id)
	if err != nil {
		h.respondError(w, err)
		return
	}

	joinType := req.JoinType
	if joinType == "" {
		joinType = models.JoinLeft
	}

	enriched := fmt.Sprintf(internal.EnrichedPrefixFormat, p.HexID())
	enr := models.Enrichment{
		ID:            uuid.New(),
		PipelineID:    p.ID,
		SourceStream:  req.SourceStream,
		SourceTopic:   req.SourceTopic,
		LookupTables:  req.LookupTables,
		JoinType:      joinType,
		JoinKeys:      req.JoinKeys,
		OutputColumns: req.OutputColumns,
		OutputStream:  enriched,
		OutputTopic:   enriched,
		Status:        models.EnrichmentPending,
		CreatedAt:     time.Now().UTC(),
	}

	if err := h.store.InsertEnrichment(r.Context(), enr); err != nil {
		h.respondError(w, err)
		return
	}
	jsonResponse(w, http.StatusCreated, enr)
}

func (h *handler) listEnrichments(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.store.GetPipeline(r.Context(), userID(r), id); err != nil {
		h.respondError(w, err)
		return
	}

	enrichments, err := h.store.ListEnrichments(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, enrichments)
}
