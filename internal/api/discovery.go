package api

import (
	"net/http"
	"strings"

	"github.com/dataflowhq/control-plane/internal/filterplan"
	"github.com/dataflowhq/control-plane/internal/models"
)

type discoveryRequest struct {
	Schema string   `json:"schema"`
	Tables []string `json:"tables,omitempty"`
}

func (h *handler) runDiscovery(w http.ResponseWriter, r *http.Request) {
	credID, err := pathUUID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	req, err := parseRequest[discoveryRequest](w, r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Schema == "" {
		req.Schema = "public"
	}

	secret, err := h.vault.Open(r.Context(), userID(r), credID)
	if err != nil {
		h.respondError(w, err)
		return
	}

	pool, err := h.aux.OpenSource(r.Context(), secret)
	if err != nil {
		h.respondError(w, err)
		return
	}
	defer pool.Close()

	result, err := h.aux.Discoverer.Discover(r.Context(), pool, credID, req.Schema, req.Tables)
	if err != nil {
		h.respondError(w, err)
		return
	}

	jsonResponse(w, http.StatusOK, result)
}

func (h *handler) listTables(w http.ResponseWriter, r *http.Request) {
	credID, err := pathUUID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Ownership check before touching the catalog.
	if _, err := h.vault.Open(r.Context(), userID(r), credID); err != nil {
		h.respondError(w, err)
		return
	}

	tables, err := h.store.ListDiscoveredTables(r.Context(), credID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, tables)
}

type readinessRequest struct {
	SourceKind string   `json:"source_kind"`
	Tables     []string `json:"tables,omitempty"`
}

func (h *handler) checkReadiness(w http.ResponseWriter, r *http.Request) {
	credID, err := pathUUID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	req, err := parseRequest[readinessRequest](w, r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.SourceKind == "" {
		req.SourceKind = "postgres"
	}

	desc, err := h.aux.Registry.Source(req.SourceKind)
	if err != nil {
		h.respondError(w, err)
		return
	}

	secret, err := h.vault.Open(r.Context(), userID(r), credID)
	if err != nil {
		h.respondError(w, err)
		return
	}

	pool, err := h.aux.OpenSource(r.Context(), secret)
	if err != nil {
		h.respondError(w, err)
		return
	}
	defer pool.Close()

	result, err := h.aux.Prober.Run(r.Context(), pool, desc, req.Tables)
	if err != nil {
		h.respondError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, result)
}

type filterPlanRequest struct {
	Table  string `json:"table"` // schema-qualified
	Phrase string `json:"phrase"`
}

// planFilter translates a natural-language phrase into a filter config over
// a discovered table, sampling distinct values to anchor the predicate.
func (h *handler) planFilter(w http.ResponseWriter, r *http.Request) {
	credID, err := pathUUID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	req, err := parseRequest[filterPlanRequest](w, r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	secret, err := h.vault.Open(r.Context(), userID(r), credID)
	if err != nil {
		h.respondError(w, err)
		return
	}

	tables, err := h.store.ListDiscoveredTables(r.Context(), credID)
	if err != nil {
		h.respondError(w, err)
		return
	}

	var table *models.DiscoveredTable
	for i := range tables {
		if tables[i].QualifiedName() == req.Table {
			table = &tables[i]
			break
		}
	}
	if table == nil {
		jsonError(w, http.StatusNotFound, "table "+req.Table+" was never discovered; run discovery first")
		return
	}

	samples := h.sampleTextColumns(r, secret, table)

	cfg, err := filterplan.Plan(req.Phrase, table.Columns, samples)
	if err != nil {
		h.respondError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, cfg)
}

// sampleTextColumns pulls distinct values for the table's text columns so
// the planner can match phrase tokens against live data. Sampling is best
// effort; a failed connection degrades the plan, it does not fail it.
func (h *handler) sampleTextColumns(r *http.Request, secret models.SourceSecret, table *models.DiscoveredTable) map[string][]string {
	pool, err := h.aux.OpenSource(r.Context(), secret)
	if err != nil {
		h.log.WarnContext(r.Context(), "sampling skipped", "error", err)
		return nil
	}
	defer pool.Close()

	const maxColumns = 8
	samples := make(map[string][]string)
	for _, col := range table.Columns {
		if len(samples) >= maxColumns {
			break
		}
		t := strings.ToLower(col.Type)
		if !strings.Contains(t, "char") && !strings.Contains(t, "text") {
			continue
		}
		values := h.aux.Discoverer.DistinctValues(r.Context(), pool, table.SchemaName, table.TableName, col.Name, 20)
		if len(values) > 0 {
			samples[col.Name] = values
		}
	}
	return samples
}

type filterPreviewRequest struct {
	Schema    string `json:"schema"`
	Table     string `json:"table"`
	Predicate string `json:"predicate"`
	Limit     int    `json:"limit,omitempty"`
}

func (h *handler) previewFilter(w http.ResponseWriter, r *http.Request) {
	credID, err := pathUUID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	req, err := parseRequest[filterPreviewRequest](w, r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	secret, err := h.vault.Open(r.Context(), userID(r), credID)
	if err != nil {
		h.respondError(w, err)
		return
	}

	pool, err := h.aux.OpenSource(r.Context(), secret)
	if err != nil {
		h.respondError(w, err)
		return
	}
	defer pool.Close()

	preview := h.aux.Discoverer.FilterPreview(r.Context(), pool, req.Schema, req.Table, req.Predicate, req.Limit)
	jsonResponse(w, http.StatusOK, preview)
}
