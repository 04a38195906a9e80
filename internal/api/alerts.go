package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dataflowhq/control-plane/internal/models"
)

type alertRuleRequest struct {
	PipelineID      *uuid.UUID      `json:"pipeline_id,omitempty"` // nil = all of the user's pipelines
	Name            string          `json:"name"`
	Kind            models.RuleKind `json:"kind"`
	Thresholds      map[string]any  `json:"thresholds,omitempty"`
	EnabledDays     []int           `json:"enabled_days,omitempty"`  // 0 = Sunday
	EnabledHours    []int           `json:"enabled_hours,omitempty"` // 0-23
	CooldownSeconds int64           `json:"cooldown_seconds,omitempty"`
	Severity        models.Severity `json:"severity,omitempty"`
	Recipients      []string        `json:"recipients"`
	Active          *bool           `json:"active,omitempty"` // default true
}

func (h *handler) createAlertRule(w http.ResponseWriter, r *http.Request) {
	req, err := parseRequest[alertRuleRequest](w, r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" || req.Kind == "" || len(req.Recipients) == 0 {
		jsonError(w, http.StatusUnprocessableEntity, "alert rule needs a name, a kind and recipients")
		return
	}

	// Rules bound to a pipeline must reference one the caller owns.
	if req.PipelineID != nil {
		if _, err := h.store.GetPipeline(r.Context(), userID(r), *req.PipelineID); err != nil {
			h.respondError(w, err)
			return
		}
	}

	days := make([]time.Weekday, 0, len(req.EnabledDays))
	for _, d := range req.EnabledDays {
		if d < 0 || d > 6 {
			jsonError(w, http.StatusUnprocessableEntity, "enabled_days entries must be 0-6")
			return
		}
		days = append(days, time.Weekday(d))
	}
	for _, hour := range req.EnabledHours {
		if hour < 0 || hour > 23 {
			jsonError(w, http.StatusUnprocessableEntity, "enabled_hours entries must be 0-23")
			return
		}
	}

	severity := req.Severity
	if severity == "" {
		severity = models.SeverityWarning
	}

	rule := models.AlertRule{
		ID:           uuid.New(),
		UserID:       userID(r),
		PipelineID:   req.PipelineID,
		Name:         req.Name,
		Kind:         req.Kind,
		Thresholds:   req.Thresholds,
		EnabledDays:  days,
		EnabledHours: req.EnabledHours,
		Cooldown:     time.Duration(req.CooldownSeconds) * time.Second,
		Severity:     severity,
		Recipients:   req.Recipients,
		Active:       req.Active == nil || *req.Active,
		CreatedAt:    time.Now().UTC(),
	}

	if err := h.store.InsertAlertRule(r.Context(), rule); err != nil {
		h.respondError(w, err)
		return
	}
	jsonResponse(w, http.StatusCreated, rule)
}

func (h *handler) listAlertRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.store.ListAlertRules(r.Context(), userID(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, rules)
}

func (h *handler) deleteAlertRule(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Ownership check; DeleteAlertRule itself is unscoped for teardown use.
	if _, err := h.store.GetAlertRule(r.Context(), userID(r), id); err != nil {
		h.respondError(w, err)
		return
	}
	if err := h.store.DeleteAlertRule(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type alertRuleActiveRequest struct {
	Active bool `json:"active"`
}

func (h *handler) setAlertRuleActive(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	req, err := parseRequest[alertRuleActiveRequest](w, r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.SetRuleActive(r.Context(), userID(r), id, req.Active); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type alertTestResponse struct {
	Sent bool `json:"sent"`
}

// testAlertRule delivers a synthetic alert through the rule's recipients,
// bypassing its schedule.
func (h *handler) testAlertRule(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	rule, err := h.store.GetAlertRule(r.Context(), userID(r), id)
	if err != nil {
		h.respondError(w, err)
		return
	}

	sent, err := h.alerts.Test(r.Context(), *rule)
	if err != nil {
		h.respondError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, alertTestResponse{Sent: sent})
}

func (h *handler) listAlertHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.store.ListAlertHistory(r.Context(), userID(r), queryInt(r, "limit", 50))
	if err != nil {
		h.respondError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, history)
}
