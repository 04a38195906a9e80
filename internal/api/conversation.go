package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/dataflowhq/control-plane/internal/conversation"
	"github.com/dataflowhq/control-plane/internal/models"
)

type conversationStartRequest struct {
	SessionID string `json:"session_id"`
	Request   string `json:"request"`
}

type credentialSuggestion struct {
	Credential credentialJSON `json:"credential"`
	Score      int            `json:"score"`
}

type tableSuggestion struct {
	Table     string `json:"table"`
	Score     int    `json:"score"`
	Suggested bool   `json:"suggested"`
}

type conversationJSON struct {
	SessionID       string                    `json:"session_id"`
	OriginalRequest string                    `json:"original_request"`
	Requirements    conversation.Requirements `json:"requirements"`
	CurrentStep     conversation.Step         `json:"current_step"`
	CompletedSteps  []conversation.Step       `json:"completed_steps,omitempty"`
	CredentialID    *uuid.UUID                `json:"credential_id,omitempty"`
	Tables          []string                  `json:"tables,omitempty"`
	Filter          *models.FilterConfig      `json:"filter,omitempty"`
	Destination     map[string]any            `json:"destination,omitempty"`
	PipelineID      *uuid.UUID                `json:"pipeline_id,omitempty"`

	CredentialMatch *credentialSuggestion `json:"credential_match,omitempty"`
	TableMatches    []tableSuggestion     `json:"table_matches,omitempty"`
}

func toConversationJSON(ctx *conversation.Context) conversationJSON {
	return conversationJSON{
		SessionID:       ctx.SessionID,
		OriginalRequest: ctx.OriginalRequest,
		Requirements:    ctx.Requirements,
		CurrentStep:     ctx.CurrentStep,
		CompletedSteps:  ctx.CompletedSteps,
		CredentialID:    ctx.CredentialID,
		Tables:          ctx.Tables,
		Filter:          ctx.Filter,
		Destination:     ctx.Destination,
		PipelineID:      ctx.PipelineID,
	}
}

// startConversation opens a guided-creation session: it extracts the
// requirements from the request and suggests the closest credential and
// tables it can find.
func (h *handler) startConversation(w http.ResponseWriter, r *http.Request) {
	req, err := parseRequest[conversationStartRequest](w, r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.SessionID == "" || req.Request == "" {
		jsonError(w, http.StatusUnprocessableEntity, "conversation needs a session_id and a request")
		return
	}

	user := userID(r)
	ctx := h.aux.Cursor.Start(req.SessionID, user, req.Request)
	out := toConversationJSON(ctx)

	if hint := ctx.Requirements.SourceHint; hint != "" {
		if creds, err := h.vault.List(r.Context(), user); err == nil {
			if match, score := conversation.MatchCredential(hint, creds); match != nil {
				out.CredentialMatch = &credentialSuggestion{
					Credential: toCredentialJSON(*match),
					Score:      score,
				}
				if hint := ctx.Requirements.TableHint; hint != "" {
					out.TableMatches = h.suggestTables(r, match.ID, hint)
				}
			}
		}
	}

	jsonResponse(w, http.StatusOK, out)
}

func (h *handler) suggestTables(r *http.Request, credentialID uuid.UUID, hint string) []tableSuggestion {
	tables, err := h.store.ListDiscoveredTables(r.Context(), credentialID)
	if err != nil {
		return nil
	}
	match := conversation.MatchTable(hint, tables)
	if match == nil {
		return nil
	}
	return []tableSuggestion{{
		Table:     match.Table.QualifiedName(),
		Score:     match.Score,
		Suggested: match.Suggested,
	}}
}

func (h *handler) getConversation(w http.ResponseWriter, r *http.Request) {
	session := mux.Vars(r)["session"]
	ctx, ok := h.aux.Cursor.Get(session, userID(r))
	if !ok {
		jsonError(w, http.StatusNotFound, "no workflow context for session "+session)
		return
	}
	jsonResponse(w, http.StatusOK, toConversationJSON(ctx))
}

type conversationAdvanceRequest struct {
	Step         conversation.Step    `json:"step"`
	CredentialID *uuid.UUID           `json:"credential_id,omitempty"`
	Tables       []string             `json:"tables,omitempty"`
	Filter       *models.FilterConfig `json:"filter,omitempty"`
	Destination  map[string]any       `json:"destination,omitempty"`
	PipelineID   *uuid.UUID           `json:"pipeline_id,omitempty"`
}

// advanceConversation moves the workflow cursor and records the choices
// made at the step just finished. A pipeline id completes and evicts the
// session.
func (h *handler) advanceConversation(w http.ResponseWriter, r *http.Request) {
	session := mux.Vars(r)["session"]
	req, err := parseRequest[conversationAdvanceRequest](w, r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	user := userID(r)

	if req.PipelineID != nil {
		ctx, ok := h.aux.Cursor.Get(session, user)
		if !ok {
			jsonError(w, http.StatusNotFound, "no workflow context for session "+session)
			return
		}
		h.aux.Cursor.Complete(session, user, *req.PipelineID)
		out := toConversationJSON(ctx)
		out.PipelineID = req.PipelineID
		jsonResponse(w, http.StatusOK, out)
		return
	}

	ctx, err := h.aux.Cursor.Advance(session, user, req.Step)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			jsonError(w, http.StatusNotFound, err.Error())
		} else {
			jsonError(w, http.StatusUnprocessableEntity, err.Error())
		}
		return
	}

	if req.CredentialID != nil {
		ctx.CredentialID = req.CredentialID
	}
	if len(req.Tables) > 0 {
		ctx.Tables = req.Tables
	}
	if req.Filter != nil {
		ctx.Filter = req.Filter
	}
	if req.Destination != nil {
		ctx.Destination = req.Destination
	}

	jsonResponse(w, http.StatusOK, toConversationJSON(ctx))
}

func (h *handler) cancelConversation(w http.ResponseWriter, r *http.Request) {
	session := mux.Vars(r)["session"]
	h.aux.Cursor.Cancel(session, userID(r))
	w.WriteHeader(http.StatusNoContent)
}
