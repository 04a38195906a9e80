package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/dataflowhq/control-plane/internal/joinplan"
	"github.com/dataflowhq/control-plane/internal/models"
)

func jsonResponse(w http.ResponseWriter, code int, v any) {
	encoded, err := json.Marshal(v)
	if err != nil {
		// Let the recovery middleware handle it.
		panic(fmt.Errorf("marshal json response: %w", err))
	}

	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(encoded)
}

type errorResponse struct {
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func jsonError(w http.ResponseWriter, code int, message string) {
	jsonResponse(w, code, &errorResponse{Message: message})
}

// respondError maps the error taxonomy to HTTP statuses: caller-fixable
// input to 4xx, external system failures to 502, everything else 500.
func (h *handler) respondError(w http.ResponseWriter, err error) {
	var transitionErr *models.InvalidTransitionError
	var validationErr *joinplan.ValidationError

	switch {
	case errors.Is(err, models.ErrNotFound):
		jsonError(w, http.StatusNotFound, err.Error())

	case errors.As(err, &transitionErr):
		jsonResponse(w, http.StatusConflict, &errorResponse{
			Message: transitionErr.Error(),
			Details: map[string]any{
				"current_status":   transitionErr.Current,
				"requested_status": transitionErr.Requested,
			},
		})

	case errors.As(err, &validationErr):
		jsonResponse(w, http.StatusUnprocessableEntity, &errorResponse{
			Message: validationErr.Error(),
		})

	case errors.Is(err, models.ErrUnknownModule),
		errors.Is(err, models.ErrBadTemplate),
		errors.Is(err, models.ErrInvalidCreds),
		errors.Is(err, models.ErrNoSuitableColumn),
		errors.Is(err, models.ErrIncompatibleSchema):
		jsonError(w, http.StatusUnprocessableEntity, err.Error())

	case errors.Is(err, models.ErrConnectFailed),
		errors.Is(err, models.ErrQueryFailed),
		errors.Is(err, models.ErrSinkUnavailable),
		errors.Is(err, models.ErrExternalSystem):
		jsonError(w, http.StatusBadGateway, err.Error())

	default:
		h.log.Error("internal error", "error", err)
		jsonError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	}
}
