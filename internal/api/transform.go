package api

import (
	"net/http"

	"github.com/dataflowhq/control-plane/internal/anomaly"
	"github.com/dataflowhq/control-plane/internal/cost"
)

type transformPreviewRequest struct {
	Original    []map[string]any      `json:"original"`
	Transformed []map[string]any      `json:"transformed"`
	Kind        anomaly.TransformKind `json:"kind"`
	Config      map[string]any        `json:"config,omitempty"`
}

// previewTransform judges a candidate transformation over sampled rows
// before anything is provisioned.
func (h *handler) previewTransform(w http.ResponseWriter, r *http.Request) {
	req, err := parseRequest[transformPreviewRequest](w, r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Kind == "" {
		req.Kind = anomaly.TransformFilter
	}

	verdict := anomaly.Analyze(req.Original, req.Transformed, req.Kind, req.Config)
	jsonResponse(w, http.StatusOK, verdict)
}

func (h *handler) estimateCost(w http.ResponseWriter, r *http.Request) {
	assumptions, err := parseRequest[cost.Assumptions](w, r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, h.aux.Estimator.Estimate(*assumptions))
}

func (h *handler) compareCost(w http.ResponseWriter, r *http.Request) {
	assumptions, err := parseRequest[cost.Assumptions](w, r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, h.aux.Estimator.CompareWithFilter(*assumptions))
}
