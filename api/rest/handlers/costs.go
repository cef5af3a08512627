package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"finetune-orchestrator/core/costing"
	"finetune-orchestrator/core/orchestrator"
)

// CostHandler handles cost estimate HTTP requests.
type CostHandler struct {
	orchestrator *orchestrator.Orchestrator
	estimator    *costing.Estimator
}

// NewCostHandler creates a new cost handler.
func NewCostHandler(orch *orchestrator.Orchestrator, estimator *costing.Estimator) *CostHandler {
	return &CostHandler{orchestrator: orch, estimator: estimator}
}

// GetJobCost handles GET /v1/jobs/{id}/cost. The figure is the spend the job
// has accrued over its run window at current catalog prices.
func (h *CostHandler) GetJobCost(w http.ResponseWriter, r *http.Request) {
	job, err := h.orchestrator.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	rep, err := h.estimator.RunningCost(r.Context(), job)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// EstimateCost handles GET /v1/platforms/{name}/resources/{resource}/estimate.
// The hours query parameter sets the projected run length, default 1.
func (h *CostHandler) EstimateCost(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	hours := 1.0
	if raw := r.URL.Query().Get("hours"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid hours parameter", http.StatusBadRequest)
			return
		}
		hours = parsed
	}

	rep, err := h.estimator.Estimate(r.Context(), vars["name"], vars["resource"], hours)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
