package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"finetune-orchestrator/core/models"
)

const defaultHistoryLimit = 100

// HistoryStore reads persisted job snapshots. Satisfied by the repository.
type HistoryStore interface {
	GetJob(id string) (models.Job, error)
	ListJobs(state *models.JobState, limit int) ([]models.Job, error)
	GetJobEvents(jobID string, limit int) ([]models.JobEvent, error)
}

// HistoryHandler serves jobs that outlived the process from the snapshot
// store. The orchestrator's in-process records stay authoritative for
// running jobs; history is the read path for everything before the last
// restart.
type HistoryHandler struct {
	store HistoryStore
}

// NewHistoryHandler creates a new history handler.
func NewHistoryHandler(store HistoryStore) *HistoryHandler {
	return &HistoryHandler{store: store}
}

func historyLimit(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultHistoryLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, false
	}
	return limit, true
}

// ListJobs handles GET /v1/history. The state query parameter filters by
// job state; limit caps the result count, newest first.
func (h *HistoryHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit, ok := historyLimit(r)
	if !ok {
		http.Error(w, "invalid limit parameter", http.StatusBadRequest)
		return
	}

	var state *models.JobState
	if raw := r.URL.Query().Get("state"); raw != "" {
		s := models.JobState(raw)
		state = &s
	}

	jobs, err := h.store.ListJobs(state, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if jobs == nil {
		jobs = []models.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

// GetJob handles GET /v1/history/{id}.
func (h *HistoryHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.store.GetJob(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// GetJobEvents handles GET /v1/history/{id}/events.
func (h *HistoryHandler) GetJobEvents(w http.ResponseWriter, r *http.Request) {
	limit, ok := historyLimit(r)
	if !ok {
		http.Error(w, "invalid limit parameter", http.StatusBadRequest)
		return
	}

	events, err := h.store.GetJobEvents(mux.Vars(r)["id"], limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []models.JobEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}
