package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"finetune-orchestrator/core/artifact"
	"finetune-orchestrator/core/orchestrator"
	"finetune-orchestrator/core/spec"
)

// JobHandler handles job-related HTTP requests.
type JobHandler struct {
	orchestrator *orchestrator.Orchestrator
	retriever    *artifact.Retriever
}

// NewJobHandler creates a new job handler.
func NewJobHandler(orch *orchestrator.Orchestrator, retriever *artifact.Retriever) *JobHandler {
	return &JobHandler{orchestrator: orch, retriever: retriever}
}

// SubmitJobRequest carries the YAML training spec.
type SubmitJobRequest struct {
	SpecYAML string `json:"spec_yaml"`
}

// SubmitJobResponse is returned after submitting a job.
type SubmitJobResponse struct {
	ID        string    `json:"id"`
	Platform  string    `json:"platform"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

// SubmitJob handles POST /v1/jobs.
func (h *JobHandler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	cfg, err := spec.Parse(req.SpecYAML)
	if err != nil {
		writeError(w, err)
		return
	}

	job, err := h.orchestrator.Submit(r.Context(), cfg)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, SubmitJobResponse{
		ID:        job.ID,
		Platform:  job.PlatformName,
		State:     string(job.State),
		CreatedAt: job.CreatedAt,
	})
}

// GetJob handles GET /v1/jobs/{id}.
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.orchestrator.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /v1/jobs.
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.orchestrator.List())
}

// CancelJob handles POST /v1/jobs/{id}/cancel.
func (h *JobHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	state, err := h.orchestrator.Cancel(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"state": string(state)})
}

// GetJobEvents handles GET /v1/jobs/{id}/events.
func (h *JobHandler) GetJobEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.orchestrator.Events(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// StreamLogs handles GET /v1/jobs/{id}/logs. Entries are written as
// newline-delimited JSON until the job reaches a terminal state or the
// client goes away. The after query parameter resumes from a cursor.
func (h *JobHandler) StreamLogs(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]
	var after uint64
	if raw := r.URL.Query().Get("after"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid after cursor", http.StatusBadRequest)
			return
		}
		after = parsed
	}

	entries, err := h.orchestrator.SubscribeLogs(r.Context(), jobID, after)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	encoder := json.NewEncoder(w)

	for entry := range entries {
		if err := encoder.Encode(entry); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// FetchArtifact handles GET /v1/jobs/{id}/artifact. The adapter is streamed
// as a single continuous transfer; failures mid-transfer abort the response
// rather than silently truncating it.
func (h *JobHandler) FetchArtifact(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]
	stream, err := h.retriever.Fetch(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="adapter.safetensors"`)
	if _, err := io.Copy(w, stream); err != nil {
		// Headers are already sent; closing the connection mid-body is how
		// the failure reaches the client.
		if conn, ok := w.(http.Hijacker); ok {
			if raw, _, hijackErr := conn.Hijack(); hijackErr == nil {
				raw.Close()
			}
		}
	}
}
