package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"finetune-orchestrator/core/connection"
	"finetune-orchestrator/core/connector"
	"finetune-orchestrator/core/fterr"
	"finetune-orchestrator/core/models"
)

// PlatformHandler handles platform and connection HTTP requests.
type PlatformHandler struct {
	registry *connector.Registry
	manager  *connection.Manager
}

// NewPlatformHandler creates a new platform handler.
func NewPlatformHandler(registry *connector.Registry, manager *connection.Manager) *PlatformHandler {
	return &PlatformHandler{registry: registry, manager: manager}
}

// PlatformResponse pairs static platform metadata with live connection
// state.
type PlatformResponse struct {
	Name         string              `json:"name"`
	DisplayName  string              `json:"display_name"`
	Capabilities []models.Capability `json:"capabilities"`
	CredFields   []string            `json:"required_credential_fields"`
	Status       string              `json:"status"`
	LastError    string              `json:"last_error,omitempty"`
}

// ListPlatforms handles GET /v1/platforms.
func (h *PlatformHandler) ListPlatforms(w http.ResponseWriter, r *http.Request) {
	platforms := h.registry.Platforms()
	out := make([]PlatformResponse, 0, len(platforms))
	for _, p := range platforms {
		resp := PlatformResponse{
			Name:         p.Name,
			DisplayName:  p.DisplayName,
			Capabilities: p.Capabilities,
			CredFields:   p.RequiredCredFields,
			Status:       string(models.ConnectionDisconnected),
		}
		if conn, ok := h.manager.Status(p.Name); ok {
			resp.Status = string(conn.Status)
			resp.LastError = conn.LastError
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, out)
}

// ConnectRequest carries credentials for a connect attempt.
type ConnectRequest struct {
	Credentials map[string]string `json:"credentials"`
}

// Connect handles POST /v1/platforms/{name}/connect.
func (h *PlatformHandler) Connect(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var req ConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	conn, err := h.manager.Connect(r.Context(), name, req.Credentials)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

// Reconnect handles POST /v1/platforms/{name}/reconnect. The session is
// rebuilt from stored credentials; no body is required.
func (h *PlatformHandler) Reconnect(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	conn, err := h.manager.Reconnect(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

// Verify handles POST /v1/platforms/{name}/verify.
func (h *PlatformHandler) Verify(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	ok, err := h.manager.Verify(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": ok})
}

// Disconnect handles POST /v1/platforms/{name}/disconnect.
func (h *PlatformHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := h.manager.Disconnect(r.Context(), name); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps taxonomy errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var (
		validationErr *fterr.ValidationError
		unknownErr    *fterr.UnknownPlatformError
		authErr       *fterr.AuthenticationError
		notConnErr    *fterr.NotConnectedError
		notFoundErr   *fterr.NotFoundError
		notReadyErr   *fterr.NotReadyError
		connErr       *fterr.ConnectionError
	)
	switch {
	case errors.As(err, &validationErr):
		status = http.StatusBadRequest
	case errors.As(err, &unknownErr), errors.As(err, &notFoundErr):
		status = http.StatusNotFound
	case errors.As(err, &authErr):
		status = http.StatusUnauthorized
	case errors.As(err, &notConnErr), errors.As(err, &notReadyErr):
		status = http.StatusConflict
	case errors.As(err, &connErr):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
