package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"finetune-orchestrator/core/catalog"
)

// ResourceHandler handles resource and pricing HTTP requests.
type ResourceHandler struct {
	catalog *catalog.Catalog
}

// NewResourceHandler creates a new resource handler.
func NewResourceHandler(cat *catalog.Catalog) *ResourceHandler {
	return &ResourceHandler{catalog: cat}
}

// ListResources handles GET /v1/platforms/{name}/resources. Results are
// fetched live from the provider on every call.
func (h *ResourceHandler) ListResources(w http.ResponseWriter, r *http.Request) {
	resources, err := h.catalog.ListResources(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resources)
}

// GetPricing handles GET /v1/platforms/{name}/resources/{resource}/pricing.
func (h *ResourceHandler) GetPricing(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	pricing, err := h.catalog.GetPricing(r.Context(), vars["name"], vars["resource"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pricing)
}
