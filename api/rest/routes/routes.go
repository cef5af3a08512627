package routes

import (
	"github.com/gorilla/mux"

	"finetune-orchestrator/api/rest/handlers"
	"finetune-orchestrator/core/artifact"
	"finetune-orchestrator/core/catalog"
	"finetune-orchestrator/core/connection"
	"finetune-orchestrator/core/connector"
	"finetune-orchestrator/core/costing"
	"finetune-orchestrator/core/orchestrator"
)

// SetupRoutes configures all API routes.
func SetupRoutes(
	r *mux.Router,
	registry *connector.Registry,
	manager *connection.Manager,
	orch *orchestrator.Orchestrator,
	cat *catalog.Catalog,
	retriever *artifact.Retriever,
	estimator *costing.Estimator,
	history handlers.HistoryStore,
) {
	platformHandler := handlers.NewPlatformHandler(registry, manager)
	jobHandler := handlers.NewJobHandler(orch, retriever)
	resourceHandler := handlers.NewResourceHandler(cat)
	costHandler := handlers.NewCostHandler(orch, estimator)

	api := r.PathPrefix("/v1").Subrouter()

	// Platform endpoints
	api.HandleFunc("/platforms", platformHandler.ListPlatforms).Methods("GET")
	api.HandleFunc("/platforms/{name}/connect", platformHandler.Connect).Methods("POST")
	api.HandleFunc("/platforms/{name}/reconnect", platformHandler.Reconnect).Methods("POST")
	api.HandleFunc("/platforms/{name}/verify", platformHandler.Verify).Methods("POST")
	api.HandleFunc("/platforms/{name}/disconnect", platformHandler.Disconnect).Methods("POST")

	// Resource endpoints
	api.HandleFunc("/platforms/{name}/resources", resourceHandler.ListResources).Methods("GET")
	api.HandleFunc("/platforms/{name}/resources/{resource}/pricing", resourceHandler.GetPricing).Methods("GET")
	api.HandleFunc("/platforms/{name}/resources/{resource}/estimate", costHandler.EstimateCost).Methods("GET")

	// Job endpoints
	api.HandleFunc("/jobs", jobHandler.SubmitJob).Methods("POST")
	api.HandleFunc("/jobs", jobHandler.ListJobs).Methods("GET")
	api.HandleFunc("/jobs/{id}", jobHandler.GetJob).Methods("GET")
	api.HandleFunc("/jobs/{id}/cancel", jobHandler.CancelJob).Methods("POST")
	api.HandleFunc("/jobs/{id}/events", jobHandler.GetJobEvents).Methods("GET")
	api.HandleFunc("/jobs/{id}/logs", jobHandler.StreamLogs).Methods("GET")
	api.HandleFunc("/jobs/{id}/artifact", jobHandler.FetchArtifact).Methods("GET")
	api.HandleFunc("/jobs/{id}/cost", costHandler.GetJobCost).Methods("GET")

	// History endpoints, present only when a snapshot store is configured.
	if history != nil {
		historyHandler := handlers.NewHistoryHandler(history)
		api.HandleFunc("/history", historyHandler.ListJobs).Methods("GET")
		api.HandleFunc("/history/{id}", historyHandler.GetJob).Methods("GET")
		api.HandleFunc("/history/{id}/events", historyHandler.GetJobEvents).Methods("GET")
	}
}
