package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"finetune-orchestrator/api/rest/handlers"
	"finetune-orchestrator/api/rest/routes"
	"finetune-orchestrator/config"
	"finetune-orchestrator/core/artifact"
	"finetune-orchestrator/core/catalog"
	"finetune-orchestrator/core/connection"
	"finetune-orchestrator/core/connector"
	"finetune-orchestrator/core/costing"
	"finetune-orchestrator/core/logstream"
	"finetune-orchestrator/core/orchestrator"
	"finetune-orchestrator/core/repository"
	"finetune-orchestrator/providers/awscloud"
	"finetune-orchestrator/providers/runpod"
	"finetune-orchestrator/providers/together"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	// Optional Postgres snapshot store.
	var store orchestrator.Store
	var history handlers.HistoryStore
	if cfg.DatabaseURL != "" {
		db, err := repository.NewDB(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		if err := db.Migrate(); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		repo := repository.NewJobRepository(db)
		store = repo
		history = repo
		log.Info("Database connected successfully")
	} else {
		log.Info("No database configured, running without snapshot persistence")
	}

	// Register platform connectors.
	registry, err := connector.NewRegistry(
		runpod.New(),
		together.New(),
		awscloud.New(cfg.AWSRegion),
	)
	if err != nil {
		log.Fatalf("Failed to build connector registry: %v", err)
	}

	manager := connection.NewManager(registry, connection.NewMemoryCredentialStore(), cfg.CallTimeout, log)

	orch := orchestrator.New(manager, store, orchestrator.Options{
		PollInterval:        cfg.PollInterval,
		ProvisioningCeiling: cfg.ProvisioningCeiling,
		Stream: logstream.Options{
			PollInterval: cfg.LogPollInterval,
			RetryBackoff: cfg.StreamRetryBackoff,
		},
	}, log)

	cat := catalog.New(manager, log)
	estimator := costing.NewEstimator(cat, log)

	var retrieverOpts []artifact.RetrieverOption
	if cfg.ArtifactEndpoint != "" {
		objectStore, err := artifact.NewObjectStore(artifact.ObjectStoreConfig{
			Endpoint:  cfg.ArtifactEndpoint,
			AccessKey: cfg.ArtifactAccessKey,
			SecretKey: cfg.ArtifactSecretKey,
			Bucket:    cfg.ArtifactBucket,
			UseSSL:    cfg.ArtifactUseSSL,
		})
		if err != nil {
			log.Warnf("Artifact mirror unavailable: %v", err)
		} else {
			retrieverOpts = append(retrieverOpts, artifact.WithMirror(objectStore))
			log.WithField("endpoint", cfg.ArtifactEndpoint).Info("Artifact mirror configured")
		}
	}
	retriever := artifact.NewRetriever(manager, orch, log, retrieverOpts...)

	r := mux.NewRouter()
	routes.SetupRoutes(r, registry, manager, orch, cat, retriever, estimator, history)

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	go func() {
		log.Infof("Starting server on port %s", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	orch.Close()
	manager.DisconnectAll(context.Background())
	log.Info("Server exited")
}
