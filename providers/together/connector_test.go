package together_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"finetune-orchestrator/core/connector"
	"finetune-orchestrator/core/fterr"
	"finetune-orchestrator/core/models"
	"finetune-orchestrator/providers/together"
)

func newFakeAPI(t *testing.T) (*httptest.Server, map[string]string) {
	t.Helper()
	jobStatus := map[string]string{}

	mux := http.NewServeMux()
	mux.HandleFunc("/models", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode([]map[string]string{{"id": "meta-llama/Llama-3-8B"}})
	})
	mux.HandleFunc("/hardware", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]interface{}{
			{"name": "a100-80gb", "gpu_type": "A100 80GB", "price_per_hour": 2.40, "available": true},
			{"name": "h100-80gb", "gpu_type": "H100 80GB", "price_per_hour": 4.50, "available": false},
		})
	})
	mux.HandleFunc("/fine-tunes", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		json.NewDecoder(r.Body).Decode(&req)
		if req["model"] == "" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			fmt.Fprint(w, `{"error": "model is required"}`)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "ft-123"})
	})
	mux.HandleFunc("/fine-tunes/ft-123", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": jobStatus["ft-123"]})
	})
	mux.HandleFunc("/fine-tunes/ft-123/events", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"cursor": 1, "created_at": "2026-01-01T00:00:01Z", "message": "queued"},
				{"cursor": 2, "created_at": "2026-01-01T00:00:02Z", "message": "training"},
			},
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, jobStatus
}

func connected(t *testing.T, srv *httptest.Server) *together.Connector {
	t.Helper()
	c := together.New(together.WithBaseURL(srv.URL))
	if err := c.Connect(context.Background(), models.Credentials{"api_key": "good-key"}); err != nil {
		t.Fatal(err)
	}
	return c
}

func TestConnector_ConnectBadKey(t *testing.T) {
	srv, _ := newFakeAPI(t)
	c := together.New(together.WithBaseURL(srv.URL))

	err := c.Connect(context.Background(), models.Credentials{"api_key": "wrong"})
	var auth *fterr.AuthenticationError
	if !errors.As(err, &auth) {
		t.Fatalf("expected AuthenticationError, got %v", err)
	}
}

func TestConnector_NoSpotMarket(t *testing.T) {
	srv, _ := newFakeAPI(t)
	c := connected(t, srv)

	resources, err := c.ListResources(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(resources) != 2 {
		t.Fatalf("expected 2 resources, got %d", len(resources))
	}
	for _, r := range resources {
		if r.SpotPrice != nil {
			t.Errorf("resource %s: spot price must be nil, got %v", r.Name, *r.SpotPrice)
		}
	}

	pricing, err := c.GetPricing(context.Background(), "a100-80gb")
	if err != nil {
		t.Fatal(err)
	}
	if pricing.SpotHourly != nil {
		t.Error("SpotHourly must stay nil for a provider without a spot market")
	}
	if pricing.OnDemandHourly != 2.40 {
		t.Errorf("on-demand: got %v", pricing.OnDemandHourly)
	}
}

func TestConnector_SubmitAndStatus(t *testing.T) {
	srv, jobStatus := newFakeAPI(t)
	c := connected(t, srv)

	cfg := models.TrainingConfig{
		BaseModel:    "meta-llama/Llama-3-8B",
		Algorithm:    "lora",
		Rank:         8,
		DatasetURI:   "file-abc",
		ResourceName: "a100-80gb",
		Quantization: "none",
	}
	jobID, err := c.SubmitJob(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if jobID != "ft-123" {
		t.Errorf("job id: got %q", jobID)
	}

	cases := map[string]models.JobState{
		"pending":        models.JobStatePending,
		"queued":         models.JobStatePending,
		"running":        models.JobStateRunning,
		"compressing":    models.JobStateRunning,
		"uploading":      models.JobStateRunning,
		"completed":      models.JobStateCompleted,
		"user_cancelled": models.JobStateCancelled,
		"error":          models.JobStateFailed,
	}
	for remote, want := range cases {
		jobStatus["ft-123"] = remote
		got, err := c.GetJobStatus(context.Background(), "ft-123")
		if err != nil {
			t.Fatalf("%s: %v", remote, err)
		}
		if got != want {
			t.Errorf("%s: got %s, want %s", remote, got, want)
		}
	}
}

func TestConnector_PollLogs(t *testing.T) {
	srv, _ := newFakeAPI(t)
	c := connected(t, srv)

	entries, err := c.PollLogs(context.Background(), "ft-123", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Cursor != 1 || entries[1].Cursor != 2 {
		t.Errorf("cursors: got %d, %d", entries[0].Cursor, entries[1].Cursor)
	}
	if entries[1].Text != "training" {
		t.Errorf("text: got %q", entries[1].Text)
	}
}

func TestConnector_NoDuplexLogEndpoint(t *testing.T) {
	// Together's API has no streaming log endpoint, so the connector must not
	// advertise one; the streaming supervisor keys its transport choice off
	// this assertion.
	var c connector.Connector = together.New()
	if _, ok := c.(connector.LogStreamer); ok {
		t.Error("together connector must not implement LogStreamer")
	}
}

func TestConnector_CapabilityInterfaces(t *testing.T) {
	c := together.New()
	reg, err := connector.NewRegistry(c)
	if err != nil {
		t.Fatalf("registry must accept the together connector: %v", err)
	}
	platforms := reg.Platforms()
	if len(platforms) != 1 || platforms[0].Name != "together" {
		t.Fatalf("platforms: got %+v", platforms)
	}
}
