// Package together implements the connector for the Together AI fine-tuning
// service. All operations go through its REST API. Together has no spot
// market and no duplex log endpoint, so pricing reports no spot price and
// logs are always polled.
package together

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"finetune-orchestrator/core/fterr"
	"finetune-orchestrator/core/models"
)

const platformName = "together"

// Connector talks to the Together AI REST API. Construction performs no
// network I/O.
type Connector struct {
	baseURL string
	http    *http.Client

	mu        sync.Mutex
	apiKey    string
	connected bool
}

// Option overrides connector defaults.
type Option func(*Connector)

// WithBaseURL points the connector at a different API host, used by tests.
func WithBaseURL(baseURL string) Option {
	return func(c *Connector) { c.baseURL = baseURL }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Connector) { c.http = client }
}

// New creates a Together connector.
func New(opts ...Option) *Connector {
	c := &Connector{
		baseURL: "https://api.together.xyz/v1",
		http:    &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Platform returns the static descriptor. Callable before Connect.
func (c *Connector) Platform() models.Platform {
	return models.Platform{
		Name:               platformName,
		DisplayName:        "Together AI",
		Capabilities:       []models.Capability{models.CapabilityTraining, models.CapabilityInference, models.CapabilityRegistry},
		RequiredCredFields: []string{"api_key"},
	}
}

// Connect verifies the api key against the models endpoint.
func (c *Connector) Connect(ctx context.Context, creds models.Credentials) error {
	key := creds["api_key"]
	var out []struct {
		ID string `json:"id"`
	}
	if err := c.get(ctx, key, "/models", &out); err != nil {
		return err
	}

	c.mu.Lock()
	c.apiKey = key
	c.connected = true
	c.mu.Unlock()
	return nil
}

// Disconnect clears the stored key; the API itself is stateless.
func (c *Connector) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	c.apiKey = ""
	c.connected = false
	c.mu.Unlock()
	return nil
}

func (c *Connector) key() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return "", &fterr.NotConnectedError{PlatformName: platformName}
	}
	return c.apiKey, nil
}

type hardwareOption struct {
	Name         string  `json:"name"`
	GPUType      string  `json:"gpu_type"`
	PricePerHour float64 `json:"price_per_hour"`
	Available    bool    `json:"available"`
}

// ListResources returns the fine-tuning hardware options. Together sells no
// interruptible capacity, so descriptors carry no spot price.
func (c *Connector) ListResources(ctx context.Context) ([]models.ResourceDescriptor, error) {
	key, err := c.key()
	if err != nil {
		return nil, err
	}
	var out []hardwareOption
	if err := c.get(ctx, key, "/hardware", &out); err != nil {
		return nil, err
	}

	resources := make([]models.ResourceDescriptor, 0, len(out))
	for _, h := range out {
		resources = append(resources, models.ResourceDescriptor{
			Name:          h.Name,
			GPUType:       h.GPUType,
			OnDemandPrice: h.PricePerHour,
			SpotPrice:     nil, // no spot market
			Available:     h.Available,
		})
	}
	return resources, nil
}

// GetPricing returns pricing for one hardware option, with SpotHourly nil.
func (c *Connector) GetPricing(ctx context.Context, resourceName string) (models.Pricing, error) {
	resources, err := c.ListResources(ctx)
	if err != nil {
		return models.Pricing{}, err
	}
	for _, r := range resources {
		if r.Name == resourceName {
			return models.Pricing{
				ResourceName:   resourceName,
				Currency:       "USD",
				OnDemandHourly: r.OnDemandPrice,
				SpotHourly:     nil,
				FetchedAt:      time.Now(),
			}, nil
		}
	}
	return models.Pricing{}, &fterr.NotFoundError{Kind: "resource", ID: resourceName}
}

type fineTuneRequest struct {
	Model         string   `json:"model"`
	TrainingFile  string   `json:"training_file"`
	Hardware      string   `json:"hardware"`
	Suffix        string   `json:"suffix,omitempty"`
	LoraRank      int      `json:"lora_r"`
	LoraAlpha     float64  `json:"lora_alpha"`
	LoraDropout   float64  `json:"lora_dropout"`
	TargetModules []string `json:"lora_target_modules,omitempty"`
	Quantization  string   `json:"quantization,omitempty"`
}

// SubmitJob creates a fine-tuning run.
func (c *Connector) SubmitJob(ctx context.Context, cfg models.TrainingConfig) (string, error) {
	key, err := c.key()
	if err != nil {
		return "", err
	}

	body := fineTuneRequest{
		Model:         cfg.BaseModel,
		TrainingFile:  cfg.DatasetURI,
		Hardware:      cfg.ResourceName,
		Suffix:        cfg.RunName,
		LoraRank:      cfg.Rank,
		LoraAlpha:     cfg.ScalingFactor,
		LoraDropout:   cfg.Dropout,
		TargetModules: cfg.TargetModules,
	}
	if cfg.Quantization != "none" {
		body.Quantization = cfg.Quantization
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := c.post(ctx, key, "/fine-tunes", body, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", &fterr.ProvisioningError{PlatformName: platformName, Reason: "provider returned no job id"}
	}
	return out.ID, nil
}

// GetJobStatus maps Together's run status onto the job state machine.
func (c *Connector) GetJobStatus(ctx context.Context, jobID string) (models.JobState, error) {
	key, err := c.key()
	if err != nil {
		return "", err
	}
	var out struct {
		Status string `json:"status"`
	}
	if err := c.get(ctx, key, "/fine-tunes/"+jobID, &out); err != nil {
		return "", err
	}

	switch strings.ToLower(out.Status) {
	case "pending", "queued":
		return models.JobStatePending, nil
	case "provisioning":
		return models.JobStateProvisioning, nil
	case "running", "compressing", "uploading":
		return models.JobStateRunning, nil
	case "completed":
		return models.JobStateCompleted, nil
	case "cancelled", "user_cancelled":
		return models.JobStateCancelled, nil
	case "error", "failed":
		return models.JobStateFailed, nil
	default:
		return "", fmt.Errorf("together reported unknown status %q for job %s", out.Status, jobID)
	}
}

// CancelJob asks the provider to stop a run.
func (c *Connector) CancelJob(ctx context.Context, jobID string) error {
	key, err := c.key()
	if err != nil {
		return err
	}
	return c.post(ctx, key, "/fine-tunes/"+jobID+"/cancel", nil, nil)
}

// ArtifactExists probes the download endpoint without transferring the
// body.
func (c *Connector) ArtifactExists(ctx context.Context, jobID string) (bool, error) {
	key, err := c.key()
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+"/fine-tunes/"+jobID+"/download", nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := c.http.Do(req)
	if err != nil {
		return false, &fterr.ConnectionError{PlatformName: platformName, Err: err}
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

// FetchArtifact downloads the adapter as one continuous transfer.
func (c *Connector) FetchArtifact(ctx context.Context, jobID string) (io.ReadCloser, error) {
	key, err := c.key()
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/fine-tunes/"+jobID+"/download", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &fterr.ConnectionError{PlatformName: platformName, Err: err}
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return resp.Body, nil
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, &fterr.NotReadyError{JobID: jobID, State: "artifact not available"}
	default:
		resp.Body.Close()
		return nil, &fterr.ConnectionError{PlatformName: platformName, Err: fmt.Errorf("download returned %s", resp.Status)}
	}
}

type fineTuneEvent struct {
	Cursor    uint64 `json:"cursor"`
	CreatedAt string `json:"created_at"`
	Message   string `json:"message"`
}

// PollLogs fetches fine-tune events after a cursor. Together's only log
// transport.
func (c *Connector) PollLogs(ctx context.Context, jobID string, afterCursor uint64) ([]models.LogEntry, error) {
	key, err := c.key()
	if err != nil {
		return nil, err
	}
	var out struct {
		Data []fineTuneEvent `json:"data"`
	}
	path := fmt.Sprintf("/fine-tunes/%s/events?after=%d", jobID, afterCursor)
	if err := c.get(ctx, key, path, &out); err != nil {
		return nil, err
	}

	entries := make([]models.LogEntry, 0, len(out.Data))
	for _, e := range out.Data {
		ts, err := time.Parse(time.RFC3339, e.CreatedAt)
		if err != nil {
			ts = time.Now()
		}
		entries = append(entries, models.LogEntry{JobID: jobID, Cursor: e.Cursor, Timestamp: ts, Text: e.Message})
	}
	return entries, nil
}

// ListEndpoints satisfies the inference capability.
func (c *Connector) ListEndpoints(ctx context.Context) ([]string, error) {
	key, err := c.key()
	if err != nil {
		return nil, err
	}
	var out []struct {
		ID string `json:"id"`
	}
	if err := c.get(ctx, key, "/endpoints", &out); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(out))
	for _, e := range out {
		names = append(names, e.ID)
	}
	return names, nil
}

// ListModels satisfies the registry capability.
func (c *Connector) ListModels(ctx context.Context) ([]string, error) {
	key, err := c.key()
	if err != nil {
		return nil, err
	}
	var out []struct {
		ID string `json:"id"`
	}
	if err := c.get(ctx, key, "/models", &out); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(out))
	for _, m := range out {
		names = append(names, m.ID)
	}
	return names, nil
}

func (c *Connector) get(ctx context.Context, key, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, key, out)
}

func (c *Connector) post(ctx context.Context, key, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, key, out)
}

// do executes a request and classifies failures into the error taxonomy.
func (c *Connector) do(req *http.Request, key string, out interface{}) error {
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := c.http.Do(req)
	if err != nil {
		return &fterr.ConnectionError{PlatformName: platformName, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &fterr.AuthenticationError{PlatformName: platformName, Reason: "api key rejected"}
	case resp.StatusCode == http.StatusNotFound:
		return &fterr.NotFoundError{Kind: "resource", ID: req.URL.Path}
	case resp.StatusCode == http.StatusUnprocessableEntity || resp.StatusCode == http.StatusBadRequest:
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &fterr.ValidationError{Field: "request", Reason: string(payload)}
	case resp.StatusCode >= 500:
		return &fterr.ConnectionError{PlatformName: platformName, Err: fmt.Errorf("server returned %s", resp.Status)}
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated:
		return fmt.Errorf("together api: unexpected status %s", resp.Status)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &fterr.ConnectionError{PlatformName: platformName, Err: err}
		}
	}
	return nil
}
