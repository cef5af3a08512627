// Package runpod implements the connector for the RunPod GPU cloud. Control
// operations go through RunPod's GraphQL API; logs stream over a persistent
// NDJSON connection with a REST polling fallback; artifacts download over
// plain HTTP.
package runpod

import (
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

const platformName = "runpod"

const defaultEndpoint = "https://api.runpod.io/graphql"

// Connector talks to RunPod. Construction performs no network I/O.
type Connector struct {
	endpoint string // GraphQL endpoint
	restBase string // REST base for logs and artifact download
	http     *http.Client

	mu        sync.Mutex
	gql       *graphqlClient // set on Connect
	connected bool
}

// Option overrides connector defaults, used by tests to point at a local
// server.
type Option func(*Connector)

// WithEndpoints overrides the GraphQL endpoint and REST base URL.
func WithEndpoints(graphqlEndpoint, restBase string) Option {
	return func(c *Connector) {
		c.endpoint = graphqlEndpoint
		c.restBase = restBase
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Connector) {
		c.http = client
	}
}

// New creates a RunPod connector.
func New(opts ...Option) *Connector {
	c := &Connector{
		endpoint: defaultEndpoint,
		restBase: "https://api.runpod.io/v2",
		http:     &http.Client{},
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
		DisplayName:        "RunPod",
		Capabilities:       []models.Capability{models.CapabilityTraining, models.CapabilityInference},
		RequiredCredFields: []string{"api_key"},
	}
}

// Connect verifies the api key with a lightweight identity query.
func (c *Connector) Connect(ctx context.Context, creds models.Credentials) error {
	gql := &graphqlClient{endpoint: c.endpoint, apiKey: creds["api_key"], http: c.http}

	var out struct {
		Myself struct {
			ID string `json:"id"`
		} `json:"myself"`
	}
	if err := gql.do(ctx, `query { myself { id } }`, nil, &out); err != nil {
		return err
	}
	if out.Myself.ID == "" {
		return &fterr.AuthenticationError{PlatformName: platformName, Reason: "identity query returned no account"}
	}

	c.mu.Lock()
	c.gql = gql
	c.connected = true
	c.mu.Unlock()
	return nil
}

// Disconnect drops the session. RunPod sessions are stateless, so this only
// clears the stored key.
func (c *Connector) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	c.gql = nil
	c.connected = false
	c.mu.Unlock()
	return nil
}

func (c *Connector) client() (*graphqlClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected || c.gql == nil {
		return nil, &fterr.NotConnectedError{PlatformName: platformName}
	}
	return c.gql, nil
}

type gpuType struct {
	ID             string   `json:"id"`
	DisplayName    string   `json:"displayName"`
	SecureCloud    bool     `json:"secureCloud"`
	CommunityPrice *float64 `json:"communityPrice"`
	SecurePrice    float64  `json:"securePrice"`
	Available      bool     `json:"available"`
}

const gpuTypesQuery = `query GpuTypes {
  gpuTypes {
    id
    displayName
    secureCloud
    communityPrice
    securePrice
    available
  }
}`

// ListResources queries available GPU types. The community (interruptible)
// price maps to the spot price; GPU types without a community market report
// no spot price at all.
func (c *Connector) ListResources(ctx context.Context) ([]models.ResourceDescriptor, error) {
	gql, err := c.client()
	if err != nil {
		return nil, err
	}

	var out struct {
		GpuTypes []gpuType `json:"gpuTypes"`
	}
	if err := gql.do(ctx, gpuTypesQuery, nil, &out); err != nil {
		return nil, err
	}

	resources := make([]models.ResourceDescriptor, 0, len(out.GpuTypes))
	for _, g := range out.GpuTypes {
		resources = append(resources, models.ResourceDescriptor{
			Name:          g.ID,
			GPUType:       g.DisplayName,
			OnDemandPrice: g.SecurePrice,
			SpotPrice:     g.CommunityPrice,
			Available:     g.Available,
		})
	}
	return resources, nil
}

// GetPricing returns pricing for one GPU type.
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
				SpotHourly:     r.SpotPrice,
				FetchedAt:      time.Now(),
			}, nil
		}
	}
	return models.Pricing{}, &fterr.NotFoundError{Kind: "resource", ID: resourceName}
}

const submitMutation = `mutation Submit($input: FineTuneInput!) {
  fineTuneCreate(input: $input) { id }
}`

// SubmitJob creates a fine-tune run and returns the provider-assigned id.
func (c *Connector) SubmitJob(ctx context.Context, cfg models.TrainingConfig) (string, error) {
	gql, err := c.client()
	if err != nil {
		return "", err
	}

	input := map[string]interface{}{
		"baseModel":     cfg.BaseModel,
		"modelSource":   cfg.ModelSource,
		"algorithm":     cfg.Algorithm,
		"rank":          cfg.Rank,
		"scalingFactor": cfg.ScalingFactor,
		"dropout":       cfg.Dropout,
		"targetModules": cfg.TargetModules,
		"quantization":  cfg.Quantization,
		"datasetUrl":    cfg.DatasetURI,
		"gpuTypeId":     cfg.ResourceName,
		"name":          cfg.RunName,
	}

	var out struct {
		FineTuneCreate struct {
			ID string `json:"id"`
		} `json:"fineTuneCreate"`
	}
	if err := gql.do(ctx, submitMutation, map[string]interface{}{"input": input}, &out); err != nil {
		if strings.Contains(err.Error(), "no capacity") {
			return "", &fterr.ProvisioningError{PlatformName: platformName, Reason: err.Error()}
		}
		return "", err
	}
	if out.FineTuneCreate.ID == "" {
		return "", &fterr.ProvisioningError{PlatformName: platformName, Reason: "provider returned no job id"}
	}
	return out.FineTuneCreate.ID, nil
}

const statusQuery = `query Status($id: String!) {
  fineTune(id: $id) { id status }
}`

// GetJobStatus maps the provider's run status onto the job state machine.
func (c *Connector) GetJobStatus(ctx context.Context, jobID string) (models.JobState, error) {
	gql, err := c.client()
	if err != nil {
		return "", err
	}

	var out struct {
		FineTune *struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"fineTune"`
	}
	if err := gql.do(ctx, statusQuery, map[string]interface{}{"id": jobID}, &out); err != nil {
		return "", err
	}
	if out.FineTune == nil {
		return "", &fterr.NotFoundError{Kind: "job", ID: jobID}
	}

	switch strings.ToUpper(out.FineTune.Status) {
	case "QUEUED":
		return models.JobStatePending, nil
	case "PROVISIONING", "STARTING":
		return models.JobStateProvisioning, nil
	case "RUNNING":
		return models.JobStateRunning, nil
	case "COMPLETED":
		return models.JobStateCompleted, nil
	case "CANCELLED":
		return models.JobStateCancelled, nil
	case "FAILED", "TERMINATED":
		return models.JobStateFailed, nil
	default:
		return "", fmt.Errorf("runpod reported unknown status %q for job %s", out.FineTune.Status, jobID)
	}
}

const cancelMutation = `mutation Cancel($id: String!) {
  fineTuneCancel(id: $id) { id }
}`

// CancelJob asks the provider to stop a run. Cancelling an already-finished
// run is not an error.
func (c *Connector) CancelJob(ctx context.Context, jobID string) error {
	gql, err := c.client()
	if err != nil {
		return err
	}
	err = gql.do(ctx, cancelMutation, map[string]interface{}{"id": jobID}, nil)
	if err != nil && strings.Contains(err.Error(), "already finished") {
		return nil
	}
	return err
}

// ArtifactExists probes the artifact download endpoint without transferring
// the body.
func (c *Connector) ArtifactExists(ctx context.Context, jobID string) (bool, error) {
	gql, err := c.client()
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.artifactURL(jobID), nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+gql.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return false, &fterr.ConnectionError{PlatformName: platformName, Err: err}
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

// FetchArtifact downloads the adapter as one continuous transfer.
func (c *Connector) FetchArtifact(ctx context.Context, jobID string) (io.ReadCloser, error) {
	gql, err := c.client()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.artifactURL(jobID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+gql.apiKey)

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
		return nil, &fterr.ConnectionError{PlatformName: platformName, Err: fmt.Errorf("artifact download returned %s", resp.Status)}
	}
}

func (c *Connector) artifactURL(jobID string) string {
	return fmt.Sprintf("%s/fine-tunes/%s/artifact", c.restBase, jobID)
}

// ListEndpoints satisfies the inference capability.
func (c *Connector) ListEndpoints(ctx context.Context) ([]string, error) {
	gql, err := c.client()
	if err != nil {
		return nil, err
	}

	var out struct {
		Endpoints []struct {
			ID string `json:"id"`
		} `json:"endpoints"`
	}
	if err := gql.do(ctx, `query { endpoints { id } }`, nil, &out); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(out.Endpoints))
	for _, e := range out.Endpoints {
		names = append(names, e.ID)
	}
	return names, nil
}

type logEvent struct {
	Cursor    uint64 `json:"cursor"`
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
}

func (e logEvent) toEntry(jobID string) models.LogEntry {
	ts, err := time.Parse(time.RFC3339, e.Timestamp)
	if err != nil {
		ts = time.Now()
	}
	return models.LogEntry{JobID: jobID, Cursor: e.Cursor, Timestamp: ts, Text: e.Message}
}

// PollLogs fetches log events after a cursor over REST. Fallback transport.
func (c *Connector) PollLogs(ctx context.Context, jobID string, afterCursor uint64) ([]models.LogEntry, error) {
	gql, err := c.client()
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/fine-tunes/%s/logs?after=%d", c.restBase, jobID, afterCursor)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+gql.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &fterr.ConnectionError{PlatformName: platformName, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, &fterr.NotFoundError{Kind: "job", ID: jobID}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &fterr.ConnectionError{PlatformName: platformName, Err: fmt.Errorf("log poll returned %s", resp.Status)}
	}

	var events []logEvent
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return nil, &fterr.ConnectionError{PlatformName: platformName, Err: err}
	}
	entries := make([]models.LogEntry, 0, len(events))
	for _, e := range events {
		entries = append(entries, e.toEntry(jobID))
	}
	return entries, nil
}
