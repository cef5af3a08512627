// Package connector defines the capability-typed contract every provider
// implementation satisfies, and the registry that discovers compiled-in
// implementations at process start.
package connector

import (
	"context"
	"io"

	"finetune-orchestrator/core/models"
)

// Connector is the base contract for a provider implementation. Constructing
// a Connector must not perform network I/O; the first remote call happens in
// Connect. All failures are classified into the fterr taxonomy before being
// returned.
type Connector interface {
	// Platform returns the static descriptor for this provider. It must be
	// callable before Connect.
	Platform() models.Platform

	// Connect establishes a session with the provider using the given
	// credentials. Fails with *fterr.AuthenticationError when the provider
	// rejects them.
	Connect(ctx context.Context, creds models.Credentials) error

	// Disconnect tears down the session. Safe to call when not connected.
	Disconnect(ctx context.Context) error

	// ListResources returns the compute units currently purchasable on the
	// provider. Fails with *fterr.ConnectionError on transient failures.
	ListResources(ctx context.Context) ([]models.ResourceDescriptor, error)

	// GetPricing returns current pricing for one resource. Fails with
	// *fterr.NotFoundError when the resource is unknown.
	GetPricing(ctx context.Context, resourceName string) (models.Pricing, error)

	// PollLogs returns log entries with cursor strictly greater than
	// afterCursor, in ascending cursor order. This is the fallback log
	// transport; providers with a duplex endpoint also implement LogStreamer.
	PollLogs(ctx context.Context, jobID string, afterCursor uint64) ([]models.LogEntry, error)
}

// TrainingConnector is required of every connector declaring the training
// capability.
type TrainingConnector interface {
	// SubmitJob submits a training config and returns the provider-assigned
	// job id. Fails with *fterr.ValidationError or *fterr.ProvisioningError.
	SubmitJob(ctx context.Context, cfg models.TrainingConfig) (string, error)

	// GetJobStatus returns the provider's view of the job state.
	GetJobStatus(ctx context.Context, jobID string) (models.JobState, error)

	// CancelJob asks the provider to stop the job. Idempotent.
	CancelJob(ctx context.Context, jobID string) error

	// ArtifactExists reports whether the finished adapter is retrievable.
	ArtifactExists(ctx context.Context, jobID string) (bool, error)

	// FetchArtifact returns the adapter bytes as a single continuous
	// transfer. Fails with *fterr.NotReadyError when the provider has no
	// artifact for the job yet.
	FetchArtifact(ctx context.Context, jobID string) (io.ReadCloser, error)
}

// LogStream is an open duplex log transport. Recv blocks until the next
// entry arrives, the stream fails, or the remote side closes it (io.EOF).
type LogStream interface {
	Recv() (models.LogEntry, error)
	Close() error
}

// LogStreamer is implemented by connectors whose provider exposes a
// persistent duplex log endpoint. The streaming subsystem prefers this
// transport and falls back to PollLogs when it is absent or drops.
type LogStreamer interface {
	OpenLogStream(ctx context.Context, jobID string, fromCursor uint64) (LogStream, error)
}

// InferenceConnector is required of connectors declaring the inference
// capability.
type InferenceConnector interface {
	ListEndpoints(ctx context.Context) ([]string, error)
}

// ModelRegistryConnector is required of connectors declaring the registry
// capability.
type ModelRegistryConnector interface {
	ListModels(ctx context.Context) ([]string, error)
}

// TrackingConnector is required of connectors declaring the tracking
// capability.
type TrackingConnector interface {
	GetRunMetrics(ctx context.Context, runName string) (map[string]float64, error)
}
