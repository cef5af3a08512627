package artifact_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"finetune-orchestrator/core/artifact"
	"finetune-orchestrator/core/connection"
	"finetune-orchestrator/core/connector"
	"finetune-orchestrator/core/fterr"
	"finetune-orchestrator/core/models"
)

// artifactConn serves a fixed adapter payload.
type artifactConn struct {
	payload  []byte
	fetchErr error
}

func (c *artifactConn) Platform() models.Platform {
	return models.Platform{
		Name:               "acme-gpu",
		Capabilities:       []models.Capability{models.CapabilityTraining},
		RequiredCredFields: []string{"api_key"},
	}
}

func (c *artifactConn) Connect(ctx context.Context, creds models.Credentials) error { return nil }
func (c *artifactConn) Disconnect(ctx context.Context) error                        { return nil }

func (c *artifactConn) ListResources(ctx context.Context) ([]models.ResourceDescriptor, error) {
	return nil, nil
}

func (c *artifactConn) GetPricing(ctx context.Context, resourceName string) (models.Pricing, error) {
	return models.Pricing{}, nil
}

func (c *artifactConn) PollLogs(ctx context.Context, jobID string, afterCursor uint64) ([]models.LogEntry, error) {
	return nil, nil
}

func (c *artifactConn) SubmitJob(ctx context.Context, cfg models.TrainingConfig) (string, error) {
	return "job-1", nil
}

func (c *artifactConn) GetJobStatus(ctx context.Context, jobID string) (models.JobState, error) {
	return models.JobStateCompleted, nil
}

func (c *artifactConn) CancelJob(ctx context.Context, jobID string) error { return nil }

func (c *artifactConn) ArtifactExists(ctx context.Context, jobID string) (bool, error) {
	return c.payload != nil, nil
}

func (c *artifactConn) FetchArtifact(ctx context.Context, jobID string) (io.ReadCloser, error) {
	if c.fetchErr != nil {
		return nil, c.fetchErr
	}
	return io.NopCloser(bytes.NewReader(c.payload)), nil
}

// jobTable is a fixed JobLookup.
type jobTable map[string]models.Job

func (t jobTable) Get(jobID string) (models.Job, error) {
	job, ok := t[jobID]
	if !ok {
		return models.Job{}, &fterr.NotFoundError{Kind: "job", ID: jobID}
	}
	return job, nil
}

func newRetriever(t *testing.T, conn connector.Connector, jobs jobTable, opts ...artifact.RetrieverOption) *artifact.Retriever {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	reg, err := connector.NewRegistry(conn)
	if err != nil {
		t.Fatal(err)
	}
	manager := connection.NewManager(reg, connection.NewMemoryCredentialStore(), time.Second, log)
	if _, err := manager.Connect(context.Background(), "acme-gpu", models.Credentials{"api_key": "x"}); err != nil {
		t.Fatal(err)
	}
	return artifact.NewRetriever(manager, jobs, log, opts...)
}

func TestRetriever_FetchCompletedJob(t *testing.T) {
	conn := &artifactConn{payload: []byte("adapter-bytes")}
	jobs := jobTable{"job-1": {ID: "job-1", PlatformName: "acme-gpu", State: models.JobStateCompleted}}
	r := newRetriever(t, conn, jobs)

	stream, err := r.Fetch(context.Background(), "job-1")
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	got, err := io.ReadAll(stream)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "adapter-bytes" {
		t.Errorf("payload: got %q", got)
	}
}

func TestRetriever_NonCompletedStatesRejected(t *testing.T) {
	conn := &artifactConn{payload: []byte("adapter-bytes")}
	states := []models.JobState{
		models.JobStatePending,
		models.JobStateProvisioning,
		models.JobStateRunning,
		models.JobStateFailed,
		models.JobStateCancelled,
	}
	for _, state := range states {
		jobs := jobTable{"job-1": {ID: "job-1", PlatformName: "acme-gpu", State: state}}
		r := newRetriever(t, conn, jobs)

		_, err := r.Fetch(context.Background(), "job-1")
		var notReady *fterr.NotReadyError
		if !errors.As(err, &notReady) {
			t.Fatalf("state %s: expected NotReadyError, got %v", state, err)
		}
		if notReady.State != string(state) {
			t.Errorf("error state: got %q, want %q", notReady.State, state)
		}
	}
}

func TestRetriever_UnknownJob(t *testing.T) {
	r := newRetriever(t, &artifactConn{}, jobTable{})

	_, err := r.Fetch(context.Background(), "nope")
	var notFound *fterr.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestRetriever_SaveTo(t *testing.T) {
	conn := &artifactConn{payload: []byte("adapter-bytes")}
	jobs := jobTable{"job-1": {ID: "job-1", PlatformName: "acme-gpu", State: models.JobStateCompleted}}
	r := newRetriever(t, conn, jobs)

	path := filepath.Join(t.TempDir(), "adapter.safetensors")
	n, err := r.SaveTo(context.Background(), "job-1", path)
	if err != nil {
		t.Fatal(err)
	}
	if n != int64(len("adapter-bytes")) {
		t.Errorf("bytes written: got %d", n)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "adapter-bytes" {
		t.Errorf("file contents: got %q", data)
	}
}

func TestRetriever_SaveToRemovesPartialFileOnFailure(t *testing.T) {
	conn := &truncatingConn{artifactConn{payload: []byte("adapter-bytes")}}
	jobs := jobTable{"job-1": {ID: "job-1", PlatformName: "acme-gpu", State: models.JobStateCompleted}}
	r := newRetriever(t, conn, jobs)

	path := filepath.Join(t.TempDir(), "adapter.safetensors")
	if _, err := r.SaveTo(context.Background(), "job-1", path); err == nil {
		t.Fatal("expected mid-transfer failure to surface")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("partial file must be removed after a failed transfer")
	}
}

// fakeMirror records uploaded objects.
type fakeMirror struct {
	uploadErr error

	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{objects: make(map[string][]byte)}
}

func (m *fakeMirror) Upload(ctx context.Context, jobID string, reader io.Reader) (string, error) {
	if m.uploadErr != nil {
		return "", m.uploadErr
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[jobID] = data
	return "s3://mirror/" + jobID, nil
}

func (m *fakeMirror) object(jobID string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[jobID]
	return data, ok
}

func TestRetriever_MirrorsCompletedTransfer(t *testing.T) {
	conn := &artifactConn{payload: []byte("adapter-bytes")}
	jobs := jobTable{"job-1": {ID: "job-1", PlatformName: "acme-gpu", State: models.JobStateCompleted}}
	mirror := newFakeMirror()
	r := newRetriever(t, conn, jobs, artifact.WithMirror(mirror))

	path := filepath.Join(t.TempDir(), "adapter.safetensors")
	if _, err := r.SaveTo(context.Background(), "job-1", path); err != nil {
		t.Fatal(err)
	}

	data, ok := mirror.object("job-1")
	if !ok {
		t.Fatal("mirror received no object")
	}
	if string(data) != "adapter-bytes" {
		t.Errorf("mirrored payload: got %q", data)
	}
}

func TestRetriever_MirrorFailureDoesNotBreakTransfer(t *testing.T) {
	conn := &artifactConn{payload: []byte("adapter-bytes")}
	jobs := jobTable{"job-1": {ID: "job-1", PlatformName: "acme-gpu", State: models.JobStateCompleted}}
	mirror := newFakeMirror()
	mirror.uploadErr = errors.New("bucket gone")
	r := newRetriever(t, conn, jobs, artifact.WithMirror(mirror))

	stream, err := r.Fetch(context.Background(), "job-1")
	if err != nil {
		t.Fatal(err)
	}
	got, err := io.ReadAll(stream)
	if err != nil {
		t.Fatal(err)
	}
	if err := stream.Close(); err != nil {
		t.Fatal(err)
	}
	if string(got) != "adapter-bytes" {
		t.Errorf("payload: got %q", got)
	}
}

func TestRetriever_AbortedTransferNotMirrored(t *testing.T) {
	conn := &artifactConn{payload: []byte("adapter-bytes")}
	jobs := jobTable{"job-1": {ID: "job-1", PlatformName: "acme-gpu", State: models.JobStateCompleted}}
	mirror := newFakeMirror()
	r := newRetriever(t, conn, jobs, artifact.WithMirror(mirror))

	stream, err := r.Fetch(context.Background(), "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := io.ReadFull(stream, make([]byte, 4)); err != nil {
		t.Fatal(err)
	}
	if err := stream.Close(); err != nil {
		t.Fatal(err)
	}

	if _, ok := mirror.object("job-1"); ok {
		t.Error("mirror must not keep an object from an aborted transfer")
	}
}

// truncatingConn returns a stream that errors partway through.
type truncatingConn struct {
	artifactConn
}

func (c *truncatingConn) FetchArtifact(ctx context.Context, jobID string) (io.ReadCloser, error) {
	return io.NopCloser(io.MultiReader(
		bytes.NewReader(c.payload[:4]),
		&failingReader{},
	)), nil
}

type failingReader struct{}

func (r *failingReader) Read(p []byte) (int, error) {
	return 0, errors.New("stream reset")
}
