package connector_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"finetune-orchestrator/core/connector"
	"finetune-orchestrator/core/fterr"
	"finetune-orchestrator/core/models"
)

// baseConn implements only the base contract.
type baseConn struct {
	platform models.Platform
}

func (c *baseConn) Platform() models.Platform                                   { return c.platform }
func (c *baseConn) Connect(ctx context.Context, creds models.Credentials) error { return nil }
func (c *baseConn) Disconnect(ctx context.Context) error                        { return nil }
func (c *baseConn) ListResources(ctx context.Context) ([]models.ResourceDescriptor, error) {
	return nil, nil
}
func (c *baseConn) GetPricing(ctx context.Context, resourceName string) (models.Pricing, error) {
	return models.Pricing{}, nil
}
func (c *baseConn) PollLogs(ctx context.Context, jobID string, afterCursor uint64) ([]models.LogEntry, error) {
	return nil, nil
}

// trainingConn adds the training contract on top of baseConn.
type trainingConn struct {
	baseConn
}

func (c *trainingConn) SubmitJob(ctx context.Context, cfg models.TrainingConfig) (string, error) {
	return "job-1", nil
}
func (c *trainingConn) GetJobStatus(ctx context.Context, jobID string) (models.JobState, error) {
	return models.JobStateRunning, nil
}
func (c *trainingConn) CancelJob(ctx context.Context, jobID string) error { return nil }
func (c *trainingConn) ArtifactExists(ctx context.Context, jobID string) (bool, error) {
	return true, nil
}
func (c *trainingConn) FetchArtifact(ctx context.Context, jobID string) (io.ReadCloser, error) {
	return nil, nil
}

func acmePlatform(caps ...models.Capability) models.Platform {
	return models.Platform{
		Name:               "acme-gpu",
		DisplayName:        "Acme GPU Cloud",
		Capabilities:       caps,
		RequiredCredFields: []string{"api_key"},
	}
}

func TestRegistry_DiscoveryIsStatic(t *testing.T) {
	// Platform metadata must be available without any connection attempt;
	// the fake would panic on network use because it has none to make.
	reg, err := connector.NewRegistry(&trainingConn{baseConn{platform: acmePlatform(models.CapabilityTraining)}})
	if err != nil {
		t.Fatal(err)
	}

	platforms := reg.Platforms()
	if len(platforms) != 1 {
		t.Fatalf("expected 1 platform, got %d", len(platforms))
	}
	p := platforms[0]
	if p.Name != "acme-gpu" {
		t.Errorf("name: got %q", p.Name)
	}
	if !p.HasCapability(models.CapabilityTraining) {
		t.Error("expected training capability")
	}
	if len(p.RequiredCredFields) != 1 || p.RequiredCredFields[0] != "api_key" {
		t.Errorf("credential fields: got %v", p.RequiredCredFields)
	}
}

func TestRegistry_RejectsUnimplementedCapability(t *testing.T) {
	// Declares training but only implements the base contract.
	_, err := connector.NewRegistry(&baseConn{platform: acmePlatform(models.CapabilityTraining)})
	if err == nil {
		t.Fatal("expected registration to fail for unimplemented capability")
	}
}

func TestRegistry_RejectsUnknownCapability(t *testing.T) {
	_, err := connector.NewRegistry(&baseConn{platform: acmePlatform(models.Capability("time-travel"))})
	if err == nil {
		t.Fatal("expected registration to fail for unknown capability")
	}
}

func TestRegistry_RejectsDuplicateName(t *testing.T) {
	_, err := connector.NewRegistry(
		&baseConn{platform: acmePlatform()},
		&baseConn{platform: acmePlatform()},
	)
	if err == nil {
		t.Fatal("expected registration to fail for duplicate platform name")
	}
}

func TestRegistry_RejectsEmptyName(t *testing.T) {
	_, err := connector.NewRegistry(&baseConn{})
	if err == nil {
		t.Fatal("expected registration to fail for empty platform name")
	}
}

func TestRegistry_GetUnknownPlatform(t *testing.T) {
	reg, err := connector.NewRegistry(&baseConn{platform: acmePlatform()})
	if err != nil {
		t.Fatal(err)
	}

	_, err = reg.Get("nonexistent")
	var unknown *fterr.UnknownPlatformError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownPlatformError, got %v", err)
	}
	if unknown.PlatformName != "nonexistent" {
		t.Errorf("platform name in error: got %q", unknown.PlatformName)
	}
}

func TestRegistry_PlatformsSortedByName(t *testing.T) {
	reg, err := connector.NewRegistry(
		&baseConn{platform: models.Platform{Name: "zeta"}},
		&baseConn{platform: models.Platform{Name: "alpha"}},
		&baseConn{platform: models.Platform{Name: "mid"}},
	)
	if err != nil {
		t.Fatal(err)
	}

	platforms := reg.Platforms()
	want := []string{"alpha", "mid", "zeta"}
	for i, p := range platforms {
		if p.Name != want[i] {
			t.Errorf("platform %d: got %q, want %q", i, p.Name, want[i])
		}
	}
}
