package catalog_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"finetune-orchestrator/core/catalog"
	"finetune-orchestrator/core/connection"
	"finetune-orchestrator/core/connector"
	"finetune-orchestrator/core/fterr"
	"finetune-orchestrator/core/models"
)

// priceConn serves a static resource sheet. spot == nil models a provider
// with no spot market.
type priceConn struct {
	name  string
	price float64
	spot  *float64
	calls int
}

func (c *priceConn) Platform() models.Platform {
	return models.Platform{Name: c.name, RequiredCredFields: []string{"api_key"}}
}

func (c *priceConn) Connect(ctx context.Context, creds models.Credentials) error { return nil }
func (c *priceConn) Disconnect(ctx context.Context) error                        { return nil }

func (c *priceConn) ListResources(ctx context.Context) ([]models.ResourceDescriptor, error) {
	c.calls++
	return []models.ResourceDescriptor{{
		Name:          "rtx-4090",
		GPUType:       "RTX 4090",
		OnDemandPrice: c.price,
		SpotPrice:     c.spot,
		Available:     true,
	}}, nil
}

func (c *priceConn) GetPricing(ctx context.Context, resourceName string) (models.Pricing, error) {
	if resourceName != "rtx-4090" {
		return models.Pricing{}, &fterr.NotFoundError{Kind: "resource", ID: resourceName}
	}
	return models.Pricing{
		ResourceName:   resourceName,
		Currency:       "USD",
		OnDemandHourly: c.price,
		SpotHourly:     c.spot,
		FetchedAt:      time.Now(),
	}, nil
}

func (c *priceConn) PollLogs(ctx context.Context, jobID string, afterCursor uint64) ([]models.LogEntry, error) {
	return nil, nil
}

func newCatalog(t *testing.T, conns ...connector.Connector) *catalog.Catalog {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	reg, err := connector.NewRegistry(conns...)
	if err != nil {
		t.Fatal(err)
	}
	manager := connection.NewManager(reg, connection.NewMemoryCredentialStore(), time.Second, log)
	for _, c := range conns {
		if _, err := manager.Connect(context.Background(), c.Platform().Name, models.Credentials{"api_key": "x"}); err != nil {
			t.Fatal(err)
		}
	}
	return catalog.New(manager, log)
}

func TestCatalog_ListResources(t *testing.T) {
	spot := 0.19
	conn := &priceConn{name: "acme-gpu", price: 0.44, spot: &spot}
	cat := newCatalog(t, conn)

	resources, err := cat.ListResources(context.Background(), "acme-gpu")
	if err != nil {
		t.Fatal(err)
	}
	if len(resources) != 1 {
		t.Fatalf("expected 1 resource, got %d", len(resources))
	}
	r := resources[0]
	if r.Name != "rtx-4090" || r.OnDemandPrice != 0.44 {
		t.Errorf("resource: got %+v", r)
	}
	if r.SpotPrice == nil || *r.SpotPrice != 0.19 {
		t.Errorf("spot price: got %v, want 0.19", r.SpotPrice)
	}
}

func TestCatalog_SpotAbsenceIsPreserved(t *testing.T) {
	conn := &priceConn{name: "acme-gpu", price: 0.44, spot: nil}
	cat := newCatalog(t, conn)

	pricing, err := cat.GetPricing(context.Background(), "acme-gpu", "rtx-4090")
	if err != nil {
		t.Fatal(err)
	}
	if pricing.SpotHourly != nil {
		t.Errorf("provider has no spot market, SpotHourly must stay nil, got %v", *pricing.SpotHourly)
	}
	if pricing.OnDemandHourly != 0.44 {
		t.Errorf("on-demand: got %v", pricing.OnDemandHourly)
	}
}

func TestCatalog_NoCaching(t *testing.T) {
	conn := &priceConn{name: "acme-gpu", price: 0.44}
	cat := newCatalog(t, conn)

	for i := 0; i < 3; i++ {
		if _, err := cat.ListResources(context.Background(), "acme-gpu"); err != nil {
			t.Fatal(err)
		}
	}
	if conn.calls != 3 {
		t.Errorf("expected every catalog call to hit the provider, got %d calls", conn.calls)
	}
}

func TestCatalog_RequiresConnection(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	reg, err := connector.NewRegistry(&priceConn{name: "acme-gpu"})
	if err != nil {
		t.Fatal(err)
	}
	manager := connection.NewManager(reg, connection.NewMemoryCredentialStore(), time.Second, log)
	cat := catalog.New(manager, log)

	_, err = cat.ListResources(context.Background(), "acme-gpu")
	var notConn *fterr.NotConnectedError
	if !errors.As(err, &notConn) {
		t.Fatalf("expected NotConnectedError, got %v", err)
	}
}

func TestCatalog_UnknownResource(t *testing.T) {
	conn := &priceConn{name: "acme-gpu", price: 0.44}
	cat := newCatalog(t, conn)

	_, err := cat.GetPricing(context.Background(), "acme-gpu", "h100-cluster")
	var notFound *fterr.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}
