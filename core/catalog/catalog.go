// Package catalog queries connected providers for available compute
// resources and pricing. Results are never cached: prices and availability
// are volatile, so every call re-queries the provider.
package catalog

import (
	"context"

	"github.com/sirupsen/logrus"

	"finetune-orchestrator/core/connection"
	"finetune-orchestrator/core/models"
)

// Catalog serves resource and pricing queries against live connections.
type Catalog struct {
	manager *connection.Manager
	log     *logrus.Entry
}

// New creates a catalog backed by the connection manager.
func New(manager *connection.Manager, log *logrus.Logger) *Catalog {
	return &Catalog{
		manager: manager,
		log:     log.WithField("component", "catalog"),
	}
}

// ListResources returns the resources currently purchasable on a platform.
// Fails with *fterr.NotConnectedError without a live connection.
func (c *Catalog) ListResources(ctx context.Context, platformName string) ([]models.ResourceDescriptor, error) {
	conn, err := c.manager.Live(platformName)
	if err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, c.manager.CallTimeout())
	defer cancel()
	return conn.ListResources(callCtx)
}

// GetPricing returns current pricing for one resource. When the provider has
// no spot market, Pricing.SpotHourly is nil; it is never defaulted to the
// on-demand price.
func (c *Catalog) GetPricing(ctx context.Context, platformName, resourceName string) (models.Pricing, error) {
	conn, err := c.manager.Live(platformName)
	if err != nil {
		return models.Pricing{}, err
	}
	callCtx, cancel := context.WithTimeout(ctx, c.manager.CallTimeout())
	defer cancel()
	return conn.GetPricing(callCtx, resourceName)
}
