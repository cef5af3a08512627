// Package costing computes projected and accrued spend for fine-tuning jobs
// from live catalog pricing. Figures are estimates: providers bill on their
// own meters and the catalog price is re-fetched on every call.
package costing

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"finetune-orchestrator/core/catalog"
	"finetune-orchestrator/core/models"
)

// Report is the cost picture for one job or one hypothetical run.
type Report struct {
	PlatformName   string
	ResourceName   string
	Currency       string
	Hours          float64
	OnDemandCost   float64
	SpotCost       *float64 // nil when the provider sells no interruptible capacity
	HourlyOnDemand float64
	PricedAt       time.Time
}

// Estimator prices jobs against the live resource catalog.
type Estimator struct {
	catalog *catalog.Catalog
	log     *logrus.Entry
}

// NewEstimator creates a cost estimator backed by the catalog.
func NewEstimator(cat *catalog.Catalog, log *logrus.Logger) *Estimator {
	return &Estimator{
		catalog: cat,
		log:     log.WithField("component", "costing"),
	}
}

// Estimate projects the cost of running a resource for the given number of
// hours. The spot figure is present only when the provider offers one.
func (e *Estimator) Estimate(ctx context.Context, platformName, resourceName string, hours float64) (Report, error) {
	pricing, err := e.catalog.GetPricing(ctx, platformName, resourceName)
	if err != nil {
		return Report{}, err
	}
	return report(platformName, pricing, hours), nil
}

// RunningCost computes the spend a job has accrued so far. Jobs that never
// started have accrued nothing; finished jobs are priced over their actual
// run window.
func (e *Estimator) RunningCost(ctx context.Context, job models.Job) (Report, error) {
	hours := runHours(job, time.Now())
	return e.Estimate(ctx, job.PlatformName, job.Config.ResourceName, hours)
}

func runHours(job models.Job, now time.Time) float64 {
	if job.StartedAt == nil {
		return 0
	}
	end := now
	if job.CompletedAt != nil {
		end = *job.CompletedAt
	}
	if end.Before(*job.StartedAt) {
		return 0
	}
	return end.Sub(*job.StartedAt).Hours()
}

func report(platformName string, pricing models.Pricing, hours float64) Report {
	r := Report{
		PlatformName:   platformName,
		ResourceName:   pricing.ResourceName,
		Currency:       pricing.Currency,
		Hours:          hours,
		OnDemandCost:   pricing.OnDemandHourly * hours,
		HourlyOnDemand: pricing.OnDemandHourly,
		PricedAt:       pricing.FetchedAt,
	}
	if pricing.SpotHourly != nil {
		spot := *pricing.SpotHourly * hours
		r.SpotCost = &spot
	}
	return r
}
