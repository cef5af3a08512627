package models

import "time"

// ResourceDescriptor describes one purchasable compute unit on a provider.
// Descriptors are recomputed on every catalog query and never mutated in
// place.
type ResourceDescriptor struct {
	Name          string
	GPUType       string // "A100", "RTX 4090", "H100"
	OnDemandPrice float64
	SpotPrice     *float64 // nil when the provider has no spot market
	Available     bool
}

// Pricing is the price of one resource at query time. SpotHourly is nil when
// the provider has no spot market; it is never defaulted to the on-demand
// price.
type Pricing struct {
	ResourceName   string
	Currency       string
	OnDemandHourly float64
	SpotHourly     *float64
	FetchedAt      time.Time
}

// LogEntry is one unit of streamed job output. Cursor values are
// monotonically increasing within a job's stream.
type LogEntry struct {
	JobID     string
	Cursor    uint64
	Timestamp time.Time
	Text      string
}
