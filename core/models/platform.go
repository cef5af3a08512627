package models

import "time"

// Capability is a feature a connector declares support for.
type Capability string

const (
	CapabilityTraining  Capability = "training"
	CapabilityInference Capability = "inference"
	CapabilityRegistry  Capability = "registry"
	CapabilityTracking  Capability = "tracking"
)

// Platform is the static descriptor of a provider type. It is created once
// at registry discovery time and never mutated.
type Platform struct {
	Name               string
	DisplayName        string
	Capabilities       []Capability
	RequiredCredFields []string
}

// HasCapability reports whether the platform declares the given capability.
func (p Platform) HasCapability(c Capability) bool {
	for _, got := range p.Capabilities {
		if got == c {
			return true
		}
	}
	return false
}

// ConnectionStatus represents the state of a provider connection.
type ConnectionStatus string

const (
	ConnectionDisconnected ConnectionStatus = "disconnected"
	ConnectionConnecting   ConnectionStatus = "connecting"
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionError        ConnectionStatus = "error"
)

// Connection is the runtime state of a provider instance the user has
// attempted to use. At most one Connection exists per platform name.
type Connection struct {
	// SessionID identifies one connect/disconnect span. A new id is
	// assigned on every successful Connect.
	SessionID      string
	PlatformName   string
	Status         ConnectionStatus
	ConnectedAt    *time.Time
	LastVerifiedAt *time.Time
	LastError      string
}

// Credentials holds provider secrets keyed by the platform's required
// credential field names. The core treats values as opaque.
type Credentials map[string]string
