package connector

import (
	"fmt"
	"sort"

	"finetune-orchestrator/core/fterr"
	"finetune-orchestrator/core/models"
)

// Registry holds every compiled-in connector, keyed by platform name.
// Discovery records only static platform metadata; no network connection is
// established until the connection manager calls Connect.
type Registry struct {
	connectors map[string]Connector
}

// NewRegistry registers the given connectors. Registration fails if two
// connectors claim the same platform name, or if a connector declares a
// capability without implementing the matching interface.
func NewRegistry(connectors ...Connector) (*Registry, error) {
	r := &Registry{connectors: make(map[string]Connector, len(connectors))}
	for _, c := range connectors {
		platform := c.Platform()
		if platform.Name == "" {
			return nil, fmt.Errorf("connector %T has no platform name", c)
		}
		if _, exists := r.connectors[platform.Name]; exists {
			return nil, fmt.Errorf("duplicate connector for platform %q", platform.Name)
		}
		if err := checkCapabilities(c, platform); err != nil {
			return nil, err
		}
		r.connectors[platform.Name] = c
	}
	return r, nil
}

// checkCapabilities verifies the connector implements the interface each
// declared capability requires.
func checkCapabilities(c Connector, platform models.Platform) error {
	for _, capability := range platform.Capabilities {
		var ok bool
		switch capability {
		case models.CapabilityTraining:
			_, ok = c.(TrainingConnector)
		case models.CapabilityInference:
			_, ok = c.(InferenceConnector)
		case models.CapabilityRegistry:
			_, ok = c.(ModelRegistryConnector)
		case models.CapabilityTracking:
			_, ok = c.(TrackingConnector)
		default:
			return fmt.Errorf("platform %q declares unknown capability %q", platform.Name, capability)
		}
		if !ok {
			return fmt.Errorf("platform %q declares capability %q but %T does not implement it", platform.Name, capability, c)
		}
	}
	return nil
}

// Get returns the connector registered under name.
func (r *Registry) Get(name string) (Connector, error) {
	c, ok := r.connectors[name]
	if !ok {
		return nil, &fterr.UnknownPlatformError{PlatformName: name}
	}
	return c, nil
}

// Platforms returns the static descriptors of all registered connectors,
// sorted by name.
func (r *Registry) Platforms() []models.Platform {
	out := make([]models.Platform, 0, len(r.connectors))
	for _, c := range r.connectors {
		out = append(out, c.Platform())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
