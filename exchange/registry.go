// Package exchange holds the constructed-once registry of connector
// implementations. Callers build the registry explicitly and pass it to the
// composition layer; there is no package-level mutable state.
package exchange

import (
	"fmt"

	"tickflow/stream"
	"tickflow/subscription"
)

// Registry maps exchange identities to their connectors.
type Registry struct {
	connectors map[subscription.ExchangeID]stream.Connector
}

// NewRegistry builds a registry from the given connectors, rejecting
// duplicate identities.
func NewRegistry(connectors ...stream.Connector) (*Registry, error) {
	r := &Registry{connectors: make(map[subscription.ExchangeID]stream.Connector, len(connectors))}
	for _, c := range connectors {
		if _, ok := r.connectors[c.ID()]; ok {
			return nil, fmt.Errorf("duplicate connector for exchange %s", c.ID())
		}
		r.connectors[c.ID()] = c
	}
	return r, nil
}

// Connector returns the connector registered for an exchange.
func (r *Registry) Connector(id subscription.ExchangeID) (stream.Connector, bool) {
	c, ok := r.connectors[id]
	return c, ok
}

// IDs lists the registered exchange identities.
func (r *Registry) IDs() []subscription.ExchangeID {
	ids := make([]subscription.ExchangeID, 0, len(r.connectors))
	for id := range r.connectors {
		ids = append(ids, id)
	}
	return ids
}
