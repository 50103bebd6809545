package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registers hides the concrete Prometheus registry so tests can pass their own.
type Registers interface {
	prometheus.Registerer
}

// promRegistry wraps *prometheus.Registry
type promRegistry struct {
	registry *prometheus.Registry
}

// NewPromRegistry wraps registry as Registers.
func NewPromRegistry(registry *prometheus.Registry) Registers {
	return &promRegistry{registry: registry}
}

// Register implements prometheus.Registerer
func (p *promRegistry) Register(collector prometheus.Collector) error {
	return p.registry.Register(collector)
}

// MustRegister implements prometheus.Registerer
func (p *promRegistry) MustRegister(collectors ...prometheus.Collector) {
	for _, c := range collectors {
		if err := p.registry.Register(c); err != nil {
			panic(err)
		}
	}
}

// Unregister implements prometheus.Registerer
func (p *promRegistry) Unregister(collector prometheus.Collector) bool {
	return p.registry.Unregister(collector)
}
