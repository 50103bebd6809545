package registers

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/wave-collector/pkg/metrics"
)

// InitPromRegistry creates the agent's own registry and the factory that fills it.
// Go runtime metrics are left out; process metrics are optional.
func InitPromRegistry(enableProcess bool) (*prometheus.Registry, *metrics.MetricFactory) {
	promReg := prometheus.NewRegistry()
	if enableProcess {
		promReg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	return promReg, metrics.NewMetricFactory(metrics.NewPromRegistry(promReg))
}
