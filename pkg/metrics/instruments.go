package metrics

import "github.com/prometheus/client_golang/prometheus"

// -------------------------- acquisition core --------------------------
type CoreMetrics struct {
	ChunksReserved  prometheus.Counter
	SamplesAppended prometheus.Counter
	WindowsEmitted  prometheus.Counter
	SubscriberPanic prometheus.Counter
	PendingChunks   prometheus.Gauge
	BufferedSamples prometheus.Gauge
	SamplingRate    prometheus.Gauge
}

// -------------------------- collectors --------------------------
type CollectorMetrics struct {
	Errors        *prometheus.CounterVec // label: kind
	FetchDuration prometheus.Observer
	ChunksDecoded prometheus.Counter
}

// -------------------------- scheduler --------------------------
type SchedulerMetrics struct {
	TickErrors   prometheus.Counter
	TickDuration prometheus.Observer
}

// -------------------------- sinks --------------------------
type SinkMetrics struct {
	Delivered prometheus.Counter
	Failures  prometheus.Counter
	Clients   prometheus.Gauge
}
