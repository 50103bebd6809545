package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "wave"

// MetricFactory creates and registers every instrument of the agent. Vectors are
// registered once per factory and curried per stream or collector on demand.
type MetricFactory struct {
	reg Registers

	once sync.Once

	chunksReserved  *prometheus.CounterVec
	samplesAppended *prometheus.CounterVec
	windowsEmitted  *prometheus.CounterVec
	dispatchPanics  *prometheus.CounterVec
	pendingChunks   *prometheus.GaugeVec
	bufferedSamples *prometheus.GaugeVec
	samplingRate    *prometheus.GaugeVec

	collectErrors   *prometheus.CounterVec
	collectDuration *prometheus.HistogramVec
	chunksDecoded   *prometheus.CounterVec

	tickErrors   *prometheus.CounterVec
	tickDuration *prometheus.HistogramVec

	sinkDelivered *prometheus.CounterVec
	sinkFailures  *prometheus.CounterVec
	sinkClients   *prometheus.GaugeVec
}

// NewMetricFactory creates a factory bound to reg.
func NewMetricFactory(reg Registers) *MetricFactory {
	return &MetricFactory{reg: reg}
}

func (f *MetricFactory) init() {
	f.once.Do(func() {
		auto := promauto.With(f.reg)

		f.chunksReserved = auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "acquisition",
			Name:      "chunks_reserved_total",
			Help:      "Chunks announced to the acquisition core",
		}, []string{"stream"})
		f.samplesAppended = auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "acquisition",
			Name:      "samples_filtered_total",
			Help:      "Filtered samples appended to the sample buffer",
		}, []string{"stream"})
		f.windowsEmitted = auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "acquisition",
			Name:      "windows_emitted_total",
			Help:      "Completed windows handed to the dispatcher",
		}, []string{"stream"})
		f.dispatchPanics = auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "acquisition",
			Name:      "subscriber_panics_total",
			Help:      "Subscriber panics recovered by the window dispatcher",
		}, []string{"stream"})
		f.pendingChunks = auto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "acquisition",
			Name:      "pending_chunks",
			Help:      "Chunk markers waiting for enough filtered samples",
		}, []string{"stream"})
		f.bufferedSamples = auto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "acquisition",
			Name:      "buffered_samples",
			Help:      "Filtered samples waiting in the sample buffer",
		}, []string{"stream"})
		f.samplingRate = auto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "acquisition",
			Name:      "sampling_rate_hz",
			Help:      "Most recently reported positive sampling rate",
		}, []string{"stream"})

		f.collectErrors = auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "errors_total",
			Help:      "Collector failures by kind (parse, io, validation, shutdown)",
		}, []string{"collector", "kind"})
		f.collectDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of one upstream fetch (socket request, download plus decode)",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"collector"})
		f.chunksDecoded = auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "chunks_decoded_total",
			Help:      "Chunks decoded from upstream and forwarded to the core",
		}, []string{"collector"})

		f.tickErrors = auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "tick_errors_total",
			Help:      "Tick hook failures, including recovered panics",
		}, []string{"scheduler"})
		f.tickDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "tick_duration_seconds",
			Help:      "Duration of one tick hook invocation",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"scheduler"})

		f.sinkDelivered = auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "windows_delivered_total",
			Help:      "Windows delivered by a sink",
		}, []string{"sink"})
		f.sinkFailures = auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "failures_total",
			Help:      "Windows a sink failed to deliver",
		}, []string{"sink"})
		f.sinkClients = auto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "clients",
			Help:      "Connected clients of a sink",
		}, []string{"sink"})
	})
}

// NewCoreMetrics returns the acquisition instruments of one stream. Like every New*Metrics
// method it returns nil on a nil factory, which components treat as "metrics off".
func (f *MetricFactory) NewCoreMetrics(stream string) *CoreMetrics {
	if f == nil {
		return nil
	}
	f.init()
	return &CoreMetrics{
		ChunksReserved:  f.chunksReserved.WithLabelValues(stream),
		SamplesAppended: f.samplesAppended.WithLabelValues(stream),
		WindowsEmitted:  f.windowsEmitted.WithLabelValues(stream),
		SubscriberPanic: f.dispatchPanics.WithLabelValues(stream),
		PendingChunks:   f.pendingChunks.WithLabelValues(stream),
		BufferedSamples: f.bufferedSamples.WithLabelValues(stream),
		SamplingRate:    f.samplingRate.WithLabelValues(stream),
	}
}

// NewCollectorMetrics returns the instruments of one collector.
func (f *MetricFactory) NewCollectorMetrics(collector string) *CollectorMetrics {
	if f == nil {
		return nil
	}
	f.init()
	errs, _ := f.collectErrors.CurryWith(prometheus.Labels{"collector": collector})
	return &CollectorMetrics{
		Errors:        errs,
		FetchDuration: f.collectDuration.WithLabelValues(collector),
		ChunksDecoded: f.chunksDecoded.WithLabelValues(collector),
	}
}

// NewSchedulerMetrics returns the instruments of one scheduler.
func (f *MetricFactory) NewSchedulerMetrics(scheduler string) *SchedulerMetrics {
	if f == nil {
		return nil
	}
	f.init()
	return &SchedulerMetrics{
		TickErrors:   f.tickErrors.WithLabelValues(scheduler),
		TickDuration: f.tickDuration.WithLabelValues(scheduler),
	}
}

// NewSinkMetrics returns the instruments of one window sink.
func (f *MetricFactory) NewSinkMetrics(sink string) *SinkMetrics {
	if f == nil {
		return nil
	}
	f.init()
	return &SinkMetrics{
		Delivered: f.sinkDelivered.WithLabelValues(sink),
		Failures:  f.sinkFailures.WithLabelValues(sink),
		Clients:   f.sinkClients.WithLabelValues(sink),
	}
}
