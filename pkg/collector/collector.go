// Package collector contains the upstream adapters that feed raw seismometer samples
// into the acquisition core: a SeedLink stream, a Winston pull socket and an FDSN
// dataselect download.
package collector

import (
	"context"

	"github.com/wave-collector/pkg/metrics"
)

// Collector is driven by the acquisition core's scheduler: Init once per start,
// Collect on every core tick, Close once per stop.
type Collector interface {
	Name() string
	Init() error
	Collect(ctx context.Context) error
	Close() error
}

// Sink receives decoded chunks. Calls for one chunk arrive in parse order: one
// ReserveChunk followed by its samples.
type Sink interface {
	ReserveChunk(count int, rateHz float64)
	AppendSample(raw int)
}

// Station selects one stream on an upstream server.
type Station struct {
	Network  string
	Station  string
	Location string
	Channel  string
}

// locationOrDash maps an empty location code to the "--" placeholder upstreams expect.
func (s Station) locationOrDash() string {
	if s.Location == "" {
		return "--"
	}
	return s.Location
}

func (s Station) String() string {
	return s.Network + "." + s.Station + "." + s.Location + "." + s.Channel
}

// countingSink counts every chunk forwarded to the wrapped sink.
type countingSink struct {
	Sink
	m *metrics.CollectorMetrics
}

func (c countingSink) ReserveChunk(count int, rateHz float64) {
	c.m.ChunksDecoded.Inc()
	c.Sink.ReserveChunk(count, rateHz)
}

func withChunkCount(s Sink, m *metrics.CollectorMetrics) Sink {
	if m == nil {
		return s
	}
	return countingSink{Sink: s, m: m}
}
