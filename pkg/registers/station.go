package registers

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/wave-collector/pkg/acquisition"
	"github.com/wave-collector/pkg/collector"
	"github.com/wave-collector/pkg/config"
	"github.com/wave-collector/pkg/logger"
	"github.com/wave-collector/pkg/metrics"
	"github.com/wave-collector/pkg/sink"
)

// Station implements Agent: one acquisition core, the collector selected by
// source.kind and the configured window sinks.
type Station struct {
	cfg       *config.Config
	log       *zap.Logger
	core      *acquisition.Core
	collector collector.Collector
	hub       *sink.Hub
	sinks     []WindowSink
}

type StationOption func(*Station)

// WithSink subscribes an extra sink; it is closed with the station.
func WithSink(s WindowSink) StationOption {
	return func(st *Station) { st.sinks = append(st.sinks, s) }
}

// NewStation wires everything but starts nothing.
func NewStation(cfg *config.Config, factory *metrics.MetricFactory, opts ...StationOption) (*Station, error) {
	stream := cfg.Station.StreamID()
	st := &Station{
		cfg: cfg,
		log: logger.Named("station").With(zap.String("station", stream)),
	}

	st.core = acquisition.NewCore(stream,
		acquisition.WithTickDelay(cfg.Source.TickDelay),
		acquisition.WithLogger(logger.Named("acquisition").With(zap.String("station", stream))),
		acquisition.WithMetrics(factory.NewCoreMetrics(stream), factory.NewSchedulerMetrics("acquisition")),
	)

	col, err := RegisterCollector(cfg, st.core, factory)
	if err != nil {
		return nil, err
	}
	st.collector = col
	st.core.Attach(col)

	if cfg.Sink.WebSocket.Enable {
		st.hub = sink.NewHub(stream, logger.Named("websocket-sink"), factory.NewSinkMetrics("websocket"))
		st.sinks = append(st.sinks, st.hub)
	}
	if cfg.Sink.NATS.URL != "" {
		ns, err := sink.DialNATS(cfg.Sink.NATS, cfg.Station, logger.Named("nats-sink"), factory.NewSinkMetrics("nats"))
		if err != nil {
			st.closeSinks()
			return nil, err
		}
		st.sinks = append(st.sinks, ns)
	}

	for _, opt := range opts {
		opt(st)
	}
	for _, s := range st.sinks {
		st.core.Subscribe(s.Handle)
	}
	return st, nil
}

func (s *Station) Core() *acquisition.Core { return s.core }

func (s *Station) Collector() collector.Collector { return s.collector }

// Hub returns the WebSocket sink, nil when disabled.
func (s *Station) Hub() *sink.Hub { return s.hub }

func (s *Station) Stats() acquisition.Stats { return s.core.Stats() }

func (s *Station) Start() error {
	if err := s.core.Start(); err != nil {
		return fmt.Errorf("start %s: %w", s.collector.Name(), err)
	}
	s.log.Info("acquisition started",
		zap.String("source", s.cfg.Source.Kind),
		zap.String("collector", s.collector.Name()),
		zap.Duration("tick_delay", s.cfg.Source.TickDelay),
		zap.Int("sinks", len(s.sinks)))
	return nil
}

// Shutdown stops the core, waiting at most until ctx is done, then closes the sinks.
func (s *Station) Shutdown(ctx context.Context) error {
	s.log.Info("stopping acquisition")

	done := make(chan struct{})
	go func() {
		s.core.Stop()
		close(done)
	}()

	var stopErr error
	select {
	case <-done:
	case <-ctx.Done():
		stopErr = fmt.Errorf("%w: acquisition core: %w", collector.ErrShutdownTimeout, ctx.Err())
		s.log.Error("acquisition did not stop in time", zap.Error(ctx.Err()))
	}

	return errors.Join(stopErr, s.closeSinks())
}

func (s *Station) closeSinks() error {
	var errs []error
	for _, sk := range s.sinks {
		if err := sk.Close(); err != nil {
			s.log.Error("failed to close sink", zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
