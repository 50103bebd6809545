package registers

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/wave-collector/pkg/collector"
	"github.com/wave-collector/pkg/config"
	"github.com/wave-collector/pkg/logger"
	"github.com/wave-collector/pkg/metrics"
)

type Module struct {
	Enabled bool
	Name    string
	NewFunc func() collector.Collector
}

func stationOf(s config.StationConfig) collector.Station {
	return collector.Station{
		Network:  s.Network,
		Station:  s.Station,
		Location: s.Location,
		Channel:  s.Channel,
	}
}

// RegisterCollector picks the adapter selected by source.kind. Adding a source
// only needs a new entry in the module list.
func RegisterCollector(cfg *config.Config, sink collector.Sink, factory *metrics.MetricFactory) (collector.Collector, error) {
	station := stationOf(cfg.Station)
	src := cfg.Source

	modules := []Module{
		{
			Enabled: src.Kind == config.SourceSLink,
			Name:    config.SourceSLink,
			NewFunc: func() collector.Collector {
				return collector.NewSLinkCollector(src.SLink, station, sink, factory.NewCollectorMetrics("slink-collector"))
			},
		},
		{
			Enabled: src.Kind == config.SourceWinston,
			Name:    config.SourceWinston,
			NewFunc: func() collector.Collector {
				return collector.NewWinstonCollector(src.Winston, station, sink, factory.NewCollectorMetrics("winston-collector"))
			},
		},
		{
			Enabled: src.Kind == config.SourceFDSN,
			Name:    config.SourceFDSN,
			NewFunc: func() collector.Collector {
				return collector.NewFDSNCollector(src.FDSN, station, sink, factory.NewCollectorMetrics("fdsn-collector"))
			},
		},
	}

	for _, m := range modules {
		if !m.Enabled {
			logger.Debug("source disabled", zap.String("source", m.Name))
			continue
		}
		c := m.NewFunc()
		logger.Info("source registered",
			zap.String("source", m.Name),
			zap.String("collector", c.Name()),
			zap.String("station", cfg.Station.StreamID()))
		return c, nil
	}
	return nil, fmt.Errorf("no source registered for kind %q; check source.kind", src.Kind)
}
