package collector

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wave-collector/pkg/config"
	"github.com/wave-collector/pkg/logger"
	"github.com/wave-collector/pkg/metrics"
)

// SLinkCollector streams a SeedLink channel through slinktool and parses its
// unpacked-sample text output.
type SLinkCollector struct {
	name    string
	cfg     config.SLinkSourceConfig
	station Station
	sink    Sink
	log     *zap.Logger
	metrics *metrics.CollectorMetrics

	mu       sync.Mutex
	tool     *toolProcess
	parser   *TextParser
	exitSeen atomic.Bool
	errLog   rate.Sometimes
}

// NewSLinkCollector creates a stopped collector; Init spawns the tool.
func NewSLinkCollector(cfg config.SLinkSourceConfig, station Station, sink Sink, m *metrics.CollectorMetrics) *SLinkCollector {
	name := "slink-collector"
	return &SLinkCollector{
		name:    name,
		cfg:     cfg,
		station: station,
		sink:    sink,
		log:     logger.Named(name).With(zap.String("station", station.String())),
		metrics: m,
		errLog:  rate.Sometimes{Interval: 10 * time.Second},
	}
}

func (s *SLinkCollector) Name() string { return s.name }

// Args returns the slinktool command line: print, unpack, select channel, stream
// NET_STA from the server.
func (s *SLinkCollector) Args() []string {
	return []string{
		"-p", "-u",
		"-s", s.station.Channel,
		"-S", s.station.Network + "_" + s.station.Station,
		s.cfg.Server,
	}
}

func (s *SLinkCollector) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	parser := NewTextParser(withChunkCount(s.sink, s.metrics), SLinkHeader)
	tool, err := startTool(s.cfg.ToolPath, s.Args(), func(line string) {
		if err := parser.Feed(line + "\n"); err != nil {
			s.fail(err)
		}
	})
	if err != nil {
		s.countError(err)
		return err
	}

	s.parser = parser
	s.tool = tool
	s.exitSeen.Store(false)
	s.log.Info("slinktool started",
		zap.Int("pid", tool.Pid()),
		zap.String("server", s.cfg.Server))
	return nil
}

// Collect only checks that the tool is still alive; samples arrive on the reader goroutine.
func (s *SLinkCollector) Collect(ctx context.Context) error {
	s.mu.Lock()
	tool := s.tool
	s.mu.Unlock()

	if tool == nil || !tool.Exited() {
		return nil
	}
	if s.exitSeen.CompareAndSwap(false, true) {
		err := tool.Err()
		s.countError(ErrIO)
		s.log.Warn("slinktool exited; restart the source to reconnect", zap.Error(err))
	}
	return nil
}

func (s *SLinkCollector) Close() error {
	s.mu.Lock()
	tool := s.tool
	parser := s.parser
	s.tool = nil
	s.parser = nil
	s.mu.Unlock()

	if tool == nil {
		return nil
	}

	err := tool.stop(s.cfg.StopTimeout)
	if err != nil {
		s.countError(err)
	}
	// the reader goroutine has exited once stop returns
	parser.Reset()
	s.log.Info("slinktool stopped")
	return err
}

func (s *SLinkCollector) fail(err error) {
	s.countError(err)
	s.errLog.Do(func() {
		s.log.Warn("discarded malformed slinktool output",
			zap.String("kind", string(Classify(err))),
			zap.Error(err))
	})
}

func (s *SLinkCollector) countError(err error) {
	if s.metrics != nil {
		s.metrics.Errors.WithLabelValues(string(Classify(err))).Inc()
	}
}
