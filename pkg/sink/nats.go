package sink

import (
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/wave-collector/pkg/acquisition"
	"github.com/wave-collector/pkg/config"
	"github.com/wave-collector/pkg/metrics"
)

// Publisher is the part of *nats.Conn the sink needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes every window as an envelope on <prefix>.<net>.<sta>.<cha>.
type NATSSink struct {
	pub     Publisher
	subject string
	stream  string
	log     *zap.Logger
	metrics *metrics.SinkMetrics
	conn    *nats.Conn
}

// Subject builds the subject windows of station are published on.
func Subject(prefix string, station config.StationConfig) string {
	parts := []string{station.Network, station.Station, station.Channel}
	if p := strings.Trim(prefix, "."); p != "" {
		parts = append([]string{p}, parts...)
	}
	return strings.Join(parts, ".")
}

func NewNATSSink(pub Publisher, cfg config.NATSSinkConfig, station config.StationConfig, log *zap.Logger, m *metrics.SinkMetrics) *NATSSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &NATSSink{
		pub:     pub,
		subject: Subject(cfg.SubjectPrefix, station),
		stream:  station.StreamID(),
		log:     log,
		metrics: m,
	}
}

// DialNATS connects to cfg.URL and returns a sink that owns the connection.
func DialNATS(cfg config.NATSSinkConfig, station config.StationConfig, log *zap.Logger, m *metrics.SinkMetrics) (*NATSSink, error) {
	if log == nil {
		log = zap.NewNop()
	}
	conn, err := nats.Connect(cfg.URL,
		nats.Name("wave-collector "+station.StreamID()),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}

	s := NewNATSSink(conn, cfg, station, log, m)
	s.conn = conn
	log.Info("nats sink connected", zap.String("url", conn.ConnectedUrl()), zap.String("subject", s.subject))
	return s, nil
}

func (s *NATSSink) Subject() string { return s.subject }

// Handle publishes one window; failures are logged and counted.
func (s *NATSSink) Handle(w acquisition.Window) {
	data, err := Encode(s.stream, w)
	if err == nil {
		err = s.pub.Publish(s.subject, data)
	}
	if err != nil {
		s.log.Warn("publish window failed", zap.String("subject", s.subject), zap.Uint64("seq", w.Seq), zap.Error(err))
		if s.metrics != nil {
			s.metrics.Failures.Inc()
		}
		return
	}
	if s.metrics != nil {
		s.metrics.Delivered.Inc()
	}
}

// Close drains the connection when the sink dialed it itself.
func (s *NATSSink) Close() error {
	if s.conn == nil {
		return nil
	}
	if err := s.conn.Drain(); err != nil {
		s.conn.Close()
		return fmt.Errorf("drain nats: %w", err)
	}
	return nil
}
