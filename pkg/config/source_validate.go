package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// Validate checks the HTTP listen address.
func (h *ServerConfig) Validate() error {
	if h.Addr == "" {
		return errors.New("server.addr cannot be empty")
	}
	if _, err := net.ResolveTCPAddr("tcp", h.Addr); err != nil {
		return fmt.Errorf("server.addr format invalid (expected :port or ip:port), got %s: %w", h.Addr, err)
	}
	return nil
}

// Validate checks the tick delay and the settings of the selected source only.
func (s *SourceConfig) Validate() error {
	if s.TickDelay < 10*time.Millisecond || s.TickDelay > 10*time.Second {
		return fmt.Errorf("source.tick_delay must be between 10ms and 10s, got %s", s.TickDelay)
	}

	switch s.Kind {
	case SourceSLink:
		return s.SLink.validate()
	case SourceWinston:
		return s.Winston.validate()
	case SourceFDSN:
		return s.FDSN.validate()
	default:
		return fmt.Errorf("source.kind must be one of slink/winston/fdsn, got %q", s.Kind)
	}
}

func (s *SLinkSourceConfig) validate() error {
	if strings.TrimSpace(s.ToolPath) == "" {
		return errors.New("source.slink.tool_path cannot be empty")
	}
	if _, _, err := net.SplitHostPort(s.Server); err != nil {
		return fmt.Errorf("source.slink.server must be host:port, got %q: %w", s.Server, err)
	}
	if s.StopTimeout <= 0 {
		return fmt.Errorf("source.slink.stop_timeout must be positive, got %s", s.StopTimeout)
	}
	return nil
}

func (w *WinstonSourceConfig) validate() error {
	if strings.TrimSpace(w.Host) == "" {
		return errors.New("source.winston.host cannot be empty")
	}
	if w.Port <= 0 {
		return fmt.Errorf("source.winston.port must be positive, got %d", w.Port)
	}
	if w.CheckDelay <= 0 {
		return fmt.Errorf("source.winston.check_delay must be positive, got %s", w.CheckDelay)
	}
	if w.LimitTime < w.CheckDelay {
		return fmt.Errorf("source.winston.limit_time (%s) must not be shorter than check_delay (%s)", w.LimitTime, w.CheckDelay)
	}
	return nil
}

func (f *FDSNSourceConfig) validate() error {
	if strings.TrimSpace(f.DecoderPath) == "" {
		return errors.New("source.fdsn.decoder_path cannot be empty")
	}
	u, err := url.Parse(f.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("source.fdsn.base_url must be an absolute URL, got %q", f.BaseURL)
	}
	if f.CheckInterval <= 0 || f.DownloadInterval <= 0 {
		return fmt.Errorf("source.fdsn intervals must be positive, got check=%s download=%s", f.CheckInterval, f.DownloadInterval)
	}
	if f.LimitTime < f.DownloadInterval {
		return fmt.Errorf("source.fdsn.limit_time (%s) must not be shorter than download_interval (%s)", f.LimitTime, f.DownloadInterval)
	}
	if f.DecodeTimeout <= 0 {
		return fmt.Errorf("source.fdsn.decode_timeout must be positive, got %s", f.DecodeTimeout)
	}
	if f.ScratchDir == "" {
		return errors.New("source.fdsn.scratch_dir cannot be empty")
	}
	return nil
}

// Validate checks the sink section; an empty NATS URL disables that sink.
func (s *SinkConfig) Validate() error {
	if s.WebSocket.Enable && !strings.HasPrefix(s.WebSocket.Path, "/") {
		return fmt.Errorf("sink.websocket.path must start with '/', got %q", s.WebSocket.Path)
	}
	if s.NATS.URL != "" {
		if strings.TrimSpace(s.NATS.SubjectPrefix) == "" {
			return errors.New("sink.nats.subject_prefix cannot be empty when sink.nats.url is set")
		}
		if strings.ContainsAny(s.NATS.SubjectPrefix, " \t*>") {
			return fmt.Errorf("sink.nats.subject_prefix %q must not contain whitespace or wildcards", s.NATS.SubjectPrefix)
		}
	}
	return nil
}
