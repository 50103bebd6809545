// Package server exposes the agent over HTTP: Prometheus metrics, a health check,
// the acquisition status and the live window stream.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/wave-collector/pkg/acquisition"
	"github.com/wave-collector/pkg/config"
)

const defaultShutdownTimeout = 5 * time.Second

// StatsProvider reports the acquisition state served on /status.
type StatsProvider interface {
	Stats() acquisition.Stats
}

// Server serves the agent's HTTP endpoints.
type Server struct {
	cfg      config.ServerConfig
	station  string
	logger   *zap.Logger
	server   *http.Server
	registry *prometheus.Registry
	stats    StatsProvider
	mux      *customMux

	mu       sync.Mutex
	listener net.Listener
}

// statusWriter records the response status for the request log.
type statusWriter struct {
	http.ResponseWriter
	status int
}

// customMux is a ServeMux that remembers its patterns for the index page and the startup log.
type customMux struct {
	http.ServeMux
	routes []string
	mu     sync.Mutex
}

func (m *customMux) Handle(pattern string, handler http.Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.routes = append(m.routes, pattern)
	m.ServeMux.Handle(pattern, handler)
}

func (m *customMux) HandleFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	m.Handle(pattern, http.HandlerFunc(handler))
}

// Routes returns the registered patterns in registration order.
func (m *customMux) Routes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.routes...)
}

type Option func(*Server)

// WithStats serves the acquisition state on /status.
func WithStats(station string, p StatsProvider) Option {
	return func(s *Server) {
		s.station = station
		s.stats = p
	}
}

// WithHandler mounts an extra handler, e.g. the WebSocket window stream.
func WithHandler(pattern string, h http.Handler) Option {
	return func(s *Server) { s.mux.Handle(pattern, h) }
}

func NewHTTPServer(cfg config.ServerConfig, logger *zap.Logger, registry *prometheus.Registry, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	srv := &Server{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		mux:      &customMux{},
	}

	srv.registerEndpoints()
	for _, opt := range opts {
		opt(srv)
	}
	if srv.stats != nil {
		srv.mux.HandleFunc("/status", srv.handleStatus)
	}

	srv.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      srv.logMiddleware(srv.mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return srv
}

// Handler returns the routed handler wrapped in the request logger.
func (s *Server) Handler() http.Handler { return s.server.Handler }

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		s.logger.Debug(
			"HTTP request",
			zap.String("method", r.Method),
			zap.String("url", r.URL.String()),
			zap.String("remote", r.RemoteAddr),
			zap.Int("status", sw.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) registerEndpoints() {
	s.mux.HandleFunc("/", s.handleIndex)

	s.mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		ErrorLog: zap.NewStdLog(s.logger),
	}))

	s.mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	var links string
	for _, route := range s.mux.Routes() {
		if route == "/" {
			continue
		}
		links += fmt.Sprintf("\t\t<a href=\"%s\">%s</a>\n", route, route)
	}
	html := fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
	<meta charset="UTF-8">
	<title>Wave Collector</title>
	<style>
		body { font-family: Arial, sans-serif; margin: 40px; }
		a { display: block; margin: 8px 0; font-size: 18px; }
		code { background-color: #f0f0f0; padding: 2px 4px; }
	</style>
</head>
<body>
	<h1>Wave Collector</h1>
	<p>Station: <code>%s</code></p>
	<h2>Endpoints</h2>
%s</body>
</html>
`, s.station, links)
	_, _ = w.Write([]byte(html))
}

type statusResponse struct {
	Station         string  `json:"station"`
	Running         bool    `json:"running"`
	SamplingRate    float64 `json:"sampling_rate"`
	PendingChunks   int     `json:"pending_chunks"`
	BufferedSamples int     `json:"buffered_samples"`
	WindowsEmitted  uint64  `json:"windows_emitted"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.stats.Stats()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(statusResponse{
		Station:         s.station,
		Running:         st.Running,
		SamplingRate:    st.SamplingRate,
		PendingChunks:   st.PendingChunks,
		BufferedSamples: st.BufferedSamples,
		WindowsEmitted:  st.WindowsEmitted,
	})
}

func (w *statusWriter) WriteHeader(statusCode int) {
	w.status = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// Hijack lets the WebSocket upgrader take over the connection behind the logger.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info(
		"starting HTTP server",
		zap.String("listen_addr", ln.Addr().String()),
		zap.Strings("handle_funcs", s.mux.Routes()),
	)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address once started, the configured one before.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

// Shutdown stops accepting requests and waits for active ones, bounded by ctx
// or defaultShutdownTimeout when ctx has no deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultShutdownTimeout)
		defer cancel()
	}

	if err := s.server.Shutdown(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.logger.Warn("shutdown timeout exceeded")
			return nil
		}
		s.logger.Error("HTTP server shutdown failed", zap.Error(err))
		return err
	}

	s.logger.Info("HTTP server shutdown successfully")
	return nil
}
