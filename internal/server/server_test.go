package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wave-collector/pkg/acquisition"
	"github.com/wave-collector/pkg/config"
	"github.com/wave-collector/pkg/metrics"
	"github.com/wave-collector/pkg/sink"
)

type fixedStats acquisition.Stats

func (f fixedStats) Stats() acquisition.Stats { return acquisition.Stats(f) }

func testServer(t *testing.T, opts ...Option) (*Server, *httptest.Server) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.NewMetricFactory(metrics.NewPromRegistry(reg)).NewCoreMetrics("IU.ANMO.00.BHZ")
	m.WindowsEmitted.Inc()

	cfg := config.NewDefaultConfig().Server
	cfg.Addr = "127.0.0.1:0"
	s := NewHTTPServer(cfg, nil, reg, opts...)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestHealth(t *testing.T) {
	_, ts := testServer(t)
	code, body := get(t, ts.URL+"/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "OK", body)
}

func TestMetricsUsesAgentRegistry(t *testing.T) {
	_, ts := testServer(t)
	code, body := get(t, ts.URL+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `wave_acquisition_windows_emitted_total{stream="IU.ANMO.00.BHZ"} 1`)
	assert.NotContains(t, body, "go_goroutines")
}

func TestIndexListsRoutes(t *testing.T) {
	_, ts := testServer(t, WithStats("IU.ANMO.00.BHZ", fixedStats{}))
	code, body := get(t, ts.URL+"/")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "IU.ANMO.00.BHZ")
	assert.Contains(t, body, `href="/metrics"`)
	assert.Contains(t, body, `href="/status"`)

	code, _ = get(t, ts.URL+"/nope")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestStatus(t *testing.T) {
	stats := fixedStats{Running: true, SamplingRate: 40, PendingChunks: 2, BufferedSamples: 17, WindowsEmitted: 9}
	_, ts := testServer(t, WithStats("IU.ANMO.00.BHZ", stats))

	code, body := get(t, ts.URL+"/status")
	assert.Equal(t, http.StatusOK, code)

	var got statusResponse
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	assert.Equal(t, statusResponse{
		Station:         "IU.ANMO.00.BHZ",
		Running:         true,
		SamplingRate:    40,
		PendingChunks:   2,
		BufferedSamples: 17,
		WindowsEmitted:  9,
	}, got)
}

func TestWebSocketThroughLogMiddleware(t *testing.T) {
	hub := sink.NewHub("IU.ANMO.00.BHZ", nil, nil)
	defer hub.Close()
	_, ts := testServer(t, WithHandler("/ws/windows", hub))

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws/windows", nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
	hub.Handle(acquisition.Window{Seq: 1, SampleRate: 20, Samples: []float64{0.25}})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"seq":1,"station":"IU.ANMO.00.BHZ","sample_rate":20,"samples":[0.25]}`, string(data))
}

func TestStartAndShutdown(t *testing.T) {
	reg := prometheus.NewRegistry()
	cfg := config.NewDefaultConfig().Server
	cfg.Addr = "127.0.0.1:0"
	s := NewHTTPServer(cfg, nil, reg)

	require.NoError(t, s.Start())
	addr := s.Addr()
	assert.NotEqual(t, "127.0.0.1:0", addr)

	code, _ := get(t, "http://"+addr+"/health")
	assert.Equal(t, http.StatusOK, code)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	_, err := http.Get("http://" + addr + "/health")
	assert.Error(t, err)
}

func TestStartFailsOnBusyAddress(t *testing.T) {
	first := NewHTTPServer(config.ServerConfig{Addr: "127.0.0.1:0"}, nil, prometheus.NewRegistry())
	require.NoError(t, first.Start())
	defer first.Shutdown(context.Background())

	second := NewHTTPServer(config.ServerConfig{Addr: first.Addr()}, nil, prometheus.NewRegistry())
	assert.Error(t, second.Start())
}
