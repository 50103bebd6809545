package registers

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wave-collector/pkg/acquisition"
	"github.com/wave-collector/pkg/collector"
	"github.com/wave-collector/pkg/config"
)

type recordingSink struct {
	mu      sync.Mutex
	windows []acquisition.Window
	closed  bool
}

func (r *recordingSink) Handle(w acquisition.Window) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.windows = append(r.windows, w)
}

func (r *recordingSink) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *recordingSink) Windows() []acquisition.Window {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]acquisition.Window(nil), r.windows...)
}

// winstonConfig points at a closed port: Init never dials, so the station starts.
func winstonConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Source.Kind = config.SourceWinston
	cfg.Source.TickDelay = 10 * time.Millisecond
	cfg.Source.Winston.Host = "127.0.0.1"
	cfg.Source.Winston.Port = 1
	return cfg
}

func TestRegisterCollectorFollowsSourceKind(t *testing.T) {
	_, factory := InitPromRegistry(false)
	cases := map[string]string{
		config.SourceSLink:   "slink-collector",
		config.SourceWinston: "winston-collector",
		config.SourceFDSN:    "fdsn-collector",
	}
	for kind, want := range cases {
		cfg := config.NewDefaultConfig()
		cfg.Source.Kind = kind
		c, err := RegisterCollector(cfg, &recordingCoreSink{}, factory)
		require.NoError(t, err, kind)
		assert.Equal(t, want, c.Name())
	}

	cfg := config.NewDefaultConfig()
	cfg.Source.Kind = "seedlink-v4"
	_, err := RegisterCollector(cfg, &recordingCoreSink{}, factory)
	assert.Error(t, err)
}

type recordingCoreSink struct{}

func (recordingCoreSink) ReserveChunk(int, float64) {}
func (recordingCoreSink) AppendSample(int)          {}

var _ collector.Sink = recordingCoreSink{}

func TestStationDeliversWindowsToSinks(t *testing.T) {
	reg, factory := InitPromRegistry(false)
	rec := &recordingSink{}
	cfg := winstonConfig()

	st, err := NewStation(cfg, factory, WithSink(rec))
	require.NoError(t, err)
	require.NotNil(t, st.Hub())
	assert.Equal(t, "winston-collector", st.Collector().Name())

	require.NoError(t, st.Start())
	assert.True(t, st.Stats().Running)

	core := st.Core()
	core.ReserveChunk(5, 100)
	for _, v := range []int{10, 12, 9, 14, 11} {
		core.AppendSample(v)
	}

	require.Eventually(t, func() bool { return len(rec.Windows()) == 1 }, 2*time.Second, 10*time.Millisecond)
	w := rec.Windows()[0]
	assert.Equal(t, 100.0, w.SampleRate)
	assert.Len(t, w.Samples, 4)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, st.Shutdown(ctx))

	assert.False(t, st.Stats().Running)
	assert.True(t, rec.closed)
	assert.Equal(t, 0, st.Hub().Clients())

	n, err := testutil.GatherAndCount(reg, "wave_acquisition_windows_emitted_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStationWithoutWebSocket(t *testing.T) {
	_, factory := InitPromRegistry(false)
	cfg := winstonConfig()
	cfg.Sink.WebSocket.Enable = false

	st, err := NewStation(cfg, factory)
	require.NoError(t, err)
	assert.Nil(t, st.Hub())
	require.NoError(t, st.Shutdown(context.Background()))
}

func TestStationFailsOnUnreachableNATS(t *testing.T) {
	_, factory := InitPromRegistry(false)
	cfg := winstonConfig()
	cfg.Sink.NATS.URL = "nats://127.0.0.1:1"

	_, err := NewStation(cfg, factory)
	assert.Error(t, err)
}

func TestInitPromRegistryWithProcessMetrics(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("process metrics are read from /proc")
	}
	reg, factory := InitPromRegistry(true)
	require.NotNil(t, factory)

	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "process_start_time_seconds")
}
