package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wave-collector/pkg/config"
	"github.com/wave-collector/pkg/logger"
	"github.com/wave-collector/pkg/metrics"
)

// fdsnTimeLayout is the dataselect start/end format, always in UTC.
const fdsnTimeLayout = "2006-01-02T15:04:05"

// decoderGrace is how long a decoder gets to exit after its timeout before it is killed.
const decoderGrace = 2 * time.Second

// FDSNCollector downloads miniSEED from an FDSN dataselect service and decodes it
// with an external tool whose text output goes through a TextParser.
type FDSNCollector struct {
	name    string
	cfg     config.FDSNSourceConfig
	station Station
	sink    Sink
	log     *zap.Logger
	metrics *metrics.CollectorMetrics
	client  *http.Client
	now     func() time.Time

	// scratch is private to this instance and removed on Close.
	scratch string

	mu        sync.Mutex
	watermark time.Time
	lastCheck time.Time

	busy   atomic.Bool
	wg     sync.WaitGroup
	errLog rate.Sometimes
}

func NewFDSNCollector(cfg config.FDSNSourceConfig, station Station, sink Sink, m *metrics.CollectorMetrics) *FDSNCollector {
	name := "fdsn-collector"
	now := time.Now()
	return &FDSNCollector{
		name:      name,
		cfg:       cfg,
		station:   station,
		sink:      sink,
		log:       logger.Named(name).With(zap.String("station", station.String())),
		metrics:   m,
		client:    &http.Client{Timeout: cfg.LimitTime},
		now:       time.Now,
		scratch:   filepath.Join(cfg.ScratchDir, "wave-fdsn-"+uuid.NewString()),
		watermark: now,
		lastCheck: now,
		errLog:    rate.Sometimes{First: 3, Interval: 30 * time.Second},
	}
}

func (f *FDSNCollector) Name() string { return f.name }

// ScratchDir is where downloads are written while they are decoded.
func (f *FDSNCollector) ScratchDir() string { return f.scratch }

func (f *FDSNCollector) Init() error {
	if err := os.MkdirAll(f.scratch, 0o700); err != nil {
		return fmt.Errorf("%w: create scratch dir: %w", ErrIO, err)
	}

	now := f.now()
	f.mu.Lock()
	f.watermark = now
	f.lastCheck = now
	f.mu.Unlock()

	f.log.Info("fdsn polling started",
		zap.String("base_url", f.cfg.BaseURL),
		zap.Duration("download_interval", f.cfg.DownloadInterval))
	return nil
}

// Collect starts one background download once per check interval, when a full
// download interval is available past the watermark. A watermark older than the
// staleness limit is moved up to now minus the limit.
func (f *FDSNCollector) Collect(ctx context.Context) error {
	if f.busy.Load() {
		return nil
	}

	now := f.now()
	f.mu.Lock()
	if now.Sub(f.lastCheck) < f.cfg.CheckInterval {
		f.mu.Unlock()
		return nil
	}
	f.lastCheck = now

	target := f.watermark.Add(f.cfg.DownloadInterval)
	if now.Before(target) || !f.busy.CompareAndSwap(false, true) {
		f.mu.Unlock()
		return nil
	}
	if now.Sub(target) > f.cfg.LimitTime {
		f.watermark = now.Add(-f.cfg.LimitTime)
		target = f.watermark.Add(f.cfg.DownloadInterval)
	}
	begin := f.watermark
	f.mu.Unlock()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer f.busy.Store(false)

		if err := f.Fetch(ctx, begin, target); err != nil {
			f.fail(err)
		}
	}()
	return nil
}

func (f *FDSNCollector) Close() error {
	now := f.now()
	f.mu.Lock()
	f.watermark = now
	f.lastCheck = now
	f.mu.Unlock()
	f.busy.Store(false)

	if err := os.RemoveAll(f.scratch); err != nil {
		return fmt.Errorf("%w: remove scratch dir: %w", ErrIO, err)
	}
	f.log.Info("fdsn polling stopped")
	return nil
}

// Wait blocks until every background download has returned.
func (f *FDSNCollector) Wait() { f.wg.Wait() }

func (f *FDSNCollector) Busy() bool { return f.busy.Load() }

// Watermark is the end of the last non-empty download.
func (f *FDSNCollector) Watermark() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watermark
}

// QueryURL renders the dataselect query for [begin, end).
func (f *FDSNCollector) QueryURL(begin, end time.Time) string {
	sep := "?"
	if strings.Contains(f.cfg.BaseURL, "?") {
		sep = "&"
	}
	q := []string{
		"net=" + url.QueryEscape(f.station.Network),
		"sta=" + url.QueryEscape(f.station.Station),
		"loc=" + url.QueryEscape(f.station.locationOrDash()),
		"cha=" + url.QueryEscape(f.station.Channel),
		"start=" + begin.UTC().Format(fdsnTimeLayout),
		"end=" + end.UTC().Format(fdsnTimeLayout),
	}
	return f.cfg.BaseURL + sep + strings.Join(q, "&")
}

// Fetch downloads [begin, end), advances the watermark to end when the body is
// non-empty, and decodes the file into the sink. An empty body is not an error.
func (f *FDSNCollector) Fetch(ctx context.Context, begin, end time.Time) error {
	start := time.Now()
	defer func() {
		if f.metrics != nil {
			f.metrics.FetchDuration.Observe(time.Since(start).Seconds())
		}
	}()

	file := filepath.Join(f.scratch, uuid.NewString()+".mseed")
	defer os.Remove(file)

	n, err := f.download(ctx, f.QueryURL(begin, end), file)
	if err != nil {
		return err
	}
	if n == 0 {
		f.log.Debug("fdsn download empty, retrying next cycle",
			zap.Time("begin", begin), zap.Time("end", end))
		return nil
	}

	f.mu.Lock()
	f.watermark = end
	f.mu.Unlock()

	return f.decode(ctx, file)
}

func (f *FDSNCollector) download(ctx context.Context, rawURL, file string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: build request: %w", ErrIO, err)
	}
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: GET %s: %w", ErrIO, rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return 0, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("%w: GET %s: status %s", ErrIO, rawURL, resp.Status)
	}

	out, err := os.Create(file)
	if err != nil {
		return 0, fmt.Errorf("%w: create %s: %w", ErrIO, file, err)
	}
	n, err := io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("%w: write %s: %w", ErrIO, file, err)
	}
	return n, nil
}

func (f *FDSNCollector) decode(ctx context.Context, file string) error {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.DecodeTimeout)
	defer cancel()

	parser := NewTextParser(withChunkCount(f.sink, f.metrics), FDSNHeader)
	var parseErrs []error
	tool, err := startTool(f.cfg.DecoderPath, []string{"-D", file}, func(line string) {
		if err := parser.Feed(line + "\n"); err != nil {
			parseErrs = append(parseErrs, err)
		}
	})
	if err != nil {
		return err
	}

	// the reader goroutine has exited when wait returns, so parseErrs is complete
	waitErr := tool.wait(ctx, decoderGrace)
	return errors.Join(waitErr, errors.Join(parseErrs...))
}

func (f *FDSNCollector) fail(err error) {
	kind := Classify(err)
	if f.metrics != nil {
		f.metrics.Errors.WithLabelValues(string(kind)).Inc()
	}
	f.errLog.Do(func() {
		f.log.Warn("fdsn download failed", zap.String("kind", string(kind)), zap.Error(err))
	})
}
