package collector

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wave-collector/pkg/config"
	"github.com/wave-collector/pkg/logger"
	"github.com/wave-collector/pkg/metrics"
)

// WinstonCollector polls a Winston wave server with GETWAVERAW on its own cadence.
// Each request opens a fresh connection.
type WinstonCollector struct {
	name    string
	cfg     config.WinstonSourceConfig
	station Station
	sink    Sink
	log     *zap.Logger
	metrics *metrics.CollectorMetrics
	now     func() time.Time

	mu        sync.Mutex
	watermark time.Time

	busy   atomic.Bool
	wg     sync.WaitGroup
	errLog rate.Sometimes
}

func NewWinstonCollector(cfg config.WinstonSourceConfig, station Station, sink Sink, m *metrics.CollectorMetrics) *WinstonCollector {
	name := "winston-collector"
	return &WinstonCollector{
		name:      name,
		cfg:       cfg,
		station:   station,
		sink:      sink,
		log:       logger.Named(name).With(zap.String("station", station.String())),
		metrics:   m,
		now:       time.Now,
		watermark: time.Now(),
		errLog:    rate.Sometimes{First: 3, Interval: 30 * time.Second},
	}
}

func (w *WinstonCollector) Name() string { return w.name }

func (w *WinstonCollector) Init() error {
	w.mu.Lock()
	w.watermark = w.now()
	w.mu.Unlock()
	w.log.Info("winston polling started",
		zap.String("server", w.addr()),
		zap.Duration("check_delay", w.cfg.CheckDelay),
		zap.Bool("big_endian", w.cfg.BigEndian))
	return nil
}

// Collect issues one background request when the check delay has elapsed and no
// request is in flight. A gap longer than the limit is shortened to one check delay.
func (w *WinstonCollector) Collect(ctx context.Context) error {
	if !w.busy.CompareAndSwap(false, true) {
		return nil
	}

	now := w.now()
	w.mu.Lock()
	elapsed := now.Sub(w.watermark)
	if elapsed < w.cfg.CheckDelay {
		w.mu.Unlock()
		w.busy.Store(false)
		return nil
	}
	if elapsed > w.cfg.LimitTime {
		w.watermark = now.Add(-w.cfg.CheckDelay)
	}
	begin := w.watermark
	w.watermark = now
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.busy.Store(false)

		if err := w.Fetch(ctx, begin, now); err != nil {
			w.fail(err)
		}
	}()
	return nil
}

// Close waits for nothing; a request still in flight finishes in the background.
func (w *WinstonCollector) Close() error {
	w.mu.Lock()
	w.watermark = w.now()
	w.mu.Unlock()
	w.log.Info("winston polling stopped")
	return nil
}

// Wait blocks until every background request has returned.
func (w *WinstonCollector) Wait() { w.wg.Wait() }

// Busy reports whether a request is in flight.
func (w *WinstonCollector) Busy() bool { return w.busy.Load() }

func (w *WinstonCollector) addr() string {
	return net.JoinHostPort(w.cfg.Host, strconv.Itoa(w.cfg.Port))
}

func (w *WinstonCollector) ioTimeout() time.Duration {
	if t := w.cfg.LimitTime / 2; t > 0 {
		return t
	}
	return 15 * time.Second
}

// Fetch requests [begin, end) and forwards the decoded chunk to the sink.
func (w *WinstonCollector) Fetch(ctx context.Context, begin, end time.Time) error {
	start := time.Now()
	defer func() {
		if w.metrics != nil {
			w.metrics.FetchDuration.Observe(time.Since(start).Seconds())
		}
	}()

	timeout := w.ioTimeout()
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", w.addr())
	if err != nil {
		return fmt.Errorf("%w: dial %s: %w", ErrIO, w.addr(), err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("%w: set deadline: %w", ErrIO, err)
	}

	beginJ, endJ := ToJ2000(begin), ToJ2000(end)
	if _, err := io.WriteString(conn, FormatWaveRawRequest(w.station, beginJ, endJ)); err != nil {
		return fmt.Errorf("%w: write request: %w", ErrIO, err)
	}

	r := bufio.NewReader(conn)
	header, err := r.ReadString('\n')
	if err != nil {
		return fmt.Errorf("%w: read header: %w", ErrIO, err)
	}
	length, err := ParseWaveRawHeader(header)
	if err != nil {
		return err
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("%w: read %d byte payload: %w", ErrIO, length, err)
	}

	wave, err := DecodeWaveRaw(payload, w.cfg.BigEndian)
	if err != nil {
		return err
	}
	if err := wave.Validate(beginJ); err != nil {
		return err
	}

	w.sink.ReserveChunk(int(wave.Count), wave.SampleRate)
	for _, s := range wave.Samples {
		w.sink.AppendSample(int(s))
	}
	if w.metrics != nil {
		w.metrics.ChunksDecoded.Inc()
	}
	w.log.Debug("winston chunk received",
		zap.Int32("samples", wave.Count),
		zap.Float64("rate", wave.SampleRate))
	return nil
}

func (w *WinstonCollector) fail(err error) {
	kind := Classify(err)
	if w.metrics != nil {
		w.metrics.Errors.WithLabelValues(string(kind)).Inc()
	}
	w.errLog.Do(func() {
		w.log.Warn("winston request failed", zap.String("kind", string(kind)), zap.Error(err))
	})
}
