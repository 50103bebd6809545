// Package acquisition reconstructs a filtered waveform from irregular chunks of raw
// samples and cuts it into windows, one per announced chunk.
package acquisition

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wave-collector/pkg/collector"
	"github.com/wave-collector/pkg/logger"
	"github.com/wave-collector/pkg/metrics"
	"github.com/wave-collector/pkg/scheduler"
)

const DefaultTickDelay = 200 * time.Millisecond

// Core owns the pending-chunk queue, the filtered sample buffer and the filter state.
// Producers call ReserveChunk and AppendSample from any goroutine; the core's own
// scheduler drains completed windows. The queue and the buffer are guarded by
// separate mutexes that are never held together.
type Core struct {
	stream  string
	log     *zap.Logger
	metrics *metrics.CoreMetrics
	sched   *scheduler.Scheduler
	disp    *dispatcher

	collector collector.Collector

	markersMu sync.Mutex
	markers   []int

	bufMu  sync.Mutex
	buf    []float64
	filter differencer

	rate    atomic.Uint64 // math.Float64bits of the last positive rate
	seq     atomic.Uint64
	emitted atomic.Uint64
}

type Option func(*coreOptions)

type coreOptions struct {
	delay        time.Duration
	log          *zap.Logger
	metrics      *metrics.CoreMetrics
	schedMetrics *metrics.SchedulerMetrics
}

// WithTickDelay overrides DefaultTickDelay.
func WithTickDelay(d time.Duration) Option {
	return func(o *coreOptions) { o.delay = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *coreOptions) { o.log = l }
}

// WithMetrics wires the core's instruments; nil values turn metrics off.
func WithMetrics(core *metrics.CoreMetrics, sched *metrics.SchedulerMetrics) Option {
	return func(o *coreOptions) {
		o.metrics = core
		o.schedMetrics = sched
	}
}

// NewCore creates a stopped core for one stream id (NET.STA.LOC.CHA).
func NewCore(stream string, opts ...Option) *Core {
	o := coreOptions{delay: DefaultTickDelay}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Named("acquisition").With(zap.String("stream", stream))
	}

	c := &Core{
		stream:  stream,
		log:     o.log,
		metrics: o.metrics,
		disp:    newDispatcher(o.log, o.metrics),
	}
	hooks := scheduler.HookFuncs{
		SetupFunc:    c.setup,
		TickFunc:     c.tick,
		TeardownFunc: c.teardown,
	}
	c.sched = scheduler.New("acquisition", o.delay, hooks,
		scheduler.WithLogger(o.log),
		scheduler.WithMetrics(o.schedMetrics))
	return c
}

// Attach sets the collector driven by this core. It must be called while stopped.
func (c *Core) Attach(col collector.Collector) {
	c.collector = col
}

// Subscribe registers h for every window emitted from now on.
func (c *Core) Subscribe(h WindowHandler) {
	c.disp.subscribe(h)
}

func (c *Core) Stream() string { return c.stream }

// Start restarts the core if it is running, then initializes the attached collector
// and begins ticking.
func (c *Core) Start() error {
	return c.sched.Start()
}

// Stop blocks until the tick loop has exited, closes the collector and clears all
// acquisition state. Windows not yet delivered are dropped.
func (c *Core) Stop() {
	c.sched.Stop()
}

func (c *Core) Running() bool { return c.sched.Running() }

// ReserveChunk announces a chunk of count raw samples. Because the first raw sample
// only seeds the filter, count-1 filtered samples complete the chunk's window.
func (c *Core) ReserveChunk(count int, rateHz float64) {
	if rateHz > 0 {
		c.rate.Store(math.Float64bits(rateHz))
		if c.metrics != nil {
			c.metrics.SamplingRate.Set(rateHz)
		}
	}

	if count > 1 {
		c.markersMu.Lock()
		c.markers = append(c.markers, count-1)
		pending := len(c.markers)
		c.markersMu.Unlock()

		if c.metrics != nil {
			c.metrics.ChunksReserved.Inc()
			c.metrics.PendingChunks.Set(float64(pending))
		}
	}

	c.bufMu.Lock()
	c.filter.reset()
	c.bufMu.Unlock()
}

// AppendSample feeds one raw sample through the filter.
func (c *Core) AppendSample(raw int) {
	c.bufMu.Lock()
	filtered, ok := c.filter.next(float64(raw))
	if ok {
		c.buf = append(c.buf, filtered)
	}
	buffered := len(c.buf)
	c.bufMu.Unlock()

	if ok && c.metrics != nil {
		c.metrics.SamplesAppended.Inc()
		c.metrics.BufferedSamples.Set(float64(buffered))
	}
}

// SamplingRate returns the last positive rate reported, or 0.
func (c *Core) SamplingRate() float64 {
	return math.Float64frombits(c.rate.Load())
}

func (c *Core) Stats() Stats {
	c.markersMu.Lock()
	pending := len(c.markers)
	c.markersMu.Unlock()

	c.bufMu.Lock()
	buffered := len(c.buf)
	c.bufMu.Unlock()

	return Stats{
		PendingChunks:   pending,
		BufferedSamples: buffered,
		SamplingRate:    c.SamplingRate(),
		WindowsEmitted:  c.emitted.Load(),
		Running:         c.Running(),
	}
}

func (c *Core) setup() error {
	c.reset()
	c.seq.Store(0)
	c.disp.start()

	if c.collector != nil {
		if err := c.collector.Init(); err != nil {
			c.disp.stop()
			return err
		}
		c.log.Info("collector started", zap.String("collector", c.collector.Name()))
	}
	return nil
}

// tick cuts at most one window, then lets the collector do its per-tick work.
func (c *Core) tick(ctx context.Context) error {
	c.drainOne()

	if c.collector == nil {
		return nil
	}
	return c.collector.Collect(ctx)
}

func (c *Core) teardown() {
	if c.collector != nil {
		if err := c.collector.Close(); err != nil {
			lvl := zap.WarnLevel
			if !errors.Is(err, collector.ErrShutdownTimeout) {
				lvl = zap.ErrorLevel
			}
			c.log.Log(lvl, "collector close failed",
				zap.String("collector", c.collector.Name()),
				zap.String("kind", string(collector.Classify(err))),
				zap.Error(err))
		}
	}
	c.disp.stop()
	c.reset()
}

// drainOne emits the oldest pending window if the buffer holds enough samples.
// Only the tick goroutine removes markers, so the peeked head is still the head
// when it is popped.
func (c *Core) drainOne() bool {
	c.markersMu.Lock()
	if len(c.markers) == 0 {
		c.markersMu.Unlock()
		return false
	}
	need := c.markers[0]
	c.markersMu.Unlock()

	c.bufMu.Lock()
	if len(c.buf) < need {
		c.bufMu.Unlock()
		return false
	}
	samples := make([]float64, need)
	copy(samples, c.buf[:need])
	c.buf = append(c.buf[:0], c.buf[need:]...)
	buffered := len(c.buf)
	c.bufMu.Unlock()

	c.markersMu.Lock()
	if len(c.markers) > 0 {
		c.markers = c.markers[1:]
	}
	pending := len(c.markers)
	c.markersMu.Unlock()

	w := Window{
		Seq:        c.seq.Add(1),
		SampleRate: c.SamplingRate(),
		Samples:    samples,
	}
	c.emitted.Add(1)
	c.disp.enqueue(w)

	if c.metrics != nil {
		c.metrics.WindowsEmitted.Inc()
		c.metrics.PendingChunks.Set(float64(pending))
		c.metrics.BufferedSamples.Set(float64(buffered))
	}
	return true
}

func (c *Core) reset() {
	c.markersMu.Lock()
	c.markers = nil
	c.markersMu.Unlock()

	c.bufMu.Lock()
	c.buf = nil
	c.filter.reset()
	c.bufMu.Unlock()

	if c.metrics != nil {
		c.metrics.PendingChunks.Set(0)
		c.metrics.BufferedSamples.Set(0)
	}
}
