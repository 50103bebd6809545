package acquisition

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/wave-collector/pkg/metrics"
)

// dispatcher delivers windows to subscribers from one goroutine per run, in enqueue
// order. The queue is unbounded so the tick never waits on a slow subscriber.
type dispatcher struct {
	log     *zap.Logger
	metrics *metrics.CoreMetrics

	subsMu sync.RWMutex
	subs   []WindowHandler

	mu    sync.Mutex
	run   *dispatchRun
	queue []Window
}

// dispatchRun is the lifetime of one delivery goroutine.
type dispatchRun struct {
	wake chan struct{}
	quit chan struct{}
}

func newDispatcher(log *zap.Logger, m *metrics.CoreMetrics) *dispatcher {
	return &dispatcher{log: log, metrics: m}
}

func (d *dispatcher) subscribe(h WindowHandler) {
	if h == nil {
		return
	}
	d.subsMu.Lock()
	d.subs = append(d.subs, h)
	d.subsMu.Unlock()
}

func (d *dispatcher) start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.run != nil {
		return
	}
	r := &dispatchRun{
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
	}
	d.run = r
	d.queue = nil
	go d.loop(r)
}

// stop drops undelivered windows. It does not wait for a subscriber that is still
// running; that call completes in the background.
func (d *dispatcher) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.run == nil {
		return
	}
	close(d.run.quit)
	d.run = nil
	d.queue = nil
}

// enqueue reports false when no run is active and the window was dropped.
func (d *dispatcher) enqueue(w Window) bool {
	d.mu.Lock()
	r := d.run
	if r == nil {
		d.mu.Unlock()
		return false
	}
	d.queue = append(d.queue, w)
	d.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
	return true
}

func (d *dispatcher) next(r *dispatchRun) (Window, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.run != r || len(d.queue) == 0 {
		return Window{}, false
	}
	w := d.queue[0]
	d.queue[0] = Window{}
	d.queue = d.queue[1:]
	return w, true
}

func (d *dispatcher) loop(r *dispatchRun) {
	for {
		select {
		case <-r.quit:
			return
		case <-r.wake:
		}
		for {
			w, ok := d.next(r)
			if !ok {
				break
			}
			d.deliver(w)
		}
	}
}

func (d *dispatcher) deliver(w Window) {
	d.subsMu.RLock()
	subs := d.subs
	d.subsMu.RUnlock()

	for _, h := range subs {
		d.safeCall(h, w)
	}
}

func (d *dispatcher) safeCall(h WindowHandler, w Window) {
	defer func() {
		if r := recover(); r != nil {
			if d.metrics != nil {
				d.metrics.SubscriberPanic.Inc()
			}
			d.log.Error("window subscriber panicked",
				zap.Uint64("seq", w.Seq),
				zap.Error(fmt.Errorf("%v", r)))
		}
	}()
	h(w)
}
