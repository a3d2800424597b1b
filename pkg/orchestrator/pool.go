package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/otherjamesbrown/metacam-ingest/pkg/drivemonitor"
	"github.com/otherjamesbrown/metacam-ingest/pkg/metrics"
)

// workerStatus mirrors the lifecycle states a fixed-size worker moves
// through, the same shape this module's queue-backed worker pools use.
type workerStatus string

const (
	workerStarting workerStatus = "starting"
	workerHealthy  workerStatus = "healthy"
	workerDraining workerStatus = "draining"
	workerStopped  workerStatus = "stopped"
)

// handleFunc processes one descriptor and reports whether it succeeded.
type handleFunc func(ctx context.Context, d drivemonitor.Descriptor) bool

// worker pulls descriptors off a shared channel until told to stop.
type worker struct {
	id     string
	status workerStatus

	processed atomic.Int64
	failed    atomic.Int64

	startedAt    time.Time
	lastActivity time.Time

	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

func newWorker() *worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &worker{
		id:         uuid.NewString(),
		status:     workerStarting,
		ctx:        ctx,
		cancelFunc: cancel,
	}
}

func (w *worker) start(in <-chan drivemonitor.Descriptor, handle handleFunc) {
	w.startedAt = time.Now()
	w.status = workerHealthy
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(in, handle)
	}()
}

// stop cancels the worker's context and waits up to timeout for its
// current descriptor, if any, to reach a terminal state. Once timeout
// elapses the worker is considered stopped regardless: cancellation
// has already propagated into the in-flight ctx, and pkg/processing's
// own SIGTERM/SIGKILL handling takes it from there.
func (w *worker) stop(timeout time.Duration) {
	w.status = workerDraining
	w.cancelFunc()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
	}
	w.status = workerStopped
}

func (w *worker) run(in <-chan drivemonitor.Descriptor, handle handleFunc) {
	for {
		select {
		case <-w.ctx.Done():
			return
		case d, ok := <-in:
			if !ok {
				return
			}
			w.lastActivity = time.Now()
			if handle(w.ctx, d) {
				w.processed.Add(1)
			} else {
				w.failed.Add(1)
			}
		}
	}
}

// pool runs a fixed number of workers against a shared descriptor
// channel, bounding MAX_CONCURRENT_DOWNLOADS the same way this module's
// other worker pools bound queue concurrency.
type pool struct {
	count           int
	shutdownTimeout time.Duration

	mu      sync.RWMutex
	workers []*worker
}

func newPool(count int, shutdownTimeout time.Duration) *pool {
	return &pool{
		count:           count,
		shutdownTimeout: shutdownTimeout,
		workers:         make([]*worker, 0, count),
	}
}

func (p *pool) start(in <-chan drivemonitor.Descriptor, handle handleFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < p.count; i++ {
		w := newWorker()
		w.start(in, handle)
		p.workers = append(p.workers, w)
	}
}

func (p *pool) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range p.workers {
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()
			w.stop(p.shutdownTimeout)
		}(w)
	}
	wg.Wait()
}

type poolStats struct {
	WorkerCount int
	ActiveCount int
	Processed   int64
	Failed      int64
}

func (p *pool) stats() poolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := poolStats{WorkerCount: len(p.workers)}
	for _, w := range p.workers {
		if w.status == workerHealthy {
			stats.ActiveCount++
		}
		stats.Processed += w.processed.Load()
		stats.Failed += w.failed.Load()
	}
	return stats
}

// reportUtilization publishes the pool's busy fraction to
// metrics.WorkerPoolUtilization.
func (p *pool) reportUtilization() {
	stats := p.stats()
	if stats.WorkerCount == 0 {
		metrics.WorkerPoolUtilization.Set(0)
		return
	}
	metrics.WorkerPoolUtilization.Set(float64(stats.ActiveCount) / float64(stats.WorkerCount))
}
