package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/poyrazK/enforcerd/internal/infrastructure/metrics"
)

// ErrDeferTransient signals that a task handler hit a transient failure
// and should be re-queued with backoff rather than treated as a bug.
var ErrDeferTransient = errors.New("defer: transient failure")

// Handler runs one task to completion. Returning ErrDeferTransient (or
// anything wrapping it) triggers backoff re-queueing instead of being
// logged as an invariant violation.
type Handler func(ctx context.Context, task *Task) error

// Pool is a fixed-size worker pool draining a Queue, grounded on the
// ticker-plus-select shutdown shape the daemon already uses for its
// background maintenance loop.
type Pool struct {
	queue       *Queue
	clock       Clock
	handlers    map[string]Handler
	workers     int
	baseBackoff int64
	maxBackoff  int
	logger      *slog.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	stopped  bool
	wg       sync.WaitGroup
}

// Clock is the narrow time source the pool needs; scheduler.RealClock and
// scheduler.VirtualClock both satisfy it.
type Clock interface {
	Now() int64
}

// Config controls pool sizing and backoff behavior.
type Config struct {
	Workers     int
	BaseBackoff int64 // seconds
	MaxBackoff  int    // max doublings
}

// NewPool returns a Pool ready to Start.
func NewPool(queue *Queue, clock Clock, handlers map[string]Handler, cfg Config, logger *slog.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		queue:       queue,
		clock:       clock,
		handlers:    handlers,
		workers:     cfg.Workers,
		baseBackoff: cfg.BaseBackoff,
		maxBackoff:  cfg.MaxBackoff,
		logger:      logger,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Enqueue wakes any waiting worker after adding a task to the queue.
func (p *Pool) Enqueue(kind, target string, dueAt int64) {
	p.mu.Lock()
	p.queue.Enqueue(kind, target, dueAt)
	metrics.QueueDepth.WithLabelValues(kind).Set(float64(p.queue.Len()))
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Flush advances every task of kind to due now.
func (p *Pool) Flush(kind string) {
	p.mu.Lock()
	p.queue.Flush(kind, p.clock.Now())
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Start launches the worker pool; it returns once every worker has exited,
// which happens after ctx is cancelled and in-flight tasks complete.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.runWorker(ctx)
	}

	go func() {
		<-ctx.Done()
		p.mu.Lock()
		p.stopped = true
		p.cond.Broadcast()
		p.mu.Unlock()
	}()

	go p.wakeLoop(ctx)

	p.wg.Wait()
}

// wakeLoop periodically broadcasts so a worker parked in cond.Wait
// notices a task whose due-time has since passed even though nothing new
// was enqueued in the meantime.
func (p *Pool) wakeLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.WakeAll()
		}
	}
}

func (p *Pool) runWorker(ctx context.Context) {
	defer p.wg.Done()

	for {
		task := p.waitForDue(ctx)
		if task == nil {
			return
		}

		metrics.ActiveWorkers.Inc()
		handler, ok := p.handlers[task.Kind]
		var err error
		if ok {
			err = handler(ctx, task)
		} else {
			p.logger.Error("no handler registered for task kind", "kind", task.Kind, "target", task.Target)
		}
		metrics.ActiveWorkers.Dec()

		if err != nil {
			if errors.Is(err, ErrDeferTransient) {
				p.mu.Lock()
				p.queue.Requeue(task, p.clock.Now(), p.baseBackoff, p.maxBackoff)
				metrics.TaskBackoffTotal.WithLabelValues(task.Kind).Inc()
				p.cond.Broadcast()
				p.mu.Unlock()
			} else {
				p.logger.Error("task failed", "kind", task.Kind, "target", task.Target, "error", err)
			}
		}
	}
}

// waitForDue blocks until a due task is available, the pool is stopped, or
// ctx is cancelled, mirroring the daemon's ctx.Done()-observed shutdown
// branch elsewhere in the process.
func (p *Pool) waitForDue(ctx context.Context) *Task {
	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		if ctx.Err() != nil || p.stopped {
			return nil
		}
		if t := p.queue.PopDue(p.clock.Now()); t != nil {
			return t
		}
		p.cond.Wait()
	}
}

// WakeAll is exported for the scheduler's self-pipe analogue: a periodic
// nudge in case a due-time passed while every worker was already blocked
// in cond.Wait with nothing new enqueued.
func (p *Pool) WakeAll() {
	p.mu.Lock()
	p.cond.Broadcast()
	p.mu.Unlock()
}
