// Package worker runs the back office's background jobs: replication
// dispatch off the lifecycle hooks, the commission settlement sweep and the
// ledger reconciliation job. Each job is a named goroutine owned by the
// Dispatcher; a job name can run at most once at a time, which gives
// hook-driven dispatch the same idempotency key the storage layer enforces.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fxCopyDesk/internal/ports"
)

var (
	ErrEmptyJobName   = errors.New("worker: empty job name")
	ErrNilJobFunc     = errors.New("worker: nil job func")
	ErrJobRunning     = errors.New("worker: job already running")
	ErrJobNotFound    = errors.New("worker: job not found")
	ErrDispatcherDown = errors.New("worker: dispatcher stopped")
)

// JobFunc is one unit of background work bound to a job-scoped context.
type JobFunc func(ctx context.Context) error

type job struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
}

// Dispatcher tracks named background jobs and tears them down together on
// shutdown.
type Dispatcher struct {
	logger ports.Logger

	mu      sync.Mutex
	baseCtx context.Context
	baseCan context.CancelFunc
	jobs    map[string]*job
	stopped bool
}

// NewDispatcher creates a dispatcher whose jobs are children of ctx.
func NewDispatcher(ctx context.Context, logger ports.Logger) *Dispatcher {
	if ctx == nil {
		ctx = context.Background()
	}
	baseCtx, baseCan := context.WithCancel(ctx)
	return &Dispatcher{
		logger:  logger,
		baseCtx: baseCtx,
		baseCan: baseCan,
		jobs:    make(map[string]*job),
	}
}

// Dispatch starts fn as a background job under the given name. A second
// dispatch under the same name while the first still runs returns
// ErrJobRunning; callers using event-derived names get at-most-once dispatch
// for free.
func (d *Dispatcher) Dispatch(name string, fn JobFunc) error {
	if name == "" {
		return ErrEmptyJobName
	}
	if fn == nil {
		return ErrNilJobFunc
	}

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return ErrDispatcherDown
	}
	if _, exists := d.jobs[name]; exists {
		d.mu.Unlock()
		return ErrJobRunning
	}
	ctx, cancel := context.WithCancel(d.baseCtx)
	j := &job{name: name, cancel: cancel, done: make(chan struct{})}
	d.jobs[name] = j
	d.mu.Unlock()

	go d.run(ctx, j, fn)
	return nil
}

// Every runs fn under the given name on a fixed interval until the
// dispatcher shuts down. The first run happens after one interval.
func (d *Dispatcher) Every(name string, interval time.Duration, fn JobFunc) error {
	return d.Dispatch(name, func(ctx context.Context) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := fn(ctx); err != nil {
					d.logger.Error(ctx, err, "Periodic job run failed", map[string]interface{}{"job": name})
				}
			}
		}
	})
}

// Stop cancels a single job by name and waits for it to finish.
func (d *Dispatcher) Stop(name string) error {
	if name == "" {
		return ErrEmptyJobName
	}
	d.mu.Lock()
	j, ok := d.jobs[name]
	d.mu.Unlock()
	if !ok {
		return ErrJobNotFound
	}
	j.cancel()
	<-j.done
	return nil
}

// Shutdown cancels every job and waits for all of them to finish.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	d.stopped = true
	running := make([]*job, 0, len(d.jobs))
	for _, j := range d.jobs {
		running = append(running, j)
	}
	d.mu.Unlock()

	d.baseCan()
	for _, j := range running {
		<-j.done
	}
}

// Running reports how many jobs are currently in flight.
func (d *Dispatcher) Running() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.jobs)
}

func (d *Dispatcher) run(ctx context.Context, j *job, fn JobFunc) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error(ctx, fmt.Errorf("%v", r), "Background job panicked", map[string]interface{}{"job": j.name})
		}
		d.mu.Lock()
		if current, ok := d.jobs[j.name]; ok && current == j {
			delete(d.jobs, j.name)
		}
		d.mu.Unlock()
		close(j.done)
	}()

	if err := fn(ctx); err != nil {
		d.logger.Error(ctx, err, "Background job failed", map[string]interface{}{"job": j.name})
	}
}
