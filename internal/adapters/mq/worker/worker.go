// Package worker runs queued refresh requests in the background.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/okian/medrank/internal/adapters/mq/queue"
	"github.com/okian/medrank/pkg/logger"
	"github.com/okian/medrank/pkg/metrics"
)

const (
	defaultJobTimeout   = 10 * time.Minute
	workerStopTimeout   = 5 * time.Second
	defaultPoolName     = "refresh-workers"
	defaultWorkerPrefix = "refresh-worker-"
)

// Handler executes one refresh request.
type Handler interface {
	HandleRefresh(ctx context.Context, r queue.Request) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, r queue.Request) error

// HandleRefresh implements Handler.
func (f HandlerFunc) HandleRefresh(ctx context.Context, r queue.Request) error { return f(ctx, r) }

// Source is where workers receive requests from.
type Source interface {
	Dequeue() <-chan queue.Request
}

// Worker drains requests from a Source one at a time.
type Worker struct {
	source  Source
	handler Handler
	name    string
	timeout time.Duration
	logger  logger.Logger
}

// New creates a worker.
func New(source Source, handler Handler, opts ...Option) *Worker {
	w := &Worker{
		source:  source,
		handler: handler,
		name:    "worker",
		timeout: defaultJobTimeout,
		logger:  logger.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named(w.name)
	return w
}

// Run processes requests until ctx is canceled or the source is closed.
func (w *Worker) Run(ctx context.Context) {
	requests := w.source.Dequeue()
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-requests:
			if !ok {
				return
			}
			metrics.RecordQueueDequeue()
			if err := w.process(ctx, r); err != nil {
				w.logger.Error(ctx, "refresh request failed",
					logger.String("request_id", r.ID),
					logger.String("reason", r.Reason),
					logger.Error(err),
				)
			}
		}
	}
}

func (w *Worker) process(ctx context.Context, r queue.Request) (err error) {
	start := time.Now()
	metrics.AddWorkerActive(1)
	defer func() {
		metrics.AddWorkerActive(-1)
		metrics.RecordWorkerJob(float64(time.Since(start).Milliseconds()), err != nil)
	}()

	jobCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	w.logger.Debug(ctx, "processing refresh request",
		logger.String("request_id", r.ID),
		logger.Int("periods", len(r.Periods)),
		logger.Duration("queued_for", start.Sub(r.RequestedAt)),
	)
	if err := w.handler.HandleRefresh(jobCtx, r); err != nil {
		metrics.RecordErrorByComponent("worker", "refresh_failed")
		return fmt.Errorf("request %s: %w", r.ID, err)
	}
	return nil
}

// Pool manages a fixed set of workers over one Source.
type Pool struct {
	workers []*Worker
	name    string
	logger  logger.Logger
}

// NewPool creates a pool of workerCount workers; counts below one become one.
func NewPool(workerCount int, source Source, handler Handler, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	p := &Pool{name: defaultPoolName}
	for i := 0; i < workerCount; i++ {
		wopts := make([]Option, 0, len(opts)+1)
		wopts = append(wopts, opts...)
		wopts = append(wopts, WithName(defaultWorkerPrefix+strconv.Itoa(i)))
		p.workers = append(p.workers, New(source, handler, wopts...))
	}
	p.logger = p.workers[0].logger
	metrics.UpdateWorkerCount(workerCount)
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Serve runs every worker and blocks until ctx is canceled or the source
// closes. It returns ctx.Err() on cancellation.
func (p *Pool) Serve(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, w := range p.workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			w.Run(ctx)
		}(w)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return ctx.Err()
	case <-ctx.Done():
	}

	select {
	case <-done:
	case <-time.After(workerStopTimeout):
		p.logger.Warn(context.Background(), "workers did not stop in time")
	}
	return ctx.Err()
}

// String names the pool in supervisor logs.
func (p *Pool) String() string { return p.name }
