package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/timmy/storesync/internal/logger"
)

// Handler processes one task. Returning nil acks it; wrap the error with
// Permanent to bury it immediately.
type Handler func(ctx context.Context, task *Task) error

// Outcome is how a delivery was settled.
type Outcome string

const (
	OutcomeAcked   Outcome = "acked"
	OutcomeRetried Outcome = "retried"
	OutcomeBuried  Outcome = "buried"
)

// WorkerOptions configures a Worker.
type WorkerOptions struct {
	Concurrency  int           // default 1
	MaxAttempts  int           // deliveries before burying; default 3
	BackoffBase  time.Duration // default 2s
	PollInterval time.Duration // idle wait between empty claims; default 1s
	// Heartbeat is how often a running task's lease is renewed on backends
	// implementing LeaseExtender. Default: a third of the visibility timeout.
	Heartbeat time.Duration
	// OnSettled observes every settled delivery.
	OnSettled func(task *Task, outcome Outcome, elapsed time.Duration)
	// OnExhausted runs before burying a task whose earlier deliveries used
	// up the attempt budget without ever settling. The handler is not
	// called for such a task, so this is where its failure gets recorded.
	OnExhausted func(ctx context.Context, task *Task, cause error)
}

func (o *WorkerOptions) defaults() {
	if o.Concurrency < 1 {
		o.Concurrency = 1
	}
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 2 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
}

// Worker consumes a Queue with a fixed number of goroutines.
type Worker struct {
	q       Queue
	handler Handler
	opts    WorkerOptions
}

// NewWorker creates a worker.
func NewWorker(q Queue, handler Handler, opts WorkerOptions) *Worker {
	opts.defaults()
	return &Worker{q: q, handler: handler, opts: opts}
}

// Run polls until ctx is cancelled, then waits for in-flight tasks to
// settle before returning.
func (w *Worker) Run(ctx context.Context) error {
	ctx = logger.SetComponent(ctx, "worker")
	logger.CtxInfo(ctx, "Worker started: concurrency=%d max_attempts=%d", w.opts.Concurrency, w.opts.MaxAttempts)

	var wg sync.WaitGroup
	for i := 0; i < w.opts.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(ctx)
		}()
	}
	wg.Wait()

	logger.CtxInfo(ctx, "Worker stopped")
	return nil
}

func (w *Worker) loop(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		worked, err := w.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			logger.CtxError(ctx, "Worker claim failed: %v", err)
		}
		if worked {
			timer.Reset(0)
		} else {
			timer.Reset(w.opts.PollInterval)
		}
	}
}

// RunOnce claims and processes at most one task. It reports whether a task
// was found.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	task, err := w.q.Claim(ctx)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}
	w.process(ctx, task)
	return true, nil
}

func (w *Worker) process(ctx context.Context, task *Task) {
	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldTaskID:  task.ID,
		logger.FieldAttempt: task.Attempts,
	})
	// Settling must outlive shutdown so the task is not left leased.
	settleCtx := context.WithoutCancel(ctx)
	start := time.Now()

	// A lease that kept expiring under a crashed consumer.
	if task.Attempts > w.opts.MaxAttempts {
		cause := fmt.Errorf("exceeded %d attempts: %s", w.opts.MaxAttempts, task.LastError)
		logger.CtxError(ctx, "Task abandoned: %v", cause)
		if w.opts.OnExhausted != nil {
			w.opts.OnExhausted(settleCtx, task, cause)
		}
		w.settle(settleCtx, task, OutcomeBuried, w.q.Bury(settleCtx, task, cause), start)
		return
	}

	err := w.handle(ctx, task)
	switch {
	case err == nil:
		w.settle(settleCtx, task, OutcomeAcked, w.q.Ack(settleCtx, task), start)
	case IsPermanent(err) || task.Attempts >= w.opts.MaxAttempts:
		logger.CtxError(ctx, "Task failed permanently: %v", err)
		w.settle(settleCtx, task, OutcomeBuried, w.q.Bury(settleCtx, task, err), start)
	default:
		delay := Backoff(w.opts.BackoffBase, task.Attempts)
		logger.CtxWarn(ctx, "Task failed, retrying in %s: %v", delay, err)
		w.settle(settleCtx, task, OutcomeRetried, w.q.Retry(settleCtx, task, delay, err), start)
	}
}

func (w *Worker) handle(ctx context.Context, task *Task) (err error) {
	stop := w.heartbeat(ctx, task)
	defer stop()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return w.handler(ctx, task)
}

// heartbeat renews the task's lease until the returned stop is called.
func (w *Worker) heartbeat(ctx context.Context, task *Task) (stop func()) {
	ext, ok := w.q.(LeaseExtender)
	if !ok {
		return func() {}
	}
	interval := w.opts.Heartbeat
	if interval <= 0 {
		interval = ext.Visibility() / 3
	}
	if interval <= 0 {
		return func() {}
	}

	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
			}
			err := ext.Extend(hbCtx, task)
			switch {
			case err == nil:
			case errors.Is(err, ErrLeaseLost):
				logger.CtxWarn(ctx, "Task lease lost while running")
				return
			case hbCtx.Err() == nil:
				logger.CtxError(ctx, "Failed to extend task lease: %v", err)
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (w *Worker) settle(ctx context.Context, task *Task, outcome Outcome, err error, start time.Time) {
	if err != nil {
		if errors.Is(err, ErrLeaseLost) {
			logger.CtxWarn(ctx, "Task lease lost before %s", outcome)
		} else {
			logger.CtxError(ctx, "Failed to settle task as %s: %v", outcome, err)
		}
		return
	}
	logger.With(logger.Fields{logger.FieldStatus: string(outcome)}).WithDuration(start).Debug(ctx, "Task settled")
	if w.opts.OnSettled != nil {
		w.opts.OnSettled(task, outcome, time.Since(start))
	}
}
