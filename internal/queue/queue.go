// Package queue is a durable at-least-once work queue with visibility
// timeouts, delayed retries and a dead-letter set. Two backends share one
// contract: SQLQueue (gorm, sqlite or postgres) and RedisQueue.
//
// A claimed task stays invisible to other consumers until it is acked,
// retried, buried, or its lease expires; an expired lease makes the task
// claimable again, so handlers must be idempotent.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrLeaseLost is returned when a task's lease expired and another consumer
// reclaimed it before the holder settled it.
var ErrLeaseLost = errors.New("queue: lease lost")

// Task is one claimed unit of work.
type Task struct {
	ID        string
	Queue     string
	Payload   []byte
	Attempts  int // deliveries so far, including the current one
	LastError string
	CreatedAt time.Time

	lease string
}

// Decode unmarshals the JSON payload into v.
func (t *Task) Decode(v interface{}) error {
	return json.Unmarshal(t.Payload, v)
}

// Stats is a point-in-time view of queue depth.
type Stats struct {
	Ready    int64 `json:"ready"`
	Delayed  int64 `json:"delayed"`
	InFlight int64 `json:"in_flight"`
	Dead     int64 `json:"dead"`
}

// Queue is the backend contract.
type Queue interface {
	// Enqueue stores payload as a new, immediately visible task.
	Enqueue(ctx context.Context, payload []byte) (string, error)
	// Claim leases the oldest visible task. It returns nil, nil when none is visible.
	Claim(ctx context.Context) (*Task, error)
	// Ack removes a finished task.
	Ack(ctx context.Context, task *Task) error
	// Retry releases the task to become visible again after delay.
	Retry(ctx context.Context, task *Task, delay time.Duration, cause error) error
	// Bury moves the task to the dead-letter set, keeping cause.
	Bury(ctx context.Context, task *Task, cause error) error
	// Len counts tasks not yet acked or buried.
	Len(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (Stats, error)
}

// LeaseExtender is implemented by backends that can renew a lease while its
// handler is still running.
type LeaseExtender interface {
	// Extend pushes the task's lease deadline one visibility timeout past
	// now. It returns ErrLeaseLost if the task was reclaimed or settled.
	Extend(ctx context.Context, task *Task) error
	Visibility() time.Duration
}

// Options configures a backend.
type Options struct {
	// Name separates logical queues sharing one table or key space.
	Name string
	// Visibility is how long a claim stays exclusive. Default: 15m.
	Visibility time.Duration
}

func (o *Options) defaults() {
	if o.Name == "" {
		o.Name = "default"
	}
	if o.Visibility <= 0 {
		o.Visibility = 15 * time.Minute
	}
}

// EnqueueJSON marshals v and enqueues it.
func EnqueueJSON(ctx context.Context, q Queue, v interface{}) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return q.Enqueue(ctx, payload)
}

// Backoff returns base * 2^(attempt-1): 2s, 4s, 8s... for base 2s.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 30 {
		attempt = 30
	}
	return base * time.Duration(1<<(attempt-1))
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying; the worker buries the task.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

func causeText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
