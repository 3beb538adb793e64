package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	stateReady    = "ready"
	stateInFlight = "inflight"
	stateDead     = "dead"

	claimRetries = 5
)

// TaskRecord is the queue_tasks row. Times are unix milliseconds so that
// comparisons behave the same on sqlite and postgres.
type TaskRecord struct {
	ID        string `gorm:"type:text;primaryKey"`
	Queue     string `gorm:"type:text;not null;index:idx_queue_tasks_visible,priority:1"`
	State     string `gorm:"type:text;not null;index:idx_queue_tasks_visible,priority:2"`
	VisibleAt int64  `gorm:"not null;index:idx_queue_tasks_visible,priority:3"`
	Payload   []byte
	Attempts  int    `gorm:"not null;default:0"`
	Lease     string `gorm:"type:text"`
	LastError string `gorm:"type:text"`
	CreatedAt int64  `gorm:"not null"`
	UpdatedAt int64  `gorm:"not null"`
}

// TableName returns the database table name for TaskRecord.
func (TaskRecord) TableName() string {
	return "queue_tasks"
}

// SQLQueue stores tasks in a gorm-managed table.
type SQLQueue struct {
	db   *gorm.DB
	opts Options
	now  func() time.Time
}

var (
	_ Queue         = (*SQLQueue)(nil)
	_ LeaseExtender = (*SQLQueue)(nil)
)

// NewSQLQueue creates a queue handle. Call Migrate once at startup.
func NewSQLQueue(db *gorm.DB, opts Options) *SQLQueue {
	opts.defaults()
	return &SQLQueue{db: db, opts: opts, now: time.Now}
}

// Migrate creates the queue_tasks table.
func (q *SQLQueue) Migrate(ctx context.Context) error {
	return q.db.WithContext(ctx).AutoMigrate(&TaskRecord{})
}

func (q *SQLQueue) Enqueue(ctx context.Context, payload []byte) (string, error) {
	now := q.now().UnixMilli()
	rec := TaskRecord{
		ID:        uuid.NewString(),
		Queue:     q.opts.Name,
		State:     stateReady,
		VisibleAt: now,
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := q.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return "", fmt.Errorf("failed to enqueue task: %w", err)
	}
	return rec.ID, nil
}

// Claim picks the oldest visible task (ready, or in flight with an expired
// lease) and takes it with a conditional update on its attempt counter. A
// concurrent consumer winning the same row makes this one try the next.
func (q *SQLQueue) Claim(ctx context.Context) (*Task, error) {
	db := q.db.WithContext(ctx)
	for i := 0; i < claimRetries; i++ {
		now := q.now()
		var cand TaskRecord
		err := db.
			Where("queue = ? AND state IN ? AND visible_at <= ?", q.opts.Name, []string{stateReady, stateInFlight}, now.UnixMilli()).
			Order("visible_at ASC").
			Take(&cand).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to find task: %w", err)
		}

		lease := uuid.NewString()
		res := db.Model(&TaskRecord{}).
			Where("id = ? AND attempts = ? AND state <> ?", cand.ID, cand.Attempts, stateDead).
			Updates(map[string]interface{}{
				"state":      stateInFlight,
				"visible_at": now.Add(q.opts.Visibility).UnixMilli(),
				"attempts":   cand.Attempts + 1,
				"lease":      lease,
				"updated_at": now.UnixMilli(),
			})
		if res.Error != nil {
			return nil, fmt.Errorf("failed to claim task: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			continue
		}
		return &Task{
			ID:        cand.ID,
			Queue:     cand.Queue,
			Payload:   cand.Payload,
			Attempts:  cand.Attempts + 1,
			LastError: cand.LastError,
			CreatedAt: time.UnixMilli(cand.CreatedAt),
			lease:     lease,
		}, nil
	}
	return nil, nil
}

func (q *SQLQueue) Ack(ctx context.Context, task *Task) error {
	res := q.db.WithContext(ctx).
		Where("id = ? AND lease = ?", task.ID, task.lease).
		Delete(&TaskRecord{})
	return settled(res, "ack")
}

func (q *SQLQueue) Retry(ctx context.Context, task *Task, delay time.Duration, cause error) error {
	now := q.now()
	res := q.db.WithContext(ctx).Model(&TaskRecord{}).
		Where("id = ? AND lease = ?", task.ID, task.lease).
		Updates(map[string]interface{}{
			"state":      stateReady,
			"visible_at": now.Add(delay).UnixMilli(),
			"lease":      "",
			"last_error": causeText(cause),
			"updated_at": now.UnixMilli(),
		})
	return settled(res, "retry")
}

func (q *SQLQueue) Bury(ctx context.Context, task *Task, cause error) error {
	res := q.db.WithContext(ctx).Model(&TaskRecord{}).
		Where("id = ? AND lease = ?", task.ID, task.lease).
		Updates(map[string]interface{}{
			"state":      stateDead,
			"lease":      "",
			"last_error": causeText(cause),
			"updated_at": q.now().UnixMilli(),
		})
	return settled(res, "bury")
}

// Extend renews an in-flight lease held by task.
func (q *SQLQueue) Extend(ctx context.Context, task *Task) error {
	now := q.now()
	res := q.db.WithContext(ctx).Model(&TaskRecord{}).
		Where("id = ? AND lease = ? AND state = ?", task.ID, task.lease, stateInFlight).
		Updates(map[string]interface{}{
			"visible_at": now.Add(q.opts.Visibility).UnixMilli(),
			"updated_at": now.UnixMilli(),
		})
	return settled(res, "extend")
}

// Visibility returns the lease duration granted by Claim and Extend.
func (q *SQLQueue) Visibility() time.Duration { return q.opts.Visibility }

func (q *SQLQueue) Len(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.WithContext(ctx).Model(&TaskRecord{}).
		Where("queue = ? AND state <> ?", q.opts.Name, stateDead).
		Count(&n).Error
	return n, err
}

func (q *SQLQueue) Stats(ctx context.Context) (Stats, error) {
	now := q.now().UnixMilli()
	count := func(dst *int64, where string, args ...interface{}) error {
		return q.db.WithContext(ctx).Model(&TaskRecord{}).
			Where("queue = ?", q.opts.Name).
			Where(where, args...).
			Count(dst).Error
	}

	var s Stats
	var visible int64
	if err := count(&s.Dead, "state = ?", stateDead); err != nil {
		return Stats{}, err
	}
	if err := count(&s.InFlight, "state = ? AND visible_at > ?", stateInFlight, now); err != nil {
		return Stats{}, err
	}
	if err := count(&s.Delayed, "state = ? AND visible_at > ?", stateReady, now); err != nil {
		return Stats{}, err
	}
	// Expired leases are claimable again and count as ready.
	if err := count(&visible, "state <> ? AND visible_at <= ?", stateDead, now); err != nil {
		return Stats{}, err
	}
	s.Ready = visible
	return s, nil
}

// Dead returns buried tasks, most recent first.
func (q *SQLQueue) Dead(ctx context.Context, limit int) ([]Task, error) {
	var recs []TaskRecord
	err := q.db.WithContext(ctx).
		Where("queue = ? AND state = ?", q.opts.Name, stateDead).
		Order("updated_at DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	out := make([]Task, 0, len(recs))
	for _, r := range recs {
		out = append(out, Task{
			ID:        r.ID,
			Queue:     r.Queue,
			Payload:   r.Payload,
			Attempts:  r.Attempts,
			LastError: r.LastError,
			CreatedAt: time.UnixMilli(r.CreatedAt),
		})
	}
	return out, nil
}

func settled(res *gorm.DB, op string) error {
	if res.Error != nil {
		return fmt.Errorf("failed to %s task: %w", op, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrLeaseLost
	}
	return nil
}
