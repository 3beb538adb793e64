package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func newSQLTestQueue(t *testing.T, clock *fakeClock) *SQLQueue {
	q := NewSQLQueue(openTestDB(t), Options{Name: "test", Visibility: time.Minute})
	q.now = clock.Now
	require.NoError(t, q.Migrate(context.Background()))
	return q
}

func newRedisTestQueue(t *testing.T, clock *fakeClock) *RedisQueue {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	q := NewRedisQueue(client, "storesync:", Options{Name: "test", Visibility: time.Minute})
	q.now = clock.Now
	return q
}

// backends runs fn against every Queue implementation.
func backends(t *testing.T, fn func(t *testing.T, q Queue, clock *fakeClock)) {
	t.Run("sql", func(t *testing.T) {
		clock := newFakeClock()
		fn(t, newSQLTestQueue(t, clock), clock)
	})
	t.Run("redis", func(t *testing.T) {
		clock := newFakeClock()
		fn(t, newRedisTestQueue(t, clock), clock)
	})
}

func TestEnqueueClaimAck(t *testing.T) {
	backends(t, func(t *testing.T, q Queue, clock *fakeClock) {
		ctx := context.Background()
		id, err := EnqueueJSON(ctx, q, map[string]string{"job_id": "j1"})
		require.NoError(t, err)

		n, err := q.Len(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		task, err := q.Claim(ctx)
		require.NoError(t, err)
		require.NotNil(t, task)
		assert.Equal(t, id, task.ID)
		assert.Equal(t, 1, task.Attempts)

		var payload map[string]string
		require.NoError(t, task.Decode(&payload))
		assert.Equal(t, "j1", payload["job_id"])

		again, err := q.Claim(ctx)
		require.NoError(t, err)
		assert.Nil(t, again, "claimed task is invisible")

		require.NoError(t, q.Ack(ctx, task))
		n, err = q.Len(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestClaimIsFIFO(t *testing.T) {
	backends(t, func(t *testing.T, q Queue, clock *fakeClock) {
		ctx := context.Background()
		first, err := q.Enqueue(ctx, []byte(`"a"`))
		require.NoError(t, err)
		clock.Advance(time.Millisecond)
		_, err = q.Enqueue(ctx, []byte(`"b"`))
		require.NoError(t, err)

		task, err := q.Claim(ctx)
		require.NoError(t, err)
		require.NotNil(t, task)
		assert.Equal(t, first, task.ID)
	})
}

func TestRetryDelaysVisibility(t *testing.T) {
	backends(t, func(t *testing.T, q Queue, clock *fakeClock) {
		ctx := context.Background()
		_, err := q.Enqueue(ctx, []byte(`{}`))
		require.NoError(t, err)

		task, err := q.Claim(ctx)
		require.NoError(t, err)
		require.NoError(t, q.Retry(ctx, task, 10*time.Second, errors.New("upstream 502")))

		stats, err := q.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, Stats{Delayed: 1}, stats)

		none, err := q.Claim(ctx)
		require.NoError(t, err)
		assert.Nil(t, none)

		clock.Advance(11 * time.Second)
		task, err = q.Claim(ctx)
		require.NoError(t, err)
		require.NotNil(t, task)
		assert.Equal(t, 2, task.Attempts)
		assert.Equal(t, "upstream 502", task.LastError)
	})
}

func TestExpiredLeaseIsReclaimed(t *testing.T) {
	backends(t, func(t *testing.T, q Queue, clock *fakeClock) {
		ctx := context.Background()
		_, err := q.Enqueue(ctx, []byte(`{}`))
		require.NoError(t, err)

		stale, err := q.Claim(ctx)
		require.NoError(t, err)
		require.NotNil(t, stale)

		clock.Advance(2 * time.Minute)
		fresh, err := q.Claim(ctx)
		require.NoError(t, err)
		require.NotNil(t, fresh)
		assert.Equal(t, stale.ID, fresh.ID)
		assert.Equal(t, 2, fresh.Attempts)

		assert.ErrorIs(t, q.Ack(ctx, stale), ErrLeaseLost)
		require.NoError(t, q.Ack(ctx, fresh))
	})
}

func TestExtendKeepsLeaseExclusive(t *testing.T) {
	backends(t, func(t *testing.T, q Queue, clock *fakeClock) {
		ctx := context.Background()
		ext, ok := q.(LeaseExtender)
		require.True(t, ok)
		assert.Equal(t, time.Minute, ext.Visibility())

		_, err := q.Enqueue(ctx, []byte(`{}`))
		require.NoError(t, err)
		task, err := q.Claim(ctx)
		require.NoError(t, err)
		require.NotNil(t, task)

		clock.Advance(45 * time.Second)
		require.NoError(t, ext.Extend(ctx, task))
		clock.Advance(45 * time.Second)
		again, err := q.Claim(ctx)
		require.NoError(t, err)
		assert.Nil(t, again, "extended lease is still held")

		clock.Advance(time.Minute)
		fresh, err := q.Claim(ctx)
		require.NoError(t, err)
		require.NotNil(t, fresh)
		assert.ErrorIs(t, ext.Extend(ctx, task), ErrLeaseLost)
		require.NoError(t, ext.Extend(ctx, fresh))

		require.NoError(t, q.Ack(ctx, fresh))
		assert.ErrorIs(t, ext.Extend(ctx, fresh), ErrLeaseLost)
	})
}

func TestBuryMovesToDeadLetters(t *testing.T) {
	backends(t, func(t *testing.T, q Queue, clock *fakeClock) {
		ctx := context.Background()
		_, err := q.Enqueue(ctx, []byte(`{"job_id":"j9"}`))
		require.NoError(t, err)

		task, err := q.Claim(ctx)
		require.NoError(t, err)
		require.NoError(t, q.Bury(ctx, task, errors.New("store deleted")))

		n, err := q.Len(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)

		stats, err := q.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.Dead)

		lister, ok := q.(interface {
			Dead(context.Context, int) ([]Task, error)
		})
		require.True(t, ok)
		dead, err := lister.Dead(ctx, 10)
		require.NoError(t, err)
		require.Len(t, dead, 1)
		assert.Equal(t, "store deleted", dead[0].LastError)
		assert.JSONEq(t, `{"job_id":"j9"}`, string(dead[0].Payload))

		none, err := q.Claim(ctx)
		require.NoError(t, err)
		assert.Nil(t, none)
	})
}

func TestBackoff(t *testing.T) {
	base := 2 * time.Second
	assert.Equal(t, 2*time.Second, Backoff(base, 0))
	assert.Equal(t, 2*time.Second, Backoff(base, 1))
	assert.Equal(t, 4*time.Second, Backoff(base, 2))
	assert.Equal(t, 8*time.Second, Backoff(base, 3))
}

func TestPermanentSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("job j1: %w", Permanent(errors.New("bad credentials")))
	assert.True(t, IsPermanent(err))
	assert.False(t, IsPermanent(errors.New("timeout")))
	assert.Nil(t, Permanent(nil))
}
