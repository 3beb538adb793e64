package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Key layout under {prefix}{name}:
//
//	:ready     list of visible task ids
//	:delayed   zset id -> visible-at ms
//	:inflight  zset id -> lease deadline ms
//	:dead      list of buried ids
//	:task:{id} hash payload, attempts, last_error, lease, created_at

// claimScript promotes due delayed tasks and expired leases, then leases the
// head of the ready list.
var claimScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for _, id in ipairs(due) do
	redis.call('ZREM', KEYS[2], id)
	redis.call('RPUSH', KEYS[1], id)
end
local expired = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', ARGV[1])
for _, id in ipairs(expired) do
	redis.call('ZREM', KEYS[3], id)
	redis.call('RPUSH', KEYS[1], id)
end
local id = redis.call('LPOP', KEYS[1])
if not id then
	return false
end
local key = ARGV[3] .. id
redis.call('ZADD', KEYS[3], ARGV[2], id)
local attempts = redis.call('HINCRBY', key, 'attempts', 1)
redis.call('HSET', key, 'lease', ARGV[4])
return {id, attempts}
`)

var ackScript = redis.NewScript(`
if redis.call('HGET', KEYS[2], 'lease') ~= ARGV[2] then
	return 0
end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('DEL', KEYS[2])
return 1
`)

var retryScript = redis.NewScript(`
if redis.call('HGET', KEYS[3], 'lease') ~= ARGV[2] then
	return 0
end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
redis.call('HSET', KEYS[3], 'lease', '')
redis.call('HSET', KEYS[3], 'last_error', ARGV[4])
return 1
`)

var buryScript = redis.NewScript(`
if redis.call('HGET', KEYS[3], 'lease') ~= ARGV[2] then
	return 0
end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('LPUSH', KEYS[2], ARGV[1])
redis.call('HSET', KEYS[3], 'lease', '')
redis.call('HSET', KEYS[3], 'last_error', ARGV[3])
return 1
`)

// extendScript moves the lease deadline of a task still in flight.
var extendScript = redis.NewScript(`
if redis.call('HGET', KEYS[2], 'lease') ~= ARGV[2] then
	return 0
end
if not redis.call('ZSCORE', KEYS[1], ARGV[1]) then
	return 0
end
redis.call('ZADD', KEYS[1], 'XX', ARGV[3], ARGV[1])
return 1
`)

// RedisQueue keeps tasks in Redis lists and sorted sets, moving them with
// Lua scripts so each transition is atomic.
type RedisQueue struct {
	client redis.UniversalClient
	opts   Options
	prefix string
	now    func() time.Time
}

var (
	_ Queue         = (*RedisQueue)(nil)
	_ LeaseExtender = (*RedisQueue)(nil)
)

// NewRedisQueue creates a queue whose keys start with keyPrefix+opts.Name.
func NewRedisQueue(client redis.UniversalClient, keyPrefix string, opts Options) *RedisQueue {
	opts.defaults()
	return &RedisQueue{
		client: client,
		opts:   opts,
		prefix: keyPrefix + opts.Name,
		now:    time.Now,
	}
}

func (q *RedisQueue) key(part string) string { return q.prefix + ":" + part }
func (q *RedisQueue) taskPrefix() string     { return q.prefix + ":task:" }
func (q *RedisQueue) taskKey(id string) string {
	return q.taskPrefix() + id
}

func (q *RedisQueue) Enqueue(ctx context.Context, payload []byte) (string, error) {
	id := uuid.NewString()
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.taskKey(id),
			"payload", payload,
			"attempts", 0,
			"last_error", "",
			"lease", "",
			"created_at", q.now().UnixMilli(),
		)
		pipe.RPush(ctx, q.key("ready"), id)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue task: %w", err)
	}
	return id, nil
}

func (q *RedisQueue) Claim(ctx context.Context) (*Task, error) {
	now := q.now()
	lease := uuid.NewString()
	res, err := claimScript.Run(ctx, q.client,
		[]string{q.key("ready"), q.key("delayed"), q.key("inflight")},
		now.UnixMilli(), now.Add(q.opts.Visibility).UnixMilli(), q.taskPrefix(), lease,
	).Slice()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim task: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("failed to claim task: unexpected reply %v", res)
	}
	id := fmt.Sprint(res[0])
	attempts, _ := strconv.Atoi(fmt.Sprint(res[1]))

	fields, err := q.client.HGetAll(ctx, q.taskKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load task %s: %w", id, err)
	}
	created, _ := strconv.ParseInt(fields["created_at"], 10, 64)
	return &Task{
		ID:        id,
		Queue:     q.opts.Name,
		Payload:   []byte(fields["payload"]),
		Attempts:  attempts,
		LastError: fields["last_error"],
		CreatedAt: time.UnixMilli(created),
		lease:     lease,
	}, nil
}

func (q *RedisQueue) Ack(ctx context.Context, task *Task) error {
	n, err := ackScript.Run(ctx, q.client,
		[]string{q.key("inflight"), q.taskKey(task.ID)},
		task.ID, task.lease,
	).Int()
	return scriptSettled(n, err, "ack")
}

func (q *RedisQueue) Retry(ctx context.Context, task *Task, delay time.Duration, cause error) error {
	n, err := retryScript.Run(ctx, q.client,
		[]string{q.key("inflight"), q.key("delayed"), q.taskKey(task.ID)},
		task.ID, task.lease, q.now().Add(delay).UnixMilli(), causeText(cause),
	).Int()
	return scriptSettled(n, err, "retry")
}

func (q *RedisQueue) Bury(ctx context.Context, task *Task, cause error) error {
	n, err := buryScript.Run(ctx, q.client,
		[]string{q.key("inflight"), q.key("dead"), q.taskKey(task.ID)},
		task.ID, task.lease, causeText(cause),
	).Int()
	return scriptSettled(n, err, "bury")
}

// Extend renews an in-flight lease held by task.
func (q *RedisQueue) Extend(ctx context.Context, task *Task) error {
	n, err := extendScript.Run(ctx, q.client,
		[]string{q.key("inflight"), q.taskKey(task.ID)},
		task.ID, task.lease, q.now().Add(q.opts.Visibility).UnixMilli(),
	).Int()
	return scriptSettled(n, err, "extend")
}

// Visibility returns the lease duration granted by Claim and Extend.
func (q *RedisQueue) Visibility() time.Duration { return q.opts.Visibility }

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	pipe := q.client.Pipeline()
	ready := pipe.LLen(ctx, q.key("ready"))
	delayed := pipe.ZCard(ctx, q.key("delayed"))
	inflight := pipe.ZCard(ctx, q.key("inflight"))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return ready.Val() + delayed.Val() + inflight.Val(), nil
}

func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	now := strconv.FormatInt(q.now().UnixMilli(), 10)
	pipe := q.client.Pipeline()
	ready := pipe.LLen(ctx, q.key("ready"))
	dueDelayed := pipe.ZCount(ctx, q.key("delayed"), "-inf", now)
	delayed := pipe.ZCount(ctx, q.key("delayed"), "("+now, "+inf")
	expired := pipe.ZCount(ctx, q.key("inflight"), "-inf", now)
	inflight := pipe.ZCount(ctx, q.key("inflight"), "("+now, "+inf")
	dead := pipe.LLen(ctx, q.key("dead"))
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, err
	}
	return Stats{
		Ready:    ready.Val() + dueDelayed.Val() + expired.Val(),
		Delayed:  delayed.Val(),
		InFlight: inflight.Val(),
		Dead:     dead.Val(),
	}, nil
}

// Dead returns up to limit buried tasks, most recent first.
func (q *RedisQueue) Dead(ctx context.Context, limit int) ([]Task, error) {
	ids, err := q.client.LRange(ctx, q.key("dead"), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Task, 0, len(ids))
	for _, id := range ids {
		fields, err := q.client.HGetAll(ctx, q.taskKey(id)).Result()
		if err != nil {
			return nil, err
		}
		attempts, _ := strconv.Atoi(fields["attempts"])
		created, _ := strconv.ParseInt(fields["created_at"], 10, 64)
		out = append(out, Task{
			ID:        id,
			Queue:     q.opts.Name,
			Payload:   []byte(fields["payload"]),
			Attempts:  attempts,
			LastError: fields["last_error"],
			CreatedAt: time.UnixMilli(created),
		})
	}
	return out, nil
}

func scriptSettled(n int, err error, op string) error {
	if err != nil {
		return fmt.Errorf("failed to %s task: %w", op, err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}
