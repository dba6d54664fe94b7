// Package redisqueue implements the work queue on Redis lists. A received
// message moves to a per-queue processing list and gets a visibility
// deadline; entries still processing after their deadline go back to the
// pending list on the next Receive.
package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"derbyflow/internal/queue"
	"derbyflow/internal/services"
)

const (
	keyPrefix         = "derbyflow:queue:"
	registryKey       = "derbyflow:queues"
	defaultVisibility = 30 * time.Minute
)

// reclaimScript gives unscored processing entries a deadline, then moves
// every entry whose deadline has passed back to the consuming end of the
// pending list. KEYS: pending, processing, deadlines. ARGV: now, deadline.
var reclaimScript = redis.NewScript(`
local inflight = redis.call('LRANGE', KEYS[2], 0, -1)
for _, entry in ipairs(inflight) do
	if not redis.call('ZSCORE', KEYS[3], entry) then
		redis.call('ZADD', KEYS[3], ARGV[2], entry)
	end
end
local expired = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', ARGV[1])
local moved = 0
for _, entry in ipairs(expired) do
	redis.call('ZREM', KEYS[3], entry)
	if redis.call('LREM', KEYS[2], 1, entry) == 1 then
		redis.call('RPUSH', KEYS[1], entry)
		moved = moved + 1
	end
end
return moved
`)

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// Option customizes a Queue.
type Option func(*Queue)

// WithVisibility sets how long a received message stays hidden before it is
// redelivered.
func WithVisibility(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.visibility = d
		}
	}
}

// WithClock overrides the time source used for visibility deadlines.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// Queue is a Redis-backed work queue.
type Queue struct {
	client     *redis.Client
	visibility time.Duration
	now        func() time.Time
}

type entry struct {
	ID   string `json:"id"`
	Body []byte `json:"body"`
}

// Open connects to Redis and verifies the server responds.
func Open(ctx context.Context, conn Options, opts ...Option) (*Queue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     conn.Addr,
		Password: conn.Password,
		DB:       conn.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, services.Wrap(services.ErrTransient, "queue", "redis ping", conn.Addr, err)
	}
	return NewWithClient(client, opts...), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, opts ...Option) *Queue {
	q := &Queue{client: client, visibility: defaultVisibility, now: time.Now}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func pendingKey(name string) string    { return keyPrefix + name }
func processingKey(name string) string { return keyPrefix + name + ":processing" }
func deadlineKey(name string) string   { return keyPrefix + name + ":deadlines" }

// Ensure registers name.
func (q *Queue) Ensure(ctx context.Context, name string) error {
	if err := q.client.SAdd(ctx, registryKey, name).Err(); err != nil {
		return services.Wrap(services.ErrTransient, "queue", "create queue", name, err)
	}
	return nil
}

// Send pushes body onto name.
func (q *Queue) Send(ctx context.Context, name string, body []byte) error {
	known, err := q.client.SIsMember(ctx, registryKey, name).Result()
	if err != nil {
		return services.Wrap(services.ErrTransient, "queue", "lookup queue", name, err)
	}
	if !known {
		return services.Wrap(services.ErrNotFound, "queue", "lookup queue", fmt.Sprintf("Queue %q does not exist", name), nil)
	}
	raw, err := json.Marshal(entry{ID: uuid.NewString(), Body: body})
	if err != nil {
		return services.Wrap(services.ErrValidation, "queue", "encode message", name, err)
	}
	if err := q.client.LPush(ctx, pendingKey(name), raw).Err(); err != nil {
		return services.Wrap(services.ErrTransient, "queue", "send message", name, err)
	}
	return nil
}

// Receive returns expired in-flight messages to the pending list, then
// blocks up to wait for the oldest message and moves it to the processing
// list.
func (q *Queue) Receive(ctx context.Context, name string, wait time.Duration) ([]queue.Message, error) {
	if wait <= 0 {
		wait = time.Second
	}
	if err := q.reclaim(ctx, name); err != nil {
		return nil, services.Wrap(services.ErrTransient, "queue", "reclaim messages", name, err)
	}
	raw, err := q.client.BLMove(ctx, pendingKey(name), processingKey(name), "RIGHT", "LEFT", wait).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "queue", "receive message", name, err)
	}
	deadline := float64(q.now().Add(q.visibility).UnixMilli())
	if err := q.client.ZAdd(ctx, deadlineKey(name), redis.Z{Score: deadline, Member: raw}).Err(); err != nil {
		return nil, services.Wrap(services.ErrTransient, "queue", "track message", name, err)
	}

	var msg entry
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		// Foreign payloads are delivered as is so the consumer can reject them.
		return []queue.Message{{ID: uuid.NewString(), Body: []byte(raw), Receipt: raw}}, nil
	}
	return []queue.Message{{ID: msg.ID, Body: msg.Body, Receipt: raw}}, nil
}

func (q *Queue) reclaim(ctx context.Context, name string) error {
	now := q.now()
	keys := []string{pendingKey(name), processingKey(name), deadlineKey(name)}
	return reclaimScript.Run(ctx, q.client, keys,
		strconv.FormatInt(now.UnixMilli(), 10),
		strconv.FormatInt(now.Add(q.visibility).UnixMilli(), 10),
	).Err()
}

// Delete removes msg from the processing list.
func (q *Queue) Delete(ctx context.Context, name string, msg queue.Message) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, processingKey(name), 1, msg.Receipt)
		pipe.ZRem(ctx, deadlineKey(name), msg.Receipt)
		return nil
	})
	if err != nil {
		return services.Wrap(services.ErrTransient, "queue", "delete message", name, err)
	}
	return nil
}

// Close closes the client.
func (q *Queue) Close() error {
	return q.client.Close()
}
