package redisqueue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"derbyflow/internal/queue/redisqueue"
	"derbyflow/internal/services"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func openQueue(t *testing.T, opts ...redisqueue.Option) (*redisqueue.Queue, *redis.Client) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	q := redisqueue.NewWithClient(client, opts...)
	t.Cleanup(func() { _ = q.Close() })
	if err := q.Ensure(context.Background(), "detect"); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	return q, client
}

func TestFIFOAndDelete(t *testing.T) {
	q, client := openQueue(t)
	ctx := context.Background()
	for _, body := range []string{"one", "two"} {
		if err := q.Send(ctx, "detect", []byte(body)); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	first, err := q.Receive(ctx, "detect", time.Second)
	if err != nil || len(first) != 1 || string(first[0].Body) != "one" {
		t.Fatalf("first receive = %+v, %v", first, err)
	}
	if first[0].ID == "" {
		t.Fatal("expected message id")
	}
	if err := q.Delete(ctx, "detect", first[0]); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	second, err := q.Receive(ctx, "detect", time.Second)
	if err != nil || len(second) != 1 || string(second[0].Body) != "two" {
		t.Fatalf("second receive = %+v, %v", second, err)
	}
	if err := q.Delete(ctx, "detect", second[0]); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if n, _ := client.LLen(ctx, "derbyflow:queue:detect:processing").Result(); n != 0 {
		t.Fatalf("processing list holds %d entries after delete", n)
	}
	if n, _ := client.ZCard(ctx, "derbyflow:queue:detect:deadlines").Result(); n != 0 {
		t.Fatalf("deadline set holds %d entries after delete", n)
	}
}

func TestSendToUnknownQueueIsNotFound(t *testing.T) {
	q, _ := openQueue(t)
	err := q.Send(context.Background(), "missing", []byte("x"))
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestReceiveEmptyQueueReturnsNothing(t *testing.T) {
	q, _ := openQueue(t)
	msgs, err := q.Receive(context.Background(), "detect", time.Second)
	if err != nil || len(msgs) != 0 {
		t.Fatalf("receive = %+v, %v", msgs, err)
	}
}

func TestUnackedMessageIsRedeliveredAfterVisibility(t *testing.T) {
	clock := &manualClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	q, _ := openQueue(t, redisqueue.WithVisibility(time.Minute), redisqueue.WithClock(clock.Now))
	ctx := context.Background()
	for _, body := range []string{"one", "two"} {
		if err := q.Send(ctx, "detect", []byte(body)); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	first, err := q.Receive(ctx, "detect", time.Second)
	if err != nil || len(first) != 1 || string(first[0].Body) != "one" {
		t.Fatalf("first receive = %+v, %v", first, err)
	}

	clock.Advance(30 * time.Second)
	hidden, err := q.Receive(ctx, "detect", time.Second)
	if err != nil || len(hidden) != 1 || string(hidden[0].Body) != "two" {
		t.Fatalf("expected two while one is in flight, got %+v, %v", hidden, err)
	}
	if err := q.Delete(ctx, "detect", hidden[0]); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	clock.Advance(time.Minute)
	again, err := q.Receive(ctx, "detect", time.Second)
	if err != nil || len(again) != 1 {
		t.Fatalf("expected redelivery, got %+v, %v", again, err)
	}
	if string(again[0].Body) != "one" || again[0].ID != first[0].ID {
		t.Fatalf("redelivered %+v, want message %s", again[0], first[0].ID)
	}
	if err := q.Delete(ctx, "detect", again[0]); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if msgs, err := q.Receive(ctx, "detect", time.Second); err != nil || len(msgs) != 0 {
		t.Fatalf("expected empty queue, got %+v, %v", msgs, err)
	}
}

func TestUntrackedProcessingEntryIsReclaimed(t *testing.T) {
	clock := &manualClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	q, client := openQueue(t, redisqueue.WithVisibility(time.Minute), redisqueue.WithClock(clock.Now))
	ctx := context.Background()
	if err := q.Send(ctx, "detect", []byte("orphan")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	// A consumer that died between the move and recording its deadline.
	if err := client.LMove(ctx, "derbyflow:queue:detect", "derbyflow:queue:detect:processing", "RIGHT", "LEFT").Err(); err != nil {
		t.Fatalf("LMove: %v", err)
	}

	if msgs, err := q.Receive(ctx, "detect", time.Second); err != nil || len(msgs) != 0 {
		t.Fatalf("expected nothing before the deadline, got %+v, %v", msgs, err)
	}
	clock.Advance(2 * time.Minute)
	msgs, err := q.Receive(ctx, "detect", time.Second)
	if err != nil || len(msgs) != 1 || string(msgs[0].Body) != "orphan" {
		t.Fatalf("expected reclaimed orphan, got %+v, %v", msgs, err)
	}
}
