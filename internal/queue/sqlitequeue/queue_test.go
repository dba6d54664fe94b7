package sqlitequeue_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"derbyflow/internal/queue/sqlitequeue"
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

func openQueue(t *testing.T, opts ...sqlitequeue.Option) *sqlitequeue.Queue {
	t.Helper()
	q, err := sqlitequeue.Open(filepath.Join(t.TempDir(), "queue.db"), opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestFIFOAndDelete(t *testing.T) {
	q := openQueue(t)
	ctx := context.Background()
	if err := q.Ensure(ctx, "detect"); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if err := q.Ensure(ctx, "detect"); err != nil {
		t.Fatalf("Ensure twice: %v", err)
	}
	for _, body := range []string{"one", "two"} {
		if err := q.Send(ctx, "detect", []byte(body)); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	first, err := q.Receive(ctx, "detect", 0)
	if err != nil || len(first) != 1 || string(first[0].Body) != "one" {
		t.Fatalf("first receive = %+v, %v", first, err)
	}
	second, err := q.Receive(ctx, "detect", 0)
	if err != nil || len(second) != 1 || string(second[0].Body) != "two" {
		t.Fatalf("second receive = %+v, %v", second, err)
	}
	empty, err := q.Receive(ctx, "detect", 0)
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected in-flight messages hidden, got %+v, %v", empty, err)
	}

	if err := q.Delete(ctx, "detect", first[0]); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if depth, _ := q.Depth(ctx, "detect"); depth != 1 {
		t.Fatalf("expected depth 1, got %d", depth)
	}
}

func TestVisibilityTimeoutRedelivers(t *testing.T) {
	clock := &manualClock{now: time.Unix(1_700_000_000, 0)}
	q := openQueue(t, sqlitequeue.WithVisibility(time.Minute), sqlitequeue.WithClock(clock.Now))
	ctx := context.Background()
	_ = q.Ensure(ctx, "detect")
	_ = q.Send(ctx, "detect", []byte("payload"))

	first, _ := q.Receive(ctx, "detect", 0)
	if len(first) != 1 {
		t.Fatal("expected first delivery")
	}
	clock.Advance(2 * time.Minute)
	again, _ := q.Receive(ctx, "detect", 0)
	if len(again) != 1 || again[0].Receipt == first[0].Receipt {
		t.Fatalf("expected redelivery with new receipt, got %+v", again)
	}

	if err := q.Delete(ctx, "detect", first[0]); err != nil {
		t.Fatalf("Delete stale: %v", err)
	}
	if depth, _ := q.Depth(ctx, "detect"); depth != 1 {
		t.Fatalf("stale receipt must not delete, depth %d", depth)
	}
}

func TestReceiveWaitsForMessage(t *testing.T) {
	q := openQueue(t)
	ctx := context.Background()
	_ = q.Ensure(ctx, "detect")

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = q.Send(ctx, "detect", []byte("late"))
	}()
	msgs, err := q.Receive(ctx, "detect", 3*time.Second)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("expected message during long poll, got %+v, %v", msgs, err)
	}
}

func TestMissingQueue(t *testing.T) {
	q := openQueue(t)
	if err := q.Send(context.Background(), "ghost", []byte("x")); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
