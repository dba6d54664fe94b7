// Package sqlitequeue implements the work queue on a local SQLite database
// so workers and the router can run without a managed queue service.
package sqlitequeue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"derbyflow/internal/queue"
	"derbyflow/internal/services"
	"derbyflow/internal/sqliteutil"
)

const (
	defaultVisibility = 30 * time.Minute
	pollInterval      = 200 * time.Millisecond
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS queues (
		name TEXT PRIMARY KEY,
		created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		queue TEXT NOT NULL REFERENCES queues(name),
		body BLOB NOT NULL,
		visible_at INTEGER NOT NULL,
		receipt TEXT,
		receive_count INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_queue_visible ON messages(queue, visible_at, id)`,
}

// Queue is a SQLite-backed work queue.
type Queue struct {
	db         *sql.DB
	visibility time.Duration
	now        func() time.Time
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

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// Open initializes or connects to the queue database at path.
func Open(path string, opts ...Option) (*Queue, error) {
	db, err := sqliteutil.Open(context.Background(), path, schema...)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "queue", "open sqlite", path, err)
	}
	q := &Queue{db: db, visibility: defaultVisibility, now: time.Now}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// Ensure registers name.
func (q *Queue) Ensure(ctx context.Context, name string) error {
	if _, err := sqliteutil.Exec(ctx, q.db, `INSERT INTO queues (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, name); err != nil {
		return services.Wrap(services.ErrTransient, "queue", "create queue", name, err)
	}
	return nil
}

// Send appends body to name.
func (q *Queue) Send(ctx context.Context, name string, body []byte) error {
	if err := q.requireQueue(ctx, name); err != nil {
		return err
	}
	if _, err := sqliteutil.Exec(ctx, q.db,
		`INSERT INTO messages (queue, body, visible_at) VALUES (?, ?, ?)`,
		name, body, q.now().UnixMilli()); err != nil {
		return services.Wrap(services.ErrTransient, "queue", "send message", name, err)
	}
	return nil
}

// Receive claims the oldest visible message, polling until wait elapses.
func (q *Queue) Receive(ctx context.Context, name string, wait time.Duration) ([]queue.Message, error) {
	if err := q.requireQueue(ctx, name); err != nil {
		return nil, err
	}
	deadline := time.Now().Add(wait)
	for {
		msg, ok, err := q.claim(ctx, name)
		if err != nil {
			return nil, err
		}
		if ok {
			return []queue.Message{msg}, nil
		}
		if !time.Now().Before(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (q *Queue) claim(ctx context.Context, name string) (queue.Message, bool, error) {
	receipt := uuid.NewString()
	now := q.now()
	var (
		id   int64
		body []byte
	)
	err := sqliteutil.RetryOnBusy(ctx, func() error {
		return q.db.QueryRowContext(ctx, `
			UPDATE messages
			SET visible_at = ?, receipt = ?, receive_count = receive_count + 1
			WHERE id = (
				SELECT id FROM messages
				WHERE queue = ? AND visible_at <= ?
				ORDER BY id
				LIMIT 1
			)
			RETURNING id, body`,
			now.Add(q.visibility).UnixMilli(), receipt, name, now.UnixMilli(),
		).Scan(&id, &body)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return queue.Message{}, false, nil
	}
	if err != nil {
		return queue.Message{}, false, services.Wrap(services.ErrTransient, "queue", "receive message", name, err)
	}
	return queue.Message{ID: strconv.FormatInt(id, 10), Body: body, Receipt: receipt}, true, nil
}

// Delete removes msg if its receipt is still current.
func (q *Queue) Delete(ctx context.Context, name string, msg queue.Message) error {
	id, err := strconv.ParseInt(msg.ID, 10, 64)
	if err != nil {
		return services.Wrap(services.ErrValidation, "queue", "delete message", fmt.Sprintf("Malformed message id %q", msg.ID), err)
	}
	if _, err := sqliteutil.Exec(ctx, q.db,
		`DELETE FROM messages WHERE queue = ? AND id = ? AND receipt = ?`,
		name, id, msg.Receipt); err != nil {
		return services.Wrap(services.ErrTransient, "queue", "delete message", name, err)
	}
	return nil
}

// Depth returns the number of messages stored for name, visible or not.
func (q *Queue) Depth(ctx context.Context, name string) (int, error) {
	var count int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE queue = ?`, name).Scan(&count); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

// Close closes the underlying database connection.
func (q *Queue) Close() error {
	if q == nil || q.db == nil {
		return nil
	}
	return q.db.Close()
}

func (q *Queue) requireQueue(ctx context.Context, name string) error {
	var exists int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM queues WHERE name = ?`, name).Scan(&exists)
	if err != nil {
		return services.Wrap(services.ErrTransient, "queue", "lookup queue", name, err)
	}
	if exists == 0 {
		return services.Wrap(services.ErrNotFound, "queue", "lookup queue", fmt.Sprintf("Queue %q does not exist", name), nil)
	}
	return nil
}
