package queue

import (
	"context"
	"time"
)

// Message is one received queue entry. Receipt identifies this delivery and
// is required to delete it.
type Message struct {
	ID      string
	Body    []byte
	Receipt string
}

// Queue is the subset of a managed queue service the pipeline relies on.
type Queue interface {
	// Ensure creates the named queue when it does not exist.
	Ensure(ctx context.Context, name string) error
	// Send fails with services.ErrNotFound when the queue does not exist.
	Send(ctx context.Context, name string, body []byte) error
	// Receive waits up to wait for at most one message.
	Receive(ctx context.Context, name string, wait time.Duration) ([]Message, error)
	Delete(ctx context.Context, name string, msg Message) error
	Close() error
}
