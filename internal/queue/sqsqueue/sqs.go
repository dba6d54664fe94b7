// Package sqsqueue implements the work queue on Amazon SQS.
package sqsqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"derbyflow/internal/queue"
	"derbyflow/internal/services"
)

// API is the subset of the SQS client used by Queue.
type API interface {
	CreateQueue(ctx context.Context, params *sqs.CreateQueueInput, optFns ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error)
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// NewClient builds an SQS client with an optional endpoint override.
func NewClient(cfg aws.Config, endpoint *string) *sqs.Client {
	return sqs.NewFromConfig(cfg, func(o *sqs.Options) {
		if endpoint != nil {
			o.BaseEndpoint = endpoint
		}
	})
}

// Queue resolves queue URLs by name and caches them.
type Queue struct {
	api API

	mu   sync.Mutex
	urls map[string]string
}

// New wraps api.
func New(api API) *Queue {
	return &Queue{api: api, urls: make(map[string]string)}
}

// Ensure creates the queue. CreateQueue is idempotent for identical attributes.
func (q *Queue) Ensure(ctx context.Context, name string) error {
	out, err := q.api.CreateQueue(ctx, &sqs.CreateQueueInput{QueueName: aws.String(name)})
	if err != nil {
		return services.Wrap(services.ErrTransient, "queue", "create queue", name, err)
	}
	q.remember(name, aws.ToString(out.QueueUrl))
	return nil
}

// Send enqueues body on name.
func (q *Queue) Send(ctx context.Context, name string, body []byte) error {
	url, err := q.url(ctx, name)
	if err != nil {
		return err
	}
	if _, err := q.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(url),
		MessageBody: aws.String(string(body)),
	}); err != nil {
		return services.Wrap(services.ErrTransient, "queue", "send message", name, err)
	}
	return nil
}

// Receive long-polls name for one message.
func (q *Queue) Receive(ctx context.Context, name string, wait time.Duration) ([]queue.Message, error) {
	url, err := q.url(ctx, name)
	if err != nil {
		return nil, err
	}
	out, err := q.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(url),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     int32(wait / time.Second),
	})
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "queue", "receive message", name, err)
	}
	messages := make([]queue.Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		messages = append(messages, queue.Message{
			ID:      aws.ToString(m.MessageId),
			Body:    []byte(aws.ToString(m.Body)),
			Receipt: aws.ToString(m.ReceiptHandle),
		})
	}
	return messages, nil
}

// Delete acknowledges msg.
func (q *Queue) Delete(ctx context.Context, name string, msg queue.Message) error {
	url, err := q.url(ctx, name)
	if err != nil {
		return err
	}
	if _, err := q.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(url),
		ReceiptHandle: aws.String(msg.Receipt),
	}); err != nil {
		return services.Wrap(services.ErrTransient, "queue", "delete message", name, err)
	}
	return nil
}

// Close is a no-op for the SDK client.
func (q *Queue) Close() error { return nil }

func (q *Queue) url(ctx context.Context, name string) (string, error) {
	q.mu.Lock()
	url, ok := q.urls[name]
	q.mu.Unlock()
	if ok {
		return url, nil
	}
	out, err := q.api.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(name)})
	if err != nil {
		var missing *types.QueueDoesNotExist
		if errors.As(err, &missing) {
			return "", services.Wrap(services.ErrNotFound, "queue", "get queue url", fmt.Sprintf("Queue %q does not exist", name), err)
		}
		return "", services.Wrap(services.ErrTransient, "queue", "get queue url", name, err)
	}
	url = aws.ToString(out.QueueUrl)
	q.remember(name, url)
	return url, nil
}

func (q *Queue) remember(name, url string) {
	if url == "" {
		return
	}
	q.mu.Lock()
	q.urls[name] = url
	q.mu.Unlock()
}
