package sqsqueue_test

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"derbyflow/internal/queue/sqsqueue"
	"derbyflow/internal/services"
)

type fakeSQS struct {
	queues   map[string][]types.Message
	deleted  []string
	lookups  int
	nextID   int
	lastWait int32
}

func newFakeSQS() *fakeSQS {
	return &fakeSQS{queues: make(map[string][]types.Message)}
}

func urlFor(name string) string { return "https://sqs.local/000/" + name }

func nameFor(url string) string { return url[len("https://sqs.local/000/"):] }

func (f *fakeSQS) CreateQueue(_ context.Context, in *sqs.CreateQueueInput, _ ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error) {
	name := aws.ToString(in.QueueName)
	if _, ok := f.queues[name]; !ok {
		f.queues[name] = nil
	}
	return &sqs.CreateQueueOutput{QueueUrl: aws.String(urlFor(name))}, nil
}

func (f *fakeSQS) GetQueueUrl(_ context.Context, in *sqs.GetQueueUrlInput, _ ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error) {
	f.lookups++
	name := aws.ToString(in.QueueName)
	if _, ok := f.queues[name]; !ok {
		return nil, &types.QueueDoesNotExist{Message: aws.String("nope")}
	}
	return &sqs.GetQueueUrlOutput{QueueUrl: aws.String(urlFor(name))}, nil
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	name := nameFor(aws.ToString(in.QueueUrl))
	f.nextID++
	id := strconv.Itoa(f.nextID)
	f.queues[name] = append(f.queues[name], types.Message{
		MessageId:     aws.String(id),
		Body:          in.MessageBody,
		ReceiptHandle: aws.String("rh-" + id),
	})
	return &sqs.SendMessageOutput{MessageId: aws.String(id)}, nil
}

func (f *fakeSQS) ReceiveMessage(_ context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	name := nameFor(aws.ToString(in.QueueUrl))
	f.lastWait = in.WaitTimeSeconds
	msgs := f.queues[name]
	if len(msgs) == 0 {
		return &sqs.ReceiveMessageOutput{}, nil
	}
	return &sqs.ReceiveMessageOutput{Messages: msgs[:1]}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	name := nameFor(aws.ToString(in.QueueUrl))
	handle := aws.ToString(in.ReceiptHandle)
	msgs := f.queues[name]
	for i, m := range msgs {
		if aws.ToString(m.ReceiptHandle) == handle {
			f.queues[name] = append(msgs[:i], msgs[i+1:]...)
			break
		}
	}
	f.deleted = append(f.deleted, handle)
	return &sqs.DeleteMessageOutput{}, nil
}

func TestSendReceiveDelete(t *testing.T) {
	api := newFakeSQS()
	q := sqsqueue.New(api)
	ctx := context.Background()

	if err := q.Ensure(ctx, "detect-queue"); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if err := q.Send(ctx, "detect-queue", []byte(`{"VideoId":42}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	msgs, err := q.Receive(ctx, "detect-queue", 10*time.Second)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(msgs) != 1 || string(msgs[0].Body) != `{"VideoId":42}` {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
	if api.lastWait != 10 {
		t.Fatalf("expected 10s long poll, got %d", api.lastWait)
	}
	if err := q.Delete(ctx, "detect-queue", msgs[0]); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(api.deleted) != 1 || api.deleted[0] != msgs[0].Receipt {
		t.Fatalf("unexpected deletes: %v", api.deleted)
	}
	if api.lookups != 0 {
		t.Fatalf("expected queue url cached from Ensure, got %d lookups", api.lookups)
	}
}

func TestSendToMissingQueue(t *testing.T) {
	q := sqsqueue.New(newFakeSQS())
	err := q.Send(context.Background(), "ghost", []byte("{}"))
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
