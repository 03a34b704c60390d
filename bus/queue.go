package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
)

// maxDequeueBatch is the service limit for a single DequeueMessages call.
const maxDequeueBatch = 32

// QueueClient is the subset of *azqueue.QueueClient used by this package.
type QueueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
	DequeueMessages(ctx context.Context, o *azqueue.DequeueMessagesOptions) (azqueue.DequeueMessagesResponse, error)
	DeleteMessage(ctx context.Context, messageID string, popReceipt string, o *azqueue.DeleteMessageOptions) (azqueue.DeleteMessageResponse, error)
}

func queueClientOptions() *azqueue.ClientOptions {
	return &azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
}

// NewQueueClient opens a queue client with the standard retry policy.
func NewQueueClient(connStr, name string) (*azqueue.QueueClient, error) {
	return azqueue.NewQueueClientFromConnectionString(connStr, name, queueClientOptions())
}

// EnsureQueues creates the named queues, ignoring ones that already exist.
func EnsureQueues(ctx context.Context, connStr string, names []string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		q, err := NewQueueClient(connStr, name)
		if err != nil {
			return err
		}
		if _, err := q.Create(ctx, nil); err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == "QueueAlreadyExists") {
				return fmt.Errorf("create queue %s: %w", name, err)
			}
		}
	}
	return nil
}

// QueueSender fans every envelope out to all subscriber queues.
type QueueSender struct {
	queues map[string]QueueClient
}

func NewQueueSender(queues map[string]QueueClient) *QueueSender {
	return &QueueSender{queues: queues}
}

func (s *QueueSender) Send(ctx context.Context, _ string, body []byte) error {
	if s == nil || len(s.queues) == 0 {
		return ErrNoTargets
	}
	var errs []error
	for name, q := range s.queues {
		if _, err := q.EnqueueMessage(ctx, string(body), nil); err != nil {
			errs = append(errs, fmt.Errorf("enqueue %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// QueueSource reads a consumer queue. Poison messages are copied to the
// dead-letter queue before being deleted.
type QueueSource struct {
	queue      QueueClient
	deadLetter QueueClient
	batchSize  int32
	visibility time.Duration
}

func NewQueueSource(queue, deadLetter QueueClient, batchSize int, visibility time.Duration) *QueueSource {
	if batchSize <= 0 {
		batchSize = 1
	}
	if batchSize > maxDequeueBatch {
		batchSize = maxDequeueBatch
	}
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	return &QueueSource{queue: queue, deadLetter: deadLetter, batchSize: int32(batchSize), visibility: visibility}
}

type popReceipt string

func (s *QueueSource) Receive(ctx context.Context) ([]Message, error) {
	resp, err := s.queue.DequeueMessages(ctx, &azqueue.DequeueMessagesOptions{
		NumberOfMessages:  to.Ptr(s.batchSize),
		VisibilityTimeout: to.Ptr(int32(s.visibility / time.Second)),
	})
	if err != nil {
		return nil, err
	}
	msgs := make([]Message, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		if m == nil || m.MessageID == nil || m.PopReceipt == nil {
			continue
		}
		msg := Message{ID: *m.MessageID, handle: popReceipt(*m.PopReceipt)}
		if m.MessageText != nil {
			msg.Body = []byte(*m.MessageText)
		}
		if m.DequeueCount != nil {
			msg.DeliveryCount = *m.DequeueCount
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func (s *QueueSource) Ack(ctx context.Context, msg Message) error {
	receipt, ok := msg.handle.(popReceipt)
	if !ok {
		return fmt.Errorf("message %s was not received from a queue", msg.ID)
	}
	_, err := s.queue.DeleteMessage(ctx, msg.ID, string(receipt), nil)
	return err
}

func (s *QueueSource) DeadLetter(ctx context.Context, msg Message) error {
	if s.deadLetter == nil {
		return fmt.Errorf("message %s: %w", msg.ID, ErrNoTargets)
	}
	if _, err := s.deadLetter.EnqueueMessage(ctx, string(msg.Body), nil); err != nil {
		return fmt.Errorf("dead-letter %s: %w", msg.ID, err)
	}
	return s.Ack(ctx, msg)
}

func (s *QueueSource) Redelivers() bool { return true }
