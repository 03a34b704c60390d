package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/segmentio/kafka-go"
)

type queuedMessage struct {
	id       string
	text     string
	receipt  string
	dequeues int64
	hidden   bool
}

// fakeQueue keeps messages in memory. Dequeued messages stay hidden until
// reveal is called, which emulates the visibility timeout expiring.
type fakeQueue struct {
	mu        sync.Mutex
	seq       int
	messages  []*queuedMessage
	failSend  bool
	failRecv  int
	requested []int32
}

func (q *fakeQueue) EnqueueMessage(_ context.Context, content string, _ *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failSend {
		return azqueue.EnqueueMessagesResponse{}, errors.New("enqueue failure")
	}
	q.seq++
	q.messages = append(q.messages, &queuedMessage{id: fmt.Sprintf("m%d", q.seq), text: content})
	return azqueue.EnqueueMessagesResponse{}, nil
}

func (q *fakeQueue) DequeueMessages(_ context.Context, o *azqueue.DequeueMessagesOptions) (azqueue.DequeueMessagesResponse, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failRecv > 0 {
		q.failRecv--
		return azqueue.DequeueMessagesResponse{}, errors.New("dequeue failure")
	}
	limit := int32(1)
	if o != nil && o.NumberOfMessages != nil {
		limit = *o.NumberOfMessages
	}
	q.requested = append(q.requested, limit)
	var out []*azqueue.DequeuedMessage
	for _, m := range q.messages {
		if int32(len(out)) >= limit {
			break
		}
		if m.hidden {
			continue
		}
		q.seq++
		m.hidden = true
		m.dequeues++
		m.receipt = fmt.Sprintf("r%d", q.seq)
		id, text, receipt, count := m.id, m.text, m.receipt, m.dequeues
		out = append(out, &azqueue.DequeuedMessage{MessageID: &id, MessageText: &text, PopReceipt: &receipt, DequeueCount: &count})
	}
	return azqueue.DequeueMessagesResponse{Messages: out}, nil
}

func (q *fakeQueue) DeleteMessage(_ context.Context, id, receipt string, _ *azqueue.DeleteMessageOptions) (azqueue.DeleteMessageResponse, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, m := range q.messages {
		if m.id == id {
			if m.receipt != receipt {
				return azqueue.DeleteMessageResponse{}, errors.New("pop receipt mismatch")
			}
			q.messages = append(q.messages[:i], q.messages[i+1:]...)
			return azqueue.DeleteMessageResponse{}, nil
		}
	}
	return azqueue.DeleteMessageResponse{}, errors.New("message not found")
}

func (q *fakeQueue) reveal() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, m := range q.messages {
		m.hidden = false
	}
}

func (q *fakeQueue) texts() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.messages))
	for i, m := range q.messages {
		out[i] = m.text
	}
	return out
}

type fakeKafka struct {
	mu        sync.Mutex
	pending   []kafka.Message
	written   []kafka.Message
	committed []kafka.Message
	writeErr  error
}

func (k *fakeKafka) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.writeErr != nil {
		return k.writeErr
	}
	k.written = append(k.written, msgs...)
	return nil
}

func (k *fakeKafka) FetchMessage(ctx context.Context) (kafka.Message, error) {
	k.mu.Lock()
	if len(k.pending) > 0 {
		m := k.pending[0]
		k.pending = k.pending[1:]
		k.mu.Unlock()
		return m, nil
	}
	k.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (k *fakeKafka) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.committed = append(k.committed, msgs...)
	return nil
}

func (k *fakeKafka) Close() error { return nil }
