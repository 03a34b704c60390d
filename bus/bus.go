// Package bus moves event envelopes between producers and consumers over
// Azure Storage queues or Kafka.
package bus

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// ErrNoTargets is returned by a sender that has nowhere to deliver to.
var ErrNoTargets = errors.New("bus: no delivery targets configured")

// Sender delivers one encoded envelope. Key is used for partitioning where
// the transport supports it.
type Sender interface {
	Send(ctx context.Context, key string, body []byte) error
}

// Message is a single delivery pulled from a Source.
type Message struct {
	ID            string
	Body          []byte
	DeliveryCount int64

	handle any
}

// Source yields batches of messages and settles them once handled.
type Source interface {
	// Receive returns the next batch, or an empty batch when nothing is
	// available yet.
	Receive(ctx context.Context) ([]Message, error)
	// Ack removes a handled message from the source.
	Ack(ctx context.Context, msg Message) error
	// DeadLetter moves a message to the dead-letter destination and removes
	// it from the source.
	DeadLetter(ctx context.Context, msg Message) error
	// Redelivers reports whether an unsettled message comes back later.
	Redelivers() bool
}

func exponentialBackoff(attempt int, initial, max time.Duration) time.Duration {
	if initial <= 0 {
		initial = time.Second
	}
	if attempt <= 0 {
		return initial
	}
	if max <= 0 {
		max = 10 * time.Second
	}
	backoff := float64(initial) * math.Pow(2, float64(attempt-1))
	if backoff > float64(max) {
		backoff = float64(max)
	}
	jitter := 0.2 * backoff
	return time.Duration(backoff + (rand.Float64()-0.5)*2*jitter)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
