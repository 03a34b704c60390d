package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter returns a writer for topic that waits for all replicas.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
}

// NewKafkaReader returns a consumer-group reader for topic.
func NewKafkaReader(brokers []string, groupID, topic string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  groupID,
		Topic:    topic,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
}

// KafkaSender publishes envelopes to a single topic keyed by the event's
// business identifier.
type KafkaSender struct {
	writer kafkaWriter
}

func NewKafkaSender(w kafkaWriter) *KafkaSender {
	return &KafkaSender{writer: w}
}

func (s *KafkaSender) Send(ctx context.Context, key string, body []byte) error {
	if s == nil || s.writer == nil {
		return ErrNoTargets
	}
	return s.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: body})
}

func (s *KafkaSender) Close() error {
	if s == nil || s.writer == nil {
		return nil
	}
	return s.writer.Close()
}

// KafkaSource reads a topic through a consumer group. Kafka cannot redeliver
// a single record, so failed records go straight to the dead-letter topic.
type KafkaSource struct {
	reader     kafkaReader
	deadLetter kafkaWriter
	batchSize  int
	wait       time.Duration
}

// NewKafkaSource builds a source that gathers up to batchSize records,
// waiting at most wait for each one.
func NewKafkaSource(r kafkaReader, deadLetter kafkaWriter, batchSize int, wait time.Duration) *KafkaSource {
	if batchSize <= 0 {
		batchSize = 1
	}
	if wait <= 0 {
		wait = time.Second
	}
	return &KafkaSource{reader: r, deadLetter: deadLetter, batchSize: batchSize, wait: wait}
}

func (s *KafkaSource) Receive(ctx context.Context) ([]Message, error) {
	var out []Message
	for len(out) < s.batchSize {
		fctx, cancel := context.WithTimeout(ctx, s.wait)
		m, err := s.reader.FetchMessage(fctx)
		cancel()
		if err != nil {
			if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
				break
			}
			if len(out) > 0 {
				break
			}
			return nil, err
		}
		out = append(out, Message{
			ID:            fmt.Sprintf("%s/%d/%d", m.Topic, m.Partition, m.Offset),
			Body:          m.Value,
			DeliveryCount: 1,
			handle:        m,
		})
	}
	return out, nil
}

func (s *KafkaSource) Ack(ctx context.Context, msg Message) error {
	m, ok := msg.handle.(kafka.Message)
	if !ok {
		return fmt.Errorf("message %s was not received from kafka", msg.ID)
	}
	return s.reader.CommitMessages(ctx, m)
}

func (s *KafkaSource) DeadLetter(ctx context.Context, msg Message) error {
	m, ok := msg.handle.(kafka.Message)
	if !ok {
		return fmt.Errorf("message %s was not received from kafka", msg.ID)
	}
	if s.deadLetter == nil {
		return fmt.Errorf("message %s: %w", msg.ID, ErrNoTargets)
	}
	if err := s.deadLetter.WriteMessages(ctx, kafka.Message{Key: m.Key, Value: m.Value, Headers: m.Headers}); err != nil {
		return fmt.Errorf("dead-letter %s: %w", msg.ID, err)
	}
	return s.reader.CommitMessages(ctx, m)
}

func (s *KafkaSource) Redelivers() bool { return false }

func (s *KafkaSource) Close() error {
	var errs []error
	if s.reader != nil {
		errs = append(errs, s.reader.Close())
	}
	if s.deadLetter != nil {
		errs = append(errs, s.deadLetter.Close())
	}
	return errors.Join(errs...)
}
