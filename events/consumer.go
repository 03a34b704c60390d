package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xi2852-amsidh-lokhande/order-processing-system/bus"
	"github.com/xi2852-amsidh-lokhande/order-processing-system/domain"
)

const tracerName = "order-processing-system/events"

// IdempotencyStore remembers which business keys a consumer has applied.
type IdempotencyStore interface {
	Exists(ctx context.Context, key string) bool
	MarkDone(ctx context.Context, key string)
}

// Reaction is the side effect a consumer performs for an accepted event.
type Reaction interface {
	Name() string
	Accepts(t domain.DetailType) bool
	// Key returns the business identifier used for deduplication.
	Key(detail json.RawMessage) (string, error)
	Apply(ctx context.Context, detail json.RawMessage) error
}

// Outcome is the terminal state of a processed event.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeMalformed Outcome = "malformed"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeFailed    Outcome = "failed"
)

// Skipped reports whether the event was dropped without running the reaction.
func (o Outcome) Skipped() bool {
	return o == OutcomeDuplicate || o == OutcomeMalformed || o == OutcomeIgnored
}

// BatchResult summarizes a consumer invocation.
type BatchResult struct {
	Processed int
	Skipped   int
	Failures  []RecordFailure
}

// FailedIDs lists the records that should be delivered again.
func (r BatchResult) FailedIDs() []string { return failureIDs(r.Failures) }

// Consumer runs a Reaction behind an idempotency check:
// dedup check, side effect, then marker.
type Consumer struct {
	reaction Reaction
	store    IdempotencyStore
	logger   *log.Logger
}

func NewConsumer(reaction Reaction, store IdempotencyStore, logger *log.Logger) *Consumer {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Consumer{reaction: reaction, store: store, logger: logger}
}

func (c *Consumer) Name() string { return c.reaction.Name() }

// Process handles a single event. Skipped events return nil; only a failed
// reaction returns an error.
func (c *Consumer) Process(ctx context.Context, ev Event) error {
	_, err := c.process(ctx, ev)
	return err
}

func (c *Consumer) process(ctx context.Context, ev Event) (outcome Outcome, err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "consumer.process", trace.WithSpanKind(trace.SpanKindConsumer))
	defer func() {
		span.SetAttributes(attribute.String("consumer.outcome", string(outcome)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(outcome))
		}
		span.End()
	}()
	span.SetAttributes(
		attribute.String("consumer.name", c.reaction.Name()),
		attribute.String("event.detail_type", string(ev.DetailType)),
	)
	entry := c.logger.WithFields(log.Fields{"consumer": c.reaction.Name(), "detailType": ev.DetailType})

	if ev.DetailType != "" && !c.reaction.Accepts(ev.DetailType) {
		entry.Debug("ignoring event of unhandled type")
		return OutcomeIgnored, nil
	}
	key, err := c.reaction.Key(ev.Detail)
	if err != nil || key == "" {
		if err == nil {
			err = &domain.MalformedEventError{Reason: "missing identifier"}
		}
		entry.WithError(err).Error("dropping event without identifier")
		return OutcomeMalformed, nil
	}
	span.SetAttributes(attribute.String("consumer.key", key))
	entry = entry.WithField("key", key)

	if c.store.Exists(ctx, key) {
		entry.Info("event already processed, skipping")
		return OutcomeDuplicate, nil
	}
	if err := c.reaction.Apply(ctx, ev.Detail); err != nil {
		entry.WithError(err).Error("event processing failed")
		return OutcomeFailed, fmt.Errorf("%s: apply %s: %w", c.reaction.Name(), key, err)
	}
	c.store.MarkDone(ctx, key)
	entry.Info("event processed")
	return OutcomeApplied, nil
}

// HandleBatch processes every record independently. A failing or panicking
// record is reported in the result and never aborts the rest of the batch.
func (c *Consumer) HandleBatch(ctx context.Context, records []Record) BatchResult {
	metrics := newBatchMetrics(c.logger, c.reaction.Name())
	var res BatchResult
	for i, rec := range records {
		id := recordID(rec, i)
		outcome, err := c.handleRecord(ctx, rec)
		metrics.Observe(outcome)
		switch {
		case err != nil:
			res.Failures = append(res.Failures, RecordFailure{ID: id, Index: i, Err: err})
		case outcome.Skipped():
			res.Skipped++
		default:
			res.Processed++
		}
	}
	metrics.Log(len(records))
	return res
}

func (c *Consumer) handleRecord(ctx context.Context, rec Record) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.WithField("panic", r).Error("recovered panic while processing record")
			outcome, err = OutcomeFailed, fmt.Errorf("panic: %v", r)
		}
	}()
	ev, err := Decode(rec)
	if err != nil {
		c.logger.WithError(err).Error("dropping undecodable record")
		return OutcomeMalformed, nil
	}
	return c.process(ctx, ev)
}

// Handler adapts the consumer to a bus poller. Message bodies are treated
// as queue record bodies.
func (c *Consumer) Handler() bus.BatchHandler {
	return func(ctx context.Context, msgs []bus.Message) []string {
		return c.HandleBatch(ctx, messageRecords(msgs)).FailedIDs()
	}
}

func messageRecords(msgs []bus.Message) []Record {
	records := make([]Record, len(msgs))
	for i, m := range msgs {
		body := string(m.Body)
		records[i] = Record{MessageID: m.ID, Body: &body}
	}
	return records
}

type batchMetrics struct {
	logger   *log.Logger
	consumer string
	start    time.Time
	counts   map[Outcome]int
}

func newBatchMetrics(logger *log.Logger, consumer string) *batchMetrics {
	return &batchMetrics{logger: logger, consumer: consumer, start: time.Now(), counts: map[Outcome]int{}}
}

func (m *batchMetrics) Observe(o Outcome) { m.counts[o]++ }

func (m *batchMetrics) Log(records int) {
	fields := log.Fields{
		"consumer": m.consumer,
		"records":  records,
		"total_ms": durationToMillis(time.Since(m.start)),
	}
	for o, n := range m.counts {
		fields[string(o)] = n
	}
	m.logger.WithFields(fields).Info("consumer.batch.metrics")
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
