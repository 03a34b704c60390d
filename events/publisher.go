package events

import (
	"context"
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xi2852-amsidh-lokhande/order-processing-system/bus"
	"github.com/xi2852-amsidh-lokhande/order-processing-system/domain"
)

// DefaultSource is stamped on envelopes when no source is configured.
const DefaultSource = "order.service"

// Publisher wraps event details into envelopes and hands them to a sender.
// It never returns an error; failures are logged and reported as false.
type Publisher struct {
	sender  bus.Sender
	source  string
	busName string
	logger  *log.Logger
	now     func() time.Time
}

func NewPublisher(sender bus.Sender, source, busName string, logger *log.Logger) *Publisher {
	if source == "" {
		source = DefaultSource
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Publisher{sender: sender, source: source, busName: busName, logger: logger, now: time.Now}
}

// Publish emits detail under detailType and reports whether the bus
// accepted it.
func (p *Publisher) Publish(ctx context.Context, detailType domain.DetailType, detail any) bool {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "events.publish", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	span.SetAttributes(attribute.String("event.detail_type", string(detailType)))

	if err := p.publish(ctx, detailType, detail); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		p.logger.WithError(err).WithField("detailType", detailType).Error("event publish failed")
		return false
	}
	return true
}

func (p *Publisher) publish(ctx context.Context, detailType domain.DetailType, detail any) error {
	if p == nil || p.sender == nil {
		return &domain.PublishError{DetailType: detailType, Err: bus.ErrNoTargets}
	}
	raw, err := json.Marshal(detail)
	if err != nil {
		return &domain.PublishError{DetailType: detailType, Err: err}
	}
	body, err := json.Marshal(domain.Envelope{
		Source:     p.source,
		DetailType: detailType,
		Detail:     raw,
		EventBus:   p.busName,
	})
	if err != nil {
		return &domain.PublishError{DetailType: detailType, Err: err}
	}
	if err := p.sender.Send(ctx, partitionKey(raw), body); err != nil {
		return &domain.PublishError{DetailType: detailType, Err: err}
	}
	return nil
}

func (p *Publisher) timestamp() string {
	return p.now().UTC().Format(time.RFC3339)
}

func (p *Publisher) PublishOrderPlaced(ctx context.Context, d domain.OrderPlacedDetail) bool {
	if d.Timestamp == "" {
		d.Timestamp = p.timestamp()
	}
	return p.Publish(ctx, domain.OrderPlaced, d)
}

func (p *Publisher) PublishOrderUpdated(ctx context.Context, d domain.OrderUpdatedDetail) bool {
	if d.Timestamp == "" {
		d.Timestamp = p.timestamp()
	}
	return p.Publish(ctx, domain.OrderUpdated, d)
}

func (p *Publisher) PublishPaymentProcessed(ctx context.Context, d domain.PaymentProcessedDetail) bool {
	if d.Timestamp == "" {
		d.Timestamp = p.timestamp()
	}
	return p.Publish(ctx, domain.PaymentProcessed, d)
}

func (p *Publisher) PublishInventoryUpdated(ctx context.Context, d domain.InventoryUpdatedDetail) bool {
	if d.Timestamp == "" {
		d.Timestamp = p.timestamp()
	}
	return p.Publish(ctx, domain.InventoryUpdated, d)
}

// partitionKey picks the business identifier of a detail so that events of
// one order land on the same Kafka partition.
func partitionKey(detail json.RawMessage) string {
	var ids struct {
		OrderID   string `json:"orderId"`
		PaymentID string `json:"paymentId"`
		VendorID  string `json:"vendorId"`
		ProductID string `json:"productId"`
	}
	if err := json.Unmarshal(detail, &ids); err != nil {
		return ""
	}
	switch {
	case ids.OrderID != "":
		return ids.OrderID
	case ids.PaymentID != "":
		return ids.PaymentID
	case ids.VendorID != "":
		return ids.VendorID + ":" + ids.ProductID
	}
	return ""
}
