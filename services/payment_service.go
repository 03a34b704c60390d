package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/xi2852-amsidh-lokhande/order-processing-system/domain"
	"github.com/xi2852-amsidh-lokhande/order-processing-system/storage"
)

const defaultPaymentMethod = "default"

// ProcessPaymentRequest charges an order. A non-empty Reference makes the
// charge idempotent: every request with the same reference maps to one
// payment.
type ProcessPaymentRequest struct {
	OrderID       string          `json:"orderId"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"paymentMethod"`
	Reference     string          `json:"reference,omitempty"`
}

type ProcessPaymentResult struct {
	PaymentID string
	OrderID   string
	Amount    decimal.Decimal
	Status    string
	// Applied is false when the reference had already been charged.
	Applied        bool
	EventPublished bool
}

var paymentNamespace = uuid.MustParse("6f1d3a52-4c1e-4f7a-9b8e-2d5c7a0e9f13")

// paymentIDFor derives a stable payment id from an idempotency reference so
// repeated requests land on the same row and marker partition.
func paymentIDFor(reference string) string {
	return uuid.NewSHA1(paymentNamespace, []byte(reference)).String()
}

type PaymentService struct {
	writer    RecordWriter
	publisher EventPublisher
	logger    *log.Logger
	now       func() time.Time
	newID     func() string
}

func NewPaymentService(writer RecordWriter, publisher EventPublisher, logger *log.Logger) *PaymentService {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &PaymentService{writer: writer, publisher: publisher, logger: logger, now: defaultNow, newID: defaultID}
}

// ProcessPayment records a processed payment and publishes PaymentProcessed.
func (s *PaymentService) ProcessPayment(ctx context.Context, req ProcessPaymentRequest) (ProcessPaymentResult, error) {
	ctx, span := tracer.Start(ctx, "payment.process")
	defer span.End()

	method := req.PaymentMethod
	if method == "" {
		method = defaultPaymentMethod
	}
	id := s.newID()
	if req.Reference != "" {
		id = paymentIDFor(req.Reference)
	}
	p := domain.Payment{
		PaymentID:     id,
		OrderID:       req.OrderID,
		Amount:        req.Amount,
		PaymentMethod: method,
		Status:        domain.PaymentStatusProcessed,
		ProcessedAt:   s.now(),
	}
	span.SetAttributes(attribute.String("payment.id", p.PaymentID), attribute.String("order.id", p.OrderID))
	entry := s.logger.WithFields(log.Fields{"paymentId": p.PaymentID, "orderId": p.OrderID})
	result := ProcessPaymentResult{
		PaymentID: p.PaymentID,
		OrderID:   p.OrderID,
		Amount:    p.Amount,
		Status:    p.Status,
	}

	rec := storage.PaymentRecord(p, req.Reference)
	if req.Reference != "" {
		seen, err := s.writer.Seen(ctx, rec)
		if err != nil {
			entry.WithError(err).Warn("marker lookup failed, attempting write")
		}
		if seen {
			entry.WithField("reference", req.Reference).Info("payment already processed")
			return result, nil
		}
	}

	if err := s.writer.Save(ctx, rec); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save payment")
		return ProcessPaymentResult{}, err
	}

	result.Applied = true
	result.EventPublished = s.publisher.PublishPaymentProcessed(ctx, domain.PaymentProcessedDetail{
		PaymentID: p.PaymentID,
		OrderID:   p.OrderID,
		Amount:    p.Amount.InexactFloat64(),
		Status:    p.Status,
	})
	if result.EventPublished {
		entry.Info("payment processed")
	} else {
		entry.Error("failed to publish PaymentProcessed event")
	}
	return result, nil
}
