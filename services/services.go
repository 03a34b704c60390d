package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/xi2852-amsidh-lokhande/order-processing-system/domain"
	"github.com/xi2852-amsidh-lokhande/order-processing-system/storage"
)

var tracer = otel.Tracer("order-processing-system/services")

// RecordWriter persists a domain row together with its idempotency marker.
type RecordWriter interface {
	Save(ctx context.Context, rec storage.Record) error
	Seen(ctx context.Context, rec storage.Record) (bool, error)
}

// EventPublisher emits domain events after a successful write. A false
// result means delivery is not guaranteed.
type EventPublisher interface {
	PublishOrderPlaced(ctx context.Context, d domain.OrderPlacedDetail) bool
	PublishOrderUpdated(ctx context.Context, d domain.OrderUpdatedDetail) bool
	PublishPaymentProcessed(ctx context.Context, d domain.PaymentProcessedDetail) bool
	PublishInventoryUpdated(ctx context.Context, d domain.InventoryUpdatedDetail) bool
}

func defaultNow() time.Time { return time.Now().UTC() }

func defaultID() string { return uuid.NewString() }
