package services

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/xi2852-amsidh-lokhande/order-processing-system/domain"
	"github.com/xi2852-amsidh-lokhande/order-processing-system/storage"
)

const maxAdjustAttempts = 5

// InventoryReader loads the current row of a vendor product.
type InventoryReader interface {
	GetInventory(ctx context.Context, vendorID, productID string) (domain.InventoryItem, error)
}

// AdjustInventoryRequest changes the on-hand quantity of one product.
// Reference identifies the adjustment; repeating a reference is a no-op.
type AdjustInventoryRequest struct {
	VendorID       string `json:"vendorId"`
	ProductID      string `json:"productId"`
	QuantityChange int64  `json:"quantityChange"`
	Reference      string `json:"reference,omitempty"`
}

type AdjustInventoryResult struct {
	VendorID       string
	ProductID      string
	QuantityChange int64
	NewQuantity    int64
	Reference      string
	// Applied is false when the reference had already been applied.
	Applied        bool
	EventPublished bool
}

type InventoryService struct {
	reader    InventoryReader
	writer    RecordWriter
	publisher EventPublisher
	logger    *log.Logger
	now       func() time.Time
	newID     func() string
}

func NewInventoryService(reader InventoryReader, writer RecordWriter, publisher EventPublisher, logger *log.Logger) *InventoryService {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &InventoryService{reader: reader, writer: writer, publisher: publisher, logger: logger, now: defaultNow, newID: defaultID}
}

// Adjust applies a quantity change with optimistic concurrency. A conflicting
// writer causes a re-read, up to maxAdjustAttempts times.
func (s *InventoryService) Adjust(ctx context.Context, req AdjustInventoryRequest) (AdjustInventoryResult, error) {
	ctx, span := tracer.Start(ctx, "inventory.adjust")
	defer span.End()

	ref := req.Reference
	if ref == "" {
		ref = s.newID()
	}
	span.SetAttributes(
		attribute.String("inventory.vendor_id", req.VendorID),
		attribute.String("inventory.product_id", req.ProductID),
		attribute.Int64("inventory.change", req.QuantityChange),
		attribute.String("inventory.reference", ref),
	)
	result := AdjustInventoryResult{VendorID: req.VendorID, ProductID: req.ProductID, QuantityChange: req.QuantityChange, Reference: ref}
	entry := s.logger.WithFields(log.Fields{"vendorId": req.VendorID, "productId": req.ProductID, "reference": ref})

	for attempt := 1; attempt <= maxAdjustAttempts; attempt++ {
		current, err := s.reader.GetInventory(ctx, req.VendorID, req.ProductID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "read inventory")
			return AdjustInventoryResult{}, &domain.PersistenceError{Op: "read inventory", Err: err}
		}

		next := current
		next.Quantity = current.Quantity + req.QuantityChange
		next.UpdatedAt = s.now()
		rec := storage.InventoryRecord(next, ref)

		seen, err := s.writer.Seen(ctx, rec)
		if err != nil {
			entry.WithError(err).Warn("marker lookup failed, attempting write")
		}
		if seen {
			entry.Info("inventory adjustment already applied")
			result.NewQuantity = current.Quantity
			return result, nil
		}

		err = s.writer.Save(ctx, rec)
		if errors.Is(err, domain.ErrConcurrencyConflict) {
			entry.WithField("attempt", attempt).Warn("inventory changed concurrently, retrying")
			continue
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "save inventory")
			return AdjustInventoryResult{}, err
		}

		result.NewQuantity = next.Quantity
		result.Applied = true
		result.EventPublished = s.publisher.PublishInventoryUpdated(ctx, domain.InventoryUpdatedDetail{
			VendorID:       req.VendorID,
			ProductID:      req.ProductID,
			QuantityChange: req.QuantityChange,
			NewQuantity:    next.Quantity,
		})
		if !result.EventPublished {
			entry.Error("failed to publish InventoryUpdated event")
		}
		entry.WithField("newQuantity", next.Quantity).Info("inventory updated")
		return result, nil
	}

	span.SetStatus(codes.Error, "retries exhausted")
	return AdjustInventoryResult{}, &domain.PersistenceError{Op: "adjust inventory", Err: domain.ErrConcurrencyConflict}
}
