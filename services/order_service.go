package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/xi2852-amsidh-lokhande/order-processing-system/domain"
	"github.com/xi2852-amsidh-lokhande/order-processing-system/storage"
)

// OrderItemRequest is one requested line. Missing quantity counts as 1 and
// a missing price falls back to domain.DefaultItemPrice.
type OrderItemRequest struct {
	VendorID  string              `json:"vendorId"`
	ProductID string              `json:"productId"`
	Quantity  *int64              `json:"quantity,omitempty"`
	Price     decimal.NullDecimal `json:"price"`
}

type PlaceOrderRequest struct {
	CustomerID string             `json:"customerId"`
	Items      []OrderItemRequest `json:"items"`
}

type PlaceOrderResult struct {
	OrderID        string
	TotalAmount    decimal.Decimal
	EventPublished bool
}

type UpdateStatusResult struct {
	Success bool   `json:"success"`
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
}

// OrderService places orders and announces status changes.
type OrderService struct {
	writer    RecordWriter
	publisher EventPublisher
	logger    *log.Logger
	now       func() time.Time
	newID     func() string
}

func NewOrderService(writer RecordWriter, publisher EventPublisher, logger *log.Logger) *OrderService {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &OrderService{writer: writer, publisher: publisher, logger: logger, now: defaultNow, newID: defaultID}
}

// PlaceOrder saves a new order with its marker and publishes OrderPlaced.
// A failed publish is reported, not rolled back.
func (s *OrderService) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (PlaceOrderResult, error) {
	ctx, span := tracer.Start(ctx, "order.place")
	defer span.End()

	order := domain.Order{
		OrderID:    s.newID(),
		CustomerID: req.CustomerID,
		Status:     domain.OrderStatusPlaced,
		CreatedAt:  s.now(),
	}
	eventItems := make([]domain.EventItem, 0, len(req.Items))
	for _, it := range req.Items {
		qty := int64(1)
		if it.Quantity != nil {
			qty = *it.Quantity
		}
		price := domain.DefaultItemPrice
		if it.Price.Valid {
			price = it.Price.Decimal
		}
		order.Items = append(order.Items, domain.OrderItem{VendorID: it.VendorID, ProductID: it.ProductID, Quantity: qty, Price: price})
		eventItems = append(eventItems, domain.EventItem{VendorID: it.VendorID, ProductID: it.ProductID, Quantity: qty, Price: price.StringFixed(2)})
	}
	order.TotalAmount = domain.OrderTotal(order.Items)
	span.SetAttributes(attribute.String("order.id", order.OrderID), attribute.Int("order.items", len(order.Items)))

	rec, err := storage.OrderRecord(order)
	if err != nil {
		span.SetStatus(codes.Error, "encode order")
		return PlaceOrderResult{}, &domain.PersistenceError{Op: "encode order", Err: err}
	}
	if err := s.writer.Save(ctx, rec); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save order")
		return PlaceOrderResult{}, err
	}
	s.logger.WithField("orderId", order.OrderID).Info("order saved")

	published := s.publisher.PublishOrderPlaced(ctx, domain.OrderPlacedDetail{
		OrderID:     order.OrderID,
		CustomerID:  order.CustomerID,
		Items:       eventItems,
		TotalAmount: order.TotalAmount.InexactFloat64(),
		Status:      "placed",
	})
	if published {
		s.logger.WithField("orderId", order.OrderID).Info("OrderPlaced event published")
	} else {
		s.logger.WithField("orderId", order.OrderID).Error("failed to publish OrderPlaced event")
	}
	span.SetAttributes(attribute.Bool("event.published", published))

	return PlaceOrderResult{OrderID: order.OrderID, TotalAmount: order.TotalAmount, EventPublished: published}, nil
}

// UpdateStatus announces a status change of an existing order.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID, status string, details map[string]any) UpdateStatusResult {
	ctx, span := tracer.Start(ctx, "order.update_status")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID), attribute.String("order.status", status))

	if details == nil {
		details = map[string]any{}
	}
	published := s.publisher.PublishOrderUpdated(ctx, domain.OrderUpdatedDetail{OrderID: orderID, Status: status, Details: details})
	fields := log.Fields{"orderId": orderID, "status": status}
	if published {
		s.logger.WithFields(fields).Info("order status updated")
	} else {
		s.logger.WithFields(fields).Error("failed to publish OrderUpdated event")
	}
	return UpdateStatusResult{Success: published, OrderID: orderID, Status: status}
}
