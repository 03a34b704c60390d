package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/xi2852-amsidh-lokhande/order-processing-system/domain"
	"github.com/xi2852-amsidh-lokhande/order-processing-system/services"
)

// Consumer names. They also scope the idempotency markers.
const (
	InventoryConsumer    = "inventory"
	NotificationConsumer = "notification"
	PaymentConsumer      = "payment"
)

func decodeOrderPlaced(detail json.RawMessage) (domain.OrderPlacedDetail, error) {
	var d domain.OrderPlacedDetail
	if err := json.Unmarshal(detail, &d); err != nil {
		return d, &domain.MalformedEventError{Reason: err.Error()}
	}
	return d, nil
}

func orderPlacedKey(detail json.RawMessage) (string, error) {
	d, err := decodeOrderPlaced(detail)
	if err != nil {
		return "", err
	}
	if d.OrderID == "" {
		return "", &domain.MalformedEventError{Reason: "missing orderId"}
	}
	return d.OrderID, nil
}

type InventoryAdjuster interface {
	Adjust(ctx context.Context, req services.AdjustInventoryRequest) (services.AdjustInventoryResult, error)
}

// InventoryReaction decrements stock for every line of a placed order.
type InventoryReaction struct {
	inventory InventoryAdjuster
}

func NewInventoryReaction(inventory InventoryAdjuster) *InventoryReaction {
	return &InventoryReaction{inventory: inventory}
}

func (r *InventoryReaction) Name() string { return InventoryConsumer }

func (r *InventoryReaction) Accepts(t domain.DetailType) bool { return t == domain.OrderPlaced }

func (r *InventoryReaction) Key(detail json.RawMessage) (string, error) {
	return orderPlacedKey(detail)
}

// Apply decrements each vendor product once by the summed quantity of its
// lines. The order id is the adjustment reference, so products that already
// succeeded on an earlier delivery are not applied twice.
func (r *InventoryReaction) Apply(ctx context.Context, detail json.RawMessage) error {
	d, err := decodeOrderPlaced(detail)
	if err != nil {
		return err
	}
	var errs []error
	for _, line := range stockLines(d.Items) {
		_, err := r.inventory.Adjust(ctx, services.AdjustInventoryRequest{
			VendorID:       line.VendorID,
			ProductID:      line.ProductID,
			QuantityChange: -line.Quantity,
			Reference:      d.OrderID,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s/%s: %w", line.VendorID, line.ProductID, err))
		}
	}
	return errors.Join(errs...)
}

// stockLines merges order lines per vendor product, keeping first-seen order.
func stockLines(items []domain.EventItem) []domain.EventItem {
	var out []domain.EventItem
	index := make(map[[2]string]int)
	for _, it := range items {
		if it.VendorID == "" || it.ProductID == "" {
			continue
		}
		k := [2]string{it.VendorID, it.ProductID}
		if i, ok := index[k]; ok {
			out[i].Quantity += it.Quantity
			continue
		}
		index[k] = len(out)
		out = append(out, domain.EventItem{VendorID: it.VendorID, ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return out
}

// Notifier publishes a message on a pub/sub channel.
type Notifier interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

type notification struct {
	OrderID     string  `json:"orderId"`
	CustomerID  string  `json:"customerId"`
	TotalAmount float64 `json:"totalAmount"`
	Timestamp   string  `json:"timestamp"`
}

// NotificationReaction announces placed orders on a Redis channel.
type NotificationReaction struct {
	notifier Notifier
	channel  string
	logger   *log.Logger
	now      func() time.Time
}

func NewNotificationReaction(notifier Notifier, channel string, logger *log.Logger) *NotificationReaction {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &NotificationReaction{notifier: notifier, channel: channel, logger: logger, now: time.Now}
}

func (r *NotificationReaction) Name() string { return NotificationConsumer }

func (r *NotificationReaction) Accepts(t domain.DetailType) bool { return t == domain.OrderPlaced }

func (r *NotificationReaction) Key(detail json.RawMessage) (string, error) {
	return orderPlacedKey(detail)
}

func (r *NotificationReaction) Apply(ctx context.Context, detail json.RawMessage) error {
	d, err := decodeOrderPlaced(detail)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(notification{
		OrderID:     d.OrderID,
		CustomerID:  d.CustomerID,
		TotalAmount: d.TotalAmount,
		Timestamp:   r.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	if err := r.notifier.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	r.logger.WithFields(log.Fields{"orderId": d.OrderID, "customerId": d.CustomerID}).Info("order notification sent")
	return nil
}

type PaymentProcessor interface {
	ProcessPayment(ctx context.Context, req services.ProcessPaymentRequest) (services.ProcessPaymentResult, error)
}

// PaymentReaction charges the total of a placed order, once per order id.
type PaymentReaction struct {
	payments PaymentProcessor
}

func NewPaymentReaction(payments PaymentProcessor) *PaymentReaction {
	return &PaymentReaction{payments: payments}
}

func (r *PaymentReaction) Name() string { return PaymentConsumer }

func (r *PaymentReaction) Accepts(t domain.DetailType) bool { return t == domain.OrderPlaced }

func (r *PaymentReaction) Key(detail json.RawMessage) (string, error) { return orderPlacedKey(detail) }

func (r *PaymentReaction) Apply(ctx context.Context, detail json.RawMessage) error {
	d, err := decodeOrderPlaced(detail)
	if err != nil {
		return err
	}
	_, err = r.payments.ProcessPayment(ctx, services.ProcessPaymentRequest{
		OrderID:   d.OrderID,
		Amount:    decimal.NewFromFloat(d.TotalAmount).Round(2),
		Reference: d.OrderID,
	})
	return err
}
