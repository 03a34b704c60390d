package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderStatusPlaced      = "PLACED"
	PaymentStatusProcessed = "PROCESSED"
)

// DefaultItemPrice is charged for line items that arrive without a price.
var DefaultItemPrice = decimal.RequireFromString("10.00")

// OrderItem is a single line of an order.
type OrderItem struct {
	VendorID  string          `json:"vendorId"`
	ProductID string          `json:"productId"`
	Quantity  int64           `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

// Order is the durable record owned by the order service.
type Order struct {
	OrderID     string
	CustomerID  string
	Items       []OrderItem
	TotalAmount decimal.Decimal
	Status      string
	CreatedAt   time.Time
}

// Payment is the durable record owned by the payment service.
type Payment struct {
	PaymentID     string
	OrderID       string
	Amount        decimal.Decimal
	PaymentMethod string
	Status        string
	ProcessedAt   time.Time
}

// InventoryItem holds the on-hand quantity of one vendor product.
type InventoryItem struct {
	VendorID  string
	ProductID string
	Quantity  int64
	UpdatedAt time.Time
	// ETag of the stored row; empty when the item has never been written.
	ETag string
}

// OrderTotal sums price × quantity over the items using decimal arithmetic.
func OrderTotal(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Price.Mul(decimal.NewFromInt(it.Quantity)))
	}
	return total
}
