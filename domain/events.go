package domain

import "encoding/json"

// DetailType names the kind of domain event carried by an envelope.
type DetailType string

const (
	OrderPlaced      DetailType = "OrderPlaced"
	OrderUpdated     DetailType = "OrderUpdated"
	PaymentProcessed DetailType = "PaymentProcessed"
	InventoryUpdated DetailType = "InventoryUpdated"
)

// Valid reports whether t is one of the known detail types.
func (t DetailType) Valid() bool {
	switch t {
	case OrderPlaced, OrderUpdated, PaymentProcessed, InventoryUpdated:
		return true
	}
	return false
}

// Envelope is the message placed on the event bus.
type Envelope struct {
	Source     string          `json:"source"`
	DetailType DetailType      `json:"detailType"`
	Detail     json.RawMessage `json:"detail"`
	EventBus   string          `json:"eventBus"`
}

// EventItem mirrors an order line inside event payloads. Price stays as sent
// by the caller so the payload remains plain JSON.
type EventItem struct {
	VendorID  string `json:"vendorId"`
	ProductID string `json:"productId"`
	Quantity  int64  `json:"quantity"`
	Price     string `json:"price,omitempty"`
}

type OrderPlacedDetail struct {
	OrderID     string      `json:"orderId"`
	CustomerID  string      `json:"customerId"`
	Items       []EventItem `json:"items"`
	TotalAmount float64     `json:"totalAmount"`
	Timestamp   string      `json:"timestamp"`
	Status      string      `json:"status"`
}

type OrderUpdatedDetail struct {
	OrderID   string         `json:"orderId"`
	Status    string         `json:"status"`
	Timestamp string         `json:"timestamp"`
	Details   map[string]any `json:"details"`
}

type PaymentProcessedDetail struct {
	PaymentID string  `json:"paymentId"`
	OrderID   string  `json:"orderId"`
	Amount    float64 `json:"amount"`
	Status    string  `json:"status"`
	Timestamp string  `json:"timestamp"`
}

type InventoryUpdatedDetail struct {
	VendorID       string `json:"vendorId"`
	ProductID      string `json:"productId"`
	QuantityChange int64  `json:"quantityChange"`
	NewQuantity    int64  `json:"newQuantity"`
	Timestamp      string `json:"timestamp"`
}
