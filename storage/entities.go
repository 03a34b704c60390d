package storage

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/xi2852-amsidh-lokhande/order-processing-system/domain"
)

// Entity represents base table entity keys.
type Entity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

const (
	EdmInt64    = "Edm.Int64"
	EdmDateTime = "Edm.DateTime"
)

const (
	orderRowKey   = "order"
	paymentRowKey = "payment"
	markerPrefix  = "idem:"
)

type orderEntity struct {
	Entity
	CustomerID    string `json:"CustomerId"`
	Items         string `json:"Items"`
	TotalAmount   string `json:"TotalAmount"`
	Status        string `json:"Status"`
	CreatedAt     string `json:"CreatedAt"`
	CreatedAtType string `json:"CreatedAt@odata.type"`
}

type paymentEntity struct {
	Entity
	OrderID         string `json:"OrderId"`
	Amount          string `json:"Amount"`
	PaymentMethod   string `json:"PaymentMethod"`
	Status          string `json:"Status"`
	ProcessedAt     string `json:"ProcessedAt"`
	ProcessedAtType string `json:"ProcessedAt@odata.type"`
}

type inventoryEntity struct {
	Entity
	Quantity      int64  `json:"Quantity,string"`
	QuantityType  string `json:"Quantity@odata.type"`
	UpdatedAt     string `json:"UpdatedAt"`
	UpdatedAtType string `json:"UpdatedAt@odata.type"`
}

type markerEntity struct {
	Entity
}

type storedItem struct {
	VendorID  string `json:"vendorId"`
	ProductID string `json:"productId"`
	Quantity  int64  `json:"quantity"`
	Price     string `json:"price"`
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

// escapeKey percent-encodes the characters Table Storage rejects in key
// properties, and '%' itself, so distinct ids never share a key.
func escapeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		if r == '%' || r == '/' || r == '\\' || r == '#' || r == '?' || r < 0x20 || (r >= 0x7f && r <= 0x9f) {
			var buf [utf8.UTFMax]byte
			for _, c := range buf[:utf8.EncodeRune(buf[:], r)] {
				fmt.Fprintf(&b, "%%%02X", c)
			}
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// unescapeKey reverses escapeKey. Keys that were never escaped come back
// unchanged.
func unescapeKey(key string) string {
	if !strings.Contains(key, "%") {
		return key
	}
	if s, err := url.PathUnescape(key); err == nil {
		return s
	}
	return key
}

func markerRowKey(key string) string { return markerPrefix + escapeKey(key) }

// OrderRecord builds the dual-write record for an order, keyed by its id.
func OrderRecord(o domain.Order) (Record, error) {
	items := make([]storedItem, len(o.Items))
	for i, it := range o.Items {
		items[i] = storedItem{VendorID: it.VendorID, ProductID: it.ProductID, Quantity: it.Quantity, Price: it.Price.StringFixed(2)}
	}
	rawItems, err := json.Marshal(items)
	if err != nil {
		return Record{}, err
	}
	pk := escapeKey(o.OrderID)
	return Record{
		Table:        TableOrders,
		PartitionKey: pk,
		RowKey:       orderRowKey,
		MarkerKey:    o.OrderID,
		Mode:         WriteUpsert,
		Entity: orderEntity{
			Entity:        Entity{PartitionKey: pk, RowKey: orderRowKey},
			CustomerID:    o.CustomerID,
			Items:         string(rawItems),
			TotalAmount:   o.TotalAmount.StringFixed(2),
			Status:        o.Status,
			CreatedAt:     formatTime(o.CreatedAt),
			CreatedAtType: EdmDateTime,
		},
	}, nil
}

// PaymentRecord builds the dual-write record for a payment. The marker is
// keyed by reference when one is given, otherwise by the payment id.
func PaymentRecord(p domain.Payment, reference string) Record {
	pk := escapeKey(p.PaymentID)
	marker := reference
	if marker == "" {
		marker = p.PaymentID
	}
	return Record{
		Table:        TablePayments,
		PartitionKey: pk,
		RowKey:       paymentRowKey,
		MarkerKey:    marker,
		Mode:         WriteUpsert,
		Entity: paymentEntity{
			Entity:          Entity{PartitionKey: pk, RowKey: paymentRowKey},
			OrderID:         p.OrderID,
			Amount:          p.Amount.StringFixed(2),
			PaymentMethod:   p.PaymentMethod,
			Status:          p.Status,
			ProcessedAt:     formatTime(p.ProcessedAt),
			ProcessedAtType: EdmDateTime,
		},
	}
}

// InventoryRecord builds the dual-write record for an inventory row. The
// marker is keyed by the adjustment reference so a repeated adjustment is
// rejected by the conditional insert. A row without an ETag is created and
// must not exist yet; otherwise the write is guarded by the ETag.
func InventoryRecord(item domain.InventoryItem, reference string) Record {
	pk := escapeKey(item.VendorID)
	rk := escapeKey(item.ProductID)
	mode := WriteInsert
	if item.ETag != "" {
		mode = WriteUpdate
	}
	return Record{
		Table:        TableInventory,
		PartitionKey: pk,
		RowKey:       rk,
		MarkerKey:    item.VendorID + ":" + item.ProductID + ":" + reference,
		Mode:         mode,
		ETag:         item.ETag,
		Entity: inventoryEntity{
			Entity:        Entity{PartitionKey: pk, RowKey: rk},
			Quantity:      item.Quantity,
			QuantityType:  EdmInt64,
			UpdatedAt:     formatTime(item.UpdatedAt),
			UpdatedAtType: EdmDateTime,
		},
	}
}

func decodeOrder(data []byte) (domain.Order, error) {
	var ent orderEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Order{}, err
	}
	var items []storedItem
	if ent.Items != "" {
		if err := json.Unmarshal([]byte(ent.Items), &items); err != nil {
			return domain.Order{}, err
		}
	}
	order := domain.Order{
		OrderID:    unescapeKey(ent.PartitionKey),
		CustomerID: ent.CustomerID,
		Status:     ent.Status,
	}
	for _, it := range items {
		price, err := decimal.NewFromString(it.Price)
		if err != nil {
			return domain.Order{}, err
		}
		order.Items = append(order.Items, domain.OrderItem{VendorID: it.VendorID, ProductID: it.ProductID, Quantity: it.Quantity, Price: price})
	}
	total, err := decimal.NewFromString(ent.TotalAmount)
	if err != nil {
		return domain.Order{}, err
	}
	order.TotalAmount = total
	if ts, err := time.Parse(time.RFC3339Nano, ent.CreatedAt); err == nil {
		order.CreatedAt = ts
	}
	return order, nil
}

func decodeInventory(data []byte) (domain.InventoryItem, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return domain.InventoryItem{}, err
	}
	item := domain.InventoryItem{}
	pk, _ := raw["PartitionKey"].(string)
	rk, _ := raw["RowKey"].(string)
	item.VendorID, item.ProductID = unescapeKey(pk), unescapeKey(rk)
	// Int64 values round-trip as strings, but rows written by other tools may
	// hold plain numbers.
	switch v := raw["Quantity"].(type) {
	case string:
		q, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return domain.InventoryItem{}, err
		}
		item.Quantity = q
	case float64:
		item.Quantity = int64(v)
	}
	if s, ok := raw["UpdatedAt"].(string); ok {
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			item.UpdatedAt = ts
		}
	}
	return item, nil
}
