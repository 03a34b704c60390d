package storage

import (
	"context"

	"github.com/xi2852-amsidh-lokhande/order-processing-system/domain"
)

// Repository reads domain rows back from their tables.
type Repository struct {
	orders    TableClient
	inventory TableClient
}

func NewRepository(orders, inventory TableClient) *Repository {
	return &Repository{orders: orders, inventory: inventory}
}

// GetOrder retrieves an order if present.
func (r *Repository) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	ent, err := r.orders.GetEntity(ctx, escapeKey(orderID), orderRowKey, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, &domain.PersistenceError{Op: "get order", Err: err}
	}
	order, err := decodeOrder(ent.Value)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "decode order", Err: err}
	}
	order.OrderID = orderID
	return &order, nil
}

// GetInventory retrieves an inventory row together with its ETag. A missing
// row yields a zero-quantity item without an ETag.
func (r *Repository) GetInventory(ctx context.Context, vendorID, productID string) (domain.InventoryItem, error) {
	ent, err := r.inventory.GetEntity(ctx, escapeKey(vendorID), escapeKey(productID), nil)
	if err != nil {
		if isNotFound(err) {
			return domain.InventoryItem{VendorID: vendorID, ProductID: productID}, nil
		}
		return domain.InventoryItem{}, &domain.PersistenceError{Op: "get inventory", Err: err}
	}
	item, err := decodeInventory(ent.Value)
	if err != nil {
		return domain.InventoryItem{}, &domain.PersistenceError{Op: "decode inventory", Err: err}
	}
	item.VendorID = vendorID
	item.ProductID = productID
	item.ETag = string(ent.ETag)
	return item, nil
}
