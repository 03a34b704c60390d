package api

import (
	"fmt"

	"github.com/xi2852-amsidh-lokhande/order-processing-system/domain"
	"github.com/xi2852-amsidh-lokhande/order-processing-system/services"
)

func validatePlaceOrder(req services.PlaceOrderRequest) error {
	if err := domain.RequireFields(map[string]string{"customerId": req.CustomerID}, "customerId"); err != nil {
		return err
	}
	if len(req.Items) == 0 {
		return &domain.ValidationError{Fields: []string{"items"}}
	}
	for i, it := range req.Items {
		if err := domain.RequireFields(map[string]string{"vendorId": it.VendorID, "productId": it.ProductID}, "vendorId", "productId"); err != nil {
			return &domain.ValidationError{Message: fmt.Sprintf("items[%d]: %v", i, err)}
		}
		if it.Quantity != nil && *it.Quantity <= 0 {
			return &domain.ValidationError{Message: fmt.Sprintf("items[%d]: quantity must be positive", i)}
		}
		if it.Price.Valid && it.Price.Decimal.IsNegative() {
			return &domain.ValidationError{Message: fmt.Sprintf("items[%d]: price must not be negative", i)}
		}
	}
	return nil
}

func validatePayment(req paymentRequest) error {
	fields := map[string]string{"orderId": req.OrderID, "paymentMethod": req.PaymentMethod, "amount": ""}
	if req.Amount.Valid {
		fields["amount"] = req.Amount.Decimal.String()
	}
	if err := domain.RequireFields(fields, "orderId", "amount", "paymentMethod"); err != nil {
		return err
	}
	if !req.Amount.Decimal.IsPositive() {
		return &domain.ValidationError{Message: "amount must be positive"}
	}
	return nil
}

func validateInventory(req inventoryRequest) error {
	fields := map[string]string{"vendorId": req.VendorID, "productId": req.ProductID, "quantityChange": ""}
	if req.QuantityChange != nil {
		fields["quantityChange"] = "set"
	}
	return domain.RequireFields(fields, "vendorId", "productId", "quantityChange")
}
