package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/xi2852-amsidh-lokhande/order-processing-system/domain"
	"github.com/xi2852-amsidh-lokhande/order-processing-system/services"
)

const (
	tracerName          = "order-processing-system/api"
	defaultMaxBodyBytes = 64 * 1024
)

type OrderService interface {
	PlaceOrder(ctx context.Context, req services.PlaceOrderRequest) (services.PlaceOrderResult, error)
	UpdateStatus(ctx context.Context, orderID, status string, details map[string]any) services.UpdateStatusResult
}

type PaymentService interface {
	ProcessPayment(ctx context.Context, req services.ProcessPaymentRequest) (services.ProcessPaymentResult, error)
}

type InventoryService interface {
	Adjust(ctx context.Context, req services.AdjustInventoryRequest) (services.AdjustInventoryResult, error)
}

type EventPublisher interface {
	PublishOrderPlaced(ctx context.Context, d domain.OrderPlacedDetail) bool
	PublishOrderUpdated(ctx context.Context, d domain.OrderUpdatedDetail) bool
	PublishPaymentProcessed(ctx context.Context, d domain.PaymentProcessedDetail) bool
	PublishInventoryUpdated(ctx context.Context, d domain.InventoryUpdatedDetail) bool
}

// Deps are the collaborators behind the HTTP routes.
type Deps struct {
	Orders       OrderService
	Payments     PaymentService
	Inventory    InventoryService
	Events       EventPublisher
	Auth         Authenticator
	MaxBodyBytes int64
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, deps Deps, logger *log.Logger) {
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = defaultMaxBodyBytes
	}
	e.HTTPErrorHandler = ErrorHandler
	e.Use(RequestMetrics(logger), GzipRequestMiddleware())

	e.GET("/healthz", healthz)

	g := e.Group("/api")
	if deps.Auth != nil {
		g.Use(RequireAuth(deps.Auth))
	}
	h := &handlers{deps: deps, logger: logger}
	g.POST("/orders", h.placeOrder)
	g.PUT("/orders/:orderId/status", h.updateOrderStatus)
	g.POST("/payments", h.processPayment)
	g.POST("/inventory", h.adjustInventory)
	g.POST("/events", h.publishEvent)
}

func healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

type handlers struct {
	deps   Deps
	logger *log.Logger
}

// decode reads a size-limited JSON body into v.
func (h *handlers) decode(c echo.Context, v any) error {
	body := http.MaxBytesReader(c.Response().Writer, c.Request().Body, h.deps.MaxBodyBytes)
	dec := sonic.ConfigStd.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return tooLarge
		}
		if errors.Is(err, io.EOF) {
			return errInvalidBody
		}
		return errors.Join(errInvalidBody, err)
	}
	return nil
}

type placeOrderResponse struct {
	Success        bool   `json:"success"`
	OrderID        string `json:"orderId"`
	TotalAmount    string `json:"totalAmount"`
	EventPublished bool   `json:"eventPublished"`
}

func (h *handlers) placeOrder(c echo.Context) error {
	var req services.PlaceOrderRequest
	if err := h.decode(c, &req); err != nil {
		return err
	}
	if err := validatePlaceOrder(req); err != nil {
		return err
	}
	res, err := h.deps.Orders.PlaceOrder(c.Request().Context(), req)
	if err != nil {
		return err
	}
	h.logger.WithField("orderId", res.OrderID).Info("order placed successfully")
	return c.JSON(http.StatusCreated, placeOrderResponse{
		Success:        true,
		OrderID:        res.OrderID,
		TotalAmount:    res.TotalAmount.StringFixed(2),
		EventPublished: res.EventPublished,
	})
}

type updateStatusRequest struct {
	Status  string         `json:"status"`
	Details map[string]any `json:"details"`
}

func (h *handlers) updateOrderStatus(c echo.Context) error {
	var req updateStatusRequest
	if err := h.decode(c, &req); err != nil {
		return err
	}
	orderID := c.Param("orderId")
	if err := domain.RequireFields(map[string]string{"orderId": orderID, "status": req.Status}, "orderId", "status"); err != nil {
		return err
	}
	res := h.deps.Orders.UpdateStatus(c.Request().Context(), orderID, req.Status, req.Details)
	if !res.Success {
		return c.JSON(http.StatusInternalServerError, newErrorBody(codeInternal, "failed to publish OrderUpdated event"))
	}
	return c.JSON(http.StatusOK, res)
}

type paymentRequest struct {
	OrderID       string              `json:"orderId"`
	Amount        decimal.NullDecimal `json:"amount"`
	PaymentMethod string              `json:"paymentMethod"`
	Reference     string              `json:"reference"`
}

type paymentResponse struct {
	Success        bool   `json:"success"`
	OrderID        string `json:"orderId"`
	PaymentID      string `json:"paymentId"`
	Amount         string `json:"amount"`
	Status         string `json:"status"`
	Applied        bool   `json:"applied"`
	EventPublished bool   `json:"eventPublished"`
}

func (h *handlers) processPayment(c echo.Context) error {
	var req paymentRequest
	if err := h.decode(c, &req); err != nil {
		return err
	}
	if err := validatePayment(req); err != nil {
		return err
	}
	res, err := h.deps.Payments.ProcessPayment(c.Request().Context(), services.ProcessPaymentRequest{
		OrderID:       req.OrderID,
		Amount:        req.Amount.Decimal,
		PaymentMethod: req.PaymentMethod,
		Reference:     req.Reference,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, paymentResponse{
		Success:        true,
		OrderID:        res.OrderID,
		PaymentID:      res.PaymentID,
		Amount:         res.Amount.StringFixed(2),
		Status:         res.Status,
		Applied:        res.Applied,
		EventPublished: res.EventPublished,
	})
}

type inventoryRequest struct {
	VendorID       string `json:"vendorId"`
	ProductID      string `json:"productId"`
	QuantityChange *int64 `json:"quantityChange"`
	Reference      string `json:"reference"`
}

type inventoryResponse struct {
	Success        bool   `json:"success"`
	VendorID       string `json:"vendorId"`
	ProductID      string `json:"productId"`
	NewQuantity    int64  `json:"newQuantity"`
	Reference      string `json:"reference"`
	Applied        bool   `json:"applied"`
	EventPublished bool   `json:"eventPublished"`
}

func (h *handlers) adjustInventory(c echo.Context) error {
	var req inventoryRequest
	if err := h.decode(c, &req); err != nil {
		return err
	}
	if err := validateInventory(req); err != nil {
		return err
	}
	res, err := h.deps.Inventory.Adjust(c.Request().Context(), services.AdjustInventoryRequest{
		VendorID:       req.VendorID,
		ProductID:      req.ProductID,
		QuantityChange: *req.QuantityChange,
		Reference:      req.Reference,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, inventoryResponse{
		Success:        true,
		VendorID:       res.VendorID,
		ProductID:      res.ProductID,
		NewQuantity:    res.NewQuantity,
		Reference:      res.Reference,
		Applied:        res.Applied,
		EventPublished: res.EventPublished,
	})
}

type publishRequest struct {
	EventType string          `json:"eventType"`
	Data      json.RawMessage `json:"data"`
}

type publishResponse struct {
	Message string `json:"message"`
}

// publishEvent emits an arbitrary domain event, mainly for operators
// re-announcing state by hand.
func (h *handlers) publishEvent(c echo.Context) error {
	var req publishRequest
	if err := h.decode(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.EventType) == "" {
		return &domain.ValidationError{Fields: []string{"eventType"}}
	}
	detailType := domain.DetailType(req.EventType)
	if !detailType.Valid() {
		return &domain.ValidationError{Message: "unknown eventType: " + req.EventType}
	}
	data := []byte(req.Data)
	if len(data) == 0 {
		data = []byte("{}")
	}

	ctx := c.Request().Context()
	var ok bool
	var err error
	switch detailType {
	case domain.OrderPlaced:
		var d domain.OrderPlacedDetail
		if err = sonic.Unmarshal(data, &d); err == nil {
			ok = h.deps.Events.PublishOrderPlaced(ctx, d)
		}
	case domain.OrderUpdated:
		var d domain.OrderUpdatedDetail
		if err = sonic.Unmarshal(data, &d); err == nil {
			ok = h.deps.Events.PublishOrderUpdated(ctx, d)
		}
	case domain.PaymentProcessed:
		var d domain.PaymentProcessedDetail
		if err = sonic.Unmarshal(data, &d); err == nil {
			ok = h.deps.Events.PublishPaymentProcessed(ctx, d)
		}
	case domain.InventoryUpdated:
		var d domain.InventoryUpdatedDetail
		if err = sonic.Unmarshal(data, &d); err == nil {
			ok = h.deps.Events.PublishInventoryUpdated(ctx, d)
		}
	}
	if err != nil {
		return errors.Join(errInvalidBody, err)
	}
	if !ok {
		return c.JSON(http.StatusInternalServerError, newErrorBody(codeInternal, "failed to publish "+req.EventType+" event"))
	}
	return c.JSON(http.StatusOK, publishResponse{Message: req.EventType + " event published successfully"})
}
