package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/xi2852-amsidh-lokhande/order-processing-system/domain"
	"github.com/xi2852-amsidh-lokhande/order-processing-system/services"
)

type fakeOrders struct {
	placed  []services.PlaceOrderRequest
	err     error
	updated []string
	fail    bool
}

func (f *fakeOrders) PlaceOrder(_ context.Context, req services.PlaceOrderRequest) (services.PlaceOrderResult, error) {
	if f.err != nil {
		return services.PlaceOrderResult{}, f.err
	}
	f.placed = append(f.placed, req)
	return services.PlaceOrderResult{OrderID: "O1", TotalAmount: decimal.RequireFromString("20"), EventPublished: true}, nil
}

func (f *fakeOrders) UpdateStatus(_ context.Context, orderID, status string, _ map[string]any) services.UpdateStatusResult {
	f.updated = append(f.updated, orderID+"="+status)
	return services.UpdateStatusResult{Success: !f.fail, OrderID: orderID, Status: status}
}

type fakePayments struct {
	reqs []services.ProcessPaymentRequest
}

func (f *fakePayments) ProcessPayment(_ context.Context, req services.ProcessPaymentRequest) (services.ProcessPaymentResult, error) {
	f.reqs = append(f.reqs, req)
	return services.ProcessPaymentResult{PaymentID: "P1", OrderID: req.OrderID, Amount: req.Amount, Status: domain.PaymentStatusProcessed, EventPublished: true}, nil
}

type fakeInventory struct {
	reqs []services.AdjustInventoryRequest
}

func (f *fakeInventory) Adjust(_ context.Context, req services.AdjustInventoryRequest) (services.AdjustInventoryResult, error) {
	f.reqs = append(f.reqs, req)
	return services.AdjustInventoryResult{VendorID: req.VendorID, ProductID: req.ProductID, NewQuantity: 7, Reference: "ref", Applied: true}, nil
}

type fakeEvents struct {
	updated []domain.OrderUpdatedDetail
	fail    bool
}

func (f *fakeEvents) PublishOrderPlaced(context.Context, domain.OrderPlacedDetail) bool {
	return !f.fail
}
func (f *fakeEvents) PublishOrderUpdated(_ context.Context, d domain.OrderUpdatedDetail) bool {
	f.updated = append(f.updated, d)
	return !f.fail
}
func (f *fakeEvents) PublishPaymentProcessed(context.Context, domain.PaymentProcessedDetail) bool {
	return !f.fail
}
func (f *fakeEvents) PublishInventoryUpdated(context.Context, domain.InventoryUpdatedDetail) bool {
	return !f.fail
}

type testServer struct {
	e         *echo.Echo
	orders    *fakeOrders
	payments  *fakePayments
	inventory *fakeInventory
	events    *fakeEvents
	hook      *test.Hook
}

func newTestServer(auth Authenticator) *testServer {
	logger, hook := test.NewNullLogger()
	s := &testServer{
		e:         echo.New(),
		orders:    &fakeOrders{},
		payments:  &fakePayments{},
		inventory: &fakeInventory{},
		events:    &fakeEvents{},
		hook:      hook,
	}
	Register(s.e, Deps{Orders: s.orders, Payments: s.payments, Inventory: s.inventory, Events: s.events, Auth: auth}, logger)
	return s
}

func (s *testServer) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	if body.Timestamp == "" || body.ErrorMessage == "" {
		t.Fatalf("incomplete error body %+v", body)
	}
	return body
}

func TestPlaceOrderCreated(t *testing.T) {
	s := newTestServer(nil)
	rec := s.do(http.MethodPost, "/api/orders", `{"customerId":"C1","items":[{"vendorId":"V1","productId":"P1"},{"vendorId":"V1","productId":"P2","quantity":2,"price":"4.50"}]}`)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp placeOrderResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.OrderID != "O1" || resp.TotalAmount != "20.00" {
		t.Fatalf("unexpected response %+v", resp)
	}
	req := s.orders.placed[0]
	if req.Items[0].Quantity != nil || req.Items[0].Price.Valid {
		t.Fatal("omitted quantity and price must reach the service unset")
	}
	if *req.Items[1].Quantity != 2 || req.Items[1].Price.Decimal.String() != "4.5" {
		t.Fatalf("unexpected second item %+v", req.Items[1])
	}
}

func TestPlaceOrderValidation(t *testing.T) {
	s := newTestServer(nil)
	cases := map[string]string{
		"missing customer": `{"items":[{"vendorId":"V1","productId":"P1"}]}`,
		"no items":         `{"customerId":"C1","items":[]}`,
		"item without ids": `{"customerId":"C1","items":[{"quantity":1}]}`,
		"zero quantity":    `{"customerId":"C1","items":[{"vendorId":"V","productId":"P","quantity":0}]}`,
		"invalid json":     `{"customerId":`,
		"empty body":       ``,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/api/orders", body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
			if got := decodeError(t, rec); got.ErrorCode != codeBadRequest || got.RecommendedData["details"] == "" {
				t.Fatalf("unexpected error body %+v", got)
			}
		})
	}
	if len(s.orders.placed) != 0 {
		t.Fatal("invalid requests must not reach the service")
	}
}

func TestPlaceOrderMissingCustomerNamesField(t *testing.T) {
	s := newTestServer(nil)
	rec := s.do(http.MethodPost, "/api/orders", `{"items":[{"vendorId":"V1","productId":"P1"}]}`)
	body := decodeError(t, rec)
	if details, _ := body.RecommendedData["details"].(string); !strings.Contains(details, "customerId") {
		t.Fatalf("expected customerId in details, got %v", body.RecommendedData)
	}
}

func TestPlaceOrderPersistenceFailure(t *testing.T) {
	s := newTestServer(nil)
	s.orders.err = &domain.PersistenceError{Op: "orders", Err: errors.New("table unavailable")}

	rec := s.do(http.MethodPost, "/api/orders", `{"customerId":"C1","items":[{"vendorId":"V1","productId":"P1"}]}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if body := decodeError(t, rec); body.ErrorCode != codeInternal {
		t.Fatalf("unexpected error code %q", body.ErrorCode)
	}
}

func TestGzipRequestBody(t *testing.T) {
	s := newTestServer(nil)
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write([]byte(`{"customerId":"C1","items":[{"vendorId":"V1","productId":"P1"}]}`))
	zw.Close()

	rec := s.do(http.MethodPost, "/api/orders", buf.String(), echo.HeaderContentEncoding, "gzip")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = s.do(http.MethodPost, "/api/orders", "not gzip", echo.HeaderContentEncoding, "gzip")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for broken gzip, got %d", rec.Code)
	}
}

func TestOversizedBodyRejected(t *testing.T) {
	s := newTestServer(nil)
	big := `{"customerId":"` + strings.Repeat("x", defaultMaxBodyBytes) + `","items":[]}`
	rec := s.do(http.MethodPost, "/api/orders", big)
	if rec.Code != http.StatusRequestEntityTooLarge && rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 413 or 400, got %d", rec.Code)
	}
	if len(s.orders.placed) != 0 {
		t.Fatal("oversized request must not reach the service")
	}
}

func TestUpdateOrderStatus(t *testing.T) {
	s := newTestServer(nil)
	rec := s.do(http.MethodPut, "/api/orders/O7/status", `{"status":"SHIPPED","details":{"carrier":"ups"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(s.orders.updated) != 1 || s.orders.updated[0] != "O7=SHIPPED" {
		t.Fatalf("unexpected updates %v", s.orders.updated)
	}

	s.orders.fail = true
	if rec := s.do(http.MethodPut, "/api/orders/O7/status", `{"status":"SHIPPED"}`); rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 when the event cannot be published, got %d", rec.Code)
	}
	if rec := s.do(http.MethodPut, "/api/orders/O7/status", `{}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without status, got %d", rec.Code)
	}
}

func TestProcessPayment(t *testing.T) {
	s := newTestServer(nil)
	rec := s.do(http.MethodPost, "/api/payments", `{"orderId":"O1","amount":20.5,"paymentMethod":"card","reference":"checkout-7"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := s.payments.reqs[0].Reference; got != "checkout-7" {
		t.Fatalf("reference not passed through, got %q", got)
	}
	var resp paymentResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.PaymentID != "P1" || resp.Amount != "20.50" {
		t.Fatalf("unexpected response %+v", resp)
	}

	for _, body := range []string{`{"orderId":"O1","paymentMethod":"card"}`, `{"orderId":"O1","amount":-1,"paymentMethod":"card"}`, `{"orderId":"O1","amount":"5"}`} {
		if rec := s.do(http.MethodPost, "/api/payments", body); rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %s, got %d", body, rec.Code)
		}
	}
}

func TestAdjustInventory(t *testing.T) {
	s := newTestServer(nil)
	rec := s.do(http.MethodPost, "/api/inventory", `{"vendorId":"V1","productId":"P1","quantityChange":-3,"reference":"R1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := s.inventory.reqs[0]; got.QuantityChange != -3 || got.Reference != "R1" {
		t.Fatalf("unexpected request %+v", got)
	}
	if rec := s.do(http.MethodPost, "/api/inventory", `{"vendorId":"V1","productId":"P1"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without quantityChange, got %d", rec.Code)
	}
}

func TestPublishEvent(t *testing.T) {
	s := newTestServer(nil)
	rec := s.do(http.MethodPost, "/api/events", `{"eventType":"OrderUpdated","data":{"orderId":"O1","status":"CANCELLED"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(s.events.updated) != 1 || s.events.updated[0].Status != "CANCELLED" {
		t.Fatalf("unexpected published events %+v", s.events.updated)
	}

	if rec := s.do(http.MethodPost, "/api/events", `{"data":{}}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without eventType, got %d", rec.Code)
	}
	if rec := s.do(http.MethodPost, "/api/events", `{"eventType":"OrderShipped"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown eventType, got %d", rec.Code)
	}
	s.events.fail = true
	if rec := s.do(http.MethodPost, "/api/events", `{"eventType":"PaymentProcessed","data":{"paymentId":"P"}}`); rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 on publish failure, got %d", rec.Code)
	}
}

func TestUnknownRouteUsesErrorBody(t *testing.T) {
	s := newTestServer(nil)
	rec := s.do(http.MethodGet, "/api/unknown", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if body := decodeError(t, rec); body.ErrorCode != codeNotFound {
		t.Fatalf("unexpected error code %q", body.ErrorCode)
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(NewHS256Auth([]byte("secret"), "", ""))
	if rec := s.do(http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz must not require auth, got %d", rec.Code)
	}
}

func TestRequestMetricsLogged(t *testing.T) {
	s := newTestServer(nil)
	s.do(http.MethodPost, "/api/orders", `{}`)

	var found bool
	for _, e := range s.hook.AllEntries() {
		if e.Message == "api.request.metrics" {
			found = true
			if e.Data["route"] != "/api/orders" || e.Data["status"] != http.StatusBadRequest {
				t.Fatalf("unexpected metrics fields %v", e.Data)
			}
		}
	}
	if !found {
		t.Fatal("expected a request metrics log entry")
	}
}

func signHS256(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(NewHS256Auth([]byte("secret"), "orders-api", ""))
	body := `{"customerId":"C1","items":[{"vendorId":"V1","productId":"P1"}]}`

	rec := s.do(http.MethodPost, "/api/orders", body)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	if eb := decodeError(t, rec); eb.ErrorCode != codeUnauthorized {
		t.Fatalf("unexpected error code %q", eb.ErrorCode)
	}

	valid := signHS256(t, "secret", jwt.MapClaims{"sub": "user-1", "aud": "orders-api", "exp": time.Now().Add(time.Hour).Unix()})
	if rec := s.do(http.MethodPost, "/api/orders", body, echo.HeaderAuthorization, "Bearer "+valid); rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 with valid token, got %d: %s", rec.Code, rec.Body.String())
	}

	wrongKey := signHS256(t, "other", jwt.MapClaims{"sub": "user-1", "aud": "orders-api", "exp": time.Now().Add(time.Hour).Unix()})
	if rec := s.do(http.MethodPost, "/api/orders", body, echo.HeaderAuthorization, "Bearer "+wrongKey); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong key, got %d", rec.Code)
	}

	wrongAud := signHS256(t, "secret", jwt.MapClaims{"sub": "user-1", "aud": "elsewhere", "exp": time.Now().Add(time.Hour).Unix()})
	if rec := s.do(http.MethodPost, "/api/orders", body, echo.HeaderAuthorization, "Bearer "+wrongAud); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong audience, got %d", rec.Code)
	}
}
