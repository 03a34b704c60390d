package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/xi2852-amsidh-lokhande/order-processing-system/domain"
	"github.com/xi2852-amsidh-lokhande/order-processing-system/services"
)

type memoryStore struct {
	mu   sync.Mutex
	keys map[string]bool
}

func newMemoryStore() *memoryStore { return &memoryStore{keys: map[string]bool{}} }

func (s *memoryStore) Exists(_ context.Context, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys[key]
}

func (s *memoryStore) MarkDone(_ context.Context, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key] = true
}

// fakeStock applies adjustments to an in-memory stock level and remembers
// references the way the dual writer's markers do.
type fakeStock struct {
	mu      sync.Mutex
	levels  map[string]int64
	applied map[string]bool
	calls   int
	failFor string
}

func newFakeStock(levels map[string]int64) *fakeStock {
	return &fakeStock{levels: levels, applied: map[string]bool{}}
}

func (f *fakeStock) Adjust(_ context.Context, req services.AdjustInventoryRequest) (services.AdjustInventoryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	key := req.VendorID + "/" + req.ProductID
	if key == f.failFor {
		return services.AdjustInventoryResult{}, errors.New("inventory table unavailable")
	}
	res := services.AdjustInventoryResult{VendorID: req.VendorID, ProductID: req.ProductID, QuantityChange: req.QuantityChange, Reference: req.Reference}
	if f.applied[key+"/"+req.Reference] {
		res.NewQuantity = f.levels[key]
		return res, nil
	}
	f.applied[key+"/"+req.Reference] = true
	f.levels[key] += req.QuantityChange
	res.NewQuantity = f.levels[key]
	res.Applied = true
	return res, nil
}

func (f *fakeStock) level(key string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.levels[key]
}

type fakePayments struct {
	mu       sync.Mutex
	requests []services.ProcessPaymentRequest
}

func (f *fakePayments) ProcessPayment(_ context.Context, req services.ProcessPaymentRequest) (services.ProcessPaymentResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return services.ProcessPaymentResult{PaymentID: "p", OrderID: req.OrderID, Amount: req.Amount, Status: domain.PaymentStatusProcessed}, nil
}

type panicReaction struct{}

func (panicReaction) Name() string                        { return "panicky" }
func (panicReaction) Accepts(domain.DetailType) bool      { return true }
func (panicReaction) Key(json.RawMessage) (string, error) { return "k", nil }
func (panicReaction) Apply(context.Context, json.RawMessage) error {
	panic("boom")
}

func orderPlacedJSON(t *testing.T, orderID string, items ...domain.EventItem) string {
	t.Helper()
	detail, err := json.Marshal(domain.OrderPlacedDetail{
		OrderID:     orderID,
		CustomerID:  "C1",
		Items:       items,
		TotalAmount: 20.0,
		Status:      "placed",
	})
	if err != nil {
		t.Fatalf("marshal detail: %v", err)
	}
	env, err := json.Marshal(domain.Envelope{Source: DefaultSource, DetailType: domain.OrderPlaced, Detail: detail})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return string(env)
}

func bodyRecord(id, body string) Record {
	return Record{MessageID: id, Body: &body}
}

func setupTestTracer(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter, func()) {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
	)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)

	cleanup := func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Logf("shutdown tracer provider: %v", err)
		}
		otel.SetTracerProvider(prev)
	}
	return tp, exporter, cleanup
}

func attributesToMap(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}
