package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/xi2852-amsidh-lokhande/order-processing-system/domain"
	"github.com/xi2852-amsidh-lokhande/order-processing-system/storage"
)

type fakeWriter struct {
	mu        sync.Mutex
	saved     []storage.Record
	markers   map[string]bool
	conflicts int
	err       error
	// staleSeen makes Seen report false, as for a racer that read before the
	// other writer committed.
	staleSeen bool
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{markers: map[string]bool{}}
}

func (w *fakeWriter) Save(_ context.Context, rec storage.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	if w.conflicts > 0 {
		w.conflicts--
		return &domain.PersistenceError{Op: "save", Err: domain.ErrConcurrencyConflict}
	}
	// An existing marker absorbs the write, as the dual writer does.
	if w.markers[rec.Table+"/"+rec.MarkerKey] {
		return nil
	}
	w.saved = append(w.saved, rec)
	w.markers[rec.Table+"/"+rec.MarkerKey] = true
	return nil
}

func (w *fakeWriter) Seen(_ context.Context, rec storage.Record) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.staleSeen {
		return false, nil
	}
	return w.markers[rec.Table+"/"+rec.MarkerKey], nil
}

type fakePublisher struct {
	mu        sync.Mutex
	fail      bool
	placed    []domain.OrderPlacedDetail
	updated   []domain.OrderUpdatedDetail
	payments  []domain.PaymentProcessedDetail
	inventory []domain.InventoryUpdatedDetail
}

func (p *fakePublisher) PublishOrderPlaced(_ context.Context, d domain.OrderPlacedDetail) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return false
	}
	p.placed = append(p.placed, d)
	return true
}

func (p *fakePublisher) PublishOrderUpdated(_ context.Context, d domain.OrderUpdatedDetail) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return false
	}
	p.updated = append(p.updated, d)
	return true
}

func (p *fakePublisher) PublishPaymentProcessed(_ context.Context, d domain.PaymentProcessedDetail) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return false
	}
	p.payments = append(p.payments, d)
	return true
}

func (p *fakePublisher) PublishInventoryUpdated(_ context.Context, d domain.InventoryUpdatedDetail) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return false
	}
	p.inventory = append(p.inventory, d)
	return true
}

// fakeInventory serves rows and bumps the ETag whenever the writer saves one.
type fakeInventory struct {
	mu     sync.Mutex
	items  map[string]domain.InventoryItem
	writer *fakeWriter
	err    error
}

func (f *fakeInventory) GetInventory(_ context.Context, vendorID, productID string) (domain.InventoryItem, error) {
	if f.err != nil {
		return domain.InventoryItem{}, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := vendorID + "/" + productID
	item, ok := f.items[key]
	if !ok {
		item = domain.InventoryItem{VendorID: vendorID, ProductID: productID}
	}
	if f.writer != nil {
		f.writer.mu.Lock()
		for _, rec := range f.writer.saved {
			if rec.Table == storage.TableInventory && rec.PartitionKey == vendorID && rec.RowKey == productID {
				item = savedInventory(rec, item)
			}
		}
		f.writer.mu.Unlock()
	}
	return item, nil
}

func savedInventory(rec storage.Record, base domain.InventoryItem) domain.InventoryItem {
	base.ETag = rec.ETag + "+"
	base.Quantity = inventoryQuantity(rec)
	return base
}

func inventoryQuantity(rec storage.Record) int64 {
	raw, err := json.Marshal(rec.Entity)
	if err != nil {
		return 0
	}
	var row struct {
		Quantity int64 `json:"Quantity,string"`
	}
	if err := json.Unmarshal(raw, &row); err != nil {
		return 0
	}
	return row.Quantity
}

var fixedNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func sequentialIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return prefix + string(rune('0'+n))
	}
}
