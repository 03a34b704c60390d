package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	log "github.com/sirupsen/logrus"

	"github.com/xi2852-amsidh-lokhande/order-processing-system/domain"
)

// DualWriteMode selects how a domain row and its marker are committed.
type DualWriteMode string

const (
	// DualWriteTransaction commits the row and a marker row stored in the
	// same partition with a single entity group transaction.
	DualWriteTransaction DualWriteMode = "transaction"
	// DualWriteSequential writes the row first and then conditionally inserts
	// the marker into the shared idempotency table.
	DualWriteSequential DualWriteMode = "sequential"
)

// WriteMode selects how the domain row itself is written.
type WriteMode int

const (
	// WriteUpsert inserts or replaces the row.
	WriteUpsert WriteMode = iota
	// WriteInsert fails if the row already exists.
	WriteInsert
	// WriteUpdate replaces the row only if its ETag still matches.
	WriteUpdate
)

// Record is a domain row paired with the key of its idempotency marker.
type Record struct {
	Table        string
	PartitionKey string
	RowKey       string
	MarkerKey    string
	Mode         WriteMode
	ETag         string
	Entity       any
}

// ProducerScope is the idempotency-table partition for markers written by
// the sequential dual write of the given table.
func ProducerScope(table string) string { return "producer." + table }

// DualWriter persists domain rows together with their idempotency markers.
type DualWriter struct {
	mode    DualWriteMode
	tables  map[string]TableClient
	markers TableClient
	logger  *log.Logger
}

// NewDualWriter creates a writer over the domain tables. markers is the
// shared idempotency table used by the sequential mode.
func NewDualWriter(mode DualWriteMode, tables map[string]TableClient, markers TableClient, logger *log.Logger) *DualWriter {
	if mode == "" {
		mode = DualWriteTransaction
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &DualWriter{mode: mode, tables: tables, markers: markers, logger: logger}
}

// Mode reports the configured dual-write mode.
func (w *DualWriter) Mode() DualWriteMode { return w.mode }

// Save writes the record and its marker. A marker that already exists means
// a previous attempt committed the record, so the call succeeds without
// writing. Every other failure is returned as *domain.PersistenceError.
func (w *DualWriter) Save(ctx context.Context, rec Record) error {
	client, ok := w.tables[rec.Table]
	if !ok || client == nil {
		return &domain.PersistenceError{Op: "save " + rec.Table, Err: fmt.Errorf("table %q not configured", rec.Table)}
	}
	payload, err := json.Marshal(rec.Entity)
	if err != nil {
		return &domain.PersistenceError{Op: "encode " + rec.Table, Err: err}
	}
	if rec.MarkerKey == "" {
		if err := w.writeRow(ctx, client, rec, payload); err != nil {
			return w.persistenceError(rec, err)
		}
		return nil
	}

	switch w.mode {
	case DualWriteSequential:
		return w.saveSequential(ctx, client, rec, payload)
	default:
		return w.saveTransaction(ctx, client, rec, payload)
	}
}

func (w *DualWriter) saveTransaction(ctx context.Context, client TableClient, rec Record, payload []byte) error {
	markerPayload, err := json.Marshal(markerEntity{Entity: Entity{PartitionKey: rec.PartitionKey, RowKey: markerRowKey(rec.MarkerKey)}})
	if err != nil {
		return &domain.PersistenceError{Op: "encode marker", Err: err}
	}
	row := aztables.TransactionAction{Entity: payload}
	switch rec.Mode {
	case WriteInsert:
		row.ActionType = aztables.TransactionTypeAdd
	case WriteUpdate:
		row.ActionType = aztables.TransactionTypeUpdateReplace
		etag := azcore.ETag(rec.ETag)
		row.IfMatch = &etag
	default:
		row.ActionType = aztables.TransactionTypeInsertReplace
	}
	actions := []aztables.TransactionAction{
		row,
		{ActionType: aztables.TransactionTypeAdd, Entity: markerPayload},
	}

	_, err = client.SubmitTransaction(ctx, actions, nil)
	if err == nil {
		return nil
	}
	if isConflict(err) {
		// The group failed as a whole; find out whether the marker or the
		// row caused the conflict.
		seen, seenErr := w.markerInPartition(ctx, client, rec)
		if seenErr == nil && seen {
			w.logger.WithFields(log.Fields{"table": rec.Table, "key": rec.MarkerKey}).Info("record already saved; duplicate marker ignored")
			return nil
		}
		if seenErr != nil {
			return w.persistenceError(rec, seenErr)
		}
	}
	return w.persistenceError(rec, err)
}

func (w *DualWriter) saveSequential(ctx context.Context, client TableClient, rec Record, payload []byte) error {
	if err := w.writeRow(ctx, client, rec, payload); err != nil {
		return w.persistenceError(rec, err)
	}
	if w.markers == nil {
		return &domain.PersistenceError{Op: "mark " + rec.Table, Err: errors.New("idempotency table not configured")}
	}
	markerPayload, err := json.Marshal(markerEntity{Entity: Entity{PartitionKey: ProducerScope(rec.Table), RowKey: escapeKey(rec.MarkerKey)}})
	if err != nil {
		return &domain.PersistenceError{Op: "encode marker", Err: err}
	}
	if _, err := w.markers.AddEntity(ctx, markerPayload, nil); err != nil {
		if isConflict(err) {
			w.logger.WithFields(log.Fields{"table": rec.Table, "key": rec.MarkerKey}).Info("marker already present")
			return nil
		}
		return &domain.PersistenceError{Op: "mark " + rec.Table, Err: err}
	}
	return nil
}

func (w *DualWriter) writeRow(ctx context.Context, client TableClient, rec Record, payload []byte) error {
	var err error
	switch rec.Mode {
	case WriteInsert:
		_, err = client.AddEntity(ctx, payload, nil)
	case WriteUpdate:
		etag := azcore.ETag(rec.ETag)
		_, err = client.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &etag, UpdateMode: aztables.UpdateModeReplace})
	default:
		_, err = client.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	}
	return err
}

// Seen reports whether the marker of rec has already been written.
func (w *DualWriter) Seen(ctx context.Context, rec Record) (bool, error) {
	if rec.MarkerKey == "" {
		return false, nil
	}
	if w.mode == DualWriteSequential {
		if w.markers == nil {
			return false, errors.New("idempotency table not configured")
		}
		return entityExists(ctx, w.markers, ProducerScope(rec.Table), escapeKey(rec.MarkerKey))
	}
	client, ok := w.tables[rec.Table]
	if !ok || client == nil {
		return false, fmt.Errorf("table %q not configured", rec.Table)
	}
	return w.markerInPartition(ctx, client, rec)
}

func (w *DualWriter) markerInPartition(ctx context.Context, client TableClient, rec Record) (bool, error) {
	return entityExists(ctx, client, rec.PartitionKey, markerRowKey(rec.MarkerKey))
}

func (w *DualWriter) persistenceError(rec Record, err error) error {
	if isConflict(err) || isPreconditionFailed(err) {
		err = errors.Join(domain.ErrConcurrencyConflict, err)
	}
	return &domain.PersistenceError{Op: "save " + rec.Table, Err: err}
}

func entityExists(ctx context.Context, client TableClient, pk, rk string) (bool, error) {
	if _, err := client.GetEntity(ctx, pk, rk, nil); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
