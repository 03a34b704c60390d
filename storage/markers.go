package storage

import (
	"context"
	"encoding/json"

	log "github.com/sirupsen/logrus"
)

// ConsumerScope is the idempotency-table partition of a consumer's markers.
func ConsumerScope(consumer string) string { return "consumer." + consumer }

// MarkerStore records processed keys as rows of the idempotency table, one
// partition per scope.
type MarkerStore struct {
	client TableClient
	scope  string
	logger *log.Logger
}

// NewMarkerStore creates a marker store writing into the given scope.
func NewMarkerStore(client TableClient, scope string, logger *log.Logger) *MarkerStore {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &MarkerStore{client: client, scope: escapeKey(scope), logger: logger}
}

// Exists reports whether key was marked. Store errors are logged and
// reported as not processed.
func (s *MarkerStore) Exists(ctx context.Context, key string) bool {
	found, err := entityExists(ctx, s.client, s.scope, escapeKey(key))
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{"scope": s.scope, "key": key}).Warn("idempotency lookup failed; treating as not processed")
		return false
	}
	return found
}

// MarkDone conditionally inserts the marker for key. An existing marker is a
// no-op; other store errors are logged and swallowed.
func (s *MarkerStore) MarkDone(ctx context.Context, key string) {
	payload, err := json.Marshal(markerEntity{Entity: Entity{PartitionKey: s.scope, RowKey: escapeKey(key)}})
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Error("encode idempotency marker")
		return
	}
	if _, err := s.client.AddEntity(ctx, payload, nil); err != nil {
		if isConflict(err) {
			s.logger.WithFields(log.Fields{"scope": s.scope, "key": key}).Debug("idempotency marker already present")
			return
		}
		s.logger.WithError(err).WithFields(log.Fields{"scope": s.scope, "key": key}).Error("idempotency mark failed")
	}
}
