package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/xi2852-amsidh-lokhande/order-processing-system/domain"
)

// Record is one delivered event. Queue deliveries carry the message text in
// Body; bus deliveries carry the detail object directly.
type Record struct {
	MessageID  string          `json:"messageId,omitempty"`
	Body       *string         `json:"body,omitempty"`
	DetailType string          `json:"detail-type,omitempty"`
	Detail     json.RawMessage `json:"detail,omitempty"`
}

// Event is a decoded record ready for processing. DetailType is empty when
// the record carried a bare detail.
type Event struct {
	DetailType domain.DetailType
	Detail     json.RawMessage
}

// ProcessFunc handles one event. The live consumer and the DLQ replayer
// share the same function.
type ProcessFunc func(ctx context.Context, ev Event) error

// Decode extracts the event from a record. Bodies and details may be
// JSON-encoded strings or already structured objects, and may hold either a
// full envelope or a bare detail.
func Decode(rec Record) (Event, error) {
	var raw json.RawMessage
	switch {
	case rec.Body != nil:
		raw = json.RawMessage(*rec.Body)
	case len(rec.Detail) > 0:
		raw = rec.Detail
	default:
		return Event{}, &domain.MalformedEventError{Reason: "record has neither body nor detail"}
	}
	raw, err := unwrapString(raw)
	if err != nil {
		return Event{}, err
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Event{}, &domain.MalformedEventError{Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	ev := Event{DetailType: domain.DetailType(rec.DetailType), Detail: raw}
	inner, ok := obj["detail"]
	if !ok {
		return ev, nil
	}
	if inner, err = unwrapString(inner); err != nil {
		return Event{}, err
	}
	ev.Detail = inner
	for _, field := range []string{"detailType", "detail-type"} {
		if v, ok := obj[field]; ok {
			var t string
			if json.Unmarshal(v, &t) == nil && t != "" {
				ev.DetailType = domain.DetailType(t)
				break
			}
		}
	}
	return ev, nil
}

func unwrapString(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '"' {
		return trimmed, nil
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return nil, &domain.MalformedEventError{Reason: fmt.Sprintf("invalid JSON string: %v", err)}
	}
	return json.RawMessage(s), nil
}

// RecordFailure identifies a record that could not be processed.
type RecordFailure struct {
	ID    string
	Index int
	Err   error
}

func recordID(rec Record, index int) string {
	if rec.MessageID != "" {
		return rec.MessageID
	}
	return fmt.Sprintf("record-%d", index)
}

func failureIDs(failures []RecordFailure) []string {
	ids := make([]string, len(failures))
	for i, f := range failures {
		ids[i] = f.ID
	}
	return ids
}
