package events

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/xi2852-amsidh-lokhande/order-processing-system/bus"
	"github.com/xi2852-amsidh-lokhande/order-processing-system/domain"
)

// ReplayResult reports how a DLQ batch fared.
type ReplayResult struct {
	Processed int
	// Skipped counts records dropped as malformed, as live delivery does.
	Skipped int
	Failed  []RecordFailure
}

func (r ReplayResult) FailedIDs() []string { return failureIDs(r.Failed) }

// Replayer feeds dead-lettered records back through a ProcessFunc.
type Replayer struct {
	logger *log.Logger
}

func NewReplayer(logger *log.Logger) *Replayer {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Replayer{logger: logger}
}

// Replay processes every record with fn. A failing record is logged with its
// raw content and reported; the rest of the batch continues.
func (r *Replayer) Replay(ctx context.Context, batch []Record, fn ProcessFunc) ReplayResult {
	var res ReplayResult
	for i, rec := range batch {
		id := recordID(rec, i)
		malformed, err := r.replayOne(ctx, rec, fn)
		if malformed {
			r.logger.WithError(err).WithFields(log.Fields{"recordId": id, "record": rawRecord(rec)}).Warn("dropping malformed DLQ record")
			res.Skipped++
			continue
		}
		if err != nil {
			r.logger.WithError(err).WithFields(log.Fields{"recordId": id, "record": rawRecord(rec)}).Error("DLQ replay failed")
			res.Failed = append(res.Failed, RecordFailure{ID: id, Index: i, Err: err})
			continue
		}
		res.Processed++
	}
	r.logger.WithFields(log.Fields{"processed": res.Processed, "skipped": res.Skipped, "failed": len(res.Failed)}).Info("DLQ replay batch finished")
	return res
}

// replayOne reports malformed when the record cannot be decoded into an event.
func (r *Replayer) replayOne(ctx context.Context, rec Record, fn ProcessFunc) (malformed bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			malformed, err = false, fmt.Errorf("panic: %v", p)
		}
	}()
	ev, err := Decode(rec)
	if err != nil {
		return domain.IsMalformed(err), err
	}
	return false, fn(ctx, ev)
}

// Handler adapts the replayer to a bus poller draining a DLQ.
func (r *Replayer) Handler(fn ProcessFunc) bus.BatchHandler {
	return func(ctx context.Context, msgs []bus.Message) []string {
		return r.Replay(ctx, messageRecords(msgs), fn).FailedIDs()
	}
}

func rawRecord(rec Record) string {
	if rec.Body != nil {
		return *rec.Body
	}
	return string(rec.Detail)
}
