package events

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/xi2852-amsidh-lokhande/order-processing-system/bus"
	"github.com/xi2852-amsidh-lokhande/order-processing-system/domain"
)

func TestReplayMatchesLiveConsumer(t *testing.T) {
	stock := newFakeStock(map[string]int64{"V1/P1": 10})
	logger, _ := test.NewNullLogger()
	c := NewConsumer(NewInventoryReaction(stock), newMemoryStore(), logger)
	body := orderPlacedJSON(t, "O1", domain.EventItem{VendorID: "V1", ProductID: "P1", Quantity: 2})

	c.HandleBatch(context.Background(), []Record{bodyRecord("live", body)})
	res := NewReplayer(logger).Replay(context.Background(), []Record{bodyRecord("dlq", body)}, c.Process)

	if res.Processed != 1 || len(res.Failed) != 0 {
		t.Fatalf("unexpected replay result %+v", res)
	}
	if got := stock.level("V1/P1"); got != 8 {
		t.Fatalf("replay of a processed event must not decrement again, got %d", got)
	}
}

func TestReplayContinuesPastFailures(t *testing.T) {
	logger, hook := test.NewNullLogger()
	calls := 0
	fn := func(_ context.Context, ev Event) error {
		calls++
		if string(ev.Detail) == `{"orderId":"bad"}` {
			return errors.New("still failing")
		}
		return nil
	}

	res := NewReplayer(logger).Replay(context.Background(), []Record{
		bodyRecord("1", `{"orderId":"a"}`),
		bodyRecord("2", `{"orderId":"bad"}`),
		bodyRecord("3", `not json`),
		bodyRecord("4", `{"orderId":"b"}`),
	}, fn)

	if res.Processed != 2 || res.Skipped != 1 || len(res.Failed) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if ids := res.FailedIDs(); ids[0] != "2" {
		t.Fatalf("unexpected failed ids %v", ids)
	}
	logged := false
	for _, e := range hook.AllEntries() {
		if e.Message == "DLQ replay failed" && e.Data["record"] == `{"orderId":"bad"}` {
			logged = true
		}
	}
	if !logged {
		t.Fatal("expected raw record in failure log")
	}
}

func TestReplayRecoversPanics(t *testing.T) {
	logger, _ := test.NewNullLogger()
	res := NewReplayer(logger).Replay(context.Background(), []Record{bodyRecord("1", `{}`)}, func(context.Context, Event) error {
		panic("boom")
	})
	if len(res.Failed) != 1 {
		t.Fatalf("expected panic to be reported as failure, got %+v", res)
	}
}

func TestReplayHandlerDrainsQueueThroughConsumer(t *testing.T) {
	stock := newFakeStock(map[string]int64{"V1/P1": 4})
	logger, _ := test.NewNullLogger()
	c := NewConsumer(NewInventoryReaction(stock), newMemoryStore(), logger)
	h := NewReplayer(logger).Handler(c.Process)

	failed := h(context.Background(), []bus.Message{
		{ID: "a", Body: []byte(orderPlacedJSON(t, "O1", domain.EventItem{VendorID: "V1", ProductID: "P1", Quantity: 1}))},
		{ID: "b", Body: []byte(`{`)},
	})
	if len(failed) != 0 {
		t.Fatalf("malformed record must be dropped, not kept on the DLQ: %v", failed)
	}
	if got := stock.level("V1/P1"); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
}

func TestReplayDropsMalformedRecordsLikeLiveDelivery(t *testing.T) {
	logger, hook := test.NewNullLogger()
	c := NewConsumer(NewInventoryReaction(newFakeStock(map[string]int64{})), newMemoryStore(), logger)
	records := []Record{bodyRecord("m1", `{{`), {MessageID: "m2"}}

	live := c.HandleBatch(context.Background(), records)
	replay := NewReplayer(logger).Replay(context.Background(), records, c.Process)

	if live.Skipped != 2 || len(live.Failures) != 0 {
		t.Fatalf("unexpected live result %+v", live)
	}
	if replay.Skipped != live.Skipped || len(replay.Failed) != 0 || replay.Processed != 0 {
		t.Fatalf("replay diverged from live delivery: %+v", replay)
	}
	dropped := 0
	for _, e := range hook.AllEntries() {
		if e.Message == "dropping malformed DLQ record" {
			dropped++
		}
	}
	if dropped != 2 {
		t.Fatalf("expected 2 malformed records logged, got %d", dropped)
	}
}
