package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/xi2852-amsidh-lokhande/order-processing-system/app"
	"github.com/xi2852-amsidh-lokhande/order-processing-system/bus"
	"github.com/xi2852-amsidh-lokhande/order-processing-system/config"
	"github.com/xi2852-amsidh-lokhande/order-processing-system/events"
)

// dlq-replay drains a consumer's dead-letter queue through the same
// idempotent path the live consumer uses, then exits. Records that still
// fail stay on the dead-letter queue.
func main() {
	cfg, err := config.New()
	if err != nil {
		log.Fatal(err)
	}
	logger := cfg.NewLogger()
	cc := cfg.Consumer
	if cc.Name == "" || cc.DeadLetter == "" {
		logger.Fatal("missing CONSUMER_NAME or CONSUMER_DLQ")
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatalf("app: %v", err)
	}
	defer a.Close()

	consumer, err := a.Consumer(cc.Name)
	if err != nil {
		logger.Fatalf("consumer: %v", err)
	}

	// Kafka cannot leave a record in place, so failures are written back to
	// the dead-letter topic.
	requeue := ""
	if cfg.Bus.Kind == config.BusKafka {
		requeue = cc.DeadLetter
	}
	source, err := a.Source(cc.Name+"-replay", cc.DeadLetter, requeue)
	if err != nil {
		logger.Fatalf("source: %v", err)
	}

	replayer := events.NewReplayer(logger)
	poller := bus.NewPoller(source, replayer.Handler(consumer.Process), bus.PollerConfig{
		ProcessTimeout: cc.ProcessTimeout,
		Drain:          true,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := poller.Run(ctx); err != nil {
		logger.WithError(err).Error("replay stopped")
	}
	st := poller.Stats()
	entry := logger.WithFields(log.Fields{
		"consumer":  cc.Name,
		"received":  st.Received,
		"processed": st.Acked,
		"failed":    st.Failed,
	})
	if st.Failed > 0 {
		entry.Warn("DLQ replay finished with failures")
		a.Close()
		os.Exit(1)
	}
	entry.Info("DLQ replay finished")
}
