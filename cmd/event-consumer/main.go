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
)

func main() {
	cfg, err := config.New()
	if err != nil {
		log.Fatal(err)
	}
	logger := cfg.NewLogger()
	cc := cfg.Consumer
	if cc.Name == "" {
		logger.Fatal("missing CONSUMER_NAME")
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
	queue := cc.Queue
	if cfg.Bus.Kind == config.BusKafka {
		queue = cfg.Bus.KafkaTopic
	}
	if queue == "" {
		logger.Fatal("missing CONSUMER_QUEUE")
	}
	source, err := a.Source(cc.Name, queue, cc.DeadLetter)
	if err != nil {
		logger.Fatalf("source: %v", err)
	}

	poller := bus.NewPoller(source, consumer.Handler(), bus.PollerConfig{
		MaxDeliveries:  cc.MaxDeliveries,
		PollInterval:   cc.PollInterval,
		ProcessTimeout: cc.ProcessTimeout,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger.WithFields(log.Fields{"consumer": cc.Name, "queue": queue}).Info("event consumer started")
	runErr := poller.Run(ctx)
	st := poller.Stats()
	entry := logger.WithFields(log.Fields{
		"received":     st.Received,
		"acked":        st.Acked,
		"failed":       st.Failed,
		"deadLettered": st.DeadLettered,
	})
	if runErr != nil {
		// Exit so the group resumes from the last committed offset.
		entry.WithError(runErr).Error("event consumer stopped")
		a.Close()
		os.Exit(1)
	}
	entry.Info("event consumer stopped")
}
