// Package app assembles the storage, bus and service layers from config for
// the binaries under cmd/.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/xi2852-amsidh-lokhande/order-processing-system/bus"
	"github.com/xi2852-amsidh-lokhande/order-processing-system/config"
	"github.com/xi2852-amsidh-lokhande/order-processing-system/events"
	"github.com/xi2852-amsidh-lokhande/order-processing-system/services"
	"github.com/xi2852-amsidh-lokhande/order-processing-system/storage"
)

// App holds the long-lived clients shared by a process.
type App struct {
	Config    *config.Config
	Logger    *log.Logger
	Tables    *storage.Tables
	Writer    *storage.DualWriter
	Repo      *storage.Repository
	Publisher *events.Publisher
	Orders    *services.OrderService
	Payments  *services.PaymentService
	Inventory *services.InventoryService

	redis   *redis.Client
	closers []func() error
}

// New connects to storage and the event bus.
func New(cfg *config.Config, logger *log.Logger) (*App, error) {
	tables, err := storage.New(cfg.Storage.ConnectionString, cfg.TableNames())
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	a := &App{Config: cfg, Logger: logger, Tables: tables}

	a.Writer = storage.NewDualWriter(cfg.Storage.DualWriteMode, tables.Domain(), tables.Idempotency, logger)
	a.Repo = storage.NewRepository(tables.Orders, tables.Inventory)

	sender, err := a.sender()
	if err != nil {
		return nil, err
	}
	a.Publisher = events.NewPublisher(sender, cfg.Bus.Source, cfg.Bus.Name, logger)
	a.Orders = services.NewOrderService(a.Writer, a.Publisher, logger)
	a.Payments = services.NewPaymentService(a.Writer, a.Publisher, logger)
	a.Inventory = services.NewInventoryService(a.Repo, a.Writer, a.Publisher, logger)
	return a, nil
}

// sender returns nil when no bus target is configured; the publisher then
// reports every publish as failed.
func (a *App) sender() (bus.Sender, error) {
	cfg := a.Config.Bus
	switch cfg.Kind {
	case config.BusKafka:
		w := bus.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
		a.closers = append(a.closers, w.Close)
		return bus.NewKafkaSender(w), nil
	default:
		if len(cfg.Queues) == 0 {
			a.Logger.Warn("EVENT_QUEUES is empty, events will not be published")
			return nil, nil
		}
		queues := make(map[string]bus.QueueClient, len(cfg.Queues))
		for _, name := range cfg.Queues {
			q, err := bus.NewQueueClient(a.Config.Storage.ConnectionString, name)
			if err != nil {
				return nil, fmt.Errorf("queue %s: %w", name, err)
			}
			queues[name] = q
		}
		return bus.NewQueueSender(queues), nil
	}
}

// Redis lazily opens the shared Redis client.
func (a *App) Redis() (*redis.Client, error) {
	if a.redis != nil {
		return a.redis, nil
	}
	opts, err := config.RedisOptions(a.Config.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	a.redis = redis.NewClient(opts)
	a.closers = append(a.closers, a.redis.Close)
	return a.redis, nil
}

// MarkerStore returns the consumer-side idempotency store for name.
func (a *App) MarkerStore(name string) (events.IdempotencyStore, error) {
	scope := storage.ConsumerScope(name)
	if a.Config.Idempotency.Backend == config.IdempotencyRedis {
		rc, err := a.Redis()
		if err != nil {
			return nil, err
		}
		return storage.NewRedisMarkerStore(rc, scope, a.Config.Idempotency.TTL, a.Logger), nil
	}
	return storage.NewMarkerStore(a.Tables.Idempotency, scope, a.Logger), nil
}

// Reaction builds the named consumer reaction.
func (a *App) Reaction(name string) (events.Reaction, error) {
	switch name {
	case events.InventoryConsumer:
		return events.NewInventoryReaction(a.Inventory), nil
	case events.PaymentConsumer:
		return events.NewPaymentReaction(a.Payments), nil
	case events.NotificationConsumer:
		rc, err := a.Redis()
		if err != nil {
			return nil, err
		}
		return events.NewNotificationReaction(rc, a.Config.Redis.NotificationChannel, a.Logger), nil
	}
	return nil, fmt.Errorf("unknown consumer %q", name)
}

// Consumer builds the idempotent consumer for name.
func (a *App) Consumer(name string) (*events.Consumer, error) {
	reaction, err := a.Reaction(name)
	if err != nil {
		return nil, err
	}
	store, err := a.MarkerStore(name)
	if err != nil {
		return nil, err
	}
	return events.NewConsumer(reaction, store, a.Logger), nil
}

// Source opens the delivery source reading from queue (or Kafka topic) and
// dead-lettering to deadLetter. An empty deadLetter disables dead-lettering
// on queues; Kafka cannot leave a failed record behind, so it requires one.
func (a *App) Source(groupID, queue, deadLetter string) (bus.Source, error) {
	cc := a.Config.Consumer
	if a.Config.Bus.Kind == config.BusKafka {
		if deadLetter == "" {
			return nil, fmt.Errorf("kafka consumer %s: CONSUMER_DLQ is required", groupID)
		}
		reader := bus.NewKafkaReader(a.Config.Bus.KafkaBrokers, groupID, queue)
		src := bus.NewKafkaSource(reader, bus.NewKafkaWriter(a.Config.Bus.KafkaBrokers, deadLetter), cc.BatchSize, cc.PollInterval)
		a.closers = append(a.closers, src.Close)
		return src, nil
	}

	q, err := bus.NewQueueClient(a.Config.Storage.ConnectionString, queue)
	if err != nil {
		return nil, fmt.Errorf("queue %s: %w", queue, err)
	}
	var dlq bus.QueueClient
	if deadLetter != "" {
		client, err := bus.NewQueueClient(a.Config.Storage.ConnectionString, deadLetter)
		if err != nil {
			return nil, fmt.Errorf("queue %s: %w", deadLetter, err)
		}
		dlq = client
	}
	return bus.NewQueueSource(q, dlq, cc.BatchSize, cc.Visibility), nil
}

// EnsureStorage creates the tables and queues this deployment needs.
func (a *App) EnsureStorage(ctx context.Context) error {
	if err := a.Tables.EnsureTables(ctx); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	if a.Config.Bus.Kind == config.BusKafka {
		return nil
	}
	names := append([]string{}, a.Config.Bus.Queues...)
	names = append(names, a.Config.Consumer.Queue, a.Config.Consumer.DeadLetter)
	if err := bus.EnsureQueues(ctx, a.Config.Storage.ConnectionString, names); err != nil {
		return fmt.Errorf("create queues: %w", err)
	}
	return nil
}

// Close releases every client opened by the App.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}
