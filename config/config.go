package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/xi2852-amsidh-lokhande/order-processing-system/storage"
)

const (
	BusQueue = "queue"
	BusKafka = "kafka"

	IdempotencyTable = "table"
	IdempotencyRedis = "redis"

	AuthNone  = "none"
	AuthHS256 = "hs256"
	AuthJWKS  = "jwks"
)

type (
	Config struct {
		HTTP        HTTP
		Log         Log
		Storage     Storage
		Idempotency Idempotency
		Bus         Bus
		Consumer    Consumer
		Auth        Auth
		Redis       Redis
	}

	HTTP struct {
		Port           string        `env:"HTTP_PORT" envDefault:"8080"`
		MaxBodyBytes   int64         `env:"HTTP_MAX_BODY_BYTES" envDefault:"65536"`
		RequestTimeout time.Duration `env:"HTTP_REQUEST_TIMEOUT" envDefault:"10s"`
	}

	Log struct {
		Level string `env:"LOG_LEVEL" envDefault:"info"`
		Debug bool   `env:"DEBUG" envDefault:"false"`
		JSON  bool   `env:"LOG_JSON" envDefault:"true"`
	}

	Storage struct {
		ConnectionString string                `env:"STORAGE_CONNECTION_STRING,required,notEmpty"`
		OrdersTable      string                `env:"ORDERS_TABLE" envDefault:"orders"`
		PaymentsTable    string                `env:"PAYMENTS_TABLE" envDefault:"payments"`
		InventoryTable   string                `env:"INVENTORY_TABLE" envDefault:"inventory"`
		IdempotencyTable string                `env:"IDEMPOTENCY_TABLE" envDefault:"idempotency"`
		DualWriteMode    storage.DualWriteMode `env:"DUAL_WRITE_MODE" envDefault:"transaction"`
	}

	Idempotency struct {
		Backend string        `env:"IDEMPOTENCY_BACKEND" envDefault:"table"`
		TTL     time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"168h"`
	}

	Redis struct {
		URL                 string `env:"REDIS_CONNECTION_STRING"`
		NotificationChannel string `env:"NOTIFICATION_CHANNEL" envDefault:"order-notifications"`
	}

	Bus struct {
		Kind         string   `env:"EVENT_BUS_KIND" envDefault:"queue"`
		Name         string   `env:"EVENT_BUS_NAME"`
		Source       string   `env:"EVENT_SOURCE" envDefault:"order.service"`
		Queues       []string `env:"EVENT_QUEUES" envSeparator:","`
		KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
		KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"order-events"`
	}

	Consumer struct {
		Name           string        `env:"CONSUMER_NAME"`
		Queue          string        `env:"CONSUMER_QUEUE"`
		DeadLetter     string        `env:"CONSUMER_DLQ"`
		BatchSize      int           `env:"CONSUMER_BATCH_SIZE" envDefault:"16"`
		Visibility     time.Duration `env:"CONSUMER_VISIBILITY_TIMEOUT" envDefault:"30s"`
		MaxDeliveries  int64         `env:"CONSUMER_MAX_DELIVERIES" envDefault:"5"`
		PollInterval   time.Duration `env:"CONSUMER_POLL_INTERVAL" envDefault:"1s"`
		ProcessTimeout time.Duration `env:"CONSUMER_PROCESS_TIMEOUT" envDefault:"30s"`
	}

	Auth struct {
		Mode     string        `env:"AUTH_MODE" envDefault:"none"`
		Secret   string        `env:"AUTH_SHARED_SECRET"`
		JWKSURL  string        `env:"AUTH_JWKS_URL"`
		Audience string        `env:"AUTH_AUDIENCE"`
		Issuer   string        `env:"AUTH_ISSUER"`
		CacheTTL time.Duration `env:"JWKS_CACHE_TTL" envDefault:"15m"`
	}
)

// New loads an optional .env file and parses the environment.
func New() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config error: load .env: %w", err)
	}
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	return cfg, nil
}

// Validate checks cross-field constraints that tags cannot express.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.DualWriteMode {
	case storage.DualWriteTransaction, storage.DualWriteSequential:
	default:
		errs = append(errs, fmt.Errorf("unsupported DUAL_WRITE_MODE %q", c.Storage.DualWriteMode))
	}
	switch c.Idempotency.Backend {
	case IdempotencyTable:
	case IdempotencyRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("REDIS_CONNECTION_STRING is required when IDEMPOTENCY_BACKEND=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported IDEMPOTENCY_BACKEND %q", c.Idempotency.Backend))
	}
	switch c.Bus.Kind {
	case BusQueue:
	case BusKafka:
		if len(c.Bus.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("KAFKA_BROKERS is required when EVENT_BUS_KIND=kafka"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported EVENT_BUS_KIND %q", c.Bus.Kind))
	}
	switch c.Auth.Mode {
	case AuthNone:
	case AuthHS256:
		if c.Auth.Secret == "" {
			errs = append(errs, errors.New("AUTH_SHARED_SECRET is required when AUTH_MODE=hs256"))
		}
	case AuthJWKS:
		if c.Auth.JWKSURL == "" {
			errs = append(errs, errors.New("AUTH_JWKS_URL is required when AUTH_MODE=jwks"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported AUTH_MODE %q", c.Auth.Mode))
	}
	if c.Consumer.BatchSize <= 0 {
		errs = append(errs, errors.New("CONSUMER_BATCH_SIZE must be greater than zero"))
	}
	return errors.Join(errs...)
}

// TableNames returns the physical table names.
func (c *Config) TableNames() storage.TableNames {
	return storage.TableNames{
		Orders:      c.Storage.OrdersTable,
		Payments:    c.Storage.PaymentsTable,
		Inventory:   c.Storage.InventoryTable,
		Idempotency: c.Storage.IdempotencyTable,
	}
}

// LogLevel resolves the configured level. DEBUG=true always wins.
func (c *Config) LogLevel() log.Level {
	if c.Log.Debug {
		return log.DebugLevel
	}
	lvl, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

// NewLogger builds the process logger.
func (c *Config) NewLogger() *log.Logger {
	logger := log.New()
	logger.SetLevel(c.LogLevel())
	if c.Log.JSON {
		logger.SetFormatter(&log.JSONFormatter{})
	}
	return logger
}

// RedisOptions accepts either a redis:// URL or an Azure style
// "host:port,password=...,ssl=True" connection string.
func RedisOptions(conn string) (*redis.Options, error) {
	if conn == "" {
		return nil, errors.New("empty redis connection string")
	}
	opts, err := redis.ParseURL(conn)
	if err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	opts = &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts, nil
}
