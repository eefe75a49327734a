// Package config reads the service settings from the environment, with an
// optional .env file in the working directory.
package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/matheusmosca/gym-wallet-ledger/internal/storage"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	NotifyLog   = "log"
	NotifyHTTP  = "http"
	NotifyKafka = "kafka"
)

type Config struct {
	Port     string
	AppEnv   string
	LogLevel string

	DatabaseDriver string
	Postgres       storage.PostgresConfig
	SQLitePath     string

	PlatformUserID    string
	LedgerOpTimeout   time.Duration
	LedgerLockTimeout time.Duration
	LedgerMaxRetries  int

	CatalogURL string

	NotifyDriver     string
	NotifyURL        string
	KafkaBrokers     []string
	KafkaNotifyTopic string
	NotifyWorkers    int
	NotifyQueueSize  int

	RedisAddr         string
	RedisAlertChannel string

	OtelEnabled  bool
	OtelEndpoint string
	ServiceName  string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("DATABASE_DRIVER", DriverPostgres)
	v.SetDefault("DATABASE_USER", "postgres")
	v.SetDefault("DATABASE_PASSWORD", "postgres")
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", "5432")
	v.SetDefault("DATABASE_NAME", "wallet_ledger")
	v.SetDefault("DATABASE_MAX_CONNS", 10)
	v.SetDefault("SQLITE_PATH", "wallet-ledger.db")

	v.SetDefault("LEDGER_OP_TIMEOUT", "5s")
	v.SetDefault("LEDGER_LOCK_TIMEOUT", "2s")
	v.SetDefault("LEDGER_MAX_RETRIES", 3)

	v.SetDefault("CATALOG_URL", "http://localhost:8081")

	v.SetDefault("NOTIFY_DRIVER", NotifyLog)
	v.SetDefault("NOTIFY_URL", "http://localhost:8082")
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_NOTIFY_TOPIC", "notifications")
	v.SetDefault("NOTIFY_WORKERS", 2)
	v.SetDefault("NOTIFY_QUEUE_SIZE", 256)

	v.SetDefault("REDIS_ALERT_CHANNEL", "ledger.alerts")

	v.SetDefault("OTEL_ENABLED", true)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318")
	v.SetDefault("SERVICE_NAME", "wallet-ledger")
}

// Load reads .env when present, then the process environment. Values set in
// the environment win over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}
	return FromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// FromViper builds and validates a Config from v.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Port:     v.GetString("PORT"),
		AppEnv:   v.GetString("APP_ENV"),
		LogLevel: v.GetString("LOG_LEVEL"),

		DatabaseDriver: strings.ToLower(v.GetString("DATABASE_DRIVER")),
		Postgres: storage.PostgresConfig{
			URL:      v.GetString("DATABASE_URL"),
			User:     v.GetString("DATABASE_USER"),
			Password: v.GetString("DATABASE_PASSWORD"),
			Host:     v.GetString("DATABASE_HOST"),
			Port:     v.GetString("DATABASE_PORT"),
			Name:     v.GetString("DATABASE_NAME"),
			MaxConns: v.GetInt32("DATABASE_MAX_CONNS"),
		},
		SQLitePath: v.GetString("SQLITE_PATH"),

		PlatformUserID:    strings.TrimSpace(v.GetString("PLATFORM_USER_ID")),
		LedgerOpTimeout:   v.GetDuration("LEDGER_OP_TIMEOUT"),
		LedgerLockTimeout: v.GetDuration("LEDGER_LOCK_TIMEOUT"),
		LedgerMaxRetries:  v.GetInt("LEDGER_MAX_RETRIES"),

		CatalogURL: v.GetString("CATALOG_URL"),

		NotifyDriver:     strings.ToLower(v.GetString("NOTIFY_DRIVER")),
		NotifyURL:        v.GetString("NOTIFY_URL"),
		KafkaBrokers:     splitList(v.GetString("KAFKA_BROKERS")),
		KafkaNotifyTopic: v.GetString("KAFKA_NOTIFY_TOPIC"),
		NotifyWorkers:    v.GetInt("NOTIFY_WORKERS"),
		NotifyQueueSize:  v.GetInt("NOTIFY_QUEUE_SIZE"),

		RedisAddr:         v.GetString("REDIS_ADDR"),
		RedisAlertChannel: v.GetString("REDIS_ALERT_CHANNEL"),

		OtelEnabled:  v.GetBool("OTEL_ENABLED"),
		OtelEndpoint: v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ServiceName:  v.GetString("SERVICE_NAME"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DatabaseDriver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.DatabaseDriver)
	}

	switch c.NotifyDriver {
	case NotifyLog, NotifyHTTP:
	case NotifyKafka:
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("NOTIFY_DRIVER=kafka requires KAFKA_BROKERS")
		}
	default:
		return fmt.Errorf("unsupported NOTIFY_DRIVER %q", c.NotifyDriver)
	}

	if c.LedgerOpTimeout <= 0 {
		return fmt.Errorf("LEDGER_OP_TIMEOUT must be positive, got %s", c.LedgerOpTimeout)
	}
	if c.LedgerMaxRetries < 0 {
		return fmt.Errorf("LEDGER_MAX_RETRIES must not be negative, got %d", c.LedgerMaxRetries)
	}
	return nil
}

// IsProduction reports whether APP_ENV names a production deployment.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.AppEnv)
	return env == "production" || env == "prod"
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
