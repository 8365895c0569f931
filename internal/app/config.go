package app

import (
	"strings"
	"time"
)

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"

	SnapshotDriverMemory   = "memory"
	SnapshotDriverPostgres = "postgres"
	SnapshotDriverRedis    = "redis"
	SnapshotDriverMySQL    = "mysql"
)

// Config описывает настройки запуска витрины.
type Config struct {
	ServiceName string
	GRPCAddr    string
	HTTPAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	// SnapshotDriver пустой: снимки корзины лежат там же, где каталог.
	SnapshotDriver     string
	RedisAddr          string
	MySQLDSN           string
	SnapshotKey        string
	AutosaveInterval   time.Duration
	RestoreCartOnStart bool

	SearchMaxLatency        time.Duration
	PaymentDelay            time.Duration
	CheckoutCompletionDelay time.Duration

	// KafkaBrokers: список брокеров через запятую; пустой отключает Kafka.
	KafkaBrokers          string
	CatalogUpdatesEnabled bool

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	// OutboxMaxRetryDelay ограничивает экспоненциальный рост задержки.
	OutboxMaxRetryDelay time.Duration

	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	// OTLPEndpoint пустой: спаны не экспортируются.
	OTLPEndpoint string

	ShutdownTimeout time.Duration
}

// DefaultConfig возвращает настройки для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		ServiceName:                 "storefront",
		GRPCAddr:                    ":50051",
		HTTPAddr:                    ":8080",
		MetricsAddr:                 ":9090",
		StorageDriver:               StorageDriverMemory,
		PostgresAutoMigrate:         true,
		RedisAddr:                   "localhost:6379",
		SnapshotKey:                 "cart",
		AutosaveInterval:            5 * time.Second,
		SearchMaxLatency:            300 * time.Millisecond,
		PaymentDelay:                2 * time.Second,
		CheckoutCompletionDelay:     3 * time.Second,
		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           3,
		OutboxRetryDelay:            50 * time.Millisecond,
		OutboxMaxRetryDelay:         time.Minute,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,
		ShutdownTimeout:             5 * time.Second,
	}
}

// Brokers возвращает непустые адреса Kafka брокеров.
func (c Config) Brokers() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// EffectiveSnapshotDriver возвращает драйвер слота снимков с учётом значения по умолчанию.
func (c Config) EffectiveSnapshotDriver() string {
	if d := strings.ToLower(strings.TrimSpace(c.SnapshotDriver)); d != "" {
		return d
	}
	if strings.EqualFold(c.StorageDriver, StorageDriverPostgres) {
		return SnapshotDriverPostgres
	}
	return SnapshotDriverMemory
}

func (c Config) shutdownTimeout() time.Duration {
	if c.ShutdownTimeout <= 0 {
		return 5 * time.Second
	}
	return c.ShutdownTimeout
}
