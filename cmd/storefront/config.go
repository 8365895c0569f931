package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/app"
)

const (
	envServiceName         = "STOREFRONT_SERVICE_NAME"
	envGRPCAddr            = "STOREFRONT_GRPC_ADDR"
	envHTTPAddr            = "STOREFRONT_HTTP_ADDR"
	envMetricsAddr         = "STOREFRONT_METRICS_ADDR"
	envStorageDriver       = "STOREFRONT_STORAGE_DRIVER"
	envPostgresDSN         = "STOREFRONT_POSTGRES_DSN"
	envPostgresAutoMigrate = "STOREFRONT_POSTGRES_AUTO_MIGRATE"

	envSnapshotDriver     = "STOREFRONT_SNAPSHOT_DRIVER"
	envRedisAddr          = "STOREFRONT_REDIS_ADDR"
	envMySQLDSN           = "STOREFRONT_MYSQL_DSN"
	envSnapshotKey        = "STOREFRONT_SNAPSHOT_KEY"
	envAutosaveInterval   = "STOREFRONT_AUTOSAVE_INTERVAL"
	envRestoreCartOnStart = "STOREFRONT_RESTORE_CART"

	envSearchMaxLatency        = "STOREFRONT_SEARCH_MAX_LATENCY"
	envPaymentDelay            = "STOREFRONT_PAYMENT_DELAY"
	envCheckoutCompletionDelay = "STOREFRONT_CHECKOUT_COMPLETION_DELAY"

	envKafkaBrokers          = "STOREFRONT_KAFKA_BROKERS"
	envCatalogUpdatesEnabled = "STOREFRONT_CATALOG_UPDATES"

	envOutboxPollInterval = "STOREFRONT_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize    = "STOREFRONT_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts  = "STOREFRONT_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay   = "STOREFRONT_OUTBOX_RETRY_DELAY"
	envOutboxMaxRetry     = "STOREFRONT_OUTBOX_MAX_RETRY_DELAY"

	envIdempotencyCleanupInterval  = "STOREFRONT_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "STOREFRONT_IDEMPOTENCY_CLEANUP_BATCH_SIZE"

	envOTLPEndpoint    = "STOREFRONT_OTLP_ENDPOINT"
	envShutdownTimeout = "STOREFRONT_SHUTDOWN_TIMEOUT"
	envLogLevel        = "STOREFRONT_LOG_LEVEL"
)

type envLookup func(string) (string, bool)

// readConfig читает конфигурацию из окружения процесса.
func readConfig() (app.Config, []string) {
	return readConfigFromEnv(os.LookupEnv)
}

// readConfigFromEnv накладывает переменные окружения на DefaultConfig.
// Некорректные значения не прерывают запуск: остаётся значение по умолчанию, а в warnings попадает причина.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	warn := func(key, value string, err error) {
		warnings = append(warnings, fmt.Sprintf("%s=%q ignored: %v", key, value, err))
	}

	str := func(key string, dst *string, normalize func(string) string) {
		value, ok := lookup(key)
		if !ok {
			return
		}
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		if normalize != nil {
			value = normalize(value)
		}
		*dst = value
	}
	boolean := func(key string, dst *bool) {
		value, ok := lookup(key)
		if !ok || strings.TrimSpace(value) == "" {
			return
		}
		parsed, err := parseBool(value)
		if err != nil {
			warn(key, value, err)
			return
		}
		*dst = parsed
	}
	positiveInt := func(key string, dst *int) {
		value, ok := lookup(key)
		if !ok || strings.TrimSpace(value) == "" {
			return
		}
		parsed, err := parseInt(value, func(v int) bool { return v > 0 }, "must be > 0")
		if err != nil {
			warn(key, value, err)
			return
		}
		*dst = parsed
	}
	duration := func(key string, dst *time.Duration, valid func(time.Duration) bool, rule string) {
		value, ok := lookup(key)
		if !ok || strings.TrimSpace(value) == "" {
			return
		}
		parsed, err := parseDuration(value, valid, rule)
		if err != nil {
			warn(key, value, err)
			return
		}
		*dst = parsed
	}
	positive := func(v time.Duration) bool { return v > 0 }
	nonNegative := func(v time.Duration) bool { return v >= 0 }

	str(envServiceName, &cfg.ServiceName, nil)
	str(envGRPCAddr, &cfg.GRPCAddr, nil)
	str(envHTTPAddr, &cfg.HTTPAddr, nil)
	str(envMetricsAddr, &cfg.MetricsAddr, nil)
	str(envStorageDriver, &cfg.StorageDriver, strings.ToLower)
	str(envPostgresDSN, &cfg.PostgresDSN, nil)
	boolean(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)

	str(envSnapshotDriver, &cfg.SnapshotDriver, strings.ToLower)
	str(envRedisAddr, &cfg.RedisAddr, nil)
	str(envMySQLDSN, &cfg.MySQLDSN, nil)
	str(envSnapshotKey, &cfg.SnapshotKey, nil)
	duration(envAutosaveInterval, &cfg.AutosaveInterval, positive, "must be > 0")
	boolean(envRestoreCartOnStart, &cfg.RestoreCartOnStart)

	duration(envSearchMaxLatency, &cfg.SearchMaxLatency, nonNegative, "must be >= 0")
	duration(envPaymentDelay, &cfg.PaymentDelay, nonNegative, "must be >= 0")
	duration(envCheckoutCompletionDelay, &cfg.CheckoutCompletionDelay, nonNegative, "must be >= 0")

	str(envKafkaBrokers, &cfg.KafkaBrokers, nil)
	boolean(envCatalogUpdatesEnabled, &cfg.CatalogUpdatesEnabled)

	duration(envOutboxPollInterval, &cfg.OutboxPollInterval, positive, "must be > 0")
	positiveInt(envOutboxBatchSize, &cfg.OutboxBatchSize)
	positiveInt(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts)
	duration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegative, "must be >= 0")
	duration(envOutboxMaxRetry, &cfg.OutboxMaxRetryDelay, positive, "must be > 0")

	duration(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positive, "must be > 0")
	positiveInt(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize)

	str(envOTLPEndpoint, &cfg.OTLPEndpoint, nil)
	duration(envShutdownTimeout, &cfg.ShutdownTimeout, positive, "must be > 0")

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value")
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid integer: %w", err)
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("value %d %s", value, rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration: %w", err)
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("value %s %s", value, rule)
	}
	return value, nil
}
