package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/catalog"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/mysqlstore"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
	"github.com/vladislavdragonenkov/storefront/internal/storage/redisstore"
)

// runtimeDependencies: хранилища, выбранные конфигурацией.
type runtimeDependencies struct {
	catalogRepo     domain.CatalogRepository
	outboxRepo      domain.OutboxRepository
	idempotencyRepo domain.IdempotencyRepository
	snapshots       domain.SnapshotStore

	checkers map[string]healthcheck.Checker
	closers  []func() error

	pgStore *postgres.Store
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (deps *runtimeDependencies, err error) {
	deps = &runtimeDependencies{checkers: make(map[string]healthcheck.Checker)}
	defer func() {
		if err != nil {
			deps.close(logger)
			deps = nil
		}
	}()

	switch driver := strings.ToLower(strings.TrimSpace(cfg.StorageDriver)); driver {
	case "", StorageDriverMemory:
		deps.catalogRepo = memory.NewCatalogRepository(catalog.DefaultProducts())
		deps.outboxRepo = memory.NewOutboxRepository()
		deps.idempotencyRepo = memory.NewIdempotencyRepository()
		logger.Info("using in-memory storage")
	case StorageDriverPostgres:
		store, err := deps.openPostgres(ctx, cfg, logger)
		if err != nil {
			return deps, err
		}
		deps.catalogRepo = postgres.NewCatalogRepository(store)
		deps.outboxRepo = postgres.NewOutboxRepository(store)
		deps.idempotencyRepo = postgres.NewIdempotencyRepository(store)
		logger.Info("using postgres storage")
	default:
		return deps, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}

	if err := deps.initSnapshots(ctx, cfg, logger); err != nil {
		return deps, err
	}

	return deps, nil
}

func (d *runtimeDependencies) openPostgres(ctx context.Context, cfg Config, logger *log.Entry) (*postgres.Store, error) {
	if d.pgStore != nil {
		return d.pgStore, nil
	}
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return nil, errors.New("postgres DSN is required for postgres driver")
	}

	store, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	d.pgStore = store
	d.closers = append(d.closers, store.Close)
	d.checkers["postgres"] = healthcheck.NewPingChecker("postgres", store, true)

	if cfg.PostgresAutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("apply postgres migrations: %w", err)
		}
		logger.Info("postgres migrations applied")
	}
	return store, nil
}

func (d *runtimeDependencies) initSnapshots(ctx context.Context, cfg Config, logger *log.Entry) error {
	driver := cfg.EffectiveSnapshotDriver()

	switch driver {
	case SnapshotDriverMemory:
		d.snapshots = memory.NewSnapshotStore()
	case SnapshotDriverPostgres:
		store, err := d.openPostgres(ctx, cfg, logger)
		if err != nil {
			return err
		}
		d.snapshots = postgres.NewSnapshotStore(store)
	case SnapshotDriverRedis:
		client, err := redisstore.Open(ctx, cfg.RedisAddr)
		if err != nil {
			return err
		}
		d.closers = append(d.closers, client.Close)
		store := redisstore.NewSnapshotStore(client)
		d.snapshots = store
		d.checkers["redis"] = healthcheck.NewPingChecker("redis", store, false)
	case SnapshotDriverMySQL:
		if strings.TrimSpace(cfg.MySQLDSN) == "" {
			return errors.New("mysql DSN is required for mysql snapshot driver")
		}
		store, err := mysqlstore.Open(ctx, cfg.MySQLDSN)
		if err != nil {
			return err
		}
		d.closers = append(d.closers, store.Close)
		d.snapshots = store
		d.checkers["mysql"] = healthcheck.NewPingChecker("mysql", store, false)
	default:
		return fmt.Errorf("unsupported snapshot driver %q", driver)
	}

	logger.WithField("driver", driver).Info("cart snapshot slot initialized")
	return nil
}

// close освобождает подключения в обратном порядке открытия.
func (d *runtimeDependencies) close(logger *log.Entry) {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			logger.WithError(err).Warn("failed to close storage connection")
		}
	}
	d.closers = nil
}
