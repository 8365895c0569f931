// Package idempotency чистит просроченные ключи повторной отправки платежа.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500
	// Ограничение на число пачек за один проход, чтобы не держать БД долго.
	defaultMaxBatches = 20
)

var (
	cleanupRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_idempotency_cleanup_runs_total",
		Help: "Idempotency cleanup runs grouped by result.",
	}, []string{"result"})
	cleanupDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_idempotency_cleanup_deleted_total",
		Help: "Expired payment idempotency keys removed.",
	})
	cleanupDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "storefront_idempotency_cleanup_duration_seconds",
		Help:    "Duration of one idempotency cleanup sweep.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
	})
)

// Sweep: итог одного прохода очистки.
type Sweep struct {
	Deleted   int
	Batches   int
	Truncated bool // остановлен по лимиту пачек, остаток уйдёт в следующий проход
}

type cleanupConfig struct {
	logger     *log.Entry
	interval   time.Duration
	batchSize  int
	maxBatches int
	now        func() time.Time
}

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*cleanupConfig)

func WithLogger(logger *log.Entry) CleanupOption {
	return func(c *cleanupConfig) { c.logger = logger }
}

func WithInterval(interval time.Duration) CleanupOption {
	return func(c *cleanupConfig) { c.interval = interval }
}

func WithBatchSize(batchSize int) CleanupOption {
	return func(c *cleanupConfig) { c.batchSize = batchSize }
}

// WithMaxBatches ограничивает число удалений за один проход.
func WithMaxBatches(n int) CleanupOption {
	return func(c *cleanupConfig) { c.maxBatches = n }
}

// WithClock подменяет источник времени (тесты).
func WithClock(now func() time.Time) CleanupOption {
	return func(c *cleanupConfig) { c.now = now }
}

// CleanupWorker периодически удаляет ключи с истёкшим TTL.
type CleanupWorker struct {
	repo domain.IdempotencyRepository
	cfg  cleanupConfig
}

func NewCleanupWorker(repo domain.IdempotencyRepository, options ...CleanupOption) *CleanupWorker {
	cfg := cleanupConfig{
		interval:   defaultCleanupInterval,
		batchSize:  defaultCleanupBatchSize,
		maxBatches: defaultMaxBatches,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(&cfg)
	}

	if cfg.logger == nil {
		cfg.logger = log.WithField("component", "idempotency-cleanup")
	}
	if cfg.interval <= 0 {
		cfg.interval = defaultCleanupInterval
	}
	if cfg.batchSize <= 0 {
		cfg.batchSize = defaultCleanupBatchSize
	}
	if cfg.maxBatches <= 0 {
		cfg.maxBatches = defaultMaxBatches
	}

	return &CleanupWorker{repo: repo, cfg: cfg}
}

// Run выполняет проход сразу и затем по тикеру до отмены ctx.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.cfg.logger.Warn("idempotency cleanup disabled: no repository")
		return
	}

	ticker := time.NewTicker(w.cfg.interval)
	defer ticker.Stop()

	for {
		w.runOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *CleanupWorker) runOnce(ctx context.Context) {
	start := time.Now()
	sweep, err := w.Sweep(ctx)
	cleanupDuration.Observe(time.Since(start).Seconds())

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return
	case err != nil:
		cleanupRunsTotal.WithLabelValues("error").Inc()
		w.cfg.logger.WithError(err).WithField("deleted", sweep.Deleted).Warn("idempotency cleanup failed")
		return
	}

	result := "ok"
	if sweep.Truncated {
		result = "truncated"
	}
	cleanupRunsTotal.WithLabelValues(result).Inc()

	if sweep.Deleted > 0 {
		w.cfg.logger.WithFields(log.Fields{
			"deleted":   sweep.Deleted,
			"batches":   sweep.Batches,
			"truncated": sweep.Truncated,
		}).Info("expired payment idempotency keys removed")
	}
}

// Sweep удаляет просроченные ключи пачками, пока пачка заполнена целиком
// и не исчерпан лимит пачек.
func (w *CleanupWorker) Sweep(ctx context.Context) (Sweep, error) {
	before := w.cfg.now()

	var sweep Sweep
	for sweep.Batches < w.cfg.maxBatches {
		if err := ctx.Err(); err != nil {
			return sweep, err
		}

		deleted, err := w.repo.DeleteExpired(ctx, before, w.cfg.batchSize)
		if err != nil {
			return sweep, err
		}
		sweep.Batches++
		sweep.Deleted += deleted
		cleanupDeletedTotal.Add(float64(deleted))

		if deleted < w.cfg.batchSize {
			return sweep, nil
		}
	}

	sweep.Truncated = true
	return sweep, nil
}
