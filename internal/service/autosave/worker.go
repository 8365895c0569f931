// Package autosave периодически сохраняет снимок корзины в key-value слот.
package autosave

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/cart"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

const (
	// DefaultInterval: период автосохранения.
	DefaultInterval = 5 * time.Second
	// DefaultKey: ключ слота, под которым лежит снимок корзины.
	DefaultKey = "cart"
)

// Options задаёт параметры воркера автосохранения.
type Options struct {
	Logger   *log.Entry
	Metrics  *metrics.StorefrontMetrics
	Interval time.Duration
	Key      string
}

// Option настраивает Worker.
type Option func(*Options)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics включает метрики автосохранения.
func WithMetrics(m *metrics.StorefrontMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithInterval задаёт период между сохранениями.
func WithInterval(interval time.Duration) Option {
	return func(opts *Options) {
		opts.Interval = interval
	}
}

// WithKey задаёт ключ слота.
func WithKey(key string) Option {
	return func(opts *Options) {
		opts.Key = key
	}
}

// Worker сериализует содержимое корзины и безусловно перезаписывает слот на каждом тике.
// Ошибки записи только логируются: это побочный канал, а не источник истины.
type Worker struct {
	store     *cart.Store
	snapshots domain.SnapshotStore
	logger    *log.Entry
	metrics   *metrics.StorefrontMetrics
	interval  time.Duration
	key       string

	mu        sync.RWMutex
	lastSaved time.Time
}

// NewWorker создаёт воркер автосохранения.
func NewWorker(store *cart.Store, snapshots domain.SnapshotStore, options ...Option) *Worker {
	opts := Options{
		Interval: DefaultInterval,
		Key:      DefaultKey,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "cart-autosave")
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Key == "" {
		opts.Key = DefaultKey
	}

	return &Worker{
		store:     store,
		snapshots: snapshots,
		logger:    logger,
		metrics:   opts.Metrics,
		interval:  opts.Interval,
		key:       opts.Key,
	}
}

// Key возвращает ключ слота.
func (w *Worker) Key() string {
	return w.key
}

// Interval возвращает период автосохранения.
func (w *Worker) Interval() time.Duration {
	return w.interval
}

// Run сохраняет корзину каждые interval до отмены ctx.
// Первая запись происходит через один интервал после старта.
func (w *Worker) Run(ctx context.Context) {
	if w.store == nil || w.snapshots == nil {
		w.logger.Warn("cart autosave is disabled: store or snapshot slot is nil")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.SaveOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.WithError(err).WithField("key", w.key).Warn("cart autosave failed")
			}
		}
	}
}

// SaveOnce записывает текущий снимок корзины. Пустая корзина сохраняется как [].
func (w *Worker) SaveOnce(ctx context.Context) error {
	items := w.store.Items()

	payload, err := json.Marshal(items)
	if err != nil {
		w.record(metrics.ResultError, 0)
		return fmt.Errorf("marshal cart snapshot: %w", err)
	}

	if err := w.snapshots.Save(ctx, w.key, payload); err != nil {
		w.record(metrics.ResultError, 0)
		return fmt.Errorf("save cart snapshot: %w", err)
	}

	w.mu.Lock()
	w.lastSaved = time.Now().UTC()
	w.mu.Unlock()

	w.record(metrics.ResultOK, len(payload))
	w.logger.WithFields(log.Fields{
		"key":   w.key,
		"lines": len(items),
		"bytes": len(payload),
	}).Debug("cart snapshot saved")

	return nil
}

// LastSavedAt возвращает время последнего успешного сохранения.
func (w *Worker) LastSavedAt() (time.Time, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.lastSaved, !w.lastSaved.IsZero()
}

// Restore загружает снимок из слота в корзину и возвращает число восстановленных позиций.
// Отсутствие снимка не считается ошибкой.
func (w *Worker) Restore(ctx context.Context) (int, error) {
	payload, err := w.snapshots.Load(ctx, w.key)
	if err != nil {
		if errors.Is(err, domain.ErrSnapshotNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("load cart snapshot: %w", err)
	}

	var items []domain.CartLineItem
	if err := json.Unmarshal(payload, &items); err != nil {
		return 0, fmt.Errorf("decode cart snapshot: %w", err)
	}

	w.store.Replace(items)
	restored := w.store.Len()

	w.logger.WithFields(log.Fields{
		"key":   w.key,
		"lines": restored,
	}).Info("cart restored from snapshot")

	return restored, nil
}

func (w *Worker) record(result string, size int) {
	if w.metrics != nil {
		w.metrics.RecordAutosave(result, size)
	}
}
