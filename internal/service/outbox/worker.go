// Package outbox доставляет события завершённого checkout из transactional
// outbox во внешний брокер.
//
// Неудачная публикация не блокирует цикл: сообщение откладывается в хранилище
// с экспоненциальной задержкой, а после MaxAttempts попыток уходит в DLQ.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	defaultPollInterval  = time.Second
	defaultBatchSize     = 100
	defaultMaxAttempts   = 5
	defaultRetryDelay    = 500 * time.Millisecond
	defaultMaxRetryDelay = 5 * time.Minute
)

var (
	publishResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_outbox_publish_total",
		Help: "Checkout event publish attempts grouped by result.",
	}, []string{"result"})
	pendingRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storefront_outbox_pending_records",
		Help: "Current number of pending records in transactional outbox.",
	})
	failedRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storefront_outbox_failed_records",
		Help: "Records that exhausted publish attempts.",
	})
	oldestPendingAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storefront_outbox_oldest_pending_age_seconds",
		Help: "Age in seconds of the oldest pending outbox record.",
	})
)

// DeadLetter: содержимое сообщения в DLQ после исчерпания попыток.
type DeadLetter struct {
	OutboxID       string          `json:"outbox_id"`
	AggregateType  string          `json:"aggregate_type"`
	CheckoutID     string          `json:"checkout_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	Attempts       int             `json:"attempts"`
	PublishError   string          `json:"publish_error"`
	OccurredAt     time.Time       `json:"occurred_at"`
	DLQPublishedAt time.Time       `json:"dlq_published_at"`
}

type config struct {
	logger        *log.Entry
	dlq           domain.OutboxPublisher
	pollInterval  time.Duration
	batchSize     int
	maxAttempts   int
	retryDelay    time.Duration
	maxRetryDelay time.Duration
	now           func() time.Time
}

// Option настраивает Worker.
type Option func(*config)

func WithLogger(logger *log.Entry) Option {
	return func(c *config) { c.logger = logger }
}

// WithDLQPublisher задаёт получателя сообщений, исчерпавших попытки.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(c *config) { c.dlq = publisher }
}

func WithPollInterval(interval time.Duration) Option {
	return func(c *config) { c.pollInterval = interval }
}

func WithBatchSize(n int) Option {
	return func(c *config) { c.batchSize = n }
}

// WithMaxAttempts: сколько раз публикуется сообщение до перевода в failed.
func WithMaxAttempts(n int) Option {
	return func(c *config) { c.maxAttempts = n }
}

// WithRetryBaseDelay: задержка перед второй попыткой; дальше она удваивается.
func WithRetryBaseDelay(d time.Duration) Option {
	return func(c *config) { c.retryDelay = d }
}

// WithMaxRetryDelay ограничивает рост задержки.
func WithMaxRetryDelay(d time.Duration) Option {
	return func(c *config) { c.maxRetryDelay = d }
}

// WithClock подменяет источник времени (тесты).
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

// Worker публикует pending-события checkout из outbox.
type Worker struct {
	repo      domain.OutboxRepository
	publisher domain.OutboxPublisher
	cfg       config
}

func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	cfg := config{
		pollInterval:  defaultPollInterval,
		batchSize:     defaultBatchSize,
		maxAttempts:   defaultMaxAttempts,
		retryDelay:    defaultRetryDelay,
		maxRetryDelay: defaultMaxRetryDelay,
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(&cfg)
	}

	if cfg.logger == nil {
		cfg.logger = log.WithField("component", "outbox-worker")
	}
	if cfg.pollInterval <= 0 {
		cfg.pollInterval = defaultPollInterval
	}
	if cfg.batchSize <= 0 {
		cfg.batchSize = defaultBatchSize
	}
	if cfg.maxAttempts <= 0 {
		cfg.maxAttempts = defaultMaxAttempts
	}
	cfg.retryDelay = max(cfg.retryDelay, 0)
	if cfg.maxRetryDelay < cfg.retryDelay {
		cfg.maxRetryDelay = cfg.retryDelay
	}

	return &Worker{repo: repo, publisher: publisher, cfg: cfg}
}

// Run опрашивает outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.cfg.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.cfg.pollInterval)
	defer ticker.Stop()

	for {
		w.ProcessOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce публикует одну пачку готовых к отправке сообщений и
// возвращает их число.
func (w *Worker) ProcessOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	defer w.refreshBacklogMetrics(ctx)

	due, err := w.repo.PullPending(ctx, w.cfg.now(), w.cfg.batchSize)
	if err != nil {
		w.cfg.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return 0
	}

	processed := 0
	for _, msg := range due {
		if ctx.Err() != nil {
			break
		}
		processed++
		w.deliver(ctx, msg)
	}
	return processed
}

// Drain публикует готовый backlog до опустошения или отмены ctx.
// Вызывается при остановке сервиса.
func (w *Worker) Drain(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		return
	}
	for ctx.Err() == nil {
		if w.ProcessOnce(ctx) < w.cfg.batchSize {
			return
		}
	}
}

func (w *Worker) deliver(ctx context.Context, msg domain.OutboxMessage) {
	entry := w.cfg.logger.WithFields(log.Fields{
		"outbox_id":   msg.ID,
		"checkout_id": msg.AggregateID,
		"event_type":  msg.EventType,
		"attempt":     msg.Attempts + 1,
	})

	publishErr := w.publisher.Publish(ctx, msg)
	if publishErr == nil {
		publishResults.WithLabelValues("sent").Inc()
		if err := w.repo.MarkSent(ctx, msg.ID); err != nil {
			entry.WithError(err).Warn("event published but not marked as sent")
			return
		}
		entry.Debug("outbox event published")
		return
	}

	reason := publishErr.Error()
	if msg.Attempts+1 < w.cfg.maxAttempts {
		publishResults.WithLabelValues("retry").Inc()
		next := w.cfg.now().Add(w.retryBackoff(msg.Attempts + 1))
		if err := w.repo.MarkRetry(ctx, msg.ID, reason, next); err != nil {
			entry.WithError(err).Warn("failed to schedule outbox retry")
			return
		}
		entry.WithError(publishErr).WithField("next_attempt_at", next).Warn("outbox publish failed, retry scheduled")
		return
	}

	publishResults.WithLabelValues("failed").Inc()
	entry.WithError(publishErr).Error("outbox publish failed, attempts exhausted")
	if err := w.publishToDLQ(ctx, msg, publishErr); err != nil {
		publishResults.WithLabelValues("dlq_failed").Inc()
		entry.WithError(err).Warn("failed to publish to DLQ")
	}
	if err := w.repo.MarkFailed(ctx, msg.ID, reason); err != nil {
		entry.WithError(err).Warn("failed to mark outbox message as failed")
	}
}

// retryBackoff возвращает задержку после attempt-й неудачи: base, 2*base, 4*base...
func (w *Worker) retryBackoff(attempt int) time.Duration {
	if w.cfg.retryDelay <= 0 {
		return 0
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     w.cfg.retryDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         w.cfg.maxRetryDelay,
	}
	b.Reset()

	delay := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

func (w *Worker) refreshBacklogMetrics(ctx context.Context) {
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.cfg.logger.WithError(err).Debug("failed to collect outbox backlog stats")
		return
	}

	pendingRecords.Set(float64(stats.PendingCount))
	failedRecords.Set(float64(stats.FailedCount))
	if stats.PendingCount == 0 || stats.OldestPendingAt.IsZero() {
		oldestPendingAge.Set(0)
		return
	}
	oldestPendingAge.Set(max(w.cfg.now().Sub(stats.OldestPendingAt).Seconds(), 0))
}

func (w *Worker) publishToDLQ(ctx context.Context, msg domain.OutboxMessage, cause error) error {
	if w.cfg.dlq == nil {
		return nil
	}

	payload, err := json.Marshal(DeadLetter{
		OutboxID:       msg.ID,
		AggregateType:  msg.AggregateType,
		CheckoutID:     msg.AggregateID,
		EventType:      msg.EventType,
		Payload:        json.RawMessage(msg.Payload),
		Attempts:       msg.Attempts + 1,
		PublishError:   cause.Error(),
		OccurredAt:     msg.CreatedAt,
		DLQPublishedAt: w.cfg.now(),
	})
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	letter := msg
	letter.Payload = payload
	letter.Attempts++
	if err := w.cfg.dlq.Publish(ctx, letter); err != nil {
		return fmt.Errorf("%w: dlq: %v", domain.ErrOutboxPublish, err)
	}
	return nil
}
