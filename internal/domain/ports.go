package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// CatalogRepository описывает источник товаров витрины.
type CatalogRepository interface {
	// List возвращает весь каталог в стабильном порядке (по ID).
	List(ctx context.Context) ([]Product, error)
	// Get возвращает товар по ID или ErrProductNotFound.
	Get(ctx context.Context, id int64) (Product, error)
	// Upsert добавляет или обновляет товар (обновления каталога из Kafka).
	Upsert(ctx context.Context, product Product) error
}

// SnapshotStore: слот key-value для автосохранения корзины.
type SnapshotStore interface {
	// Save перезаписывает значение по ключу.
	Save(ctx context.Context, key string, payload []byte) error
	// Load возвращает значение по ключу или ErrSnapshotNotFound.
	Load(ctx context.Context, key string) ([]byte, error)
}

// PaymentService описывает симуляцию списания средств.
type PaymentService interface {
	// Charge списывает сумму по сессии оформления.
	Charge(ctx context.Context, sessionID string, amount decimal.Decimal) (PaymentStatus, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	// PullPending возвращает до limit pending-сообщений, срок попытки которых
	// наступил к моменту now, в порядке постановки.
	PullPending(ctx context.Context, now time.Time, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	// MarkRetry учитывает неудачную попытку и откладывает следующую до next.
	MarkRetry(ctx context.Context, id, reason string, next time.Time) error
	// MarkFailed выводит сообщение из очереди после исчерпания попыток.
	MarkFailed(ctx context.Context, id, reason string) error
}

// IdempotencyRepository хранит ключи повторной отправки платежа.
type IdempotencyRepository interface {
	// Reserve регистрирует ключ в статусе processing. Для уже известного ключа
	// возвращает существующую запись вместе с ErrIdempotencyKeyAlreadyExists
	// или ErrIdempotencyHashMismatch.
	Reserve(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	// Finish сохраняет итог обработки для повторов.
	Finish(ctx context.Context, key string, outcome IdempotencyOutcome) error
	// DeleteExpired удаляет до limit записей с истёкшим TTL (limit<=0 без ограничения).
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// Типы агрегатов и событий outbox.
const (
	AggregateCheckout          = "checkout"
	EventTypeCheckoutCompleted = "checkout.completed"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
	// Attempts: число уже неудачных попыток публикации.
	Attempts  int
	LastError string
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	FailedCount     int
	OldestPendingAt time.Time
}
