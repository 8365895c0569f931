package kafka

import (
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// EventType определяет тип события
type EventType string

const (
	// Checkout события (публикуются из outbox)
	EventTypeCheckoutCompleted EventType = EventType(domain.EventTypeCheckoutCompleted)

	// Catalog события (приходят извне)
	EventTypeProductUpserted EventType = "catalog.product.upserted"
)

// Topics для Kafka
const (
	TopicCheckoutEvents  = "storefront.checkout.events"
	TopicCatalogUpdates  = "storefront.catalog.updates"
	TopicDeadLetterQueue = "storefront.dlq"
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
	HeaderEventType     = "x-event-type"
)

// CatalogUpdateEvent: изменение товара в каталоге (цена, остаток, описание).
type CatalogUpdateEvent struct {
	EventType EventType      `json:"event_type"`
	Product   domain.Product `json:"product"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewCatalogUpdateEvent создает событие обновления товара
func NewCatalogUpdateEvent(product domain.Product) *CatalogUpdateEvent {
	return &CatalogUpdateEvent{
		EventType: EventTypeProductUpserted,
		Product:   product,
		Timestamp: time.Now().UTC(),
	}
}

// DeadLetter: сообщение, которое не удалось обработать.
type DeadLetter struct {
	OriginalTopic     string    `json:"original_topic"`
	OriginalPartition int32     `json:"original_partition"`
	OriginalOffset    int64     `json:"original_offset"`
	OriginalKey       string    `json:"original_key"`
	OriginalValue     string    `json:"original_value"`
	ErrorMessage      string    `json:"error_message"`
	FailedAt          time.Time `json:"failed_at"`
	RetryCount        int       `json:"retry_count"`
}
