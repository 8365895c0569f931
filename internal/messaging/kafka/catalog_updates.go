package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// ErrUnsupportedEvent: тип события не обрабатывается consumer'ом каталога.
var ErrUnsupportedEvent = errors.New("unsupported catalog event type")

// NewCatalogUpdateHandler возвращает обработчик, применяющий обновления товаров к каталогу.
// Новая цена видна витрине сразу, но уже лежащие в корзине позиции сохраняют свой снимок.
func NewCatalogUpdateHandler(repo domain.CatalogRepository, logger *log.Entry) MessageHandler {
	if logger == nil {
		logger = log.WithField("component", "catalog-updates")
	}

	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		event, err := ParseCatalogUpdateEvent(message)
		if err != nil {
			return err
		}
		if event.EventType != EventTypeProductUpserted {
			return fmt.Errorf("%w: %q", ErrUnsupportedEvent, event.EventType)
		}

		if err := repo.Upsert(ctx, event.Product); err != nil {
			return fmt.Errorf("apply catalog update for product %d: %w", event.Product.ID, err)
		}

		logger.WithFields(log.Fields{
			"product_id": event.Product.ID,
			"stock":      event.Product.Stock,
			"price":      event.Product.Price.String(),
		}).Info("catalog product updated")
		return nil
	}
}
