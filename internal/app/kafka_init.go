package app

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

const (
	catalogConsumerGroup = "storefront-catalog"
	catalogMaxRetries    = 3
)

// initKafkaProducer инициализирует Kafka producer если brokers не пустой.
// Возвращает nil, nil если brokers пустой.
func initKafkaProducer(brokers []string, logger *log.Entry) (*kafka.Producer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// startCatalogConsumer подписывается на обновления каталога.
// Сообщения, не обработанные за maxRetries попыток, уходят в DLQ через producer.
func startCatalogConsumer(ctx context.Context, brokers []string, repo domain.CatalogRepository, producer *kafka.Producer, logger *log.Entry) (*kafka.Consumer, error) {
	consumer, err := kafka.NewConsumer(
		brokers,
		catalogConsumerGroup,
		[]string{kafka.TopicCatalogUpdates},
		kafka.NewCatalogUpdateHandler(repo, logger.WithField("component", "catalog-updates")),
		kafka.WithDeadLetters(producer, catalogMaxRetries),
		kafka.WithConsumerLogger(logger.WithField("component", "kafka-consumer")),
	)
	if err != nil {
		return nil, err
	}
	if err := consumer.Start(ctx); err != nil {
		return nil, err
	}
	return consumer, nil
}

// closeKafka закрывает Kafka producer если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}

// logPublisher публикует события outbox в лог, когда брокер не настроен.
type logPublisher struct {
	logger *log.Entry
}

func (p logPublisher) Publish(_ context.Context, event domain.OutboxMessage) error {
	p.logger.WithFields(log.Fields{
		"outbox_id":   event.ID,
		"checkout_id": event.AggregateID,
		"attempts":    event.Attempts,
		"event_type":  event.EventType,
	}).Info("checkout event (kafka disabled)")
	return nil
}

var _ domain.OutboxPublisher = logPublisher{}
