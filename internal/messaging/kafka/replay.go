package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
)

// ErrNotDeadLetter: сообщение DLQ не похоже ни на один известный формат.
var ErrNotDeadLetter = errors.New("message is not a recognized dead letter")

// ReplayMessage: исходное событие, восстановленное из DLQ.
type ReplayMessage struct {
	Topic     string
	Key       string
	Value     []byte
	EventType string
}

// outboxDeadLetter: payload, который outbox worker кладёт в конверт перед отправкой в DLQ.
type outboxDeadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	CheckoutID    string          `json:"checkout_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// DecodeDeadLetter восстанавливает исходное событие из сообщения DLQ.
//
// Понимает два формата: DeadLetter, который пишет Consumer после исчерпания
// ретраев, и outbox-конверт с вложенным описанием неудачной публикации.
// Outbox-события возвращаются в outboxTopic, DeadLetter: в исходный топик.
func DecodeDeadLetter(msg *sarama.ConsumerMessage, outboxTopic string) (ReplayMessage, error) {
	if msg == nil || len(msg.Value) == 0 {
		return ReplayMessage{}, ErrNotDeadLetter
	}

	var letter DeadLetter
	if err := json.Unmarshal(msg.Value, &letter); err == nil && letter.OriginalValue != "" {
		topic := firstNonEmpty(letter.OriginalTopic, consumedHeaders(msg.Headers).Get(HeaderOriginalTopic))
		if topic == "" {
			return ReplayMessage{}, fmt.Errorf("dead letter at offset %d has no original topic", msg.Offset)
		}
		return ReplayMessage{
			Topic:     topic,
			Key:       letter.OriginalKey,
			Value:     []byte(letter.OriginalValue),
			EventType: consumedHeaders(msg.Headers).Get(HeaderEventType),
		}, nil
	}

	var envelope CheckoutEnvelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil || len(envelope.Payload) == 0 {
		return ReplayMessage{}, ErrNotDeadLetter
	}

	var failed outboxDeadLetter
	if err := json.Unmarshal(envelope.Payload, &failed); err != nil {
		return ReplayMessage{}, fmt.Errorf("decode outbox dead letter: %w", err)
	}
	if len(failed.Payload) == 0 {
		return ReplayMessage{}, fmt.Errorf("outbox dead letter %s has no original payload", envelope.ID)
	}
	if outboxTopic == "" {
		outboxTopic = TopicCheckoutEvents
	}

	replay := CheckoutEnvelope{
		ID:            firstNonEmpty(failed.OutboxID, envelope.ID),
		AggregateType: firstNonEmpty(failed.AggregateType, envelope.AggregateType),
		AggregateID:   firstNonEmpty(failed.CheckoutID, envelope.AggregateID),
		EventType:     firstNonEmpty(failed.EventType, envelope.EventType),
		Payload:       failed.Payload,
		OccurredAt:    failed.OccurredAt,
		PublishedAt:   time.Now().UTC(),
	}
	if replay.OccurredAt.IsZero() {
		replay.OccurredAt = envelope.OccurredAt
	}

	encoded, err := json.Marshal(replay)
	if err != nil {
		return ReplayMessage{}, fmt.Errorf("encode replay envelope: %w", err)
	}

	return ReplayMessage{
		Topic:     outboxTopic,
		Key:       firstNonEmpty(replay.AggregateID, replay.ID),
		Value:     encoded,
		EventType: replay.EventType,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
