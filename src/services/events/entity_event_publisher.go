package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"axoncore/src/domain"
	"axoncore/src/infra/kafka"
)

type MessageProducer interface {
	Producer(messages []kafka.Message, topic string) error
}

type EntityEventPublisher struct {
	logger   *slog.Logger
	producer MessageProducer
	topic    string
}

func NewEntityEventPublisher(
	logger *slog.Logger,
	producer MessageProducer,
	topic string,
) *EntityEventPublisher {
	return &EntityEventPublisher{
		logger:   logger,
		producer: producer,
		topic:    topic,
	}
}

// PublishEntityEvents publica um lote de eventos; a chave é o entity_type, então a ordem por tipo é mantida.
func (p *EntityEventPublisher) PublishEntityEvents(ctx context.Context, events []domain.EntityEvent) error {
	if len(events) == 0 {
		return nil
	}

	messages := make([]kafka.Message, 0, len(events))
	for _, event := range events {
		body, err := json.Marshal(event)
		if err != nil {
			p.logger.Error("Failed to marshal entity event", "event_type", event.EventType, "error", err)
			continue
		}

		messages = append(messages, kafka.Message{
			Key:     string(event.EntityType),
			Value:   body,
			Headers: p.createEventHeaders(event),
		})
	}

	if err := p.producer.Producer(messages, p.topic); err != nil {
		return fmt.Errorf("EntityEventPublisher.PublishEntityEvents - failed to publish to topic %s: %w", p.topic, err)
	}

	p.logger.Debug("Published entity events", "topic", p.topic, "count", len(messages))
	return nil
}

// createEventHeaders permite filtrar pelo header sem abrir o payload.
func (p *EntityEventPublisher) createEventHeaders(event domain.EntityEvent) map[string]string {
	return map[string]string{
		"event_id":       uuid.NewString(),
		"event_type":     event.EventType,
		"entity_type":    string(event.EntityType),
		"affected_count": strconv.Itoa(len(event.AffectedIDs)),
		"source_service": "axoncore",
		"schema_version": "v1",
	}
}
