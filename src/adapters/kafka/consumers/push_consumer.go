package consumers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"axoncore/src/adapters/dto"
	"axoncore/src/domain"
	"axoncore/src/infra/kafka"
)

const (
	// Acima disso o lote pula a reconstrução parcial e faz uma completa por tipo no final.
	DefaultFullRebuildThreshold = 50

	MessageTypeHeader  = "message_type"
	MessageTypePush    = "push"
	MessageTypeRecords = "records"
)

type CorrelationService interface {
	Push(ctx context.Context, request domain.PushRequest) (domain.PushResult, error)
	IngestRecords(ctx context.Context, request domain.IngestRequest) (domain.PushResult, error)
}

type FullRebuilder interface {
	Rebuild(ctx context.Context, entityType domain.EntityType, ids []string) error
}

type PushConsumer struct {
	logger      *slog.Logger
	validator   *dto.Validator
	correlation CorrelationService
	rebuilder   FullRebuilder
	threshold   int
}

func NewPushConsumer(
	logger *slog.Logger,
	validator *dto.Validator,
	correlation CorrelationService,
	rebuilder FullRebuilder,
	threshold int,
) *PushConsumer {
	if threshold <= 0 {
		threshold = DefaultFullRebuildThreshold
	}
	return &PushConsumer{
		logger:      logger,
		validator:   validator,
		correlation: correlation,
		rebuilder:   rebuilder,
		threshold:   threshold,
	}
}

func (c *PushConsumer) Start(ctx context.Context, kafkaClient *kafka.KafkaClient, topic string) error {
	c.logger.Info("Starting push consumer", "topic", topic, "full_rebuild_threshold", c.threshold)

	return kafkaClient.Consumer(ctx, c.HandleMessages, topic)
}

// HandleMessages aplica o lote em ordem. Mensagens rejeitadas pelo domínio são logadas e
// confirmadas; erro de store devolve o lote inteiro para o Kafka.
func (c *PushConsumer) HandleMessages(ctx context.Context, messages []kafka.Message) error {
	if len(messages) == 0 {
		return nil
	}

	skipRebuild := len(messages) > c.threshold
	touched := make(map[domain.EntityType]struct{})
	var rejected int

	c.logger.Info("Processing push batch", "count", len(messages), "skip_partial_rebuild", skipRebuild)

	for _, msg := range messages {
		entityType, err := c.handleMessage(ctx, msg, skipRebuild)
		if err != nil {
			if isRejection(err) {
				rejected++
				c.logger.Warn("Push rejected", "key", msg.Key, "error", err)
				continue
			}
			c.logger.Error("Failed to process push", "key", msg.Key, "error", err)
			return fmt.Errorf("PushConsumer.HandleMessages - message %s: %w", msg.Key, err)
		}
		touched[entityType] = struct{}{}
	}

	if skipRebuild {
		for _, entityType := range domain.EntityTypes {
			if _, ok := touched[entityType]; !ok {
				continue
			}
			if err := c.rebuilder.Rebuild(ctx, entityType, nil); err != nil {
				return fmt.Errorf("PushConsumer.HandleMessages - full rebuild of %s: %w", entityType, err)
			}
		}
	}

	c.logger.Info("Push batch processed", "count", len(messages), "rejected", rejected)
	return nil
}

func (c *PushConsumer) handleMessage(ctx context.Context, msg kafka.Message, skipRebuild bool) (domain.EntityType, error) {
	var envelope struct {
		EntityType string `json:"entity_type"`
	}
	if err := json.Unmarshal(msg.Value, &envelope); err != nil {
		return "", fmt.Errorf("%w: %s", domain.ErrValidation, err.Error())
	}
	if envelope.EntityType == "" {
		envelope.EntityType = msg.Headers["entity_type"]
	}

	switch msg.Headers[MessageTypeHeader] {
	case MessageTypeRecords:
		request, err := c.validator.DecodeIngest(msg.Value, envelope.EntityType)
		if err != nil {
			return "", err
		}
		request.SkipRebuild = skipRebuild
		_, err = c.correlation.IngestRecords(ctx, request)
		return request.EntityType, err

	case "", MessageTypePush:
		request, err := c.validator.DecodePush(msg.Value, envelope.EntityType)
		if err != nil {
			return "", err
		}
		request.SkipRebuild = skipRebuild
		_, err = c.correlation.Push(ctx, request)
		return request.EntityType, err

	default:
		return "", fmt.Errorf("%w: unknown message type %q", domain.ErrValidation, msg.Headers[MessageTypeHeader])
	}
}

func isRejection(err error) bool {
	return errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrCardinality)
}
