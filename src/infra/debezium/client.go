package debezium

import (
	"context"
	"fmt"
	"log/slog"

	"axoncore/src/infra/kafka"
)

// CDCBatchEventHandler recebe todos os eventos válidos de um lote do Kafka
type CDCBatchEventHandler func(ctx context.Context, events []*CDCEvent) error

type CDCClient struct {
	logger      *slog.Logger
	kafkaClient *kafka.KafkaClient
	serializer  *CDCSerializer
	topic       string
}

func NewCDCClient(logger *slog.Logger, topic string, kafkaClient *kafka.KafkaClient, serializer *CDCSerializer) *CDCClient {
	return &CDCClient{
		logger:      logger,
		kafkaClient: kafkaClient,
		serializer:  serializer,
		topic:       topic,
	}
}

func (c *CDCClient) ConsumeCDCEventsBatch(ctx context.Context, handler CDCBatchEventHandler) error {
	c.logger.Info("Starting CDC batch event consumption", "topic", c.topic)

	kafkaHandler := func(ctx context.Context, messages []kafka.Message) error {
		return ProcessMessages(ctx, c.logger, c.serializer, messages, handler)
	}

	return c.kafkaClient.Consumer(ctx, kafkaHandler, c.topic)
}

// ProcessMessages filtra o lote e chama handler uma vez com os eventos válidos.
// Mensagens que não parseiam são descartadas; o lote só falha se nenhuma parseou ou se o handler falhou.
func ProcessMessages(ctx context.Context, logger *slog.Logger, serializer *CDCSerializer, messages []kafka.Message, handler CDCBatchEventHandler) error {
	if len(messages) == 0 {
		return nil
	}

	var validEvents []*CDCEvent
	skippedCount := 0
	errorCount := 0

	for _, msg := range messages {
		// tombstone do Debezium depois de um delete
		if len(msg.Value) == 0 {
			skippedCount++
			continue
		}

		cdcEvent, err := serializer.ParseCDCEvent(msg.Value)
		if err != nil {
			logger.Error("Failed to parse CDC message",
				"error", err,
				"key", msg.Key,
				"value_length", len(msg.Value))
			errorCount++
			continue
		}

		if !serializer.ShouldProcessEvent(cdcEvent) {
			skippedCount++
			continue
		}

		validEvents = append(validEvents, cdcEvent)
	}

	if len(validEvents) > 0 {
		if err := handler(ctx, validEvents); err != nil {
			return fmt.Errorf("failed to handle CDC events batch: %w", err)
		}
	}

	logger.Info("Completed CDC messages batch processing",
		"total", len(messages),
		"processed", len(validEvents),
		"skipped", skippedCount,
		"errors", errorCount)

	if errorCount > 0 && len(validEvents) == 0 && skippedCount == 0 {
		return fmt.Errorf("failed to process any CDC messages in batch")
	}

	return nil
}

func (c *CDCClient) Close() error {
	c.logger.Info("Closing CDC client")
	return c.kafkaClient.Close()
}
