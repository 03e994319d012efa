package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/IBM/sarama"
)

type KafkaClient struct {
	logger    *slog.Logger
	consumer  sarama.ConsumerGroup
	producer  sarama.SyncProducer
	brokers   []string
	batchSize int
}

type Message struct {
	Key      string
	Value    []byte
	Headers  map[string]string
	internal *sarama.ConsumerMessage
}

// Handler processa um lote. Erro devolvido = nenhuma mensagem do lote é marcada, o lote volta.
type Handler func(ctx context.Context, messages []Message) error

func newConfig(batchSize int) *sarama.Config {
	config := sarama.NewConfig()
	config.Version = sarama.V2_8_0_0

	// Consumer: lotes de pushes, processamento pode segurar locks por um tempo
	config.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Group.Session.Timeout = 30 * time.Second
	config.Consumer.Group.Heartbeat.Interval = 10 * time.Second
	config.Consumer.MaxProcessingTime = 60 * time.Second
	config.Consumer.MaxWaitTime = 100 * time.Millisecond
	config.ChannelBufferSize = batchSize * 2

	// Producer: eventos de entidade, chave = entity_type para manter a ordem por tipo
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Retry.Max = 3
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 50 * time.Millisecond
	config.Producer.MaxMessageBytes = 1024 * 1024

	return config
}

// NewKafkaClient cria consumer group e producer. groupID vazio cria só o producer.
func NewKafkaClient(logger *slog.Logger, brokers string, groupID string, batchSize int) (*KafkaClient, error) {
	brokerList := strings.Split(brokers, ",")
	if batchSize <= 0 {
		batchSize = 100
	}
	config := newConfig(batchSize)

	client := &KafkaClient{
		logger:    logger,
		brokers:   brokerList,
		batchSize: batchSize,
	}

	producer, err := sarama.NewSyncProducer(brokerList, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}
	client.producer = producer

	if groupID != "" {
		consumer, err := sarama.NewConsumerGroup(brokerList, groupID, config)
		if err != nil {
			producer.Close()
			return nil, fmt.Errorf("failed to create consumer group: %w", err)
		}
		client.consumer = consumer
	}

	logger.Info("Kafka client initialized", "brokers", brokers, "group_id", groupID, "batch_size", batchSize)
	return client, nil
}

func (k *KafkaClient) Consumer(ctx context.Context, handler Handler, topic string) error {
	if k.consumer == nil {
		return errors.New("kafka client was created without a consumer group")
	}

	consumerHandler := &consumerGroupHandler{
		logger:    k.logger,
		handler:   handler,
		batchSize: k.batchSize,
	}

	for {
		select {
		case <-ctx.Done():
			k.logger.Info("Kafka consumer context cancelled", "topic", topic)
			return nil
		default:
			if err := k.consumer.Consume(ctx, []string{topic}, consumerHandler); err != nil {
				k.logger.Error("Error consuming from topic", "topic", topic, "error", err)
				select {
				case <-ctx.Done():
				case <-time.After(5 * time.Second):
				}
			}
		}
	}
}

func (k *KafkaClient) Producer(messages []Message, topic string) error {
	if len(messages) == 0 {
		return nil
	}

	batch := make([]*sarama.ProducerMessage, len(messages))
	for i, msg := range messages {
		headers := make([]sarama.RecordHeader, 0, len(msg.Headers))
		for key, value := range msg.Headers {
			headers = append(headers, sarama.RecordHeader{Key: []byte(key), Value: []byte(value)})
		}
		batch[i] = &sarama.ProducerMessage{
			Topic:   topic,
			Key:     sarama.StringEncoder(msg.Key),
			Value:   sarama.ByteEncoder(msg.Value),
			Headers: headers,
		}
	}

	if err := k.producer.SendMessages(batch); err != nil {
		var producerErrors sarama.ProducerErrors
		if errors.As(err, &producerErrors) {
			return fmt.Errorf("batch send failed: %d/%d messages failed: %w", len(producerErrors), len(batch), err)
		}
		return fmt.Errorf("batch send failed: %w", err)
	}

	k.logger.Debug("Batch sent", "topic", topic, "count", len(batch))
	return nil
}

func (k *KafkaClient) Close() error {
	var errs []error

	if k.consumer != nil {
		if err := k.consumer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close consumer: %w", err))
		}
	}

	if err := k.producer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close producer: %w", err))
	}

	return errors.Join(errs...)
}

// consumerGroupHandler implementa sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	logger    *slog.Logger
	handler   Handler
	batchSize int
}

func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	batchTimeout := 2 * time.Second

	h.logger.Debug("Starting consumer for partition", "partition", claim.Partition(), "batch_size", h.batchSize)

	messages := make([]Message, 0, h.batchSize)
	timer := time.NewTimer(batchTimeout)
	defer timer.Stop()

	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				h.processBatch(session, messages)
				return nil
			}

			headers := make(map[string]string, len(message.Headers))
			for _, header := range message.Headers {
				headers[string(header.Key)] = string(header.Value)
			}
			messages = append(messages, Message{
				Key:      string(message.Key),
				Value:    message.Value,
				Headers:  headers,
				internal: message,
			})

			if len(messages) >= h.batchSize {
				h.processBatch(session, messages)
				messages = messages[:0]
				timer.Reset(batchTimeout)
			}

		case <-timer.C:
			h.processBatch(session, messages)
			messages = messages[:0]
			timer.Reset(batchTimeout)

		case <-session.Context().Done():
			h.processBatch(session, messages)
			return nil
		}
	}
}

func (h *consumerGroupHandler) processBatch(session sarama.ConsumerGroupSession, messages []Message) {
	if len(messages) == 0 {
		return
	}

	if err := h.handler(session.Context(), messages); err != nil {
		h.logger.Error("Handler error for batch, it will be redelivered", "count", len(messages), "error", err)
		return
	}

	for _, msg := range messages {
		if msg.internal != nil {
			session.MarkMessage(msg.internal, "")
		}
	}
}
