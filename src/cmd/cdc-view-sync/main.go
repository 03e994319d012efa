package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/fx"

	"axoncore/src/adapters/kafka/consumers"
	"axoncore/src/config"
	"axoncore/src/domain"
	"axoncore/src/infra/debezium"
	"axoncore/src/infra/kafka"
	"axoncore/src/infra/mongo"
	"axoncore/src/infra/postgres"
	"axoncore/src/repositories"
	"axoncore/src/services/events"
	"axoncore/src/services/viewrebuild"
)

func main() {
	log.SetOutput(os.Stdout)
	log.Println("Starting CDC View Sync with Uber Fx...")

	app := fx.New(
		// Providers
		fx.Provide(
			newConfig,
			newLogger,
			newReadWriteClient,
			newMongoClient,
			newKafkaClient,
			newCDCClient,
			repositories.NewEntityRepository,
			repositories.NewViewRepository,
			repositories.NewHistoryRepository,
			newRebuilder,
			events.NewCDCTransformer,
			newCDCConsumer,
		),

		// Invocations
		fx.Invoke(startConsumer),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := app.Start(ctx); err != nil {
		log.Fatalf("Failed to start CDC view sync: %v", err)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	log.Println("Shutting down CDC view sync...")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()

	if err := app.Stop(stopCtx); err != nil {
		log.Printf("Failed to stop application gracefully: %v", err)
	}

	log.Println("CDC view sync shutdown complete")
}

func newConfig() (config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return config.Config{}, err
	}
	return cfg, cfg.Validate("postgres", "mongo", "kafka")
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level

	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}

func newReadWriteClient(cfg config.Config) (*postgres.ReadWriteClient, error) {
	pg := cfg.Postgres
	return postgres.NewReadWriteClient(pg.ReadHost, pg.Host, pg.ReadPort, pg.Port, pg.Name, pg.User, pg.Password, pg.MaxConnections)
}

func newMongoClient(cfg config.Config) (*mongo.MongoClient, error) {
	return mongo.NewMongoClient(cfg.Mongo.URI, cfg.Mongo.Database)
}

func newKafkaClient(cfg config.Config, logger *slog.Logger) (*kafka.KafkaClient, error) {
	return kafka.NewKafkaClient(logger, cfg.Kafka.Brokers, cfg.Kafka.CDCConsumerGroupID, cfg.Kafka.BatchSize)
}

func newCDCClient(cfg config.Config, logger *slog.Logger, kafkaClient *kafka.KafkaClient) *debezium.CDCClient {
	serializer := &debezium.CDCSerializer{IncludeTables: []string{domain.TableEntities}}
	return debezium.NewCDCClient(logger, cfg.Kafka.CDCTopic, kafkaClient, serializer)
}

func newRebuilder(
	cfg config.Config,
	logger *slog.Logger,
	entityRepository *repositories.EntityRepository,
	viewRepository *repositories.ViewRepository,
	historyRepository *repositories.HistoryRepository,
) *viewrebuild.Rebuilder {
	return viewrebuild.NewRebuilder(logger, entityRepository, viewRepository, historyRepository,
		viewrebuild.WithCooldown(cfg.Rebuild.Cooldown()),
		viewrebuild.WithBatchSize(cfg.Rebuild.BatchSize),
	)
}

func newCDCConsumer(
	logger *slog.Logger,
	cdcClient *debezium.CDCClient,
	transformer *events.CDCTransformer,
	rebuilder *viewrebuild.Rebuilder,
) *consumers.CDCConsumer {
	return consumers.NewCDCConsumer(logger, cdcClient, transformer, rebuilder)
}

func startConsumer(
	lc fx.Lifecycle,
	logger *slog.Logger,
	readWriteClient *postgres.ReadWriteClient,
	mongoClient *mongo.MongoClient,
	cdcConsumer *consumers.CDCConsumer,
) {
	consumerCtx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := cdcConsumer.Start(consumerCtx); err != nil {
					logger.Error("CDC consumer failed", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			if err := cdcConsumer.Close(); err != nil {
				logger.Error("Failed to close CDC consumer", "error", err)
			}
			readWriteClient.Close()
			return mongoClient.Close(ctx)
		},
	})
}
