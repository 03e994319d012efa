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

	"axoncore/src/adapters/dto"
	"axoncore/src/adapters/kafka/consumers"
	"axoncore/src/config"
	"axoncore/src/infra/kafka"
	"axoncore/src/infra/locks"
	"axoncore/src/infra/mongo"
	"axoncore/src/infra/postgres"
	"axoncore/src/infra/redis"
	"axoncore/src/repositories"
	"axoncore/src/services/correlation"
	"axoncore/src/services/events"
	"axoncore/src/services/viewrebuild"
)

func main() {
	log.SetOutput(os.Stdout)
	log.Println("Starting Push Consumer with Uber Fx...")

	app := fx.New(
		// Providers
		fx.Provide(
			newConfig,
			newLogger,
			newReadWriteClient,
			newMongoClient,
			newLocker,
			newKafkaClient,
			repositories.NewEntityRepository,
			repositories.NewViewRepository,
			repositories.NewHistoryRepository,
			newRebuilder,
			newCorrelationService,
			dto.NewValidator,
			newPushConsumer,
		),

		// Invocations
		fx.Invoke(startConsumer),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := app.Start(ctx); err != nil {
		log.Fatalf("Failed to start consumer application: %v", err)
	}

	// Wait for interrupt signal to gracefully shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	log.Println("Shutting down push consumer...")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()

	if err := app.Stop(stopCtx); err != nil {
		log.Printf("Failed to stop application gracefully: %v", err)
	}

	log.Println("Push consumer shutdown complete")
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

func newLocker(cfg config.Config, logger *slog.Logger) correlation.Locker {
	if cfg.Redis.Hosts == "" {
		logger.Warn("REDIS_HOSTS not set, correlation locks are process local")
		return locks.NewLocalLocker()
	}
	redisClient := redis.NewRedisClient(cfg.Redis.Hosts, cfg.Redis.PoolSize)
	return redis.NewLocker(logger, redisClient, cfg.Redis.LockTTL())
}

func newKafkaClient(cfg config.Config, logger *slog.Logger) (*kafka.KafkaClient, error) {
	return kafka.NewKafkaClient(logger, cfg.Kafka.Brokers, cfg.Kafka.PushConsumerGroupID, cfg.Kafka.BatchSize)
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

func newCorrelationService(
	cfg config.Config,
	logger *slog.Logger,
	entityRepository *repositories.EntityRepository,
	locker correlation.Locker,
	rebuilder *viewrebuild.Rebuilder,
	kafkaClient *kafka.KafkaClient,
) *correlation.Service {
	publisher := events.NewEntityEventPublisher(logger, kafkaClient, cfg.Kafka.EventsTopic)
	return correlation.NewService(logger, entityRepository, locker,
		correlation.WithViewRebuilder(rebuilder),
		correlation.WithEventPublisher(publisher),
	)
}

func newPushConsumer(
	cfg config.Config,
	logger *slog.Logger,
	validator *dto.Validator,
	correlationService *correlation.Service,
	rebuilder *viewrebuild.Rebuilder,
) *consumers.PushConsumer {
	return consumers.NewPushConsumer(logger, validator, correlationService, rebuilder, cfg.Rebuild.PushBatchThreshold)
}

func startConsumer(
	lc fx.Lifecycle,
	cfg config.Config,
	logger *slog.Logger,
	kafkaClient *kafka.KafkaClient,
	readWriteClient *postgres.ReadWriteClient,
	mongoClient *mongo.MongoClient,
	pushConsumer *consumers.PushConsumer,
) {
	consumerCtx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// Start consumer in background
			go func() {
				if err := pushConsumer.Start(consumerCtx, kafkaClient, cfg.Kafka.PushTopic); err != nil {
					logger.Error("Consumer failed", "error", err)
				}
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()

			logger.Info("Shutting down Kafka client...")
			if err := kafkaClient.Close(); err != nil {
				logger.Error("Failed to close Kafka client", "error", err)
				return err
			}
			readWriteClient.Close()
			return mongoClient.Close(ctx)
		},
	})
}
