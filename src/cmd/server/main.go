package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"go.uber.org/fx"

	"axoncore/src/adapters/dto"
	httpadapter "axoncore/src/adapters/http"
	"axoncore/src/config"
	"axoncore/src/infra/kafka"
	"axoncore/src/infra/locks"
	"axoncore/src/infra/mongo"
	"axoncore/src/infra/postgres"
	"axoncore/src/infra/redis"
	"axoncore/src/repositories"
	"axoncore/src/services/aql"
	"axoncore/src/services/correlation"
	"axoncore/src/services/events"
	"axoncore/src/services/viewrebuild"
)

func main() {
	// Configurar logger
	log.SetOutput(os.Stdout)
	log.Println("Starting API server with Uber Fx...")

	app := fx.New(
		// Providers
		fx.Provide(
			newConfig,
			newLogger,
			newReadWriteClient,
			newMongoClient,
			newLocker,
			newEventsKafkaClient,
			repositories.NewEntityRepository,
			repositories.NewViewRepository,
			repositories.NewHistoryRepository,
			repositories.NewGUIRepository,
			newRebuilder,
			newCorrelationService,
			newCompiler,
			dto.NewValidator,
			newServer,
			newScheduler,
		),

		// Invocations
		fx.Invoke(ensureStorage, registerServerHooks, registerSchedulerHooks, registerCloseHooks),
	)

	// Start the application
	if err := app.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	// Wait for app to exit gracefully
	<-app.Done()
}

func newConfig() (config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return config.Config{}, err
	}
	return cfg, cfg.Validate("postgres", "mongo")
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

// newLocker usa o Redis quando configurado; sem ele o servidor precisa ser a única instância escrevendo.
func newLocker(cfg config.Config, logger *slog.Logger) correlation.Locker {
	if cfg.Redis.Hosts == "" {
		logger.Warn("REDIS_HOSTS not set, correlation locks are process local")
		return locks.NewLocalLocker()
	}
	redisClient := redis.NewRedisClient(cfg.Redis.Hosts, cfg.Redis.PoolSize)
	return redis.NewLocker(logger, redisClient, cfg.Redis.LockTTL())
}

// newEventsKafkaClient devolve nil quando KAFKA_BROKERS não está definido: os eventos ficam desligados.
func newEventsKafkaClient(cfg config.Config, logger *slog.Logger) (*kafka.KafkaClient, error) {
	if cfg.Kafka.Brokers == "" {
		return nil, nil
	}
	return kafka.NewKafkaClient(logger, cfg.Kafka.Brokers, "", cfg.Kafka.BatchSize)
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
	opts := []correlation.Option{correlation.WithViewRebuilder(rebuilder)}
	if kafkaClient != nil {
		opts = append(opts, correlation.WithEventPublisher(events.NewEntityEventPublisher(logger, kafkaClient, cfg.Kafka.EventsTopic)))
	}
	return correlation.NewService(logger, entityRepository, locker, opts...)
}

func newCompiler(cfg config.Config, logger *slog.Logger, guiRepository *repositories.GUIRepository) (*aql.Compiler, error) {
	return aql.NewCompiler(logger, guiRepository, guiRepository, guiRepository,
		aql.WithCacheSize(cfg.AQL.CacheSize),
		aql.WithIncludeOutdated(cfg.AQL.IncludeOutdated),
	)
}

func newServer(
	cfg config.Config,
	logger *slog.Logger,
	validator *dto.Validator,
	correlationService *correlation.Service,
	rebuilder *viewrebuild.Rebuilder,
	compiler *aql.Compiler,
	viewRepository *repositories.ViewRepository,
) *httpadapter.Server {
	return httpadapter.NewServer(logger, cfg.Server.Port, validator, correlationService, rebuilder, compiler, viewRepository)
}

func newScheduler(cfg config.Config, logger *slog.Logger, rebuilder *viewrebuild.Rebuilder) *viewrebuild.Scheduler {
	return viewrebuild.NewScheduler(logger, rebuilder, cfg.Rebuild.FullRebuildInterval(), cfg.Rebuild.SnapshotInterval())
}

func ensureStorage(
	lc fx.Lifecycle,
	entityRepository *repositories.EntityRepository,
	viewRepository *repositories.ViewRepository,
	historyRepository *repositories.HistoryRepository,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := entityRepository.EnsureSchema(ctx); err != nil {
				return err
			}
			if err := viewRepository.EnsureIndexes(ctx); err != nil {
				return err
			}
			return historyRepository.EnsureIndexes(ctx)
		},
	})
}

// registerServerHooks registers lifecycle hooks for the HTTP server
func registerServerHooks(lc fx.Lifecycle, logger *slog.Logger, srv *httpadapter.Server) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && err != http.ErrServerClosed {
					log.Fatalf("Server failed: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("Server forced to shutdown", "error", err)
				return err
			}
			logger.Info("Server exited gracefully")
			return nil
		},
	})
}

func registerSchedulerHooks(lc fx.Lifecycle, scheduler *viewrebuild.Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			scheduler.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			scheduler.Stop()
			return nil
		},
	})
}

func registerCloseHooks(
	lc fx.Lifecycle,
	logger *slog.Logger,
	readWriteClient *postgres.ReadWriteClient,
	mongoClient *mongo.MongoClient,
	kafkaClient *kafka.KafkaClient,
) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			if kafkaClient != nil {
				if err := kafkaClient.Close(); err != nil {
					logger.Error("Failed to close Kafka client", "error", err)
				}
			}
			readWriteClient.Close()
			return mongoClient.Close(ctx)
		},
	})
}
