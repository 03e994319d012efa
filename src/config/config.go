// Package config carrega o config.yaml opcional e aplica as variáveis de ambiente por cima.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"axoncore/src/helper/env"
)

type Config struct {
	LogLevel string         `yaml:"log_level"`
	Postgres PostgresConfig `yaml:"postgres"`
	Mongo    MongoConfig    `yaml:"mongo"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Server   ServerConfig   `yaml:"server"`
	Rebuild  RebuildConfig  `yaml:"rebuild"`
	AQL      AQLConfig      `yaml:"aql"`
}

type PostgresConfig struct {
	Host           string `yaml:"host"`
	Port           string `yaml:"port"`
	ReadHost       string `yaml:"read_host"`
	ReadPort       string `yaml:"read_port"`
	Name           string `yaml:"name"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	MaxConnections int    `yaml:"max_pool_connections"`
}

type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// RedisConfig: Hosts vazio faz o serviço usar o locker em memória (um único processo).
type RedisConfig struct {
	Hosts          string `yaml:"hosts"`
	PoolSize       int    `yaml:"pool_size"`
	LockTTLSeconds int    `yaml:"lock_ttl_seconds"`
}

type KafkaConfig struct {
	Brokers             string `yaml:"brokers"`
	PushTopic           string `yaml:"push_topic"`
	PushConsumerGroupID string `yaml:"push_consumer_group_id"`
	EventsTopic         string `yaml:"events_topic"`
	CDCTopic            string `yaml:"cdc_topic"`
	CDCConsumerGroupID  string `yaml:"cdc_consumer_group_id"`
	BatchSize           int    `yaml:"batch_size"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type RebuildConfig struct {
	CooldownSeconds         int `yaml:"cooldown_seconds"`
	FullRebuildIntervalSecs int `yaml:"full_rebuild_interval_seconds"`
	SnapshotIntervalSecs    int `yaml:"snapshot_interval_seconds"`
	PushBatchThreshold      int `yaml:"push_batch_rebuild_threshold"`
	BatchSize               int `yaml:"batch_size"`
}

type AQLConfig struct {
	CacheSize       int  `yaml:"cache_size"`
	IncludeOutdated bool `yaml:"include_outdated"`
}

func (r RebuildConfig) Cooldown() time.Duration {
	return time.Duration(r.CooldownSeconds) * time.Second
}

func (r RebuildConfig) FullRebuildInterval() time.Duration {
	return time.Duration(r.FullRebuildIntervalSecs) * time.Second
}

func (r RebuildConfig) SnapshotInterval() time.Duration {
	return time.Duration(r.SnapshotIntervalSecs) * time.Second
}

func (r RedisConfig) LockTTL() time.Duration {
	return time.Duration(r.LockTTLSeconds) * time.Second
}

func Defaults() Config {
	return Config{
		LogLevel: "info",
		Postgres: PostgresConfig{Port: "5432", MaxConnections: 25},
		Mongo:    MongoConfig{URI: "mongodb://localhost:27017", Database: "aggregator"},
		Redis:    RedisConfig{PoolSize: 10, LockTTLSeconds: 30},
		Kafka: KafkaConfig{
			PushTopic:           "axon.push",
			PushConsumerGroupID: "axon-push-consumer",
			EventsTopic:         "axon.entity-events",
			CDCTopic:            "axon.public.axonius_entities",
			CDCConsumerGroupID:  "axon-cdc-view-sync",
			BatchSize:           100,
		},
		Server: ServerConfig{Port: 8888},
		Rebuild: RebuildConfig{
			CooldownSeconds:         10,
			FullRebuildIntervalSecs: 3600,
			SnapshotIntervalSecs:    3600,
			PushBatchThreshold:      50,
			BatchSize:               500,
		},
		AQL: AQLConfig{CacheSize: 100},
	}
}

// LoadConfig: defaults, depois o arquivo em CONFIG_PATH (se houver), depois o ambiente.
func LoadConfig() (Config, error) {
	cfg := Defaults()

	if path := env.GetString("CONFIG_PATH"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("LoadConfig - failed to read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("LoadConfig - failed to parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if cfg.Postgres.ReadHost == "" {
		cfg.Postgres.ReadHost = cfg.Postgres.Host
	}
	if cfg.Postgres.ReadPort == "" {
		cfg.Postgres.ReadPort = cfg.Postgres.Port
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.LogLevel = env.GetString("LOG_LEVEL", cfg.LogLevel)

	cfg.Postgres.Host = env.GetString("DB_HOST", cfg.Postgres.Host)
	cfg.Postgres.Port = env.GetString("DB_PORT", cfg.Postgres.Port)
	cfg.Postgres.ReadHost = env.GetString("DB_READ_HOST", cfg.Postgres.ReadHost)
	cfg.Postgres.ReadPort = env.GetString("DB_READ_PORT", cfg.Postgres.ReadPort)
	cfg.Postgres.Name = env.GetString("DB_NAME", cfg.Postgres.Name)
	cfg.Postgres.User = env.GetString("DB_USER", cfg.Postgres.User)
	cfg.Postgres.Password = env.GetString("DB_PASSWORD", cfg.Postgres.Password)
	cfg.Postgres.MaxConnections = env.GetInt("DB_MAX_POOL_CONNECTIONS", cfg.Postgres.MaxConnections)

	cfg.Mongo.URI = env.GetString("MONGO_URI", cfg.Mongo.URI)
	cfg.Mongo.Database = env.GetString("MONGO_DATABASE", cfg.Mongo.Database)

	cfg.Redis.Hosts = env.GetString("REDIS_HOSTS", cfg.Redis.Hosts)
	cfg.Redis.PoolSize = env.GetInt("REDIS_POOL_SIZE", cfg.Redis.PoolSize)
	cfg.Redis.LockTTLSeconds = env.GetInt("REDIS_LOCK_TTL_SECONDS", cfg.Redis.LockTTLSeconds)

	cfg.Kafka.Brokers = env.GetString("KAFKA_BROKERS", cfg.Kafka.Brokers)
	cfg.Kafka.PushTopic = env.GetString("KAFKA_PUSH_TOPIC", cfg.Kafka.PushTopic)
	cfg.Kafka.PushConsumerGroupID = env.GetString("KAFKA_PUSH_CONSUMER_GROUP_ID", cfg.Kafka.PushConsumerGroupID)
	cfg.Kafka.EventsTopic = env.GetString("KAFKA_EVENTS_TOPIC", cfg.Kafka.EventsTopic)
	cfg.Kafka.CDCTopic = env.GetString("KAFKA_CDC_TOPIC", cfg.Kafka.CDCTopic)
	cfg.Kafka.CDCConsumerGroupID = env.GetString("KAFKA_CDC_CONSUMER_GROUP_ID", cfg.Kafka.CDCConsumerGroupID)
	cfg.Kafka.BatchSize = env.GetInt("KAFKA_BATCH_SIZE", cfg.Kafka.BatchSize)

	cfg.Server.Port = env.GetInt("SERVER_ADDR", cfg.Server.Port)

	cfg.Rebuild.CooldownSeconds = env.GetInt("REBUILD_COOLDOWN_SECONDS", cfg.Rebuild.CooldownSeconds)
	cfg.Rebuild.FullRebuildIntervalSecs = env.GetInt("FULL_REBUILD_INTERVAL_SECONDS", cfg.Rebuild.FullRebuildIntervalSecs)
	cfg.Rebuild.SnapshotIntervalSecs = env.GetInt("HISTORY_SNAPSHOT_INTERVAL_SECONDS", cfg.Rebuild.SnapshotIntervalSecs)
	cfg.Rebuild.PushBatchThreshold = env.GetInt("PUSH_BATCH_REBUILD_THRESHOLD", cfg.Rebuild.PushBatchThreshold)
	cfg.Rebuild.BatchSize = env.GetInt("REBUILD_BATCH_SIZE", cfg.Rebuild.BatchSize)

	cfg.AQL.CacheSize = env.GetInt("AQL_CACHE_SIZE", cfg.AQL.CacheSize)
	cfg.AQL.IncludeOutdated = env.GetBool("AQL_INCLUDE_OUTDATED", cfg.AQL.IncludeOutdated)
}

// Validate checa o que cada binário precisa para subir.
func (c Config) Validate(needs ...string) error {
	for _, need := range needs {
		switch need {
		case "postgres":
			if c.Postgres.Host == "" || c.Postgres.Name == "" || c.Postgres.User == "" {
				return fmt.Errorf("config: DB_HOST, DB_NAME and DB_USER are required")
			}
		case "mongo":
			if c.Mongo.URI == "" || c.Mongo.Database == "" {
				return fmt.Errorf("config: MONGO_URI and MONGO_DATABASE are required")
			}
		case "kafka":
			if c.Kafka.Brokers == "" {
				return fmt.Errorf("config: KAFKA_BROKERS is required")
			}
		}
	}
	return nil
}
