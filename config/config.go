// Package config loads service configuration from the environment
package config

import (
	"errors"
	"io/fs"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/Ramsey-B/thistle/pkg/database"
	"github.com/Ramsey-B/thistle/pkg/graph"
	"github.com/Ramsey-B/thistle/pkg/kafka"
	"github.com/Ramsey-B/thistle/pkg/realtime"
	"github.com/Ramsey-B/thistle/pkg/redis"
	"github.com/Ramsey-B/thistle/pkg/suggestion"
	"github.com/Ramsey-B/thistle/pkg/tracing"
	"github.com/Ramsey-B/thistle/pkg/tracing/exporters"
)

type Config struct {
	AppName                       string        `env:"APP_NAME" env-default:"thistle-api"`
	Version                       string        `env:"APP_VERSION" env-default:"dev"`
	Environment                   string        `env:"ENVIRONMENT" env-default:"local"`
	Port                          int           `env:"PORT" env-default:"3004"`
	LogLevel                      string        `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool          `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int           `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"30"`
	HttpServerReadTimeoutSeconds  int           `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int           `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"60"`
	MaxHeaderBytes                int           `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	ReadHeaderTimeoutSeconds      int           `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10"`
	AllowOrigins                  []string      `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	AllowMethods                  []string      `env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST,PUT"`
	MaxRequestTimeout             time.Duration `env:"HTTP_SERVER_MAX_REQUEST_TIMEOUT" env-default:"60s"`
	StartupMaxAttempts            int           `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// PostgreSQL (suggestion store and the shared entity store). Without a host the
	// service runs on in-memory stores.
	DatabaseHost                string        `env:"DB_HOST" env-default:""`
	DatabasePort                int           `env:"DB_PORT" env-default:"5432"`
	DatabaseUserName            string        `env:"DB_USER_NAME" env-default:""`
	DatabasePassword            string        `env:"DB_PASSWORD" env-default:""`
	DatabaseName                string        `env:"DB_NAME" env-default:"thistle"`
	DatabaseSSLMode             string        `env:"DB_SSL_MODE" env-default:"disable"`
	DatabaseMaxOpenConns        int           `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	DatabaseMaxIdleConns        int           `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	DatabaseConnMaxLifetime     time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10m"`
	DatabaseMigrationFolderPath string        `env:"DB_MIGRATION_FOLDER_PATH" env-default:""`
	DatabaseMigrationForce      int           `env:"DB_MIGRATION_FORCE" env-default:"0"`
	DatabaseMigrationsEnabled   bool          `env:"DB_MIGRATIONS_ENABLED" env-default:"true"`

	// Graph Database (Memgraph or Neo4j)
	GraphDBEnabled  bool   `env:"GRAPH_DB_ENABLED" env-default:"false"`
	GraphDBHost     string `env:"GRAPH_DB_HOST" env-default:"localhost"`
	GraphDBPort     int    `env:"GRAPH_DB_PORT" env-default:"7687"`
	GraphDBUser     string `env:"GRAPH_DB_USER" env-default:""`
	GraphDBPassword string `env:"GRAPH_DB_PASSWORD" env-default:""`
	GraphDBName     string `env:"GRAPH_DB_NAME" env-default:""`
	GraphMaxHops    int    `env:"GRAPH_MAX_HOPS" env-default:"0"`

	// Redis (cross-instance locks, event fan-out, rate limits, dead letters)
	RedisEnabled           bool          `env:"REDIS_ENABLED" env-default:"false"`
	RedisHost              string        `env:"REDIS_HOST" env-default:"localhost"`
	RedisPort              int           `env:"REDIS_PORT" env-default:"6379"`
	RedisPassword          string        `env:"REDIS_PASSWORD" env-default:""`
	RedisDB                int           `env:"REDIS_DB" env-default:"0"`
	RedisLockTTL           time.Duration `env:"SUGGESTION_LOCK_TTL" env-default:"30s"`
	ComputeRateLimit       int64         `env:"COMPUTE_RATE_LIMIT" env-default:"30"`
	ComputeRateLimitWindow time.Duration `env:"COMPUTE_RATE_LIMIT_WINDOW" env-default:"1m"`

	// Kafka
	KafkaBrokers         []string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	KafkaProducerEnabled bool     `env:"KAFKA_PRODUCER_ENABLED" env-default:"false"`
	KafkaEventsTopic     string   `env:"KAFKA_EVENTS_TOPIC" env-default:"thistle.suggestion-events"`
	KafkaBatchSize       int      `env:"KAFKA_BATCH_SIZE" env-default:"100"`
	KafkaBatchTimeout    int      `env:"KAFKA_BATCH_TIMEOUT_MS" env-default:"100"`
	KafkaRequiredAcks    int      `env:"KAFKA_REQUIRED_ACKS" env-default:"1"`
	KafkaCompression     string   `env:"KAFKA_COMPRESSION" env-default:"snappy"`
	KafkaConsumerEnabled bool     `env:"KAFKA_CONSUMER_ENABLED" env-default:"false"`
	KafkaEntityTopic     string   `env:"KAFKA_ENTITY_TOPIC" env-default:"entity-changes"`
	KafkaConsumerGroup   string   `env:"KAFKA_CONSUMER_GROUP" env-default:"thistle-consumer"`

	// Tracing
	OTLPEnabled     bool    `env:"OTLP_ENABLED" env-default:"false"`
	OTLPEndpoint    string  `env:"OTLP_ENDPOINT" env-default:"localhost:4317"`
	OTLPProtocol    string  `env:"OTLP_PROTOCOL" env-default:"grpc"`
	OTLPInsecure    bool    `env:"OTLP_INSECURE" env-default:"true"`
	OTLPSampleRatio float64 `env:"OTLP_SAMPLE_RATIO" env-default:"1"`

	// Suggestions
	SuggestionComputeTimeout time.Duration `env:"SUGGESTION_COMPUTE_TIMEOUT" env-default:"30s"`
	SuggestionStoreTimeout   time.Duration `env:"SUGGESTION_STORE_TIMEOUT" env-default:"5s"`
	SuggestionMaxCandidates  int           `env:"SUGGESTION_MAX_CANDIDATES" env-default:"200"`
	PhoneDefaultRegion       string        `env:"PHONE_DEFAULT_REGION" env-default:"US"`

	// Realtime
	WSPingInterval time.Duration `env:"WS_PING_INTERVAL" env-default:"25s"`
	WSPongTimeout  time.Duration `env:"WS_PONG_TIMEOUT" env-default:"60s"`
	WSWriteTimeout time.Duration `env:"WS_WRITE_TIMEOUT" env-default:"10s"`
	WSSendBuffer   int           `env:"WS_SEND_BUFFER" env-default:"64"`
}

// Load reads an optional .env file and then the environment
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DatabaseEnabled reports whether Postgres is configured
func (c *Config) DatabaseEnabled() bool {
	return c.DatabaseHost != ""
}

func (c *Config) Database() database.Config {
	return database.Config{
		Host:            c.DatabaseHost,
		Port:            c.DatabasePort,
		User:            c.DatabaseUserName,
		Password:        c.DatabasePassword,
		Name:            c.DatabaseName,
		SSLMode:         c.DatabaseSSLMode,
		MaxOpenConns:    c.DatabaseMaxOpenConns,
		MaxIdleConns:    c.DatabaseMaxIdleConns,
		ConnMaxLifetime: c.DatabaseConnMaxLifetime,
	}
}

func (c *Config) Migrations() *database.MigrationConfig {
	return &database.MigrationConfig{
		FolderPath: c.DatabaseMigrationFolderPath,
		Force:      c.DatabaseMigrationForce,
	}
}

func (c *Config) Graph() graph.Config {
	return graph.Config{
		Host:     c.GraphDBHost,
		Port:     c.GraphDBPort,
		Username: c.GraphDBUser,
		Password: c.GraphDBPassword,
		Database: c.GraphDBName,
	}
}

func (c *Config) Redis() redis.Config {
	return redis.Config{
		Host:     c.RedisHost,
		Port:     c.RedisPort,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}

func (c *Config) Producer() kafka.ProducerConfig {
	return kafka.ProducerConfig{
		Brokers:      c.KafkaBrokers,
		Topic:        c.KafkaEventsTopic,
		BatchSize:    c.KafkaBatchSize,
		BatchTimeout: time.Duration(c.KafkaBatchTimeout) * time.Millisecond,
		RequiredAcks: c.KafkaRequiredAcks,
		Compression:  c.KafkaCompression,
	}
}

func (c *Config) Consumer() kafka.ConsumerConfig {
	return kafka.ConsumerConfig{
		Brokers:       c.KafkaBrokers,
		Topic:         c.KafkaEntityTopic,
		ConsumerGroup: c.KafkaConsumerGroup,
	}
}

func (c *Config) Tracing() tracing.Config {
	return tracing.Config{
		ServiceName:    c.AppName,
		ServiceVersion: c.Version,
		Environment:    c.Environment,
		SampleRatio:    c.OTLPSampleRatio,
	}
}

func (c *Config) OTLP() exporters.OTLPConfig {
	return exporters.OTLPConfig{
		Enabled:  c.OTLPEnabled,
		Endpoint: c.OTLPEndpoint,
		Protocol: c.OTLPProtocol,
		Insecure: c.OTLPInsecure,
	}
}

func (c *Config) Suggestions() suggestion.Config {
	return suggestion.Config{
		ComputeTimeout: c.SuggestionComputeTimeout,
		StoreTimeout:   c.SuggestionStoreTimeout,
		MaxCandidates:  c.SuggestionMaxCandidates,
	}
}

func (c *Config) Realtime() realtime.Config {
	cfg := realtime.Config{
		PingInterval: c.WSPingInterval,
		PongTimeout:  c.WSPongTimeout,
		WriteTimeout: c.WSWriteTimeout,
		SendBuffer:   c.WSSendBuffer,
	}
	if len(c.AllowOrigins) > 0 && c.AllowOrigins[0] != "*" {
		cfg.AllowedOrigins = c.AllowOrigins
	}
	return cfg
}
