package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const (
	FlagSourceStatic = "static"
	FlagSourceRedis  = "redis"
)

type Config struct {
	AppName                       string        `env:"APP_NAME" env-default:"fern"`
	Version                       string        `env:"APP_VERSION" env-default:"dev"`
	Port                          int           `env:"PORT" env-default:"3000"`
	LogLevel                      string        `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool          `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int           `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerReadTimeoutSeconds  int           `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int           `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	ShutdownTimeout               time.Duration `env:"SHUTDOWN_TIMEOUT" env-default:"30s"`
	StartupMaxAttempts            int           `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// Database host
	DatabaseHost string `env:"DB_HOST" env-default:"localhost"`
	// Database port
	DatabasePort string `env:"DB_PORT" env-default:"5432"`
	// Database user
	DatabaseUserName string `env:"DB_USER_NAME" env-default:"postgres"`
	// Database user password
	DatabasePassword string `env:"DB_PASSWORD" env-default:""`
	// Database name
	DatabaseName string `env:"DB_NAME" env-default:"fern"`
	// Database SSL mode
	DatabaseSSLMode string `env:"DB_SSL_MODE" env-default:"disable"`
	// Max Open Conns
	DatabaseMaxOpenConns int `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	// Max Idle Conns
	DatabaseMaxIdleConns int `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	// Conn Max Lifetime
	DatabaseConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"5m"`
	// Migration Folder Path
	DatabaseMigrationFolderPath string `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	// Database Migration Version, 0 means latest
	DatabaseMigrationVersion uint `env:"DB_MIGRATION_VERSION" env-default:"0"`
	// Database Migration Force
	DatabaseMigrationForce int `env:"DB_MIGRATION_FORCE" env-default:"0"`
	// Database Migration Auto Rollback
	DatabaseMigrationAutoRollback bool `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`
	// Run migrations on serve
	DatabaseMigrateOnStart bool `env:"DB_MIGRATE_ON_START" env-default:"true"`

	// Kafka brokers
	KafkaBrokers []string `env:"KAFKA_BROKERS" env-default:"localhost:9092" env-separator:","`
	// Inbound HBI host events
	KafkaHbiTopic string `env:"KAFKA_HBI_TOPIC" env-default:"platform.inventory.events"`
	// Outbound normalized instance events
	KafkaSwatchTopic string `env:"KAFKA_SWATCH_TOPIC" env-default:"platform.rhsm-subscriptions.service-instance-ingress"`
	// Consumer group
	KafkaConsumerGroup string `env:"KAFKA_CONSUMER_GROUP" env-default:"fern-hbi"`
	// Consumer restart backoff bounds
	KafkaConsumerMinBackoff time.Duration `env:"KAFKA_CONSUMER_MIN_BACKOFF" env-default:"1s"`
	KafkaConsumerMaxBackoff time.Duration `env:"KAFKA_CONSUMER_MAX_BACKOFF" env-default:"30s"`
	// Producer settings
	KafkaProducerBatchSize    int           `env:"KAFKA_PRODUCER_BATCH_SIZE" env-default:"100"`
	KafkaProducerBatchTimeout time.Duration `env:"KAFKA_PRODUCER_BATCH_TIMEOUT" env-default:"10ms"`
	KafkaProducerRequiredAcks int           `env:"KAFKA_PRODUCER_REQUIRED_ACKS" env-default:"-1"`
	KafkaProducerCompression  string        `env:"KAFKA_PRODUCER_COMPRESSION" env-default:"snappy"`

	// Outbox flush
	OutboxFlushBatchSize int           `env:"OUTBOX_FLUSH_BATCH_SIZE" env-default:"100"`
	OutboxFlushInterval  time.Duration `env:"OUTBOX_FLUSH_INTERVAL" env-default:"10s"`
	OutboxFlushLockTTL   time.Duration `env:"OUTBOX_FLUSH_LOCK_TTL" env-default:"60s"`
	OutboxFlushEnabled   bool          `env:"OUTBOX_FLUSH_ENABLED" env-default:"true"`

	// Feature flags
	EmitEventsEnabled bool   `env:"EMIT_EVENTS_ENABLED" env-default:"true"`
	FeatureFlagSource string `env:"FEATURE_FLAG_SOURCE" env-default:"static"`

	// Host filtering
	HostCullingOffset     time.Duration `env:"HOST_CULLING_OFFSET" env-default:"336h"`
	HostLastSyncThreshold time.Duration `env:"HOST_LAST_SYNC_THRESHOLD" env-default:"24h"`

	// Redis
	RedisEnabled  bool   `env:"REDIS_ENABLED" env-default:"false"`
	RedisHost     string `env:"REDIS_HOST" env-default:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" env-default:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	RedisDB       int    `env:"REDIS_DB" env-default:"0"`

	// Memgraph projection
	GraphEnabled  bool   `env:"GRAPH_ENABLED" env-default:"false"`
	GraphHost     string `env:"GRAPH_HOST" env-default:"localhost"`
	GraphPort     int    `env:"GRAPH_PORT" env-default:"7687"`
	GraphUsername string `env:"GRAPH_USERNAME" env-default:""`
	GraphPassword string `env:"GRAPH_PASSWORD" env-default:""`

	// Admin API auth
	AuthEnabled   bool   `env:"AUTH_ENABLED" env-default:"false"`
	AuthIssuerURL string `env:"AUTH_ISSUER_URL" env-default:""`
	AuthClientID  string `env:"AUTH_CLIENT_ID" env-default:""`

	// Tracing
	TracingEnabled bool   `env:"TRACING_ENABLED" env-default:"false"`
	OTLPEndpoint   string `env:"OTLP_ENDPOINT" env-default:"localhost:4317"`
	OTLPProtocol   string `env:"OTLP_PROTOCOL" env-default:"grpc"`
	OTLPInsecure   bool   `env:"OTLP_INSECURE" env-default:"true"`
}

// Load reads an optional .env file and then the environment.
func Load(envFiles ...string) (*Config, error) {
	_ = godotenv.Load(envFiles...)

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.FeatureFlagSource {
	case FlagSourceStatic:
	case FlagSourceRedis:
		if !c.RedisEnabled {
			return fmt.Errorf("FEATURE_FLAG_SOURCE=redis requires REDIS_ENABLED")
		}
	default:
		return fmt.Errorf("unknown FEATURE_FLAG_SOURCE %q", c.FeatureFlagSource)
	}
	if c.AuthEnabled && (c.AuthIssuerURL == "" || c.AuthClientID == "") {
		return fmt.Errorf("AUTH_ENABLED requires AUTH_ISSUER_URL and AUTH_CLIENT_ID")
	}
	if c.OutboxFlushBatchSize <= 0 {
		return fmt.Errorf("OUTBOX_FLUSH_BATCH_SIZE must be positive")
	}
	return nil
}
