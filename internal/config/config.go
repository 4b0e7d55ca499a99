package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(NewConfig),
)

// Config holds all application configuration
type Config struct {
	// Server settings
	ServerPort    int    `env:"SERVER_PORT" envDefault:"3002"`
	ServerAddress string `env:"SERVER_ADDRESS" envDefault:"0.0.0.0"`
	Environment   string `env:"ENVIRONMENT" envDefault:"local"`
	Debug         bool   `env:"DEBUG" envDefault:"false"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`

	Redis     RedisConfig
	Mongo     MongoConfig
	Vector    VectorConfig
	Embedding EmbeddingConfig
	LLM       LLMConfig
	Worker    WorkerConfig
	Pipeline  PipelineConfig
	Auth      AuthConfig

	// Server timeouts
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"120s"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// RedisConfig holds Redis connection settings for the job queue
type RedisConfig struct {
	Host     string `env:"REDIS_HOST" envDefault:"localhost"`
	Port     int    `env:"REDIS_PORT" envDefault:"6379"`
	Password string `env:"REDIS_PASSWORD" envDefault:""`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// Addr returns the host:port address for the Redis client
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// MongoConfig holds the file registry database settings
type MongoConfig struct {
	URI      string `env:"MONGO_URI" envDefault:"mongodb://localhost:27017"`
	Database string `env:"MONGO_DATABASE" envDefault:"ragserver"`
}

// VectorConfig holds Qdrant vector store settings
type VectorConfig struct {
	Host       string `env:"QDRANT_HOST" envDefault:"localhost"`
	Port       int    `env:"QDRANT_PORT" envDefault:"6334"`
	UseTLS     bool   `env:"QDRANT_USE_TLS" envDefault:"false"`
	APIKey     string `env:"QDRANT_API_KEY" envDefault:""`
	Collection string `env:"QDRANT_COLLECTION" envDefault:"document_chunks"`
	// VectorSize must match the embedding service output dimension
	VectorSize int `env:"QDRANT_VECTOR_SIZE" envDefault:"1024"`
}

// EmbeddingConfig holds embedding service settings
type EmbeddingConfig struct {
	APIURL string `env:"EMBEDDING_API_URL" envDefault:"http://localhost:8100"`
	// Dimension is the required embedding dimension; any other size
	// coming back from the service is a protocol error
	Dimension      int           `env:"EMBEDDING_DIMENSION" envDefault:"1024"`
	Timeout        time.Duration `env:"EMBEDDING_TIMEOUT" envDefault:"30s"`
	BatchTimeout   time.Duration `env:"EMBEDDING_BATCH_TIMEOUT" envDefault:"60s"`
	BatchSize      int           `env:"EMBEDDING_BATCH_SIZE" envDefault:"12"`
	HealthInterval time.Duration `env:"EMBEDDING_HEALTH_INTERVAL" envDefault:"60s"`
}

// LLMConfig holds language model service settings
type LLMConfig struct {
	APIURL      string        `env:"LLM_API_URL" envDefault:"http://localhost:8200"`
	Timeout     time.Duration `env:"LLM_TIMEOUT" envDefault:"60s"`
	Temperature float64       `env:"LLM_TEMPERATURE" envDefault:"0.2"`
	MaxTokens   int           `env:"LLM_MAX_TOKENS" envDefault:"500"`
}

// WorkerConfig holds queue worker settings
type WorkerConfig struct {
	// ID identifies this worker in running:<workerId> ownership records.
	// Empty means derive one from the hostname and a random suffix.
	ID string `env:"WORKER_ID" envDefault:""`
	// Type selects the native queue probed before queue:any
	Type                string        `env:"WORKER_TYPE" envDefault:"rag"`
	PollIntervalMs      int           `env:"POLL_INTERVAL_MS" envDefault:"1000"`
	HeartbeatMs         int           `env:"HEARTBEAT_INTERVAL_MS" envDefault:"5000"`
	ShutdownGracePeriod time.Duration `env:"WORKER_SHUTDOWN_GRACE" envDefault:"30s"`
}

// PollInterval returns the claim-loop sleep as a Duration
func (w *WorkerConfig) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalMs) * time.Millisecond
}

// HeartbeatInterval returns the heartbeat period as a Duration
func (w *WorkerConfig) HeartbeatInterval() time.Duration {
	return time.Duration(w.HeartbeatMs) * time.Millisecond
}

// PipelineConfig holds retrieval pipeline defaults
type PipelineConfig struct {
	TopK             int     `env:"PIPELINE_TOP_K" envDefault:"5"`
	MinScore         float64 `env:"PIPELINE_MIN_SCORE" envDefault:"0.3"`
	MaxContextLength int     `env:"PIPELINE_MAX_CONTEXT_LENGTH" envDefault:"4000"`
	// CorpusRefresh bounds how often a user's BM25 corpus is rebuilt
	CorpusRefresh time.Duration `env:"PIPELINE_CORPUS_REFRESH" envDefault:"5m"`
	JobTimeoutMs  int           `env:"PIPELINE_JOB_TIMEOUT_MS" envDefault:"120000"`
}

// AuthConfig holds bearer token validation settings
type AuthConfig struct {
	JWTSecret string `env:"AUTH_JWT_SECRET" envDefault:""`
}

// NewConfig loads configuration from environment variables
func NewConfig(log *slog.Logger) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	log.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.Int("port", cfg.ServerPort),
		slog.String("redis_addr", cfg.Redis.Addr()),
		slog.String("qdrant_collection", cfg.Vector.Collection),
	)

	return cfg, nil
}
