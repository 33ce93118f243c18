package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Storage backend selectors.
const (
	BackendLocal   = "local"
	BackendMongoDB = "mongodb"
)

// Config holds all application configuration.
type Config struct {
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	ServerAddr string `env:"SERVER_ADDR" envDefault:":8080"`
	AdminToken string `env:"ADMIN_TOKEN"`

	StorageBackend   string `env:"STORAGE_BACKEND" envDefault:"local"`
	LocalSnapshotDir string `env:"LOCAL_SNAPSHOT_DIR" envDefault:"data/snapshots"`
	LocalIndexDir    string `env:"LOCAL_INDEX_DIR" envDefault:"data/timeseries"`
	MongoURI         string `env:"MONGO_URI"`
	MongoDatabase    string `env:"MONGO_DATABASE" envDefault:"district_metrics"`

	PostgresURL string `env:"POSTGRES_URL"`

	RedisAddr        string        `env:"REDIS_ADDR"`
	SnapshotCacheTTL time.Duration `env:"SNAPSHOT_CACHE_TTL" envDefault:"5m"`

	SourceBaseURL   string        `env:"SOURCE_BASE_URL,required"`
	SourceAPIKey    string        `env:"SOURCE_API_KEY"`
	SourceRateLimit float64       `env:"SOURCE_RATE_LIMIT" envDefault:"5"`
	SourceBurst     int           `env:"SOURCE_BURST" envDefault:"1"`
	FetchTimeout    time.Duration `env:"FETCH_TIMEOUT" envDefault:"30s"`

	BackfillConcurrency int           `env:"BACKFILL_CONCURRENCY" envDefault:"4"`
	FetchMaxRetries     int           `env:"FETCH_MAX_RETRIES" envDefault:"3"`
	FetchRetryBackoff   time.Duration `env:"FETCH_RETRY_BACKOFF" envDefault:"500ms"`

	BreakerFailureThreshold int           `env:"BREAKER_FAILURE_THRESHOLD" envDefault:"5"`
	BreakerCooldown         time.Duration `env:"BREAKER_COOLDOWN" envDefault:"30s"`

	CollectInterval time.Duration `env:"COLLECT_INTERVAL" envDefault:"24h"`

	SchemaVersion      string `env:"SCHEMA_VERSION" envDefault:"2.0"`
	CalculationVersion string `env:"CALCULATION_VERSION" envDefault:"1.3"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Attempt to load .env file for local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StorageBackend {
	case BackendLocal:
	case BackendMongoDB:
		if c.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required when STORAGE_BACKEND=%s", BackendMongoDB)
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}
	if c.BackfillConcurrency < 1 {
		return fmt.Errorf("BACKFILL_CONCURRENCY must be at least 1")
	}
	return nil
}
