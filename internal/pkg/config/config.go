package config

import (
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration shared by the gateway and
// pipeline binaries.
type Config struct {
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	PostgresURL string `env:"POSTGRES_URL,required"`
	RedisAddr   string `env:"REDIS_ADDR,required"`

	GatewayAddr    string `env:"GATEWAY_ADDR" envDefault:":8080"`
	AdminAddr      string `env:"ADMIN_ADDR" envDefault:":9091"`
	MaxPayloadSize int64  `env:"MAX_PAYLOAD_SIZE_BYTES" envDefault:"262144"` // 256KB

	APIKeyCacheTTL   time.Duration `env:"API_KEY_CACHE_TTL" envDefault:"5m"`
	IngestRatePerKey float64       `env:"INGEST_RATE_PER_KEY" envDefault:"200"`
	IngestBurst      int           `env:"INGEST_BURST" envDefault:"400"`

	TransformInterval  time.Duration `env:"TRANSFORM_INTERVAL" envDefault:"60s"`
	TransformBatchSize int           `env:"TRANSFORM_BATCH_SIZE" envDefault:"2000"`
	ClaimLeaseTimeout  time.Duration `env:"CLAIM_LEASE_TIMEOUT" envDefault:"10m"`

	RefreshInterval time.Duration `env:"REFRESH_INTERVAL" envDefault:"2m"`
	MonitorInterval time.Duration `env:"MONITOR_INTERVAL" envDefault:"60s"`

	RulesPath     string `env:"RULES_PATH" envDefault:"rules.yaml"`
	FeedStreamKey string `env:"FEED_STREAM_KEY" envDefault:"agent_feed"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Attempt to load .env file for local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
