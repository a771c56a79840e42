package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// AppConfig is the process-level configuration cmd/engine loads: where
// to connect, where to persist, where to publish. EngineConfig stays
// the pure per-symbol detector tree (spec.md §6); this is the
// deployment-shaped config around it, split out the way the teacher
// separates its own Config (connection/infra) from TradingConfig
// (thresholds) in config/config.go.
type AppConfig struct {
	HTTPPort int `env:"HTTP_PORT" envDefault:"8080"`
	Debug    bool `env:"DEBUG" envDefault:"false"`

	FeedWSURL       string        `env:"FEED_WS_URL" envDefault:"wss://stream.example.com/ws"`
	FeedRESTBaseURL string        `env:"FEED_REST_BASE_URL" envDefault:"https://api.example.com"`
	FeedAuthToken   string        `env:"FEED_AUTH_TOKEN"`
	FeedPingInterval time.Duration `env:"FEED_PING_INTERVAL" envDefault:"15s"`

	TradeArchivePath string `env:"TRADE_ARCHIVE_PATH" envDefault:"./data/trades.db"`
	SignalLogDSN     string `env:"SIGNAL_LOG_DSN"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"flowengine.signals"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	WebhookURL           string        `env:"WEBHOOK_URL"`
	WebhookAuthHeader    string        `env:"WEBHOOK_AUTH_HEADER"`
	WebhookAuthValue     string        `env:"WEBHOOK_AUTH_VALUE"`
	WebhookMinConfidence float64       `env:"WEBHOOK_MIN_CONFIDENCE" envDefault:"0.8"`
	WebhookDedupTTL      time.Duration `env:"WEBHOOK_DEDUP_TTL" envDefault:"5m"`
}

// LoadApp reads AppConfig the same way Load reads EngineConfig: a
// best-effort .env overlay followed by struct-tag-driven env parsing.
func LoadApp() (*AppConfig, error) {
	_ = godotenv.Load()

	cfg := &AppConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}
