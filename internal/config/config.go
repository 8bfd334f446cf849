package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`

	// Sender selection: "smtp" or "api".
	SenderDriver string `env:"SENDER_DRIVER,default=smtp"`
	SMTPHost     string `env:"SMTP_HOST,default=localhost"`
	SMTPPort     int    `env:"SMTP_PORT,default=587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SenderAPIURL string `env:"SENDER_API_URL"`
	SenderAPIKey string `env:"SENDER_API_KEY"`

	TrackingBaseURL string `env:"TRACKING_BASE_URL,default=http://localhost:8080"`

	DispatchIntervalSec int `env:"DISPATCH_INTERVAL_SEC,default=30"`
	DispatchBatchSize   int `env:"DISPATCH_BATCH_SIZE,default=100"`
	DispatchWorkers     int `env:"DISPATCH_WORKERS,default=4"`
	SendTimeoutSec      int `env:"SEND_TIMEOUT_SEC,default=30"`
	SendRatePerSec      int `env:"SEND_RATE_PER_SEC,default=20"`
	MaxRetries          int `env:"MAX_RETRIES,default=3"`

	APIPort  int    `env:"API_PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) DispatchInterval() time.Duration {
	return time.Duration(c.DispatchIntervalSec) * time.Second
}

func (c *Config) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSec) * time.Second
}
