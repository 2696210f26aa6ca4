package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// EnvFileVar names the variable pointing at an optional dotenv file.
const EnvFileVar = "GOFTGU_ENV_FILE"

type Config struct {
	Port          string `env:"PORT" envDefault:"8080"`
	Environment   string `env:"ENVIRONMENT" envDefault:"development"`
	DatabasePath  string `env:"DATABASE_PATH" envDefault:"./data/goftgu.db"`
	JWTSecret     string `env:"JWT_SECRET" envDefault:"your-secret-key-change-in-production"`
	JWTIssuer     string `env:"JWT_ISSUER"`
	WebhookSecret string `env:"WEBHOOK_SECRET"`
	CORSOrigins   string `env:"CORS_ORIGINS" envDefault:"*"`
	Locale        string `env:"LOCALE" envDefault:"en"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogJSON  bool   `env:"LOG_JSON" envDefault:"false"`

	RedisAddr    string `env:"REDIS_ADDR"`
	RedisChannel string `env:"REDIS_CHANNEL" envDefault:"goftgu-events"`

	VAPIDPublicKey  string `env:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string `env:"VAPID_PRIVATE_KEY"`
	VAPIDSubscriber string `env:"VAPID_SUBSCRIBER" envDefault:"mailto:push@goftgu.local"`

	StatsCron string `env:"STATS_CRON" envDefault:"* * * * *"`

	WSEventsPerSecond float64 `env:"WS_EVENTS_PER_SECOND" envDefault:"10"`
	WSEventBurst      int     `env:"WS_EVENT_BURST" envDefault:"20"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Load reads the optional dotenv file and then the process environment.
// Variables already present in the environment win over the file.
func Load() (*Config, error) {
	envFile := os.Getenv(EnvFileVar)
	if envFile == "" {
		if _, err := os.Stat(".env"); err == nil {
			envFile = ".env"
		}
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	return cfg, nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("0.0.0.0:%s", c.Port)
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
