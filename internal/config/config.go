package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is loaded from environment variables. Defaults suit local
// development against a throwaway Postgres.
type Config struct {
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`

	DBHost     string `env:"DB_HOST" envDefault:"localhost"`
	DBPort     string `env:"DB_PORT" envDefault:"5432"`
	DBUser     string `env:"DB_USER" envDefault:"postgres"`
	DBPassword string `env:"DB_PASSWORD" envDefault:"password"`
	DBName     string `env:"DB_NAME" envDefault:"agent_ledger"`
	DBSSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`

	MigrationsPath string `env:"MIGRATIONS_PATH" envDefault:"migrations"`

	OtpTTL         time.Duration `env:"OTP_TTL" envDefault:"5m"`
	OtpMaxAttempts int           `env:"OTP_MAX_ATTEMPTS" envDefault:"3"`

	ReplayInterval   time.Duration `env:"REPLAY_INTERVAL" envDefault:"30s"`
	ReplayMaxRetries int           `env:"REPLAY_MAX_RETRIES" envDefault:"10"`
}

func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg, nil
}

// DSN renders the Postgres connection string.
func (c Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}
