package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the paper trading service.
type Config struct {
	Port            int           `env:"PORT" envDefault:"8000"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	IdleTimeout     time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	SecretKey         string        `env:"SECRET_KEY,required,notEmpty"`
	AccessTokenExpire time.Duration `env:"ACCESS_TOKEN_EXPIRE" envDefault:"30m"`
	AllowedOrigins    []string      `env:"ALLOWED_ORIGINS" envDefault:"http://localhost:5173,http://127.0.0.1:5173" envSeparator:","`

	// DatabaseURL selects the Postgres store; empty keeps everything in memory.
	DatabaseURL string `env:"DATABASE_URL"`

	// RedisAddr selects the shared price cache; empty uses a process-local one.
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	PriceSourceURL string        `env:"PRICE_SOURCE_URL" envDefault:"https://api.coingecko.com/api/v3"`
	PriceCurrency  string        `env:"PRICE_CURRENCY" envDefault:"usd"`
	PriceTimeout   time.Duration `env:"PRICE_TIMEOUT" envDefault:"5s"`
	TickInterval   time.Duration `env:"TICK_INTERVAL" envDefault:"1s"`

	// KafkaBrokers enables trade event publication when non-empty.
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"trades.executed"`
}

// Load reads configuration from a .env file (if present) and environment
// variables, applies defaults, and validates values. Variables already set
// in the environment win over the .env file.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit dotenv path.
func LoadFile(dotenvPath string) (*Config, error) {
	if err := godotenv.Load(dotenvPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", dotenvPath, err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT: %d, must be between 1 and 65535", c.Port)
	}

	c.LogLevel = strings.ToLower(c.LogLevel)
	if !isValidLogLevel(c.LogLevel) {
		return fmt.Errorf("invalid LOG_LEVEL: %q, must be one of: debug, info, warn, error", c.LogLevel)
	}

	positive := []struct {
		name string
		val  time.Duration
	}{
		{"READ_TIMEOUT", c.ReadTimeout},
		{"WRITE_TIMEOUT", c.WriteTimeout},
		{"IDLE_TIMEOUT", c.IdleTimeout},
		{"SHUTDOWN_TIMEOUT", c.ShutdownTimeout},
		{"ACCESS_TOKEN_EXPIRE", c.AccessTokenExpire},
		{"PRICE_TIMEOUT", c.PriceTimeout},
		{"TICK_INTERVAL", c.TickInterval},
	}
	for _, p := range positive {
		if p.val <= 0 {
			return fmt.Errorf("invalid %s: %v, must be positive", p.name, p.val)
		}
	}

	if c.RedisDB < 0 {
		return fmt.Errorf("invalid REDIS_DB: %d, must be >= 0", c.RedisDB)
	}

	c.AllowedOrigins = trimList(c.AllowedOrigins)
	c.KafkaBrokers = trimList(c.KafkaBrokers)
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return errors.New("invalid KAFKA_TOPIC: must be set when KAFKA_BROKERS is")
	}
	return nil
}

// trimList drops blank entries and surrounding whitespace.
func trimList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}
