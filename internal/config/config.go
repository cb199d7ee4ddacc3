package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"

	"github.com/nubank/calma-backend/internal/store"
)

type Config struct {
	Port           string   `env:"PORT" envDefault:"8080"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173"`

	// Dataset and model
	IntentsPath  string  `env:"INTENTS_PATH" envDefault:"data/intents.json"`
	ModelPath    string  `env:"MODEL_PATH" envDefault:"data/model.json"`
	WatchIntents bool    `env:"WATCH_INTENTS" envDefault:"true"`
	Smoothing    float64 `env:"MODEL_SMOOTHING" envDefault:"1"`

	// Archive storage
	ArchiveBackend store.Backend `env:"ARCHIVE_BACKEND" envDefault:"memory"`
	SQLitePath     string        `env:"SQLITE_PATH" envDefault:"data/archive.db"`
	RedisURL       string        `env:"REDIS_URL" envDefault:"redis://localhost:6379"`

	// Conversation
	Greeting        string        `env:"GREETING" envDefault:"Hi! I'm Calma. I'm here to listen, how are you feeling today?"`
	FallbackMessage string        `env:"FALLBACK_MESSAGE"`
	ProactiveAfter  int           `env:"PROACTIVE_AFTER" envDefault:"3"`
	SessionIdleTTL  time.Duration `env:"SESSION_IDLE_TTL" envDefault:"24h"`
	JanitorSchedule string        `env:"JANITOR_SCHEDULE" envDefault:"@every 10m"`

	// Optional channels and logs
	TelegramBotToken   string `env:"TELEGRAM_BOT_TOKEN"`
	InteractionLogPath string `env:"INTERACTION_LOG_PATH" envDefault:"logs/interactions.jsonl"`
}

// Load reads .env when present and parses the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return Parse()
}

// Parse reads the process environment only.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.ArchiveBackend {
	case "", store.BackendMemory, store.BackendSQLite, store.BackendRedis:
	default:
		return fmt.Errorf("unknown ARCHIVE_BACKEND %q", c.ArchiveBackend)
	}
	if c.IntentsPath == "" {
		return fmt.Errorf("INTENTS_PATH is required")
	}
	if c.SessionIdleTTL < 0 {
		return fmt.Errorf("SESSION_IDLE_TTL must not be negative")
	}
	return nil
}

func (c *Config) StoreOptions() store.Options {
	return store.Options{
		Backend:    c.ArchiveBackend,
		SQLitePath: c.SQLitePath,
		RedisURL:   c.RedisURL,
	}
}
