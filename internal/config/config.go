package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Env  string
	Port string

	DatabaseURL string
	// Store selects the repository backend: "postgres" or "memory".
	Store string

	JWTSecret  string
	TokenTTL   time.Duration
	CookieName string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	KafkaBrokers []string
	KafkaTopic   string

	WSReadLimit       int64
	WSPingInterval    time.Duration
	WSPongWait        time.Duration
	WSEventsPerSecond float64
	WSEventBurst      int

	CORSOrigins string
}

// Development reports whether the service runs outside production.
func (c *Config) Development() bool {
	return c.Env != "production"
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	// Ignore error if .env file doesn't exist (e.g. in production)
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		Env:               v.GetString("APP_ENV"),
		Port:              v.GetString("PORT"),
		DatabaseURL:       v.GetString("DATABASE_URL"),
		Store:             strings.ToLower(v.GetString("STORE")),
		JWTSecret:         v.GetString("JWT_SECRET"),
		TokenTTL:          v.GetDuration("TOKEN_TTL"),
		CookieName:        v.GetString("COOKIE_NAME"),
		RedisAddr:         v.GetString("REDIS_ADDR"),
		RedisPassword:     v.GetString("REDIS_PASSWORD"),
		RedisDB:           v.GetInt("REDIS_DB"),
		KafkaTopic:        v.GetString("KAFKA_TOPIC"),
		WSReadLimit:       v.GetInt64("WS_READ_LIMIT"),
		WSPingInterval:    v.GetDuration("WS_PING_INTERVAL"),
		WSPongWait:        v.GetDuration("WS_PONG_WAIT"),
		WSEventsPerSecond: v.GetFloat64("WS_EVENTS_PER_SECOND"),
		WSEventBurst:      v.GetInt("WS_EVENT_BURST"),
		CORSOrigins:       v.GetString("CORS_ORIGINS"),
	}

	if brokers := v.GetString("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	if cfg.DatabaseURL == "" {
		// Fallback to individual vars
		cfg.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
			v.GetString("POSTGRES_USER"),
			v.GetString("POSTGRES_PASSWORD"),
			v.GetString("POSTGRES_HOST"),
			v.GetString("POSTGRES_PORT"),
			v.GetString("POSTGRES_DB"),
		)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("PORT", "3001")
	v.SetDefault("STORE", "postgres")
	v.SetDefault("POSTGRES_USER", "postgres")
	v.SetDefault("POSTGRES_PASSWORD", "postgres")
	v.SetDefault("POSTGRES_HOST", "localhost")
	v.SetDefault("POSTGRES_PORT", "5432")
	v.SetDefault("POSTGRES_DB", "chatdb")
	v.SetDefault("TOKEN_TTL", 24*time.Hour)
	v.SetDefault("COOKIE_NAME", "jwt")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("KAFKA_TOPIC", "chat.messages")
	v.SetDefault("WS_READ_LIMIT", 64*1024)
	v.SetDefault("WS_PING_INTERVAL", 30*time.Second)
	v.SetDefault("WS_PONG_WAIT", 60*time.Second)
	v.SetDefault("WS_EVENTS_PER_SECOND", 20.0)
	v.SetDefault("WS_EVENT_BURST", 40)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.Store != "postgres" && c.Store != "memory" {
		return fmt.Errorf("unknown STORE %q", c.Store)
	}
	if c.WSPongWait <= c.WSPingInterval {
		return fmt.Errorf("WS_PONG_WAIT (%s) must exceed WS_PING_INTERVAL (%s)", c.WSPongWait, c.WSPingInterval)
	}
	return nil
}
