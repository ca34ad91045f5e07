package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath    = "config.toml"
	DefaultHTTPAddr      = ":8080"
	DefaultSessionsDir   = "sessions"
	DefaultJWTExpiresIn  = "24h"
	DefaultPGHost        = "127.0.0.1"
	DefaultPGPort        = 5432
	DefaultPGUser        = "postgres"
	DefaultPGDatabase    = "repostd"
	DefaultPGSSLMode     = "disable"
	DefaultClassifierURL = "http://127.0.0.1:5000/predict_tags"
	DefaultRewriterURL   = "http://127.0.0.1:5000/rewrite"
	DefaultImageBaseURL  = "https://api-key.fusionbrain.ai"
	DefaultPoolWorkers   = 5
	DefaultPoolQueueSize = 64
	DefaultRetentionCron = "0 4 * * *"
)

type Config struct {
	Log        LogConfig       `toml:"log"`
	Server     ServerConfig    `toml:"server"`
	Admin      AdminConfig     `toml:"admin"`
	Auth       AuthConfig      `toml:"auth"`
	Postgres   PostgresConfig  `toml:"postgres"`
	Telegram   TelegramConfig  `toml:"telegram"`
	Sessions   SessionsConfig  `toml:"sessions"`
	Classifier ServiceConfig   `toml:"classifier"`
	Rewriter   ServiceConfig   `toml:"rewriter"`
	ImageGen   ImageGenConfig  `toml:"imagegen"`
	Pool       PoolConfig      `toml:"pool"`
	Retention  RetentionConfig `toml:"retention"`
}

type LogConfig struct {
	Level  string `toml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `toml:"format" validate:"omitempty,oneof=text json"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type AdminConfig struct {
	Username string `toml:"username" validate:"required"`
	Password string `toml:"password" validate:"required"`
}

type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret" validate:"required"`
	JWTExpiresIn string `toml:"jwt_expires_in"`
}

// ExpiresIn parses the configured token lifetime.
func (c AuthConfig) ExpiresIn() time.Duration {
	d, err := time.ParseDuration(c.JWTExpiresIn)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port" validate:"gt=0,lte=65535"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// DSN renders the pgx connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

type SessionsConfig struct {
	Dir string `toml:"dir"`
}

// TelegramConfig holds the delivery bot's token.
type TelegramConfig struct {
	BotToken string `toml:"bot_token" validate:"required"`
}

// ServiceConfig describes a plain request/response HTTP service.
type ServiceConfig struct {
	URL            string `toml:"url" validate:"required,url"`
	TimeoutSeconds int    `toml:"timeout_seconds" validate:"gte=0"`
}

// Timeout returns the configured request timeout, defaulting to 30s.
func (c ServiceConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type ImageGenConfig struct {
	BaseURL          string `toml:"base_url" validate:"required,url"`
	APIKey           string `toml:"api_key"`
	APISecret        string `toml:"api_secret"`
	Width            int    `toml:"width" validate:"gt=0"`
	Height           int    `toml:"height" validate:"gt=0"`
	PollAttempts     int    `toml:"poll_attempts" validate:"gt=0"`
	PollDelaySeconds int    `toml:"poll_delay_seconds" validate:"gt=0"`
	TimeoutSeconds   int    `toml:"timeout_seconds" validate:"gte=0"`
}

// PollDelay returns the delay between generation status checks.
func (c ImageGenConfig) PollDelay() time.Duration {
	return time.Duration(c.PollDelaySeconds) * time.Second
}

// Timeout returns the per-request HTTP timeout, defaulting to 30s.
func (c ImageGenConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type PoolConfig struct {
	Workers   int `toml:"workers" validate:"gt=0"`
	QueueSize int `toml:"queue_size" validate:"gt=0"`
}

type RetentionConfig struct {
	Enabled bool   `toml:"enabled"`
	Cron    string `toml:"cron"`
	MaxAge  string `toml:"max_age"`
}

// MaxAgeDuration parses the retention window, defaulting to 30 days.
func (c RetentionConfig) MaxAgeDuration() (time.Duration, error) {
	if c.MaxAge == "" {
		return 30 * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(c.MaxAge)
	if err != nil {
		return 0, fmt.Errorf("parse retention max_age: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("retention max_age must be positive")
	}
	return d, nil
}

// Load reads the TOML config at path, applies defaults, and validates the
// result. An empty path falls back to DefaultConfigPath.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Sessions: SessionsConfig{
			Dir: DefaultSessionsDir,
		},
		Classifier: ServiceConfig{
			URL: DefaultClassifierURL,
		},
		Rewriter: ServiceConfig{
			URL: DefaultRewriterURL,
		},
		ImageGen: ImageGenConfig{
			BaseURL:          DefaultImageBaseURL,
			Width:            512,
			Height:           512,
			PollAttempts:     10,
			PollDelaySeconds: 3,
		},
		Pool: PoolConfig{
			Workers:   DefaultPoolWorkers,
			QueueSize: DefaultPoolQueueSize,
		},
		Retention: RetentionConfig{
			Cron: DefaultRetentionCron,
		},
	}
	if path == "" {
		path = DefaultConfigPath
	}
	if _, err := os.Stat(path); err != nil {
		return Config{}, fmt.Errorf("config file %s: %w", path, err)
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks structural constraints on the loaded config.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := time.ParseDuration(c.Auth.JWTExpiresIn); err != nil {
		return fmt.Errorf("invalid config: auth.jwt_expires_in: %w", err)
	}
	if _, err := c.Retention.MaxAgeDuration(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
