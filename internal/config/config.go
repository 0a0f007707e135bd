// Package config содержит логику чтения конфигурации портала.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	defaultRunAddress     = "localhost:8080"
	defaultSessionTTL     = 30 * time.Minute
	defaultIPEchoTimeout  = 5 * time.Second
	defaultHandoffMaxText = 1500
	defaultMaxUploadBytes = 20 << 20
)

// Config содержит параметры конфигурации портала.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	RedisAddr   string `env:"REDIS_ADDR"`

	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	SessionSecret string        `env:"SESSION_SECRET"`
	SessionTTL    time.Duration `env:"SESSION_TTL"`
	SecureCookie  bool          `env:"SECURE_COOKIE" envDefault:"false"`

	AdminUsername     string `env:"ADMIN_USERNAME" envDefault:"admin"`
	AdminPassword     string `env:"ADMIN_PASSWORD"`
	AdminPasswordHash string `env:"ADMIN_PASSWORD_HASH"`

	IPSource      string        `env:"IP_SOURCE" envDefault:"request"`
	IPEchoTimeout time.Duration `env:"IP_ECHO_TIMEOUT"`
	TrustProxy    bool          `env:"TRUST_PROXY" envDefault:"false"`

	CartMerge      string `env:"CART_MERGE" envDefault:"append"`
	PriceColumn    string `env:"PRICE_COLUMN" envDefault:"Unit Price"`
	ContactPhone   string `env:"CONTACT_PHONE"`
	ContactEmail   string `env:"CONTACT_EMAIL"`
	HandoffMaxText int    `env:"HANDOFF_MAX_TEXT"`
	MaxUploadBytes int64  `env:"MAX_UPLOAD_BYTES"`
}

// Parse считывает конфигурацию из файла .env (если он есть), переменных окружения и флагов
// командной строки. Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envRedisAddr := cfg.RedisAddr

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.RedisAddr, "r", "", "redis address for session storage")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envRedisAddr != "" {
		cfg.RedisAddr = envRedisAddr
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	if cfg.IPEchoTimeout <= 0 {
		cfg.IPEchoTimeout = defaultIPEchoTimeout
	}
	if cfg.HandoffMaxText <= 0 {
		cfg.HandoffMaxText = defaultHandoffMaxText
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}

	if cfg.IPSource != "request" && cfg.IPSource != "echo" {
		return nil, fmt.Errorf("IP_SOURCE must be request or echo, got %q", cfg.IPSource)
	}

	return cfg, nil
}
