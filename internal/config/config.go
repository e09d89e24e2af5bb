// Package config содержит логику чтения конфигурации сервиса расчёта чеков.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	defaultRunAddress  = "localhost:8080"
	defaultLockTimeout = 5 * time.Second
)

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress  string        `env:"RUN_ADDRESS"`
	DatabaseURI string        `env:"DATABASE_URI"`
	CatalogFile string        `env:"CATALOG_FILE"`
	LockTimeout time.Duration `env:"LOCK_TIMEOUT"`

	RedisURL      string `env:"REDIS_URL"`
	NotifyWorkers int    `env:"NOTIFY_WORKERS" envDefault:"4"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser     string `env:"SMTP_USER"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPFrom     string `env:"SMTP_FROM"`

	InvoiceWebhookURL string `env:"INVOICE_WEBHOOK_URL"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envCatalogFile := cfg.CatalogFile
	envLockTimeout := cfg.LockTimeout

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI; in-memory storage is used when empty")
	flag.StringVar(&cfg.CatalogFile, "c", "", "JSON catalog to seed in-memory storage")
	flag.DurationVar(&cfg.LockTimeout, "l", defaultLockTimeout, "maximum wait for stock and cash drawer locks")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envCatalogFile != "" {
		cfg.CatalogFile = envCatalogFile
	}
	if envLockTimeout != 0 {
		cfg.LockTimeout = envLockTimeout
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.LockTimeout <= 0 {
		return nil, fmt.Errorf("lock timeout must be positive, got %s", cfg.LockTimeout)
	}
	if cfg.NotifyWorkers <= 0 {
		return nil, fmt.Errorf("notify workers must be positive, got %d", cfg.NotifyWorkers)
	}

	return cfg, nil
}

// MailEnabled сообщает, настроена ли отправка чеков по почте.
func (c *Config) MailEnabled() bool {
	return c.SMTPHost != ""
}
