// Package config содержит логику чтения конфигурации сервиса.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"

	"github.com/mmeshcher/storybook/internal/signer"
)

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress         string   `env:"RUN_ADDRESS"`
	DatabaseURI        string   `env:"DATABASE_URI"`
	DownloadBaseURL    string   `env:"DOWNLOAD_BASE_URL"`
	LinkSigningKey     string   `env:"LINK_SIGNING_KEY"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	LogLevel           string   `env:"LOG_LEVEL" envDefault:"info"`
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
	envDownloadBaseURL := cfg.DownloadBaseURL
	envLinkSigningKey := cfg.LinkSigningKey

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI (postgres://, sqlite://, file:, memory://)")
	flag.StringVar(&cfg.DownloadBaseURL, "u", signer.DefaultBaseURL, "base URL of download links")
	flag.StringVar(&cfg.LinkSigningKey, "k", "", "HMAC key for download links")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envDownloadBaseURL != "" {
		cfg.DownloadBaseURL = envDownloadBaseURL
	}
	if envLinkSigningKey != "" {
		cfg.LinkSigningKey = envLinkSigningKey
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.DownloadBaseURL == "" {
		cfg.DownloadBaseURL = signer.DefaultBaseURL
	}

	return cfg, nil
}

// Signer возвращает генератор ссылок на скачивание согласно конфигурации.
func (c *Config) Signer() signer.Signer {
	if c.LinkSigningKey != "" {
		return signer.NewHMACSigner(c.DownloadBaseURL, c.LinkSigningKey)
	}
	return signer.NewTemplateSigner(c.DownloadBaseURL)
}
