// Package config содержит логику чтения конфигурации магазина nexent.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации магазина nexent.
type Config struct {
	RunAddress            string `env:"RUN_ADDRESS"`
	DatabaseURI           string `env:"DATABASE_URI"`
	PaymentGatewayAddress string `env:"PAYMENT_GATEWAY_ADDRESS"`
	PaymentGatewayKey     string `env:"PAYMENT_GATEWAY_KEY"`
	WebhookSecret         string `env:"WEBHOOK_SECRET"`
	NotificationAddress   string `env:"NOTIFICATION_ADDRESS"`
	IdentityAddress       string `env:"IDENTITY_ADDRESS"`
	AuthSecret            string `env:"AUTH_SECRET"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Значения окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envValues := *cfg

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.PaymentGatewayAddress, "p", "", "payment gateway address")
	flag.StringVar(&cfg.PaymentGatewayKey, "k", "", "payment gateway secret key")
	flag.StringVar(&cfg.WebhookSecret, "w", "", "payment webhook signing secret")
	flag.StringVar(&cfg.NotificationAddress, "n", "", "notification service address")
	flag.StringVar(&cfg.IdentityAddress, "i", "", "identity provider address")
	flag.StringVar(&cfg.AuthSecret, "s", "", "auth token signing secret")

	flag.Parse()

	if envValues.RunAddress != "" {
		cfg.RunAddress = envValues.RunAddress
	}
	if envValues.DatabaseURI != "" {
		cfg.DatabaseURI = envValues.DatabaseURI
	}
	if envValues.PaymentGatewayAddress != "" {
		cfg.PaymentGatewayAddress = envValues.PaymentGatewayAddress
	}
	if envValues.PaymentGatewayKey != "" {
		cfg.PaymentGatewayKey = envValues.PaymentGatewayKey
	}
	if envValues.WebhookSecret != "" {
		cfg.WebhookSecret = envValues.WebhookSecret
	}
	if envValues.NotificationAddress != "" {
		cfg.NotificationAddress = envValues.NotificationAddress
	}
	if envValues.IdentityAddress != "" {
		cfg.IdentityAddress = envValues.IdentityAddress
	}
	if envValues.AuthSecret != "" {
		cfg.AuthSecret = envValues.AuthSecret
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}
