package config

import (
	"fmt"
	"os"
)

// Config collects everything the server, worker and seeder read from the
// environment. Loaded once at startup; nothing else touches os.Getenv.
type Config struct {
	DatabaseURL string
	AMQPURL     string // empty means no broker: the server runs sequence sends in-process
	HTTPAddr    string

	// API auth
	APIToken string

	// Provider
	ProviderAPIKey      string
	ProviderBaseURL     string
	WebhookSecret       string
	UnsubscribeHost     string
	BroadcastEnabled    bool
	BroadcastAudienceID string
	PublicBaseURL       string // base for unsubscribe links
	FromAddress         string
}

func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		AMQPURL:             os.Getenv("AMQP_URL"),
		HTTPAddr:            getenv("HTTP_ADDR", ":8080"),
		APIToken:            os.Getenv("API_TOKEN"),
		ProviderAPIKey:      os.Getenv("RESEND_API_KEY"),
		ProviderBaseURL:     getenv("RESEND_BASE_URL", "https://api.resend.com"),
		WebhookSecret:       os.Getenv("RESEND_WEBHOOK_SECRET"),
		UnsubscribeHost:     getenv("RESEND_UNSUBSCRIBE_HOST", "unsubscribe.resend.com"),
		BroadcastEnabled:    os.Getenv("USE_BROADCAST_API") == "true",
		BroadcastAudienceID: os.Getenv("RESEND_AUDIENCE_ID"),
		PublicBaseURL:       getenv("PUBLIC_BASE_URL", "http://localhost:8080"),
		FromAddress:         getenv("MAIL_FROM", "Newsletter <newsletter@localhost>"),
	}

	if cfg.DatabaseURL == "" {
		// Assemble from the individual pieces for compose-style setups.
		user := os.Getenv("DB_USER")
		pass := os.Getenv("DB_PASSWORD")
		host := getenv("DB_HOST", "localhost")
		port := getenv("DB_PORT", "5432")
		name := os.Getenv("DB_NAME")
		if user == "" || name == "" {
			return nil, fmt.Errorf("config: DATABASE_URL or DB_USER/DB_NAME must be set")
		}
		cfg.DatabaseURL = fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s?sslmode=disable",
			user, pass, host, port, name,
		)
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
