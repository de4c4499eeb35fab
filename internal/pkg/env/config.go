package env

import (
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
)

// Config is the typed view of the environment used to wire the service.
type Config struct {
	AppHost string
	AppPort string

	StripeSecretKey     string `validate:"required"`
	StripeWebhookSecret string `validate:"required"`
	StripeAPIURL        string `validate:"omitempty,url"`

	PacketaAPIURL      string `validate:"required,url"`
	PacketaAPIPassword string `validate:"required"`
	PacketaEshop       string
	PacketaLabelFormat string

	MailProvider string `validate:"oneof=resend smtp"`
	ResendAPIURL string `validate:"omitempty,url"`
	ResendAPIKey string `validate:"required_if=MailProvider resend"`
	SMTPHost     string `validate:"required_if=MailProvider smtp"`
	SMTPPort     string `validate:"required_if=MailProvider smtp"`
	SMTPUsername string
	SMTPPassword string
	MailFrom     string `validate:"required"`
	AdminEmail   string `validate:"required,email"`
	ShopName     string
	ShopLocale   string `validate:"oneof=cs en"`

	IdempotencyBackend string        `validate:"oneof=redis memory database"`
	IdempotencyTTL     time.Duration `validate:"gt=0"`

	CatalogFile string

	JobQueueEnabled bool
	JobQueueWorkers int           `validate:"gte=1,lte=64"`
	RetryBaseDelay  time.Duration `validate:"gt=0"`

	AdminUser string

	// AdminPasswordHash is a bcrypt hash; the admin API stays unmounted without it.
	AdminPasswordHash string
}

// Load reads the configuration from the loaded .env map and the process
// environment and validates it.
func Load() (*Config, error) {
	ttl, err := time.ParseDuration(GetEnv("IDEMPOTENCY_TTL", "72h"))
	if err != nil {
		return nil, fmt.Errorf("invalid IDEMPOTENCY_TTL: %w", err)
	}
	retryDelay, err := time.ParseDuration(GetEnv("RETRY_BASE_DELAY", "1m"))
	if err != nil {
		return nil, fmt.Errorf("invalid RETRY_BASE_DELAY: %w", err)
	}
	workers, err := strconv.Atoi(GetEnv("JOBQUEUE_WORKERS", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid JOBQUEUE_WORKERS: %w", err)
	}

	cfg := &Config{
		AppHost: GetEnv("APP_HOST", "localhost"),
		AppPort: GetEnv("APP_PORT", "4000"),

		StripeSecretKey:     GetEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: GetEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripeAPIURL:        GetEnv("STRIPE_API_URL", ""),

		PacketaAPIURL:      GetEnv("PACKETA_API_URL", "https://www.zasilkovna.cz/api/rest"),
		PacketaAPIPassword: GetEnv("PACKETA_API_PASSWORD", ""),
		PacketaEshop:       GetEnv("PACKETA_ESHOP", ""),
		PacketaLabelFormat: GetEnv("PACKETA_LABEL_FORMAT", "A7 on A4"),

		MailProvider: GetEnv("MAIL_PROVIDER", "resend"),
		ResendAPIURL: GetEnv("RESEND_API_URL", "https://api.resend.com"),
		ResendAPIKey: GetEnv("RESEND_API_KEY", ""),
		SMTPHost:     GetEnv("SMTP_HOST", ""),
		SMTPPort:     GetEnv("SMTP_PORT", "587"),
		SMTPUsername: GetEnv("SMTP_USERNAME", ""),
		SMTPPassword: GetEnv("SMTP_PASSWORD", ""),
		MailFrom:     GetEnv("MAIL_FROM", ""),
		AdminEmail:   GetEnv("ADMIN_EMAIL", ""),
		ShopName:     GetEnv("SHOP_NAME", "OrderFox"),
		ShopLocale:   GetEnv("SHOP_LOCALE", "cs"),

		IdempotencyBackend: GetEnv("IDEMPOTENCY_BACKEND", "redis"),
		IdempotencyTTL:     ttl,

		CatalogFile: GetEnv("CATALOG_FILE", ""),

		JobQueueEnabled: GetEnv("JOBQUEUE_ENABLED", "true") == "true",
		JobQueueWorkers: workers,
		RetryBaseDelay:  retryDelay,

		AdminUser:         GetEnv("ADMIN_USER", "admin"),
		AdminPasswordHash: GetEnv("ADMIN_PASSWORD_HASH", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the struct tags of the configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.AdminPasswordHash != "" {
		if _, err := bcrypt.Cost([]byte(c.AdminPasswordHash)); err != nil {
			return fmt.Errorf("invalid ADMIN_PASSWORD_HASH: %w", err)
		}
	}
	return nil
}

// Addr returns the listen address of the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%s", c.AppHost, c.AppPort)
}
