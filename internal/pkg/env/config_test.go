package env

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func withEnv(t *testing.T, values map[string]string) {
	t.Helper()
	prev := Env
	Env = values
	t.Cleanup(func() { Env = prev })
}

func baseEnv() map[string]string {
	return map[string]string{
		"STRIPE_SECRET_KEY":     "sk_test_123",
		"STRIPE_WEBHOOK_SECRET": "whsec_123",
		"PACKETA_API_PASSWORD":  "packeta-secret",
		"RESEND_API_KEY":        "re_123",
		"MAIL_FROM":             "Shop <orders@example.com>",
		"ADMIN_EMAIL":           "admin@example.com",
	}
}

func TestLoad_Defaults(t *testing.T) {
	withEnv(t, baseEnv())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost:4000", cfg.Addr())
	assert.Equal(t, "https://www.zasilkovna.cz/api/rest", cfg.PacketaAPIURL)
	assert.Equal(t, "A7 on A4", cfg.PacketaLabelFormat)
	assert.Equal(t, "resend", cfg.MailProvider)
	assert.Equal(t, "redis", cfg.IdempotencyBackend)
	assert.Equal(t, 72*time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, time.Minute, cfg.RetryBaseDelay)
	assert.Equal(t, 3, cfg.JobQueueWorkers)
	assert.True(t, cfg.JobQueueEnabled)
	assert.Equal(t, "cs", cfg.ShopLocale)
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name     string
		override map[string]string
	}{
		{"missing webhook secret", map[string]string{"STRIPE_WEBHOOK_SECRET": ""}},
		{"invalid admin email", map[string]string{"ADMIN_EMAIL": "not-an-email"}},
		{"unknown idempotency backend", map[string]string{"IDEMPOTENCY_BACKEND": "etcd"}},
		{"smtp without host", map[string]string{"MAIL_PROVIDER": "smtp"}},
		{"resend without key", map[string]string{"RESEND_API_KEY": ""}},
		{"unsupported locale", map[string]string{"SHOP_LOCALE": "de"}},
		{"bad ttl", map[string]string{"IDEMPOTENCY_TTL": "three days"}},
		{"bad workers", map[string]string{"JOBQUEUE_WORKERS": "many"}},
		{"plaintext admin password", map[string]string{"ADMIN_PASSWORD_HASH": "s3cret"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values := baseEnv()
			for k, v := range tt.override {
				values[k] = v
			}
			withEnv(t, values)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoad_SMTPProvider(t *testing.T) {
	values := baseEnv()
	values["MAIL_PROVIDER"] = "smtp"
	values["SMTP_HOST"] = "mail.example.com"
	values["RESEND_API_KEY"] = ""
	withEnv(t, values)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "smtp", cfg.MailProvider)
	assert.Equal(t, "587", cfg.SMTPPort)
}

func TestLoad_AdminPasswordHash(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	values := baseEnv()
	values["ADMIN_PASSWORD_HASH"] = string(hash)
	withEnv(t, values)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "admin", cfg.AdminUser)
	assert.Equal(t, string(hash), cfg.AdminPasswordHash)
}
