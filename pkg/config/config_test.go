package config

import (
	"context"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(context.Background(), envconfig.MapLookuper(map[string]string{}))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "Asia/Kolkata", cfg.Timezone)
	assert.Equal(t, 30*time.Minute, cfg.CheckoutTokenTTL)
	assert.Equal(t, 24*time.Hour, cfg.PaymentTokenTTL)
	assert.Equal(t, 5, cfg.TokenMaxAttempts)
	assert.Equal(t, "0 10 * * 1-6", cfg.ReminderSchedule)
	assert.Equal(t, "none", cfg.Push.Provider)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := load(context.Background(), envconfig.MapLookuper(map[string]string{
		"DB_DSN":             "postgres://mess@localhost/mess",
		"PUSH_PROVIDER":      "sns",
		"S3_ENDPOINT":        "localhost:8333",
		"CHECKOUT_TOKEN_TTL": "45m",
	}))
	require.NoError(t, err)

	assert.Equal(t, "sns", cfg.Push.Provider)
	assert.Equal(t, "localhost:8333", cfg.Media.Endpoint)
	assert.Equal(t, 45*time.Minute, cfg.CheckoutTokenTTL)
}

func TestValidateServe(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing dsn", mutate: func(c *Config) { c.DBDSN = "" }, wantErr: true},
		{name: "short secret", mutate: func(c *Config) { c.JWTSecret = "short" }, wantErr: true},
		{name: "webpush without keys", mutate: func(c *Config) { c.Push.Provider = "webpush" }, wantErr: true},
		{name: "unknown provider", mutate: func(c *Config) { c.Push.Provider = "pigeon" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{
				DBDSN:            "postgres://localhost/mess",
				JWTSecret:        "0123456789abcdef",
				TokenMaxAttempts: 5,
				Push:             PushConfig{Provider: "none"},
			}
			tt.mutate(&cfg)
			err := cfg.ValidateServe()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}
