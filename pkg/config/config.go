package config

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds runtime configuration for the messmate service.
type Config struct {
	Addr           string   `env:"ADDR,default=:8080"`
	DBDSN          string   `env:"DB_DSN"`
	NATSURL        string   `env:"NATS_URL"`
	OTLPEndpoint   string   `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS,default=*"`
	RateLimit      int      `env:"RATE_LIMIT_PER_MINUTE,default=100"`
	LogLevel       string   `env:"LOG_LEVEL,default=info"`
	LogFormat      string   `env:"LOG_FORMAT,default=json"`
	SeedMenu       bool     `env:"SEED_MENU,default=true"`

	JWTSecret      string        `env:"JWT_SECRET"`
	AccessTokenTTL time.Duration `env:"ACCESS_TOKEN_TTL,default=24h"`

	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	AllowedEmailDomain string `env:"ALLOWED_EMAIL_DOMAIN"`
	ProducerSignup     bool   `env:"PRODUCER_SIGNUP,default=true"`

	Timezone         string        `env:"TIMEZONE,default=Asia/Kolkata"`
	CheckoutTokenTTL time.Duration `env:"CHECKOUT_TOKEN_TTL,default=30m"`
	PaymentTokenTTL  time.Duration `env:"PAYMENT_TOKEN_TTL,default=24h"`
	TokenMaxAttempts int           `env:"TOKEN_MAX_RETRIES,default=5"`
	TokenBackoff     time.Duration `env:"TOKEN_RETRY_BACKOFF,default=150ms"`

	ReminderSchedule string `env:"REMINDER_SCHEDULE,default=0 10 * * 1-6"`
	SweepSchedule    string `env:"SWEEP_SCHEDULE,default=0 0 * * *"`

	Push  PushConfig
	Media MediaConfig
}

// PushConfig selects and configures the push delivery provider.
type PushConfig struct {
	Provider        string `env:"PUSH_PROVIDER,default=none"`
	VAPIDPublicKey  string `env:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string `env:"VAPID_PRIVATE_KEY"`
	VAPIDSubject    string `env:"VAPID_SUBJECT,default=mailto:mess@example.com"`
	SNSRegion       string `env:"SNS_REGION,default=ap-south-1"`
}

// MediaConfig configures the S3-compatible image store. Uploads are disabled
// when Endpoint is empty.
type MediaConfig struct {
	Endpoint       string `env:"S3_ENDPOINT"`
	Bucket         string `env:"S3_BUCKET,default=messmate"`
	AccessKey      string `env:"S3_ACCESS_KEY"`
	SecretKey      string `env:"S3_SECRET_KEY"`
	Region         string `env:"S3_REGION,default=us-east-1"`
	DisableTLS     bool   `env:"S3_DISABLE_TLS,default=false"`
	ForcePathStyle bool   `env:"S3_FORCE_PATH_STYLE,default=true"`
	PublicBaseURL  string `env:"S3_PUBLIC_BASE_URL"`
}

// Load returns a Config populated from environment variables.
func Load(ctx context.Context) (Config, error) {
	return load(ctx, nil)
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ValidateServe checks the settings the HTTP server cannot run without.
func (c Config) ValidateServe() error {
	var errs []error
	if c.DBDSN == "" {
		errs = append(errs, errors.New("DB_DSN is required"))
	}
	if len(c.JWTSecret) < 16 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 16 bytes"))
	}
	switch c.Push.Provider {
	case "none", "sns":
	case "webpush":
		if c.Push.VAPIDPublicKey == "" || c.Push.VAPIDPrivateKey == "" {
			errs = append(errs, errors.New("VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY are required for webpush"))
		}
	default:
		errs = append(errs, errors.New("PUSH_PROVIDER must be one of none, webpush, sns"))
	}
	if c.TokenMaxAttempts < 1 {
		errs = append(errs, errors.New("TOKEN_MAX_RETRIES must be at least 1"))
	}
	return errors.Join(errs...)
}
