// Package api exposes the messmate services over HTTP.
package api

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"messmate/pkg/bus"
	"messmate/services/accounts"
	"messmate/services/catalog"
	"messmate/services/reminders"
	"messmate/services/stats"
	"messmate/services/tokens"
	"messmate/services/verification"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultKeepAlive      = 25 * time.Second
	defaultRateLimit      = 100
	maxJSONBody           = 1 << 20
	maxUpload             = 5 << 20
)

// Services holds the domain services the handlers call.
type Services struct {
	Accounts  *accounts.Service
	Tokens    *accounts.Tokens
	Catalog   *catalog.Service
	Issuer    *tokens.Issuer
	Workflow  *verification.Workflow
	Stats     *stats.Service
	Reminders *reminders.Service
	Broker    bus.Broker
	// Ready reports whether dependencies can serve traffic. Nil means always.
	Ready func(ctx context.Context) error
}

// Config controls runtime behaviour for the API handlers.
type Config struct {
	ServiceName    string
	AllowedOrigins []string
	RateLimit      int
	RequestTimeout time.Duration
	KeepAlive      time.Duration
	VAPIDPublicKey string
}

// API wires services and configuration for HTTP handlers.
type API struct {
	svc Services
	cfg Config
	log zerolog.Logger
}

// New initialises the API layer with defaults applied to cfg.
func New(svc Services, cfg Config, log zerolog.Logger) (*API, error) {
	switch {
	case svc.Accounts == nil:
		return nil, errors.New("accounts service is required")
	case svc.Tokens == nil:
		return nil, errors.New("access tokens are required")
	case svc.Catalog == nil:
		return nil, errors.New("catalog service is required")
	case svc.Issuer == nil:
		return nil, errors.New("token issuer is required")
	case svc.Workflow == nil:
		return nil, errors.New("verification workflow is required")
	case svc.Stats == nil:
		return nil, errors.New("stats service is required")
	case svc.Reminders == nil:
		return nil, errors.New("reminders service is required")
	case svc.Broker == nil:
		return nil, errors.New("broker is required")
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "messmate"
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = defaultKeepAlive
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	return &API{svc: svc, cfg: cfg, log: log.With().Str("component", "api").Logger()}, nil
}
