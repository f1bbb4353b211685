package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"messmate/pkg/bus"
	"messmate/pkg/calendar"
	"messmate/pkg/config"
	"messmate/pkg/db"
	"messmate/pkg/media"
	"messmate/pkg/push"
	"messmate/pkg/render"
	"messmate/pkg/s3"
	"messmate/services/accounts"
	"messmate/services/api"
	"messmate/services/catalog"
	"messmate/services/notify"
	"messmate/services/reminders"
	"messmate/services/stats"
	"messmate/services/store"
	"messmate/services/tokens"
	"messmate/services/verification"
)

// app holds every long lived dependency of one process.
type app struct {
	log    zerolog.Logger
	cal    *calendar.Calendar
	store  *store.Store
	pool   *pgxpool.Pool
	broker bus.Broker
	closer func()

	accounts  *accounts.Service
	tokens    *accounts.Tokens
	catalog   *catalog.Service
	issuer    *tokens.Issuer
	workflow  *verification.Workflow
	stats     *stats.Service
	reminders *reminders.Service
}

func build(ctx context.Context, cfg config.Config, log zerolog.Logger) (_ *app, err error) {
	if cfg.DBDSN == "" {
		return nil, errors.New("DB_DSN is required")
	}
	a := &app{log: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.cal, err = calendar.New(cfg.Timezone); err != nil {
		return nil, err
	}
	if a.store, err = store.Connect(ctx, cfg.DBDSN); err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if a.pool, err = db.Open(ctx, cfg.DBDSN); err != nil {
		return nil, fmt.Errorf("open reporting pool: %w", err)
	}

	if cfg.NATSURL != "" {
		nb, err := bus.NewNATS(cfg.NATSURL)
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		a.broker, a.closer = nb, nb.Close
	} else {
		mb := bus.NewMemory()
		a.broker, a.closer = mb, mb.Close
		log.Info().Msg("NATS_URL not set, using in-process event bus")
	}

	pusher, err := newPusher(ctx, cfg.Push, log)
	if err != nil {
		return nil, err
	}
	images, err := newMediaStore(ctx, cfg.Media, log)
	if err != nil {
		return nil, err
	}
	engine, err := render.New()
	if err != nil {
		return nil, err
	}
	dispatcher := notify.New(a.store, pusher, engine, log)

	var google accounts.IdentityVerifier
	if cfg.GoogleClientID != "" {
		gv, err := accounts.NewGoogleVerifier(ctx, cfg.GoogleClientID)
		if err != nil {
			return nil, fmt.Errorf("google verifier: %w", err)
		}
		google = gv
	}

	a.tokens = accounts.NewTokens(cfg.JWTSecret, cfg.AccessTokenTTL)
	a.accounts = accounts.New(a.store, images, a.tokens, google, a.cal, accounts.Options{
		AllowedEmailDomain: cfg.AllowedEmailDomain,
		ProducerSignup:     cfg.ProducerSignup,
	}, log)
	a.catalog = catalog.New(a.store, images, a.broker, log)

	seqCfg := tokens.DefaultSequencerConfig()
	if cfg.TokenMaxAttempts > 0 {
		seqCfg.MaxAttempts = cfg.TokenMaxAttempts
	}
	if cfg.TokenBackoff > 0 {
		seqCfg.Backoff = cfg.TokenBackoff
	}
	seq := tokens.NewSequencer(a.store, seqCfg, log)
	a.issuer = tokens.NewIssuer(a.store, seq, a.cal, tokens.Config{
		CheckoutTTL: cfg.CheckoutTokenTTL,
		PaymentTTL:  cfg.PaymentTokenTTL,
	}, log)

	a.workflow = verification.New(a.store, dispatcher, a.broker, a.cal, log)
	a.stats = stats.New(stats.FallbackReader{
		Primary:   stats.PGReader{Pool: a.pool},
		Secondary: stats.StoreReader{Store: a.store},
		Log:       log.With().Str("component", "stats").Logger(),
	}, a.cal)
	a.reminders = reminders.New(a.store, dispatcher, a.broker, a.cal, log)
	return a, nil
}

func (a *app) handler(cfg api.Config) (http.Handler, error) {
	srv, err := api.New(api.Services{
		Accounts:  a.accounts,
		Tokens:    a.tokens,
		Catalog:   a.catalog,
		Issuer:    a.issuer,
		Workflow:  a.workflow,
		Stats:     a.stats,
		Reminders: a.reminders,
		Broker:    a.broker,
		Ready: func(ctx context.Context) error {
			if err := a.store.Ping(ctx); err != nil {
				return err
			}
			return db.Ping(ctx, a.pool)
		},
	}, cfg, a.log)
	if err != nil {
		return nil, err
	}
	return srv.Routes(), nil
}

func (a *app) Close() {
	if a.workflow != nil {
		a.workflow.Wait()
	}
	if a.closer != nil {
		a.closer()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("close database")
		}
	}
}

func newPusher(ctx context.Context, cfg config.PushConfig, log zerolog.Logger) (push.Pusher, error) {
	switch strings.ToLower(cfg.Provider) {
	case "webpush":
		return push.NewWebPush(push.WebPushConfig{
			PublicKey:  cfg.VAPIDPublicKey,
			PrivateKey: cfg.VAPIDPrivateKey,
			Subject:    cfg.VAPIDSubject,
		})
	case "sns":
		return push.NewSNSFromRegion(ctx, cfg.SNSRegion)
	case "", "none":
		log.Warn().Msg("push notifications disabled")
		return push.Nop{}, nil
	default:
		return nil, fmt.Errorf("unknown PUSH_PROVIDER %q", cfg.Provider)
	}
}

func newMediaStore(ctx context.Context, cfg config.MediaConfig, log zerolog.Logger) (media.Store, error) {
	if cfg.Endpoint == "" {
		log.Warn().Msg("S3_ENDPOINT not set, image uploads disabled")
		return media.Disabled{}, nil
	}
	return s3.NewClient(ctx, s3.Options{
		Endpoint:       cfg.Endpoint,
		Bucket:         cfg.Bucket,
		AccessKey:      cfg.AccessKey,
		SecretKey:      cfg.SecretKey,
		Region:         cfg.Region,
		DisableTLS:     cfg.DisableTLS,
		ForcePathStyle: cfg.ForcePathStyle,
		PublicBaseURL:  cfg.PublicBaseURL,
	})
}
