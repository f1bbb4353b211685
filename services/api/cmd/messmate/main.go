package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"messmate/pkg/config"
	"messmate/pkg/db"
	"messmate/pkg/telemetry"
	"messmate/pkg/version"
	"messmate/services/api"
	"messmate/services/notify"
	"messmate/services/reminders"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type runtime struct {
	cfg config.Config
	log zerolog.Logger
}

func newRootCommand() *cobra.Command {
	rt := &runtime{}
	cmd := &cobra.Command{
		Use:           "messmate",
		Short:         "Canteen meal ordering service",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			_ = godotenv.Load()
			cfg, err := config.Load(cmd.Context())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			rt.cfg = cfg
			rt.log = newLogger(cfg)
			return nil
		},
	}

	cmd.AddCommand(
		newServeCommand(rt),
		newMigrateCommand(rt),
		newSeedCommand(rt),
		newSweepCommand(rt),
		newRemindCommand(rt),
	)
	return cmd
}

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var logger zerolog.Logger
	if cfg.LogFormat == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Str("service", version.Name).Logger()
}

func newServeCommand(rt *runtime) *cobra.Command {
	var skipMigrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the reminder scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, log := rt.cfg, rt.log
			if err := cfg.ValidateServe(); err != nil {
				return err
			}

			shutdownTracing, err := telemetry.Init(ctx, version.Name, cfg.OTLPEndpoint)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTracing(shutdownCtx); err != nil {
					log.Error().Err(err).Msg("shutdown telemetry")
				}
			}()

			if !skipMigrate {
				if err := migrate(ctx, cfg, log); err != nil {
					return err
				}
			}

			app, err := build(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer app.Close()

			if cfg.SeedMenu {
				n, err := app.catalog.Seed(ctx)
				if err != nil {
					return fmt.Errorf("seed menu: %w", err)
				}
				if n > 0 {
					log.Info().Int64("meals", n).Msg("default menu seeded")
				}
			}

			sched := reminders.NewScheduler(app.cal.Location(), 5*time.Minute, log)
			if err := reminders.Schedule(sched, app.reminders, func(ctx context.Context) error {
				_, err := app.workflow.Sweep(ctx)
				return err
			}, cfg.ReminderSchedule, cfg.SweepSchedule); err != nil {
				return err
			}
			sched.Start()
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				sched.Stop(stopCtx)
			}()

			handler, err := app.handler(api.Config{
				ServiceName:    version.Name,
				AllowedOrigins: cfg.AllowedOrigins,
				RateLimit:      cfg.RateLimit,
				VAPIDPublicKey: cfg.Push.VAPIDPublicKey,
			})
			if err != nil {
				return err
			}

			srv := &http.Server{
				Addr:              cfg.Addr,
				Handler:           handler,
				ReadHeaderTimeout: 10 * time.Second,
				WriteTimeout:      60 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", cfg.Addr).Str("version", version.Version).Msg("starting messmate")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case <-ctx.Done():
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("http server: %w", err)
				}
			}

			log.Info().Msg("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("shutdown server")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "Do not apply migrations on start")
	return cmd
}

func newMigrateCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return migrate(cmd.Context(), rt.cfg, rt.log)
		},
	}
}

func migrate(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	if cfg.DBDSN == "" {
		return errors.New("DB_DSN is required")
	}
	pool, err := db.Open(ctx, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	v, err := db.Version(ctx, pool)
	if err != nil {
		return fmt.Errorf("schema version: %w", err)
	}
	log.Info().Int64("version", v).Msg("database migrated")
	return nil
}

func newSeedCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert the default menu, skipping meals that exist",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := build(cmd.Context(), rt.cfg, rt.log)
			if err != nil {
				return err
			}
			defer app.Close()

			n, err := app.catalog.Seed(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d meals\n", n)
			return nil
		},
	}
}

func newSweepCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete tokens that expired unverified",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := build(cmd.Context(), rt.cfg, rt.log)
			if err != nil {
				return err
			}
			defer app.Close()

			n, err := app.workflow.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d expired tokens\n", n)
			return nil
		},
	}
}

func newRemindCommand(rt *runtime) *cobra.Command {
	var emails []string

	cmd := &cobra.Command{
		Use:   "remind",
		Short: "Send the daily reminder now, or a payment reminder to --email users",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := build(cmd.Context(), rt.cfg, rt.log)
			if err != nil {
				return err
			}
			defer app.Close()

			run := app.reminders.DailyReminder
			if len(emails) > 0 {
				run = func(ctx context.Context) (notify.Summary, error) {
					return app.reminders.PaymentReminders(ctx, emails)
				}
			}
			sum, err := run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %d, failed %d, skipped %d\n", sum.Successful, sum.Failed, sum.Skipped)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&emails, "email", nil, "Send a payment reminder to these users instead")
	return cmd
}
