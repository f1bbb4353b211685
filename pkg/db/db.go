// Package db owns the pgx pool used for schema migrations and reporting
// queries. Transactional writes go through gorm in services/store.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"messmate/pkg/db/migrations"
)

// QueryTimeout bounds every reporting query.
const QueryTimeout = 5 * time.Second

const (
	applicationName = "messmate"
	maxPoolConns    = 10
	healthPeriod    = time.Minute
)

var errNilPool = errors.New("db: nil pool")

// Open connects a small pool sized for aggregate reads and migrations.
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("db: parse dsn: %w", err)
	}
	cfg.MaxConns = maxPoolConns
	cfg.HealthCheckPeriod = healthPeriod
	cfg.ConnConfig.RuntimeParams["application_name"] = applicationName
	// goose and the stats queries run fine without prepared statements.
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("db: connect: %w", err)
	}
	if err := Ping(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db: ping: %w", err)
	}
	return pool, nil
}

// Migrate brings the schema up to the newest registered migration.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	return withGoose(pool, func(sqlDB *sql.DB) error {
		return goose.UpContext(ctx, sqlDB, ".")
	})
}

// Version reports the schema version last applied.
func Version(ctx context.Context, pool *pgxpool.Pool) (int64, error) {
	var v int64
	err := withGoose(pool, func(sqlDB *sql.DB) (err error) {
		v, err = goose.GetDBVersionContext(ctx, sqlDB)
		return err
	})
	return v, err
}

// withGoose hands fn a database/sql view of the pool.
func withGoose(pool *pgxpool.Pool, fn func(*sql.DB) error) error {
	if pool == nil {
		return errNilPool
	}
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect(string(goose.DialectPostgres)); err != nil {
		return err
	}
	sqlDB := stdlib.OpenDBFromPool(pool)
	defer sqlDB.Close()
	return fn(sqlDB)
}

// Get scans one row into dest.
func Get(ctx context.Context, pool *pgxpool.Pool, dest any, query string, args ...any) error {
	if pool == nil {
		return errNilPool
	}
	ctx, cancel := context.WithTimeout(ctx, QueryTimeout)
	defer cancel()
	return pgxscan.Get(ctx, pool, dest, query, args...)
}

// Select scans every row into the slice dest.
func Select(ctx context.Context, pool *pgxpool.Pool, dest any, query string, args ...any) error {
	if pool == nil {
		return errNilPool
	}
	ctx, cancel := context.WithTimeout(ctx, QueryTimeout)
	defer cancel()
	return pgxscan.Select(ctx, pool, dest, query, args...)
}

func Ping(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return errNilPool
	}
	ctx, cancel := context.WithTimeout(ctx, QueryTimeout)
	defer cancel()
	return pool.Ping(ctx)
}
