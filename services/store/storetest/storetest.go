// Package storetest opens throwaway stores for tests.
package storetest

import (
	"context"
	"os"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"messmate/pkg/db"
	"messmate/services/store"
)

// New returns a migrated store backed by a private in-memory SQLite database.
// The pool is capped at one connection since each connection would otherwise
// see its own empty database.
func New(t testing.TB) *store.Store {
	t.Helper()

	cfg := store.Config()
	cfg.Logger = logger.Default.LogMode(logger.Silent)

	gdb, err := gorm.Open(sqlite.Open(":memory:?_pragma=foreign_keys(1)"), cfg)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := store.AutoMigrate(context.Background(), gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store.New(gdb)
}

// Student inserts a student with a complete profile.
func Student(t testing.TB, s *store.Store, email, name string) *store.User {
	t.Helper()
	u := &store.User{
		Email:           email,
		Name:            name,
		Role:            store.RoleStudent,
		ProfileComplete: true,
		Preferences:     store.DefaultPreferences(),
	}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("create student: %v", err)
	}
	return u
}

// Meal inserts a catalog entry.
func Meal(t testing.TB, s *store.Store, name string, price float64) *store.Meal {
	t.Helper()
	m := &store.Meal{Name: name, Price: price}
	if err := s.CreateMeal(context.Background(), m); err != nil {
		t.Fatalf("create meal: %v", err)
	}
	return m
}

// PostgresDSNEnv names the variable that points tests at a disposable
// PostgreSQL database.
const PostgresDSNEnv = "MESSMATE_TEST_DSN"

// Postgres returns a store and a reporting pool on the database named by
// PostgresDSNEnv, migrated and emptied. The test is skipped when the
// variable is unset.
func Postgres(t testing.TB) (*store.Store, *pgxpool.Pool) {
	t.Helper()
	dsn := os.Getenv(PostgresDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", PostgresDSNEnv)
	}
	ctx := context.Background()

	pool, err := db.Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := db.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := pool.Exec(ctx, "TRUNCATE users, orders, meals, meal_ratings, tokens, token_counters, notification_logs"); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	s, err := store.Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("connect store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, pool
}
