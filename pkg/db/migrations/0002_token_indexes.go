package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upTokenIndexes, downTokenIndexes)
}

// The sweeper only ever looks at unverified tokens.
func upTokenIndexes(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		`CREATE INDEX IF NOT EXISTS idx_tokens_sweep ON tokens (expires_at) WHERE verified = false`,
		`CREATE INDEX IF NOT EXISTS idx_orders_day_meal ON orders (day, meal_name)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func downTokenIndexes(ctx context.Context, tx *sql.Tx) error {
	for _, stmt := range []string{
		`DROP INDEX IF EXISTS idx_orders_day_meal`,
		`DROP INDEX IF EXISTS idx_tokens_sweep`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
