package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"messmate/services/store"
)

func init() {
	goose.AddMigrationContext(upInit, downInit)
}

func gormTx(tx *sql.Tx) (*gorm.DB, error) {
	cfg := store.Config()
	cfg.Logger = logger.Default.LogMode(logger.Silent)
	return gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), cfg)
}

func upInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gormTx(tx)
	if err != nil {
		return err
	}

	return store.AutoMigrate(ctx, gormDB)
}

func downInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gormTx(tx)
	if err != nil {
		return err
	}

	models := store.Models()
	// Children before parents.
	for i, j := 0, len(models)-1; i < j; i, j = i+1, j-1 {
		models[i], models[j] = models[j], models[i]
	}
	return gormDB.WithContext(ctx).Migrator().DropTable(models...)
}
