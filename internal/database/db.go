package database

import (
	"fmt"
	"log/slog"
	"time"

	"restoran-fulfillment/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open connects to PostgreSQL and migrates every persisted record type.
func Open(dsn string, logger *slog.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	logger.Info("db_connected", "migrated", len(Models()))
	return db, nil
}

// Models lists the tables owned by the service, parents first.
func Models() []any {
	return []any{
		&models.User{},
		&models.Table{},
		&models.Reservation{},
		&models.Order{},
		&models.OrderItem{},
		&models.KitchenQueueEntry{},
		&models.AuditLog{},
		&models.NotificationLog{},
	}
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// Close releases the pool behind db.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
