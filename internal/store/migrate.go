package store

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"jcm-p2p-backend/internal/models"
)

type migration struct {
	Version string
	Up      func(tx *gorm.DB) error
}

// Migrations are applied in order, once each, at deploy/start time and never
// from a request handler.
var migrations = []migration{
	{"0001_users_wallets", func(tx *gorm.DB) error {
		return tx.AutoMigrate(&models.User{}, &models.Wallet{})
	}},
	{"0002_wallet_transactions", func(tx *gorm.DB) error {
		return tx.AutoMigrate(&models.WalletTransaction{})
	}},
	{"0003_markets_bets", func(tx *gorm.DB) error {
		return tx.AutoMigrate(&models.Market{}, &models.Bet{})
	}},
	{"0004_messages", func(tx *gorm.DB) error {
		return tx.AutoMigrate(&models.Message{})
	}},
	{"0005_outbox_events", func(tx *gorm.DB) error {
		return tx.AutoMigrate(&models.OutboxEvent{})
	}},
}

// Migrate applies every pending migration and returns the versions it ran.
func Migrate(db *gorm.DB, log *zap.Logger) ([]string, error) {
	if err := db.AutoMigrate(&models.SchemaMigration{}); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	var applied []string
	for _, m := range migrations {
		var existing models.SchemaMigration
		err := db.Where("version = ?", m.Version).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return applied, fmt.Errorf("check migration %s: %w", m.Version, err)
		}

		log.Info("applying migration", zap.String("version", m.Version))
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := m.Up(tx); err != nil {
				return err
			}
			return tx.Create(&models.SchemaMigration{Version: m.Version, AppliedAt: time.Now()}).Error
		})
		if err != nil {
			return applied, fmt.Errorf("migration %s: %w", m.Version, err)
		}
		applied = append(applied, m.Version)
	}
	return applied, nil
}
