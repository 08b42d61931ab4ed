package models

import (
	"time"

	"gorm.io/datatypes"
)

// OutboxEvent is written in the same DB transaction as the state change it
// describes and published later by the relay.
type OutboxEvent struct {
	ID          uint64         `gorm:"primaryKey"`
	Topic       string         `gorm:"size:100;not null"`
	Key         string         `gorm:"size:100"`
	Payload     datatypes.JSON `gorm:"not null"`
	Attempts    int            `gorm:"not null;default:0"`
	LastError   string         `gorm:"size:255"`
	CreatedAt   time.Time
	PublishedAt *time.Time `gorm:"index"`
}

// SchemaMigration records one applied migration version.
type SchemaMigration struct {
	Version   string `gorm:"primaryKey;size:100"`
	AppliedAt time.Time
}
