package events

import (
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"jcm-p2p-backend/internal/models"
)

// Enqueue stores an event inside the caller's transaction so it is published
// if and only if the state change commits.
func Enqueue(tx *gorm.DB, topic, key string, payload interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", topic, err)
	}
	return tx.Create(&models.OutboxEvent{Topic: topic, Key: key, Payload: b}).Error
}
