package services

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"jcm-p2p-backend/internal/models"
)

const (
	maxMessageRunes = 1000
	recentMessages  = 10
)

// Broadcaster fans a new message out to live subscribers.
type Broadcaster interface {
	Broadcast(v interface{})
}

type ChatService struct {
	db  *gorm.DB
	hub Broadcaster
	log *zap.Logger
}

func NewChatService(db *gorm.DB, hub Broadcaster, log *zap.Logger) *ChatService {
	return &ChatService{db: db, hub: hub, log: log}
}

func (s *ChatService) Send(ctx context.Context, senderID uint64, text string) (*models.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: message text is required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(text) > maxMessageRunes {
		return nil, fmt.Errorf("%w: message longer than %d characters", ErrInvalidInput, maxMessageRunes)
	}

	msg := models.Message{SenderID: senderID, Text: text}
	if err := s.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return nil, persistence(err)
	}

	if s.hub != nil {
		s.hub.Broadcast(msg)
	}
	return &msg, nil
}

// List returns the caller's latest messages, newest first.
func (s *ChatService) List(ctx context.Context, userID uint64) ([]models.Message, error) {
	msgs := []models.Message{}
	if err := s.db.WithContext(ctx).
		Where("sender_id = ?", userID).
		Order("timestamp desc, id desc").
		Limit(recentMessages).
		Find(&msgs).Error; err != nil {
		return nil, persistence(err)
	}
	return msgs, nil
}
