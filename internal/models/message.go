package models

import "time"

type Message struct {
	ID        uint64    `gorm:"primaryKey" json:"id"`
	SenderID  uint64    `gorm:"index;not null" json:"sender_id"`
	Text      string    `gorm:"type:text;not null" json:"text"`
	Timestamp time.Time `gorm:"autoCreateTime;index" json:"timestamp"`
}

type SendMessageInput struct {
	Text string `json:"text" binding:"required"`
}
