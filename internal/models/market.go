package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	MarketOpen     = "OPEN"
	MarketResolved = "RESOLVED"
)

type Market struct {
	ID             uint64                      `gorm:"primaryKey" json:"id"`
	UserID         uint64                      `gorm:"index;not null" json:"user_id"`
	Question       string                      `gorm:"type:text;not null" json:"question"`
	Category       string                      `gorm:"size:100" json:"category"`
	Subcategory    *string                     `gorm:"size:100" json:"subcategory"`
	TargetStake    decimal.Decimal             `gorm:"type:decimal(14,2);not null" json:"target_stake"`
	PoolTotal      decimal.Decimal             `gorm:"type:decimal(14,2);not null;default:0" json:"pool_total"`
	OutcomeOptions datatypes.JSONSlice[string] `gorm:"not null" json:"outcome_options"`
	Progress       int                         `gorm:"not null;default:0" json:"progress"`
	IsPublic       bool                        `gorm:"not null;default:false" json:"is_public"`
	Status         string                      `gorm:"size:20;not null" json:"status"`
	WinningOutcome *string                     `gorm:"size:255" json:"winning_outcome,omitempty"`
	ResolvedAt     *time.Time                  `json:"resolved_at,omitempty"`
	CreatedAt      time.Time                   `json:"created_at"`

	Bets []Bet `gorm:"foreignKey:MarketID" json:"bets"`
}

// HasOutcome reports whether o is one of the market's options.
func (m Market) HasOutcome(o string) bool {
	for _, opt := range m.OutcomeOptions {
		if opt == o {
			return true
		}
	}
	return false
}

type Bet struct {
	ID        uint64          `gorm:"primaryKey" json:"id"`
	MarketID  uint64          `gorm:"index;not null" json:"market_id"`
	UserID    uint64          `gorm:"index;not null" json:"user_id"`
	Outcome   string          `gorm:"size:255;not null" json:"outcome"`
	Amount    decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"amount"`
	Payout    decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"payout"`
	Timestamp time.Time       `gorm:"autoCreateTime" json:"timestamp"`
}

type CreateMarketInput struct {
	Question       string          `json:"question" binding:"required"`
	Category       string          `json:"category" binding:"max=100"`
	Subcategory    string          `json:"subcategory" binding:"max=100"`
	TargetStake    decimal.Decimal `json:"totalStake"`
	OutcomeOptions []string        `json:"outcomeOptions" binding:"required,min=2"`
}

type PlaceBetInput struct {
	MarketID uint64          `json:"marketId" binding:"required"`
	Outcome  string          `json:"outcome" binding:"required"`
	Amount   decimal.Decimal `json:"amount"`
}

type VisibilityInput struct {
	IsPublic *bool `json:"is_public" binding:"required"`
}

type ResolveMarketInput struct {
	WinningOutcome string `json:"winning_outcome" binding:"required"`
}
