package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MaxMoney is the largest value a decimal(14,2) money column holds.
var MaxMoney = decimal.New(99999999999999, -2)

type Wallet struct {
	ID        uint64          `gorm:"primaryKey" json:"id"`
	UserID    uint64          `gorm:"uniqueIndex;not null" json:"user_id"`
	Balance   decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"balance"`
	CreatedAt time.Time       `json:"-"`
	UpdatedAt time.Time       `json:"updated_at"`

	User *User `gorm:"foreignKey:UserID" json:"-"`
}

const (
	TxDeposit    = "Deposit"
	TxWithdrawal = "Withdrawal"
	TxPayout     = "Payout"
)

const (
	MethodMPesa  = "M-Pesa"
	MethodCard   = "Card"
	MethodMarket = "Market"
)

const (
	TxPending   = "PENDING"
	TxCompleted = "COMPLETED"
	TxFailed    = "FAILED"
	TxReversed  = "REVERSED"
	TxDisputed  = "DISPUTED" // reversal wanted but the funds were already spent
)

// WalletTransaction is one ledger entry of a wallet.
type WalletTransaction struct {
	ID             uint64          `gorm:"primaryKey" json:"id"`
	WalletID       uint64          `gorm:"not null;uniqueIndex:idx_wallet_idempotency,priority:1" json:"wallet_id"`
	Type           string          `gorm:"size:20;not null" json:"type"`
	Amount         decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"amount"`
	Method         string          `gorm:"size:20;not null" json:"method"`
	Status         string          `gorm:"size:20;not null;index" json:"status"`
	IdempotencyKey string          `gorm:"size:80;not null;uniqueIndex:idx_wallet_idempotency,priority:2" json:"idempotency_key"`
	GatewayRef     string          `gorm:"size:100;index" json:"gateway_ref,omitempty"`
	GatewayMessage string          `gorm:"size:255" json:"gateway_message,omitempty"`
	Date           time.Time       `gorm:"autoCreateTime" json:"date"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type TransactionInput struct {
	Type   string          `json:"type" binding:"required,oneof=Deposit Withdrawal"`
	Amount decimal.Decimal `json:"amount"`
	Method string          `json:"method" binding:"omitempty,oneof=M-Pesa Card"`
}
