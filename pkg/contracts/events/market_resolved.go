package events

type Payout struct {
	BetID  uint64 `json:"bet_id"`
	UserID uint64 `json:"user_id"`
	Amount string `json:"amount"`
}

type MarketResolved struct {
	MarketID       uint64   `json:"market_id"`
	WinningOutcome string   `json:"winning_outcome"`
	PoolTotal      string   `json:"pool_total"`
	Refunded       bool     `json:"refunded"` // nobody backed the winning outcome
	Payouts        []Payout `json:"payouts"`
	TsUnixMs       int64    `json:"ts_unix_ms"`
}
