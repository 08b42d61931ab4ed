package events

type BetPlaced struct {
	BetID     uint64 `json:"bet_id"`
	MarketID  uint64 `json:"market_id"`
	UserID    uint64 `json:"user_id"`
	Outcome   string `json:"outcome"`
	Amount    string `json:"amount"`
	PoolTotal string `json:"pool_total"`
	TsUnixMs  int64  `json:"ts_unix_ms"`
}
