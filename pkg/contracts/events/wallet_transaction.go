package events

type WalletTransaction struct {
	TransactionID uint64 `json:"transaction_id"`
	WalletID      uint64 `json:"wallet_id"`
	UserID        uint64 `json:"user_id"`
	Type          string `json:"type"`
	Method        string `json:"method"`
	Status        string `json:"status"`
	Amount        string `json:"amount"`
	Balance       string `json:"balance"`
	GatewayRef    string `json:"gateway_ref,omitempty"`
	TsUnixMs      int64  `json:"ts_unix_ms"`
}
