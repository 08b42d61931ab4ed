package topics

const (
	// Wallet
	WalletTransactionCompleted = "wallet.transaction.completed"
	WalletTransactionReversed  = "wallet.transaction.reversed"

	// Markets
	BetPlaced      = "market.bet.placed"
	MarketResolved = "market.resolved"
)
