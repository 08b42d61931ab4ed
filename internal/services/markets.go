package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"jcm-p2p-backend/internal/events"
	"jcm-p2p-backend/internal/metrics"
	"jcm-p2p-backend/internal/models"
	contracts "jcm-p2p-backend/pkg/contracts/events"
	"jcm-p2p-backend/pkg/contracts/topics"
)

type MarketService struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewMarketService(db *gorm.DB, log *zap.Logger) *MarketService {
	return &MarketService{db: db, log: log}
}

type BetResult struct {
	Bet      models.Bet      `json:"bet"`
	Balance  decimal.Decimal `json:"balance"`
	Pool     decimal.Decimal `json:"pool_total"`
	Progress int             `json:"progress"`
}

func (s *MarketService) Create(ctx context.Context, ownerID uint64, in models.CreateMarketInput) (*models.Market, error) {
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is required", ErrInvalidInput)
	}
	if in.TargetStake.Sign() <= 0 {
		return nil, fmt.Errorf("%w: total stake must be greater than zero", ErrInvalidInput)
	}
	if in.TargetStake.GreaterThan(models.MaxMoney) {
		return nil, fmt.Errorf("%w: total stake must not exceed %s", ErrInvalidInput, models.MaxMoney.String())
	}
	if err := validateOptions(in.OutcomeOptions); err != nil {
		return nil, err
	}

	market := models.Market{
		UserID:         ownerID,
		Question:       question,
		Category:       strings.TrimSpace(in.Category),
		TargetStake:    in.TargetStake,
		PoolTotal:      decimal.Zero,
		OutcomeOptions: datatypes.JSONSlice[string](in.OutcomeOptions),
		Progress:       0,
		IsPublic:       false,
		Status:         models.MarketOpen,
	}
	if sub := strings.TrimSpace(in.Subcategory); sub != "" {
		market.Subcategory = &sub
	}

	if err := s.db.WithContext(ctx).Create(&market).Error; err != nil {
		return nil, persistence(err)
	}
	market.Bets = []models.Bet{}

	s.log.Info("market created", zap.Uint64("market_id", market.ID), zap.Uint64("owner_id", ownerID))
	return &market, nil
}

// validateOptions keeps the options exactly as given but rejects blanks and repeats.
func validateOptions(options []string) error {
	if len(options) < 2 {
		return fmt.Errorf("%w: at least two outcome options are required", ErrInvalidInput)
	}
	seen := make(map[string]struct{}, len(options))
	for _, o := range options {
		if strings.TrimSpace(o) == "" {
			return fmt.Errorf("%w: outcome options cannot be blank", ErrInvalidInput)
		}
		if _, dup := seen[o]; dup {
			return fmt.Errorf("%w: duplicate outcome option %q", ErrInvalidInput, o)
		}
		seen[o] = struct{}{}
	}
	return nil
}

// List returns the caller's own markets and every public one, newest first.
func (s *MarketService) List(ctx context.Context, userID uint64) ([]models.Market, error) {
	markets := []models.Market{}
	err := s.db.WithContext(ctx).
		Preload("Bets", func(db *gorm.DB) *gorm.DB { return db.Order("id asc") }).
		Where("user_id = ? OR is_public = ?", userID, true).
		Order("created_at desc, id desc").
		Find(&markets).Error
	if err != nil {
		return nil, persistence(err)
	}
	return markets, nil
}

func (s *MarketService) Get(ctx context.Context, userID, marketID uint64) (*models.Market, error) {
	var market models.Market
	err := s.db.WithContext(ctx).
		Preload("Bets", func(db *gorm.DB) *gorm.DB { return db.Order("id asc") }).
		First(&market, marketID).Error
	if err := marketLookupErr(err, marketID); err != nil {
		return nil, err
	}
	if !market.IsPublic && market.UserID != userID {
		return nil, fmt.Errorf("%w: market %d is private", ErrForbidden, marketID)
	}
	return &market, nil
}

func (s *MarketService) SetVisibility(ctx context.Context, userID, marketID uint64, public bool) (*models.Market, error) {
	market, err := s.owned(ctx, userID, marketID)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(market).Update("is_public", public).Error; err != nil {
		return nil, persistence(err)
	}
	market.IsPublic = public
	return market, nil
}

// PlaceBet debits the stake and records the bet atomically. The debit is a
// conditional update, so concurrent bets can never overdraw the wallet.
func (s *MarketService) PlaceBet(ctx context.Context, userID uint64, in models.PlaceBetInput) (*BetResult, error) {
	result, err := s.placeBet(ctx, userID, in)
	switch {
	case err == nil:
		metrics.BetsPlaced.WithLabelValues("ok").Inc()
	case errors.Is(err, ErrInsufficientFunds):
		metrics.BetsPlaced.WithLabelValues("insufficient_funds").Inc()
	case errors.Is(err, ErrInvalidOutcome):
		metrics.BetsPlaced.WithLabelValues("invalid_outcome").Inc()
	default:
		metrics.BetsPlaced.WithLabelValues("error").Inc()
	}
	return result, err
}

func (s *MarketService) placeBet(ctx context.Context, userID uint64, in models.PlaceBetInput) (*BetResult, error) {
	if in.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be greater than zero", ErrInvalidInput)
	}
	if !in.Amount.Equal(in.Amount.Round(2)) {
		return nil, fmt.Errorf("%w: amount has more than two decimal places", ErrInvalidInput)
	}
	if in.Amount.GreaterThan(models.MaxMoney) {
		return nil, fmt.Errorf("%w: amount must not exceed %s", ErrInvalidInput, models.MaxMoney.String())
	}

	// 1. Market must be visible and open
	market, err := s.Get(ctx, userID, in.MarketID)
	if err != nil {
		return nil, err
	}
	if market.Status != models.MarketOpen {
		return nil, fmt.Errorf("%w: market %d is already resolved", ErrConflict, market.ID)
	}

	// 2. Outcome must be one of the options
	if !market.HasOutcome(in.Outcome) {
		return nil, fmt.Errorf("%w: %q is not an option of market %d", ErrInvalidOutcome, in.Outcome, market.ID)
	}

	// 3. Debit, bet, pool and event in one transaction
	result := &BetResult{}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var wallet models.Wallet
		if err := tx.Where("user_id = ?", userID).First(&wallet).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: wallet for user %d", ErrNotFound, userID)
			}
			return err
		}
		if err := debit(tx, wallet.ID, in.Amount); err != nil {
			return err
		}

		res := tx.Model(&models.Market{}).
			Where("id = ? AND status = ?", market.ID, models.MarketOpen).
			Update("pool_total", gorm.Expr("pool_total + ?", in.Amount))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: market %d is already resolved", ErrConflict, market.ID)
		}

		bet := models.Bet{
			MarketID: market.ID,
			UserID:   userID,
			Outcome:  in.Outcome,
			Amount:   in.Amount,
			Payout:   decimal.Zero,
		}
		if err := tx.Create(&bet).Error; err != nil {
			return err
		}

		var current models.Market
		if err := tx.Select("id", "pool_total", "target_stake").First(&current, market.ID).Error; err != nil {
			return err
		}
		progress := progressOf(current.PoolTotal, current.TargetStake)
		if err := tx.Model(&models.Market{}).Where("id = ?", market.ID).Update("progress", progress).Error; err != nil {
			return err
		}

		if err := tx.First(&wallet, wallet.ID).Error; err != nil {
			return err
		}

		*result = BetResult{Bet: bet, Balance: wallet.Balance, Pool: current.PoolTotal, Progress: progress}
		return events.Enqueue(tx, topics.BetPlaced, marketKey(market.ID), contracts.BetPlaced{
			BetID:     bet.ID,
			MarketID:  market.ID,
			UserID:    userID,
			Outcome:   bet.Outcome,
			Amount:    bet.Amount.StringFixed(2),
			PoolTotal: current.PoolTotal.StringFixed(2),
			TsUnixMs:  time.Now().UnixMilli(),
		})
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientFunds) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
			return nil, err
		}
		return nil, persistence(err)
	}

	s.log.Info("bet placed",
		zap.Uint64("bet_id", result.Bet.ID),
		zap.Uint64("market_id", market.ID),
		zap.Uint64("user_id", userID),
		zap.String("amount", in.Amount.String()))
	return result, nil
}

// Resolve closes the market and pays winners from the pool in proportion to
// their stakes. Cents lost to rounding go to the largest winning bet. If
// nobody backed the winning outcome every stake is refunded.
func (s *MarketService) Resolve(ctx context.Context, userID, marketID uint64, winning string) (*models.Market, error) {
	market, err := s.owned(ctx, userID, marketID)
	if err != nil {
		return nil, err
	}
	if market.Status != models.MarketOpen {
		return nil, fmt.Errorf("%w: market %d is already resolved", ErrConflict, marketID)
	}
	if !market.HasOutcome(winning) {
		return nil, fmt.Errorf("%w: %q is not an option of market %d", ErrInvalidOutcome, winning, marketID)
	}

	now := time.Now().UTC()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Market{}).
			Where("id = ? AND status = ?", marketID, models.MarketOpen).
			Updates(map[string]interface{}{
				"status":          models.MarketResolved,
				"winning_outcome": winning,
				"resolved_at":     now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: market %d is already resolved", ErrConflict, marketID)
		}

		var bets []models.Bet
		if err := tx.Where("market_id = ?", marketID).Order("id asc").Find(&bets).Error; err != nil {
			return err
		}
		var current models.Market
		if err := tx.Select("id", "pool_total").First(&current, marketID).Error; err != nil {
			return err
		}

		payouts, refunded := parimutuel(bets, winning, current.PoolTotal)
		event := contracts.MarketResolved{
			MarketID:       marketID,
			WinningOutcome: winning,
			PoolTotal:      current.PoolTotal.StringFixed(2),
			Refunded:       refunded,
			Payouts:        []contracts.Payout{},
			TsUnixMs:       now.UnixMilli(),
		}

		for i := range bets {
			amount, ok := payouts[bets[i].ID]
			if !ok || amount.Sign() <= 0 {
				continue
			}
			if err := s.payOut(tx, &bets[i], amount); err != nil {
				return err
			}
			event.Payouts = append(event.Payouts, contracts.Payout{
				BetID:  bets[i].ID,
				UserID: bets[i].UserID,
				Amount: amount.StringFixed(2),
			})
		}
		return events.Enqueue(tx, topics.MarketResolved, marketKey(marketID), event)
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, err
		}
		return nil, persistence(err)
	}

	metrics.MarketsResolved.Inc()
	s.log.Info("market resolved", zap.Uint64("market_id", marketID), zap.String("winning_outcome", winning))
	return s.Get(ctx, userID, marketID)
}

// payOut credits a bet's payout to its owner and records it in the ledger.
func (s *MarketService) payOut(tx *gorm.DB, bet *models.Bet, amount decimal.Decimal) error {
	var wallet models.Wallet
	if err := tx.Where("user_id = ?", bet.UserID).First(&wallet).Error; err != nil {
		return err
	}
	if err := credit(tx, wallet.ID, amount); err != nil {
		return err
	}
	if err := tx.Model(bet).Update("payout", amount).Error; err != nil {
		return err
	}
	return tx.Create(&models.WalletTransaction{
		WalletID:       wallet.ID,
		Type:           models.TxPayout,
		Amount:         amount,
		Method:         models.MethodMarket,
		Status:         models.TxCompleted,
		IdempotencyKey: fmt.Sprintf("payout-bet-%d", bet.ID),
		GatewayRef:     marketKey(bet.MarketID),
	}).Error
}

// parimutuel maps bet id to payout. Shares are truncated to cents and the
// remainder goes to the largest winning bet (earliest on ties), so the payouts
// always sum to the pool exactly.
func parimutuel(bets []models.Bet, winning string, pool decimal.Decimal) (map[uint64]decimal.Decimal, bool) {
	payouts := make(map[uint64]decimal.Decimal, len(bets))

	winningTotal := decimal.Zero
	for _, b := range bets {
		if b.Outcome == winning {
			winningTotal = winningTotal.Add(b.Amount)
		}
	}

	if winningTotal.IsZero() {
		for _, b := range bets {
			payouts[b.ID] = b.Amount
		}
		return payouts, true
	}

	paid := decimal.Zero
	var largest *models.Bet
	for i := range bets {
		b := &bets[i]
		if b.Outcome != winning {
			continue
		}
		share := b.Amount.Mul(pool).Div(winningTotal).Truncate(2)
		payouts[b.ID] = share
		paid = paid.Add(share)
		if largest == nil || b.Amount.GreaterThan(largest.Amount) {
			largest = b
		}
	}
	if rest := pool.Sub(paid); rest.Sign() > 0 {
		payouts[largest.ID] = payouts[largest.ID].Add(rest)
	}
	return payouts, false
}

// progressOf is pool as a whole percentage of target, capped at 100.
func progressOf(pool, target decimal.Decimal) int {
	if target.Sign() <= 0 {
		return 0
	}
	p := pool.Mul(decimal.NewFromInt(100)).Div(target).IntPart()
	if p > 100 {
		return 100
	}
	if p < 0 {
		return 0
	}
	return int(p)
}

func (s *MarketService) owned(ctx context.Context, userID, marketID uint64) (*models.Market, error) {
	var market models.Market
	err := s.db.WithContext(ctx).First(&market, marketID).Error
	if err := marketLookupErr(err, marketID); err != nil {
		return nil, err
	}
	if market.UserID != userID {
		return nil, fmt.Errorf("%w: only the creator can change market %d", ErrForbidden, marketID)
	}
	return &market, nil
}

func marketLookupErr(err error, marketID uint64) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: market %d", ErrNotFound, marketID)
	}
	return persistence(err)
}

func marketKey(marketID uint64) string { return fmt.Sprintf("market-%d", marketID) }
