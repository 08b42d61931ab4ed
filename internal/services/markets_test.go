package services

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"jcm-p2p-backend/internal/models"
	"jcm-p2p-backend/pkg/contracts/topics"
)

func createMarket(t *testing.T, svc *MarketService, ownerID uint64, target int64, options ...string) *models.Market {
	t.Helper()
	m, err := svc.Create(context.Background(), ownerID, models.CreateMarketInput{
		Question:       "Will it rain in Nairobi tomorrow?",
		Category:       "Weather",
		TargetStake:    decimal.NewFromInt(target),
		OutcomeOptions: options,
	})
	require.NoError(t, err)
	return m
}

func bet(svc *MarketService, userID, marketID uint64, outcome string, amount string) (*BetResult, error) {
	return svc.PlaceBet(context.Background(), userID, models.PlaceBetInput{
		MarketID: marketID, Outcome: outcome, Amount: decimal.RequireFromString(amount),
	})
}

func TestCreateMarketKeepsOptionsInOrder(t *testing.T) {
	db := setupDB(t)
	owner := registerUser(t, db, "owner")
	svc := NewMarketService(db, zap.NewNop())

	options := []string{"No", "Yes", "Only in the evening"}
	m := createMarket(t, svc, owner.ID, 1000, options...)
	require.Equal(t, models.MarketOpen, m.Status)
	require.False(t, m.IsPublic)
	require.Zero(t, m.Progress)
	require.Nil(t, m.Subcategory)

	got, err := svc.Get(context.Background(), owner.ID, m.ID)
	require.NoError(t, err)
	require.Equal(t, options, []string(got.OutcomeOptions))
}

func TestCreateMarketValidation(t *testing.T) {
	db := setupDB(t)
	owner := registerUser(t, db, "owner")
	svc := NewMarketService(db, zap.NewNop())

	cases := map[string]models.CreateMarketInput{
		"one option":   {Question: "Q", TargetStake: decimal.NewFromInt(10), OutcomeOptions: []string{"Yes"}},
		"duplicate":    {Question: "Q", TargetStake: decimal.NewFromInt(10), OutcomeOptions: []string{"Yes", "Yes"}},
		"blank option": {Question: "Q", TargetStake: decimal.NewFromInt(10), OutcomeOptions: []string{"Yes", " "}},
		"zero stake":   {Question: "Q", TargetStake: decimal.Zero, OutcomeOptions: []string{"Yes", "No"}},
		"no question":  {Question: "  ", TargetStake: decimal.NewFromInt(10), OutcomeOptions: []string{"Yes", "No"}},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), owner.ID, in)
			require.ErrorIs(t, err, ErrInvalidInput)
		})
	}
	require.Zero(t, countRows(t, db, &models.Market{}))
}

func TestMarketVisibility(t *testing.T) {
	db := setupDB(t)
	owner := registerUser(t, db, "owner")
	other := registerUser(t, db, "other")
	svc := NewMarketService(db, zap.NewNop())
	m := createMarket(t, svc, owner.ID, 100, "Yes", "No")

	_, err := svc.Get(context.Background(), other.ID, m.ID)
	require.ErrorIs(t, err, ErrForbidden)
	list, err := svc.List(context.Background(), other.ID)
	require.NoError(t, err)
	require.Empty(t, list)

	_, err = svc.SetVisibility(context.Background(), other.ID, m.ID, true)
	require.ErrorIs(t, err, ErrForbidden)
	_, err = svc.SetVisibility(context.Background(), owner.ID, 999, true)
	require.ErrorIs(t, err, ErrNotFound)

	updated, err := svc.SetVisibility(context.Background(), owner.ID, m.ID, true)
	require.NoError(t, err)
	require.True(t, updated.IsPublic)

	list, err = svc.List(context.Background(), other.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, []string{"Yes", "No"}, []string(list[0].OutcomeOptions))
}

func TestBetOnUnknownOutcomeChangesNothing(t *testing.T) {
	db := setupDB(t)
	owner := registerUser(t, db, "owner")
	setBalance(t, db, owner.ID, 100)
	svc := NewMarketService(db, zap.NewNop())
	m := createMarket(t, svc, owner.ID, 100, "Yes", "No")

	_, err := bet(svc, owner.ID, m.ID, "Maybe", "10")
	require.ErrorIs(t, err, ErrInvalidOutcome)
	require.Zero(t, countRows(t, db, &models.Bet{}))
	requireBalance(t, db, owner.ID, "100")
}

func TestBetMovesStakeIntoPool(t *testing.T) {
	db := setupDB(t)
	owner := registerUser(t, db, "owner")
	setBalance(t, db, owner.ID, 1000)
	svc := NewMarketService(db, zap.NewNop())
	m := createMarket(t, svc, owner.ID, 1000, "Yes", "No")

	res, err := bet(svc, owner.ID, m.ID, "Yes", "250")
	require.NoError(t, err)
	require.Equal(t, 25, res.Progress)
	require.True(t, decimal.NewFromInt(250).Equal(res.Pool))
	require.True(t, decimal.NewFromInt(750).Equal(res.Balance))
	requireBalance(t, db, owner.ID, "750")

	got, err := svc.Get(context.Background(), owner.ID, m.ID)
	require.NoError(t, err)
	require.Equal(t, 25, got.Progress)
	require.Len(t, got.Bets, 1)

	var ev models.OutboxEvent
	require.NoError(t, db.Where("topic = ?", topics.BetPlaced).First(&ev).Error)

	_, err = bet(svc, owner.ID, m.ID, "No", "2000")
	require.ErrorIs(t, err, ErrInsufficientFunds)
	_, err = bet(svc, owner.ID, m.ID, "No", "0")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestConcurrentBetsCannotOverdraw(t *testing.T) {
	db := setupConcurrentDB(t)
	u := registerUser(t, db, "racer")
	setBalance(t, db, u.ID, 200)
	svc := NewMarketService(db, zap.NewNop())
	m := createMarket(t, svc, u.ID, 1000, "Yes", "No")

	errs := race(6, func(int) error {
		_, err := bet(svc, u.ID, m.ID, "Yes", "100")
		return err
	})

	ok, short := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrInsufficientFunds):
			short++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 2, ok)
	require.Equal(t, 4, short)
	require.Equal(t, int64(2), countRows(t, db, &models.Bet{}))
	requireBalance(t, db, u.ID, "0")

	got, err := svc.Get(context.Background(), u.ID, m.ID)
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(200).Equal(got.PoolTotal.Round(2)))
}

func TestOversizedAmountsAreRejected(t *testing.T) {
	db := setupDB(t)
	u := registerUser(t, db, "whale")
	setBalance(t, db, u.ID, 100)
	svc := NewMarketService(db, zap.NewNop())

	_, err := svc.Create(context.Background(), u.ID, models.CreateMarketInput{
		Question:       "Too big?",
		Category:       "Misc",
		TargetStake:    decimal.RequireFromString("1000000000000"),
		OutcomeOptions: []string{"Yes", "No"},
	})
	require.ErrorIs(t, err, ErrInvalidInput)

	m := createMarket(t, svc, u.ID, 1000, "Yes", "No")
	_, err = bet(svc, u.ID, m.ID, "Yes", "20000000000000000000")
	require.ErrorIs(t, err, ErrInvalidInput)
	require.Zero(t, countRows(t, db, &models.Bet{}))
	requireBalance(t, db, u.ID, "100")
}

func TestResolvePaysWinnersProportionally(t *testing.T) {
	db := setupDB(t)
	owner := registerUser(t, db, "owner")
	a := registerUser(t, db, "a")
	b := registerUser(t, db, "b")
	c := registerUser(t, db, "c")
	for _, u := range []*models.User{a, b, c} {
		setBalance(t, db, u.ID, 100)
	}
	svc := NewMarketService(db, zap.NewNop())
	m := createMarket(t, svc, owner.ID, 100, "Yes", "No")
	_, err := svc.SetVisibility(context.Background(), owner.ID, m.ID, true)
	require.NoError(t, err)

	for _, p := range []struct {
		user    *models.User
		outcome string
		amount  string
	}{{a, "Yes", "10"}, {b, "Yes", "20"}, {c, "No", "70"}} {
		_, err := bet(svc, p.user.ID, m.ID, p.outcome, p.amount)
		require.NoError(t, err)
	}

	_, err = svc.Resolve(context.Background(), a.ID, m.ID, "Yes")
	require.ErrorIs(t, err, ErrForbidden)
	_, err = svc.Resolve(context.Background(), owner.ID, m.ID, "Maybe")
	require.ErrorIs(t, err, ErrInvalidOutcome)

	resolved, err := svc.Resolve(context.Background(), owner.ID, m.ID, "Yes")
	require.NoError(t, err)
	require.Equal(t, models.MarketResolved, resolved.Status)
	require.NotNil(t, resolved.WinningOutcome)
	require.Equal(t, "Yes", *resolved.WinningOutcome)

	// 100 split 10:20 -> 33.33 and 66.66, the spare cent to the larger bet.
	requireBalance(t, db, a.ID, "123.33")
	requireBalance(t, db, b.ID, "146.67")
	requireBalance(t, db, c.ID, "30")

	var payouts []models.WalletTransaction
	require.NoError(t, db.Where("type = ?", models.TxPayout).Find(&payouts).Error)
	require.Len(t, payouts, 2)

	_, err = svc.Resolve(context.Background(), owner.ID, m.ID, "No")
	require.ErrorIs(t, err, ErrConflict)
	_, err = bet(svc, c.ID, m.ID, "No", "1")
	require.ErrorIs(t, err, ErrConflict)
}

func TestResolveRefundsWhenNobodyBackedWinner(t *testing.T) {
	db := setupDB(t)
	owner := registerUser(t, db, "owner")
	setBalance(t, db, owner.ID, 100)
	svc := NewMarketService(db, zap.NewNop())
	m := createMarket(t, svc, owner.ID, 100, "A", "B", "C")

	_, err := bet(svc, owner.ID, m.ID, "A", "30")
	require.NoError(t, err)
	_, err = bet(svc, owner.ID, m.ID, "B", "20")
	require.NoError(t, err)
	requireBalance(t, db, owner.ID, "50")

	_, err = svc.Resolve(context.Background(), owner.ID, m.ID, "C")
	require.NoError(t, err)
	requireBalance(t, db, owner.ID, "100")

	var ev models.OutboxEvent
	require.NoError(t, db.Where("topic = ?", topics.MarketResolved).First(&ev).Error)
	require.Contains(t, string(ev.Payload), `"refunded":true`)
}

func TestParimutuelSumsToPool(t *testing.T) {
	bets := []models.Bet{
		{ID: 1, Outcome: "Yes", Amount: decimal.NewFromInt(1)},
		{ID: 2, Outcome: "Yes", Amount: decimal.NewFromInt(1)},
		{ID: 3, Outcome: "Yes", Amount: decimal.NewFromInt(1)},
		{ID: 4, Outcome: "No", Amount: decimal.NewFromInt(7)},
	}
	payouts, refunded := parimutuel(bets, "Yes", decimal.NewFromInt(10))
	require.False(t, refunded)
	require.Len(t, payouts, 3)

	sum := decimal.Zero
	for _, p := range payouts {
		sum = sum.Add(p)
	}
	require.True(t, decimal.NewFromInt(10).Equal(sum))
	require.True(t, decimal.RequireFromString("3.34").Equal(payouts[1]))
	require.True(t, decimal.RequireFromString("3.33").Equal(payouts[2]))
}

func TestProgressIsCapped(t *testing.T) {
	require.Equal(t, 0, progressOf(decimal.Zero, decimal.NewFromInt(100)))
	require.Equal(t, 33, progressOf(decimal.NewFromInt(1), decimal.NewFromInt(3)))
	require.Equal(t, 100, progressOf(decimal.NewFromInt(500), decimal.NewFromInt(100)))
}
