package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"jcm-p2p-backend/internal/events"
	"jcm-p2p-backend/internal/gateway/card"
	"jcm-p2p-backend/internal/gateway/mpesa"
	"jcm-p2p-backend/internal/metrics"
	"jcm-p2p-backend/internal/models"
	contracts "jcm-p2p-backend/pkg/contracts/events"
	"jcm-p2p-backend/pkg/contracts/topics"
	"jcm-p2p-backend/pkg/utils"
)

const (
	recentTransactions = 5
	maxKeyLen          = 80
	maxMessageLen      = 255

	// b2cRefPrefix + transaction id is sent as the B2C OriginatorConversationID.
	b2cRefPrefix = "WTX"
)

// MobileMoney is the part of the M-Pesa client the wallet uses.
type MobileMoney interface {
	STKPush(ctx context.Context, msisdn string, amount int64, description string) (*mpesa.Response, error)
	B2C(ctx context.Context, msisdn string, amount int64, reference, description string) (*mpesa.Response, error)
}

type WalletService struct {
	db        *gorm.DB
	mobile    MobileMoney
	card      card.Gateway
	notifier  utils.Notifier
	log       *zap.Logger
	mobileMax decimal.Decimal
}

type WalletOption func(*WalletService)

// WithMobileMoneyLimit caps a single M-Pesa transaction, in whole shillings.
func WithMobileMoneyLimit(max int64) WalletOption {
	return func(s *WalletService) {
		if max > 0 {
			s.mobileMax = decimal.NewFromInt(max)
		}
	}
}

func NewWalletService(db *gorm.DB, mobile MobileMoney, cardGateway card.Gateway, notifier utils.Notifier, log *zap.Logger, opts ...WalletOption) *WalletService {
	if notifier == nil {
		notifier = utils.NopNotifier{}
	}
	s := &WalletService{db: db, mobile: mobile, card: cardGateway, notifier: notifier, log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type TransactRequest struct {
	UserID         uint64
	Type           string
	Method         string
	Amount         decimal.Decimal
	IdempotencyKey string
}

type TransactResult struct {
	Transaction models.WalletTransaction `json:"transaction"`
	Balance     decimal.Decimal          `json:"balance"`
	Message     string                   `json:"message"`
	Checkout    *card.Checkout           `json:"checkout,omitempty"`
	Replayed    bool                     `json:"replayed"`
}

type WalletView struct {
	Balance      decimal.Decimal            `json:"balance"`
	User         models.UserView            `json:"user"`
	Transactions []models.WalletTransaction `json:"transactions"`
}

// Wallet returns the balance, owner and latest transactions, newest first.
func (s *WalletService) Wallet(ctx context.Context, userID uint64) (*WalletView, error) {
	wallet, err := s.walletOf(ctx, userID)
	if err != nil {
		return nil, err
	}

	txs := []models.WalletTransaction{}
	if err := s.db.WithContext(ctx).
		Where("wallet_id = ?", wallet.ID).
		Order("date desc, id desc").
		Limit(recentTransactions).
		Find(&txs).Error; err != nil {
		return nil, persistence(err)
	}

	view := &WalletView{Balance: wallet.Balance, Transactions: txs}
	if wallet.User != nil {
		view.User = wallet.User.View()
	}
	return view, nil
}

// Transact runs a deposit or withdrawal as a saga: funds are reserved and a
// PENDING record written first, the gateway is called, and the record is then
// completed or compensated. Retrying with the same idempotency key never
// reaches the gateway twice.
func (s *WalletService) Transact(ctx context.Context, req TransactRequest) (*TransactResult, error) {
	// 1. Wallet and phone number
	wallet, err := s.walletOf(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	// 2. Validate
	if err := normalizeTransact(&req, s.mobileMax); err != nil {
		return nil, err
	}

	// 3. Same key, same answer
	prior, err := s.byKey(ctx, wallet.ID, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		return s.replay(ctx, wallet, prior, req)
	}

	// 4. Reserve funds and record the intent
	rec := &models.WalletTransaction{
		WalletID:       wallet.ID,
		Type:           req.Type,
		Amount:         req.Amount,
		Method:         req.Method,
		Status:         models.TxPending,
		IdempotencyKey: req.IdempotencyKey,
	}
	if req.Method == models.MethodCard {
		rec.GatewayRef = "DEP-" + uuid.NewString()
	}
	if err := s.reserve(ctx, rec); err != nil {
		return nil, err
	}

	// 5. Call the gateway
	if req.Method == models.MethodCard {
		return s.startCardDeposit(ctx, wallet, rec)
	}
	return s.callMobileMoney(ctx, wallet, rec)
}

func normalizeTransact(req *TransactRequest, mobileMax decimal.Decimal) error {
	if req.Amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be greater than zero", ErrInvalidInput)
	}
	if !req.Amount.IsInteger() {
		return fmt.Errorf("%w: amount must be in whole shillings", ErrInvalidInput)
	}
	if req.Amount.GreaterThan(models.MaxMoney) {
		return fmt.Errorf("%w: amount must not exceed %s", ErrInvalidInput, models.MaxMoney.String())
	}

	switch req.Type {
	case models.TxDeposit, models.TxWithdrawal:
	default:
		return fmt.Errorf("%w: unknown transaction type %q", ErrInvalidInput, req.Type)
	}

	if req.Method == "" {
		req.Method = models.MethodMPesa
	}
	switch req.Method {
	case models.MethodMPesa:
	case models.MethodCard:
		if req.Type != models.TxDeposit {
			return fmt.Errorf("%w: card payments only support deposits", ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown payment method %q", ErrInvalidInput, req.Method)
	}
	if req.Method == models.MethodMPesa && mobileMax.Sign() > 0 && req.Amount.GreaterThan(mobileMax) {
		return fmt.Errorf("%w: M-Pesa transactions are limited to %s KSH", ErrInvalidInput, mobileMax.String())
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}
	if len(req.IdempotencyKey) > maxKeyLen {
		return fmt.Errorf("%w: idempotency key longer than %d characters", ErrInvalidInput, maxKeyLen)
	}
	return nil
}

func (s *WalletService) replay(ctx context.Context, wallet *models.Wallet, prior *models.WalletTransaction, req TransactRequest) (*TransactResult, error) {
	if prior.Type != req.Type || prior.Method != req.Method || !prior.Amount.Equal(req.Amount) {
		return nil, fmt.Errorf("%w: idempotency key %q was used for a different request", ErrConflict, req.IdempotencyKey)
	}
	return s.outcome(ctx, wallet, prior)
}

// outcome reports a stored record: FAILED as the gateway's rejection,
// REVERSED or DISPUTED as a conflict, PENDING and COMPLETED as a replay.
func (s *WalletService) outcome(ctx context.Context, wallet *models.Wallet, rec *models.WalletTransaction) (*TransactResult, error) {
	switch rec.Status {
	case models.TxFailed:
		return nil, fmt.Errorf("%w: %s", ErrGatewayRejected, rec.GatewayMessage)
	case models.TxReversed, models.TxDisputed:
		return nil, fmt.Errorf("%w: transaction %d was %s: %s", ErrConflict, rec.ID, strings.ToLower(rec.Status), rec.GatewayMessage)
	}

	var current models.Wallet
	if err := s.db.WithContext(ctx).First(&current, wallet.ID).Error; err != nil {
		return nil, persistence(err)
	}
	return &TransactResult{
		Transaction: *rec,
		Balance:     current.Balance,
		Message:     rec.GatewayMessage,
		Replayed:    true,
	}, nil
}

// reserve debits a withdrawal up front and inserts the PENDING record in the
// same DB transaction.
func (s *WalletService) reserve(ctx context.Context, rec *models.WalletTransaction) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if rec.Type == models.TxWithdrawal {
			if err := debit(tx, rec.WalletID, rec.Amount); err != nil {
				return err
			}
		}
		return tx.Create(rec).Error
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInsufficientFunds):
		metrics.WalletTransactions.WithLabelValues(rec.Type, rec.Method, "INSUFFICIENT_FUNDS").Inc()
		return err
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: a request with idempotency key %q is already in progress", ErrConflict, rec.IdempotencyKey)
	}
	return persistence(err)
}

func (s *WalletService) callMobileMoney(ctx context.Context, wallet *models.Wallet, rec *models.WalletTransaction) (*TransactResult, error) {
	description := fmt.Sprintf("%s of %s KSH", rec.Type, rec.Amount.String())
	amount := rec.Amount.IntPart()
	phone := ""
	if wallet.User != nil {
		phone = wallet.User.Phone
	}

	var (
		resp *mpesa.Response
		err  error
	)
	if rec.Type == models.TxDeposit {
		resp, err = s.mobile.STKPush(ctx, phone, amount, description)
	} else {
		resp, err = s.mobile.B2C(ctx, phone, amount, b2cReference(rec.ID), description)
	}

	// The outcome is recorded even if the caller has gone away meanwhile.
	bg := context.WithoutCancel(ctx)

	// A failed compensation is logged by fail and left PENDING; the caller
	// still gets the gateway error.
	if err != nil {
		_ = s.fail(bg, rec, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	if !resp.Accepted() {
		_ = s.fail(bg, rec, resp.Description())
		return nil, fmt.Errorf("%w: %s", ErrGatewayRejected, resp.Description())
	}

	// Callbacks may arrive before complete runs; they find the record by this reference.
	s.attachRef(bg, rec, resp.Reference())

	balance, err := s.complete(bg, wallet, rec, resp.Reference(), resp.Description())
	if errors.Is(err, ErrConflict) {
		// settled by a callback in the meantime
		return s.settled(bg, wallet, rec)
	}
	if err != nil {
		return nil, err
	}
	return &TransactResult{Transaction: *rec, Balance: balance, Message: resp.Description()}, nil
}

// attachRef stores the gateway reference on a record that has none yet.
func (s *WalletService) attachRef(ctx context.Context, rec *models.WalletTransaction, ref string) {
	if ref == "" {
		return
	}
	if err := s.db.WithContext(ctx).Model(&models.WalletTransaction{}).
		Where("id = ? AND gateway_ref = ?", rec.ID, "").
		Update("gateway_ref", ref).Error; err != nil {
		s.log.Error("store gateway reference", zap.Uint64("transaction_id", rec.ID), zap.String("ref", ref), zap.Error(err))
		return
	}
	rec.GatewayRef = ref
}

func (s *WalletService) settled(ctx context.Context, wallet *models.Wallet, rec *models.WalletTransaction) (*TransactResult, error) {
	var current models.WalletTransaction
	if err := s.db.WithContext(ctx).First(&current, rec.ID).Error; err != nil {
		return nil, persistence(err)
	}
	*rec = current
	res, err := s.outcome(ctx, wallet, rec)
	if err != nil {
		return nil, err
	}
	res.Replayed = false
	return res, nil
}

func (s *WalletService) startCardDeposit(ctx context.Context, wallet *models.Wallet, rec *models.WalletTransaction) (*TransactResult, error) {
	customer := card.Customer{}
	if wallet.User != nil {
		customer = card.Customer{Name: wallet.User.Name, Email: wallet.User.Email, Phone: wallet.User.Phone}
	}

	checkout, err := s.card.CreateDeposit(ctx, rec.GatewayRef, rec.Amount.IntPart(), customer)
	if err != nil {
		_ = s.fail(context.WithoutCancel(ctx), rec, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	return &TransactResult{
		Transaction: *rec,
		Balance:     wallet.Balance,
		Message:     "Complete the card payment to credit your wallet",
		Checkout:    checkout,
	}, nil
}

// complete moves a PENDING record to COMPLETED, credits deposits and queues
// the completion event, all in one DB transaction. It returns the new balance.
func (s *WalletService) complete(ctx context.Context, wallet *models.Wallet, rec *models.WalletTransaction, ref, message string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	message = truncate(message)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{"status": models.TxCompleted, "gateway_message": message}
		if ref != "" {
			updates["gateway_ref"] = ref
		}
		res := tx.Model(&models.WalletTransaction{}).
			Where("id = ? AND status = ?", rec.ID, models.TxPending).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: transaction %d is no longer pending", ErrConflict, rec.ID)
		}

		if rec.Type == models.TxDeposit {
			if err := credit(tx, rec.WalletID, rec.Amount); err != nil {
				return err
			}
		}

		var w models.Wallet
		if err := tx.First(&w, rec.WalletID).Error; err != nil {
			return err
		}
		balance = w.Balance

		if ref != "" {
			rec.GatewayRef = ref
		}
		rec.Status = models.TxCompleted
		rec.GatewayMessage = message
		return events.Enqueue(tx, topics.WalletTransactionCompleted, walletKey(rec.WalletID),
			transactionEvent(rec, wallet.UserID, balance))
	})
	if err != nil {
		rec.Status = models.TxPending
		if errors.Is(err, ErrConflict) {
			return decimal.Zero, err
		}
		s.log.Error("complete wallet transaction", zap.Uint64("transaction_id", rec.ID), zap.Error(err))
		return decimal.Zero, persistence(err)
	}

	metrics.WalletTransactions.WithLabelValues(rec.Type, rec.Method, models.TxCompleted).Inc()
	s.log.Info("wallet transaction completed",
		zap.Uint64("transaction_id", rec.ID),
		zap.String("type", rec.Type),
		zap.String("method", rec.Method),
		zap.String("amount", rec.Amount.String()))

	s.notify(wallet.User, rec.Type+" successful",
		fmt.Sprintf("%s of %s KSH completed. New balance %s KSH", rec.Type, rec.Amount.String(), balance.StringFixed(2)),
		map[string]string{"transaction_id": fmt.Sprint(rec.ID), "status": models.TxCompleted})
	return balance, nil
}

// fail marks a PENDING record FAILED and gives back reserved withdrawal funds.
// A record that is no longer PENDING is left alone.
func (s *WalletService) fail(ctx context.Context, rec *models.WalletTransaction, message string) error {
	message = truncate(message)
	compensated := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.WalletTransaction{}).
			Where("id = ? AND status = ?", rec.ID, models.TxPending).
			Updates(map[string]interface{}{"status": models.TxFailed, "gateway_message": message})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		compensated = true
		if rec.Type == models.TxWithdrawal {
			return credit(tx, rec.WalletID, rec.Amount)
		}
		return nil
	})
	if err != nil {
		// The reservation stays in place; the record is left PENDING for reconciliation.
		s.log.Error("compensate wallet transaction", zap.Uint64("transaction_id", rec.ID), zap.Error(err))
		return persistence(err)
	}
	if !compensated {
		return nil
	}

	rec.Status = models.TxFailed
	rec.GatewayMessage = message
	metrics.WalletTransactions.WithLabelValues(rec.Type, rec.Method, models.TxFailed).Inc()
	s.log.Warn("wallet transaction failed",
		zap.Uint64("transaction_id", rec.ID),
		zap.String("type", rec.Type),
		zap.String("reason", message))
	return nil
}

// reverse undoes a COMPLETED transaction the gateway later reported as failed.
// A deposit whose funds were already spent is flagged DISPUTED instead.
func (s *WalletService) reverse(ctx context.Context, wallet *models.Wallet, rec *models.WalletTransaction, message string) error {
	message = truncate(message)
	status := models.TxReversed
	var balance decimal.Decimal

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.WalletTransaction{}).
			Where("id = ? AND status = ?", rec.ID, models.TxCompleted).
			Updates(map[string]interface{}{"status": models.TxReversed, "gateway_message": message})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			status = ""
			return nil
		}

		if rec.Type == models.TxDeposit {
			err := debit(tx, rec.WalletID, rec.Amount)
			if errors.Is(err, ErrInsufficientFunds) {
				status = models.TxDisputed
				return tx.Model(&models.WalletTransaction{}).Where("id = ?", rec.ID).
					Update("status", models.TxDisputed).Error
			}
			if err != nil {
				return err
			}
		} else if err := credit(tx, rec.WalletID, rec.Amount); err != nil {
			return err
		}

		var w models.Wallet
		if err := tx.First(&w, rec.WalletID).Error; err != nil {
			return err
		}
		balance = w.Balance
		rec.Status = models.TxReversed
		rec.GatewayMessage = message
		return events.Enqueue(tx, topics.WalletTransactionReversed, walletKey(rec.WalletID),
			transactionEvent(rec, wallet.UserID, balance))
	})
	if err != nil {
		return persistence(err)
	}
	if status == "" {
		return nil
	}

	rec.Status = status
	rec.GatewayMessage = message
	metrics.WalletTransactions.WithLabelValues(rec.Type, rec.Method, status).Inc()
	if status == models.TxDisputed {
		s.log.Error("reversal needs manual review, funds already spent",
			zap.Uint64("transaction_id", rec.ID), zap.Uint64("wallet_id", rec.WalletID))
		return nil
	}

	s.log.Warn("wallet transaction reversed", zap.Uint64("transaction_id", rec.ID), zap.String("reason", message))
	s.notify(wallet.User, rec.Type+" reversed",
		fmt.Sprintf("%s of %s KSH was reversed: %s", rec.Type, rec.Amount.String(), message),
		map[string]string{"transaction_id": fmt.Sprint(rec.ID), "status": models.TxReversed})
	return nil
}

// HandleSTKCallback reconciles a deposit with the payer's final answer to the prompt.
func (s *WalletService) HandleSTKCallback(ctx context.Context, cb mpesa.STKCallback) error {
	body := cb.Body.StkCallback
	rec, wallet, err := s.byGatewayRef(ctx, body.CheckoutRequestID, models.TxDeposit, models.MethodMPesa)
	if err != nil {
		return err
	}

	if body.ResultCode == 0 {
		if rec.Status == models.TxPending {
			_, err := s.complete(ctx, wallet, rec, "", body.ResultDesc)
			return ignoreConflict(err)
		}
		return s.note(ctx, rec, body.ResultDesc)
	}

	switch rec.Status {
	case models.TxPending:
		return s.fail(ctx, rec, body.ResultDesc)
	case models.TxCompleted:
		return s.reverse(ctx, wallet, rec, body.ResultDesc)
	}
	return nil
}

// HandleB2CResult reconciles a withdrawal with its disbursement result. A
// queue timeout counts as a failed disbursement. Results are matched on the
// OriginatorConversationID we sent, so they are found even before the
// synchronous response has been processed.
func (s *WalletService) HandleB2CResult(ctx context.Context, result mpesa.B2CResult, timedOut bool) error {
	r := result.Result
	rec, wallet, err := s.withdrawalFor(ctx, r.OriginatorConversationID, r.ConversationID)
	if err != nil {
		return err
	}

	desc := r.ResultDesc
	if timedOut && desc == "" {
		desc = "B2C request timed out in queue"
	}

	if !timedOut && r.ResultCode == 0 {
		if rec.Status == models.TxPending {
			_, err := s.complete(ctx, wallet, rec, "", desc)
			return ignoreConflict(err)
		}
		return s.note(ctx, rec, desc)
	}

	switch rec.Status {
	case models.TxPending:
		return s.fail(ctx, rec, desc)
	case models.TxCompleted:
		return s.reverse(ctx, wallet, rec, desc)
	}
	return nil
}

// HandleCardNotification settles a card deposit. The notification body is not
// trusted; the status is fetched from the provider.
func (s *WalletService) HandleCardNotification(ctx context.Context, orderID string) (*models.WalletTransaction, error) {
	if orderID == "" {
		return nil, fmt.Errorf("%w: order_id is required", ErrInvalidInput)
	}
	rec, wallet, err := s.byGatewayRef(ctx, orderID, models.TxDeposit, models.MethodCard)
	if err != nil {
		return nil, err
	}

	status, err := s.card.Status(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	switch status.Outcome() {
	case card.OutcomePaid:
		if rec.Status != models.TxPending {
			break
		}
		if paid, err := decimal.NewFromString(status.GrossAmount); err == nil && !paid.Equal(rec.Amount) {
			s.log.Error("card amount mismatch", zap.String("order_id", orderID),
				zap.String("expected", rec.Amount.String()), zap.String("paid", status.GrossAmount))
			return nil, fmt.Errorf("%w: paid amount %s does not match %s", ErrConflict, status.GrossAmount, rec.Amount.String())
		}
		if _, err := s.complete(ctx, wallet, rec, "", status.TransactionStatus); ignoreConflict(err) != nil {
			return nil, err
		}
	case card.OutcomeFailed:
		if rec.Status == models.TxPending {
			if err := s.fail(ctx, rec, status.TransactionStatus); err != nil {
				return nil, err
			}
		}
	}
	return rec, nil
}

func (s *WalletService) note(ctx context.Context, rec *models.WalletTransaction, message string) error {
	if message == "" {
		return nil
	}
	if err := s.db.WithContext(ctx).Model(&models.WalletTransaction{}).Where("id = ?", rec.ID).
		Update("gateway_message", truncate(message)).Error; err != nil {
		return persistence(err)
	}
	return nil
}

func (s *WalletService) walletOf(ctx context.Context, userID uint64) (*models.Wallet, error) {
	var wallet models.Wallet
	err := s.db.WithContext(ctx).Preload("User").Where("user_id = ?", userID).First(&wallet).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: wallet for user %d", ErrNotFound, userID)
	}
	if err != nil {
		return nil, persistence(err)
	}
	return &wallet, nil
}

func (s *WalletService) byKey(ctx context.Context, walletID uint64, key string) (*models.WalletTransaction, error) {
	var rec models.WalletTransaction
	err := s.db.WithContext(ctx).Where("wallet_id = ? AND idempotency_key = ?", walletID, key).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, persistence(err)
	}
	return &rec, nil
}

func (s *WalletService) byGatewayRef(ctx context.Context, ref, txType, method string) (*models.WalletTransaction, *models.Wallet, error) {
	if ref == "" {
		return nil, nil, fmt.Errorf("%w: missing gateway reference", ErrInvalidInput)
	}

	return s.lookup(ctx, ref, s.db.WithContext(ctx).Where("gateway_ref = ? AND type = ? AND method = ?", ref, txType, method))
}

// withdrawalFor finds an M-Pesa withdrawal by the originator reference it was
// sent with, falling back to the ConversationID Daraja assigned.
func (s *WalletService) withdrawalFor(ctx context.Context, originatorRef, conversationID string) (*models.WalletTransaction, *models.Wallet, error) {
	if id, ok := parseB2CReference(originatorRef); ok {
		rec, wallet, err := s.lookup(ctx, originatorRef, s.db.WithContext(ctx).
			Where("id = ? AND type = ? AND method = ?", id, models.TxWithdrawal, models.MethodMPesa))
		if !errors.Is(err, ErrNotFound) || conversationID == "" {
			return rec, wallet, err
		}
	}
	return s.byGatewayRef(ctx, conversationID, models.TxWithdrawal, models.MethodMPesa)
}

func (s *WalletService) lookup(ctx context.Context, ref string, q *gorm.DB) (*models.WalletTransaction, *models.Wallet, error) {
	var rec models.WalletTransaction
	err := q.First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, fmt.Errorf("%w: transaction %s", ErrNotFound, ref)
	}
	if err != nil {
		return nil, nil, persistence(err)
	}

	var wallet models.Wallet
	if err := s.db.WithContext(ctx).Preload("User").First(&wallet, rec.WalletID).Error; err != nil {
		return nil, nil, persistence(err)
	}
	return &rec, &wallet, nil
}

// notify pushes to the user's device in the background; failures are only logged.
func (s *WalletService) notify(user *models.User, title, body string, data map[string]string) {
	if user == nil || user.FCMToken == "" {
		return
	}
	token := user.FCMToken
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.notifier.Send(ctx, token, title, body, data); err != nil {
			s.log.Warn("push notification failed", zap.Uint64("user_id", user.ID), zap.Error(err))
		}
	}()
}

// debit takes amount from the wallet only if the balance covers it.
func debit(tx *gorm.DB, walletID uint64, amount decimal.Decimal) error {
	res := tx.Model(&models.Wallet{}).
		Where("id = ? AND balance >= ?", walletID, amount).
		Update("balance", gorm.Expr("balance - ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: balance is lower than %s", ErrInsufficientFunds, amount.String())
	}
	return nil
}

func credit(tx *gorm.DB, walletID uint64, amount decimal.Decimal) error {
	res := tx.Model(&models.Wallet{}).
		Where("id = ?", walletID).
		Update("balance", gorm.Expr("balance + ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: wallet %d", ErrNotFound, walletID)
	}
	return nil
}

func transactionEvent(rec *models.WalletTransaction, userID uint64, balance decimal.Decimal) contracts.WalletTransaction {
	return contracts.WalletTransaction{
		TransactionID: rec.ID,
		WalletID:      rec.WalletID,
		UserID:        userID,
		Type:          rec.Type,
		Method:        rec.Method,
		Status:        rec.Status,
		Amount:        rec.Amount.StringFixed(2),
		Balance:       balance.StringFixed(2),
		GatewayRef:    rec.GatewayRef,
		TsUnixMs:      time.Now().UnixMilli(),
	}
}

func walletKey(walletID uint64) string { return fmt.Sprintf("wallet-%d", walletID) }

func b2cReference(id uint64) string { return b2cRefPrefix + strconv.FormatUint(id, 10) }

func parseB2CReference(ref string) (uint64, bool) {
	digits, ok := strings.CutPrefix(ref, b2cRefPrefix)
	if !ok {
		return 0, false
	}
	return utils.ParseID(digits)
}

func ignoreConflict(err error) error {
	if errors.Is(err, ErrConflict) {
		return nil
	}
	return err
}

func truncate(s string) string { return utils.Truncate(s, maxMessageLen) }
