package services

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"jcm-p2p-backend/internal/config"
	"jcm-p2p-backend/internal/gateway/card"
	"jcm-p2p-backend/internal/gateway/mpesa"
	"jcm-p2p-backend/internal/models"
	"jcm-p2p-backend/internal/store"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	// One connection: every test gets its own private in-memory database.
	db, err := store.Open(config.DatabaseConfig{Driver: "sqlite", DSN: "file::memory:", MaxOpenConns: 1}, zap.NewNop())
	require.NoError(t, err)
	_, err = store.Migrate(db, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close(db) })
	return db
}

// setupConcurrentDB is file-backed with a real connection pool so concurrent
// callers actually overlap. Write transactions take the lock on BEGIN and
// wait for each other instead of failing with SQLITE_BUSY.
func setupConcurrentDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "jcm.db") + "?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	db, err := store.Open(config.DatabaseConfig{Driver: "sqlite", DSN: dsn, MaxOpenConns: 8}, zap.NewNop())
	require.NoError(t, err)
	_, err = store.Migrate(db, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close(db) })
	return db
}

// race starts n calls of fn at the same moment and collects their errors.
func race(n int, fn func(i int) error) []error {
	errs := make([]error, n)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = fn(i)
		}(i)
	}
	close(start)
	wg.Wait()
	return errs
}

func testConfig() config.Config {
	return config.Config{JWTSecret: "test-secret", TokenTTL: time.Hour, UploadDir: "uploads"}
}

var phoneSeq = 100000

func registerUser(t *testing.T, db *gorm.DB, name string) *models.User {
	t.Helper()
	phoneSeq++
	u, err := NewUserService(db, testConfig(), zap.NewNop()).Register(context.Background(), models.RegisterInput{
		Name:     name,
		Email:    fmt.Sprintf("%s%d@example.com", name, phoneSeq),
		Password: "secret123",
		Phone:    fmt.Sprintf("0712%06d", phoneSeq),
	})
	require.NoError(t, err)
	return u
}

func setBalance(t *testing.T, db *gorm.DB, userID uint64, amount int64) {
	t.Helper()
	require.NoError(t, db.Model(&models.Wallet{}).Where("user_id = ?", userID).
		Update("balance", decimal.NewFromInt(amount)).Error)
}

func requireBalance(t *testing.T, db *gorm.DB, userID uint64, want string) {
	t.Helper()
	var w models.Wallet
	require.NoError(t, db.Where("user_id = ?", userID).First(&w).Error)
	require.True(t, decimal.RequireFromString(want).Equal(w.Balance.Round(2)), "balance %s, want %s", w.Balance, want)
}

func countRows(t *testing.T, db *gorm.DB, model interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}

type fakeMobile struct {
	mu     sync.Mutex
	code   string
	desc   string
	err    error
	calls  int
	amount int64
	phone  string
	ref    int

	// onB2C runs after Daraja accepted the request but before the
	// response reaches the caller, like a fast result callback.
	onB2C func(reference string)
}

func (f *fakeMobile) respond(msisdn string, amount int64) (*mpesa.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.amount = amount
	f.phone = msisdn
	if f.err != nil {
		return nil, f.err
	}
	f.ref++
	code := f.code
	if code == "" {
		code = "0"
	}
	return &mpesa.Response{
		ResponseCode:        code,
		ResponseDescription: f.desc,
		CheckoutRequestID:   fmt.Sprintf("ws_CO_%d", f.ref),
	}, nil
}

func (f *fakeMobile) STKPush(_ context.Context, msisdn string, amount int64, _ string) (*mpesa.Response, error) {
	return f.respond(msisdn, amount)
}

func (f *fakeMobile) B2C(_ context.Context, msisdn string, amount int64, reference, _ string) (*mpesa.Response, error) {
	resp, err := f.respond(msisdn, amount)
	if resp != nil {
		resp.ConversationID = "AG_" + resp.CheckoutRequestID
		resp.OriginatorConversationID = reference
		resp.CheckoutRequestID = ""
	}
	if err == nil && f.onB2C != nil {
		f.onB2C(reference)
	}
	return resp, err
}

type fakeCard struct {
	status  card.Status
	created []string
	err     error
}

func (f *fakeCard) CreateDeposit(_ context.Context, orderID string, _ int64, _ card.Customer) (*card.Checkout, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.created = append(f.created, orderID)
	return &card.Checkout{Token: "snap-token", RedirectURL: "https://pay.example/" + orderID}, nil
}

func (f *fakeCard) Status(_ context.Context, orderID string) (*card.Status, error) {
	st := f.status
	st.OrderID = orderID
	return &st, nil
}

type recordingHub struct {
	mu   sync.Mutex
	sent []interface{}
}

func (h *recordingHub) Broadcast(v interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, v)
}
