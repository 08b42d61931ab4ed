package card

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/midtrans/midtrans-go/snap"

	"jcm-p2p-backend/internal/config"
	"jcm-p2p-backend/internal/metrics"
)

// ErrUnavailable wraps any failure talking to Midtrans.
var ErrUnavailable = errors.New("card gateway unavailable")

type Customer struct {
	Name  string
	Email string
	Phone string
}

type Checkout struct {
	Token       string `json:"snap_token"`
	RedirectURL string `json:"redirect_url"`
}

type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomePaid
	OutcomeFailed
)

// Status is the authoritative state of a card payment.
type Status struct {
	OrderID           string
	TransactionStatus string
	FraudStatus       string
	GrossAmount       string
}

func (s Status) Outcome() Outcome {
	switch s.TransactionStatus {
	case "capture":
		if s.FraudStatus == "accept" {
			return OutcomePaid
		}
		return OutcomePending // "challenge": still being reviewed by the bank
	case "settlement":
		return OutcomePaid
	case "deny", "cancel", "expire", "failure":
		return OutcomeFailed
	}
	return OutcomePending
}

// Gateway is the card deposit provider.
type Gateway interface {
	CreateDeposit(ctx context.Context, orderID string, amount int64, customer Customer) (*Checkout, error)
	Status(ctx context.Context, orderID string) (*Status, error)
}

type Midtrans struct {
	snap snap.Client
	core coreapi.Client
}

func NewMidtrans(cfg config.MidtransConfig) *Midtrans {
	env := midtrans.Sandbox
	if cfg.Environment == "production" {
		env = midtrans.Production
	}

	m := &Midtrans{}
	m.snap.New(cfg.ServerKey, env)
	m.core.New(cfg.ServerKey, env)
	return m
}

// CreateDeposit opens a Snap checkout; the wallet is credited only once the
// notification is confirmed through Status.
func (m *Midtrans) CreateDeposit(_ context.Context, orderID string, amount int64, customer Customer) (*Checkout, error) {
	start := time.Now()

	req := &snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  orderID,
			GrossAmt: amount,
		},
		CreditCard: &snap.CreditCardDetails{
			Secure: true,
		},
		CustomerDetail: &midtrans.CustomerDetails{
			FName: customer.Name,
			Email: customer.Email,
			Phone: customer.Phone,
		},
		Items: &[]midtrans.ItemDetails{
			{
				ID:    "WALLET-DEPOSIT",
				Name:  "Wallet deposit",
				Price: amount,
				Qty:   1,
			},
		},
	}

	resp, mErr := m.snap.CreateTransaction(req)
	if mErr != nil {
		metrics.GatewayDuration.WithLabelValues("midtrans", "snap_create", "error").Observe(time.Since(start).Seconds())
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, mErr.GetMessage())
	}
	metrics.GatewayDuration.WithLabelValues("midtrans", "snap_create", "accepted").Observe(time.Since(start).Seconds())

	return &Checkout{Token: resp.Token, RedirectURL: resp.RedirectURL}, nil
}

func (m *Midtrans) Status(_ context.Context, orderID string) (*Status, error) {
	start := time.Now()

	resp, mErr := m.core.CheckTransaction(orderID)
	if mErr != nil {
		metrics.GatewayDuration.WithLabelValues("midtrans", "status", "error").Observe(time.Since(start).Seconds())
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, mErr.GetMessage())
	}
	metrics.GatewayDuration.WithLabelValues("midtrans", "status", "accepted").Observe(time.Since(start).Seconds())

	return &Status{
		OrderID:           resp.OrderID,
		TransactionStatus: resp.TransactionStatus,
		FraudStatus:       resp.FraudStatus,
		GrossAmount:       resp.GrossAmount,
	}, nil
}
