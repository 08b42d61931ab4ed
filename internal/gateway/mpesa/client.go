package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"jcm-p2p-backend/internal/config"
	"jcm-p2p-backend/internal/metrics"
)

const (
	tokenPath   = "/oauth/v1/generate?grant_type=client_credentials"
	stkPushPath = "/mpesa/stkpush/v1/processrequest"
	b2cPath     = "/mpesa/b2c/v1/paymentrequest"

	tokenCacheKey = "mpesa:access_token"
)

// ErrUnavailable wraps transport failures and 5xx answers.
var ErrUnavailable = errors.New("m-pesa unavailable")

// Daraja timestamps are East Africa Time.
var eat = time.FixedZone("EAT", 3*60*60)

type Client struct {
	cfg    config.MPesaConfig
	http   *http.Client
	tokens TokenStore
	log    *zap.Logger
	now    func() time.Time
}

func NewClient(cfg config.MPesaConfig, tokens TokenStore, log *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		tokens: tokens,
		log:    log,
		now:    time.Now,
	}
}

// STKPush asks the payer's phone to authorise a deposit into the paybill.
func (c *Client) STKPush(ctx context.Context, msisdn string, amount int64, description string) (*Response, error) {
	ts := c.now().In(eat).Format("20060102150405")
	password := base64.StdEncoding.EncodeToString([]byte(c.cfg.ShortCode + c.cfg.PassKey + ts))

	body := stkPushRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          password,
		Timestamp:         ts,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            amount,
		PartyA:            msisdn,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       msisdn,
		CallBackURL:       withToken(c.cfg.CallbackURL, c.cfg.CallbackToken),
		AccountReference:  c.cfg.AccountReference,
		TransactionDesc:   description,
	}
	return c.post(ctx, "stk_push", stkPushPath, body)
}

// B2C disburses a withdrawal to the customer's phone. reference becomes the
// OriginatorConversationID so results can be matched back.
func (c *Client) B2C(ctx context.Context, msisdn string, amount int64, reference, description string) (*Response, error) {
	body := b2cRequest{
		OriginatorConversationID: reference,
		InitiatorName:            c.cfg.InitiatorName,
		SecurityCredential:       c.cfg.SecurityCredential,
		CommandID:                "BusinessPayment",
		Amount:                   amount,
		PartyA:                   c.cfg.ShortCode,
		PartyB:                   msisdn,
		Remarks:                  description,
		QueueTimeOutURL:          withToken(c.cfg.TimeoutURL, c.cfg.CallbackToken),
		ResultURL:                withToken(c.cfg.ResultURL, c.cfg.CallbackToken),
		Occasion:                 "Withdrawal",
	}
	return c.post(ctx, "b2c", b2cPath, body)
}

func (c *Client) post(ctx context.Context, op, path string, body interface{}) (resp *Response, err error) {
	start := time.Now()
	defer func() {
		outcome := "accepted"
		switch {
		case err != nil:
			outcome = "error"
		case !resp.Accepted():
			outcome = "rejected"
		}
		metrics.GatewayDuration.WithLabelValues("mpesa", op, outcome).Observe(time.Since(start).Seconds())
	}()

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	status, raw, err := c.send(ctx, path, token, payload)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		// cached token revoked or expired early; refresh once
		_ = c.tokens.Delete(ctx, tokenCacheKey)
		if token, err = c.accessToken(ctx); err != nil {
			return nil, err
		}
		if status, raw, err = c.send(ctx, path, token, payload); err != nil {
			return nil, err
		}
	}
	if status >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: %s returned %d", ErrUnavailable, op, status)
	}

	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: decode %s response: %v", ErrUnavailable, op, err)
	}
	if out.ResponseCode == "" && out.ErrorCode != "" {
		out.ResponseCode = out.ErrorCode
	}
	if out.ResponseCode == "" {
		return nil, fmt.Errorf("%w: %s response without code (status %d)", ErrUnavailable, op, status)
	}

	c.log.Info("m-pesa request",
		zap.String("op", op),
		zap.String("response_code", out.ResponseCode),
		zap.String("reference", out.Reference()),
	)
	return &out, nil
}

func (c *Client) send(ctx context.Context, path, token string, payload []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}
	return res.StatusCode, raw, nil
}

// accessToken returns a cached token or exchanges the consumer key/secret.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	if tok, err := c.tokens.Get(ctx, tokenCacheKey); err == nil {
		return tok, nil
	} else if !errors.Is(err, ErrTokenMiss) {
		c.log.Warn("token cache read failed", zap.Error(err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+tokenPath, nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	res, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: token exchange: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: token exchange returned %d", ErrUnavailable, res.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(res.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("%w: decode token: %v", ErrUnavailable, err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrUnavailable)
	}

	ttl := 3599 * time.Second
	if secs, err := strconv.Atoi(tr.ExpiresIn); err == nil && secs > 0 {
		ttl = time.Duration(secs) * time.Second
	}
	// drop it a minute before Daraja does
	if ttl > 2*time.Minute {
		ttl -= time.Minute
	}
	if err := c.tokens.Set(ctx, tokenCacheKey, tr.AccessToken, ttl); err != nil {
		c.log.Warn("token cache write failed", zap.Error(err))
	}
	return tr.AccessToken, nil
}

func withToken(target, token string) string {
	if token == "" {
		return target
	}
	sep := "?"
	if strings.Contains(target, "?") {
		sep = "&"
	}
	return target + sep + "token=" + token
}
