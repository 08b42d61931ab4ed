package mpesa

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"jcm-p2p-backend/internal/config"
)

type fakeDaraja struct {
	tokenCalls atomic.Int32
	stk        []stkPushRequest
	b2c        []b2cRequest
	reply      func(w http.ResponseWriter)
	rejectAuth atomic.Int32 // number of API calls to answer 401
}

func (f *fakeDaraja) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "key", user)
		require.Equal(t, "secret", pass)
		f.tokenCalls.Add(1)
		_ = json.NewEncoder(w).Encode(tokenResponse{AccessToken: "tok", ExpiresIn: "3599"})
	})
	mux.HandleFunc(stkPushPath, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		if f.rejectAuth.Load() > 0 {
			f.rejectAuth.Add(-1)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req stkPushRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.stk = append(f.stk, req)
		f.reply(w)
	})
	mux.HandleFunc(b2cPath, func(w http.ResponseWriter, r *http.Request) {
		var req b2cRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.b2c = append(f.b2c, req)
		f.reply(w)
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeDaraja) *Client {
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	c := NewClient(config.MPesaConfig{
		BaseURL:            srv.URL,
		ConsumerKey:        "key",
		ConsumerSecret:     "secret",
		ShortCode:          "174379",
		PassKey:            "pass",
		InitiatorName:      "testapi",
		SecurityCredential: "cred",
		AccountReference:   "JCM-P2P",
		CallbackURL:        "https://example.com/stk",
		ResultURL:          "https://example.com/b2c?x=1",
		TimeoutURL:         "https://example.com/timeout",
		CallbackToken:      "cb",
		Timeout:            time.Second,
	}, NewMemoryTokenStore(), zap.NewNop())
	c.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return c
}

func accepted(w http.ResponseWriter) {
	_ = json.NewEncoder(w).Encode(Response{
		CheckoutRequestID:   "ws_CO_1",
		ConversationID:      "AG_1",
		ResponseCode:        "0",
		ResponseDescription: "Success. Request accepted for processing",
	})
}

func TestSTKPushBuildsDarajaRequest(t *testing.T) {
	f := &fakeDaraja{reply: accepted}
	c := newTestClient(t, f)

	res, err := c.STKPush(context.Background(), "254712345678", 100, "Deposit of 100 KSH")
	require.NoError(t, err)
	require.True(t, res.Accepted())
	require.Equal(t, "ws_CO_1", res.Reference())

	require.Len(t, f.stk, 1)
	req := f.stk[0]
	require.Equal(t, "20260102060405", req.Timestamp) // EAT is UTC+3
	require.Equal(t, base64.StdEncoding.EncodeToString([]byte("174379pass20260102060405")), req.Password)
	require.Equal(t, int64(100), req.Amount)
	require.Equal(t, "254712345678", req.PartyA)
	require.Equal(t, "254712345678", req.PhoneNumber)
	require.Equal(t, "174379", req.PartyB)
	require.Equal(t, "https://example.com/stk?token=cb", req.CallBackURL)
	require.Equal(t, "Deposit of 100 KSH", req.TransactionDesc)
}

func TestAccessTokenIsCached(t *testing.T) {
	f := &fakeDaraja{reply: accepted}
	c := newTestClient(t, f)

	for i := 0; i < 3; i++ {
		_, err := c.STKPush(context.Background(), "254712345678", 10, "d")
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), f.tokenCalls.Load())
}

func TestUnauthorizedRefreshesTokenOnce(t *testing.T) {
	f := &fakeDaraja{reply: accepted}
	f.rejectAuth.Store(1)
	c := newTestClient(t, f)

	res, err := c.STKPush(context.Background(), "254712345678", 10, "d")
	require.NoError(t, err)
	require.True(t, res.Accepted())
	require.Equal(t, int32(2), f.tokenCalls.Load())
}

func TestB2CRequestAndRejection(t *testing.T) {
	f := &fakeDaraja{reply: func(w http.ResponseWriter) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"requestId":"r1","errorCode":"400.002.02","errorMessage":"Bad Request - Invalid Amount"}`))
	}}
	c := newTestClient(t, f)

	res, err := c.B2C(context.Background(), "254712345678", 600, "ref-1", "Withdrawal of 600 KSH")
	require.NoError(t, err)
	require.False(t, res.Accepted())
	require.Equal(t, "Bad Request - Invalid Amount", res.Description())

	require.Len(t, f.b2c, 1)
	req := f.b2c[0]
	require.Equal(t, "ref-1", req.OriginatorConversationID)
	require.Equal(t, "BusinessPayment", req.CommandID)
	require.Equal(t, "174379", req.PartyA)
	require.Equal(t, "254712345678", req.PartyB)
	require.Equal(t, "https://example.com/b2c?x=1&token=cb", req.ResultURL)
	require.Equal(t, "https://example.com/timeout?token=cb", req.QueueTimeOutURL)
}

func TestServerErrorIsUnavailable(t *testing.T) {
	f := &fakeDaraja{reply: func(w http.ResponseWriter) { w.WriteHeader(http.StatusBadGateway) }}
	c := newTestClient(t, f)

	_, err := c.STKPush(context.Background(), "254712345678", 10, "d")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestUnreachableGatewayIsUnavailable(t *testing.T) {
	c := NewClient(config.MPesaConfig{BaseURL: "http://127.0.0.1:1", Timeout: time.Second},
		NewMemoryTokenStore(), zap.NewNop())

	_, err := c.B2C(context.Background(), "254712345678", 10, "r", "d")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestMemoryTokenStoreExpiry(t *testing.T) {
	s := NewMemoryTokenStore()
	now := time.Now()
	s.now = func() time.Time { return now }

	require.NoError(t, s.Set(context.Background(), "k", "v", time.Minute))
	v, err := s.Get(context.Background(), "k")
	require.NoError(t, err)
	require.Equal(t, "v", v)

	now = now.Add(2 * time.Minute)
	_, err = s.Get(context.Background(), "k")
	require.ErrorIs(t, err, ErrTokenMiss)
}
