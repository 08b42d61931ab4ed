package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"jcm-p2p-backend/pkg/utils"
)

func init() { gin.SetMode(gin.TestMode) }

func serve(r *gin.Engine, method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	r := gin.New()
	r.GET("/me", AuthMiddleware("secret"), func(c *gin.Context) {
		id, ok := UserID(c)
		require.True(t, ok)
		email, _ := c.Get(EmailKey)
		c.JSON(http.StatusOK, gin.H{"id": id, "email": email})
	})

	require.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/me", nil).Code)

	w := serve(r, http.MethodGet, "/me", http.Header{"Authorization": {"Token abc"}})
	require.Equal(t, http.StatusForbidden, w.Code)

	w = serve(r, http.MethodGet, "/me", http.Header{"Authorization": {"Bearer not-a-jwt"}})
	require.Equal(t, http.StatusForbidden, w.Code)

	expired, err := utils.GenerateToken("secret", -time.Minute, 5, "a@example.com")
	require.NoError(t, err)
	w = serve(r, http.MethodGet, "/me", http.Header{"Authorization": {"Bearer " + expired}})
	require.Equal(t, http.StatusForbidden, w.Code)

	foreign, err := utils.GenerateToken("other-secret", time.Hour, 5, "a@example.com")
	require.NoError(t, err)
	w = serve(r, http.MethodGet, "/me", http.Header{"Authorization": {"Bearer " + foreign}})
	require.Equal(t, http.StatusForbidden, w.Code)

	good, err := utils.GenerateToken("secret", time.Hour, 5, "a@example.com")
	require.NoError(t, err)
	w = serve(r, http.MethodGet, "/me", http.Header{"Authorization": {"Bearer " + good}})
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"id":5,"email":"a@example.com"}`, w.Body.String())
}

func TestRateLimitMiddleware(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := gin.New()
	r.Use(RateLimitMiddleware(NewIPRateLimiter(ctx, 1, 2)))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	require.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/ping", nil).Code)
	require.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/ping", nil).Code)
	require.Equal(t, http.StatusTooManyRequests, serve(r, http.MethodGet, "/ping", nil).Code)
}

func TestIdleVisitorsAreSwept(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := time.Now()
	l := NewIPRateLimiter(ctx, 1, 1)
	l.now = func() time.Time { return now }
	l.GetLimiter("10.0.0.1")
	l.GetLimiter("10.0.0.2")

	now = now.Add(2 * time.Minute)
	l.GetLimiter("10.0.0.2")
	now = now.Add(2 * time.Minute)
	l.sweep()
	require.Equal(t, 1, l.size())
}

func TestCORSPreflight(t *testing.T) {
	r := gin.New()
	r.Use(CORSMiddleware("https://app.example"))
	r.POST("/api/login", func(c *gin.Context) { c.Status(http.StatusOK) })

	preflight := func(origin string) *httptest.ResponseRecorder {
		return serve(r, http.MethodOptions, "/api/login", http.Header{
			"Origin":                         {origin},
			"Access-Control-Request-Method":  {http.MethodPost},
			"Access-Control-Request-Headers": {"Authorization, Idempotency-Key"},
		})
	}

	w := preflight("https://app.example")
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "https://app.example", w.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Idempotency-Key")
	require.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Authorization")

	require.Equal(t, http.StatusForbidden, preflight("https://evil.example").Code)

	// same-origin and non-browser calls carry no Origin header
	require.Equal(t, http.StatusOK, serve(r, http.MethodPost, "/api/login", nil).Code)
}

func TestRecoveryAnswers500(t *testing.T) {
	r := gin.New()
	r.Use(RequestLogger(zap.NewNop()), Recovery(zap.NewNop()))
	r.GET("/boom", func(c *gin.Context) { panic("boom") })
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(r, http.MethodGet, "/boom", nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.JSONEq(t, `{"success":false,"message":"Internal server error"}`, w.Body.String())

	require.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/ok", nil).Code)
}
