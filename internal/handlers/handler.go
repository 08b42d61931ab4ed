package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"jcm-p2p-backend/internal/chat"
	"jcm-p2p-backend/internal/middleware"
	"jcm-p2p-backend/internal/services"
	"jcm-p2p-backend/pkg/utils"
)

// Deps are the collaborators the HTTP layer talks to.
type Deps struct {
	Users         *services.UserService
	Wallets       *services.WalletService
	Markets       *services.MarketService
	Chat          *services.ChatService
	Hub           *chat.Hub
	CallbackToken string
	Log           *zap.Logger
}

type Handler struct {
	users         *services.UserService
	wallets       *services.WalletService
	markets       *services.MarketService
	chat          *services.ChatService
	hub           *chat.Hub
	callbackToken string
	log           *zap.Logger
}

func New(d Deps) *Handler {
	return &Handler{
		users:         d.Users,
		wallets:       d.Wallets,
		markets:       d.Markets,
		chat:          d.Chat,
		hub:           d.Hub,
		callbackToken: d.CallbackToken,
		log:           d.Log,
	}
}

// Ping is the liveness probe on the API port.
func (h *Handler) Ping(c *gin.Context) {
	utils.APIResponse(c, http.StatusOK, true, "Server OK!", nil)
}

// currentUser reads the caller set by AuthMiddleware and answers 401 if absent.
func (h *Handler) currentUser(c *gin.Context) (uint64, bool) {
	id, ok := middleware.UserID(c)
	if !ok {
		utils.APIResponse(c, http.StatusUnauthorized, false, "Unauthorized", nil)
	}
	return id, ok
}

func (h *Handler) invalidInput(c *gin.Context, err error) {
	utils.APIResponse(c, http.StatusBadRequest, false, "Invalid input", err.Error())
}

// respondError maps the service error taxonomy to a status and a human message;
// the raw error text travels in data.
func (h *Handler) respondError(c *gin.Context, err error) {
	code, message := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		_ = c.Error(err)
	}
	utils.APIResponse(c, code, false, message, err.Error())
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrInvalidInput):
		return http.StatusBadRequest, detail(err, services.ErrInvalidInput)
	case errors.Is(err, services.ErrUnauthorized):
		return http.StatusUnauthorized, detail(err, services.ErrUnauthorized)
	case errors.Is(err, services.ErrForbidden):
		return http.StatusForbidden, detail(err, services.ErrForbidden)
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, detail(err, services.ErrNotFound)
	case errors.Is(err, services.ErrConflict):
		return http.StatusConflict, detail(err, services.ErrConflict)
	case errors.Is(err, services.ErrInsufficientFunds):
		return http.StatusBadRequest, "Insufficient balance"
	case errors.Is(err, services.ErrInvalidOutcome):
		return http.StatusBadRequest, "Invalid outcome"
	case errors.Is(err, services.ErrGatewayRejected):
		return http.StatusBadRequest, "Transaction failed: " + detail(err, services.ErrGatewayRejected)
	case errors.Is(err, services.ErrGatewayUnavailable):
		return http.StatusBadGateway, "Payment service unavailable, please try again"
	}
	return http.StatusInternalServerError, "Internal server error"
}

// detail strips the sentinel prefix so clients see only the specific reason.
func detail(err, sentinel error) string {
	msg := err.Error()
	if rest, ok := strings.CutPrefix(msg, sentinel.Error()+": "); ok {
		return rest
	}
	return msg
}
