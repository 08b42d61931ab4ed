package handlers

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"jcm-p2p-backend/internal/gateway/mpesa"
	"jcm-p2p-backend/internal/services"
	"jcm-p2p-backend/pkg/utils"
)

// CardNotification is the part of the Midtrans webhook body we read. Status
// fields are ignored and fetched from Midtrans instead.
type CardNotification struct {
	OrderID           string `json:"order_id" binding:"required"`
	TransactionStatus string `json:"transaction_status"`
}

// callbackAllowed checks the shared ?token= on M-Pesa callbacks.
func (h *Handler) callbackAllowed(c *gin.Context) bool {
	token := c.Query("token")
	if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.callbackToken)) != 1 {
		h.log.Warn("callback rejected", zap.String("path", c.FullPath()), zap.String("ip", c.ClientIP()))
		utils.APIResponse(c, http.StatusForbidden, false, "Forbidden", nil)
		return false
	}
	return true
}

// ackCallback answers Daraja. Unknown references are acknowledged so they are
// not redelivered forever; storage errors ask for a retry.
func (h *Handler) ackCallback(c *gin.Context, kind string, err error) {
	switch {
	case err == nil:
	case errors.Is(err, services.ErrNotFound), errors.Is(err, services.ErrInvalidInput):
		h.log.Warn("callback for unknown transaction", zap.String("kind", kind), zap.Error(err))
	default:
		h.log.Error("callback processing failed", zap.String("kind", kind), zap.Error(err))
		c.JSON(http.StatusInternalServerError, mpesa.CallbackAck{ResultCode: 1, ResultDesc: "Temporary failure"})
		return
	}
	c.JSON(http.StatusOK, mpesa.CallbackAck{ResultCode: 0, ResultDesc: "Accepted"})
}

// MPesaSTKCallback receives the payer's answer to a deposit prompt.
func (h *Handler) MPesaSTKCallback(c *gin.Context) {
	if !h.callbackAllowed(c) {
		return
	}

	var cb mpesa.STKCallback
	if err := c.ShouldBindJSON(&cb); err != nil {
		c.JSON(http.StatusBadRequest, mpesa.CallbackAck{ResultCode: 1, ResultDesc: "Invalid payload"})
		return
	}

	h.log.Info("stk callback",
		zap.String("checkout_request_id", cb.Body.StkCallback.CheckoutRequestID),
		zap.Int("result_code", cb.Body.StkCallback.ResultCode))
	h.ackCallback(c, "stk", h.wallets.HandleSTKCallback(c.Request.Context(), cb))
}

func (h *Handler) MPesaB2CResult(c *gin.Context)  { h.b2c(c, false) }
func (h *Handler) MPesaB2CTimeout(c *gin.Context) { h.b2c(c, true) }

func (h *Handler) b2c(c *gin.Context, timedOut bool) {
	if !h.callbackAllowed(c) {
		return
	}

	var result mpesa.B2CResult
	if err := c.ShouldBindJSON(&result); err != nil {
		c.JSON(http.StatusBadRequest, mpesa.CallbackAck{ResultCode: 1, ResultDesc: "Invalid payload"})
		return
	}

	h.log.Info("b2c result",
		zap.String("conversation_id", result.Result.ConversationID),
		zap.Int("result_code", result.Result.ResultCode),
		zap.Bool("timeout", timedOut))
	h.ackCallback(c, "b2c", h.wallets.HandleB2CResult(c.Request.Context(), result, timedOut))
}

// HandleCardNotification settles a card deposit from the Midtrans webhook.
func (h *Handler) HandleCardNotification(c *gin.Context) {
	var notification CardNotification

	// 1. Decode
	if err := c.ShouldBindJSON(&notification); err != nil {
		utils.APIResponse(c, http.StatusBadRequest, false, "Invalid JSON", nil)
		return
	}

	h.log.Info("card notification received",
		zap.String("order_id", notification.OrderID),
		zap.String("claimed_status", notification.TransactionStatus))

	// 2. Verify with Midtrans and settle
	rec, err := h.wallets.HandleCardNotification(c.Request.Context(), notification.OrderID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.log.Info("card deposit state", zap.String("order_id", notification.OrderID), zap.String("status", rec.Status))

	// 3. Midtrans needs a 200 to stop retrying
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
