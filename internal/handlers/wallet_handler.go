package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"jcm-p2p-backend/internal/models"
	"jcm-p2p-backend/internal/services"
	"jcm-p2p-backend/pkg/utils"
)

// IdempotencyHeader lets clients retry a transaction safely.
const IdempotencyHeader = "Idempotency-Key"

// GetWallet shows the balance and the latest transactions.
func (h *Handler) GetWallet(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}

	view, err := h.wallets.Wallet(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.APIResponse(c, http.StatusOK, true, "My wallet", view)
}

// Transaction deposits or withdraws through the payment gateway.
func (h *Handler) Transaction(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}

	// 1. Validate JSON
	var input models.TransactionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		h.invalidInput(c, err)
		return
	}

	// 2. Run the saga
	res, err := h.wallets.Transact(c.Request.Context(), services.TransactRequest{
		UserID:         userID,
		Type:           input.Type,
		Method:         input.Method,
		Amount:         input.Amount,
		IdempotencyKey: c.GetHeader(IdempotencyHeader),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	// 3. Card deposits finish on the provider's page
	switch {
	case res.Replayed && res.Transaction.Status == models.TxPending:
		utils.APIResponse(c, http.StatusAccepted, true, "Transaction is still being processed", res)
	case res.Replayed:
		utils.APIResponse(c, http.StatusOK, true, "Transaction already processed", res)
	case res.Checkout != nil:
		utils.APIResponse(c, http.StatusAccepted, true, res.Message, res)
	default:
		utils.APIResponse(c, http.StatusOK, true, input.Type+" successful", res)
	}
}
