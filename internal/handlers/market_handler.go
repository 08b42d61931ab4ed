package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"jcm-p2p-backend/internal/models"
	"jcm-p2p-backend/pkg/utils"
)

// marketID parses :id and answers 400 when it is not a positive integer.
func (h *Handler) marketID(c *gin.Context) (uint64, bool) {
	id, ok := utils.ParseID(c.Param("id"))
	if !ok {
		utils.APIResponse(c, http.StatusBadRequest, false, "Invalid market id", nil)
	}
	return id, ok
}

// ListMarkets returns the caller's markets and all public ones with their bets.
func (h *Handler) ListMarkets(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}

	markets, err := h.markets.List(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.APIResponse(c, http.StatusOK, true, "Markets", markets)
}

func (h *Handler) GetMarket(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	id, ok := h.marketID(c)
	if !ok {
		return
	}

	market, err := h.markets.Get(c.Request.Context(), userID, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.APIResponse(c, http.StatusOK, true, "Market", market)
}

func (h *Handler) CreateMarket(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}

	var input models.CreateMarketInput
	if err := c.ShouldBindJSON(&input); err != nil {
		h.invalidInput(c, err)
		return
	}

	market, err := h.markets.Create(c.Request.Context(), userID, input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.APIResponse(c, http.StatusCreated, true, "Market created", market)
}

// SetVisibility publishes or hides a market. Owner only.
func (h *Handler) SetVisibility(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	id, ok := h.marketID(c)
	if !ok {
		return
	}

	var input models.VisibilityInput
	if err := c.ShouldBindJSON(&input); err != nil {
		h.invalidInput(c, err)
		return
	}

	market, err := h.markets.SetVisibility(c.Request.Context(), userID, id, *input.IsPublic)
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.APIResponse(c, http.StatusOK, true, "Market visibility updated", market)
}

// ResolveMarket settles the market and pays the winners. Owner only.
func (h *Handler) ResolveMarket(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	id, ok := h.marketID(c)
	if !ok {
		return
	}

	var input models.ResolveMarketInput
	if err := c.ShouldBindJSON(&input); err != nil {
		h.invalidInput(c, err)
		return
	}

	market, err := h.markets.Resolve(c.Request.Context(), userID, id, input.WinningOutcome)
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.APIResponse(c, http.StatusOK, true, "Market resolved", market)
}

func (h *Handler) PlaceBet(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}

	var input models.PlaceBetInput
	if err := c.ShouldBindJSON(&input); err != nil {
		h.invalidInput(c, err)
		return
	}

	res, err := h.markets.PlaceBet(c.Request.Context(), userID, input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.APIResponse(c, http.StatusCreated, true, "Bet placed", res)
}
