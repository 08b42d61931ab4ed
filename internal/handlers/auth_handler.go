package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"jcm-p2p-backend/internal/models"
	"jcm-p2p-backend/pkg/utils"
)

// Register creates the account and its empty wallet.
func (h *Handler) Register(c *gin.Context) {
	var input models.RegisterInput

	// 1. Validate JSON
	if err := c.ShouldBindJSON(&input); err != nil {
		h.invalidInput(c, err)
		return
	}

	// 2. User + wallet
	user, err := h.users.Register(c.Request.Context(), input)
	if err != nil {
		h.respondError(c, err)
		return
	}

	utils.APIResponse(c, http.StatusCreated, true, "Registration successful, please log in", user.View())
}

func (h *Handler) Login(c *gin.Context) {
	var input models.LoginInput

	if err := c.ShouldBindJSON(&input); err != nil {
		h.invalidInput(c, err)
		return
	}

	res, err := h.users.Login(c.Request.Context(), input)
	if err != nil {
		h.respondError(c, err)
		return
	}

	utils.APIResponse(c, http.StatusOK, true, "Login successful", res)
}
