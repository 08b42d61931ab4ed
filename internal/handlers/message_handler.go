package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"jcm-p2p-backend/internal/models"
	"jcm-p2p-backend/pkg/utils"
)

// ListMessages returns the caller's last ten messages, newest first.
func (h *Handler) ListMessages(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}

	msgs, err := h.chat.List(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.APIResponse(c, http.StatusOK, true, "Messages", msgs)
}

func (h *Handler) SendMessage(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}

	var input models.SendMessageInput
	if err := c.ShouldBindJSON(&input); err != nil {
		h.invalidInput(c, err)
		return
	}

	msg, err := h.chat.Send(c.Request.Context(), userID, input.Text)
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.APIResponse(c, http.StatusCreated, true, "Message sent", msg)
}

// MessagesWS upgrades to a websocket that receives every new message.
func (h *Handler) MessagesWS(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	h.hub.Serve(c.Writer, c.Request, userID)
}
