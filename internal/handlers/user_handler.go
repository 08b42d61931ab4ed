package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"jcm-p2p-backend/internal/models"
	"jcm-p2p-backend/pkg/utils"
)

// GetProfile returns the logged-in user without credentials.
func (h *Handler) GetProfile(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}

	view, err := h.users.Profile(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.APIResponse(c, http.StatusOK, true, "Profile retrieved", view)
}

func (h *Handler) UpdatePhone(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}

	var input models.UpdatePhoneInput
	if err := c.ShouldBindJSON(&input); err != nil {
		h.invalidInput(c, err)
		return
	}

	view, err := h.users.UpdatePhone(c.Request.Context(), userID, input.Phone)
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.APIResponse(c, http.StatusOK, true, "Phone number updated", view)
}

// UploadPicture stores the multipart file "profilePicture" under the upload dir.
func (h *Handler) UploadPicture(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}

	file, err := c.FormFile("profilePicture")
	if err != nil {
		utils.APIResponse(c, http.StatusBadRequest, false, "No file uploaded", err.Error())
		return
	}

	dst := h.users.PicturePath(userID, file.Filename)
	if err := c.SaveUploadedFile(file, dst); err != nil {
		h.respondError(c, err)
		return
	}

	view, err := h.users.SetPicture(c.Request.Context(), userID, dst)
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.APIResponse(c, http.StatusOK, true, "Profile picture updated", view)
}
