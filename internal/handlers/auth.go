package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/optirex/internal/services"
	"github.com/temcen/optirex/pkg/models"
)

type AuthHandler struct {
	auth   services.AuthServiceInterface
	logger *logrus.Logger
}

func NewAuthHandler(auth services.AuthServiceInterface, logger *logrus.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, logger: logger}
}

// Token exchanges an API key for a bearer token.
func (h *AuthHandler) Token(c *gin.Context) {
	var req models.AuthRequest
	if !bindJSON(c, &req) {
		return
	}

	resp, err := h.auth.Authenticate(c.Request.Context(), req)
	if errors.Is(err, services.ErrInvalidAPIKey) {
		respondError(c, http.StatusUnauthorized, "INVALID_API_KEY", "Invalid API key")
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to issue token")
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to issue token")
		return
	}
	c.JSON(http.StatusOK, resp)
}
