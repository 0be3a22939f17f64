package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/optirex/pkg/models"
)

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

// respondServiceError maps service errors onto HTTP statuses.
func respondServiceError(c *gin.Context, logger *logrus.Logger, err error, msg string) {
	var (
		invalid     *models.InvalidParameterError
		unavailable *models.StorageUnavailableError
	)
	switch {
	case errors.Is(err, models.ErrCampaignNotFound):
		respondError(c, http.StatusNotFound, "CAMPAIGN_NOT_FOUND", "Campaign not found")
	case errors.As(err, &invalid):
		respondError(c, http.StatusBadRequest, "INVALID_PARAMETER", invalid.Error())
	case errors.As(err, &unavailable):
		logger.WithError(err).Warn(msg)
		respondError(c, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Storage did not respond in time, retry later")
	default:
		logger.WithError(err).Error(msg)
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", msg)
	}
}

func campaignID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_CAMPAIGN_ID", "Invalid campaign ID format")
		return uuid.Nil, false
	}
	return id, true
}

// bindJSON decodes the body and runs struct validation, skipping the named
// fields.
func bindJSON(c *gin.Context, dst interface{}, except ...string) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return false
	}
	if err := validate.StructExcept(dst, except...); err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return false
	}
	return true
}
