package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/optirex/internal/services"
)

type Handlers struct {
	Health         *HealthHandler
	Auth           *AuthHandler
	Campaign       *CampaignHandler
	Observation    *ObservationHandler
	Recommendation *RecommendationHandler
	Metrics        gin.HandlerFunc
}

func New(logger *logrus.Logger, services *services.Services) *Handlers {
	return &Handlers{
		Health:         NewHealthHandler(logger, services.Health),
		Auth:           NewAuthHandler(services.Auth, logger),
		Campaign:       NewCampaignHandler(services.Campaigns, logger),
		Observation:    NewObservationHandler(services.Campaigns, logger),
		Recommendation: NewRecommendationHandler(services.Campaigns, logger),
		Metrics:        MetricsHandler(services.Metrics),
	}
}
