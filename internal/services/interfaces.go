package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/temcen/optirex/pkg/models"
)

// CampaignServiceInterface is what the HTTP handlers need from the campaign
// service.
type CampaignServiceInterface interface {
	CreateCampaign(ctx context.Context, req models.CreateCampaignRequest) (*models.Campaign, error)
	GetCampaign(ctx context.Context, id uuid.UUID) (*models.CampaignResponse, error)
	ListCampaigns(ctx context.Context, limit, offset int) ([]models.Campaign, error)
	RecordObservations(ctx context.Context, id uuid.UUID, req models.RecordObservationsRequest) (*models.RecordObservationsResponse, error)
	ListObservations(ctx context.Context, id uuid.UUID, filter models.ObservationFilter) (*models.ObservationListResponse, error)
	UpdateObservations(ctx context.Context, id uuid.UUID, req models.UpdateObservationsRequest) (int, error)
	Recommend(ctx context.Context, id uuid.UUID, req models.RecommendationRequest) (*models.RecommendationResponse, error)
}

// AuthServiceInterface issues and checks bearer tokens.
type AuthServiceInterface interface {
	Authenticate(ctx context.Context, req models.AuthRequest) (*models.AuthResponse, error)
	ValidateToken(ctx context.Context, token string) (*models.JWTClaims, error)
}

// HealthChecker reports dependency health.
type HealthChecker interface {
	CheckHealth(ctx context.Context) *HealthStatus
}

var (
	_ CampaignServiceInterface = (*CampaignService)(nil)
	_ AuthServiceInterface     = (*AuthService)(nil)
	_ HealthChecker            = (*HealthService)(nil)
)
