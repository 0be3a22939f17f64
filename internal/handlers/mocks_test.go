package handlers

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/temcen/optirex/internal/services"
	"github.com/temcen/optirex/pkg/models"
)

// MockCampaignService is a mock implementation
type MockCampaignService struct {
	mock.Mock
}

func (m *MockCampaignService) CreateCampaign(ctx context.Context, req models.CreateCampaignRequest) (*models.Campaign, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Campaign), args.Error(1)
}

func (m *MockCampaignService) GetCampaign(ctx context.Context, id uuid.UUID) (*models.CampaignResponse, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CampaignResponse), args.Error(1)
}

func (m *MockCampaignService) ListCampaigns(ctx context.Context, limit, offset int) ([]models.Campaign, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Campaign), args.Error(1)
}

func (m *MockCampaignService) RecordObservations(ctx context.Context, id uuid.UUID, req models.RecordObservationsRequest) (*models.RecordObservationsResponse, error) {
	args := m.Called(ctx, id, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RecordObservationsResponse), args.Error(1)
}

func (m *MockCampaignService) ListObservations(ctx context.Context, id uuid.UUID, filter models.ObservationFilter) (*models.ObservationListResponse, error) {
	args := m.Called(ctx, id, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ObservationListResponse), args.Error(1)
}

func (m *MockCampaignService) UpdateObservations(ctx context.Context, id uuid.UUID, req models.UpdateObservationsRequest) (int, error) {
	args := m.Called(ctx, id, req)
	return args.Int(0), args.Error(1)
}

func (m *MockCampaignService) Recommend(ctx context.Context, id uuid.UUID, req models.RecommendationRequest) (*models.RecommendationResponse, error) {
	args := m.Called(ctx, id, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RecommendationResponse), args.Error(1)
}

type MockAuthService struct {
	mock.Mock
}

func (m *MockAuthService) Authenticate(ctx context.Context, req models.AuthRequest) (*models.AuthResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AuthResponse), args.Error(1)
}

func (m *MockAuthService) ValidateToken(ctx context.Context, token string) (*models.JWTClaims, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.JWTClaims), args.Error(1)
}

type stubHealth struct {
	status string
}

func (s stubHealth) CheckHealth(ctx context.Context) *services.HealthStatus {
	return &services.HealthStatus{Status: s.status}
}

var (
	_ services.CampaignServiceInterface = (*MockCampaignService)(nil)
	_ services.AuthServiceInterface     = (*MockAuthService)(nil)
)
