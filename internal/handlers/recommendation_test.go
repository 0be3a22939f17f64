package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/temcen/optirex/pkg/models"
)

func TestRecommendationHandler_Create(t *testing.T) {
	svc := new(MockCampaignService)
	router := campaignRouter(svc)

	id := uuid.New()
	mockResult := &models.RecommendationResponse{
		CampaignID: id,
		Candidates: []models.Candidate{
			{Slot: 0, Params: models.ParameterValues{"x": 0.1}, SamplingStrategy: -1, Feasible: true, Feasibility: 1},
			{Slot: 1, Params: models.ParameterValues{"x": 0.9}, SamplingStrategy: 1, Feasible: true, Feasibility: 1},
		},
		Observations: 4,
		GeneratedAt:  time.Now(),
	}
	svc.On("Recommend", mock.Anything, id, mock.Anything).Return(mockResult, nil)
	missing := uuid.New()
	svc.On("Recommend", mock.Anything, missing, mock.Anything).Return(nil, models.ErrCampaignNotFound)

	tests := []struct {
		name           string
		id             uuid.UUID
		body           interface{}
		expectedStatus int
		expectedCount  int
	}{
		{
			name:           "Configured strategies",
			id:             id,
			body:           gin.H{},
			expectedStatus: http.StatusOK,
			expectedCount:  2,
		},
		{
			name:           "Explicit strategies",
			id:             id,
			body:           gin.H{"sampling_strategies": []float64{-1, 1}, "batch_size": 2},
			expectedStatus: http.StatusOK,
			expectedCount:  2,
		},
		{
			name:           "Strategy out of range",
			id:             id,
			body:           gin.H{"sampling_strategies": []float64{2}},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Unknown campaign",
			id:             missing,
			body:           gin.H{},
			expectedStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(router, http.MethodPost, "/api/v1/campaigns/"+tt.id.String()+"/recommendations", tt.body)
			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedStatus == http.StatusOK {
				var got models.RecommendationResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
				assert.Len(t, got.Candidates, tt.expectedCount)
				assert.Equal(t, 4, got.Observations)
			}
		})
	}
}

func TestRecommendationHandler_EmptyBody(t *testing.T) {
	svc := new(MockCampaignService)
	router := campaignRouter(svc)

	id := uuid.New()
	svc.On("Recommend", mock.Anything, id, models.RecommendationRequest{}).
		Return(&models.RecommendationResponse{CampaignID: id}, nil)

	req, _ := http.NewRequest(http.MethodPost, "/api/v1/campaigns/"+id.String()+"/recommendations", bytes.NewReader(nil))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}
