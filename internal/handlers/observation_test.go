package handlers

import (
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/temcen/optirex/pkg/models"
)

func TestObservationHandler_Record(t *testing.T) {
	svc := new(MockCampaignService)
	router := campaignRouter(svc)

	id := uuid.New()
	ids := []uuid.UUID{uuid.New()}
	svc.On("RecordObservations", mock.Anything, id, mock.MatchedBy(func(req models.RecordObservationsRequest) bool {
		return len(req.Observations) == 1
	})).Return(&models.RecordObservationsResponse{CampaignID: id, IDs: ids}, nil)

	tests := []struct {
		name           string
		body           interface{}
		expectedStatus int
	}{
		{
			name: "Valid batch",
			body: gin.H{"observations": []gin.H{
				{"params": gin.H{"x": 0.5}, "objectives": gin.H{"y": 1.0}},
			}},
			expectedStatus: http.StatusAccepted,
		},
		{
			name:           "Empty batch",
			body:           gin.H{"observations": []gin.H{}},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Missing params",
			body:           gin.H{"observations": []gin.H{{"objectives": gin.H{"y": 1.0}}}},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(router, http.MethodPost, "/api/v1/campaigns/"+id.String()+"/observations", tt.body)
			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}
	svc.AssertNumberOfCalls(t, "RecordObservations", 1)
}

func TestObservationHandler_ListFilters(t *testing.T) {
	svc := new(MockCampaignService)
	router := campaignRouter(svc)

	id := uuid.New()
	since := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.On("ListObservations", mock.Anything, id, mock.MatchedBy(func(f models.ObservationFilter) bool {
		return f.Feasible != nil && !*f.Feasible && f.Since.Equal(since) && f.Limit == 5
	})).Return(&models.ObservationListResponse{CampaignID: id, Observations: []models.Observation{}}, nil)

	w := doJSON(router, http.MethodGet,
		"/api/v1/campaigns/"+id.String()+"/observations?feasible=false&since=2024-03-01T12:00:00Z&limit=5", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, http.MethodGet, "/api/v1/campaigns/"+id.String()+"/observations?feasible=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_QUERY_PARAM", errorCode(t, w))

	w = doJSON(router, http.MethodGet, "/api/v1/campaigns/"+id.String()+"/observations?since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	svc.AssertNumberOfCalls(t, "ListObservations", 1)
}

func TestObservationHandler_Update(t *testing.T) {
	svc := new(MockCampaignService)
	router := campaignRouter(svc)

	id := uuid.New()
	svc.On("UpdateObservations", mock.Anything, id, mock.Anything).Return(1, nil)

	body := gin.H{"updates": []gin.H{
		{"id": uuid.New().String(), "feasible": false},
		{"id": uuid.New().String(), "objectives": gin.H{"y": 2.0}},
	}}
	w := doJSON(router, http.MethodPatch, "/api/v1/campaigns/"+id.String()+"/observations", body)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"updated":1`)
	assert.Contains(t, w.Body.String(), `"requested":2`)
}
