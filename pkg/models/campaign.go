package models

import (
	"time"

	"github.com/google/uuid"
)

// Campaign is one optimization run hosted by the service: a configuration
// plus the observation history recorded against it.
type Campaign struct {
	ID        uuid.UUID          `json:"id"`
	Name      string             `json:"name"`
	Config    OptimizationConfig `json:"config"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

type CreateCampaignRequest struct {
	Name   string              `json:"name" validate:"required,min=1,max=200"`
	Config *OptimizationConfig `json:"config,omitempty"`
}

type CampaignResponse struct {
	Campaign     Campaign `json:"campaign"`
	Observations int      `json:"observations"`
}

type ObservationRequest struct {
	Params     ParameterValues   `json:"params" validate:"required"`
	Objectives ObjectiveValues   `json:"objectives"`
	Feasible   *bool             `json:"feasible,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type RecordObservationsRequest struct {
	Observations []ObservationRequest `json:"observations" validate:"required,min=1,max=1000,dive"`
}

type RecordObservationsResponse struct {
	CampaignID uuid.UUID   `json:"campaign_id"`
	IDs        []uuid.UUID `json:"ids"`
}

type UpdateObservationsRequest struct {
	Updates []ObservationUpdate `json:"updates" validate:"required,min=1,max=1000,dive"`
}

type ObservationListResponse struct {
	CampaignID   uuid.UUID     `json:"campaign_id"`
	Observations []Observation `json:"observations"`
	Count        int           `json:"count"`
}

type RecommendationRequest struct {
	SamplingStrategies []float64 `json:"sampling_strategies,omitempty" validate:"omitempty,dive,min=-1,max=1"`
	BatchSize          int       `json:"batch_size,omitempty" validate:"omitempty,min=1,max=100"`
}

type RecommendationResponse struct {
	CampaignID   uuid.UUID   `json:"campaign_id"`
	Candidates   []Candidate `json:"candidates"`
	Observations int         `json:"observations"`
	CacheHit     bool        `json:"cache_hit"`
	GeneratedAt  time.Time   `json:"generated_at"`
}

// ObservationEvent is the message carried on the observation ingestion topic.
type ObservationEvent struct {
	CampaignID uuid.UUID          `json:"campaign_id"`
	Record     ObservationRequest `json:"record"`
	Timestamp  time.Time          `json:"timestamp"`
	RetryCount int                `json:"retry_count"`
}

// RecommendationEvent is published after each recommendation batch.
type RecommendationEvent struct {
	CampaignID  uuid.UUID   `json:"campaign_id"`
	Candidates  []Candidate `json:"candidates"`
	GeneratedAt time.Time   `json:"generated_at"`
}
