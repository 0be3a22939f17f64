package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/temcen/optirex/pkg/models"
)

// Backend is the synchronous persistence layer. Observations are returned in
// insertion order.
type Backend interface {
	SaveCampaign(ctx context.Context, c *models.Campaign) error
	LoadCampaign(ctx context.Context, id uuid.UUID) (*models.Campaign, error)
	ListCampaigns(ctx context.Context, limit, offset int) ([]models.Campaign, error)

	AppendObservations(ctx context.Context, observations []models.Observation) error
	FetchObservations(ctx context.Context, campaignID uuid.UUID, filter models.ObservationFilter) ([]models.Observation, error)
	UpdateObservations(ctx context.Context, campaignID uuid.UUID, updates []models.ObservationUpdate) (int, error)
	CountObservations(ctx context.Context, campaignID uuid.UUID) (int, error)

	Ping(ctx context.Context) error
	Close() error
}

// observationRow is the column form shared by the SQL backends.
type observationRow struct {
	params     []byte
	objectives []byte
	metadata   []byte
}

func encodeObservation(o models.Observation) (observationRow, error) {
	var row observationRow
	var err error
	if row.params, err = json.Marshal(o.Params); err != nil {
		return row, fmt.Errorf("failed to encode params: %w", err)
	}
	if row.objectives, err = json.Marshal(o.Objectives); err != nil {
		return row, fmt.Errorf("failed to encode objectives: %w", err)
	}
	if o.Metadata == nil {
		row.metadata = []byte("{}")
	} else if row.metadata, err = json.Marshal(o.Metadata); err != nil {
		return row, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return row, nil
}

func decodeObservation(o *models.Observation, params, objectives, metadata []byte) error {
	if err := json.Unmarshal(params, &o.Params); err != nil {
		return fmt.Errorf("failed to decode params of %s: %w", o.ID, err)
	}
	if err := json.Unmarshal(objectives, &o.Objectives); err != nil {
		return fmt.Errorf("failed to decode objectives of %s: %w", o.ID, err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &o.Metadata); err != nil {
			return fmt.Errorf("failed to decode metadata of %s: %w", o.ID, err)
		}
		if len(o.Metadata) == 0 {
			o.Metadata = nil
		}
	}
	return nil
}

// mergeObjectives applies a backfill on top of the stored objective values.
func mergeObjectives(stored []byte, update models.ObjectiveValues) ([]byte, error) {
	var current models.ObjectiveValues
	if err := json.Unmarshal(stored, &current); err != nil {
		return nil, err
	}
	if current == nil {
		current = make(models.ObjectiveValues, len(update))
	}
	for k, v := range update {
		current[k] = v
	}
	return json.Marshal(current)
}
