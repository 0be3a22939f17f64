package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/optirex/internal/config"
	"github.com/temcen/optirex/internal/database"
	"github.com/temcen/optirex/pkg/models"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.RecommendationEvent
}

func (p *recordingPublisher) PublishRecommendations(_ context.Context, event models.RecommendationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Events() []models.RecommendationEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.RecommendationEvent(nil), p.events...)
}

type campaignFixture struct {
	service   *CampaignService
	publisher *recordingPublisher
	redis     *miniredis.Miniredis
}

func newCampaignFixture(t *testing.T) *campaignFixture {
	t.Helper()
	logger := quietLogger()

	backend, err := database.NewSQLiteBackend(filepath.Join(t.TempDir(), "optirex.db"))
	require.NoError(t, err)
	store := database.NewObservationStore(backend, config.StorageConfig{FetchTimeout: 5 * time.Second}, logger)
	t.Cleanup(func() {
		store.Close()
		backend.Close()
	})

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	publisher := &recordingPublisher{}
	service := NewCampaignService(backend, store, CampaignServiceOptions{
		Cache:     database.NewRecommendationCache(client, time.Minute, logger),
		Publisher: publisher,
		Tuning:    fastTuning(),
		Metrics:   NewMetricsCollector(),
	}, logger)

	return &campaignFixture{service: service, publisher: publisher, redis: mr}
}

func observationRequest(x, y, obj float64) models.ObservationRequest {
	return models.ObservationRequest{
		Params:     models.ParameterValues{"param_0": x, "param_1": y},
		Objectives: models.ObjectiveValues{"obj": obj},
	}
}

func TestCampaignService_CreateWithDefaultConfig(t *testing.T) {
	f := newCampaignFixture(t)
	ctx := context.Background()

	campaign, err := f.service.CreateCampaign(ctx, models.CreateCampaignRequest{Name: "default"})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, campaign.ID)
	assert.Equal(t, []string{"param_0", "param_1"}, campaign.Config.ParameterNames())

	got, err := f.service.GetCampaign(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, "default", got.Campaign.Name)
	assert.Zero(t, got.Observations)

	list, err := f.service.ListCampaigns(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCampaignService_CreateRejectsInvalidConfig(t *testing.T) {
	f := newCampaignFixture(t)

	_, err := f.service.CreateCampaign(context.Background(), models.CreateCampaignRequest{
		Name: "broken",
		Config: &models.OptimizationConfig{
			Parameters: []models.ParameterSpec{{Name: "x", Type: models.ParameterContinuous, Low: 1, High: 0}},
			Objectives: []models.ObjectiveSpec{{Name: "obj", Goal: models.GoalMinimize}},
		},
	})
	var invalid *models.InvalidParameterError
	assert.ErrorAs(t, err, &invalid)
}

func TestCampaignService_UnknownCampaign(t *testing.T) {
	f := newCampaignFixture(t)
	ctx := context.Background()
	id := uuid.New()

	_, err := f.service.GetCampaign(ctx, id)
	assert.True(t, IsNotFound(err))
	_, err = f.service.RecordObservations(ctx, id, models.RecordObservationsRequest{
		Observations: []models.ObservationRequest{observationRequest(0.1, 0.1, 1)},
	})
	assert.True(t, IsNotFound(err))
	_, err = f.service.Recommend(ctx, id, models.RecommendationRequest{})
	assert.True(t, IsNotFound(err))
}

func TestCampaignService_ObservationLifecycle(t *testing.T) {
	f := newCampaignFixture(t)
	ctx := context.Background()

	campaign, err := f.service.CreateCampaign(ctx, models.CreateCampaignRequest{Name: "lifecycle"})
	require.NoError(t, err)

	recorded, err := f.service.RecordObservations(ctx, campaign.ID, models.RecordObservationsRequest{
		Observations: []models.ObservationRequest{
			observationRequest(0.1, 0.2, 3),
			observationRequest(0.7, 0.4, 1),
		},
	})
	require.NoError(t, err)
	require.Len(t, recorded.IDs, 2)

	// Reads see the queued write.
	list, err := f.service.ListObservations(ctx, campaign.ID, models.ObservationFilter{})
	require.NoError(t, err)
	require.Equal(t, 2, list.Count)
	assert.Equal(t, recorded.IDs[0], list.Observations[0].ID)

	infeasible := false
	updated, err := f.service.UpdateObservations(ctx, campaign.ID, models.UpdateObservationsRequest{
		Updates: []models.ObservationUpdate{
			{ID: recorded.IDs[1], Feasible: &infeasible},
			{ID: uuid.New(), Feasible: &infeasible},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, updated)

	list, err = f.service.ListObservations(ctx, campaign.ID, models.ObservationFilter{Feasible: &infeasible})
	require.NoError(t, err)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, recorded.IDs[1], list.Observations[0].ID)

	_, err = f.service.UpdateObservations(ctx, campaign.ID, models.UpdateObservationsRequest{
		Updates: []models.ObservationUpdate{{ID: recorded.IDs[0], Objectives: models.ObjectiveValues{"nope": 1}}},
	})
	var invalid *models.InvalidParameterError
	assert.ErrorAs(t, err, &invalid)

	got, err := f.service.GetCampaign(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Observations)
}

// stalledBackend blocks observation writes until gate is closed.
type stalledBackend struct {
	database.Backend
	gate chan struct{}
}

func (b *stalledBackend) AppendObservations(ctx context.Context, obs []models.Observation) error {
	<-b.gate
	return b.Backend.AppendObservations(ctx, obs)
}

func TestCampaignService_GetCampaignWithStalledWriter(t *testing.T) {
	logger := quietLogger()
	sqlite, err := database.NewSQLiteBackend(filepath.Join(t.TempDir(), "optirex.db"))
	require.NoError(t, err)
	backend := &stalledBackend{Backend: sqlite, gate: make(chan struct{})}
	store := database.NewObservationStore(backend, config.StorageConfig{FetchTimeout: 50 * time.Millisecond}, logger)
	t.Cleanup(func() {
		store.Close()
		sqlite.Close()
	})
	var release sync.Once
	t.Cleanup(func() { release.Do(func() { close(backend.gate) }) })

	service := NewCampaignService(backend, store, CampaignServiceOptions{Tuning: fastTuning()}, logger)
	ctx := context.Background()

	campaign, err := service.CreateCampaign(ctx, models.CreateCampaignRequest{Name: "stalled"})
	require.NoError(t, err)
	_, err = service.RecordObservations(ctx, campaign.ID, models.RecordObservationsRequest{
		Observations: []models.ObservationRequest{observationRequest(0.1, 0.2, 3)},
	})
	require.NoError(t, err)

	_, err = service.GetCampaign(ctx, campaign.ID)
	var unavailable *models.StorageUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, 50*time.Millisecond, unavailable.Wait)

	release.Do(func() { close(backend.gate) })
	require.Eventually(t, func() bool {
		got, err := service.GetCampaign(ctx, campaign.ID)
		return err == nil && got.Observations == 1
	}, time.Second, 10*time.Millisecond)
}

func TestCampaignService_RecordRejectsOutOfDomain(t *testing.T) {
	f := newCampaignFixture(t)
	ctx := context.Background()

	campaign, err := f.service.CreateCampaign(ctx, models.CreateCampaignRequest{Name: "domain"})
	require.NoError(t, err)

	_, err = f.service.RecordObservations(ctx, campaign.ID, models.RecordObservationsRequest{
		Observations: []models.ObservationRequest{observationRequest(1.5, 0.2, 3)},
	})
	var invalid *models.InvalidParameterError
	require.ErrorAs(t, err, &invalid)

	list, err := f.service.ListObservations(ctx, campaign.ID, models.ObservationFilter{})
	require.NoError(t, err)
	assert.Zero(t, list.Count)
}

func TestCampaignService_RecommendCachesAndPublishes(t *testing.T) {
	f := newCampaignFixture(t)
	ctx := context.Background()

	campaign, err := f.service.CreateCampaign(ctx, models.CreateCampaignRequest{Name: "recommend"})
	require.NoError(t, err)
	_, err = f.service.RecordObservations(ctx, campaign.ID, models.RecordObservationsRequest{
		Observations: []models.ObservationRequest{
			observationRequest(0.1, 0.2, 3),
			observationRequest(0.7, 0.4, 1),
			observationRequest(0.4, 0.9, 2),
		},
	})
	require.NoError(t, err)

	req := models.RecommendationRequest{SamplingStrategies: []float64{-1, 1}, BatchSize: 2}
	first, err := f.service.Recommend(ctx, campaign.ID, req)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)
	assert.Equal(t, 3, first.Observations)
	require.Len(t, first.Candidates, 2)

	second, err := f.service.Recommend(ctx, campaign.ID, req)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Candidates[0].Slot, second.Candidates[0].Slot)
	assert.InDelta(t, first.Candidates[0].Params["param_0"].(float64), second.Candidates[0].Params["param_0"].(float64), 1e-12)

	events := f.publisher.Events()
	require.Len(t, events, 1)
	assert.Equal(t, campaign.ID, events[0].CampaignID)

	// A new observation changes the history, so the cache is bypassed.
	_, err = f.service.RecordObservations(ctx, campaign.ID, models.RecordObservationsRequest{
		Observations: []models.ObservationRequest{observationRequest(0.3, 0.3, 0.5)},
	})
	require.NoError(t, err)
	third, err := f.service.Recommend(ctx, campaign.ID, req)
	require.NoError(t, err)
	assert.False(t, third.CacheHit)
	assert.Equal(t, 4, third.Observations)
	assert.Len(t, f.publisher.Events(), 2)
}

func TestCampaignService_RecommendRejectsInvalidStrategies(t *testing.T) {
	f := newCampaignFixture(t)
	ctx := context.Background()

	campaign, err := f.service.CreateCampaign(ctx, models.CreateCampaignRequest{Name: "strategies"})
	require.NoError(t, err)

	_, err = f.service.Recommend(ctx, campaign.ID, models.RecommendationRequest{SamplingStrategies: []float64{3}})
	var invalid *models.InvalidParameterError
	assert.ErrorAs(t, err, &invalid)
}

func TestCampaignService_HandleObservationEvent(t *testing.T) {
	f := newCampaignFixture(t)
	ctx := context.Background()

	campaign, err := f.service.CreateCampaign(ctx, models.CreateCampaignRequest{Name: "events"})
	require.NoError(t, err)

	require.NoError(t, f.service.HandleObservationEvent(ctx, models.ObservationEvent{
		CampaignID: campaign.ID,
		Record:     observationRequest(0.5, 0.5, 2),
	}))

	list, err := f.service.ListObservations(ctx, campaign.ID, models.ObservationFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, list.Count)

	err = f.service.HandleObservationEvent(ctx, models.ObservationEvent{
		CampaignID: uuid.New(),
		Record:     observationRequest(0.5, 0.5, 2),
	})
	assert.ErrorIs(t, err, models.ErrCampaignNotFound)
}
