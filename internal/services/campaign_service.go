package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/optirex/internal/config"
	"github.com/temcen/optirex/internal/database"
	"github.com/temcen/optirex/pkg/models"
)

// Observation sources, used as a metric label.
const (
	SourceHTTP  = "http"
	SourceKafka = "kafka"
)

// RecommendationPublisher announces generated batches. *messaging.MessageBus
// satisfies it.
type RecommendationPublisher interface {
	PublishRecommendations(ctx context.Context, event models.RecommendationEvent) error
}

// ConfigSource returns a fresh optimization config for campaigns created
// without one.
type ConfigSource func() (*models.OptimizationConfig, error)

// CampaignService hosts optimization campaigns: it stores their configs and
// observations and runs one orchestrator per campaign.
type CampaignService struct {
	backend   database.Backend
	store     *database.ObservationStore
	cache     *database.RecommendationCache
	publisher RecommendationPublisher
	defaults  ConfigSource
	tuning    config.TuningConfig
	metrics   *MetricsCollector
	logger    *logrus.Logger

	mu            sync.Mutex
	orchestrators map[uuid.UUID]*RecommendationOrchestrator
}

type CampaignServiceOptions struct {
	Cache     *database.RecommendationCache
	Publisher RecommendationPublisher
	Defaults  ConfigSource
	Tuning    config.TuningConfig
	Metrics   *MetricsCollector
}

func NewCampaignService(backend database.Backend, store *database.ObservationStore, opts CampaignServiceOptions, logger *logrus.Logger) *CampaignService {
	if opts.Defaults == nil {
		opts.Defaults = func() (*models.OptimizationConfig, error) { return config.DefaultOptimization(), nil }
	}
	return &CampaignService{
		backend:       backend,
		store:         store,
		cache:         opts.Cache,
		publisher:     opts.Publisher,
		defaults:      opts.Defaults,
		tuning:        opts.Tuning,
		metrics:       opts.Metrics,
		logger:        logger,
		orchestrators: make(map[uuid.UUID]*RecommendationOrchestrator),
	}
}

func (s *CampaignService) CreateCampaign(ctx context.Context, req models.CreateCampaignRequest) (*models.Campaign, error) {
	cfg := req.Config
	if cfg == nil {
		var err error
		if cfg, err = s.defaults(); err != nil {
			return nil, fmt.Errorf("failed to load default optimization config: %w", err)
		}
	}
	if err := config.PrepareOptimization(cfg); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	campaign := &models.Campaign{
		ID:        uuid.New(),
		Name:      req.Name,
		Config:    *cfg,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.backend.SaveCampaign(ctx, campaign); err != nil {
		return nil, fmt.Errorf("failed to save campaign: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"campaign_id": campaign.ID,
		"name":        campaign.Name,
		"parameters":  len(cfg.Parameters),
		"objectives":  len(cfg.Objectives),
	}).Info("Campaign created")
	return campaign, nil
}

func (s *CampaignService) GetCampaign(ctx context.Context, id uuid.UUID) (*models.CampaignResponse, error) {
	campaign, err := s.backend.LoadCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.store.Flush(ctx); err != nil {
		return nil, err
	}
	count, err := s.backend.CountObservations(ctx, id)
	if err != nil {
		return nil, &models.StorageUnavailableError{Operation: "count", Err: err}
	}
	return &models.CampaignResponse{Campaign: *campaign, Observations: count}, nil
}

func (s *CampaignService) ListCampaigns(ctx context.Context, limit, offset int) ([]models.Campaign, error) {
	return s.backend.ListCampaigns(ctx, limit, offset)
}

// orchestrator returns the cached run state of a campaign, building it on
// first use. Embeddings learned for the campaign live there.
func (s *CampaignService) orchestrator(campaign *models.Campaign) (*RecommendationOrchestrator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o, ok := s.orchestrators[campaign.ID]; ok {
		return o, nil
	}
	cfg := campaign.Config
	if err := config.PrepareOptimization(&cfg); err != nil {
		return nil, err
	}
	o, err := NewRecommendationOrchestrator(&cfg, s.tuning, nil, s.metrics, s.logger)
	if err != nil {
		return nil, err
	}
	s.orchestrators[campaign.ID] = o
	return o, nil
}

func (s *CampaignService) load(ctx context.Context, id uuid.UUID) (*models.Campaign, *RecommendationOrchestrator, error) {
	campaign, err := s.backend.LoadCampaign(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	o, err := s.orchestrator(campaign)
	if err != nil {
		return nil, nil, err
	}
	return campaign, o, nil
}

// RecordObservations validates the records against the campaign and queues
// them. The write completes asynchronously; later reads of the same campaign
// observe it.
func (s *CampaignService) RecordObservations(ctx context.Context, id uuid.UUID, req models.RecordObservationsRequest) (*models.RecordObservationsResponse, error) {
	future, err := s.record(ctx, id, req.Observations, SourceHTTP)
	if err != nil {
		return nil, err
	}
	return &models.RecordObservationsResponse{CampaignID: id, IDs: future.IDs()}, nil
}

// HandleObservationEvent ingests one observation from the broker and waits
// for it to be written so failures are retried.
func (s *CampaignService) HandleObservationEvent(ctx context.Context, event models.ObservationEvent) error {
	future, err := s.record(ctx, event.CampaignID, []models.ObservationRequest{event.Record}, SourceKafka)
	if err != nil {
		return err
	}
	return future.Wait(ctx)
}

func (s *CampaignService) record(ctx context.Context, id uuid.UUID, records []models.ObservationRequest, source string) (*database.WriteFuture, error) {
	if len(records) == 0 {
		return nil, models.NewInvalidParameter("observations", "at least one observation is required")
	}
	_, o, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	observations := make([]models.Observation, len(records))
	for i, r := range records {
		observations[i] = models.Observation{
			Params:     r.Params,
			Objectives: r.Objectives,
			Feasible:   r.Feasible,
			Metadata:   r.Metadata,
		}
	}
	if _, err := o.Snapshot(observations); err != nil {
		return nil, err
	}

	future, err := s.store.Append(ctx, id, observations)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordObservations(source, len(observations))
	s.logger.WithFields(logrus.Fields{
		"campaign_id":  id,
		"observations": len(observations),
		"source":       source,
	}).Debug("Observations queued")
	return future, nil
}

func (s *CampaignService) ListObservations(ctx context.Context, id uuid.UUID, filter models.ObservationFilter) (*models.ObservationListResponse, error) {
	if _, err := s.backend.LoadCampaign(ctx, id); err != nil {
		return nil, err
	}
	observations, err := s.store.Fetch(ctx, id, filter)
	if err != nil {
		return nil, err
	}
	if observations == nil {
		observations = []models.Observation{}
	}
	return &models.ObservationListResponse{
		CampaignID:   id,
		Observations: observations,
		Count:        len(observations),
	}, nil
}

// UpdateObservations backfills feasibility or objective values of recorded
// observations and reports how many were found.
func (s *CampaignService) UpdateObservations(ctx context.Context, id uuid.UUID, req models.UpdateObservationsRequest) (int, error) {
	_, o, err := s.load(ctx, id)
	if err != nil {
		return 0, err
	}
	known := make(map[string]bool)
	for _, obj := range o.Space().Objectives() {
		known[obj.Name] = true
	}
	for _, u := range req.Updates {
		for name := range u.Objectives {
			if !known[name] {
				return 0, models.NewInvalidParameter(name, "unknown objective")
			}
		}
	}

	future, err := s.store.UpdateBatch(ctx, id, req.Updates)
	if err != nil {
		return 0, err
	}
	if err := future.Wait(ctx); err != nil {
		return 0, err
	}
	return future.Updated(), nil
}

// Recommend proposes the next batch for a campaign from every observation
// recorded so far. Identical histories and requests are served from the
// cache when one is configured.
func (s *CampaignService) Recommend(ctx context.Context, id uuid.UUID, req models.RecommendationRequest) (*models.RecommendationResponse, error) {
	campaign, o, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	strategies, batchSize, err := o.ResolveStrategies(req.SamplingStrategies, req.BatchSize)
	if err != nil {
		return nil, err
	}

	observations, err := s.store.Fetch(ctx, id, models.ObservationFilter{})
	if err != nil {
		return nil, err
	}
	data, err := o.Snapshot(observations)
	if err != nil {
		return nil, err
	}

	response := &models.RecommendationResponse{
		CampaignID:   id,
		Observations: data.Len(),
		GeneratedAt:  time.Now().UTC(),
	}

	key := s.cache.Key(id, data.Fingerprint(), strategies, batchSize, campaign.Config.General.RandomSeed)
	if s.cache.Enabled() {
		candidates, hit, err := s.cache.Get(ctx, key)
		if err != nil {
			s.logger.WithError(err).Warn("Recommendation cache lookup failed")
		}
		s.metrics.RecordCache(hit)
		if hit {
			response.Candidates = candidates
			response.CacheHit = true
			return response, nil
		}
	}

	candidates, err := o.RecommendSnapshot(ctx, data, strategies, batchSize)
	if err != nil {
		return nil, err
	}
	response.Candidates = candidates

	if s.cache.Enabled() {
		if err := s.cache.Set(ctx, key, candidates); err != nil {
			s.logger.WithError(err).Warn("Failed to cache recommendations")
		}
	}

	if s.publisher != nil {
		event := models.RecommendationEvent{
			CampaignID:  id,
			Candidates:  candidates,
			GeneratedAt: response.GeneratedAt,
		}
		if err := s.publisher.PublishRecommendations(ctx, event); err != nil {
			s.logger.WithError(err).WithField("campaign_id", id).Warn("Failed to publish recommendations")
		}
	}

	return response, nil
}

// IsNotFound reports whether err means the campaign does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, models.ErrCampaignNotFound)
}
