// Package engine is the library entry point: it recommends batches of
// experiments for an optimization config from an observation history, without
// the HTTP service around it.
package engine

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/temcen/optirex/internal/config"
	"github.com/temcen/optirex/internal/constraints"
	"github.com/temcen/optirex/internal/services"
	"github.com/temcen/optirex/pkg/models"
)

// Predicate reports whether a decoded point satisfies the known constraints.
// An error excludes the point and is logged.
type Predicate = constraints.Predicate

// Tuning holds the search knobs that are not part of an optimization config.
type Tuning = config.TuningConfig

// DefaultTuning returns the tuning the service runs with.
func DefaultTuning() Tuning { return config.DefaultTuning() }

type Option func(*options)

type options struct {
	predicate Predicate
	logger    *logrus.Logger
	tuning    *Tuning
	metrics   bool
}

// WithKnownConstraints restricts candidates to points accepted by p.
func WithKnownConstraints(p Predicate) Option {
	return func(o *options) { o.predicate = p }
}

// WithLogger replaces the logger derived from the config's verbosity.
func WithLogger(logger *logrus.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithTuning(t Tuning) Option {
	return func(o *options) { o.tuning = &t }
}

// WithMetrics records engine metrics on a private registry, see Gatherer.
func WithMetrics() Option {
	return func(o *options) { o.metrics = true }
}

// Engine holds the run state of one optimization: the parameter space, the
// learned descriptor embeddings and the cached surrogate fit. It is safe for
// concurrent use; calls with the same history and seed return the same batch,
// whatever histories earlier calls used.
type Engine struct {
	config       *models.OptimizationConfig
	orchestrator *services.RecommendationOrchestrator
	metrics      *services.MetricsCollector
	logger       *logrus.Logger
}

// New validates cfg and builds an engine. cfg is not modified.
func New(cfg *models.OptimizationConfig, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultOptimization()
	}
	prepared := *cfg
	prepared.Parameters = make([]models.ParameterSpec, len(cfg.Parameters))
	for i, p := range cfg.Parameters {
		p.Options = append([]string(nil), p.Options...)
		p.CategoryDetails = append(models.CategoryDetails(nil), p.CategoryDetails...)
		p.Levels = append([]float64(nil), p.Levels...)
		prepared.Parameters[i] = p
	}
	prepared.Objectives = append([]models.ObjectiveSpec(nil), cfg.Objectives...)
	prepared.General.SamplingStrategies = append(models.SamplingStrategies(nil), cfg.General.SamplingStrategies...)
	if err := config.PrepareOptimization(&prepared); err != nil {
		return nil, err
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(config.LogLevel(prepared.General.Verbosity))
	}
	tuning := config.DefaultTuning()
	if o.tuning != nil {
		tuning = *o.tuning
	}
	var metrics *services.MetricsCollector
	if o.metrics {
		metrics = services.NewMetricsCollector()
	}

	orchestrator, err := services.NewRecommendationOrchestrator(&prepared, tuning, constraints.NewFilter(o.predicate), metrics, logger)
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"parameters": len(prepared.Parameters),
		"objectives": len(prepared.Objectives),
		"optimizer":  prepared.General.AcquisitionOptimizer,
		"seed":       prepared.General.RandomSeed,
	}).Debug("Engine ready")

	return &Engine{
		config:       &prepared,
		orchestrator: orchestrator,
		metrics:      metrics,
		logger:       logger,
	}, nil
}

// Config returns the prepared config, with defaults applied.
func (e *Engine) Config() models.OptimizationConfig { return *e.config }

// Recommend proposes batches x len(strategies) candidates. Slot i uses
// strategies[i mod len(strategies)]; -1 exploits, +1 explores. An empty
// strategies list uses the configured ones.
func (e *Engine) Recommend(ctx context.Context, observations []models.Observation, strategies []float64) ([]models.Candidate, error) {
	return e.orchestrator.Recommend(ctx, observations, strategies, 0)
}

// RecommendBatch is Recommend with an explicit batch size.
func (e *Engine) RecommendBatch(ctx context.Context, observations []models.Observation, strategies []float64, batchSize int) ([]models.Candidate, error) {
	if batchSize < 1 {
		return nil, models.NewInvalidParameter("batch_size", "must be positive, got %d", batchSize)
	}
	return e.orchestrator.Recommend(ctx, observations, strategies, batchSize)
}

// Gatherer exposes the engine metrics, nil unless WithMetrics was given.
func (e *Engine) Gatherer() prometheus.Gatherer {
	if e.metrics == nil {
		return nil
	}
	return e.metrics.Registry()
}
