package services

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/temcen/optirex/internal/acquisition"
	"github.com/temcen/optirex/internal/config"
	"github.com/temcen/optirex/internal/constraints"
	"github.com/temcen/optirex/internal/descriptors"
	"github.com/temcen/optirex/internal/history"
	"github.com/temcen/optirex/internal/space"
	"github.com/temcen/optirex/internal/surrogate"
	"github.com/temcen/optirex/pkg/models"
)

// RecommendationOrchestrator turns an observation history into a batch of
// mutually diverse candidates. It holds the per-run state that survives
// between calls (descriptor embeddings, the cached surrogate fit) and is safe
// for concurrent use.
type RecommendationOrchestrator struct {
	config    *models.OptimizationConfig
	tuning    config.TuningConfig
	space     *space.Space
	embedder  *descriptors.Embedder
	surrogate *surrogate.Surrogate
	filter    *constraints.Filter
	diversity *DiversityFilter
	metrics   *MetricsCollector
	logger    *logrus.Logger
}

// NewRecommendationOrchestrator builds the run state for a prepared
// configuration. filter and metrics may be nil.
func NewRecommendationOrchestrator(
	cfg *models.OptimizationConfig,
	tuning config.TuningConfig,
	filter *constraints.Filter,
	metrics *MetricsCollector,
	logger *logrus.Logger,
) (*RecommendationOrchestrator, error) {
	s, err := space.New(cfg.Parameters, cfg.Objectives)
	if err != nil {
		return nil, err
	}
	if filter == nil {
		filter = constraints.NewFilter(nil)
	}

	embedder := descriptors.New(s, descriptors.Config{
		AutoDescGen: cfg.General.AutoDescGen,
		Learned: descriptors.LearnedConfig{
			MinObservationsPerOption: tuning.MinObservationsPerOption,
			RetrainInterval:          tuning.RetrainInterval,
			Epochs:                   tuning.EmbedderEpochs,
			Seed:                     cfg.General.RandomSeed,
		},
	}, logger)

	return &RecommendationOrchestrator{
		config:   cfg,
		tuning:   tuning,
		space:    s,
		embedder: embedder,
		surrogate: surrogate.New(surrogate.Config{
			Boosted:     cfg.General.Boosted,
			Caching:     cfg.General.Caching,
			Bandwidth:   tuning.Bandwidth,
			PriorWeight: tuning.PriorWeight,
		}),
		filter:    filter,
		diversity: NewDiversityFilter(tuning.MinDistance, tuning.DiversityAttempts, logger),
		metrics:   metrics,
		logger:    logger,
	}, nil
}

func (o *RecommendationOrchestrator) Space() *space.Space { return o.space }

func (o *RecommendationOrchestrator) Embedder() *descriptors.Embedder { return o.embedder }

// Snapshot validates the history and freezes it for one call.
func (o *RecommendationOrchestrator) Snapshot(observations []models.Observation) (*history.Dataset, error) {
	var check history.FeasibilityFunc
	if o.filter.Defined() {
		check = o.filter.Check
	}
	return history.Collect(o.space, observations, check)
}

// ResolveStrategies validates the requested strategies, falling back to the
// configured ones, and the batch size, falling back to batches x strategies.
func (o *RecommendationOrchestrator) ResolveStrategies(strategies []float64, batchSize int) ([]float64, int, error) {
	if len(strategies) == 0 {
		strategies = o.config.General.SamplingStrategies
	}
	if len(strategies) == 0 {
		return nil, 0, models.NewInvalidParameter("sampling_strategies", "at least one strategy is required")
	}
	for _, s := range strategies {
		if math.IsNaN(s) || s < -1 || s > 1 {
			return nil, 0, models.NewInvalidParameter("sampling_strategies", "%v is outside [-1, 1]", s)
		}
	}
	if batchSize < 0 {
		return nil, 0, models.NewInvalidParameter("batch_size", "must be positive, got %d", batchSize)
	}
	if batchSize == 0 {
		batchSize = o.config.BatchSize(len(strategies))
	}
	return strategies, batchSize, nil
}

// Recommend proposes batchSize candidates; slot i uses strategy
// strategies[i mod len(strategies)]. A zero batchSize uses the configured
// default.
func (o *RecommendationOrchestrator) Recommend(
	ctx context.Context,
	observations []models.Observation,
	strategies []float64,
	batchSize int,
) ([]models.Candidate, error) {
	strategies, batchSize, err := o.ResolveStrategies(strategies, batchSize)
	if err != nil {
		return nil, err
	}
	data, err := o.Snapshot(observations)
	if err != nil {
		return nil, err
	}
	return o.RecommendSnapshot(ctx, data, strategies, batchSize)
}

// slotRun is the read-only state every slot search shares.
type slotRun struct {
	encoder    *space.Encoder
	model      *surrogate.Model
	strategies []float64
	seeds      [][]float64
	acq        acquisition.Config
}

// RecommendSnapshot is Recommend on an already collected history. strategies
// and batchSize must have been resolved.
func (o *RecommendationOrchestrator) RecommendSnapshot(
	ctx context.Context,
	data *history.Dataset,
	strategies []float64,
	batchSize int,
) (candidates []models.Candidate, err error) {
	start := time.Now()
	defer func() { o.metrics.RecordRecommendation(time.Since(start), err) }()

	evalBefore, failBefore := o.filter.Stats()

	// Training failures keep the previous embedding; the embedder logs them.
	if err := o.embedder.Refresh(ctx, data.Records(), false); err != nil {
		o.metrics.RecordEmbedderFailure()
	}

	encoder, err := space.NewEncoder(o.space, o.embedder.Table())
	if err != nil {
		return nil, fmt.Errorf("failed to build encoder: %w", err)
	}
	points, err := data.Points(encoder)
	if err != nil {
		return nil, err
	}
	model, cached := o.surrogate.Fit(data, points, o.embedder.Version())
	o.metrics.RecordSurrogateFit(cached)

	acq := acquisition.Config{
		Restarts:       o.tuning.Restarts,
		PopulationSize: o.tuning.PopulationSize,
		Generations:    o.tuning.Generations,
		Steps:          o.tuning.GradientSteps,
		LearningRate:   o.tuning.LearningRate,
	}
	run := &slotRun{
		encoder:    encoder,
		model:      model,
		strategies: strategies,
		acq:        acq,
	}
	for _, i := range data.Best(max(1, acq.Restarts)) {
		run.seeds = append(run.seeds, points[i])
	}

	o.logger.WithFields(logrus.Fields{
		"observations": data.Len(),
		"feasible":     data.NumFeasible(),
		"batch_size":   batchSize,
		"strategies":   strategies,
		"cached_fit":   cached,
		"optimizer":    acquisition.ForSpace(o.space, o.config.General.AcquisitionOptimizer, acq).Name(),
	}).Debug("Generating recommendations")

	results := o.searchSlots(ctx, run, batchSize)

	results, stats := o.diversity.Apply(ctx, encoder, results, points,
		func(ctx context.Context, slot, attempt int, repel [][]float64) acquisition.Result {
			return o.searchSlot(ctx, run, slot, attempt, repel)
		},
		func(slot int, x []float64) acquisition.Result {
			return o.problem(run, slot, nil).Evaluate(x)
		},
		rand.New(rand.NewSource(o.seed(batchSize, 0))),
	)
	o.metrics.RecordDiversity(stats)

	candidates = make([]models.Candidate, batchSize)
	for slot, r := range results {
		candidates[slot] = models.Candidate{
			Slot:             slot,
			Params:           encoder.Decode(r.X),
			SamplingStrategy: run.strategy(slot),
			Feasibility:      r.Feasibility,
			Feasible:         r.Feasible,
			Acquisition:      r.Score,
		}
		o.metrics.RecordCandidate(r.Feasible)
		if !r.Feasible {
			o.logger.WithError(models.ErrNoFeasiblePoint).WithFields(logrus.Fields{
				"slot":        slot,
				"feasibility": r.Feasibility,
			}).Warn("Returning least infeasible candidate")
		}
	}

	evalAfter, failAfter := o.filter.Stats()
	o.metrics.RecordConstraintEvaluations(evalAfter-evalBefore, failAfter-failBefore)
	if failAfter > failBefore {
		o.logger.WithField("failures", failAfter-failBefore).Warn("Constraint evaluation failed for some points, excluded them")
	}

	o.logger.WithFields(logrus.Fields{
		"candidates": len(candidates),
		"rejections": stats.Rejections,
		"latency":    time.Since(start),
	}).Info("Recommendations generated")

	return candidates, nil
}

func (r *slotRun) strategy(slot int) float64 {
	return r.strategies[slot%len(r.strategies)]
}

func (o *RecommendationOrchestrator) problem(run *slotRun, slot int, repel [][]float64) *acquisition.Problem {
	fn := acquisition.NewFunction(run.model, run.strategy(slot))
	if len(repel) > 0 {
		fn = fn.WithRepulsion(repel, o.diversity.MinDistance())
	}
	return &acquisition.Problem{
		Encoder:  run.encoder,
		Function: fn,
		Filter:   o.filter,
		Seeds:    run.seeds,
	}
}

// searchSlots runs the first search of every slot on a pool bounded by
// num_cpus and joins the results by index.
func (o *RecommendationOrchestrator) searchSlots(ctx context.Context, run *slotRun, batchSize int) []acquisition.Result {
	results := make([]acquisition.Result, batchSize)

	workers := int(o.config.General.NumCPUs)
	if workers < 1 {
		workers = 1
	}
	var g errgroup.Group
	g.SetLimit(workers)
	for slot := 0; slot < batchSize; slot++ {
		g.Go(func() error {
			results[slot] = o.searchSlot(ctx, run, slot, 0, nil)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// searchSlot runs one multi-start search. Past the slot timeout the worker
// is abandoned and its best-so-far result is used, or a random sample when
// it has none yet.
func (o *RecommendationOrchestrator) searchSlot(ctx context.Context, run *slotRun, slot, attempt int, repel [][]float64) acquisition.Result {
	p := o.problem(run, slot, repel)
	opt := acquisition.ForSpace(o.space, o.config.General.AcquisitionOptimizer, run.acq)
	seed := o.seed(slot, attempt)

	if o.tuning.SlotTimeout <= 0 {
		return acquisition.Search(ctx, opt, p, run.acq, rand.New(rand.NewSource(seed)), nil)
	}

	sctx, cancel := context.WithTimeout(ctx, o.tuning.SlotTimeout)
	defer cancel()

	var (
		mu   sync.Mutex
		best acquisition.Result
	)
	done := make(chan acquisition.Result, 1)
	go func() {
		done <- acquisition.Search(sctx, opt, p, run.acq, rand.New(rand.NewSource(seed)), func(r acquisition.Result) {
			mu.Lock()
			best = r
			mu.Unlock()
		})
	}()

	select {
	case r := <-done:
		return r
	case <-sctx.Done():
	}

	o.metrics.RecordSlotTimeout()
	mu.Lock()
	r := best
	mu.Unlock()
	o.logger.WithFields(logrus.Fields{
		"slot":    slot,
		"attempt": attempt,
		"timeout": o.tuning.SlotTimeout,
		"found":   r.Found(),
	}).Warn("Slot search abandoned at timeout")
	if !r.Found() {
		r = p.Evaluate(run.encoder.Sample(rand.New(rand.NewSource(seed))))
	}
	return r
}

// seed derives the random stream of one slot attempt from random_seed.
func (o *RecommendationOrchestrator) seed(slot, attempt int) int64 {
	return o.config.General.RandomSeed*1_000_003 + int64(slot)*7_919 + int64(attempt)*104_729
}
