package services

import (
	"context"
	"math"
	"math/rand"

	"github.com/sirupsen/logrus"

	"github.com/temcen/optirex/internal/acquisition"
	"github.com/temcen/optirex/internal/space"
)

// duplicateTolerance is the encoded distance below which two points are the
// same experiment.
const duplicateTolerance = 1e-9

// maximinSamples is the number of random points scored by the fallback.
const maximinSamples = 256

// Researcher re-runs the search of one slot, repelled from the given points.
type Researcher func(ctx context.Context, slot, attempt int, repel [][]float64) acquisition.Result

// Evaluator scores an arbitrary point for one slot.
type Evaluator func(slot int, x []float64) acquisition.Result

// DiversityStats summarizes one Apply call.
type DiversityStats struct {
	Rejections int
	Researches int
	Fallbacks  int
}

// DiversityFilter keeps a batch from collapsing onto one point. It runs
// serially after every slot search has returned.
type DiversityFilter struct {
	minDistance float64
	attempts    int
	logger      *logrus.Logger
}

func NewDiversityFilter(minDistance float64, attempts int, logger *logrus.Logger) *DiversityFilter {
	if attempts < 0 {
		attempts = 0
	}
	return &DiversityFilter{
		minDistance: minDistance,
		attempts:    attempts,
		logger:      logger,
	}
}

func (df *DiversityFilter) MinDistance() float64 { return df.minDistance }

// acceptable reports whether x keeps min distance from every accepted point
// and does not repeat an observed one.
func (df *DiversityFilter) acceptable(enc *space.Encoder, x []float64, accepted, observed [][]float64) bool {
	for _, a := range accepted {
		if enc.Distance(x, a) < df.minDistance {
			return false
		}
	}
	for _, o := range observed {
		if enc.Distance(x, o) < duplicateTolerance {
			return false
		}
	}
	return true
}

// Apply walks the slots in order. A rejected slot is re-searched with
// repulsion from the accepted set up to the configured number of attempts;
// after that it takes the random sample farthest from everything already
// chosen or observed.
func (df *DiversityFilter) Apply(
	ctx context.Context,
	enc *space.Encoder,
	results []acquisition.Result,
	observed [][]float64,
	research Researcher,
	evaluate Evaluator,
	rng *rand.Rand,
) ([]acquisition.Result, DiversityStats) {
	var stats DiversityStats
	out := make([]acquisition.Result, len(results))
	accepted := make([][]float64, 0, len(results))

	for slot, r := range results {
		if !df.acceptable(enc, r.X, accepted, observed) {
			stats.Rejections++
			found := false
			for attempt := 1; attempt <= df.attempts && ctx.Err() == nil; attempt++ {
				stats.Researches++
				candidate := research(ctx, slot, attempt, append(accepted[:len(accepted):len(accepted)], observed...))
				if candidate.Found() && df.acceptable(enc, candidate.X, accepted, observed) {
					r = candidate
					found = true
					break
				}
			}
			if !found {
				stats.Fallbacks++
				r = df.maximin(enc, slot, accepted, observed, evaluate, rng)
				if !df.acceptable(enc, r.X, accepted, observed) {
					df.logger.WithFields(logrus.Fields{
						"slot":         slot,
						"min_distance": df.minDistance,
					}).Warn("Space too small to keep the batch separated")
				}
			}
		}
		out[slot] = r
		accepted = append(accepted, r.X)
	}

	if stats.Rejections > 0 {
		df.logger.WithFields(logrus.Fields{
			"rejections": stats.Rejections,
			"researches": stats.Researches,
			"fallbacks":  stats.Fallbacks,
		}).Debug("Applied diversity filter")
	}
	return out, stats
}

// maximin scores random grid points by their distance to the nearest chosen
// or observed point and keeps the farthest one, preferring feasible points.
func (df *DiversityFilter) maximin(
	enc *space.Encoder,
	slot int,
	accepted, observed [][]float64,
	evaluate Evaluator,
	rng *rand.Rand,
) acquisition.Result {
	var best acquisition.Result
	bestScore := math.Inf(-1)
	for i := 0; i < maximinSamples; i++ {
		x := enc.Snap(enc.Sample(rng))
		score := math.Inf(1)
		for _, a := range accepted {
			score = math.Min(score, enc.Distance(x, a))
		}
		for _, o := range observed {
			score = math.Min(score, enc.Distance(x, o))
		}
		if best.Found() && best.Feasible && score <= bestScore {
			continue
		}
		r := evaluate(slot, x)
		if !r.Found() {
			continue
		}
		switch {
		case !best.Found(),
			r.Feasible && !best.Feasible,
			r.Feasible == best.Feasible && score > bestScore:
			best, bestScore = r, score
		}
	}
	return best
}
