package acquisition

import (
	"context"
	"math/rand"

	"github.com/temcen/optirex/internal/constraints"
	"github.com/temcen/optirex/internal/space"
	"github.com/temcen/optirex/pkg/models"
)

// Result is the outcome of one search. Feasible is the predicate verdict on
// the decoded point; Feasibility the surrogate estimate.
type Result struct {
	X                []float64
	Score            float64
	Feasibility      float64
	Feasible         bool
	Evaluations      int
	ConstraintErrors int
}

// Found reports whether the result holds a point.
func (r Result) Found() bool { return r.X != nil }

// Better orders results: any feasible point beats every infeasible one;
// feasible points compare by score, infeasible ones by estimated
// feasibility (least infeasible first), then score.
func Better(a, b Result) bool {
	switch {
	case !a.Found():
		return false
	case !b.Found():
		return true
	case a.Feasible != b.Feasible:
		return a.Feasible
	case a.Feasible:
		return a.Score > b.Score
	case a.Feasibility != b.Feasibility:
		return a.Feasibility > b.Feasibility
	}
	return a.Score > b.Score
}

// Problem is the read-only input shared by every search of one slot.
type Problem struct {
	Encoder  *space.Encoder
	Function *Function
	Filter   *constraints.Filter
	// Seeds are history-informed starting points, best first.
	Seeds [][]float64
}

// Evaluate snaps x to the grid, scores it and consults the predicate.
// Predicate failures exclude the point.
func (p *Problem) Evaluate(x []float64) Result {
	snapped := p.Encoder.Snap(x)
	score, feas := p.Function.Evaluate(snapped)
	r := Result{X: snapped, Score: score, Feasibility: feas, Feasible: true, Evaluations: 1}
	if p.Filter.Defined() {
		ok, err := p.Filter.Check(p.Encoder.Decode(snapped))
		if err != nil {
			r.ConstraintErrors = 1
		}
		r.Feasible = ok && err == nil
	}
	return r
}

// Optimizer runs one local search from a starting point. progress receives
// the best result so far and may be nil.
type Optimizer interface {
	Name() string
	Optimize(ctx context.Context, p *Problem, start []float64, rng *rand.Rand, progress func(Result)) Result
}

// Config sizes the optimizers.
type Config struct {
	Restarts       int
	PopulationSize int
	Generations    int
	Steps          int
	LearningRate   float64
	// StartAttempts bounds the rejection sampling of feasible random starts.
	StartAttempts int
}

func (c Config) withDefaults() Config {
	if c.Restarts <= 0 {
		c.Restarts = 3
	}
	if c.PopulationSize <= 0 {
		c.PopulationSize = 40
	}
	if c.Generations <= 0 {
		c.Generations = 30
	}
	if c.Steps <= 0 {
		c.Steps = 150
	}
	if c.LearningRate <= 0 {
		c.LearningRate = 0.02
	}
	if c.StartAttempts <= 0 {
		c.StartAttempts = 64
	}
	return c
}

// ForSpace picks the optimizer: population search whenever the space has a
// categorical or discrete parameter, the configured one otherwise.
func ForSpace(s *space.Space, name string, cfg Config) Optimizer {
	cfg = cfg.withDefaults()
	if !s.ContinuousOnly() {
		return NewGenetic(cfg)
	}
	switch name {
	case models.OptimizerAdam:
		return NewAdam(cfg)
	case models.OptimizerLBFGS, models.OptimizerBFGS:
		return NewQuasiNewton(name, cfg)
	}
	return NewGenetic(cfg)
}

// Search runs the optimizer from several starts: history-informed seeds
// first, then random points pre-screened by the predicate. It always returns
// a point; when none is feasible it returns the least infeasible one.
func Search(ctx context.Context, opt Optimizer, p *Problem, cfg Config, rng *rand.Rand, progress func(Result)) Result {
	cfg = cfg.withDefaults()

	var best Result
	evaluations, constraintErrors := 0, 0
	report := func(r Result) {
		if Better(r, best) {
			best = r
			best.Evaluations = evaluations
			best.ConstraintErrors = constraintErrors
			if progress != nil {
				progress(best)
			}
		}
	}

	seeds := p.Seeds
	if len(seeds) > cfg.Restarts/2 {
		seeds = seeds[:cfg.Restarts/2]
	}
	for restart := 0; restart < cfg.Restarts; restart++ {
		if ctx.Err() != nil {
			break
		}
		var start []float64
		if restart < len(seeds) {
			start = perturb(p.Encoder, seeds[restart], rng)
		} else {
			var screened Result
			screened, evaluations, constraintErrors = randomStart(p, cfg.StartAttempts, rng, evaluations, constraintErrors)
			report(screened)
			start = screened.X
		}

		r := opt.Optimize(ctx, p, start, rng, func(partial Result) { report(partial) })
		evaluations += r.Evaluations
		constraintErrors += r.ConstraintErrors
		report(r)
	}

	if !best.Found() {
		best = p.Evaluate(p.Encoder.Sample(rng))
	}
	best.Evaluations = evaluations
	best.ConstraintErrors = constraintErrors
	return best
}

func randomStart(p *Problem, attempts int, rng *rand.Rand, evaluations, errs int) (Result, int, int) {
	var best Result
	for i := 0; i < attempts; i++ {
		r := p.Evaluate(p.Encoder.Sample(rng))
		evaluations++
		errs += r.ConstraintErrors
		if Better(r, best) {
			best = r
		}
		if r.Feasible {
			break
		}
	}
	return best, evaluations, errs
}

// perturb nudges a seed so restarts from the same observation explore its
// neighbourhood instead of re-proposing it.
func perturb(enc *space.Encoder, seed []float64, rng *rand.Rand) []float64 {
	x := append([]float64(nil), seed...)
	for _, seg := range enc.Segments() {
		if seg.Type == models.ParameterContinuous {
			x[seg.Start] += 0.05 * rng.NormFloat64()
		}
	}
	return enc.Snap(x)
}
