package acquisition

import (
	"context"
	"math/rand"
	"sort"

	"github.com/temcen/optirex/pkg/models"
)

// Genetic is a population search over the encoded space: tournament
// selection, per-parameter uniform crossover, gaussian mutation on
// continuous coordinates and option resampling on categorical ones.
// Offspring are snapped to the grid, so every individual decodes exactly.
type Genetic struct {
	population  int
	generations int
	elite       int
	tournament  int
	mutation    float64
	sigma       float64
}

func NewGenetic(cfg Config) *Genetic {
	cfg = cfg.withDefaults()
	return &Genetic{
		population:  cfg.PopulationSize,
		generations: cfg.Generations,
		elite:       2,
		tournament:  3,
		mutation:    0.25,
		sigma:       0.1,
	}
}

func (g *Genetic) Name() string { return models.OptimizerGenetic }

func (g *Genetic) Optimize(ctx context.Context, p *Problem, start []float64, rng *rand.Rand, progress func(Result)) Result {
	pop := make([]Result, 0, g.population)
	if start != nil {
		pop = append(pop, p.Evaluate(start))
	}
	for len(pop) < g.population {
		pop = append(pop, p.Evaluate(p.Encoder.Sample(rng)))
	}
	evaluations, errs := len(pop), 0
	for _, r := range pop {
		errs += r.ConstraintErrors
	}

	sortResults(pop)
	for gen := 0; gen < g.generations; gen++ {
		if ctx.Err() != nil {
			break
		}
		if progress != nil {
			progress(pop[0])
		}

		next := make([]Result, 0, g.population)
		next = append(next, pop[:min(g.elite, len(pop))]...)
		for len(next) < g.population {
			a := g.selectParent(pop, rng)
			b := g.selectParent(pop, rng)
			child := g.crossover(p, a.X, b.X, rng)
			g.mutate(p, child, rng)
			r := p.Evaluate(child)
			evaluations++
			errs += r.ConstraintErrors
			next = append(next, r)
		}
		pop = next
		sortResults(pop)
	}

	best := pop[0]
	best.Evaluations = evaluations
	best.ConstraintErrors = errs
	return best
}

func sortResults(pop []Result) {
	sort.SliceStable(pop, func(i, j int) bool { return Better(pop[i], pop[j]) })
}

func (g *Genetic) selectParent(pop []Result, rng *rand.Rand) Result {
	best := pop[rng.Intn(len(pop))]
	for i := 1; i < g.tournament; i++ {
		if c := pop[rng.Intn(len(pop))]; Better(c, best) {
			best = c
		}
	}
	return best
}

func (g *Genetic) crossover(p *Problem, a, b []float64, rng *rand.Rand) []float64 {
	child := make([]float64, len(a))
	for _, seg := range p.Encoder.Segments() {
		src := a
		if rng.Intn(2) == 1 {
			src = b
		}
		copy(child[seg.Start:seg.End], src[seg.Start:seg.End])
		if seg.Type == models.ParameterContinuous {
			// Blend continuous genes between the parents.
			w := rng.Float64()
			child[seg.Start] = w*a[seg.Start] + (1-w)*b[seg.Start]
		}
	}
	return child
}

func (g *Genetic) mutate(p *Problem, x []float64, rng *rand.Rand) {
	sp := p.Encoder.Space()
	for _, seg := range p.Encoder.Segments() {
		if rng.Float64() >= g.mutation {
			continue
		}
		if seg.Type == models.ParameterContinuous {
			x[seg.Start] += g.sigma * rng.NormFloat64()
			continue
		}
		opt := rng.Intn(len(sp.Options(seg.Param)))
		copy(x[seg.Start:seg.End], p.Encoder.OptionVector(seg.Param, opt))
	}
}
