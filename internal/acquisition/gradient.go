package acquisition

import (
	"context"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"

	"github.com/temcen/optirex/pkg/models"
)

var gradientSettings = &fd.Settings{Formula: fd.Central, Step: 1e-4}

// Adam ascends the acquisition surface of a continuous space with projected
// Adam steps on finite-difference gradients. The predicate is consulted on
// every iterate and the best point along the trajectory is returned.
type Adam struct {
	steps int
	lr    float64
}

func NewAdam(cfg Config) *Adam {
	cfg = cfg.withDefaults()
	return &Adam{steps: cfg.Steps, lr: cfg.LearningRate}
}

func (a *Adam) Name() string { return models.OptimizerAdam }

func (a *Adam) Optimize(ctx context.Context, p *Problem, start []float64, rng *rand.Rand, progress func(Result)) Result {
	if start == nil {
		start = p.Encoder.Sample(rng)
	}
	x := clampVector(start)
	objective := func(v []float64) float64 { return -p.Function.Score(clampVector(v)) }

	best := p.Evaluate(x)
	evaluations, errs := 1, best.ConstraintErrors

	const beta1, beta2, eps = 0.9, 0.999, 1e-8
	m := make([]float64, len(x))
	v := make([]float64, len(x))
	grad := make([]float64, len(x))

	for t := 1; t <= a.steps; t++ {
		if ctx.Err() != nil {
			break
		}
		fd.Gradient(grad, objective, x, gradientSettings)
		if floats.Norm(grad, 2) < 1e-10 {
			break
		}
		c1 := 1 - math.Pow(beta1, float64(t))
		c2 := 1 - math.Pow(beta2, float64(t))
		for i, g := range grad {
			m[i] = beta1*m[i] + (1-beta1)*g
			v[i] = beta2*v[i] + (1-beta2)*g*g
			x[i] -= a.lr * (m[i] / c1) / (math.Sqrt(v[i]/c2) + eps)
		}
		x = clampVector(x)

		r := p.Evaluate(x)
		evaluations++
		errs += r.ConstraintErrors
		if Better(r, best) {
			best = r
			if progress != nil {
				progress(best)
			}
		}
	}

	best.Evaluations = evaluations
	best.ConstraintErrors = errs
	return best
}

// QuasiNewton minimizes the negated acquisition with gonum's LBFGS or BFGS
// on a box-penalized objective. The predicate is checked on the start and
// the optimum; the better of the two is kept.
type QuasiNewton struct {
	name  string
	steps int
}

func NewQuasiNewton(name string, cfg Config) *QuasiNewton {
	cfg = cfg.withDefaults()
	return &QuasiNewton{name: name, steps: cfg.Steps}
}

func (q *QuasiNewton) Name() string { return q.name }

func (q *QuasiNewton) method() optimize.Method {
	if q.name == models.OptimizerBFGS {
		return &optimize.BFGS{}
	}
	return &optimize.LBFGS{}
}

func (q *QuasiNewton) Optimize(ctx context.Context, p *Problem, start []float64, rng *rand.Rand, progress func(Result)) Result {
	if start == nil {
		start = p.Encoder.Sample(rng)
	}
	best := p.Evaluate(start)
	evaluations, errs := 1, best.ConstraintErrors
	if progress != nil {
		progress(best)
	}

	f := func(x []float64) float64 {
		return -p.Function.Score(clampVector(x)) + boxPenalty(x)
	}
	problem := optimize.Problem{
		Func: f,
		Grad: func(grad, x []float64) {
			fd.Gradient(grad, f, x, gradientSettings)
		},
	}
	settings := &optimize.Settings{
		MajorIterations:   q.steps,
		FuncEvaluations:   20 * q.steps,
		GradientThreshold: 1e-9,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-10,
			Iterations: 10,
		},
	}

	if ctx.Err() == nil {
		res, err := optimize.Minimize(problem, clampVector(start), settings, q.method())
		// A line search failure still leaves a usable location.
		if res != nil && len(res.X) == len(start) && (err == nil || !math.IsNaN(res.F)) {
			r := p.Evaluate(res.X)
			evaluations++
			errs += r.ConstraintErrors
			if Better(r, best) {
				best = r
			}
		}
	}

	best.Evaluations = evaluations
	best.ConstraintErrors = errs
	return best
}

func boxPenalty(x []float64) float64 {
	var pen float64
	for _, v := range x {
		switch {
		case v < 0:
			pen += v * v
		case v > 1:
			pen += (v - 1) * (v - 1)
		}
	}
	return 10 * pen
}

func clampVector(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = math.Max(0, math.Min(1, v))
	}
	return out
}
