// Package acquisition turns a fitted surrogate into concrete candidates.
package acquisition

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/temcen/optirex/internal/surrogate"
)

// Function scores points of the encoded space for one sampling strategy.
//
// With lambda = (1+s)/2, s = -1 is pure exploitation (predicted quality) and
// s = +1 pure exploration (model uncertainty):
//
//	score(x) = mean_k[(1-lambda) mean_k(x) + lambda uncertainty(x)] * p(x)
//	           - beta * sum_j exp(-|x-r_j|^2 / 2 rho^2)
//
// The second term repels the search from already accepted points r_j.
type Function struct {
	model    *surrogate.Model
	strategy float64
	lambda   float64

	repel  [][]float64
	radius float64
	beta   float64
}

func NewFunction(model *surrogate.Model, strategy float64) *Function {
	s := math.Max(-1, math.Min(1, strategy))
	return &Function{
		model:    model,
		strategy: s,
		lambda:   (1 + s) / 2,
	}
}

// WithRepulsion returns a copy that penalizes points within about radius of
// any of the given points.
func (f *Function) WithRepulsion(points [][]float64, radius float64) *Function {
	cp := *f
	cp.repel = points
	cp.radius = radius
	cp.beta = 1
	return &cp
}

func (f *Function) Strategy() float64 { return f.strategy }

func (f *Function) Model() *surrogate.Model { return f.model }

// Evaluate returns the acquisition score and the surrogate feasibility at x.
func (f *Function) Evaluate(x []float64) (score, feasibility float64) {
	p := f.model.Predict(x)
	var sum float64
	for _, mean := range p.Mean {
		sum += (1-f.lambda)*mean + f.lambda*p.Uncertainty
	}
	score = sum / float64(len(p.Mean)) * p.Feasibility
	if len(f.repel) > 0 && f.radius > 0 {
		score -= f.beta * f.repulsion(x)
	}
	return score, p.Feasibility
}

// Score is Evaluate without the feasibility estimate.
func (f *Function) Score(x []float64) float64 {
	s, _ := f.Evaluate(x)
	return s
}

func (f *Function) repulsion(x []float64) float64 {
	var total float64
	for _, r := range f.repel {
		d := floats.Distance(x, r, 2)
		total += math.Exp(-d * d / (2 * f.radius * f.radius))
	}
	return total
}
