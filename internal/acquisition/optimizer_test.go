package acquisition

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/optirex/internal/constraints"
	"github.com/temcen/optirex/internal/descriptors"
	"github.com/temcen/optirex/internal/history"
	"github.com/temcen/optirex/internal/space"
	"github.com/temcen/optirex/internal/surrogate"
	"github.com/temcen/optirex/pkg/models"
)

func continuousSpace(t *testing.T) *space.Space {
	t.Helper()
	s, err := space.New([]models.ParameterSpec{
		{Name: "x", Type: models.ParameterContinuous, Low: 0, High: 1},
		{Name: "y", Type: models.ParameterContinuous, Low: 0, High: 1},
	}, []models.ObjectiveSpec{{Name: "obj", Goal: models.GoalMinimize}})
	require.NoError(t, err)
	return s
}

func mixedSpace(t *testing.T) *space.Space {
	t.Helper()
	s, err := space.New([]models.ParameterSpec{
		{Name: "x", Type: models.ParameterContinuous, Low: -5, High: 5},
		{Name: "color", Type: models.ParameterCategorical, Options: []string{"red", "green", "blue"}},
	}, []models.ObjectiveSpec{{Name: "obj", Goal: models.GoalMinimize}})
	require.NoError(t, err)
	return s
}

func problem(t *testing.T, s *space.Space, observations []models.Observation, strategy float64, p constraints.Predicate) *Problem {
	t.Helper()
	table := space.Table{}
	for i := 0; i < s.NumParameters(); i++ {
		if opts := s.Options(i); len(opts) > 0 {
			table[s.Parameter(i).Name] = descriptors.OneHot(len(opts))
		}
	}
	enc, err := space.NewEncoder(s, table)
	require.NoError(t, err)
	d, err := history.Collect(s, observations, nil)
	require.NoError(t, err)
	points, err := d.Points(enc)
	require.NoError(t, err)
	model, _ := surrogate.New(surrogate.Config{}).Fit(d, points, 1)
	return &Problem{
		Encoder:  enc,
		Function: NewFunction(model, strategy),
		Filter:   constraints.NewFilter(p),
	}
}

func observation(x, y, obj float64) models.Observation {
	return models.Observation{
		Params:     models.ParameterValues{"x": x, "y": y},
		Objectives: models.ObjectiveValues{"obj": obj},
	}
}

func TestBetter(t *testing.T) {
	none := Result{}
	feasibleLow := Result{X: []float64{0}, Score: 0.1, Feasible: true}
	feasibleHigh := Result{X: []float64{0}, Score: 0.9, Feasible: true}
	infeasibleLikely := Result{X: []float64{0}, Score: 0.1, Feasibility: 0.8}
	infeasibleUnlikely := Result{X: []float64{0}, Score: 5, Feasibility: 0.2}

	assert.True(t, Better(feasibleLow, none))
	assert.False(t, Better(none, feasibleLow))
	assert.True(t, Better(feasibleHigh, feasibleLow))
	assert.True(t, Better(feasibleLow, infeasibleLikely), "any feasible point beats an infeasible one")
	assert.True(t, Better(infeasibleLikely, infeasibleUnlikely), "least infeasible first")
	assert.False(t, Better(feasibleLow, feasibleLow))
}

func TestFunction_StrategyBias(t *testing.T) {
	s := continuousSpace(t)
	observations := []models.Observation{observation(0.1, 0.1, 0), observation(0.15, 0.12, 1)}

	exploit := problem(t, s, observations, -1, nil).Function
	explore := problem(t, s, observations, 1, nil).Function

	nearData := []float64{0.1, 0.1}
	farAway := []float64{0.95, 0.95}
	assert.Greater(t, exploit.Score(nearData), exploit.Score(farAway), "exploitation prefers the known optimum")
	assert.Greater(t, explore.Score(farAway), explore.Score(nearData), "exploration prefers unexplored regions")

	assert.Equal(t, 1.0, NewFunction(exploit.Model(), 3).Strategy())
	assert.Equal(t, -1.0, NewFunction(exploit.Model(), -3).Strategy())
}

func TestFunction_Repulsion(t *testing.T) {
	s := continuousSpace(t)
	f := problem(t, s, nil, 0, nil).Function
	x := []float64{0.5, 0.5}

	repelled := f.WithRepulsion([][]float64{{0.5, 0.5}}, 0.1)
	assert.Less(t, repelled.Score(x), f.Score(x))
	assert.InDelta(t, f.Score([]float64{0, 0}), repelled.Score([]float64{0, 0}), 1e-3)
	assert.Equal(t, f.Score(x), f.Score(x), "the original function is unchanged")
}

func TestForSpace(t *testing.T) {
	cont := continuousSpace(t)
	mixed := mixedSpace(t)

	assert.Equal(t, models.OptimizerAdam, ForSpace(cont, models.OptimizerAdam, Config{}).Name())
	assert.Equal(t, models.OptimizerLBFGS, ForSpace(cont, models.OptimizerLBFGS, Config{}).Name())
	assert.Equal(t, models.OptimizerBFGS, ForSpace(cont, models.OptimizerBFGS, Config{}).Name())
	assert.Equal(t, models.OptimizerGenetic, ForSpace(cont, models.OptimizerGenetic, Config{}).Name())
	assert.Equal(t, models.OptimizerGenetic, ForSpace(mixed, models.OptimizerAdam, Config{}).Name())
}

func TestSearch_RespectsPredicate(t *testing.T) {
	s := continuousSpace(t)
	band := func(v models.ParameterValues) bool {
		return math.Abs(v["x"].(float64)-v["y"].(float64)) >= 0.1
	}
	observations := []models.Observation{observation(0.2, 0.8, 1), observation(0.7, 0.1, 2)}

	for _, name := range []string{models.OptimizerGenetic, models.OptimizerAdam, models.OptimizerLBFGS} {
		t.Run(name, func(t *testing.T) {
			p := problem(t, s, observations, 0, constraints.FromBool(band))
			cfg := Config{Restarts: 3, PopulationSize: 16, Generations: 8, Steps: 30}
			r := Search(context.Background(), ForSpace(s, name, cfg), p, cfg, rand.New(rand.NewSource(7)), nil)

			require.True(t, r.Found())
			assert.True(t, r.Feasible)
			assert.True(t, band(p.Encoder.Decode(r.X)))
			assert.Greater(t, r.Evaluations, 0)
		})
	}
}

func TestSearch_NoFeasiblePoint(t *testing.T) {
	s := mixedSpace(t)
	p := problem(t, s, nil, 0, constraints.FromBool(func(models.ParameterValues) bool { return false }))
	cfg := Config{Restarts: 2, PopulationSize: 8, Generations: 3, StartAttempts: 4}

	r := Search(context.Background(), ForSpace(s, "", cfg), p, cfg, rand.New(rand.NewSource(1)), nil)
	require.True(t, r.Found(), "a point is always returned")
	assert.False(t, r.Feasible)
	assert.Len(t, r.X, p.Encoder.Dim())
}

func TestSearch_PredicateErrorsExcludePoints(t *testing.T) {
	s := mixedSpace(t)
	failing := func(v models.ParameterValues) (bool, error) {
		if v["color"] == "red" {
			return false, errors.New("sensor offline")
		}
		return true, nil
	}
	p := problem(t, s, nil, 0, failing)
	cfg := Config{Restarts: 2, PopulationSize: 12, Generations: 4}

	r := Search(context.Background(), NewGenetic(cfg), p, cfg, rand.New(rand.NewSource(3)), nil)
	require.True(t, r.Feasible)
	assert.NotEqual(t, "red", p.Encoder.Decode(r.X)["color"])
	assert.Greater(t, r.ConstraintErrors, 0)

	evaluations, failures := p.Filter.Stats()
	assert.Greater(t, evaluations, failures)
	assert.Greater(t, failures, int64(0))
}

func TestSearch_CancelledContextReturnsBestSoFar(t *testing.T) {
	s := continuousSpace(t)
	p := problem(t, s, nil, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var reported int
	r := Search(ctx, NewAdam(Config{}), p, Config{}, rand.New(rand.NewSource(5)), func(Result) { reported++ })
	assert.True(t, r.Found())
	assert.Zero(t, reported)
	for _, v := range r.X {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
}

func TestSearch_Deterministic(t *testing.T) {
	s := mixedSpace(t)
	run := func() Result {
		p := problem(t, s, []models.Observation{{
			Params:     models.ParameterValues{"x": 1.0, "color": "blue"},
			Objectives: models.ObjectiveValues{"obj": 3},
		}}, -0.5, nil)
		p.Seeds = [][]float64{p.Encoder.Snap([]float64{0.6, 0, 0, 1})}
		cfg := Config{Restarts: 4, PopulationSize: 10, Generations: 5}
		return Search(context.Background(), NewGenetic(cfg), p, cfg, rand.New(rand.NewSource(11)), nil)
	}
	assert.Equal(t, run().X, run().X)
}

func TestGenetic_OffspringOnGrid(t *testing.T) {
	s := mixedSpace(t)
	p := problem(t, s, nil, 1, nil)
	cfg := Config{PopulationSize: 10, Generations: 6}

	r := NewGenetic(cfg).Optimize(context.Background(), p, nil, rand.New(rand.NewSource(2)), nil)
	assert.Equal(t, p.Encoder.Snap(r.X), r.X)
	assert.Contains(t, []string{"red", "green", "blue"}, p.Encoder.Decode(r.X)["color"])
}
