package services

import (
	"context"
	"io"
	"math/rand"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/optirex/internal/acquisition"
	"github.com/temcen/optirex/internal/space"
	"github.com/temcen/optirex/pkg/models"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func unitSquareEncoder(t *testing.T) *space.Encoder {
	t.Helper()
	s, err := space.New([]models.ParameterSpec{
		{Name: "x", Type: models.ParameterContinuous, Low: 0, High: 1},
		{Name: "y", Type: models.ParameterContinuous, Low: 0, High: 1},
	}, []models.ObjectiveSpec{{Name: "obj", Goal: models.GoalMinimize}})
	require.NoError(t, err)
	enc, err := space.NewEncoder(s, space.Table{})
	require.NoError(t, err)
	return enc
}

func feasibleAt(x []float64) acquisition.Result {
	return acquisition.Result{X: x, Feasible: true, Feasibility: 1}
}

func TestDiversityFilter_ResearchesAndFallsBack(t *testing.T) {
	enc := unitSquareEncoder(t)
	df := NewDiversityFilter(0.05, 2, quietLogger())

	results := []acquisition.Result{
		feasibleAt([]float64{0.5, 0.5}),
		feasibleAt([]float64{0.5, 0.5}),
		feasibleAt([]float64{0.5, 0.5}),
	}

	var researched []int
	research := func(_ context.Context, slot, attempt int, repel [][]float64) acquisition.Result {
		researched = append(researched, slot)
		assert.NotEmpty(t, repel)
		if slot == 1 {
			return feasibleAt([]float64{0.9, 0.9})
		}
		// always too close to the first accepted point
		return feasibleAt([]float64{0.5, 0.52})
	}
	evaluate := func(_ int, x []float64) acquisition.Result { return feasibleAt(x) }

	out, stats := df.Apply(context.Background(), enc, results, nil, research, evaluate, rand.New(rand.NewSource(1)))
	require.Len(t, out, 3)

	assert.Equal(t, []float64{0.5, 0.5}, out[0].X)
	assert.Equal(t, []float64{0.9, 0.9}, out[1].X)
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			assert.GreaterOrEqual(t, enc.Distance(out[i].X, out[j].X), 0.05, "slots %d and %d", i, j)
		}
	}

	assert.Equal(t, 2, stats.Rejections)
	assert.Equal(t, 3, stats.Researches)
	assert.Equal(t, 1, stats.Fallbacks)
	assert.Equal(t, []int{1, 2, 2}, researched)
}

func TestDiversityFilter_RejectsObservedPoints(t *testing.T) {
	enc := unitSquareEncoder(t)
	df := NewDiversityFilter(0.05, 1, quietLogger())

	observed := [][]float64{{0.2, 0.2}}
	results := []acquisition.Result{feasibleAt([]float64{0.2, 0.2})}

	research := func(context.Context, int, int, [][]float64) acquisition.Result {
		return feasibleAt([]float64{0.7, 0.1})
	}
	out, stats := df.Apply(context.Background(), enc, results, observed, research,
		func(_ int, x []float64) acquisition.Result { return feasibleAt(x) }, rand.New(rand.NewSource(1)))

	assert.Equal(t, []float64{0.7, 0.1}, out[0].X)
	assert.Equal(t, 1, stats.Rejections)
	assert.Zero(t, stats.Fallbacks)
}

func TestDiversityFilter_FallbackPrefersFeasiblePoints(t *testing.T) {
	enc := unitSquareEncoder(t)
	df := NewDiversityFilter(0.05, 0, quietLogger())

	results := []acquisition.Result{
		feasibleAt([]float64{0.1, 0.1}),
		feasibleAt([]float64{0.1, 0.1}),
	}
	// Only the lower left half is feasible.
	evaluate := func(_ int, x []float64) acquisition.Result {
		return acquisition.Result{X: x, Feasible: x[0]+x[1] <= 1}
	}

	out, stats := df.Apply(context.Background(), enc, results, nil, nil, evaluate, rand.New(rand.NewSource(3)))
	assert.Equal(t, 1, stats.Fallbacks)
	assert.Zero(t, stats.Researches)
	assert.True(t, out[1].Feasible)
	assert.LessOrEqual(t, out[1].X[0]+out[1].X[1], 1.0)
	assert.GreaterOrEqual(t, enc.Distance(out[0].X, out[1].X), 0.05)
}

func TestDiversityFilter_AcceptsSeparatedBatch(t *testing.T) {
	enc := unitSquareEncoder(t)
	df := NewDiversityFilter(0.05, 3, quietLogger())

	results := []acquisition.Result{
		feasibleAt([]float64{0.1, 0.1}),
		feasibleAt([]float64{0.9, 0.9}),
	}
	out, stats := df.Apply(context.Background(), enc, results, nil, nil, nil, rand.New(rand.NewSource(1)))
	assert.Equal(t, results, out)
	assert.Equal(t, DiversityStats{}, stats)
}
