package surrogate

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/optirex/internal/history"
	"github.com/temcen/optirex/internal/space"
	"github.com/temcen/optirex/pkg/models"
)

func boolPtr(b bool) *bool { return &b }

func fixture(t *testing.T, observations []models.Observation) (*history.Dataset, [][]float64) {
	t.Helper()
	s, err := space.New([]models.ParameterSpec{
		{Name: "x", Type: models.ParameterContinuous, Low: 0, High: 1},
		{Name: "y", Type: models.ParameterContinuous, Low: 0, High: 1},
	}, []models.ObjectiveSpec{{Name: "obj", Goal: models.GoalMinimize}})
	require.NoError(t, err)

	d, err := history.Collect(s, observations, nil)
	require.NoError(t, err)
	enc, err := space.NewEncoder(s, space.Table{})
	require.NoError(t, err)
	points, err := d.Points(enc)
	require.NoError(t, err)
	return d, points
}

func point(x, y, obj float64) models.Observation {
	return models.Observation{
		Params:     models.ParameterValues{"x": x, "y": y},
		Objectives: models.ObjectiveValues{"obj": obj},
	}
}

func TestModel_MonotonicSensitivity(t *testing.T) {
	d, points := fixture(t, []models.Observation{
		point(0.1, 0.1, 0.0), // best
		point(0.9, 0.9, 5.0), // worst
		point(0.1, 0.9, 2.5),
	})
	m, _ := New(Config{}).Fit(d, points, 1)

	good := m.Predict([]float64{0.12, 0.1})
	bad := m.Predict([]float64{0.88, 0.9})
	assert.Greater(t, good.Mean[0], bad.Mean[0])
	assert.Greater(t, good.Mean[0], 0.5)
	assert.Less(t, bad.Mean[0], 0.5)
}

func TestModel_FiniteEverywhere(t *testing.T) {
	d, points := fixture(t, []models.Observation{point(0.5, 0.5, 1)})
	m, _ := New(Config{Boosted: true}).Fit(d, points, 1)

	for _, x := range [][]float64{{0, 0}, {1, 1}, {0.5, 0.5}, {0, 1}} {
		p := m.Predict(x)
		for _, v := range append(p.Mean, p.Uncertainty, p.Feasibility) {
			assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 1.0)
		}
	}

	far := m.Predict([]float64{0, 0})
	near := m.Predict([]float64{0.5, 0.5})
	assert.Greater(t, far.Uncertainty, near.Uncertainty, "sparse regions are more uncertain")
}

func TestModel_EmptyHistory(t *testing.T) {
	d, points := fixture(t, nil)
	m, _ := New(Config{}).Fit(d, points, 1)

	p := m.Predict([]float64{0.3, 0.7})
	assert.Equal(t, 0.5, p.Mean[0])
	assert.Equal(t, 1.0, p.Uncertainty)
	assert.Equal(t, 0.5, p.Feasibility)
}

func TestModel_FeasibilityAwareness(t *testing.T) {
	infeasible := point(0.9, 0.9, 1)
	infeasible.Feasible = boolPtr(false)
	d, points := fixture(t, []models.Observation{point(0.1, 0.1, 1), point(0.15, 0.1, 2), infeasible})

	m, _ := New(Config{}).Fit(d, points, 1)
	nearFeasible := m.Feasibility([]float64{0.12, 0.1})
	nearInfeasible := m.Feasibility([]float64{0.9, 0.9})
	assert.Greater(t, nearFeasible, 0.75)
	assert.Less(t, nearInfeasible, 0.5)
	assert.InDelta(t, m.Predict([]float64{0.9, 0.9}).Feasibility, nearInfeasible, 1e-12)
}

func TestSurrogate_Caching(t *testing.T) {
	d, points := fixture(t, []models.Observation{point(0.1, 0.1, 1)})

	cached := New(Config{Caching: true})
	first, hit := cached.Fit(d, points, 1)
	assert.False(t, hit)
	second, hit := cached.Fit(d, points, 1)
	assert.True(t, hit)
	assert.Same(t, first, second)

	_, hit = cached.Fit(d, points, 2)
	assert.False(t, hit, "a descriptor change invalidates the fit")

	other, otherPoints := fixture(t, []models.Observation{point(0.1, 0.1, 1), point(0.2, 0.2, 3)})
	_, hit = cached.Fit(other, otherPoints, 2)
	assert.False(t, hit, "new observations invalidate the fit")

	fits, reused := cached.Stats()
	assert.Equal(t, 3, fits)
	assert.Equal(t, 1, reused)

	uncached := New(Config{Caching: false})
	uncached.Fit(d, points, 1)
	_, hit = uncached.Fit(d, points, 1)
	assert.False(t, hit)
}

func TestModel_BandwidthShrinks(t *testing.T) {
	few, fewPoints := fixture(t, []models.Observation{point(0.1, 0.1, 1), point(0.2, 0.2, 2)})
	var many []models.Observation
	for i := 0; i < 64; i++ {
		many = append(many, point(float64(i)/64, float64(i%8)/8, float64(i)))
	}
	lots, lotsPoints := fixture(t, many)

	s := New(Config{})
	a, _ := s.Fit(few, fewPoints, 1)
	b, _ := s.Fit(lots, lotsPoints, 1)
	assert.Greater(t, a.Bandwidth(), b.Bandwidth())
	assert.GreaterOrEqual(t, b.Bandwidth(), 0.05)
}
