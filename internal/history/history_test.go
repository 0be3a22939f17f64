package history

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/optirex/internal/space"
	"github.com/temcen/optirex/pkg/models"
)

func boolPtr(b bool) *bool { return &b }

func testSpace(t *testing.T, goal models.Goal) *space.Space {
	t.Helper()
	s, err := space.New([]models.ParameterSpec{
		{Name: "x", Type: models.ParameterContinuous, Low: 0, High: 1},
		{Name: "c", Type: models.ParameterCategorical, Options: []string{"a", "b"}},
	}, []models.ObjectiveSpec{{Name: "obj", Goal: goal}})
	require.NoError(t, err)
	return s
}

func obs(x float64, c string, y float64) models.Observation {
	return models.Observation{
		Params:     models.ParameterValues{"x": x, "c": c},
		Objectives: models.ObjectiveValues{"obj": y},
	}
}

func TestCollect_FeasibilityResolution(t *testing.T) {
	s := testSpace(t, models.GoalMinimize)

	labelledInfeasible := obs(0.1, "a", 1)
	labelledInfeasible.Feasible = boolPtr(false)

	observations := []models.Observation{
		obs(0.2, "a", 3),
		obs(0.9, "b", 1),
		obs(0.5, "a", math.NaN()),
		labelledInfeasible,
	}

	d, err := Collect(s, observations, func(v models.ParameterValues) (bool, error) {
		return v["x"].(float64) < 0.8, nil
	})
	require.NoError(t, err)

	assert.True(t, d.Feasible(0))
	assert.False(t, d.Feasible(1), "predicate rejects x >= 0.8")
	assert.False(t, d.Feasible(2), "NaN objective is infeasible")
	assert.False(t, d.Feasible(3), "explicit label wins")
	assert.Equal(t, 1, d.NumFeasible())
	assert.Len(t, d.Records(), 1)
}

func TestCollect_NoPredicateUsesObjectiveValues(t *testing.T) {
	s := testSpace(t, models.GoalMinimize)
	d, err := Collect(s, []models.Observation{obs(0.2, "a", 3), obs(0.3, "b", math.Inf(1))}, nil)
	require.NoError(t, err)
	assert.True(t, d.Feasible(0))
	assert.False(t, d.Feasible(1))
}

func TestCollect_RankQuality(t *testing.T) {
	tests := []struct {
		name string
		goal models.Goal
		want []float64
	}{
		{"minimize", models.GoalMinimize, []float64{0.5, 1, 0}},
		{"maximize", models.GoalMaximize, []float64{0.5, 0, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testSpace(t, tt.goal)
			d, err := Collect(s, []models.Observation{obs(0.1, "a", 2), obs(0.2, "a", 1), obs(0.3, "b", 3)}, nil)
			require.NoError(t, err)
			for i, want := range tt.want {
				assert.InDelta(t, want, d.Quality(0, i), 1e-12)
			}
		})
	}

	t.Run("ties share rank", func(t *testing.T) {
		q := rankQuality([]float64{1, 1, 2}, []bool{true, true, true})
		assert.Equal(t, []float64{0.75, 0.75, 0}, q)
	})
}

func TestCollect_Validation(t *testing.T) {
	s := testSpace(t, models.GoalMinimize)

	_, err := Collect(s, []models.Observation{obs(1.5, "a", 1)}, nil)
	var invalid *models.InvalidParameterError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, "x", invalid.Parameter)

	missing := models.Observation{Params: models.ParameterValues{"x": 0.5, "c": "a"}}
	_, err = Collect(s, []models.Observation{missing}, nil)
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, "obj", invalid.Parameter)

	missing.Feasible = boolPtr(false)
	d, err := Collect(s, []models.Observation{missing}, nil)
	require.NoError(t, err)
	assert.False(t, d.Feasible(0))
}

func TestCollect_Fingerprint(t *testing.T) {
	s := testSpace(t, models.GoalMinimize)
	a, err := Collect(s, []models.Observation{obs(0.2, "a", 3), obs(0.4, "b", 1)}, nil)
	require.NoError(t, err)
	b, err := Collect(s, []models.Observation{obs(0.2, "a", 3), obs(0.4, "b", 1)}, nil)
	require.NoError(t, err)
	c, err := Collect(s, []models.Observation{obs(0.2, "a", 3), obs(0.4, "b", 2)}, nil)
	require.NoError(t, err)

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}

func TestDataset_BestAndPoints(t *testing.T) {
	s := testSpace(t, models.GoalMinimize)
	d, err := Collect(s, []models.Observation{obs(0.2, "a", 3), obs(0.4, "b", 1), obs(0.6, "a", 2)}, nil)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2}, d.Best(2))

	enc, err := space.NewEncoder(s, space.Table{"c": {{1, 0}, {0, 1}}})
	require.NoError(t, err)
	points, err := d.Points(enc)
	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.Equal(t, []float64{0.4, 0, 1}, points[1])
}
