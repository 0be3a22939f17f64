// Package history turns raw observations into the immutable, validated view
// the surrogate and the embedder are fitted on.
package history

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/temcen/optirex/internal/descriptors"
	"github.com/temcen/optirex/internal/space"
	"github.com/temcen/optirex/pkg/models"
)

// FeasibilityFunc labels an observation that carries no explicit label.
type FeasibilityFunc func(models.ParameterValues) (bool, error)

// Dataset is a snapshot of the history taken at call entry. It is never
// modified after Collect returns.
type Dataset struct {
	space        *space.Space
	observations []models.Observation
	options      [][]int
	feasible     []bool
	// values[k][i] is objective k of observation i, sign-adjusted so lower is
	// better; NaN when missing.
	values  [][]float64
	quality [][]float64
	scalar  []float64

	fingerprint string
}

// Collect validates every observation against the space and resolves its
// feasibility: an explicit label wins, then the predicate, then any
// non-finite objective marks the observation infeasible.
func Collect(s *space.Space, observations []models.Observation, check FeasibilityFunc) (*Dataset, error) {
	objectives := s.Objectives()
	d := &Dataset{
		space:        s,
		observations: make([]models.Observation, len(observations)),
		options:      make([][]int, len(observations)),
		feasible:     make([]bool, len(observations)),
		values:       make([][]float64, len(objectives)),
		quality:      make([][]float64, len(objectives)),
		scalar:       make([]float64, len(observations)),
	}
	for k := range objectives {
		d.values[k] = make([]float64, len(observations))
	}

	for i, obs := range observations {
		idx, err := s.Resolve(obs.Params)
		if err != nil {
			return nil, fmt.Errorf("observation %d: %w", i, err)
		}
		d.options[i] = idx

		finite := true
		for k, o := range objectives {
			v, ok := obs.Objectives[o.Name]
			if !ok {
				if obs.Feasible == nil || *obs.Feasible {
					return nil, fmt.Errorf("observation %d: %w", i, models.NewInvalidParameter(o.Name, "objective value missing"))
				}
				v = math.NaN()
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				finite = false
				v = math.NaN()
			} else if o.Goal == models.GoalMaximize {
				v = -v
			}
			d.values[k][i] = v
		}

		switch {
		case obs.Feasible != nil:
			d.feasible[i] = *obs.Feasible
		case check != nil:
			ok, err := check(obs.Params)
			d.feasible[i] = ok && err == nil
		default:
			d.feasible[i] = finite
		}
		if !finite {
			d.feasible[i] = false
		}
		d.observations[i] = obs
	}

	for k := range objectives {
		d.quality[k] = rankQuality(d.values[k], d.feasible)
	}
	for i := range observations {
		if !d.feasible[i] {
			d.scalar[i] = math.NaN()
			continue
		}
		var sum float64
		for k := range objectives {
			sum += d.quality[k][i]
		}
		d.scalar[i] = sum / float64(len(objectives))
	}

	fp, err := fingerprint(d)
	if err != nil {
		return nil, err
	}
	d.fingerprint = fp
	return d, nil
}

// rankQuality maps feasible finite values to [0,1] by rank, 1 for the best
// (lowest). Ties share their mean rank. Others get NaN.
func rankQuality(values []float64, feasible []bool) []float64 {
	out := make([]float64, len(values))
	var idx []int
	for i, v := range values {
		out[i] = math.NaN()
		if feasible[i] && !math.IsNaN(v) {
			idx = append(idx, i)
		}
	}
	m := len(idx)
	if m == 0 {
		return out
	}
	if m == 1 {
		out[idx[0]] = 1
		return out
	}
	sorted := make([]float64, m)
	perm := make([]int, m)
	for j, i := range idx {
		sorted[j] = values[i]
	}
	floats.Argsort(sorted, perm)
	for start := 0; start < m; {
		end := start + 1
		for end < m && sorted[end] == sorted[start] {
			end++
		}
		rank := float64(start+end-1) / 2
		for _, j := range perm[start:end] {
			out[idx[j]] = 1 - rank/float64(m-1)
		}
		start = end
	}
	return out
}

type fingerprintEntry struct {
	Params     models.ParameterValues `json:"p"`
	Objectives models.ObjectiveValues `json:"o"`
	Feasible   bool                   `json:"f"`
}

func fingerprint(d *Dataset) (string, error) {
	h := sha256.New()
	enc := json.NewEncoder(h)
	for i, obs := range d.observations {
		if err := enc.Encode(fingerprintEntry{Params: obs.Params, Objectives: obs.Objectives, Feasible: d.feasible[i]}); err != nil {
			return "", fmt.Errorf("fingerprint observation %d: %w", i, err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (d *Dataset) Len() int { return len(d.observations) }

func (d *Dataset) Space() *space.Space { return d.space }

// Fingerprint identifies the observation set and its feasibility labels.
func (d *Dataset) Fingerprint() string { return d.fingerprint }

func (d *Dataset) Feasible(i int) bool { return d.feasible[i] }

func (d *Dataset) NumFeasible() int {
	n := 0
	for _, f := range d.feasible {
		if f {
			n++
		}
	}
	return n
}

// Quality returns the rank quality of observation i for objective k.
func (d *Dataset) Quality(k, i int) float64 { return d.quality[k][i] }

// Score is the mean quality across objectives, NaN for infeasible points.
func (d *Dataset) Score(i int) float64 { return d.scalar[i] }

func (d *Dataset) Observation(i int) models.Observation { return d.observations[i] }

// Records returns the embedder training view of the feasible observations.
func (d *Dataset) Records() []descriptors.Record {
	out := make([]descriptors.Record, 0, len(d.observations))
	for i := range d.observations {
		if !d.feasible[i] || math.IsNaN(d.scalar[i]) {
			continue
		}
		out = append(out, descriptors.Record{Options: d.options[i], Target: d.scalar[i]})
	}
	return out
}

// Points encodes every observation with the given encoder.
func (d *Dataset) Points(enc *space.Encoder) ([][]float64, error) {
	out := make([][]float64, len(d.observations))
	for i, obs := range d.observations {
		x, err := enc.Encode(obs.Params)
		if err != nil {
			return nil, fmt.Errorf("observation %d: %w", i, err)
		}
		out[i] = x
	}
	return out, nil
}

// Best returns the indices of up to n feasible observations ordered by
// descending score.
func (d *Dataset) Best(n int) []int {
	var idx []int
	for i := range d.observations {
		if d.feasible[i] && !math.IsNaN(d.scalar[i]) {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool { return d.scalar[idx[a]] > d.scalar[idx[b]] })
	if len(idx) > n {
		idx = idx[:n]
	}
	return idx
}
