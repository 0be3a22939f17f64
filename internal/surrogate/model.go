// Package surrogate fits the kernel density model the acquisition function
// is built from.
//
// For every objective k and point x, with Gaussian kernel weights K_i(x)
// over the feasible observations, rank quality q_i (1 best) and prior weight
// w0:
//
//	mean_k(x)     = (sum K_i q_i + w0/2) / (sum K_i + w0)
//	uncertainty(x) = w0 / (sum K_i + w0)
//
// Feasibility uses every observation with the smoothed base rate
// pi = (feasible+1)/(n+2):
//
//	p(x) = (sum_feasible K_i + w0 pi) / (sum K_i + w0)
//
// All three are finite everywhere and revert to their priors far from data.
package surrogate

import (
	"math"
	"strconv"
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/temcen/optirex/internal/history"
)

type Config struct {
	Boosted bool
	Caching bool
	// Bandwidth is the kernel width for a single observation; it shrinks
	// with n^(-1/(P+4)) and never drops below MinBandwidth.
	Bandwidth    float64
	MinBandwidth float64
	PriorWeight  float64
}

func (c Config) withDefaults() Config {
	if c.Bandwidth <= 0 {
		c.Bandwidth = 0.3
	}
	if c.MinBandwidth <= 0 {
		c.MinBandwidth = 0.05
	}
	if c.PriorWeight <= 0 {
		c.PriorWeight = 0.5
	}
	return c
}

// Prediction is the model belief at one point.
type Prediction struct {
	Mean        []float64
	Uncertainty float64
	Feasibility float64
	Density     float64
}

// Model is a fitted, read-only surrogate. It is safe for concurrent use.
type Model struct {
	points     [][]float64
	feasible   []bool
	quality    [][]float64
	bandwidths []float64
	prior      float64
	weight     float64
	objectives int
	key        string
}

func fit(cfg Config, data *history.Dataset, points [][]float64, key string) *Model {
	n := len(points)
	params := data.Space().NumParameters()
	objectives := len(data.Space().Objectives())

	h := cfg.Bandwidth
	if n > 1 {
		h = cfg.Bandwidth * math.Pow(float64(n), -1/float64(params+4))
	}
	h = math.Max(h, cfg.MinBandwidth)
	bandwidths := []float64{h}
	if cfg.Boosted {
		bandwidths = append(bandwidths, 2*h)
	}

	m := &Model{
		points:     points,
		feasible:   make([]bool, n),
		quality:    make([][]float64, objectives),
		bandwidths: bandwidths,
		weight:     cfg.PriorWeight,
		objectives: objectives,
		key:        key,
	}
	for i := 0; i < n; i++ {
		m.feasible[i] = data.Feasible(i)
	}
	for k := 0; k < objectives; k++ {
		m.quality[k] = make([]float64, n)
		for i := 0; i < n; i++ {
			m.quality[k][i] = data.Quality(k, i)
		}
	}
	m.prior = float64(data.NumFeasible()+1) / float64(n+2)
	return m
}

func (m *Model) kernel(a, b []float64) float64 {
	d := floats.Distance(a, b, 2)
	d2 := d * d
	var k float64
	for _, h := range m.bandwidths {
		k += math.Exp(-d2 / (2 * h * h))
	}
	return k / float64(len(m.bandwidths))
}

func (m *Model) Predict(x []float64) Prediction {
	p := Prediction{Mean: make([]float64, m.objectives)}
	var all, feasible float64
	weighted := make([]float64, m.objectives)
	for i, pt := range m.points {
		k := m.kernel(x, pt)
		all += k
		if !m.feasible[i] {
			continue
		}
		feasible += k
		for o := 0; o < m.objectives; o++ {
			if q := m.quality[o][i]; !math.IsNaN(q) {
				weighted[o] += k * q
			}
		}
	}
	for o := range p.Mean {
		p.Mean[o] = (weighted[o] + m.weight*0.5) / (feasible + m.weight)
	}
	p.Uncertainty = m.weight / (feasible + m.weight)
	p.Feasibility = (feasible + m.weight*m.prior) / (all + m.weight)
	p.Density = all
	return p
}

// Feasibility is the estimated probability that x is feasible.
func (m *Model) Feasibility(x []float64) float64 {
	var all, feasible float64
	for i, pt := range m.points {
		k := m.kernel(x, pt)
		all += k
		if m.feasible[i] {
			feasible += k
		}
	}
	return (feasible + m.weight*m.prior) / (all + m.weight)
}

func (m *Model) NumObjectives() int { return m.objectives }

func (m *Model) NumPoints() int { return len(m.points) }

func (m *Model) Bandwidth() float64 { return m.bandwidths[0] }

// Points returns the encoded observations the model was fitted on.
func (m *Model) Points() [][]float64 { return m.points }

// Key identifies the observation set and descriptor version of the fit.
func (m *Model) Key() string { return m.key }

// Surrogate refits a Model on demand and, with caching enabled, reuses the
// previous fit while neither the observations nor the descriptors change.
type Surrogate struct {
	cfg Config

	mu    sync.Mutex
	last  *Model
	fits  int
	reuse int
}

func New(cfg Config) *Surrogate {
	return &Surrogate{cfg: cfg.withDefaults()}
}

// Fit returns a model for the dataset encoded as points, and whether it came
// from the cache.
func (s *Surrogate) Fit(data *history.Dataset, points [][]float64, descriptorVersion uint64) (*Model, bool) {
	key := cacheKey(data.Fingerprint(), descriptorVersion)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.Caching && s.last != nil && s.last.key == key {
		s.reuse++
		return s.last, true
	}
	m := fit(s.cfg, data, points, key)
	s.last = m
	s.fits++
	return m, false
}

// Stats returns how many fits ran and how many were served from cache.
func (s *Surrogate) Stats() (fits, reused int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fits, s.reuse
}

func cacheKey(fingerprint string, version uint64) string {
	return fingerprint + ":" + strconv.FormatUint(version, 10)
}
