package space

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"

	"github.com/temcen/optirex/pkg/models"
)

// Table holds one descriptor vector per option, keyed by parameter name.
// Continuous parameters have no entry.
type Table map[string][][]float64

// Clone deep-copies the table.
func (t Table) Clone() Table {
	out := make(Table, len(t))
	for name, vecs := range t {
		cp := make([][]float64, len(vecs))
		for i, v := range vecs {
			cp[i] = append([]float64(nil), v...)
		}
		out[name] = cp
	}
	return out
}

// Segment is the slice of an encoded vector owned by one parameter.
type Segment struct {
	Param int
	Name  string
	Type  models.ParameterType
	Start int
	End   int
}

func (s Segment) Width() int { return s.End - s.Start }

// Encoder converts between parameter values and points of [0,1]^D for a
// fixed descriptor table. It is immutable and safe for concurrent use.
type Encoder struct {
	space    *Space
	segments []Segment
	vectors  [][][]float64
	dim      int
}

// NewEncoder min-max normalizes each descriptor dimension into [0,1]; a
// dimension that is constant across options maps to 0.
func NewEncoder(s *Space, table Table) (*Encoder, error) {
	e := &Encoder{
		space:   s,
		vectors: make([][][]float64, s.NumParameters()),
	}
	offset := 0
	for i, p := range s.params {
		width := 1
		if p.Type != models.ParameterContinuous {
			vecs, ok := table[p.Name]
			if !ok {
				return nil, fmt.Errorf("descriptor table has no entry for %q", p.Name)
			}
			if len(vecs) != len(s.options[i]) {
				return nil, fmt.Errorf("descriptor table for %q has %d vectors, want %d", p.Name, len(vecs), len(s.options[i]))
			}
			width = len(vecs[0])
			if width == 0 {
				return nil, fmt.Errorf("descriptor table for %q has zero width", p.Name)
			}
			for j, v := range vecs {
				if len(v) != width {
					return nil, fmt.Errorf("descriptor %d of %q has length %d, want %d", j, p.Name, len(v), width)
				}
			}
			e.vectors[i] = normalizeColumns(vecs)
		}
		e.segments = append(e.segments, Segment{
			Param: i,
			Name:  p.Name,
			Type:  p.Type,
			Start: offset,
			End:   offset + width,
		})
		offset += width
	}
	e.dim = offset
	return e, nil
}

func normalizeColumns(vecs [][]float64) [][]float64 {
	width := len(vecs[0])
	out := make([][]float64, len(vecs))
	for j := range vecs {
		out[j] = make([]float64, width)
	}
	for d := 0; d < width; d++ {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, v := range vecs {
			lo = math.Min(lo, v[d])
			hi = math.Max(hi, v[d])
		}
		span := hi - lo
		for j, v := range vecs {
			if span <= 0 {
				out[j][d] = 0
				continue
			}
			out[j][d] = (v[d] - lo) / span
		}
	}
	return out
}

func (e *Encoder) Space() *Space { return e.space }

// Dim is the length of encoded vectors.
func (e *Encoder) Dim() int { return e.dim }

func (e *Encoder) Segments() []Segment { return e.segments }

// OptionVector returns the normalized descriptor of option j of parameter i.
func (e *Encoder) OptionVector(i, j int) []float64 { return e.vectors[i][j] }

func (e *Encoder) Encode(values models.ParameterValues) ([]float64, error) {
	x := make([]float64, e.dim)
	for _, seg := range e.segments {
		p := e.space.params[seg.Param]
		raw, ok := values[seg.Name]
		if !ok {
			return nil, models.NewInvalidParameter(seg.Name, "missing value")
		}
		if seg.Type == models.ParameterContinuous {
			v, ok := models.ToFloat(raw)
			if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, models.NewInvalidParameter(seg.Name, "expected a finite number, got %v", raw)
			}
			tol := 1e-12 * (p.High - p.Low)
			if v < p.Low-tol || v > p.High+tol {
				return nil, models.NewInvalidParameter(seg.Name, "value %v outside [%v, %v]", v, p.Low, p.High)
			}
			x[seg.Start] = clamp01((v - p.Low) / (p.High - p.Low))
			continue
		}
		j, err := e.space.OptionIndex(seg.Param, raw)
		if err != nil {
			return nil, err
		}
		copy(x[seg.Start:seg.End], e.vectors[seg.Param][j])
	}
	return x, nil
}

// Decode maps a point back to parameter values. Continuous coordinates are
// clamped to their bounds; categorical and discrete segments resolve to the
// nearest option, ties going to the first declared option.
func (e *Encoder) Decode(x []float64) models.ParameterValues {
	out := make(models.ParameterValues, len(e.segments))
	for _, seg := range e.segments {
		p := e.space.params[seg.Param]
		switch seg.Type {
		case models.ParameterContinuous:
			out[seg.Name] = p.Low + clamp01(x[seg.Start])*(p.High-p.Low)
		case models.ParameterCategorical:
			out[seg.Name] = e.space.options[seg.Param][e.nearest(seg, x)]
		case models.ParameterDiscrete:
			out[seg.Name] = e.space.levels[seg.Param][e.nearest(seg, x)]
		}
	}
	return out
}

// OptionIndices returns the nearest option per parameter, -1 for continuous.
func (e *Encoder) OptionIndices(x []float64) []int {
	idx := make([]int, len(e.segments))
	for k, seg := range e.segments {
		if seg.Type == models.ParameterContinuous {
			idx[k] = -1
			continue
		}
		idx[k] = e.nearest(seg, x)
	}
	return idx
}

func (e *Encoder) nearest(seg Segment, x []float64) int {
	part := x[seg.Start:seg.End]
	best, bestDist := 0, math.Inf(1)
	for j, v := range e.vectors[seg.Param] {
		d := floats.Distance(part, v, 2)
		if d < bestDist {
			best, bestDist = j, d
		}
	}
	return best
}

// Snap projects a point onto the feasible grid: continuous coordinates are
// clamped and categorical segments replaced by their nearest option vector.
func (e *Encoder) Snap(x []float64) []float64 {
	out := make([]float64, e.dim)
	for _, seg := range e.segments {
		if seg.Type == models.ParameterContinuous {
			out[seg.Start] = clamp01(x[seg.Start])
			continue
		}
		copy(out[seg.Start:seg.End], e.vectors[seg.Param][e.nearest(seg, x)])
	}
	return out
}

// Sample draws a point uniformly: uniform coordinates for continuous
// parameters and a uniformly chosen option otherwise.
func (e *Encoder) Sample(rng *rand.Rand) []float64 {
	x := make([]float64, e.dim)
	for _, seg := range e.segments {
		if seg.Type == models.ParameterContinuous {
			x[seg.Start] = rng.Float64()
			continue
		}
		opts := e.vectors[seg.Param]
		copy(x[seg.Start:seg.End], opts[rng.Intn(len(opts))])
	}
	return x
}

// Distance is the Euclidean distance between two encoded points.
func (e *Encoder) Distance(a, b []float64) float64 {
	return floats.Distance(a, b, 2)
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
