// Package descriptors owns the descriptor table: one continuous vector per
// option of every categorical and discrete parameter.
package descriptors

import (
	"context"
)

// Sample is one usable observation seen from a single parameter: which option
// it used and how good the outcome was (1 best, 0 worst).
type Sample struct {
	Option int
	Target float64
}

// Strategy produces the descriptors of one parameter. The variant is chosen
// once when the Embedder is built.
type Strategy interface {
	Parameter() string
	// Placeholder is the deterministic embedding used before any training.
	Placeholder() [][]float64
	// Current is the embedding in use. Callers must not modify it.
	Current() [][]float64
	// Update may retrain from samples. It reports whether Current changed.
	Update(ctx context.Context, samples []Sample, force bool) (bool, error)
	Kind() string
}

// Static serves fixed descriptors: user supplied vectors, discrete levels or
// one-hot placeholders.
type Static struct {
	name    string
	vectors [][]float64
}

func NewStatic(name string, vectors [][]float64) *Static {
	return &Static{name: name, vectors: cloneVectors(vectors)}
}

func (s *Static) Parameter() string                                    { return s.name }
func (s *Static) Placeholder() [][]float64                             { return s.vectors }
func (s *Static) Current() [][]float64                                 { return s.vectors }
func (s *Static) Kind() string                                         { return "static" }
func (s *Static) Update(context.Context, []Sample, bool) (bool, error) { return false, nil }

// OneHot returns the identity embedding for n options.
func OneHot(n int) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
		out[i][i] = 1
	}
	return out
}

func cloneVectors(in [][]float64) [][]float64 {
	out := make([][]float64, len(in))
	for i, v := range in {
		out[i] = append([]float64(nil), v...)
	}
	return out
}
