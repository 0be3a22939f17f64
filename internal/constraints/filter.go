// Package constraints wraps the optional user feasibility predicate.
package constraints

import (
	"fmt"
	"sync/atomic"

	"github.com/temcen/optirex/pkg/models"
)

// Predicate decides whether decoded parameter values are feasible.
type Predicate func(models.ParameterValues) (bool, error)

// FromBool adapts a predicate that cannot fail.
func FromBool(fn func(models.ParameterValues) bool) Predicate {
	if fn == nil {
		return nil
	}
	return func(v models.ParameterValues) (bool, error) { return fn(v), nil }
}

// Filter is the ground truth for feasibility. It is always called with
// decoded values and is safe for concurrent use as long as the predicate is.
type Filter struct {
	predicate   Predicate
	evaluations atomic.Int64
	failures    atomic.Int64
}

// NewFilter returns a filter; a nil predicate accepts every point.
func NewFilter(p Predicate) *Filter {
	return &Filter{predicate: p}
}

// Defined reports whether a user predicate is installed.
func (f *Filter) Defined() bool { return f != nil && f.predicate != nil }

// Check evaluates the predicate. Errors and panics surface as
// *models.ConstraintEvaluationError; callers exclude such points.
func (f *Filter) Check(values models.ParameterValues) (feasible bool, err error) {
	if !f.Defined() {
		return true, nil
	}
	f.evaluations.Add(1)
	defer func() {
		if r := recover(); r != nil {
			f.failures.Add(1)
			feasible = false
			err = &models.ConstraintEvaluationError{Params: values.Clone(), Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	ok, perr := f.predicate(values)
	if perr != nil {
		f.failures.Add(1)
		return false, &models.ConstraintEvaluationError{Params: values.Clone(), Err: perr}
	}
	return ok, nil
}

// Feasible treats evaluation failures as infeasible.
func (f *Filter) Feasible(values models.ParameterValues) bool {
	ok, err := f.Check(values)
	return ok && err == nil
}

// Stats returns the number of predicate calls and how many failed.
func (f *Filter) Stats() (evaluations, failures int64) {
	if f == nil {
		return 0, 0
	}
	return f.evaluations.Load(), f.failures.Load()
}
