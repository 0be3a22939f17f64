// Package space describes the optimization domain and maps user-facing
// parameter values to the normalized vectors the engine searches over.
package space

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/temcen/optirex/pkg/models"
)

// Space is the validated, immutable parameter and objective declaration of a
// run. Parameter order is the coordinate order of every encoded vector.
type Space struct {
	params     []models.ParameterSpec
	objectives []models.ObjectiveSpec
	index      map[string]int
	options    [][]string
	levels     [][]float64
	userDesc   [][][]float64
}

func New(params []models.ParameterSpec, objectives []models.ObjectiveSpec) (*Space, error) {
	if len(params) == 0 {
		return nil, models.NewInvalidParameter("", "at least one parameter is required")
	}
	if len(objectives) == 0 {
		return nil, models.NewInvalidParameter("", "at least one objective is required")
	}

	s := &Space{
		params:     make([]models.ParameterSpec, len(params)),
		objectives: make([]models.ObjectiveSpec, len(objectives)),
		index:      make(map[string]int, len(params)),
		options:    make([][]string, len(params)),
		levels:     make([][]float64, len(params)),
		userDesc:   make([][][]float64, len(params)),
	}

	for i, p := range params {
		p.Name = Normalize(p.Name)
		if p.Name == "" {
			return nil, models.NewInvalidParameter("", "parameter %d has no name", i)
		}
		if _, dup := s.index[p.Name]; dup {
			return nil, models.NewInvalidParameter(p.Name, "duplicate parameter name")
		}
		s.index[p.Name] = i

		var err error
		switch p.Type {
		case models.ParameterContinuous:
			err = s.addContinuous(p)
		case models.ParameterCategorical:
			err = s.addCategorical(i, p)
		case models.ParameterDiscrete:
			err = s.addDiscrete(i, p)
		default:
			err = models.NewInvalidParameter(p.Name, "unknown parameter type %q", p.Type)
		}
		if err != nil {
			return nil, err
		}
		s.params[i] = p
	}

	seen := make(map[string]bool, len(objectives))
	for i, o := range objectives {
		o.Name = Normalize(o.Name)
		if o.Name == "" {
			return nil, models.NewInvalidParameter("", "objective %d has no name", i)
		}
		if seen[o.Name] {
			return nil, models.NewInvalidParameter(o.Name, "duplicate objective name")
		}
		if _, clash := s.index[o.Name]; clash {
			return nil, models.NewInvalidParameter(o.Name, "objective name collides with a parameter")
		}
		if o.Goal != models.GoalMinimize && o.Goal != models.GoalMaximize {
			return nil, models.NewInvalidParameter(o.Name, "goal must be min or max, got %q", o.Goal)
		}
		seen[o.Name] = true
		s.objectives[i] = o
	}

	return s, nil
}

func (s *Space) addContinuous(p models.ParameterSpec) error {
	if math.IsNaN(p.Low) || math.IsInf(p.Low, 0) || math.IsNaN(p.High) || math.IsInf(p.High, 0) {
		return models.NewInvalidParameter(p.Name, "bounds must be finite")
	}
	if !(p.Low < p.High) {
		return models.NewInvalidParameter(p.Name, "low (%v) must be below high (%v)", p.Low, p.High)
	}
	return nil
}

func (s *Space) addCategorical(i int, p models.ParameterSpec) error {
	names := p.OptionNames()
	if len(names) == 0 {
		return models.NewInvalidParameter(p.Name, "categorical parameter declares no options")
	}
	seen := make(map[string]bool, len(names))
	for j, n := range names {
		n = Normalize(n)
		if n == "" {
			return models.NewInvalidParameter(p.Name, "option %d has an empty name", j)
		}
		if seen[n] {
			return models.NewInvalidParameter(p.Name, "duplicate option %q", n)
		}
		seen[n] = true
		names[j] = n
	}
	s.options[i] = names

	details := p.CategoryDetails
	withDesc := 0
	for _, d := range details {
		if len(d.Descriptor) > 0 {
			withDesc++
		}
	}
	switch {
	case withDesc == 0:
		return nil
	case withDesc != len(names):
		return models.NewInvalidParameter(p.Name, "descriptors must be given for all options or none")
	}
	desc := make([][]float64, len(details))
	for j, d := range details {
		desc[j] = append([]float64(nil), d.Descriptor...)
	}
	if err := checkDescriptors(p.Name, names, desc); err != nil {
		return err
	}
	s.userDesc[i] = desc
	return nil
}

func (s *Space) addDiscrete(i int, p models.ParameterSpec) error {
	levels := p.DiscreteLevels()
	if len(levels) == 0 {
		return models.NewInvalidParameter(p.Name, "discrete parameter declares no levels")
	}
	for j, l := range levels {
		if math.IsNaN(l) || math.IsInf(l, 0) {
			return models.NewInvalidParameter(p.Name, "level %d is not finite", j)
		}
		for k := 0; k < j; k++ {
			if levels[k] == l {
				return models.NewInvalidParameter(p.Name, "duplicate level %v", l)
			}
		}
	}
	s.levels[i] = levels
	s.options[i] = p.OptionNames()

	if p.CategoryDetails.HasDescriptors() {
		if len(p.CategoryDetails) != len(levels) {
			return models.NewInvalidParameter(p.Name, "descriptor override needs one entry per level")
		}
		desc := make([][]float64, len(levels))
		for j, d := range p.CategoryDetails {
			desc[j] = append([]float64(nil), d.Descriptor...)
		}
		if err := checkDescriptors(p.Name, s.options[i], desc); err != nil {
			return err
		}
		s.userDesc[i] = desc
	}
	return nil
}

func checkDescriptors(param string, names []string, desc [][]float64) error {
	width := len(desc[0])
	for j, d := range desc {
		if len(d) != width {
			return models.NewInvalidParameter(param, "descriptor for %q has length %d, want %d", names[j], len(d), width)
		}
		for _, v := range d {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return models.NewInvalidParameter(param, "descriptor for %q is not finite", names[j])
			}
		}
		for k := 0; k < j; k++ {
			if equalVectors(desc[k], d) {
				return models.NewInvalidParameter(param, "options %q and %q share a descriptor", names[k], names[j])
			}
		}
	}
	return nil
}

func equalVectors(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Normalize puts identifiers in NFC form and trims surrounding space.
func Normalize(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

func (s *Space) NumParameters() int { return len(s.params) }

func (s *Space) Parameters() []models.ParameterSpec {
	return append([]models.ParameterSpec(nil), s.params...)
}

func (s *Space) Parameter(i int) models.ParameterSpec { return s.params[i] }

func (s *Space) Objectives() []models.ObjectiveSpec {
	return append([]models.ObjectiveSpec(nil), s.objectives...)
}

// Index returns the coordinate position of a parameter.
func (s *Space) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// Options returns the option identifiers of a categorical or discrete
// parameter in declaration order.
func (s *Space) Options(i int) []string { return s.options[i] }

func (s *Space) Levels(i int) []float64 { return s.levels[i] }

// UserDescriptors returns the descriptors supplied in the declaration, or nil.
func (s *Space) UserDescriptors(i int) [][]float64 { return s.userDesc[i] }

// ContinuousOnly reports whether every parameter is continuous.
func (s *Space) ContinuousOnly() bool {
	for _, p := range s.params {
		if p.Type != models.ParameterContinuous {
			return false
		}
	}
	return true
}

// Resolve validates a full assignment and returns the option index of every
// categorical and discrete parameter (-1 for continuous ones).
func (s *Space) Resolve(values models.ParameterValues) ([]int, error) {
	idx := make([]int, len(s.params))
	for i, p := range s.params {
		raw, ok := values[p.Name]
		if !ok {
			return nil, models.NewInvalidParameter(p.Name, "missing value")
		}
		if p.Type != models.ParameterContinuous {
			j, err := s.OptionIndex(i, raw)
			if err != nil {
				return nil, err
			}
			idx[i] = j
			continue
		}
		v, ok := models.ToFloat(raw)
		if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, models.NewInvalidParameter(p.Name, "expected a finite number, got %v", raw)
		}
		tol := 1e-12 * (p.High - p.Low)
		if v < p.Low-tol || v > p.High+tol {
			return nil, models.NewInvalidParameter(p.Name, "value %v outside [%v, %v]", v, p.Low, p.High)
		}
		idx[i] = -1
	}
	return idx, nil
}

// OptionIndex resolves a user-facing value of a categorical or discrete
// parameter to its option position.
func (s *Space) OptionIndex(i int, value interface{}) (int, error) {
	p := s.params[i]
	switch p.Type {
	case models.ParameterCategorical:
		str, ok := value.(string)
		if !ok {
			return -1, models.NewInvalidParameter(p.Name, "expected an option identifier, got %T", value)
		}
		str = Normalize(str)
		for j, o := range s.options[i] {
			if o == str {
				return j, nil
			}
		}
		return -1, models.NewInvalidParameter(p.Name, "unknown option %q", str)
	case models.ParameterDiscrete:
		f, ok := models.ToFloat(value)
		if !ok {
			return -1, models.NewInvalidParameter(p.Name, "expected a numeric level, got %T", value)
		}
		for j, l := range s.levels[i] {
			if math.Abs(l-f) <= 1e-9*math.Max(1, math.Abs(l)) {
				return j, nil
			}
		}
		return -1, models.NewInvalidParameter(p.Name, "value %v is not a declared level", f)
	}
	return -1, fmt.Errorf("parameter %q has no options", p.Name)
}
