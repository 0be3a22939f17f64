package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type ParameterType string

const (
	ParameterContinuous  ParameterType = "continuous"
	ParameterCategorical ParameterType = "categorical"
	ParameterDiscrete    ParameterType = "discrete"
)

type Goal string

const (
	GoalMinimize Goal = "min"
	GoalMaximize Goal = "max"
)

// Acquisition optimizers accepted in general.acquisition_optimizer.
const (
	OptimizerGenetic = "genetic"
	OptimizerAdam    = "adam"
	OptimizerLBFGS   = "lbfgs"
	OptimizerBFGS    = "bfgs"
)

// OptionDetail is one categorical option and its optional descriptor.
type OptionDetail struct {
	Name       string    `json:"name"`
	Descriptor []float64 `json:"descriptor,omitempty"`
}

// CategoryDetails keeps options in declaration order. It decodes from either
// an object {"option": [descriptor...] | null} or a list of option names.
type CategoryDetails []OptionDetail

func (d CategoryDetails) Names() []string {
	names := make([]string, len(d))
	for i, o := range d {
		names[i] = o.Name
	}
	return names
}

// HasDescriptors reports whether every option carries a descriptor.
func (d CategoryDetails) HasDescriptors() bool {
	if len(d) == 0 {
		return false
	}
	for _, o := range d {
		if len(o.Descriptor) == 0 {
			return false
		}
	}
	return true
}

func (d *CategoryDetails) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*d = nil
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var names []string
		if err := json.Unmarshal(trimmed, &names); err != nil {
			return fmt.Errorf("category_details: %w", err)
		}
		out := make(CategoryDetails, len(names))
		for i, n := range names {
			out[i] = OptionDetail{Name: n}
		}
		*d = out
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("category_details: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("category_details: expected object or list")
	}
	var out CategoryDetails
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("category_details: %w", err)
		}
		key, _ := keyTok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("category_details[%s]: %w", key, err)
		}
		desc, err := decodeDescriptor(raw)
		if err != nil {
			return fmt.Errorf("category_details[%s]: %w", key, err)
		}
		out = append(out, OptionDetail{Name: key, Descriptor: desc})
	}
	*d = out
	return nil
}

func decodeDescriptor(raw json.RawMessage) ([]float64, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var vec []float64
		if err := json.Unmarshal(trimmed, &vec); err != nil {
			return nil, err
		}
		return vec, nil
	}
	var scalar float64
	if err := json.Unmarshal(trimmed, &scalar); err != nil {
		return nil, err
	}
	return []float64{scalar}, nil
}

func (d CategoryDetails) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, o := range d {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(o.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		if len(o.Descriptor) == 0 {
			buf.WriteString("null")
			continue
		}
		vec, err := json.Marshal(o.Descriptor)
		if err != nil {
			return nil, err
		}
		buf.Write(vec)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (d *CategoryDetails) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var names []string
		if err := node.Decode(&names); err != nil {
			return fmt.Errorf("category_details: %w", err)
		}
		out := make(CategoryDetails, len(names))
		for i, n := range names {
			out[i] = OptionDetail{Name: n}
		}
		*d = out
	case yaml.MappingNode:
		out := make(CategoryDetails, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i].Value
			val := node.Content[i+1]
			var desc []float64
			switch {
			case val.Tag == "!!null":
			case val.Kind == yaml.SequenceNode:
				if err := val.Decode(&desc); err != nil {
					return fmt.Errorf("category_details[%s]: %w", key, err)
				}
			default:
				var scalar float64
				if err := val.Decode(&scalar); err != nil {
					return fmt.Errorf("category_details[%s]: %w", key, err)
				}
				desc = []float64{scalar}
			}
			out = append(out, OptionDetail{Name: key, Descriptor: desc})
		}
		*d = out
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			*d = nil
			return nil
		}
		return fmt.Errorf("category_details: unexpected scalar %q", node.Value)
	default:
		return fmt.Errorf("category_details: unsupported node kind %d", node.Kind)
	}
	return nil
}

type ParameterSpec struct {
	Name            string          `json:"name" yaml:"name" validate:"required"`
	Type            ParameterType   `json:"type" yaml:"type" validate:"required,oneof=continuous categorical discrete"`
	Low             float64         `json:"low,omitempty" yaml:"low"`
	High            float64         `json:"high,omitempty" yaml:"high"`
	Options         []string        `json:"options,omitempty" yaml:"options"`
	CategoryDetails CategoryDetails `json:"category_details,omitempty" yaml:"category_details"`
	Levels          []float64       `json:"levels,omitempty" yaml:"levels"`
}

// OptionNames returns the declared options of a categorical parameter, or the
// formatted levels of a discrete one.
func (p ParameterSpec) OptionNames() []string {
	switch p.Type {
	case ParameterCategorical:
		if len(p.CategoryDetails) > 0 {
			return p.CategoryDetails.Names()
		}
		return append([]string(nil), p.Options...)
	case ParameterDiscrete:
		levels := p.DiscreteLevels()
		names := make([]string, len(levels))
		for i, l := range levels {
			names[i] = strconv.FormatFloat(l, 'g', -1, 64)
		}
		return names
	}
	return nil
}

// DiscreteLevels returns the declared levels, or every integer in [low, high]
// when no explicit levels are given.
func (p ParameterSpec) DiscreteLevels() []float64 {
	if p.Type != ParameterDiscrete {
		return nil
	}
	if len(p.Levels) > 0 {
		return append([]float64(nil), p.Levels...)
	}
	if p.High < p.Low {
		return nil
	}
	lo, hi := math.Ceil(p.Low), math.Floor(p.High)
	var levels []float64
	for v := lo; v <= hi; v++ {
		levels = append(levels, v)
	}
	return levels
}

type ObjectiveSpec struct {
	Name string `json:"name" yaml:"name" validate:"required"`
	Goal Goal   `json:"goal" yaml:"goal" validate:"required,oneof=min max"`
}

// SamplingStrategies decodes either a count n (n evenly spaced values in
// [-1, 1]) or an explicit list of values.
type SamplingStrategies []float64

// StrategiesFromCount spreads n values evenly over [-1, 1]. A single strategy
// is 0.
func StrategiesFromCount(n int) SamplingStrategies {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return SamplingStrategies{0}
	}
	out := make(SamplingStrategies, n)
	for i := range out {
		out[i] = -1 + 2*float64(i)/float64(n-1)
	}
	return out
}

func (s *SamplingStrategies) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var vals []float64
		if err := json.Unmarshal(trimmed, &vals); err != nil {
			return fmt.Errorf("sampling_strategies: %w", err)
		}
		*s = vals
		return nil
	}
	var n float64
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return fmt.Errorf("sampling_strategies: %w", err)
	}
	if n != math.Trunc(n) {
		return fmt.Errorf("sampling_strategies: count must be an integer, got %v", n)
	}
	*s = StrategiesFromCount(int(n))
	return nil
}

func (s *SamplingStrategies) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.SequenceNode {
		var vals []float64
		if err := node.Decode(&vals); err != nil {
			return fmt.Errorf("sampling_strategies: %w", err)
		}
		*s = vals
		return nil
	}
	var n int
	if err := node.Decode(&n); err != nil {
		return fmt.Errorf("sampling_strategies: %w", err)
	}
	*s = StrategiesFromCount(n)
	return nil
}

// CPUCount accepts an integer or the string "all".
type CPUCount int

func parseCPUCount(raw string) (CPUCount, error) {
	raw = strings.TrimSpace(strings.Trim(raw, `"`))
	if strings.EqualFold(raw, "all") {
		return CPUCount(runtime.NumCPU()), nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("num_cpus: %q is neither an integer nor \"all\"", raw)
	}
	return CPUCount(n), nil
}

func (c *CPUCount) UnmarshalJSON(data []byte) error {
	n, err := parseCPUCount(string(data))
	if err != nil {
		return err
	}
	*c = n
	return nil
}

func (c *CPUCount) UnmarshalYAML(node *yaml.Node) error {
	n, err := parseCPUCount(node.Value)
	if err != nil {
		return err
	}
	*c = n
	return nil
}

type GeneralConfig struct {
	NumCPUs              CPUCount           `json:"num_cpus" yaml:"num_cpus" validate:"min=1"`
	AutoDescGen          bool               `json:"auto_desc_gen" yaml:"auto_desc_gen"`
	Batches              int                `json:"batches" yaml:"batches" validate:"min=1"`
	SamplingStrategies   SamplingStrategies `json:"sampling_strategies" yaml:"sampling_strategies" validate:"min=1,dive,min=-1,max=1"`
	Boosted              bool               `json:"boosted" yaml:"boosted"`
	Caching              bool               `json:"caching" yaml:"caching"`
	RandomSeed           int64              `json:"random_seed" yaml:"random_seed"`
	AcquisitionOptimizer string             `json:"acquisition_optimizer" yaml:"acquisition_optimizer" validate:"oneof=genetic adam lbfgs bfgs"`
	Verbosity            int                `json:"verbosity" yaml:"verbosity" validate:"min=0,max=5"`
}

type OptimizationConfig struct {
	General    GeneralConfig   `json:"general" yaml:"general"`
	Parameters []ParameterSpec `json:"parameters" yaml:"parameters" validate:"required,min=1,dive"`
	Objectives []ObjectiveSpec `json:"objectives" yaml:"objectives" validate:"required,min=1,dive"`
}

// BatchSize is the default number of candidates per recommendation call.
func (c *OptimizationConfig) BatchSize(strategies int) int {
	if strategies <= 0 {
		strategies = len(c.General.SamplingStrategies)
	}
	if strategies <= 0 {
		strategies = 1
	}
	batches := c.General.Batches
	if batches <= 0 {
		batches = 1
	}
	return batches * strategies
}

func (c *OptimizationConfig) ParameterNames() []string {
	names := make([]string, len(c.Parameters))
	for i, p := range c.Parameters {
		names[i] = p.Name
	}
	return names
}

func (c *OptimizationConfig) ObjectiveNames() []string {
	names := make([]string, len(c.Objectives))
	for i, o := range c.Objectives {
		names[i] = o.Name
	}
	return names
}
