package models

import (
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"
)

// ParameterValues maps parameter names to user-facing values: float64 for
// continuous and discrete parameters, the option identifier for categorical ones.
type ParameterValues map[string]interface{}

func (v ParameterValues) Clone() ParameterValues {
	out := make(ParameterValues, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

type Observation struct {
	ID         uuid.UUID         `json:"id"`
	CampaignID uuid.UUID         `json:"campaign_id,omitempty"`
	Params     ParameterValues   `json:"params"`
	Objectives ObjectiveValues   `json:"objectives"`
	Feasible   *bool             `json:"feasible,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// ObjectiveValues encodes non-finite values as null so that infeasible
// measurements survive a JSON round trip.
type ObjectiveValues map[string]float64

func (o ObjectiveValues) MarshalJSON() ([]byte, error) {
	out := make(map[string]*float64, len(o))
	for k, v := range o {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			out[k] = nil
			continue
		}
		val := v
		out[k] = &val
	}
	return json.Marshal(out)
}

func (o *ObjectiveValues) UnmarshalJSON(data []byte) error {
	var raw map[string]*float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(ObjectiveValues, len(raw))
	for k, v := range raw {
		if v == nil {
			out[k] = math.NaN()
			continue
		}
		out[k] = *v
	}
	*o = out
	return nil
}

// ObservationFromMap splits a flat record, as returned by a recommendation and
// filled in by the caller, into parameters and objective values.
func ObservationFromMap(record map[string]interface{}, objectives []ObjectiveSpec) Observation {
	obs := Observation{
		Params:     make(ParameterValues, len(record)),
		Objectives: make(ObjectiveValues, len(objectives)),
	}
	isObjective := make(map[string]bool, len(objectives))
	for _, o := range objectives {
		isObjective[o.Name] = true
	}
	for k, v := range record {
		if !isObjective[k] {
			obs.Params[k] = v
			continue
		}
		if f, ok := ToFloat(v); ok {
			obs.Objectives[k] = f
		} else {
			obs.Objectives[k] = math.NaN()
		}
	}
	return obs
}

// ToFloat widens the numeric types a decoded document may carry.
func ToFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case nil:
		return math.NaN(), false
	}
	return 0, false
}

// Candidate is one proposed experiment. It never carries objective values.
type Candidate struct {
	Slot             int             `json:"slot"`
	Params           ParameterValues `json:"params"`
	SamplingStrategy float64         `json:"sampling_strategy"`
	Feasibility      float64         `json:"feasibility"`
	Feasible         bool            `json:"feasible"`
	Acquisition      float64         `json:"acquisition"`
}

// Record flattens the candidate into the parameter mapping callers fill with
// objective values before feeding it back.
func (c Candidate) Record() map[string]interface{} {
	out := make(map[string]interface{}, len(c.Params))
	for k, v := range c.Params {
		out[k] = v
	}
	return out
}

// ObservationFilter narrows a storage fetch. Zero values mean no filtering.
type ObservationFilter struct {
	Feasible *bool     `json:"feasible,omitempty"`
	Since    time.Time `json:"since,omitempty"`
	Limit    int       `json:"limit,omitempty"`
}

// ObservationUpdate backfills fields of an already recorded observation.
type ObservationUpdate struct {
	ID         uuid.UUID       `json:"id" validate:"required"`
	Feasible   *bool           `json:"feasible,omitempty"`
	Objectives ObjectiveValues `json:"objectives,omitempty"`
}
