package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/temcen/optirex/internal/space"
	"github.com/temcen/optirex/internal/validation"
	"github.com/temcen/optirex/pkg/models"
)

// Document formats accepted by ParseOptimization.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

var structValidator = validator.New()

// DefaultOptimization is used when no optimization config is supplied: two
// continuous parameters on [0,1] and one minimized objective.
func DefaultOptimization() *models.OptimizationConfig {
	cfg := &models.OptimizationConfig{
		Parameters: []models.ParameterSpec{
			{Name: "param_0", Type: models.ParameterContinuous, Low: 0, High: 1},
			{Name: "param_1", Type: models.ParameterContinuous, Low: 0, High: 1},
		},
		Objectives: []models.ObjectiveSpec{{Name: "obj", Goal: models.GoalMinimize}},
	}
	ApplyOptimizationDefaults(cfg)
	return cfg
}

// ApplyOptimizationDefaults fills unset general settings.
func ApplyOptimizationDefaults(cfg *models.OptimizationConfig) {
	g := &cfg.General
	if g.NumCPUs <= 0 {
		g.NumCPUs = 1
	}
	if g.Batches <= 0 {
		g.Batches = 1
	}
	if len(g.SamplingStrategies) == 0 {
		g.SamplingStrategies = models.StrategiesFromCount(2)
	}
	if g.AcquisitionOptimizer == "" {
		g.AcquisitionOptimizer = models.OptimizerAdam
	}
	if g.Verbosity == 0 {
		g.Verbosity = 3
	}
}

// LoadOptimization reads an optimization config from a JSON or YAML file. An
// empty path yields DefaultOptimization.
func LoadOptimization(path string, sv *validation.SchemaValidator) (*models.OptimizationConfig, error) {
	if path == "" {
		return DefaultOptimization(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read optimization config: %w", err)
	}
	format := FormatJSON
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = FormatYAML
	}
	return ParseOptimization(data, format, sv)
}

// ParseOptimization decodes, schema-checks and prepares a config document.
// Option order in category_details is preserved for both formats.
func ParseOptimization(data []byte, format string, sv *validation.SchemaValidator) (*models.OptimizationConfig, error) {
	var doc interface{}
	var cfg models.OptimizationConfig
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse optimization config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to decode optimization config: %w", err)
		}
	case FormatJSON:
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse optimization config: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to decode optimization config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported optimization config format %q", format)
	}

	if sv != nil {
		if result := sv.ValidateOptimizationConfig(doc); !result.Valid {
			return nil, &models.InvalidParameterError{Reason: result.Err().Error()}
		}
	}

	if err := PrepareOptimization(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// PrepareOptimization applies defaults, NFC-normalizes every name and
// validates the result, including a trial construction of the parameter space.
func PrepareOptimization(cfg *models.OptimizationConfig) error {
	ApplyOptimizationDefaults(cfg)
	normalizeNames(cfg)

	if err := structValidator.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return models.NewInvalidParameter(fe.Namespace(), "failed %q validation", fe.Tag())
		}
		return &models.InvalidParameterError{Reason: err.Error()}
	}

	if _, err := space.New(cfg.Parameters, cfg.Objectives); err != nil {
		return err
	}
	return nil
}

func normalizeNames(cfg *models.OptimizationConfig) {
	for i := range cfg.Parameters {
		p := &cfg.Parameters[i]
		p.Name = norm.NFC.String(p.Name)
		for j := range p.Options {
			p.Options[j] = norm.NFC.String(p.Options[j])
		}
		for j := range p.CategoryDetails {
			p.CategoryDetails[j].Name = norm.NFC.String(p.CategoryDetails[j].Name)
		}
	}
	for i := range cfg.Objectives {
		cfg.Objectives[i].Name = norm.NFC.String(cfg.Objectives[i].Name)
	}
}

// LogLevel maps a verbosity setting (0-5) onto logrus levels: 0 is panic
// only, 5 is debug.
func LogLevel(verbosity int) logrus.Level {
	switch {
	case verbosity <= 0:
		return logrus.PanicLevel
	case verbosity >= 5:
		return logrus.DebugLevel
	}
	return logrus.Level(verbosity)
}
