package services

import (
	"github.com/sirupsen/logrus"

	"github.com/temcen/optirex/internal/config"
	"github.com/temcen/optirex/internal/database"
	"github.com/temcen/optirex/internal/messaging"
	"github.com/temcen/optirex/internal/validation"
	"github.com/temcen/optirex/pkg/models"
)

type Services struct {
	Auth       *AuthService
	Health     *HealthService
	RateLimit  *RateLimitService
	Metrics    *MetricsCollector
	MessageBus *messaging.MessageBus
	Campaigns  *CampaignService
}

// New wires the services. bus may be nil when Kafka is disabled.
func New(cfg *config.Config, logger *logrus.Logger, db *database.Database, bus *messaging.MessageBus, sv *validation.SchemaValidator) (*Services, error) {
	metrics := NewMetricsCollector()

	healthService := NewHealthService(logger, metrics)
	healthService.AddCritical("database", db.Backend)
	if db.Cache.Enabled() {
		healthService.AddNonCritical("redis", db.Cache)
	}
	healthService.SetDetails(func() map[string]interface{} {
		details := map[string]interface{}{
			"pending_writes": db.Observations.Pending(),
		}
		if bus != nil {
			details["kafka"] = bus.GetMetrics()
		}
		return details
	})

	tuning := cfg.Tuning
	if tuning == (config.TuningConfig{}) {
		tuning = config.DefaultTuning()
	}

	opts := CampaignServiceOptions{
		Cache:   db.Cache,
		Tuning:  tuning,
		Metrics: metrics,
		Defaults: func() (*models.OptimizationConfig, error) {
			return config.LoadOptimization(cfg.Optimization.ConfigPath, sv)
		},
	}
	if bus != nil {
		opts.Publisher = bus
	}
	campaigns := NewCampaignService(db.Backend, db.Observations, opts, logger)

	return &Services{
		Auth:       NewAuthService(cfg.Auth, logger, db.Redis),
		Health:     healthService,
		RateLimit:  NewRateLimitService(cfg.RateLimit, logger, db.Redis),
		Metrics:    metrics,
		MessageBus: bus,
		Campaigns:  campaigns,
	}, nil
}
