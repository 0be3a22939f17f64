package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/optirex/internal/config"
	"github.com/temcen/optirex/internal/database"
	"github.com/temcen/optirex/internal/handlers"
	"github.com/temcen/optirex/internal/messaging"
	"github.com/temcen/optirex/internal/middleware"
	"github.com/temcen/optirex/internal/services"
	"github.com/temcen/optirex/internal/validation"
)

type App struct {
	config   *config.Config
	logger   *logrus.Logger
	db       *database.Database
	bus      *messaging.MessageBus
	services *services.Services
	handlers *handlers.Handlers
	router   *gin.Engine

	cancelConsumer context.CancelFunc
	consumerDone   sync.WaitGroup
}

func New(cfg *config.Config) (*App, error) {
	app := &App{
		config: cfg,
		logger: setupLogger(cfg),
	}

	schemaValidator, err := validation.NewSchemaValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to load JSON schemas: %w", err)
	}

	// Initialize database connections
	db, err := database.New(cfg, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if cfg.Kafka.Enabled {
		bus, err := messaging.NewMessageBus(cfg, app.logger)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize message bus: %w", err)
		}
		app.bus = bus
	}

	// Initialize services
	svcs, err := services.New(cfg, app.logger, db, app.bus, schemaValidator)
	if err != nil {
		app.closeBackends()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	app.services = svcs

	app.handlers = handlers.New(app.logger, svcs)
	app.setupRouter(middleware.NewValidationMiddleware(schemaValidator))

	return app, nil
}

func (a *App) Router() *gin.Engine {
	return a.router
}

// Start launches background consumers. The Kafka observation consumer runs
// until Shutdown.
func (a *App) Start() {
	if a.bus == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancelConsumer = cancel

	a.consumerDone.Add(1)
	go func() {
		defer a.consumerDone.Done()
		a.logger.Info("Starting observation consumer")
		err := a.bus.ConsumeObservations(ctx, a.services.Campaigns.HandleObservationEvent)
		if err != nil && !errors.Is(err, context.Canceled) {
			a.logger.WithError(err).Error("Observation consumer stopped")
		}
	}()
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("Shutting down application...")

	if a.cancelConsumer != nil {
		a.cancelConsumer()
		done := make(chan struct{})
		go func() {
			a.consumerDone.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			a.logger.Warn("Observation consumer did not stop before the shutdown deadline")
		}
	}

	return a.closeBackends()
}

func (a *App) closeBackends() error {
	var errs []error
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			a.logger.WithError(err).Error("Error closing message bus")
			errs = append(errs, err)
		}
	}
	if err := a.db.Close(); err != nil {
		a.logger.WithError(err).Error("Error closing database connections")
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func setupLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return logger
}

func (a *App) setupRouter(vm *middleware.ValidationMiddleware) {
	if a.config.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(a.logger))
	router.Use(middleware.Recovery(a.logger))
	router.Use(middleware.CORS(a.config.Security.CORS))
	router.Use(middleware.Metrics(a.services.Metrics))

	// Health check endpoints (no auth required)
	router.GET("/health", a.handlers.Health.Check)
	router.GET("/health/live", a.handlers.Health.Live)

	// Prometheus metrics endpoint (no auth required)
	metricsPath := a.config.Monitoring.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	router.GET(metricsPath, a.handlers.Metrics)

	api := router.Group("/api/v1")
	api.Use(vm.ValidateQueryParams())

	// Token exchange sits outside the auth group
	api.POST("/auth/token", vm.ValidateHeaders(), a.handlers.Auth.Token)

	protected := api.Group("")
	writers := []gin.HandlerFunc{}
	if a.config.Auth.Enabled {
		protected.Use(middleware.Auth(a.services.Auth, a.services.Auth.ValidateAPIKey, a.logger))
		writers = append(writers, middleware.RequireOperator())
	}

	campaigns := protected.Group("/campaigns")
	{
		campaigns.POST("", chain(writers, vm.ValidateHeaders(), vm.ValidateCampaign(), a.handlers.Campaign.Create)...)
		campaigns.GET("", a.handlers.Campaign.List)
		campaigns.GET("/:id", a.handlers.Campaign.Get)

		campaigns.POST("/:id/observations", chain(writers, vm.ValidateHeaders(), vm.ValidateObservations(), a.handlers.Observation.Record)...)
		campaigns.GET("/:id/observations", a.handlers.Observation.List)
		campaigns.PATCH("/:id/observations", chain(writers, vm.ValidateHeaders(), a.handlers.Observation.Update)...)

		campaigns.POST("/:id/recommendations", chain(writers,
			middleware.RateLimit(a.services.RateLimit, a.logger),
			a.handlers.Recommendation.Create,
		)...)
	}

	a.router = router
}

func chain(prefix []gin.HandlerFunc, handlers ...gin.HandlerFunc) []gin.HandlerFunc {
	out := make([]gin.HandlerFunc, 0, len(prefix)+len(handlers))
	out = append(out, prefix...)
	return append(out, handlers...)
}
