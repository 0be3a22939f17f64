package services

import (
	"context"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Pinger is a dependency the health check can probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type HealthStatus struct {
	Status      string                 `json:"status"` // healthy, degraded, unhealthy
	Timestamp   time.Time              `json:"timestamp"`
	Services    map[string]string      `json:"services"`
	Critical    []string               `json:"critical_failures,omitempty"`
	NonCritical []string               `json:"non_critical_failures,omitempty"`
	Latency     map[string]string      `json:"latency,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// HealthService probes the storage backend (critical) and the optional cache
// and broker (non-critical).
type HealthService struct {
	critical    map[string]Pinger
	nonCritical map[string]Pinger
	details     func() map[string]interface{}
	timeout     time.Duration
	logger      *logrus.Logger

	healthCheckStatus *prometheus.GaugeVec
	lastHealthCheck   *prometheus.GaugeVec
	systemMetrics     *prometheus.GaugeVec
}

func NewHealthService(logger *logrus.Logger, metrics *MetricsCollector) *HealthService {
	hs := &HealthService{
		critical:    make(map[string]Pinger),
		nonCritical: make(map[string]Pinger),
		timeout:     5 * time.Second,
		logger:      logger,

		healthCheckStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "optirex_health_check_status",
				Help: "Health check status (1 = healthy, 0 = unhealthy)",
			},
			[]string{"service"},
		),
		lastHealthCheck: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "optirex_last_health_check_timestamp",
				Help: "Timestamp of last health check",
			},
			[]string{"service"},
		),
		systemMetrics: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "optirex_system_metrics",
				Help: "Runtime metrics sampled at each health check",
			},
			[]string{"metric"},
		),
	}

	if reg := metrics.Registry(); reg != nil {
		for name, c := range map[string]prometheus.Collector{
			"health_check_status": hs.healthCheckStatus,
			"last_health_check":   hs.lastHealthCheck,
			"system_metrics":      hs.systemMetrics,
		} {
			if err := reg.Register(c); err != nil {
				if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
					logger.WithError(err).Warnf("Failed to register %s metric", name)
				}
			}
		}
	}

	return hs
}

// AddCritical registers a dependency whose failure makes the service unhealthy.
func (s *HealthService) AddCritical(name string, p Pinger) {
	if p != nil {
		s.critical[name] = p
	}
}

// AddNonCritical registers a dependency whose failure only degrades the service.
func (s *HealthService) AddNonCritical(name string, p Pinger) {
	if p != nil {
		s.nonCritical[name] = p
	}
}

// SetDetails installs a source of extra fields for the report, such as
// consumer lag or writer queue depth.
func (s *HealthService) SetDetails(fn func() map[string]interface{}) {
	s.details = fn
}

func (s *HealthService) CheckHealth(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Timestamp: time.Now(),
		Services:  make(map[string]string),
		Latency:   make(map[string]string),
	}

	allCriticalHealthy := true
	for name, p := range s.critical {
		if err := s.probe(ctx, name, p, status); err != nil {
			status.Critical = append(status.Critical, name)
			allCriticalHealthy = false
			s.logger.WithError(err).Errorf("Critical service %s is unhealthy", name)
		}
	}

	for name, p := range s.nonCritical {
		if err := s.probe(ctx, name, p, status); err != nil {
			status.NonCritical = append(status.NonCritical, name)
			s.logger.WithError(err).Warnf("Non-critical service %s is unhealthy", name)
		}
	}

	switch {
	case !allCriticalHealthy:
		status.Status = "unhealthy"
	case len(status.NonCritical) > 0:
		status.Status = "degraded"
	default:
		status.Status = "healthy"
	}

	if s.details != nil {
		status.Details = s.details()
	}
	s.collectSystemMetrics()

	return status
}

func (s *HealthService) probe(ctx context.Context, name string, p Pinger, status *HealthStatus) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	err := p.Ping(ctx)
	status.Latency[name] = time.Since(start).String()
	if err != nil {
		status.Services[name] = "unhealthy"
	} else {
		status.Services[name] = "healthy"
	}
	s.UpdateHealthMetrics(name, err == nil)
	return err
}

func (s *HealthService) collectSystemMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	s.systemMetrics.WithLabelValues("memory_alloc_bytes").Set(float64(memStats.Alloc))
	s.systemMetrics.WithLabelValues("goroutines_count").Set(float64(runtime.NumGoroutine()))
	s.systemMetrics.WithLabelValues("gc_runs_total").Set(float64(memStats.NumGC))
}

// UpdateHealthMetrics updates health check metrics
func (s *HealthService) UpdateHealthMetrics(serviceName string, healthy bool) {
	if healthy {
		s.healthCheckStatus.WithLabelValues(serviceName).Set(1)
	} else {
		s.healthCheckStatus.WithLabelValues(serviceName).Set(0)
	}
	s.lastHealthCheck.WithLabelValues(serviceName).Set(float64(time.Now().Unix()))
}
