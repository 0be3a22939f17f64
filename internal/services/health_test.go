package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHealthService_CheckHealth(t *testing.T) {
	ok := PingFunc(func(context.Context) error { return nil })
	down := PingFunc(func(context.Context) error { return errors.New("connection refused") })

	tests := []struct {
		name        string
		critical    Pinger
		nonCritical Pinger
		want        string
	}{
		{"all healthy", ok, ok, "healthy"},
		{"cache down", ok, down, "degraded"},
		{"database down", down, ok, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hs := NewHealthService(quietLogger(), NewMetricsCollector())
			hs.AddCritical("database", tt.critical)
			hs.AddNonCritical("redis", tt.nonCritical)
			hs.SetDetails(func() map[string]interface{} { return map[string]interface{}{"pending_writes": 0} })

			status := hs.CheckHealth(context.Background())
			assert.Equal(t, tt.want, status.Status)
			assert.Len(t, status.Services, 2)
			assert.Contains(t, status.Latency, "database")
			assert.Equal(t, 0, status.Details["pending_writes"])
		})
	}
}

func TestHealthService_NilMetrics(t *testing.T) {
	hs := NewHealthService(quietLogger(), nil)
	hs.AddCritical("database", nil)
	status := hs.CheckHealth(context.Background())
	assert.Equal(t, "healthy", status.Status)
	assert.Empty(t, status.Services)
}
