package database

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/optirex/pkg/models"
)

func TestRecommendationCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	cache := NewRecommendationCache(client, time.Minute, quietLogger())
	ctx := context.Background()
	campaignID := uuid.New()

	key := cache.Key(campaignID, "abc", []float64{-1, 1}, 2, 7)
	assert.Equal(t, key, cache.Key(campaignID, "abc", []float64{-1, 1}, 2, 7))
	assert.NotEqual(t, key, cache.Key(campaignID, "abd", []float64{-1, 1}, 2, 7))
	assert.NotEqual(t, key, cache.Key(campaignID, "abc", []float64{1, -1}, 2, 7))
	assert.NotEqual(t, key, cache.Key(campaignID, "abc", []float64{-1, 1}, 2, 8))

	_, hit, err := cache.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, hit)

	batch := []models.Candidate{
		{Slot: 0, Params: models.ParameterValues{"x": 0.5, "color": "red"}, SamplingStrategy: -1, Feasibility: 0.9, Feasible: true},
		{Slot: 1, Params: models.ParameterValues{"x": 0.1, "color": "blue"}, SamplingStrategy: 1, Feasibility: 0.4},
	}
	require.NoError(t, cache.Set(ctx, key, batch))

	got, hit, err := cache.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, batch, got)

	mr.FastForward(2 * time.Minute)
	_, hit, err = cache.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, mr.Set(key, "not json"))
	_, hit, err = cache.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.False(t, mr.Exists(key))
}

func TestRecommendationCache_Disabled(t *testing.T) {
	cache := NewRecommendationCache(nil, 0, quietLogger())
	ctx := context.Background()

	assert.False(t, cache.Enabled())
	require.NoError(t, cache.Set(ctx, "k", []models.Candidate{{Slot: 0}}))
	_, hit, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, hit)
	assert.NoError(t, cache.Ping(ctx))
}
