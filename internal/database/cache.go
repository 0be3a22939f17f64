package database

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/temcen/optirex/pkg/models"
)

// RecommendationCache keeps decoded batches in Redis. A batch is fully
// determined by the history fingerprint, strategies, batch size and seed, so
// entries never need invalidation; the TTL only bounds memory.
type RecommendationCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

// NewRecommendationCache returns a cache; a nil client disables it.
func NewRecommendationCache(client *redis.Client, ttl time.Duration, logger *logrus.Logger) *RecommendationCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RecommendationCache{client: client, ttl: ttl, logger: logger}
}

func (c *RecommendationCache) Enabled() bool { return c != nil && c.client != nil }

// Key builds the cache key of one recommendation request.
func (c *RecommendationCache) Key(campaignID uuid.UUID, fingerprint string, strategies []float64, batchSize int, seed int64) string {
	parts := make([]string, len(strategies))
	for i, s := range strategies {
		parts[i] = strconv.FormatFloat(s, 'g', -1, 64)
	}
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%d", fingerprint, strings.Join(parts, ","), batchSize, seed)))
	return "recommendations:" + campaignID.String() + ":" + hex.EncodeToString(h[:16])
}

// Get returns the cached batch, if any.
func (c *RecommendationCache) Get(ctx context.Context, key string) ([]models.Candidate, bool, error) {
	if !c.Enabled() {
		return nil, false, nil
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	var candidates []models.Candidate
	if err := json.Unmarshal(data, &candidates); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Dropping undecodable cache entry")
		c.client.Del(ctx, key)
		return nil, false, nil
	}
	return candidates, true, nil
}

func (c *RecommendationCache) Set(ctx context.Context, key string, candidates []models.Candidate) error {
	if !c.Enabled() {
		return nil
	}
	data, err := json.Marshal(candidates)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

func (c *RecommendationCache) Ping(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Ping(ctx).Err()
}
