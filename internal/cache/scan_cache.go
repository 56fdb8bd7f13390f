package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"goldenscan/internal/domain"

	"github.com/redis/go-redis/v9"
)

const scanKeyPrefix = "scan:"

// ScanCache stores the latest scan results per indicator kind as JSON.
type ScanCache struct {
	client *redis.Client
}

func NewScanCache(client *redis.Client) *ScanCache {
	return &ScanCache{client: client}
}

// SetResults replaces the cached results for kind. An empty result set is
// cached too, so readers can tell "scan ran, found nothing" from "no scan".
func (c *ScanCache) SetResults(ctx context.Context, kind string, results []domain.BacktestResult, ttl time.Duration) error {
	if results == nil {
		results = []domain.BacktestResult{}
	}
	payload, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("marshal scan results: %w", err)
	}
	if err := c.client.Set(ctx, scanKeyPrefix+kind, payload, ttl).Err(); err != nil {
		return fmt.Errorf("cache scan results: %w", err)
	}
	return nil
}

// GetResults returns the cached results for kind. A miss yields nil, nil.
func (c *ScanCache) GetResults(ctx context.Context, kind string) ([]domain.BacktestResult, error) {
	payload, err := c.client.Get(ctx, scanKeyPrefix+kind).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read scan results: %w", err)
	}
	var results []domain.BacktestResult
	if err := json.Unmarshal(payload, &results); err != nil {
		return nil, fmt.Errorf("unmarshal scan results: %w", err)
	}
	return results, nil
}
