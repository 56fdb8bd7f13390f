package cache

import (
	"context"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

// Connect opens a redis client for addr and verifies it with a ping. The
// caller decides whether running without the cache is acceptable; scan
// results simply stop being cached when it is absent.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	log.Println("Connected to Redis")
	return client, nil
}
