package downloader

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// progressPublisher is the seam between Download's per-chunk progress
// loop and the optional Redis broadcast, so tests can substitute a fake
// without a live Redis server.
type progressPublisher interface {
	Publish(ctx context.Context, p Progress) error
}

// redisPublisher publishes each Progress report as JSON on
// "progress:<remote_id>", grounded on the go-redis client already used
// by pkg/tracker's optional mirror and pkg/enrichment's queue backend.
type redisPublisher struct {
	client *redis.Client
}

func newRedisPublisher(addr string) *redisPublisher {
	return &redisPublisher{client: redis.NewClient(&redis.Options{Addr: addr})}
}

func (p *redisPublisher) Publish(ctx context.Context, progress Progress) error {
	data, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("marshaling progress: %w", err)
	}
	channel := "progress:" + progress.RemoteID
	return p.client.Publish(ctx, channel, data).Err()
}
