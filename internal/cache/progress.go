package cache

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/bursar-backend/internal/config"
	"github.com/stemsi/bursar-backend/internal/model"
)

// RedisProgress publishes billing run progress on a per-run channel.
type RedisProgress struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewRedisProgress creates a new RedisProgress.
func NewRedisProgress(rdb *redis.Client, log zerolog.Logger) *RedisProgress {
	return &RedisProgress{
		rdb: rdb,
		log: log.With().Str("component", "redis_progress").Logger(),
	}
}

// Publish sends the event. Failures are logged only; progress is best effort.
func (p *RedisProgress) Publish(ctx context.Context, event model.ProgressEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.log.Error().Err(err).Msg("Failed to marshal progress event")
		return
	}

	channel := config.CacheKey.BillingRunProgressChannel(event.RunID.String())
	if err := p.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		p.log.Warn().Err(err).Str("run_id", event.RunID.String()).Msg("Failed to publish progress event")
	}
}

// Subscribe opens a subscription to a run's progress channel.
// The caller must close the returned PubSub.
func (p *RedisProgress) Subscribe(ctx context.Context, runID string) *redis.PubSub {
	return p.rdb.Subscribe(ctx, config.CacheKey.BillingRunProgressChannel(runID))
}
