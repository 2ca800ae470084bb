package services

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"gifconv/models"
)

// StatusCache mirrors job status into Redis hashes so external consumers
// (UIs, dashboards) can read current state without hitting the job store.
// Writes are best effort; a cache failure never affects the store.
type StatusCache struct {
	client *redis.Client
	prefix string
}

func NewStatusCache(client *redis.Client, prefix string) *StatusCache {
	return &StatusCache{client: client, prefix: prefix}
}

// Record mirrors the job's current status. Safe to call on a nil cache or
// a cache without a client.
func (c *StatusCache) Record(ctx context.Context, jobID string, status models.Status, errorMessage string) {
	if c == nil || c.client == nil {
		return
	}

	fields := map[string]interface{}{
		"status":     string(status),
		"updated_at": time.Now().Format(time.RFC3339),
	}
	if errorMessage != "" {
		fields["error"] = errorMessage
	}

	if err := c.client.HSet(ctx, c.prefix+"job:status:"+jobID, fields).Err(); err != nil {
		log.Warn().Err(err).Str("job_id", jobID).Msg("failed to mirror job status to redis")
	}
}
