package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/retailops/posflow/internal/domain"
)

// FeedRepository pushes triggered agent actions onto a Redis Stream consumed
// by external operational tooling. The Postgres ledger row is the source of
// truth; the stream is a best-effort fan-out channel.
type FeedRepository struct {
	client    *redis.Client
	logger    *slog.Logger
	streamKey string
}

// NewFeedRepository creates a new Redis Streams feed publisher.
func NewFeedRepository(client *redis.Client, logger *slog.Logger, streamKey string) *FeedRepository {
	return &FeedRepository{
		client:    client,
		logger:    logger.With("component", "feed_repository"),
		streamKey: streamKey,
	}
}

// Publish appends one agent action to the feed stream.
func (r *FeedRepository) Publish(ctx context.Context, action domain.AgentAction) error {
	payload, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("failed to marshal agent action: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: r.streamKey,
		Values: map[string]interface{}{
			"payload":      payload,
			"monitor":      action.MonitorName,
			"triggered_at": action.TriggeredAt.UTC().Format(time.RFC3339),
		},
	}

	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to XADD to feed stream: %w", err)
	}
	return nil
}
