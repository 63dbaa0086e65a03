package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/harvester/internal/core/domain"
)

// QueueEmitter pushes artifacts as JSON onto a Redis list. Consumers pop
// from the other end (BRPOP), so delivery order is emission order.
type QueueEmitter struct {
	client *Client
	key    string
}

// NewQueueEmitter creates an emitter writing to key, or DefaultQueue if empty.
func NewQueueEmitter(client *Client, key string) *QueueEmitter {
	if key == "" {
		key = DefaultQueue
	}
	return &QueueEmitter{client: client, key: key}
}

// Emit pushes the artifact onto the queue.
func (q *QueueEmitter) Emit(ctx context.Context, artifact *domain.Artifact) error {
	data, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("failed to marshal artifact: %w", err)
	}
	if err := q.client.rdb.LPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("lpush failed: %w", err)
	}
	return nil
}

// Len returns the number of artifacts waiting in the queue.
func (q *QueueEmitter) Len(ctx context.Context) (int64, error) {
	n, err := q.client.rdb.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("llen failed: %w", err)
	}
	return n, nil
}

// Pop removes the oldest artifact from the queue. It returns nil when the
// queue is empty.
func (q *QueueEmitter) Pop(ctx context.Context) (*domain.Artifact, error) {
	data, err := q.client.rdb.RPop(ctx, q.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rpop failed: %w", err)
	}

	var artifact domain.Artifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("failed to unmarshal artifact: %w", err)
	}
	return &artifact, nil
}

// Close closes the underlying client.
func (q *QueueEmitter) Close() error {
	return q.client.Close()
}
