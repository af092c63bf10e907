// Package queue implements ports.Queue against Redis, using BRPOPLPUSH onto
// a per-queue "processing" list so a worker that crashes mid-handle doesn't
// silently lose the payload — the queue.py original's ack-by-deletion
// pattern, expressed with Redis's reliable-queue idiom instead of a bare
// BLPOP.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const popTimeout = 5 * time.Second

// RedisQueue implements ports.Queue.
type RedisQueue struct {
	client *redis.Client
}

func New(addr, password string, db int) *RedisQueue {
	return &RedisQueue{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func (q *RedisQueue) Publish(ctx context.Context, queue string, payload []byte) error {
	if err := q.client.LPush(ctx, queue, payload).Err(); err != nil {
		return fmt.Errorf("publish to queue %q: %w", queue, err)
	}
	return nil
}

// Consume blocks on the queue's tail, moving the popped payload onto
// "<queue>:processing" for crash recovery. The payload stays on the
// processing list — and is therefore recoverable — until the caller calls
// Ack with it once handling succeeds.
func (q *RedisQueue) Consume(ctx context.Context, queue string) ([]byte, error) {
	processingKey := processingKeyOf(queue)
	for {
		result, err := q.client.BRPopLPush(ctx, queue, processingKey, popTimeout).Result()
		if err == redis.Nil {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
				continue
			}
		}
		if err != nil {
			return nil, fmt.Errorf("consume from queue %q: %w", queue, err)
		}
		return []byte(result), nil
	}
}

// Ack removes payload from the queue's processing list, confirming
// successful handling. A worker that crashes before calling Ack leaves the
// payload on the processing list for an out-of-band recovery sweep to
// requeue.
func (q *RedisQueue) Ack(ctx context.Context, queue string, payload []byte) error {
	if err := q.client.LRem(ctx, processingKeyOf(queue), 1, payload).Err(); err != nil {
		return fmt.Errorf("ack consumed item from %q: %w", queue, err)
	}
	return nil
}

func processingKeyOf(queue string) string {
	return queue + ":processing"
}
