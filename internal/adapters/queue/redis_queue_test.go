package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) *RedisQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	return New(mr.Addr(), "", 0)
}

func TestRedisQueue_PublishConsume(t *testing.T) {
	q := newTestQueue(t)
	defer q.Close()
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, "emails", []byte(`{"message_id":"m1"}`)))

	payload, err := q.Consume(ctx, "emails")
	require.NoError(t, err)
	assert.Equal(t, `{"message_id":"m1"}`, string(payload))
}

func TestRedisQueue_ConsumeStaysOnProcessingListUntilAck(t *testing.T) {
	q := newTestQueue(t)
	defer q.Close()
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, "emails", []byte("payload-1")))

	payload, err := q.Consume(ctx, "emails")
	require.NoError(t, err)
	require.Equal(t, "payload-1", string(payload))

	length, err := q.client.LLen(ctx, "emails:processing").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), length, "an un-acked payload must remain on the processing list for recovery")

	require.NoError(t, q.Ack(ctx, "emails", payload))

	length, err = q.client.LLen(ctx, "emails:processing").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), length, "Ack must remove the payload from the processing list")
}

func TestRedisQueue_Consume_CancelledContext(t *testing.T) {
	q := newTestQueue(t)
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := q.Consume(ctx, "empty-queue")
	assert.Error(t, err)
}
