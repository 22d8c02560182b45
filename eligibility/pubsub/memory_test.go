package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueueRoundTrip(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	msg, err := NewMessage(map[string]string{"name": "clientA/members.csv"}, nil)
	require.NoError(t, err)
	require.NoError(t, q.Publish(ctx, msg))
	assert.Equal(t, 1, q.Depth())

	received, err := q.Receive(ctx, 10)
	require.NoError(t, err)
	require.Len(t, received, 1)
	assert.Equal(t, 0, q.Depth())

	var payload map[string]string
	require.NoError(t, received[0].Decode(&payload))
	assert.Equal(t, "clientA/members.csv", payload["name"])

	require.NoError(t, q.Ack(ctx, received[0]))
	assert.Equal(t, 0, q.Depth())
}

func TestMemoryQueueNackRedelivers(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	msg, err := NewMessage("payload", nil)
	require.NoError(t, err)
	require.NoError(t, q.Publish(ctx, msg))

	received, err := q.Receive(ctx, 1)
	require.NoError(t, err)
	require.Len(t, received, 1)

	require.NoError(t, q.Nack(ctx, received[0]))
	assert.Equal(t, 1, q.Depth())

	again, err := q.Receive(ctx, 1)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, received[0].ID, again[0].ID)
}

func TestMemoryQueueReceiveBounded(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	for i := 0; i < 5; i++ {
		msg, err := NewMessage(i, nil)
		require.NoError(t, err)
		require.NoError(t, q.Publish(ctx, msg))
	}

	batch, err := q.Receive(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, batch, 3)
	assert.Equal(t, 2, q.Depth())
}
