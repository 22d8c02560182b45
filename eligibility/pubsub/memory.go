package pubsub

import (
	"context"
	"sync"
)

// MemoryQueue is an in-process Publisher and Subscriber used by tests and
// local development.
type MemoryQueue struct {
	mu       sync.Mutex
	pending  []Message
	inFlight map[string]Message
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{inFlight: make(map[string]Message)}
}

func (q *MemoryQueue) Publish(ctx context.Context, messages ...Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, messages...)
	return nil
}

func (q *MemoryQueue) Receive(ctx context.Context, max int) ([]Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if max > len(q.pending) {
		max = len(q.pending)
	}
	batch := make([]Message, max)
	copy(batch, q.pending[:max])
	q.pending = q.pending[max:]
	for i := range batch {
		batch[i].receiptHandle = batch[i].ID
		q.inFlight[batch[i].ID] = batch[i]
	}
	return batch, nil
}

func (q *MemoryQueue) Ack(ctx context.Context, messages ...Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, m := range messages {
		delete(q.inFlight, m.ID)
	}
	return nil
}

func (q *MemoryQueue) Nack(ctx context.Context, messages ...Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, m := range messages {
		if held, ok := q.inFlight[m.ID]; ok {
			delete(q.inFlight, m.ID)
			q.pending = append(q.pending, held)
		}
	}
	return nil
}

// Depth reports the number of deliverable messages.
func (q *MemoryQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
