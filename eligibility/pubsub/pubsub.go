// Package pubsub abstracts the durable message bus between pipeline stages.
// The production implementation rides on SQS; an in-memory implementation
// backs tests and local runs.
package pubsub

import (
	"context"
	"encoding/json"

	"github.com/pborman/uuid"
	"github.com/pkg/errors"
)

// Message is one envelope on the bus.
type Message struct {
	ID         string
	Body       []byte
	Attributes map[string]string

	// receiptHandle identifies an in-flight delivery for ack/nack.
	receiptHandle string
}

// NewMessage wraps a JSON-encodable payload in an envelope.
func NewMessage(payload interface{}, attributes map[string]string) (Message, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Message{}, errors.Wrap(err, "failed to encode message payload")
	}
	return Message{ID: uuid.NewRandom().String(), Body: body, Attributes: attributes}, nil
}

// Decode unmarshals the message body into target.
func (m Message) Decode(target interface{}) error {
	return errors.Wrap(json.Unmarshal(m.Body, target), "failed to decode message payload")
}

// Publisher sends messages to a topic.
type Publisher interface {
	Publish(ctx context.Context, messages ...Message) error
}

// Subscriber reads messages from a topic. Messages stay in flight until
// acked; a nack makes them immediately redeliverable.
type Subscriber interface {
	Receive(ctx context.Context, max int) ([]Message, error)
	Ack(ctx context.Context, messages ...Message) error
	Nack(ctx context.Context, messages ...Message) error
}
