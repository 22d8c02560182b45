// Package worker runs the pipeline stages as long-lived queue consumers.
package worker

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/havenhealth/eligibility-app/eligibility/pubsub"
)

// Handler processes one received batch. Returning an error nacks the whole
// batch for redelivery.
type Handler interface {
	Handle(ctx context.Context, messages []pubsub.Message) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, messages []pubsub.Message) error

func (f HandlerFunc) Handle(ctx context.Context, messages []pubsub.Message) error {
	return f(ctx, messages)
}

// Consumer polls a subscription and hands batches to a Handler. Receive
// failures back off exponentially; a successful receive resets the delay.
type Consumer struct {
	Name      string
	Queue     pubsub.Subscriber
	Handler   Handler
	BatchSize int
	// IdleWait is slept when a poll returns no messages.
	IdleWait time.Duration
	Logger   logrus.FieldLogger
}

// Run polls until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	logger := c.Logger.WithField("consumer", c.Name)
	logger.Info("consumer started")

	for {
		if err := ctx.Err(); err != nil {
			logger.Info("consumer stopped")
			return err
		}

		messages, err := c.Queue.Receive(ctx, c.batchSize())
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("consumer stopped")
				return ctx.Err()
			}
			wait := bo.NextBackOff()
			logger.WithError(err).Errorf("receive failed, retrying in %s", wait)
			if !sleep(ctx, wait) {
				return ctx.Err()
			}
			continue
		}
		bo.Reset()

		if len(messages) == 0 {
			if !sleep(ctx, c.idleWait()) {
				return ctx.Err()
			}
			continue
		}

		if err := c.Handler.Handle(ctx, messages); err != nil {
			logger.WithError(err).WithField("num_messages", len(messages)).Error("batch failed, returning messages to the queue")
			if nackErr := c.Queue.Nack(ctx, messages...); nackErr != nil {
				logger.WithError(nackErr).Error("could not nack batch")
			}
			continue
		}
		if err := c.Queue.Ack(ctx, messages...); err != nil {
			logger.WithError(err).Error("could not ack batch")
		}
	}
}

func (c *Consumer) batchSize() int {
	if c.BatchSize <= 0 {
		return 1
	}
	return c.BatchSize
}

func (c *Consumer) idleWait() time.Duration {
	if c.IdleWait <= 0 {
		return time.Second
	}
	return c.IdleWait
}

// sleep waits for d or the context, reporting false on cancellation.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
