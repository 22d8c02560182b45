package pubsub

import (
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/pkg/errors"
)

// SQS limits batch operations to ten entries.
const sqsBatchLimit = 10

// SQSQueue implements Publisher and Subscriber over a single SQS queue.
type SQSQueue struct {
	client            *sqs.SQS
	queueURL          string
	visibilityTimeout int64
	waitTimeSeconds   int64
}

// NewSQSQueue resolves the queue URL by name. The visibility timeout governs
// how long a received message stays invisible before automatic redelivery.
func NewSQSQueue(sess *session.Session, queueName string, visibilityTimeoutSeconds int64) (*SQSQueue, error) {
	client := sqs.New(sess)
	out, err := client.GetQueueUrl(&sqs.GetQueueUrlInput{QueueName: aws.String(queueName)})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve queue url for %s", queueName)
	}
	return &SQSQueue{
		client:            client,
		queueURL:          aws.StringValue(out.QueueUrl),
		visibilityTimeout: visibilityTimeoutSeconds,
		waitTimeSeconds:   10,
	}, nil
}

func (q *SQSQueue) Publish(ctx context.Context, messages ...Message) error {
	for start := 0; start < len(messages); start += sqsBatchLimit {
		end := start + sqsBatchLimit
		if end > len(messages) {
			end = len(messages)
		}
		entries := make([]*sqs.SendMessageBatchRequestEntry, 0, end-start)
		for _, m := range messages[start:end] {
			entry := &sqs.SendMessageBatchRequestEntry{
				Id:          aws.String(m.ID),
				MessageBody: aws.String(string(m.Body)),
			}
			if len(m.Attributes) > 0 {
				entry.MessageAttributes = make(map[string]*sqs.MessageAttributeValue, len(m.Attributes))
				for k, v := range m.Attributes {
					entry.MessageAttributes[k] = &sqs.MessageAttributeValue{
						DataType:    aws.String("String"),
						StringValue: aws.String(v),
					}
				}
			}
			entries = append(entries, entry)
		}
		out, err := q.client.SendMessageBatchWithContext(ctx, &sqs.SendMessageBatchInput{
			QueueUrl: aws.String(q.queueURL),
			Entries:  entries,
		})
		if err != nil {
			return errors.Wrap(err, "failed to publish batch")
		}
		if len(out.Failed) > 0 {
			return errors.Errorf("failed to publish %d of %d messages", len(out.Failed), len(entries))
		}
	}
	return nil
}

func (q *SQSQueue) Receive(ctx context.Context, max int) ([]Message, error) {
	if max > sqsBatchLimit {
		max = sqsBatchLimit
	}
	out, err := q.client.ReceiveMessageWithContext(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(q.queueURL),
		MaxNumberOfMessages:   aws.Int64(int64(max)),
		VisibilityTimeout:     aws.Int64(q.visibilityTimeout),
		WaitTimeSeconds:       aws.Int64(q.waitTimeSeconds),
		MessageAttributeNames: []*string{aws.String("All")},
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to receive messages")
	}

	messages := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msg := Message{
			ID:            aws.StringValue(m.MessageId),
			Body:          []byte(aws.StringValue(m.Body)),
			receiptHandle: aws.StringValue(m.ReceiptHandle),
		}
		if len(m.MessageAttributes) > 0 {
			msg.Attributes = make(map[string]string, len(m.MessageAttributes))
			for k, v := range m.MessageAttributes {
				msg.Attributes[k] = aws.StringValue(v.StringValue)
			}
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (q *SQSQueue) Ack(ctx context.Context, messages ...Message) error {
	for _, m := range messages {
		_, err := q.client.DeleteMessageWithContext(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(q.queueURL),
			ReceiptHandle: aws.String(m.receiptHandle),
		})
		if err != nil {
			return errors.Wrapf(err, "failed to ack message %s", m.ID)
		}
	}
	return nil
}

// Nack zeroes the visibility timeout so the message is redelivered
// immediately.
func (q *SQSQueue) Nack(ctx context.Context, messages ...Message) error {
	for _, m := range messages {
		_, err := q.client.ChangeMessageVisibilityWithContext(ctx, &sqs.ChangeMessageVisibilityInput{
			QueueUrl:          aws.String(q.queueURL),
			ReceiptHandle:     aws.String(m.receiptHandle),
			VisibilityTimeout: aws.Int64(0),
		})
		if err != nil {
			return errors.Wrapf(err, "failed to nack message %s", m.ID)
		}
	}
	return nil
}
