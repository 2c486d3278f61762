package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// ErrQueueUnavailable wraps queue transport failures.
var ErrQueueUnavailable = errors.New("queue unavailable")

// Message is one received queue message. The receipt handle acknowledges it.
type Message struct {
	Body          []byte
	ReceiptHandle string
}

// Queue is at-least-once messaging against named queues. Receives are never
// auto-acknowledged: callers delete only after successful processing, which
// is what makes redelivery-on-crash work.
type Queue interface {
	Send(ctx context.Context, queueURL string, body []byte) error
	Receive(ctx context.Context, queueURL string, max int32, wait int32) ([]Message, error)
	Delete(ctx context.Context, queueURL string, receiptHandle string) error
}

// SQSQueue implements Queue on top of SQS.
type SQSQueue struct {
	sqsClient *sqs.Client
}

func NewSQSQueue(awsCfg aws.Config) *SQSQueue {
	return &SQSQueue{sqsClient: sqs.NewFromConfig(awsCfg)}
}

func (q *SQSQueue) Send(ctx context.Context, queueURL string, body []byte) error {
	_, err := q.sqsClient.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("%w: send to %s: %v", ErrQueueUnavailable, queueURL, err)
	}
	return nil
}

// Receive long-polls the queue for up to wait seconds and returns at most max
// messages. An empty slice means the poll timed out.
func (q *SQSQueue) Receive(ctx context.Context, queueURL string, max int32, wait int32) ([]Message, error) {
	resp, err := q.sqsClient.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(queueURL),
		MaxNumberOfMessages: max,
		WaitTimeSeconds:     wait,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: receive from %s: %v", ErrQueueUnavailable, queueURL, err)
	}

	msgs := make([]Message, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		msgs = append(msgs, Message{
			Body:          []byte(aws.ToString(m.Body)),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
		})
	}
	return msgs, nil
}

// Delete acknowledges a message. Deleting an already-deleted message is a
// no-op on the server side, so the call is idempotent.
func (q *SQSQueue) Delete(ctx context.Context, queueURL string, receiptHandle string) error {
	_, err := q.sqsClient.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("%w: delete from %s: %v", ErrQueueUnavailable, queueURL, err)
	}
	return nil
}
