// Package queue receives scan-result messages from SQS.
package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/yairfalse/scantag/internal/awscfg"
	"github.com/yairfalse/scantag/internal/fault"
)

// Message is one received queue message.
type Message struct {
	ID            string
	ReceiptHandle string
	Body          []byte
	ReceiveCount  int
}

// Source is a queue the daemon consumes.
type Source interface {
	// Receive blocks until messages arrive, the wait time elapses, or ctx ends.
	Receive(ctx context.Context) ([]Message, error)
	// Ack removes a processed message.
	Ack(ctx context.Context, m Message) error
	// Release makes a message visible again after delay.
	Release(ctx context.Context, m Message, delay time.Duration) error
}

// SQSAPI defines the SQS operations used by the consumer.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// Config holds SQS consumer settings.
type Config struct {
	URL         string
	Region      string
	Profile     string
	Endpoint    string
	// Static keys, for S3-compatible deployments that do not use the default chain.
	AccessKey   string
	SecretKey   string
	MaxMessages int32
	WaitTime    time.Duration
	Visibility  time.Duration
}

func (c Config) awsOptions() awscfg.Options {
	return awscfg.Options{
		Region:    c.Region,
		Profile:   c.Profile,
		AccessKey: c.AccessKey,
		SecretKey: c.SecretKey,
	}
}

// SQS consumes a single queue with long polling.
type SQS struct {
	client SQSAPI
	cfg    Config
}

var _ Source = (*SQS)(nil)

// NewSQS builds an SQS consumer from the default credential chain.
func NewSQS(ctx context.Context, cfg Config) (*SQS, error) {
	if cfg.URL == "" {
		return nil, fault.Errorf(fault.Configuration, "sqs consumer", "queue url is required")
	}

	awsCfg, err := awscfg.Load(ctx, cfg.awsOptions())
	if err != nil {
		return nil, fault.New(fault.Configuration, "sqs consumer", err)
	}

	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewSQSWithClient(client, cfg), nil
}

// NewSQSWithClient wraps an existing client.
func NewSQSWithClient(client SQSAPI, cfg Config) *SQS {
	if cfg.MaxMessages <= 0 || cfg.MaxMessages > 10 {
		cfg.MaxMessages = 10
	}
	if cfg.WaitTime <= 0 || cfg.WaitTime > 20*time.Second {
		cfg.WaitTime = 20 * time.Second
	}
	return &SQS{client: client, cfg: cfg}
}

// Receive implements Source.
func (q *SQS) Receive(ctx context.Context) ([]Message, error) {
	in := &sqs.ReceiveMessageInput{
		QueueUrl:                    aws.String(q.cfg.URL),
		MaxNumberOfMessages:         q.cfg.MaxMessages,
		WaitTimeSeconds:             int32(q.cfg.WaitTime / time.Second),
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{types.MessageSystemAttributeNameApproximateReceiveCount},
	}
	if q.cfg.Visibility > 0 {
		in.VisibilityTimeout = int32(q.cfg.Visibility / time.Second)
	}

	out, err := q.client.ReceiveMessage(ctx, in)
	if err != nil {
		return nil, fault.New(fault.Transient, "receive messages", err)
	}

	msgs := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		count, _ := strconv.Atoi(m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
		msgs = append(msgs, Message{
			ID:            aws.ToString(m.MessageId),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			Body:          []byte(aws.ToString(m.Body)),
			ReceiveCount:  count,
		})
	}
	return msgs, nil
}

// Ack implements Source.
func (q *SQS) Ack(ctx context.Context, m Message) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.cfg.URL),
		ReceiptHandle: aws.String(m.ReceiptHandle),
	})
	if err != nil {
		return fmt.Errorf("delete message %s: %w", m.ID, err)
	}
	return nil
}

// Release implements Source.
func (q *SQS) Release(ctx context.Context, m Message, delay time.Duration) error {
	_, err := q.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(q.cfg.URL),
		ReceiptHandle:     aws.String(m.ReceiptHandle),
		VisibilityTimeout: int32(delay / time.Second),
	})
	if err != nil {
		return fmt.Errorf("release message %s: %w", m.ID, err)
	}
	return nil
}
