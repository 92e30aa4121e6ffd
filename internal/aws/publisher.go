package aws

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"
)

const (
	// MaxDelay is the largest DelaySeconds SQS accepts on SendMessage.
	MaxDelay = 15 * time.Minute
	// MaxVisibilityTimeout is the largest visibility timeout SQS accepts.
	MaxVisibilityTimeout = 12 * time.Hour
	// MaxBatchSize is the SendMessageBatch entry limit.
	MaxBatchSize = 10
)

// OutboundMessage is a single message to be written to a queue.
type OutboundMessage struct {
	Body       string
	Attributes map[string]string
	Delay      time.Duration
}

// BatchFailure describes one rejected entry of a SendMessageBatch call.
type BatchFailure struct {
	Index   int
	Code    string
	Message string
}

// Publisher wraps an SQS client.
type Publisher struct {
	SQS SQSAPI
}

// NewPublisher returns a Publisher backed by the given client.
func NewPublisher(sqsClient SQSAPI) *Publisher {
	return &Publisher{SQS: sqsClient}
}

// Send writes one message to queueURL and returns the SQS message id.
func (p *Publisher) Send(ctx context.Context, queueURL string, msg OutboundMessage) (string, error) {
	input := &sqs.SendMessageInput{
		QueueUrl:          &queueURL,
		MessageBody:       awsString(msg.Body),
		MessageAttributes: toMessageAttributes(msg.Attributes),
		DelaySeconds:      delaySeconds(msg.Delay),
	}

	out, err := p.SQS.SendMessage(ctx, input)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	if out.MessageId == nil {
		return "", nil
	}
	return *out.MessageId, nil
}

// SendBatch writes msgs in chunks of MaxBatchSize. Entries rejected by SQS are
// returned as failures; a transport error aborts the remaining chunks.
func (p *Publisher) SendBatch(ctx context.Context, queueURL string, msgs []OutboundMessage) ([]BatchFailure, error) {
	var failures []BatchFailure
	for start := 0; start < len(msgs); start += MaxBatchSize {
		end := min(start+MaxBatchSize, len(msgs))

		entries := make([]sqstypes.SendMessageBatchRequestEntry, 0, end-start)
		for i := start; i < end; i++ {
			entries = append(entries, sqstypes.SendMessageBatchRequestEntry{
				Id:                awsString(strconv.Itoa(i)),
				MessageBody:       awsString(msgs[i].Body),
				MessageAttributes: toMessageAttributes(msgs[i].Attributes),
				DelaySeconds:      delaySeconds(msgs[i].Delay),
			})
		}

		out, err := p.SQS.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
			QueueUrl: &queueURL,
			Entries:  entries,
		})
		if err != nil {
			code := ErrorCode(err)
			for i := start; i < len(msgs); i++ {
				failures = append(failures, BatchFailure{Index: i, Code: code, Message: err.Error()})
			}
			return failures, fmt.Errorf("send message batch: %w", err)
		}

		for _, f := range out.Failed {
			idx, convErr := strconv.Atoi(deref(f.Id))
			if convErr != nil {
				return failures, fmt.Errorf("send message batch: unexpected entry id %q", deref(f.Id))
			}
			failures = append(failures, BatchFailure{Index: idx, Code: deref(f.Code), Message: deref(f.Message)})
		}
	}
	return failures, nil
}

// ChangeVisibility makes an in-flight message visible again after timeout.
func (p *Publisher) ChangeVisibility(ctx context.Context, queueURL, receiptHandle string, timeout time.Duration) error {
	if receiptHandle == "" {
		return errors.New("change visibility: empty receipt handle")
	}
	timeout = min(max(timeout, 0), MaxVisibilityTimeout)

	_, err := p.SQS.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          &queueURL,
		ReceiptHandle:     &receiptHandle,
		VisibilityTimeout: int32(timeout / time.Second),
	})
	if err != nil {
		return fmt.Errorf("change message visibility: %w", err)
	}
	return nil
}

// ErrorCode returns the AWS API error code carried by err, or "transport" when
// the request never got an API answer.
func ErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return "transport"
}

// FormatBatchFailures renders failures for logs and API responses.
func FormatBatchFailures(failures []BatchFailure) string {
	parts := make([]string, 0, len(failures))
	for _, f := range failures {
		parts = append(parts, fmt.Sprintf("#%d %s: %s", f.Index, f.Code, f.Message))
	}
	return strings.Join(parts, "; ")
}

func toMessageAttributes(attributes map[string]string) map[string]sqstypes.MessageAttributeValue {
	if len(attributes) == 0 {
		return nil
	}
	msgAttrs := make(map[string]sqstypes.MessageAttributeValue, len(attributes))
	for k, v := range attributes {
		// using string type for all attrs
		msgAttrs[k] = sqstypes.MessageAttributeValue{
			DataType:    awsString("String"),
			StringValue: awsString(v),
		}
	}
	return msgAttrs
}

func delaySeconds(d time.Duration) int32 {
	d = min(max(d, 0), MaxDelay)
	return int32(d / time.Second)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// awsString helper
func awsString(s string) *string { return &s }
