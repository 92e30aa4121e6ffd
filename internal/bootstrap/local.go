package bootstrap

import (
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/imrishuroy/go-beer-pipeline/internal/queue"
)

// LocalBodyEnv holds the message body used when a worker runs locally.
const LocalBodyEnv = "LOCAL_SQS_BODY"

// LocalSQSEvent simulates a single delivery for local runs. fallback is used
// when LOCAL_SQS_BODY is unset.
func LocalSQSEvent(fallback string) events.SQSEvent {
	body := os.Getenv(LocalBodyEnv)
	if body == "" {
		body = fallback
	}
	return events.SQSEvent{
		Records: []events.SQSMessage{
			{
				MessageId:     "local-1",
				ReceiptHandle: "local-receipt-1",
				Body:          body,
				Attributes: map[string]string{
					"ApproximateReceiveCount": "1",
					"SentTimestamp":           strconv.FormatInt(time.Now().UnixMilli(), 10),
				},
				MessageAttributes: map[string]events.SQSMessageAttribute{
					queue.AttrEnvelopeID: {DataType: "String", StringValue: strPtr("local-envelope-1")},
				},
			},
		},
	}
}

func strPtr(s string) *string { return &s }
