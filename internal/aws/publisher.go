package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// maxSQSDelay is the hard SQS ceiling for DelaySeconds.
const maxSQSDelay = 900 * time.Second

// Publisher wraps an SQS client and the reconcile retry queue URL.
type Publisher struct {
	SQS      SQSAPI
	QueueURL string
}

// NewPublisher returns a Publisher bound to a queue URL.
func NewPublisher(sqsClient SQSAPI, queueURL string) *Publisher {
	return &Publisher{
		SQS:      sqsClient,
		QueueURL: queueURL,
	}
}

// SendReconcileMessage enqueues a reconciliation task. messageBody should be a
// JSON string. delay postpones delivery (used as the backoff between retry
// attempts); it is clamped to the SQS maximum. attributes are attached as
// string MessageAttributes.
func (p *Publisher) SendReconcileMessage(ctx context.Context, messageBody string, delay time.Duration, attributes map[string]string) error {
	if delay < 0 {
		delay = 0
	}
	if delay > maxSQSDelay {
		delay = maxSQSDelay
	}

	input := &sqs.SendMessageInput{
		QueueUrl:     &p.QueueURL,
		MessageBody:  &messageBody,
		DelaySeconds: int32(delay / time.Second),
	}
	if len(attributes) > 0 {
		msgAttrs := map[string]sqstypes.MessageAttributeValue{}
		for k, v := range attributes {
			msgAttrs[k] = sqstypes.MessageAttributeValue{
				DataType:    awsString("String"),
				StringValue: &v,
			}
		}
		input.MessageAttributes = msgAttrs
	}

	_, err := p.SQS.SendMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func awsString(s string) *string { return &s }
