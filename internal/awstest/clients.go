package awstest

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// SentMessage captures one SQS send.
type SentMessage struct {
	Body         string
	DelaySeconds int32
}

// SQSFake records sent messages.
type SQSFake struct {
	mu       sync.Mutex
	Messages []SentMessage
	FailNext error
}

func (f *SQSFake) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.FailNext; err != nil {
		f.FailNext = nil
		return nil, err
	}
	f.Messages = append(f.Messages, SentMessage{
		Body:         *params.MessageBody,
		DelaySeconds: params.DelaySeconds,
	})
	return &sqs.SendMessageOutput{}, nil
}

// Sent returns a copy of the captured messages.
func (f *SQSFake) Sent() []SentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]SentMessage, len(f.Messages))
	copy(out, f.Messages)
	return out
}

// CloudWatchFake counts published metric datums by name.
type CloudWatchFake struct {
	mu     sync.Mutex
	Counts map[string]int
}

func (f *CloudWatchFake) PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Counts == nil {
		f.Counts = map[string]int{}
	}
	for _, d := range params.MetricData {
		f.Counts[*d.MetricName]++
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

// Count returns the captured count for a metric name.
func (f *CloudWatchFake) Count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Counts[name]
}
