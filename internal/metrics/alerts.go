package metrics

import (
	"context"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/takato23/lookescolar-sub010/internal/aws"
)

// Namespace groups the settlement pipeline's operational metrics.
const Namespace = "LookEscolar/Settlement"

// Alerter publishes the conditions operators page on. Failures to publish are
// logged, never propagated: alerting must not make reconciliation worse.
type Alerter struct {
	client  aws.CloudWatchAPI
	nowFunc func() time.Time
}

// NewAlerter returns an Alerter. A nil client disables publishing (local runs).
func NewAlerter(client aws.CloudWatchAPI) *Alerter {
	return &Alerter{client: client, nowFunc: time.Now}
}

// ReconciliationExhausted records that a payment's reconciliation hit the
// retry ceiling: money may have moved without the order reflecting it, which
// needs a human.
func (a *Alerter) ReconciliationExhausted(ctx context.Context, gatewayPaymentID string) {
	a.put(ctx, "ReconciliationExhausted", gatewayPaymentID)
}

func (a *Alerter) put(ctx context.Context, name, gatewayPaymentID string) {
	if a.client == nil {
		log.Printf("[metrics] %s payment=%s (publishing disabled)", name, gatewayPaymentID)
		return
	}

	ts := a.nowFunc()
	_, err := a.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: strPtr(Namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: &name,
				Timestamp:  &ts,
				Value:      f64Ptr(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{Name: strPtr("GatewayPaymentId"), Value: &gatewayPaymentID},
				},
			},
		},
	})
	if err != nil {
		log.Printf("[metrics] put %s: %v", name, err)
	}
}

func strPtr(s string) *string  { return &s }
func f64Ptr(f float64) *float64 { return &f }
