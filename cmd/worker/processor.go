package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"golang.org/x/sync/errgroup"

	"github.com/takato23/lookescolar-sub010/internal/apperr"
	internalaws "github.com/takato23/lookescolar-sub010/internal/aws"
	"github.com/takato23/lookescolar-sub010/internal/metrics"
	"github.com/takato23/lookescolar-sub010/internal/reconcile"
	"github.com/takato23/lookescolar-sub010/internal/retry"
)

// Reconciler is the part of the engine the worker drives.
type Reconciler interface {
	Reconcile(ctx context.Context, gatewayPaymentID, rawPayload string) (*reconcile.Result, error)
}

// Enqueuer re-schedules a task with a delay.
type Enqueuer interface {
	SendReconcileMessage(ctx context.Context, messageBody string, delay time.Duration, attributes map[string]string) error
}

// Processor drains the reconcile retry queue. Each message is one attempt;
// retryable failures go back on the queue with a backoff delay until the
// ceiling, then page via CloudWatch.
type Processor struct {
	engine    Reconciler
	publisher Enqueuer
	alerter   *metrics.Alerter
	backoff   retry.Policy
}

// NewProcessor wires a Processor.
func NewProcessor(engine Reconciler, publisher Enqueuer, alerter *metrics.Alerter) *Processor {
	return &Processor{
		engine:    engine,
		publisher: publisher,
		alerter:   alerter,
		backoff:   retry.Policy{Base: 5 * time.Second, Cap: 5 * time.Minute, MaxAttempts: reconcile.MaxAttempts},
	}
}

// Handle processes an SQS batch. Records are independent payments, so they
// run concurrently; any hard error fails the batch and SQS redelivers.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, rec := range ev.Records {
		rec := rec
		g.Go(func() error {
			return p.processMessage(ctx, rec)
		})
	}
	return g.Wait()
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var task reconcile.Task
	if err := json.Unmarshal([]byte(rec.Body), &task); err != nil {
		return fmt.Errorf("invalid task body: %w", err)
	}
	if task.Attempt < 1 {
		task.Attempt = 1
	}

	log.Printf("[worker] reconcile payment=%s attempt=%d corr=%s",
		task.GatewayPaymentID, task.Attempt, task.CorrelationID)

	res, err := p.engine.Reconcile(ctx, task.GatewayPaymentID, "")
	if err == nil {
		log.Printf("[worker] payment=%s %s", task.GatewayPaymentID, res.Message)
		return nil
	}

	if !apperr.Retryable(err) {
		log.Printf("[worker] terminal failure payment=%s attempt=%d: %v", task.GatewayPaymentID, task.Attempt, err)
		p.alerter.ReconciliationExhausted(ctx, task.GatewayPaymentID)
		return nil
	}

	if task.Attempt >= reconcile.MaxAttempts {
		// money may have moved without the order reflecting it
		log.Printf("[worker] retry ceiling hit payment=%s attempts=%d: %v", task.GatewayPaymentID, task.Attempt, err)
		p.alerter.ReconciliationExhausted(ctx, task.GatewayPaymentID)
		return nil
	}

	next := reconcile.Task{
		GatewayPaymentID: task.GatewayPaymentID,
		Attempt:          task.Attempt + 1,
		CorrelationID:    task.CorrelationID,
	}
	body, _ := json.Marshal(next)
	delay := p.backoff.Delay(task.Attempt - 1)

	if qerr := p.publisher.SendReconcileMessage(ctx, string(body), delay, map[string]string{
		"gateway_payment_id": task.GatewayPaymentID,
		"correlation_id":     task.CorrelationID,
	}); qerr != nil {
		// keep the current message alive so SQS redelivers it
		return fmt.Errorf("re-enqueue payment=%s: %w (cause: %v)", task.GatewayPaymentID, qerr, err)
	}

	log.Printf("[worker] payment=%s attempt=%d failed, retry in %s: %v",
		task.GatewayPaymentID, task.Attempt, delay, err)
	return nil
}

var _ Enqueuer = (*internalaws.Publisher)(nil)
