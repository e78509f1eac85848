package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	internalaws "github.com/takato23/lookescolar-sub010/internal/aws"
	"github.com/takato23/lookescolar-sub010/internal/gateway"
	"github.com/takato23/lookescolar-sub010/internal/metrics"
	"github.com/takato23/lookescolar-sub010/internal/orders"
	"github.com/takato23/lookescolar-sub010/internal/payments"
	"github.com/takato23/lookescolar-sub010/internal/reconcile"
)

func main() {
	clients, err := internalaws.NewAWSClients(context.Background())
	if err != nil {
		log.Fatalf("failed to init aws clients: %v", err)
	}

	gw, err := gateway.NewClient(
		envOr("PAYMENT_GATEWAY_URL", "https://api.mercadopago.com"),
		os.Getenv("PAYMENT_GATEWAY_TOKEN"),
		&http.Client{Timeout: 10 * time.Second},
	)
	if err != nil {
		log.Fatalf("payment gateway client: %v", err)
	}

	orderStore := orders.NewStore(clients.DynamoDB, os.Getenv("ORDERS_TABLE"))
	payStore := payments.NewStore(clients.DynamoDB, os.Getenv("PAYMENTS_TABLE"))

	applier, err := reconcile.NewApplier(os.Getenv("ATOMIC_APPLY"), clients.DynamoDB, payStore, orderStore)
	if err != nil {
		log.Fatalf("apply strategy: %v", err)
	}

	processor := NewProcessor(
		reconcile.NewEngine(gw, payStore, orderStore, applier),
		internalaws.NewPublisher(clients.SQS, os.Getenv("RECONCILE_QUEUE_URL")),
		metrics.NewAlerter(clients.CloudWatch),
	)

	// RUN_LOCAL=true simulates a single SQS delivery for development.
	if os.Getenv("RUN_LOCAL") == "true" {
		body := os.Getenv("LOCAL_SQS_BODY")
		if body == "" {
			body = `{"gateway_payment_id":"local-payment-1","attempt":1}`
		}
		ev := events.SQSEvent{Records: []events.SQSMessage{{Body: body}}}
		if err := processor.Handle(context.Background(), ev); err != nil {
			log.Fatalf("local handler error: %v", err)
		}
		return
	}

	lambda.Start(processor.Handle)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
