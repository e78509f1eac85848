package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"

	internalaws "github.com/takato23/lookescolar-sub010/internal/aws"
	"github.com/takato23/lookescolar-sub010/internal/catalog"
	"github.com/takato23/lookescolar-sub010/internal/gateway"
	"github.com/takato23/lookescolar-sub010/internal/handlers"
	"github.com/takato23/lookescolar-sub010/internal/metrics"
	"github.com/takato23/lookescolar-sub010/internal/orders"
	"github.com/takato23/lookescolar-sub010/internal/payments"
	"github.com/takato23/lookescolar-sub010/internal/reconcile"
	"github.com/takato23/lookescolar-sub010/internal/webhook"
)

func setupRouter(cfg handlers.HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handlers.RegisterRoutes(r, cfg)

	return r
}

func main() {
	clients, err := internalaws.NewAWSClients(context.Background())
	if err != nil {
		log.Fatalf("failed to init aws clients: %v", err)
	}

	// missing gateway credentials must kill the process here, not fail requests
	gw, err := gateway.NewClient(
		envOr("PAYMENT_GATEWAY_URL", "https://api.mercadopago.com"),
		os.Getenv("PAYMENT_GATEWAY_TOKEN"),
		&http.Client{Timeout: 10 * time.Second},
	)
	if err != nil {
		log.Fatalf("payment gateway client: %v", err)
	}

	verifier, err := webhook.NewVerifier(os.Getenv("WEBHOOK_SECRET"))
	if err != nil {
		log.Fatalf("webhook verifier: %v", err)
	}

	orderStore := orders.NewStore(clients.DynamoDB, os.Getenv("ORDERS_TABLE"))
	payStore := payments.NewStore(clients.DynamoDB, os.Getenv("PAYMENTS_TABLE"))
	catalogStore := catalog.NewStore(clients.DynamoDB, os.Getenv("GALLERIES_TABLE"), os.Getenv("PRICE_LISTS_TABLE"))

	applier, err := reconcile.NewApplier(os.Getenv("ATOMIC_APPLY"), clients.DynamoDB, payStore, orderStore)
	if err != nil {
		log.Fatalf("apply strategy: %v", err)
	}

	cfg := handlers.HandlerConfig{
		Catalog:         catalogStore,
		Orders:          orderStore,
		Gateway:         gw,
		Engine:          reconcile.NewEngine(gw, payStore, orderStore, applier),
		Verifier:        verifier,
		Publisher:       internalaws.NewPublisher(clients.SQS, os.Getenv("RECONCILE_QUEUE_URL")),
		Alerter:         metrics.NewAlerter(clients.CloudWatch),
		NotificationURL: os.Getenv("WEBHOOK_NOTIFICATION_URL"),
		WebhookBudget:   3 * time.Second,
	}

	r := setupRouter(cfg)

	// RUN_LOCAL=true serves plain HTTP for development.
	if os.Getenv("RUN_LOCAL") == "true" {
		addr := ":8080"
		log.Printf("running local server on %s", addr)
		if err := r.Run(addr); err != nil {
			log.Fatalf("failed to run local server: %v", err)
		}
		return
	}

	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (interface{}, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
