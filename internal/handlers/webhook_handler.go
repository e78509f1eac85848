package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/takato23/lookescolar-sub010/internal/apperr"
	"github.com/takato23/lookescolar-sub010/internal/reconcile"
	"github.com/takato23/lookescolar-sub010/internal/webhook"
)

const (
	defaultWebhookBudget = 3 * time.Second
	maxWebhookBody       = 1 << 20

	// share of the budget spent on synchronous work before deferring to the queue
	softBudgetRatio = 0.8
)

// webhookHandler acknowledges gateway notifications inside the gateway's
// response-time budget. Signature failures are the only 401; unparseable
// bodies the only 400. Everything else answers 200 so the gateway stops
// redelivering, with reconciliation retried internally through the queue.
func webhookHandler(cfg HandlerConfig) gin.HandlerFunc {
	budget := cfg.WebhookBudget
	if budget <= 0 {
		budget = defaultWebhookBudget
	}
	soft := time.Duration(float64(budget) * softBudgetRatio)

	return func(c *gin.Context) {
		start := time.Now()

		raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable_body"})
			return
		}

		if err := cfg.Verifier.Verify(raw, c.GetHeader("X-Signature")); err != nil {
			// no side effects past this point for unauthenticated senders
			c.JSON(http.StatusUnauthorized, gin.H{"error": apperr.Kind(err)})
			return
		}

		env, err := webhook.ParseEnvelope(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed_notification"})
			return
		}

		requestID := c.GetHeader("X-Request-Id")
		paymentID := env.PaymentID()
		if paymentID == "" {
			// low-value event; acknowledging beats a retry storm
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			auditLog(requestID, "", "no payment id", raw)
			return
		}

		// Synchronous reconciliation gets what is left of the soft budget;
		// past that the work moves to the retry queue and the gateway gets
		// its 200 on time.
		remaining := soft - time.Since(start)
		if remaining <= 0 {
			deferToQueue(c, cfg, paymentID, requestID, raw, nil)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), remaining)
		res, err := cfg.Engine.Reconcile(ctx, paymentID, string(raw))
		cancel()

		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{"status": "ok", "message": res.Message})
			auditLog(requestID, paymentID, res.Message, raw)

		case apperr.Retryable(err):
			deferToQueue(c, cfg, paymentID, requestID, raw, err)

		default:
			// terminal: internal retries cannot fix this notification, so
			// acknowledge to stop redelivery and page instead
			log.Printf("[webhook] terminal reconcile failure payment=%s: %v", paymentID, err)
			cfg.Alerter.ReconciliationExhausted(c.Request.Context(), paymentID)
			c.JSON(http.StatusOK, gin.H{"status": "failed_terminal"})
			auditLog(requestID, paymentID, "terminal: "+err.Error(), raw)
		}
	}
}

// deferToQueue hands the payment to the retry worker. Only when even the
// enqueue fails does the gateway see a 5xx and redeliver.
func deferToQueue(c *gin.Context, cfg HandlerConfig, paymentID, requestID string, raw []byte, cause error) {
	task := reconcile.Task{
		GatewayPaymentID: paymentID,
		Attempt:          1,
		CorrelationID:    requestID,
	}
	body, _ := json.Marshal(task)

	err := cfg.Publisher.SendReconcileMessage(c.Request.Context(), string(body), 0, map[string]string{
		"gateway_payment_id": paymentID,
		"correlation_id":     requestID,
	})
	if err != nil {
		log.Printf("[webhook] enqueue payment=%s: %v (cause: %v)", paymentID, err, cause)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reconciliation_deferred_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "queued"})
	auditLog(requestID, paymentID, "queued for retry", raw)
}

// auditLog runs after the response is written so it never eats into the
// acknowledgement budget.
func auditLog(requestID, paymentID, outcome string, raw []byte) {
	log.Printf("[webhook] audit request_id=%s payment=%s outcome=%q payload=%s",
		requestID, paymentID, outcome, string(raw))
}
