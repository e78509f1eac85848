package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/takato23/lookescolar-sub010/internal/orders"
	"github.com/takato23/lookescolar-sub010/internal/reconcile"
)

func (e *env) postWebhook(t *testing.T, body string, headers map[string]string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	if headers == nil {
		headers = map[string]string{}
	}
	if _, ok := headers["X-Signature"]; !ok {
		headers["X-Signature"] = e.verifier.Sign([]byte(body))
	}
	return e.do(t, http.MethodPost, "/webhooks/payments", body, headers)
}

func (e *env) seedPendingOrder(t *testing.T, orderID string) {
	t.Helper()
	err := e.orders.Create(context.Background(), orders.Order{
		OrderID:    orderID,
		Token:      "tok-1",
		EventID:    "event-1",
		Status:     orders.StatusPending,
		TotalCents: 3000,
		Currency:   "ARS",
	})
	if err != nil {
		t.Fatalf("seed order: %v", err)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	e := newEnv(t)
	body := `{"type":"payment","data":{"id":555}}`

	w, resp := e.postWebhook(t, body, map[string]string{"X-Signature": "v1=" + strings.Repeat("ab", 32)})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", w.Code)
	}
	if resp["error"] != "invalid_signature" {
		t.Fatalf("error = %v", resp["error"])
	}
	// unauthenticated senders cause no side effects
	if e.dynamo.Len(paymentsTable) != 0 || len(e.sqs.Sent()) != 0 {
		t.Fatal("unauthenticated notification left side effects")
	}
}

func TestWebhookRejectsMissingSignature(t *testing.T) {
	e := newEnv(t)

	w, _ := e.do(t, http.MethodPost, "/webhooks/payments", `{"type":"payment","data":{"id":555}}`, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestWebhookRejectsMalformedBody(t *testing.T) {
	e := newEnv(t)

	// properly signed, still not a notification
	w, resp := e.postWebhook(t, `{"type":`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if resp["error"] != "malformed_notification" {
		t.Fatalf("error = %v", resp["error"])
	}
}

func TestWebhookAcknowledgesEventsWithoutPaymentID(t *testing.T) {
	e := newEnv(t)

	w, resp := e.postWebhook(t, `{"type":"test"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if resp["status"] != "ignored" {
		t.Fatalf("status field = %v", resp["status"])
	}
}

func TestWebhookReconcilesApprovedPayment(t *testing.T) {
	e := newEnv(t)
	e.seedPendingOrder(t, "order-wh-1")
	e.stub.addPayment("555", "approved", "order-wh-1", 30.00)

	w, resp := e.postWebhook(t, `{"type":"payment","action":"payment.updated","data":{"id":555}}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	if resp["status"] != "ok" {
		t.Fatalf("status field = %v", resp["status"])
	}

	ord, err := e.orders.Get(context.Background(), "order-wh-1")
	if err != nil || ord == nil {
		t.Fatalf("load order: (%v, %v)", ord, err)
	}
	if ord.Status != orders.StatusApproved || ord.GatewayPaymentID != "555" {
		t.Fatalf("order = %+v", ord)
	}
	if e.dynamo.Len(paymentsTable) != 1 {
		t.Fatalf("payment records = %d", e.dynamo.Len(paymentsTable))
	}
}

func TestWebhookDuplicateDeliveryStaysAcknowledged(t *testing.T) {
	e := newEnv(t)
	e.seedPendingOrder(t, "order-wh-2")
	e.stub.addPayment("556", "approved", "order-wh-2", 30.00)

	body := `{"type":"payment","data":{"id":556}}`
	for i := 0; i < 3; i++ {
		w, resp := e.postWebhook(t, body, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("delivery %d: status = %d", i+1, w.Code)
		}
		if resp["status"] != "ok" {
			t.Fatalf("delivery %d: status field = %v", i+1, resp["status"])
		}
	}
	if e.dynamo.Len(paymentsTable) != 1 {
		t.Fatalf("payment records = %d, want exactly 1", e.dynamo.Len(paymentsTable))
	}
}

func TestWebhookQueuesRetryableFailures(t *testing.T) {
	e := newEnv(t)
	// the payment references an order this service has not seen yet (read lag)
	e.stub.addPayment("777", "approved", "order-ghost", 30.00)

	w, resp := e.postWebhook(t, `{"type":"payment","data":{"id":777}}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	if resp["status"] != "queued" {
		t.Fatalf("status field = %v", resp["status"])
	}

	sent := e.sqs.Sent()
	if len(sent) != 1 {
		t.Fatalf("queued messages = %d", len(sent))
	}
	var task reconcile.Task
	if err := json.Unmarshal([]byte(sent[0].Body), &task); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	if task.GatewayPaymentID != "777" || task.Attempt != 1 {
		t.Fatalf("task = %+v", task)
	}
}

func TestWebhookEnqueueFailureMakesGatewayRedeliver(t *testing.T) {
	e := newEnv(t)
	e.stub.addPayment("778", "approved", "order-ghost", 30.00)
	e.sqs.FailNext = errors.New("sqs down")

	w, resp := e.postWebhook(t, `{"type":"payment","data":{"id":778}}`, nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	if resp["error"] != "reconciliation_deferred_failed" {
		t.Fatalf("error = %v", resp["error"])
	}
}

func TestWebhookTerminalFailureAcknowledgesAndAlerts(t *testing.T) {
	e := newEnv(t)
	// no such payment at the gateway: a 404 there is not retryable

	w, resp := e.postWebhook(t, `{"type":"payment","data":{"id":888}}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if resp["status"] != "failed_terminal" {
		t.Fatalf("status field = %v", resp["status"])
	}
	if got := e.cw.Count("ReconciliationExhausted"); got != 1 {
		t.Fatalf("ReconciliationExhausted count = %d", got)
	}
	if len(e.sqs.Sent()) != 0 {
		t.Fatal("terminal failure must not be queued")
	}
}
