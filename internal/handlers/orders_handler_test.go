package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/gin-gonic/gin"

	"github.com/takato23/lookescolar-sub010/internal/awstest"
	"github.com/takato23/lookescolar-sub010/internal/catalog"
	"github.com/takato23/lookescolar-sub010/internal/gateway"
	"github.com/takato23/lookescolar-sub010/internal/metrics"
	"github.com/takato23/lookescolar-sub010/internal/orders"
	"github.com/takato23/lookescolar-sub010/internal/payments"
	"github.com/takato23/lookescolar-sub010/internal/reconcile"
	"github.com/takato23/lookescolar-sub010/internal/webhook"

	internalaws "github.com/takato23/lookescolar-sub010/internal/aws"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	galleriesTable  = "galleries-table"
	priceListsTable = "price-lists-table"
	ordersTable     = "orders-table"
	paymentsTable   = "payments-table"

	webhookSecret = "test-secret"
)

// gatewayStub stands in for the payment processor's REST API.
type gatewayStub struct {
	mu         sync.Mutex
	prefStatus int // non-zero forces preference creation to fail with this code
	prefID     string
	payments   map[string]string // payment id -> raw response JSON
}

func (g *gatewayStub) addPayment(id, status, externalRef string, amount float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.payments == nil {
		g.payments = map[string]string{}
	}
	g.payments[id] = fmt.Sprintf(
		`{"id":%s,"status":%q,"status_detail":"detail","external_reference":%q,"transaction_amount":%v,"currency_id":"ARS"}`,
		id, status, externalRef, amount)
}

func (g *gatewayStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/checkout/preferences":
		if g.prefStatus != 0 {
			w.WriteHeader(g.prefStatus)
			return
		}
		fmt.Fprintf(w, `{"id":%q,"init_point":"https://pay.example/init/%s"}`, g.prefID, g.prefID)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1/payments/"):
		raw, ok := g.payments[strings.TrimPrefix(r.URL.Path, "/v1/payments/")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, raw)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type env struct {
	router   *gin.Engine
	dynamo   *awstest.DynamoFake
	sqs      *awstest.SQSFake
	cw       *awstest.CloudWatchFake
	orders   *orders.Store
	payments *payments.Store
	verifier *webhook.Verifier
	stub     *gatewayStub
}

// newEnv wires the full route stack against in-memory fakes and one seeded
// gallery (tok-1 -> event-1) with a two-item price list.
func newEnv(t *testing.T) *env {
	t.Helper()

	fake := awstest.NewDynamoFake().
		AddTable(galleriesTable, "token").
		AddTable(priceListsTable, "event_id").
		AddTable(ordersTable, "order_id").
		AddTable(paymentsTable, "gateway_payment_id")

	seedRow(t, fake, galleriesTable, catalog.Gallery{Token: "tok-1", EventID: "event-1", CreatedAt: time.Now()})
	seedRow(t, fake, priceListsTable, catalog.PriceList{
		EventID: "event-1",
		Items: []catalog.Item{
			{ID: "pli-1", Label: "Print 10x15", UnitPriceCents: 1500, Currency: "ARS"},
			{ID: "pli-2", Label: "Digital pack", UnitPriceCents: 4000, Currency: "ARS"},
		},
		UpdatedAt: time.Now(),
	})

	stub := &gatewayStub{prefID: "pref-123"}
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)

	gw, err := gateway.NewClient(srv.URL, "test-token", srv.Client())
	if err != nil {
		t.Fatalf("gateway client: %v", err)
	}
	verifier, err := webhook.NewVerifier(webhookSecret)
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}

	orderStore := orders.NewStore(fake, ordersTable)
	payStore := payments.NewStore(fake, paymentsTable)
	applier, err := reconcile.NewApplier(reconcile.ApplyTransact, fake, payStore, orderStore)
	if err != nil {
		t.Fatalf("applier: %v", err)
	}

	sqsFake := &awstest.SQSFake{}
	cwFake := &awstest.CloudWatchFake{}

	router := gin.New()
	RegisterRoutes(router, HandlerConfig{
		Catalog:         catalog.NewStore(fake, galleriesTable, priceListsTable),
		Orders:          orderStore,
		Gateway:         gw,
		Engine:          reconcile.NewEngine(gw, payStore, orderStore, applier),
		Verifier:        verifier,
		Publisher:       internalaws.NewPublisher(sqsFake, "https://sqs.example/reconcile"),
		Alerter:         metrics.NewAlerter(cwFake),
		NotificationURL: "https://shop.example/webhooks/payments",
	})

	return &env{
		router:   router,
		dynamo:   fake,
		sqs:      sqsFake,
		cw:       cwFake,
		orders:   orderStore,
		payments: payStore,
		verifier: verifier,
		stub:     stub,
	}
}

func seedRow(t *testing.T, fake *awstest.DynamoFake, tableName string, v interface{}) {
	t.Helper()
	item, err := attributevalue.MarshalMap(v)
	if err != nil {
		t.Fatalf("marshal seed row: %v", err)
	}
	fake.Seed(tableName, item)
}

func (e *env) do(t *testing.T, method, path, body string, headers map[string]string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var parsed map[string]interface{}
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &parsed); err != nil {
			t.Fatalf("decode response %q: %v", w.Body.String(), err)
		}
	}
	return w, parsed
}

const validOrderBody = `{
	"token": "tok-1",
	"contactInfo": {"name": "Ana", "email": "ana@example.com"},
	"items": [{"photoId": "ph-1", "priceListItemId": "pli-1", "quantity": 2}]
}`

func TestCreateOrderComputesServerSideTotal(t *testing.T) {
	e := newEnv(t)

	w, body := e.do(t, http.MethodPost, "/orders", validOrderBody, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}

	orderID, _ := body["orderId"].(string)
	if orderID == "" {
		t.Fatal("missing orderId")
	}
	// the catalog prices the cart: 2 x 1500
	if got := body["totalCents"].(float64); got != 3000 {
		t.Fatalf("totalCents = %v", got)
	}
	if body["currency"] != "ARS" || body["preferenceId"] != "pref-123" {
		t.Fatalf("body = %v", body)
	}
	if loc := w.Header().Get("Location"); loc != "/orders/"+orderID {
		t.Fatalf("Location = %q", loc)
	}

	stored := e.dynamo.Raw(ordersTable, orderID)
	if st := stored["status"].(*types.AttributeValueMemberS).Value; st != orders.StatusPending {
		t.Fatalf("stored status = %q", st)
	}
	if e.dynamo.Raw(ordersTable, "pending#tok-1") == nil {
		t.Fatal("pending guard not claimed")
	}
}

func TestCreateOrderRejectsPriceMismatch(t *testing.T) {
	e := newEnv(t)

	body := `{
		"token": "tok-1",
		"contactInfo": {"name": "Ana", "email": "ana@example.com"},
		"items": [{"photoId": "ph-1", "priceListItemId": "pli-1", "quantity": 2, "unitPriceCents": 1400}]
	}`
	w, resp := e.do(t, http.MethodPost, "/orders", body, nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", w.Code)
	}
	if resp["error"] != "price_mismatch" {
		t.Fatalf("error = %v", resp["error"])
	}
	// rejected carts leave no trace
	if e.dynamo.Len(ordersTable) != 0 {
		t.Fatalf("orders table has %d rows", e.dynamo.Len(ordersTable))
	}
}

func TestCreateOrderAcceptsMatchingClaimedPrice(t *testing.T) {
	e := newEnv(t)

	body := `{
		"token": "tok-1",
		"contactInfo": {"name": "Ana", "email": "ana@example.com"},
		"items": [{"photoId": "ph-1", "priceListItemId": "pli-1", "quantity": 1, "unitPriceCents": 1500}]
	}`
	w, resp := e.do(t, http.MethodPost, "/orders", body, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	if got := resp["totalCents"].(float64); got != 1500 {
		t.Fatalf("totalCents = %v", got)
	}
}

func TestCreateOrderRejectsUnknownItem(t *testing.T) {
	e := newEnv(t)

	body := `{
		"token": "tok-1",
		"contactInfo": {"name": "Ana", "email": "ana@example.com"},
		"items": [{"photoId": "ph-1", "priceListItemId": "pli-x", "quantity": 1}]
	}`
	w, resp := e.do(t, http.MethodPost, "/orders", body, nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", w.Code)
	}
	if resp["error"] != "unknown_item" {
		t.Fatalf("error = %v", resp["error"])
	}
}

func TestCreateOrderUnknownToken(t *testing.T) {
	e := newEnv(t)

	body := strings.Replace(validOrderBody, "tok-1", "tok-nope", 1)
	w, resp := e.do(t, http.MethodPost, "/orders", body, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
	if resp["error"] != "token_not_found" {
		t.Fatalf("error = %v", resp["error"])
	}
}

func TestCreateOrderConflictsWithPendingDuplicate(t *testing.T) {
	e := newEnv(t)

	w, first := e.do(t, http.MethodPost, "/orders", validOrderBody, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("first order: %d", w.Code)
	}

	w, second := e.do(t, http.MethodPost, "/orders", validOrderBody, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("second order status = %d body=%s", w.Code, w.Body.String())
	}
	if second["error"] != "pending_order_exists" {
		t.Fatalf("error = %v", second["error"])
	}
	// the conflict names the holder so the shopper can resume it
	if second["orderId"] != first["orderId"] {
		t.Fatalf("conflicting orderId = %v, want %v", second["orderId"], first["orderId"])
	}
}

func TestCreateOrderReplacesStaleClaim(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	w, first := e.do(t, http.MethodPost, "/orders", validOrderBody, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("first order: %d", w.Code)
	}
	firstID := first["orderId"].(string)

	// the first attempt resolved; its guard is stale now
	if err := e.orders.UpdateStatus(ctx, firstID, orders.StatusPending, orders.StatusFailed); err != nil {
		t.Fatalf("fail first order: %v", err)
	}

	w, second := e.do(t, http.MethodPost, "/orders", validOrderBody, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("second order status = %d body=%s", w.Code, w.Body.String())
	}

	guard := e.dynamo.Raw(ordersTable, "pending#tok-1")
	if got := guard["claimed_by"].(*types.AttributeValueMemberS).Value; got != second["orderId"] {
		t.Fatalf("guard claimed_by = %q, want %v", got, second["orderId"])
	}
}

func TestCreateOrderGatewayRejectionFailsOrder(t *testing.T) {
	e := newEnv(t)
	e.stub.prefStatus = http.StatusBadRequest

	w, resp := e.do(t, http.MethodPost, "/orders", validOrderBody, nil)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", w.Code)
	}
	if resp["error"] != "payment_unavailable" {
		t.Fatalf("error = %v", resp["error"])
	}

	// the order exists but can never be paid; it must be failed and the
	// token's slot freed for the next attempt
	keys := e.dynamo.Keys(ordersTable)
	if len(keys) != 1 {
		t.Fatalf("orders table keys = %v, want only the failed order", keys)
	}
	ord, err := e.orders.Get(context.Background(), keys[0])
	if err != nil || ord == nil {
		t.Fatalf("load failed order: (%v, %v)", ord, err)
	}
	if ord.Status != orders.StatusFailed {
		t.Fatalf("order %s status = %q", ord.OrderID, ord.Status)
	}
	if e.dynamo.Raw(ordersTable, "pending#tok-1") != nil {
		t.Fatal("pending guard not released after gateway rejection")
	}
}

func TestCreateOrderValidationErrors(t *testing.T) {
	e := newEnv(t)

	cases := []struct {
		name string
		body string
	}{
		{"missing token", `{"contactInfo":{"name":"Ana","email":"ana@example.com"},"items":[{"photoId":"ph-1","priceListItemId":"pli-1","quantity":1}]}`},
		{"bad email", `{"token":"tok-1","contactInfo":{"name":"Ana","email":"nope"},"items":[{"photoId":"ph-1","priceListItemId":"pli-1","quantity":1}]}`},
		{"empty items", `{"token":"tok-1","contactInfo":{"name":"Ana","email":"ana@example.com"},"items":[]}`},
		{"zero quantity", `{"token":"tok-1","contactInfo":{"name":"Ana","email":"ana@example.com"},"items":[{"photoId":"ph-1","priceListItemId":"pli-1","quantity":0}]}`},
		{"duplicate line", `{"token":"tok-1","contactInfo":{"name":"Ana","email":"ana@example.com"},"items":[
			{"photoId":"ph-1","priceListItemId":"pli-1","quantity":1},
			{"photoId":"ph-1","priceListItemId":"pli-1","quantity":2}]}`},
		{"not json", `{`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, _ := e.do(t, http.MethodPost, "/orders", tc.body, nil)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
			}
		})
	}
	if e.dynamo.Len(ordersTable) != 0 {
		t.Fatalf("invalid requests wrote %d rows", e.dynamo.Len(ordersTable))
	}
}

func TestGetOrder(t *testing.T) {
	e := newEnv(t)

	w, created := e.do(t, http.MethodPost, "/orders", validOrderBody, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d", w.Code)
	}
	orderID := created["orderId"].(string)

	w, got := e.do(t, http.MethodGet, "/orders/"+orderID, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	if got["orderId"] != orderID || got["status"] != orders.StatusPending {
		t.Fatalf("body = %v", got)
	}
	if got["totalCents"].(float64) != 3000 {
		t.Fatalf("totalCents = %v", got["totalCents"])
	}
	if _, leaked := got["token"]; leaked {
		t.Fatal("gallery token leaked in the order representation")
	}

	w, _ = e.do(t, http.MethodGet, "/orders/does-not-exist", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing order status = %d", w.Code)
	}

	// guard rows share the table but are not orders
	w, _ = e.do(t, http.MethodGet, "/orders/"+url.PathEscape("pending#tok-1"), "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("guard row status = %d", w.Code)
	}
}

func TestDeliverOrder(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	seed := func(id, status string) {
		t.Helper()
		if err := e.orders.Create(ctx, orders.Order{OrderID: id, Status: status, TotalCents: 100}); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}
	seed("order-approved", orders.StatusApproved)
	seed("order-pending", orders.StatusPending)

	w, resp := e.do(t, http.MethodPatch, "/orders/order-approved", `{"status":"delivered"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("deliver status = %d body=%s", w.Code, w.Body.String())
	}
	if resp["status"] != orders.StatusDelivered {
		t.Fatalf("body = %v", resp)
	}

	// delivered is terminal
	w, resp = e.do(t, http.MethodPatch, "/orders/order-approved", `{"status":"delivered"}`, nil)
	if w.Code != http.StatusUnprocessableEntity || resp["error"] != "invalid_transition" {
		t.Fatalf("redeliver: %d %v", w.Code, resp)
	}

	// only approved orders ship
	w, resp = e.do(t, http.MethodPatch, "/orders/order-pending", `{"status":"delivered"}`, nil)
	if w.Code != http.StatusUnprocessableEntity || resp["error"] != "invalid_transition" {
		t.Fatalf("deliver pending: %d %v", w.Code, resp)
	}

	w, _ = e.do(t, http.MethodPatch, "/orders/order-ghost", `{"status":"delivered"}`, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("deliver missing: %d", w.Code)
	}

	// the only status this endpoint accepts is delivered
	w, _ = e.do(t, http.MethodPatch, "/orders/order-approved", `{"status":"shipped"}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bogus status: %d", w.Code)
	}
}
