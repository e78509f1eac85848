package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/takato23/lookescolar-sub010/internal/apperr"
	"github.com/takato23/lookescolar-sub010/internal/gateway"
	"github.com/takato23/lookescolar-sub010/internal/orders"
	"github.com/takato23/lookescolar-sub010/internal/payments"
)

// Result summarizes one reconciliation invocation.
type Result struct {
	OrderID          string
	AlreadyProcessed bool
	OldStatus        string
	NewStatus        string
	Message          string
}

// Engine resolves a gateway payment notification into exactly one payment
// record and one net order transition, no matter how many times or in what
// order notifications arrive.
type Engine struct {
	gateway  gateway.PaymentAPI
	payments *payments.Store
	orders   *orders.Store
	applier  Applier
}

// NewEngine wires the reconciliation engine.
func NewEngine(gw gateway.PaymentAPI, payStore *payments.Store, orderStore *orders.Store, applier Applier) *Engine {
	return &Engine{
		gateway:  gw,
		payments: payStore,
		orders:   orderStore,
		applier:  applier,
	}
}

// Reconcile processes one gateway payment id. rawPayload is the webhook body
// kept on the payment record for audit; it may be empty when the trigger is a
// retry rather than a fresh notification.
//
// The fast path comes first and costs one read: a payment record with a
// terminal status means the money question is settled, and the only remaining
// work is healing an order that a crash left behind the record.
func (e *Engine) Reconcile(ctx context.Context, gatewayPaymentID, rawPayload string) (*Result, error) {
	rec, err := e.payments.Get(ctx, gatewayPaymentID)
	if err != nil {
		return nil, fmt.Errorf("idempotency check: %w", err)
	}
	if rec != nil && Terminal(rec.InternalStatus) {
		return e.healOrder(ctx, rec)
	}

	// Fetch the authoritative state from the gateway. The payload-embedded
	// status is never trusted for the final decision.
	pay, err := e.gateway.GetPayment(ctx, gatewayPaymentID)
	if err != nil {
		return nil, fmt.Errorf("fetch payment %s: %w", gatewayPaymentID, err)
	}
	if pay.ExternalReference == "" {
		return nil, fmt.Errorf("payment %s has no external reference: %w", gatewayPaymentID, apperr.ErrOrderNotFound)
	}

	ord, err := e.orders.Get(ctx, pay.ExternalReference)
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	if ord == nil {
		// A payment notification must never fabricate an order.
		return nil, fmt.Errorf("order %s: %w", pay.ExternalReference, apperr.ErrOrderNotFound)
	}

	// Secondary idempotency check: a concurrent invocation may have applied
	// this exact outcome between the record lookup and here.
	if ord.GatewayPaymentID == gatewayPaymentID && ord.GatewayStatus == pay.Status {
		return alreadyProcessed(ord), nil
	}

	if pay.AmountCents != ord.TotalCents {
		log.Printf("[reconcile] amount mismatch order=%s payment=%s order_total=%d paid=%d",
			ord.OrderID, gatewayPaymentID, ord.TotalCents, pay.AmountCents)
	}

	internal := MapStatus(pay.Status)

	if ord.Status != orders.StatusPending {
		// The order already left the payment flow (approved, delivered or
		// failed). The lifecycle never moves it from here on a notification,
		// but the payment record still has to reflect what the gateway said.
		return e.recordOnly(ctx, rec, ord, pay, internal)
	}

	apply := Apply{
		Record: payments.Record{
			GatewayPaymentID: gatewayPaymentID,
			OrderID:          ord.OrderID,
			GatewayStatus:    pay.Status,
			InternalStatus:   internal,
			AmountCents:      pay.AmountCents,
			RawPayload:       rawPayload,
		},
		OrderID:             ord.OrderID,
		ExpectedOrderStatus: orders.StatusPending,
		NewOrderStatus:      internal, // pending stays pending, fields still stamped
		Result: orders.GatewayResult{
			PaymentID:    gatewayPaymentID,
			Status:       pay.Status,
			StatusDetail: pay.StatusDetail,
		},
		Refresh: rec != nil,
	}

	if err := e.applier.Apply(ctx, apply); err != nil {
		if errors.Is(err, errConflict) {
			return e.resolveConflict(ctx, ord.OrderID, gatewayPaymentID, err)
		}
		return nil, err
	}

	if Terminal(internal) {
		e.releaseGuard(ctx, ord)
	}

	return &Result{
		OrderID:   ord.OrderID,
		OldStatus: ord.Status,
		NewStatus: internal,
		Message:   fmt.Sprintf("%s -> %s", ord.Status, internal),
	}, nil
}

// healOrder finishes the sequential strategy's crash window: the payment
// record exists with a terminal status but the order may not reflect it yet.
func (e *Engine) healOrder(ctx context.Context, rec *payments.Record) (*Result, error) {
	ord, err := e.orders.Get(ctx, rec.OrderID)
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	if ord == nil {
		return nil, fmt.Errorf("order %s: %w", rec.OrderID, apperr.ErrOrderNotFound)
	}
	if ord.GatewayPaymentID == rec.GatewayPaymentID {
		return alreadyProcessed(ord), nil
	}
	if ord.Status != orders.StatusPending {
		// someone else moved the order; the record stands on its own
		return alreadyProcessed(ord), nil
	}

	res := orders.GatewayResult{
		PaymentID: rec.GatewayPaymentID,
		Status:    rec.GatewayStatus,
	}
	if err := e.orders.ApplyGatewayResult(ctx, ord.OrderID, orders.StatusPending, rec.InternalStatus, res); err != nil {
		if errors.Is(err, orders.ErrStatusMismatch) {
			return e.resolveConflict(ctx, ord.OrderID, rec.GatewayPaymentID, err)
		}
		return nil, err
	}
	e.releaseGuard(ctx, ord)

	return &Result{
		OrderID:   ord.OrderID,
		OldStatus: ord.Status,
		NewStatus: rec.InternalStatus,
		Message:   fmt.Sprintf("%s -> %s (recovered)", ord.Status, rec.InternalStatus),
	}, nil
}

// recordOnly persists or refreshes the payment record without touching an
// order that is no longer pending.
func (e *Engine) recordOnly(ctx context.Context, rec *payments.Record, ord *orders.Order, pay *gateway.Payment, internal string) (*Result, error) {
	if rec == nil {
		err := e.payments.CreateIfNotExists(ctx, payments.Record{
			GatewayPaymentID: pay.ID,
			OrderID:          ord.OrderID,
			GatewayStatus:    pay.Status,
			InternalStatus:   internal,
			AmountCents:      pay.AmountCents,
		})
		if err != nil && !errors.Is(err, payments.ErrAlreadyExists) {
			return nil, err
		}
	} else if rec.GatewayStatus != pay.Status {
		if err := e.payments.RefreshStatus(ctx, pay.ID, pay.Status, internal); err != nil {
			return nil, err
		}
	}

	log.Printf("[reconcile] order=%s status=%s retained, payment=%s gateway_status=%s recorded",
		ord.OrderID, ord.Status, pay.ID, pay.Status)
	return &Result{
		OrderID:   ord.OrderID,
		OldStatus: ord.Status,
		NewStatus: ord.Status,
		Message:   fmt.Sprintf("%s retained (payment %s %s recorded)", ord.Status, pay.ID, pay.Status),
	}, nil
}

// resolveConflict decides whether a lost conditional write means the work is
// already done. If the order now carries the payment id, a concurrent
// invocation finished first and this one succeeds as a no-op.
func (e *Engine) resolveConflict(ctx context.Context, orderID, gatewayPaymentID string, cause error) (*Result, error) {
	ord, err := e.orders.Get(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("reload after conflict: %w", err)
	}
	if ord != nil && ord.GatewayPaymentID == gatewayPaymentID {
		return alreadyProcessed(ord), nil
	}
	return nil, fmt.Errorf("order %s changed under reconciliation: %w", orderID, cause)
}

// releaseGuard frees the token's pending slot after a terminal transition.
// Best-effort: a stale guard is healed on the next order creation.
func (e *Engine) releaseGuard(ctx context.Context, ord *orders.Order) {
	if ord.Token == "" {
		return
	}
	if err := e.orders.ReleasePending(ctx, ord.Token); err != nil {
		log.Printf("[reconcile] release pending guard token=%s: %v", ord.Token, err)
	}
}

func alreadyProcessed(ord *orders.Order) *Result {
	return &Result{
		OrderID:          ord.OrderID,
		AlreadyProcessed: true,
		OldStatus:        ord.Status,
		NewStatus:        ord.Status,
		Message:          fmt.Sprintf("%s (already processed)", ord.Status),
	}
}
