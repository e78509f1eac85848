package reconcile

import (
	"context"
	"errors"
	"fmt"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/takato23/lookescolar-sub010/internal/aws"
	"github.com/takato23/lookescolar-sub010/internal/orders"
	"github.com/takato23/lookescolar-sub010/internal/payments"
)

// Apply modes, selected once at startup via ATOMIC_APPLY.
const (
	ApplyTransact   = "transact"
	ApplySequential = "sequential"
)

// errConflict signals the order-side conditional update lost a race. The
// engine reloads the order and decides whether the work is already done.
var errConflict = errors.New("apply conflict")

// Apply carries everything one reconciliation outcome writes: the payment
// record and the guarded order transition.
type Apply struct {
	Record              payments.Record
	OrderID             string
	ExpectedOrderStatus string
	NewOrderStatus      string
	Result              orders.GatewayResult

	// Refresh is set when the payment record already exists with a
	// non-terminal status and must be updated instead of inserted.
	Refresh bool
}

// Applier writes a reconciliation outcome. Two implementations: one atomic
// TransactWriteItems call, and a sequential fallback with a fixed write order
// (payment record first) that stays safe under crashes and retries.
type Applier interface {
	Apply(ctx context.Context, a Apply) error
}

// NewApplier selects the strategy by name.
func NewApplier(mode string, client aws.DynamoDBAPI, payStore *payments.Store, orderStore *orders.Store) (Applier, error) {
	switch mode {
	case ApplyTransact, "":
		return &TransactApplier{client: client, payments: payStore, orders: orderStore}, nil
	case ApplySequential:
		return &SequentialApplier{payments: payStore, orders: orderStore}, nil
	default:
		return nil, fmt.Errorf("unknown apply mode %q", mode)
	}
}

// TransactApplier writes both halves in one TransactWriteItems call.
type TransactApplier struct {
	client   aws.DynamoDBAPI
	payments *payments.Store
	orders   *orders.Store
}

func (t *TransactApplier) Apply(ctx context.Context, a Apply) error {
	var payItem types.TransactWriteItem
	if a.Refresh {
		payItem = t.payments.TransactRefresh(a.Record.GatewayPaymentID, a.Record.GatewayStatus, a.Record.InternalStatus)
	} else {
		var err error
		payItem, err = t.payments.TransactCreate(a.Record)
		if err != nil {
			return err
		}
	}
	orderItem := t.orders.TransactApplyGatewayResult(a.OrderID, a.ExpectedOrderStatus, a.NewOrderStatus, a.Result)

	_, err := t.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{payItem, orderItem},
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			// a concurrent delivery won one of the conditions
			return fmt.Errorf("transact apply: %w", errConflict)
		}
		return fmt.Errorf("transact apply: %w", err)
	}
	return nil
}

// SequentialApplier performs the two writes in a fixed order: payment record
// first, order update second. A crash between them leaves a record the
// engine's fast path recognizes on redelivery, re-attempting only the order
// half. Reordering these writes would break that guarantee.
type SequentialApplier struct {
	payments *payments.Store
	orders   *orders.Store
}

func (s *SequentialApplier) Apply(ctx context.Context, a Apply) error {
	if a.Refresh {
		if err := s.payments.RefreshStatus(ctx, a.Record.GatewayPaymentID, a.Record.GatewayStatus, a.Record.InternalStatus); err != nil {
			return err
		}
	} else {
		err := s.payments.CreateIfNotExists(ctx, a.Record)
		if err != nil && !errors.Is(err, payments.ErrAlreadyExists) {
			return err
		}
		// ErrAlreadyExists: a concurrent delivery inserted the record; the
		// order update below is idempotent, so keep going.
	}

	if err := s.orders.ApplyGatewayResult(ctx, a.OrderID, a.ExpectedOrderStatus, a.NewOrderStatus, a.Result); err != nil {
		if errors.Is(err, orders.ErrStatusMismatch) {
			return fmt.Errorf("sequential apply: %w", errConflict)
		}
		return err
	}
	return nil
}
