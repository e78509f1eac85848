package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/takato23/lookescolar-sub010/internal/aws"
)

// ErrStatusMismatch indicates a conditional status update failed because the
// order was not in the expected state. Callers reload and decide.
var ErrStatusMismatch = errors.New("status mismatch/conditional failed")

// pendingGuardPrefix namespaces the per-token guard rows that live in the
// orders table alongside real orders.
const pendingGuardPrefix = "pending#"

// Store encapsulates operations on the orders table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// TableName exposes the bound table for cross-table transactions.
func (s *Store) TableName() string { return s.tableName }

// Create persists a new order (header + embedded items) in one conditional
// write. The condition guards against order id collisions, not duplicates of
// business intent; the pending guard handles those.
func (s *Store) Create(ctx context.Context, order Order) error {
	now := s.nowFunc()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now

	item, err := attributevalue.MarshalMap(order)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(order_id)"),
	})
	if err != nil {
		return fmt.Errorf("put order: %w", err)
	}
	return nil
}

// Get fetches an order by order_id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// ClaimPending reserves the one-pending-order-per-token slot. Returns
// (true, "", nil) when the claim succeeded. When another order already holds
// the slot it returns (false, existingOrderID, nil); the caller inspects that
// order and either rejects with a conflict or replaces a stale claim via
// ReplacePendingClaim.
func (s *Store) ClaimPending(ctx context.Context, token, orderID string) (bool, string, error) {
	guardID := pendingGuardPrefix + token
	now := s.nowFunc()

	_, err := s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName: &s.tableName,
		Item: map[string]types.AttributeValue{
			"order_id":   &types.AttributeValueMemberS{Value: guardID},
			"claimed_by": &types.AttributeValueMemberS{Value: orderID},
			"updated_at": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
		ConditionExpression: awsString("attribute_not_exists(order_id)"),
	})
	if err == nil {
		return true, "", nil
	}

	var ccf *types.ConditionalCheckFailedException
	if !errors.As(err, &ccf) {
		return false, "", fmt.Errorf("claim pending guard: %w", err)
	}

	out, gerr := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: guardID},
		},
	})
	if gerr != nil {
		return false, "", fmt.Errorf("read pending guard: %w", gerr)
	}
	existing := ""
	if v, ok := out.Item["claimed_by"].(*types.AttributeValueMemberS); ok {
		existing = v.Value
	}
	return false, existing, nil
}

// ReplacePendingClaim overwrites a stale guard (its order is no longer
// pending) with the new order id.
func (s *Store) ReplacePendingClaim(ctx context.Context, token, orderID string) error {
	now := s.nowFunc()
	_, err := s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName: &s.tableName,
		Item: map[string]types.AttributeValue{
			"order_id":   &types.AttributeValueMemberS{Value: pendingGuardPrefix + token},
			"claimed_by": &types.AttributeValueMemberS{Value: orderID},
			"updated_at": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
	})
	if err != nil {
		return fmt.Errorf("replace pending guard: %w", err)
	}
	return nil
}

// ReleasePending frees the token's pending slot. Best-effort: reconciliation
// calls this after a terminal transition and ignores the error (a stale guard
// is also healed on the next ClaimPending).
func (s *Store) ReleasePending(ctx context.Context, token string) error {
	_, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: pendingGuardPrefix + token},
		},
	})
	if err != nil {
		return fmt.Errorf("release pending guard: %w", err)
	}
	return nil
}

// SetPreference stamps the gateway preference id after checkout creation.
func (s *Store) SetPreference(ctx context.Context, orderID, preferenceID string) error {
	now := s.nowFunc()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		UpdateExpression: awsString("SET preference_id = :p, updated_at = :ua"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":p":  &types.AttributeValueMemberS{Value: preferenceID},
			":ua": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
		ConditionExpression: awsString("attribute_exists(order_id)"),
	})
	if err != nil {
		return fmt.Errorf("set preference: %w", err)
	}
	return nil
}

// UpdateStatus conditionally moves the order from expectedStatus to newStatus.
// Returns ErrStatusMismatch when the order was not in the expected state.
func (s *Store) UpdateStatus(ctx context.Context, orderID, expectedStatus, newStatus string) error {
	expr := s.statusUpdate(newStatus, expectedStatus, nil)
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		UpdateExpression:          expr.update,
		ExpressionAttributeNames:  expr.names,
		ExpressionAttributeValues: expr.values,
		ConditionExpression:       expr.condition,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("update status: %w", err)
	}
	return nil
}

// ApplyGatewayResult moves the order from expectedStatus to newStatus and
// stamps the gateway payment fields in the same conditional update. This is
// the order-side half of reconciliation's atomic apply.
func (s *Store) ApplyGatewayResult(ctx context.Context, orderID, expectedStatus, newStatus string, res GatewayResult) error {
	expr := s.statusUpdate(newStatus, expectedStatus, &res)
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		UpdateExpression:          expr.update,
		ExpressionAttributeNames:  expr.names,
		ExpressionAttributeValues: expr.values,
		ConditionExpression:       expr.condition,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("apply gateway result: %w", err)
	}
	return nil
}

// TransactApplyGatewayResult returns the same update as ApplyGatewayResult
// shaped as a TransactWriteItem, for the transactional apply strategy.
func (s *Store) TransactApplyGatewayResult(orderID, expectedStatus, newStatus string, res GatewayResult) types.TransactWriteItem {
	expr := s.statusUpdate(newStatus, expectedStatus, &res)
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName: &s.tableName,
			Key: map[string]types.AttributeValue{
				"order_id": &types.AttributeValueMemberS{Value: orderID},
			},
			UpdateExpression:          expr.update,
			ExpressionAttributeNames:  expr.names,
			ExpressionAttributeValues: expr.values,
			ConditionExpression:       expr.condition,
		},
	}
}

type updateExpr struct {
	update    *string
	condition *string
	names     map[string]string
	values    map[string]types.AttributeValue
}

// statusUpdate builds the shared SET/condition pieces for a guarded status
// change, optionally stamping gateway fields and approved_at.
func (s *Store) statusUpdate(newStatus, expectedStatus string, res *GatewayResult) updateExpr {
	now := s.nowFunc()
	update := "SET #s = :new, updated_at = :ua"
	values := map[string]types.AttributeValue{
		":new":      &types.AttributeValueMemberS{Value: newStatus},
		":ua":       &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		":expected": &types.AttributeValueMemberS{Value: expectedStatus},
	}
	if res != nil {
		update += ", gateway_payment_id = :gp, gateway_status = :gs, gateway_status_detail = :gd"
		values[":gp"] = &types.AttributeValueMemberS{Value: res.PaymentID}
		values[":gs"] = &types.AttributeValueMemberS{Value: res.Status}
		values[":gd"] = &types.AttributeValueMemberS{Value: res.StatusDetail}
	}
	if newStatus == StatusApproved {
		update += ", approved_at = :aa"
		values[":aa"] = &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)}
	}
	return updateExpr{
		update:    &update,
		condition: awsString("#s = :expected"),
		names:     map[string]string{"#s": "status"},
		values:    values,
	}
}

func awsString(s string) *string { return &s }
