package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/takato23/lookescolar-sub010/internal/aws"
)

// ErrAlreadyExists indicates the conditional insert lost to a record that is
// already there. For reconciliation this is a success signal, not a failure.
var ErrAlreadyExists = errors.New("payment record already exists")

// Store encapsulates the payments table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore returns a Store bound to the payments table.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// TableName exposes the bound table for cross-table transactions.
func (s *Store) TableName() string { return s.tableName }

// Get retrieves a record by gateway payment id. Returns (nil, nil) if absent.
func (s *Store) Get(ctx context.Context, gatewayPaymentID string) (*Record, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"gateway_payment_id": &types.AttributeValueMemberS{Value: gatewayPaymentID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return &rec, nil
}

// CreateIfNotExists inserts the record guarded by
// attribute_not_exists(gateway_payment_id). Returns ErrAlreadyExists when a
// concurrent or earlier delivery won the insert.
func (s *Store) CreateIfNotExists(ctx context.Context, rec Record) error {
	item, err := s.marshal(rec)
	if err != nil {
		return err
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(gateway_payment_id)"),
	})
	if err != nil {
		var sc smithy.APIError
		if errors.As(err, &sc) && sc.ErrorCode() == "ConditionalCheckFailedException" {
			return ErrAlreadyExists
		}
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("put record: %w", err)
	}
	return nil
}

// RefreshStatus updates an existing record after a later notification moved
// the payment out of a non-terminal gateway status.
func (s *Store) RefreshStatus(ctx context.Context, gatewayPaymentID, gatewayStatus, internalStatus string) error {
	now := s.nowFunc()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"gateway_payment_id": &types.AttributeValueMemberS{Value: gatewayPaymentID},
		},
		UpdateExpression: awsString("SET gateway_status = :gs, internal_status = :is, updated_at = :ua"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":gs": &types.AttributeValueMemberS{Value: gatewayStatus},
			":is": &types.AttributeValueMemberS{Value: internalStatus},
			":ua": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
		ConditionExpression: awsString("attribute_exists(gateway_payment_id)"),
	})
	if err != nil {
		return fmt.Errorf("refresh record: %w", err)
	}
	return nil
}

// TransactCreate returns the guarded insert shaped as a TransactWriteItem for
// the transactional apply strategy.
func (s *Store) TransactCreate(rec Record) (types.TransactWriteItem, error) {
	item, err := s.marshal(rec)
	if err != nil {
		return types.TransactWriteItem{}, err
	}
	return types.TransactWriteItem{
		Put: &types.Put{
			TableName:           &s.tableName,
			Item:                item,
			ConditionExpression: awsString("attribute_not_exists(gateway_payment_id)"),
		},
	}, nil
}

// TransactRefresh returns the status refresh shaped as a TransactWriteItem.
func (s *Store) TransactRefresh(gatewayPaymentID, gatewayStatus, internalStatus string) types.TransactWriteItem {
	now := s.nowFunc()
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName: &s.tableName,
			Key: map[string]types.AttributeValue{
				"gateway_payment_id": &types.AttributeValueMemberS{Value: gatewayPaymentID},
			},
			UpdateExpression: awsString("SET gateway_status = :gs, internal_status = :is, updated_at = :ua"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":gs": &types.AttributeValueMemberS{Value: gatewayStatus},
				":is": &types.AttributeValueMemberS{Value: internalStatus},
				":ua": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
			},
			ConditionExpression: awsString("attribute_exists(gateway_payment_id)"),
		},
	}
}

func (s *Store) marshal(rec Record) (map[string]types.AttributeValue, error) {
	now := s.nowFunc()
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = now
	}
	rec.UpdatedAt = now

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	return item, nil
}

func awsString(s string) *string { return &s }
