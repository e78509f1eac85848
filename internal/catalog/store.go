package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/takato23/lookescolar-sub010/internal/apperr"
	"github.com/takato23/lookescolar-sub010/internal/aws"
)

// Catalog is the price catalog gateway the settlement pipeline consumes.
// Order assembly depends on this interface only; the DynamoDB-backed Store
// below is the default implementation.
type Catalog interface {
	Resolve(ctx context.Context, token string) (*Gallery, error)
	PriceList(ctx context.Context, eventID string) (*PriceList, error)
}

// Store reads galleries and price lists from DynamoDB.
type Store struct {
	client          aws.DynamoDBAPI
	galleriesTable  string
	priceListsTable string
	nowFunc         func() time.Time
}

// NewStore creates a catalog Store bound to the galleries and price list tables.
func NewStore(client aws.DynamoDBAPI, galleriesTable, priceListsTable string) *Store {
	return &Store{
		client:          client,
		galleriesTable:  galleriesTable,
		priceListsTable: priceListsTable,
		nowFunc:         time.Now,
	}
}

// Resolve maps a gallery token to its event scope. Unknown and expired tokens
// both surface as apperr.ErrTokenNotFound; the caller cannot tell them apart.
func (s *Store) Resolve(ctx context.Context, token string) (*Gallery, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.galleriesTable,
		Key: map[string]types.AttributeValue{
			"token": &types.AttributeValueMemberS{Value: token},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get gallery: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, apperr.ErrTokenNotFound
	}

	var g Gallery
	if err := attributevalue.UnmarshalMap(out.Item, &g); err != nil {
		return nil, fmt.Errorf("unmarshal gallery: %w", err)
	}
	if g.Expired(s.nowFunc()) {
		return nil, apperr.ErrTokenNotFound
	}
	return &g, nil
}

// PriceList loads the authoritative price list for an event.
func (s *Store) PriceList(ctx context.Context, eventID string) (*PriceList, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.priceListsTable,
		Key: map[string]types.AttributeValue{
			"event_id": &types.AttributeValueMemberS{Value: eventID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get price list: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, fmt.Errorf("price list for event %s: %w", eventID, apperr.ErrItemNotFound)
	}

	var pl PriceList
	if err := attributevalue.UnmarshalMap(out.Item, &pl); err != nil {
		return nil, fmt.Errorf("unmarshal price list: %w", err)
	}
	return &pl, nil
}
