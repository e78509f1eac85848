// Package awstest provides in-memory fakes of the narrow AWS client
// interfaces for unit tests. The DynamoDB fake understands the small
// expression dialect the stores use: SET updates, attribute_exists /
// attribute_not_exists conditions and single-attribute equality conditions.
package awstest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Item is one stored row.
type Item = map[string]types.AttributeValue

type table struct {
	pk    string
	items map[string]Item
}

// DynamoFake is a threadsafe multi-table in-memory DynamoDB.
type DynamoFake struct {
	mu     sync.Mutex
	tables map[string]*table

	PutCalls      int
	GetCalls      int
	UpdateCalls   int
	DeleteCalls   int
	TransactCalls int

	// FailNext makes the next write call return this error, then clears.
	FailNext error
}

// NewDynamoFake returns an empty fake.
func NewDynamoFake() *DynamoFake {
	return &DynamoFake{tables: map[string]*table{}}
}

// AddTable registers a table with its partition key attribute.
func (f *DynamoFake) AddTable(name, pk string) *DynamoFake {
	f.tables[name] = &table{pk: pk, items: map[string]Item{}}
	return f
}

// Seed stores an item directly.
func (f *DynamoFake) Seed(tableName string, item Item) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.tables[tableName]
	t.items[f.keyOf(t, item)] = item
}

// Raw returns the stored item by key, nil when absent.
func (f *DynamoFake) Raw(tableName, key string) Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tables[tableName].items[key]
}

// Len returns the number of rows in a table.
func (f *DynamoFake) Len(tableName string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tables[tableName].items)
}

// Keys returns every partition key value stored in a table.
func (f *DynamoFake) Keys(tableName string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.tables[tableName].items))
	for k := range f.tables[tableName].items {
		keys = append(keys, k)
	}
	return keys
}

func (f *DynamoFake) keyOf(t *table, item Item) string {
	if v, ok := item[t.pk].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func (f *DynamoFake) takeFailure() error {
	err := f.FailNext
	f.FailNext = nil
	return err
}

func (f *DynamoFake) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PutCalls++
	if err := f.takeFailure(); err != nil {
		return nil, err
	}
	if err := f.putLocked(*params.TableName, params.Item, params.ConditionExpression); err != nil {
		return nil, err
	}
	return &dyn.PutItemOutput{}, nil
}

func (f *DynamoFake) putLocked(tableName string, item Item, cond *string) error {
	t, ok := f.tables[tableName]
	if !ok {
		return fmt.Errorf("unknown table %q", tableName)
	}
	key := f.keyOf(t, item)
	if key == "" {
		return errors.New("missing partition key")
	}
	if cond != nil && strings.HasPrefix(*cond, "attribute_not_exists(") {
		if _, exists := t.items[key]; exists {
			return &types.ConditionalCheckFailedException{}
		}
	}
	t.items[key] = item
	return nil
}

func (f *DynamoFake) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.GetCalls++
	t, ok := f.tables[*params.TableName]
	if !ok {
		return nil, fmt.Errorf("unknown table %q", *params.TableName)
	}
	key := f.keyOf(t, params.Key)
	item, ok := t.items[key]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

func (f *DynamoFake) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.UpdateCalls++
	if err := f.takeFailure(); err != nil {
		return nil, err
	}
	item, err := f.updateLocked(*params.TableName, params.Key, params.UpdateExpression,
		params.ConditionExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	return &dyn.UpdateItemOutput{Attributes: item}, nil
}

func (f *DynamoFake) updateLocked(tableName string, key Item, updateExpr, cond *string,
	names map[string]string, values map[string]types.AttributeValue) (Item, error) {

	t, ok := f.tables[tableName]
	if !ok {
		return nil, fmt.Errorf("unknown table %q", tableName)
	}
	k := f.keyOf(t, key)
	item, exists := t.items[k]

	if cond != nil {
		if err := checkCondition(*cond, item, exists, names, values); err != nil {
			return nil, err
		}
	}
	if !exists {
		item = Item{t.pk: key[t.pk]}
		t.items[k] = item
	}

	applySet(*updateExpr, item, names, values)
	return item, nil
}

func (f *DynamoFake) DeleteItem(ctx context.Context, params *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DeleteCalls++
	if err := f.takeFailure(); err != nil {
		return nil, err
	}
	t, ok := f.tables[*params.TableName]
	if !ok {
		return nil, fmt.Errorf("unknown table %q", *params.TableName)
	}
	delete(t.items, f.keyOf(t, params.Key))
	return &dyn.DeleteItemOutput{}, nil
}

func (f *DynamoFake) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.TransactCalls++
	if err := f.takeFailure(); err != nil {
		return nil, err
	}

	// check every condition before applying anything
	for _, it := range params.TransactItems {
		if p := it.Put; p != nil && p.ConditionExpression != nil {
			t := f.tables[*p.TableName]
			if _, exists := t.items[f.keyOf(t, p.Item)]; exists &&
				strings.HasPrefix(*p.ConditionExpression, "attribute_not_exists(") {
				return nil, &types.TransactionCanceledException{}
			}
		}
		if u := it.Update; u != nil && u.ConditionExpression != nil {
			t := f.tables[*u.TableName]
			item, exists := t.items[f.keyOf(t, u.Key)]
			if err := checkCondition(*u.ConditionExpression, item, exists,
				u.ExpressionAttributeNames, u.ExpressionAttributeValues); err != nil {
				return nil, &types.TransactionCanceledException{}
			}
		}
	}

	for _, it := range params.TransactItems {
		if p := it.Put; p != nil {
			if err := f.putLocked(*p.TableName, p.Item, nil); err != nil {
				return nil, err
			}
		}
		if u := it.Update; u != nil {
			if _, err := f.updateLocked(*u.TableName, u.Key, u.UpdateExpression, nil,
				u.ExpressionAttributeNames, u.ExpressionAttributeValues); err != nil {
				return nil, err
			}
		}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

// checkCondition evaluates the three condition shapes the stores emit.
func checkCondition(cond string, item Item, exists bool, names map[string]string, values map[string]types.AttributeValue) error {
	switch {
	case strings.HasPrefix(cond, "attribute_not_exists("):
		if exists {
			return &types.ConditionalCheckFailedException{}
		}
	case strings.HasPrefix(cond, "attribute_exists("):
		if !exists {
			return &types.ConditionalCheckFailedException{}
		}
	case strings.Contains(cond, " = :"):
		// single equality, e.g. "#s = :expected"
		parts := strings.SplitN(cond, " = ", 2)
		attr := resolveName(strings.TrimSpace(parts[0]), names)
		want := values[strings.TrimSpace(parts[1])]
		got, ok := item[attr]
		if !ok || !sameString(got, want) {
			return &types.ConditionalCheckFailedException{}
		}
	default:
		return fmt.Errorf("unsupported condition %q", cond)
	}
	return nil
}

// applySet applies "SET a = :x, #b = :y" style expressions.
func applySet(expr string, item Item, names map[string]string, values map[string]types.AttributeValue) {
	expr = strings.TrimPrefix(expr, "SET ")
	for _, assign := range strings.Split(expr, ",") {
		parts := strings.SplitN(assign, "=", 2)
		if len(parts) != 2 {
			continue
		}
		attr := resolveName(strings.TrimSpace(parts[0]), names)
		ref := strings.TrimSpace(parts[1])
		if v, ok := values[ref]; ok {
			item[attr] = v
		}
	}
}

func resolveName(name string, names map[string]string) string {
	if strings.HasPrefix(name, "#") {
		if real, ok := names[name]; ok {
			return real
		}
	}
	return name
}

func sameString(a, b types.AttributeValue) bool {
	as, aok := a.(*types.AttributeValueMemberS)
	bs, bok := b.(*types.AttributeValueMemberS)
	return aok && bok && as.Value == bs.Value
}
