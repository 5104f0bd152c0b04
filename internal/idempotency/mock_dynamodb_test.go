package idempotency

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// simpleMock is a very small in-memory mock for the item calls the Store
// makes. It understands exactly the condition expressions Store sends.
type simpleMock struct {
	mu          sync.Mutex
	table       map[string]map[string]types.AttributeValue
	putCalls    int
	getCalls    int
	updateCalls int
	failNext    error
}

func newSimpleMock() *simpleMock {
	return &simpleMock{
		table: map[string]map[string]types.AttributeValue{},
	}
}

func (m *simpleMock) takeFailure() error {
	err := m.failNext
	m.failNext = nil
	return err
}

func (m *simpleMock) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putCalls++
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	k, err := stringAttr(params.Item, "idempotency_key")
	if err != nil {
		return nil, err
	}
	if cond := params.ConditionExpression; cond != nil && strings.HasPrefix(*cond, "attribute_not_exists(idempotency_key)") {
		if existing, ok := m.table[k]; ok {
			now, _ := numberAttr(params.ExpressionAttributeValues, ":now")
			exp, _ := numberAttr(existing, "expires_at")
			if exp >= now {
				return nil, &types.ConditionalCheckFailedException{}
			}
		}
	}
	m.table[k] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *simpleMock) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	k, err := stringAttr(params.Key, "idempotency_key")
	if err != nil {
		return nil, err
	}
	item, ok := m.table[k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

func (m *simpleMock) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	k, err := stringAttr(params.Key, "idempotency_key")
	if err != nil {
		return nil, err
	}
	item, ok := m.table[k]
	if !ok {
		return nil, errors.New("item not found")
	}
	vals := params.ExpressionAttributeValues
	if cond := params.ConditionExpression; cond != nil && *cond == "#s = :failed" {
		status, _ := stringAttr(item, "status")
		if status != StatusFailed {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	for placeholder, attr := range map[string]string{
		":rb": "response_body",
		":rs": "response_status",
		":ua": "updated_at",
		":n":  "note",
	} {
		if v, ok := vals[placeholder]; ok {
			item[attr] = v
		}
	}
	for _, placeholder := range []string{":done", ":inprogress"} {
		if v, ok := vals[placeholder]; ok {
			item["status"] = v
		}
	}
	if v, ok := vals[":failed"]; ok && params.ConditionExpression == nil {
		item["status"] = v
	}
	if strings.Contains(*params.UpdateExpression, "REMOVE note") {
		delete(item, "note")
	}
	m.table[k] = item
	return &dyn.UpdateItemOutput{Attributes: item}, nil
}

func (m *simpleMock) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	return nil, errors.New("not used by the idempotency store")
}

func stringAttr(item map[string]types.AttributeValue, name string) (string, error) {
	v, ok := item[name].(*types.AttributeValueMemberS)
	if !ok {
		return "", errors.New("missing string attribute " + name)
	}
	return v.Value, nil
}

func numberAttr(item map[string]types.AttributeValue, name string) (int64, error) {
	v, ok := item[name].(*types.AttributeValueMemberN)
	if !ok {
		return 0, errors.New("missing number attribute " + name)
	}
	return strconv.ParseInt(v.Value, 10, 64)
}
