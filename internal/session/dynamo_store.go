package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/go-checkout-orchestrator/internal/aws"
)

// DynamoStore keeps sessions in a single DynamoDB table keyed by "pk".
// Session items live under SESSION#<id>; USER#<id> items point at the
// latest session of a user. Both carry an expires_at TTL attribute.
type DynamoStore struct {
	client    aws.DynamoDBAPI
	tableName string
	ttl       time.Duration
	nowFunc   func() time.Time
}

// NewDynamoStore creates a DynamoStore.
func NewDynamoStore(client aws.DynamoDBAPI, tableName string, ttl time.Duration) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		ttl:       ttl,
		nowFunc:   time.Now,
	}
}

type sessionItem struct {
	PK        string   `dynamodbav:"pk"`
	Version   int64    `dynamodbav:"version"`
	ExpiresAt int64    `dynamodbav:"expires_at"`
	Session   *Session `dynamodbav:"session"`
}

type userItem struct {
	PK        string `dynamodbav:"pk"`
	SessionID string `dynamodbav:"session_id"`
	ExpiresAt int64  `dynamodbav:"expires_at"`
}

func sessionPK(id string) string { return "SESSION#" + id }
func userPK(id string) string    { return "USER#" + id }

// Get returns the latest session of userID. Returns (nil, nil) if not found or expired.
func (d *DynamoStore) Get(ctx context.Context, userID string) (*Session, error) {
	var ptr userItem
	found, err := d.getItem(ctx, userPK(userID), &ptr)
	if err != nil || !found || d.expired(ptr.ExpiresAt) {
		return nil, err
	}
	return d.GetByID(ctx, ptr.SessionID)
}

// GetByID returns a session by id. Returns (nil, nil) if not found or expired.
func (d *DynamoStore) GetByID(ctx context.Context, sessionID string) (*Session, error) {
	var item sessionItem
	found, err := d.getItem(ctx, sessionPK(sessionID), &item)
	if err != nil || !found || d.expired(item.ExpiresAt) || item.Session == nil {
		return nil, err
	}
	item.Session.Version = item.Version
	return item.Session, nil
}

func (d *DynamoStore) getItem(ctx context.Context, pk string, out interface{}) (bool, error) {
	res, err := d.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &d.tableName,
		Key:            map[string]types.AttributeValue{"pk": &types.AttributeValueMemberS{Value: pk}},
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return false, fmt.Errorf("get item: %w", err)
	}
	if len(res.Item) == 0 {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(res.Item, out); err != nil {
		return false, fmt.Errorf("unmarshal item: %w", err)
	}
	return true, nil
}

func (d *DynamoStore) expired(expiresAt int64) bool {
	return expiresAt > 0 && expiresAt <= d.nowFunc().Unix()
}

// Put writes the session and the user pointer in one transaction. The
// session put is conditioned on the stored version; a failed condition
// returns ErrVersionMismatch.
func (d *DynamoStore) Put(ctx context.Context, s *Session, expectedVersion int64) error {
	expires := d.nowFunc().Add(d.ttl).Unix()

	sessMap, err := attributevalue.MarshalMap(sessionItem{
		PK:        sessionPK(s.SessionID),
		Version:   s.Version,
		ExpiresAt: expires,
		Session:   s,
	})
	if err != nil {
		return fmt.Errorf("marshal session item: %w", err)
	}
	userMap, err := attributevalue.MarshalMap(userItem{
		PK:        userPK(s.UserID),
		SessionID: s.SessionID,
		ExpiresAt: expires,
	})
	if err != nil {
		return fmt.Errorf("marshal user item: %w", err)
	}

	sessPut := &types.Put{
		TableName: &d.tableName,
		Item:      sessMap,
	}
	if expectedVersion == 0 {
		sessPut.ConditionExpression = awsString("attribute_not_exists(pk)")
	} else {
		sessPut.ConditionExpression = awsString("version = :expected")
		sessPut.ExpressionAttributeValues = map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expectedVersion, 10)},
		}
	}

	_, err = d.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: sessPut},
			{Put: &types.Put{TableName: &d.tableName, Item: userMap}},
		},
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			return ErrVersionMismatch
		}
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ConditionalCheckFailedException" {
			return ErrVersionMismatch
		}
		return fmt.Errorf("transact write: %w", err)
	}
	return nil
}

func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }
