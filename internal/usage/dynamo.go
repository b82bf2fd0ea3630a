package usage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoDB key layout: one item per scope per day.
const (
	pkPrefix = "USAGE#"
	skPrefix = "DAY#"

	// dayTTL keeps a few days of history for troubleshooting.
	dayTTL = 7 * 24 * time.Hour
)

// DynamoAPI is the subset of *dynamodb.Client used by DynamoStore.
type DynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// DynamoStore keeps one counter item per day. Day keys make rollover
// implicit: a new day reads an item that does not exist yet.
type DynamoStore struct {
	client    DynamoAPI
	tableName string
	scope     string
	now       Clock
}

// Compile-time interface check.
var _ Store = (*DynamoStore)(nil)

// NewDynamoStore returns a store on tableName. scope separates independent
// counters in one table (for example per API key owner).
func NewDynamoStore(client DynamoAPI, tableName, scope string, now Clock) *DynamoStore {
	if now == nil {
		now = time.Now
	}
	if scope == "" {
		scope = "default"
	}
	return &DynamoStore{client: client, tableName: tableName, scope: scope, now: now}
}

type dayItem struct {
	Count int    `dynamodbav:"count"`
	Date  string `dynamodbav:"date"`
}

func (s *DynamoStore) key() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pkPrefix + s.scope},
		"SK": &types.AttributeValueMemberS{Value: skPrefix + Today(s.now)},
	}
}

func (s *DynamoStore) Read(ctx context.Context) (int, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &s.tableName,
		Key:            s.key(),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, fmt.Errorf("GetItem usage %s: %w", s.scope, err)
	}
	if result.Item == nil {
		return 0, nil
	}
	var item dayItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return 0, fmt.Errorf("unmarshal usage: %w", err)
	}
	return item.Count, nil
}

// Increment uses an atomic ADD so concurrent writers never lose updates.
func (s *DynamoStore) Increment(ctx context.Context) error {
	expires := s.now().Add(dayTTL).Unix()
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              s.key(),
		UpdateExpression: aws.String("ADD #count :one SET #date = :date, expiresAt = :exp"),
		ExpressionAttributeNames: map[string]string{
			"#count": "count",
			"#date":  "date",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one":  &types.AttributeValueMemberN{Value: "1"},
			":date": &types.AttributeValueMemberS{Value: Today(s.now)},
			":exp":  &types.AttributeValueMemberN{Value: strconv.FormatInt(expires, 10)},
		},
	})
	if err != nil {
		return fmt.Errorf("UpdateItem usage %s: %w", s.scope, err)
	}
	return nil
}
